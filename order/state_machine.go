package order

import "fmt"

// StateTransition 状态转换
type StateTransition struct {
	From Status
	To   Status
}

// StateMachine 订单状态机。合法路径：
// PENDING -> ACTIVE -> FILLED / CANCELLED，PENDING 也可直接 CANCELLED（提交前撤销）。
// FILLED / CANCELLED 为终态，不可再转换。
type StateMachine struct {
	transitions map[StateTransition]bool
}

// NewStateMachine 创建状态机并初始化所有合法转换。
func NewStateMachine() *StateMachine {
	sm := &StateMachine{transitions: make(map[StateTransition]bool)}

	legal := []StateTransition{
		{StatusPending, StatusActive},
		{StatusPending, StatusFilled}, // 提交瞬间即成交
		{StatusPending, StatusCancelled},
		{StatusActive, StatusFilled},
		{StatusActive, StatusCancelled},
	}
	for _, t := range legal {
		sm.transitions[t] = true
	}
	return sm
}

// ValidateTransition 验证状态转换是否合法。相同状态视为幂等，允许。
func (sm *StateMachine) ValidateTransition(from, to Status) error {
	if from == to {
		return nil
	}
	if !sm.transitions[StateTransition{From: from, To: to}] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsTerminal 判断是否是终态。
func (sm *StateMachine) IsTerminal(status Status) bool {
	switch status {
	case StatusFilled, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsLive 判断订单是否还在簿内（可能产生成交）。
func (sm *StateMachine) IsLive(status Status) bool {
	switch status {
	case StatusPending, StatusActive:
		return true
	default:
		return false
	}
}

// CanCancel 判断当前状态下是否接受撤单。
func (sm *StateMachine) CanCancel(status Status) bool {
	switch status {
	case StatusPending, StatusActive:
		return true
	default:
		return false
	}
}
