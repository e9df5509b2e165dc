package venue

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrBalancesUnavailable 模拟余额读取失败。
var ErrBalancesUnavailable = errors.New("balances unavailable")

// Sim 确定性模拟场所：同时实现余额源、价格源、执行端与成交流。
// 成交完全由测试脚本驱动（PushFill/FillSubmitted），没有随机路径，
// 用于 dryRun 运行与引擎测试。
type Sim struct {
	mu sync.Mutex

	base  decimal.Decimal
	quote decimal.Decimal
	price decimal.Decimal

	balanceErr error // 置位后 Balances 返回该错误
	priceErr   error

	open  map[string]SubmittedOrder
	fills chan FillEvent

	submitted []SubmittedOrder // 提交顺序留痕，测试断言用
	cancelled []string
}

// SubmittedOrder 一笔已提交到模拟场所的订单。
type SubmittedOrder struct {
	ID    string
	Side  string
	Price decimal.Decimal
	Size  decimal.Decimal
}

// NewSim 创建模拟场所。
func NewSim(base, quote, price decimal.Decimal) *Sim {
	return &Sim{
		base:  base,
		quote: quote,
		price: price,
		open:  make(map[string]SubmittedOrder),
		fills: make(chan FillEvent, 256),
	}
}

func (s *Sim) Balances(ctx context.Context, pair string) (decimal.Decimal, decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balanceErr != nil {
		return decimal.Zero, decimal.Zero, s.balanceErr
	}
	return s.base, s.quote, nil
}

func (s *Sim) Price(ctx context.Context, pair string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.priceErr != nil {
		return decimal.Zero, s.priceErr
	}
	return s.price, nil
}

func (s *Sim) SubmitOrder(ctx context.Context, side string, price, size decimal.Decimal) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := SubmittedOrder{ID: uuid.NewString(), Side: side, Price: price, Size: size}
	s.open[o.ID] = o
	s.submitted = append(s.submitted, o)
	return o.ID, nil
}

func (s *Sim) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.open[orderID]; !ok {
		return false, nil
	}
	delete(s.open, orderID)
	s.cancelled = append(s.cancelled, orderID)
	return true, nil
}

func (s *Sim) Fills() <-chan FillEvent {
	return s.fills
}

// PushFill 向成交流注入一条事件（测试脚本调用）。
func (s *Sim) PushFill(ev FillEvent) {
	s.fills <- ev
}

// FillSubmitted 将第 idx 笔已提交订单按其限价全额成交。
func (s *Sim) FillSubmitted(idx int, fee decimal.Decimal) {
	s.mu.Lock()
	o := s.submitted[idx]
	delete(s.open, o.ID)
	s.mu.Unlock()
	s.fills <- FillEvent{OrderID: o.ID, Price: o.Price, Size: o.Size, Fee: fee}
}

// SetBalances 更新模拟余额。
func (s *Sim) SetBalances(base, quote decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base, s.quote = base, quote
}

// SetPrice 更新模拟价格。
func (s *Sim) SetPrice(p decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price = p
}

// FailBalances 使后续 Balances 调用返回 err；传 nil 恢复。
func (s *Sim) FailBalances(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balanceErr = err
}

// FailPrice 使后续 Price 调用返回 err；传 nil 恢复。
func (s *Sim) FailPrice(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priceErr = err
}

// OpenOrders 当前未成交未撤销的订单数。
func (s *Sim) OpenOrders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

// SubmittedOrders 返回提交留痕的副本。
func (s *Sim) SubmittedOrders() []SubmittedOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SubmittedOrder, len(s.submitted))
	copy(out, s.submitted)
	return out
}

// CancelledIDs 返回撤单留痕的副本。
func (s *Sim) CancelledIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.cancelled))
	copy(out, s.cancelled)
	return out
}
