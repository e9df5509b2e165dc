package order

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidOrder 下单参数非法（价格/数量非正）。
	ErrInvalidOrder = errors.New("invalid order parameters")
	// ErrInvalidTransition 非法状态转换。
	ErrInvalidTransition = errors.New("illegal state transition")
	// ErrInvalidFill 成交回报字段非法（负价格/数量/手续费）。
	ErrInvalidFill = errors.New("invalid fill")
	// ErrTerminalOrder 对终态订单执行写操作。
	ErrTerminalOrder = errors.New("order already terminal")
	// ErrOverfill 成交累计超过订单数量，属于不变量破坏，回报被拒绝。
	ErrOverfill = errors.New("fill exceeds order size")
)

// fillThreshold 成交比例达到该值即视为完全成交。
// 链上残余尘埃使订单几乎不可能精确收敛到 100%，99% 以上不再等待。
var fillThreshold = decimal.NewFromFloat(0.99)

// maxHistory 终态订单历史上限，超出后淘汰最旧的。
const maxHistory = 1000

// Manager 维护全部订单及其成交，是成交流的唯一落点。
// 所有派生读数（敞口/盈亏/深度）都在同一把锁下计算，
// 读取方不会观察到只应用了一半的成交。
type Manager struct {
	mu      sync.RWMutex
	live    map[string]*Order
	history []*Order
	sm      *StateMachine
	now     func() time.Time
}

// NewManager 创建订单管理器。
func NewManager() *Manager {
	return &Manager{
		live: make(map[string]*Order),
		sm:   NewStateMachine(),
		now:  time.Now,
	}
}

// Create 登记一个新的 PENDING 订单并返回副本。
// 只做内部登记，不触发任何对手方提交；提交由调用方负责。
func (m *Manager) Create(side Side, price, size decimal.Decimal) (Order, error) {
	if side != SideBuy && side != SideSell {
		return Order{}, ErrInvalidOrder
	}
	if !price.IsPositive() || !size.IsPositive() {
		return Order{}, ErrInvalidOrder
	}

	o := &Order{
		ID:        uuid.NewString(),
		Side:      side,
		Price:     price,
		Size:      size,
		Status:    StatusPending,
		CreatedAt: m.now(),
	}

	m.mu.Lock()
	m.live[o.ID] = o
	m.mu.Unlock()

	return o.clone(), nil
}

// UpdateStatus 更新订单状态；到达终态时移入历史。
// 未知订单号为 no-op，非法转换返回 ErrInvalidTransition 且不改状态。
func (m *Manager) UpdateStatus(id string, st Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.live[id]
	if !ok {
		return nil
	}
	if err := m.sm.ValidateTransition(o.Status, st); err != nil {
		return err
	}
	m.transitionLocked(o, st)
	return nil
}

// RecordFill 追加一笔成交。未知订单号为 no-op；
// 路由到终态（历史）订单返回 ErrTerminalOrder 且不做任何变更，
// 这是场所侧撤单与成交赛跑的正常形态；
// 累计成交超过订单数量时回报被整笔拒绝并返回 ErrOverfill；
// 成交比例达到阈值时在同一次更新内转为 FILLED。
func (m *Manager) RecordFill(id string, f Fill) error {
	if f.Price.IsNegative() || f.Size.IsNegative() || f.Fee.IsNegative() {
		return ErrInvalidFill
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.live[id]
	if !ok {
		// 终态订单已移入历史，不能当作未知订单静默吞掉
		for _, h := range m.history {
			if h.ID == id {
				return ErrTerminalOrder
			}
		}
		return nil
	}
	if o.FilledSize().Add(f.Size).GreaterThan(o.Size) {
		return ErrOverfill
	}

	if f.Timestamp.IsZero() {
		f.Timestamp = m.now()
	}
	o.Fills = append(o.Fills, f)

	if o.FillRatio().GreaterThanOrEqual(fillThreshold) {
		m.transitionLocked(o, StatusFilled)
	}
	return nil
}

// Cancel 撤销订单。仅 ACTIVE 单可撤，返回是否真正发生了撤销。
// 对已成交/已撤销/未知订单重复调用是 no-op，返回 false。
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.live[id]
	if !ok || o.Status != StatusActive {
		return false
	}
	m.transitionLocked(o, StatusCancelled)
	return true
}

// CancelAll 撤销所有 ACTIVE 订单，返回成功撤销的数量。
func (m *Manager) CancelAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, o := range m.live {
		if o.Status == StatusActive {
			m.transitionLocked(o, StatusCancelled)
			count++
		}
	}
	return count
}

// Get 按订单号查询（活跃或历史），返回副本。
func (m *Manager) Get(id string) (Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if o, ok := m.live[id]; ok {
		return o.clone(), true
	}
	for _, o := range m.history {
		if o.ID == id {
			return o.clone(), true
		}
	}
	return Order{}, false
}

// ActiveOrders 返回所有 ACTIVE 订单副本。
func (m *Manager) ActiveOrders() []Order {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Order, 0, len(m.live))
	for _, o := range m.live {
		if o.Status == StatusActive {
			result = append(result, o.clone())
		}
	}
	return result
}

// OrdersBySide 返回指定方向的在簿（PENDING/ACTIVE）订单副本。
func (m *Manager) OrdersBySide(side Side) []Order {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Order
	for _, o := range m.live {
		if o.Side == side && m.sm.IsLive(o.Status) {
			result = append(result, o.clone())
		}
	}
	return result
}

// PriceLevel 深度档位。
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BookDepth 自有挂单构成的深度视图。
type BookDepth struct {
	Bids []PriceLevel // 按价格降序
	Asks []PriceLevel // 按价格升序
}

// Depth 返回 ACTIVE 订单构成的深度：买盘降序、卖盘升序。
// 这是自身敞口的价格优先视图，不是撮合簿。
func (m *Manager) Depth() BookDepth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var d BookDepth
	for _, o := range m.live {
		if o.Status != StatusActive {
			continue
		}
		lvl := PriceLevel{Price: o.Price, Size: o.Size}
		if o.Side == SideBuy {
			d.Bids = append(d.Bids, lvl)
		} else {
			d.Asks = append(d.Asks, lvl)
		}
	}
	sort.Slice(d.Bids, func(i, j int) bool { return d.Bids[i].Price.GreaterThan(d.Bids[j].Price) })
	sort.Slice(d.Asks, func(i, j int) bool { return d.Asks[i].Price.LessThan(d.Asks[j].Price) })
	return d
}

// Exposure 活跃订单全部成交时的最大敞口。
type Exposure struct {
	Buy  decimal.Decimal // 买单数量合计（base 计）
	Sell decimal.Decimal // 卖单名义合计（quote 计）
	Net  decimal.Decimal // Sell - Buy
}

// TotalExposure 计算当前活跃订单的敞口。买/卖敞口恒为非负。
func (m *Manager) TotalExposure() Exposure {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exp := Exposure{Buy: decimal.Zero, Sell: decimal.Zero}
	for _, o := range m.live {
		if o.Status != StatusActive {
			continue
		}
		if o.Side == SideBuy {
			exp.Buy = exp.Buy.Add(o.Size)
		} else {
			exp.Sell = exp.Sell.Add(o.Size.Mul(o.Price))
		}
	}
	exp.Net = exp.Sell.Sub(exp.Buy)
	return exp
}

// transitionLocked 执行状态变更；终态订单移入有界历史（需要持有写锁）。
func (m *Manager) transitionLocked(o *Order, st Status) {
	o.Status = st
	if !m.sm.IsTerminal(st) {
		return
	}
	o.ClosedAt = m.now()
	delete(m.live, o.ID)
	m.history = append(m.history, o)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
}
