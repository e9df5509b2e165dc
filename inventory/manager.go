// Package inventory 负责库存估值、失衡判定与再平衡决策。
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"twist-mm/venue"
)

// ErrInvalidPrice 用非正价格执行库存计算。
var ErrInvalidPrice = errors.New("price must be positive")

// historyWindow 快照历史的保留窗口。
const historyWindow = 24 * time.Hour

// Target 期望持仓配置。
type Target struct {
	Base      decimal.Decimal // TWIST 目标数量
	Quote     decimal.Decimal // USDC 目标数量
	Tolerance float64         // 允许偏差比例，如 0.05 = 5%
}

// Snapshot 某一时刻的库存快照。只增不改，新快照取代旧快照。
type Snapshot struct {
	Base       decimal.Decimal // TWIST 数量
	Quote      decimal.Decimal // USDC 数量
	BaseValue  decimal.Decimal // TWIST 估值（USD）
	QuoteValue decimal.Decimal // USDC 估值（USD）
	TotalValue decimal.Decimal
	Ratio      float64 // base 估值 / 总估值，总估值为零时取 0.5
	Stale      bool    // 余额读取失败时由上一份快照回退而来
	Timestamp  time.Time
}

// Severity 失衡程度三档。boolean 不够用：6% 偏差和 60% 偏差
// 需要下游按不同力度响应。
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// urgency 映射：执行端据此决定吃价还是被动挂单。
var urgencyBySeverity = map[Severity]float64{
	SeverityLow:    0.3,
	SeverityMedium: 0.6,
	SeverityHigh:   0.9,
}

// Imbalance 当前持仓相对目标的偏差。
type Imbalance struct {
	TwistDelta      decimal.Decimal // current.base - target.base
	UsdcDelta       decimal.Decimal // current.quote - target.quote
	MaxDeltaPct     float64         // max(|ΔTWIST|/target.base, |ΔUSDC|/target.quote)
	Severity        Severity
	RebalanceNeeded bool
}

// RebalanceTrade 纠偏交易指令。
type RebalanceTrade struct {
	Side    string          // BUY / SELL（base 方向）
	Amount  decimal.Decimal // base 数量
	Price   decimal.Decimal
	Urgency float64 // 0-1
}

// Report 面向人/告警的库存状态汇总。
type Report struct {
	Status  string // balanced / imbalanced / critical
	Message string
	Actions []string
}

// Manager 库存管理器。独占持有滚动快照历史。
type Manager struct {
	balances venue.BalanceSource
	pair     string
	fallback decimal.Decimal // 无价格提示且价格源不可用时的兜底价

	mu      sync.RWMutex
	last    Snapshot
	hasLast bool
	history []Snapshot

	now func() time.Time
}

// NewManager 创建库存管理器。fallbackPrice 须为正。
func NewManager(balances venue.BalanceSource, pair string, fallbackPrice decimal.Decimal) (*Manager, error) {
	if !fallbackPrice.IsPositive() {
		return nil, ErrInvalidPrice
	}
	return &Manager{
		balances: balances,
		pair:     pair,
		fallback: fallbackPrice,
		now:      time.Now,
	}, nil
}

// Snapshot 读取链上余额并按 priceHint（非正时用兜底价）估值。
// 余额读取失败是预期内的瞬时状况：返回标记 stale 的上一份快照
// 而不是把错误抛进控制环。
func (m *Manager) Snapshot(ctx context.Context, priceHint decimal.Decimal) Snapshot {
	price := priceHint
	if !price.IsPositive() {
		price = m.fallback
	}

	base, quote, err := m.balances.Balances(ctx, m.pair)
	if err != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.hasLast {
			snap := m.last
			snap.Stale = true
			snap.Timestamp = m.now()
			m.last = snap
			return snap
		}
		// 从未成功读取过：返回零持仓快照，ratio 取中性值
		snap := Snapshot{
			Base: decimal.Zero, Quote: decimal.Zero,
			BaseValue: decimal.Zero, QuoteValue: decimal.Zero, TotalValue: decimal.Zero,
			Ratio: 0.5, Stale: true, Timestamp: m.now(),
		}
		m.last = snap
		m.hasLast = true
		return snap
	}

	snap := valuate(base, quote, price, m.now())
	m.mu.Lock()
	m.last = snap
	m.hasLast = true
	m.mu.Unlock()
	return snap
}

// LastKnown 返回最近一次快照；从未有过快照时第二个返回值为 false。
func (m *Manager) LastKnown() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, m.hasLast
}

// valuate 按给定价格估值两侧持仓。
func valuate(base, quote, price decimal.Decimal, ts time.Time) Snapshot {
	baseValue := base.Mul(price)
	totalValue := baseValue.Add(quote)

	ratio := 0.5
	if totalValue.IsPositive() {
		ratio, _ = baseValue.DivRound(totalValue, 12).Float64()
	}
	return Snapshot{
		Base:       base,
		Quote:      quote,
		BaseValue:  baseValue,
		QuoteValue: quote,
		TotalValue: totalValue,
		Ratio:      ratio,
		Timestamp:  ts,
	}
}

// CalcImbalance 计算当前快照相对目标的偏差与严重度。
// severity 随 maxDeltaPct 单调不减；RebalanceNeeded 为假当且仅当 severity 为 low。
func CalcImbalance(current Snapshot, target Target) Imbalance {
	imb := Imbalance{
		TwistDelta: current.Base.Sub(target.Base),
		UsdcDelta:  current.Quote.Sub(target.Quote),
	}

	basePct := deltaPct(imb.TwistDelta, target.Base)
	quotePct := deltaPct(imb.UsdcDelta, target.Quote)
	imb.MaxDeltaPct = basePct
	if quotePct > basePct {
		imb.MaxDeltaPct = quotePct
	}

	tol := target.Tolerance
	switch {
	case imb.MaxDeltaPct <= tol:
		imb.Severity = SeverityLow
	case imb.MaxDeltaPct <= 2*tol:
		imb.Severity = SeverityMedium
	default:
		imb.Severity = SeverityHigh
	}
	imb.RebalanceNeeded = imb.MaxDeltaPct > tol
	return imb
}

func deltaPct(delta, target decimal.Decimal) float64 {
	if !target.IsPositive() {
		return 0
	}
	pct, _ := delta.Abs().DivRound(target, 12).Float64()
	return pct
}

// CalcRebalancingTrades 计算将当前配置推回目标所需的纠偏交易。
// 无需再平衡时返回空列表。交易规模正比于配置比例差 × 组合总值 ÷ 价格，
// 一次只发一条纠偏单，方向指向配置不足的一侧。
func CalcRebalancingTrades(current Snapshot, target Target, price decimal.Decimal) ([]RebalanceTrade, error) {
	if !price.IsPositive() {
		return nil, fmt.Errorf("rebalance: %w", ErrInvalidPrice)
	}

	imb := CalcImbalance(current, target)
	if !imb.RebalanceNeeded {
		return nil, nil
	}
	if !current.TotalValue.IsPositive() {
		return nil, nil
	}

	// 目标配置在该价格下隐含的 base 占比
	targetBaseValue := target.Base.Mul(price)
	targetTotal := targetBaseValue.Add(target.Quote)
	if !targetTotal.IsPositive() {
		return nil, nil
	}
	targetRatio, _ := targetBaseValue.DivRound(targetTotal, 12).Float64()

	gap := current.Ratio - targetRatio
	if gap == 0 {
		return nil, nil
	}

	gapAbs := decimal.NewFromFloat(gap).Abs()
	amount := gapAbs.Mul(current.TotalValue).DivRound(price, 8)
	if !amount.IsPositive() {
		return nil, nil
	}

	side := "BUY" // base 配置不足 → 买入
	if gap > 0 {
		side = "SELL" // base 配置过剩 → 卖出
	}

	return []RebalanceTrade{{
		Side:    side,
		Amount:  amount,
		Price:   price,
		Urgency: urgencyBySeverity[imb.Severity],
	}}, nil
}

// Monitor 组合快照、失衡与纠偏计算，输出人/机可读的状态。
// critical 当且仅当严重度为 high。
func (m *Manager) Monitor(ctx context.Context, target Target, priceHint decimal.Decimal) Report {
	snap := m.Snapshot(ctx, priceHint)
	imb := CalcImbalance(snap, target)

	report := Report{Status: "balanced"}
	switch {
	case imb.Severity == SeverityHigh:
		report.Status = "critical"
	case imb.RebalanceNeeded:
		report.Status = "imbalanced"
	}
	report.Message = fmt.Sprintf("ratio=%.4f maxDeltaPct=%.4f severity=%s",
		snap.Ratio, imb.MaxDeltaPct, imb.Severity)

	if imb.RebalanceNeeded {
		price := priceHint
		if !price.IsPositive() {
			price = m.fallback
		}
		trades, err := CalcRebalancingTrades(snap, target, price)
		if err == nil {
			for _, tr := range trades {
				report.Actions = append(report.Actions,
					fmt.Sprintf("%s %s TWIST @ %s (urgency %.1f)", tr.Side, tr.Amount, tr.Price, tr.Urgency))
			}
		}
	}
	if snap.Stale {
		report.Actions = append(report.Actions, "balance read failed, using last known snapshot")
	}
	return report
}

// Track 采集一份快照进入滚动历史，丢弃窗口外（24h）的旧条目。
func (m *Manager) Track(ctx context.Context, priceHint decimal.Decimal) Snapshot {
	snap := m.Snapshot(ctx, priceHint)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, snap)

	cutoff := m.now().Add(-historyWindow)
	start := 0
	for start < len(m.history) && m.history[start].Timestamp.Before(cutoff) {
		start++
	}
	if start > 0 {
		m.history = m.history[start:]
	}
	return snap
}

// HistoryLen 当前历史条目数（观测用）。
func (m *Manager) HistoryLen() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.history)
}
