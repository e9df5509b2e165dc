package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twist-mm/venue"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func snap(base, quote string, price string) Snapshot {
	return valuate(dec(base), dec(quote), dec(price), time.Now())
}

func TestValuate(t *testing.T) {
	s := snap("1000", "5000", "5")
	assert.True(t, s.BaseValue.Equal(dec("5000")))
	assert.True(t, s.TotalValue.Equal(dec("10000")))
	assert.InDelta(t, 0.5, s.Ratio, 1e-9)

	// 总估值为零时 ratio 取 0.5，避免除零
	empty := snap("0", "0", "5")
	assert.Equal(t, 0.5, empty.Ratio)
}

// TestCalcImbalanceScenario 规格场景：target={1000,5000,5%}，current={1200,5000}
// ⇒ twistDelta=200，maxDeltaPct=0.20，severity=high，需要再平衡。
func TestCalcImbalanceScenario(t *testing.T) {
	target := Target{Base: dec("1000"), Quote: dec("5000"), Tolerance: 0.05}
	current := snap("1200", "5000", "5")

	imb := CalcImbalance(current, target)
	assert.True(t, imb.TwistDelta.Equal(dec("200")))
	assert.True(t, imb.UsdcDelta.IsZero())
	assert.InDelta(t, 0.20, imb.MaxDeltaPct, 1e-9)
	assert.Equal(t, SeverityHigh, imb.Severity)
	assert.True(t, imb.RebalanceNeeded)
}

// TestSeverityMonotonic severity 随 maxDeltaPct 单调不减，
// 且 RebalanceNeeded 为假当且仅当 severity 为 low。
func TestSeverityMonotonic(t *testing.T) {
	target := Target{Base: dec("1000"), Quote: dec("5000"), Tolerance: 0.05}

	cases := []struct {
		base     string
		severity Severity
		needed   bool
	}{
		{"1000", SeverityLow, false},    // 0%
		{"1030", SeverityLow, false},    // 3%
		{"1050", SeverityLow, false},    // 恰好 tolerance，不触发
		{"1070", SeverityMedium, true},  // 7%
		{"1100", SeverityMedium, true},  // 恰好 2×tolerance
		{"1101", SeverityHigh, true},    // >10%
		{"1600", SeverityHigh, true},    // 60%
	}

	rank := map[Severity]int{SeverityLow: 0, SeverityMedium: 1, SeverityHigh: 2}
	prev := -1
	for _, tc := range cases {
		imb := CalcImbalance(snap(tc.base, "5000", "5"), target)
		assert.Equal(t, tc.severity, imb.Severity, "base=%s", tc.base)
		assert.Equal(t, tc.needed, imb.RebalanceNeeded, "base=%s", tc.base)
		assert.Equal(t, imb.RebalanceNeeded, imb.Severity != SeverityLow, "needed iff not low, base=%s", tc.base)
		assert.GreaterOrEqual(t, rank[imb.Severity], prev, "severity must not decrease, base=%s", tc.base)
		prev = rank[imb.Severity]
	}
}

func TestCalcRebalancingTrades(t *testing.T) {
	target := Target{Base: dec("1000"), Quote: dec("5000"), Tolerance: 0.05}

	// base 过剩 → 卖出。ratio 0.54545 vs 目标 0.5，
	// 规模 = 0.04545×11000/5 ≈ 100 TWIST
	trades, err := CalcRebalancingTrades(snap("1200", "5000", "5"), target, dec("5"))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "SELL", trades[0].Side)
	amount, _ := trades[0].Amount.Float64()
	assert.InDelta(t, 100.0, amount, 0.01)
	assert.Equal(t, 0.9, trades[0].Urgency) // severity high

	// base 不足 → 买入
	trades, err = CalcRebalancingTrades(snap("800", "5000", "5"), target, dec("5"))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "BUY", trades[0].Side)

	// 平衡态不出单
	trades, err = CalcRebalancingTrades(snap("1000", "5000", "5"), target, dec("5"))
	require.NoError(t, err)
	assert.Empty(t, trades)

	// 非正价格是非法操作，不做任何计算
	_, err = CalcRebalancingTrades(snap("1200", "5000", "5"), target, dec("0"))
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestUrgencyMapping(t *testing.T) {
	target := Target{Base: dec("1000"), Quote: dec("100000"), Tolerance: 0.05}

	// base 偏差 8% → medium → urgency 0.6
	trades, err := CalcRebalancingTrades(snap("1080", "100000", "5"), target, dec("5"))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 0.6, trades[0].Urgency)
}

func TestSnapshotFallback(t *testing.T) {
	sim := venue.NewSim(dec("1000"), dec("5000"), dec("5"))
	m, err := NewManager(sim, "TWISTUSDC", dec("5"))
	require.NoError(t, err)

	ctx := context.Background()
	first := m.Snapshot(ctx, dec("5"))
	assert.False(t, first.Stale)
	assert.True(t, first.Base.Equal(dec("1000")))

	// 余额读取失败：返回上一份快照并标记 stale，不向上抛错
	sim.FailBalances(venue.ErrBalancesUnavailable)
	degraded := m.Snapshot(ctx, dec("5"))
	assert.True(t, degraded.Stale)
	assert.True(t, degraded.Base.Equal(first.Base))

	// 恢复后 stale 清除
	sim.FailBalances(nil)
	recovered := m.Snapshot(ctx, dec("5"))
	assert.False(t, recovered.Stale)
}

func TestSnapshotFallbackWithoutHistory(t *testing.T) {
	sim := venue.NewSim(dec("1000"), dec("5000"), dec("5"))
	sim.FailBalances(venue.ErrBalancesUnavailable)
	m, err := NewManager(sim, "TWISTUSDC", dec("5"))
	require.NoError(t, err)

	// 第一次读取就失败：零持仓快照，ratio 中性
	s := m.Snapshot(context.Background(), dec("5"))
	assert.True(t, s.Stale)
	assert.Equal(t, 0.5, s.Ratio)
}

func TestSnapshotPriceHint(t *testing.T) {
	sim := venue.NewSim(dec("100"), dec("0"), dec("5"))
	m, _ := NewManager(sim, "TWISTUSDC", dec("2"))

	// 提示价优先
	s := m.Snapshot(context.Background(), dec("4"))
	assert.True(t, s.BaseValue.Equal(dec("400")))

	// 无提示价时用兜底价
	s = m.Snapshot(context.Background(), decimal.Zero)
	assert.True(t, s.BaseValue.Equal(dec("200")))
}

func TestMonitor(t *testing.T) {
	target := Target{Base: dec("1000"), Quote: dec("5000"), Tolerance: 0.05}

	cases := []struct {
		name   string
		base   string
		status string
	}{
		{"平衡", "1000", "balanced"},
		{"中度失衡", "1070", "imbalanced"},
		{"严重失衡", "1600", "critical"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sim := venue.NewSim(dec(tc.base), dec("5000"), dec("5"))
			m, _ := NewManager(sim, "TWISTUSDC", dec("5"))
			report := m.Monitor(context.Background(), target, dec("5"))
			assert.Equal(t, tc.status, report.Status)
			if tc.status != "balanced" {
				assert.NotEmpty(t, report.Actions)
			}
		})
	}
}

func TestTrackPrunesHistory(t *testing.T) {
	sim := venue.NewSim(dec("1000"), dec("5000"), dec("5"))
	m, _ := NewManager(sim, "TWISTUSDC", dec("5"))

	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	clock := base
	m.now = func() time.Time { return clock }

	ctx := context.Background()
	for i := 0; i < 30; i++ {
		clock = base.Add(time.Duration(i) * time.Hour)
		m.Track(ctx, dec("5"))
	}
	// 30 小时跨度，只保留最近 24 小时内的条目
	assert.LessOrEqual(t, m.HistoryLen(), 25)
	assert.Greater(t, m.HistoryLen(), 20)
}
