package inventory

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"twist-mm/venue"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	sim := venue.NewSim(dec("1000"), dec("5000"), dec("5"))
	m, err := NewManager(sim, "TWISTUSDC", dec("5"))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func appendSnapshot(m *Manager, base, quote float64, ratio float64, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, Snapshot{
		Base:      decimal.NewFromFloat(base),
		Quote:     decimal.NewFromFloat(quote),
		Ratio:     ratio,
		Timestamp: ts,
	})
}

func TestTrendsInsufficientHistory(t *testing.T) {
	m := newTestManager(t)
	base := time.Now()
	for i := 0; i < trendMinPoints-1; i++ {
		appendSnapshot(m, 1000, 5000, 0.5, base.Add(time.Duration(i)*time.Minute))
	}

	tr := m.Trends()
	assert.Equal(t, trendStable, tr.BaseTrend)
	assert.Equal(t, trendStable, tr.QuoteTrend)
	assert.Equal(t, trendStable, tr.RatioTrend)
	assert.Equal(t, 0.0, tr.Volatility)
}

// TestRatioTrendIncreasing 规格场景：25 份快照，ratio 从 0.40 线性升到 0.60
// ⇒ ratioTrend = increasing。
func TestRatioTrendIncreasing(t *testing.T) {
	m := newTestManager(t)
	base := time.Now()
	for i := 0; i < 25; i++ {
		ratio := 0.40 + 0.20*float64(i)/24.0
		appendSnapshot(m, 1000, 5000, ratio, base.Add(time.Duration(i)*time.Minute))
	}

	tr := m.Trends()
	assert.Equal(t, trendIncreasing, tr.RatioTrend)
	assert.Equal(t, trendStable, tr.BaseTrend)
	assert.Equal(t, trendStable, tr.QuoteTrend)
	assert.Greater(t, tr.Volatility, 0.0)
}

func TestRatioTrendDecreasing(t *testing.T) {
	m := newTestManager(t)
	base := time.Now()
	for i := 0; i < 40; i++ {
		ratio := 0.60 - 0.20*float64(i)/39.0
		appendSnapshot(m, 1000, 5000, ratio, base.Add(time.Duration(i)*time.Minute))
	}
	assert.Equal(t, trendDecreasing, m.Trends().RatioTrend)
}

func TestBaseTrend(t *testing.T) {
	m := newTestManager(t)
	base := time.Now()
	// base 数量从 1000 涨到 1500，quote 不变
	for i := 0; i < 40; i++ {
		qty := 1000.0 + 500.0*float64(i)/39.0
		appendSnapshot(m, qty, 5000, 0.5, base.Add(time.Duration(i)*time.Minute))
	}

	tr := m.Trends()
	assert.Equal(t, trendIncreasing, tr.BaseTrend)
	assert.Equal(t, trendStable, tr.QuoteTrend)
}

func TestTrendsStableWithinBand(t *testing.T) {
	m := newTestManager(t)
	base := time.Now()
	// 2% 漂移在 ±5% 阈值内
	for i := 0; i < 40; i++ {
		ratio := 0.50 + 0.01*float64(i)/39.0
		appendSnapshot(m, 1000, 5000, ratio, base.Add(time.Duration(i)*time.Minute))
	}
	assert.Equal(t, trendStable, m.Trends().RatioTrend)
}

func TestVolatilityIsPopulationStddev(t *testing.T) {
	m := newTestManager(t)
	base := time.Now()
	// 最近 20 个点在 0.4/0.6 交替：均值 0.5，总体标准差恰为 0.1
	for i := 0; i < 20; i++ {
		ratio := 0.4
		if i%2 == 1 {
			ratio = 0.6
		}
		appendSnapshot(m, 1000, 5000, ratio, base.Add(time.Duration(i)*time.Minute))
	}
	tr := m.Trends()
	assert.InDelta(t, 0.1, tr.Volatility, 1e-9)
}
