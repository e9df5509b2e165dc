package inventory

import "math"

// 趋势分析参数：至少 10 个点才有意义，窗口取最近 20 个点
// 对比其之前的至多 20 个点，相对变化 ±5% 之外才认定方向。
const (
	trendMinPoints  = 10
	trendWindow     = 20
	trendThreshold  = 0.05
	trendIncreasing = "increasing"
	trendDecreasing = "decreasing"
	trendStable     = "stable"
)

// Trends 库存随时间的走向。
type Trends struct {
	BaseTrend  string
	QuoteTrend string
	RatioTrend string
	Volatility float64 // 近窗口 ratio 的总体标准差
}

// Trends 基于滚动历史计算趋势。历史不足 10 个点时返回全 stable / 零波动。
func (m *Manager) Trends() Trends {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.history)
	if n < trendMinPoints {
		return Trends{BaseTrend: trendStable, QuoteTrend: trendStable, RatioTrend: trendStable}
	}

	recentStart := n - trendWindow
	if recentStart < 0 {
		recentStart = 0
	}
	olderStart := recentStart - trendWindow
	if olderStart < 0 {
		olderStart = 0
	}
	recent := m.history[recentStart:]
	older := m.history[olderStart:recentStart]
	if len(older) == 0 {
		// 历史刚好只有一个窗口：拿前半段当基准
		half := n / 2
		older = m.history[:half]
		recent = m.history[half:]
	}

	base := func(s Snapshot) float64 { f, _ := s.Base.Float64(); return f }
	quote := func(s Snapshot) float64 { f, _ := s.Quote.Float64(); return f }
	ratio := func(s Snapshot) float64 { return s.Ratio }

	return Trends{
		BaseTrend:  classify(mean(older, base), mean(recent, base)),
		QuoteTrend: classify(mean(older, quote), mean(recent, quote)),
		RatioTrend: classify(mean(older, ratio), mean(recent, ratio)),
		Volatility: stddev(recent, ratio),
	}
}

// classify 近窗口均值相对基准窗口均值变化 ≥5% 记 increasing，≤-5% 记 decreasing。
func classify(oldMean, newMean float64) string {
	if oldMean == 0 {
		if newMean > 0 {
			return trendIncreasing
		}
		if newMean < 0 {
			return trendDecreasing
		}
		return trendStable
	}
	change := (newMean - oldMean) / math.Abs(oldMean)
	switch {
	case change >= trendThreshold:
		return trendIncreasing
	case change <= -trendThreshold:
		return trendDecreasing
	default:
		return trendStable
	}
}

func mean(window []Snapshot, f func(Snapshot) float64) float64 {
	if len(window) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range window {
		sum += f(s)
	}
	return sum / float64(len(window))
}

// stddev 总体标准差（除以 N，不是 N-1）。
func stddev(window []Snapshot, f func(Snapshot) float64) float64 {
	if len(window) == 0 {
		return 0
	}
	mu := mean(window, f)
	sum := 0.0
	for _, s := range window {
		d := f(s) - mu
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(window)))
}
