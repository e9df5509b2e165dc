package strategy

import (
	"container/ring"
	"math"
	"sync"
	"time"
)

// pricePoint 价格样本
type pricePoint struct {
	price float64
	ts    time.Time
}

// VolatilityEstimator 基于对数收益率的EWMA波动率估计器。
// 超出时间窗口的样本在计算时被忽略，环形缓冲区限制样本总量。
type VolatilityEstimator struct {
	window   time.Duration
	samples  *ring.Ring
	alpha    float64
	variance float64
	now      func() time.Time
	mu       sync.RWMutex
}

// VolatilityConfig 波动率估计器配置
type VolatilityConfig struct {
	Window     time.Duration // 计算窗口
	SampleSize int           // 环形缓冲区容量
	Alpha      float64       // EWMA平滑系数
}

// DefaultVolatilityConfig 返回默认配置
func DefaultVolatilityConfig() VolatilityConfig {
	return VolatilityConfig{
		Window:     5 * time.Minute,
		SampleSize: 100,
		Alpha:      0.1,
	}
}

// NewVolatilityEstimator 创建波动率估计器
func NewVolatilityEstimator(cfg VolatilityConfig) *VolatilityEstimator {
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 100
	}
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = 0.1
	}
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}

	return &VolatilityEstimator{
		window:  cfg.Window,
		samples: ring.New(cfg.SampleSize),
		alpha:   cfg.Alpha,
		now:     time.Now,
	}
}

// Observe 记录一个中间价样本并更新方差
func (v *VolatilityEstimator) Observe(price float64, ts time.Time) {
	if price <= 0 {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.samples.Value = pricePoint{price: price, ts: ts}
	v.samples = v.samples.Next()

	v.updateVariance()
}

// Volatility 返回当前波动率（收益率标准差）
func (v *VolatilityEstimator) Volatility() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.variance <= 0 {
		return 0
	}
	return math.Sqrt(v.variance)
}

// SampleCount 返回窗口内有效样本数
func (v *VolatilityEstimator) SampleCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()

	count := 0
	cutoff := v.now().Add(-v.window)
	v.samples.Do(func(val interface{}) {
		p, ok := val.(pricePoint)
		if ok && p.ts.After(cutoff) {
			count++
		}
	})
	return count
}

// Reset 清空状态
func (v *VolatilityEstimator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.variance = 0
	v.samples = ring.New(v.samples.Len())
}

// updateVariance 须持有写锁
func (v *VolatilityEstimator) updateVariance() {
	var returns []float64
	var prevPrice float64
	cutoff := v.now().Add(-v.window)

	v.samples.Do(func(val interface{}) {
		p, ok := val.(pricePoint)
		if !ok || !p.ts.After(cutoff) {
			return
		}
		if prevPrice > 0 {
			returns = append(returns, math.Log(p.price/prevPrice))
		}
		prevPrice = p.price
	})

	if len(returns) == 0 {
		return
	}

	latest := returns[len(returns)-1]
	squared := latest * latest

	if v.variance == 0 {
		// 首次用样本方差初始化，之后走EWMA
		if len(returns) >= 2 {
			mean := 0.0
			for _, r := range returns {
				mean += r
			}
			mean /= float64(len(returns))

			variance := 0.0
			for _, r := range returns {
				diff := r - mean
				variance += diff * diff
			}
			v.variance = variance / float64(len(returns)-1)
		} else {
			v.variance = squared
		}
		return
	}

	v.variance = v.alpha*squared + (1-v.alpha)*v.variance
}
