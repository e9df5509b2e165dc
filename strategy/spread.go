// Package strategy 实现动态价差计算：基础价差依次叠加波动率、
// 成交量、库存偏斜与竞争对手修正，最终收敛到安全区间内。
package strategy

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrInvalidSpread 计算结果为负或 NaN，属于不变量破坏；
// 该次报价作废，但进程继续为其余报价定价。
var ErrInvalidSpread = errors.New("computed spread invalid")

// maxObservations 价差观测历史上限。
const maxObservations = 1000

// Config 价差模型配置。
type Config struct {
	BaseSpread        float64 // 基础价差（mid 的比例，如 0.002 = 20bps）
	MinSpread         float64
	MaxSpread         float64
	TargetDailyVolume float64 // 目标日成交额（USD），成交量分档的基准
}

// Validate 启动时一次性校验，越界直接失败。
func (c Config) Validate() error {
	if c.BaseSpread <= 0 {
		return errors.New("baseSpread must be > 0")
	}
	if c.MinSpread <= 0 {
		return errors.New("minSpread must be > 0")
	}
	if c.MaxSpread <= 0 {
		return errors.New("maxSpread must be > 0")
	}
	if c.MinSpread > c.MaxSpread {
		return fmt.Errorf("minSpread %f > maxSpread %f", c.MinSpread, c.MaxSpread)
	}
	if c.BaseSpread < c.MinSpread || c.BaseSpread > c.MaxSpread {
		return fmt.Errorf("baseSpread %f outside [%f, %f]", c.BaseSpread, c.MinSpread, c.MaxSpread)
	}
	if c.TargetDailyVolume < 0 {
		return errors.New("targetDailyVolume must be >= 0")
	}
	return nil
}

// MarketConditions 单次计算的市场输入，不持久化。
type MarketConditions struct {
	Volatility       float64  // 日收益率标准差等比例值
	Volume24h        float64  // 24h 成交额（USD）
	InventorySkew    float64  // 当前配置比例 - 目标比例，有符号
	CompetitorSpread *float64 // 可选：竞争对手价差
	RecentTrades     int
}

// observation 一次价差输出的留痕，供事后分析。
type observation struct {
	Spread    float64
	Timestamp time.Time
}

// Calculator 价差计算器。纯函数 + 一段有界观测日志，
// 不持有订单或库存数据。
type Calculator struct {
	mu      sync.RWMutex
	cfg     Config
	history []observation
	now     func() time.Time
}

// NewCalculator 创建价差计算器。
func NewCalculator(cfg Config) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("spread config: %w", err)
	}
	return &Calculator{cfg: cfg, now: time.Now}, nil
}

// UpdateConfig 热更新配置（来自配置文件变更），仍需通过校验。
func (c *Calculator) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("spread config: %w", err)
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	return nil
}

// GetConfig 返回当前配置。
func (c *Calculator) GetConfig() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// OptimalSpread 依次应用四类修正后输出 [min, max] 内的价差并记入历史：
//  1. 波动率乘数 1 + 2v（线性放宽）
//  2. 成交量分档乘数
//  3. 偏斜放宽乘数
//  4. 竞争对手修正（只向经济上可行的对手收窄）
func (c *Calculator) OptimalSpread(m MarketConditions) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	spread := c.cfg.BaseSpread
	spread *= 1 + 2*m.Volatility
	spread *= volumeMultiplier(m.Volume24h, c.cfg.TargetDailyVolume)
	spread *= skewMultiplier(m.InventorySkew)

	// 对手价差低于 1.2×minSpread 说明对方已不具经济性，不跟
	if m.CompetitorSpread != nil {
		comp := *m.CompetitorSpread
		if comp > 1.2*c.cfg.MinSpread && comp < spread {
			spread = comp * 0.95
		}
	}

	if math.IsNaN(spread) || spread < 0 {
		return 0, fmt.Errorf("%w: %f", ErrInvalidSpread, spread)
	}

	spread = clamp(spread, c.cfg.MinSpread, c.cfg.MaxSpread)

	c.history = append(c.history, observation{Spread: spread, Timestamp: c.now()})
	if len(c.history) > maxObservations {
		c.history = c.history[len(c.history)-maxObservations:]
	}
	return spread, nil
}

// OrderSpread 在给定基准价差上做单笔订单修正：
// 规模越大越宽（1 + 0.1×size/10000）；偏斜超过 20% 时，
// 有助于纠偏的一侧收紧 10%。
func (c *Calculator) OrderSpread(side string, size float64, baseSpread float64, m MarketConditions) float64 {
	spread := baseSpread * (1 + 0.1*size/10000)

	if m.InventorySkew < -0.2 && side == "BUY" {
		spread *= 0.9 // base 配置不足，买侧收紧补货
	}
	if m.InventorySkew > 0.2 && side == "SELL" {
		spread *= 0.9 // base 配置过剩，卖侧收紧出货
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return clamp(spread, c.cfg.MinSpread, c.cfg.MaxSpread)
}

// volumeMultiplier 成交量相对目标的分档乘数。
// 量大收窄抢量，量小放宽保护。
func volumeMultiplier(volume, target float64) float64 {
	if target <= 0 {
		return 1.0
	}
	ratio := volume / target
	switch {
	case ratio > 2.0:
		return 0.7
	case ratio > 1.0:
		return 0.85
	case ratio < 0.1:
		return 1.5
	case ratio < 0.5:
		return 1.2
	default:
		return 1.0
	}
}

// skewMultiplier 偏斜越大价差越宽：10% 以内不动，
// 30% 以内按 1+0.5|s|，再往上按 1+|s|。
func skewMultiplier(skew float64) float64 {
	abs := math.Abs(skew)
	switch {
	case abs < 0.1:
		return 1.0
	case abs < 0.3:
		return 1 + 0.5*abs
	default:
		return 1 + abs
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SpreadStats 价差观测统计。
type SpreadStats struct {
	Average float64
	Min     float64
	Max     float64
	Current float64
	Count   int
}

// Stats 汇总观测历史；无历史时各项取配置基础价差。
// 纯读操作，可随时被观测端轮询。
func (c *Calculator) Stats() SpreadStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.history) == 0 {
		base := c.cfg.BaseSpread
		return SpreadStats{Average: base, Min: base, Max: base, Current: base}
	}

	st := SpreadStats{
		Min:   c.history[0].Spread,
		Max:   c.history[0].Spread,
		Count: len(c.history),
	}
	sum := 0.0
	for _, ob := range c.history {
		sum += ob.Spread
		if ob.Spread < st.Min {
			st.Min = ob.Spread
		}
		if ob.Spread > st.Max {
			st.Max = ob.Spread
		}
	}
	st.Average = sum / float64(len(c.history))
	st.Current = c.history[len(c.history)-1].Spread
	return st
}
