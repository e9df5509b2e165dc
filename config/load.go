package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"twist-mm/infrastructure/logger"
	"twist-mm/inventory"
	"twist-mm/strategy"
)

// AppConfig holds the main runtime configuration.
// 链上数量类字段以字符串形式承载，经 decimal 解析后使用，避免浮点精度损失。
type AppConfig struct {
	Env       string          `yaml:"env"`
	Pair      string          `yaml:"pair"`
	Spread    SpreadConfig    `yaml:"spread"`
	Inventory InventoryConfig `yaml:"inventory"`
	Engine    EngineConfig    `yaml:"engine"`
	Venue     VenueConfig     `yaml:"venue"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       logger.Config   `yaml:"log"`
	Alerts    AlertConfig     `yaml:"alerts"`
}

type SpreadConfig struct {
	Base                 float64 `yaml:"base"`                 // 基准价差，如 0.002
	Min                  float64 `yaml:"min"`                  // 价差下限
	Max                  float64 `yaml:"max"`                  // 价差上限
	TargetDailyVolumeUSD float64 `yaml:"targetDailyVolumeUSD"` // 用于成交量乘数的日目标
}

type InventoryConfig struct {
	TargetBase  string  `yaml:"targetBase"`  // 目标基础资产数量
	TargetQuote string  `yaml:"targetQuote"` // 目标计价资产数量
	Tolerance   float64 `yaml:"tolerance"`   // 允许偏离比例，如 0.05
}

type EngineConfig struct {
	TickIntervalMs int    `yaml:"tickIntervalMs"` // 控制循环周期
	TickTimeoutMs  int    `yaml:"tickTimeoutMs"`  // 单tick超时，0表示不限制
	QuoteSize      string `yaml:"quoteSize"`      // 每侧报价数量
}

type VenueConfig struct {
	FillStreamURL string `yaml:"fillStreamURL"` // 成交推送websocket地址，留空则使用内置模拟
	FallbackPrice string `yaml:"fallbackPrice"` // 价格源不可用时的兜底价
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // Prometheus 指标监听地址，留空不启动
}

type AlertConfig struct {
	ThrottleInterval string `yaml:"throttleInterval"` // 相同告警的限流间隔，如 "5m"
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides deploy-specific fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("MM_FILL_STREAM_URL"); v != "" {
		cfg.Venue.FillStreamURL = v
	}
	if v := os.Getenv("MM_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	return cfg, Validate(cfg)
}

// Validate ensures required fields are present and parseable.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Pair == "" {
		return errors.New("pair is required")
	}

	sc := strategy.Config{
		BaseSpread:        cfg.Spread.Base,
		MinSpread:         cfg.Spread.Min,
		MaxSpread:         cfg.Spread.Max,
		TargetDailyVolume: cfg.Spread.TargetDailyVolumeUSD,
	}
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("spread: %w", err)
	}

	tb, err := decimal.NewFromString(cfg.Inventory.TargetBase)
	if err != nil {
		return fmt.Errorf("inventory.targetBase: %w", err)
	}
	tq, err := decimal.NewFromString(cfg.Inventory.TargetQuote)
	if err != nil {
		return fmt.Errorf("inventory.targetQuote: %w", err)
	}
	if tb.IsNegative() || tq.IsNegative() {
		return errors.New("inventory targets must be >= 0")
	}
	if cfg.Inventory.Tolerance <= 0 || cfg.Inventory.Tolerance >= 1 {
		return errors.New("inventory.tolerance must be in (0, 1)")
	}

	if cfg.Engine.TickIntervalMs <= 0 {
		return errors.New("engine.tickIntervalMs must be > 0")
	}
	if cfg.Engine.TickTimeoutMs < 0 {
		return errors.New("engine.tickTimeoutMs must be >= 0")
	}
	qs, err := decimal.NewFromString(cfg.Engine.QuoteSize)
	if err != nil {
		return fmt.Errorf("engine.quoteSize: %w", err)
	}
	if !qs.IsPositive() {
		return errors.New("engine.quoteSize must be > 0")
	}

	fp, err := decimal.NewFromString(cfg.Venue.FallbackPrice)
	if err != nil {
		return fmt.Errorf("venue.fallbackPrice: %w", err)
	}
	if !fp.IsPositive() {
		return errors.New("venue.fallbackPrice must be > 0")
	}

	if cfg.Alerts.ThrottleInterval != "" {
		if _, err := time.ParseDuration(cfg.Alerts.ThrottleInterval); err != nil {
			return fmt.Errorf("alerts.throttleInterval: %w", err)
		}
	}

	return nil
}

// StrategyConfig 返回价差计算器配置
func (c AppConfig) StrategyConfig() strategy.Config {
	return strategy.Config{
		BaseSpread:        c.Spread.Base,
		MinSpread:         c.Spread.Min,
		MaxSpread:         c.Spread.Max,
		TargetDailyVolume: c.Spread.TargetDailyVolumeUSD,
	}
}

// InventoryTarget 返回解析后的库存目标。须先通过 Validate。
func (c AppConfig) InventoryTarget() inventory.Target {
	tb, _ := decimal.NewFromString(c.Inventory.TargetBase)
	tq, _ := decimal.NewFromString(c.Inventory.TargetQuote)
	return inventory.Target{
		Base:      tb,
		Quote:     tq,
		Tolerance: c.Inventory.Tolerance,
	}
}

// QuoteSize 返回解析后的报价数量。须先通过 Validate。
func (c AppConfig) QuoteSize() decimal.Decimal {
	qs, _ := decimal.NewFromString(c.Engine.QuoteSize)
	return qs
}

// FallbackPrice 返回解析后的兜底价。须先通过 Validate。
func (c AppConfig) FallbackPrice() decimal.Decimal {
	fp, _ := decimal.NewFromString(c.Venue.FallbackPrice)
	return fp
}

// TickInterval 返回控制循环周期
func (c AppConfig) TickInterval() time.Duration {
	return time.Duration(c.Engine.TickIntervalMs) * time.Millisecond
}

// TickTimeout 返回单tick超时，0表示不限制
func (c AppConfig) TickTimeout() time.Duration {
	return time.Duration(c.Engine.TickTimeoutMs) * time.Millisecond
}

// AlertThrottle 返回告警限流间隔，默认5分钟
func (c AppConfig) AlertThrottle() time.Duration {
	if c.Alerts.ThrottleInterval == "" {
		return 5 * time.Minute
	}
	d, _ := time.ParseDuration(c.Alerts.ThrottleInterval)
	return d
}
