package alert

import (
	"fmt"
	"sync"
	"time"
)

// Level 告警级别
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Alert 告警信息
type Alert struct {
	Level     Level
	Message   string
	Timestamp time.Time
	Fields    map[string]interface{} // 附加字段
}

// Channel 告警通道接口
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Manager 告警管理器。按 level:message 维度限流，避免持续失衡时刷屏。
type Manager struct {
	channels []Channel
	throttle *Throttler
	mu       sync.RWMutex
}

// Throttler 告警限流器
type Throttler struct {
	lastSent map[string]time.Time
	interval time.Duration
	mu       sync.Mutex
}

// NewThrottler 创建限流器
func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
	}
}

// Allow 检查是否允许发送（限流）
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	lastTime, exists := t.lastSent[key]

	if !exists || now.Sub(lastTime) >= t.interval {
		t.lastSent[key] = now
		return true
	}

	return false
}

// Clear 清空所有限流记录
func (t *Throttler) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = make(map[string]time.Time)
}

// NewManager 创建告警管理器
func NewManager(channels []Channel, throttleInterval time.Duration) *Manager {
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttleInterval),
	}
}

// Send 发送告警到所有通道
func (m *Manager) Send(alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	key := fmt.Sprintf("%s:%s", alert.Level, alert.Message)
	if !m.throttle.Allow(key) {
		return nil // 被限流，静默忽略
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var lastErr error
	successCount := 0

	for _, ch := range m.channels {
		if err := ch.Send(alert); err != nil {
			lastErr = fmt.Errorf("channel %s failed: %w", ch.Name(), err)
		} else {
			successCount++
		}
	}

	// 只要有一个通道成功就视为发送成功
	if successCount == 0 && lastErr != nil {
		return lastErr
	}

	return nil
}

// Imbalance 发送库存失衡告警
func (m *Manager) Imbalance(severity string, maxDeltaPct float64) error {
	level := LevelWarning
	if severity == "high" {
		level = LevelCritical
	}
	return m.Send(Alert{
		Level:   level,
		Message: "inventory imbalance detected",
		Fields: map[string]interface{}{
			"severity":      severity,
			"max_delta_pct": maxDeltaPct,
		},
	})
}

// Degraded 发送数据降级告警（余额或价格读取失败，落回旧快照）
func (m *Manager) Degraded(source string, err error) error {
	return m.Send(Alert{
		Level:   LevelWarning,
		Message: "data source degraded",
		Fields: map[string]interface{}{
			"source": source,
			"error":  err.Error(),
		},
	})
}

// Violation 发送不变量破坏告警
func (m *Manager) Violation(component string, err error) error {
	return m.Send(Alert{
		Level:   LevelError,
		Message: "invariant violation",
		Fields: map[string]interface{}{
			"component": component,
			"error":     err.Error(),
		},
	})
}

// EngineStopped 发送引擎停止告警
func (m *Manager) EngineStopped(reason string) error {
	return m.Send(Alert{
		Level:   LevelCritical,
		Message: "engine stopped",
		Fields: map[string]interface{}{
			"reason": reason,
		},
	})
}

// AddChannel 添加告警通道
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// Channels 获取所有通道名称
func (m *Manager) Channels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}

// ResetThrottle 重置限流器
func (m *Manager) ResetThrottle() {
	m.throttle.Clear()
}
