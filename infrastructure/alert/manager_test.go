package alert

import (
	"errors"
	"testing"
	"time"
)

func TestNewManager(t *testing.T) {
	ch := NewMockChannel("test")
	mgr := NewManager([]Channel{ch}, 5*time.Minute)

	if mgr == nil {
		t.Fatal("manager should not be nil")
	}

	channels := mgr.Channels()
	if len(channels) != 1 {
		t.Errorf("expected 1 channel, got %d", len(channels))
	}
	if channels[0] != "test" {
		t.Errorf("channel name = %s, want test", channels[0])
	}
}

func TestSend(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	err := mgr.Send(Alert{
		Level:   LevelInfo,
		Message: "test message",
		Fields:  map[string]interface{}{"key": "value"},
	})

	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if mock.Count() != 1 {
		t.Errorf("expected 1 alert, got %d", mock.Count())
	}

	alert := mock.GetAlerts()[0]
	if alert.Level != LevelInfo {
		t.Errorf("level = %s, want INFO", alert.Level)
	}
	if alert.Fields["key"] != "value" {
		t.Errorf("field key = %v, want value", alert.Fields["key"])
	}
	if alert.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestDomainHelpers(t *testing.T) {
	tests := []struct {
		name    string
		sendFn  func(*Manager) error
		wantLvl Level
		wantMsg string
	}{
		{
			name: "高失衡升级为CRITICAL",
			sendFn: func(m *Manager) error {
				return m.Imbalance("high", 0.25)
			},
			wantLvl: LevelCritical,
			wantMsg: "inventory imbalance detected",
		},
		{
			name: "中失衡为WARNING",
			sendFn: func(m *Manager) error {
				return m.Imbalance("medium", 0.08)
			},
			wantLvl: LevelWarning,
			wantMsg: "inventory imbalance detected",
		},
		{
			name: "数据降级",
			sendFn: func(m *Manager) error {
				return m.Degraded("balances", errors.New("rpc timeout"))
			},
			wantLvl: LevelWarning,
			wantMsg: "data source degraded",
		},
		{
			name: "不变量破坏",
			sendFn: func(m *Manager) error {
				return m.Violation("spread", errors.New("spread below minimum"))
			},
			wantLvl: LevelError,
			wantMsg: "invariant violation",
		},
		{
			name: "引擎停止",
			sendFn: func(m *Manager) error {
				return m.EngineStopped("signal")
			},
			wantLvl: LevelCritical,
			wantMsg: "engine stopped",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockChannel("mock")
			mgr := NewManager([]Channel{mock}, 5*time.Minute)

			if err := tt.sendFn(mgr); err != nil {
				t.Fatalf("send failed: %v", err)
			}

			if mock.Count() != 1 {
				t.Fatalf("expected 1 alert, got %d", mock.Count())
			}

			alert := mock.GetAlerts()[0]
			if alert.Level != tt.wantLvl {
				t.Errorf("level = %s, want %s", alert.Level, tt.wantLvl)
			}
			if alert.Message != tt.wantMsg {
				t.Errorf("message = %s, want %s", alert.Message, tt.wantMsg)
			}
		})
	}
}

func TestThrottling(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 100*time.Millisecond)

	// 第一次发送应该成功
	if err := mgr.Degraded("balances", errors.New("rpc timeout")); err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if mock.Count() != 1 {
		t.Errorf("first send: expected 1 alert, got %d", mock.Count())
	}

	// 立即再次发送相同消息应该被限流
	if err := mgr.Degraded("balances", errors.New("rpc timeout")); err != nil {
		t.Fatalf("second send failed: %v", err)
	}
	if mock.Count() != 1 {
		t.Errorf("throttled send should not increase count, got %d", mock.Count())
	}

	// 等待限流时间过后
	time.Sleep(150 * time.Millisecond)

	if err := mgr.Degraded("balances", errors.New("rpc timeout")); err != nil {
		t.Fatalf("third send failed: %v", err)
	}
	if mock.Count() != 2 {
		t.Errorf("after throttle period: expected 2 alerts, got %d", mock.Count())
	}
}

func TestDifferentMessagesNotThrottled(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	mgr.Send(Alert{Level: LevelInfo, Message: "message 1"})
	mgr.Send(Alert{Level: LevelInfo, Message: "message 2"})
	mgr.Send(Alert{Level: LevelWarning, Message: "message 1"}) // 不同level

	if mock.Count() != 3 {
		t.Errorf("expected 3 alerts, got %d", mock.Count())
	}
}

func TestMultipleChannels(t *testing.T) {
	mock1 := NewMockChannel("mock1")
	mock2 := NewMockChannel("mock2")
	mgr := NewManager([]Channel{mock1, mock2}, 5*time.Minute)

	if err := mgr.Send(Alert{Level: LevelInfo, Message: "test"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if mock1.Count() != 1 {
		t.Errorf("mock1: expected 1 alert, got %d", mock1.Count())
	}
	if mock2.Count() != 1 {
		t.Errorf("mock2: expected 1 alert, got %d", mock2.Count())
	}
}

func TestChannelError(t *testing.T) {
	mock := NewMockChannel("mock")
	mock.SetShouldError(true)
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	if err := mgr.Send(Alert{Level: LevelInfo, Message: "test"}); err == nil {
		t.Error("expected error when all channels fail")
	}
}

func TestPartialChannelFailure(t *testing.T) {
	mock1 := NewMockChannel("mock1")
	mock1.SetShouldError(true)
	mock2 := NewMockChannel("mock2")

	mgr := NewManager([]Channel{mock1, mock2}, 5*time.Minute)

	if err := mgr.Send(Alert{Level: LevelInfo, Message: "test"}); err != nil {
		t.Errorf("should not return error when some channels succeed: %v", err)
	}

	if mock2.Count() != 1 {
		t.Errorf("successful channel should receive alert")
	}
}

func TestResetThrottle(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	mgr.Send(Alert{Level: LevelInfo, Message: "test"})
	mgr.Send(Alert{Level: LevelInfo, Message: "test"})
	if mock.Count() != 1 {
		t.Error("should be throttled")
	}

	mgr.ResetThrottle()

	mgr.Send(Alert{Level: LevelInfo, Message: "test"})
	if mock.Count() != 2 {
		t.Errorf("after reset: expected 2 alerts, got %d", mock.Count())
	}
}

func TestThrottler(t *testing.T) {
	throttle := NewThrottler(100 * time.Millisecond)

	if !throttle.Allow("key1") {
		t.Error("first call should be allowed")
	}
	if throttle.Allow("key1") {
		t.Error("second call should be throttled")
	}
	if !throttle.Allow("key2") {
		t.Error("different key should be allowed")
	}

	time.Sleep(150 * time.Millisecond)

	if !throttle.Allow("key1") {
		t.Error("after interval should be allowed")
	}
}

func TestConsoleChannel(t *testing.T) {
	ch := NewConsoleChannel("console")

	if ch.Name() != "console" {
		t.Errorf("name = %s, want console", ch.Name())
	}

	levels := []Level{LevelInfo, LevelWarning, LevelError, LevelCritical}
	for _, level := range levels {
		err := ch.Send(Alert{
			Level:     level,
			Message:   "test " + string(level),
			Timestamp: time.Now(),
			Fields:    map[string]interface{}{"test": "value"},
		})
		if err != nil {
			t.Errorf("Send %s failed: %v", level, err)
		}
	}
}

func TestConcurrentAlerts(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 100*time.Millisecond)

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func(id int) {
			mgr.Send(Alert{
				Level:   LevelInfo,
				Message: "test",
				Fields:  map[string]interface{}{"id": id},
			})
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	// 由于限流，只有第一个应该通过
	if mock.Count() != 1 {
		t.Errorf("concurrent sends with same message should be throttled, got %d alerts", mock.Count())
	}
}

func BenchmarkThrottler(b *testing.B) {
	throttle := NewThrottler(5 * time.Minute)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		throttle.Allow("test_key")
	}
}
