package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewVolatilityEstimatorDefaults(t *testing.T) {
	tests := []struct {
		name       string
		config     VolatilityConfig
		wantWindow time.Duration
		wantAlpha  float64
	}{
		{
			name:       "显式配置",
			config:     VolatilityConfig{Window: 10 * time.Minute, SampleSize: 50, Alpha: 0.2},
			wantWindow: 10 * time.Minute,
			wantAlpha:  0.2,
		},
		{
			name:       "零值回退默认",
			config:     VolatilityConfig{},
			wantWindow: 5 * time.Minute,
			wantAlpha:  0.1,
		},
		{
			name:       "alpha越界回退默认",
			config:     VolatilityConfig{Window: time.Minute, SampleSize: 10, Alpha: 1.5},
			wantWindow: time.Minute,
			wantAlpha:  0.1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est := NewVolatilityEstimator(tt.config)
			assert.Equal(t, tt.wantWindow, est.window)
			assert.Equal(t, tt.wantAlpha, est.alpha)
		})
	}
}

func TestVolatilityConstantPriceIsZero(t *testing.T) {
	est := NewVolatilityEstimator(DefaultVolatilityConfig())

	now := time.Now()
	for i := 0; i < 20; i++ {
		est.Observe(5.0, now.Add(time.Duration(i)*time.Second))
	}

	assert.Equal(t, 0.0, est.Volatility())
}

func TestVolatilityRisesWithPriceSwings(t *testing.T) {
	est := NewVolatilityEstimator(DefaultVolatilityConfig())

	now := time.Now()
	prices := []float64{5.0, 5.5, 4.8, 5.6, 4.7, 5.8, 4.6}
	for i, p := range prices {
		est.Observe(p, now.Add(time.Duration(i)*time.Second))
	}

	assert.Greater(t, est.Volatility(), 0.01)
}

func TestVolatilityIgnoresNonPositivePrices(t *testing.T) {
	est := NewVolatilityEstimator(DefaultVolatilityConfig())

	est.Observe(0, time.Now())
	est.Observe(-1, time.Now())

	assert.Equal(t, 0, est.SampleCount())
	assert.Equal(t, 0.0, est.Volatility())
}

func TestVolatilityExpiredSamplesExcluded(t *testing.T) {
	est := NewVolatilityEstimator(VolatilityConfig{
		Window:     time.Minute,
		SampleSize: 10,
		Alpha:      0.1,
	})

	old := time.Now().Add(-2 * time.Minute)
	est.Observe(5.0, old)
	est.Observe(5.5, old)

	assert.Equal(t, 0, est.SampleCount())
}

func TestVolatilityReset(t *testing.T) {
	est := NewVolatilityEstimator(DefaultVolatilityConfig())

	now := time.Now()
	est.Observe(5.0, now)
	est.Observe(6.0, now.Add(time.Second))
	assert.Greater(t, est.Volatility(), 0.0)

	est.Reset()
	assert.Equal(t, 0.0, est.Volatility())
	assert.Equal(t, 0, est.SampleCount())
}
