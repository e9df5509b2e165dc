package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor 持有做市引擎的全部Prometheus指标。
// 使用私有Registry，避免与默认注册表冲突，便于单测中多实例并存。
type Monitor struct {
	registry *prometheus.Registry

	// gauges
	CurrentSpread  prometheus.Gauge
	InventoryRatio prometheus.Gauge
	BuyExposure    prometheus.Gauge
	SellExposure   prometheus.Gauge
	NetExposure    prometheus.Gauge
	BalancesStale  prometheus.Gauge
	ActiveOrders   prometheus.Gauge

	// counters
	TicksTotal          prometheus.Counter
	TicksSkipped        prometheus.Counter
	QuotesPlaced        prometheus.Counter
	OrdersCancelled     prometheus.Counter
	FillsTotal          prometheus.Counter
	RebalancesTotal     prometheus.Counter
	InvariantViolations prometheus.Counter
	TransientErrors     prometheus.Counter

	// histograms
	TickDuration prometheus.Histogram
}

// New 创建Monitor并注册所有指标
func New() *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Monitor{
		registry: reg,

		CurrentSpread: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mm_current_spread",
			Help: "最近一次计算出的价差（小数，如0.002）",
		}),
		InventoryRatio: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mm_inventory_ratio",
			Help: "库存中基础资产价值占总价值的比例",
		}),
		BuyExposure: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mm_buy_exposure",
			Help: "活跃买单的基础资产敞口",
		}),
		SellExposure: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mm_sell_exposure",
			Help: "活跃卖单的计价资产敞口",
		}),
		NetExposure: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mm_net_exposure",
			Help: "净敞口（卖出敞口减买入敞口）",
		}),
		BalancesStale: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mm_balances_stale",
			Help: "余额快照是否为降级数据（1=降级）",
		}),
		ActiveOrders: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mm_active_orders",
			Help: "当前活跃订单数",
		}),

		TicksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mm_ticks_total",
			Help: "控制循环tick总数",
		}),
		TicksSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "mm_ticks_skipped_total",
			Help: "因上一tick未完成而跳过的tick数",
		}),
		QuotesPlaced: factory.NewCounter(prometheus.CounterOpts{
			Name: "mm_quotes_placed_total",
			Help: "挂出的报价单总数",
		}),
		OrdersCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "mm_orders_cancelled_total",
			Help: "撤销的订单总数",
		}),
		FillsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mm_fills_total",
			Help: "收到的成交事件总数",
		}),
		RebalancesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mm_rebalances_total",
			Help: "触发的再平衡交易总数",
		}),
		InvariantViolations: factory.NewCounter(prometheus.CounterOpts{
			Name: "mm_invariant_violations_total",
			Help: "检测到的不变量破坏总数",
		}),
		TransientErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "mm_transient_errors_total",
			Help: "可恢复错误总数（余额/价格读取失败等）",
		}),

		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mm_tick_duration_seconds",
			Help:    "单个tick的处理耗时",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}
}

// Handler 返回可挂载到HTTP服务的指标处理器
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 暴露底层注册表，供测试收集指标
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
