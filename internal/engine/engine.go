package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"twist-mm/infrastructure/alert"
	"twist-mm/infrastructure/logger"
	"twist-mm/infrastructure/monitor"
	"twist-mm/inventory"
	"twist-mm/order"
	"twist-mm/strategy"
	"twist-mm/venue"
)

// EngineState 引擎状态
type EngineState int

const (
	// StateIdle 空闲状态
	StateIdle EngineState = iota
	// StateRunning 运行状态
	StateRunning
	// StatePaused 暂停状态
	StatePaused
	// StateStopped 停止状态
	StateStopped
)

// String 返回状态名称
func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config 引擎配置
type Config struct {
	Pair          string           // 交易对，如 TWIST/USDC
	TickInterval  time.Duration    // 控制循环周期
	TickTimeout   time.Duration    // 单tick内外部调用的总超时，0表示不限制
	QuoteSize     decimal.Decimal  // 每侧报价数量（base计）
	FallbackPrice decimal.Decimal  // 价格源不可用且无历史价时的兜底价
	Target        inventory.Target // 库存目标配置
}

// Components 引擎依赖组件。Monitor/Alerts/Volatility 可为空，空时引擎自建。
type Components struct {
	Spread     *strategy.Calculator
	Inventory  *inventory.Manager
	Orders     *order.Manager
	Execution  venue.Execution
	Prices     venue.PriceSource
	Fills      venue.FillSource
	Volatility *strategy.VolatilityEstimator
	Monitor    *monitor.Monitor
	Alerts     *alert.Manager
	Logger     *logger.Logger
}

// TradingEngine 做市引擎：每tick串联 价格 → 库存 → 价差 → 报价/再平衡。
// tick之间不并发：上一tick未结束时，新tick被跳过而不是排队。
type TradingEngine struct {
	config Config

	spread *strategy.Calculator
	inv    *inventory.Manager
	orders *order.Manager
	exec   venue.Execution
	prices venue.PriceSource
	fills  venue.FillSource
	vol    *strategy.VolatilityEstimator
	mon    *monitor.Monitor
	alerts *alert.Manager
	logger *logger.Logger

	state EngineState
	mu    sync.RWMutex

	stopChan chan struct{}
	doneChan chan struct{}
	tickBusy atomic.Bool

	// 最近一次成功读取的中间价，价格源失败时以旧价降级
	lastMid  decimal.Decimal
	midStale bool
	midMu    sync.Mutex

	// 执行端订单号与本地订单号的双向映射，用于成交路由与撤单；
	// quoteIDs 标记哪些本地单是双边报价（区别于纠偏单）
	venueToLocal map[string]string
	localToVenue map[string]string
	quoteIDs     map[string]struct{}
	idMu         sync.Mutex

	stats engineStats
}

// Statistics 引擎统计信息快照
type Statistics struct {
	StartTime       time.Time
	TotalTicks      int64
	SkippedTicks    int64
	TotalQuotes     int64
	TotalFills      int64
	TotalRebalances int64
	TotalErrors     int64
	LastTickTime    time.Time
	LastQuoteTime   time.Time
	LastFillTime    time.Time
}

type engineStats struct {
	Statistics
	mu sync.Mutex
}

// New 创建做市引擎
func New(cfg Config, components Components) (*TradingEngine, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := validateComponents(components); err != nil {
		return nil, fmt.Errorf("invalid components: %w", err)
	}

	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if components.Volatility == nil {
		components.Volatility = strategy.NewVolatilityEstimator(strategy.DefaultVolatilityConfig())
	}
	if components.Monitor == nil {
		components.Monitor = monitor.New()
	}
	if components.Alerts == nil {
		components.Alerts = alert.NewManager(
			[]alert.Channel{alert.NewZapChannel("log", components.Logger.Logger)},
			5*time.Minute)
	}

	return &TradingEngine{
		config:       cfg,
		spread:       components.Spread,
		inv:          components.Inventory,
		orders:       components.Orders,
		exec:         components.Execution,
		prices:       components.Prices,
		fills:        components.Fills,
		vol:          components.Volatility,
		mon:          components.Monitor,
		alerts:       components.Alerts,
		logger:       components.Logger,
		state:        StateIdle,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
		venueToLocal: make(map[string]string),
		localToVenue: make(map[string]string),
		quoteIDs:     make(map[string]struct{}),
	}, nil
}

// Start 启动引擎
func (e *TradingEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateIdle && e.state != StateStopped {
		e.mu.Unlock()
		return fmt.Errorf("engine already started (state: %s)", e.state)
	}
	// 从 StateStopped 复启需要重建通道
	if e.state == StateStopped {
		e.stopChan = make(chan struct{})
		e.doneChan = make(chan struct{})
	}
	e.state = StateRunning
	e.stats.mu.Lock()
	e.stats.StartTime = time.Now()
	e.stats.mu.Unlock()
	e.mu.Unlock()

	e.logger.Info("engine starting",
		zap.String("pair", e.config.Pair),
		zap.Duration("tick_interval", e.config.TickInterval),
		zap.Duration("tick_timeout", e.config.TickTimeout),
		zap.String("quote_size", e.config.QuoteSize.String()))

	if e.fills != nil {
		go e.consumeFills(ctx)
	}
	go e.run(ctx)

	e.logger.Info("engine started")
	return nil
}

// Stop 停止引擎：停循环、撤全部订单、置终态。幂等。
func (e *TradingEngine) Stop() error {
	e.mu.Lock()
	if e.state == StateStopped {
		e.mu.Unlock()
		return nil
	}
	if e.state != StateRunning && e.state != StatePaused {
		e.mu.Unlock()
		return fmt.Errorf("engine not running (state: %s)", e.state)
	}
	e.mu.Unlock()

	e.logger.Info("engine stopping")

	select {
	case <-e.stopChan:
	default:
		close(e.stopChan)
	}

	select {
	case <-e.doneChan:
	case <-time.After(10 * time.Second):
		e.logger.Warn("timeout waiting for engine loop to stop")
	}

	// 等在途tick收尾，撤单后不能再有新报价冒出来
	waitUntil := time.Now().Add(5 * time.Second)
	for e.tickBusy.Load() && time.Now().Before(waitUntil) {
		time.Sleep(10 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e.cancelAllOrders(ctx)

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()

	e.alerts.EngineStopped("stop requested")
	e.logger.Info("engine stopped")
	return nil
}

// Pause 暂停引擎，tick继续走但不做任何动作
func (e *TradingEngine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateRunning {
		return fmt.Errorf("engine not running (state: %s)", e.state)
	}
	e.state = StatePaused
	e.logger.Info("engine paused")
	return nil
}

// Resume 恢复引擎
func (e *TradingEngine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StatePaused {
		return fmt.Errorf("engine not paused (state: %s)", e.state)
	}
	e.state = StateRunning
	e.logger.Info("engine resumed")
	return nil
}

// UpdateSpreadConfig 热更新价差配置，坏配置被拒绝且旧配置保留
func (e *TradingEngine) UpdateSpreadConfig(cfg strategy.Config) error {
	if err := e.spread.UpdateConfig(cfg); err != nil {
		return err
	}
	e.logger.Info("spread config updated",
		zap.Float64("base", cfg.BaseSpread),
		zap.Float64("min", cfg.MinSpread),
		zap.Float64("max", cfg.MaxSpread))
	return nil
}

// UpdateTarget 热更新库存目标
func (e *TradingEngine) UpdateTarget(target inventory.Target) {
	e.mu.Lock()
	e.config.Target = target
	e.mu.Unlock()
}

// run 主事件循环
func (e *TradingEngine) run(ctx context.Context) {
	defer close(e.doneChan)

	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("context done, stopping loop")
			return

		case <-e.stopChan:
			e.logger.Info("stop signal received")
			return

		case <-ticker.C:
			// 上一tick仍在执行则跳过本次，避免叠加过期状态
			if !e.tickBusy.CompareAndSwap(false, true) {
				e.mon.TicksSkipped.Inc()
				e.stats.mu.Lock()
				e.stats.SkippedTicks++
				e.stats.mu.Unlock()
				continue
			}
			go func() {
				defer e.tickBusy.Store(false)
				e.onTick(ctx)
			}()
		}
	}
}

// onTick 单tick流程：中间价 → 库存快照 → 价差 → 报价刷新 → 再平衡
func (e *TradingEngine) onTick(ctx context.Context) {
	e.mu.RLock()
	state := e.state
	target := e.config.Target
	e.mu.RUnlock()

	if state != StateRunning {
		return
	}

	start := time.Now()
	defer func() {
		e.mon.TickDuration.Observe(time.Since(start).Seconds())
	}()

	e.mon.TicksTotal.Inc()
	e.stats.mu.Lock()
	e.stats.TotalTicks++
	e.stats.LastTickTime = start
	e.stats.mu.Unlock()

	if e.config.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.TickTimeout)
		defer cancel()
	}

	mid := e.currentMid(ctx)
	e.vol.Observe(mid.InexactFloat64(), start)

	snap := e.inv.Track(ctx, mid)
	if snap.Stale {
		e.mon.BalancesStale.Set(1)
	} else {
		e.mon.BalancesStale.Set(0)
	}
	e.mon.InventoryRatio.Set(snap.Ratio)

	cond := e.marketConditions(snap, mid, target)

	spread, err := e.spread.OptimalSpread(cond)
	if err != nil {
		// 坏价差只废掉本tick的报价，进程继续
		e.recordViolation("spread", err)
	} else {
		e.mon.CurrentSpread.Set(spread)
		e.refreshQuotes(ctx, mid, spread)
	}

	e.maybeRebalance(ctx, snap, target, mid)

	exp := e.orders.TotalExposure()
	e.mon.BuyExposure.Set(exp.Buy.InexactFloat64())
	e.mon.SellExposure.Set(exp.Sell.InexactFloat64())
	e.mon.NetExposure.Set(exp.Net.InexactFloat64())
	e.mon.ActiveOrders.Set(float64(len(e.orders.ActiveOrders())))
}

// currentMid 读取价格源；失败时降级为上次成功价，再无则用兜底价。
func (e *TradingEngine) currentMid(ctx context.Context) decimal.Decimal {
	price, err := e.prices.Price(ctx, e.config.Pair)
	if err == nil && price.IsPositive() {
		e.midMu.Lock()
		e.lastMid = price
		e.midStale = false
		e.midMu.Unlock()
		return price
	}

	if err == nil {
		err = fmt.Errorf("non-positive price %s", price)
	}
	e.recordTransient("price source degraded", err)
	e.alerts.Degraded("price", err)

	e.midMu.Lock()
	defer e.midMu.Unlock()
	e.midStale = true
	if e.lastMid.IsPositive() {
		return e.lastMid
	}
	return e.config.FallbackPrice
}

// marketConditions 组装价差计算器输入
func (e *TradingEngine) marketConditions(snap inventory.Snapshot, mid decimal.Decimal, target inventory.Target) strategy.MarketConditions {
	stats24 := e.orders.StatsFor(24 * time.Hour)

	return strategy.MarketConditions{
		Volatility:    e.vol.Volatility(),
		Volume24h:     stats24.Volume.InexactFloat64(),
		InventorySkew: snap.Ratio - targetRatio(target, mid),
		RecentTrades:  stats24.Filled,
	}
}

// targetRatio 目标配置隐含的base价值占比
func targetRatio(target inventory.Target, price decimal.Decimal) float64 {
	baseValue := target.Base.Mul(price)
	total := baseValue.Add(target.Quote)
	if !total.IsPositive() {
		return 0.5
	}
	r, _ := baseValue.Div(total).Float64()
	return r
}

// refreshQuotes 把在簿报价对齐到目标报价集：
// 价格/数量已匹配的保留，不匹配的撤掉，缺失的一侧补挂。
// 纠偏单不参与对齐，由成交自然消化。
func (e *TradingEngine) refreshQuotes(ctx context.Context, mid decimal.Decimal, spread float64) {
	half := decimal.NewFromFloat(spread / 2)
	bid := mid.Mul(decimal.NewFromInt(1).Sub(half))
	ask := mid.Mul(decimal.NewFromInt(1).Add(half))

	needBuy, needSell := true, true
	for _, o := range e.orders.ActiveOrders() {
		if !e.isQuote(o.ID) {
			continue
		}
		switch {
		case needBuy && o.Side == order.SideBuy && o.Price.Equal(bid) && o.Size.Equal(e.config.QuoteSize):
			needBuy = false
		case needSell && o.Side == order.SideSell && o.Price.Equal(ask) && o.Size.Equal(e.config.QuoteSize):
			needSell = false
		default:
			e.cancelOrder(ctx, o.ID)
		}
	}

	if needBuy {
		e.placeQuote(ctx, order.SideBuy, bid, e.config.QuoteSize, spread)
	}
	if needSell {
		e.placeQuote(ctx, order.SideSell, ask, e.config.QuoteSize, spread)
	}
}

func (e *TradingEngine) isQuote(localID string) bool {
	e.idMu.Lock()
	defer e.idMu.Unlock()
	_, ok := e.quoteIDs[localID]
	return ok
}

// placeQuote 创建本地订单并提交到执行端
func (e *TradingEngine) placeQuote(ctx context.Context, side order.Side, price, size decimal.Decimal, spread float64) {
	local, err := e.orders.Create(side, price, size)
	if err != nil {
		e.recordTransient("create order failed", err)
		return
	}

	venueID, err := e.exec.SubmitOrder(ctx, string(side), price, size)
	if err != nil {
		// 提交失败的本地单直接作废
		if uerr := e.orders.UpdateStatus(local.ID, order.StatusCancelled); uerr != nil {
			e.logger.Error("discard unsubmitted order failed", zap.Error(uerr))
		}
		e.recordTransient("submit order failed", err)
		return
	}

	e.idMu.Lock()
	e.venueToLocal[venueID] = local.ID
	e.localToVenue[local.ID] = venueID
	e.quoteIDs[local.ID] = struct{}{}
	e.idMu.Unlock()

	if err := e.orders.UpdateStatus(local.ID, order.StatusActive); err != nil {
		e.logger.Error("activate order failed", zap.Error(err))
		return
	}

	e.mon.QuotesPlaced.Inc()
	e.stats.mu.Lock()
	e.stats.TotalQuotes++
	e.stats.LastQuoteTime = time.Now()
	e.stats.mu.Unlock()

	e.logger.LogQuote(string(side), price.String(), size.String(), spread)
}

// maybeRebalance 检查失衡并在需要时提交纠偏交易
func (e *TradingEngine) maybeRebalance(ctx context.Context, snap inventory.Snapshot, target inventory.Target, mid decimal.Decimal) {
	imb := inventory.CalcImbalance(snap, target)
	if !imb.RebalanceNeeded {
		return
	}
	// 上一笔纠偏单还在簿上时不再叠加
	for _, o := range e.orders.ActiveOrders() {
		if !e.isQuote(o.ID) {
			return
		}
	}

	e.alerts.Imbalance(string(imb.Severity), imb.MaxDeltaPct)

	trades, err := inventory.CalcRebalancingTrades(snap, target, mid)
	if err != nil {
		// 非法价格属于调用方错误，本tick放弃纠偏
		e.logger.Error("rebalance sizing failed", zap.Error(err))
		e.recordError()
		return
	}

	for _, trade := range trades {
		side := order.Side(trade.Side)
		local, err := e.orders.Create(side, trade.Price, trade.Amount)
		if err != nil {
			e.recordTransient("create rebalance order failed", err)
			continue
		}

		venueID, err := e.exec.SubmitOrder(ctx, trade.Side, trade.Price, trade.Amount)
		if err != nil {
			if uerr := e.orders.UpdateStatus(local.ID, order.StatusCancelled); uerr != nil {
				e.logger.Error("discard unsubmitted order failed", zap.Error(uerr))
			}
			e.recordTransient("submit rebalance order failed", err)
			continue
		}

		e.idMu.Lock()
		e.venueToLocal[venueID] = local.ID
		e.localToVenue[local.ID] = venueID
		e.idMu.Unlock()

		if err := e.orders.UpdateStatus(local.ID, order.StatusActive); err != nil {
			e.logger.Error("activate rebalance order failed", zap.Error(err))
			continue
		}

		e.mon.RebalancesTotal.Inc()
		e.stats.mu.Lock()
		e.stats.TotalRebalances++
		e.stats.mu.Unlock()

		e.logger.LogRebalance(trade.Side, trade.Amount.String(), trade.Urgency)
	}
}

// consumeFills 成交流消费者：把执行端成交立即回写订单管理器
func (e *TradingEngine) consumeFills(ctx context.Context) {
	ch := e.fills.Fills()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopChan:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			e.applyFill(ev)
		}
	}
}

// applyFill 将一条成交事件路由到本地订单
func (e *TradingEngine) applyFill(ev venue.FillEvent) {
	e.idMu.Lock()
	localID, ok := e.venueToLocal[ev.OrderID]
	e.idMu.Unlock()
	if !ok {
		// 成交流可能直接携带本地订单号（模拟源）
		localID = ev.OrderID
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	err := e.orders.RecordFill(localID, order.Fill{
		Price:     ev.Price,
		Size:      ev.Size,
		Fee:       ev.Fee,
		Timestamp: ts,
	})
	switch {
	case err == nil:
	case errors.Is(err, order.ErrOverfill):
		e.recordViolation("order", err)
		return
	case errors.Is(err, order.ErrTerminalOrder):
		// 撤单与成交赛跑的迟到回报，提示即可
		e.logger.Warn("late fill for terminal order", zap.String("order_id", ev.OrderID))
		return
	default:
		e.logger.Error("record fill failed",
			zap.String("order_id", ev.OrderID),
			zap.Error(err))
		e.recordError()
		return
	}

	e.mon.FillsTotal.Inc()
	e.stats.mu.Lock()
	e.stats.TotalFills++
	e.stats.LastFillTime = time.Now()
	e.stats.mu.Unlock()

	e.logger.LogFill(localID, ev.Price.String(), ev.Size.String(), ev.Fee.String())

	// 订单进入终态后清理映射
	if o, found := e.orders.Get(localID); found && o.Status == order.StatusFilled {
		e.dropMapping(localID)
	}
}

// cancelAllOrders 撤销全部活跃订单（本地 + 执行端尽力而为）
func (e *TradingEngine) cancelAllOrders(ctx context.Context) {
	for _, o := range e.orders.ActiveOrders() {
		e.cancelOrder(ctx, o.ID)
	}
}

// cancelOrder 撤销单个订单；本地撤销成功后向执行端尽力而为
func (e *TradingEngine) cancelOrder(ctx context.Context, localID string) {
	if !e.orders.Cancel(localID) {
		return
	}
	e.mon.OrdersCancelled.Inc()

	e.idMu.Lock()
	venueID, ok := e.localToVenue[localID]
	e.idMu.Unlock()
	if ok {
		if _, err := e.exec.CancelOrder(ctx, venueID); err != nil {
			e.recordTransient("venue cancel failed", err)
		}
	}
	e.dropMapping(localID)
}

func (e *TradingEngine) dropMapping(localID string) {
	e.idMu.Lock()
	defer e.idMu.Unlock()
	delete(e.quoteIDs, localID)
	if venueID, ok := e.localToVenue[localID]; ok {
		delete(e.venueToLocal, venueID)
		delete(e.localToVenue, localID)
	}
}

func (e *TradingEngine) recordTransient(msg string, err error) {
	e.logger.Warn(msg, zap.Error(err))
	e.mon.TransientErrors.Inc()
	e.recordError()
}

func (e *TradingEngine) recordViolation(component string, err error) {
	e.logger.LogViolation(component, err)
	e.mon.InvariantViolations.Inc()
	e.alerts.Violation(component, err)
	e.recordError()
}

func (e *TradingEngine) recordError() {
	e.stats.mu.Lock()
	e.stats.TotalErrors++
	e.stats.mu.Unlock()
}

// GetState 获取引擎状态
func (e *TradingEngine) GetState() EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// GetStatistics 获取统计信息快照
func (e *TradingEngine) GetStatistics() Statistics {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()
	return e.stats.Statistics
}

// OrderStats 供观测端轮询的订单统计，纯读
func (e *TradingEngine) OrderStats(period time.Duration) order.Stats {
	return e.orders.StatsFor(period)
}

// SpreadStats 供观测端轮询的价差统计，纯读
func (e *TradingEngine) SpreadStats() strategy.SpreadStats {
	return e.spread.Stats()
}

// InventoryTrends 供观测端轮询的库存趋势，纯读
func (e *TradingEngine) InventoryTrends() inventory.Trends {
	return e.inv.Trends()
}

// validateConfig 验证配置
func validateConfig(cfg Config) error {
	if cfg.Pair == "" {
		return errors.New("pair is required")
	}
	if cfg.TickInterval < 0 {
		return errors.New("tick_interval must be >= 0")
	}
	if cfg.TickTimeout < 0 {
		return errors.New("tick_timeout must be >= 0")
	}
	if !cfg.QuoteSize.IsPositive() {
		return errors.New("quote_size must be > 0")
	}
	if !cfg.FallbackPrice.IsPositive() {
		return errors.New("fallback_price must be > 0")
	}
	if cfg.Target.Base.IsNegative() || cfg.Target.Quote.IsNegative() {
		return errors.New("inventory targets must be >= 0")
	}
	return nil
}

// validateComponents 验证组件
func validateComponents(comp Components) error {
	if comp.Spread == nil {
		return errors.New("spread calculator is required")
	}
	if comp.Inventory == nil {
		return errors.New("inventory manager is required")
	}
	if comp.Orders == nil {
		return errors.New("order manager is required")
	}
	if comp.Execution == nil {
		return errors.New("execution is required")
	}
	if comp.Prices == nil {
		return errors.New("price source is required")
	}
	if comp.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}
