package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"twist-mm/config"
	"twist-mm/infrastructure/alert"
	"twist-mm/infrastructure/logger"
	"twist-mm/infrastructure/monitor"
	"twist-mm/internal/engine"
	"twist-mm/inventory"
	"twist-mm/order"
	"twist-mm/strategy"
	"twist-mm/venue"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	dryRun := flag.Bool("dryRun", false, "使用内置模拟场所，不连接任何外部服务")
	metricsAddr := flag.String("metricsAddr", "", "覆盖配置中的 metrics 监听地址")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}

	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer zlog.Close()

	mon := monitor.New()
	alerts := alert.NewManager([]alert.Channel{
		alert.NewZapChannel("log", zlog.Logger),
		alert.NewConsoleChannel("console"),
	}, cfg.AlertThrottle())

	// 模拟场所承担余额/价格/执行端，初始库存取目标位
	target := cfg.InventoryTarget()
	sim := venue.NewSim(target.Base, target.Quote, cfg.FallbackPrice())

	// 成交流：配置了推送地址且非 dryRun 时接 websocket，否则用模拟流
	var fills venue.FillSource = sim
	var stream *venue.StreamFillSource
	if cfg.Venue.FillStreamURL != "" && !*dryRun {
		stream = venue.NewStreamFillSource(cfg.Venue.FillStreamURL, func(err error) {
			zlog.Warn("fill stream error", zap.Error(err))
			mon.TransientErrors.Inc()
		})
		fills = stream
	}

	calc, err := strategy.NewCalculator(cfg.StrategyConfig())
	if err != nil {
		log.Fatalf("初始化价差计算器失败: %v", err)
	}

	inv, err := inventory.NewManager(sim, cfg.Pair, cfg.FallbackPrice())
	if err != nil {
		log.Fatalf("初始化库存管理失败: %v", err)
	}

	eng, err := engine.New(engine.Config{
		Pair:          cfg.Pair,
		TickInterval:  cfg.TickInterval(),
		TickTimeout:   cfg.TickTimeout(),
		QuoteSize:     cfg.QuoteSize(),
		FallbackPrice: cfg.FallbackPrice(),
		Target:        target,
	}, engine.Components{
		Spread:    calc,
		Inventory: inv,
		Orders:    order.NewManager(),
		Execution: sim,
		Prices:    sim,
		Fills:     fills,
		Monitor:   mon,
		Alerts:    alerts,
		Logger:    zlog,
	})
	if err != nil {
		log.Fatalf("初始化引擎失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if stream != nil {
		go func() {
			if rerr := stream.Run(ctx); rerr != nil && ctx.Err() == nil {
				zlog.Error("fill stream terminated", zap.Error(rerr))
			}
		}()
	}

	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr, mon, eng, zlog)
	}

	// 配置热加载：价差与库存目标在线生效，坏配置被拒绝
	watcher, err := config.NewWatcher(*cfgPath, 2*time.Second)
	if err != nil {
		log.Fatalf("初始化配置监听失败: %v", err)
	}
	err = watcher.Start(ctx,
		func(newCfg config.AppConfig) {
			if uerr := eng.UpdateSpreadConfig(newCfg.StrategyConfig()); uerr != nil {
				zlog.Warn("spread config rejected", zap.Error(uerr))
				return
			}
			eng.UpdateTarget(newCfg.InventoryTarget())
			zlog.Info("config reloaded")
		},
		func(werr error) {
			zlog.Warn("config reload failed", zap.Error(werr))
		})
	if err != nil {
		zlog.Warn("config watcher disabled", zap.Error(err))
	} else {
		defer watcher.Stop()
	}

	if err := eng.Start(ctx); err != nil {
		log.Fatalf("启动引擎失败: %v", err)
	}

	zlog.Info("market maker running",
		zap.String("pair", cfg.Pair),
		zap.Bool("dry_run", *dryRun),
		zap.String("metrics_addr", cfg.Metrics.Addr))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	zlog.Info("signal received, shutting down", zap.String("signal", sig.String()))

	if err := eng.Stop(); err != nil {
		zlog.Error("engine stop failed", zap.Error(err))
	}
}

// serveMetrics 暴露 /metrics 与 /stats
func serveMetrics(addr string, mon *monitor.Monitor, eng *engine.TradingEngine, zlog *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", mon.Handler())
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		payload := map[string]interface{}{
			"engine":    eng.GetStatistics(),
			"state":     eng.GetState().String(),
			"orders24h": eng.OrderStats(24 * time.Hour),
			"spread":    eng.SpreadStats(),
			"inventory": eng.InventoryTrends(),
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			zlog.Warn("encode stats failed", zap.Error(err))
		}
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		zlog.Error("metrics server failed", zap.Error(err))
	}
}
