package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"vigil/internal/admission"
	"vigil/internal/bus"
	vcfg "vigil/internal/config"
	"vigil/internal/logger"
	"vigil/internal/market"
	"vigil/internal/notifier"
	"vigil/internal/runner"
	vsignal "vigil/internal/signal"
	"vigil/internal/store"
	"vigil/internal/strategy"
	httpapi "vigil/internal/transport/http"
)

func main() {
	cfgPath := os.Getenv("VIGIL_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	manager, err := vcfg.NewManager(cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	cfg := manager.Config()
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("初始化日志文件失败: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ 配置加载成功（环境=%s，symbols=%s）", cfg.App.Env, strings.Join(cfg.Market.Symbols, ","))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, err := market.NewBinanceSource(cfg.Market)
	if err != nil {
		log.Fatalf("初始化行情来源失败: %v", err)
	}
	oracle := market.NewOracle(src, manager, cfg.Market.Interval)
	gen := strategy.NewMomentum(src, manager, cfg.Market.Interval)
	gate := admission.NewPortfolioGate(manager)

	st, err := store.Open(cfg.Store)
	if err != nil {
		log.Fatalf("初始化持久化失败: %v", err)
	}
	defer st.Close()

	hub := bus.NewHub(cfg.Bus.QueueSize)
	defer hub.Close()

	live, err := runner.NewLive(cfg, manager, oracle, gen, gate, st, hub)
	if err != nil {
		log.Fatalf("初始化引擎失败: %v", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return manager.Watch(ctx) })
	g.Go(func() error { return live.Run(ctx) })

	if cfg.Notify.Telegram.Enabled {
		events, cancel := hub.Subscribe()
		defer cancel()
		n := notifier.New(notifier.NewTelegram(cfg.Notify.Telegram))
		g.Go(func() error {
			n.Run(ctx, events)
			return nil
		})
	}

	if cfg.Bus.Kafka.Enabled {
		forwarder, err := bus.NewKafkaForwarder(cfg.Bus.Kafka)
		if err != nil {
			log.Fatalf("初始化 Kafka 失败: %v", err)
		}
		defer forwarder.Close()
		events, cancel := hub.Subscribe()
		defer cancel()
		g.Go(func() error {
			forwarder.Run(ctx, events)
			return nil
		})
	}

	if cfg.App.HTTPAddr != "" {
		srv, err := httpapi.NewServer(httpapi.ServerConfig{
			Addr:    cfg.App.HTTPAddr,
			Source:  live,
			Gate:    gate,
			Trading: manager,
		})
		if err != nil {
			log.Fatalf("初始化 HTTP 服务失败: %v", err)
		}
		g.Go(func() error { return srv.Start(ctx) })
	}

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case err, ok := <-hub.Faults():
				if !ok {
					return nil
				}
				if vsignal.IsFatal(err) {
					logger.Errorf("引擎致命故障: %v", err)
					continue
				}
				logger.Warnf("事件总线故障: %v", err)
			}
		}
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatalf("运行失败: %v", err)
	}
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
