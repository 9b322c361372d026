package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"vigil/internal/admission"
	"vigil/internal/bus"
	vcfg "vigil/internal/config"
	"vigil/internal/logger"
	"vigil/internal/market"
	"vigil/internal/results"
	"vigil/internal/runner"
	"vigil/internal/signal"
	"vigil/internal/strategy"
)

func main() {
	var (
		cfgPath = flag.String("config", envOr("VIGIL_CONFIG", "configs/config.yaml"), "配置文件路径")
		days    = flag.Int("days", 7, "回放最近 N 天")
	)
	flag.Parse()

	cfg, err := vcfg.Load(*cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logger.SetLevel(cfg.App.LogLevel)

	ctx := context.Background()
	provider := vcfg.Static(cfg.Trading)

	src, err := market.NewBinanceSource(cfg.Market)
	if err != nil {
		log.Fatalf("初始化行情来源失败: %v", err)
	}

	since := time.Now().AddDate(0, 0, -*days).UnixMilli()
	bars := make(map[string][]market.Candle, len(cfg.Market.Symbols))
	for _, symbol := range cfg.Market.Symbols {
		history, err := fetchHistory(ctx, src, symbol, cfg.Market.Interval, since)
		if err != nil {
			log.Fatalf("拉取 %s 历史失败: %v", symbol, err)
		}
		logger.Infof("%s 拉取到 %d 根 K 线", symbol, len(history))
		bars[symbol] = history
	}

	res, err := results.NewStore(cfg.Backtest.ResultsPath)
	if err != nil {
		log.Fatalf("初始化结果库失败: %v", err)
	}
	defer res.Close()

	hub := bus.NewHub(cfg.Bus.QueueSize)
	defer hub.Close()

	sum, err := runner.RunBacktest(ctx, runner.BacktestOptions{
		Strategy: cfg.Trading.Strategy,
		Exchange: cfg.Market.Exchange,
		Symbols:  cfg.Market.Symbols,
		Interval: cfg.Market.Interval,
		Provider: provider,
		Generator: func(s market.Source) signal.Generator {
			return strategy.NewMomentum(s, provider, cfg.Market.Interval)
		},
		Gate:           admission.NewPortfolioGate(provider),
		Sink:           hub,
		Results:        res,
		Bars:           bars,
		InitialBalance: cfg.Backtest.InitialBalance,
	})
	if err != nil {
		log.Fatalf("回测失败: %v", err)
	}

	logger.Infof("回测完成 run=%s trades=%d wins=%d win_rate=%.1f%% total_pnl=%.2f%% final=%.2f max_dd=%.2f%%",
		sum.RunID, sum.Trades, sum.Wins, sum.WinRate, sum.TotalPnLPct, sum.FinalBalance, sum.MaxDrawdownPct)
}

// fetchHistory 从 since 起分批拉取到当前时刻。
func fetchHistory(ctx context.Context, src market.Source, symbol, interval string, since int64) ([]market.Candle, error) {
	var out []market.Candle
	cursor := since
	for {
		batch, err := src.GetKlines(ctx, symbol, interval, cursor, 1500)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return out, nil
		}
		out = append(out, batch...)
		next := batch[len(batch)-1].CloseTime + 1
		if next <= cursor || len(batch) < 1500 {
			return out, nil
		}
		cursor = next
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
