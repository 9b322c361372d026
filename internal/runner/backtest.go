package runner

import (
	"context"
	"fmt"
	"time"

	"vigil/internal/config"
	"vigil/internal/logger"
	"vigil/internal/market"
	"vigil/internal/results"
	"vigil/internal/signal"
)

// BacktestOptions 描述一次回测：历史 K 线按 key 回放，
// 引擎不落盘，事件仍走 sink，成交写入 results。
type BacktestOptions struct {
	Strategy  string
	Exchange  string
	Symbols   []string
	Interval  string
	Provider  config.Provider
	Generator func(src market.Source) signal.Generator
	Gate      signal.Gate
	Sink      signal.Sink
	Results   *results.Store
	Bars      map[string][]market.Candle

	// InitialBalance 是权益曲线起点，<=0 时取 10000。
	InitialBalance float64
}

// RunBacktest 逐 symbol 回放历史数据并汇总结果。
// 空闲时逐根 tick 喂给引擎（通过 cutoff 保证引擎只见过去），
// 一旦出现在途信号就切换到 fast-forward 批量推进，终局后回到 tick。
func RunBacktest(ctx context.Context, opts BacktestOptions) (results.Summary, error) {
	if opts.Provider == nil || opts.Generator == nil || opts.Gate == nil {
		return results.Summary{}, fmt.Errorf("backtest requires provider, generator and gate")
	}

	balance := opts.InitialBalance
	if balance <= 0 {
		balance = 10000
	}

	var runID string
	if opts.Results != nil {
		id, err := opts.Results.StartRun(opts.Strategy, opts.Symbols, opts.Provider.Trading())
		if err != nil {
			return results.Summary{}, err
		}
		runID = id
	}

	for _, symbol := range opts.Symbols {
		bars := opts.Bars[symbol]
		if len(bars) == 0 {
			return results.Summary{}, fmt.Errorf("backtest: no bars for %s", symbol)
		}
		if opts.Results != nil {
			// 每个 symbol 的回放从当前权益接着走，曲线跨 symbol 连续
			if err := opts.Results.RecordEquity(runID, time.UnixMilli(bars[0].OpenTime), balance); err != nil {
				return results.Summary{}, err
			}
		}
		if err := replaySymbol(ctx, opts, runID, symbol, bars, &balance); err != nil {
			return results.Summary{}, err
		}
	}

	if opts.Results == nil {
		return results.Summary{}, nil
	}
	return opts.Results.FinishRun(runID)
}

func replaySymbol(ctx context.Context, opts BacktestOptions, runID, symbol string, bars []market.Candle, balance *float64) error {
	src := market.NewSliceSource()
	src.Put(symbol, bars)
	oracle := market.NewOracle(src, opts.Provider, opts.Interval)

	key := signal.Key{Strategy: opts.Strategy, Symbol: symbol}
	eng, err := signal.New(signal.Options{
		Key:       key,
		Exchange:  opts.Exchange,
		Config:    opts.Provider,
		Oracle:    oracle,
		Gate:      opts.Gate,
		Generator: opts.Generator(src),
		Sink:      opts.Sink,
	})
	if err != nil {
		return err
	}

	record := func(res signal.Result, ts time.Time) error {
		if opts.Results == nil {
			return nil
		}
		switch r := res.(type) {
		case signal.Closed:
			if err := opts.Results.RecordClosed(runID, key, r); err != nil {
				return err
			}
			*balance *= 1 + r.PnLPct/100
			return opts.Results.RecordEquity(runID, ts, *balance)
		case signal.Cancelled:
			return opts.Results.RecordCancelled(runID, key, r)
		}
		return nil
	}

	i := 0
	for i < len(bars) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// 引擎只能看到当前回放时刻之前的行情
		src.SetCutoff(bars[i].CloseTime)
		ts := time.UnixMilli(bars[i].CloseTime)

		res, err := eng.Tick(ctx, ts)
		if err != nil {
			if signal.IsFatal(err) {
				return err
			}
			logger.Warnf("backtest: %s tick at %s: %v", key, ts, err)
			i++
			continue
		}
		if err := record(res, ts); err != nil {
			return err
		}

		switch res.Kind() {
		case signal.KindScheduled, signal.KindOpened:
			if i+1 >= len(bars) {
				return nil
			}
			// 整段序列连同 i+1 之前的历史一起传入，参考价窗口与逐根 tick 所见一致
			ffRes, consumed, err := eng.FastForward(ctx, bars, i+1)
			if err != nil {
				return err
			}
			ffTs := ts
			if consumed > 0 {
				ffTs = time.UnixMilli(bars[i+consumed].CloseTime)
			}
			if err := record(ffRes, ffTs); err != nil {
				return err
			}
			i += 1 + consumed
		default:
			i++
		}
	}
	return nil
}
