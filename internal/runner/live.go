package runner

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"vigil/internal/config"
	"vigil/internal/logger"
	"vigil/internal/market"
	"vigil/internal/scheduler"
	"vigil/internal/signal"
)

// 监控节奏比提案生成密集：生成频率由引擎内部按配置节流。
// tick 锚定在 K 线收盘后 tickOffset 处，保证每根收盘价都被评估到。
const (
	tickInterval = 15 * time.Second
	tickOffset   = 2 * time.Second
)

// FaultReporter 承接引擎循环的故障，守护方经由事件总线的 Faults 通道消费。
type FaultReporter interface {
	PublishFault(key signal.Key, err error)
}

// Live 为每个（策略，交易对）驱动一个引擎循环。
// 引擎本身单线程，循环之间通过 errgroup 并行；一个 key 的致命故障
// 只终止该 key 的循环，其余照常运行。
type Live struct {
	mu      sync.Mutex
	engines map[signal.Key]*signal.Engine
	order   []signal.Key
	align   time.Duration
	faults  FaultReporter
}

// NewLive 按配置的 symbols 装配引擎。
func NewLive(cfg *config.Config, provider config.Provider, oracle *market.Oracle, gen signal.Generator, gate signal.Gate, store signal.Store, sink signal.Sink) (*Live, error) {
	l := &Live{engines: make(map[signal.Key]*signal.Engine)}
	if d, ok := scheduler.ParseIntervalDuration(cfg.Market.Interval); ok {
		l.align = d
	}
	if fr, ok := sink.(FaultReporter); ok {
		l.faults = fr
	}
	strategy := cfg.Trading.Strategy
	for _, symbol := range cfg.Market.Symbols {
		key := signal.Key{Strategy: strategy, Symbol: symbol}
		eng, err := signal.New(signal.Options{
			Key:       key,
			Exchange:  cfg.Market.Exchange,
			Config:    provider,
			Oracle:    oracle,
			Gate:      gate,
			Generator: gen,
			Store:     store,
			Sink:      sink,
		})
		if err != nil {
			return nil, err
		}
		l.engines[key] = eng
		l.order = append(l.order, key)
	}
	return l, nil
}

// Engines 按装配顺序返回全部引擎。
func (l *Live) Engines() []*signal.Engine {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*signal.Engine, 0, len(l.order))
	for _, key := range l.order {
		out = append(out, l.engines[key])
	}
	return out
}

// StopEngine 把指定引擎置为排空模式。
func (l *Live) StopEngine(key signal.Key) bool {
	l.mu.Lock()
	eng, ok := l.engines[key]
	l.mu.Unlock()
	if !ok {
		return false
	}
	eng.Stop()
	return true
}

// Run 先恢复在途信号再进入逐 key 循环，直到 ctx 取消。
func (l *Live) Run(ctx context.Context) error {
	for _, eng := range l.Engines() {
		if err := eng.Restore(ctx); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, eng := range l.Engines() {
		eng := eng
		g.Go(func() error {
			return l.loop(ctx, eng)
		})
	}
	return g.Wait()
}

func (l *Live) loop(ctx context.Context, eng *signal.Engine) error {
	ticks := scheduler.Ticks(ctx, l.align, tickInterval, tickOffset)
	key := eng.Key()
	logger.Infof("runner: %s loop started", key)

	for {
		select {
		case <-ctx.Done():
			logger.Infof("runner: %s loop stopped", key)
			return nil
		case _, ok := <-ticks:
			if !ok {
				logger.Infof("runner: %s loop stopped", key)
				return nil
			}
			if _, err := eng.Tick(ctx, time.Now()); err != nil {
				l.reportFault(key, err)
				if signal.IsFatal(err) {
					// 致命故障终止本 key，不拖垮其他循环
					logger.Errorf("runner: %s terminated: %v", key, err)
					return nil
				}
				logger.Warnf("runner: %s tick: %v", key, err)
			}
		}
	}
}

func (l *Live) reportFault(key signal.Key, err error) {
	if l.faults == nil {
		return
	}
	l.faults.PublishFault(key, err)
}
