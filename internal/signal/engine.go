package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"vigil/internal/config"
	"vigil/internal/logger"
	"vigil/internal/market"
)

// ErrCorruptRecord 由持久化后端在记录无法解析时返回。
var ErrCorruptRecord = errors.New("corrupt persisted record")

// Generator 产出开仓提案；返回 (nil, nil) 表示本轮无意向。
type Generator interface {
	Propose(ctx context.Context, symbol string, now time.Time) (*TradeProposal, error)
}

type GeneratorFunc func(ctx context.Context, symbol string, now time.Time) (*TradeProposal, error)

func (f GeneratorFunc) Propose(ctx context.Context, symbol string, now time.Time) (*TradeProposal, error) {
	return f(ctx, symbol, now)
}

// Gate 是组合层准入检查；Check 返回 nil 表示放行。
type Gate interface {
	Check(ctx context.Context, sig *Signal) error
	Register(sig *Signal)
	Unregister(sig *Signal)
}

// Store 是引擎可见的持久化切面：每个 key 两个槽位，写 nil 即清除。
type Store interface {
	WriteOpen(key Key, sig *Signal) error
	ReadOpen(key Key) (*Signal, error)
	WriteScheduled(key Key, sig *Signal) error
	ReadScheduled(key Key) (*Signal, error)
}

// Sink 接收已提交的状态迁移与风险事件。
type Sink interface {
	Publish(key Key, at time.Time, res Result)
	PublishRisk(key Key, at time.Time, err error)
}

// Options 装配一个 Engine。Store 为 nil 时运行于回测模式（不落盘）。
type Options struct {
	Key       Key
	Exchange  string
	Config    config.Provider
	Oracle    *market.Oracle
	Gate      Gate
	Generator Generator
	Store     Store
	Sink      Sink
}

// Engine 持有一个（策略，交易对）的信号生命周期。
// 调用方负责对同一 key 串行化 Tick/FastForward/Restore；
// Snapshot 可与驱动循环并发调用，在途槽位由 mu 保护。
type Engine struct {
	key      Key
	exchange string
	cfg      config.Provider
	oracle   *market.Oracle
	gate     Gate
	gen      Generator
	store    Store
	sink     Sink

	mu        sync.Mutex
	open      *Signal
	scheduled *Signal
	lastGen   time.Time
	stopped   atomic.Bool
}

func New(opts Options) (*Engine, error) {
	if !opts.Key.Valid() {
		return nil, fmt.Errorf("engine key requires strategy and symbol")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("engine requires a config provider")
	}
	if opts.Oracle == nil {
		return nil, fmt.Errorf("engine requires a price oracle")
	}
	if opts.Gate == nil {
		return nil, fmt.Errorf("engine requires an admission gate")
	}
	return &Engine{
		key:      opts.Key,
		exchange: opts.Exchange,
		cfg:      opts.Config,
		oracle:   opts.Oracle,
		gate:     opts.Gate,
		gen:      opts.Generator,
		store:    opts.Store,
		sink:     opts.Sink,
	}, nil
}

func (e *Engine) Key() Key { return e.key }

// Stop 进入排空模式：不再生成新提案，已有持仓继续按规则监控直至退出。
func (e *Engine) Stop() { e.stopped.Store(true) }

func (e *Engine) Stopped() bool { return e.stopped.Load() }

// Snapshot 返回当前在途信号的拷贝，供状态接口只读展示。
func (e *Engine) Snapshot() (open, scheduled *Signal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open.Clone(), e.scheduled.Clone()
}

// Tick 在 now 时刻做一次评估：推进挂单或持仓，否则尝试生成新信号。
func (e *Engine) Tick(ctx context.Context, now time.Time) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.scheduled != nil || e.open != nil {
		price, err := e.oracle.ReferencePrice(ctx, e.key.Symbol)
		if err != nil {
			return Idle{}, fmt.Errorf("tick %s: %w", e.key, err)
		}
		res, err := e.advance(ctx, now, price, now)
		if err != nil {
			return res, err
		}
		e.publish(now, res)
		return res, nil
	}
	if e.stopped.Load() {
		return Idle{}, nil
	}
	return e.generate(ctx, now)
}

// FastForward 以一批按时间升序排列的 K 线批量推进已有挂单/持仓，
// 语义与逐根调用 Tick 等价（同一 advance 例程）。bars 是含历史的完整序列，
// 推进从 bars[from] 开始；from 之前的 K 线只充当参考价窗口的上下文，
// 使每一步看到的尾部窗口与逐根 Tick 所见一致。返回自 from 起已消费的
// K 线数；结果为 Closed/Cancelled 即终局，否则批尾仍有在途信号，
// 调用方续批或回退到 Tick。本函数从不生成新提案；状态迁移照常落盘与发布。
func (e *Engine) FastForward(ctx context.Context, bars []market.Candle, from int) (Result, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.scheduled == nil && e.open == nil {
		return Idle{}, 0, nil
	}
	if from < 0 || from >= len(bars) {
		return Idle{}, 0, fmt.Errorf("fast-forward %s: no bars", e.key)
	}
	var last Result = Idle{}
	for i := from; i < len(bars); i++ {
		select {
		case <-ctx.Done():
			return last, i - from, ctx.Err()
		default:
		}
		price, err := e.oracle.WindowPrice(bars, i)
		if err != nil {
			return last, i - from, fmt.Errorf("fast-forward %s: %w", e.key, err)
		}
		ts := time.UnixMilli(bars[i].CloseTime)
		// 激活时刻推进到下一根 K 线：本根只证明价格触及，持仓从下一根开始计时
		activateAt := ts
		if i+1 < len(bars) {
			activateAt = time.UnixMilli(bars[i+1].OpenTime)
		}
		res, err := e.advance(ctx, ts, price, activateAt)
		if err != nil {
			return res, i - from, err
		}
		last = res
		switch res.Kind() {
		case KindOpened, KindClosed, KindCancelled:
			e.publish(ts, res)
		}
		switch res.Kind() {
		case KindClosed, KindCancelled:
			return res, i - from + 1, nil
		}
	}
	return last, len(bars) - from, nil
}

// advance 是 tick 与 fast-forward 共享的单步迁移例程。
func (e *Engine) advance(ctx context.Context, ts time.Time, price float64, activateAt time.Time) (Result, error) {
	if e.scheduled != nil {
		return e.advanceScheduled(ctx, ts, price, activateAt)
	}
	if e.open != nil {
		return e.advanceOpen(ts, price)
	}
	return Idle{}, nil
}

func (e *Engine) advanceScheduled(ctx context.Context, ts time.Time, price float64, activateAt time.Time) (Result, error) {
	cfg := e.cfg.Trading()
	sig := e.scheduled

	if ts.Sub(sig.ScheduledAt) >= cfg.ScheduledWait() {
		return e.cancelScheduled(CancelTimeout)
	}

	// 进场只在价位本身成交。参考价越过进场价意味着行情直接穿越了
	// 该价位向止损方向运动，视为进场前已被止损扫出，废弃挂单。
	cmp := decimalCompare(price, sig.EntryPrice)
	overshot := (sig.Direction == Long && cmp < 0) || (sig.Direction == Short && cmp > 0)
	if overshot || stopLossHit(sig.Direction, price, sig.StopLoss) {
		return e.cancelScheduled(CancelStopBreached)
	}
	if cmp != 0 {
		return Scheduled{Signal: *sig, Created: false}, nil
	}

	// 触价激活前重新过一次准入：拒绝只是丢弃挂单，不是错误
	if err := e.gate.Check(ctx, sig); err != nil {
		logger.Infof("%s scheduled order dropped at activation: %v", e.key, err)
		cancelled, cErr := e.cancelScheduled(CancelAdmissionRejected)
		if cErr != nil {
			return Idle{}, cErr
		}
		e.publish(ts, cancelled)
		e.publishRisk(ts, err)
		return Idle{}, nil
	}

	sig.Scheduled = false
	sig.ActivatedAt = activateAt
	if err := sig.CheckInvariant(); err != nil {
		return Idle{}, fatalf("activating %s: %v", e.key, err)
	}
	e.scheduled = nil
	e.open = sig
	e.gate.Register(sig)
	if err := e.persistScheduled(nil); err != nil {
		return Idle{}, err
	}
	if err := e.persistOpen(sig); err != nil {
		return Idle{}, err
	}
	logger.Infof("%s activated %s %s at %.8f", e.key, sig.Direction, sig.ID, sig.EntryPrice)
	return Opened{Signal: *sig}, nil
}

func (e *Engine) advanceOpen(ts time.Time, price float64) (Result, error) {
	cfg := e.cfg.Trading()
	sig := e.open

	// 平仓条件按固定优先级评估：到期 > 止盈 > 止损
	if ts.Sub(sig.ActivatedAt) >= sig.MaxLifetime {
		return e.closeOpen(ts, price, CloseTimeExpired, cfg)
	}
	if takeProfitHit(sig.Direction, price, sig.TakeProfit) {
		// 按止盈价本身结算，而不是越过后的成交价
		return e.closeOpen(ts, sig.TakeProfit, CloseTakeProfit, cfg)
	}
	if stopLossHit(sig.Direction, price, sig.StopLoss) {
		return e.closeOpen(ts, sig.StopLoss, CloseStopLoss, cfg)
	}

	tpProg, slProg := progress(sig.Direction, sig.EntryPrice, price, sig.TakeProfit, sig.StopLoss)
	return Active{Signal: *sig, Price: price, TakeProfitProgress: tpProg, StopLossProgress: slProg}, nil
}

func (e *Engine) closeOpen(ts time.Time, exitPrice float64, reason CloseReason, cfg config.TradingConfig) (Result, error) {
	sig := e.open
	pnl, pnlPct := Realized(sig.Direction, sig.EntryPrice, exitPrice, cfg.FeePct, cfg.SlippagePct)
	held := ts.Sub(sig.ActivatedAt)
	e.open = nil
	e.gate.Unregister(sig)
	if err := e.persistOpen(nil); err != nil {
		return Idle{}, err
	}
	logger.Infof("%s closed %s %s: %s exit=%.8f pnl=%.4f%%", e.key, sig.Direction, sig.ID, reason, exitPrice, pnlPct)
	return Closed{Signal: *sig, Reason: reason, ExitPrice: exitPrice, PnL: pnl, PnLPct: pnlPct, Held: held}, nil
}

func (e *Engine) cancelScheduled(reason CancelReason) (Result, error) {
	sig := e.scheduled
	e.scheduled = nil
	if err := e.persistScheduled(nil); err != nil {
		return Idle{}, err
	}
	logger.Infof("%s scheduled order %s cancelled: %s", e.key, sig.ID, reason)
	return Cancelled{Signal: *sig, Reason: reason}, nil
}

// generate 请求策略提案并尝试落为新信号。
func (e *Engine) generate(ctx context.Context, now time.Time) (Result, error) {
	cfg := e.cfg.Trading()
	if e.gen == nil {
		return Idle{}, nil
	}
	if !e.lastGen.IsZero() && now.Sub(e.lastGen) < cfg.GenerateInterval() {
		return Idle{}, nil
	}
	e.lastGen = now

	genCtx, cancel := context.WithTimeout(ctx, cfg.GenerateTimeout())
	defer cancel()
	proposal, err := e.gen.Propose(genCtx, e.key.Symbol, now)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			// 卡死的策略不能悄悄拖垮驱动循环
			return Idle{}, fatalf("proposal generation for %s exceeded %s", e.key, cfg.GenerateTimeout())
		}
		return Idle{}, fmt.Errorf("proposal generation for %s: %w", e.key, err)
	}
	if proposal == nil {
		return Idle{}, nil
	}

	price, err := e.oracle.ReferencePrice(ctx, e.key.Symbol)
	if err != nil {
		return Idle{}, fmt.Errorf("tick %s: %w", e.key, err)
	}

	scheduled := proposal.EntryPrice != nil && !entryReached(proposal.Direction, price, *proposal.EntryPrice)
	if err := Validate(*proposal, price, scheduled, cfg); err != nil {
		logger.Infof("%s proposal rejected: %v", e.key, err)
		e.publishRisk(now, err)
		return Idle{}, nil
	}

	sig := e.newSignal(proposal, price, now, scheduled)
	if err := e.gate.Check(ctx, sig); err != nil {
		logger.Infof("%s proposal rejected by admission: %v", e.key, err)
		e.publishRisk(now, err)
		return Idle{}, nil
	}
	if err := sig.CheckInvariant(); err != nil {
		return Idle{}, fatalf("creating %s: %v", e.key, err)
	}

	if scheduled {
		e.scheduled = sig
		if err := e.persistScheduled(sig); err != nil {
			e.scheduled = nil
			return Idle{}, err
		}
		logger.Infof("%s scheduled %s %s entry=%.8f", e.key, sig.Direction, sig.ID, sig.EntryPrice)
		res := Scheduled{Signal: *sig, Created: true}
		e.publish(now, res)
		return res, nil
	}

	sig.ActivatedAt = now
	e.open = sig
	e.gate.Register(sig)
	if err := e.persistOpen(sig); err != nil {
		e.open = nil
		e.gate.Unregister(sig)
		return Idle{}, err
	}
	logger.Infof("%s opened %s %s at %.8f", e.key, sig.Direction, sig.ID, sig.EntryPrice)
	res := Opened{Signal: *sig}
	e.publish(now, res)
	return res, nil
}

func (e *Engine) newSignal(p *TradeProposal, price float64, now time.Time, scheduled bool) *Signal {
	lifetime := p.MaxLifetime
	if lifetime <= 0 {
		lifetime = e.cfg.Trading().MaxLifetime()
	}
	sig := &Signal{
		ID:             uuid.NewString(),
		Strategy:       e.key.Strategy,
		Symbol:         e.key.Symbol,
		Exchange:       e.exchange,
		Direction:      p.Direction,
		TakeProfit:     p.TakeProfit,
		OrigTakeProfit: p.TakeProfit,
		StopLoss:       p.StopLoss,
		OrigStopLoss:   p.StopLoss,
		CreatedAt:      now,
		MaxLifetime:    lifetime,
		Scheduled:      scheduled,
		Note:           p.Note,
	}
	if scheduled {
		sig.EntryPrice = *p.EntryPrice
		sig.OrigEntryPrice = *p.EntryPrice
		sig.ScheduledAt = now
		return sig
	}
	// 立即单按当前参考价成交；保留提案进场价用于追溯
	sig.EntryPrice = price
	if p.EntryPrice != nil {
		sig.OrigEntryPrice = *p.EntryPrice
	}
	return sig
}

// entryReached 判断进场价是否已经达到（可立即成交）。
func entryReached(dir Direction, price, entry float64) bool {
	if dir == Short {
		return decimalGTE(price, entry)
	}
	return decimalLTE(price, entry)
}

// Restore 从持久化层恢复在途信号。只在实盘模式调用。
// 身份不匹配或损坏的记录被丢弃而不是中止启动。
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()

	open, err := e.readSlot(e.store.ReadOpen, e.store.WriteOpen)
	if err != nil {
		return err
	}
	if open != nil {
		e.open = open
		e.gate.Register(open)
		logger.Infof("%s restored open %s %s entry=%.8f", e.key, open.Direction, open.ID, open.EntryPrice)
		e.publish(now, Opened{Signal: *open, Restored: true})
	}

	sched, err := e.readSlot(e.store.ReadScheduled, e.store.WriteScheduled)
	if err != nil {
		return err
	}
	if sched != nil {
		if e.open != nil {
			// 单仓不变量：同时恢复出持仓和挂单时保留持仓，丢弃挂单
			logger.Warnf("%s dropping restored scheduled order %s: open position present", e.key, sched.ID)
			_ = e.store.WriteScheduled(e.key, nil)
		} else {
			e.scheduled = sched
			logger.Infof("%s restored scheduled %s %s entry=%.8f", e.key, sched.Direction, sched.ID, sched.EntryPrice)
			e.publish(now, Scheduled{Signal: *sched, Created: false})
		}
	}
	return nil
}

func (e *Engine) readSlot(read func(Key) (*Signal, error), write func(Key, *Signal) error) (*Signal, error) {
	sig, err := read(e.key)
	if errors.Is(err, ErrCorruptRecord) {
		logger.Warnf("%s discarding corrupt record: %v", e.key, err)
		return nil, deleteWithRetry(write, e.key)
	}
	if err != nil {
		return nil, err
	}
	if sig == nil {
		return nil, nil
	}
	if sig.Strategy != e.key.Strategy || sig.Symbol != e.key.Symbol || sig.Exchange != e.exchange {
		logger.Warnf("%s discarding stale record %s: identity %s/%s/%s does not match instance",
			e.key, sig.ID, sig.Strategy, sig.Symbol, sig.Exchange)
		return nil, deleteWithRetry(write, e.key)
	}
	if err := sig.CheckInvariant(); err != nil {
		logger.Warnf("%s discarding invalid record: %v", e.key, err)
		return nil, deleteWithRetry(write, e.key)
	}
	return sig, nil
}

func deleteWithRetry(write func(Key, *Signal) error, key Key) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if lastErr = write(key, nil); lastErr == nil {
			return nil
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	return fmt.Errorf("deleting record for %s: %w", key, lastErr)
}

func (e *Engine) persistOpen(sig *Signal) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.WriteOpen(e.key, sig); err != nil {
		return fmt.Errorf("persisting open slot for %s: %w", e.key, err)
	}
	return nil
}

func (e *Engine) persistScheduled(sig *Signal) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.WriteScheduled(e.key, sig); err != nil {
		return fmt.Errorf("persisting scheduled slot for %s: %w", e.key, err)
	}
	return nil
}

func (e *Engine) publish(at time.Time, res Result) {
	if e.sink == nil {
		return
	}
	if res.Kind() == KindIdle {
		return
	}
	e.sink.Publish(e.key, at, res)
}

func (e *Engine) publishRisk(at time.Time, err error) {
	if e.sink == nil {
		return
	}
	e.sink.PublishRisk(e.key, at, err)
}
