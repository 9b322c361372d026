package signal

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"vigil/internal/config"
	"vigil/internal/market"
)

// 属性: 对任意价格序列，fast-forward 与逐根 tick 必须得到相同终局。
func TestEngine_ModeEquivalenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	runBoth := func(cfg config.TradingConfig, proposal func() *TradeProposal, rawPrices []int) (ffRes, tkRes Result, ok bool) {
		prices := make([]float64, len(rawPrices))
		bars := make([]market.Candle, len(rawPrices))
		for i, p := range rawPrices {
			ts := t0.Add(time.Duration(i+1) * time.Minute)
			prices[i] = float64(p)
			bars[i] = market.Candle{
				OpenTime:  ts.Add(-time.Minute).UnixMilli(),
				CloseTime: ts.UnixMilli(),
				Open:      prices[i],
				High:      prices[i],
				Low:       prices[i],
				Close:     prices[i],
				Volume:    1,
			}
		}

		ff, err := buildHarness(cfg, proposal())
		if err != nil {
			return nil, nil, false
		}
		ff.setPrice(t0, 50000)
		if _, err := ff.eng.Tick(context.Background(), t0); err != nil {
			return nil, nil, false
		}
		// 批前历史一并传入，参考价窗口与逐根 tick 一致
		combined := append(append([]market.Candle{}, ff.bars...), bars...)
		ffRes, _, err = ff.eng.FastForward(context.Background(), combined, len(ff.bars))
		if err != nil {
			return nil, nil, false
		}

		tk, err := buildHarness(cfg, proposal())
		if err != nil {
			return nil, nil, false
		}
		tk.setPrice(t0, 50000)
		if _, err := tk.eng.Tick(context.Background(), t0); err != nil {
			return nil, nil, false
		}
		tkRes = Result(Idle{})
		for i := range prices {
			ts := t0.Add(time.Duration(i+1) * time.Minute)
			tk.setPrice(ts, prices[i])
			res, err := tk.eng.Tick(context.Background(), ts)
			if err != nil {
				return nil, nil, false
			}
			tkRes = res
			if res.Kind() == KindClosed || res.Kind() == KindCancelled {
				break
			}
		}
		return ffRes, tkRes, true
	}

	sameOutcome := func(a, b Result) bool {
		if a.Kind() != b.Kind() {
			return false
		}
		ac, aOK := a.(Closed)
		bc, bOK := b.(Closed)
		if aOK && bOK {
			return ac.Reason == bc.Reason &&
				ac.ExitPrice == bc.ExitPrice &&
				math.Abs(ac.PnL-bc.PnL) < 1e-9
		}
		acl, aOK := a.(Cancelled)
		bcl, bOK := b.(Cancelled)
		if aOK && bOK {
			return acl.Reason == bcl.Reason
		}
		return true
	}

	cfg1 := testTradingConfig()
	cfg3 := testTradingConfig()
	cfg3.VWAPWindowBars = 3

	properties.Property("立即单两种模式终局一致", prop.ForAll(
		func(rawPrices []int) bool {
			ffRes, tkRes, ok := runBoth(cfg1, immediateLong, rawPrices)
			if !ok {
				return false
			}
			return sameOutcome(ffRes, tkRes)
		},
		gen.SliceOfN(30, gen.IntRange(48000, 53000)),
	))

	properties.Property("挂单两种模式终局一致", prop.ForAll(
		func(rawPrices []int) bool {
			ffRes, tkRes, ok := runBoth(cfg1, scheduledLong, rawPrices)
			if !ok {
				return false
			}
			return sameOutcome(ffRes, tkRes)
		},
		gen.SliceOfN(30, gen.IntRange(47500, 51000)),
	))

	properties.Property("多根窗口下立即单两种模式终局一致", prop.ForAll(
		func(rawPrices []int) bool {
			ffRes, tkRes, ok := runBoth(cfg3, immediateLong, rawPrices)
			if !ok {
				return false
			}
			return sameOutcome(ffRes, tkRes)
		},
		gen.SliceOfN(30, gen.IntRange(48000, 53000)),
	))

	properties.Property("多根窗口下挂单两种模式终局一致", prop.ForAll(
		func(rawPrices []int) bool {
			ffRes, tkRes, ok := runBoth(cfg3, scheduledLong, rawPrices)
			if !ok {
				return false
			}
			return sameOutcome(ffRes, tkRes)
		},
		gen.SliceOfN(30, gen.IntRange(47500, 51000)),
	))

	properties.TestingRun(t)
}

// 属性: 校验通过的提案落为信号后必然满足方向性排序不变量。
func TestValidate_AcceptedImpliesInvariantProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500

	properties := gopter.NewProperties(parameters)
	cfg := testTradingConfig()

	properties.Property("通过校验即满足不变量", prop.ForAll(
		func(tpRaw, slRaw int, short bool) bool {
			dir := Long
			if short {
				dir = Short
			}
			p := TradeProposal{Direction: dir, TakeProfit: float64(tpRaw), StopLoss: float64(slRaw)}
			if err := Validate(p, 50000, false, cfg); err != nil {
				return IsRejection(err)
			}
			sig := &Signal{
				ID: "prop", Direction: dir,
				EntryPrice: 50000, TakeProfit: p.TakeProfit, StopLoss: p.StopLoss,
			}
			return sig.CheckInvariant() == nil
		},
		gen.IntRange(40000, 60000),
		gen.IntRange(40000, 60000),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
