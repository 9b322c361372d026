package strategy

import (
	"context"
	"fmt"
	"time"

	"vigil/internal/config"
	"vigil/internal/logger"
	"vigil/internal/market"
	"vigil/internal/signal"
)

const lookbackBars = 60

// Momentum 是内置的动量提案来源：MACD 定方向，RSI 过滤超买超卖，
// ATR 决定止盈止损距离。产出的距离会被夹在配置的校验区间内，
// 让提案在阈值热更新后依然能通过校验。
type Momentum struct {
	src      market.Source
	cfg      config.Provider
	interval string
}

func NewMomentum(src market.Source, cfg config.Provider, interval string) *Momentum {
	if interval == "" {
		interval = "1m"
	}
	return &Momentum{src: src, cfg: cfg, interval: interval}
}

func (m *Momentum) Propose(ctx context.Context, symbol string, _ time.Time) (*signal.TradeProposal, error) {
	bars, err := m.src.GetKlines(ctx, symbol, m.interval, 0, lookbackBars)
	if err != nil {
		return nil, fmt.Errorf("momentum %s: %w", symbol, err)
	}
	if len(bars) < 27 {
		logger.Debugf("momentum %s: only %d bars, skipping", symbol, len(bars))
		return nil, nil
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	price := closes[len(closes)-1]
	if price <= 0 {
		return nil, nil
	}

	macd := MACD(closes)
	rsi := RSI(closes, 14)

	var dir signal.Direction
	switch {
	case macd > 0 && rsi > 50 && rsi < 70:
		dir = signal.Long
	case macd < 0 && rsi < 50 && rsi > 30:
		dir = signal.Short
	default:
		return nil, nil
	}

	cfg := m.cfg.Trading()
	atr := ATR(bars, 14)
	atrPct := atr / price * 100

	slDist := clamp(1.5*atrPct, cfg.MinStopDistancePct, cfg.MaxStopDistancePct)
	tpDist := 2 * slDist
	if min := cfg.MinTakeProfitDistancePct; tpDist < min {
		tpDist = min
	}
	if rt := (cfg.FeePct + cfg.SlippagePct) * 2; tpDist < rt {
		tpDist = rt
	}

	p := &signal.TradeProposal{
		Direction: dir,
		Note:      fmt.Sprintf("macd=%.4f rsi=%.1f atr=%.2f%%", macd, rsi, atrPct),
	}
	if dir == signal.Long {
		p.TakeProfit = price * (1 + tpDist/100)
		p.StopLoss = price * (1 - slDist/100)
	} else {
		p.TakeProfit = price * (1 - tpDist/100)
		p.StopLoss = price * (1 + slDist/100)
	}
	return p, nil
}

func clamp(v, lo, hi float64) float64 {
	if lo > 0 && v < lo {
		return lo
	}
	if hi > 0 && v > hi {
		return hi
	}
	return v
}
