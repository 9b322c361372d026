package signal

import (
	"math"

	"vigil/internal/config"
)

// Validate 按固定顺序检查提案，返回第一个不通过项。
// 纯函数：所有阈值来自传入的配置快照，结果只依赖参数。
// scheduled=true 时以提案的进场价为基准，否则以当前参考价为基准。
func Validate(p TradeProposal, currentPrice float64, scheduled bool, cfg config.TradingConfig) error {
	if !p.Direction.Valid() {
		return rejectf("direction", "missing or invalid direction %q", p.Direction)
	}
	if !positiveFinite(p.TakeProfit) {
		return rejectf("take_profit", "take profit %.8f must be a positive finite number", p.TakeProfit)
	}
	if !positiveFinite(p.StopLoss) {
		return rejectf("stop_loss", "stop loss %.8f must be a positive finite number", p.StopLoss)
	}
	if p.EntryPrice != nil && !positiveFinite(*p.EntryPrice) {
		return rejectf("entry_price", "entry price %.8f must be a positive finite number", *p.EntryPrice)
	}
	if !positiveFinite(currentPrice) {
		return rejectf("current_price", "current price %.8f must be a positive finite number", currentPrice)
	}
	if scheduled && p.EntryPrice == nil {
		return rejectf("entry_price", "scheduled proposal requires an entry price")
	}

	// 基准价：挂单用其进场价，立即单用当前参考价。
	// 排序检查对立即单同时保证了"当前价未越过止盈/止损"，
	// 避免开仓当轮即触发平仓的退化情形。
	entry := currentPrice
	if scheduled {
		entry = *p.EntryPrice
	}
	switch p.Direction {
	case Long:
		if !(p.StopLoss < entry && entry < p.TakeProfit) {
			if scheduled {
				return rejectf("ordering", "long entry %.8f must lie strictly between stop %.8f and tp %.8f",
					entry, p.StopLoss, p.TakeProfit)
			}
			return rejectf("ordering", "long requires stop %.8f < price %.8f < tp %.8f",
				p.StopLoss, entry, p.TakeProfit)
		}
	case Short:
		if !(p.TakeProfit < entry && entry < p.StopLoss) {
			if scheduled {
				return rejectf("ordering", "short entry %.8f must lie strictly between tp %.8f and stop %.8f",
					entry, p.TakeProfit, p.StopLoss)
			}
			return rejectf("ordering", "short requires tp %.8f < price %.8f < stop %.8f",
				p.TakeProfit, entry, p.StopLoss)
		}
	}

	tpDist := math.Abs(p.TakeProfit-entry) / entry * 100
	roundTrip := (cfg.FeePct + cfg.SlippagePct) * 2
	if tpDist < roundTrip {
		return rejectf("tp_distance", "tp distance %.4f%% does not cover round-trip cost %.4f%%", tpDist, roundTrip)
	}
	if tpDist < cfg.MinTakeProfitDistancePct {
		return rejectf("tp_distance", "tp distance %.4f%% below minimum %.4f%%", tpDist, cfg.MinTakeProfitDistancePct)
	}

	slDist := math.Abs(entry-p.StopLoss) / entry * 100
	if slDist < cfg.MinStopDistancePct {
		return rejectf("sl_distance", "stop distance %.4f%% below minimum %.4f%% (noise stop-out)", slDist, cfg.MinStopDistancePct)
	}
	if slDist > cfg.MaxStopDistancePct {
		return rejectf("sl_distance", "stop distance %.4f%% above maximum %.4f%% (catastrophic loss)", slDist, cfg.MaxStopDistancePct)
	}

	if p.MaxLifetime < 0 {
		return rejectf("lifetime", "negative lifetime %s", p.MaxLifetime)
	}
	if p.MaxLifetime > cfg.MaxLifetime() {
		return rejectf("lifetime", "lifetime %s exceeds bound %s", p.MaxLifetime, cfg.MaxLifetime())
	}
	return nil
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
