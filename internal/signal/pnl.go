package signal

import (
	"math"

	"github.com/shopspring/decimal"
)

var decOne = decimal.NewFromInt(1)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

func decimalCompare(a, b float64) int {
	return decFromFloat(a).Cmp(decFromFloat(b))
}

func decimalLTE(a, b float64) bool { return decimalCompare(a, b) <= 0 }
func decimalGTE(a, b float64) bool { return decimalCompare(a, b) >= 0 }

// takeProfitHit 判断参考价是否已触及止盈。
func takeProfitHit(dir Direction, price, tp float64) bool {
	if price <= 0 || tp <= 0 {
		return false
	}
	if dir == Short {
		return decimalLTE(price, tp)
	}
	return decimalGTE(price, tp)
}

// stopLossHit 判断参考价是否已触及止损。
func stopLossHit(dir Direction, price, sl float64) bool {
	if price <= 0 || sl <= 0 {
		return false
	}
	if dir == Short {
		return decimalGTE(price, sl)
	}
	return decimalLTE(price, sl)
}

// Realized 计算平仓的单位名义盈亏与百分比。
// 费率与滑点各在进出场收取一次：long 以 entry*(1+c) 买入、exit*(1-c) 卖出。
func Realized(dir Direction, entry, exit, feePct, slipPct float64) (pnl, pnlPct float64) {
	if entry <= 0 || exit <= 0 {
		return 0, 0
	}
	cost := decFromFloat((feePct + slipPct) / 100)
	entryDec := decFromFloat(entry)
	exitDec := decFromFloat(exit)

	var in, out decimal.Decimal
	switch dir {
	case Short:
		in = entryDec.Mul(decOne.Sub(cost))  // 开空的卖出所得
		out = exitDec.Mul(decOne.Add(cost))  // 平空的买回成本
		pnl = decToFloat(in.Sub(out))
		if basis := decToFloat(in); basis != 0 {
			pnlPct = pnl / basis * 100
		}
	default:
		in = entryDec.Mul(decOne.Add(cost))  // 开多的买入成本
		out = exitDec.Mul(decOne.Sub(cost))  // 平多的卖出所得
		pnl = decToFloat(out.Sub(in))
		if basis := decToFloat(in); basis != 0 {
			pnlPct = pnl / basis * 100
		}
	}
	return pnl, pnlPct
}

// progress 返回当前价向止盈/止损方向各自走过的比例（百分比，可为负）。
func progress(dir Direction, entry, price, tp, sl float64) (tpProgress, slProgress float64) {
	if entry <= 0 || price <= 0 {
		return 0, 0
	}
	var toTP, toSL float64
	if dir == Short {
		toTP = entry - tp
		toSL = sl - entry
		if toTP > 0 {
			tpProgress = (entry - price) / toTP * 100
		}
		if toSL > 0 {
			slProgress = (price - entry) / toSL * 100
		}
		return tpProgress, slProgress
	}
	toTP = tp - entry
	toSL = entry - sl
	if toTP > 0 {
		tpProgress = (price - entry) / toTP * 100
	}
	if toSL > 0 {
		slProgress = (entry - price) / toSL * 100
	}
	return tpProgress, slProgress
}
