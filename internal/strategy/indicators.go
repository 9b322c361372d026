package strategy

import "vigil/internal/market"

// 中文说明：
// 技术指标计算：EMA、MACD、RSI、ATR。
// 输入为时间升序序列，返回最新值。

// EMA 计算最近值（period>0 且 len(prices)>=period）。
func EMA(prices []float64, period int) float64 {
	n := len(prices)
	if period <= 0 || n < period {
		return 0
	}
	// 初始值为SMA
	ema := 0.0
	for i := n - period; i < n; i++ {
		ema += prices[i]
	}
	ema /= float64(period)
	k := 2.0 / float64(period+1)
	for i := n - period + 1; i < n; i++ {
		ema = (prices[i]-ema)*k + ema
	}
	return ema
}

// MACD = EMA12 - EMA26（不含信号线），基于输入序列的最近值
func MACD(prices []float64) float64 {
	if len(prices) < 26 {
		return 0
	}
	return EMA(prices, 12) - EMA(prices, 26)
}

// RSI（Wilder）
func RSI(prices []float64, period int) float64 {
	n := len(prices)
	if period <= 0 || n <= period {
		return 0
	}
	gains := 0.0
	losses := 0.0
	for i := n - period; i < n; i++ {
		diff := prices[i] - prices[i-1]
		if diff > 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}
	if losses == 0 {
		return 100
	}
	rs := gains / losses
	rsi := 100 - 100/(1+rs)
	return rsi
}

// ATR 真实波幅均值（简单均值而非 Wilder 平滑）
func ATR(bars []market.Candle, period int) float64 {
	n := len(bars)
	if period <= 0 || n < period+1 {
		return 0
	}
	sum := 0.0
	for i := n - period; i < n; i++ {
		tr := bars[i].High - bars[i].Low
		if hc := abs(bars[i].High - bars[i-1].Close); hc > tr {
			tr = hc
		}
		if lc := abs(bars[i].Low - bars[i-1].Close); lc > tr {
			tr = lc
		}
		sum += tr
	}
	return sum / float64(period)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
