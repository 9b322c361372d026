package market

import (
	"context"
	"fmt"
	"sort"
	"time"

	"vigil/internal/config"
	"vigil/internal/logger"
)

// Oracle 在 Source 之上提供监控用参考价。
// 参考价是尾部窗口（默认 5 根 1m K 线）的成交量加权均价，
// 以平滑单根 K 线的噪声；窗口总量为零时退化为收盘价简单均值。
type Oracle struct {
	src      Source
	cfg      config.Provider
	interval string
	nowFn    func() time.Time
}

func NewOracle(src Source, cfg config.Provider, interval string) *Oracle {
	if interval == "" {
		interval = "1m"
	}
	return &Oracle{src: src, cfg: cfg, interval: interval, nowFn: time.Now}
}

// ReferencePrice 返回 symbol 当前的参考价。零条 K 线视为致命错误。
func (o *Oracle) ReferencePrice(ctx context.Context, symbol string) (float64, error) {
	cfg := o.cfg.Trading()
	bars, err := o.src.GetKlines(ctx, symbol, o.interval, 0, cfg.VWAPWindowBars)
	if err != nil {
		return 0, fmt.Errorf("reference price %s: %w", symbol, err)
	}
	bars = dropAnomalies(bars, cfg.AnomalyThresholdPct, cfg.AnomalyMinSamples)
	return VWAP(bars)
}

// WindowPrice 对一段已有 K 线按配置窗口取尾部参考价，fast-forward 逐根推进时复用。
// upto 是窗口的结束下标（含）。
func (o *Oracle) WindowPrice(bars []Candle, upto int) (float64, error) {
	cfg := o.cfg.Trading()
	if upto < 0 || upto >= len(bars) {
		return 0, fmt.Errorf("window index %d out of range (%d bars)", upto, len(bars))
	}
	start := upto - cfg.VWAPWindowBars + 1
	if start < 0 {
		start = 0
	}
	window := dropAnomalies(bars[start:upto+1], cfg.AnomalyThresholdPct, cfg.AnomalyMinSamples)
	return VWAP(window)
}

// BarsFrom 为回测 fast-forward 预取一批"从 since 开始"的 K 线。
// 任何收盘时间晚于当前时刻的 K 线都会被丢弃，确保不会把未来数据喂给引擎。
func (o *Oracle) BarsFrom(ctx context.Context, symbol string, since int64, limit int) ([]Candle, error) {
	bars, err := o.src.GetKlines(ctx, symbol, o.interval, since, limit)
	if err != nil {
		return nil, err
	}
	nowMs := o.nowFn().UnixMilli()
	out := bars[:0:len(bars)]
	for _, b := range bars {
		if !b.ClosedBy(nowMs) {
			logger.Debugf("dropping unclosed bar %s close_time=%d", symbol, b.CloseTime)
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// VWAP 计算一组 K 线的成交量加权均价。
func VWAP(bars []Candle) (float64, error) {
	if len(bars) == 0 {
		return 0, fmt.Errorf("vwap: no bars")
	}
	var pv, vol float64
	for _, b := range bars {
		pv += b.Typical() * b.Volume
		vol += b.Volume
	}
	if vol > 0 {
		return pv / vol, nil
	}
	// 零成交量窗口：退化为收盘价简单均值
	var sum float64
	for _, b := range bars {
		sum += b.Close
	}
	return sum / float64(len(bars)), nil
}

// dropAnomalies 丢弃与窗口中位数偏离超过阈值的样本。
// 样本不足 minSamples 时不做过滤，避免小窗口误杀。
func dropAnomalies(bars []Candle, thresholdPct float64, minSamples int) []Candle {
	if thresholdPct <= 0 || len(bars) < minSamples || minSamples <= 0 {
		return bars
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	sort.Float64s(closes)
	median := closes[len(closes)/2]
	if len(closes)%2 == 0 {
		median = (closes[len(closes)/2-1] + closes[len(closes)/2]) / 2
	}
	if median <= 0 {
		return bars
	}
	out := bars[:0:len(bars)]
	for _, b := range bars {
		dev := (b.Close - median) / median * 100
		if dev < 0 {
			dev = -dev
		}
		if dev > thresholdPct {
			logger.Debugf("dropping anomalous close %.6f (median %.6f, dev %.2f%%)", b.Close, median, dev)
			continue
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return bars
	}
	return out
}
