package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/config"
)

func mkBars(start time.Time, closes ...float64) []Candle {
	bars := make([]Candle, len(closes))
	for i, c := range closes {
		ts := start.Add(time.Duration(i) * time.Minute)
		bars[i] = Candle{
			OpenTime:  ts.UnixMilli(),
			CloseTime: ts.Add(time.Minute).UnixMilli(),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1,
		}
	}
	return bars
}

func oracleCfg() config.Static {
	return config.Static(config.TradingConfig{
		VWAPWindowBars:      3,
		AnomalyThresholdPct: 20.0,
		AnomalyMinSamples:   3,
	})
}

func TestVWAP_VolumeWeighted(t *testing.T) {
	bars := []Candle{
		{High: 100, Low: 100, Close: 100, Volume: 3},
		{High: 200, Low: 200, Close: 200, Volume: 1},
	}
	got, err := VWAP(bars)
	require.NoError(t, err)
	assert.InDelta(t, 125.0, got, 1e-9)
}

func TestVWAP_TypicalPricePerBar(t *testing.T) {
	// 典型价 (H+L+C)/3 = (120+90+105)/3 = 105
	bars := []Candle{{High: 120, Low: 90, Close: 105, Volume: 2}}
	got, err := VWAP(bars)
	require.NoError(t, err)
	assert.InDelta(t, 105.0, got, 1e-9)
}

func TestVWAP_ZeroVolumeFallsBackToMeanClose(t *testing.T) {
	bars := []Candle{
		{High: 100, Low: 100, Close: 100},
		{High: 110, Low: 110, Close: 110},
	}
	got, err := VWAP(bars)
	require.NoError(t, err)
	assert.InDelta(t, 105.0, got, 1e-9)
}

func TestVWAP_EmptyFails(t *testing.T) {
	_, err := VWAP(nil)
	require.Error(t, err)
}

func TestOracle_ReferencePriceUsesTailWindow(t *testing.T) {
	src := NewSliceSource()
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	src.Put("BTCUSDT", mkBars(start, 100, 100, 100, 200, 200, 200))

	o := NewOracle(src, oracleCfg(), "1m")
	got, err := o.ReferencePrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	// 窗口 3 根，只看尾部的 200
	assert.InDelta(t, 200.0, got, 1e-9)
}

func TestOracle_ReferencePriceDropsAnomalies(t *testing.T) {
	src := NewSliceSource()
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	// 中间一根偏离中位数 100%，应被剔除
	src.Put("BTCUSDT", mkBars(start, 100, 200, 100))

	o := NewOracle(src, oracleCfg(), "1m")
	got, err := o.ReferencePrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, got, 1e-9)
}

func TestOracle_WindowPrice(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	bars := mkBars(start, 100, 110, 120, 130)

	o := NewOracle(NewSliceSource(), oracleCfg(), "1m")
	got, err := o.WindowPrice(bars, 3)
	require.NoError(t, err)
	assert.InDelta(t, 120.0, got, 1e-9) // (110+120+130)/3

	_, err = o.WindowPrice(bars, 4)
	require.Error(t, err)
	_, err = o.WindowPrice(bars, -1)
	require.Error(t, err)
}

func TestOracle_BarsFromDropsUnclosed(t *testing.T) {
	src := NewSliceSource()
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	bars := mkBars(start, 100, 110, 120)
	src.Put("BTCUSDT", bars)

	o := NewOracle(src, oracleCfg(), "1m")
	// 把"现在"钉在第二根收盘时刻，第三根尚未收盘
	o.nowFn = func() time.Time { return start.Add(2 * time.Minute) }

	got, err := o.BarsFrom(context.Background(), "BTCUSDT", 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, bars[1].CloseTime, got[1].CloseTime)
}

func TestSliceSource_SinceAndLimit(t *testing.T) {
	src := NewSliceSource()
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	bars := mkBars(start, 1, 2, 3, 4, 5)
	src.Put("BTCUSDT", bars)

	got, err := src.GetKlines(context.Background(), "BTCUSDT", "1m", 0, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 4.0, got[0].Close)

	got, err = src.GetKlines(context.Background(), "BTCUSDT", "1m", bars[2].OpenTime, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 3.0, got[0].Close)

	_, err = src.GetKlines(context.Background(), "NOPE", "1m", 0, 10)
	require.Error(t, err)
}

func TestSliceSource_CutoffHidesFutureBars(t *testing.T) {
	src := NewSliceSource()
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	bars := mkBars(start, 1, 2, 3, 4, 5)
	src.Put("BTCUSDT", bars)

	src.SetCutoff(bars[1].CloseTime)
	got, err := src.GetKlines(context.Background(), "BTCUSDT", "1m", 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2.0, got[1].Close)

	src.SetCutoff(0)
	got, err = src.GetKlines(context.Background(), "BTCUSDT", "1m", 0, 10)
	require.NoError(t, err)
	assert.Len(t, got, 5)
}
