package market

import (
	"context"
	"fmt"
	"sort"
)

// Source 提供历史 K 线。since<=0 表示"截止到现在"取最近 limit 条。
type Source interface {
	GetKlines(ctx context.Context, symbol, interval string, since int64, limit int) ([]Candle, error)
}

// SliceSource 用内存中的 K 线实现 Source，供回测与测试使用。
// 设置 cutoff 后，收盘时间晚于 cutoff 的 K 线对读取不可见，
// 回测驱动器借此把"现在"钉在历史时间轴上逐步放行数据。
type SliceSource struct {
	bars   map[string][]Candle
	cutoff int64
}

func NewSliceSource() *SliceSource {
	return &SliceSource{bars: make(map[string][]Candle)}
}

func (s *SliceSource) Put(symbol string, bars []Candle) {
	sorted := append([]Candle(nil), bars...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OpenTime < sorted[j].OpenTime })
	s.bars[symbol] = sorted
}

// SetCutoff 把可见数据截止到 ts（毫秒，含）。ts<=0 取消截止。
func (s *SliceSource) SetCutoff(ts int64) { s.cutoff = ts }

func (s *SliceSource) GetKlines(_ context.Context, symbol, _ string, since int64, limit int) ([]Candle, error) {
	all, ok := s.bars[symbol]
	if !ok {
		return nil, fmt.Errorf("no bars loaded for %s", symbol)
	}
	if s.cutoff > 0 {
		idx := sort.Search(len(all), func(i int) bool { return all[i].CloseTime > s.cutoff })
		all = all[:idx]
	}
	if limit <= 0 {
		limit = len(all)
	}
	if since > 0 {
		idx := sort.Search(len(all), func(i int) bool { return all[i].OpenTime >= since })
		out := all[idx:]
		if len(out) > limit {
			out = out[:limit]
		}
		return out, nil
	}
	if len(all) > limit {
		return all[len(all)-limit:], nil
	}
	return all, nil
}
