package scheduler

import (
	"context"
	"time"
)

// Ticks 返回一个对齐到 K 线收盘的 tick 通道。
// 第一次 tick 落在下一根 K 线收盘后 offset 处，之后以 interval 为步长、
// 锚定在第一次 tick 上等距触发。align <= 0 时退化为普通的固定间隔。
// ctx 取消后通道关闭。
func Ticks(ctx context.Context, align, interval, offset time.Duration) <-chan time.Time {
	out := make(chan time.Time, 1)
	if interval <= 0 {
		interval = time.Second
	}
	if offset < 0 {
		offset = 0
	}
	go func() {
		defer close(out)
		now := time.Now().UTC()
		var anchor time.Time
		if align > 0 {
			anchor = now.Truncate(align).Add(align).Add(offset)
		} else {
			anchor = now.Add(interval)
		}
		next := anchor
		for {
			if !sleepUntil(ctx, next) {
				return
			}
			select {
			case out <- next:
			default:
				// 消费方还没取走上一个 tick，跳过本次
			}
			next = nextAfter(anchor, interval, time.Now().UTC())
		}
	}()
	return out
}

func sleepUntil(ctx context.Context, target time.Time) bool {
	wait := time.Until(target)
	if wait <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// nextAfter 返回 anchor + k*interval 中第一个晚于 now 的时刻。
func nextAfter(anchor time.Time, interval time.Duration, now time.Time) time.Time {
	if interval <= 0 {
		return now
	}
	delta := now.Sub(anchor)
	if delta < 0 {
		return anchor
	}
	k := delta / interval
	return anchor.Add((k + 1) * interval)
}
