package notifier

import (
	"context"
	"fmt"
	"time"

	"vigil/internal/bus"
	"vigil/internal/logger"
	"vigil/internal/signal"
)

// Sender 是底层推送通道（Telegram 等）。
type Sender interface {
	SendText(text string) error
}

// Notifier 订阅事件流，把关键迁移翻译成人话推出去。
// active 心跳事件不推送，只推开/平/挂/撤与风险事件。
type Notifier struct {
	sender Sender
}

func New(sender Sender) *Notifier {
	return &Notifier{sender: sender}
}

// Run 消费订阅通道直到 ctx 结束或通道关闭。
func (n *Notifier) Run(ctx context.Context, events <-chan bus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			text := Format(ev)
			if text == "" {
				continue
			}
			if err := n.sender.SendText(text); err != nil {
				logger.Warnf("notifier: sending %s event for %s: %v", ev.Kind, ev.Key, err)
			}
		}
	}
}

// Format 把事件渲染成消息文本，不值得推送的事件返回空串。
func Format(ev bus.Event) string {
	if ev.Risk != "" {
		return fmt.Sprintf("⚠️ *%s* 提案被拒\n%s", ev.Key, ev.Risk)
	}
	switch res := ev.Result.(type) {
	case signal.Scheduled:
		if !res.Created {
			return ""
		}
		return fmt.Sprintf("⏳ *%s* 挂单 %s\n进场 %.4f 止盈 %.4f 止损 %.4f",
			ev.Key, res.Signal.Direction, res.Signal.EntryPrice, res.Signal.TakeProfit, res.Signal.StopLoss)
	case signal.Opened:
		verb := "开仓"
		if res.Restored {
			verb = "恢复持仓"
		}
		return fmt.Sprintf("🟢 *%s* %s %s @ %.4f\n止盈 %.4f 止损 %.4f",
			ev.Key, verb, res.Signal.Direction, res.Signal.EntryPrice, res.Signal.TakeProfit, res.Signal.StopLoss)
	case signal.Closed:
		emoji := "✅"
		if res.PnL < 0 {
			emoji = "🔴"
		}
		return fmt.Sprintf("%s *%s* 平仓 (%s) @ %.4f\n收益 %.2f%% 持仓 %s",
			emoji, ev.Key, res.Reason, res.ExitPrice, res.PnLPct, res.Held.Round(time.Second))
	case signal.Cancelled:
		return fmt.Sprintf("🚫 *%s* 挂单取消 (%s)", ev.Key, res.Reason)
	default:
		return ""
	}
}
