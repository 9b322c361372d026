package signal

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

func (d Direction) Valid() bool {
	return d == Long || d == Short
}

// ParseDirection 归一化方向字符串。
func ParseDirection(raw string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "long", "buy":
		return Long, nil
	case "short", "sell":
		return Short, nil
	default:
		return "", fmt.Errorf("unknown direction %q", raw)
	}
}

// CloseReason 标记持仓被关闭的原因，优先级固定：过期 > 止盈 > 止损。
type CloseReason string

const (
	CloseTimeExpired CloseReason = "time_expired"
	CloseTakeProfit  CloseReason = "take_profit"
	CloseStopLoss    CloseReason = "stop_loss"
)

// CancelReason 标记挂单被废弃的原因。
type CancelReason string

const (
	CancelTimeout           CancelReason = "timeout"
	CancelStopBreached      CancelReason = "stop_breached_before_entry"
	CancelAdmissionRejected CancelReason = "admission_rejected"
)

// Key 唯一标识一个 Engine 实例：每个（策略，交易对）最多持有一个在途信号。
type Key struct {
	Strategy string
	Symbol   string
}

func (k Key) String() string {
	return k.Strategy + ":" + k.Symbol
}

func (k Key) Valid() bool {
	return strings.TrimSpace(k.Strategy) != "" && strings.TrimSpace(k.Symbol) != ""
}

// TradeProposal 是策略产出的开仓意向，经校验与准入后才会落为 Signal。
// EntryPrice 为 nil 表示按当前参考价立即进场。
type TradeProposal struct {
	Direction   Direction     `json:"direction"`
	EntryPrice  *float64      `json:"entry_price,omitempty"`
	TakeProfit  float64       `json:"take_profit"`
	StopLoss    float64       `json:"stop_loss"`
	MaxLifetime time.Duration `json:"max_lifetime"`
	Note        string        `json:"note,omitempty"`
}

// Signal 是一笔已提交交易的持久化记录。
// 不变量：long 时 StopLoss < EntryPrice < TakeProfit，short 反向；价格均为有限正数。
type Signal struct {
	ID       string `json:"id"`
	Strategy string `json:"strategy"`
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`

	Direction Direction `json:"direction"`

	EntryPrice     float64 `json:"entry_price"`
	OrigEntryPrice float64 `json:"orig_entry_price,omitempty"`
	TakeProfit     float64 `json:"take_profit"`
	OrigTakeProfit float64 `json:"orig_take_profit"`
	StopLoss       float64 `json:"stop_loss"`
	OrigStopLoss   float64 `json:"orig_stop_loss"`

	CreatedAt   time.Time     `json:"created_at"`
	ScheduledAt time.Time     `json:"scheduled_at,omitempty"`
	ActivatedAt time.Time     `json:"activated_at,omitempty"`
	MaxLifetime time.Duration `json:"max_lifetime"`

	Scheduled bool   `json:"scheduled"`
	Note      string `json:"note,omitempty"`
}

// CheckInvariant 校验方向性价格排序与数值合法性。
// 对已通过校验的数据再次失败属于致命错误。
func (s *Signal) CheckInvariant() error {
	if s == nil {
		return fmt.Errorf("signal is nil")
	}
	for name, v := range map[string]float64{
		"entry_price": s.EntryPrice,
		"take_profit": s.TakeProfit,
		"stop_loss":   s.StopLoss,
	} {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("signal %s: %s %.8f is not a positive finite number", s.ID, name, v)
		}
	}
	switch s.Direction {
	case Long:
		if !(s.StopLoss < s.EntryPrice && s.EntryPrice < s.TakeProfit) {
			return fmt.Errorf("signal %s: long requires stop %.8f < entry %.8f < tp %.8f",
				s.ID, s.StopLoss, s.EntryPrice, s.TakeProfit)
		}
	case Short:
		if !(s.TakeProfit < s.EntryPrice && s.EntryPrice < s.StopLoss) {
			return fmt.Errorf("signal %s: short requires tp %.8f < entry %.8f < stop %.8f",
				s.ID, s.TakeProfit, s.EntryPrice, s.StopLoss)
		}
	default:
		return fmt.Errorf("signal %s: invalid direction %q", s.ID, s.Direction)
	}
	return nil
}

// Clone 返回深拷贝；Signal 仅含值字段，浅拷贝即深拷贝。
func (s *Signal) Clone() *Signal {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
