package signal

import "time"

// Kind 枚举一次评估可能的六种结果。
type Kind int

const (
	KindIdle Kind = iota
	KindScheduled
	KindOpened
	KindActive
	KindClosed
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindIdle:
		return "idle"
	case KindScheduled:
		return "scheduled"
	case KindOpened:
		return "opened"
	case KindActive:
		return "active"
	case KindClosed:
		return "closed"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result 是一次 tick/fastForward 评估结果的封闭联合类型。
// 每个变体携带自己的载荷，sealed 保证包外无法新增变体。
type Result interface {
	Kind() Kind
	sealed()
}

// Idle 无持仓且本轮未产生动作。
type Idle struct{}

func (Idle) Kind() Kind { return KindIdle }
func (Idle) sealed()    {}

// Scheduled 挂单已创建（Created=true）或仍在等待进场价。
type Scheduled struct {
	Signal  Signal `json:"signal"`
	Created bool   `json:"created"`
}

func (Scheduled) Kind() Kind { return KindScheduled }
func (Scheduled) sealed()    {}

// Opened 持仓刚刚建立；Restored=true 表示来自重启恢复。
type Opened struct {
	Signal   Signal `json:"signal"`
	Restored bool   `json:"restored,omitempty"`
}

func (Opened) Kind() Kind { return KindOpened }
func (Opened) sealed()    {}

// Active 持仓仍在监控中，携带距止盈/止损的进度百分比。
type Active struct {
	Signal             Signal  `json:"signal"`
	Price              float64 `json:"price"`
	TakeProfitProgress float64 `json:"take_profit_progress"`
	StopLossProgress   float64 `json:"stop_loss_progress"`
}

func (Active) Kind() Kind { return KindActive }
func (Active) sealed()    {}

// Closed 持仓已退出。
type Closed struct {
	Signal    Signal        `json:"signal"`
	Reason    CloseReason   `json:"reason"`
	ExitPrice float64       `json:"exit_price"`
	PnL       float64       `json:"pnl"`
	PnLPct    float64       `json:"pnl_pct"`
	Held      time.Duration `json:"held"`
}

func (Closed) Kind() Kind { return KindClosed }
func (Closed) sealed()    {}

// Cancelled 挂单被废弃。
type Cancelled struct {
	Signal Signal       `json:"signal"`
	Reason CancelReason `json:"reason"`
}

func (Cancelled) Kind() Kind { return KindCancelled }
func (Cancelled) sealed()    {}
