package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"vigil/internal/config"
	"vigil/internal/signal"
)

// RunModel 是一次回测运行的落库记录。
type RunModel struct {
	ID            string         `gorm:"column:id;primaryKey"`
	Strategy      string         `gorm:"column:strategy"`
	Symbols       string         `gorm:"column:symbols"`
	Status        string         `gorm:"column:status"`
	ConfigJSON    datatypes.JSON `gorm:"column:config_json;type:TEXT"`
	Trades        int            `gorm:"column:trades"`
	Wins          int            `gorm:"column:wins"`
	TotalPnLPct   float64        `gorm:"column:total_pnl_pct"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (RunModel) TableName() string { return "backtest_runs" }

// ClosedTradeModel 记录一笔已了结的信号（平仓或挂单取消）。
type ClosedTradeModel struct {
	ID          int64          `gorm:"column:id;primaryKey;autoIncrement"`
	RunID       string         `gorm:"column:run_id;index"`
	SignalID    string         `gorm:"column:signal_id"`
	Strategy    string         `gorm:"column:strategy"`
	Symbol      string         `gorm:"column:symbol"`
	Direction   string         `gorm:"column:direction"`
	Outcome     string         `gorm:"column:outcome"`
	Reason      string         `gorm:"column:reason"`
	EntryPrice  float64        `gorm:"column:entry_price"`
	ExitPrice   float64        `gorm:"column:exit_price"`
	PnL         float64        `gorm:"column:pnl"`
	PnLPct      float64        `gorm:"column:pnl_pct"`
	HeldSeconds int64          `gorm:"column:held_seconds"`
	PayloadJSON datatypes.JSON `gorm:"column:payload_json;type:TEXT"`
	ClosedAt    int64          `gorm:"column:closed_at"`
}

func (ClosedTradeModel) TableName() string { return "backtest_trades" }

// EquityPointModel 是权益曲线上的一个采样点，每笔了结后记一次。
type EquityPointModel struct {
	ID      int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RunID   string  `gorm:"column:run_id;index"`
	At      int64   `gorm:"column:at"`
	Balance float64 `gorm:"column:balance"`
}

func (EquityPointModel) TableName() string { return "backtest_equity" }

// Summary 是一次运行的聚合统计。
type Summary struct {
	RunID          string  `json:"run_id"`
	Trades         int     `json:"trades"`
	Wins           int     `json:"wins"`
	WinRate        float64 `json:"win_rate"`
	TotalPnLPct    float64 `json:"total_pnl_pct"`
	FinalBalance   float64 `json:"final_balance"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
}

// Store 把回测产出写进 sqlite，事后可复盘。
type Store struct {
	db *gorm.DB
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("results path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&RunModel{}, &ClosedTradeModel{}, &EquityPointModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// StartRun 登记一次新回测并返回 run id。
func (s *Store) StartRun(strategy string, symbols []string, cfg config.TradingConfig) (string, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	now := time.Now().Unix()
	run := RunModel{
		ID:            uuid.NewString(),
		Strategy:      strategy,
		Symbols:       strings.Join(symbols, ","),
		Status:        "running",
		ConfigJSON:    cfgJSON,
		CreatedAtUnix: now,
		UpdatedAtUnix: now,
	}
	if err := s.db.Create(&run).Error; err != nil {
		return "", err
	}
	return run.ID, nil
}

// RecordClosed 记录一笔平仓并累计运行统计。
func (s *Store) RecordClosed(runID string, key signal.Key, closed signal.Closed) error {
	payload, err := json.Marshal(closed)
	if err != nil {
		return err
	}
	trade := ClosedTradeModel{
		RunID:       runID,
		SignalID:    closed.Signal.ID,
		Strategy:    key.Strategy,
		Symbol:      key.Symbol,
		Direction:   string(closed.Signal.Direction),
		Outcome:     "closed",
		Reason:      string(closed.Reason),
		EntryPrice:  closed.Signal.EntryPrice,
		ExitPrice:   closed.ExitPrice,
		PnL:         closed.PnL,
		PnLPct:      closed.PnLPct,
		HeldSeconds: int64(closed.Held.Seconds()),
		PayloadJSON: payload,
		ClosedAt:    time.Now().Unix(),
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&trade).Error; err != nil {
			return err
		}
		updates := map[string]any{
			"trades":        gorm.Expr("trades + 1"),
			"total_pnl_pct": gorm.Expr("total_pnl_pct + ?", closed.PnLPct),
			"updated_at":    time.Now().Unix(),
		}
		if closed.PnL > 0 {
			updates["wins"] = gorm.Expr("wins + 1")
		}
		return tx.Model(&RunModel{}).Where("id = ?", runID).Updates(updates).Error
	})
}

// RecordCancelled 记录一笔未成交即取消的挂单。
func (s *Store) RecordCancelled(runID string, key signal.Key, cancelled signal.Cancelled) error {
	payload, err := json.Marshal(cancelled)
	if err != nil {
		return err
	}
	trade := ClosedTradeModel{
		RunID:       runID,
		SignalID:    cancelled.Signal.ID,
		Strategy:    key.Strategy,
		Symbol:      key.Symbol,
		Direction:   string(cancelled.Signal.Direction),
		Outcome:     "cancelled",
		Reason:      string(cancelled.Reason),
		EntryPrice:  cancelled.Signal.EntryPrice,
		PayloadJSON: payload,
		ClosedAt:    time.Now().Unix(),
	}
	return s.db.Create(&trade).Error
}

// RecordEquity 追加一个权益采样点。
func (s *Store) RecordEquity(runID string, at time.Time, balance float64) error {
	return s.db.Create(&EquityPointModel{
		RunID:   runID,
		At:      at.UnixMilli(),
		Balance: balance,
	}).Error
}

// EquityFor 按记录顺序返回一次运行的权益曲线。
func (s *Store) EquityFor(runID string) ([]EquityPointModel, error) {
	var points []EquityPointModel
	err := s.db.Where("run_id = ?", runID).Order("id ASC").Find(&points).Error
	return points, err
}

// FinishRun 收尾并返回聚合统计。
func (s *Store) FinishRun(runID string) (Summary, error) {
	now := time.Now().Unix()
	if err := s.db.Model(&RunModel{}).Where("id = ?", runID).
		Updates(map[string]any{"status": "done", "updated_at": now}).Error; err != nil {
		return Summary{}, err
	}
	return s.Summarize(runID)
}

// Summarize 读取一次运行的统计。
func (s *Store) Summarize(runID string) (Summary, error) {
	var run RunModel
	if err := s.db.First(&run, "id = ?", runID).Error; err != nil {
		return Summary{}, err
	}
	sum := Summary{
		RunID:       run.ID,
		Trades:      run.Trades,
		Wins:        run.Wins,
		TotalPnLPct: run.TotalPnLPct,
	}
	if run.Trades > 0 {
		sum.WinRate = float64(run.Wins) / float64(run.Trades) * 100
	}
	points, err := s.EquityFor(runID)
	if err != nil {
		return Summary{}, err
	}
	sum.FinalBalance, sum.MaxDrawdownPct = equityStats(points)
	return sum, nil
}

// equityStats 从权益曲线计算最终余额与最大回撤（相对前高的最大跌幅）。
func equityStats(points []EquityPointModel) (final, maxDrawdownPct float64) {
	if len(points) == 0 {
		return 0, 0
	}
	peak := points[0].Balance
	for _, p := range points {
		if p.Balance > peak {
			peak = p.Balance
		}
		if peak > 0 {
			if dd := (peak - p.Balance) / peak * 100; dd > maxDrawdownPct {
				maxDrawdownPct = dd
			}
		}
	}
	return points[len(points)-1].Balance, maxDrawdownPct
}

// TradesFor 按时间顺序返回一次运行的全部成交记录。
func (s *Store) TradesFor(runID string) ([]ClosedTradeModel, error) {
	var trades []ClosedTradeModel
	err := s.db.Where("run_id = ?", runID).Order("id ASC").Find(&trades).Error
	return trades, err
}
