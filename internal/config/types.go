package config

import (
	"strings"
	"time"
)

// Config 是 vigil 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Market   MarketConfig   `toml:"market"`
	Trading  TradingConfig  `toml:"trading"`
	Store    StoreConfig    `toml:"store"`
	Bus      BusConfig      `toml:"bus"`
	Notify   NotifyConfig   `toml:"notify"`
	Backtest BacktestConfig `toml:"backtest"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// MarketConfig 描述行情来源（Price Oracle 后端）。
type MarketConfig struct {
	Exchange       string   `toml:"exchange"`
	RESTBaseURL    string   `toml:"rest_base_url"`
	Symbols        []string `toml:"symbols"`
	Interval       string   `toml:"interval"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	RetryMax       int      `toml:"retry_max"`
}

// TradingConfig 汇集信号校验与监控的全部运行期阈值。
// 每个 Engine 实例在构造时注入一份 Provider，测试可并行使用独立配置。
type TradingConfig struct {
	Strategy string `toml:"strategy"`

	MinStopDistancePct       float64 `toml:"min_stop_distance_pct"`
	MaxStopDistancePct       float64 `toml:"max_stop_distance_pct"`
	MinTakeProfitDistancePct float64 `toml:"min_take_profit_distance_pct"`
	MaxLifetimeMinutes       int     `toml:"max_lifetime_minutes"`
	ScheduledWaitMinutes     int     `toml:"scheduled_wait_minutes"`

	VWAPWindowBars int     `toml:"vwap_window_bars"`
	FeePct         float64 `toml:"fee_pct"`
	SlippagePct    float64 `toml:"slippage_pct"`

	AnomalyThresholdPct float64 `toml:"anomaly_threshold_pct"`
	AnomalyMinSamples   int     `toml:"anomaly_min_samples"`

	GenerateIntervalSeconds int `toml:"generate_interval_seconds"`
	GenerateTimeoutSeconds  int `toml:"generate_timeout_seconds"`
	MaxOpenPositions        int `toml:"max_open_positions"`
}

func (t TradingConfig) MaxLifetime() time.Duration {
	return time.Duration(t.MaxLifetimeMinutes) * time.Minute
}

func (t TradingConfig) ScheduledWait() time.Duration {
	return time.Duration(t.ScheduledWaitMinutes) * time.Minute
}

func (t TradingConfig) GenerateInterval() time.Duration {
	return time.Duration(t.GenerateIntervalSeconds) * time.Second
}

func (t TradingConfig) GenerateTimeout() time.Duration {
	return time.Duration(t.GenerateTimeoutSeconds) * time.Second
}

// StoreConfig 控制持久化后端（file | sqlite）。
type StoreConfig struct {
	Backend string `toml:"backend"`
	Dir     string `toml:"dir"`
	DBPath  string `toml:"db_path"`
}

type BusConfig struct {
	QueueSize int         `toml:"queue_size"`
	Kafka     KafkaConfig `toml:"kafka"`
}

type KafkaConfig struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled        bool   `toml:"enabled"`
	BotToken       string `toml:"bot_token"`
	ChatID         string `toml:"chat_id"`
	APIBaseURL     string `toml:"api_base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	RetryMax       int    `toml:"retry_max"`
}

type BacktestConfig struct {
	ResultsPath    string  `toml:"results_path"`
	InitialBalance float64 `toml:"initial_balance"`
}

// Provider 向 Engine 暴露当前生效的交易阈值快照。
// Manager 实现热更新版本，Static 用于测试与回测的固定配置。
type Provider interface {
	Trading() TradingConfig
}

// Static 是不变的 Provider。
type Static TradingConfig

func (s Static) Trading() TradingConfig { return TradingConfig(s) }

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
