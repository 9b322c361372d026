package config

import "strings"

// 默认值常量
const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9983"

	defaultMarketExchange = "binance"
	defaultMarketREST     = "https://fapi.binance.com"
	defaultMarketInterval = "1m"
	defaultMarketTimeout  = 15
	defaultMarketRetryMax = 3

	defaultTradingStrategy     = "default"
	defaultMinStopDistance     = 1.0
	defaultMaxStopDistance     = 10.0
	defaultMinTPDistance       = 0.5
	defaultMaxLifetimeMinutes  = 240
	defaultScheduledWait       = 120
	defaultVWAPWindow          = 5
	defaultFeePct              = 0.04
	defaultSlippagePct         = 0.02
	defaultAnomalyThresholdPct = 20.0
	defaultAnomalyMinSamples   = 3
	defaultGenerateInterval    = 60
	defaultGenerateTimeout     = 30
	defaultMaxOpenPositions    = 3

	defaultStoreBackend = "file"
	defaultStoreDir     = "/data/vigil/state"
	defaultStoreDBPath  = "/data/vigil/state.db"

	defaultBusQueueSize = 256
	defaultKafkaTopic   = "vigil.signals"

	defaultTelegramAPIBase = "https://api.telegram.org"
	defaultTelegramTimeout = 15
	defaultTelegramRetry   = 3

	defaultBacktestResults = "/data/vigil/backtest.db"
	defaultBacktestBalance = 10000
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Bus.applyDefaults(keys)
	c.Notify.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.exchange", &m.Exchange, defaultMarketExchange),
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		stringFieldDefault("market.interval", &m.Interval, defaultMarketInterval),
		intFieldDefault("market.timeout_seconds", &m.TimeoutSeconds, defaultMarketTimeout),
		intFieldDefault("market.retry_max", &m.RetryMax, defaultMarketRetryMax),
	)
	if len(m.Symbols) == 0 {
		m.Symbols = []string{"BTCUSDT"}
	}
	for i := range m.Symbols {
		m.Symbols[i] = strings.ToUpper(strings.TrimSpace(m.Symbols[i]))
	}
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("trading.strategy", &t.Strategy, defaultTradingStrategy),
		floatFieldDefault("trading.min_stop_distance_pct", &t.MinStopDistancePct, defaultMinStopDistance),
		floatFieldDefault("trading.max_stop_distance_pct", &t.MaxStopDistancePct, defaultMaxStopDistance),
		floatFieldDefault("trading.min_take_profit_distance_pct", &t.MinTakeProfitDistancePct, defaultMinTPDistance),
		intFieldDefault("trading.max_lifetime_minutes", &t.MaxLifetimeMinutes, defaultMaxLifetimeMinutes),
		intFieldDefault("trading.scheduled_wait_minutes", &t.ScheduledWaitMinutes, defaultScheduledWait),
		intFieldDefault("trading.vwap_window_bars", &t.VWAPWindowBars, defaultVWAPWindow),
		floatFieldDefault("trading.fee_pct", &t.FeePct, defaultFeePct),
		floatFieldDefault("trading.slippage_pct", &t.SlippagePct, defaultSlippagePct),
		floatFieldDefault("trading.anomaly_threshold_pct", &t.AnomalyThresholdPct, defaultAnomalyThresholdPct),
		intFieldDefault("trading.anomaly_min_samples", &t.AnomalyMinSamples, defaultAnomalyMinSamples),
		intFieldDefault("trading.generate_interval_seconds", &t.GenerateIntervalSeconds, defaultGenerateInterval),
		intFieldDefault("trading.generate_timeout_seconds", &t.GenerateTimeoutSeconds, defaultGenerateTimeout),
		intFieldDefault("trading.max_open_positions", &t.MaxOpenPositions, defaultMaxOpenPositions),
	)
	if t.FeePct < 0 {
		t.FeePct = 0
	}
	if t.SlippagePct < 0 {
		t.SlippagePct = 0
	}
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.backend", &s.Backend, defaultStoreBackend),
		stringFieldDefault("store.dir", &s.Dir, defaultStoreDir),
		stringFieldDefault("store.db_path", &s.DBPath, defaultStoreDBPath),
	)
}

func (b *BusConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("bus.queue_size", &b.QueueSize, defaultBusQueueSize),
		stringFieldDefault("bus.kafka.topic", &b.Kafka.Topic, defaultKafkaTopic),
	)
}

func (n *NotifyConfig) applyDefaults(keys keySet) {
	if n == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("notify.telegram.api_base_url", &n.Telegram.APIBaseURL, defaultTelegramAPIBase),
		intFieldDefault("notify.telegram.timeout_seconds", &n.Telegram.TimeoutSeconds, defaultTelegramTimeout),
		intFieldDefault("notify.telegram.retry_max", &n.Telegram.RetryMax, defaultTelegramRetry),
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("backtest.results_path", &b.ResultsPath, defaultBacktestResults),
		floatFieldDefault("backtest.initial_balance", &b.InitialBalance, defaultBacktestBalance),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
