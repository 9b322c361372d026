package config

import (
	"fmt"
	"strings"
)

// validate 在默认值应用后做一次整体合法性检查。
func validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if len(cfg.Market.Symbols) == 0 {
		return fmt.Errorf("market.symbols cannot be empty")
	}
	for _, sym := range cfg.Market.Symbols {
		if strings.TrimSpace(sym) == "" {
			return fmt.Errorf("market.symbols contains an empty entry")
		}
	}
	t := cfg.Trading
	if t.MinStopDistancePct <= 0 {
		return fmt.Errorf("trading.min_stop_distance_pct must be > 0")
	}
	if t.MaxStopDistancePct <= t.MinStopDistancePct {
		return fmt.Errorf("trading.max_stop_distance_pct must exceed min_stop_distance_pct (%.2f <= %.2f)",
			t.MaxStopDistancePct, t.MinStopDistancePct)
	}
	if t.MinTakeProfitDistancePct <= t.FeePct*2+t.SlippagePct*2 {
		return fmt.Errorf("trading.min_take_profit_distance_pct %.3f does not cover round-trip fee+slippage %.3f",
			t.MinTakeProfitDistancePct, t.FeePct*2+t.SlippagePct*2)
	}
	if t.MaxLifetimeMinutes <= 0 {
		return fmt.Errorf("trading.max_lifetime_minutes must be > 0")
	}
	if t.VWAPWindowBars <= 0 {
		return fmt.Errorf("trading.vwap_window_bars must be > 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Store.Backend)) {
	case "file", "sqlite":
	default:
		return fmt.Errorf("store.backend must be file or sqlite, got %q", cfg.Store.Backend)
	}
	if cfg.Bus.Kafka.Enabled && len(cfg.Bus.Kafka.Brokers) == 0 {
		return fmt.Errorf("bus.kafka.enabled requires bus.kafka.brokers")
	}
	return nil
}
