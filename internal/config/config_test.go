package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
market:
  symbols: [btcusdt]
`

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", minimalConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT"}, cfg.Market.Symbols, "symbols normalized to upper case")
	assert.Equal(t, "binance", cfg.Market.Exchange)
	assert.Equal(t, "1m", cfg.Market.Interval)
	assert.Equal(t, 1.0, cfg.Trading.MinStopDistancePct)
	assert.Equal(t, 10.0, cfg.Trading.MaxStopDistancePct)
	assert.Equal(t, 240*time.Minute, cfg.Trading.MaxLifetime())
	assert.Equal(t, 120*time.Minute, cfg.Trading.ScheduledWait())
	assert.Equal(t, 5, cfg.Trading.VWAPWindowBars)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, 256, cfg.Bus.QueueSize)
	assert.Equal(t, "https://api.telegram.org", cfg.Notify.Telegram.APIBaseURL)
	assert.Equal(t, 15, cfg.Notify.Telegram.TimeoutSeconds)
	assert.Equal(t, 3, cfg.Notify.Telegram.RetryMax)
}

func TestLoad_ExplicitValuesWin(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", `
market:
  symbols: [ethusdt]
trading:
  strategy: meanrev
  min_stop_distance_pct: 0.5
  max_stop_distance_pct: 4.0
  max_open_positions: 1
store:
  backend: sqlite
  db_path: /tmp/v.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "meanrev", cfg.Trading.Strategy)
	assert.Equal(t, 0.5, cfg.Trading.MinStopDistancePct)
	assert.Equal(t, 1, cfg.Trading.MaxOpenPositions)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
}

func TestLoad_IncludeMerge(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", `
trading:
  strategy: from-base
  max_open_positions: 7
`)
	path := writeConfig(t, dir, "config.yaml", `
include:
  - base.yaml
market:
  symbols: [btcusdt]
trading:
  strategy: from-main
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	// 主文件覆盖 include，未覆盖的键保留
	assert.Equal(t, "from-main", cfg.Trading.Strategy)
	assert.Equal(t, 7, cfg.Trading.MaxOpenPositions)
}

func TestLoad_Rejects(t *testing.T) {
	cases := []struct {
		name    string
		content string
		errPart string
	}{
		{"blank symbol entry", `
market:
  symbols: ["  "]
`, "symbols"},
		{"inverted stop bounds", `
market:
  symbols: [btcusdt]
trading:
  min_stop_distance_pct: 5.0
  max_stop_distance_pct: 2.0
`, "max_stop_distance_pct"},
		{"tp below round trip", `
market:
  symbols: [btcusdt]
trading:
  min_take_profit_distance_pct: 0.05
`, "round-trip"},
		{"bad store backend", `
market:
  symbols: [btcusdt]
store:
  backend: redis
`, "store.backend"},
		{"kafka without brokers", `
market:
  symbols: [btcusdt]
bus:
  kafka:
    enabled: true
`, "brokers"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), "config.yaml", tc.content)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errPart)
		})
	}
}

func TestManager_ReloadOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
market:
  symbols: [btcusdt]
trading:
  max_open_positions: 3
`)

	m, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Trading().MaxOpenPositions)

	reloaded := make(chan *Config, 1)
	m.OnReload(func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// 给 watcher 一点起身时间再改文件
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, "config.yaml", `
market:
  symbols: [btcusdt]
trading:
  max_open_positions: 9
`)

	select {
	case <-reloaded:
		assert.Equal(t, 9, m.Trading().MaxOpenPositions)
	case <-time.After(3 * time.Second):
		t.Fatal("config change was not picked up")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop on cancel")
	}
}

func TestManager_BadReloadKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", minimalConfig)

	m, err := NewManager(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Watch(ctx)

	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, "config.yaml", `
market:
  symbols: [btcusdt]
trading:
  min_stop_distance_pct: 5.0
  max_stop_distance_pct: 2.0
`)
	time.Sleep(500 * time.Millisecond)

	// 坏配置被拒绝，旧值仍然生效
	assert.Equal(t, 10.0, m.Trading().MaxStopDistancePct)
}
