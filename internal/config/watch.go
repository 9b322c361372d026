package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"vigil/internal/logger"
)

// Manager 持有当前生效配置并支持文件热更新。
// Trading() 返回的是快照，Engine 每次评估前取一次即可拿到最新阈值。
type Manager struct {
	mu   sync.RWMutex
	cfg  *Config
	path string

	onReload []func(*Config)
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg, path: abs}, nil
}

func (m *Manager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Trading() TradingConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Trading
}

// OnReload 注册热更新回调；在 Watch 启动前调用。
func (m *Manager) OnReload(fn func(*Config)) {
	if fn == nil {
		return
	}
	m.onReload = append(m.onReload, fn)
}

// Watch 监听配置文件变化并原地重载，直到 ctx 取消。
// 重载失败保留旧配置，只记日志。
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	// 监听目录而不是文件：编辑器原子替换会让文件级 watch 失效
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		return err
	}

	var debounce *time.Timer
	reload := func() {
		cfg, err := Load(m.path)
		if err != nil {
			logger.Warnf("config reload failed, keeping previous: %v", err)
			return
		}
		m.mu.Lock()
		m.cfg = cfg
		m.mu.Unlock()
		logger.Infof("config reloaded from %s", m.path)
		for _, fn := range m.onReload {
			fn(cfg)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != m.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("config watcher error: %v", err)
		}
	}
}
