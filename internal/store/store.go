package store

import (
	"fmt"
	"io"

	"vigil/internal/config"
	"vigil/internal/signal"
)

// Store 在引擎可见的槽位接口之上追加生命周期管理。
type Store interface {
	signal.Store
	io.Closer
}

// Open 按配置选择持久化后端。
func Open(cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Dir)
	case "sqlite":
		return NewSQLiteStore(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
