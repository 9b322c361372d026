package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"vigil/internal/signal"
)

// SQLiteStore 把在途信号槽位存进单表 sqlite。
// WAL + busy_timeout 与单连接上限配合，避免并发写冲突。
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS inflight_signals (
    strategy   TEXT NOT NULL,
    symbol     TEXT NOT NULL,
    slot       TEXT NOT NULL,
    payload    TEXT NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (strategy, symbol, slot)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating inflight_signals: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) WriteOpen(key signal.Key, sig *signal.Signal) error {
	return s.write(key, slotOpen, sig)
}

func (s *SQLiteStore) ReadOpen(key signal.Key) (*signal.Signal, error) {
	return s.read(key, slotOpen)
}

func (s *SQLiteStore) WriteScheduled(key signal.Key, sig *signal.Signal) error {
	return s.write(key, slotScheduled, sig)
}

func (s *SQLiteStore) ReadScheduled(key signal.Key) (*signal.Signal, error) {
	return s.read(key, slotScheduled)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) write(key signal.Key, slot string, sig *signal.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sig == nil {
		_, err := s.db.Exec(`DELETE FROM inflight_signals WHERE strategy=? AND symbol=? AND slot=?`,
			key.Strategy, key.Symbol, slot)
		if err != nil {
			return fmt.Errorf("clearing %s slot for %s: %w", slot, key, err)
		}
		return nil
	}

	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("encoding %s slot for %s: %w", slot, key, err)
	}
	_, err = s.db.Exec(`
INSERT INTO inflight_signals (strategy, symbol, slot, payload, updated_at)
VALUES (?, ?, ?, ?, strftime('%s','now'))
ON CONFLICT (strategy, symbol, slot) DO UPDATE SET
    payload = excluded.payload,
    updated_at = excluded.updated_at`,
		key.Strategy, key.Symbol, slot, string(payload))
	if err != nil {
		return fmt.Errorf("persisting %s slot for %s: %w", slot, key, err)
	}
	return nil
}

func (s *SQLiteStore) read(key signal.Key, slot string) (*signal.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var payload string
	err := s.db.QueryRow(`SELECT payload FROM inflight_signals WHERE strategy=? AND symbol=? AND slot=?`,
		key.Strategy, key.Symbol, slot).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s slot for %s: %w", slot, key, err)
	}
	var sig signal.Signal
	if err := json.Unmarshal([]byte(payload), &sig); err != nil {
		return nil, fmt.Errorf("decoding %s slot for %s: %v: %w", slot, key, err, signal.ErrCorruptRecord)
	}
	return &sig, nil
}
