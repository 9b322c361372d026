package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"vigil/internal/signal"
)

const (
	slotOpen      = "open"
	slotScheduled = "scheduled"
)

// FileStore 把每个 key 的两个槽位各存成一个 JSON 文件。
// 写入走 临时文件 -> fsync -> rename，保证崩溃时要么旧值要么新值，
// 不会出现半截记录；读到无法解析的文件按损坏处理。
type FileStore struct {
	mu  sync.Mutex
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("store dir cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) WriteOpen(key signal.Key, sig *signal.Signal) error {
	return s.write(key, slotOpen, sig)
}

func (s *FileStore) ReadOpen(key signal.Key) (*signal.Signal, error) {
	return s.read(key, slotOpen)
}

func (s *FileStore) WriteScheduled(key signal.Key, sig *signal.Signal) error {
	return s.write(key, slotScheduled, sig)
}

func (s *FileStore) ReadScheduled(key signal.Key) (*signal.Signal, error) {
	return s.read(key, slotScheduled)
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) write(key signal.Key, slot string, sig *signal.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(key, slot)
	if sig == nil {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("clearing %s slot for %s: %w", slot, key, err)
		}
		return nil
	}

	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("encoding %s slot for %s: %w", slot, key, err)
	}

	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("committing %s slot for %s: %w", slot, key, err)
	}
	return nil
}

func (s *FileStore) read(key signal.Key, slot string) (*signal.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(key, slot))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%s slot for %s is not valid json: %w", slot, key, signal.ErrCorruptRecord)
	}
	var sig signal.Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		return nil, fmt.Errorf("decoding %s slot for %s: %v: %w", slot, key, err, signal.ErrCorruptRecord)
	}
	return &sig, nil
}

func (s *FileStore) path(key signal.Key, slot string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.%s.json", sanitize(key.Strategy), sanitize(key.Symbol), slot))
}

// sanitize 把 key 成分转成安全的文件名片段。
func sanitize(part string) string {
	var b strings.Builder
	for _, r := range part {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}
