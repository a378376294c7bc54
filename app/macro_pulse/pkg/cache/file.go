package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/logger"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
)

var keyReplacer = strings.NewReplacer("/", "_", ":", "_", "\\", "_")

// FileStore 每个条目一个 JSON 文件
type FileStore struct {
	dir string
}

// NewFileStore 创建文件缓存，目录不存在时自动创建
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

var _ Store = (*FileStore)(nil)

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, keyReplacer.Replace(key)+".json")
}

func (s *FileStore) Get(_ context.Context, key string) (*model.CacheEntry, bool) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Log.Warnf("读取缓存失败 [%s]: %v", key, err)
		}
		return nil, false
	}

	var entry model.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		logger.Log.Warnf("缓存文件损坏 [%s]: %v", key, err)
		return nil, false
	}
	// 不同 key 替换后可能落到同一个文件
	if entry.Key != key {
		return nil, false
	}
	return &entry, true
}

// Put 先写临时文件再原子替换，失败时不会留下半成品
func (s *FileStore) Put(_ context.Context, entry *model.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry failed: %w", err)
	}

	target := s.path(entry.Key)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file failed: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write cache entry failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file failed: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit cache entry failed: %w", err)
	}
	return nil
}

func (s *FileStore) Prune(ctx context.Context, before time.Time) (int, error) {
	files, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		var entry model.CacheEntry
		// 无法解析的文件一并清理
		if err := json.Unmarshal(data, &entry); err == nil && !expired(entry.FetchedAt, entry.TTL, before) {
			continue
		}
		if err := os.Remove(f); err == nil {
			removed++
		}
	}
	return removed, nil
}

func (s *FileStore) Close() error { return nil }
