package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/config"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
)

// Store 持久化缓存
//
// 同一 key 的写入是幂等覆盖，并发写入以最后一次为准；
// 写入失败时不会留下可读的半成品条目。
type Store interface {
	// Get 读取条目，不存在或读取失败时返回 false
	Get(ctx context.Context, key string) (*model.CacheEntry, bool)
	Put(ctx context.Context, entry *model.CacheEntry) error
	// Prune 删除在 before 之前就已过期的条目，返回删除数量
	Prune(ctx context.Context, before time.Time) (int, error)
	Close() error
}

// IsFresh 条目在 now 时刻是否新鲜；maxAge > 0 时进一步收紧新鲜度窗口
func IsFresh(e *model.CacheEntry, now time.Time, maxAge time.Duration) bool {
	if e == nil {
		return false
	}
	age := e.Age(now)
	if age >= e.TTL {
		return false
	}
	return maxAge <= 0 || age < maxAge
}

// expired 条目在 before 时刻之前是否已过期
func expired(fetchedAt time.Time, ttl time.Duration, before time.Time) bool {
	return fetchedAt.Add(ttl).Before(before)
}

// New 根据配置创建缓存实例
func New(cfg config.CacheConfig, db config.DBConfig) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Dir)
	case "sqlite":
		return NewSQLiteStore(cfg.Dir)
	case "badger":
		return NewBadgerStore(cfg.Dir)
	case "postgres":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = db.DSN()
		}
		return NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}
