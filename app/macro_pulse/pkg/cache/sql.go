package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/logger"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
)

// dialect 不同数据库的语句
type dialect struct {
	schema string
	get    string
	put    string
	prune  string
}

var sqliteDialect = dialect{
	schema: `CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		source_key TEXT NOT NULL,
		payload TEXT NOT NULL,
		fetched_at_ns INTEGER NOT NULL,
		ttl_ns INTEGER NOT NULL
	)`,
	get: `SELECT source_key, payload, fetched_at_ns, ttl_ns FROM cache_entries WHERE key = ?`,
	put: `INSERT INTO cache_entries (key, source_key, payload, fetched_at_ns, ttl_ns)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			source_key = excluded.source_key,
			payload = excluded.payload,
			fetched_at_ns = excluded.fetched_at_ns,
			ttl_ns = excluded.ttl_ns`,
	prune: `DELETE FROM cache_entries WHERE fetched_at_ns + ttl_ns < ?`,
}

var postgresDialect = dialect{
	schema: `CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		source_key TEXT NOT NULL,
		payload TEXT NOT NULL,
		fetched_at_ns BIGINT NOT NULL,
		ttl_ns BIGINT NOT NULL
	)`,
	get: `SELECT source_key, payload, fetched_at_ns, ttl_ns FROM cache_entries WHERE key = $1`,
	put: `INSERT INTO cache_entries (key, source_key, payload, fetched_at_ns, ttl_ns)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET
			source_key = EXCLUDED.source_key,
			payload = EXCLUDED.payload,
			fetched_at_ns = EXCLUDED.fetched_at_ns,
			ttl_ns = EXCLUDED.ttl_ns`,
	prune: `DELETE FROM cache_entries WHERE fetched_at_ns + ttl_ns < $1`,
}

// SQLStore 基于 database/sql 的缓存，单条 upsert 保证写入原子性
type SQLStore struct {
	db *sql.DB
	d  dialect
}

var _ Store = (*SQLStore)(nil)

// NewSQLiteStore 在 dir 下创建 cache.db
func NewSQLiteStore(dir string) (*SQLStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	dsn := "file:" + filepath.Join(dir, "cache.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite cache: %w", err)
	}
	// SQLite 单写者
	db.SetMaxOpenConns(1)
	return newSQLStore(db, sqliteDialect)
}

// NewPostgresStore 使用 Postgres 作为共享缓存
func NewPostgresStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return newSQLStore(db, postgresDialect)
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	if _, err := db.Exec(d.schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	return &SQLStore{db: db, d: d}, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (*model.CacheEntry, bool) {
	var (
		entry     = model.CacheEntry{Key: key}
		payload   string
		fetchedNs int64
		ttlNs     int64
	)
	err := s.db.QueryRowContext(ctx, s.d.get, key).Scan(&entry.SourceKey, &payload, &fetchedNs, &ttlNs)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.Log.Warnf("读取缓存失败 [%s]: %v", key, err)
		}
		return nil, false
	}
	entry.Payload = []byte(payload)
	entry.FetchedAt = time.Unix(0, fetchedNs)
	entry.TTL = time.Duration(ttlNs)
	return &entry, true
}

func (s *SQLStore) Put(ctx context.Context, entry *model.CacheEntry) error {
	_, err := s.db.ExecContext(ctx, s.d.put,
		entry.Key, entry.SourceKey, string(entry.Payload), entry.FetchedAt.UnixNano(), int64(entry.TTL))
	if err != nil {
		return fmt.Errorf("upsert cache entry failed: %w", err)
	}
	return nil
}

func (s *SQLStore) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.d.prune, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune cache failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
