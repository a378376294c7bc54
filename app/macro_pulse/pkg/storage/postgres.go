package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	_ "github.com/lib/pq"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/config"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
)

// ErrNotFound 报告不存在
var ErrNotFound = errors.New("report not found")

// Storage 报告归档，一份报告在一个事务里写入
type Storage struct {
	db *sql.DB
}

// NewStorage 连接 Postgres 并初始化表结构
func NewStorage(cfg config.DBConfig) (*Storage, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Storage{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS report_runs (
			run_id TEXT PRIMARY KEY,
			generated_at TIMESTAMPTZ NOT NULL,
			summary TEXT,
			highlights JSONB,
			advice JSONB,
			overall_confidence DOUBLE PRECISION,
			degraded BOOLEAN,
			missing_tasks JSONB,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS task_outcomes (
			run_id TEXT REFERENCES report_runs(run_id) ON DELETE CASCADE,
			task_name TEXT NOT NULL,
			succeeded BOOLEAN,
			confidence DOUBLE PRECISION,
			failure_reason TEXT,
			elapsed_ms BIGINT,
			summary TEXT,
			highlights JSONB,
			fields JSONB,
			degraded JSONB,
			PRIMARY KEY (run_id, task_name)
		)`,
		`CREATE TABLE IF NOT EXISTS conflict_findings (
			id SERIAL PRIMARY KEY,
			run_id TEXT REFERENCES report_runs(run_id) ON DELETE CASCADE,
			rule_id TEXT,
			involved_tasks JSONB,
			message TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS fetch_notes (
			id SERIAL PRIMARY KEY,
			run_id TEXT REFERENCES report_runs(run_id) ON DELETE CASCADE,
			key TEXT,
			tier TEXT,
			error TEXT,
			fetched_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_report_runs_generated_at ON report_runs (generated_at DESC)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query %s: %w", query, err)
		}
	}

	return nil
}

// Name 作为报告输出端的名称
func (s *Storage) Name() string { return "postgres" }

// Publish 归档一份报告
func (s *Storage) Publish(ctx context.Context, r *model.FinalReport) error {
	return s.Save(ctx, model.NewReportRecord(r))
}

// Save 写入报告及其任务结果、冲突与抓取溯源
func (s *Storage) Save(ctx context.Context, rec model.ReportRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO report_runs (run_id, generated_at, summary, highlights, advice, overall_confidence, degraded, missing_tasks)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.RunID, rec.GeneratedAt, sanitize(rec.Summary), jsonb(rec.Highlights), jsonb(rec.Advice),
		rec.OverallConfidence, rec.Degraded, jsonb(rec.MissingTasks))
	if err != nil {
		return fmt.Errorf("failed to insert report run: %w", err)
	}

	for _, t := range rec.Tasks {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_outcomes (run_id, task_name, succeeded, confidence, failure_reason, elapsed_ms, summary, highlights, fields, degraded)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			rec.RunID, t.TaskName, t.Succeeded, t.Confidence, sanitize(t.FailureReason), t.ElapsedMS,
			sanitize(t.Summary), jsonb(t.Highlights), jsonb(t.Fields), jsonb(t.Degraded))
		if err != nil {
			return fmt.Errorf("failed to insert task outcome %s: %w", t.TaskName, err)
		}
	}

	for _, c := range rec.Conflicts {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO conflict_findings (run_id, rule_id, involved_tasks, message)
			VALUES ($1, $2, $3, $4)`,
			rec.RunID, c.RuleID, jsonb(c.InvolvedTasks), sanitize(c.Message))
		if err != nil {
			return fmt.Errorf("failed to insert conflict finding: %w", err)
		}
	}

	for _, n := range rec.Provenance {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO fetch_notes (run_id, key, tier, error, fetched_at)
			VALUES ($1, $2, $3, $4, $5)`,
			rec.RunID, n.Key, string(n.Tier), sanitize(n.Error), nullTime(n.Fetched))
		if err != nil {
			return fmt.Errorf("failed to insert fetch note: %w", err)
		}
	}

	return tx.Commit()
}

// List 按生成时间倒序分页，返回当页条目与总数
func (s *Storage) List(ctx context.Context, offset, limit int) ([]model.ReportSummary, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM report_runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count reports: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, generated_at, summary, overall_confidence, degraded
		FROM report_runs
		ORDER BY generated_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var out []model.ReportSummary
	for rows.Next() {
		var r model.ReportSummary
		var summary sql.NullString
		if err := rows.Scan(&r.RunID, &r.GeneratedAt, &summary, &r.OverallConfidence, &r.Degraded); err != nil {
			return nil, 0, err
		}
		r.Summary = summary.String
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// Latest 最近一份报告
func (s *Storage) Latest(ctx context.Context) (*model.ReportRecord, error) {
	var runID string
	err := s.db.QueryRowContext(ctx, `SELECT run_id FROM report_runs ORDER BY generated_at DESC LIMIT 1`).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, runID)
}

// Get 读取完整报告
func (s *Storage) Get(ctx context.Context, runID string) (*model.ReportRecord, error) {
	rec := &model.ReportRecord{RunID: runID}
	var summary sql.NullString
	var highlights, advice, missing []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT generated_at, summary, highlights, advice, overall_confidence, degraded, missing_tasks
		FROM report_runs WHERE run_id = $1`, runID).
		Scan(&rec.GeneratedAt, &summary, &highlights, &advice, &rec.OverallConfidence, &rec.Degraded, &missing)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query report %s: %w", runID, err)
	}
	rec.Summary = summary.String
	if err := decodeAll(highlights, &rec.Highlights, advice, &rec.Advice, missing, &rec.MissingTasks); err != nil {
		return nil, err
	}

	if rec.Tasks, err = s.tasks(ctx, runID); err != nil {
		return nil, err
	}
	if rec.Conflicts, err = s.conflicts(ctx, runID); err != nil {
		return nil, err
	}
	if rec.Provenance, err = s.notes(ctx, runID); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Storage) tasks(ctx context.Context, runID string) ([]model.TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_name, succeeded, confidence, failure_reason, elapsed_ms, summary, highlights, fields, degraded
		FROM task_outcomes WHERE run_id = $1 ORDER BY task_name`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query task outcomes: %w", err)
	}
	defer rows.Close()

	var out []model.TaskRecord
	for rows.Next() {
		var t model.TaskRecord
		var reason, summary sql.NullString
		var highlights, fields, degraded []byte
		if err := rows.Scan(&t.TaskName, &t.Succeeded, &t.Confidence, &reason, &t.ElapsedMS, &summary, &highlights, &fields, &degraded); err != nil {
			return nil, err
		}
		t.FailureReason, t.Summary = reason.String, summary.String
		if err := decodeAll(highlights, &t.Highlights, fields, &t.Fields, degraded, &t.Degraded); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Storage) conflicts(ctx context.Context, runID string) ([]model.ConflictFinding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rule_id, involved_tasks, message FROM conflict_findings WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflict findings: %w", err)
	}
	defer rows.Close()

	out := []model.ConflictFinding{}
	for rows.Next() {
		var c model.ConflictFinding
		var involved []byte
		if err := rows.Scan(&c.RuleID, &involved, &c.Message); err != nil {
			return nil, err
		}
		if err := decodeAll(involved, &c.InvolvedTasks); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Storage) notes(ctx context.Context, runID string) ([]model.FetchNote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, tier, error, fetched_at FROM fetch_notes WHERE run_id = $1 ORDER BY key`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fetch notes: %w", err)
	}
	defer rows.Close()

	var out []model.FetchNote
	for rows.Next() {
		var n model.FetchNote
		var tier string
		var errText sql.NullString
		var fetched sql.NullTime
		if err := rows.Scan(&n.Key, &tier, &errText, &fetched); err != nil {
			return nil, err
		}
		n.Tier, n.Error, n.Fetched = model.Tier(tier), errText.String, fetched.Time
		out = append(out, n)
	}
	return out, rows.Err()
}

func jsonb(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}

// decodeAll 依次解码 (data, target) 对，空列值跳过
func decodeAll(pairs ...any) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		data, _ := pairs[i].([]byte)
		if len(data) == 0 {
			continue
		}
		if err := json.Unmarshal(data, pairs[i+1]); err != nil {
			return fmt.Errorf("failed to decode jsonb column: %w", err)
		}
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// sanitize 移除无效 UTF-8 与 NULL 字节，PostgreSQL 文本字段不接受它们
func sanitize(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.ReplaceAll(s, "\x00", "")
}
