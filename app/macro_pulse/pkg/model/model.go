package model

import (
	"encoding/json"
	"time"
)

// Tier 数据最终来源的层级
type Tier string

const (
	TierCacheFresh Tier = "cache-fresh"
	TierPrimary    Tier = "primary"
	TierSecondary  Tier = "secondary"
	TierCacheStale Tier = "cache-stale"
	TierMissing    Tier = "missing"
)

// HasData 该层级是否携带可用数据
func (t Tier) HasData() bool {
	return t != TierMissing && t != ""
}

// Degraded 陈旧缓存或缺失都算降级读取
func (t Tier) Degraded() bool {
	return t == TierCacheStale || t == TierMissing
}

// DataRequest 一次数据请求，创建后不可变
type DataRequest struct {
	SourceKey string        `json:"source_key"`
	ItemID    string        `json:"item_id"`
	Freshness time.Duration `json:"freshness,omitempty"` // 可选的最大数据年龄，0 表示沿用条目 TTL
}

// Key 缓存与去重使用的确定性键
func (r DataRequest) Key() string {
	return RequestKey(r.SourceKey, r.ItemID)
}

// RequestKey 由 sourceKey 与 itemID 组成的确定性键
func RequestKey(sourceKey, itemID string) string {
	return sourceKey + ":" + itemID
}

// CacheEntry 缓存条目
type CacheEntry struct {
	Key       string          `json:"key"`
	SourceKey string          `json:"source_key"`
	Payload   json.RawMessage `json:"payload"`
	FetchedAt time.Time       `json:"fetched_at"`
	TTL       time.Duration   `json:"ttl"`
}

// Age 条目在 now 时刻的年龄
func (e *CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// Attempt 单个层级的调用记录
type Attempt struct {
	Tier    Tier   `json:"tier"`
	Adapter string `json:"adapter"`
	Calls   int    `json:"calls"`
	Error   string `json:"error,omitempty"`
}

// FetchOutcome 每个 DataRequest 每次运行恰好产生一个，下游只读
type FetchOutcome struct {
	Request   DataRequest     `json:"request"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Tier      Tier            `json:"tier"`
	Err       error           `json:"-"`
	Attempts  []Attempt       `json:"attempts,omitempty"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// ErrorString 便于序列化的错误描述
func (o FetchOutcome) ErrorString() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Result 分析任务的结构化结论
type Result interface {
	// Fields 暴露给冲突规则读取的扁平字段
	Fields() map[string]any
	Highlights() []string
	Summary() string
}

// AnalysisOutcome 单个分析任务的结果，创建后不可变
type AnalysisOutcome struct {
	TaskName      string        `json:"task_name"`
	Result        Result        `json:"result,omitempty"`
	Confidence    float64       `json:"confidence"`
	FailureReason string        `json:"failure_reason,omitempty"`
	Elapsed       time.Duration `json:"elapsed"`
	Degraded      []string      `json:"degraded,omitempty"` // 降级读取的输入键
}

// Succeeded 是否产出了结果
func (o AnalysisOutcome) Succeeded() bool {
	return o.Result != nil
}

// ConflictFinding 规则命中的冲突
type ConflictFinding struct {
	RuleID        string   `json:"rule_id"`
	InvolvedTasks []string `json:"involved_tasks"`
	Message       string   `json:"message"`
}

// FetchNote 报告中保留的抓取溯源
type FetchNote struct {
	Key     string    `json:"key"`
	Tier    Tier      `json:"tier"`
	Error   string    `json:"error,omitempty"`
	Fetched time.Time `json:"fetched_at"`
}

// FinalReport 一次运行的最终报告，构造后不再修改
type FinalReport struct {
	RunID             string                     `json:"run_id"`
	GeneratedAt       time.Time                  `json:"generated_at"`
	Summary           string                     `json:"summary"`
	Highlights        []string                   `json:"highlights"`
	Advice            []string                   `json:"advice,omitempty"`
	OverallConfidence float64                    `json:"overall_confidence"`
	OutcomesByTask    map[string]AnalysisOutcome `json:"outcomes_by_task"`
	Conflicts         []ConflictFinding          `json:"conflicts"`
	MissingTasks      []string                   `json:"missing_tasks"`
	Provenance        []FetchNote                `json:"provenance"`
}

// Degraded 有任务缺失或存在降级读取
func (r *FinalReport) Degraded() bool {
	if len(r.MissingTasks) > 0 {
		return true
	}
	for _, n := range r.Provenance {
		if n.Tier.Degraded() {
			return true
		}
	}
	return false
}
