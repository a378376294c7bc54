package model

import (
	"sort"
	"time"
)

// TaskRecord 可持久化的任务结果
type TaskRecord struct {
	TaskName      string         `json:"task_name"`
	Succeeded     bool           `json:"succeeded"`
	Confidence    float64        `json:"confidence"`
	FailureReason string         `json:"failure_reason,omitempty"`
	ElapsedMS     int64          `json:"elapsed_ms"`
	Summary       string         `json:"summary,omitempty"`
	Highlights    []string       `json:"highlights,omitempty"`
	Fields        map[string]any `json:"fields,omitempty"`
	Degraded      []string       `json:"degraded,omitempty"`
}

// ReportRecord 可持久化、可回读的报告
type ReportRecord struct {
	RunID             string            `json:"run_id"`
	GeneratedAt       time.Time         `json:"generated_at"`
	Summary           string            `json:"summary"`
	Highlights        []string          `json:"highlights"`
	Advice            []string          `json:"advice"`
	OverallConfidence float64           `json:"overall_confidence"`
	Degraded          bool              `json:"degraded"`
	MissingTasks      []string          `json:"missing_tasks"`
	Tasks             []TaskRecord      `json:"tasks"`
	Conflicts         []ConflictFinding `json:"conflicts"`
	Provenance        []FetchNote       `json:"provenance"`
}

// ReportSummary 报告列表项
type ReportSummary struct {
	RunID             string    `json:"run_id"`
	GeneratedAt       time.Time `json:"generated_at"`
	Summary           string    `json:"summary"`
	OverallConfidence float64   `json:"overall_confidence"`
	Degraded          bool      `json:"degraded"`
}

// NewReportRecord 把报告展开成可持久化的结构，任务按名称排序
func NewReportRecord(r *FinalReport) ReportRecord {
	rec := ReportRecord{
		RunID:             r.RunID,
		GeneratedAt:       r.GeneratedAt,
		Summary:           r.Summary,
		Highlights:        r.Highlights,
		Advice:            r.Advice,
		OverallConfidence: r.OverallConfidence,
		Degraded:          r.Degraded(),
		MissingTasks:      r.MissingTasks,
		Conflicts:         r.Conflicts,
		Provenance:        r.Provenance,
	}
	names := make([]string, 0, len(r.OutcomesByTask))
	for name := range r.OutcomesByTask {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		o := r.OutcomesByTask[name]
		t := TaskRecord{
			TaskName:      name,
			Succeeded:     o.Succeeded(),
			Confidence:    o.Confidence,
			FailureReason: o.FailureReason,
			ElapsedMS:     o.Elapsed.Milliseconds(),
			Degraded:      o.Degraded,
		}
		if o.Result != nil {
			t.Summary = o.Result.Summary()
			t.Highlights = o.Result.Highlights()
			t.Fields = o.Result.Fields()
		}
		rec.Tasks = append(rec.Tasks, t)
	}
	return rec
}

// Summarize 列表项
func (r ReportRecord) Summarize() ReportSummary {
	return ReportSummary{
		RunID:             r.RunID,
		GeneratedAt:       r.GeneratedAt,
		Summary:           r.Summary,
		OverallConfidence: r.OverallConfidence,
		Degraded:          r.Degraded,
	}
}
