package domain

import (
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
)

// ReportSummary 报告列表项
type ReportSummary struct {
	RunID             string
	Date              string
	Summary           string
	OverallConfidence float64
	Degraded          bool
}

// Report 报告详情
type Report struct {
	RunID             string
	Date              string
	Summary           string
	Highlights        []string
	Advice            []string
	OverallConfidence float64
	Degraded          bool
	MissingTasks      []string
	Tasks             []model.TaskRecord
	Conflicts         []model.ConflictFinding
	Provenance        []model.FetchNote
	Markdown          string
}

// RunStatus 后台运行的状态
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run 一次后台运行
type Run struct {
	RunID    string
	Status   RunStatus
	Stage    string
	Progress int
	Error    string
}
