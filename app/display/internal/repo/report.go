package repo

import (
	"context"

	"github.com/iWorld-y/macro_pulse/app/display/internal/domain"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/engine"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
)

// ReportRepo 报告仓库接口
type ReportRepo interface {
	// ListReports 分页获取报告摘要，按生成时间倒序
	ListReports(ctx context.Context, page, pageSize int) ([]*domain.ReportSummary, int, error)
	// GetReport 根据运行 ID 获取报告详情
	GetReport(ctx context.Context, runID string) (*domain.Report, error)
	// LatestReport 最近一次的报告
	LatestReport(ctx context.Context) (*domain.Report, error)
}

// PulseRunner 执行一次完整分析
type PulseRunner interface {
	Run(ctx context.Context, opts engine.RunOptions) (*model.FinalReport, error)
}
