package usecase

import (
	"context"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"

	"github.com/iWorld-y/macro_pulse/app/display/internal/domain"
	"github.com/iWorld-y/macro_pulse/app/display/internal/repo"
)

const maxPageSize = 100

// ReportUseCase 报告查询业务逻辑
type ReportUseCase struct {
	repo repo.ReportRepo
	log  *log.Helper
}

// NewReportUseCase 创建报告业务逻辑实例
func NewReportUseCase(repo repo.ReportRepo, logger log.Logger) *ReportUseCase {
	return &ReportUseCase{repo: repo, log: log.NewHelper(logger)}
}

// List 分页列出报告摘要，page 从 1 开始
func (uc *ReportUseCase) List(ctx context.Context, page, pageSize int) ([]*domain.ReportSummary, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > maxPageSize {
		return nil, 0, errors.BadRequest("INVALID_PAGE_SIZE", "page_size must not exceed 100")
	}
	return uc.repo.ListReports(ctx, page, pageSize)
}

// Get 根据运行 ID 获取报告详情
func (uc *ReportUseCase) Get(ctx context.Context, runID string) (*domain.Report, error) {
	if runID == "" {
		return nil, errors.BadRequest("INVALID_RUN_ID", "run id is required")
	}
	return uc.repo.GetReport(ctx, runID)
}

// Latest 最近一次的报告
func (uc *ReportUseCase) Latest(ctx context.Context) (*domain.Report, error) {
	return uc.repo.LatestReport(ctx)
}
