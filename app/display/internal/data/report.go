package data

import (
	"context"
	stderrors "errors"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"

	"github.com/iWorld-y/macro_pulse/app/display/internal/domain"
	"github.com/iWorld-y/macro_pulse/app/display/internal/repo"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/render"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/storage"
)

const dateLayout = "2006-01-02 15:04:05"

type reportRepo struct {
	data *Data
	log  *log.Helper
}

func NewReportRepo(data *Data, logger log.Logger) repo.ReportRepo {
	return &reportRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func (r *reportRepo) ListReports(ctx context.Context, page, pageSize int) ([]*domain.ReportSummary, int, error) {
	offset := (page - 1) * pageSize
	rows, total, err := r.data.store.List(ctx, offset, pageSize)
	if err != nil {
		return nil, 0, err
	}

	summaries := make([]*domain.ReportSummary, 0, len(rows))
	for _, s := range rows {
		summaries = append(summaries, &domain.ReportSummary{
			RunID:             s.RunID,
			Date:              s.GeneratedAt.Format(dateLayout),
			Summary:           s.Summary,
			OverallConfidence: s.OverallConfidence,
			Degraded:          s.Degraded,
		})
	}
	return summaries, total, nil
}

func (r *reportRepo) GetReport(ctx context.Context, runID string) (*domain.Report, error) {
	rec, err := r.data.store.Get(ctx, runID)
	if err != nil {
		return nil, r.notFound(err)
	}
	return r.toDomain(rec), nil
}

func (r *reportRepo) LatestReport(ctx context.Context) (*domain.Report, error) {
	rec, err := r.data.store.Latest(ctx)
	if err != nil {
		return nil, r.notFound(err)
	}
	return r.toDomain(rec), nil
}

func (r *reportRepo) notFound(err error) error {
	if stderrors.Is(err, storage.ErrNotFound) {
		return errors.NotFound("REPORT_NOT_FOUND", "report not found")
	}
	return err
}

func (r *reportRepo) toDomain(rec *model.ReportRecord) *domain.Report {
	md, err := render.MarkdownRecord(*rec)
	if err != nil {
		r.log.Errorf("render report %s failed: %v", rec.RunID, err)
	}
	return &domain.Report{
		RunID:             rec.RunID,
		Date:              rec.GeneratedAt.Format(dateLayout),
		Summary:           rec.Summary,
		Highlights:        rec.Highlights,
		Advice:            rec.Advice,
		OverallConfidence: rec.OverallConfidence,
		Degraded:          rec.Degraded,
		MissingTasks:      rec.MissingTasks,
		Tasks:             rec.Tasks,
		Conflicts:         rec.Conflicts,
		Provenance:        rec.Provenance,
		Markdown:          string(md),
	}
}
