package service

import (
	"context"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/iWorld-y/macro_pulse/app/display/internal/domain"
	"github.com/iWorld-y/macro_pulse/app/display/internal/usecase"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
)

type ListReportsReq struct {
	Page     int
	PageSize int
}

type ReportSummary struct {
	RunID             string  `json:"run_id"`
	Date              string  `json:"date"`
	Summary           string  `json:"summary"`
	OverallConfidence float64 `json:"overall_confidence"`
	Degraded          bool    `json:"degraded"`
}

type ListReportsReply struct {
	Reports []*ReportSummary `json:"reports"`
	Total   int              `json:"total"`
}

type GetReportReq struct {
	RunID string
}

type GetReportReply struct {
	RunID             string                  `json:"run_id"`
	Date              string                  `json:"date"`
	Summary           string                  `json:"summary"`
	Highlights        []string                `json:"highlights"`
	Advice            []string                `json:"advice"`
	OverallConfidence float64                 `json:"overall_confidence"`
	Degraded          bool                    `json:"degraded"`
	MissingTasks      []string                `json:"missing_tasks"`
	Tasks             []model.TaskRecord      `json:"tasks"`
	Conflicts         []model.ConflictFinding `json:"conflicts"`
	Provenance        []model.FetchNote       `json:"provenance"`
	Markdown          string                  `json:"markdown"`
}

type RunReply struct {
	RunID    string `json:"run_id"`
	Status   string `json:"status"`
	Stage    string `json:"stage,omitempty"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
}

type DisplayService struct {
	ucReport *usecase.ReportUseCase
	ucRun    *usecase.RunUseCase
	log      *log.Helper
}

func NewDisplayService(ucReport *usecase.ReportUseCase, ucRun *usecase.RunUseCase, logger log.Logger) *DisplayService {
	return &DisplayService{
		ucReport: ucReport,
		ucRun:    ucRun,
		log:      log.NewHelper(logger),
	}
}

func (s *DisplayService) ListReports(ctx context.Context, req *ListReportsReq) (*ListReportsReply, error) {
	reports, total, err := s.ucReport.List(ctx, req.Page, req.PageSize)
	if err != nil {
		return nil, err
	}

	list := make([]*ReportSummary, 0, len(reports))
	for _, r := range reports {
		list = append(list, &ReportSummary{
			RunID:             r.RunID,
			Date:              r.Date,
			Summary:           r.Summary,
			OverallConfidence: r.OverallConfidence,
			Degraded:          r.Degraded,
		})
	}
	return &ListReportsReply{Reports: list, Total: total}, nil
}

func (s *DisplayService) GetReport(ctx context.Context, req *GetReportReq) (*GetReportReply, error) {
	r, err := s.ucReport.Get(ctx, req.RunID)
	if err != nil {
		return nil, err
	}
	return toReply(r), nil
}

func (s *DisplayService) LatestReport(ctx context.Context, _ *struct{}) (*GetReportReply, error) {
	r, err := s.ucReport.Latest(ctx)
	if err != nil {
		return nil, err
	}
	return toReply(r), nil
}

func (s *DisplayService) StartRun(ctx context.Context, _ *struct{}) (*RunReply, error) {
	run, err := s.ucRun.Start(ctx)
	if err != nil {
		return nil, err
	}
	s.log.Infof("run %s accepted", run.RunID)
	return toRunReply(run), nil
}

func (s *DisplayService) GetRun(ctx context.Context, req *GetReportReq) (*RunReply, error) {
	run, err := s.ucRun.Get(ctx, req.RunID)
	if err != nil {
		return nil, err
	}
	return toRunReply(run), nil
}

func toReply(r *domain.Report) *GetReportReply {
	return &GetReportReply{
		RunID:             r.RunID,
		Date:              r.Date,
		Summary:           r.Summary,
		Highlights:        r.Highlights,
		Advice:            r.Advice,
		OverallConfidence: r.OverallConfidence,
		Degraded:          r.Degraded,
		MissingTasks:      r.MissingTasks,
		Tasks:             r.Tasks,
		Conflicts:         r.Conflicts,
		Provenance:        r.Provenance,
		Markdown:          r.Markdown,
	}
}

func toRunReply(r *domain.Run) *RunReply {
	return &RunReply{
		RunID:    r.RunID,
		Status:   string(r.Status),
		Stage:    r.Stage,
		Progress: r.Progress,
		Error:    r.Error,
	}
}
