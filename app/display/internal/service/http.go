package service

import (
	"context"
	"strconv"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/transport/http"
)

const (
	OperationListReports  = "/macro_pulse.display.v1.Display/ListReports"
	OperationGetReport    = "/macro_pulse.display.v1.Display/GetReport"
	OperationLatestReport = "/macro_pulse.display.v1.Display/LatestReport"
	OperationStartRun     = "/macro_pulse.display.v1.Display/StartRun"
	OperationGetRun       = "/macro_pulse.display.v1.Display/GetRun"
)

// RegisterDisplayHTTPServer 注册报告查询与运行触发接口
//
// /v1/reports/latest 必须先于 /v1/reports/{id} 注册。
func RegisterDisplayHTTPServer(s *http.Server, srv *DisplayService) {
	r := s.Route("/")
	r.GET("/v1/reports", listReportsHandler(srv))
	r.GET("/v1/reports/latest", latestReportHandler(srv))
	r.GET("/v1/reports/{id}", getReportHandler(srv))
	r.POST("/v1/runs", startRunHandler(srv))
	r.GET("/v1/runs/{id}", getRunHandler(srv))
}

func listReportsHandler(srv *DisplayService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in ListReportsReq
		var err error
		if in.Page, err = queryInt(ctx, "page"); err != nil {
			return err
		}
		if in.PageSize, err = queryInt(ctx, "page_size"); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationListReports)
		h := ctx.Middleware(func(ctx context.Context, req any) (any, error) {
			return srv.ListReports(ctx, req.(*ListReportsReq))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func getReportHandler(srv *DisplayService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		in := GetReportReq{RunID: ctx.Vars().Get("id")}
		http.SetOperation(ctx, OperationGetReport)
		h := ctx.Middleware(func(ctx context.Context, req any) (any, error) {
			return srv.GetReport(ctx, req.(*GetReportReq))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func latestReportHandler(srv *DisplayService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, OperationLatestReport)
		h := ctx.Middleware(func(ctx context.Context, req any) (any, error) {
			return srv.LatestReport(ctx, req.(*struct{}))
		})
		out, err := h(ctx, &struct{}{})
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func startRunHandler(srv *DisplayService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, OperationStartRun)
		h := ctx.Middleware(func(ctx context.Context, req any) (any, error) {
			return srv.StartRun(ctx, req.(*struct{}))
		})
		out, err := h(ctx, &struct{}{})
		if err != nil {
			return err
		}
		return ctx.Result(202, out)
	}
}

func getRunHandler(srv *DisplayService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		in := GetReportReq{RunID: ctx.Vars().Get("id")}
		http.SetOperation(ctx, OperationGetRun)
		h := ctx.Middleware(func(ctx context.Context, req any) (any, error) {
			return srv.GetRun(ctx, req.(*GetReportReq))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

// queryInt 读取整数查询参数，缺省为 0
func queryInt(ctx http.Context, key string) (int, error) {
	raw := ctx.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.BadRequest("INVALID_ARGUMENT", key+" must be an integer")
	}
	return v, nil
}
