package main

import (
	"context"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"

	"github.com/iWorld-y/macro_pulse/app/display/internal/usecase"
)

func newApp(logger log.Logger, hs *http.Server, runs *usecase.RunUseCase) *kratos.App {
	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(hs),
		kratos.AfterStop(func(context.Context) error {
			// 等待进行中的后台运行写完报告
			runs.Wait()
			return nil
		}),
	)
}
