package main

import (
	"errors"
	"flag"
	"os"

	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/go-kratos/kratos/v2/log"

	"github.com/iWorld-y/macro_pulse/app/display/internal/conf"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name 报告展示服务名
	Name string = "display"
	// Version 构建时注入
	Version string
	// flagconf 展示服务配置；macro_pulse 自身的配置由 pulse.config 指定
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "app/display/configs/config.yaml", "config path, eg: -conf config.yaml")
}

// loadBootstrap 读取配置，缺少 HTTP 监听或报告库配置时直接失败
func loadBootstrap(path string) (*conf.Bootstrap, error) {
	c := config.New(config.WithSource(file.NewSource(path)))
	defer c.Close()

	if err := c.Load(); err != nil {
		return nil, err
	}
	var bc conf.Bootstrap
	if err := c.Scan(&bc); err != nil {
		return nil, err
	}
	if bc.Server == nil || bc.Server.Http == nil {
		return nil, errors.New("server.http is required")
	}
	if bc.Data == nil || bc.Data.Database == nil {
		return nil, errors.New("data.database is required")
	}
	if bc.Pulse == nil {
		// 未配置时只提供报告查询，不允许触发运行
		bc.Pulse = &conf.Pulse{}
	}
	return &bc, nil
}

func main() {
	flag.Parse()
	logger := log.With(log.NewStdLogger(os.Stdout),
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
	)

	bc, err := loadBootstrap(flagconf)
	if err != nil {
		panic(err)
	}
	if bc.Pulse.Config == "" {
		log.NewHelper(logger).Warn("pulse.config 为空，POST /v1/runs 将返回 503")
	}

	app, cleanup, err := initApp(bc.Server, bc.Data, bc.Pulse, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	if err := app.Run(); err != nil {
		panic(err)
	}
}
