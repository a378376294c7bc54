package server

import (
	"context"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/iWorld-y/macro_pulse/app/display/internal/conf"
	"github.com/iWorld-y/macro_pulse/app/display/internal/repo"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/config"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/engine"
	pulseLogger "github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/logger"
)

// NewPulseRunner 按 macro_pulse 配置初始化引擎，未配置时返回 nil
func NewPulseRunner(c *conf.Pulse, logger log.Logger) (repo.PulseRunner, func(), error) {
	helper := log.NewHelper(logger)
	if c == nil || c.Config == "" {
		helper.Info("pulse.config is empty, POST /v1/runs is disabled")
		return nil, func() {}, nil
	}

	cfg, err := config.LoadConfig(c.Config)
	if err != nil {
		return nil, nil, err
	}

	if err := pulseLogger.InitLogger(cfg.Log.Level, cfg.Log.File); err != nil {
		helper.Errorf("Failed to init macro_pulse logger: %v", err)
		_ = pulseLogger.InitLogger("info", "") // 降级处理
	}

	eng, err := engine.NewEngine(context.Background(), cfg)
	if err != nil {
		helper.Errorf("Failed to init engine: %v", err)
		return nil, nil, err
	}

	cleanup := func() {
		helper.Info("Cleaning up macro_pulse engine")
		if err := eng.Close(); err != nil {
			helper.Errorf("close engine failed: %v", err)
		}
	}
	return eng, cleanup, nil
}
