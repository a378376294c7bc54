package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/config"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/engine"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/logger"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/observability"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/render"
)

var (
	configPath string
	pretty     bool
	style      string
	olderThan  time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "macro_pulse",
	Short: "宏观市场多源分析报告",
	Long: `macro_pulse 从 FRED、Polymarket、行情与美联储新闻稿拉取数据，
并发执行货币政策、经济指标、预测市场情绪与资产联动分析，生成带置信度的综合报告。`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "执行一次完整分析并输出报告",
	RunE:  runReport,
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "缓存维护",
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "删除已过期的缓存条目",
	RunE:  runPrune,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "app/macro_pulse/configs/config.yaml", "配置文件路径")
	runCmd.Flags().BoolVar(&pretty, "pretty", false, "在终端输出渲染后的报告")
	runCmd.Flags().StringVar(&style, "style", "", "终端渲染主题（dark / light / notty），为空时自动选择")
	pruneCmd.Flags().DurationVar(&olderThan, "older-than", 0, "只删除在该时长之前就已过期的条目")

	cacheCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cacheCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup 加载配置并初始化日志与链路追踪
func setup() (*config.Config, func(), error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("无法加载配置文件: %w", err)
	}
	if err := logger.InitLogger(cfg.Log.Level, cfg.Log.File); err != nil {
		return nil, nil, fmt.Errorf("无法初始化日志: %w", err)
	}
	shutdown, err := observability.InitTracing(cfg.Tracing.Exporter, "macro_pulse")
	if err != nil {
		return nil, nil, err
	}
	return cfg, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			log.Printf("关闭链路追踪失败: %v", err)
		}
	}, nil
}

func runReport(cmd *cobra.Command, _ []string) error {
	cfg, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var extra []engine.Sink
	if pretty {
		extra = append(extra, render.NewTerminal(cmd.OutOrStdout(), style, 0))
	}
	e, err := engine.NewEngine(ctx, cfg, extra...)
	if err != nil {
		return err
	}
	defer e.Close()

	runID := uuid.NewString()
	logger.Log.Infof("启动宏观脉搏，运行 ID: %s", runID)
	report, err := e.Run(ctx, engine.RunOptions{RunID: runID})
	if err != nil {
		return err
	}

	logger.Log.Infof("运行完成: 置信度 %.0f%%, 缺失任务 %v, 冲突 %d",
		report.OverallConfidence*100, report.MissingTasks, len(report.Conflicts))
	if report.Degraded() {
		logger.Log.Warn("本次报告为降级报告，部分数据来自过期缓存或缺失")
	}
	return nil
}

func runPrune(cmd *cobra.Command, _ []string) error {
	cfg, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	e, err := engine.NewEngine(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	n, err := e.PruneCache(cmd.Context(), olderThan)
	if err != nil {
		return fmt.Errorf("清理缓存失败: %w", err)
	}
	logger.Log.Infof("已删除 %d 个过期缓存条目", n)
	return nil
}
