package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/aggregate"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/analysis"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/archive"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/cache"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/config"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/fetch"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/llm"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/logger"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/observability"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/render"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/retry"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/source/factory"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/storage"
)

// publishTimeout 运行截止后输出端仍可使用的时间
const publishTimeout = 30 * time.Second

// Sink 报告输出端，失败只记录日志
type Sink interface {
	Name() string
	Publish(ctx context.Context, r *model.FinalReport) error
}

// Engine 一次运行的编排器：拉取数据 → 并发分析 → 聚合 → 输出
type Engine struct {
	store       cache.Store
	coordinator *fetch.Coordinator
	tasks       []analysis.Task
	runner      *analysis.Runner
	aggregator  *aggregate.Aggregator
	sinks       []Sink
	timeout     time.Duration
	closers     []func() error
}

// Components 组装引擎所需的组件，测试中直接注入
type Components struct {
	Store       cache.Store
	Routes      map[string]fetch.Route
	Policy      retry.Policy
	Tasks       []analysis.Task
	Aggregator  *aggregate.Aggregator
	Sinks       []Sink
	Timeout     time.Duration
	TaskTimeout time.Duration
	Concurrency int
}

// New 由已创建好的组件组装引擎
func New(c Components) *Engine {
	agg := c.Aggregator
	if agg == nil {
		agg = aggregate.NewAggregator(aggregate.DefaultRules(), nil)
	}
	return &Engine{
		store:       c.Store,
		coordinator: fetch.NewCoordinator(c.Store, c.Routes, c.Policy, c.Concurrency),
		tasks:       c.Tasks,
		runner:      analysis.NewRunner(c.TaskTimeout),
		aggregator:  agg,
		sinks:       c.Sinks,
		timeout:     c.Timeout,
	}
}

// NewEngine 根据配置创建引擎实例，extra 为附加的输出端（如终端）
func NewEngine(ctx context.Context, cfg *config.Config, extra ...Sink) (*Engine, error) {
	store, err := cache.New(cfg.Cache, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("缓存初始化失败: %w", err)
	}
	closers := []func() error{store.Close}
	fail := func(err error) (*Engine, error) {
		for _, c := range closers {
			_ = c()
		}
		return nil, err
	}

	routes, err := factory.NewRoutes(cfg)
	if err != nil {
		return fail(fmt.Errorf("数据源初始化失败: %w", err))
	}

	policy := retry.FromConfig(cfg.Retry)
	var client *llm.Client
	if cfg.LLM.Enabled() {
		chatModel, err := llm.NewChatModel(ctx, cfg.LLM)
		if err != nil {
			return fail(fmt.Errorf("LLM 初始化失败: %w", err))
		}
		client = llm.NewClient(chatModel, cfg.Concurrency, policy, cfg.LLM.MaxTokens)
	} else {
		logger.Log.Info("未配置 LLM，分析任务使用确定性规则判断")
	}

	rules, err := aggregate.RulesFromConfig(cfg.Rules)
	if err != nil {
		return fail(fmt.Errorf("冲突规则无效: %w", err))
	}
	var editor aggregate.Editor
	if client != nil {
		editor = aggregate.NewLLMEditor(client, cfg.LLM.EditorTemperature)
	}

	sinks := []Sink{render.NewFileWriter(cfg.Output.Dir)}
	if cfg.DB.Enabled() {
		st, err := storage.NewStorage(cfg.DB)
		if err != nil {
			return fail(fmt.Errorf("报告数据库初始化失败: %w", err))
		}
		closers = append(closers, st.Close)
		sinks = append(sinks, st)
	}
	if cfg.Archive.Endpoint != "" {
		arc, err := archive.NewObjectArchive(cfg.Archive)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, arc)
	}
	sinks = append(sinks, extra...)

	e := New(Components{
		Store:       store,
		Routes:      routes,
		Policy:      policy,
		Tasks:       analysis.DefaultTasks(cfg, client),
		Aggregator:  aggregate.NewAggregator(rules, editor),
		Sinks:       sinks,
		Timeout:     cfg.Run.Timeout,
		TaskTimeout: cfg.Run.TaskTimeout,
		Concurrency: cfg.Run.FetchConcurrency,
	})
	e.closers = closers
	return e, nil
}

// Close 释放缓存与数据库连接
func (e *Engine) Close() error {
	var errs []error
	for _, c := range e.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// RunOptions 运行选项
type RunOptions struct {
	RunID            string
	ProgressCallback func(status string, progress int)
}

// Run 执行一次完整运行
//
// 数据缺失与任务失败只会降低报告质量，只有聚合阶段的不变式被破坏时才返回错误。
func (e *Engine) Run(ctx context.Context, opts RunOptions) (report *model.FinalReport, err error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	progress := func(status string, p int) {
		if opts.ProgressCallback != nil {
			opts.ProgressCallback(status, p)
		}
	}

	ctx, span := observability.StartSpan(ctx, "run", attribute.String("run_id", runID))
	defer func() { observability.EndSpan(span, err) }()

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	logger.Log.Infof("开始运行 [%s]，共 %d 个分析任务", runID, len(e.tasks))
	progress("fetching", 10)

	reqs := CollectRequests(e.tasks)
	fetchStart := time.Now()
	outs := e.coordinator.Resolve(runCtx, reqs)
	fetched := make(map[string]model.FetchOutcome, len(outs))
	for _, o := range outs {
		fetched[o.Request.Key()] = o
	}
	logger.Log.Infof("数据拉取完成: %d 个请求，耗时 %v", len(reqs), time.Since(fetchStart).Round(time.Millisecond))

	progress("analyzing", 40)
	outcomes := e.runner.Run(runCtx, e.tasks, fetched)

	progress("aggregating", 80)
	declared := make([]string, len(e.tasks))
	for i, t := range e.tasks {
		declared[i] = t.Name()
	}
	// 运行截止后聚合仍需完成
	aggCtx := runCtx
	if runCtx.Err() != nil {
		aggCtx = context.WithoutCancel(ctx)
	}
	report, err = e.aggregator.Aggregate(aggCtx, aggregate.Input{
		RunID:    runID,
		Declared: declared,
		Outcomes: outcomes,
		Fetched:  outs,
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate run %s failed: %w", runID, err)
	}

	progress("publishing", 90)
	e.publish(context.WithoutCancel(ctx), report)
	progress("completed", 100)
	return report, nil
}

// publish 并发写入所有输出端
func (e *Engine) publish(ctx context.Context, r *model.FinalReport) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	var g errgroup.Group
	for _, s := range e.sinks {
		g.Go(func() error {
			if err := s.Publish(ctx, r); err != nil {
				logger.Log.Errorf("报告输出失败 [%s]: %v", s.Name(), err)
				return nil
			}
			logger.Log.Debugf("报告已输出到 [%s]", s.Name())
			return nil
		})
	}
	_ = g.Wait()
}

// PruneCache 删除 olderThan 之前就已过期的缓存条目
func (e *Engine) PruneCache(ctx context.Context, olderThan time.Duration) (int, error) {
	return e.store.Prune(ctx, time.Now().Add(-olderThan))
}

// CollectRequests 合并所有任务的数据需求，同一键取最严格的新鲜度
func CollectRequests(tasks []analysis.Task) []model.DataRequest {
	byKey := make(map[string]model.DataRequest)
	for _, t := range tasks {
		for _, req := range t.Needs() {
			key := req.Key()
			prev, ok := byKey[key]
			if !ok {
				byKey[key] = req
				continue
			}
			if req.Freshness > 0 && (prev.Freshness <= 0 || req.Freshness < prev.Freshness) {
				prev.Freshness = req.Freshness
				byKey[key] = prev
			}
		}
	}

	reqs := make([]model.DataRequest, 0, len(byKey))
	for _, req := range byKey {
		reqs = append(reqs, req)
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].Key() < reqs[j].Key() })
	return reqs
}
