package analysis

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/logger"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/observability"
)

var (
	// ErrTaskFailure 任务返回错误或没有产出结果
	ErrTaskFailure = errors.New("task failed")
	// ErrTaskTimeout 任务超出自身时间预算
	ErrTaskTimeout = errors.New("timeout")
)

// Runner 并行执行分析任务，任何一个任务的失败都不影响其他任务
type Runner struct {
	timeout time.Duration
}

// NewRunner 创建执行器，timeout 为单个任务的时间预算
func NewRunner(timeout time.Duration) *Runner {
	return &Runner{timeout: timeout}
}

type taskResult struct {
	result     model.Result
	confidence float64
	err        error
}

// Run 执行全部任务，返回顺序与 tasks 一致
//
// 任务只能看到自己声明的数据。超时的任务会被放弃，其结果不再被读取。
func (r *Runner) Run(ctx context.Context, tasks []Task, fetched map[string]model.FetchOutcome) []model.AnalysisOutcome {
	outs := make([]model.AnalysisOutcome, len(tasks))
	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t Task) {
			defer wg.Done()
			outs[i] = r.runOne(ctx, t, NewInputs(t.Needs(), fetched))
		}(i, t)
	}
	wg.Wait()
	return outs
}

func (r *Runner) runOne(ctx context.Context, t Task, in *Inputs) model.AnalysisOutcome {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "analysis.task", attribute.String("task", t.Name()))

	taskCtx := ctx
	var cancel context.CancelFunc = func() {}
	if r.timeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	defer cancel()

	// 缓冲为 1，被放弃的任务写入后直接退出
	done := make(chan taskResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Log.Errorf("任务 %s panic: %v\n%s", t.Name(), rec, debug.Stack())
				done <- taskResult{err: fmt.Errorf("panic: %v", rec)}
			}
		}()
		res, conf, err := t.Analyze(taskCtx, in)
		done <- taskResult{result: res, confidence: conf, err: err}
	}()

	out := model.AnalysisOutcome{TaskName: t.Name(), Degraded: in.Degraded()}
	var err error
	select {
	case tr := <-done:
		switch {
		case tr.err != nil:
			err = tr.err
		case tr.result == nil:
			err = fmt.Errorf("%w: no result", ErrTaskFailure)
		default:
			out.Result = tr.result
			out.Confidence = clamp(tr.confidence, 0, 1) * in.Coverage()
		}
	case <-taskCtx.Done():
		err = taskCtx.Err()
	}
	if err != nil && errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
		err = ErrTaskTimeout
	}
	out.Elapsed = time.Since(start)

	if err != nil {
		out.FailureReason = err.Error()
		logger.Log.Warnf("任务 %s 失败: %s (耗时 %s)", t.Name(), out.FailureReason, out.Elapsed)
	} else {
		logger.Log.Infof("任务 %s 完成，置信度 %.2f (耗时 %s)", t.Name(), out.Confidence, out.Elapsed)
	}
	observability.EndSpan(span, err)
	return out
}
