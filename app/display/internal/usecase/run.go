package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"github.com/iWorld-y/macro_pulse/app/display/internal/domain"
	"github.com/iWorld-y/macro_pulse/app/display/internal/repo"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/engine"
)

// maxRunHistory 内存中保留的运行状态数量
const maxRunHistory = 50

// RunUseCase 在后台触发分析运行，同一时间只允许一次
type RunUseCase struct {
	runner repo.PulseRunner // 可为 nil
	log    *log.Helper

	mu      sync.Mutex
	active  string
	runs    map[string]*domain.Run
	order   []string
	wg      sync.WaitGroup
	newID   func() string
	baseCtx context.Context
}

// NewRunUseCase 创建运行业务逻辑实例
func NewRunUseCase(runner repo.PulseRunner, logger log.Logger) *RunUseCase {
	return &RunUseCase{
		runner:  runner,
		log:     log.NewHelper(logger),
		runs:    make(map[string]*domain.Run),
		newID:   uuid.NewString,
		baseCtx: context.Background(),
	}
}

// Start 启动一次后台运行，返回运行 ID
func (uc *RunUseCase) Start(_ context.Context) (*domain.Run, error) {
	if uc.runner == nil {
		return nil, errors.ServiceUnavailable("RUNNER_DISABLED", "pulse runner is not configured")
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.active != "" {
		return nil, errors.Conflict("RUN_IN_PROGRESS", "run "+uc.active+" is still in progress")
	}

	runID := uc.newID()
	run := &domain.Run{RunID: runID, Status: domain.RunRunning, Stage: "starting"}
	uc.active = runID
	uc.remember(run)

	uc.wg.Add(1)
	go uc.execute(runID)

	snapshot := *run
	return &snapshot, nil
}

func (uc *RunUseCase) execute(runID string) {
	defer uc.wg.Done()
	start := time.Now()
	uc.log.Infof("后台运行 [%s] 开始", runID)

	_, err := uc.runner.Run(uc.baseCtx, engine.RunOptions{
		RunID: runID,
		ProgressCallback: func(stage string, progress int) {
			uc.mu.Lock()
			defer uc.mu.Unlock()
			if r, ok := uc.runs[runID]; ok {
				r.Stage = stage
				r.Progress = progress
			}
		},
	})

	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.active = ""
	r, ok := uc.runs[runID]
	if !ok {
		return
	}
	if err != nil {
		r.Status = domain.RunFailed
		r.Error = err.Error()
		uc.log.Errorf("后台运行 [%s] 失败: %v", runID, err)
		return
	}
	r.Status = domain.RunCompleted
	r.Progress = 100
	uc.log.Infof("后台运行 [%s] 完成，耗时 %v", runID, time.Since(start).Round(time.Millisecond))
}

// remember 记录运行状态，超出上限时丢弃最早的记录；调用方需持有锁
func (uc *RunUseCase) remember(run *domain.Run) {
	uc.runs[run.RunID] = run
	uc.order = append(uc.order, run.RunID)
	for len(uc.order) > maxRunHistory {
		delete(uc.runs, uc.order[0])
		uc.order = uc.order[1:]
	}
}

// Get 查询运行状态
func (uc *RunUseCase) Get(_ context.Context, runID string) (*domain.Run, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	r, ok := uc.runs[runID]
	if !ok {
		return nil, errors.NotFound("RUN_NOT_FOUND", "run not found")
	}
	snapshot := *r
	return &snapshot, nil
}

// Wait 等待所有后台运行结束
func (uc *RunUseCase) Wait() {
	uc.wg.Wait()
}
