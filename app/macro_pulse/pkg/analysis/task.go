package analysis

import (
	"context"
	"math"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/config"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/llm"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
)

// 任务名
const (
	TaskFed         = "fed"
	TaskEcon        = "econ"
	TaskSentiment   = "sentiment"
	TaskCorrelation = "correlation"
)

// Task 一个独立的分析任务
//
// Needs 在运行前静态声明所需数据；Analyze 只能通过 Inputs 读取这些数据，
// 返回结构化结论与 [0,1] 的置信度。
type Task interface {
	Name() string
	Needs() []model.DataRequest
	Analyze(ctx context.Context, in *Inputs) (model.Result, float64, error)
}

// DefaultTasks 构建全部分析任务，client 为 nil 时使用规则判断
func DefaultTasks(cfg *config.Config, client *llm.Client) []Task {
	j := judge{client: client, temperature: cfg.LLM.Temperature}
	return []Task{
		NewFedTask(cfg.Tasks, j),
		NewEconTask(j),
		NewSentimentTask(j),
		NewCorrelationTask(cfg.Tasks, j),
	}
}

// judge 有 LLM 时请求结构化判断
type judge struct {
	client      *llm.Client
	temperature float32
}

func (j judge) enabled() bool { return j.client != nil }

func (j judge) ask(ctx context.Context, system, user string, out llm.Validator) error {
	return j.client.CompleteJSON(ctx, system, user, j.temperature, out)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func ptr[T any](v T) *T { return &v }
