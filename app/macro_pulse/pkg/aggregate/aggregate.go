package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/logger"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/observability"
)

// ErrInvalidTransition 聚合状态机的非法跳转，是唯一会中止运行的错误
var ErrInvalidTransition = errors.New("invalid aggregation state transition")

// State 聚合阶段
type State int

const (
	Collecting State = iota
	RulesEvaluated
	Scored
	Finalized
)

func (s State) String() string {
	switch s {
	case Collecting:
		return "collecting"
	case RulesEvaluated:
		return "rules-evaluated"
	case Scored:
		return "scored"
	case Finalized:
		return "finalized"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// advance 只允许按顺序前进一步
func (s *State) advance(to State) error {
	if to != *s+1 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, *s, to)
	}
	*s = to
	return nil
}

// Input 一次聚合所需的全部数据
type Input struct {
	RunID    string
	Declared []string // 本次运行声明的任务名
	Outcomes []model.AnalysisOutcome
	Fetched  []model.FetchOutcome
}

// Aggregator 合并任务结论，检测冲突并打分
type Aggregator struct {
	rules  []Rule
	editor Editor // 可为 nil
	now    func() time.Time
}

// NewAggregator 创建聚合器，editor 为 nil 时使用确定性成稿
func NewAggregator(rules []Rule, editor Editor) *Aggregator {
	return &Aggregator{rules: rules, editor: editor, now: time.Now}
}

// Aggregate 依次经过 Collecting → RulesEvaluated → Scored → Finalized 生成报告
//
// 任务失败与数据降级都只体现在报告里，不会返回错误。
func (a *Aggregator) Aggregate(ctx context.Context, in Input) (report *model.FinalReport, err error) {
	ctx, span := observability.StartSpan(ctx, "aggregate", attribute.String("run_id", in.RunID))
	defer func() { observability.EndSpan(span, err) }()

	state := Collecting
	order, byTask := collect(in)

	if err := state.advance(RulesEvaluated); err != nil {
		return nil, err
	}
	conflicts := a.evaluate(byTask)

	if err := state.advance(Scored); err != nil {
		return nil, err
	}
	confidence := score(byTask)

	if err := state.advance(Finalized); err != nil {
		return nil, err
	}
	var missing []string
	ordered := make([]model.AnalysisOutcome, 0, len(order))
	for _, name := range order {
		o := byTask[name]
		ordered = append(ordered, o)
		if !o.Succeeded() {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)

	draft := Draft{Outcomes: ordered, Conflicts: conflicts, MissingTasks: missing, Confidence: confidence}
	edition := a.edit(ctx, draft)

	report = &model.FinalReport{
		RunID:             in.RunID,
		GeneratedAt:       a.now(),
		Summary:           edition.Summary,
		Highlights:        edition.Highlights,
		Advice:            edition.Advice,
		OverallConfidence: confidence,
		OutcomesByTask:    byTask,
		Conflicts:         conflicts,
		MissingTasks:      missing,
		Provenance:        provenance(in.Fetched),
	}
	logger.Log.Infof("报告 %s 生成完成: 置信度 %.2f, 冲突 %d, 缺失任务 %v", in.RunID, confidence, len(conflicts), missing)
	return report, nil
}

// collect 声明过但没有结果的任务记为失败
func collect(in Input) ([]string, map[string]model.AnalysisOutcome) {
	byTask := make(map[string]model.AnalysisOutcome, len(in.Declared))
	var order []string
	for _, o := range in.Outcomes {
		if _, dup := byTask[o.TaskName]; !dup {
			order = append(order, o.TaskName)
		}
		byTask[o.TaskName] = o
	}
	for _, name := range in.Declared {
		if _, ok := byTask[name]; !ok {
			order = append(order, name)
			byTask[name] = model.AnalysisOutcome{TaskName: name, FailureReason: "no outcome"}
		}
	}
	return order, byTask
}

func (a *Aggregator) evaluate(byTask map[string]model.AnalysisOutcome) []model.ConflictFinding {
	conflicts := []model.ConflictFinding{}
	for _, r := range a.rules {
		if f, ok := r.Evaluate(byTask); ok {
			conflicts = append(conflicts, f)
		}
	}
	return conflicts
}

// score 成功任务置信度的平均值，全部失败为 0
func score(byTask map[string]model.AnalysisOutcome) float64 {
	var sum float64
	var n int
	for _, o := range byTask {
		if o.Succeeded() {
			sum += o.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func (a *Aggregator) edit(ctx context.Context, d Draft) Edition {
	if a.editor == nil {
		return DraftEdition(d)
	}
	e, err := a.editor.Edit(ctx, d)
	if err != nil {
		logger.Log.Warnf("编辑失败，使用确定性成稿: %v", err)
		return DraftEdition(d)
	}
	return e
}

func provenance(fetched []model.FetchOutcome) []model.FetchNote {
	notes := make([]model.FetchNote, 0, len(fetched))
	for _, f := range fetched {
		notes = append(notes, model.FetchNote{
			Key:     f.Request.Key(),
			Tier:    f.Tier,
			Error:   f.ErrorString(),
			Fetched: f.FetchedAt,
		})
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].Key < notes[j].Key })
	return notes
}
