package aggregate

import (
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/analysis"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/config"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
)

// ErrInvalidRule 规则配置不合法
var ErrInvalidRule = errors.New("invalid rule")

// Condition 规则一侧：某个任务结论中某个字段与常量的比较
type Condition struct {
	Task  string
	Field string
	Op    string // == != < <= > >=
	Value any
}

// Rule 跨任务冲突规则，两侧条件同时成立时产生一条冲突
type Rule struct {
	ID      string
	Left    Condition
	Right   Condition
	message *template.Template
}

// messageData 消息模板可用的变量
type messageData struct {
	Left, Right         any
	LeftTask, RightTask string
}

// NewRule 创建规则并编译消息模板
func NewRule(id string, left, right Condition, message string) (Rule, error) {
	for _, c := range []Condition{left, right} {
		if c.Task == "" || c.Field == "" {
			return Rule{}, fmt.Errorf("%w %s: task and field are required", ErrInvalidRule, id)
		}
		if _, ok := compare[c.Op]; !ok {
			return Rule{}, fmt.Errorf("%w %s: unknown op %q", ErrInvalidRule, id, c.Op)
		}
	}
	tmpl, err := template.New(id).Option("missingkey=error").Parse(message)
	if err != nil {
		return Rule{}, fmt.Errorf("%w %s: %v", ErrInvalidRule, id, err)
	}
	return Rule{ID: id, Left: left, Right: right, message: tmpl}, nil
}

// MustRule 用于内置规则
func MustRule(id string, left, right Condition, message string) Rule {
	r, err := NewRule(id, left, right, message)
	if err != nil {
		panic(err)
	}
	return r
}

// Evaluate 两侧任务都成功且字段都存在时求值，否则跳过
func (r Rule) Evaluate(outcomes map[string]model.AnalysisOutcome) (model.ConflictFinding, bool) {
	lv, ok := fieldOf(outcomes, r.Left)
	if !ok {
		return model.ConflictFinding{}, false
	}
	rv, ok := fieldOf(outcomes, r.Right)
	if !ok {
		return model.ConflictFinding{}, false
	}
	if !r.Left.match(lv) || !r.Right.match(rv) {
		return model.ConflictFinding{}, false
	}

	involved := []string{r.Left.Task}
	if r.Right.Task != r.Left.Task {
		involved = append(involved, r.Right.Task)
	}
	var msg strings.Builder
	data := messageData{Left: lv, Right: rv, LeftTask: r.Left.Task, RightTask: r.Right.Task}
	if err := r.message.Execute(&msg, data); err != nil {
		msg.Reset()
		fmt.Fprintf(&msg, "%s: %s.%s=%v, %s.%s=%v", r.ID, r.Left.Task, r.Left.Field, lv, r.Right.Task, r.Right.Field, rv)
	}
	return model.ConflictFinding{RuleID: r.ID, InvolvedTasks: involved, Message: msg.String()}, true
}

func fieldOf(outcomes map[string]model.AnalysisOutcome, c Condition) (any, bool) {
	out, ok := outcomes[c.Task]
	if !ok || !out.Succeeded() {
		return nil, false
	}
	v, ok := out.Result.Fields()[c.Field]
	return v, ok
}

func (c Condition) match(v any) bool {
	return compare[c.Op](v, c.Value)
}

var compare = map[string]func(a, b any) bool{
	"==": func(a, b any) bool { return equal(a, b) },
	"!=": func(a, b any) bool { return !equal(a, b) },
	"<":  numeric(func(a, b float64) bool { return a < b }),
	"<=": numeric(func(a, b float64) bool { return a <= b }),
	">":  numeric(func(a, b float64) bool { return a > b }),
	">=": numeric(func(a, b float64) bool { return a >= b }),
}

func numeric(cmp func(a, b float64) bool) func(a, b any) bool {
	return func(a, b any) bool {
		x, ok1 := toFloat(a)
		y, ok2 := toFloat(b)
		return ok1 && ok2 && cmp(x, y)
	}
}

func equal(a, b any) bool {
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		return ok && x == y
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

// RulesFromConfig 配置中的规则，为空时返回默认规则集
func RulesFromConfig(cfgs []config.RuleConfig) ([]Rule, error) {
	if len(cfgs) == 0 {
		return DefaultRules(), nil
	}
	rules := make([]Rule, 0, len(cfgs))
	var errs []error
	for _, c := range cfgs {
		r, err := NewRule(c.ID, condition(c.Left), condition(c.Right), c.Message)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rules = append(rules, r)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return rules, nil
}

func condition(c config.ConditionConfig) Condition {
	return Condition{Task: c.Task, Field: c.Field, Op: c.Op, Value: c.Value}
}

// DefaultRules 内置的冲突规则
func DefaultRules() []Rule {
	const (
		fed  = analysis.TaskFed
		econ = analysis.TaskEcon
		sent = analysis.TaskSentiment
	)
	return []Rule{
		MustRule("dovish-fed-strong-economy",
			Condition{fed, "tone_index", "<", -0.3},
			Condition{econ, "soft_landing_score", ">", 7.0},
			`政策预期与经济数据可能背离：美联储偏鸽（指数 {{printf "%.2f" .Left}}）但经济表现强劲（软着陆评分 {{printf "%.1f" .Right}}/10）`),
		MustRule("hawkish-fed-weak-economy",
			Condition{fed, "tone_index", ">", 0.3},
			Condition{econ, "soft_landing_score", "<", 4.0},
			`政策立场与经济现实可能存在落差：美联储偏鹰（指数 {{printf "%.2f" .Left}}）但经济面临下行压力（软着陆评分仅 {{printf "%.1f" .Right}}/10）`),
		MustRule("anxious-market-strong-economy",
			Condition{sent, "market_anxiety_score", ">", 0.5},
			Condition{econ, "soft_landing_score", ">", 7.0},
			`市场情绪与经济基本面存在预期差：预测市场显示焦虑（指数 {{printf "%.2f" .Left}}）但经济数据乐观（软着陆评分 {{printf "%.1f" .Right}}/10）`),
		MustRule("optimistic-market-weak-economy",
			Condition{sent, "market_anxiety_score", "<", -0.5},
			Condition{econ, "soft_landing_score", "<", 4.0},
			`市场过度乐观的风险：预测市场显示乐观（指数 {{printf "%.2f" .Left}}）但经济数据堪忧（软着陆评分仅 {{printf "%.1f" .Right}}/10）`),
		MustRule("anxious-market-hawkish-fed",
			Condition{sent, "market_anxiety_score", ">", 0.4},
			Condition{fed, "tone_index", ">", 0.2},
			`市场压力与美联储立场分歧：预测市场显示焦虑（指数 {{printf "%.2f" .Left}}）但美联储维持鹰派立场（指数 {{printf "%.2f" .Right}}），可能存在政策风险`),
		MustRule("inverted-curve-soft-landing",
			Condition{fed, "yield_curve_status", "==", analysis.CurveInverted},
			Condition{econ, "soft_landing_score", ">", 6.0},
			`收益率曲线发出警讯：曲线倒挂通常预示衰退风险，但当前经济数据仍显示软着陆可能（评分 {{printf "%.1f" .Right}}/10），需持续观察`),
		MustRule("economy-expanding-sentiment-contracting",
			Condition{econ, "cycle", "==", analysis.CycleExpansion},
			Condition{sent, "cycle", "==", analysis.CycleContraction},
			`经济数据指向扩张，但预测市场情绪指向收缩，需警惕预期与现实的背离`),
	}
}
