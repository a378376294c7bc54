package aggregate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/llm"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
)

// Draft 交给编辑的素材
type Draft struct {
	Outcomes     []model.AnalysisOutcome
	Conflicts    []model.ConflictFinding
	MissingTasks []string
	Confidence   float64
}

func (d Draft) allFailed() bool {
	for _, o := range d.Outcomes {
		if o.Succeeded() {
			return false
		}
	}
	return true
}

// Edition 报告的文字部分
type Edition struct {
	Summary    string   `json:"tldr"`
	Highlights []string `json:"highlights"`
	Advice     []string `json:"investment_advice"`
}

func (e *Edition) Validate() error {
	var errs []error
	if strings.TrimSpace(e.Summary) == "" {
		errs = append(errs, errors.New("tldr is empty"))
	}
	if n := utf8.RuneCountInString(e.Summary); n > 300 {
		errs = append(errs, fmt.Errorf("tldr too long: %d runes", n))
	}
	if len(e.Highlights) == 0 {
		errs = append(errs, errors.New("highlights is empty"))
	}
	return errors.Join(errs...)
}

// Editor 撰写报告摘要、亮点与建议
type Editor interface {
	Edit(ctx context.Context, d Draft) (Edition, error)
}

// DraftEdition 不依赖 LLM 的确定性成稿
func DraftEdition(d Draft) Edition {
	if d.allFailed() {
		return Edition{
			Summary: "本次分析因数据采集问题无法完成，所有分析任务均未产出结果。建议检查 API 配置和网络连接后重试。",
			Highlights: []string{
				"所有分析任务失败",
				"建议检查 FRED API Key 是否正确",
				"建议检查 LLM API Key 是否有效",
				"建议确认网络连接状态",
			},
			Advice: []string{"由于分析数据不完整，本次无法提供投资建议，请在系统恢复后重新执行分析。"},
		}
	}

	var e Edition
	var summaries []string
	for _, o := range d.Outcomes {
		if !o.Succeeded() {
			continue
		}
		if s := o.Result.Summary(); s != "" {
			summaries = append(summaries, s)
		}
		e.Highlights = append(e.Highlights, o.Result.Highlights()...)
	}
	e.Summary = strings.Join(summaries, "")
	for _, c := range d.Conflicts {
		e.Highlights = append(e.Highlights, "冲突："+c.Message)
	}
	if len(e.Highlights) == 0 {
		e.Highlights = []string{fmt.Sprintf("整体置信度 %.2f", d.Confidence)}
	}

	switch {
	case len(d.Conflicts) > 0:
		e.Advice = append(e.Advice, fmt.Sprintf("各维度信号存在 %d 处矛盾，建议控制仓位集中度，等待信号收敛后再加仓。", len(d.Conflicts)))
	default:
		e.Advice = append(e.Advice, "各维度信号基本一致，维持现有配置，关注下一次数据发布。")
	}
	if len(d.MissingTasks) > 0 {
		e.Advice = append(e.Advice, fmt.Sprintf("以下分析缺失：%s，结论仅供参考。", strings.Join(d.MissingTasks, "、")))
	}
	return e
}

// LLMEditor 由 LLM 撰写报告文字
type LLMEditor struct {
	client      *llm.Client
	temperature float32
}

// NewLLMEditor 创建 LLM 编辑
func NewLLMEditor(client *llm.Client, temperature float32) *LLMEditor {
	return &LLMEditor{client: client, temperature: temperature}
}

func (e *LLMEditor) Edit(ctx context.Context, d Draft) (Edition, error) {
	if d.allFailed() {
		return DraftEdition(d), nil
	}
	var out Edition
	if err := e.client.CompleteJSON(ctx, editorSystemPrompt, editorUserPrompt(d), e.temperature, &out); err != nil {
		return Edition{}, err
	}
	return out, nil
}

const editorSystemPrompt = `你是一位宏观市场报告的主编，负责整合货币政策、经济指标、预测市场与资产联动四个方向的分析。
任务：交叉比对各分析结论，找出逻辑矛盾，用简洁的语言写出报告。

只输出一个 JSON 对象，不要输出其他内容，字段如下：
{"tldr": "三句话总结，最多 200 字", "highlights": ["深度亮点"], "investment_advice": ["针对宏观风险的具体建议"]}

原则：已检测到的冲突必须在亮点或建议中体现；置信度低的分析要说明不确定性。`

func editorUserPrompt(d Draft) string {
	var b strings.Builder
	fmt.Fprintf(&b, "整体置信度：%.2f\n\n", d.Confidence)
	for _, o := range d.Outcomes {
		if !o.Succeeded() {
			fmt.Fprintf(&b, "【%s】分析失败：%s\n\n", o.TaskName, o.FailureReason)
			continue
		}
		fmt.Fprintf(&b, "【%s】置信度 %.2f\n%s\n", o.TaskName, o.Confidence, o.Result.Summary())
		for _, h := range o.Result.Highlights() {
			b.WriteString("- " + h + "\n")
		}
		b.WriteString("\n")
	}
	if len(d.Conflicts) > 0 {
		b.WriteString("【已检测到的冲突】\n")
		for _, c := range d.Conflicts {
			b.WriteString("- " + c.Message + "\n")
		}
	}
	return b.String()
}
