package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/config"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
)

// 通胀趋势
const (
	TrendRising  = "rising"
	TrendFalling = "falling"
	TrendStable  = "stable"
)

// 就业状况
const (
	EmploymentStrong = "strong"
	EmploymentWeak   = "weak"
	EmploymentStable = "stable"
)

// 经济周期
const (
	CycleExpansion   = "expansion"
	CycleContraction = "contraction"
	CycleNeutral     = "neutral"
)

const (
	seriesCPI     = "CPIAUCSL"
	seriesUnrate  = "UNRATE"
	seriesPayroll = "PAYEMS"
	seriesPCE     = "PCEPI"

	// minCoreIndicators CPI、失业率、非农至少要有两项
	minCoreIndicators = 2
)

// EconResult 经济指标分析结论
type EconResult struct {
	SoftLandingScore float64            `json:"soft_landing_score"`
	InflationTrend   string             `json:"inflation_trend"`
	EmploymentStatus string             `json:"employment_status"`
	Cycle            string             `json:"cycle"`
	KeyIndicators    map[string]float64 `json:"key_indicators"`
	Text             string             `json:"summary"`
}

func (r *EconResult) Fields() map[string]any {
	f := map[string]any{
		"soft_landing_score": r.SoftLandingScore,
		"inflation_trend":    r.InflationTrend,
		"employment_status":  r.EmploymentStatus,
		"cycle":              r.Cycle,
	}
	for k, v := range r.KeyIndicators {
		f[k] = v
	}
	return f
}

func (r *EconResult) Highlights() []string {
	out := []string{fmt.Sprintf("软着陆评分 %.1f/10（%s）", r.SoftLandingScore, cycleLabel(r.Cycle))}
	if v, ok := r.KeyIndicators["cpi_yoy"]; ok {
		out = append(out, fmt.Sprintf("CPI 同比 %.2f%%，通胀%s", v, trendLabel(r.InflationTrend)))
	}
	if v, ok := r.KeyIndicators["unemployment_rate"]; ok {
		out = append(out, fmt.Sprintf("失业率 %.1f%%，就业%s", v, employmentLabel(r.EmploymentStatus)))
	}
	return out
}

func (r *EconResult) Summary() string { return r.Text }

type econJudgment struct {
	SoftLandingScore *float64 `json:"soft_landing_score"`
	Summary          string   `json:"summary"`
	Confidence       *float64 `json:"confidence"`
}

func (j *econJudgment) Validate() error {
	return errors.Join(
		requireRange("soft_landing_score", j.SoftLandingScore, 0, 10),
		requireRange("confidence", j.Confidence, 0, 1),
		validateSummary(j.Summary),
	)
}

type econFacts struct {
	cpiYoY, cpiYoYPrev *float64
	unrate             *float64
	nfpChange          *float64 // 千人
	pceYoY             *float64
}

func (f econFacts) core() int {
	n := 0
	for _, v := range []*float64{f.cpiYoY, f.unrate, f.nfpChange} {
		if v != nil {
			n++
		}
	}
	return n
}

func (f econFacts) indicators() map[string]float64 {
	out := map[string]float64{}
	set := func(k string, v *float64) {
		if v != nil {
			out[k] = round2(*v)
		}
	}
	set("cpi_yoy", f.cpiYoY)
	set("unemployment_rate", f.unrate)
	set("nfp_change", f.nfpChange)
	set("pce_yoy", f.pceYoY)
	return out
}

// EconTask 经济指标分析
type EconTask struct {
	judge judge
}

// NewEconTask 创建经济指标分析任务
func NewEconTask(j judge) *EconTask {
	return &EconTask{judge: j}
}

func (t *EconTask) Name() string { return TaskEcon }

func (t *EconTask) Needs() []model.DataRequest {
	ids := []string{seriesCPI, seriesUnrate, seriesPayroll, seriesPCE}
	needs := make([]model.DataRequest, 0, len(ids))
	for _, id := range ids {
		needs = append(needs, model.DataRequest{SourceKey: config.SourceFRED, ItemID: id})
	}
	return needs
}

func (t *EconTask) Analyze(ctx context.Context, in *Inputs) (model.Result, float64, error) {
	facts := collectEcon(in)
	if n := facts.core(); n < minCoreIndicators {
		return nil, 0, fmt.Errorf("%w: only %d of CPI/UNRATE/PAYEMS available", ErrInputMissing, n)
	}

	res := &EconResult{
		InflationTrend:   inflationTrend(facts),
		EmploymentStatus: employmentStatus(facts),
		KeyIndicators:    facts.indicators(),
	}

	confidence := 0.6
	if facts.core() == 3 {
		confidence = 0.75
	}
	if t.judge.enabled() {
		var j econJudgment
		if err := t.judge.ask(ctx, econSystemPrompt, econUserPrompt(facts, res), &j); err != nil {
			return nil, 0, err
		}
		res.SoftLandingScore, res.Text, confidence = *j.SoftLandingScore, j.Summary, *j.Confidence
	} else {
		res.SoftLandingScore = softLandingScore(facts)
	}
	res.SoftLandingScore = round2(res.SoftLandingScore)
	res.Cycle = econCycle(res.SoftLandingScore)
	if res.Text == "" {
		res.Text = econSummary(res)
	}
	return res, confidence, nil
}

func collectEcon(in *Inputs) econFacts {
	var f econFacts
	values := func(id string) []float64 {
		var s model.Series
		if in.Decode(model.RequestKey(config.SourceFRED, id), &s) != nil {
			return nil
		}
		return s.Values()
	}

	if v := values(seriesCPI); len(v) > 12 && v[12] != 0 {
		f.cpiYoY = ptr((v[0]/v[12] - 1) * 100)
		if len(v) > 13 && v[13] != 0 {
			f.cpiYoYPrev = ptr((v[1]/v[13] - 1) * 100)
		}
	}
	if v := values(seriesUnrate); len(v) > 0 {
		f.unrate = ptr(v[0])
	}
	if v := values(seriesPayroll); len(v) > 1 {
		f.nfpChange = ptr(v[0] - v[1])
	}
	if v := values(seriesPCE); len(v) > 12 && v[12] != 0 {
		f.pceYoY = ptr((v[0]/v[12] - 1) * 100)
	}
	return f
}

// softLandingScore 从 5 分起按通胀、失业与新增就业加减，截断到 [0,10]
func softLandingScore(f econFacts) float64 {
	score := 5.0
	if f.cpiYoY != nil {
		switch {
		case *f.cpiYoY <= 2.5:
			score += 2
		case *f.cpiYoY > 4:
			score -= 2
		}
	}
	if f.unrate != nil {
		switch {
		case *f.unrate < 4:
			score += 2
		case *f.unrate > 5.5:
			score -= 2
		}
	}
	if f.nfpChange != nil {
		switch {
		case *f.nfpChange > 200:
			score++
		case *f.nfpChange < 0:
			score -= 2
		}
	}
	return clamp(score, 0, 10)
}

func inflationTrend(f econFacts) string {
	if f.cpiYoY == nil || f.cpiYoYPrev == nil {
		return TrendStable
	}
	switch d := *f.cpiYoY - *f.cpiYoYPrev; {
	case d > 0.1:
		return TrendRising
	case d < -0.1:
		return TrendFalling
	default:
		return TrendStable
	}
}

func employmentStatus(f econFacts) string {
	switch {
	case f.unrate != nil && *f.unrate < 4 && f.nfpChange != nil && *f.nfpChange > 150:
		return EmploymentStrong
	case f.unrate != nil && *f.unrate > 5.5, f.nfpChange != nil && *f.nfpChange < 0:
		return EmploymentWeak
	default:
		return EmploymentStable
	}
}

func econCycle(score float64) string {
	switch {
	case score >= 6:
		return CycleExpansion
	case score < 4:
		return CycleContraction
	default:
		return CycleNeutral
	}
}

func cycleLabel(c string) string {
	switch c {
	case CycleExpansion:
		return "扩张"
	case CycleContraction:
		return "收缩"
	default:
		return "中性"
	}
}

func trendLabel(t string) string {
	switch t {
	case TrendRising:
		return "升温"
	case TrendFalling:
		return "降温"
	default:
		return "持平"
	}
}

func employmentLabel(s string) string {
	switch s {
	case EmploymentStrong:
		return "强劲"
	case EmploymentWeak:
		return "疲弱"
	default:
		return "稳定"
	}
}

func econSummary(r *EconResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "软着陆评分 %.1f/10，经济处于%s阶段；通胀%s，就业%s", r.SoftLandingScore,
		cycleLabel(r.Cycle), trendLabel(r.InflationTrend), employmentLabel(r.EmploymentStatus))
	if v, ok := r.KeyIndicators["nfp_change"]; ok {
		fmt.Fprintf(&b, "，非农新增 %.0f 千人", v)
	}
	b.WriteString("。")
	return b.String()
}

const econSystemPrompt = `你是一位宏观经济学家，擅长判断美国经济是否能实现软着陆。
根据给出的 CPI、失业率、非农与 PCE 数据进行评估。

只输出一个 JSON 对象，不要输出其他内容，字段如下：
{"soft_landing_score": 0.0 到 10.0（0 硬着陆，10 完美软着陆）, "summary": "200 字以内的经济状况总结", "confidence": 0.0 到 1.0}

原则：基于数据客观评分；数据缺失时降低 confidence。`

func econUserPrompt(f econFacts, r *EconResult) string {
	var b strings.Builder
	b.WriteString("请分析以下经济指标：\n\n")
	line := func(label string, v *float64, unit string) {
		if v == nil {
			fmt.Fprintf(&b, "- %s: 未提供\n", label)
			return
		}
		fmt.Fprintf(&b, "- %s: %.2f%s\n", label, *v, unit)
	}
	line("CPI 同比", f.cpiYoY, "%")
	line("上期 CPI 同比", f.cpiYoYPrev, "%")
	line("失业率", f.unrate, "%")
	line("非农新增", f.nfpChange, " 千人")
	line("PCE 同比", f.pceYoY, "%")
	fmt.Fprintf(&b, "\n通胀趋势：%s；就业状况：%s\n", trendLabel(r.InflationTrend), employmentLabel(r.EmploymentStatus))
	return b.String()
}
