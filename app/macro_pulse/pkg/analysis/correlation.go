package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/config"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
)

// 相关强度
const (
	StrengthStrong   = "strong"
	StrengthModerate = "moderate"
	StrengthWeak     = "weak"
)

const (
	symbolDXY = "DX-Y.NYB"
	pairBTCQQ = "BTC-QQQ"
	pairBTCDX = "BTC-DX"

	// minAlignedPoints 少于该点数的资产对不计算相关系数
	minAlignedPoints    = 3
	correlationBaseConf = 0.7
)

// CorrelationResult 资产联动分析结论
type CorrelationResult struct {
	CorrelationMatrix map[string]float64 `json:"correlation_matrix"`
	Strength          map[string]string  `json:"strength"`
	ChangePct         map[string]float64 `json:"change_pct"`
	DXYChangePct      *float64           `json:"dxy_change_pct,omitempty"`
	RiskWarnings      []string           `json:"risk_warnings"`
	PortfolioImpact   map[string]string  `json:"portfolio_impact,omitempty"`
	Text              string             `json:"summary"`
}

func (r *CorrelationResult) Fields() map[string]any {
	f := map[string]any{"risk_warning_count": len(r.RiskWarnings)}
	for pair, v := range r.CorrelationMatrix {
		f["corr_"+pair] = v
	}
	if r.DXYChangePct != nil {
		f["dxy_change_pct"] = *r.DXYChangePct
	}
	return f
}

func (r *CorrelationResult) Highlights() []string {
	var out []string
	for _, pair := range []string{pairBTCQQ, pairBTCDX} {
		if v, ok := r.CorrelationMatrix[pair]; ok {
			out = append(out, fmt.Sprintf("%s 相关系数 %.2f（%s）", pair, v, strengthLabel(r.Strength[pair])))
		}
	}
	return append(out, r.RiskWarnings...)
}

func (r *CorrelationResult) Summary() string { return r.Text }

type correlationJudgment struct {
	RiskWarnings []string `json:"risk_warnings"`
	Summary      string   `json:"summary"`
	Confidence   *float64 `json:"confidence"`
}

func (j *correlationJudgment) Validate() error {
	return errors.Join(
		requireRange("confidence", j.Confidence, 0, 1),
		validateSummary(j.Summary),
	)
}

// CorrelationTask 资产联动分析
type CorrelationTask struct {
	assets    []string
	days      int
	portfolio []config.PortfolioItem
	judge     judge
}

// NewCorrelationTask 创建资产联动分析任务，持仓中的标的会追加到请求里
func NewCorrelationTask(cfg config.TasksConfig, j judge) *CorrelationTask {
	seen := map[string]bool{}
	var assets []string
	for _, s := range cfg.Assets {
		if !seen[s] {
			seen[s] = true
			assets = append(assets, s)
		}
	}
	for _, p := range cfg.Portfolio {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			assets = append(assets, p.Symbol)
		}
	}
	return &CorrelationTask{assets: assets, days: cfg.CorrelationDays, portfolio: cfg.Portfolio, judge: j}
}

func (t *CorrelationTask) Name() string { return TaskCorrelation }

func (t *CorrelationTask) Needs() []model.DataRequest {
	needs := make([]model.DataRequest, 0, len(t.assets))
	for _, s := range t.assets {
		needs = append(needs, model.DataRequest{SourceKey: config.SourceMarket, ItemID: s})
	}
	return needs
}

func (t *CorrelationTask) Analyze(ctx context.Context, in *Inputs) (model.Result, float64, error) {
	histories := map[string]model.PriceHistory{}
	for _, s := range t.assets {
		var h model.PriceHistory
		if in.Decode(model.RequestKey(config.SourceMarket, s), &h) == nil && len(h.Points) > 0 {
			histories[s] = h
		}
	}
	if len(histories) < 2 {
		return nil, 0, fmt.Errorf("%w: need price history for at least 2 assets, got %d", ErrInputMissing, len(histories))
	}

	res := &CorrelationResult{
		CorrelationMatrix: map[string]float64{},
		Strength:          map[string]string{},
		ChangePct:         map[string]float64{},
	}
	for i, a := range t.assets {
		ha, ok := histories[a]
		if !ok {
			continue
		}
		if c, ok := ha.ChangePct(); ok {
			res.ChangePct[a] = round2(c)
		}
		for _, b := range t.assets[i+1:] {
			hb, ok := histories[b]
			if !ok {
				continue
			}
			x, y := alignCloses(ha, hb, t.days)
			r, ok := pearson(x, y)
			if !ok {
				continue
			}
			pair := shortSymbol(a) + "-" + shortSymbol(b)
			res.CorrelationMatrix[pair] = round2(r)
			res.Strength[pair] = correlationStrength(r)
		}
	}
	if c, ok := res.ChangePct[symbolDXY]; ok {
		res.DXYChangePct = ptr(c)
	}
	res.RiskWarnings = riskWarnings(res)
	res.PortfolioImpact = t.portfolioImpact(histories)

	confidence := correlationBaseConf
	if t.judge.enabled() {
		var j correlationJudgment
		if err := t.judge.ask(ctx, correlationSystemPrompt, correlationUserPrompt(res), &j); err != nil {
			return nil, 0, err
		}
		res.RiskWarnings = mergeWarnings(res.RiskWarnings, j.RiskWarnings)
		res.Text, confidence = j.Summary, *j.Confidence
	}
	if res.Text == "" {
		res.Text = correlationSummary(res)
	}
	return res, confidence, nil
}

// alignCloses 按日期取交集后的收盘价，days > 0 时只保留最近 days 个点
func alignCloses(a, b model.PriceHistory, days int) ([]float64, []float64) {
	byDate := make(map[string]float64, len(b.Points))
	for _, p := range b.Points {
		byDate[p.Date] = p.Close
	}
	var x, y []float64
	for _, p := range a.Points {
		if v, ok := byDate[p.Date]; ok {
			x = append(x, p.Close)
			y = append(y, v)
		}
	}
	if days > 0 && len(x) > days {
		x, y = x[len(x)-days:], y[len(y)-days:]
	}
	return x, y
}

// pearson 皮尔逊相关系数，样本不足或方差为零时返回 false
func pearson(x, y []float64) (float64, bool) {
	n := len(x)
	if n < minAlignedPoints || n != len(y) {
		return 0, false
	}
	var mx, my float64
	for i := range x {
		mx += x[i]
		my += y[i]
	}
	mx /= float64(n)
	my /= float64(n)

	var sxy, sxx, syy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0, false
	}
	return clamp(sxy/math.Sqrt(sxx*syy), -1, 1), true
}

func shortSymbol(s string) string {
	s = strings.TrimSuffix(s, "-USD")
	return strings.TrimSuffix(s, "-Y.NYB")
}

func correlationStrength(r float64) string {
	switch a := math.Abs(r); {
	case a >= 0.7:
		return StrengthStrong
	case a >= 0.4:
		return StrengthModerate
	default:
		return StrengthWeak
	}
}

func strengthLabel(s string) string {
	switch s {
	case StrengthStrong:
		return "强相关"
	case StrengthModerate:
		return "中等相关"
	default:
		return "弱相关"
	}
}

func riskWarnings(r *CorrelationResult) []string {
	var out []string
	if r.DXYChangePct != nil && *r.DXYChangePct > 1 {
		out = append(out, fmt.Sprintf("美元指数 7 天上涨 %.2f%%，可能压制风险资产", *r.DXYChangePct))
	}
	if v, ok := r.CorrelationMatrix[pairBTCQQ]; ok && v > 0.7 {
		out = append(out, fmt.Sprintf("BTC 与纳斯达克高度正相关 (%.2f)，风险资产属性增强", v))
	}
	if v, ok := r.CorrelationMatrix[pairBTCDX]; ok && v < -0.5 {
		out = append(out, fmt.Sprintf("BTC 与美元指数负相关 (%.2f)，美元走强可能压制 BTC", v))
	}
	return out
}

func mergeWarnings(base, extra []string) []string {
	seen := make(map[string]bool, len(base))
	for _, w := range base {
		seen[w] = true
	}
	for _, w := range extra {
		if w = strings.TrimSpace(w); w != "" && !seen[w] {
			seen[w] = true
			base = append(base, w)
		}
	}
	return base
}

func (t *CorrelationTask) portfolioImpact(histories map[string]model.PriceHistory) map[string]string {
	if len(t.portfolio) == 0 {
		return nil
	}
	out := make(map[string]string, len(t.portfolio))
	for _, p := range t.portfolio {
		h, ok := histories[p.Symbol]
		change, hasChange := h.ChangePct()
		if !ok || !hasChange {
			out[p.Symbol] = "缺少价格数据，无法评估"
			continue
		}
		delta := p.Quantity * (h.Points[len(h.Points)-1].Close - h.Points[0].Close)
		out[p.Symbol] = fmt.Sprintf("区间涨跌 %+.2f%%，持仓市值变动 %+.2f", change, delta)
	}
	return out
}

func correlationSummary(r *CorrelationResult) string {
	pairs := make([]string, 0, len(r.CorrelationMatrix))
	for p := range r.CorrelationMatrix {
		pairs = append(pairs, p)
	}
	sort.Strings(pairs)

	var strong []string
	for _, p := range pairs {
		if r.Strength[p] == StrengthStrong {
			strong = append(strong, fmt.Sprintf("%s(%.2f)", p, r.CorrelationMatrix[p]))
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "计算了 %d 组资产相关系数", len(pairs))
	if len(strong) > 0 {
		fmt.Fprintf(&b, "，强相关：%s", strings.Join(strong, "、"))
	}
	if len(r.RiskWarnings) > 0 {
		fmt.Fprintf(&b, "；%d 条风险预警", len(r.RiskWarnings))
	}
	b.WriteString("。")
	return b.String()
}

const correlationSystemPrompt = `你是一位跨资产配置策略师，关注加密资产、美股与美元之间的联动。
根据给出的相关系数矩阵、区间涨跌与已识别的风险预警，给出联动分析。

只输出一个 JSON 对象，不要输出其他内容，字段如下：
{"risk_warnings": ["补充的风险预警，可为空数组"], "summary": "200 字以内的联动分析总结", "confidence": 0.0 到 1.0}`

func correlationUserPrompt(r *CorrelationResult) string {
	var b strings.Builder
	b.WriteString("【相关系数矩阵】\n")
	pairs := make([]string, 0, len(r.CorrelationMatrix))
	for p := range r.CorrelationMatrix {
		pairs = append(pairs, p)
	}
	sort.Strings(pairs)
	for _, p := range pairs {
		fmt.Fprintf(&b, "- %s: %.2f (%s)\n", p, r.CorrelationMatrix[p], strengthLabel(r.Strength[p]))
	}
	b.WriteString("\n【区间涨跌】\n")
	symbols := make([]string, 0, len(r.ChangePct))
	for s := range r.ChangePct {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		fmt.Fprintf(&b, "- %s: %+.2f%%\n", s, r.ChangePct[s])
	}
	if len(r.RiskWarnings) > 0 {
		b.WriteString("\n【已识别预警】\n")
		for _, w := range r.RiskWarnings {
			b.WriteString("- " + w + "\n")
		}
	}
	if len(r.PortfolioImpact) > 0 {
		b.WriteString("\n【用户持仓】\n")
		for s, v := range r.PortfolioImpact {
			fmt.Fprintf(&b, "- %s: %s\n", s, v)
		}
	}
	return b.String()
}
