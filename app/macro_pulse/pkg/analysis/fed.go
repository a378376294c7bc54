package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/config"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/fedpress"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/polymarket"
)

// 收益率曲线状态
const (
	CurveNormal   = "normal"
	CurveInverted = "inverted"
	CurveSteep    = "steep"
)

// 政策立场
const (
	StanceHawkish = "hawkish"
	StanceDovish  = "dovish"
	StanceNeutral = "neutral"
)

const fedBaseConfidence = 0.7

var (
	hawkishPhrases = []string{
		"inflation remains elevated",
		"additional policy firming",
		"raise the target range",
		"further tightening",
		"upside risks to inflation",
		"not expect it will be appropriate to reduce",
	}
	dovishPhrases = []string{
		"lower the target range",
		"reduce the target range",
		"downside risks to employment",
		"labor market has softened",
		"inflation has eased",
		"moderated",
	}
	fedMarketKeywords = []string{"fed", "fomc", "interest rate", "rate cut", "rates"}
)

// FedResult 货币政策分析结论
type FedResult struct {
	ToneIndex              float64            `json:"tone_index"`
	Stance                 string             `json:"stance"`
	YieldCurveStatus       string             `json:"yield_curve_status"`
	YieldSpread            *float64           `json:"yield_spread,omitempty"`
	Yields                 map[string]float64 `json:"yields"`
	KeyRisks               []string           `json:"key_risks"`
	NextFOMCCutProbability *float64           `json:"next_fomc_cut_probability,omitempty"`
	StatementTitle         string             `json:"statement_title,omitempty"`
	Text                   string             `json:"summary"`
}

func (r *FedResult) Fields() map[string]any {
	f := map[string]any{
		"tone_index":         r.ToneIndex,
		"stance":             r.Stance,
		"yield_curve_status": r.YieldCurveStatus,
	}
	if r.YieldSpread != nil {
		f["yield_spread"] = *r.YieldSpread
	}
	if r.NextFOMCCutProbability != nil {
		f["next_fomc_cut_probability"] = *r.NextFOMCCutProbability
	}
	return f
}

func (r *FedResult) Highlights() []string {
	out := []string{fmt.Sprintf("鹰鸽指数 %.2f（%s）", r.ToneIndex, stanceLabel(r.Stance))}
	if r.YieldSpread != nil {
		out = append(out, fmt.Sprintf("10Y-2Y 利差 %.2f%%，曲线%s", *r.YieldSpread, curveLabel(r.YieldCurveStatus)))
	}
	if r.NextFOMCCutProbability != nil {
		out = append(out, fmt.Sprintf("预测市场隐含降息概率 %.0f%%", *r.NextFOMCCutProbability*100))
	}
	return out
}

func (r *FedResult) Summary() string { return r.Text }

// fedJudgment LLM 返回的判断
type fedJudgment struct {
	ToneIndex  *float64 `json:"tone_index"`
	KeyRisks   []string `json:"key_risks"`
	Summary    string   `json:"summary"`
	Confidence *float64 `json:"confidence"`
}

func (j *fedJudgment) Validate() error {
	return errors.Join(
		requireRange("tone_index", j.ToneIndex, -1, 1),
		requireRange("confidence", j.Confidence, 0, 1),
		validateSummary(j.Summary),
	)
}

// fedFacts 从输入中确定性计算出的事实
type fedFacts struct {
	yields    map[string]float64
	y2, y10   *float64
	spread    *float64
	curve     string
	markets   []model.Market
	cutProb   *float64
	statement *model.Statement
}

// FedTask 货币政策分析
type FedTask struct {
	treasurySymbols []string
	judge           judge
}

// NewFedTask 创建货币政策分析任务
func NewFedTask(cfg config.TasksConfig, j judge) *FedTask {
	return &FedTask{treasurySymbols: cfg.TreasurySymbols, judge: j}
}

func (t *FedTask) Name() string { return TaskFed }

func (t *FedTask) Needs() []model.DataRequest {
	needs := []model.DataRequest{
		{SourceKey: config.SourceFRED, ItemID: "DGS2"},
		{SourceKey: config.SourceFRED, ItemID: "DGS10"},
	}
	for _, sym := range t.treasurySymbols {
		needs = append(needs, model.DataRequest{SourceKey: config.SourceTreasury, ItemID: sym})
	}
	return append(needs,
		model.DataRequest{SourceKey: config.SourcePolymarket, ItemID: polymarket.ItemAll},
		model.DataRequest{SourceKey: config.SourceFedStatement, ItemID: fedpress.ItemFOMC},
	)
}

func (t *FedTask) Analyze(ctx context.Context, in *Inputs) (model.Result, float64, error) {
	facts := t.collect(in)
	if len(facts.yields) == 0 && facts.statement == nil && len(facts.markets) == 0 {
		return nil, 0, fmt.Errorf("%w: no yields, statement or fed markets", ErrInputMissing)
	}

	res := &FedResult{
		YieldCurveStatus:       facts.curve,
		YieldSpread:            facts.spread,
		Yields:                 facts.yields,
		NextFOMCCutProbability: facts.cutProb,
	}
	if facts.statement != nil {
		res.StatementTitle = facts.statement.Title
	}

	confidence := fedBaseConfidence
	if t.judge.enabled() {
		var j fedJudgment
		if err := t.judge.ask(ctx, fedSystemPrompt, fedUserPrompt(facts), &j); err != nil {
			return nil, 0, err
		}
		res.ToneIndex, res.KeyRisks, res.Text, confidence = *j.ToneIndex, j.KeyRisks, j.Summary, *j.Confidence
	} else {
		res.ToneIndex = heuristicTone(facts)
		res.KeyRisks = heuristicFedRisks(facts, res.ToneIndex)
	}
	res.ToneIndex = round2(res.ToneIndex)
	res.Stance = stanceOf(res.ToneIndex)
	if res.Text == "" {
		res.Text = fedSummary(res)
	}
	return res, confidence, nil
}

func (t *FedTask) collect(in *Inputs) fedFacts {
	f := fedFacts{yields: map[string]float64{}, curve: CurveNormal}

	for _, id := range []string{"DGS2", "DGS10"} {
		var s model.Series
		if in.Decode(model.RequestKey(config.SourceFRED, id), &s) != nil {
			continue
		}
		if v, ok := s.Latest(); ok {
			switch id {
			case "DGS2":
				f.yields["2Y"] = v
			case "DGS10":
				f.yields["10Y"] = v
			}
		}
	}
	for _, sym := range t.treasurySymbols {
		var y model.TreasuryYield
		if in.Decode(model.RequestKey(config.SourceTreasury, sym), &y) != nil {
			continue
		}
		maturity := y.Maturity
		if maturity == "" {
			maturity = model.TreasuryMaturities[sym]
		}
		if maturity != "" {
			// 实时报价优先于 FRED 日频数据
			f.yields[maturity] = y.Yield
		}
	}
	if v, ok := f.yields["2Y"]; ok {
		f.y2 = ptr(v)
	}
	if v, ok := f.yields["10Y"]; ok {
		f.y10 = ptr(v)
	}
	if f.y2 != nil && f.y10 != nil {
		spread := round2(*f.y10 - *f.y2)
		f.spread = &spread
		switch {
		case spread < 0:
			f.curve = CurveInverted
		case spread > 2:
			f.curve = CurveSteep
		}
	}

	var set model.MarketSet
	if in.Decode(model.RequestKey(config.SourcePolymarket, polymarket.ItemAll), &set) == nil {
		for _, m := range set.Markets {
			if isFedMarket(m.Question) {
				f.markets = append(f.markets, m)
			}
		}
		sort.SliceStable(f.markets, func(i, j int) bool { return f.markets[i].Volume > f.markets[j].Volume })
		for _, m := range f.markets {
			if !strings.Contains(strings.ToLower(m.Question), "cut") {
				continue
			}
			if p, ok := m.YesPrice(); ok {
				f.cutProb = ptr(p)
				break
			}
		}
	}

	var st model.Statement
	if in.Decode(model.RequestKey(config.SourceFedStatement, fedpress.ItemFOMC), &st) == nil {
		f.statement = &st
	}
	return f
}

func isFedMarket(question string) bool {
	q := strings.ToLower(question)
	for _, kw := range fedMarketKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

// heuristicTone 短端利率水平、声明措辞与降息概率合成的鹰鸽指数
func heuristicTone(f fedFacts) float64 {
	var tone float64
	if f.y2 != nil {
		tone += clamp((*f.y2-3)/2, -0.5, 0.5)
	}
	if f.statement != nil {
		text := strings.ToLower(f.statement.Text)
		for _, p := range hawkishPhrases {
			if strings.Contains(text, p) {
				tone += 0.15
			}
		}
		for _, p := range dovishPhrases {
			if strings.Contains(text, p) {
				tone -= 0.15
			}
		}
	}
	if f.cutProb != nil {
		tone -= (*f.cutProb - 0.5) * 0.4
	}
	return clamp(tone, -1, 1)
}

func heuristicFedRisks(f fedFacts, tone float64) []string {
	var risks []string
	if f.curve == CurveInverted {
		risks = append(risks, "收益率曲线倒挂，衰退信号仍在")
	}
	if f.spread != nil && *f.spread >= 0 && *f.spread < 0.5 {
		risks = append(risks, "收益率曲线接近倒挂（利差 < 0.5%）")
	}
	if tone > 0.3 {
		risks = append(risks, "高利率维持时间可能超出市场预期")
	}
	if f.cutProb != nil && *f.cutProb > 0.7 {
		risks = append(risks, "市场降息定价偏乐观，存在预期差")
	}
	if f.statement == nil {
		risks = append(risks, "缺少最新 FOMC 声明，政策判断依赖市场数据")
	}
	if len(risks) == 0 {
		risks = append(risks, "通胀回升导致政策路径重新定价")
	}
	return risks
}

func stanceOf(tone float64) string {
	switch {
	case tone > 0.3:
		return StanceHawkish
	case tone < -0.3:
		return StanceDovish
	default:
		return StanceNeutral
	}
}

func stanceLabel(s string) string {
	switch s {
	case StanceHawkish:
		return "偏鹰"
	case StanceDovish:
		return "偏鸽"
	default:
		return "中性"
	}
}

func curveLabel(s string) string {
	switch s {
	case CurveInverted:
		return "倒挂"
	case CurveSteep:
		return "陡峭"
	default:
		return "正常"
	}
}

func fedSummary(r *FedResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "美联储政策基调%s（鹰鸽指数 %.2f）", stanceLabel(r.Stance), r.ToneIndex)
	if r.YieldSpread != nil {
		fmt.Fprintf(&b, "，10Y-2Y 利差 %.2f%%，曲线%s", *r.YieldSpread, curveLabel(r.YieldCurveStatus))
	}
	if r.NextFOMCCutProbability != nil {
		fmt.Fprintf(&b, "，预测市场隐含降息概率 %.0f%%", *r.NextFOMCCutProbability*100)
	}
	b.WriteString("。")
	return b.String()
}

const fedSystemPrompt = `你是一位专精固定收益与美联储政策的资深策略师。
根据给出的美债收益率、预测市场与 FOMC 声明，评估美联储的政策基调。

只输出一个 JSON 对象，不要输出其他内容，字段如下：
{"tone_index": -1.0 到 1.0（-1 极鸽，1 极鹰）, "key_risks": ["3-5 个关键风险"], "summary": "200 字以内的解读", "confidence": 0.0 到 1.0}

原则：不要过度解读单一指标；数据不足时降低 confidence 并在 summary 中说明；指出市场预期与实际数据的预期差。`

func fedUserPrompt(f fedFacts) string {
	var b strings.Builder
	b.WriteString("请分析以下货币政策相关数据：\n\n【美债收益率】\n")
	if len(f.yields) == 0 {
		b.WriteString("未提供数据\n")
	}
	maturities := make([]string, 0, len(f.yields))
	for m := range f.yields {
		maturities = append(maturities, m)
	}
	sort.Strings(maturities)
	for _, m := range maturities {
		fmt.Fprintf(&b, "- %s: %.2f%%\n", m, f.yields[m])
	}
	if f.spread != nil {
		fmt.Fprintf(&b, "\n收益率曲线利差 (10Y - 2Y): %.2f%%，状态：%s\n", *f.spread, curveLabel(f.curve))
	}
	if len(f.markets) > 0 {
		b.WriteString("\n【Polymarket 相关市场】\n")
		for i, m := range f.markets {
			if i == 3 {
				break
			}
			p, _ := m.YesPrice()
			fmt.Fprintf(&b, "- %s: %.1f%% (交易量: $%.0f)\n", m.Question, p*100, m.Volume)
		}
	}
	if f.statement != nil {
		fmt.Fprintf(&b, "\n【FOMC 声明】%s (%s)\n%s\n", f.statement.Title, f.statement.Published.Format("2006-01-02"), f.statement.Text)
	}
	b.WriteString("\n请基于以上数据，给出专业的货币政策判断。")
	return b.String()
}

const maxSummaryRunes = 500

// requireRange 必填数值字段缺失或越界都视为无效
func requireRange(name string, v *float64, lo, hi float64) error {
	if v == nil {
		return fmt.Errorf("%s is required", name)
	}
	if *v < lo || *v > hi {
		return fmt.Errorf("%s %.2f out of [%g,%g]", name, *v, lo, hi)
	}
	return nil
}

func validateSummary(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("summary is empty")
	}
	if n := utf8.RuneCountInString(s); n > maxSummaryRunes {
		return fmt.Errorf("summary too long: %d runes", n)
	}
	return nil
}
