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
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/polymarket"
)

// 市场情绪
const (
	MoodAnxious    = "anxious"
	MoodOptimistic = "optimistic"
	MoodNeutral    = "neutral"
)

const (
	moveThreshold          = 0.05
	significantChange      = 0.15
	highVolumeThreshold    = 500000
	maxListedMarkets       = 5
	sentimentConfidence    = 0.65
	emptyMarketsConfidence = 0.3
)

// KeyEvent 高成交量的预测市场
type KeyEvent struct {
	Question    string   `json:"question"`
	Probability float64  `json:"probability"`
	Volume      float64  `json:"volume"`
	Change7d    *float64 `json:"change_7d,omitempty"`
}

// SentimentResult 预测市场情绪分析结论
type SentimentResult struct {
	MarketAnxietyScore float64    `json:"market_anxiety_score"`
	Mood               string     `json:"mood"`
	Cycle              string     `json:"cycle"`
	KeyEvents          []KeyEvent `json:"key_events"`
	SurprisingMarkets  []string   `json:"surprising_markets"`
	MarketCount        int        `json:"market_count"`
	Text               string     `json:"summary"`
}

func (r *SentimentResult) Fields() map[string]any {
	return map[string]any{
		"market_anxiety_score": r.MarketAnxietyScore,
		"mood":                 r.Mood,
		"cycle":                r.Cycle,
		"market_count":         r.MarketCount,
	}
}

func (r *SentimentResult) Highlights() []string {
	out := []string{fmt.Sprintf("市场焦虑度 %.2f（%s）", r.MarketAnxietyScore, moodLabel(r.Mood))}
	if len(r.SurprisingMarkets) > 0 {
		out = append(out, "异动市场："+r.SurprisingMarkets[0])
	}
	return out
}

func (r *SentimentResult) Summary() string { return r.Text }

type sentimentJudgment struct {
	MarketAnxietyScore *float64 `json:"market_anxiety_score"`
	Summary            string   `json:"summary"`
	Confidence         *float64 `json:"confidence"`
}

func (j *sentimentJudgment) Validate() error {
	return errors.Join(
		requireRange("market_anxiety_score", j.MarketAnxietyScore, -1, 1),
		requireRange("confidence", j.Confidence, 0, 1),
		validateSummary(j.Summary),
	)
}

// SentimentTask 预测市场情绪分析
type SentimentTask struct {
	judge judge
}

// NewSentimentTask 创建情绪分析任务
func NewSentimentTask(j judge) *SentimentTask {
	return &SentimentTask{judge: j}
}

func (t *SentimentTask) Name() string { return TaskSentiment }

func (t *SentimentTask) Needs() []model.DataRequest {
	return []model.DataRequest{{SourceKey: config.SourcePolymarket, ItemID: polymarket.ItemAll}}
}

func (t *SentimentTask) Analyze(ctx context.Context, in *Inputs) (model.Result, float64, error) {
	var set model.MarketSet
	if err := in.Decode(model.RequestKey(config.SourcePolymarket, polymarket.ItemAll), &set); err != nil {
		return nil, 0, err
	}

	res := &SentimentResult{
		KeyEvents:         keyEvents(set.Markets),
		SurprisingMarkets: surprisingMarkets(set.Markets),
		MarketCount:       len(set.Markets),
	}

	confidence := sentimentConfidence
	switch {
	case len(set.Markets) == 0:
		confidence = emptyMarketsConfidence
	case t.judge.enabled():
		var j sentimentJudgment
		if err := t.judge.ask(ctx, sentimentSystemPrompt, sentimentUserPrompt(set.Markets, res), &j); err != nil {
			return nil, 0, err
		}
		res.MarketAnxietyScore, res.Text, confidence = *j.MarketAnxietyScore, j.Summary, *j.Confidence
	default:
		res.MarketAnxietyScore = anxietyScore(set.Markets)
	}

	res.MarketAnxietyScore = round2(res.MarketAnxietyScore)
	res.Mood = moodOf(res.MarketAnxietyScore)
	res.Cycle = sentimentCycle(res.MarketAnxietyScore)
	if res.Text == "" {
		res.Text = sentimentSummary(res)
	}
	return res, confidence, nil
}

// anxietyScore 7 日内下跌市场多于上涨市场为焦虑（正值）
func anxietyScore(markets []model.Market) float64 {
	var up, down int
	for _, m := range markets {
		if m.PriceChange7d == nil {
			continue
		}
		switch {
		case *m.PriceChange7d > moveThreshold:
			up++
		case *m.PriceChange7d < -moveThreshold:
			down++
		}
	}
	total := up + down
	if total == 0 {
		return 0
	}
	return clamp(float64(down-up)/float64(total), -1, 1)
}

func surprisingMarkets(markets []model.Market) []string {
	var out []string
	for _, m := range markets {
		if m.Volume <= highVolumeThreshold || m.PriceChange7d == nil || math.Abs(*m.PriceChange7d) <= significantChange {
			continue
		}
		direction := "上涨"
		if *m.PriceChange7d < 0 {
			direction = "下跌"
		}
		out = append(out, fmt.Sprintf("%s - 7天%s%.1f%%，成交量$%.0f", m.Question, direction, math.Abs(*m.PriceChange7d)*100, m.Volume))
		if len(out) == maxListedMarkets {
			break
		}
	}
	return out
}

func keyEvents(markets []model.Market) []KeyEvent {
	sorted := make([]model.Market, len(markets))
	copy(sorted, markets)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Volume > sorted[j].Volume })
	if len(sorted) > maxListedMarkets {
		sorted = sorted[:maxListedMarkets]
	}
	events := make([]KeyEvent, 0, len(sorted))
	for _, m := range sorted {
		p, _ := m.YesPrice()
		events = append(events, KeyEvent{Question: m.Question, Probability: p, Volume: m.Volume, Change7d: m.PriceChange7d})
	}
	return events
}

func moodOf(score float64) string {
	switch {
	case score > 0.3:
		return MoodAnxious
	case score < -0.3:
		return MoodOptimistic
	default:
		return MoodNeutral
	}
}

func sentimentCycle(score float64) string {
	switch {
	case score > 0.5:
		return CycleContraction
	case score < -0.3:
		return CycleExpansion
	default:
		return CycleNeutral
	}
}

func moodLabel(m string) string {
	switch m {
	case MoodAnxious:
		return "焦虑"
	case MoodOptimistic:
		return "乐观"
	default:
		return "中性"
	}
}

func sentimentSummary(r *SentimentResult) string {
	if r.MarketCount == 0 {
		return "没有满足成交量门槛的预测市场，情绪判断为中性。"
	}
	return fmt.Sprintf("%d 个预测市场显示情绪%s（焦虑度 %.2f），%d 个市场出现大幅异动。",
		r.MarketCount, moodLabel(r.Mood), r.MarketAnxietyScore, len(r.SurprisingMarkets))
}

const sentimentSystemPrompt = `你是一位研究预测市场与群体心理的分析师。
根据给出的 Polymarket 市场概率与 7 日变化，判断市场整体焦虑程度。

焦虑度标准：1.0 极度焦虑，0.5 中度焦虑，0.0 中性，-0.5 中度乐观，-1.0 极度乐观。

只输出一个 JSON 对象，不要输出其他内容，字段如下：
{"market_anxiety_score": -1.0 到 1.0, "summary": "200 字以内的预测市场总结", "confidence": 0.0 到 1.0}`

func sentimentUserPrompt(markets []model.Market, r *SentimentResult) string {
	var b strings.Builder
	b.WriteString("请分析以下预测市场数据：\n\n【成交量最高的市场】\n")
	for _, e := range r.KeyEvents {
		change := "N/A"
		if e.Change7d != nil {
			change = fmt.Sprintf("%+.1f%%", *e.Change7d*100)
		}
		fmt.Fprintf(&b, "- %s: %.1f%% (7天变化: %s, 成交量: $%.0f)\n", e.Question, e.Probability*100, change, e.Volume)
	}
	if len(r.SurprisingMarkets) > 0 {
		b.WriteString("\n【异动市场】\n")
		for _, s := range r.SurprisingMarkets {
			b.WriteString("- " + s + "\n")
		}
	}
	fmt.Fprintf(&b, "\n规则估算的焦虑度：%.2f（共 %d 个市场）\n", anxietyScore(markets), len(markets))
	return b.String()
}
