package model

import (
	"strings"
	"time"
)

// Observation FRED 单个观测值，Value 为 nil 表示当期缺值
type Observation struct {
	Date  string   `json:"date"`
	Value *float64 `json:"value"`
}

// Series 经济数据序列，观测值按日期倒序
type Series struct {
	SeriesID     string        `json:"series_id"`
	Observations []Observation `json:"observations"`
}

// Values 去掉缺值后的数值序列（仍为倒序）
func (s *Series) Values() []float64 {
	out := make([]float64, 0, len(s.Observations))
	for _, o := range s.Observations {
		if o.Value != nil {
			out = append(out, *o.Value)
		}
	}
	return out
}

// Latest 最新有效值
func (s *Series) Latest() (float64, bool) {
	vals := s.Values()
	if len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}

// TreasuryYield 美债收益率
type TreasuryYield struct {
	Symbol    string    `json:"symbol"`
	Maturity  string    `json:"maturity"`
	Yield     float64   `json:"yield"`
	Timestamp time.Time `json:"timestamp"`
}

// PricePoint 日收盘价
type PricePoint struct {
	Date  string  `json:"date"`
	Close float64 `json:"close"`
}

// PriceHistory 资产价格历史，按日期正序
type PriceHistory struct {
	Symbol string       `json:"symbol"`
	Points []PricePoint `json:"points"`
}

// ChangePct 区间涨跌幅（百分比）
func (p *PriceHistory) ChangePct() (float64, bool) {
	if len(p.Points) < 2 || p.Points[0].Close == 0 {
		return 0, false
	}
	first := p.Points[0].Close
	last := p.Points[len(p.Points)-1].Close
	return (last - first) / first * 100, true
}

// Token 预测市场的结果代币
type Token struct {
	Outcome string  `json:"outcome"`
	Price   float64 `json:"price"`
	Volume  float64 `json:"volume"`
}

// Market 预测市场
type Market struct {
	ID            string     `json:"id"`
	Question      string     `json:"question"`
	Slug          string     `json:"slug"`
	Category      string     `json:"category"`
	Volume        float64    `json:"volume"`
	Liquidity     float64    `json:"liquidity"`
	PriceChange7d *float64   `json:"price_change_7d,omitempty"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	Tokens        []Token    `json:"tokens"`
}

// YesPrice 取 Yes 代币价格，没有则取第一个代币
func (m *Market) YesPrice() (float64, bool) {
	if len(m.Tokens) == 0 {
		return 0, false
	}
	for _, t := range m.Tokens {
		if strings.EqualFold(t.Outcome, "yes") {
			return t.Price, true
		}
	}
	return m.Tokens[0].Price, true
}

// MarketSet 一组预测市场
type MarketSet struct {
	Markets []Market `json:"markets"`
}

// Statement 美联储新闻稿
type Statement struct {
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Published time.Time `json:"published"`
	Text      string    `json:"text"`
}

// TreasuryMaturities Yahoo 国债收益率指数对应的期限
var TreasuryMaturities = map[string]string{
	"^IRX": "3M",
	"^FVX": "5Y",
	"^TNX": "10Y",
	"^TYX": "30Y",
}
