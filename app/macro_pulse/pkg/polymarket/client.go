package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/config"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/logger"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/source"
)

const name = "polymarket"

// ItemAll 不按关键词过滤的全部活跃市场
const ItemAll = "all"

// Client Polymarket gamma API 客户端
type Client struct {
	baseURL   string
	limit     int
	minVolume float64
	client    *http.Client
}

// NewClient 创建一个新的 Polymarket 客户端
func NewClient(cfg config.PolymarketConfig) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		limit:     cfg.Limit,
		minVolume: cfg.MinVolume,
		client:    source.NewHTTPClient(cfg.Timeout),
	}
}

var _ source.Adapter = (*Client)(nil)

func (c *Client) Name() string { return name }

// Fetch implements source.Adapter
//
// itemID 为 "all" 时返回全部活跃市场，否则按问题关键词过滤；
// 交易量低于 min_volume 或没有代币的市场会被丢弃。
func (c *Client) Fetch(ctx context.Context, itemID string) (json.RawMessage, error) {
	markets, err := c.Markets(ctx)
	if err != nil {
		return nil, err
	}

	set := model.MarketSet{Markets: make([]model.Market, 0, len(markets))}
	keyword := strings.ToLower(itemID)
	for _, m := range markets {
		if m.Volume < c.minVolume || len(m.Tokens) == 0 {
			continue
		}
		if keyword != ItemAll && !strings.Contains(strings.ToLower(m.Question), keyword) {
			continue
		}
		set.Markets = append(set.Markets, m)
	}
	sort.SliceStable(set.Markets, func(i, j int) bool {
		return set.Markets[i].Volume > set.Markets[j].Volume
	})

	logger.Log.Debugf("polymarket [%s]: %d/%d markets above volume %.0f", itemID, len(set.Markets), len(markets), c.minVolume)
	return source.Encode(name, itemID, set)
}

// Markets 获取活跃市场
func (c *Client) Markets(ctx context.Context) ([]model.Market, error) {
	params := url.Values{}
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("limit", strconv.Itoa(c.limit))
	params.Set("order", "volume")
	params.Set("ascending", "false")

	body, err := source.Get(ctx, c.client, name, ItemAll, c.baseURL+"/markets?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	raw, err := decodeMarkets(body)
	if err != nil {
		return nil, source.Permanent(name, ItemAll, err)
	}

	markets := make([]model.Market, 0, len(raw))
	for _, r := range raw {
		markets = append(markets, r.toModel())
	}
	return markets, nil
}

// decodeMarkets 兼容数组与 {"data": [...]} 两种响应
func decodeMarkets(body []byte) ([]rawMarket, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Data []rawMarket `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("unmarshal response failed: %w", err)
		}
		return wrapped.Data, nil
	}

	var list []rawMarket
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, fmt.Errorf("unmarshal response failed: %w", err)
	}
	return list, nil
}

// rawMarket gamma API 的市场结构，数值字段可能是字符串
type rawMarket struct {
	ID                 flexString `json:"id"`
	Question           string     `json:"question"`
	Slug               string     `json:"slug"`
	Category           string     `json:"category"`
	Volume             flexFloat  `json:"volume"`
	Liquidity          flexFloat  `json:"liquidity"`
	OneWeekPriceChange *flexFloat `json:"oneWeekPriceChange"`
	EndDate            string     `json:"endDate"`
	Outcomes           stringList `json:"outcomes"`
	OutcomePrices      stringList `json:"outcomePrices"`
	Tokens             []rawToken `json:"tokens"`
}

type rawToken struct {
	Outcome string    `json:"outcome"`
	Price   flexFloat `json:"price"`
	Volume  flexFloat `json:"volume"`
}

func (r rawMarket) toModel() model.Market {
	m := model.Market{
		ID:        string(r.ID),
		Question:  r.Question,
		Slug:      r.Slug,
		Category:  r.Category,
		Volume:    float64(r.Volume),
		Liquidity: float64(r.Liquidity),
	}
	if r.OneWeekPriceChange != nil {
		v := float64(*r.OneWeekPriceChange)
		m.PriceChange7d = &v
	}
	if r.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, r.EndDate); err == nil {
			m.EndDate = &t
		}
	}

	for _, t := range r.Tokens {
		m.Tokens = append(m.Tokens, model.Token{Outcome: t.Outcome, Price: float64(t.Price), Volume: float64(t.Volume)})
	}
	if len(m.Tokens) == 0 {
		for i, outcome := range r.Outcomes {
			if i >= len(r.OutcomePrices) {
				break
			}
			price, err := strconv.ParseFloat(r.OutcomePrices[i], 64)
			if err != nil {
				continue
			}
			m.Tokens = append(m.Tokens, model.Token{Outcome: outcome, Price: price})
		}
	}
	return m
}

// flexFloat 接受数字或数字字符串
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}

// flexString 接受字符串或数字
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	*s = flexString(strings.Trim(string(data), `"`))
	return nil
}

// stringList 接受 JSON 数组或数组的字符串编码，如 "[\"Yes\",\"No\"]"
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var encoded string
		if err := json.Unmarshal(data, &encoded); err != nil {
			return err
		}
		if encoded == "" {
			*l = nil
			return nil
		}
		data = []byte(encoded)
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*l = out
	return nil
}
