package stooq

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/config"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/source"
)

const name = "stooq"

// symbolAliases 与 Yahoo 代码不一致的品种
var symbolAliases = map[string]string{
	"DX-Y.NYB": "dx.f",
}

// Client Stooq 日线 CSV 客户端，作为资产价格的备用数据源
type Client struct {
	baseURL string
	days    int
	client  *http.Client
}

// NewClient 创建 Stooq 客户端，days 为保留的最近交易日数量
func NewClient(cfg config.StooqConfig, days int) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		days:    days,
		client:  source.NewHTTPClient(cfg.Timeout),
	}
}

var _ source.Adapter = (*Client)(nil)

func (c *Client) Name() string { return name }

func (c *Client) Fetch(ctx context.Context, itemID string) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("s", Symbol(itemID))
	params.Set("i", "d")

	body, err := source.Get(ctx, c.client, name, itemID, c.baseURL+"/q/d/l/?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	history, err := parseCSV(itemID, body)
	if err != nil {
		return nil, source.Permanent(name, itemID, err)
	}
	if c.days > 0 && len(history.Points) > c.days {
		history.Points = history.Points[len(history.Points)-c.days:]
	}
	return source.Encode(name, itemID, history)
}

// Symbol 把 Yahoo 风格的代码转换为 Stooq 代码
func Symbol(symbol string) string {
	if alias, ok := symbolAliases[symbol]; ok {
		return alias
	}
	s := strings.ToLower(symbol)
	if strings.HasSuffix(s, "-usd") {
		return strings.ReplaceAll(s, "-", "")
	}
	if strings.Contains(s, ".") {
		return s
	}
	return s + ".us"
}

func parseCSV(symbol string, body []byte) (*model.PriceHistory, error) {
	if bytes.HasPrefix(bytes.TrimSpace(body), []byte("No data")) {
		return nil, errors.New("no data")
	}

	records, err := csv.NewReader(bytes.NewReader(body)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv failed: %w", err)
	}
	if len(records) < 2 {
		return nil, errors.New("no data rows")
	}

	closeIdx := -1
	for i, h := range records[0] {
		if strings.EqualFold(h, "close") {
			closeIdx = i
		}
	}
	if closeIdx < 0 {
		return nil, errors.New("close column not found")
	}

	history := &model.PriceHistory{Symbol: symbol}
	for _, rec := range records[1:] {
		if len(rec) <= closeIdx {
			continue
		}
		v, err := strconv.ParseFloat(rec[closeIdx], 64)
		if err != nil {
			continue
		}
		history.Points = append(history.Points, model.PricePoint{Date: rec[0], Close: v})
	}
	if len(history.Points) == 0 {
		return nil, errors.New("no valid rows")
	}
	return history, nil
}
