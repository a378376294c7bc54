package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/config"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/source"
)

const name = "yahoo"

// Client Yahoo Finance chart API 客户端
type Client struct {
	baseURL   string
	dataRange string
	client    *http.Client
}

// NewClient 创建一个新的 Yahoo Finance 客户端
func NewClient(cfg config.YahooConfig) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		dataRange: cfg.Range,
		client:    source.NewHTTPClient(cfg.Timeout),
	}
}

// chartResponse chart API 响应
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (c *Client) chart(ctx context.Context, symbol string) (*chartResponse, error) {
	params := url.Values{}
	params.Set("range", c.dataRange)
	params.Set("interval", "1d")
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), params.Encode())

	// 不带 User-Agent 的请求会被直接限流
	header := http.Header{"User-Agent": {"Mozilla/5.0 (compatible; macro_pulse/1.0)"}}
	body, err := source.Get(ctx, c.client, name, symbol, endpoint, header)
	if err != nil {
		return nil, err
	}

	var resp chartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, source.Permanent(name, symbol, fmt.Errorf("unmarshal response failed: %w", err))
	}
	if resp.Chart.Error != nil {
		return nil, source.Permanent(name, symbol, fmt.Errorf("%s: %s", resp.Chart.Error.Code, resp.Chart.Error.Description))
	}
	if len(resp.Chart.Result) == 0 {
		return nil, source.Permanent(name, symbol, errors.New("empty chart result"))
	}
	return &resp, nil
}

// Yield 获取国债收益率指数的最新值
func (c *Client) Yield(ctx context.Context, symbol string) (*model.TreasuryYield, error) {
	maturity, ok := model.TreasuryMaturities[symbol]
	if !ok {
		return nil, source.Permanent(name, symbol, fmt.Errorf("unknown treasury symbol %s", symbol))
	}

	resp, err := c.chart(ctx, symbol)
	if err != nil {
		return nil, err
	}
	meta := resp.Chart.Result[0].Meta
	if meta.RegularMarketPrice == 0 {
		return nil, source.Permanent(name, symbol, errors.New("no market price"))
	}

	return &model.TreasuryYield{
		Symbol:    symbol,
		Maturity:  maturity,
		Yield:     meta.RegularMarketPrice,
		Timestamp: time.Unix(meta.RegularMarketTime, 0).UTC(),
	}, nil
}

// History 获取日收盘价历史，按日期正序，跳过空值
func (c *Client) History(ctx context.Context, symbol string) (*model.PriceHistory, error) {
	resp, err := c.chart(ctx, symbol)
	if err != nil {
		return nil, err
	}
	result := resp.Chart.Result[0]

	history := &model.PriceHistory{Symbol: symbol}
	if len(result.Indicators.Quote) > 0 {
		closes := result.Indicators.Quote[0].Close
		for i, ts := range result.Timestamp {
			if i >= len(closes) || closes[i] == nil {
				continue
			}
			history.Points = append(history.Points, model.PricePoint{
				Date:  time.Unix(ts, 0).UTC().Format(time.DateOnly),
				Close: *closes[i],
			})
		}
	}
	if len(history.Points) == 0 {
		return nil, source.Permanent(name, symbol, errors.New("no price history"))
	}
	return history, nil
}

// TreasuryAdapter 美债收益率数据源
type TreasuryAdapter struct{ client *Client }

// NewTreasuryAdapter 创建美债收益率数据源
func NewTreasuryAdapter(client *Client) *TreasuryAdapter {
	return &TreasuryAdapter{client: client}
}

var _ source.Adapter = (*TreasuryAdapter)(nil)

func (a *TreasuryAdapter) Name() string { return name }

func (a *TreasuryAdapter) Fetch(ctx context.Context, itemID string) (json.RawMessage, error) {
	y, err := a.client.Yield(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return source.Encode(name, itemID, y)
}

// PriceAdapter 资产价格历史数据源
type PriceAdapter struct{ client *Client }

// NewPriceAdapter 创建资产价格数据源
func NewPriceAdapter(client *Client) *PriceAdapter {
	return &PriceAdapter{client: client}
}

var _ source.Adapter = (*PriceAdapter)(nil)

func (a *PriceAdapter) Name() string { return name }

func (a *PriceAdapter) Fetch(ctx context.Context, itemID string) (json.RawMessage, error) {
	h, err := a.client.History(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return source.Encode(name, itemID, h)
}
