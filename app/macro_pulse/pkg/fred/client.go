package fred

import (
	"context"
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

const name = "fred"

// Client FRED API 客户端
type Client struct {
	apiKey  string
	baseURL string
	limit   int
	client  *http.Client
}

// NewClient 创建一个新的 FRED 客户端
func NewClient(cfg config.FREDConfig) *Client {
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		limit:   cfg.Limit,
		client:  source.NewHTTPClient(cfg.Timeout),
	}
}

// Ensure Client implements source.Adapter
var _ source.Adapter = (*Client)(nil)

// Name implements source.Adapter
func (c *Client) Name() string { return name }

// Fetch implements source.Adapter，itemID 为 FRED series id
func (c *Client) Fetch(ctx context.Context, itemID string) (json.RawMessage, error) {
	series, err := c.Series(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return source.Encode(name, itemID, series)
}

// observationsResponse FRED observations 响应
type observationsResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

// Series 获取序列的最近观测值，按日期倒序
func (c *Client) Series(ctx context.Context, seriesID string) (*model.Series, error) {
	if c.apiKey == "" {
		return nil, source.Permanent(name, seriesID, errors.New("fred api key is missing"))
	}

	params := url.Values{}
	params.Set("series_id", seriesID)
	params.Set("api_key", c.apiKey)
	params.Set("file_type", "json")
	params.Set("sort_order", "desc")
	params.Set("limit", strconv.Itoa(c.limit))

	body, err := source.Get(ctx, c.client, name, seriesID, c.baseURL+"/series/observations?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var resp observationsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, source.Permanent(name, seriesID, fmt.Errorf("unmarshal response failed: %w", err))
	}
	if len(resp.Observations) == 0 {
		return nil, source.Permanent(name, seriesID, errors.New("no observations"))
	}

	series := &model.Series{SeriesID: seriesID}
	for _, o := range resp.Observations {
		obs := model.Observation{Date: o.Date}
		// "." 表示当期缺值
		if v, err := strconv.ParseFloat(o.Value, 64); err == nil && o.Value != "." {
			obs.Value = &v
		}
		series.Observations = append(series.Observations, obs)
	}
	return series, nil
}
