package fred

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/source"
)

const yieldName = "fred_yield"

// yieldSeries Yahoo 收益率指数到 FRED 日频序列的映射
var yieldSeries = map[string]string{
	"^IRX": "DTB3",
	"^FVX": "DGS5",
	"^TNX": "DGS10",
	"^TYX": "DGS30",
}

// YieldAdapter 用 FRED 日频序列充当美债收益率的备用数据源
type YieldAdapter struct {
	client *Client
}

// NewYieldAdapter 创建收益率备用数据源
func NewYieldAdapter(client *Client) *YieldAdapter {
	return &YieldAdapter{client: client}
}

var _ source.Adapter = (*YieldAdapter)(nil)

func (a *YieldAdapter) Name() string { return yieldName }

func (a *YieldAdapter) Fetch(ctx context.Context, itemID string) (json.RawMessage, error) {
	seriesID, ok := yieldSeries[itemID]
	if !ok {
		return nil, source.Permanent(yieldName, itemID, fmt.Errorf("no fred series for %s", itemID))
	}

	series, err := a.client.Series(ctx, seriesID)
	if err != nil {
		return nil, err
	}

	for _, o := range series.Observations {
		if o.Value == nil {
			continue
		}
		ts, _ := time.Parse(time.DateOnly, o.Date)
		return source.Encode(yieldName, itemID, model.TreasuryYield{
			Symbol:    itemID,
			Maturity:  model.TreasuryMaturities[itemID],
			Yield:     *o.Value,
			Timestamp: ts,
		})
	}
	return nil, source.Permanent(yieldName, itemID, fmt.Errorf("series %s has no valid observation", seriesID))
}
