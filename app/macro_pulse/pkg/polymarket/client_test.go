package polymarket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/config"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/source"
)

const gammaBody = `[
	{"id":"1","question":"Fed rate cut in December?","slug":"fed-cut","volume":"2500000.5","liquidity":"40000",
	 "oneWeekPriceChange":-0.2,"endDate":"2026-12-10T00:00:00Z",
	 "outcomes":"[\"Yes\",\"No\"]","outcomePrices":"[\"0.62\",\"0.38\"]"},
	{"id":2,"question":"US recession in 2026?","volume":150000,"liquidity":1000,
	 "tokens":[{"outcome":"Yes","price":0.3,"volume":100},{"outcome":"No","price":0.7}]},
	{"id":"3","question":"Tiny market","volume":"50","outcomes":"[\"Yes\",\"No\"]","outcomePrices":"[\"0.5\",\"0.5\"]"},
	{"id":"4","question":"No tokens","volume":"900000"}
]`

func newTestClient(t *testing.T, body string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("active"))
		assert.Equal(t, "false", r.URL.Query().Get("closed"))
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewClient(config.PolymarketConfig{BaseURL: srv.URL, Limit: 50, MinVolume: 100000, Timeout: time.Second})
}

func TestFetchFiltersByVolume(t *testing.T) {
	c := newTestClient(t, gammaBody)

	raw, err := c.Fetch(context.Background(), ItemAll)
	require.NoError(t, err)

	var set model.MarketSet
	require.NoError(t, json.Unmarshal(raw, &set))
	require.Len(t, set.Markets, 2)

	first := set.Markets[0]
	assert.Equal(t, "1", first.ID)
	assert.Equal(t, 2500000.5, first.Volume)
	require.NotNil(t, first.PriceChange7d)
	assert.Equal(t, -0.2, *first.PriceChange7d)
	require.NotNil(t, first.EndDate)
	price, ok := first.YesPrice()
	require.True(t, ok)
	assert.Equal(t, 0.62, price)

	second := set.Markets[1]
	assert.Equal(t, "2", second.ID)
	assert.Nil(t, second.PriceChange7d)
	assert.Len(t, second.Tokens, 2)
}

func TestFetchKeywordFilter(t *testing.T) {
	c := newTestClient(t, gammaBody)

	raw, err := c.Fetch(context.Background(), "fed")
	require.NoError(t, err)

	var set model.MarketSet
	require.NoError(t, json.Unmarshal(raw, &set))
	require.Len(t, set.Markets, 1)
	assert.Equal(t, "Fed rate cut in December?", set.Markets[0].Question)
}

func TestFetchWrappedResponse(t *testing.T) {
	c := newTestClient(t, `{"data":[{"id":"9","question":"Wrapped","volume":200000,"tokens":[{"outcome":"Yes","price":0.1}]}]}`)

	raw, err := c.Fetch(context.Background(), ItemAll)
	require.NoError(t, err)

	var set model.MarketSet
	require.NoError(t, json.Unmarshal(raw, &set))
	require.Len(t, set.Markets, 1)
}

func TestMalformedResponseIsPermanent(t *testing.T) {
	c := newTestClient(t, `<html>oops</html>`)

	_, err := c.Fetch(context.Background(), ItemAll)
	require.Error(t, err)
	assert.True(t, source.IsPermanent(err))
}
