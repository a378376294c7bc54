package yahoo

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

const chartBody = `{"chart":{"result":[{
	"meta":{"symbol":"SPY","regularMarketPrice":512.5,"regularMarketTime":1760486400},
	"timestamp":[1760313600,1760400000,1760486400],
	"indicators":{"quote":[{"close":[500.0,null,512.5]}]}
}],"error":null}}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.YahooConfig{BaseURL: srv.URL, Range: "7d", Timeout: time.Second})
}

func TestPriceAdapter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/SPY", r.URL.Path)
		assert.Equal(t, "7d", r.URL.Query().Get("range"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(chartBody))
	})

	raw, err := NewPriceAdapter(c).Fetch(context.Background(), "SPY")
	require.NoError(t, err)

	var h model.PriceHistory
	require.NoError(t, json.Unmarshal(raw, &h))
	require.Len(t, h.Points, 2)
	assert.Equal(t, 500.0, h.Points[0].Close)
	assert.Equal(t, 512.5, h.Points[1].Close)

	pct, ok := h.ChangePct()
	require.True(t, ok)
	assert.InDelta(t, 2.5, pct, 1e-9)
}

func TestTreasuryAdapter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/^TNX", r.URL.Path)
		_, _ = w.Write([]byte(`{"chart":{"result":[{"meta":{"symbol":"^TNX","regularMarketPrice":4.21,"regularMarketTime":1760486400}}],"error":null}}`))
	})

	raw, err := NewTreasuryAdapter(c).Fetch(context.Background(), "^TNX")
	require.NoError(t, err)

	var y model.TreasuryYield
	require.NoError(t, json.Unmarshal(raw, &y))
	assert.Equal(t, "10Y", y.Maturity)
	assert.Equal(t, 4.21, y.Yield)
}

func TestTreasuryAdapterUnknownSymbol(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := NewTreasuryAdapter(c).Fetch(context.Background(), "SPY")
	assert.True(t, source.IsPermanent(err))
}

func TestDelistedSymbolIsPermanent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`))
	})
	_, err := NewPriceAdapter(c).Fetch(context.Background(), "XXXX")
	assert.True(t, source.IsPermanent(err))
}

func TestRateLimitIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := NewPriceAdapter(c).Fetch(context.Background(), "SPY")
	assert.True(t, source.IsTransient(err))
}
