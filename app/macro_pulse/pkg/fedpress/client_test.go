package fedpress

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/config"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/source"
)

const feedTpl = `<?xml version="1.0" encoding="utf-8"?>
<rss version="2.0"><channel><title>Press Releases</title>
<item><title>Federal Reserve issues FOMC statement</title><link>%[1]s/fomc</link>
<description>The Federal Open Market Committee decided to maintain the target range.</description>
<pubDate>Wed, 17 Sep 2026 18:00:00 GMT</pubDate></item>
<item><title>Minutes of the Board's discount rate meetings</title><link>%[1]s/minutes</link>
<description>Minutes released.</description>
<pubDate>Tue, 07 Oct 2026 18:00:00 GMT</pubDate></item>
</channel></rss>`

const pageHTML = `<html><head><title>FOMC statement</title></head><body><article>
<h1>Federal Reserve issues FOMC statement</h1>
<p>Recent indicators suggest that economic activity has continued to expand at a solid pace.
Job gains have slowed, and the unemployment rate has moved up but remains low.</p>
<p>Inflation has made further progress toward the Committee's 2 percent objective but remains somewhat elevated.
The Federal Open Market Committee seeks to achieve maximum employment and inflation at the rate of 2 percent over the longer run.</p>
</article></body></html>`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feed":
			_, _ = fmt.Fprintf(w, feedTpl, srv.URL)
		case "/fomc", "/minutes":
			_, _ = w.Write([]byte(pageHTML))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchFOMCStatement(t *testing.T) {
	srv := newServer(t)
	c := NewClient(config.FedPressConfig{FeedURL: srv.URL + "/feed", Timeout: time.Second})

	raw, err := c.Fetch(context.Background(), ItemFOMC)
	require.NoError(t, err)

	var stmt model.Statement
	require.NoError(t, json.Unmarshal(raw, &stmt))
	assert.Equal(t, "Federal Reserve issues FOMC statement", stmt.Title)
	assert.Equal(t, srv.URL+"/fomc", stmt.Link)
	assert.Equal(t, 2026, stmt.Published.Year())
	assert.True(t, strings.Contains(stmt.Text, "Federal Open Market Committee"))
}

func TestFetchLatestPicksNewest(t *testing.T) {
	srv := newServer(t)
	c := NewClient(config.FedPressConfig{FeedURL: srv.URL + "/feed", Timeout: time.Second})

	raw, err := c.Fetch(context.Background(), ItemLatest)
	require.NoError(t, err)

	var stmt model.Statement
	require.NoError(t, json.Unmarshal(raw, &stmt))
	assert.Equal(t, srv.URL+"/minutes", stmt.Link)
}

func TestFetchUnknownItem(t *testing.T) {
	c := NewClient(config.FedPressConfig{FeedURL: "http://127.0.0.1:1/feed"})
	_, err := c.Fetch(context.Background(), "speeches")
	assert.True(t, source.IsPermanent(err))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", truncateRunes("abc", 5))
	assert.Equal(t, "联邦", truncateRunes("联邦基金利率", 2))

	long := strings.Repeat("利率", maxTextRunes)
	got := truncateRunes(long, maxTextRunes)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, maxTextRunes, utf8.RuneCountInString(got))
}
