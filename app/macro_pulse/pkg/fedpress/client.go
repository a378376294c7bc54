package fedpress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/config"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/source"
)

const (
	name = "fedpress"

	// ItemLatest 最新一篇货币政策新闻稿
	ItemLatest = "latest"
	// ItemFOMC 最新一篇 FOMC 声明
	ItemFOMC = "fomc"

	maxTextRunes = 6000
)

// Client 美联储货币政策新闻稿 RSS 客户端
type Client struct {
	feedURL string
	client  *http.Client
}

// NewClient 创建新闻稿客户端
func NewClient(cfg config.FedPressConfig) *Client {
	return &Client{
		feedURL: cfg.FeedURL,
		client:  source.NewHTTPClient(cfg.Timeout),
	}
}

var _ source.Adapter = (*Client)(nil)

func (c *Client) Name() string { return name }

func (c *Client) Fetch(ctx context.Context, itemID string) (json.RawMessage, error) {
	if itemID != ItemLatest && itemID != ItemFOMC {
		return nil, source.Permanent(name, itemID, fmt.Errorf("unknown item %s", itemID))
	}

	body, err := source.Get(ctx, c.client, name, itemID, c.feedURL, nil)
	if err != nil {
		return nil, err
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, source.Permanent(name, itemID, fmt.Errorf("parse feed failed: %w", err))
	}

	item := pickItem(feed.Items, itemID)
	if item == nil {
		return nil, source.Permanent(name, itemID, errors.New("no matching press release"))
	}

	stmt := model.Statement{Title: item.Title, Link: item.Link, Text: item.Description}
	if item.PublishedParsed != nil {
		stmt.Published = item.PublishedParsed.UTC()
	}

	// 正文抓取失败时退回 RSS 摘要
	if text, err := c.articleText(ctx, item.Link); err == nil && len(text) > len(stmt.Text) {
		stmt.Text = text
	}
	stmt.Text = truncateRunes(stmt.Text, maxTextRunes)
	return source.Encode(name, itemID, stmt)
}

// truncateRunes 按字符截断，不会切开多字节字符
func truncateRunes(s string, limit int) string {
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

func pickItem(items []*gofeed.Item, itemID string) *gofeed.Item {
	var best *gofeed.Item
	for _, it := range items {
		if itemID == ItemFOMC && !strings.Contains(strings.ToLower(it.Title), "fomc statement") {
			continue
		}
		if best == nil || published(it).After(published(best)) {
			best = it
		}
	}
	return best
}

func published(it *gofeed.Item) time.Time {
	if it.PublishedParsed != nil {
		return *it.PublishedParsed
	}
	return time.Time{}
}

func (c *Client) articleText(ctx context.Context, link string) (string, error) {
	if link == "" {
		return "", errors.New("empty link")
	}
	pageURL, err := url.Parse(link)
	if err != nil {
		return "", err
	}

	body, err := source.Get(ctx, c.client, name, link, link, nil)
	if err != nil {
		return "", err
	}

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(article.TextContent), nil
}
