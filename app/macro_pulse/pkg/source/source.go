package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Adapter 定义通用的数据源接口
//
// Fetch 返回按数据源类别归一化后的 JSON；失败时返回 *Error，
// Kind 为 ErrTransient 或 ErrPermanent。
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, itemID string) (json.RawMessage, error)
}

// NewHTTPClient 创建带超时的 HTTP 客户端
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// Get 执行 GET 请求并返回响应体
func Get(ctx context.Context, client *http.Client, adapter, item, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, Permanent(adapter, item, fmt.Errorf("create request failed: %w", err))
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	res, err := client.Do(req)
	if err != nil {
		return nil, FromTransport(adapter, item, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, Transient(adapter, item, fmt.Errorf("read body failed: %w", err))
	}

	if res.StatusCode != http.StatusOK {
		return nil, FromStatus(adapter, item, res, body)
	}
	return body, nil
}

// Encode 序列化归一化后的数据
func Encode(adapter, item string, v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, Permanent(adapter, item, fmt.Errorf("marshal payload failed: %w", err))
	}
	return data, nil
}
