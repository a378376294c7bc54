package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	ErrTransient   = errors.New("transient source error")
	ErrPermanent   = errors.New("permanent source error")
	ErrMissingData = errors.New("missing data")
)

// Error 数据源调用失败，Kind 为 ErrTransient 或 ErrPermanent
type Error struct {
	Kind       error
	Adapter    string
	Item       string
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(e.Kind.Error())
	if e.Adapter != "" {
		fmt.Fprintf(&sb, " [%s", e.Adapter)
		if e.Item != "" {
			fmt.Fprintf(&sb, " %s", e.Item)
		}
		sb.WriteString("]")
	}
	if e.Status != 0 {
		fmt.Fprintf(&sb, " (status %d)", e.Status)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Transient 构造可重试错误
func Transient(adapter, item string, err error) error {
	return &Error{Kind: ErrTransient, Adapter: adapter, Item: item, Err: err}
}

// Permanent 构造不可重试错误
func Permanent(adapter, item string, err error) error {
	return &Error{Kind: ErrPermanent, Adapter: adapter, Item: item, Err: err}
}

// IsTransient 是否值得重试
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsPermanent 是否应直接进入下一层级
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// RetryAfter 错误携带的服务端建议等待时间
func RetryAfter(err error) time.Duration {
	var se *Error
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}

// FromStatus 按 HTTP 状态码归类错误，body 截断后附在错误信息里
func FromStatus(adapter, item string, res *http.Response, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	e := &Error{
		Kind:    ErrPermanent,
		Adapter: adapter,
		Item:    item,
		Status:  res.StatusCode,
		Err:     fmt.Errorf("%s api error: %s", adapter, msg),
	}
	switch {
	case res.StatusCode == http.StatusTooManyRequests,
		res.StatusCode == http.StatusRequestTimeout,
		res.StatusCode >= 500:
		e.Kind = ErrTransient
		e.RetryAfter = parseRetryAfter(res.Header.Get("Retry-After"))
	}
	return e
}

// FromTransport 归类请求阶段的错误；上下文取消原样返回，不作为数据源错误
func FromTransport(adapter, item string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient(adapter, item, err)
	}
	// 连接被重置等未实现 net.Error 的情况也按可重试处理
	return Transient(adapter, item, fmt.Errorf("request failed: %w", err))
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
