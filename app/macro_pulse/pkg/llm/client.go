package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bytedance/gg/gson"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/config"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/logger"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/retry"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/source"
)

// ErrDecode LLM 输出不符合结果结构
var ErrDecode = errors.New("llm output does not match schema")

// Client 带限流与重试的 LLM 调用封装，多个任务共享同一个实例
type Client struct {
	chatModel model.BaseChatModel
	limiter   *rate.Limiter
	policy    retry.Policy
	maxTokens int
}

// NewClient 创建 LLM 客户端
func NewClient(chatModel model.BaseChatModel, cc config.ConcurrencyConfig, policy retry.Policy, maxTokens int) *Client {
	limit := rate.Limit(float64(cc.RPM) / 60.0)
	burst := cc.QPS
	if burst < 1 {
		burst = 1
	}
	return &Client{
		chatModel: chatModel,
		limiter:   rate.NewLimiter(limit, burst),
		policy:    policy,
		maxTokens: maxTokens,
	}
}

// Complete 发送一次对话请求，返回模型原始输出
func (c *Client) Complete(ctx context.Context, system, user string, temperature float32) (string, error) {
	messages := []*schema.Message{
		{Role: schema.System, Content: system},
		{Role: schema.User, Content: user},
	}
	opts := []model.Option{model.WithTemperature(temperature)}
	if c.maxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(c.maxTokens))
	}

	var content string
	_, err := c.policy.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		resp, err := c.chatModel.Generate(ctx, messages, opts...)
		if err != nil {
			return classify(err)
		}
		content = resp.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

// CompleteJSON 请求模型输出 JSON 并严格解码到 out
func (c *Client) CompleteJSON(ctx context.Context, system, user string, temperature float32, out Validator) error {
	raw, err := c.Complete(ctx, system, user, temperature)
	if err != nil {
		return err
	}
	if err := DecodeStrict(raw, out); err != nil {
		logger.Log.Debugf("LLM 输出解析失败: %s", gson.ToString(map[string]string{"raw": raw}))
		return err
	}
	return nil
}

// classify 限流与服务端错误可重试，其余不重试
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "too many requests", "rate limit", "500", "502", "503", "unavailable", "timeout", "overloaded"} {
		if strings.Contains(msg, marker) {
			return source.Transient("llm", "", err)
		}
	}
	return source.Permanent("llm", "", err)
}

// Validator 结果结构自检
type Validator interface {
	Validate() error
}

// DecodeStrict 去掉首尾空白与一层 Markdown 代码块后严格解码，
// 多余字段、类型不符或 Validate 失败都视为解码失败。
func DecodeStrict(raw string, out Validator) error {
	clean := strings.TrimSpace(raw)
	if strings.HasPrefix(clean, "```") {
		clean = strings.TrimPrefix(clean, "```json")
		clean = strings.TrimPrefix(clean, "```")
		clean = strings.TrimSuffix(clean, "```")
		clean = strings.TrimSpace(clean)
	}

	dec := json.NewDecoder(strings.NewReader(clean))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("%w: trailing content after JSON object", ErrDecode)
	}
	if err := out.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}
