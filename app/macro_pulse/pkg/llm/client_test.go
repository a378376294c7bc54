package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/config"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/retry"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/source"
)

type scriptedModel struct {
	errs    []error
	content string
	calls   int
	opts    *model.Options
}

func (m *scriptedModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.calls++
	m.opts = model.GetCommonOptions(&model.Options{}, opts...)
	if m.calls <= len(m.errs) {
		return nil, m.errs[m.calls-1]
	}
	return &schema.Message{Role: schema.Assistant, Content: m.content}, nil
}

func (m *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

var testPolicy = retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, Factor: 2, MaxDelay: 10 * time.Millisecond}

func newTestClient(m model.BaseChatModel) *Client {
	return NewClient(m, config.ConcurrencyConfig{QPS: 10, RPM: 6000}, testPolicy, 512)
}

func TestCompleteRetriesRateLimit(t *testing.T) {
	m := &scriptedModel{errs: []error{errors.New("error, status code: 429, Too Many Requests")}, content: "hi"}

	out, err := newTestClient(m).Complete(context.Background(), "sys", "user", 0.3)
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
	assert.Equal(t, 2, m.calls)
	require.NotNil(t, m.opts.Temperature)
	assert.Equal(t, float32(0.3), *m.opts.Temperature)
	require.NotNil(t, m.opts.MaxTokens)
	assert.Equal(t, 512, *m.opts.MaxTokens)
}

func TestCompleteDoesNotRetryAuthError(t *testing.T) {
	m := &scriptedModel{errs: []error{errors.New("401 invalid api key")}}

	_, err := newTestClient(m).Complete(context.Background(), "sys", "user", 0.3)
	require.Error(t, err)
	assert.True(t, source.IsPermanent(err))
	assert.Equal(t, 1, m.calls)
}

type toneResult struct {
	Tone       float64 `json:"tone"`
	Confidence float64 `json:"confidence"`
}

func (r *toneResult) Validate() error {
	if r.Tone < -1 || r.Tone > 1 {
		return fmt.Errorf("tone %.2f out of range", r.Tone)
	}
	return nil
}

func TestDecodeStrict(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "plain", raw: `{"tone":0.5,"confidence":0.8}`},
		{name: "fenced", raw: "```json\n{\"tone\":-0.2,\"confidence\":0.7}\n```"},
		{name: "unknown field", raw: `{"tone":0.5,"confidence":0.8,"extra":1}`, wantErr: true},
		{name: "wrong type", raw: `{"tone":"high","confidence":0.8}`, wantErr: true},
		{name: "out of range", raw: `{"tone":3,"confidence":0.8}`, wantErr: true},
		{name: "prose around json", raw: `Here you go: {"tone":0.5}`, wantErr: true},
		{name: "trailing content", raw: `{"tone":0.5,"confidence":0.8} thanks`, wantErr: true},
		{name: "trailing brace", raw: `{"tone":0.5,"confidence":0.8}}`, wantErr: true},
		{name: "trailing bracket", raw: `{"tone":0.5,"confidence":0.8}]`, wantErr: true},
		{name: "second object", raw: `{"tone":0.5,"confidence":0.8}{}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r toneResult
			err := DecodeStrict(tt.raw, &r)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrDecode)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCompleteJSON(t *testing.T) {
	m := &scriptedModel{content: "```json\n{\"tone\":0.1,\"confidence\":0.9}\n```"}

	var r toneResult
	require.NoError(t, newTestClient(m).CompleteJSON(context.Background(), "sys", "user", 0.3, &r))
	assert.Equal(t, 0.1, r.Tone)
	assert.Equal(t, 0.9, r.Confidence)
}
