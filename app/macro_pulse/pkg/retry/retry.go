package retry

import (
	"context"
	"time"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/config"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/source"
)

// Policy 指数退避策略
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
}

// FromConfig 从配置构造策略
func FromConfig(c config.RetryConfig) Policy {
	return Policy{
		MaxAttempts:  c.MaxAttempts,
		InitialDelay: c.InitialDelay,
		Factor:       c.BackoffFactor,
		MaxDelay:     c.MaxDelay,
	}
}

// Delay 第 n 次失败（从 1 开始）之后的等待时间
func (p Policy) Delay(n int) time.Duration {
	d := float64(p.InitialDelay)
	for i := 1; i < n; i++ {
		d *= p.Factor
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Do 调用 fn，仅在可重试错误时按退避重试，返回实际调用次数
//
// 不可重试错误立即返回，不消耗重试预算；上下文结束时返回上下文错误。
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return i - 1, lastErr
			}
			return i - 1, err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return i, nil
		}
		if !source.IsTransient(lastErr) || i == attempts {
			return i, lastErr
		}

		wait := p.Delay(i)
		if hint := source.RetryAfter(lastErr); hint > wait {
			wait = hint
			if p.MaxDelay > 0 && wait > p.MaxDelay {
				wait = p.MaxDelay
			}
		}
		if err := sleep(ctx, wait); err != nil {
			return i, lastErr
		}
	}
	return attempts, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
