package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/cache"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/logger"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/observability"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/retry"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/source"
)

// Route 单个数据源类别的层级配置
type Route struct {
	TTL       time.Duration
	Primary   source.Adapter
	Secondary source.Adapter // 可为 nil
}

// Coordinator 按 cache-fresh → primary → secondary → cache-stale → missing 解析数据请求
type Coordinator struct {
	store  cache.Store
	routes map[string]Route
	policy retry.Policy
	sem    *semaphore.Weighted
	now    func() time.Time
}

// NewCoordinator 创建协调器，concurrency 限制同时在途的请求数
func NewCoordinator(store cache.Store, routes map[string]Route, policy retry.Policy, concurrency int) *Coordinator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Coordinator{
		store:  store,
		routes: routes,
		policy: policy,
		sem:    semaphore.NewWeighted(int64(concurrency)),
		now:    time.Now,
	}
}

type indexed struct {
	idx int
	out model.FetchOutcome
}

// Resolve 并发解析所有请求，结果与入参一一对应
//
// ctx 结束时立即返回：尚未完成的请求按过期缓存或 missing 结算，
// 之后到达的适配器结果被丢弃。
func (c *Coordinator) Resolve(ctx context.Context, reqs []model.DataRequest) []model.FetchOutcome {
	results := make(chan indexed, len(reqs))
	for i, req := range reqs {
		go func(i int, req model.DataRequest) {
			if err := c.sem.Acquire(ctx, 1); err != nil {
				results <- indexed{idx: i, out: c.settle(req, err)}
				return
			}
			defer c.sem.Release(1)
			results <- indexed{idx: i, out: c.resolveOne(ctx, req)}
		}(i, req)
	}

	outs := make([]model.FetchOutcome, len(reqs))
	done := make([]bool, len(reqs))
	for remaining := len(reqs); remaining > 0; {
		select {
		case r := <-results:
			if !done[r.idx] {
				outs[r.idx] = r.out
				done[r.idx] = true
				remaining--
			}
		case <-ctx.Done():
			for i, req := range reqs {
				if !done[i] {
					logger.Log.Warnf("运行截止，放弃在途请求 [%s]", req.Key())
					outs[i] = c.settle(req, ctx.Err())
					done[i] = true
				}
			}
			remaining = 0
		}
	}
	return outs
}

func (c *Coordinator) resolveOne(ctx context.Context, req model.DataRequest) (out model.FetchOutcome) {
	key := req.Key()
	ctx, span := observability.StartSpan(ctx, "fetch.resolve", attribute.String("fetch.key", key))
	defer func() {
		span.SetAttributes(attribute.String("fetch.tier", string(out.Tier)))
		observability.EndSpan(span, out.Err)
	}()

	out = model.FetchOutcome{Request: req}
	entry, cached := c.store.Get(ctx, key)
	if cached && cache.IsFresh(entry, c.now(), req.Freshness) {
		out.Payload = entry.Payload
		out.Tier = model.TierCacheFresh
		out.FetchedAt = entry.FetchedAt
		logger.Log.Debugf("命中新鲜缓存 [%s]", key)
		return out
	}

	route, ok := c.routes[req.SourceKey]
	var lastErr error
	if !ok {
		lastErr = source.Permanent("", req.ItemID, fmt.Errorf("no route for source %s", req.SourceKey))
	} else {
		tiers := []struct {
			tier    model.Tier
			adapter source.Adapter
		}{
			{model.TierPrimary, route.Primary},
			{model.TierSecondary, route.Secondary},
		}
		for _, t := range tiers {
			if t.adapter == nil {
				continue
			}
			payload, attempt, err := c.call(ctx, t.tier, t.adapter, req)
			out.Attempts = append(out.Attempts, attempt)
			if err == nil {
				out.Payload = payload
				out.Tier = t.tier
				out.FetchedAt = c.now()
				c.writeThrough(ctx, req, route.TTL, payload, out.FetchedAt)
				return out
			}
			lastErr = err
			logger.Log.Warnf("数据源 %s 获取失败 [%s]: %v", t.adapter.Name(), key, err)
			if ctx.Err() != nil {
				break
			}
		}
	}

	if cached {
		logger.Log.Warnf("数据降级：使用过期缓存 [%s]，年龄 %s", key, entry.Age(c.now()).Round(time.Second))
		out.Payload = entry.Payload
		out.Tier = model.TierCacheStale
		out.FetchedAt = entry.FetchedAt
		return out
	}

	if lastErr == nil {
		lastErr = errors.New("no adapter configured")
	}
	out.Tier = model.TierMissing
	out.Err = fmt.Errorf("%w: %s: %w", source.ErrMissingData, key, lastErr)
	logger.Log.Errorf("数据缺失 [%s]: %v", key, lastErr)
	return out
}

func (c *Coordinator) call(ctx context.Context, tier model.Tier, adapter source.Adapter, req model.DataRequest) (json.RawMessage, model.Attempt, error) {
	ctx, span := observability.StartSpan(ctx, "fetch.adapter",
		attribute.String("fetch.tier", string(tier)),
		attribute.String("fetch.adapter", adapter.Name()),
		attribute.String("fetch.item", req.ItemID),
	)

	var payload json.RawMessage
	calls, err := c.policy.Do(ctx, func(ctx context.Context) error {
		p, err := adapter.Fetch(ctx, req.ItemID)
		if err != nil {
			return err
		}
		if len(p) == 0 {
			return source.Permanent(adapter.Name(), req.ItemID, errors.New("empty payload"))
		}
		payload = p
		return nil
	})
	span.SetAttributes(attribute.Int("fetch.calls", calls))
	observability.EndSpan(span, err)

	attempt := model.Attempt{Tier: tier, Adapter: adapter.Name(), Calls: calls}
	if err != nil {
		attempt.Error = err.Error()
		return nil, attempt, err
	}
	return payload, attempt, nil
}

// writeThrough 写入失败只记录日志，该 key 之后按未命中处理
func (c *Coordinator) writeThrough(ctx context.Context, req model.DataRequest, ttl time.Duration, payload json.RawMessage, fetchedAt time.Time) {
	entry := &model.CacheEntry{
		Key:       req.Key(),
		SourceKey: req.SourceKey,
		Payload:   payload,
		FetchedAt: fetchedAt,
		TTL:       ttl,
	}
	if err := c.store.Put(ctx, entry); err != nil {
		logger.Log.Errorf("缓存写入失败 [%s]: %v", entry.Key, err)
	}
}

// settle 截止时结算未完成的请求
func (c *Coordinator) settle(req model.DataRequest, cause error) model.FetchOutcome {
	out := model.FetchOutcome{Request: req}
	if entry, ok := c.store.Get(context.Background(), req.Key()); ok {
		out.Payload = entry.Payload
		out.FetchedAt = entry.FetchedAt
		out.Tier = model.TierCacheStale
		if cache.IsFresh(entry, c.now(), req.Freshness) {
			out.Tier = model.TierCacheFresh
		}
		return out
	}
	out.Tier = model.TierMissing
	out.Err = fmt.Errorf("%w: %s: %w", source.ErrMissingData, req.Key(), cause)
	return out
}
