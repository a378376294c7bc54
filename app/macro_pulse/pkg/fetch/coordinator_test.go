package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/retry"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/source"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeAdapter 按脚本依次返回错误，脚本用完后返回 payload
type fakeAdapter struct {
	name    string
	payload string
	script  []error
	block   bool

	mu    sync.Mutex
	calls int
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Fetch(ctx context.Context, itemID string) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if n <= len(f.script) {
		return nil, f.script[n-1]
	}
	return json.RawMessage(f.payload), nil
}

func (f *fakeAdapter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memStore 内存缓存，failPut 时写入失败
type memStore struct {
	mu      sync.Mutex
	entries map[string]model.CacheEntry
	puts    int
	failPut bool
}

func newMemStore() *memStore {
	return &memStore{entries: map[string]model.CacheEntry{}}
}

func (s *memStore) Get(_ context.Context, key string) (*model.CacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return &e, true
}

func (s *memStore) Put(_ context.Context, e *model.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.failPut {
		return errors.New("disk full")
	}
	s.entries[e.Key] = *e
	return nil
}

func (s *memStore) Prune(context.Context, time.Time) (int, error) { return 0, nil }
func (s *memStore) Close() error                                  { return nil }

func (s *memStore) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

var fastPolicy = retry.Policy{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, Factor: 2.0, MaxDelay: time.Second}

func transient() error { return source.Transient("fake", "X", errors.New("503")) }
func permanent() error { return source.Permanent("fake", "X", errors.New("404")) }

func req(item string) model.DataRequest {
	return model.DataRequest{SourceKey: "fred", ItemID: item}
}

func TestResolveOneOutcomePerRequest(t *testing.T) {
	store := newMemStore()
	primary := &fakeAdapter{name: "p", payload: `{"ok":1}`}
	c := NewCoordinator(store, map[string]Route{"fred": {TTL: time.Hour, Primary: primary}}, fastPolicy, 2)

	reqs := []model.DataRequest{req("A"), req("B"), req("C"), {SourceKey: "unknown", ItemID: "D"}}
	outs := c.Resolve(context.Background(), reqs)

	require.Len(t, outs, len(reqs))
	for i, out := range outs {
		assert.Equal(t, reqs[i], out.Request)
		assert.Contains(t, []model.Tier{model.TierPrimary, model.TierMissing}, out.Tier)
	}
	assert.Equal(t, model.TierMissing, outs[3].Tier)
	assert.ErrorIs(t, outs[3].Err, source.ErrMissingData)
}

func TestResolveFreshCacheSkipsAdapters(t *testing.T) {
	store := newMemStore()
	store.entries["fred:A"] = model.CacheEntry{Key: "fred:A", Payload: json.RawMessage(`"cached"`), FetchedAt: time.Now(), TTL: time.Hour}
	primary := &fakeAdapter{name: "p", payload: `"live"`}
	c := NewCoordinator(store, map[string]Route{"fred": {TTL: time.Hour, Primary: primary}}, fastPolicy, 4)

	out := c.Resolve(context.Background(), []model.DataRequest{req("A")})[0]

	assert.Equal(t, model.TierCacheFresh, out.Tier)
	assert.JSONEq(t, `"cached"`, string(out.Payload))
	assert.Equal(t, 0, primary.Calls())
}

func TestResolveRequestFreshnessTightensTTL(t *testing.T) {
	store := newMemStore()
	store.entries["fred:A"] = model.CacheEntry{Key: "fred:A", Payload: json.RawMessage(`"cached"`), FetchedAt: time.Now().Add(-10 * time.Minute), TTL: time.Hour}
	primary := &fakeAdapter{name: "p", payload: `"live"`}
	c := NewCoordinator(store, map[string]Route{"fred": {TTL: time.Hour, Primary: primary}}, fastPolicy, 4)

	r := req("A")
	r.Freshness = time.Minute
	out := c.Resolve(context.Background(), []model.DataRequest{r})[0]

	assert.Equal(t, model.TierPrimary, out.Tier)
	assert.JSONEq(t, `"live"`, string(out.Payload))
}

func TestResolvePermanentSkipsToSecondaryWithoutRetry(t *testing.T) {
	store := newMemStore()
	primary := &fakeAdapter{name: "p", script: []error{permanent()}}
	secondary := &fakeAdapter{name: "s", payload: `"backup"`}
	c := NewCoordinator(store, map[string]Route{"fred": {TTL: time.Hour, Primary: primary, Secondary: secondary}}, fastPolicy, 4)

	out := c.Resolve(context.Background(), []model.DataRequest{req("A")})[0]

	assert.Equal(t, model.TierSecondary, out.Tier)
	assert.Equal(t, 1, primary.Calls())
	assert.Equal(t, 1, secondary.Calls())
	require.Len(t, out.Attempts, 2)
	assert.Equal(t, model.Attempt{Tier: model.TierPrimary, Adapter: "p", Calls: 1, Error: permanent().Error()}, out.Attempts[0])

	// 写穿
	cached, ok := store.Get(context.Background(), "fred:A")
	require.True(t, ok)
	assert.JSONEq(t, `"backup"`, string(cached.Payload))
	assert.Equal(t, time.Hour, cached.TTL)
}

func TestResolveTransientRetriesThenSucceeds(t *testing.T) {
	primary := &fakeAdapter{name: "p", payload: `"ok"`, script: []error{transient(), transient()}}
	c := NewCoordinator(newMemStore(), map[string]Route{"fred": {TTL: time.Hour, Primary: primary}}, fastPolicy, 4)

	start := time.Now()
	out := c.Resolve(context.Background(), []model.DataRequest{req("A")})[0]
	elapsed := time.Since(start)

	assert.Equal(t, model.TierPrimary, out.Tier)
	assert.Equal(t, 3, primary.Calls())
	assert.Equal(t, 3, out.Attempts[0].Calls)
	// 10ms + 20ms
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestResolveFallsBackToStaleCache(t *testing.T) {
	store := newMemStore()
	store.entries["fred:A"] = model.CacheEntry{Key: "fred:A", Payload: json.RawMessage(`"old"`), FetchedAt: time.Now().Add(-48 * time.Hour), TTL: time.Hour}
	primary := &fakeAdapter{name: "p", script: []error{transient(), transient(), transient()}}
	secondary := &fakeAdapter{name: "s", script: []error{permanent()}}
	c := NewCoordinator(store, map[string]Route{"fred": {TTL: time.Hour, Primary: primary, Secondary: secondary}}, fastPolicy, 4)

	out := c.Resolve(context.Background(), []model.DataRequest{req("A")})[0]

	assert.Equal(t, model.TierCacheStale, out.Tier)
	assert.JSONEq(t, `"old"`, string(out.Payload))
	assert.NoError(t, out.Err)
	assert.Equal(t, 3, primary.Calls())
	assert.Equal(t, 1, secondary.Calls())
	assert.Equal(t, 0, store.Puts())
}

func TestResolveMissingWithoutCache(t *testing.T) {
	primary := &fakeAdapter{name: "p", script: []error{permanent()}}
	c := NewCoordinator(newMemStore(), map[string]Route{"fred": {TTL: time.Hour, Primary: primary}}, fastPolicy, 4)

	out := c.Resolve(context.Background(), []model.DataRequest{req("A")})[0]

	assert.Equal(t, model.TierMissing, out.Tier)
	assert.Nil(t, out.Payload)
	assert.ErrorIs(t, out.Err, source.ErrMissingData)
	assert.True(t, source.IsPermanent(out.Err))
}

func TestResolveWriteFailureIsNotFatal(t *testing.T) {
	store := newMemStore()
	store.failPut = true
	primary := &fakeAdapter{name: "p", payload: `"ok"`}
	c := NewCoordinator(store, map[string]Route{"fred": {TTL: time.Hour, Primary: primary}}, fastPolicy, 4)

	out := c.Resolve(context.Background(), []model.DataRequest{req("A")})[0]

	assert.Equal(t, model.TierPrimary, out.Tier)
	assert.Equal(t, 1, store.Puts())
	_, ok := store.Get(context.Background(), "fred:A")
	assert.False(t, ok)
}

func TestResolveDeadlineSettlesInFlight(t *testing.T) {
	store := newMemStore()
	store.entries["fred:B"] = model.CacheEntry{Key: "fred:B", Payload: json.RawMessage(`"old"`), FetchedAt: time.Now().Add(-48 * time.Hour), TTL: time.Hour}
	primary := &fakeAdapter{name: "p", block: true}
	c := NewCoordinator(store, map[string]Route{"fred": {TTL: time.Hour, Primary: primary}}, fastPolicy, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	outs := c.Resolve(ctx, []model.DataRequest{req("A"), req("B")})

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, model.TierMissing, outs[0].Tier)
	assert.ErrorIs(t, outs[0].Err, context.DeadlineExceeded)
	assert.Equal(t, model.TierCacheStale, outs[1].Tier)
	assert.JSONEq(t, `"old"`, string(outs[1].Payload))
}
