package engine

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

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/analysis"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/cache"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/fetch"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/retry"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/source"
)

func TestMain(m *testing.M) {
	// genai 依赖的 opencensus 在 init 中启动常驻 worker
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type okAdapter struct{}

func (okAdapter) Name() string { return "ok" }
func (okAdapter) Fetch(_ context.Context, itemID string) (json.RawMessage, error) {
	return json.Marshal(map[string]string{"item": itemID})
}

type brokenAdapter struct {
	mu    sync.Mutex
	calls int
}

func (a *brokenAdapter) Name() string { return "broken" }
func (a *brokenAdapter) Fetch(_ context.Context, itemID string) (json.RawMessage, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	return nil, source.Permanent("broken", itemID, errors.New("status 404"))
}

type stubResult struct{ inputs int }

func (r stubResult) Fields() map[string]any { return map[string]any{"inputs": r.inputs} }
func (r stubResult) Highlights() []string   { return nil }
func (r stubResult) Summary() string        { return "stub" }

// countingTask 统计可用输入数量，判断置信度固定为 0.8
type countingTask struct {
	name  string
	needs []model.DataRequest
}

func (t *countingTask) Name() string               { return t.name }
func (t *countingTask) Needs() []model.DataRequest { return t.needs }
func (t *countingTask) Analyze(_ context.Context, in *analysis.Inputs) (model.Result, float64, error) {
	n := 0
	for _, req := range t.needs {
		if in.Has(req.Key()) {
			n++
		}
	}
	return stubResult{inputs: n}, 0.8, nil
}

type recordingSink struct {
	name string
	err  error

	mu      sync.Mutex
	reports []*model.FinalReport
}

func (s *recordingSink) Name() string { return s.name }
func (s *recordingSink) Publish(_ context.Context, r *model.FinalReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return s.err
}

var fastPolicy = retry.Policy{MaxAttempts: 3, InitialDelay: 5 * time.Millisecond, Factor: 2, MaxDelay: 50 * time.Millisecond}

func fourRequests() []model.DataRequest {
	return []model.DataRequest{
		{SourceKey: "fred", ItemID: "DGS2"},
		{SourceKey: "fred", ItemID: "DGS10"},
		{SourceKey: "market", ItemID: "SPY"},
		{SourceKey: "polymarket", ItemID: "all"},
	}
}

func newTestEngine(t *testing.T, polymarket source.Adapter, sinks ...Sink) *Engine {
	t.Helper()
	store, err := cache.NewFileStore(t.TempDir())
	require.NoError(t, err)

	reqs := fourRequests()
	return New(Components{
		Store: store,
		Routes: map[string]fetch.Route{
			"fred":       {TTL: time.Hour, Primary: okAdapter{}},
			"market":     {TTL: time.Hour, Primary: okAdapter{}},
			"polymarket": {TTL: time.Hour, Primary: polymarket},
		},
		Policy: fastPolicy,
		Tasks: []analysis.Task{
			&countingTask{name: "rates", needs: reqs[:2]},
			&countingTask{name: "markets", needs: reqs[2:]},
		},
		Sinks:       sinks,
		Timeout:     5 * time.Second,
		TaskTimeout: time.Second,
		Concurrency: 4,
	})
}

func TestRunWithPermanentFailure(t *testing.T) {
	broken := &brokenAdapter{}
	healthy, err := newTestEngine(t, okAdapter{}).Run(context.Background(), RunOptions{RunID: "healthy"})
	require.NoError(t, err)

	sink := &recordingSink{name: "rec"}
	failing := &recordingSink{name: "bad", err: errors.New("disk full")}
	var stages []string
	report, err := newTestEngine(t, broken, sink, failing).Run(context.Background(), RunOptions{
		RunID:            "degraded",
		ProgressCallback: func(status string, _ int) { stages = append(stages, status) },
	})
	require.NoError(t, err)

	assert.Equal(t, "degraded", report.RunID)
	assert.Empty(t, report.MissingTasks)
	assert.Equal(t, 1, broken.calls)

	var missing []model.FetchNote
	for _, n := range report.Provenance {
		if n.Tier == model.TierMissing {
			missing = append(missing, n)
		}
	}
	require.Len(t, missing, 1)
	assert.Equal(t, "polymarket:all", missing[0].Key)
	assert.True(t, report.Degraded())

	assert.InDelta(t, 0.8, healthy.OverallConfidence, 1e-9)
	assert.InDelta(t, (0.8+0.4)/2, report.OverallConfidence, 1e-9)
	assert.Less(t, report.OverallConfidence, healthy.OverallConfidence)

	require.Len(t, sink.reports, 1)
	assert.Same(t, report, sink.reports[0])
	assert.Len(t, failing.reports, 1)
	assert.Equal(t, []string{"fetching", "analyzing", "aggregating", "publishing", "completed"}, stages)
}

func TestRunAfterDeadlineStillReports(t *testing.T) {
	e := newTestEngine(t, okAdapter{})
	e.timeout = time.Nanosecond

	report, err := e.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.Len(t, report.OutcomesByTask, 2)
}

func TestCollectRequests(t *testing.T) {
	tasks := []analysis.Task{
		&countingTask{name: "a", needs: []model.DataRequest{
			{SourceKey: "fred", ItemID: "DGS2"},
			{SourceKey: "fred", ItemID: "DGS10", Freshness: time.Hour},
		}},
		&countingTask{name: "b", needs: []model.DataRequest{
			{SourceKey: "fred", ItemID: "DGS2", Freshness: 30 * time.Minute},
			{SourceKey: "fred", ItemID: "DGS10", Freshness: 2 * time.Hour},
			{SourceKey: "fred", ItemID: "DGS10"},
		}},
	}

	got := CollectRequests(tasks)
	assert.Equal(t, []model.DataRequest{
		{SourceKey: "fred", ItemID: "DGS10", Freshness: time.Hour},
		{SourceKey: "fred", ItemID: "DGS2", Freshness: 30 * time.Minute},
	}, got)
}

func TestPruneCache(t *testing.T) {
	e := newTestEngine(t, okAdapter{})
	ctx := context.Background()
	require.NoError(t, e.store.Put(ctx, &model.CacheEntry{
		Key:       "fred:DGS2",
		SourceKey: "fred",
		Payload:   json.RawMessage(`1`),
		FetchedAt: time.Now().Add(-48 * time.Hour),
		TTL:       time.Hour,
	}))

	n, err := e.PruneCache(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
