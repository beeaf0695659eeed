package yaetl_test

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/fab2s/yaetl"
)

// =============================================================================
// Test Helpers
// =============================================================================

// sliceExtractor yields every element of records once, as a single batch.
type sliceExtractor struct {
	records []map[string]any
	done    bool
}

func newSliceExtractor(records []map[string]any) *sliceExtractor {
	return &sliceExtractor{records: records}
}

func (e *sliceExtractor) Extract(ctx context.Context, param any) (bool, error) {
	if e.done {
		return false, nil
	}
	e.done = true
	return len(e.records) > 0, nil
}

func (e *sliceExtractor) GetTraversable(ctx context.Context, param any) iter.Seq[yaetl.Record] {
	return func(yield func(yaetl.Record) bool) {
		for _, rec := range e.records {
			if !yield(rec) {
				return
			}
		}
	}
}

// recordingLoader appends every record it sees and tracks flush calls.
type recordingLoader struct {
	seen    []map[string]any
	flushes []yaetl.FlowStatus
}

func (l *recordingLoader) Exec(ctx context.Context, rec yaetl.Record) (*yaetl.Interrupter, error) {
	l.seen = append(l.seen, rec.(map[string]any))
	return nil, nil
}

func (l *recordingLoader) Flush(ctx context.Context, status *yaetl.FlowStatus) error {
	if status != nil {
		l.flushes = append(l.flushes, *status)
	}
	return nil
}

// failingLoader always errors on Exec.
type failingLoader struct {
	err error
}

func (l *failingLoader) Exec(ctx context.Context, rec yaetl.Record) (*yaetl.Interrupter, error) {
	return nil, l.err
}

func (l *failingLoader) Flush(ctx context.Context, status *yaetl.FlowStatus) error { return nil }

// mapJoinable is a Joinable backed by a plain map, for join tests.
type mapJoinable struct {
	data map[any]map[string]any
}

func (j *mapJoinable) Extract(ctx context.Context, key any) (bool, error) {
	_, ok := j.data[key]
	return ok, nil
}

func (j *mapJoinable) Lookup(key any) (yaetl.Record, bool) {
	rec, ok := j.data[key]
	return rec, ok
}

func upper(_ context.Context, rec yaetl.Record) (yaetl.Record, *yaetl.Interrupter, error) {
	m := rec.(map[string]any)
	if name, ok := m["name"].(string); ok {
		out := map[string]any{}
		for k, v := range m {
			out[k] = v
		}
		out["name"] = name + "!"
		return out, nil, nil
	}
	return rec, nil, nil
}

type transformFunc func(context.Context, yaetl.Record) (yaetl.Record, *yaetl.Interrupter, error)

func (f transformFunc) Transform(ctx context.Context, rec yaetl.Record) (yaetl.Record, *yaetl.Interrupter, error) {
	return f(ctx, rec)
}

type qualifyFunc func(context.Context, yaetl.Record) (*yaetl.Interrupter, error)

func (f qualifyFunc) Qualify(ctx context.Context, rec yaetl.Record) (*yaetl.Interrupter, error) {
	return f(ctx, rec)
}

// =============================================================================
// Identity flow
// =============================================================================

func TestFlow_IdentityExtractToLoad(t *testing.T) {
	records := []map[string]any{{"id": 1}, {"id": 2}, {"id": 3}}
	extractor := newSliceExtractor(records)
	loader := &recordingLoader{}

	f := yaetl.NewFlow().From(extractor).To(loader)
	_, status, err := f.Exec(context.Background(), nil)

	require.NoError(t, err)
	require.Equal(t, yaetl.StatusClean, status)
	require.Len(t, loader.seen, 3)
	require.Equal(t, []yaetl.FlowStatus{yaetl.StatusClean}, loader.flushes)
}

// =============================================================================
// Transform
// =============================================================================

func TestFlow_TransformMutatesRecord(t *testing.T) {
	records := []map[string]any{{"name": "ada"}}
	loader := &recordingLoader{}

	f := yaetl.NewFlow().
		From(newSliceExtractor(records)).
		Transform(transformFunc(upper)).
		To(loader)

	_, status, err := f.Exec(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, yaetl.StatusClean, status)
	require.Equal(t, "ada!", loader.seen[0]["name"])
}

// =============================================================================
// Inner join
// =============================================================================

func TestFlow_InnerJoinDropsMiss(t *testing.T) {
	orders := []map[string]any{
		{"id": 1, "customer_id": "c1"},
		{"id": 2, "customer_id": "missing"},
	}
	customers := &mapJoinable{data: map[any]map[string]any{
		"c1": {"id": "c1", "name": "Ada"},
	}}
	loader := &recordingLoader{}

	ordersExtractor := newSliceExtractor(orders)
	f := yaetl.NewFlow().
		From(ordersExtractor).
		Join(customers, ordersExtractor, yaetl.NewJoinClose("customer_id", "id",
			func(upstream, joined yaetl.Record) yaetl.Record {
				o := upstream.(map[string]any)
				c := joined.(map[string]any)
				o["customer_name"] = c["name"]
				return o
			})).
		To(loader)

	_, status, err := f.Exec(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, yaetl.StatusClean, status)
	require.Len(t, loader.seen, 1)
	want := map[string]any{"id": 1, "customer_id": "c1", "customer_name": "Ada"}
	if diff := cmp.Diff(want, loader.seen[0]); diff != "" {
		t.Errorf("merged record mismatch (-want +got):\n%s", diff)
	}
}

// =============================================================================
// Join against struct records (reflection path)
// =============================================================================

type order struct {
	ID         int
	CustomerID string
}

func TestFlow_JoinReadsStructFieldsByReflection(t *testing.T) {
	structRecords := []any{order{ID: 1, CustomerID: "c1"}}
	extractor := &anyExtractor{records: structRecords}
	customers := &mapJoinable{data: map[any]map[string]any{
		"c1": {"id": "c1", "name": "Ada"},
	}}

	var merged []map[string]any
	mergeLoader := &funcLoader{fn: func(rec yaetl.Record) { merged = append(merged, rec.(map[string]any)) }}

	f := yaetl.NewFlow().
		From(extractor).
		Join(customers, extractor, yaetl.NewJoinClose("CustomerID", "id",
			func(upstream, joined yaetl.Record) yaetl.Record {
				o := upstream.(order)
				c := joined.(map[string]any)
				return map[string]any{"order_id": o.ID, "customer_name": c["name"]}
			})).
		To(mergeLoader)

	_, status, err := f.Exec(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, yaetl.StatusClean, status)
	require.Len(t, merged, 1)
	want := map[string]any{"order_id": 1, "customer_name": "Ada"}
	if diff := cmp.Diff(want, merged[0]); diff != "" {
		t.Errorf("merged record mismatch (-want +got):\n%s", diff)
	}
}

// anyExtractor yields arbitrary Record values, for exercising the join's
// reflection-based field access against non-map records.
type anyExtractor struct {
	records []any
	done    bool
}

func (e *anyExtractor) Extract(ctx context.Context, param any) (bool, error) {
	if e.done {
		return false, nil
	}
	e.done = true
	return len(e.records) > 0, nil
}

func (e *anyExtractor) GetTraversable(ctx context.Context, param any) iter.Seq[yaetl.Record] {
	return func(yield func(yaetl.Record) bool) {
		for _, rec := range e.records {
			if !yield(rec) {
				return
			}
		}
	}
}

// funcLoader forwards every record to fn.
type funcLoader struct {
	fn func(yaetl.Record)
}

func (l *funcLoader) Exec(ctx context.Context, rec yaetl.Record) (*yaetl.Interrupter, error) {
	l.fn(rec)
	return nil, nil
}

func (l *funcLoader) Flush(ctx context.Context, status *yaetl.FlowStatus) error { return nil }

// =============================================================================
// Left join
// =============================================================================

func TestFlow_LeftJoinUsesDefault(t *testing.T) {
	orders := []map[string]any{{"id": 1, "customer_id": "missing"}}
	customers := &mapJoinable{data: map[any]map[string]any{}}
	loader := &recordingLoader{}

	ordersExtractor := newSliceExtractor(orders)
	f := yaetl.NewFlow().
		From(ordersExtractor).
		Join(customers, ordersExtractor, yaetl.NewJoinClose("customer_id", "id",
			func(upstream, joined yaetl.Record) yaetl.Record {
				o := upstream.(map[string]any)
				c := joined.(map[string]any)
				o["customer_name"] = c["name"]
				return o
			}).WithDefault(map[string]any{"name": "unknown"})).
		To(loader)

	_, status, err := f.Exec(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, yaetl.StatusClean, status)
	require.Len(t, loader.seen, 1)
	want := map[string]any{"id": 1, "customer_id": "missing", "customer_name": "unknown"}
	if diff := cmp.Diff(want, loader.seen[0]); diff != "" {
		t.Errorf("merged record mismatch (-want +got):\n%s", diff)
	}
}

// =============================================================================
// Qualified branch
// =============================================================================

func TestFlow_QualifiedBranchDefersFlush(t *testing.T) {
	records := []map[string]any{{"id": 1, "flag": true}, {"id": 2, "flag": false}}
	branchLoader := &recordingLoader{}
	rootLoader := &recordingLoader{}

	branch := yaetl.NewFlow().To(branchLoader)

	f := yaetl.NewFlow().
		From(newSliceExtractor(records)).
		Qualify(qualifyFunc(func(_ context.Context, rec yaetl.Record) (*yaetl.Interrupter, error) {
			m := rec.(map[string]any)
			if m["flag"] == true {
				return nil, nil
			}
			return yaetl.Reject(), nil
		})).
		Branch(branch).
		To(rootLoader)

	_, status, err := f.Exec(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, yaetl.StatusClean, status)
	require.Len(t, branchLoader.seen, 1)
	require.Len(t, rootLoader.seen, 1)
	// Branch loader flushes exactly once, as part of the root's own final
	// flush pass, not once per branch invocation.
	require.Len(t, branchLoader.flushes, 1)
}

// =============================================================================
// Break with target
// =============================================================================

func TestFlow_BreakBubblesToParentFlow(t *testing.T) {
	records := []map[string]any{{"id": 1}}
	branchLoader := &recordingLoader{}
	rootLoader := &recordingLoader{}

	rootExtractor := newSliceExtractor(records)
	rootFlow := yaetl.NewFlow(yaetl.WithID("root"))

	branch := yaetl.NewFlow().
		Transform(transformFunc(func(_ context.Context, rec yaetl.Record) (yaetl.Record, *yaetl.Interrupter, error) {
			return rec, yaetl.Break().ToFlow("root"), nil
		})).
		To(branchLoader)

	rootFlow.From(rootExtractor).
		Branch(branch).
		To(rootLoader)

	_, status, err := rootFlow.Exec(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, yaetl.StatusDirty, status)
	// The break bubbled out of the branch and broke the root's outer loop
	// before rootLoader ever saw the record.
	require.Empty(t, rootLoader.seen)
	require.Len(t, branchLoader.flushes, 1)
	require.Equal(t, yaetl.StatusDirty, branchLoader.flushes[0])
}

// =============================================================================
// Flush on exception
// =============================================================================

func TestFlow_LoaderErrorFlushesWithException(t *testing.T) {
	records := []map[string]any{{"id": 1}, {"id": 2}}
	boom := errors.New("boom")
	flaky := &failingLoader{err: boom}
	tracked := &recordingLoader{}

	f := yaetl.NewFlow().
		From(newSliceExtractor(records)).
		To(tracked).
		To(flaky)

	_, status, err := f.Exec(context.Background(), nil)
	require.Error(t, err)
	require.Equal(t, yaetl.StatusException, status)

	var nodeErr *yaetl.NodeError
	require.ErrorAs(t, err, &nodeErr)
	require.Equal(t, yaetl.StageLoad, nodeErr.Stage)
	require.Equal(t, []yaetl.FlowStatus{yaetl.StatusException}, tracked.flushes)
}

// =============================================================================
// Invariants
// =============================================================================

func TestFlow_ReentrantExecRejected(t *testing.T) {
	var f *yaetl.Flow
	f = yaetl.NewFlow().Transform(transformFunc(func(ctx context.Context, rec yaetl.Record) (yaetl.Record, *yaetl.Interrupter, error) {
		_, _, err := f.Exec(ctx, rec)
		require.ErrorIs(t, err, yaetl.ErrReentrant)
		return rec, nil, nil
	}))
	_, _, err := f.Exec(context.Background(), map[string]any{})
	require.NoError(t, err)
}

func TestFlow_DuplicateExplicitIDRejected(t *testing.T) {
	_ = yaetl.NewFlow(yaetl.WithID("dup-flow-id"))
	require.Panics(t, func() {
		yaetl.NewFlow(yaetl.WithID("dup-flow-id"))
	})
}

func TestFlow_JoinAgainstUnregisteredUpstreamPanics(t *testing.T) {
	other := newSliceExtractor(nil)
	require.Panics(t, func() {
		yaetl.NewFlow().Join(&mapJoinable{data: map[any]map[string]any{}}, other, yaetl.NewJoinClose("a", "b", func(u, j yaetl.Record) yaetl.Record { return u }))
	})
}

func TestFlow_SendToUnknownNodeIsCompositionError(t *testing.T) {
	f := yaetl.NewFlow()
	_, err := f.SendTo(context.Background(), "nope", map[string]any{})
	require.Error(t, err)
	var compErr *yaetl.CompositionError
	require.ErrorAs(t, err, &compErr)
}

func TestFlow_LinearExecWithoutExtractors(t *testing.T) {
	f := yaetl.NewFlow().Transform(transformFunc(func(_ context.Context, rec yaetl.Record) (yaetl.Record, *yaetl.Interrupter, error) {
		m := rec.(map[string]any)
		m["seen"] = true
		return m, nil, nil
	}))
	result, _, err := f.Exec(context.Background(), map[string]any{"id": 1})
	require.NoError(t, err)
	m := result.(map[string]any)
	require.Equal(t, true, m["seen"])
}

// =============================================================================
// Stats and inspection
// =============================================================================

func TestFlow_GetStatsCountsProcessedRecords(t *testing.T) {
	records := []map[string]any{{"id": 1}, {"id": 2}}
	loader := &recordingLoader{}
	f := yaetl.NewFlow().From(newSliceExtractor(records)).To(loader)

	_, _, err := f.Exec(context.Background(), nil)
	require.NoError(t, err)

	st := f.GetStats()
	require.Equal(t, int64(2), st.RecordsIn)
	require.Len(t, st.Nodes, 2)
	require.NotEmpty(t, st.Report())
}

func TestFlow_DOTRendersComposedGraph(t *testing.T) {
	f := yaetl.NewFlow().From(newSliceExtractor(nil)).To(&recordingLoader{})
	out, err := f.DOT()
	require.NoError(t, err)
	require.Contains(t, out, "digraph")
}
