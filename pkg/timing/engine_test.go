package timing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justjake/querybench/pkg/executor"
	"github.com/justjake/querybench/pkg/executor/executortest"
	"github.com/justjake/querybench/pkg/registry"
)

// fakeClock only moves when an operation advances it.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() Config {
	return Config{
		WarmupIterations: 3,
		MinIterations:    5,
		MaxIterations:    20,
		Budget:           time.Hour,
		CaseTimeout:      time.Hour,
	}
}

func newTestEngine(cfg Config, clock *fakeClock) *Engine {
	e := New(cfg, nil)
	e.Now = clock.Now
	return e
}

func define(t *testing.T, r *registry.Registry, group string, cases map[string]registry.Operation, order ...string) {
	t.Helper()
	g, err := r.DefineGroup(group)
	require.NoError(t, err)
	for _, name := range order {
		require.NoError(t, g.DefineCase(name, executortest.New(executor.Raw, 0), nil, cases[name]))
	}
}

func TestRunCase_MeanMatchesFixedLatency(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(testConfig(), clock)

	var calls atomic.Int32
	r := registry.New()
	define(t, r, "select", map[string]registry.Operation{
		"raw": func(context.Context) error {
			calls.Add(1)
			clock.Advance(2 * time.Millisecond)
			return nil
		},
	}, "raw")

	results := e.RunAll(context.Background(), r.Groups())
	res := results.Lookup("select", "raw")
	require.NotNil(t, res)
	require.True(t, res.OK(), "unexpected failure: %v", res.Err)

	assert.Equal(t, 2*time.Millisecond, res.Stats.Mean)
	assert.Equal(t, time.Duration(0), res.Stats.StdDev)
	assert.Equal(t, 2*time.Millisecond, res.Stats.P99)
	assert.Equal(t, 20, res.Stats.Iterations)
	assert.Equal(t, 3, res.Warmup)
	assert.EqualValues(t, 23, calls.Load(), "warm-up iterations run but are not sampled")
	assert.False(t, res.TimedOut)
}

func TestRunCase_BudgetStopsAfterMinimum(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.MaxIterations = 0
	cfg.Budget = 50 * time.Millisecond
	e := newTestEngine(cfg, clock)

	c := &registry.Case{Name: "raw", Group: "g", Executor: executortest.New(executor.Raw, 0),
		Operation: func(context.Context) error {
			clock.Advance(20 * time.Millisecond)
			return nil
		}}

	res := e.RunCase(context.Background(), c)
	require.True(t, res.OK())
	// Budget is spent after three samples, but the minimum is five.
	assert.Equal(t, 5, res.Stats.Iterations)
}

func TestRunCase_TargetRMEStopsEarly(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.MaxIterations = 1000
	cfg.TargetRME = 0.01
	e := newTestEngine(cfg, clock)

	c := &registry.Case{Name: "raw", Group: "g", Executor: executortest.New(executor.Raw, 0),
		Operation: func(context.Context) error {
			clock.Advance(time.Millisecond)
			return nil
		}}

	res := e.RunCase(context.Background(), c)
	require.True(t, res.OK())
	assert.Equal(t, 5, res.Stats.Iterations)
	assert.Equal(t, 0.0, res.Stats.RME)
}

func TestRunCase_FailureDiscardsSamples(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(testConfig(), clock)

	boom := &executor.QueryError{Strategy: executor.ORM, Op: "execute", Err: errors.New("relation does not exist")}
	var n int
	c := &registry.Case{Name: "orm", Group: "g", Executor: executortest.New(executor.ORM, 0),
		Operation: func(context.Context) error {
			n++
			clock.Advance(time.Millisecond)
			if n == 7 {
				return boom
			}
			return nil
		}}

	res := e.RunCase(context.Background(), c)
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, boom)
	var qe *executor.QueryError
	assert.ErrorAs(t, res.Err, &qe)
	assert.Equal(t, Stats{}, res.Stats, "no statistics may be reported for a failed case")
}

func TestRunAll_SetupFailureIsIsolated(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(testConfig(), clock)

	r := registry.New()
	g, err := r.DefineGroup("select * from customer")
	require.NoError(t, err)

	op := func(context.Context) error {
		clock.Advance(time.Millisecond)
		return nil
	}
	var ormOpCalled bool
	require.NoError(t, g.DefineCase("raw", executortest.New(executor.Raw, 0), nil, op))
	require.NoError(t, g.DefineCase("orm", executortest.New(executor.ORM, 0),
		func(context.Context) (int, error) { return 0, errors.New("prepare failed") },
		func(context.Context) error { ormOpCalled = true; return nil }))
	require.NoError(t, g.DefineCase("builder", executortest.New(executor.Builder, 0), nil, op))

	results := e.RunAll(context.Background(), r.Groups())
	require.Len(t, results.Groups, 1)
	cases := results.Groups[0].Cases
	require.Len(t, cases, 3)

	assert.True(t, cases[0].OK())
	assert.Equal(t, StatusFailed, cases[1].Status)
	assert.ErrorContains(t, cases[1].Err, "setup: prepare failed")
	assert.False(t, ormOpCalled)
	assert.True(t, cases[2].OK())

	ok, failed := results.Counts()
	assert.Equal(t, 2, ok)
	assert.Equal(t, 1, failed)
}

func TestRunCase_PanicBecomesFailure(t *testing.T) {
	e := newTestEngine(testConfig(), newFakeClock())
	c := &registry.Case{Name: "raw", Group: "g", Executor: executortest.New(executor.Raw, 0),
		Operation: func(context.Context) error { panic("nil map") }}

	res := e.RunCase(context.Background(), c)
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorContains(t, res.Err, "panic: nil map")
}

func TestRunCase_TimeoutKeepsValidSamples(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.WarmupIterations = 0
	cfg.MinIterations = 100
	cfg.MaxIterations = 0
	cfg.CaseTimeout = 50 * time.Millisecond
	e := newTestEngine(cfg, clock)

	c := &registry.Case{Name: "raw", Group: "g", Executor: executortest.New(executor.Raw, 0),
		Operation: func(context.Context) error {
			clock.Advance(10 * time.Millisecond)
			return nil
		}}

	res := e.RunCase(context.Background(), c)
	require.True(t, res.OK(), "a case with samples is not failed by the ceiling: %v", res.Err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, 5, res.Stats.Iterations)
	assert.Equal(t, 10*time.Millisecond, res.Stats.Mean)
}

func TestRunCase_TimeoutWithoutSamplesFails(t *testing.T) {
	cfg := testConfig()
	cfg.WarmupIterations = 0
	cfg.CaseTimeout = 20 * time.Millisecond
	e := New(cfg, nil)

	c := &registry.Case{Name: "raw", Group: "g", Executor: executortest.New(executor.Raw, 0),
		Operation: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}}

	res := e.RunCase(context.Background(), c)
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, ErrTimeoutExceeded)
	assert.True(t, res.TimedOut)
}

func TestRunCase_ErrorAfterDeadlineFails(t *testing.T) {
	cfg := testConfig()
	cfg.WarmupIterations = 0
	cfg.MinIterations = 100
	cfg.MaxIterations = 0
	cfg.CaseTimeout = 20 * time.Millisecond
	e := New(cfg, nil)

	var calls atomic.Int32
	c := &registry.Case{Name: "raw", Group: "g", Executor: executortest.New(executor.Raw, 0),
		Operation: func(context.Context) error {
			if calls.Add(1) <= 2 {
				return nil
			}
			time.Sleep(40 * time.Millisecond)
			return errors.New("relation does not exist")
		}}

	res := e.RunCase(context.Background(), c)
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorContains(t, res.Err, "relation does not exist")
	assert.NotErrorIs(t, res.Err, ErrTimeoutExceeded)
	assert.False(t, res.TimedOut)
	assert.Zero(t, res.Stats.Iterations)
}

func TestRunCase_ServerCancelAtDeadlineIsTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.WarmupIterations = 0
	cfg.MinIterations = 100
	cfg.MaxIterations = 0
	cfg.CaseTimeout = 20 * time.Millisecond
	e := New(cfg, nil)

	var calls atomic.Int32
	c := &registry.Case{Name: "pq", Group: "g", Executor: executortest.New(executor.PQ, 0),
		Operation: func(ctx context.Context) error {
			if calls.Add(1) <= 2 {
				return nil
			}
			<-ctx.Done()
			return &executor.QueryError{Strategy: executor.PQ, Op: "execute", Err: &pgconn.PgError{
				Code:    pgerrcode.QueryCanceled,
				Message: "canceling statement due to user request",
			}}
		}}

	res := e.RunCase(context.Background(), c)
	require.True(t, res.OK(), "%v", res.Err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, 2, res.Stats.Iterations)
}

func TestRunCase_FanOutIsAwaited(t *testing.T) {
	cfg := testConfig()
	cfg.WarmupIterations = 0
	cfg.MaxIterations = 5
	e := New(cfg, nil)

	const sleep = 5 * time.Millisecond
	c := &registry.Case{Name: "raw", Group: "g", Executor: executortest.New(executor.Raw, 0),
		Operation: func(context.Context) error {
			var wg sync.WaitGroup
			for range 4 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					time.Sleep(sleep)
				}()
			}
			wg.Wait()
			return nil
		}}

	res := e.RunCase(context.Background(), c)
	require.True(t, res.OK())
	assert.GreaterOrEqual(t, res.Stats.Min, sleep)
}

func TestRunAll_CancelledContextFailsRemaining(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(testConfig(), clock)

	ctx, cancel := context.WithCancel(context.Background())
	r := registry.New()
	define(t, r, "g", map[string]registry.Operation{
		"first": func(context.Context) error {
			clock.Advance(time.Millisecond)
			return nil
		},
		"second": func(context.Context) error { return nil },
	}, "first", "second")
	// The second case cancels the run from its setup.
	r.Groups()[0].Cases[1].Setup = func(context.Context) (int, error) {
		cancel()
		return 0, nil
	}

	results := e.RunAll(ctx, r.Groups())
	first := results.Lookup("g", "first")
	second := results.Lookup("g", "second")
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.True(t, first.OK())
	assert.Equal(t, StatusFailed, second.Status)
	assert.ErrorIs(t, second.Err, context.Canceled)
}

func TestResults_MapAndOrder(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(testConfig(), clock)

	op := func(d time.Duration) registry.Operation {
		return func(context.Context) error {
			clock.Advance(d)
			return nil
		}
	}
	r := registry.New()
	define(t, r, "b", map[string]registry.Operation{"slow": op(9 * time.Millisecond), "fast": op(time.Millisecond)}, "slow", "fast")
	define(t, r, "a", map[string]registry.Operation{"x": op(time.Millisecond)}, "x")

	results := e.RunAll(context.Background(), r.Groups())
	var order []string
	for c := range results.All() {
		order = append(order, c.Group+"/"+c.Case)
	}
	assert.Equal(t, []string{"b/slow", "b/fast", "a/x"}, order)

	m := results.Map()
	require.Contains(t, m, "b")
	assert.Equal(t, 9*time.Millisecond, m["b"]["slow"].Stats.Mean)
	assert.Equal(t, time.Millisecond, m["a"]["x"].Stats.Mean)
	assert.Nil(t, results.Lookup("a", "missing"))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := Config{MinIterations: 0, MaxIterations: -1, CaseTimeout: 0, TargetRME: 2}
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min iterations")
	assert.Contains(t, err.Error(), "case timeout")
	assert.Contains(t, err.Error(), "target rme")
}

func TestRunCase_SetupRowsAreReported(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(testConfig(), clock)
	c := &registry.Case{Name: "raw", Group: "g", Executor: executortest.New(executor.Raw, 0),
		Setup: func(context.Context) (int, error) { return 91, nil },
		Operation: func(context.Context) error {
			clock.Advance(time.Millisecond)
			return nil
		}}

	res := e.RunCase(context.Background(), c)
	require.True(t, res.OK())
	assert.Equal(t, 91, res.Rows)
}
