package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/justjake/querybench/pkg/executor"
	"github.com/justjake/querybench/pkg/report"
	"github.com/justjake/querybench/pkg/timing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func run(id string, started time.Time) report.Meta {
	return report.Meta{
		RunID:     id,
		Started:   started,
		Finished:  started.Add(time.Minute),
		GitSHA:    "abc123",
		GitBranch: "main",
	}
}

func results(cases ...*timing.CaseResult) *timing.Results {
	groups := map[string]*timing.GroupResult{}
	res := &timing.Results{}
	for _, c := range cases {
		g, ok := groups[c.Group]
		if !ok {
			g = &timing.GroupResult{Name: c.Group}
			groups[c.Group] = g
			res.Groups = append(res.Groups, g)
		}
		g.Cases = append(g.Cases, c)
	}
	return res
}

func ok(group, name string, mean time.Duration) *timing.CaseResult {
	return &timing.CaseResult{
		Group:    group,
		Case:     name,
		Strategy: executor.Strategy(name),
		Status:   timing.StatusOK,
		Stats:    timing.Stats{Iterations: 100, Mean: mean, P50: mean},
		Rows:     91,
	}
}

func failed(group, name string) *timing.CaseResult {
	return &timing.CaseResult{
		Group:    group,
		Case:     name,
		Strategy: executor.Strategy(name),
		Status:   timing.StatusFailed,
		Err:      errors.New("connection refused"),
	}
}

func TestBaseline_Empty(t *testing.T) {
	store := openTestStore(t)

	baseline, err := store.Baseline(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, baseline)
}

func TestBaseline_LatestPreviousRun(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveRun(ctx, run("first", t0), results(
		ok("customers", "raw", time.Millisecond),
		ok("customers", "orm", 4*time.Millisecond),
	)))
	require.NoError(t, store.SaveRun(ctx, run("second", t0.Add(time.Hour)), results(
		ok("customers", "raw", 2*time.Millisecond),
		failed("customers", "orm"),
	)))
	require.NoError(t, store.SaveRun(ctx, run("current", t0.Add(2*time.Hour)), results(
		ok("customers", "raw", 9*time.Millisecond),
		ok("customers", "orm", 9*time.Millisecond),
	)))

	baseline, err := store.Baseline(ctx, "current")
	require.NoError(t, err)

	got, found := baseline.Lookup("customers", "raw")
	require.True(t, found)
	require.Equal(t, 2*time.Millisecond, got)

	// The failed result in "second" is skipped in favor of the older success.
	got, found = baseline.Lookup("customers", "orm")
	require.True(t, found)
	require.Equal(t, 4*time.Millisecond, got)
}

func TestSaveRun_ReplacesSameRun(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveRun(ctx, run("a", t0), results(ok("g", "raw", time.Millisecond))))
	require.NoError(t, store.SaveRun(ctx, run("a", t0), results(ok("g", "raw", 3*time.Millisecond))))

	var n int
	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM case_results`).Scan(&n))
	require.Equal(t, 1, n)

	baseline, err := store.Baseline(ctx, "")
	require.NoError(t, err)
	got, _ := baseline.Lookup("g", "raw")
	require.Equal(t, 3*time.Millisecond, got)
}

func TestSaveRun_StoresFailureCause(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.SaveRun(ctx, run("a", time.Now()), results(failed("g", "pq"))))

	var status, cause string
	err := store.db.QueryRowContext(ctx,
		`SELECT status, error FROM case_results WHERE run_id = 'a' AND name = 'pq'`).Scan(&status, &cause)
	require.NoError(t, err)
	require.Equal(t, "failed", status)
	require.Equal(t, "connection refused", cause)
}

func TestSaveRun_RequiresRunID(t *testing.T) {
	store := openTestStore(t)
	err := store.SaveRun(context.Background(), report.Meta{}, results())
	require.Error(t, err)
}
