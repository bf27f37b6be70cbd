// Package timing measures registered cases: it runs setup, discards warm-up
// iterations, samples until the estimate is stable or a budget runs out, and
// reduces the samples to latency statistics.
package timing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgerrcode"

	"github.com/justjake/querybench/pkg/observability"
	"github.com/justjake/querybench/pkg/registry"
)

// Config controls how long each case is measured.
type Config struct {
	// WarmupIterations are run and discarded before measuring.
	WarmupIterations int
	// WarmupTime cuts warm-up short once spent. Zero means no limit.
	WarmupTime time.Duration

	// MinIterations is the number of measured iterations always collected,
	// unless the case time limit is reached first.
	MinIterations int
	// MaxIterations stops sampling once reached. Zero means no limit.
	MaxIterations int
	// Budget is the measuring time after which sampling stops, once
	// MinIterations have been collected.
	Budget time.Duration
	// TargetRME stops sampling early once the relative margin of error of the
	// mean falls to this fraction. Zero disables the rule.
	TargetRME float64

	// CaseTimeout is the hard ceiling for warm-up plus measuring.
	CaseTimeout time.Duration
	// OpTimeout bounds a single iteration. Zero means no limit.
	OpTimeout time.Duration
	// SetupTimeout bounds the case setup. Zero means no limit.
	SetupTimeout time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		WarmupIterations: 10,
		MinIterations:    12,
		MaxIterations:    100_000,
		Budget:           time.Second,
		CaseTimeout:      30 * time.Second,
		OpTimeout:        10 * time.Second,
		SetupTimeout:     30 * time.Second,
	}
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.WarmupIterations < 0 {
		errs = append(errs, errors.New("warmup iterations must not be negative"))
	}
	if c.MinIterations < 1 {
		errs = append(errs, errors.New("min iterations must be at least 1"))
	}
	if c.MaxIterations != 0 && c.MaxIterations < c.MinIterations {
		errs = append(errs, fmt.Errorf("max iterations %d is below min iterations %d", c.MaxIterations, c.MinIterations))
	}
	if c.CaseTimeout <= 0 {
		errs = append(errs, errors.New("case timeout must be positive"))
	}
	if c.Budget < 0 || c.OpTimeout < 0 || c.SetupTimeout < 0 || c.WarmupTime < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if c.TargetRME < 0 || c.TargetRME >= 1 {
		errs = append(errs, fmt.Errorf("target rme %v must be in [0, 1)", c.TargetRME))
	}
	return errors.Join(errs...)
}

// Engine runs cases one at a time.
type Engine struct {
	Config  Config
	Logger  *slog.Logger
	Metrics *observability.Metrics

	// Now is the clock used for samples and budgets. Defaults to time.Now.
	Now func() time.Time
}

// New returns an engine with the given config.
func New(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{Config: cfg, Logger: logger}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// RunAll runs every case of every group in definition order and returns one
// result per case. A failing case never stops the run; a cancelled ctx marks
// the remaining cases failed.
func (e *Engine) RunAll(ctx context.Context, groups []*registry.Group) *Results {
	results := &Results{Started: e.now()}
	for _, g := range groups {
		gr := &GroupResult{Name: g.Name}
		for _, c := range g.Cases {
			gr.Cases = append(gr.Cases, e.RunCase(ctx, c))
		}
		results.Groups = append(results.Groups, gr)
	}
	results.Finished = e.now()
	return results
}

// RunCase measures a single case.
func (e *Engine) RunCase(ctx context.Context, c *registry.Case) *CaseResult {
	res := &CaseResult{
		Group:    c.Group,
		Case:     c.Name,
		Strategy: c.Strategy(),
	}
	log := e.logger().With("group", c.Group, "case", c.Name, "strategy", res.Strategy)
	start := e.now()
	defer func() {
		res.Elapsed = e.now().Sub(start)
		e.Metrics.RecordCase(string(res.Strategy), string(res.Status))
		if res.OK() {
			log.Info("case finished",
				"iterations", res.Stats.Iterations,
				"mean", res.Stats.Mean,
				"stddev", res.Stats.StdDev,
				"timed_out", res.TimedOut)
		} else {
			log.Warn("case failed", "error", res.Err)
		}
	}()

	fail := func(err error) *CaseResult {
		res.Status = StatusFailed
		res.Err = err
		res.Stats = Stats{}
		return res
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	if c.Setup != nil {
		log.Debug("running setup")
		err := call(ctx, e.Config.SetupTimeout, func(ctx context.Context) error {
			rows, err := c.Setup(ctx)
			res.Rows = rows
			return err
		})
		if err != nil {
			return fail(fmt.Errorf("setup: %w", err))
		}
	}

	caseCtx, cancel := context.WithTimeout(ctx, e.Config.CaseTimeout)
	defer cancel()
	loopStart := e.now()
	overLimit := func() bool {
		return e.now().Sub(loopStart) >= e.Config.CaseTimeout
	}
	// An iteration cut off by the case deadline is a timeout, not a failure.
	// Any other error is a failure even when it arrives after the deadline.
	cutOff := func(err error) bool {
		return ctx.Err() == nil && errors.Is(caseCtx.Err(), context.DeadlineExceeded) && cancelled(err)
	}

	for i := 0; i < e.Config.WarmupIterations; i++ {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if e.Config.WarmupTime > 0 && e.now().Sub(loopStart) >= e.Config.WarmupTime {
			break
		}
		if overLimit() {
			res.TimedOut = true
			break
		}
		if _, err := e.iterate(caseCtx, c.Operation); err != nil {
			if cutOff(err) {
				res.TimedOut = true
				break
			}
			return fail(fmt.Errorf("warmup iteration %d: %w", i+1, err))
		}
		res.Warmup++
	}

	var s sampler
	budgetStart := e.now()
	for !res.TimedOut {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if s.n() >= e.Config.MinIterations && e.enough(&s, e.now().Sub(budgetStart)) {
			break
		}
		if overLimit() {
			res.TimedOut = true
			break
		}
		d, err := e.iterate(caseCtx, c.Operation)
		if err != nil {
			if cutOff(err) {
				res.TimedOut = true
				break
			}
			e.Metrics.RecordIteration(c.Group, c.Name, string(res.Strategy), d, false)
			return fail(fmt.Errorf("iteration %d: %w", s.n()+1, err))
		}
		s.add(d)
		e.Metrics.RecordIteration(c.Group, c.Name, string(res.Strategy), d, true)
	}

	if s.n() == 0 {
		return fail(ErrTimeoutExceeded)
	}
	res.Status = StatusOK
	res.Stats = Summarize(s.samples)
	return res
}

// enough applies the stop rules that take effect after MinIterations.
func (e *Engine) enough(s *sampler, spent time.Duration) bool {
	switch {
	case e.Config.MaxIterations > 0 && s.n() >= e.Config.MaxIterations:
		return true
	case spent >= e.Config.Budget:
		return true
	case e.Config.TargetRME > 0 && s.rme() <= e.Config.TargetRME:
		return true
	}
	return false
}

// iterate runs op once and returns its latency. The sample ends only when op
// returns.
func (e *Engine) iterate(ctx context.Context, op registry.Operation) (time.Duration, error) {
	t0 := e.now()
	err := call(ctx, e.Config.OpTimeout, op)
	return e.now().Sub(t0), err
}

// cancelled reports whether err is how an operation ends when its context
// is cancelled: the context error itself, or the server's query_canceled.
func cancelled(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var coded interface{ Code() string }
	return errors.As(err, &coded) && coded.Code() == pgerrcode.QueryCanceled
}

// call runs fn under an optional timeout, turning panics into errors.
func call(ctx context.Context, timeout time.Duration, fn func(context.Context) error) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
