// Package suite runs a complete benchmark: it provisions one backend per
// strategy, seeds the Northwind fixture, connects the executors, measures
// every case and writes the reports into a fresh output directory.
package suite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/justjake/querybench/pkg/config"
	"github.com/justjake/querybench/pkg/executor"
	"github.com/justjake/querybench/pkg/northwind"
	"github.com/justjake/querybench/pkg/observability"
	"github.com/justjake/querybench/pkg/provision"
	"github.com/justjake/querybench/pkg/registry"
	"github.com/justjake/querybench/pkg/report"
	"github.com/justjake/querybench/pkg/timing"
)

// Opener connects an executor for a strategy. executor.Open is the default.
type Opener func(ctx context.Context, strategy executor.Strategy, connString string, opts executor.Options) (executor.Executor, error)

// Seeder loads the fixture into the database at connString.
type Seeder func(ctx context.Context, connString string, fx *northwind.Fixture) error

// Suite runs benchmarks according to Config.
type Suite struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *observability.Metrics
	// Secrets resolves the database password. A nil cache is created on
	// first use.
	Secrets *config.SecretCache

	// Launcher starts the backends. Defaults to Docker or the external
	// server, following Config.Provision.Mode.
	Launcher provision.Launcher
	// Probe checks readiness. Defaults to a pgx connection attempt.
	Probe provision.ReadyProbe
	Open  Opener
	Seed  Seeder

	// GitDir is the checkout whose state is recorded with the run. Defaults
	// to the working directory.
	GitDir string
	// Now is the clock for the engine and run metadata.
	Now func() time.Time
}

// Outcome is everything a run produced.
type Outcome struct {
	Meta      report.Meta
	Results   *timing.Results
	OutputDir string
	// Baseline holds the previous means from the history database, if any.
	Baseline report.Baseline
	// Cleanup collects executor close and teardown failures. They never
	// invalidate Results.
	Cleanup error
}

// ReportOptions returns the renderer options matching the outcome.
func (o *Outcome) ReportOptions() []report.Option {
	if len(o.Baseline) == 0 {
		return nil
	}
	return []report.Option{report.WithBaseline(o.Baseline)}
}

func (s *Suite) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *Suite) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Run executes the whole benchmark. Provisioning, seeding, connection and
// registration failures abort the run and are returned. Failing cases do
// not: they are recorded in the results. The returned Outcome is non-nil
// whenever the output directory was created, so callers can point at the
// partial artifacts.
func (s *Suite) Run(ctx context.Context) (out *Outcome, err error) {
	cfg := s.Config
	strategies, err := cfg.StrategyList()
	if err != nil {
		return nil, fmt.Errorf("strategies: %w", err)
	}
	secrets := s.Secrets
	if secrets == nil {
		secrets = config.NewSecretCache(nil)
	}
	password, err := secrets.Get(ctx, cfg.Database.Password)
	if err != nil {
		return nil, fmt.Errorf("database password: %w", err)
	}

	runID := uuid.NewString()
	started := s.now()
	dir, err := s.initOutputDir(runID, started)
	if err != nil {
		return nil, fmt.Errorf("failed to init output dir: %w", err)
	}
	log := s.logger().With("execution_id", runID[:8])
	log.Info("starting benchmark run", "strategies", strategies, "output", dir)

	out = &Outcome{
		OutputDir: dir,
		Meta: report.Meta{
			RunID:    runID,
			Started:  started,
			Settings: settings(cfg, strategies),
		},
	}
	s.captureGit(log, &out.Meta, dir)

	connString := func(ep provision.Endpoint) string {
		return cfg.Database.ConnString(ep.Host, ep.Port, password)
	}
	prov := s.provisioner(password, connString)
	instances, err := prov.Provision(ctx, strategies)
	if err != nil {
		return out, err
	}
	defer func() {
		if terr := prov.Teardown(context.WithoutCancel(ctx), instances); terr != nil {
			log.Error("teardown incomplete", "error", terr)
			out.Cleanup = errors.Join(out.Cleanup, terr)
		}
	}()

	fx := northwind.Generate(cfg.Fixture.Seed, cfg.Fixture.Scale)
	if cfg.Fixture.Skip {
		log.Info("skipping fixture load")
	} else if err := s.seed(ctx, log, instances, fx, connString); err != nil {
		return out, err
	}

	executors, err := s.openExecutors(ctx, instances, connString)
	if err != nil {
		return out, err
	}
	defer func() {
		if cerr := closeExecutors(executors); cerr != nil {
			log.Error("failed to close executors", "error", cerr)
			out.Cleanup = errors.Join(out.Cleanup, cerr)
		}
	}()

	reg := registry.New()
	if err := northwind.Register(reg, executors, fx); err != nil {
		return out, fmt.Errorf("register cases: %w", err)
	}
	if err := reg.Filter(cfg.Groups); err != nil {
		return out, fmt.Errorf("groups: %w", err)
	}
	if err := reg.CheckMatrix(strategies); err != nil {
		return out, fmt.Errorf("case matrix: %w", err)
	}

	log.Info("measuring", "groups", len(reg.Groups()), "cases", reg.Len())
	engine := timing.New(EngineConfig(cfg.Timing), s.logger())
	engine.Metrics = s.Metrics
	engine.Now = s.Now
	out.Results = engine.RunAll(ctx, reg.Groups())
	out.Meta.Finished = s.now()

	ok, failed := out.Results.Counts()
	log.Info("benchmark run finished", "ok", ok, "failed", failed,
		"elapsed", out.Meta.Finished.Sub(started).Round(time.Millisecond))

	if err := s.writeReports(ctx, log, out); err != nil {
		log.Error("failed to write reports", "error", err)
	}
	return out, nil
}

// EngineConfig converts the configured timing settings.
func EngineConfig(c config.TimingConfig) timing.Config {
	return timing.Config{
		WarmupIterations: c.Warmup,
		WarmupTime:       c.WarmupTime.Duration(),
		MinIterations:    c.MinIterations,
		MaxIterations:    c.MaxIterations,
		Budget:           c.Budget.Duration(),
		TargetRME:        c.TargetRME,
		CaseTimeout:      c.CaseTimeout.Duration(),
		OpTimeout:        c.OpTimeout.Duration(),
		SetupTimeout:     c.SetupTimeout.Duration(),
	}
}

func (s *Suite) provisioner(password string, connString func(provision.Endpoint) string) *provision.Provisioner {
	cfg := s.Config
	launcher := s.Launcher
	if launcher == nil {
		switch cfg.Provision.Mode {
		case config.ModeExternal:
			launcher = provision.ExternalLauncher{
				Endpoint: provision.Endpoint{Host: cfg.Database.Host, Port: cfg.Database.Port},
			}
		default:
			launcher = &provision.DockerLauncher{
				Image:          cfg.Provision.Image,
				User:           cfg.Database.User,
				Password:       password,
				Database:       cfg.Database.Name,
				StartupTimeout: cfg.Provision.StartupTimeout.Duration(),
				Logger:         s.logger(),
			}
		}
	}
	probe := s.Probe
	if probe == nil {
		probe = provision.PgxProbe(connString)
	}
	return &provision.Provisioner{
		Launcher:       launcher,
		Ports:          provision.NewPortPlan(cfg.Provision.BasePort, !cfg.Provision.NoWorktreeOffset),
		Probe:          probe,
		StartupTimeout: cfg.Provision.StartupTimeout.Duration(),
		PollInterval:   cfg.Provision.PollInterval.Duration(),
		Logger:         s.logger(),
		Metrics:        s.Metrics,
	}
}

// seed loads fx once per distinct endpoint; strategies sharing an external
// server share its data.
func (s *Suite) seed(ctx context.Context, log *slog.Logger, instances provision.Instances, fx *northwind.Fixture, connString func(provision.Endpoint) string) error {
	seed := s.Seed
	if seed == nil {
		seed = SeedPostgres
	}
	done := make(map[provision.Endpoint]bool)
	for _, inst := range instances.Sorted() {
		if done[inst.Endpoint] {
			continue
		}
		done[inst.Endpoint] = true

		started := time.Now()
		if err := seed(ctx, connString(inst.Endpoint), fx); err != nil {
			return &provision.ProvisionError{Strategy: inst.Strategy, Err: fmt.Errorf("seed fixture: %w", err)}
		}
		log.Info("fixture loaded", "instance", inst.Name, "addr", inst.Endpoint.Addr(),
			"elapsed", time.Since(started).Round(time.Millisecond))
	}
	return nil
}

// SeedPostgres connects with pgx and loads fx through COPY.
func SeedPostgres(ctx context.Context, connString string, fx *northwind.Fixture) error {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return err
	}
	defer conn.Close(context.WithoutCancel(ctx))
	return northwind.Seed(ctx, conn, fx)
}

func (s *Suite) openExecutors(ctx context.Context, instances provision.Instances, connString func(provision.Endpoint) string) (map[executor.Strategy]executor.Executor, error) {
	open := s.Open
	if open == nil {
		open = executor.Open
	}
	opts := executor.Options{
		SimpleProtocol: s.Config.Executor.SimpleProtocol,
		MaxConns:       int32(s.Config.Executor.MaxConns),
	}
	executors := make(map[executor.Strategy]executor.Executor, len(instances))
	for _, inst := range instances.Sorted() {
		ex, err := open(ctx, inst.Strategy, connString(inst.Endpoint), opts)
		if err != nil {
			_ = closeExecutors(executors)
			return nil, fmt.Errorf("connect %s: %w", inst.Strategy, err)
		}
		executors[inst.Strategy] = ex
	}
	return executors, nil
}

func closeExecutors(executors map[executor.Strategy]executor.Executor) error {
	var errs []error
	for _, s := range executor.KnownStrategies {
		ex, ok := executors[s]
		if !ok {
			continue
		}
		if err := ex.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s, err))
		}
	}
	return errors.Join(errs...)
}

// initOutputDir creates <output>/<timestamp>-<id8> and points the "latest"
// symlink at it.
func (s *Suite) initOutputDir(runID string, started time.Time) (string, error) {
	base := s.Config.Output.Dir
	if base == "" {
		base = "bench-results"
	}
	dir := filepath.Join(base, fmt.Sprintf("%s-%s", started.Format("2006-01-02T15-04-05"), runID[:8]))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	latest := filepath.Join(base, "latest")
	_ = os.Remove(latest)
	if err := os.Symlink(filepath.Base(dir), latest); err != nil {
		s.logger().Warn("failed to update latest symlink", "error", err)
	}
	return dir, nil
}

func (s *Suite) captureGit(log *slog.Logger, meta *report.Meta, dir string) {
	gitDir := s.GitDir
	if gitDir == "" {
		gitDir = "."
	}
	info, err := CaptureGit(gitDir)
	if err != nil {
		log.Debug("git metadata unavailable", "error", err)
		return
	}
	meta.GitSHA = info.SHA
	meta.GitBranch = info.Branch
	meta.GitDirty = info.Dirty
	if err := info.writeFiles(dir); err != nil {
		log.Warn("failed to write git metadata", "error", err)
	}
	log.Info("recorded checkout", "git", info.String())
}

func settings(cfg *config.Config, strategies []executor.Strategy) []report.Setting {
	names := make([]string, len(strategies))
	for i, s := range strategies {
		names[i] = string(s)
	}
	groups := "all"
	if len(cfg.Groups) > 0 {
		groups = strings.Join(cfg.Groups, "; ")
	}
	provisioning := cfg.Provision.Mode
	if cfg.Provision.Mode == config.ModeDocker {
		provisioning += " (" + cfg.Provision.Image + ")"
	}
	t := cfg.Timing

	out := []report.Setting{
		{Name: "Strategies", Value: strings.Join(names, ", ")},
		{Name: "Groups", Value: groups},
		{Name: "Provisioning", Value: provisioning},
		{Name: "Fixture", Value: fmt.Sprintf("seed %d, scale %d", cfg.Fixture.Seed, cfg.Fixture.Scale)},
		{Name: "Warmup", Value: fmt.Sprintf("%d iterations", t.Warmup)},
		{Name: "Iterations", Value: fmt.Sprintf("%d to %d", t.MinIterations, t.MaxIterations)},
		{Name: "Budget per case", Value: t.Budget.String()},
		{Name: "Case timeout", Value: t.CaseTimeout.String()},
		{Name: "Operation timeout", Value: t.OpTimeout.String()},
		{Name: "Simple protocol", Value: strconv.FormatBool(cfg.Executor.SimpleProtocol)},
	}
	if t.TargetRME > 0 {
		out = append(out, report.Setting{Name: "Target RME", Value: fmt.Sprintf("%.1f%%", t.TargetRME*100)})
	}
	return out
}
