// Package provision starts one isolated PostgreSQL backend per strategy,
// waits until each accepts connections and tears them all down afterwards.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/sync/errgroup"

	"github.com/justjake/querybench/pkg/executor"
	"github.com/justjake/querybench/pkg/observability"
)

// State of a backend instance.
type State int

const (
	Starting State = iota
	Ready
	Failed
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	case Stopped:
		return "stopped"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Endpoint is where a backend accepts connections.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// BackendInstance is one database server dedicated to a strategy.
type BackendInstance struct {
	Name     string
	Strategy executor.Strategy
	Endpoint Endpoint
	State    State
	// Err is the most recent failure, if any.
	Err error

	launched bool
	released bool
}

// Instances maps each strategy to its backend.
type Instances map[executor.Strategy]*BackendInstance

// Sorted returns instances in strategy order.
func (in Instances) Sorted() []*BackendInstance {
	out := make([]*BackendInstance, 0, len(in))
	for _, inst := range in {
		out = append(out, inst)
	}
	slices.SortFunc(out, func(a, b *BackendInstance) int {
		return a.Strategy.Index() - b.Strategy.Index()
	})
	return out
}

// Launcher starts and stops database servers. Instances are identified by
// the name passed to Start.
type Launcher interface {
	Start(ctx context.Context, name string, port int) (Endpoint, error)
	Stop(ctx context.Context, name string) error
}

// ReadyProbe returns nil once ep accepts connections.
type ReadyProbe func(ctx context.Context, ep Endpoint) error

// ProvisionError reports the strategy whose backend could not be brought up.
type ProvisionError struct {
	Strategy executor.Strategy
	Err      error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision %s: %v", e.Strategy, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// Provisioner owns the lifecycle of backend instances.
type Provisioner struct {
	Launcher Launcher
	Ports    PortPlan
	Probe    ReadyProbe

	StartupTimeout time.Duration
	PollInterval   time.Duration
	// NamePrefix is prepended to the strategy to name each instance.
	NamePrefix string

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

func (p *Provisioner) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (p *Provisioner) instanceName(s executor.Strategy) string {
	prefix := p.NamePrefix
	if prefix == "" {
		prefix = "querybench"
	}
	return prefix + "-" + string(s)
}

// Provision starts one instance per strategy concurrently and waits until all
// are ready. If any instance fails, every started instance is stopped and a
// *ProvisionError naming the failed strategy is returned.
func (p *Provisioner) Provision(ctx context.Context, strategies []executor.Strategy) (Instances, error) {
	instances := make(Instances, len(strategies))
	ports := make(map[executor.Strategy]int, len(strategies))
	for _, s := range strategies {
		if _, dup := instances[s]; dup {
			return nil, &ProvisionError{Strategy: s, Err: errors.New("strategy listed twice")}
		}
		port, err := p.Ports.PortFor(s)
		if err != nil {
			return nil, &ProvisionError{Strategy: s, Err: err}
		}
		ports[s] = port
		instances[s] = &BackendInstance{Name: p.instanceName(s), Strategy: s, State: Starting}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range instances.Sorted() {
		g.Go(func() error {
			if err := p.bringUp(gctx, inst, ports[inst.Strategy]); err != nil {
				inst.State = Failed
				inst.Err = err
				return &ProvisionError{Strategy: inst.Strategy, Err: err}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		p.logger().Error("provisioning failed, stopping started instances", "error", err)
		if terr := p.Teardown(context.WithoutCancel(ctx), instances); terr != nil {
			p.logger().Error("rollback incomplete", "error", terr)
		}
		return nil, err
	}
	return instances, nil
}

func (p *Provisioner) bringUp(ctx context.Context, inst *BackendInstance, port int) error {
	log := p.logger().With("instance", inst.Name, "port", port)
	started := time.Now()

	log.Info("starting backend")
	ep, err := p.Launcher.Start(ctx, inst.Name, port)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	inst.launched = true
	inst.Endpoint = ep

	if err := p.waitReady(ctx, ep); err != nil {
		return err
	}
	inst.State = Ready
	p.Metrics.RecordInstanceReady(string(inst.Strategy), time.Since(started))
	log.Info("backend ready", "addr", ep.Addr(), "elapsed", time.Since(started).Round(time.Millisecond))
	return nil
}

// waitReady polls the probe every PollInterval until it succeeds or
// StartupTimeout expires.
func (p *Provisioner) waitReady(ctx context.Context, ep Endpoint) error {
	if p.Probe == nil {
		return nil
	}
	if p.StartupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.StartupTimeout)
		defer cancel()
	}
	interval := p.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	var last error
	err := backoff.Retry(func() error {
		err := p.Probe(ctx, ep)
		if err == nil {
			return nil
		}
		last = err
		if !retryableProbeError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.NewConstantBackOff(interval), ctx))
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && last != nil {
		return fmt.Errorf("not ready within %s: %w", p.StartupTimeout, last)
	}
	return fmt.Errorf("readiness: %w", err)
}

// retryableProbeError reports whether a failed probe may succeed later.
// Authentication problems will not fix themselves.
func retryableProbeError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.InvalidPassword, pgerrcode.InvalidAuthorizationSpecification:
			return false
		}
	}
	return true
}

// PgxProbe connects with pgx and closes the connection.
func PgxProbe(connString func(Endpoint) string) ReadyProbe {
	return func(ctx context.Context, ep Endpoint) error {
		conn, err := pgx.Connect(ctx, connString(ep))
		if err != nil {
			return err
		}
		return conn.Close(ctx)
	}
}

// Teardown stops every launched instance that has not been released yet.
// Failures are collected and returned together. Calling it again does not
// retry instances that were already attempted.
func (p *Provisioner) Teardown(ctx context.Context, instances Instances) error {
	var errs []error
	for _, inst := range instances.Sorted() {
		if !inst.launched || inst.released {
			continue
		}
		inst.released = true
		if err := p.Launcher.Stop(ctx, inst.Name); err != nil {
			inst.State = Failed
			inst.Err = err
			errs = append(errs, fmt.Errorf("stop %s: %w", inst.Name, err))
			continue
		}
		inst.State = Stopped
		p.Metrics.RecordInstanceStopped(string(inst.Strategy))
		p.logger().Info("backend stopped", "instance", inst.Name)
	}
	return errors.Join(errs...)
}
