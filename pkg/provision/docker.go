package provision

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	testcontainers "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const postgresPort = nat.Port("5432/tcp")

// DockerLauncher runs each backend as a PostgreSQL container whose port 5432
// is published on the requested loopback host port.
type DockerLauncher struct {
	Image    string
	User     string
	Password string
	Database string
	// StartupTimeout bounds the wait for the container port to open.
	StartupTimeout time.Duration
	Logger         *slog.Logger

	mu         sync.Mutex
	containers map[string]testcontainers.Container
}

var _ Launcher = (*DockerLauncher)(nil)

func (d *DockerLauncher) Start(ctx context.Context, name string, port int) (Endpoint, error) {
	timeout := d.StartupTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	req := testcontainers.ContainerRequest{
		Image: d.Image,
		Env: map[string]string{
			"POSTGRES_USER":     d.User,
			"POSTGRES_PASSWORD": d.Password,
			"POSTGRES_DB":       d.Database,
		},
		ExposedPorts: []string{string(postgresPort)},
		Labels:       map[string]string{"querybench.instance": name},
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.PortBindings = nat.PortMap{
				postgresPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: strconv.Itoa(port)}},
			}
		},
		WaitingFor: wait.ForListeningPort(postgresPort).WithStartupTimeout(timeout),
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if c != nil {
			_ = c.Terminate(context.WithoutCancel(ctx))
		}
		return Endpoint{}, fmt.Errorf("start container %s: %w", name, err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(context.WithoutCancel(ctx))
		return Endpoint{}, fmt.Errorf("container host: %w", err)
	}
	mapped, err := c.MappedPort(ctx, postgresPort)
	if err != nil {
		_ = c.Terminate(context.WithoutCancel(ctx))
		return Endpoint{}, fmt.Errorf("container port: %w", err)
	}

	d.mu.Lock()
	if d.containers == nil {
		d.containers = make(map[string]testcontainers.Container)
	}
	d.containers[name] = c
	d.mu.Unlock()

	if d.Logger != nil {
		d.Logger.Debug("container started", "instance", name, "id", c.GetContainerID(), "port", mapped.Int())
	}
	return Endpoint{Host: host, Port: mapped.Int()}, nil
}

// Stop terminates the container started under name. Unknown names are a
// no-op.
func (d *DockerLauncher) Stop(ctx context.Context, name string) error {
	d.mu.Lock()
	c, ok := d.containers[name]
	delete(d.containers, name)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	if err := c.Terminate(ctx); err != nil {
		return fmt.Errorf("terminate container %s: %w", name, err)
	}
	return nil
}
