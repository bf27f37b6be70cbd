package config

import (
	"errors"
	"fmt"
	"strings"
)

// PrometheusConfig enables the metrics endpoint while a run is in progress.
type PrometheusConfig struct {
	// Listen is "host:port" or ":port". Default ":9090".
	Listen string `json:"listen,omitempty" yaml:"listen,omitempty"`

	// Path of the metrics endpoint. Default "/metrics".
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

func (c *PrometheusConfig) GetListen() string {
	if c.Listen == "" {
		return ":9090"
	}
	return c.Listen
}

func (c *PrometheusConfig) GetPath() string {
	if c.Path == "" {
		return "/metrics"
	}
	return c.Path
}

// Validate validates the Prometheus configuration.
func (c *PrometheusConfig) Validate() error {
	var errs []error

	listen := c.GetListen()
	if !strings.Contains(listen, ":") {
		errs = append(errs, fmt.Errorf("listen address %q must contain a port (e.g., ':9090' or '0.0.0.0:9090')", listen))
	}

	path := c.GetPath()
	if !strings.HasPrefix(path, "/") {
		errs = append(errs, fmt.Errorf("path %q must start with '/'", path))
	}

	return errors.Join(errs...)
}

// ParsePrometheusListen parses a "host:port/path" flag value. An empty value
// returns nil (metrics disabled).
func ParsePrometheusListen(listen string) *PrometheusConfig {
	if listen == "" {
		return nil
	}
	addr, path, found := strings.Cut(listen, "/")
	if !found {
		return &PrometheusConfig{Listen: addr, Path: "/metrics"}
	}
	return &PrometheusConfig{Listen: addr, Path: "/" + path}
}
