// Package config loads the querybench run configuration from a JSON or YAML
// file, environment variables and struct-tag defaults.
package config

import (
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"
	"iter"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/justjake/querybench/pkg/executor"
)

// Provisioning modes.
const (
	ModeDocker   = "docker"
	ModeExternal = "external"
)

// Output formats written to the run directory.
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
	FormatGoBench  = "gobench"
	FormatDOT      = "dot"
)

var allFormats = []string{FormatText, FormatMarkdown, FormatJSON, FormatGoBench, FormatDOT}

// Config holds everything a run needs.
type Config struct {
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Provision ProvisionConfig `json:"provision" yaml:"provision"`
	Executor  ExecutorConfig  `json:"executor" yaml:"executor"`
	Timing    TimingConfig    `json:"timing" yaml:"timing"`
	Fixture   FixtureConfig   `json:"fixture" yaml:"fixture"`
	Output    OutputConfig    `json:"output" yaml:"output"`

	// Strategies to benchmark. Empty means all known strategies.
	Strategies []string `json:"strategies,omitempty" yaml:"strategies,omitempty" env:"BENCH_STRATEGIES"`
	// Groups restricts the run to the named groups. Empty means all.
	Groups []string `json:"groups,omitempty" yaml:"groups,omitempty" env:"BENCH_GROUPS"`

	// History is the path of the SQLite results database. Empty disables it.
	History string `json:"history,omitempty" yaml:"history,omitempty" env:"BENCH_HISTORY"`

	// Prometheus enables the metrics endpoint when present.
	Prometheus *PrometheusConfig `json:"prometheus,omitempty" yaml:"prometheus,omitempty"`
}

// DatabaseConfig describes how to reach each backend instance. Host and Port
// are only used in external mode; in docker mode each strategy gets its own
// port.
type DatabaseConfig struct {
	Host     string    `json:"host" yaml:"host" env:"DB_HOST" default:"localhost"`
	Port     int       `json:"port,omitempty" yaml:"port,omitempty" env:"DB_PORT"`
	Name     string    `json:"name" yaml:"name" env:"DB_NAME" default:"postgres"`
	User     string    `json:"user" yaml:"user" env:"DB_USER" default:"postgres"`
	Password SecretRef `json:"password" yaml:"password" env:"DB_PASSWORD"`
	SSLMode  string    `json:"sslmode" yaml:"sslmode" env:"DB_SSLMODE" default:"disable"`
}

// ConnString builds a postgres:// URL for host:port.
func (d DatabaseConfig) ConnString(host string, port int, password string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, password),
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + d.Name,
	}
	if d.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {d.SSLMode}}.Encode()
	}
	return u.String()
}

// ProvisionConfig controls how backend instances are started.
type ProvisionConfig struct {
	Mode           string   `json:"mode" yaml:"mode" env:"BENCH_PROVISION" default:"docker"`
	Image          string   `json:"image" yaml:"image" env:"BENCH_IMAGE" default:"postgres:16-alpine"`
	BasePort       int      `json:"base_port" yaml:"base_port" env:"BENCH_BASE_PORT" default:"55432"`
	StartupTimeout Duration `json:"startup_timeout" yaml:"startup_timeout" env:"BENCH_STARTUP_TIMEOUT" default:"60s"`
	PollInterval   Duration `json:"poll_interval" yaml:"poll_interval" default:"500ms"`
	// NoWorktreeOffset disables the per-worktree port shift.
	NoWorktreeOffset bool `json:"no_worktree_offset,omitempty" yaml:"no_worktree_offset,omitempty" env:"BENCH_NO_WORKTREE_OFFSET"`
}

// ExecutorConfig tunes the strategy adapters.
type ExecutorConfig struct {
	SimpleProtocol bool `json:"simple_protocol,omitempty" yaml:"simple_protocol,omitempty" env:"BENCH_SIMPLE_QUERY"`
	MaxConns       int  `json:"max_conns,omitempty" yaml:"max_conns,omitempty" env:"BENCH_MAX_CONNS" default:"4"`
}

// TimingConfig mirrors the timing engine settings.
type TimingConfig struct {
	Warmup        int      `json:"warmup" yaml:"warmup" env:"BENCH_WARMUP" default:"10"`
	WarmupTime    Duration `json:"warmup_time,omitzero" yaml:"warmup_time,omitempty" env:"BENCH_WARMUP_TIME"`
	MinIterations int      `json:"min_iterations" yaml:"min_iterations" env:"BENCH_MIN_ITERATIONS" default:"12"`
	MaxIterations int      `json:"max_iterations" yaml:"max_iterations" env:"BENCH_MAX_ITERATIONS" default:"100000"`
	Budget        Duration `json:"budget" yaml:"budget" env:"BENCH_DURATION" default:"1s"`
	TargetRME     float64  `json:"target_rme,omitempty" yaml:"target_rme,omitempty" env:"BENCH_TARGET_RME"`
	CaseTimeout   Duration `json:"case_timeout" yaml:"case_timeout" env:"BENCH_CASE_TIMEOUT" default:"30s"`
	OpTimeout     Duration `json:"op_timeout" yaml:"op_timeout" env:"BENCH_OP_TIMEOUT" default:"10s"`
	SetupTimeout  Duration `json:"setup_timeout" yaml:"setup_timeout" default:"30s"`
}

// FixtureConfig controls the generated dataset.
type FixtureConfig struct {
	Seed  uint64 `json:"seed" yaml:"seed" env:"BENCH_SEED" default:"1"`
	Scale int    `json:"scale" yaml:"scale" env:"BENCH_SCALE" default:"1"`
	// Skip assumes the database already holds the fixture.
	Skip bool `json:"skip,omitempty" yaml:"skip,omitempty" env:"BENCH_SKIP_SEED"`
}

// OutputConfig controls where results go.
type OutputConfig struct {
	Dir     string   `json:"dir" yaml:"dir" env:"BENCH_OUTPUT" default:"bench-results"`
	Formats []string `json:"formats" yaml:"formats" env:"BENCH_FORMATS" default:"text,markdown,json,gobench"`
}

// Default returns a config populated from struct-tag defaults.
func Default() *Config {
	cfg := &Config{}
	if err := ApplyDefaults(cfg); err != nil {
		panic(fmt.Sprintf("invalid default tag: %v", err))
	}
	return cfg.withFallbacks()
}

// withFallbacks fills values that cannot be expressed as default tags.
func (c *Config) withFallbacks() *Config {
	if c.Database.Password == (SecretRef{}) {
		c.Database.Password = SecretRef{InsecureValue: "postgres"}
	}
	return c
}

// ParseConfig parses a JSON configuration over the defaults.
func ParseConfig(jsonStr string) (*Config, error) {
	cfg := &Config{}
	if err := ApplyDefaults(cfg); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(jsonStr), cfg); err != nil {
		return nil, err
	}
	return cfg.withFallbacks(), nil
}

// ParseYAMLConfig parses a YAML configuration over the defaults.
func ParseYAMLConfig(yamlStr string) (*Config, error) {
	cfg := &Config{}
	if err := ApplyDefaults(cfg); err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal([]byte(yamlStr), cfg); err != nil {
		return nil, err
	}
	return cfg.withFallbacks(), nil
}

// ReadConfigFile reads a .json, .yaml or .yml file.
func ReadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAMLConfig(string(data))
	default:
		return ParseConfig(string(data))
	}
}

// Load reads path (if not empty) and then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = ReadConfigFile(path); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	return cfg, nil
}

// StrategyList parses Strategies, defaulting to every known strategy.
func (c *Config) StrategyList() ([]executor.Strategy, error) {
	if len(c.Strategies) == 0 {
		return slices.Clone(executor.KnownStrategies), nil
	}
	var (
		out  []executor.Strategy
		errs []error
	)
	for _, name := range c.Strategies {
		s, err := executor.ParseStrategy(strings.TrimSpace(name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if slices.Contains(out, s) {
			errs = append(errs, fmt.Errorf("strategy %s listed twice", s))
			continue
		}
		out = append(out, s)
	}
	return out, errors.Join(errs...)
}

// WantsFormat reports whether format is enabled in Output.Formats.
func (c *Config) WantsFormat(format string) bool {
	return slices.Contains(c.Output.Formats, format)
}

// Secrets returns an iterator over all secret references in the config.
func (c *Config) Secrets() iter.Seq2[string, SecretRef] {
	return func(yield func(string, SecretRef) bool) {
		yield("database.password", c.Database.Password)
	}
}

// Validate checks the whole configuration and that every secret can be
// resolved. It does not stop at the first error.
func (c *Config) Validate(ctx context.Context, secrets *SecretCache) error {
	var errs []error

	if _, err := c.StrategyList(); err != nil {
		errs = append(errs, fmt.Errorf("strategies: %w", err))
	}

	switch c.Provision.Mode {
	case ModeDocker:
		if c.Provision.Image == "" {
			errs = append(errs, errors.New("provision.image is required in docker mode"))
		}
		if c.Provision.BasePort <= 0 || c.Provision.BasePort+len(executor.KnownStrategies)+99 > 65535 {
			errs = append(errs, fmt.Errorf("provision.base_port %d leaves no room for strategy ports", c.Provision.BasePort))
		}
	case ModeExternal:
		if c.Database.Port <= 0 {
			errs = append(errs, errors.New("database.port is required in external mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("provision.mode %q must be %q or %q", c.Provision.Mode, ModeDocker, ModeExternal))
	}
	if c.Provision.StartupTimeout <= 0 {
		errs = append(errs, errors.New("provision.startup_timeout must be positive"))
	}

	if c.Fixture.Scale < 1 {
		errs = append(errs, errors.New("fixture.scale must be at least 1"))
	}

	for _, f := range c.Output.Formats {
		if !slices.Contains(allFormats, f) {
			errs = append(errs, fmt.Errorf("output.formats: unknown format %q", f))
		}
	}

	if c.Prometheus != nil {
		if err := c.Prometheus.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("prometheus: %w", err))
		}
	}

	for path, ref := range c.Secrets() {
		if _, err := secrets.Get(ctx, ref); err != nil {
			errs = append(errs, errors.Join(errors.New(path), err))
		}
	}

	return errors.Join(errs...)
}
