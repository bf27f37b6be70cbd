// Command querybench provisions one PostgreSQL backend per access strategy,
// runs the Northwind query catalog through each and reports the latencies.
package main

import (
	"context"
	_ "embed"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/justjake/querybench/pkg/config"
	"github.com/justjake/querybench/pkg/executor"
	"github.com/justjake/querybench/pkg/northwind"
	"github.com/justjake/querybench/pkg/observability"
	"github.com/justjake/querybench/pkg/report"
	"github.com/justjake/querybench/pkg/suite"
)

//go:embed README.md
var readmeMarkdown string

const (
	exitFatal  = 1
	exitConfig = 2
)

var bannerLines = []string{
	`                                  __                        __  `,
	`  ____ _ __  __ ___   _____ __  __/ /_   ___   ____   _____ / /_ `,
	` / __ '// / / // _ \ / ___// / / / __ \ / _ \ / __ \ / ___// __ \`,
	`/ /_/ // /_/ //  __// /   / /_/ / /_/ //  __// / / // /__ / / / /`,
	`\__, / \__,_/ \___//_/    \__, /_.___/ \___//_/ /_/ \___//_/ /_/ `,
	`  /_/                    /____/                                  `,
}

func printBanner() {
	// Gradient from teal to purple
	teal, _ := colorful.Hex("#00CED1")
	purple, _ := colorful.Hex("#9B30FF")
	bgColor := lipgloss.Color("#1a1a2e")

	maxWidth := len(bannerLines[0])

	var lines []string
	for _, line := range bannerLines {
		var result strings.Builder
		for i, r := range line {
			t := float64(i) / float64(maxWidth-1)
			c := teal.BlendLuv(purple, t)
			style := lipgloss.NewStyle().
				Foreground(lipgloss.Color(c.Hex())).
				Background(bgColor).
				Bold(true)
			result.WriteString(style.Render(string(r)))
		}
		lines = append(lines, result.String())
	}

	box := lipgloss.NewStyle().
		Background(bgColor).
		Padding(0, 2).
		Render(strings.Join(lines, "\n"))

	fmt.Println(box)
	fmt.Println()
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00CED1"))

	descStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))

	flagStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9B30FF")).
			Bold(true)

	exampleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Italic(true)
)

func printUsage() {
	printBanner()
	fmt.Println(titleStyle.Render("Usage:"))
	fmt.Println("  querybench [flags]")
	fmt.Println()

	fmt.Println(titleStyle.Render("Options:"))
	flag.VisitAll(func(f *flag.Flag) {
		typeName := fmt.Sprintf("%T", f.Value)
		// Extract type name from *flag.stringValue -> string
		typeName = strings.TrimPrefix(typeName, "*flag.")
		typeName = strings.TrimSuffix(typeName, "Value")

		fmt.Printf("  %s %s\n",
			flagStyle.Render("-"+f.Name),
			descStyle.Render(typeName))
		fmt.Printf("      %s\n", f.Usage)
	})
	fmt.Println()

	fmt.Println(titleStyle.Render("Examples:"))
	fmt.Println(exampleStyle.Render("  querybench -strategies raw,raw-prepared,orm -duration 2s"))
	fmt.Println(exampleStyle.Render("  querybench -mode external -config bench.yaml"))
	fmt.Println()

	fmt.Println(descStyle.Render("Run 'querybench -help' for full documentation."))
	fmt.Println()
}

func printFullDocs() {
	width, ok := report.TerminalWidth(os.Stdout)
	if !ok {
		fmt.Println(readmeMarkdown)
		return
	}
	out, err := report.RenderMarkdown(readmeMarkdown, width)
	if err != nil {
		// Fallback to raw markdown
		fmt.Println(readmeMarkdown)
		return
	}
	fmt.Print(out)
}

func printCatalog() {
	fmt.Println(titleStyle.Render("Strategies:"))
	for _, s := range executor.KnownStrategies {
		fmt.Printf("  %s\n", flagStyle.Render(string(s)))
	}
	fmt.Println()
	fmt.Println(titleStyle.Render("Groups:"))
	for _, g := range northwind.Groups() {
		fmt.Printf("  %s\n", g)
	}
}

// flagOverrides holds flag values; only flags given on the command line are
// applied over the file and environment.
type flagOverrides struct {
	strategies, groups, output, mode, formats, history, prometheus string
	warmup, minIter, maxIter, scale                                int
	seed                                                           uint64
	budget, caseTimeout, opTimeout                                 time.Duration
	targetRME                                                      float64
	simpleQuery, skipSeed                                          bool
}

func (o *flagOverrides) apply(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "strategies":
			cfg.Strategies = splitList(o.strategies)
		case "groups":
			cfg.Groups = splitList(o.groups)
		case "output":
			cfg.Output.Dir = o.output
		case "formats":
			cfg.Output.Formats = splitList(o.formats)
		case "mode":
			cfg.Provision.Mode = o.mode
		case "history":
			cfg.History = o.history
		case "prometheus-listen":
			cfg.Prometheus = config.ParsePrometheusListen(o.prometheus)
		case "warmup":
			cfg.Timing.Warmup = o.warmup
		case "min-iterations":
			cfg.Timing.MinIterations = o.minIter
		case "max-iterations":
			cfg.Timing.MaxIterations = o.maxIter
		case "duration":
			cfg.Timing.Budget = config.Duration(o.budget)
		case "case-timeout":
			cfg.Timing.CaseTimeout = config.Duration(o.caseTimeout)
		case "op-timeout":
			cfg.Timing.OpTimeout = config.Duration(o.opTimeout)
		case "target-rme":
			cfg.Timing.TargetRME = o.targetRME
		case "seed":
			cfg.Fixture.Seed = o.seed
		case "scale":
			cfg.Fixture.Scale = o.scale
		case "skip-seed":
			cfg.Fixture.Skip = o.skipSeed
		case "simple-query":
			cfg.Executor.SimpleProtocol = o.simpleQuery
		}
	})
}

// splitList splits on ";" when present, so group names may contain commas,
// and on "," otherwise.
func splitList(s string) []string {
	sep := ","
	if strings.Contains(s, ";") {
		sep = ";"
	}
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	var o flagOverrides
	configPath := flag.String("config", "", "path to a .json or .yaml config file")
	jsonLogs := flag.Bool("json", false, "output logs in JSON format")
	showHelp := flag.Bool("help", false, "show full documentation")
	list := flag.Bool("list", false, "print the strategies and query groups and exit")
	flag.StringVar(&o.strategies, "strategies", "", "comma-separated strategies to benchmark (empty = all)")
	flag.StringVar(&o.groups, "groups", "", "semicolon-separated query groups to run (empty = all)")
	flag.StringVar(&o.output, "output", "", "directory for run output (default bench-results)")
	flag.StringVar(&o.formats, "formats", "", "comma-separated report formats: text, markdown, json, gobench, dot")
	flag.StringVar(&o.mode, "mode", "", "provisioning mode: docker or external")
	flag.StringVar(&o.history, "history", "", "SQLite database of previous runs, for latency deltas")
	flag.StringVar(&o.prometheus, "prometheus-listen", "", "serve metrics at host:port/path while running")
	flag.IntVar(&o.warmup, "warmup", 0, "discarded iterations before measuring")
	flag.IntVar(&o.minIter, "min-iterations", 0, "measured iterations always collected")
	flag.IntVar(&o.maxIter, "max-iterations", 0, "stop after this many measured iterations")
	flag.DurationVar(&o.budget, "duration", 0, "measuring time per case")
	flag.DurationVar(&o.caseTimeout, "case-timeout", 0, "hard limit per case, warm-up included")
	flag.DurationVar(&o.opTimeout, "op-timeout", 0, "limit for a single iteration")
	flag.Float64Var(&o.targetRME, "target-rme", 0, "stop once the relative margin of error falls to this fraction")
	flag.Uint64Var(&o.seed, "seed", 0, "fixture random seed")
	flag.IntVar(&o.scale, "scale", 0, "fixture size multiplier")
	flag.BoolVar(&o.skipSeed, "skip-seed", false, "assume the databases already hold the fixture")
	flag.BoolVar(&o.simpleQuery, "simple-query", false, "use the simple query protocol for the raw strategy")
	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printFullDocs()
		os.Exit(0)
	}
	if *list {
		printCatalog()
		os.Exit(0)
	}

	// Logs go to stderr so the report on stdout can be piped.
	var handler slog.Handler
	if *jsonLogs {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	} else {
		handler = slog.NewTextHandler(os.Stderr, nil)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(exitConfig)
	}
	o.apply(cfg)

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	secrets := config.NewSecretCache(nil)
	if err := cfg.Validate(ctx, secrets); err != nil {
		logger.Error("config validation failed", "error", err)
		os.Exit(exitConfig)
	}
	if err := suite.EngineConfig(cfg.Timing).Validate(); err != nil {
		logger.Error("config validation failed", "error", fmt.Errorf("timing: %w", err))
		os.Exit(exitConfig)
	}

	var metrics *observability.Metrics
	if cfg.Prometheus != nil {
		reg := prometheus.NewRegistry()
		metrics = observability.NewMetrics(reg)
		server := observability.NewMetricsServer(cfg.Prometheus, reg, logger)
		if err := server.Start(); err != nil {
			logger.Error("failed to start metrics server", "error", err)
			os.Exit(exitFatal)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	width, tty := report.TerminalWidth(os.Stdout)
	if tty {
		printBanner()
	}

	s := &suite.Suite{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
		Secrets: secrets,
	}
	out, err := s.Run(ctx)
	if err != nil {
		logger.Error("benchmark failed", "error", err)
		if out != nil {
			logger.Info("partial output", "output_dir", out.OutputDir)
		}
		cancel()
		os.Exit(exitFatal)
	}
	if out.Cleanup != nil {
		logger.Warn("cleanup incomplete", "error", out.Cleanup)
	}

	printResults(out, width, tty)

	fmt.Printf("\nResults written to: %s\n", out.OutputDir)
	if cfg.WantsFormat(config.FormatGoBench) {
		fmt.Printf("Use 'benchstat %s/%s' to analyze results\n", out.OutputDir, suite.GoBenchFile)
	}
}

// printResults renders the Markdown report on a terminal and the plain
// tables otherwise.
func printResults(out *suite.Outcome, width int, tty bool) {
	opts := out.ReportOptions()
	if tty {
		md := report.Markdown(out.Meta, out.Results, opts...)
		if rendered, err := report.RenderMarkdown(md, width); err == nil {
			fmt.Print(rendered)
			return
		}
	}
	fmt.Println(report.Text(out.Results, opts...))
}
