package suite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/justjake/querybench/pkg/config"
	"github.com/justjake/querybench/pkg/history"
	"github.com/justjake/querybench/pkg/report"
)

// Report file names inside the run directory.
const (
	TextFile     = "report.txt"
	MarkdownFile = "BENCHMARK.md"
	JSONFile     = "results.json"
	GoBenchFile  = "bench.txt"
	DOTFile      = "matrix.dot"
)

// writeReports loads the baseline, writes every configured format and
// records the run in the history database. BENCHMARK.md goes last so that it
// can list the other files.
func (s *Suite) writeReports(ctx context.Context, log *slog.Logger, out *Outcome) error {
	cfg := s.Config
	var errs []error

	var store *history.Store
	if cfg.History != "" {
		var err error
		if store, err = history.Open(ctx, cfg.History); err != nil {
			errs = append(errs, fmt.Errorf("history: %w", err))
		} else {
			defer store.Close()
			if out.Baseline, err = store.Baseline(ctx, out.Meta.RunID); err != nil {
				errs = append(errs, fmt.Errorf("history baseline: %w", err))
			}
		}
	}
	opts := out.ReportOptions()

	path := func(name string) string { return filepath.Join(out.OutputDir, name) }

	if cfg.WantsFormat(config.FormatText) {
		errs = append(errs, writeFile(path(TextFile), report.Text(out.Results, opts...)))
	}
	if cfg.WantsFormat(config.FormatJSON) {
		errs = append(errs, createWith(path(JSONFile), func(w io.Writer) error {
			return report.WriteJSON(w, out.Meta, out.Results)
		}))
	}
	if cfg.WantsFormat(config.FormatGoBench) {
		errs = append(errs, createWith(path(GoBenchFile), func(w io.Writer) error {
			return report.WriteGoBench(w, out.Results)
		}))
	}
	if cfg.WantsFormat(config.FormatDOT) {
		if dot, err := report.DOT(out.Results); err != nil {
			errs = append(errs, fmt.Errorf("dot: %w", err))
		} else {
			errs = append(errs, writeFile(path(DOTFile), dot))
		}
	}
	if cfg.WantsFormat(config.FormatMarkdown) {
		files, err := listFiles(out.OutputDir)
		if err != nil {
			errs = append(errs, err)
		}
		out.Meta.Files = append(files, MarkdownFile)
		md := report.Markdown(out.Meta, out.Results, opts...)
		if err := os.WriteFile(path(MarkdownFile), []byte(md), 0644); err != nil {
			errs = append(errs, fmt.Errorf("failed to write report file: %w", err))
		} else {
			log.Info("generated benchmark report", "path", path(MarkdownFile))
		}
	}

	if store != nil {
		if err := store.SaveRun(ctx, out.Meta, out.Results); err != nil {
			errs = append(errs, fmt.Errorf("history save: %w", err))
		}
	}
	return errors.Join(errs...)
}

func createWith(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if err := write(f); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
