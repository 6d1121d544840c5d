// Package report renders the aggregated DEX usage tables into a single
// self-contained HTML dashboard.
package report

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/samber/lo"

	"dexusage/internal/config"
	"dexusage/internal/domain"
	"dexusage/internal/store"
)

// FileName is the name of the generated artifact inside the reports dir.
const FileName = "index.html"

//go:embed template.html
var pageTemplate string

//go:embed report.js
var pageScript string

var tmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"count":   FormatCount,
	"compact": FormatCompact,
	"share":   FormatShare,
}).Parse(pageTemplate))

// Options configures a Generator.
type Options struct {
	Title     string
	PlotlyURL string
	OutputDir string
	Chains    []string
	Schedule  config.Schedule
}

// OptionsFromConfig derives report options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Title:     cfg.Report.Title,
		PlotlyURL: cfg.Report.PlotlyURL,
		OutputDir: cfg.Data.ReportsPath,
		Chains:    cfg.Chains,
		Schedule:  cfg.Time,
	}
}

// Output describes a rendered report.
type Output struct {
	Path     string
	Bytes    int
	Chains   []string
	Warnings []*domain.EmptyDatasetWarning
}

// Generator reads the aggregate tables and renders the dashboard.
type Generator struct {
	reader store.UsageReader
	opts   Options
	log    *slog.Logger
	now    func() time.Time
}

// NewGenerator creates a Generator over reader.
func NewGenerator(reader store.UsageReader, opts Options, log *slog.Logger) *Generator {
	return &Generator{reader: reader, opts: opts, log: log, now: time.Now}
}

// SetClock replaces the clock used for the footer timestamps.
func (g *Generator) SetClock(now func() time.Time) {
	g.now = now
}

// Generate renders the report and writes it to <OutputDir>/index.html,
// replacing any previous report atomically.
func (g *Generator) Generate(ctx context.Context) (*Output, error) {
	var buf bytes.Buffer
	out, err := g.Render(ctx, &buf)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(g.opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating reports dir: %w", err)
	}
	path := filepath.Join(g.opts.OutputDir, FileName)
	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		return nil, fmt.Errorf("writing report: %w", err)
	}
	out.Path = path

	g.log.Info("report generated",
		"path", path,
		"size", out.Bytes,
		"chains", len(out.Chains),
		"warnings", len(out.Warnings),
	)
	return out, nil
}

// ReportFunc adapts Generate to a plain error-returning callback.
func (g *Generator) ReportFunc() func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := g.Generate(ctx)
		return err
	}
}

// ---------------------------------------------------------------------------
// Rendering
// ---------------------------------------------------------------------------

// payload is the JSON blob the page script reads. Field order and row order
// are fixed so identical table contents serialise to identical bytes.
type payload struct {
	Chains []string             `json:"chains"`
	Dates  []string             `json:"dates"`
	Hourly []domain.HourlyUsage `json:"hourly"`
	Daily  []domain.DailyUsage  `json:"daily"`
	Totals []domain.TotalUsage  `json:"totals"`
}

type page struct {
	Title       string
	PlotlyURL   string
	Chains      []string
	Dates       []string
	Summaries   []ChainSummary
	Empty       []string
	Payload     template.JS
	Script      template.JS
	GeneratedAt string
	Schedule    string
	NextRun     string
}

// Render writes the report to w without touching the filesystem.
func (g *Generator) Render(ctx context.Context, w io.Writer) (*Output, error) {
	hourly, err := g.reader.ListHourly(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", store.TableHourly, err)
	}
	daily, err := g.reader.ListDaily(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", store.TableDaily, err)
	}
	totals, err := g.reader.ListTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", store.TableTotal, err)
	}

	out := &Output{}
	for table, n := range map[string]int{
		store.TableHourly: len(hourly),
		store.TableDaily:  len(daily),
		store.TableTotal:  len(totals),
	} {
		if n == 0 {
			out.Warnings = append(out.Warnings, &domain.EmptyDatasetWarning{Table: table})
		}
	}
	sort.Slice(out.Warnings, func(i, j int) bool { return out.Warnings[i].Table < out.Warnings[j].Table })
	for _, warn := range out.Warnings {
		g.log.Warn("empty dataset", "table", warn.Table)
	}

	out.Chains = g.chains(hourly, daily, totals)
	dates := lo.Uniq(lo.Map(daily, func(d domain.DailyUsage, _ int) string { return d.Date }))
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	blob, err := json.Marshal(payload{
		Chains: nonNil(out.Chains),
		Dates:  nonNil(dates),
		Hourly: nonNil(hourly),
		Daily:  nonNil(daily),
		Totals: nonNil(totals),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding report data: %w", err)
	}

	now := g.now().UTC()
	p := page{
		Title:     g.opts.Title,
		PlotlyURL: g.opts.PlotlyURL,
		Chains:    out.Chains,
		Dates:     dates,
		Summaries: Summarise(out.Chains, daily, totals),
		Empty:     lo.Map(out.Warnings, func(w *domain.EmptyDatasetWarning, _ int) string { return w.Table }),
		// json.Marshal escapes <, > and & so the blob cannot close the
		// surrounding script element.
		Payload:     template.JS(blob),
		Script:      template.JS(pageScript),
		GeneratedAt: now.Format("2006-01-02 15:04:05 UTC"),
		Schedule: fmt.Sprintf("%02d:%02d UTC",
			g.opts.Schedule.DailyRunHour, g.opts.Schedule.DailyRunMinute),
	}
	if next := g.opts.Schedule.NextETL(now); !next.IsZero() {
		p.NextRun = next.Format("2006-01-02 15:04 UTC")
	}

	cw := &countingWriter{w: w}
	if err := tmpl.Execute(cw, p); err != nil {
		return nil, fmt.Errorf("rendering report: %w", err)
	}
	out.Bytes = cw.n
	return out, nil
}

// chains lists the configured chains first, then any other chain present in
// the data in sorted order.
func (g *Generator) chains(hourly []domain.HourlyUsage, daily []domain.DailyUsage, totals []domain.TotalUsage) []string {
	var seen []string
	for _, h := range hourly {
		seen = append(seen, h.ChainID)
	}
	for _, d := range daily {
		seen = append(seen, d.ChainID)
	}
	for _, t := range totals {
		seen = append(seen, t.ChainID)
	}
	extra := lo.Without(lo.Uniq(seen), g.opts.Chains...)
	sort.Strings(extra)
	return lo.Uniq(append(append([]string{}, g.opts.Chains...), extra...))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

type countingWriter struct {
	w io.Writer
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += n
	return n, err
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
