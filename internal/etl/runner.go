// Package etl drives the extract → aggregate → load pipeline over the
// configured chains for yesterday, or for a window of historical days in
// init (backfill) mode.
package etl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dexusage/internal/aggregate"
	"dexusage/internal/config"
	"dexusage/internal/domain"
	"dexusage/internal/store"
	"dexusage/internal/util"
)

// Extractor produces usage events for one chain over a time window.
type Extractor interface {
	Extract(ctx context.Context, chain string, w util.Window) ([]domain.UsageEvent, error)
}

// RunRecorder appends run-log entries.
type RunRecorder interface {
	AppendRun(ctx context.Context, rec *domain.RunRecord) (int64, error)
}

// ReportFunc generates the report after a run.
type ReportFunc func(ctx context.Context) error

// State is a step of the runner's lifecycle.
type State string

const (
	StateIdle          State = "idle"
	StateResolvingMode State = "resolving_mode"
	StateRunning       State = "running"
	StateReporting     State = "reporting"
	StateDone          State = "done"
	StateErrorPartial  State = "error_partial"
	StateFailed        State = "failed"
)

// Result summarises one invocation.
type Result struct {
	RunID     int64
	Mode      domain.RunMode
	Dates     []string
	Status    domain.RunStatus
	Units     []domain.UnitResult
	Records   int
	Reported  bool
	ReportErr error
	Final     State

	// Patch is the configuration change the caller should persist, e.g.
	// switching init mode off after a completed backfill. The runner never
	// writes configuration itself.
	Patch *config.Patch
}

// Runner executes one ETL invocation. It is not safe for concurrent use.
type Runner struct {
	chains         []string
	init           config.Init
	reportAfterETL bool

	extractor Extractor
	loader    store.UsageWriter
	runLog    RunRecorder
	report    ReportFunc
	log       *slog.Logger
	now       func() time.Time

	state State
}

// NewRunner wires a runner from configuration and its collaborators. report
// may be nil when no report should ever be generated.
func NewRunner(cfg *config.Config, ex Extractor, loader store.UsageWriter, runLog RunRecorder, report ReportFunc, log *slog.Logger) *Runner {
	return &Runner{
		chains:         cfg.Chains,
		init:           cfg.Init,
		reportAfterETL: cfg.Report.AfterETL,
		extractor:      ex,
		loader:         loader,
		runLog:         runLog,
		report:         report,
		log:            log,
		now:            time.Now,
		state:          StateIdle,
	}
}

// SetClock replaces the clock used to resolve "yesterday".
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

// State returns the runner's current lifecycle state.
func (r *Runner) State() State {
	return r.state
}

func (r *Runner) transition(to State) {
	r.log.Debug("etl state", "from", r.state, "to", to)
	r.state = to
}

// Run processes every (date, chain) unit sequentially, oldest date first,
// isolating failures per unit. It returns an error only when the run log
// cannot be written; unit failures are reported through Result.Status.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	start := r.now().UTC()

	r.transition(StateResolvingMode)
	mode, days := r.resolveMode(start)
	res := &Result{Mode: mode}
	for _, d := range days {
		res.Dates = append(res.Dates, d.Format(domain.DateLayout))
	}
	r.log.Info("starting etl run", "mode", mode, "dates", len(days), "chains", len(r.chains))

	r.transition(StateRunning)
	cancelled := false
loop:
	for _, day := range days {
		date := day.Format(domain.DateLayout)
		r.log.Info("processing date", "date", date)
		for _, chain := range r.chains {
			if ctx.Err() != nil {
				cancelled = true
				break loop
			}
			unit := r.processUnit(ctx, chain, day)
			res.Units = append(res.Units, unit)
			res.Records += unit.Records
		}
	}
	if ctx.Err() != nil {
		// Cancelled during the last unit.
		cancelled = true
	}

	res.Status = summarise(res.Units)
	if cancelled {
		r.log.Error("etl run cancelled", "error", ctx.Err())
		res.Status = domain.RunStatusFailed
	}

	if r.shouldReport(mode) && !cancelled {
		r.transition(StateReporting)
		if err := r.report(ctx); err != nil {
			res.ReportErr = err
			r.log.Error("report generation failed", "error", err)
		} else {
			res.Reported = true
		}
	}

	if mode == domain.RunModeInit && res.Status != domain.RunStatusFailed {
		off := false
		res.Patch = &config.Patch{InitEnabled: &off}
	}

	switch res.Status {
	case domain.RunStatusSuccess:
		r.transition(StateDone)
	case domain.RunStatusPartial:
		r.transition(StateErrorPartial)
	default:
		r.transition(StateFailed)
	}
	res.Final = r.state

	rec := &domain.RunRecord{
		Mode:             mode,
		StartTime:        start,
		EndTime:          r.now().UTC(),
		Status:           res.Status,
		RecordsProcessed: res.Records,
		Units:            res.Units,
	}
	if len(res.Dates) > 0 {
		rec.FirstDate = res.Dates[0]
		rec.LastDate = res.Dates[len(res.Dates)-1]
	}
	id, err := r.runLog.AppendRun(context.WithoutCancel(ctx), rec)
	if err != nil {
		r.log.Error("appending run log", "error", err)
		return res, fmt.Errorf("appending run log: %w", err)
	}
	res.RunID = id

	r.log.Info("etl run complete",
		"run_id", id,
		"status", res.Status,
		"records", res.Records,
		"units", len(res.Units),
	)
	return res, nil
}

// resolveMode picks the dates to process: the init window oldest first,
// or just yesterday (UTC).
func (r *Runner) resolveMode(now time.Time) (domain.RunMode, []time.Time) {
	if r.init.Enabled {
		r.log.Info("init mode enabled", "days", r.init.Days)
		return domain.RunModeInit, util.DaysBack(now, r.init.Days)
	}
	return domain.RunModeDaily, util.DaysBack(now, 1)
}

func (r *Runner) shouldReport(mode domain.RunMode) bool {
	if r.report == nil {
		return false
	}
	if mode == domain.RunModeInit && r.init.AutoGenerateReport {
		return true
	}
	return r.reportAfterETL
}

// processUnit runs extract → aggregate → load for one chain-day. Missing
// input is a skip; anything else that goes wrong fails only this unit.
func (r *Runner) processUnit(ctx context.Context, chain string, day time.Time) domain.UnitResult {
	date := day.Format(domain.DateLayout)
	unit := domain.UnitResult{ChainID: chain, Date: date}
	log := r.log.With("chain", chain, "date", date)

	events, err := r.extractor.Extract(ctx, chain, util.DayWindow(day))
	if err != nil {
		if errors.Is(err, domain.ErrDataNotFound) {
			log.Warn("no input data, skipping chain", "error", err)
			unit.Status = domain.UnitStatusSkipped
			return unit
		}
		log.Error("extraction failed", "error", err)
		unit.Status = domain.UnitStatusFailed
		unit.Error = err.Error()
		return unit
	}

	agg := aggregate.Aggregate(events)
	log.Info("aggregated",
		"events", len(events),
		"hourly", len(agg.Hourly),
		"daily", len(agg.Daily),
		"dexes", len(agg.Totals),
	)

	scope := domain.Scope{ChainID: chain, Date: date}
	if err := r.loader.LoadDay(ctx, scope, agg); err != nil {
		log.Error("load failed", "error", err)
		unit.Status = domain.UnitStatusFailed
		unit.Error = err.Error()
		return unit
	}

	unit.Status = domain.UnitStatusSuccess
	unit.Records = agg.Rows()
	log.Info("chain processed", "records", unit.Records)
	return unit
}

// summarise derives the run status: no failed units is success, only
// failed units is failed, a mix is partial.
func summarise(units []domain.UnitResult) domain.RunStatus {
	var failed, ok int
	for _, u := range units {
		if u.Status == domain.UnitStatusFailed {
			failed++
		} else {
			ok++
		}
	}
	switch {
	case failed == 0:
		return domain.RunStatusSuccess
	case ok == 0:
		return domain.RunStatusFailed
	default:
		return domain.RunStatusPartial
	}
}
