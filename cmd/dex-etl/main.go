// One-shot ETL run: extract yesterday's swaps (or the init backfill window)
// from the Parquet partitions, aggregate DEX usage and load it into the
// store. Meant to be invoked by cron; see dex-initdb -print-cron.
//
// Usage:
//
//	go run cmd/dex-etl/main.go [-init] [-days 7] [-report]
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"dexusage/internal/config"
	"dexusage/internal/domain"
	"dexusage/internal/etl"
	"dexusage/internal/extract"
	"dexusage/internal/report"
	"dexusage/internal/store"
	"dexusage/internal/util"
)

func main() {
	forceInit := flag.Bool("init", false, "run in init mode regardless of init.enabled")
	days := flag.Int("days", 0, "override init.days (0 = use config)")
	withReport := flag.Bool("report", false, "generate the report after the run")
	flag.Parse()

	cfgPath := "config/dex.yaml"
	if p := os.Getenv("DEX_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *forceInit {
		cfg.Init.Enabled = true
	}
	if *days > 0 {
		cfg.Init.Days = *days
	}
	if *withReport {
		cfg.Report.AfterETL = true
	}

	// Dual logger: stdout + persistent log file.
	w, closeLog, err := util.OpenLogWriter(cfg.Logging.LogFile)
	if err != nil {
		log.Fatalf("failed to open log file: %v", err)
	}
	defer closeLog()
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, w)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.OpenRetry(ctx, cfg.Data.DatabaseDriver, cfg.Data.DatabasePath, 5)
	if err != nil {
		slog.Error("store unavailable", "error", err)
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	gen := report.NewGenerator(st, report.OptionsFromConfig(cfg), logger)
	runner := etl.NewRunner(cfg,
		extract.NewParquetExtractor(cfg.Data.ParquetPath, cfg.Exclusions.Tokens),
		st, // loader
		st, // run log
		gen.ReportFunc(),
		logger,
	)

	slog.Info("starting dex-etl",
		"config", cfgPath,
		"driver", st.Driver(),
		"chains", cfg.Chains,
		"init", cfg.Init.Enabled,
	)
	res, err := runner.Run(ctx)
	if err != nil {
		log.Fatalf("etl run error: %v", err)
	}

	if res.Patch != nil && !res.Patch.Empty() {
		if err := config.ApplyPatch(cfgPath, res.Patch); err != nil {
			slog.Error("failed to update config", "path", cfgPath, "error", err)
		} else {
			slog.Info("init mode disabled in config", "path", cfgPath)
		}
	}

	switch res.Status {
	case domain.RunStatusFailed:
		slog.Error("etl run failed", "run_id", res.RunID, "units", len(res.Units))
		log.Fatalf("etl run %d failed", res.RunID)
	case domain.RunStatusPartial:
		slog.Warn("etl run completed with failures", "run_id", res.RunID, "records", res.Records)
	default:
		slog.Info("etl run succeeded", "run_id", res.RunID, "records", res.Records)
	}
}
