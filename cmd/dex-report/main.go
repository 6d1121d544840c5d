// Renders the DEX usage dashboard from the store into
// <reports_path>/index.html.
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
	"dexusage/internal/report"
	"dexusage/internal/store"
	"dexusage/internal/util"
)

func main() {
	outDir := flag.String("out", "", "output directory (default: data.reports_path)")
	flag.Parse()

	cfgPath := "config/dex.yaml"
	if p := os.Getenv("DEX_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

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
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	opts := report.OptionsFromConfig(cfg)
	if *outDir != "" {
		opts.OutputDir = *outDir
	}

	out, err := report.NewGenerator(st, opts, logger).Generate(ctx)
	if err != nil {
		log.Fatalf("report error: %v", err)
	}
	slog.Info("dashboard ready", "path", out.Path, "empty_tables", len(out.Warnings))
}
