// Schema and maintenance tool: creates the tables, prints row counts and
// recent runs, rebuilds totals from the applied-delta ledger, and prints the
// crontab lines for the ETL and report entry points.
//
// Usage:
//
//	go run cmd/dex-initdb/main.go [-print-cron] [-rebuild-totals] [-runs 10]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"dexusage/internal/config"
	"dexusage/internal/store"
	"dexusage/internal/util"
)

func main() {
	printCron := flag.Bool("print-cron", false, "print crontab lines for dex-etl and dex-report and exit")
	rebuild := flag.Bool("rebuild-totals", false, "recompute dex_usage_total from the applied-delta ledger")
	runs := flag.Int("runs", 5, "number of recent runs to list")
	flag.Parse()

	cfgPath := "config/dex.yaml"
	if p := os.Getenv("DEX_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if *printCron {
		fmt.Printf("# next ETL run: %s\n", cfg.Time.NextETL(time.Now()).Format(time.RFC3339))
		fmt.Printf("CRON_TZ=UTC\n")
		fmt.Printf("%s cd %s && DEX_CONFIG=%s dex-etl\n", cfg.Time.ETLSpec(), mustGetwd(), cfgPath)
		fmt.Printf("%s cd %s && DEX_CONFIG=%s dex-report\n", cfg.Time.ReportSpec(), mustGetwd(), cfgPath)
		return
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)
	util.SetDefault(logger)

	ctx := context.Background()
	st, err := store.OpenRetry(ctx, cfg.Data.DatabaseDriver, cfg.Data.DatabasePath, 3)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()
	logger.Info("schema ready", "driver", st.Driver(), "path", cfg.Data.DatabasePath)

	if *rebuild {
		if err := st.RebuildTotals(ctx); err != nil {
			log.Fatalf("rebuild totals: %v", err)
		}
		logger.Info("totals rebuilt from ledger")
	}

	counts, err := st.TableCounts(ctx)
	if err != nil {
		log.Fatalf("table counts: %v", err)
	}
	for _, t := range store.Tables {
		fmt.Printf("%-26s %10d rows\n", t, counts[t])
	}

	recent, err := st.ListRuns(ctx, *runs)
	if err != nil {
		log.Fatalf("list runs: %v", err)
	}
	if len(recent) > 0 {
		fmt.Println()
	}
	for _, r := range recent {
		fmt.Printf("run %-4d %-6s %-8s %s..%s records=%d started=%s\n",
			r.RunID, r.Mode, r.Status, r.FirstDate, r.LastDate,
			r.RecordsProcessed, r.StartTime.Format(time.RFC3339))
	}
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("getwd: %v", err)
	}
	return wd
}
