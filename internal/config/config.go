package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"dexusage/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the DEX usage pipeline.
type Config struct {
	Chains     []string   `yaml:"chains"`
	Exclusions Exclusions `yaml:"exclusions"`
	Data       Data       `yaml:"data"`
	Time       Schedule   `yaml:"time"`
	Init       Init       `yaml:"init"`
	Logging    Logging    `yaml:"logging"`
	Report     Report     `yaml:"report"`
}

// Exclusions lists token addresses whose swaps are dropped at extraction.
type Exclusions struct {
	Tokens []string `yaml:"tokens"`
}

// Data holds input and output paths.
type Data struct {
	ParquetPath    string `yaml:"parquet_path"`
	DatabasePath   string `yaml:"database_path"`
	DatabaseDriver string `yaml:"database_driver"`
	ReportsPath    string `yaml:"reports_path"`
}

// Schedule describes when the external scheduler is expected to invoke
// the ETL and report entry points (UTC).
type Schedule struct {
	DailyRunHour       int `yaml:"daily_run_hour"`
	DailyRunMinute     int `yaml:"daily_run_minute"`
	ReportDelayMinutes int `yaml:"report_delay_minutes"`
}

// Init controls the one-shot historical backfill.
type Init struct {
	Enabled            bool `yaml:"enabled"`
	Days               int  `yaml:"days"`
	AutoGenerateReport bool `yaml:"auto_generate_report"`
}

// Logging configures the application logger.
type Logging struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	LogFile string `yaml:"log_file"`
}

// Report configures the generated HTML artifact.
type Report struct {
	Title     string `yaml:"title"`
	PlotlyURL string `yaml:"plotly_url"`
	AfterETL  bool   `yaml:"after_etl"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, fills defaults,
// applies environment variable overrides, and validates the result. Any
// failure is reported as a *domain.ConfigError.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.ConfigError{Field: "path", Reason: err.Error()}
	}

	// init.days defaults before decoding so an explicit 0 still fails
	// validation.
	cfg := &Config{Init: Init{Days: 7}}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &domain.ConfigError{Field: "yaml", Reason: err.Error()}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Data.DatabaseDriver == "" {
		cfg.Data.DatabaseDriver = "sqlite"
	}
	if cfg.Data.ReportsPath == "" {
		cfg.Data.ReportsPath = "reports"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Report.Title == "" {
		cfg.Report.Title = "DEX Analytics Dashboard"
	}
	if cfg.Report.PlotlyURL == "" {
		cfg.Report.PlotlyURL = "https://cdn.plot.ly/plotly-2.27.0.min.js"
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DEX_PARQUET_PATH"); v != "" {
		cfg.Data.ParquetPath = v
	}
	if v := os.Getenv("DEX_DATABASE_PATH"); v != "" {
		cfg.Data.DatabasePath = v
	}
	if v := os.Getenv("DEX_DATABASE_DRIVER"); v != "" {
		cfg.Data.DatabaseDriver = v
	}
	if v := os.Getenv("DEX_REPORTS_PATH"); v != "" {
		cfg.Data.ReportsPath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration and normalises the chain and token
// lists (trimmed, de-duplicated, order preserved).
func (c *Config) Validate() error {
	c.Chains = normaliseList(c.Chains)
	c.Exclusions.Tokens = normaliseList(c.Exclusions.Tokens)

	switch {
	case len(c.Chains) == 0:
		return &domain.ConfigError{Field: "chains", Reason: "at least one chain is required"}
	case c.Data.ParquetPath == "":
		return &domain.ConfigError{Field: "data.parquet_path", Reason: "required"}
	case c.Data.DatabasePath == "":
		return &domain.ConfigError{Field: "data.database_path", Reason: "required"}
	case c.Data.DatabaseDriver != "sqlite" && c.Data.DatabaseDriver != "duckdb":
		return &domain.ConfigError{Field: "data.database_driver", Reason: fmt.Sprintf("unsupported driver %q", c.Data.DatabaseDriver)}
	case c.Init.Days < 1:
		return &domain.ConfigError{Field: "init.days", Reason: "must be at least 1"}
	case c.Report.PlotlyURL != "" && !strings.HasPrefix(c.Report.PlotlyURL, "https://") && !strings.HasPrefix(c.Report.PlotlyURL, "http://"):
		return &domain.ConfigError{Field: "report.plotly_url", Reason: "must be an http(s) URL"}
	}

	for _, chain := range c.Chains {
		if strings.ContainsAny(chain, `/\=`) {
			return &domain.ConfigError{Field: "chains", Reason: fmt.Sprintf("invalid chain id %q", chain)}
		}
	}

	if _, err := c.Time.etlSchedule(); err != nil {
		return &domain.ConfigError{Field: "time", Reason: err.Error()}
	}
	if c.Time.ReportDelayMinutes < 0 {
		return &domain.ConfigError{Field: "time.report_delay_minutes", Reason: "must not be negative"}
	}
	return nil
}

func normaliseList(in []string) []string {
	trimmed := lo.Map(in, func(s string, _ int) string { return strings.TrimSpace(s) })
	return lo.Uniq(lo.Compact(trimmed))
}

// ---------------------------------------------------------------------------
// Schedule
// ---------------------------------------------------------------------------

// ETLSpec returns the standard five-field cron expression for the daily ETL.
func (s Schedule) ETLSpec() string {
	return fmt.Sprintf("%d %d * * *", s.DailyRunMinute, s.DailyRunHour)
}

// ReportSpec returns the cron expression for the report run, which follows
// the ETL by ReportDelayMinutes (wrapping past midnight).
func (s Schedule) ReportSpec() string {
	total := (s.DailyRunHour*60 + s.DailyRunMinute + s.ReportDelayMinutes) % (24 * 60)
	return fmt.Sprintf("%d %d * * *", total%60, total/60)
}

// NextETL returns the next scheduled ETL time strictly after now, in UTC.
func (s Schedule) NextETL(now time.Time) time.Time {
	sched, err := s.etlSchedule()
	if err != nil {
		return time.Time{}
	}
	return sched.Next(now).UTC()
}

func (s Schedule) etlSchedule() (cron.Schedule, error) {
	if s.DailyRunHour < 0 || s.DailyRunHour > 23 {
		return nil, fmt.Errorf("daily_run_hour %d out of range 0-23", s.DailyRunHour)
	}
	if s.DailyRunMinute < 0 || s.DailyRunMinute > 59 {
		return nil, fmt.Errorf("daily_run_minute %d out of range 0-59", s.DailyRunMinute)
	}
	return cron.ParseStandard("CRON_TZ=UTC " + s.ETLSpec())
}
