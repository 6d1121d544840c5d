package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexusage/internal/domain"
)

const sampleYAML = `# DEX analytics configuration
chains:
  - bsc
  - eth
  - base
  - bsc
exclusions:
  # stablecoin wrappers
  tokens:
    - "0xdead"
    - " 0xbeef "
data:
  parquet_path: "/server/data/parquet"
  database_path: "/tmp/dex/dex.db"
  reports_path: "/tmp/dex/reports"
time:
  daily_run_hour: 1
  daily_run_minute: 30
  report_delay_minutes: 45
init:
  enabled: true # flipped off after backfill
  days: 3
  auto_generate_report: true
logging:
  level: "debug"
  format: "json"
  log_file: "/tmp/dex/etl.log"
report:
  title: "DEX Usage"
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"DEX_PARQUET_PATH", "DEX_DATABASE_PATH", "DEX_DATABASE_DRIVER", "DEX_REPORTS_PATH", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

const minimalYAML = "chains: [bsc]\ndata:\n  parquet_path: /p\n  database_path: /d\n"

func TestLoad(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeTempConfig(t, sampleYAML))
	require.NoError(t, err)

	// -- Chains (deduplicated, order kept) --
	assert.Equal(t, []string{"bsc", "eth", "base"}, cfg.Chains)
	assert.Equal(t, []string{"0xdead", "0xbeef"}, cfg.Exclusions.Tokens)

	// -- Data --
	assert.Equal(t, "/server/data/parquet", cfg.Data.ParquetPath)
	assert.Equal(t, "sqlite", cfg.Data.DatabaseDriver, "default driver")

	// -- Init --
	assert.True(t, cfg.Init.Enabled)
	assert.Equal(t, 3, cfg.Init.Days)
	assert.True(t, cfg.Init.AutoGenerateReport)

	// -- Logging / Report --
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "DEX Usage", cfg.Report.Title)
	assert.Contains(t, cfg.Report.PlotlyURL, "https://cdn.plot.ly/")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeTempConfig(t, minimalYAML+"init:\n  enabled: true\n"))
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Init.Days, "missing init.days")
	assert.Equal(t, "reports", cfg.Data.ReportsPath)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "DEX Analytics Dashboard", cfg.Report.Title)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEX_DATABASE_PATH", "/env/dex.db")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(writeTempConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "/env/dex.db", cfg.Data.DatabasePath)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "/server/data/parquet", cfg.Data.ParquetPath, "no env override, YAML value kept")
}

func TestLoadInvalid(t *testing.T) {
	clearEnv(t)
	cases := map[string]struct {
		content string
		field   string
	}{
		"no chains":          {"data:\n  parquet_path: /p\n  database_path: /d\n", "chains"},
		"bad driver":         {minimalYAML + "  database_driver: mysql\n", "data.database_driver"},
		"bad hour":           {minimalYAML + "time:\n  daily_run_hour: 24\n", "time"},
		"bad chain id":       {"chains: [\"a/b\"]\ndata:\n  parquet_path: /p\n  database_path: /d\n", "chains"},
		"bad yaml":           {"chains: [bsc\n", "yaml"},
		"zero init days":     {minimalYAML + "init:\n  enabled: true\n  days: 0\n", "init.days"},
		"negative init days": {minimalYAML + "init:\n  days: -2\n", "init.days"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tc.content))
			require.ErrorIs(t, err, domain.ErrConfig)
			var cerr *domain.ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tc.field, cerr.Field)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, domain.ErrConfig, "missing file")
}

func TestScheduleSpecs(t *testing.T) {
	s := Schedule{DailyRunHour: 23, DailyRunMinute: 50, ReportDelayMinutes: 30}
	assert.Equal(t, "50 23 * * *", s.ETLSpec())
	// 23:50 + 30m wraps to 00:20.
	assert.Equal(t, "20 0 * * *", s.ReportSpec())

	now := time.Date(2025, 11, 20, 23, 55, 0, 0, time.UTC)
	want := time.Date(2025, 11, 21, 23, 50, 0, 0, time.UTC)
	assert.True(t, s.NextETL(now).Equal(want), "NextETL(%v) = %v", now, s.NextETL(now))
}

func TestApplyPatch(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, sampleYAML)

	off := false
	require.NoError(t, ApplyPatch(path, &Patch{InitEnabled: &off}))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Init.Enabled)
	assert.Equal(t, 3, cfg.Init.Days)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# stablecoin wrappers", "comments survive the patch")
}

func TestApplyPatchCreatesSection(t *testing.T) {
	path := writeTempConfig(t, "chains: [bsc]\n")

	off := false
	require.NoError(t, ApplyPatch(path, &Patch{InitEnabled: &off}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "enabled: false")
}

func TestApplyPatchEmpty(t *testing.T) {
	// An empty patch must not touch the file, even if it does not exist.
	assert.NoError(t, ApplyPatch(filepath.Join(t.TempDir(), "none.yaml"), &Patch{}))
	assert.NoError(t, ApplyPatch("unused", nil))
}
