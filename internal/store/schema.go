package store

// Table names.
const (
	TableHourly       = "dex_usage_hourly"
	TableDaily        = "dex_usage_daily"
	TableTotal        = "dex_usage_total"
	TableTotalApplied = "dex_usage_total_applied"
	TableRunLog       = "etl_run_log"
)

// Tables lists every table created by Migrate, in creation order.
var Tables = []string{TableHourly, TableDaily, TableTotal, TableTotalApplied, TableRunLog}

// schema is written in the SQL subset shared by SQLite and DuckDB: plain
// VARCHAR/BIGINT/DOUBLE columns, dates as YYYY-MM-DD text and timestamps
// as RFC 3339 text.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS dex_usage_hourly (
		chain_id           VARCHAR NOT NULL,
		date               VARCHAR NOT NULL,
		hour               INTEGER NOT NULL,
		dex_name           VARCHAR NOT NULL,
		event_count        BIGINT  NOT NULL,
		unique_order_count BIGINT  NOT NULL,
		total_weight       BIGINT  NOT NULL,
		created_at         VARCHAR NOT NULL,
		PRIMARY KEY (chain_id, date, hour, dex_name)
	)`,
	`CREATE TABLE IF NOT EXISTS dex_usage_daily (
		chain_id           VARCHAR NOT NULL,
		date               VARCHAR NOT NULL,
		dex_name           VARCHAR NOT NULL,
		event_count        BIGINT  NOT NULL,
		unique_order_count BIGINT  NOT NULL,
		total_weight       BIGINT  NOT NULL,
		share_pct          DOUBLE  NOT NULL,
		created_at         VARCHAR NOT NULL,
		PRIMARY KEY (chain_id, date, dex_name)
	)`,
	`CREATE TABLE IF NOT EXISTS dex_usage_total (
		chain_id           VARCHAR NOT NULL,
		dex_name           VARCHAR NOT NULL,
		event_count        BIGINT  NOT NULL,
		unique_order_count BIGINT  NOT NULL,
		total_weight       BIGINT  NOT NULL,
		share_pct          DOUBLE  NOT NULL,
		first_seen         VARCHAR,
		last_updated       VARCHAR NOT NULL,
		PRIMARY KEY (chain_id, dex_name)
	)`,
	// One row per delta currently folded into dex_usage_total.
	`CREATE TABLE IF NOT EXISTS dex_usage_total_applied (
		chain_id           VARCHAR NOT NULL,
		date               VARCHAR NOT NULL,
		dex_name           VARCHAR NOT NULL,
		event_count        BIGINT  NOT NULL,
		unique_order_count BIGINT  NOT NULL,
		total_weight       BIGINT  NOT NULL,
		applied_at         VARCHAR NOT NULL,
		PRIMARY KEY (chain_id, date, dex_name)
	)`,
	`CREATE TABLE IF NOT EXISTS etl_run_log (
		run_id             BIGINT  PRIMARY KEY,
		mode               VARCHAR NOT NULL,
		start_time         VARCHAR NOT NULL,
		end_time           VARCHAR NOT NULL,
		status             VARCHAR NOT NULL,
		records_processed  BIGINT  NOT NULL,
		first_date         VARCHAR,
		last_date          VARCHAR,
		chain_detail       VARCHAR
	)`,
	`CREATE INDEX IF NOT EXISTS idx_hourly_date ON dex_usage_hourly (chain_id, date)`,
	`CREATE INDEX IF NOT EXISTS idx_daily_date ON dex_usage_daily (chain_id, date)`,
	`CREATE INDEX IF NOT EXISTS idx_etl_log_status ON etl_run_log (status, start_time)`,
}
