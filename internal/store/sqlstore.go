package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"dexusage/internal/aggregate"
	"dexusage/internal/domain"
	"dexusage/internal/util"
)

// ErrUnknownDriver is returned by Open for a driver name that is not
// registered with database/sql in this build.
var ErrUnknownDriver = errors.New("database driver not compiled in")

// Compile-time interface checks.
var _ UsageWriter = (*SQLStore)(nil)
var _ UsageReader = (*SQLStore)(nil)
var _ RunLog = (*SQLStore)(nil)

// SQLStore implements UsageWriter, UsageReader and RunLog on an embedded
// database opened through database/sql. Both supported drivers ("sqlite"
// and, with the duckdb build tag, "duckdb") run the same SQL.
type SQLStore struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// Open opens (or creates) the database at path with the named driver and
// verifies the connection.
func Open(driver, path string) (*SQLStore, error) {
	if !slices.Contains(sql.Drivers(), driver) {
		return nil, fmt.Errorf("%w: %q (duckdb needs -tags duckdb)", ErrUnknownDriver, driver)
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// A single connection serialises writers; the pipeline is
		// single-threaded anyway.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if driver == "sqlite" {
		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting busy_timeout: %w", err)
		}
	}
	return &SQLStore{db: db, driver: driver, now: time.Now}, nil
}

// OpenRetry creates the database directory, then opens and migrates the
// store. Lock contention from an overlapping run is retried with backoff;
// any other failure is returned after the first attempt.
func OpenRetry(ctx context.Context, driver, path string, attempts int) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database dir: %w", err)
		}
	}

	var s *SQLStore
	backoff := util.Backoff{Attempts: attempts, Base: 500 * time.Millisecond, Max: 8 * time.Second}
	err := util.Retry(ctx, backoff, func(attempt int) error {
		st, err := Open(driver, path)
		if err == nil {
			if err = st.Migrate(ctx); err != nil {
				st.Close()
			}
		}
		if err == nil {
			s = st
			return nil
		}
		if !IsBusy(err) {
			return util.Permanent(err)
		}
		slog.Warn("store busy, retrying", "path", path, "attempt", attempt, "error", err)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s store %s: %w", driver, path, err)
	}
	return s, nil
}

// IsBusy reports whether err is lock contention that a later attempt may
// not hit: SQLITE_BUSY/SQLITE_LOCKED, or DuckDB's file lock conflict.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"database is locked", "sqlite_busy", "sqlite_locked", "could not set lock"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Driver returns the database/sql driver name the store was opened with.
func (s *SQLStore) Driver() string {
	return s.driver
}

// SetClock replaces the clock used for created_at / last_updated stamps.
func (s *SQLStore) SetClock(now func() time.Time) {
	s.now = now
}

// Migrate creates the tables and indexes if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}
	return nil
}

// TableCounts returns the row count of every table.
func (s *SQLStore) TableCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(Tables))
	for _, t := range Tables {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t).Scan(&n); err != nil {
			return nil, fmt.Errorf("counting %s: %w", t, err)
		}
		counts[t] = n
	}
	return counts, nil
}

func (s *SQLStore) stamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// ---------------------------------------------------------------------------
// UsageWriter implementation
// ---------------------------------------------------------------------------

// LoadDay replaces the hourly and daily rows for scope and applies the
// day's total delta, all in one transaction. Every row must belong to
// scope. Failures roll back and surface as *domain.LoadError.
func (s *SQLStore) LoadDay(ctx context.Context, scope domain.Scope, res aggregate.Result) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.LoadError{Scope: scope, Op: "begin", Err: err}
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := s.stamp()

	hourly := make([][]any, 0, len(res.Hourly))
	for _, r := range res.Hourly {
		if r.ChainID != scope.ChainID || r.Date != scope.Date {
			return outOfScope(scope, TableHourly, r.ChainID, r.Date)
		}
		hourly = append(hourly, []any{r.ChainID, r.Date, r.Hour, r.DexName, r.EventCount, r.UniqueOrderCount, r.TotalWeight, now})
	}
	if err := replaceRange(ctx, tx, TableHourly, scope,
		[]string{"chain_id", "date", "hour", "dex_name", "event_count", "unique_order_count", "total_weight", "created_at"},
		hourly); err != nil {
		return err
	}

	daily := make([][]any, 0, len(res.Daily))
	for _, r := range res.Daily {
		if r.ChainID != scope.ChainID || r.Date != scope.Date {
			return outOfScope(scope, TableDaily, r.ChainID, r.Date)
		}
		daily = append(daily, []any{r.ChainID, r.Date, r.DexName, r.EventCount, r.UniqueOrderCount, r.TotalWeight, r.SharePct, now})
	}
	if err := replaceRange(ctx, tx, TableDaily, scope,
		[]string{"chain_id", "date", "dex_name", "event_count", "unique_order_count", "total_weight", "share_pct", "created_at"},
		daily); err != nil {
		return err
	}

	for _, d := range res.Totals {
		if d.ChainID != scope.ChainID {
			return outOfScope(scope, TableTotal, d.ChainID, scope.Date)
		}
	}
	if err := applyTotalDelta(ctx, tx, scope, res.Totals, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return &domain.LoadError{Scope: scope, Op: "commit", Err: err}
	}
	return nil
}

func outOfScope(scope domain.Scope, table, chain, date string) error {
	return &domain.LoadError{
		Scope: scope,
		Op:    "validate " + table,
		Err:   fmt.Errorf("row for %s/%s outside scope", chain, date),
	}
}

// replaceRange deletes every row of table in scope and inserts rows, whose
// values follow cols.
func replaceRange(ctx context.Context, tx *sql.Tx, table string, scope domain.Scope, cols []string, rows [][]any) error {
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM "+table+" WHERE chain_id = ? AND date = ?",
		scope.ChainID, scope.Date); err != nil {
		return &domain.LoadError{Scope: scope, Op: "delete " + table, Err: err}
	}
	if len(rows) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, insertSQL(table, cols))
	if err != nil {
		return &domain.LoadError{Scope: scope, Op: "prepare " + table, Err: err}
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return &domain.LoadError{Scope: scope, Op: "insert " + table, Err: err}
		}
	}
	return nil
}

func insertSQL(table string, cols []string) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), marks)
}

// applyTotalDelta folds one chain-day delta into dex_usage_total. The delta
// previously recorded for the same scope is withdrawn first, so applying a
// day twice leaves totals as if it had been applied once, and days may be
// applied in any order.
func applyTotalDelta(ctx context.Context, tx *sql.Tx, scope domain.Scope, deltas []domain.TotalDelta, now string) error {
	loadErr := func(op string, err error) error {
		return &domain.LoadError{Scope: scope, Op: op, Err: err}
	}

	prev, err := appliedDeltas(ctx, tx, scope)
	if err != nil {
		return loadErr("read applied deltas", err)
	}

	net := make(map[string]domain.Measures, len(prev)+len(deltas))
	var order []string
	for _, p := range prev {
		if _, ok := net[p.DexName]; !ok {
			order = append(order, p.DexName)
		}
		net[p.DexName] = net[p.DexName].Add(negate(p.Measures))
	}
	for _, d := range deltas {
		if _, ok := net[d.DexName]; !ok {
			order = append(order, d.DexName)
		}
		net[d.DexName] = net[d.DexName].Add(d.Measures)
	}

	const upsert = `INSERT INTO dex_usage_total
		(chain_id, dex_name, event_count, unique_order_count, total_weight, share_pct, first_seen, last_updated)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (chain_id, dex_name) DO UPDATE SET
			event_count = dex_usage_total.event_count + excluded.event_count,
			unique_order_count = dex_usage_total.unique_order_count + excluded.unique_order_count,
			total_weight = dex_usage_total.total_weight + excluded.total_weight,
			last_updated = excluded.last_updated`
	loaded := make(map[string]bool, len(deltas))
	for _, d := range deltas {
		loaded[d.DexName] = true
	}
	for _, dex := range order {
		m := net[dex]
		if m == (domain.Measures{}) {
			// Unchanged reload: the row is still current as of now.
			if loaded[dex] {
				if _, err := tx.ExecContext(ctx,
					"UPDATE dex_usage_total SET last_updated = ? WHERE chain_id = ? AND dex_name = ?",
					now, scope.ChainID, dex); err != nil {
					return loadErr("touch total", err)
				}
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, upsert,
			scope.ChainID, dex, m.EventCount, m.UniqueOrderCount, m.TotalWeight, scope.Date, now); err != nil {
			return loadErr("upsert total", err)
		}
	}

	rows := make([][]any, 0, len(deltas))
	for _, d := range deltas {
		rows = append(rows, []any{d.ChainID, scope.Date, d.DexName, d.EventCount, d.UniqueOrderCount, d.TotalWeight, now})
	}
	if err := replaceRange(ctx, tx, TableTotalApplied, scope,
		[]string{"chain_id", "date", "dex_name", "event_count", "unique_order_count", "total_weight", "applied_at"},
		rows); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM dex_usage_total WHERE chain_id = ? AND event_count <= 0",
		scope.ChainID); err != nil {
		return loadErr("prune totals", err)
	}

	if err := refreshChainTotals(ctx, tx, scope.ChainID); err != nil {
		return loadErr("refresh totals", err)
	}
	return nil
}

func negate(m domain.Measures) domain.Measures {
	return domain.Measures{
		EventCount:       -m.EventCount,
		UniqueOrderCount: -m.UniqueOrderCount,
		TotalWeight:      -m.TotalWeight,
	}
}

func appliedDeltas(ctx context.Context, tx *sql.Tx, scope domain.Scope) ([]domain.TotalDelta, error) {
	rows, err := tx.QueryContext(ctx, `SELECT dex_name, event_count, unique_order_count, total_weight
		FROM dex_usage_total_applied
		WHERE chain_id = ? AND date = ?
		ORDER BY dex_name`, scope.ChainID, scope.Date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TotalDelta
	for rows.Next() {
		d := domain.TotalDelta{ChainID: scope.ChainID}
		if err := rows.Scan(&d.DexName, &d.EventCount, &d.UniqueOrderCount, &d.TotalWeight); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// refreshChainTotals recomputes first_seen from the applied-delta ledger
// and share_pct from the chain's current totals.
func refreshChainTotals(ctx context.Context, tx *sql.Tx, chain string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE dex_usage_total SET first_seen = (
			SELECT MIN(a.date) FROM dex_usage_total_applied a
			WHERE a.chain_id = dex_usage_total.chain_id
			  AND a.dex_name = dex_usage_total.dex_name
		) WHERE chain_id = ?`, chain); err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT dex_name, event_count FROM dex_usage_total WHERE chain_id = ? ORDER BY dex_name", chain)
	if err != nil {
		return err
	}
	type entry struct {
		dex   string
		count int64
	}
	var entries []entry
	var sum int64
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.dex, &e.count); err != nil {
			rows.Close()
			return err
		}
		entries = append(entries, e)
		sum += e.count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, e := range entries {
		if _, err := tx.ExecContext(ctx,
			"UPDATE dex_usage_total SET share_pct = ? WHERE chain_id = ? AND dex_name = ?",
			aggregate.SharePct(e.count, sum), chain, e.dex); err != nil {
			return err
		}
	}
	return nil
}

// RebuildTotals discards dex_usage_total and re-derives it by summing the
// applied-delta ledger. The result equals what incremental loading
// produced; this is the recovery path if totals are ever suspected to have
// drifted.
func (s *SQLStore) RebuildTotals(ctx context.Context) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM dex_usage_total"); err != nil {
		return fmt.Errorf("clearing totals: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO dex_usage_total
		(chain_id, dex_name, event_count, unique_order_count, total_weight, share_pct, first_seen, last_updated)
		SELECT chain_id, dex_name, SUM(event_count), SUM(unique_order_count), SUM(total_weight), 0, MIN(date), ?
		FROM dex_usage_total_applied
		GROUP BY chain_id, dex_name
		HAVING SUM(event_count) > 0`, s.stamp()); err != nil {
		return fmt.Errorf("replaying deltas: %w", err)
	}

	chains, err := queryStrings(ctx, tx, "SELECT DISTINCT chain_id FROM dex_usage_total ORDER BY chain_id")
	if err != nil {
		return fmt.Errorf("listing chains: %w", err)
	}
	for _, c := range chains {
		if err := refreshChainTotals(ctx, tx, c); err != nil {
			return fmt.Errorf("refreshing %s: %w", c, err)
		}
	}
	return tx.Commit()
}

func queryStrings(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// UsageReader implementation
// ---------------------------------------------------------------------------

// ListHourly returns all hourly rows.
func (s *SQLStore) ListHourly(ctx context.Context) ([]domain.HourlyUsage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chain_id, date, hour, dex_name, event_count, unique_order_count, total_weight
		FROM dex_usage_hourly
		ORDER BY chain_id, date, hour, event_count DESC, dex_name`)
	if err != nil {
		return nil, fmt.Errorf("querying hourly: %w", err)
	}
	defer rows.Close()

	var out []domain.HourlyUsage
	for rows.Next() {
		var r domain.HourlyUsage
		if err := rows.Scan(&r.ChainID, &r.Date, &r.Hour, &r.DexName, &r.EventCount, &r.UniqueOrderCount, &r.TotalWeight); err != nil {
			return nil, fmt.Errorf("scanning hourly: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListDaily returns all daily rows.
func (s *SQLStore) ListDaily(ctx context.Context) ([]domain.DailyUsage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chain_id, date, dex_name, event_count, unique_order_count, total_weight, share_pct
		FROM dex_usage_daily
		ORDER BY chain_id, date, event_count DESC, dex_name`)
	if err != nil {
		return nil, fmt.Errorf("querying daily: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyUsage
	for rows.Next() {
		var r domain.DailyUsage
		if err := rows.Scan(&r.ChainID, &r.Date, &r.DexName, &r.EventCount, &r.UniqueOrderCount, &r.TotalWeight, &r.SharePct); err != nil {
			return nil, fmt.Errorf("scanning daily: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListTotals returns all total rows.
func (s *SQLStore) ListTotals(ctx context.Context) ([]domain.TotalUsage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chain_id, dex_name, event_count, unique_order_count, total_weight, share_pct,
			COALESCE(first_seen, ''), last_updated
		FROM dex_usage_total
		ORDER BY chain_id, event_count DESC, dex_name`)
	if err != nil {
		return nil, fmt.Errorf("querying totals: %w", err)
	}
	defer rows.Close()

	var out []domain.TotalUsage
	for rows.Next() {
		var r domain.TotalUsage
		if err := rows.Scan(&r.ChainID, &r.DexName, &r.EventCount, &r.UniqueOrderCount, &r.TotalWeight, &r.SharePct,
			&r.FirstSeen, &r.LastUpdated); err != nil {
			return nil, fmt.Errorf("scanning totals: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// RunLog implementation
// ---------------------------------------------------------------------------

// AppendRun inserts rec as a new run-log row. The run id is allocated as
// MAX(run_id)+1 inside the insert's transaction.
func (s *SQLStore) AppendRun(ctx context.Context, rec *domain.RunRecord) (id int64, err error) {
	detail, err := json.Marshal(rec.Units)
	if err != nil {
		return 0, fmt.Errorf("encoding run detail: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `INSERT INTO etl_run_log
		(run_id, mode, start_time, end_time, status, records_processed, first_date, last_date, chain_detail)
		SELECT COALESCE(MAX(run_id), 0) + 1, ?, ?, ?, ?, ?, ?, ?, ? FROM etl_run_log`,
		string(rec.Mode),
		rec.StartTime.UTC().Format(time.RFC3339Nano),
		rec.EndTime.UTC().Format(time.RFC3339Nano),
		string(rec.Status),
		rec.RecordsProcessed,
		rec.FirstDate,
		rec.LastDate,
		string(detail),
	); err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}

	if err := tx.QueryRowContext(ctx, "SELECT MAX(run_id) FROM etl_run_log").Scan(&id); err != nil {
		return 0, fmt.Errorf("reading run id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	rec.RunID = id
	return id, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLStore) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, mode, start_time, end_time, status, records_processed,
			COALESCE(first_date, ''), COALESCE(last_date, ''), COALESCE(chain_detail, '')
		FROM etl_run_log
		ORDER BY run_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []domain.RunRecord
	for rows.Next() {
		var (
			r                  domain.RunRecord
			mode, status       string
			start, end, detail string
		)
		if err := rows.Scan(&r.RunID, &mode, &start, &end, &status, &r.RecordsProcessed, &r.FirstDate, &r.LastDate, &detail); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.Mode = domain.RunMode(mode)
		r.Status = domain.RunStatus(status)
		if r.StartTime, err = time.Parse(time.RFC3339Nano, start); err != nil {
			return nil, fmt.Errorf("run %d start_time: %w", r.RunID, err)
		}
		if r.EndTime, err = time.Parse(time.RFC3339Nano, end); err != nil {
			return nil, fmt.Errorf("run %d end_time: %w", r.RunID, err)
		}
		if detail != "" {
			if err := json.Unmarshal([]byte(detail), &r.Units); err != nil {
				return nil, fmt.Errorf("run %d chain_detail: %w", r.RunID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
