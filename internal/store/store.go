// Package store defines storage interfaces for the aggregated DEX usage
// tables and the ETL run log, and a database/sql implementation of them.
package store

import (
	"context"

	"dexusage/internal/aggregate"
	"dexusage/internal/domain"
)

// UsageWriter persists one chain-day of aggregates.
type UsageWriter interface {
	// LoadDay atomically replaces the hourly and daily rows for scope and
	// applies the day's total delta, withdrawing any delta previously
	// applied for the same scope.
	LoadDay(ctx context.Context, scope domain.Scope, res aggregate.Result) error
}

// UsageReader reads the aggregate tables in a stable order.
type UsageReader interface {
	// ListHourly returns all hourly rows ordered by chain, date, hour and
	// descending event count.
	ListHourly(ctx context.Context) ([]domain.HourlyUsage, error)

	// ListDaily returns all daily rows ordered by chain, date and
	// descending event count.
	ListDaily(ctx context.Context) ([]domain.DailyUsage, error)

	// ListTotals returns all total rows ordered by chain and descending
	// event count.
	ListTotals(ctx context.Context) ([]domain.TotalUsage, error)
}

// RunLog is the append-only record of ETL invocations.
type RunLog interface {
	// AppendRun inserts rec with the next run id, stores that id in
	// rec.RunID and returns it.
	AppendRun(ctx context.Context, rec *domain.RunRecord) (int64, error)

	// ListRuns returns the most recent runs, newest first, up to limit.
	ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error)
}
