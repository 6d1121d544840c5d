// Package domain defines the core types shared across the ETL pipeline:
// extracted usage events, the three aggregate tables, and run-log entries.
package domain

import "time"

// DateLayout is the canonical on-disk and in-table representation of a UTC
// calendar date.
const DateLayout = "2006-01-02"

// ---------------------------------------------------------------------------
// Extracted events
// ---------------------------------------------------------------------------

// UsageEvent is one DEX leg of a routed order. An order routed through
// several venues produces one event per leg, all sharing OrderID.
type UsageEvent struct {
	ChainID     string
	DexName     string
	Timestamp   time.Time // UTC
	OrderID     string
	InputToken  string
	OutputToken string
	Weight      int64
}

// ---------------------------------------------------------------------------
// Aggregates
// ---------------------------------------------------------------------------

// Measures are the counters carried by every aggregate row.
type Measures struct {
	EventCount       int64 `json:"event_count"`
	UniqueOrderCount int64 `json:"unique_order_count"`
	TotalWeight      int64 `json:"total_weight"`
}

// Add returns the element-wise sum of m and o.
func (m Measures) Add(o Measures) Measures {
	return Measures{
		EventCount:       m.EventCount + o.EventCount,
		UniqueOrderCount: m.UniqueOrderCount + o.UniqueOrderCount,
		TotalWeight:      m.TotalWeight + o.TotalWeight,
	}
}

// HourlyUsage is keyed by (ChainID, Date, Hour, DexName).
type HourlyUsage struct {
	ChainID string `json:"chain_id"`
	Date    string `json:"date"`
	Hour    int    `json:"hour"`
	DexName string `json:"dex_name"`
	Measures
}

// DailyUsage is keyed by (ChainID, Date, DexName).
type DailyUsage struct {
	ChainID  string  `json:"chain_id"`
	Date     string  `json:"date"`
	DexName  string  `json:"dex_name"`
	SharePct float64 `json:"share_pct"`
	Measures
}

// TotalDelta is one chain-day's contribution to a TotalUsage row.
type TotalDelta struct {
	ChainID string
	DexName string
	Measures
}

// TotalUsage is the cumulative row keyed by (ChainID, DexName).
type TotalUsage struct {
	ChainID     string  `json:"chain_id"`
	DexName     string  `json:"dex_name"`
	SharePct    float64 `json:"share_pct"`
	FirstSeen   string  `json:"first_seen"`
	LastUpdated string  `json:"last_updated"`
	Measures
}

// Scope identifies the (chain, date) key range a load replaces.
type Scope struct {
	ChainID string
	Date    string
}

func (s Scope) String() string {
	return s.ChainID + "/" + s.Date
}

// ---------------------------------------------------------------------------
// Run log
// ---------------------------------------------------------------------------

// RunStatus is the aggregate outcome of one ETL invocation.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

// UnitStatus is the outcome of processing a single chain-date unit.
type UnitStatus string

const (
	UnitStatusSuccess UnitStatus = "success"
	UnitStatusSkipped UnitStatus = "skipped"
	UnitStatusFailed  UnitStatus = "failed"
)

// RunMode distinguishes a normal daily run from an init/backfill run.
type RunMode string

const (
	RunModeDaily RunMode = "daily"
	RunModeInit  RunMode = "init"
)

// UnitResult records what happened to one chain on one date.
type UnitResult struct {
	ChainID string     `json:"chain_id"`
	Date    string     `json:"date"`
	Status  UnitStatus `json:"status"`
	Records int        `json:"records"`
	Error   string     `json:"error,omitempty"`
}

// RunRecord is one append-only row of the ETL run log.
type RunRecord struct {
	RunID            int64
	Mode             RunMode
	StartTime        time.Time
	EndTime          time.Time
	Status           RunStatus
	RecordsProcessed int
	FirstDate        string
	LastDate         string
	Units            []UnitResult
}
