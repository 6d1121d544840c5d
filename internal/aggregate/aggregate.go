// Package aggregate rolls extracted usage events up into hourly, daily and
// total-delta rows. Everything here is pure: no I/O, no clock.
package aggregate

import (
	"sort"

	"github.com/shopspring/decimal"

	"dexusage/internal/domain"
)

// Result holds the three derived tables for one batch of events.
type Result struct {
	Hourly []domain.HourlyUsage
	Daily  []domain.DailyUsage
	Totals []domain.TotalDelta
}

// Empty reports whether the result has no rows at all.
func (r Result) Empty() bool {
	return len(r.Hourly) == 0 && len(r.Daily) == 0 && len(r.Totals) == 0
}

// Rows returns the number of hourly plus daily rows, the figure recorded
// as records processed in the run log.
func (r Result) Rows() int {
	return len(r.Hourly) + len(r.Daily)
}

// accum counts events, their weight, and the distinct orders behind them.
type accum struct {
	events int64
	weight int64
	orders map[string]struct{}
}

func (a *accum) add(ev *domain.UsageEvent) {
	if a.orders == nil {
		a.orders = make(map[string]struct{})
	}
	a.events++
	a.weight += ev.Weight
	a.orders[ev.OrderID] = struct{}{}
}

func (a *accum) measures() domain.Measures {
	return domain.Measures{
		EventCount:       a.events,
		UniqueOrderCount: int64(len(a.orders)),
		TotalWeight:      a.weight,
	}
}

type hourKey struct {
	chain, date, dex string
	hour             int
}

type dayKey struct {
	chain, date, dex string
}

type totalKey struct {
	chain, dex string
}

// Aggregate groups events by (chain, date, hour, dex), (chain, date, dex)
// and (chain, dex). Empty input yields an empty result.
func Aggregate(events []domain.UsageEvent) Result {
	hourly := make(map[hourKey]*accum)
	daily := make(map[dayKey]*accum)
	totals := make(map[totalKey]*accum)

	for i := range events {
		ev := &events[i]
		ts := ev.Timestamp.UTC()
		date := ts.Format(domain.DateLayout)

		hk := hourKey{chain: ev.ChainID, date: date, dex: ev.DexName, hour: ts.Hour()}
		if hourly[hk] == nil {
			hourly[hk] = &accum{}
		}
		hourly[hk].add(ev)

		dk := dayKey{chain: ev.ChainID, date: date, dex: ev.DexName}
		if daily[dk] == nil {
			daily[dk] = &accum{}
		}
		daily[dk].add(ev)

		tk := totalKey{chain: ev.ChainID, dex: ev.DexName}
		if totals[tk] == nil {
			totals[tk] = &accum{}
		}
		totals[tk].add(ev)
	}

	var res Result

	for k, a := range hourly {
		res.Hourly = append(res.Hourly, domain.HourlyUsage{
			ChainID:  k.chain,
			Date:     k.date,
			Hour:     k.hour,
			DexName:  k.dex,
			Measures: a.measures(),
		})
	}
	sort.Slice(res.Hourly, func(i, j int) bool {
		a, b := res.Hourly[i], res.Hourly[j]
		if a.ChainID != b.ChainID {
			return a.ChainID < b.ChainID
		}
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Hour != b.Hour {
			return a.Hour < b.Hour
		}
		if a.EventCount != b.EventCount {
			return a.EventCount > b.EventCount
		}
		return a.DexName < b.DexName
	})

	// Share of each dex within its chain-day.
	dayTotals := make(map[[2]string]int64)
	for k, a := range daily {
		dayTotals[[2]string{k.chain, k.date}] += a.events
	}
	for k, a := range daily {
		m := a.measures()
		res.Daily = append(res.Daily, domain.DailyUsage{
			ChainID:  k.chain,
			Date:     k.date,
			DexName:  k.dex,
			SharePct: SharePct(m.EventCount, dayTotals[[2]string{k.chain, k.date}]),
			Measures: m,
		})
	}
	sort.Slice(res.Daily, func(i, j int) bool {
		a, b := res.Daily[i], res.Daily[j]
		if a.ChainID != b.ChainID {
			return a.ChainID < b.ChainID
		}
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.EventCount != b.EventCount {
			return a.EventCount > b.EventCount
		}
		return a.DexName < b.DexName
	})

	for k, a := range totals {
		res.Totals = append(res.Totals, domain.TotalDelta{
			ChainID:  k.chain,
			DexName:  k.dex,
			Measures: a.measures(),
		})
	}
	sort.Slice(res.Totals, func(i, j int) bool {
		a, b := res.Totals[i], res.Totals[j]
		if a.ChainID != b.ChainID {
			return a.ChainID < b.ChainID
		}
		if a.EventCount != b.EventCount {
			return a.EventCount > b.EventCount
		}
		return a.DexName < b.DexName
	})

	return res
}

// SharePct returns part as a percentage of whole, rounded half away from
// zero to two decimal places. A zero whole yields zero.
func SharePct(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return decimal.NewFromInt(part).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(whole)).
		Round(2).
		InexactFloat64()
}
