package report

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"

	"dexusage/internal/domain"
)

// ChainSummary holds the per-chain headline numbers shown in the summary
// table above the charts.
type ChainSummary struct {
	ChainID      string
	Events       int64
	UniqueOrders int64
	Weight       int64
	Dexes        int
	TopDex       string
	TopShare     float64
	Days         int
	FirstDate    string
	LastDate     string
}

// Summarise builds one ChainSummary per chain in chains, in that order.
// Totals supply the cumulative counters and the top DEX; daily rows supply
// the covered date range. Chains without any rows get a zero summary.
func Summarise(chains []string, daily []domain.DailyUsage, totals []domain.TotalUsage) []ChainSummary {
	byChain := lo.GroupBy(totals, func(t domain.TotalUsage) string { return t.ChainID })
	datesByChain := make(map[string][]string)
	for _, d := range daily {
		datesByChain[d.ChainID] = append(datesByChain[d.ChainID], d.Date)
	}

	out := make([]ChainSummary, 0, len(chains))
	for _, chain := range chains {
		s := ChainSummary{ChainID: chain}
		rows := byChain[chain]
		// Highest event count first, DEX name breaks ties.
		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].EventCount != rows[j].EventCount {
				return rows[i].EventCount > rows[j].EventCount
			}
			return rows[i].DexName < rows[j].DexName
		})
		for _, r := range rows {
			s.Events += r.EventCount
			s.UniqueOrders += r.UniqueOrderCount
			s.Weight += r.TotalWeight
		}
		s.Dexes = len(rows)
		if len(rows) > 0 {
			s.TopDex = rows[0].DexName
			s.TopShare = rows[0].SharePct
		}

		dates := lo.Uniq(datesByChain[chain])
		sort.Strings(dates)
		s.Days = len(dates)
		if len(dates) > 0 {
			s.FirstDate = dates[0]
			s.LastDate = dates[len(dates)-1]
		}
		out = append(out, s)
	}
	return out
}

// FormatCount formats a counter with comma separators, switching to a
// compact SI form for very large values.
func FormatCount(n int64) string {
	if n >= 10_000_000 {
		return FormatCompact(n)
	}
	return humanize.Comma(n)
}

// FormatCompact formats a value with B/M/K suffixes.
func FormatCompact(n int64) string {
	v := float64(n)
	switch {
	case v >= 1e9:
		return fmt.Sprintf("%.1fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%.1fK", v/1e3)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// FormatShare formats a percentage as "X.XX%", or "-" when zero.
func FormatShare(p float64) string {
	if p == 0 {
		return "-"
	}
	return humanize.FormatFloat("#,###.##", p) + "%"
}
