package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexusage/internal/domain"
)

func ev(chain, dex, order string, ts time.Time, weight int64) domain.UsageEvent {
	return domain.UsageEvent{ChainID: chain, DexName: dex, OrderID: order, Timestamp: ts, Weight: weight}
}

func TestAggregateSameHourTwoOrders(t *testing.T) {
	h3 := time.Date(2025, 11, 19, 3, 0, 0, 0, time.UTC)
	res := Aggregate([]domain.UsageEvent{
		ev("bsc", "pancake", "o1", h3.Add(5*time.Minute), 100),
		ev("bsc", "pancake", "o2", h3.Add(40*time.Minute), 100),
	})

	require.Len(t, res.Hourly, 1)
	assert.Equal(t, domain.HourlyUsage{
		ChainID: "bsc", Date: "2025-11-19", Hour: 3, DexName: "pancake",
		Measures: domain.Measures{EventCount: 2, UniqueOrderCount: 2, TotalWeight: 200},
	}, res.Hourly[0])

	require.Len(t, res.Daily, 1)
	assert.Equal(t, int64(2), res.Daily[0].EventCount)
	assert.Equal(t, int64(2), res.Daily[0].UniqueOrderCount)
	assert.Equal(t, 100.0, res.Daily[0].SharePct)

	require.Len(t, res.Totals, 1)
	assert.Equal(t, domain.TotalDelta{
		ChainID: "bsc", DexName: "pancake",
		Measures: domain.Measures{EventCount: 2, UniqueOrderCount: 2, TotalWeight: 200},
	}, res.Totals[0])
}

func TestAggregateEmpty(t *testing.T) {
	res := Aggregate(nil)
	assert.True(t, res.Empty())
	assert.Equal(t, 0, res.Rows())
}

func TestAggregateDailyEqualsSumOfHourly(t *testing.T) {
	base := time.Date(2025, 11, 19, 0, 0, 0, 0, time.UTC)
	var events []domain.UsageEvent
	dexes := []string{"pancake", "biswap", "thena"}
	for i := 0; i < 97; i++ {
		ts := base.Add(time.Duration(i*37) * time.Minute)
		if ts.Day() != 19 {
			break
		}
		// Multi-leg orders: every third order also routes through biswap.
		order := "o" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		events = append(events, ev("bsc", dexes[i%3], order, ts, int64(i)))
		if i%3 == 0 {
			events = append(events, ev("bsc", "biswap", order, ts, 1))
		}
	}

	res := Aggregate(events)

	hourSum := make(map[string]int64)
	for _, h := range res.Hourly {
		hourSum[h.DexName] += h.EventCount
	}
	var total int64
	var pct float64
	for _, d := range res.Daily {
		assert.Equal(t, hourSum[d.DexName], d.EventCount, "dex %s", d.DexName)
		total += d.EventCount
		pct += d.SharePct
	}
	assert.Equal(t, int64(len(events)), total)
	assert.InDelta(t, 100.0, pct, 0.05)

	// Hourly rows come out ordered by hour.
	for i := 1; i < len(res.Hourly); i++ {
		assert.LessOrEqual(t, res.Hourly[i-1].Hour, res.Hourly[i].Hour)
	}
}

func TestAggregateDistinctOrders(t *testing.T) {
	ts := time.Date(2025, 11, 19, 10, 0, 0, 0, time.UTC)
	// One order split across two sub-routers of the same dex counts twice
	// as usage but once as an order.
	res := Aggregate([]domain.UsageEvent{
		ev("eth", "uniswap_v3", "o1", ts, 60),
		ev("eth", "uniswap_v3", "o1", ts, 40),
		ev("eth", "curve", "o1", ts, 100),
	})

	require.Len(t, res.Daily, 2)
	assert.Equal(t, "uniswap_v3", res.Daily[0].DexName)
	assert.Equal(t, int64(2), res.Daily[0].EventCount)
	assert.Equal(t, int64(1), res.Daily[0].UniqueOrderCount)
	assert.Equal(t, int64(100), res.Daily[0].TotalWeight)
	assert.Equal(t, 66.67, res.Daily[0].SharePct)
	assert.Equal(t, 33.33, res.Daily[1].SharePct)
}

func TestSharePct(t *testing.T) {
	assert.Equal(t, 0.0, SharePct(5, 0))
	assert.Equal(t, 33.33, SharePct(1, 3))
	assert.Equal(t, 66.67, SharePct(2, 3))
	assert.Equal(t, 12.5, SharePct(1, 8))
}
