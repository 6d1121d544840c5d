package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexusage/internal/domain"
	"dexusage/internal/util"
)

// routeJSON builds a request payload with one route plan holding the given
// dex legs, each with weight 100.
func routeJSON(dexes ...string) string {
	legs := make([]string, 0, len(dexes))
	for _, d := range dexes {
		legs = append(legs, fmt.Sprintf(`{"dex":%q,"weight":100}`, d))
	}
	return `{"swapInfo":{"routePlans":[{"subRouters":[{"dexes":[` + strings.Join(legs, ",") + `]}]}]}}`
}

var day = time.Date(2025, 11, 19, 0, 0, 0, 0, time.UTC)

func TestExtractFiltersWindowAndExclusions(t *testing.T) {
	base := t.TempDir()
	h3 := day.Add(3 * time.Hour)

	_, err := WritePartition(base, "bsc", h3, "part-0", []SwapRecord{
		{OrderID: "o1", InputToken: "0xa", OutputToken: "0xb", BlockTime: h3.Add(time.Minute).UnixMilli(), Request: routeJSON("pancake")},
		{OrderID: "o2", InputToken: "0xa", OutputToken: "0xbad", BlockTime: h3.Add(2 * time.Minute).UnixMilli(), Request: routeJSON("pancake")},
		{OrderID: "o3", InputToken: "0xc", OutputToken: "0xd", BlockTime: h3.Add(3 * time.Minute).UnixMilli(), Request: routeJSON("pancake", "biswap")},
		{OrderID: "o4", InputToken: "0xc", OutputToken: "0xd", BlockTime: h3.Add(4 * time.Minute).UnixMilli()},
	})
	require.NoError(t, err)

	// A row stamped on the next day must fall outside the window even
	// though it sits in this date's partition.
	_, err = WritePartition(base, "bsc", day.Add(23*time.Hour), "part-0", []SwapRecord{
		{OrderID: "late", InputToken: "0xa", OutputToken: "0xb", BlockTime: day.AddDate(0, 0, 1).Add(time.Minute).UnixMilli(), Request: routeJSON("pancake")},
	})
	require.NoError(t, err)

	ex := NewParquetExtractor(base, []string{"0xbad"})
	events, err := ex.Extract(context.Background(), "bsc", util.DayWindow(day))
	require.NoError(t, err)

	require.Len(t, events, 3)
	for _, ev := range events {
		assert.Equal(t, "bsc", ev.ChainID)
		assert.NotEqual(t, "o2", ev.OrderID, "excluded token leaked")
		assert.NotEqual(t, "late", ev.OrderID, "out-of-window row leaked")
		assert.Equal(t, int64(100), ev.Weight)
	}
	assert.Equal(t, "o1", events[0].OrderID)
	assert.Equal(t, "biswap", events[1].DexName)
	assert.Equal(t, "pancake", events[2].DexName)
	assert.Equal(t, 3, events[0].Timestamp.Hour())
}

func TestExtractFallsBackToPartitionHour(t *testing.T) {
	base := t.TempDir()
	_, err := WritePartition(base, "eth", day.Add(7*time.Hour), "part-0", []SwapRecord{
		{OrderID: "o1", InputToken: "0xa", OutputToken: "0xb", Request: routeJSON("uniswap_v3")},
	})
	require.NoError(t, err)

	events, err := NewParquetExtractor(base, nil).Extract(context.Background(), "eth", util.DayWindow(day))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, day.Add(7*time.Hour), events[0].Timestamp)
}

func TestExtractDataNotFound(t *testing.T) {
	ex := NewParquetExtractor(t.TempDir(), nil)

	_, err := ex.Extract(context.Background(), "sol", util.DayWindow(day))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDataNotFound))

	var dnf *domain.DataNotFoundError
	require.True(t, errors.As(err, &dnf))
	assert.Equal(t, "sol", dnf.Chain)
}

func TestExtractCorruptFile(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "chain=base", "date=2025-11-19", "hour=01")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.parquet"), []byte("not parquet"), 0o644))

	_, err := NewParquetExtractor(base, nil).Extract(context.Background(), "base", util.DayWindow(day))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRead))

	var re *domain.ReadError
	require.True(t, errors.As(err, &re))
	assert.Contains(t, re.Path, "broken.parquet")
}

func TestExtractMalformedRequest(t *testing.T) {
	base := t.TempDir()
	_, err := WritePartition(base, "bsc", day, "part-0", []SwapRecord{
		{OrderID: "o1", InputToken: "0xa", OutputToken: "0xb", BlockTime: day.UnixMilli(), Request: `{"swapInfo":`},
	})
	require.NoError(t, err)

	_, err = NewParquetExtractor(base, nil).Extract(context.Background(), "bsc", util.DayWindow(day))
	assert.True(t, errors.Is(err, domain.ErrRead))
}

func TestPartitionFiles(t *testing.T) {
	base := t.TempDir()
	for _, h := range []int{5, 0} {
		_, err := WritePartition(base, "bsc", day.Add(time.Duration(h)*time.Hour), "part-0", []SwapRecord{{OrderID: "o"}})
		require.NoError(t, err)
	}

	files, err := NewParquetExtractor(base, nil).PartitionFiles("bsc", util.DayWindow(day))
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, filepath.Join(base, "chain=bsc", "date=2025-11-19", "hour=00", "part-0.parquet"), files[0])
	assert.Equal(t, filepath.Join(base, "chain=bsc", "date=2025-11-19", "hour=05", "part-0.parquet"), files[1])
}

func TestParseRouteLegs(t *testing.T) {
	raw := `{"swapInfo":{"routePlans":[
		{"subRouters":[{"dexes":[{"dex":"\"pancake\"","weight":"60"},{"dex":"biswap","weight":40.0}]}]},
		{"subRouters":[{"dexes":[{"weight":10},{"dex":"thena","weight":null}]}]}
	]}}`

	legs, err := parseRouteLegs(raw)
	require.NoError(t, err)
	assert.Equal(t, []routeLeg{
		{Dex: "pancake", Weight: 60},
		{Dex: "biswap", Weight: 40},
		{Dex: "thena", Weight: 0},
	}, legs)

	legs, err = parseRouteLegs("")
	require.NoError(t, err)
	assert.Empty(t, legs)

	_, err = parseRouteLegs(`{"swapInfo":{"routePlans":[{"subRouters":[{"dexes":[{"dex":"x","weight":"abc"}]}]}]}}`)
	assert.Error(t, err)
}
