// Package extract reads chain-partitioned swap Parquet files and turns them
// into per-DEX usage events.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/samber/lo"

	"dexusage/internal/domain"
	"dexusage/internal/util"
)

// SwapRecord is the Parquet schema of one routed swap order.
type SwapRecord struct {
	OrderID     string `parquet:"orderId"`
	InputToken  string `parquet:"inputToken"`
	OutputToken string `parquet:"outputToken"`
	BlockTime   int64  `parquet:"blockTime,timestamp(millisecond)"` // Unix ms
	Request     string `parquet:"request,optional"`                 // route request JSON
}

// ParquetExtractor reads swap files laid out as
//
//	<BasePath>/chain=<id>/date=<YYYY-MM-DD>/hour=<HH>/*.parquet
//
// and emits one UsageEvent per DEX leg of every order's route plan.
type ParquetExtractor struct {
	BasePath string
	excluded map[string]struct{}
}

// NewParquetExtractor creates an extractor rooted at basePath that drops any
// swap whose input or output token is in excludedTokens.
func NewParquetExtractor(basePath string, excludedTokens []string) *ParquetExtractor {
	return &ParquetExtractor{
		BasePath: basePath,
		excluded: lo.SliceToMap(excludedTokens, func(t string) (string, struct{}) {
			return t, struct{}{}
		}),
	}
}

// Extract returns the usage events for chain inside window w. It fails with
// a *domain.DataNotFoundError when no partition file exists and with a
// *domain.ReadError when a file or its request payload cannot be decoded.
func (e *ParquetExtractor) Extract(ctx context.Context, chain string, w util.Window) ([]domain.UsageEvent, error) {
	files, err := e.PartitionFiles(chain, w)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, &domain.DataNotFoundError{Chain: chain, Begin: w.Begin, End: w.End}
	}

	var events []domain.UsageEvent
	for _, path := range files {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		records, err := parquet.ReadFile[SwapRecord](path)
		if err != nil {
			return nil, &domain.ReadError{Path: path, Err: err}
		}

		fallback := partitionHour(path)
		for i := range records {
			r := &records[i]
			if e.isExcluded(r) {
				continue
			}

			ts := fallback
			if r.BlockTime != 0 {
				ts = time.UnixMilli(r.BlockTime).UTC()
			}
			if ts.IsZero() || !w.Contains(ts) {
				continue
			}

			legs, err := parseRouteLegs(r.Request)
			if err != nil {
				return nil, &domain.ReadError{Path: path, Err: fmt.Errorf("order %s: %w", r.OrderID, err)}
			}
			for _, leg := range legs {
				events = append(events, domain.UsageEvent{
					ChainID:     chain,
					DexName:     leg.Dex,
					Timestamp:   ts,
					OrderID:     r.OrderID,
					InputToken:  r.InputToken,
					OutputToken: r.OutputToken,
					Weight:      leg.Weight,
				})
			}
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.OrderID != b.OrderID {
			return a.OrderID < b.OrderID
		}
		return a.DexName < b.DexName
	})
	return events, nil
}

// PartitionFiles lists, in sorted order, every Parquet file under the date
// partitions that window w touches for chain.
func (e *ParquetExtractor) PartitionFiles(chain string, w util.Window) ([]string, error) {
	var files []string
	for _, date := range w.Dates() {
		pattern := filepath.Join(e.partitionDir(chain, date), "hour=*", "*.parquet")
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("globbing %s: %w", pattern, err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}

func (e *ParquetExtractor) isExcluded(r *SwapRecord) bool {
	if len(e.excluded) == 0 {
		return false
	}
	_, in := e.excluded[r.InputToken]
	_, out := e.excluded[r.OutputToken]
	return in || out
}

// partitionDir returns the date partition directory for a chain.
// Layout: <base>/chain=<id>/date=<YYYY-MM-DD>
func (e *ParquetExtractor) partitionDir(chain, date string) string {
	return filepath.Join(e.BasePath, "chain="+chain, "date="+date)
}

// partitionHour recovers the bucket start time from a file's date=/hour=
// path segments. It is used for rows that carry no block time.
func partitionHour(path string) time.Time {
	var date, hour string
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		switch {
		case strings.HasPrefix(seg, "date="):
			date = strings.TrimPrefix(seg, "date=")
		case strings.HasPrefix(seg, "hour="):
			hour = strings.TrimPrefix(seg, "hour=")
		}
	}
	day, err := time.Parse(domain.DateLayout, date)
	if err != nil {
		return time.Time{}
	}
	h, err := strconv.Atoi(hour)
	if err != nil || h < 0 || h > 23 {
		return time.Time{}
	}
	return day.Add(time.Duration(h) * time.Hour)
}

// ---------------------------------------------------------------------------
// Writing
// ---------------------------------------------------------------------------

// WritePartition writes records as one Parquet file into the hour partition
// that contains hour, creating directories as needed. It returns the path.
func WritePartition(basePath, chain string, hour time.Time, name string, records []SwapRecord) (string, error) {
	hour = hour.UTC()
	dir := filepath.Join(basePath,
		"chain="+chain,
		"date="+hour.Format(domain.DateLayout),
		fmt.Sprintf("hour=%02d", hour.Hour()),
	)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name+".parquet")
	if err := parquet.WriteFile(path, records); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}
