package util

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("WARN", "json", &buf)

	logger.Info("hidden")
	logger.Warn("shown", "chain", "bsc")

	out := buf.String()
	assert.NotContains(t, out, "hidden", "info line written at warn level")
	assert.Contains(t, out, `"chain":"bsc"`)
}

func TestOpenLogWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "etl.log")
	w, closeFn, err := OpenLogWriter(path)
	require.NoError(t, err)

	NewLogger("info", "text", w).Error("load failed", "chain", "eth")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "load failed")
}

func TestDaysBack(t *testing.T) {
	now := time.Date(2025, 11, 22, 13, 45, 0, 0, time.UTC)

	var got []string
	for _, d := range DaysBack(now, 3) {
		got = append(got, d.Format("2006-01-02"))
	}
	assert.Equal(t, []string{"2025-11-19", "2025-11-20", "2025-11-21"}, got)

	assert.Equal(t, "2025-11-21", DaysBack(now, 1)[0].Format("2006-01-02"), "one day back is yesterday")
}

func TestDayWindow(t *testing.T) {
	w := DayWindow(time.Date(2025, 11, 19, 8, 0, 0, 0, time.UTC))

	assert.True(t, w.Contains(time.Date(2025, 11, 19, 0, 0, 0, 0, time.UTC)), "begin is inclusive")
	assert.False(t, w.Contains(time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC)), "end is exclusive")
	assert.Equal(t, []string{"2025-11-19"}, w.Dates())

	span := Window{
		Begin: time.Date(2025, 11, 19, 22, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 11, 21, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, []string{"2025-11-19", "2025-11-20"}, span.Dates())
}
