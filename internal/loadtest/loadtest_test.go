package loadtest

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupFixture(t *testing.T, n int) *Fixture {
	t.Helper()
	fx, err := Populate(context.Background(), filepath.Join(t.TempDir(), "load.sqlite3"), n)
	require.NoError(t, err)
	return fx
}

func TestPopulate(t *testing.T) {
	fx := setupFixture(t, 1200)
	require.Len(t, fx.IDs, 1200)
	assert.Equal(t, "CVE-2021-00000", fx.IDs[0])

	stats, err := fx.Store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1200, stats.Records)

	ids, err := fx.Store.SearchDescription(context.Background(), "SQL injection")
	require.NoError(t, err)
	assert.Len(t, ids, 150)
}

func TestRun_Small(t *testing.T) {
	fx := setupFixture(t, 100)

	stats, err := fx.Run(context.Background(), Options{Workers: 4, QueriesPerWorker: 10, TextEvery: 5})
	require.NoError(t, err)
	assert.Equal(t, 40, stats.TotalQueries)
	assert.Zero(t, stats.Errors)
	assert.LessOrEqual(t, stats.Min, stats.P50)
	assert.LessOrEqual(t, stats.P50, stats.Max)
}

func TestRun_InvalidOptions(t *testing.T) {
	fx := setupFixture(t, 1)

	_, err := fx.Run(context.Background(), Options{Workers: 0, QueriesPerWorker: 1})
	assert.Error(t, err)

	empty := &Fixture{Store: fx.Store}
	_, err = empty.Run(context.Background(), Options{Workers: 1, QueriesPerWorker: 1})
	assert.Error(t, err)
}

func TestRunWithWriter(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping concurrent writer test in short mode")
	}
	fx := setupFixture(t, 200)

	require.NoError(t, fx.RunWithWriter(context.Background(), 4, 300*time.Millisecond))

	stats, err := fx.Store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 200, stats.Records)
}

func TestComputeLatencyStats(t *testing.T) {
	assert.Equal(t, &LatencyStats{}, ComputeLatencyStats(nil))

	in := make([]time.Duration, 0, 100)
	for i := 100; i >= 1; i-- {
		in = append(in, time.Duration(i)*time.Millisecond)
	}
	stats := ComputeLatencyStats(in)

	assert.Equal(t, time.Millisecond, stats.Min)
	assert.Equal(t, 100*time.Millisecond, stats.Max)
	assert.Equal(t, 51*time.Millisecond, stats.P50)
	assert.Equal(t, 96*time.Millisecond, stats.P95)
	assert.Equal(t, 100*time.Millisecond, stats.P99)
	assert.Equal(t, 50500*time.Microsecond, stats.Mean)
	assert.Equal(t, 100, stats.TotalQueries)
	// Input order is preserved.
	assert.Equal(t, 100*time.Millisecond, in[0])
}

func TestLatencyStats_Write(t *testing.T) {
	var buf bytes.Buffer
	(&LatencyStats{TotalQueries: 3, P95: 2 * time.Millisecond}).Write(&buf)
	assert.Contains(t, buf.String(), "Total Queries: 3")
	assert.Contains(t, buf.String(), "P95:           2ms")
}
