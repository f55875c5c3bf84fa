package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/models"
)

// createTestDuckDBMirror creates an initialized in-memory DuckDB mirror.
func createTestDuckDBMirror(t *testing.T) *DuckDBMirror {
	t.Helper()

	mirror, err := NewDuckDBMirror(":memory:", createTestLogger())
	require.NoError(t, err, "failed to create test DuckDB mirror")
	require.NoError(t, mirror.Initialize(context.Background()))
	t.Cleanup(func() { mirror.Close() })

	return mirror
}

func TestDuckDBMirror_Migrations(t *testing.T) {
	ctx := context.Background()
	mirror := createTestDuckDBMirror(t)

	status, err := mirror.Migrations().Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, status.CurrentVersion)
	assert.Equal(t, 3, status.LatestVersion)
	assert.Zero(t, status.PendingMigrations)
	assert.Len(t, status.AppliedMigrations, 3)

	// Re-running is a no-op.
	require.NoError(t, mirror.Initialize(ctx))

	require.NoError(t, mirror.Migrations().Rollback(ctx, 1))
	status, err = mirror.Migrations().Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.CurrentVersion)
	assert.Equal(t, 2, status.PendingMigrations)

	require.NoError(t, mirror.Migrations().MigrateToLatest(ctx))
	status, err = mirror.Migrations().Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, status.CurrentVersion)
}

func TestDuckDBMirror_Replace(t *testing.T) {
	ctx := context.Background()
	mirror := createTestDuckDBMirror(t)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	ds := createTestDataset(start, 50)
	ds[10].Close = decimal.NullDecimal{}
	ds[11].TradeCount = sql.NullInt64{}
	ds[12].CloseTime = time.Time{}

	require.NoError(t, mirror.Replace(ctx, "ETHUSDT", models.Interval1h, ds))

	count, err := mirror.Count(ctx, "ETHUSDT", models.Interval1h)
	require.NoError(t, err)
	assert.Equal(t, int64(50), count)

	loaded, err := mirror.Load(ctx, "ETHUSDT", models.Interval1h)
	require.NoError(t, err)
	require.Len(t, loaded, 50)
	assert.Equal(t, start, loaded[0].OpenTime)
	assert.Equal(t, "3300", models.FormatNullDecimal(loaded[0].Open))
	assert.Equal(t, "3312.5", models.FormatNullDecimal(loaded[0].High))
	assert.False(t, loaded[10].Close.Valid)
	assert.False(t, loaded[11].TradeCount.Valid)
	assert.True(t, loaded[12].CloseTime.IsZero())
	assert.Equal(t, int64(4000), loaded[0].TradeCount.Int64)

	// A second replace swaps the rows instead of appending to them.
	require.NoError(t, mirror.Replace(ctx, "ETHUSDT", models.Interval1h, ds[:20]))
	count, err = mirror.Count(ctx, "ETHUSDT", models.Interval1h)
	require.NoError(t, err)
	assert.Equal(t, int64(20), count)

	// Other timeframes are untouched.
	require.NoError(t, mirror.Replace(ctx, "ETHUSDT", models.Interval4h, ds[:5]))
	count, err = mirror.Count(ctx, "ETHUSDT", models.Interval1h)
	require.NoError(t, err)
	assert.Equal(t, int64(20), count)

	require.NoError(t, mirror.Replace(ctx, "ETHUSDT", models.Interval4h, nil))
	count, err = mirror.Count(ctx, "ETHUSDT", models.Interval4h)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDuckDBMirror_RecordRun(t *testing.T) {
	ctx := context.Background()
	mirror := createTestDuckDBMirror(t)
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	runs := []RunRecord{
		{RunID: "run-1", Symbol: "ETHUSDT", Timeframe: models.Interval1h, Existing: 100, Fetched: 6, Added: 3, Total: 103,
			StartedAt: started, FinishedAt: started.Add(time.Second)},
		{RunID: "run-1", Symbol: "ETHUSDT", Timeframe: models.Interval15m, Existing: 400, Fetched: 0, Added: 0, Total: 400,
			StartedAt: started, FinishedAt: started.Add(2 * time.Second), Error: "no data"},
	}
	for _, r := range runs {
		require.NoError(t, mirror.RecordRun(ctx, r))
	}

	stored, err := mirror.Runs(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, models.Interval15m, stored[0].Timeframe)
	assert.Equal(t, "no data", stored[0].Error)
	assert.Equal(t, 103, stored[1].Total)
	assert.Empty(t, stored[1].Error)
	assert.True(t, started.Equal(stored[1].StartedAt))

	assert.Error(t, mirror.RecordRun(ctx, runs[0]), "run and timeframe are unique")
}

func TestDuckDBMirror_HealthCheckAndClose(t *testing.T) {
	ctx := context.Background()
	mirror := createTestDuckDBMirror(t)

	require.NoError(t, mirror.HealthCheck(ctx))
	require.NoError(t, mirror.Close())
	require.NoError(t, mirror.Close(), "closing twice is harmless")

	assert.Error(t, mirror.HealthCheck(ctx))
	assert.Error(t, mirror.Replace(ctx, "ETHUSDT", models.Interval1h, nil))
}
