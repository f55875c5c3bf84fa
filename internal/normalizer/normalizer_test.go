package normalizer

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/models"
)

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func row(openMs int64, closePrice string) models.RawKline {
	return models.RawKline{
		json.Number(jsonInt(openMs)), "3300.10", "3350.00", "3290.55", closePrice, "1234.5678",
		json.Number(jsonInt(openMs + 3600000 - 1)), "4100000.12", json.Number("4242"), "600.1", "2000000.5", "0",
	}
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestNormalize(t *testing.T) {
	openMs := int64(1735689600000) // 2025-01-01 00:00:00 UTC
	k := Normalize(row(openMs, "3340.01"))

	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), k.OpenTime)
	assert.Equal(t, time.UTC, k.OpenTime.Location())
	assert.Equal(t, "2025-01-01 00:59:59.999 UTC", models.FormatTimestamp(k.CloseTime))
	assert.Equal(t, "3340.01", models.FormatNullDecimal(k.Close))
	require.True(t, k.TradeCount.Valid)
	assert.Equal(t, int64(4242), k.TradeCount.Int64)
	assert.Equal(t, "0", k.Ignore)
	assert.Empty(t, k.MissingFields())
	assert.NoError(t, k.Validate())
}

func TestNormalize_MissingMarkers(t *testing.T) {
	tests := []struct {
		name    string
		raw     models.RawKline
		missing []string
	}{
		{
			name:    "unparseable decimal",
			raw:     row(1735689600000, "n/a"),
			missing: []string{"close"},
		},
		{
			name: "short row",
			raw:  models.RawKline{json.Number("1735689600000"), "1", "2", "0.5", "1.5"},
			missing: []string{"volume", "close_time", "quote_volume", "trade_count",
				"taker_buy_base", "taker_buy_quote"},
		},
		{
			name: "null values and float numbers",
			raw: models.RawKline{float64(1735689600000), nil, "2", "0.5", "1.5", "10",
				"bogus", "1", "x", "1", "1", nil},
			missing: []string{"open", "close_time", "trade_count"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := Normalize(tt.raw)
			assert.False(t, k.OpenTime.IsZero())
			assert.Equal(t, tt.missing, k.MissingFields())
		})
	}
}

func TestNormalizeAll(t *testing.T) {
	n := New(createTestLogger())
	base := int64(1735689600000)
	hour := int64(3600000)

	raw := []models.RawKline{
		row(base+2*hour, "3340.01"),
		row(base, "3340.01"),
		row(base+hour, "3340.01"),
		row(base+hour, "3345.00"), // page edge repeat
		{"garbage"},
		row(base+3*hour, "bad"),
	}

	ds, stats := n.NormalizeAll(raw)
	require.NoError(t, ds.Validate())
	require.Len(t, ds, 4)

	assert.Equal(t, 6, stats.Input)
	assert.Equal(t, 4, stats.Output)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 1, stats.MissingKey)
	assert.Equal(t, 1, stats.MissingFields["close"])

	assert.Equal(t, "3340.01", models.FormatNullDecimal(ds[1].Close), "first occurrence wins")
	for i := 1; i < len(ds); i++ {
		assert.True(t, ds[i-1].OpenTime.Before(ds[i].OpenTime))
	}
}

func TestNormalizeAll_Empty(t *testing.T) {
	ds, stats := New(createTestLogger()).NormalizeAll(nil)
	assert.Empty(t, ds)
	assert.Equal(t, 0, stats.Output)
}

func TestNormalizeAll_KeepsInconsistentRecords(t *testing.T) {
	r := row(1735689600000, "3340.01")
	r[2] = "3000" // high below open and close

	ds, stats := New(createTestLogger()).NormalizeAll([]models.RawKline{r})
	require.Len(t, ds, 1)
	assert.Equal(t, 1, stats.Warnings)
}
