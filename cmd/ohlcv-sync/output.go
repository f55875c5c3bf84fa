package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/gaps"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/models"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/pipeline"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/storage"
)

// Output formatting functions

// printReport prints the per timeframe summary of a successful run
func printReport(w io.Writer, report *pipeline.RunReport) {
	fmt.Fprintf(w, "Published %q (run %s, %v)\n\n",
		report.VersionNote, report.RunID, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))

	fmt.Fprintf(w, "%-10s %-40s %10s %10s %10s %10s %6s %10s\n",
		"Timeframe", "File", "Existing", "Fetched", "Added", "Total", "Gaps", "Anomalies")
	fmt.Fprintln(w, strings.Repeat("-", 113))
	for _, tf := range report.Timeframes {
		fetched := fmt.Sprint(tf.Fetched)
		if tf.NoData {
			fetched = "no data"
		}
		fmt.Fprintf(w, "%-10s %-40s %10d %10s %10d %10d %6d %10d\n",
			tf.Timeframe, tf.File, tf.Existing, fetched, tf.Added, tf.Total, tf.Gaps, tf.Anomalies)
	}
}

// printGaps prints a gap report
func printGaps(w io.Writer, file string, report *gaps.Report) {
	if !report.HasGaps() {
		fmt.Fprintf(w, "No gaps found in %s (%d %s klines)\n", file, report.Records, report.Interval)
		return
	}

	fmt.Fprintf(w, "Found %d gaps in %s (%d missing %s klines, largest %v):\n\n",
		len(report.Gaps), file, report.MissingKlines, report.Interval, report.Largest)
	for i, gap := range report.Gaps {
		missing, _ := gap.MissingKlines()
		fmt.Fprintf(w, "%d. Gap from %s to %s (Duration: %v, Missing: %d)\n",
			i+1,
			gap.StartTime.Format("2006-01-02 15:04:05"),
			gap.EndTime.Format("2006-01-02 15:04:05"),
			gap.Duration(),
			missing)
	}
}

// outputJSON formats klines as JSON
func outputJSON(w io.Writer, ds models.Dataset) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(ds)
}

// outputCSV formats klines in the dataset file layout
func outputCSV(w io.Writer, ds models.Dataset) error {
	return storage.CSVCodec{}.Encode(w, ds)
}

// outputTable formats klines as a table
func outputTable(w io.Writer, symbol string, tf models.Interval, ds models.Dataset) error {
	// Table header
	fmt.Fprintf(w, "%-20s %-10s %-6s %-12s %-12s %-12s %-12s %-15s\n",
		"Open Time", "Symbol", "TF", "Open", "High", "Low", "Close", "Volume")
	fmt.Fprintln(w, strings.Repeat("-", 104))

	// Table rows
	for _, k := range ds {
		fmt.Fprintf(w, "%-20s %-10s %-6s %-12s %-12s %-12s %-12s %-15s\n",
			k.OpenTime.UTC().Format("2006-01-02 15:04"),
			symbol,
			tf,
			truncateDecimal(models.FormatNullDecimal(k.Open), 12),
			truncateDecimal(models.FormatNullDecimal(k.High), 12),
			truncateDecimal(models.FormatNullDecimal(k.Low), 12),
			truncateDecimal(models.FormatNullDecimal(k.Close), 12),
			truncateDecimal(models.FormatNullDecimal(k.Volume), 15))
	}
	return nil
}

// truncateDecimal truncates decimal string to specified length
func truncateDecimal(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
