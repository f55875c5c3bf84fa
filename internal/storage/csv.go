package storage

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/models"
)

type column int

const (
	colOpenTime column = iota
	colOpen
	colHigh
	colLow
	colClose
	colVolume
	colCloseTime
	colQuoteVolume
	colTradeCount
	colTakerBuyBase
	colTakerBuyQuote
	colIgnore
	numColumns
)

// Header is the canonical column order written by CSVCodec.
var Header = []string{
	"Open time",
	"Open",
	"High",
	"Low",
	"Close",
	"Volume",
	"Close time",
	"Quote asset volume",
	"Number of trades",
	"Taker buy base asset volume",
	"Taker buy quote asset volume",
	"Ignore",
}

// headerAliases maps normalized header names to columns. Canonical names are
// added in init.
var headerAliases = map[string]column{
	"open_time":       colOpenTime,
	"timestamp":       colOpenTime,
	"close_time":      colCloseTime,
	"quote_volume":    colQuoteVolume,
	"trade_count":     colTradeCount,
	"trades":          colTradeCount,
	"taker_buy_base":  colTakerBuyBase,
	"taker_buy_quote": colTakerBuyQuote,
}

func init() {
	for i, name := range Header {
		headerAliases[normalizeHeader(name)] = column(i)
	}
}

// normalizeHeader lower-cases name and joins its words with underscores, so
// "Open time", "open_time" and "OPEN TIME" compare equal.
func normalizeHeader(name string) string {
	name = strings.TrimPrefix(name, "\ufeff")
	return strings.Join(strings.Fields(strings.ToLower(strings.ReplaceAll(name, "_", " "))), "_")
}

// CSVCodec reads and writes datasets as comma separated text with a header
// row. Columns are located by header name, so files with reordered or extra
// columns load. Timestamps are read in either the bare or the zone-marked
// encoding and always written zone-marked. Missing values are empty cells.
type CSVCodec struct{}

// Extension implements Codec.
func (CSVCodec) Extension() string { return ".csv" }

// Decode implements Codec.
func (CSVCodec) Decode(r io.Reader) (models.Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("csv: missing header row")
	}
	if err != nil {
		return nil, fmt.Errorf("csv: failed to read header: %w", err)
	}

	index, err := mapHeader(header)
	if err != nil {
		return nil, err
	}

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv: failed to read records: %w", err)
	}

	openFormat, err := models.DetectTimestampFormat(Header[colOpenTime], columnValues(rows, index[colOpenTime]))
	if err != nil {
		return nil, err
	}
	closeFormat, err := models.DetectTimestampFormat(Header[colCloseTime], columnValues(rows, index[colCloseTime]))
	if err != nil {
		return nil, err
	}

	ds := make(models.Dataset, 0, len(rows))
	for i, row := range rows {
		line := i + 2
		cell := func(c column) string {
			pos := index[c]
			if pos < 0 || pos >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[pos])
		}

		var k models.Kline
		raw := cell(colOpenTime)
		if raw == "" {
			return nil, fmt.Errorf("csv: line %d: missing %s", line, Header[colOpenTime])
		}
		if k.OpenTime, err = models.ParseTimestamp(raw, openFormat); err != nil {
			return nil, fmt.Errorf("csv: line %d: %w", line, err)
		}
		if raw := cell(colCloseTime); raw != "" {
			if k.CloseTime, err = models.ParseTimestamp(raw, closeFormat); err != nil {
				return nil, fmt.Errorf("csv: line %d: %w", line, err)
			}
		}

		k.Open = models.ParseNullDecimal(cell(colOpen))
		k.High = models.ParseNullDecimal(cell(colHigh))
		k.Low = models.ParseNullDecimal(cell(colLow))
		k.Close = models.ParseNullDecimal(cell(colClose))
		k.Volume = models.ParseNullDecimal(cell(colVolume))
		k.QuoteVolume = models.ParseNullDecimal(cell(colQuoteVolume))
		k.TradeCount = parseCount(cell(colTradeCount))
		k.TakerBuyBase = models.ParseNullDecimal(cell(colTakerBuyBase))
		k.TakerBuyQuote = models.ParseNullDecimal(cell(colTakerBuyQuote))
		k.Ignore = cell(colIgnore)

		ds = append(ds, k)
	}

	return ds, nil
}

// Encode implements Codec.
func (CSVCodec) Encode(w io.Writer, ds models.Dataset) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Header); err != nil {
		return fmt.Errorf("csv: failed to write header: %w", err)
	}

	record := make([]string, numColumns)
	for i := range ds {
		k := &ds[i]
		record[colOpenTime] = models.FormatTimestamp(k.OpenTime)
		record[colOpen] = models.FormatNullDecimal(k.Open)
		record[colHigh] = models.FormatNullDecimal(k.High)
		record[colLow] = models.FormatNullDecimal(k.Low)
		record[colClose] = models.FormatNullDecimal(k.Close)
		record[colVolume] = models.FormatNullDecimal(k.Volume)
		record[colCloseTime] = models.FormatTimestamp(k.CloseTime)
		record[colQuoteVolume] = models.FormatNullDecimal(k.QuoteVolume)
		record[colTradeCount] = formatCount(k.TradeCount)
		record[colTakerBuyBase] = models.FormatNullDecimal(k.TakerBuyBase)
		record[colTakerBuyQuote] = models.FormatNullDecimal(k.TakerBuyQuote)
		record[colIgnore] = k.Ignore

		if err := writer.Write(record); err != nil {
			return fmt.Errorf("csv: failed to write record %d: %w", i, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("csv: failed to flush: %w", err)
	}
	return nil
}

// mapHeader returns, per column, the position of its cell in a row or -1.
func mapHeader(header []string) ([numColumns]int, error) {
	var index [numColumns]int
	for i := range index {
		index[i] = -1
	}
	for pos, name := range header {
		c, ok := headerAliases[normalizeHeader(name)]
		if !ok {
			continue
		}
		if index[c] >= 0 {
			return index, fmt.Errorf("csv: duplicate column %q", Header[c])
		}
		index[c] = pos
	}
	if index[colOpenTime] < 0 {
		return index, fmt.Errorf("csv: header lacks %q column", Header[colOpenTime])
	}
	return index, nil
}

func columnValues(rows [][]string, pos int) []string {
	if pos < 0 {
		return nil
	}
	values := make([]string, 0, len(rows))
	for _, row := range rows {
		if pos < len(row) {
			values = append(values, row[pos])
		}
	}
	return values
}

// parseCount accepts integers and integral decimals such as "42.0", which
// appear when a count column was once written by a float-typed writer.
func parseCount(s string) sql.NullInt64 {
	if s == "" {
		return sql.NullInt64{}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return sql.NullInt64{Int64: n, Valid: true}
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsInteger() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: d.IntPart(), Valid: true}
}

func formatCount(n sql.NullInt64) string {
	if !n.Valid {
		return ""
	}
	return strconv.FormatInt(n.Int64, 10)
}
