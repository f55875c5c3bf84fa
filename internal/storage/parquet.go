package storage

import (
	"bytes"
	"database/sql"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/models"
)

// parquetKline is the Parquet row layout. Times are epoch milliseconds and
// decimals keep their exact text; nil marks a missing value.
type parquetKline struct {
	OpenTime      int64   `parquet:"open_time"`
	Open          *string `parquet:"open,optional"`
	High          *string `parquet:"high,optional"`
	Low           *string `parquet:"low,optional"`
	Close         *string `parquet:"close,optional"`
	Volume        *string `parquet:"volume,optional"`
	CloseTime     *int64  `parquet:"close_time,optional"`
	QuoteVolume   *string `parquet:"quote_volume,optional"`
	TradeCount    *int64  `parquet:"trade_count,optional"`
	TakerBuyBase  *string `parquet:"taker_buy_base,optional"`
	TakerBuyQuote *string `parquet:"taker_buy_quote,optional"`
	Ignore        string  `parquet:"ignore"`
}

// ParquetCodec stores datasets as Parquet files.
type ParquetCodec struct{}

// Extension implements Codec.
func (ParquetCodec) Extension() string { return ".parquet" }

// Decode implements Codec. Parquet needs random access, so r is buffered in
// memory first.
func (ParquetCodec) Decode(r io.Reader) (models.Dataset, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("parquet: failed to read input: %w", err)
	}

	rows, err := parquet.Read[parquetKline](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parquet: failed to decode rows: %w", err)
	}

	ds := make(models.Dataset, len(rows))
	for i, row := range rows {
		ds[i] = models.Kline{
			OpenTime:      models.FromMillis(row.OpenTime),
			Open:          decimalFromPtr(row.Open),
			High:          decimalFromPtr(row.High),
			Low:           decimalFromPtr(row.Low),
			Close:         decimalFromPtr(row.Close),
			Volume:        decimalFromPtr(row.Volume),
			QuoteVolume:   decimalFromPtr(row.QuoteVolume),
			TakerBuyBase:  decimalFromPtr(row.TakerBuyBase),
			TakerBuyQuote: decimalFromPtr(row.TakerBuyQuote),
			Ignore:        row.Ignore,
		}
		if row.CloseTime != nil {
			ds[i].CloseTime = models.FromMillis(*row.CloseTime)
		}
		if row.TradeCount != nil {
			ds[i].TradeCount = sql.NullInt64{Int64: *row.TradeCount, Valid: true}
		}
	}
	return ds, nil
}

// Encode implements Codec.
func (ParquetCodec) Encode(w io.Writer, ds models.Dataset) error {
	rows := make([]parquetKline, len(ds))
	for i := range ds {
		k := &ds[i]
		rows[i] = parquetKline{
			OpenTime:      models.ToMillis(k.OpenTime),
			Open:          decimalToPtr(k.Open),
			High:          decimalToPtr(k.High),
			Low:           decimalToPtr(k.Low),
			Close:         decimalToPtr(k.Close),
			Volume:        decimalToPtr(k.Volume),
			QuoteVolume:   decimalToPtr(k.QuoteVolume),
			TakerBuyBase:  decimalToPtr(k.TakerBuyBase),
			TakerBuyQuote: decimalToPtr(k.TakerBuyQuote),
			Ignore:        k.Ignore,
		}
		if !k.CloseTime.IsZero() {
			ms := models.ToMillis(k.CloseTime)
			rows[i].CloseTime = &ms
		}
		if k.TradeCount.Valid {
			n := k.TradeCount.Int64
			rows[i].TradeCount = &n
		}
	}

	if err := parquet.Write(w, rows); err != nil {
		return fmt.Errorf("parquet: failed to write rows: %w", err)
	}
	return nil
}

func decimalToPtr(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func decimalFromPtr(s *string) decimal.NullDecimal {
	if s == nil {
		return decimal.NullDecimal{}
	}
	return models.ParseNullDecimal(*s)
}
