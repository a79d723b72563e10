package types

import (
	"math"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// DateLayout is the canonical textual form of a trading day.
const DateLayout = "2006-01-02"

// Key identifies a stored observation. Storage enforces it as the primary key.
type Key struct {
	Date   string
	Ticker string
}

// Record is one validated and normalized ticker-day observation.
// Records are never mutated after the normalizer builds them; a correction is a
// re-load of the same Key.
type Record struct {
	Date   string          `yaml:"date" csv:"date"`
	Ticker string          `yaml:"ticker" csv:"ticker"`
	Open   decimal.Decimal `yaml:"open" csv:"open"`
	High   decimal.Decimal `yaml:"high" csv:"high"`
	Low    decimal.Decimal `yaml:"low" csv:"low"`
	Close  decimal.Decimal `yaml:"close" csv:"close"`
	Volume int64           `yaml:"volume" csv:"volume"`
}

// Key returns the (date, ticker) identity of the record.
func (r Record) Key() Key {
	return Key{Date: r.Date, Ticker: r.Ticker}
}

// RawObservation is a provider row before validation. Any OHLCV field may be
// absent; nothing about it is trusted yet.
type RawObservation struct {
	Date   time.Time
	Ticker string
	Open   optional.Option[float64]
	High   optional.Option[float64]
	Low    optional.Option[float64]
	Close  optional.Option[float64]
	Volume optional.Option[float64]
}

// NewRawObservation builds an observation with every field present.
func NewRawObservation(ticker string, date time.Time, open, high, low, closePrice, volume float64) RawObservation {
	return RawObservation{
		Date:   date,
		Ticker: ticker,
		Open:   optional.Some(open),
		High:   optional.Some(high),
		Low:    optional.Some(low),
		Close:  optional.Some(closePrice),
		Volume: optional.Some(volume),
	}
}

// Complete reports whether all OHLCV fields are present and finite.
func (o RawObservation) Complete() bool {
	for _, field := range []optional.Option[float64]{o.Open, o.High, o.Low, o.Close, o.Volume} {
		if field.IsNone() {
			return false
		}

		v := field.Unwrap()
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}

	return true
}

// DayKey returns the trading day of the observation in canonical form.
func (o RawObservation) DayKey() string {
	return o.Date.UTC().Format(DateLayout)
}
