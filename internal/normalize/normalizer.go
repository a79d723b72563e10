package normalize

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rxtech-lab/stockpipe/internal/logger"
	"github.com/rxtech-lab/stockpipe/internal/types"
	pipeerrors "github.com/rxtech-lab/stockpipe/pkg/errors"
)

// DefaultPricePrecision is the number of decimal places kept on prices.
const DefaultPricePrecision int32 = 6

// MaxTickerLength matches the width of the ticker column.
const MaxTickerLength = 10

// Options configures a Normalizer.
type Options struct {
	PricePrecision int32
}

// DefaultOptions returns the options used by a default run.
func DefaultOptions() Options {
	return Options{PricePrecision: DefaultPricePrecision}
}

// Result holds the records built from one window and the defects found on the way.
type Result struct {
	Records []types.Record
	Defects []*pipeerrors.NormalizationDefectError
}

// Normalizer turns validated observations into storage records.
type Normalizer struct {
	opts   Options
	logger *logger.Logger
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(opts Options, log *logger.Logger) *Normalizer {
	if log == nil {
		log = logger.Nop()
	}

	return &Normalizer{opts: opts, logger: log}
}

// Canonicalize converts every observation it can. Observations that break the data
// contract are dropped and reported as defects, logged at error level so an
// operator notices them.
func (n *Normalizer) Canonicalize(observations []types.RawObservation) Result {
	result := Result{
		Records: make([]types.Record, 0, len(observations)),
		Defects: nil,
	}

	for _, obs := range observations {
		record, err := n.Record(obs)
		if err != nil {
			n.logger.Error("Normalization defect, record dropped",
				zap.String("ticker", err.Ticker),
				zap.String("date", err.Date),
				zap.String("field", err.Field),
				zap.Float64("value", err.Value),
				zap.Error(err),
			)
			result.Defects = append(result.Defects, err)

			continue
		}

		result.Records = append(result.Records, record)
	}

	return result
}

// Record converts a single observation.
func (n *Normalizer) Record(obs types.RawObservation) (types.Record, *pipeerrors.NormalizationDefectError) {
	ticker := strings.ToUpper(strings.TrimSpace(obs.Ticker))
	date := obs.DayKey()

	if ticker == "" || len(ticker) > MaxTickerLength {
		return types.Record{}, pipeerrors.NewNormalizationDefect(obs.Ticker, date, "ticker", 0, "ticker must be 1-10 characters")
	}

	if obs.Date.IsZero() {
		return types.Record{}, pipeerrors.NewNormalizationDefect(ticker, date, "date", 0, "missing date")
	}

	if !obs.Complete() {
		return types.Record{}, pipeerrors.NewNormalizationDefect(ticker, date, "ohlcv", math.NaN(), "incomplete observation reached the normalizer")
	}

	volume := obs.Volume.Unwrap()
	if volume != math.Trunc(volume) {
		return types.Record{}, pipeerrors.NewNormalizationDefect(ticker, date, "volume", volume, "volume is not an integer")
	}

	if volume < 0 || volume >= math.MaxInt64 {
		return types.Record{}, pipeerrors.NewNormalizationDefect(ticker, date, "volume", volume, "volume out of range")
	}

	return types.Record{
		Date:   date,
		Ticker: ticker,
		Open:   n.price(obs.Open.Unwrap()),
		High:   n.price(obs.High.Unwrap()),
		Low:    n.price(obs.Low.Unwrap()),
		Close:  n.price(obs.Close.Unwrap()),
		Volume: int64(volume),
	}, nil
}

func (n *Normalizer) price(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(n.opts.PricePrecision)
}
