// Package validation filters raw provider rows down to the ones that are
// structurally complete and statistically plausible. Rejection is a filtering
// decision: it is counted and logged, never returned as an error.
package validation

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/rxtech-lab/stockpipe/internal/logger"
	"github.com/rxtech-lab/stockpipe/internal/types"
)

// Reason explains why an observation was filtered.
type Reason string

const (
	ReasonIncomplete    Reason = "incomplete"
	ReasonInvalidShape  Reason = "invalid_shape"
	ReasonExtremeChange Reason = "extreme_change"
)

// Basis selects what the extreme-change rule compares.
type Basis string

const (
	// BasisCloseOverClose compares a close against the last accepted close.
	BasisCloseOverClose Basis = "close_over_close"
	// BasisIntraday compares a close against the same day's open.
	BasisIntraday Basis = "intraday"
)

// DefaultMaxChange is the largest accepted relative price move.
const DefaultMaxChange = 0.5

// Options configures a Validator.
type Options struct {
	MaxChange float64
	Basis     Basis
}

// Rejection records one filtered observation.
type Rejection struct {
	Observation types.RawObservation
	Reason      Reason
	Detail      string
}

// Result is the outcome of filtering one ticker's window.
type Result struct {
	Accepted []types.RawObservation
	Rejected []Rejection
}

// RejectedCount returns the number of filtered observations.
func (r Result) RejectedCount() int {
	return len(r.Rejected)
}

// Baselines tracks the last accepted close per ticker. Only Accept moves a
// baseline; a rejected candidate leaves it untouched so later rows are compared
// against trusted history.
type Baselines map[string]float64

// NewBaselines returns an empty accumulator.
func NewBaselines() Baselines {
	return make(Baselines)
}

// Get returns the last accepted close for ticker.
func (b Baselines) Get(ticker string) (float64, bool) {
	v, ok := b[ticker]

	return v, ok
}

// Accept records closePrice as the new baseline for ticker.
func (b Baselines) Accept(ticker string, closePrice float64) {
	b[ticker] = closePrice
}

// Validator applies the completeness, shape and extreme-change rules.
type Validator struct {
	opts   Options
	logger *logger.Logger
}

// NewValidator creates a Validator. Zero options fall back to a 50% close-over-close rule.
func NewValidator(opts Options, log *logger.Logger) *Validator {
	if opts.MaxChange <= 0 {
		opts.MaxChange = DefaultMaxChange
	}

	if opts.Basis == "" {
		opts.Basis = BasisCloseOverClose
	}

	if log == nil {
		log = logger.Nop()
	}

	return &Validator{opts: opts, logger: log}
}

// Filter validates one ticker's observations with a fresh baseline.
func (v *Validator) Filter(ticker string, observations []types.RawObservation) Result {
	return v.FilterWith(NewBaselines(), ticker, observations)
}

// FilterWith validates observations against and updates the given baselines.
// Observations are processed in ascending date order.
func (v *Validator) FilterWith(baselines Baselines, ticker string, observations []types.RawObservation) Result {
	ordered := make([]types.RawObservation, len(observations))
	copy(ordered, observations)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Date.Before(ordered[j].Date)
	})

	result := Result{
		Accepted: make([]types.RawObservation, 0, len(ordered)),
		Rejected: nil,
	}

	for _, obs := range ordered {
		if rejection, rejected := v.check(baselines, ticker, obs); rejected {
			v.logger.Debug("Rejected observation",
				zap.String("ticker", ticker),
				zap.String("date", obs.DayKey()),
				zap.String("reason", string(rejection.Reason)),
				zap.String("detail", rejection.Detail),
			)
			result.Rejected = append(result.Rejected, rejection)

			continue
		}

		baselines.Accept(ticker, obs.Close.Unwrap())
		result.Accepted = append(result.Accepted, obs)
	}

	if len(result.Rejected) > 0 {
		v.logger.Warn("Observations rejected by validation",
			zap.String("ticker", ticker),
			zap.Int("rejected", len(result.Rejected)),
			zap.Int("accepted", len(result.Accepted)),
		)
	}

	v.logger.Info("Data validation completed",
		zap.String("ticker", ticker),
		zap.Int("accepted", len(result.Accepted)),
	)

	return result
}

func (v *Validator) check(baselines Baselines, ticker string, obs types.RawObservation) (Rejection, bool) {
	if !obs.Complete() {
		return Rejection{Observation: obs, Reason: ReasonIncomplete, Detail: "missing or non-finite OHLCV field"}, true
	}

	open, high, low, closePrice, volume := obs.Open.Unwrap(), obs.High.Unwrap(), obs.Low.Unwrap(), obs.Close.Unwrap(), obs.Volume.Unwrap()

	if detail := shapeViolation(open, high, low, closePrice, volume); detail != "" {
		return Rejection{Observation: obs, Reason: ReasonInvalidShape, Detail: detail}, true
	}

	var reference float64

	switch v.opts.Basis {
	case BasisIntraday:
		reference = open
	default:
		baseline, ok := baselines.Get(ticker)
		if !ok {
			return Rejection{}, false
		}

		reference = baseline
	}

	// a zero reference cannot express a relative move
	if reference == 0 {
		return Rejection{}, false
	}

	change := math.Abs(closePrice-reference) / reference
	if change > v.opts.MaxChange {
		return Rejection{
			Observation: obs,
			Reason:      ReasonExtremeChange,
			Detail:      fmt.Sprintf("close %.4f moved %.2f%% from %.4f", closePrice, change*100, reference),
		}, true
	}

	return Rejection{}, false
}

func shapeViolation(open, high, low, closePrice, volume float64) string {
	switch {
	case open < 0 || high < 0 || low < 0 || closePrice < 0:
		return "negative price"
	case volume < 0:
		return "negative volume"
	case low > high:
		return "low above high"
	case open < low || open > high:
		return "open outside low/high range"
	case closePrice < low || closePrice > high:
		return "close outside low/high range"
	default:
		return ""
	}
}
