package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/rxtech-lab/stockpipe/internal/config"
	"github.com/rxtech-lab/stockpipe/internal/logger"
	"github.com/rxtech-lab/stockpipe/internal/types"
	pipeerrors "github.com/rxtech-lab/stockpipe/pkg/errors"
)

// ProviderType defines the type of market data provider.
type ProviderType string

const (
	ProviderPolygon ProviderType = config.ProviderPolygon
	ProviderYahoo   ProviderType = config.ProviderYahoo
)

// Provider returns daily OHLCV observations for one ticker.
type Provider interface {
	// Name identifies the provider in logs and reports.
	Name() string
	// Fetch returns the daily bars of ticker between start and end, both inclusive.
	// The returned observations are untrusted: fields may be missing and order is
	// not guaranteed. An unknown ticker yields an ErrCodeTickerNotFound error.
	// example:
	// Fetch(ctx, "AAPL", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
	Fetch(ctx context.Context, ticker string, start, end time.Time) ([]types.RawObservation, error)
}

// NewMarketDataProvider creates the provider selected in cfg.
func NewMarketDataProvider(cfg config.ProviderConfig, log *logger.Logger) (Provider, error) {
	var (
		p   Provider
		err error
	)

	switch ProviderType(cfg.Name) {
	case ProviderPolygon:
		p, err = NewPolygonClient(cfg.APIKey)
	case ProviderYahoo:
		p = NewYahooClient(YahooOptions{BaseURL: cfg.BaseURL, Timeout: cfg.Timeout}, log)
	default:
		return nil, pipeerrors.Newf(pipeerrors.ErrCodeInvalidProvider, "unsupported market data provider: %s", cfg.Name)
	}

	if err != nil {
		return nil, err
	}

	if cfg.RequestsPerMinute > 0 {
		p = NewRateLimited(p, cfg.RequestsPerMinute)
	}

	return p, nil
}

// NotFound builds the error a provider returns for an unknown ticker.
func NotFound(provider, ticker string) error {
	return pipeerrors.Newf(pipeerrors.ErrCodeTickerNotFound, "%s: ticker %s not found", provider, ticker)
}

// IsNotFound reports whether err means the provider does not know the ticker.
func IsNotFound(err error) bool {
	return pipeerrors.HasCode(err, pipeerrors.ErrCodeTickerNotFound)
}

func fetchFailed(provider, ticker string, err error) error {
	return pipeerrors.Wrap(pipeerrors.ErrCodeMarketDataFetchFailed, fmt.Sprintf("%s: fetch %s", provider, ticker), err)
}
