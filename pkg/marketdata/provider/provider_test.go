package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rxtech-lab/stockpipe/internal/config"
	"github.com/rxtech-lab/stockpipe/internal/logger"
	"github.com/rxtech-lab/stockpipe/internal/types"
	pipeerrors "github.com/rxtech-lab/stockpipe/pkg/errors"
)

type countingProvider struct {
	calls int
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) Fetch(_ context.Context, ticker string, start, _ time.Time) ([]types.RawObservation, error) {
	p.calls++

	return []types.RawObservation{types.NewRawObservation(ticker, start, 1, 1, 1, 1, 1)}, nil
}

func TestNewMarketDataProvider(t *testing.T) {
	p, err := NewMarketDataProvider(config.ProviderConfig{Name: config.ProviderYahoo}, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &YahooClient{}, p)

	p, err = NewMarketDataProvider(config.ProviderConfig{Name: config.ProviderPolygon, APIKey: "key"}, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &PolygonClient{}, p)

	p, err = NewMarketDataProvider(config.ProviderConfig{Name: config.ProviderYahoo, RequestsPerMinute: 60}, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &RateLimited{}, p)
	assert.Equal(t, "yahoo", p.Name())

	_, err = NewMarketDataProvider(config.ProviderConfig{Name: config.ProviderPolygon}, logger.Nop())
	assert.Equal(t, pipeerrors.ErrCodeMissingParameter, pipeerrors.GetCode(err))

	_, err = NewMarketDataProvider(config.ProviderConfig{Name: "bloomberg"}, logger.Nop())
	assert.Equal(t, pipeerrors.ErrCodeInvalidProvider, pipeerrors.GetCode(err))
}

func TestRateLimitedDelegates(t *testing.T) {
	inner := &countingProvider{}
	limited := NewRateLimited(inner, 6000)

	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		observations, err := limited.Fetch(context.Background(), "AAPL", start, start)
		require.NoError(t, err)
		require.Len(t, observations, 1)
	}

	assert.Equal(t, 3, inner.calls)
}

func TestRateLimitedHonoursContext(t *testing.T) {
	inner := &countingProvider{}
	limited := NewRateLimited(inner, 1)

	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	_, err := limited.Fetch(context.Background(), "AAPL", start, start)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = limited.Fetch(ctx, "MSFT", start, start)
	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrCodeMarketDataFetchFailed, pipeerrors.GetCode(err))
	assert.Equal(t, 1, inner.calls)
}

func TestNotFound(t *testing.T) {
	err := NotFound("yahoo", "ZZZZ")
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "ZZZZ")
	assert.False(t, IsNotFound(fetchFailed("yahoo", "AAPL", err)))
}
