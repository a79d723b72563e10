package provider

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/rxtech-lab/stockpipe/internal/types"
	pipeerrors "github.com/rxtech-lab/stockpipe/pkg/errors"
)

// RateLimited spaces out Fetch calls of the wrapped provider.
type RateLimited struct {
	provider Provider
	limiter  *rate.Limiter
}

// NewRateLimited allows at most requestsPerMinute fetches per minute, with a burst of one.
func NewRateLimited(p Provider, requestsPerMinute int) *RateLimited {
	return &RateLimited{
		provider: p,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
	}
}

// Name implements Provider.
func (r *RateLimited) Name() string {
	return r.provider.Name()
}

// Fetch waits for a token and then delegates to the wrapped provider.
func (r *RateLimited) Fetch(ctx context.Context, ticker string, start, end time.Time) ([]types.RawObservation, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, pipeerrors.Wrapf(pipeerrors.ErrCodeMarketDataFetchFailed, err, "%s: rate limit wait for %s", r.Name(), ticker)
	}

	return r.provider.Fetch(ctx, ticker, start, end)
}
