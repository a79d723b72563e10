package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/moznion/go-optional"
	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"

	"github.com/rxtech-lab/stockpipe/internal/types"
	pipeerrors "github.com/rxtech-lab/stockpipe/pkg/errors"
)

// PolygonAggsIterator is the subset of the polygon aggregate iterator the client reads.
type PolygonAggsIterator interface {
	Next() bool
	Item() models.Agg
	Err() error
}

// PolygonAPIClient is the subset of the polygon REST client used to list aggregates.
type PolygonAPIClient interface {
	ListAggs(ctx context.Context, params *models.ListAggsParams, options ...models.RequestOption) PolygonAggsIterator
}

type polygonRESTClient struct {
	client *polygon.Client
}

func (c *polygonRESTClient) ListAggs(ctx context.Context, params *models.ListAggsParams, options ...models.RequestOption) PolygonAggsIterator {
	return c.client.ListAggs(ctx, params, options...)
}

// PolygonClient fetches daily aggregates from polygon.io.
type PolygonClient struct {
	apiClient PolygonAPIClient
}

// NewPolygonClient creates a client authenticated with apiKey.
func NewPolygonClient(apiKey string) (*PolygonClient, error) {
	if apiKey == "" {
		return nil, pipeerrors.New(pipeerrors.ErrCodeMissingParameter, "apiKey is required")
	}

	return NewPolygonClientWithAPI(&polygonRESTClient{client: polygon.New(apiKey)}), nil
}

// NewPolygonClientWithAPI creates a client over an existing API implementation.
func NewPolygonClientWithAPI(api PolygonAPIClient) *PolygonClient {
	return &PolygonClient{apiClient: api}
}

// Name implements Provider.
func (c *PolygonClient) Name() string {
	return string(ProviderPolygon)
}

// Fetch implements Provider. Daily bars are stamped at midnight New York time, so the
// query runs to the last millisecond of the end day in UTC.
func (c *PolygonClient) Fetch(ctx context.Context, ticker string, start, end time.Time) ([]types.RawObservation, error) {
	//nolint:exhaustruct // third-party struct with many optional fields
	params := models.ListAggsParams{
		Ticker:     ticker,
		Multiplier: 1,
		Timespan:   models.Day,
		From:       models.Millis(start),
		To:         models.Millis(end.AddDate(0, 0, 1).Add(-time.Millisecond)),
	}.WithLimit(50000)

	iter := c.apiClient.ListAggs(ctx, params)

	var observations []types.RawObservation

	for iter.Next() {
		agg := iter.Item()
		observations = append(observations, types.RawObservation{
			Date:   time.Time(agg.Timestamp).UTC(),
			Ticker: ticker,
			Open:   optional.Some(agg.Open),
			High:   optional.Some(agg.High),
			Low:    optional.Some(agg.Low),
			Close:  optional.Some(agg.Close),
			Volume: optional.Some(agg.Volume),
		})
	}

	if err := iter.Err(); err != nil {
		var apiErr *models.ErrorResponse
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, NotFound(c.Name(), ticker)
		}

		return nil, fetchFailed(c.Name(), ticker, err)
	}

	return observations, nil
}
