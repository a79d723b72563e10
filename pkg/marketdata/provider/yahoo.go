package provider

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/rxtech-lab/stockpipe/internal/logger"
	"github.com/rxtech-lab/stockpipe/internal/types"
	pipeerrors "github.com/rxtech-lab/stockpipe/pkg/errors"
)

// DefaultYahooBaseURL is the public Yahoo Finance chart API host.
const DefaultYahooBaseURL = "https://query1.finance.yahoo.com"

const yahooUserAgent = "Mozilla/5.0 (compatible; stockpipe)"

// YahooOptions configures a YahooClient.
type YahooOptions struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	RetryWait  time.Duration
}

// YahooClient fetches daily bars from the Yahoo Finance chart endpoint.
type YahooClient struct {
	client *resty.Client
	logger *logger.Logger
}

type yahooChartResponse struct {
	Chart struct {
		Result []yahooChartResult `json:"result"`
		Error  *yahooChartError   `json:"error"`
	} `json:"chart"`
}

type yahooChartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type yahooChartResult struct {
	Meta struct {
		Symbol string `json:"symbol"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []yahooQuote `json:"quote"`
	} `json:"indicators"`
}

// yahooQuote holds parallel columns. Yahoo sends null for missing values.
type yahooQuote struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*float64 `json:"volume"`
}

// NewYahooClient creates a Yahoo Finance client.
func NewYahooClient(opts YahooOptions, log *logger.Logger) *YahooClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultYahooBaseURL
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	if opts.RetryCount == 0 {
		opts.RetryCount = 2
	}

	if opts.RetryWait <= 0 {
		opts.RetryWait = 500 * time.Millisecond
	}

	if log == nil {
		log = logger.Nop()
	}

	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", yahooUserAgent).
		SetRetryCount(max(opts.RetryCount, 0)).
		SetRetryWaitTime(opts.RetryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}

			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		})

	return &YahooClient{client: client, logger: log}
}

// Name implements Provider.
func (c *YahooClient) Name() string {
	return string(ProviderYahoo)
}

// Fetch implements Provider.
func (c *YahooClient) Fetch(ctx context.Context, ticker string, start, end time.Time) ([]types.RawObservation, error) {
	var body yahooChartResponse

	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("ticker", ticker).
		SetQueryParams(map[string]string{
			"period1":  strconv.FormatInt(start.Unix(), 10),
			"period2":  strconv.FormatInt(end.Add(24*time.Hour).Unix(), 10),
			"interval": "1d",
			"events":   "history",
		}).
		SetResult(&body).
		SetError(&body).
		Get("/v8/finance/chart/{ticker}")
	if err != nil {
		return nil, pipeerrors.Wrapf(pipeerrors.ErrCodeProviderUnreachable, err, "%s: fetch %s", c.Name(), ticker)
	}

	if resp.StatusCode() == http.StatusNotFound {
		return nil, NotFound(c.Name(), ticker)
	}

	if resp.IsError() {
		return nil, fetchFailed(c.Name(), ticker, pipeerrors.Newf(pipeerrors.ErrCodeMarketDataFetchFailed, "status %d: %s", resp.StatusCode(), chartErrorText(body)))
	}

	if body.Chart.Error != nil {
		return nil, fetchFailed(c.Name(), ticker, pipeerrors.New(pipeerrors.ErrCodeMarketDataFetchFailed, chartErrorText(body)))
	}

	if len(body.Chart.Result) == 0 {
		return nil, NotFound(c.Name(), ticker)
	}

	observations, err := c.parse(ticker, body.Chart.Result[0])
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Fetched chart",
		zap.String("provider", c.Name()),
		zap.String("ticker", ticker),
		zap.Int("rows", len(observations)),
	)

	return observations, nil
}

func (c *YahooClient) parse(ticker string, result yahooChartResult) ([]types.RawObservation, error) {
	if len(result.Timestamp) == 0 {
		return nil, nil
	}

	if len(result.Indicators.Quote) == 0 {
		return nil, pipeerrors.Newf(pipeerrors.ErrCodeMarketDataParseFailed, "%s: %s chart has timestamps but no quotes", c.Name(), ticker)
	}

	quote := result.Indicators.Quote[0]
	observations := make([]types.RawObservation, 0, len(result.Timestamp))

	for i, ts := range result.Timestamp {
		observations = append(observations, types.RawObservation{
			Date:   time.Unix(ts, 0).UTC(),
			Ticker: ticker,
			Open:   column(quote.Open, i),
			High:   column(quote.High, i),
			Low:    column(quote.Low, i),
			Close:  column(quote.Close, i),
			Volume: column(quote.Volume, i),
		})
	}

	return observations, nil
}

// column reads one cell of a quote column. Short columns and nulls are absent values.
func column(values []*float64, i int) optional.Option[float64] {
	if i >= len(values) || values[i] == nil {
		return optional.None[float64]()
	}

	return optional.Some(*values[i])
}

func chartErrorText(body yahooChartResponse) string {
	if body.Chart.Error == nil {
		return "unknown error"
	}

	return body.Chart.Error.Code + ": " + body.Chart.Error.Description
}
