// Package pipeline runs one ingestion: acquire storage, ensure the schema, fetch
// every configured ticker, then validate, normalize and load each ticker in turn.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rxtech-lab/stockpipe/internal/config"
	"github.com/rxtech-lab/stockpipe/internal/logger"
	"github.com/rxtech-lab/stockpipe/internal/normalize"
	"github.com/rxtech-lab/stockpipe/internal/storage"
	"github.com/rxtech-lab/stockpipe/internal/types"
	"github.com/rxtech-lab/stockpipe/internal/validation"
	pipeerrors "github.com/rxtech-lab/stockpipe/pkg/errors"
	"github.com/rxtech-lab/stockpipe/pkg/marketdata/provider"
)

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithLoadProgress receives chunk progress of every ticker load.
func WithLoadProgress(fn func(ticker string, current, total float64, message string)) Option {
	return func(p *Pipeline) {
		p.onProgress = fn
	}
}

// WithClock replaces the clock used for the default date window and timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithRetryInterval sets the first backoff interval for connection and chunk retries.
func WithRetryInterval(interval time.Duration) Option {
	return func(p *Pipeline) {
		p.retryInterval = interval
	}
}

// Pipeline wires the components of one run. It holds no state between runs.
type Pipeline struct {
	cfg           *config.Config
	provider      provider.Provider
	logger        *logger.Logger
	now           func() time.Time
	retryInterval time.Duration
	onProgress    func(ticker string, current, total float64, message string)
}

type fetchResult struct {
	observations []types.RawObservation
	err          error
}

// New creates a pipeline for cfg that reads market data from p.
func New(cfg *config.Config, p provider.Provider, log *logger.Logger, opts ...Option) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}

	pl := &Pipeline{
		cfg:      cfg,
		provider: p,
		logger:   log,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(pl)
	}

	return pl
}

// Run executes one ingestion. The report is always returned, also alongside a
// fatal error, and describes everything that was committed before the failure.
func (p *Pipeline) Run(ctx context.Context) (*types.RunReport, error) {
	runID := uuid.NewString()
	log := p.logger.With(zap.String("run_id", runID))

	report := &types.RunReport{
		RunID:     runID,
		StartedAt: p.now().UTC(),
		Tickers:   make([]types.TickerReport, len(p.cfg.Tickers)),
	}

	for i, ticker := range p.cfg.Tickers {
		report.Tickers[i].Ticker = ticker
	}

	start, end, err := p.cfg.DateRange(p.now())
	if err != nil {
		return p.finish(log, report, err), err
	}

	report.StartDate = start.Format(types.DateLayout)
	report.EndDate = end.Format(types.DateLayout)

	if p.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, p.cfg.RunTimeout)
		defer cancel()
	}

	log.Info("Starting pipeline run",
		zap.Strings("tickers", p.cfg.Tickers),
		zap.String("start_date", report.StartDate),
		zap.String("end_date", report.EndDate),
		zap.String("provider", p.provider.Name()),
	)

	connections, err := storage.NewConnectionManager(p.cfg.Storage, log, p.connectionOptions()...)
	if err != nil {
		return p.finish(log, report, err), err
	}

	session, err := connections.Acquire(ctx)
	if err != nil {
		return p.finish(log, report, err), err
	}

	defer func() {
		if err := connections.Release(); err != nil {
			log.Error("Failed to release storage session", zap.Error(err))
		}
	}()

	if err := storage.NewSchemaManager(log).Ensure(ctx, session); err != nil {
		return p.finish(log, report, err), err
	}

	fetched := p.fetchAll(ctx, log, start, end)

	if err := cancelled(ctx); err != nil {
		p.recordFetchErrors(report, fetched)

		return p.finish(log, report, err), err
	}

	validator := validation.NewValidator(validation.Options{
		MaxChange: p.cfg.Validation.MaxChange,
		Basis:     validation.Basis(p.cfg.Validation.ChangeBasis),
	}, log)
	normalizer := normalize.NewNormalizer(normalize.Options{PricePrecision: p.cfg.Normalize.PricePrecision}, log)
	baselines := validation.NewBaselines()

	for i, ticker := range p.cfg.Tickers {
		tr := &report.Tickers[i]
		result := fetched[i]
		tickerLog := log.With(zap.String("ticker", ticker))

		if result.err != nil {
			if provider.IsNotFound(result.err) {
				tr.NotFound = true
				tickerLog.Warn("Ticker not found at provider, nothing to load")

				continue
			}

			tr.Error = result.err.Error()
			tickerLog.Error("Failed to fetch data", zap.Error(result.err))

			continue
		}

		tr.Fetched = len(result.observations)
		tickerLog.Info("Fetched data", zap.Int("rows", tr.Fetched))

		accepted := validator.FilterWith(baselines, ticker, result.observations)
		tr.Rejected = accepted.RejectedCount()

		normalized := normalizer.Canonicalize(accepted.Accepted)
		tr.Defects = len(normalized.Defects)

		loader := storage.NewBatchLoader(storage.LoaderOptions{
			BatchSize:     p.cfg.BatchSize,
			Retries:       p.cfg.ChunkRetries,
			RetryInterval: p.retryInterval,
		}, tickerLog, p.progressFor(ticker))

		loaded, err := loader.Load(ctx, session, normalized.Records)
		tr.Loaded = loaded.Loaded
		tr.Chunks = loaded.Chunks
		tr.FailedChunks = loaded.FailedChunks()

		if err != nil {
			tr.Error = err.Error()

			return p.finish(log, report, err), err
		}

		if tr.FailedChunks > 0 {
			tr.Error = loaded.Failures[0].Err.Error()
		}

		tickerLog.Info("Stored rows",
			zap.Int("loaded", tr.Loaded),
			zap.Int("rejected", tr.Rejected),
			zap.Int("defects", tr.Defects),
			zap.Int("failed_chunks", tr.FailedChunks),
		)
	}

	if allFailed(fetched) {
		err := pipeerrors.Newf(pipeerrors.ErrCodeProviderUnreachable,
			"%s: every ticker failed to fetch", p.provider.Name())

		return p.finish(log, report, err), err
	}

	return p.finish(log, report, nil), nil
}

// fetchAll fetches every ticker with bounded concurrency. Results keep the
// configured ticker order; one ticker's failure never cancels another's fetch.
func (p *Pipeline) fetchAll(ctx context.Context, log *logger.Logger, start, end time.Time) []fetchResult {
	results := make([]fetchResult, len(p.cfg.Tickers))

	g := new(errgroup.Group)
	g.SetLimit(max(p.cfg.FetchConcurrency, 1))

	for i, ticker := range p.cfg.Tickers {
		g.Go(func() error {
			log.Info("Starting pipeline for ticker", zap.String("ticker", ticker))

			observations, err := p.provider.Fetch(ctx, ticker, start, end)
			results[i] = fetchResult{observations: observations, err: err}

			return nil
		})
	}

	_ = g.Wait()

	return results
}

func (p *Pipeline) recordFetchErrors(report *types.RunReport, fetched []fetchResult) {
	for i, result := range fetched {
		if result.err != nil {
			report.Tickers[i].Error = result.err.Error()
		}
	}
}

func (p *Pipeline) progressFor(ticker string) storage.OnLoadProgress {
	if p.onProgress == nil {
		return nil
	}

	return func(current, total float64, message string) {
		p.onProgress(ticker, current, total, message)
	}
}

func (p *Pipeline) connectionOptions() []storage.ConnectionOption {
	if p.retryInterval <= 0 {
		return nil
	}

	return []storage.ConnectionOption{storage.WithRetryInterval(p.retryInterval)}
}

func (p *Pipeline) finish(log *logger.Logger, report *types.RunReport, err error) *types.RunReport {
	report.EndedAt = p.now().UTC()

	if err != nil {
		report.Error = err.Error()
	}

	status := report.Resolve(err != nil)
	totals := report.Totals()

	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Int("fetched", totals.Fetched),
		zap.Int("rejected", totals.Rejected),
		zap.Int("defects", totals.Defects),
		zap.Int("loaded", totals.Loaded),
		zap.Int("failed_chunks", totals.FailedChunks),
		zap.Duration("elapsed", report.EndedAt.Sub(report.StartedAt)),
	}

	if err != nil {
		log.Error("Pipeline run aborted", append(fields, zap.Error(err))...)
	} else {
		log.Info("Pipeline run completed", fields...)
	}

	if p.cfg.ReportPath != "" {
		if werr := WriteReport(p.cfg.ReportPath, report); werr != nil {
			log.Error("Failed to write run report", zap.String("path", p.cfg.ReportPath), zap.Error(werr))
		}
	}

	return report
}

func cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return pipeerrors.Wrap(pipeerrors.ErrCodeRunCancelled, "run cancelled", err)
	}

	return nil
}

// allFailed reports whether every fetch failed with something other than an
// unknown ticker.
func allFailed(results []fetchResult) bool {
	if len(results) == 0 {
		return false
	}

	for _, r := range results {
		if r.err == nil || provider.IsNotFound(r.err) {
			return false
		}
	}

	return true
}
