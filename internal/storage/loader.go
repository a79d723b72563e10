package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/rxtech-lab/stockpipe/internal/logger"
	"github.com/rxtech-lab/stockpipe/internal/types"
	pipeerrors "github.com/rxtech-lab/stockpipe/pkg/errors"
)

// Loader defaults.
const (
	DefaultBatchSize    = 500
	DefaultChunkRetries = 3
)

// OnLoadProgress reports chunk progress. current and total count records.
type OnLoadProgress func(current, total float64, message string)

// LoaderOptions configures a BatchLoader.
type LoaderOptions struct {
	// BatchSize is the largest number of records written in one transaction.
	BatchSize int
	// Retries is how many times a failed chunk is retried before it is skipped.
	Retries int
	// RetryInterval is the first backoff interval between chunk attempts.
	RetryInterval time.Duration
}

// ChunkFailure describes a chunk that could not be written.
type ChunkFailure struct {
	Index int
	Size  int
	First types.Key
	Err   error
}

// LoadResult summarizes one Load call.
type LoadResult struct {
	// Attempted counts distinct keys after duplicate coalescing.
	Attempted int
	Loaded    int
	Chunks    int
	Failures  []ChunkFailure
}

// FailedChunks returns the number of chunks that were not written.
func (r LoadResult) FailedChunks() int {
	return len(r.Failures)
}

// BatchLoader upserts records in fixed-size chunks. Each chunk is atomic; chunks
// are independent, so a failed chunk never undoes the ones before it.
type BatchLoader struct {
	opts       LoaderOptions
	logger     *logger.Logger
	onProgress OnLoadProgress
}

// NewBatchLoader creates a loader. onProgress may be nil.
func NewBatchLoader(opts LoaderOptions, log *logger.Logger, onProgress OnLoadProgress) *BatchLoader {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	if opts.Retries < 0 {
		opts.Retries = DefaultChunkRetries
	}

	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 200 * time.Millisecond
	}

	if log == nil {
		log = logger.Nop()
	}

	return &BatchLoader{
		opts:       opts,
		logger:     log,
		onProgress: onProgress,
	}
}

// Load upserts records chunk by chunk. Chunk failures are reported in the result;
// the returned error is reserved for conditions that stop the whole load, such as
// a cancelled context or a released session.
func (l *BatchLoader) Load(ctx context.Context, s *Session, records []types.Record) (LoadResult, error) {
	unique := Coalesce(records)
	chunks := Partition(unique, l.batchSize(s.Dialect()))

	result := LoadResult{
		Attempted: len(unique),
		Chunks:    len(chunks),
	}

	if len(unique) == 0 {
		return result, nil
	}

	total := float64(len(unique))
	done := 0

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return result, pipeerrors.Wrap(pipeerrors.ErrCodeTransactionAborted, "load cancelled", err)
		}

		err := l.writeChunkWithRetry(ctx, s, i, chunk)
		done += len(chunk)

		switch {
		case err == nil:
			result.Loaded += len(chunk)
		case pipeerrors.HasCode(err, pipeerrors.ErrCodeSessionReleased):
			return result, err
		case ctx.Err() != nil:
			return result, pipeerrors.Wrap(pipeerrors.ErrCodeTransactionAborted, "load cancelled", ctx.Err())
		default:
			failure := ChunkFailure{
				Index: i,
				Size:  len(chunk),
				First: chunk[0].Key(),
				Err:   pipeerrors.Wrapf(pipeerrors.ErrCodeLoadChunkFailed, err, "chunk %d (%d records)", i, len(chunk)),
			}
			result.Failures = append(result.Failures, failure)

			l.logger.Error("Chunk failed, continuing with next chunk",
				zap.Int("chunk", i),
				zap.Int("size", len(chunk)),
				zap.String("first_date", failure.First.Date),
				zap.String("first_ticker", failure.First.Ticker),
				zap.Error(err),
			)
		}

		if l.onProgress != nil {
			l.onProgress(float64(done), total, fmt.Sprintf("chunk %d/%d", i+1, len(chunks)))
		}
	}

	l.logger.Info("Load completed",
		zap.Int("attempted", result.Attempted),
		zap.Int("loaded", result.Loaded),
		zap.Int("chunks", result.Chunks),
		zap.Int("failed_chunks", result.FailedChunks()),
	)

	return result, nil
}

func (l *BatchLoader) writeChunkWithRetry(ctx context.Context, s *Session, index int, chunk []types.Record) error {
	attempt := 0
	write := func() error {
		attempt++

		err := l.writeChunk(ctx, s, chunk)
		if err == nil {
			return nil
		}

		if pipeerrors.HasCode(err, pipeerrors.ErrCodeSessionReleased) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}

		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = l.opts.RetryInterval
	policy.MaxElapsedTime = 0

	notify := func(err error, next time.Duration) {
		l.logger.Warn("Chunk write failed, retrying",
			zap.Int("chunk", index),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", next),
			zap.Error(err),
		)
	}

	return backoff.RetryNotify(write, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(l.opts.Retries)), ctx), notify)
}

// batchSize clamps the configured size to what one statement of the dialect can bind.
func (l *BatchLoader) batchSize(d Dialect) int {
	limit := d.MaxBatchSize()
	if limit <= 0 || l.opts.BatchSize <= limit {
		return l.opts.BatchSize
	}

	l.logger.Warn("Batch size exceeds the statement limit of the storage engine, clamping",
		zap.String("driver", d.Name),
		zap.Int("batch_size", l.opts.BatchSize),
		zap.Int("max_batch_size", limit),
	)

	return limit
}

func (l *BatchLoader) writeChunk(ctx context.Context, s *Session, chunk []types.Record) error {
	query, args, err := UpsertStatement(s.Dialect(), chunk)
	if err != nil {
		return backoff.Permanent(pipeerrors.Wrap(pipeerrors.ErrCodeQueryFailed, "build upsert", err))
	}

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query, args...)

		return err
	})
}

// UpsertStatement builds the multi-row insert-or-update for one chunk.
func UpsertStatement(d Dialect, chunk []types.Record) (string, []any, error) {
	insert := d.Builder().Insert(TableName).Columns(Columns...)

	for _, r := range chunk {
		insert = insert.Values(
			r.Date,
			r.Ticker,
			d.Numeric(r.Open),
			d.Numeric(r.High),
			d.Numeric(r.Low),
			d.Numeric(r.Close),
			r.Volume,
		)
	}

	return insert.Suffix(d.UpsertSuffix()).ToSql()
}

// Coalesce keeps one record per key. The last occurrence wins and takes the
// position of the first.
func Coalesce(records []types.Record) []types.Record {
	index := make(map[types.Key]int, len(records))
	out := make([]types.Record, 0, len(records))

	for _, r := range records {
		if i, ok := index[r.Key()]; ok {
			out[i] = r

			continue
		}

		index[r.Key()] = len(out)
		out = append(out, r)
	}

	return out
}

// Partition splits records into consecutive chunks of at most size records.
func Partition(records []types.Record, size int) [][]types.Record {
	if size <= 0 {
		size = DefaultBatchSize
	}

	chunks := make([][]types.Record, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		chunks = append(chunks, records[start:end])
	}

	return chunks
}
