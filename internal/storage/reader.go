package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"

	"github.com/rxtech-lab/stockpipe/internal/types"
	pipeerrors "github.com/rxtech-lab/stockpipe/pkg/errors"
)

// TickerStats summarizes the stored rows of one ticker.
type TickerStats struct {
	Ticker    string `yaml:"ticker"`
	Rows      int    `yaml:"rows"`
	FirstDate string `yaml:"first_date"`
	LastDate  string `yaml:"last_date"`
}

// Reader queries stored records.
type Reader struct {
	session *Session
}

// NewReader creates a reader over an acquired session.
func NewReader(s *Session) *Reader {
	return &Reader{session: s}
}

// Count returns the number of stored records.
func (r *Reader) Count(ctx context.Context) (int, error) {
	query, args, err := r.session.Dialect().Builder().
		Select("COUNT(*)").
		From(TableName).
		ToSql()
	if err != nil {
		return 0, pipeerrors.Wrap(pipeerrors.ErrCodeQueryFailed, "build count query", err)
	}

	rows, err := r.session.Query(ctx, query, args...)
	if err != nil {
		return 0, wrapQueryErr(err, "count records")
	}
	defer rows.Close()

	var count int
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, pipeerrors.Wrap(pipeerrors.ErrCodeQueryFailed, "scan count", err)
		}
	}

	if err := rows.Err(); err != nil {
		return 0, pipeerrors.Wrap(pipeerrors.ErrCodeQueryFailed, "iterate count", err)
	}

	return count, nil
}

// Get returns the record stored under key. The boolean is false when no row exists.
func (r *Reader) Get(ctx context.Context, key types.Key) (types.Record, bool, error) {
	records, err := r.list(ctx, squirrel.Eq{"date": key.Date, "ticker": key.Ticker})
	if err != nil {
		return types.Record{}, false, err
	}

	if len(records) == 0 {
		return types.Record{}, false, nil
	}

	return records[0], true, nil
}

// List returns every stored record of ticker ordered by date.
func (r *Reader) List(ctx context.Context, ticker string) ([]types.Record, error) {
	return r.list(ctx, squirrel.Eq{"ticker": ticker})
}

// Stats returns row count and date range per ticker, ordered by ticker.
func (r *Reader) Stats(ctx context.Context) ([]TickerStats, error) {
	query, args, err := r.session.Dialect().Builder().
		Select("ticker", "COUNT(*)", "MIN(date)", "MAX(date)").
		From(TableName).
		GroupBy("ticker").
		OrderBy("ticker").
		ToSql()
	if err != nil {
		return nil, pipeerrors.Wrap(pipeerrors.ErrCodeQueryFailed, "build stats query", err)
	}

	rows, err := r.session.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapQueryErr(err, "query stats")
	}
	defer rows.Close()

	var stats []TickerStats

	for rows.Next() {
		var s TickerStats
		if err := rows.Scan(&s.Ticker, &s.Rows, &s.FirstDate, &s.LastDate); err != nil {
			return nil, pipeerrors.Wrap(pipeerrors.ErrCodeQueryFailed, "scan stats", err)
		}

		stats = append(stats, s)
	}

	if err := rows.Err(); err != nil {
		return nil, pipeerrors.Wrap(pipeerrors.ErrCodeQueryFailed, "iterate stats", err)
	}

	return stats, nil
}

func (r *Reader) list(ctx context.Context, where squirrel.Eq) ([]types.Record, error) {
	d := r.session.Dialect()

	query, args, err := d.Builder().
		Select(
			"date",
			"ticker",
			d.AsText("open"),
			d.AsText("high"),
			d.AsText("low"),
			d.AsText("close"),
			"CAST(volume AS BIGINT)",
		).
		From(TableName).
		Where(where).
		OrderBy("date", "ticker").
		ToSql()
	if err != nil {
		return nil, pipeerrors.Wrap(pipeerrors.ErrCodeQueryFailed, "build select query", err)
	}

	rows, err := r.session.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapQueryErr(err, "select records")
	}
	defer rows.Close()

	var records []types.Record

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, pipeerrors.Wrap(pipeerrors.ErrCodeQueryFailed, "iterate records", err)
	}

	return records, nil
}

func scanRecord(rows *sql.Rows) (types.Record, error) {
	var (
		record                     types.Record
		open, high, low, closeText string
	)

	if err := rows.Scan(&record.Date, &record.Ticker, &open, &high, &low, &closeText, &record.Volume); err != nil {
		return types.Record{}, pipeerrors.Wrap(pipeerrors.ErrCodeQueryFailed, "scan record", err)
	}

	var errs []error

	parse := func(dst *decimal.Decimal, text string) {
		v, err := decimal.NewFromString(text)
		if err != nil {
			errs = append(errs, err)

			return
		}

		*dst = v
	}

	parse(&record.Open, open)
	parse(&record.High, high)
	parse(&record.Low, low)
	parse(&record.Close, closeText)

	if err := errors.Join(errs...); err != nil {
		return types.Record{}, pipeerrors.Wrapf(pipeerrors.ErrCodeQueryFailed, err, "parse prices of %s %s", record.Ticker, record.Date)
	}

	return record, nil
}
