package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rxtech-lab/stockpipe/internal/config"
	"github.com/rxtech-lab/stockpipe/internal/logger"
	"github.com/rxtech-lab/stockpipe/internal/types"
)

func memoryConfig() config.StorageConfig {
	return config.StorageConfig{
		Driver:         config.DriverSQLite,
		Path:           ":memory:",
		ConnectRetries: 1,
	}
}

// openMemory acquires a session on a private in-memory sqlite database with the
// stock_data table in place.
func openMemory(ctx context.Context) (*ConnectionManager, *Session, error) {
	manager, err := NewConnectionManager(memoryConfig(), logger.Nop(), WithRetryInterval(time.Millisecond))
	if err != nil {
		return nil, nil, err
	}

	session, err := manager.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}

	if err := NewSchemaManager(logger.Nop()).Ensure(ctx, session); err != nil {
		return nil, nil, err
	}

	return manager, session, nil
}

func bar(date, ticker, closePrice string, volume int64) types.Record {
	c := decimal.RequireFromString(closePrice)

	return types.Record{
		Date:   date,
		Ticker: ticker,
		Open:   c,
		High:   c,
		Low:    c,
		Close:  c,
		Volume: volume,
	}
}
