package main

import (
	"github.com/rxtech-lab/stockpipe/internal/storage"
	"github.com/rxtech-lab/stockpipe/internal/types"
)

// StatsLoadedMsg carries the per-ticker summary of the store.
type StatsLoadedMsg struct {
	Stats []storage.TickerStats
}

// RecordsLoadedMsg carries the stored records of one ticker.
type RecordsLoadedMsg struct {
	Ticker  string
	Records []types.Record
}

// LoadErrorMsg indicates a failed storage query.
type LoadErrorMsg struct {
	Err error
}
