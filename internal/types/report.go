package types

import (
	"time"
)

// RunStatus summarizes the outcome of a pipeline run.
type RunStatus string

const (
	// RunStatusSucceeded means every ticker loaded with nothing rejected.
	RunStatusSucceeded RunStatus = "succeeded"
	// RunStatusSucceededWithRejections means every chunk committed but some rows were
	// filtered by validation or dropped as normalization defects.
	RunStatusSucceededWithRejections RunStatus = "succeeded_with_rejections"
	// RunStatusPartiallyFailed means at least one ticker could not be fetched or at least
	// one chunk exhausted its retries, or the run was aborted.
	RunStatusPartiallyFailed RunStatus = "partially_failed"
)

// TickerReport holds the counters for a single ticker.
type TickerReport struct {
	Ticker       string `yaml:"ticker"`
	Fetched      int    `yaml:"fetched"`
	Rejected     int    `yaml:"rejected"`
	Defects      int    `yaml:"defects"`
	Loaded       int    `yaml:"loaded"`
	Chunks       int    `yaml:"chunks"`
	FailedChunks int    `yaml:"failed_chunks"`
	NotFound     bool   `yaml:"not_found,omitempty"`
	Error        string `yaml:"error,omitempty"`
}

// Failed reports whether the ticker hit a fetch error or lost a chunk.
func (t TickerReport) Failed() bool {
	return t.Error != "" || t.FailedChunks > 0
}

// RunReport is the outcome of one pipeline run.
type RunReport struct {
	RunID     string         `yaml:"run_id"`
	StartedAt time.Time      `yaml:"started_at"`
	EndedAt   time.Time      `yaml:"ended_at"`
	StartDate string         `yaml:"start_date"`
	EndDate   string         `yaml:"end_date"`
	Tickers   []TickerReport `yaml:"tickers"`
	Status    RunStatus      `yaml:"status"`
	Error     string         `yaml:"error,omitempty"`
}

// Totals sums the per-ticker counters.
func (r *RunReport) Totals() TickerReport {
	total := TickerReport{Ticker: "*"}

	for _, t := range r.Tickers {
		total.Fetched += t.Fetched
		total.Rejected += t.Rejected
		total.Defects += t.Defects
		total.Loaded += t.Loaded
		total.Chunks += t.Chunks
		total.FailedChunks += t.FailedChunks
	}

	return total
}

// Resolve derives Status from the ticker reports. aborted marks a run that hit a
// fatal error or was cancelled before finishing.
func (r *RunReport) Resolve(aborted bool) RunStatus {
	status := RunStatusSucceeded

	for _, t := range r.Tickers {
		if t.Failed() {
			status = RunStatusPartiallyFailed

			break
		}

		if t.Rejected > 0 || t.Defects > 0 {
			status = RunStatusSucceededWithRejections
		}
	}

	if aborted {
		status = RunStatusPartiallyFailed
	}

	r.Status = status

	return status
}
