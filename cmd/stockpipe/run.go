package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/rxtech-lab/stockpipe/internal/pipeline"
	"github.com/rxtech-lab/stockpipe/internal/types"
	"github.com/rxtech-lab/stockpipe/pkg/marketdata/provider"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Fetch, validate and load the configured tickers",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "tickers",
				Aliases: []string{"t"},
				Usage:   "Tickers to ingest, overrides the configuration",
			},
			&cli.IntFlag{
				Name:  "lookback-days",
				Usage: "Number of days before the end date to fetch",
			},
			&cli.StringFlag{
				Name:  "end-date",
				Usage: "Last day of the window in `YYYY-MM-DD` format. Defaults to today.",
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Records per committed chunk",
			},
			&cli.StringFlag{
				Name:    "provider",
				Aliases: []string{"p"},
				Usage:   fmt.Sprintf("Market data provider (%s, %s)", provider.ProviderYahoo, provider.ProviderPolygon),
			},
			&cli.StringFlag{
				Name:  "provider-url",
				Usage: "Override the provider base URL",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Abort the run after this duration",
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write the run report as YAML to `FILE`",
			},
			&cli.BoolFlag{
				Name:  "no-progress",
				Usage: "Disable progress bars",
			},
		},
		Action: runAction,
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := newLogger(cmd)
	if err != nil {
		return err
	}

	defer func() { _ = log.Sync() }()

	if err := ensureDataDir(cfg.Storage); err != nil {
		return err
	}

	source, err := provider.NewMarketDataProvider(cfg.Provider, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []pipeline.Option
	if !cmd.Bool("no-progress") {
		bars := newProgressBars(errWriter(cmd))
		defer bars.finish()

		opts = append(opts, pipeline.WithLoadProgress(bars.update))
	}

	report, runErr := pipeline.New(cfg, source, log, opts...).Run(ctx)
	if report != nil {
		printReport(writer(cmd), report)
	}

	if runErr != nil {
		log.Error("Run failed", zap.Error(runErr))

		return runErr
	}

	if report.Status == types.RunStatusPartiallyFailed {
		return cli.Exit(fmt.Sprintf("run %s partially failed", report.RunID), exitPartialFailure)
	}

	return nil
}

// progressBars keeps one bar per ticker. The pipeline loads tickers one at a time,
// so only the most recent bar is ever active.
type progressBars struct {
	out  io.Writer
	bars map[string]*progressbar.ProgressBar
}

func newProgressBars(out io.Writer) *progressBars {
	return &progressBars{out: out, bars: make(map[string]*progressbar.ProgressBar)}
}

func (p *progressBars) update(ticker string, current, total float64, message string) {
	bar, ok := p.bars[ticker]
	if !ok {
		bar = progressbar.NewOptions(int(total),
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionSetDescription(ticker),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(p.out) }),
		)
		p.bars[ticker] = bar
	}

	bar.Describe(fmt.Sprintf("%s %s", ticker, message))
	_ = bar.Set(int(current))
}

func (p *progressBars) finish() {
	for _, bar := range p.bars {
		_ = bar.Finish()
	}
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// printReport renders the per-ticker counters and the run status.
func printReport(w io.Writer, report *types.RunReport) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}

			return cellStyle
		}).
		Headers("TICKER", "FETCHED", "REJECTED", "DEFECTS", "LOADED", "CHUNKS", "FAILED", "NOTE")

	for _, tr := range report.Tickers {
		t.Row(tickerRow(tr)...)
	}

	t.Row(tickerRow(report.Totals())...)

	fmt.Fprintf(w, "Run %s (%s to %s)\n", report.RunID, report.StartDate, report.EndDate)
	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "Status: %s\n", report.Status)

	if report.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", report.Error)
	}
}

func tickerRow(tr types.TickerReport) []string {
	note := tr.Error
	if tr.NotFound {
		note = "not found"
	}

	return []string{
		tr.Ticker,
		fmt.Sprint(tr.Fetched),
		fmt.Sprint(tr.Rejected),
		fmt.Sprint(tr.Defects),
		fmt.Sprint(tr.Loaded),
		fmt.Sprint(tr.Chunks),
		fmt.Sprint(tr.FailedChunks),
		note,
	}
}

func writer(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}

	return os.Stdout
}

func errWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}

	return os.Stderr
}
