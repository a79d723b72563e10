package main

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/rxtech-lab/stockpipe/internal/config"
	"github.com/rxtech-lab/stockpipe/internal/logger"
	"github.com/rxtech-lab/stockpipe/internal/storage"
	pipeerrors "github.com/rxtech-lab/stockpipe/pkg/errors"
)

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show stored row counts and date ranges per ticker",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "format",
				Usage: "Output format (table, yaml)",
				Value: "table",
			},
		},
		Action: statsAction,
	}
}

func statsAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := newLogger(cmd)
	if err != nil {
		return err
	}

	defer func() { _ = log.Sync() }()

	var stats []storage.TickerStats

	err = withReader(ctx, cfg.Storage, log, func(r *storage.Reader) error {
		var err error
		stats, err = r.Stats(ctx)

		return err
	})
	if err != nil {
		return err
	}

	switch cmd.String("format") {
	case "yaml":
		out, err := yaml.Marshal(stats)
		if err != nil {
			return pipeerrors.Wrap(pipeerrors.ErrCodeUnknown, "encode stats", err)
		}

		_, err = writer(cmd).Write(out)

		return err
	case "table":
		printStats(writer(cmd), stats)

		return nil
	default:
		return pipeerrors.Newf(pipeerrors.ErrCodeInvalidParameter, "unsupported format: %s", cmd.String("format"))
	}
}

// withReader acquires a session, makes sure the table exists and hands a reader to fn.
func withReader(ctx context.Context, cfg config.StorageConfig, log *logger.Logger, fn func(r *storage.Reader) error) error {
	if err := ensureDataDir(cfg); err != nil {
		return err
	}

	connections, err := storage.NewConnectionManager(cfg, log)
	if err != nil {
		return err
	}

	session, err := connections.Acquire(ctx)
	if err != nil {
		return err
	}

	defer func() { _ = connections.Release() }()

	if err := storage.NewSchemaManager(log).Ensure(ctx, session); err != nil {
		return err
	}

	return fn(storage.NewReader(session))
}

func printStats(w io.Writer, stats []storage.TickerStats) {
	if len(stats) == 0 {
		fmt.Fprintln(w, "No records stored.")

		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}

			return cellStyle
		}).
		Headers("TICKER", "ROWS", "FIRST", "LAST")

	total := 0

	for _, s := range stats {
		total += s.Rows
		t.Row(s.Ticker, fmt.Sprint(s.Rows), s.FirstDate, s.LastDate)
	}

	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "%d tickers, %d rows\n", len(stats), total)
}
