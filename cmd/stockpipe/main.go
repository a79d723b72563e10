package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rxtech-lab/stockpipe/internal/version"
	"github.com/urfave/cli/v3"
)

// newApp builds the command tree. Flags on the root apply to every subcommand.
func newApp() *cli.Command {
	return &cli.Command{
		Name:    "stockpipe",
		Usage:   "Ingest daily stock prices into a relational store",
		Version: version.GetVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration `FILE`",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Dotenv `FILE` loaded before the configuration",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
				Value: "info",
			},
			&cli.StringFlag{
				Name:  "driver",
				Usage: "Storage driver (postgres, sqlite, duckdb)",
			},
			&cli.StringFlag{
				Name:  "db-path",
				Usage: "Database file for sqlite and duckdb",
			},
		},
		// main maps errors to exit codes
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
		Commands: []*cli.Command{
			runCommand(),
			statsCommand(),
			browseCommand(),
			schemaCommand(),
		},
	}
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}
