package main

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/rxtech-lab/stockpipe/internal/storage"
	pipeerrors "github.com/rxtech-lab/stockpipe/pkg/errors"
)

func browseCommand() *cli.Command {
	return &cli.Command{
		Name:  "browse",
		Usage: "Browse stored records in an interactive terminal UI",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			log, err := newLogger(cmd)
			if err != nil {
				return err
			}

			defer func() { _ = log.Sync() }()

			return withReader(ctx, cfg.Storage, log, func(r *storage.Reader) error {
				p := tea.NewProgram(NewModel(ctx, r), tea.WithAltScreen(), tea.WithContext(ctx))
				if _, err := p.Run(); err != nil {
					return pipeerrors.Wrap(pipeerrors.ErrCodeUnknown, "run browser", err)
				}

				return nil
			})
		},
	}
}
