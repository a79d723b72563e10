package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/rxtech-lab/stockpipe/internal/config"
	pipeerrors "github.com/rxtech-lab/stockpipe/pkg/errors"
)

func schemaCommand() *cli.Command {
	return &cli.Command{
		Name:  "schema",
		Usage: "Print the JSON schema of the configuration file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   fmt.Sprintf("Write the schema to `FILE` (e.g. %s) instead of stdout", config.SchemaFileName),
			},
			&cli.StringFlag{
				Name:  "sample",
				Usage: "Also write a default configuration to `FILE` unless it already exists",
			},
		},
		Action: schemaAction,
	}
}

func schemaAction(_ context.Context, cmd *cli.Command) error {
	schema, err := config.Default().GenerateSchemaJSON()
	if err != nil {
		return err
	}

	out := writer(cmd)
	schemaPath := cmd.String("output")

	if schemaPath == "" {
		if _, err := fmt.Fprintln(out, schema); err != nil {
			return err
		}
	} else {
		if err := writeFile(schemaPath, []byte(schema+"\n")); err != nil {
			return err
		}

		fmt.Fprintf(out, "Schema written to %s\n", schemaPath)
	}

	samplePath := cmd.String("sample")
	if samplePath == "" {
		return nil
	}

	if _, err := os.Stat(samplePath); err == nil {
		fmt.Fprintf(out, "Sample config %s already exists, left unchanged\n", samplePath)

		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return pipeerrors.Wrapf(pipeerrors.ErrCodeUnknown, err, "stat %s", samplePath)
	}

	schemaRef := config.SchemaFileName
	if schemaPath != "" {
		if rel, err := filepath.Rel(filepath.Dir(samplePath), schemaPath); err == nil {
			schemaRef = rel
		}
	}

	sample, err := config.SampleYAML(schemaRef)
	if err != nil {
		return err
	}

	if err := writeFile(samplePath, sample); err != nil {
		return err
	}

	fmt.Fprintf(out, "Sample config written to %s\n", samplePath)

	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return pipeerrors.Wrapf(pipeerrors.ErrCodeUnknown, err, "create directory for %s", path)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return pipeerrors.Wrapf(pipeerrors.ErrCodeUnknown, err, "write %s", path)
	}

	return nil
}
