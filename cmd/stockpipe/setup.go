package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/rxtech-lab/stockpipe/internal/config"
	"github.com/rxtech-lab/stockpipe/internal/logger"
	pipeerrors "github.com/rxtech-lab/stockpipe/pkg/errors"
)

// Exit codes.
const (
	exitFailure        = 1
	exitPartialFailure = 2
	exitConfiguration  = 3
)

// loadEnvFile reads the dotenv file. A missing default file is ignored; a missing
// file the user asked for is an error.
func loadEnvFile(cmd *cli.Command) error {
	path := cmd.String("env-file")
	if path == "" {
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !cmd.IsSet("env-file") {
			return nil
		}

		return pipeerrors.Wrapf(pipeerrors.ErrCodeInvalidConfiguration, err, "load env file %s", path)
	}

	return nil
}

// loadConfig builds the run configuration: defaults, then the YAML file, then the
// environment, then command line flags.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	if err := loadEnvFile(cmd); err != nil {
		return nil, err
	}

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyFlags(cmd *cli.Command, cfg *config.Config) error {
	if cmd.IsSet("driver") {
		cfg.Storage.Driver = cmd.String("driver")
	}

	if cmd.IsSet("db-path") {
		cfg.Storage.Path = cmd.String("db-path")
	}

	// run-only flags are not defined on every command
	for _, name := range []string{"tickers", "provider", "provider-url", "end-date", "report"} {
		if !hasFlag(cmd, name) || !cmd.IsSet(name) {
			continue
		}

		switch name {
		case "tickers":
			cfg.Tickers = cmd.StringSlice("tickers")
		case "provider":
			cfg.Provider.Name = cmd.String("provider")
		case "provider-url":
			cfg.Provider.BaseURL = cmd.String("provider-url")
		case "end-date":
			cfg.EndDate = cmd.String("end-date")
		case "report":
			cfg.ReportPath = cmd.String("report")
		}
	}

	if hasFlag(cmd, "lookback-days") && cmd.IsSet("lookback-days") {
		cfg.LookbackDays = int(cmd.Int("lookback-days"))
	}

	if hasFlag(cmd, "batch-size") && cmd.IsSet("batch-size") {
		cfg.BatchSize = int(cmd.Int("batch-size"))
	}

	if hasFlag(cmd, "timeout") && cmd.IsSet("timeout") {
		cfg.RunTimeout = cmd.Duration("timeout")
	}

	return nil
}

func hasFlag(cmd *cli.Command, name string) bool {
	for _, f := range cmd.Flags {
		for _, n := range f.Names() {
			if n == name {
				return true
			}
		}
	}

	return false
}

func newLogger(cmd *cli.Command) (*logger.Logger, error) {
	log, err := logger.NewLoggerWithLevel(cmd.String("log-level"))
	if err != nil {
		return nil, pipeerrors.Wrap(pipeerrors.ErrCodeInvalidConfiguration, "create logger", err)
	}

	return log, nil
}

// ensureDataDir creates the parent directory of a file-backed database.
func ensureDataDir(cfg config.StorageConfig) error {
	if cfg.Driver == config.DriverPostgres || cfg.Path == "" || cfg.Path == ":memory:" {
		return nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir == "." {
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return pipeerrors.Wrapf(pipeerrors.ErrCodeStorageUnreachable, err, "create data directory %s", dir)
	}

	return nil
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	switch pipeerrors.GetCode(err) {
	case pipeerrors.ErrCodeInvalidConfiguration, pipeerrors.ErrCodeVersionMismatch, pipeerrors.ErrCodeInvalidDriver, pipeerrors.ErrCodeInvalidProvider:
		return exitConfiguration
	default:
		return exitFailure
	}
}
