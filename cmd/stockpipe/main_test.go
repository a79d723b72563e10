package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/stockpipe/internal/config"
	"github.com/rxtech-lab/stockpipe/internal/normalize"
	"github.com/rxtech-lab/stockpipe/internal/pipeline"
	"github.com/rxtech-lab/stockpipe/internal/storage"
	"github.com/rxtech-lab/stockpipe/internal/types"
	"github.com/rxtech-lab/stockpipe/mocks"
	pipeerrors "github.com/rxtech-lab/stockpipe/pkg/errors"
)

type CLITestSuite struct {
	suite.Suite
	dir    string
	dbPath string
}

func TestCLISuite(t *testing.T) {
	suite.Run(t, new(CLITestSuite))
}

func (suite *CLITestSuite) SetupTest() {
	suite.dir = suite.T().TempDir()
	suite.dbPath = filepath.Join(suite.dir, "data", "stock_data.db")
}

// run executes the app with args after the program name and returns stdout.
func (suite *CLITestSuite) run(args ...string) (string, error) {
	var out bytes.Buffer

	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard

	base := []string{"stockpipe", "--env-file", "", "--log-level", "error", "--driver", "sqlite", "--db-path", suite.dbPath}
	err := app.Run(context.Background(), append(base, args...))

	return out.String(), err
}

// seed loads generated bars for ticker straight through the storage layer.
func (suite *CLITestSuite) seed(ticker string, days int) {
	ctx := context.Background()
	suite.Require().NoError(os.MkdirAll(filepath.Dir(suite.dbPath), 0o755))

	connections, err := storage.NewConnectionManager(config.StorageConfig{
		Driver:         config.DriverSQLite,
		Path:           suite.dbPath,
		ConnectRetries: 1,
	}, nil)
	suite.Require().NoError(err)

	session, err := connections.Acquire(ctx)
	suite.Require().NoError(err)

	defer func() { _ = connections.Release() }()

	suite.Require().NoError(storage.NewSchemaManager(nil).Ensure(ctx, session))

	observations := mocks.GenerateWindow(ticker, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), days)
	records := normalize.NewNormalizer(normalize.DefaultOptions(), nil).Canonicalize(observations).Records
	suite.Require().Len(records, days)

	_, err = storage.NewBatchLoader(storage.LoaderOptions{}, nil, nil).Load(ctx, session, records)
	suite.Require().NoError(err)
}

func (suite *CLITestSuite) TestSchemaPrintsJSON() {
	out, err := suite.run("schema")
	suite.Require().NoError(err)

	var schema map[string]any
	suite.Require().NoError(json.Unmarshal([]byte(out), &schema))
	suite.Contains(schema, "properties")
}

func (suite *CLITestSuite) TestSchemaWritesFile() {
	path := filepath.Join(suite.dir, config.SchemaFileName)

	out, err := suite.run("schema", "--output", path)
	suite.Require().NoError(err)
	suite.Contains(out, "Schema written to")

	data, err := os.ReadFile(path)
	suite.Require().NoError(err)
	suite.True(json.Valid(data))
}

func (suite *CLITestSuite) TestSchemaWritesSampleOnce() {
	schemaPath := filepath.Join(suite.dir, "config", config.SchemaFileName)
	samplePath := filepath.Join(suite.dir, "config", "stockpipe.yaml")

	out, err := suite.run("schema", "--output", schemaPath, "--sample", samplePath)
	suite.Require().NoError(err)
	suite.Contains(out, "Sample config written to")

	sample, err := os.ReadFile(samplePath)
	suite.Require().NoError(err)
	suite.True(strings.HasPrefix(string(sample), "# yaml-language-server: $schema="+config.SchemaFileName+"\n"))

	// the sample config drives a real command
	_, err = suite.run("--config", samplePath, "stats")
	suite.Require().NoError(err)

	out, err = suite.run("schema", "--output", schemaPath, "--sample", samplePath)
	suite.Require().NoError(err)
	suite.Contains(out, "already exists")
}

func (suite *CLITestSuite) TestStatsTable() {
	suite.seed("AAPL", 5)
	suite.seed("MSFT", 3)

	out, err := suite.run("stats")
	suite.Require().NoError(err)
	suite.Contains(out, "AAPL")
	suite.Contains(out, "MSFT")
	suite.Contains(out, "2 tickers, 8 rows")
}

func (suite *CLITestSuite) TestStatsYAML() {
	suite.seed("AAPL", 2)

	out, err := suite.run("stats", "--format", "yaml")
	suite.Require().NoError(err)
	suite.Contains(out, "ticker: AAPL")
	suite.Contains(out, "rows: 2")
	suite.Contains(out, "2024-01-01")
}

func (suite *CLITestSuite) TestStatsEmptyStore() {
	out, err := suite.run("stats")
	suite.Require().NoError(err)
	suite.Contains(out, "No records stored.")
	// the data directory is created on demand
	suite.FileExists(suite.dbPath)
}

func (suite *CLITestSuite) TestStatsUnknownFormat() {
	_, err := suite.run("stats", "--format", "xml")
	suite.Error(err)
	suite.True(pipeerrors.HasCode(err, pipeerrors.ErrCodeInvalidParameter))
}

func (suite *CLITestSuite) TestInvalidDriverIsConfigurationError() {
	_, err := suite.run("--driver", "oracle", "stats")
	suite.Require().Error(err)
	suite.Equal(exitConfiguration, exitCode(err))
}

func (suite *CLITestSuite) TestExplicitEnvFileMustExist() {
	_, err := suite.run("--env-file", filepath.Join(suite.dir, "missing.env"), "stats")
	suite.Require().Error(err)
	suite.True(pipeerrors.HasCode(err, pipeerrors.ErrCodeInvalidConfiguration))
}

func (suite *CLITestSuite) TestRunAgainstChartServer() {
	server := httptest.NewServer(http.HandlerFunc(chartHandler))
	defer server.Close()

	reportPath := filepath.Join(suite.dir, "report.yaml")

	out, err := suite.run("run",
		"--tickers", "AAPL",
		"--tickers", "NOPE",
		"--provider", "yahoo",
		"--provider-url", server.URL,
		"--end-date", "2024-01-05",
		"--lookback-days", "10",
		"--no-progress",
		"--report", reportPath,
	)
	suite.Require().NoError(err)
	suite.Contains(out, "AAPL")
	suite.Contains(out, "not found")
	suite.Contains(out, "Status: "+string(types.RunStatusSucceededWithRejections))

	report, err := pipeline.ReadReport(reportPath)
	suite.Require().NoError(err)
	suite.Require().Len(report.Tickers, 2)
	suite.Equal(3, report.Tickers[0].Fetched)
	suite.Equal(1, report.Tickers[0].Rejected)
	suite.Equal(2, report.Tickers[0].Loaded)
	suite.True(report.Tickers[1].NotFound)

	stats, err := suite.run("stats")
	suite.Require().NoError(err)
	suite.Contains(stats, "1 tickers, 2 rows")
}

func (suite *CLITestSuite) TestRunPartialFailureExitCode() {
	server := httptest.NewServer(http.HandlerFunc(chartHandler))
	defer server.Close()

	_, err := suite.run("run",
		"--tickers", "AAPL,FAIL",
		"--provider-url", server.URL,
		"--end-date", "2024-01-05",
		"--no-progress",
	)
	suite.Require().Error(err)
	suite.Equal(exitPartialFailure, exitCode(err))
}

func (suite *CLITestSuite) TestExitCodes() {
	suite.Equal(exitFailure, exitCode(pipeerrors.New(pipeerrors.ErrCodeStorageUnreachable, "down")))
	suite.Equal(exitConfiguration, exitCode(pipeerrors.New(pipeerrors.ErrCodeVersionMismatch, "v9")))
}

// chartHandler serves three AAPL days, the last one an implausible jump, answers
// FAIL with a server error and everything else with 404.
func chartHandler(w http.ResponseWriter, r *http.Request) {
	ticker := strings.TrimPrefix(r.URL.Path, "/v8/finance/chart/")

	switch ticker {
	case "AAPL":
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"chart":{"result":[{"meta":{"symbol":"AAPL"},
"timestamp":[1704205800,1704292200,1704378600],
"indicators":{"quote":[{"open":[150,151,300],"high":[151,152,301],"low":[149,150,299],"close":[150,151,300],"volume":[1000,1100,1200]}]}}],"error":null}}`))
	case "FAIL":
		w.WriteHeader(http.StatusInternalServerError)
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`))
	}
}
