package storage

import (
	"net/url"
	"testing"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rxtech-lab/stockpipe/internal/config"
	"github.com/rxtech-lab/stockpipe/internal/types"
	pipeerrors "github.com/rxtech-lab/stockpipe/pkg/errors"
)

func TestDialectFor(t *testing.T) {
	tests := []struct {
		driver     string
		driverName string
		numeric    string
	}{
		{driver: config.DriverPostgres, driverName: "pgx", numeric: "NUMERIC"},
		{driver: config.DriverSQLite, driverName: "sqlite", numeric: "NUMERIC"},
		{driver: config.DriverDuckDB, driverName: "duckdb", numeric: "DECIMAL(38,10)"},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d, err := DialectFor(tt.driver)
			require.NoError(t, err)
			assert.Equal(t, tt.driverName, d.DriverName)
			assert.Equal(t, tt.numeric, d.NumericType)
		})
	}

	_, err := DialectFor("oracle")
	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrCodeInvalidDriver, pipeerrors.GetCode(err))
}

func TestMaxBatchSize(t *testing.T) {
	assert.Equal(t, 4680, DialectSQLite.MaxBatchSize())
	assert.Equal(t, 9362, DialectPostgres.MaxBatchSize())
	assert.Zero(t, DialectDuckDB.MaxBatchSize())

	// the clamped size always fits in one statement
	for _, d := range []Dialect{DialectSQLite, DialectPostgres} {
		assert.LessOrEqual(t, d.MaxBatchSize()*len(Columns), d.MaxBindParams)
	}
}

func TestCreateTableSQL(t *testing.T) {
	ddl := DialectPostgres.CreateTableSQL()
	assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS stock_data")
	assert.Contains(t, ddl, "ticker VARCHAR(10)")
	assert.Contains(t, ddl, "volume NUMERIC")
	assert.Contains(t, ddl, "PRIMARY KEY (date, ticker)")

	assert.Contains(t, DialectDuckDB.CreateTableSQL(), "close  DECIMAL(38,10)")
}

func TestPostgresDataSource(t *testing.T) {
	dsn := DialectPostgres.DataSource(config.StorageConfig{
		Driver:         config.DriverPostgres,
		Host:           "db.internal",
		Port:           5432,
		ServiceName:    "markets",
		User:           "loader",
		Password:       "p@ss word/1",
		ConnectTimeout: 5 * time.Second,
	})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "db.internal:5432", u.Host)
	assert.Equal(t, "/markets", u.Path)
	assert.Equal(t, "loader", u.User.Username())

	password, ok := u.User.Password()
	assert.True(t, ok)
	assert.Equal(t, "p@ss word/1", password)
	assert.Equal(t, "prefer", u.Query().Get("sslmode"))
	assert.Equal(t, "5", u.Query().Get("connect_timeout"))
}

func TestSQLiteDataSource(t *testing.T) {
	assert.Equal(t, ":memory:", DialectSQLite.DataSource(config.StorageConfig{Path: ":memory:"}))
	assert.Equal(t, "data/stock.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
		DialectSQLite.DataSource(config.StorageConfig{Path: "data/stock.db"}))
	assert.Equal(t, "data/stock.duckdb", DialectDuckDB.DataSource(config.StorageConfig{Path: "data/stock.duckdb"}))
}

func TestUpsertStatement(t *testing.T) {
	chunk := []types.Record{
		bar("2024-01-02", "AAPL", "150.5", 100),
		bar("2024-01-03", "AAPL", "151", 200),
	}

	query, args, err := UpsertStatement(DialectSQLite, chunk)
	require.NoError(t, err)
	assert.Contains(t, query, "INSERT INTO stock_data")
	assert.Contains(t, query, "ON CONFLICT (date, ticker) DO UPDATE SET open = excluded.open")
	assert.Contains(t, query, "volume = excluded.volume")
	assert.NotContains(t, query, "ticker = excluded.ticker")
	require.Len(t, args, 14)
	assert.Equal(t, "2024-01-02", args[0])
	assert.Equal(t, "AAPL", args[1])
	assert.Equal(t, "150.5", args[2])
	assert.Equal(t, int64(200), args[13])

	query, _, err = UpsertStatement(DialectPostgres, chunk)
	require.NoError(t, err)
	assert.Contains(t, query, "$14")

	_, args, err = UpsertStatement(DialectDuckDB, chunk)
	require.NoError(t, err)
	assert.Equal(t, 150.5, args[2])
}

func TestBuilderPlaceholders(t *testing.T) {
	query, _, err := DialectPostgres.Builder().Select("1").From(TableName).Where(squirrel.Eq{"ticker": "AAPL"}).ToSql()
	require.NoError(t, err)
	assert.Contains(t, query, "ticker = $1")
}
