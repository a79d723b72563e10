package storage

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/rxtech-lab/stockpipe/internal/config"
	pipeerrors "github.com/rxtech-lab/stockpipe/pkg/errors"
)

// TableName is the table every record is loaded into.
const TableName = "stock_data"

// Columns lists the stock_data columns in insert order.
var Columns = []string{"date", "ticker", "open", "high", "low", "close", "volume"}

// PrimaryKey lists the key columns of stock_data.
var PrimaryKey = []string{"date", "ticker"}

// Dialect captures what differs between the supported storage engines.
type Dialect struct {
	Name        string
	DriverName  string
	Placeholder squirrel.PlaceholderFormat
	// KeyType renders the TEXT(10) date and ticker columns.
	KeyType string
	// NumericType renders the NUMERIC price and volume columns.
	NumericType string
	// TextCast is the type name used to read numerics back as text.
	TextCast string
	// MaxBindParams caps the placeholders of one statement. Zero means no limit.
	MaxBindParams int
}

var (
	// DialectPostgres targets PostgreSQL through the pgx database/sql driver. The wire
	// protocol counts bind parameters in a uint16.
	DialectPostgres = Dialect{
		Name:          config.DriverPostgres,
		DriverName:    "pgx",
		Placeholder:   squirrel.Dollar,
		KeyType:       "VARCHAR(10)",
		NumericType:   "NUMERIC",
		TextCast:      "TEXT",
		MaxBindParams: 65535,
	}
	// DialectSQLite targets an embedded SQLite file, limited to SQLITE_MAX_VARIABLE_NUMBER
	// bind parameters per statement.
	DialectSQLite = Dialect{
		Name:          config.DriverSQLite,
		DriverName:    "sqlite",
		Placeholder:   squirrel.Question,
		KeyType:       "TEXT",
		NumericType:   "NUMERIC",
		TextCast:      "TEXT",
		MaxBindParams: 32766,
	}
	// DialectDuckDB targets a DuckDB file. A bare NUMERIC in DuckDB is DECIMAL(18,3),
	// which would cut prices to three decimals.
	DialectDuckDB = Dialect{
		Name:        config.DriverDuckDB,
		DriverName:  "duckdb",
		Placeholder: squirrel.Question,
		KeyType:     "VARCHAR",
		NumericType: "DECIMAL(38,10)",
		TextCast:    "VARCHAR",
	}
)

// DialectFor returns the dialect registered for a configured driver.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case config.DriverPostgres:
		return DialectPostgres, nil
	case config.DriverSQLite:
		return DialectSQLite, nil
	case config.DriverDuckDB:
		return DialectDuckDB, nil
	default:
		return Dialect{}, pipeerrors.Newf(pipeerrors.ErrCodeInvalidDriver, "unsupported storage driver: %s", driver)
	}
}

// MaxBatchSize is the largest number of records one upsert statement can carry.
// Zero means no limit.
func (d Dialect) MaxBatchSize() int {
	if d.MaxBindParams <= 0 {
		return 0
	}

	return d.MaxBindParams / len(Columns)
}

// Builder returns a squirrel statement builder using the dialect's placeholders.
func (d Dialect) Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(d.Placeholder)
}

// DataSource builds the driver-specific connection string.
func (d Dialect) DataSource(cfg config.StorageConfig) string {
	switch d.Name {
	case config.DriverPostgres:
		query := url.Values{}

		sslMode := cfg.SSLMode
		if sslMode == "" {
			sslMode = "prefer"
		}

		query.Set("sslmode", sslMode)

		if cfg.ConnectTimeout > 0 {
			query.Set("connect_timeout", strconv.Itoa(int(cfg.ConnectTimeout.Seconds())))
		}

		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.User, cfg.Password),
			Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Path:     "/" + cfg.ServiceName,
			RawQuery: query.Encode(),
		}

		return u.String()
	case config.DriverSQLite:
		if isMemory(cfg.Path) {
			return cfg.Path
		}

		return cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	default:
		return cfg.Path
	}
}

// CreateTableSQL returns the idempotent DDL for stock_data.
func (d Dialect) CreateTableSQL() string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			date   %s,
			ticker %s,
			open   %s,
			high   %s,
			low    %s,
			close  %s,
			volume %s,
			PRIMARY KEY (%s)
		)`,
		TableName,
		d.KeyType, d.KeyType,
		d.NumericType, d.NumericType, d.NumericType, d.NumericType, d.NumericType,
		strings.Join(PrimaryKey, ", "),
	)
}

// UpsertSuffix is the conflict clause that turns an insert into an upsert.
func (d Dialect) UpsertSuffix() string {
	updates := make([]string, 0, len(Columns)-len(PrimaryKey))
	for _, c := range Columns[len(PrimaryKey):] {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
	}

	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(PrimaryKey, ", "), strings.Join(updates, ", "))
}

// Numeric converts a price into the value bound for the dialect's numeric column.
func (d Dialect) Numeric(v decimal.Decimal) any {
	if d.Name == config.DriverDuckDB {
		// go-duckdb binds float64 as DOUBLE, which casts cleanly into DECIMAL(38,10)
		return v.InexactFloat64()
	}

	return v.String()
}

// AsText renders a column read back as text.
func (d Dialect) AsText(column string) string {
	return fmt.Sprintf("CAST(%s AS %s)", column, d.TextCast)
}

func isMemory(path string) bool {
	return path == ":memory:" || path == ""
}
