// Package config loads the immutable run configuration. A Config is built once at
// startup from a YAML file, environment overrides and CLI flags, validated, and then
// passed explicitly to every component that needs it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/rxtech-lab/stockpipe/internal/types"
	"github.com/rxtech-lab/stockpipe/internal/version"
	pipeerrors "github.com/rxtech-lab/stockpipe/pkg/errors"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverDuckDB   = "duckdb"
)

// Market data providers.
const (
	ProviderPolygon = "polygon"
	ProviderYahoo   = "yahoo"
)

// Extreme-change comparison bases.
const (
	ChangeBasisCloseOverClose = "close_over_close"
	ChangeBasisIntraday       = "intraday"
)

// StorageConfig describes the relational store that receives the records.
type StorageConfig struct {
	Driver         string        `yaml:"driver" json:"driver" jsonschema:"title=Driver,description=Storage engine,enum=postgres,enum=sqlite,enum=duckdb" validate:"required,oneof=postgres sqlite duckdb"`
	Host           string        `yaml:"host" json:"host" jsonschema:"title=Host" validate:"required_if=Driver postgres"`
	Port           int           `yaml:"port" json:"port" jsonschema:"title=Port,minimum=0,maximum=65535" validate:"required_if=Driver postgres,gte=0,lte=65535"`
	ServiceName    string        `yaml:"service_name" json:"service_name" jsonschema:"title=Service Name,description=Database (service) name on the server" validate:"required_if=Driver postgres"`
	User           string        `yaml:"user" json:"user" jsonschema:"title=User" validate:"required_if=Driver postgres"`
	Password       string        `yaml:"password" json:"password" jsonschema:"title=Password"`
	Path           string        `yaml:"path" json:"path" jsonschema:"title=Path,description=Database file for sqlite and duckdb (:memory: allowed)" validate:"required_unless=Driver postgres"`
	SSLMode        string        `yaml:"ssl_mode" json:"ssl_mode" jsonschema:"title=SSL Mode"`
	ConnectRetries int           `yaml:"connect_retries" json:"connect_retries" jsonschema:"title=Connect Retries,minimum=0" validate:"gte=0,lte=20"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout" jsonschema:"title=Connect Timeout" validate:"gte=0"`
}

// ProviderConfig selects and configures the market data provider.
type ProviderConfig struct {
	Name              string        `yaml:"name" json:"name" jsonschema:"title=Provider,enum=polygon,enum=yahoo" validate:"required,oneof=polygon yahoo"`
	APIKey            string        `yaml:"api_key" json:"api_key" jsonschema:"title=API Key" validate:"required_if=Name polygon"`
	BaseURL           string        `yaml:"base_url" json:"base_url" jsonschema:"title=Base URL" validate:"omitempty,url"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute" jsonschema:"title=Requests Per Minute,description=0 disables rate limiting,minimum=0" validate:"gte=0"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout" jsonschema:"title=Request Timeout" validate:"gte=0"`
}

// ValidationConfig tunes the plausibility filter.
type ValidationConfig struct {
	MaxChange   float64 `yaml:"max_change" json:"max_change" jsonschema:"title=Max Change,description=Largest accepted relative close change,default=0.5" validate:"gt=0"`
	ChangeBasis string  `yaml:"change_basis" json:"change_basis" jsonschema:"title=Change Basis,enum=close_over_close,enum=intraday" validate:"oneof=close_over_close intraday"`
}

// NormalizeConfig tunes record canonicalization.
type NormalizeConfig struct {
	PricePrecision int32 `yaml:"price_precision" json:"price_precision" jsonschema:"title=Price Precision,description=Decimal places kept on prices,default=6" validate:"gte=0,lte=10"`
}

// Config is the full run configuration.
type Config struct {
	Version          string           `yaml:"version" json:"version" jsonschema:"title=Config Version"`
	Storage          StorageConfig    `yaml:"storage" json:"storage"`
	Provider         ProviderConfig   `yaml:"provider" json:"provider"`
	Tickers          []string         `yaml:"tickers" json:"tickers" jsonschema:"title=Tickers,minItems=1" validate:"required,min=1,dive,required,max=10"`
	LookbackDays     int              `yaml:"lookback_days" json:"lookback_days" jsonschema:"title=Lookback Days,default=30" validate:"gte=1"`
	EndDate          string           `yaml:"end_date" json:"end_date" jsonschema:"title=End Date,format=date" validate:"omitempty,datetime=2006-01-02"`
	BatchSize        int              `yaml:"batch_size" json:"batch_size" jsonschema:"title=Batch Size,default=500" validate:"gte=1,lte=5000"`
	ChunkRetries     int              `yaml:"chunk_retries" json:"chunk_retries" jsonschema:"title=Chunk Retries,default=3" validate:"gte=0,lte=10"`
	FetchConcurrency int              `yaml:"fetch_concurrency" json:"fetch_concurrency" jsonschema:"title=Fetch Concurrency,default=4" validate:"gte=1,lte=8"`
	RunTimeout       time.Duration    `yaml:"run_timeout" json:"run_timeout" jsonschema:"title=Run Timeout" validate:"gte=0"`
	ReportPath       string           `yaml:"report_path" json:"report_path" jsonschema:"title=Report Path"`
	Validation       ValidationConfig `yaml:"validation" json:"validation"`
	Normalize        NormalizeConfig  `yaml:"normalize" json:"normalize"`
}

// Default returns the configuration used when nothing else is specified.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Driver:         DriverSQLite,
			Path:           "data/stock_data.db",
			ConnectRetries: 5,
			ConnectTimeout: 10 * time.Second,
		},
		Provider: ProviderConfig{
			Name:    ProviderYahoo,
			Timeout: 30 * time.Second,
		},
		Tickers:          []string{"AAPL", "MSFT", "GOOGL"},
		LookbackDays:     30,
		BatchSize:        500,
		ChunkRetries:     3,
		FetchConcurrency: 4,
		Validation: ValidationConfig{
			MaxChange:   0.5,
			ChangeBasis: ChangeBasisCloseOverClose,
		},
		Normalize: NormalizeConfig{
			PricePrecision: 6,
		},
	}
}

// Load reads the YAML file at path on top of the defaults and applies environment
// overrides. A missing file is not an error when path is empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, pipeerrors.Wrapf(pipeerrors.ErrCodeInvalidConfiguration, err, "read config %s", path)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, pipeerrors.Wrapf(pipeerrors.ErrCodeInvalidConfiguration, err, "parse config %s", path)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyEnv overrides fields from environment variables. lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("STOCKPIPE_DB_DRIVER"); ok && v != "" {
		c.Storage.Driver = v
	}

	if v, ok := lookup("STOCKPIPE_DB_HOST"); ok && v != "" {
		c.Storage.Host = v
	}

	if v, ok := lookup("STOCKPIPE_DB_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return pipeerrors.Wrapf(pipeerrors.ErrCodeInvalidConfiguration, err, "STOCKPIPE_DB_PORT=%q", v)
		}

		c.Storage.Port = port
	}

	if v, ok := lookup("STOCKPIPE_DB_SERVICE"); ok && v != "" {
		c.Storage.ServiceName = v
	}

	if v, ok := lookup("STOCKPIPE_DB_USER"); ok && v != "" {
		c.Storage.User = v
	}

	if v, ok := lookup("STOCKPIPE_DB_PASSWORD"); ok && v != "" {
		c.Storage.Password = v
	}

	if v, ok := lookup("STOCKPIPE_DB_PATH"); ok && v != "" {
		c.Storage.Path = v
	}

	if v, ok := lookup("STOCKPIPE_TICKERS"); ok && v != "" {
		c.Tickers = strings.Split(v, ",")
	}

	if v, ok := lookup("POLYGON_API_KEY"); ok && v != "" {
		c.Provider.APIKey = v
	}

	return nil
}

// Finalize canonicalizes tickers, then validates the configuration and checks that
// the config version is compatible with this binary.
func (c *Config) Finalize() error {
	c.Tickers = CanonicalTickers(c.Tickers)

	if err := validator.New().Struct(c); err != nil {
		return pipeerrors.Wrap(pipeerrors.ErrCodeInvalidConfiguration, "invalid configuration", err)
	}

	if err := version.CheckConfigCompatibility(version.GetVersion(), c.Version); err != nil {
		return pipeerrors.Wrap(pipeerrors.ErrCodeVersionMismatch, "incompatible config version", err)
	}

	return nil
}

// DateRange returns the [start, end] window to fetch. end is EndDate when set,
// otherwise the UTC day of now.
func (c *Config) DateRange(now time.Time) (time.Time, time.Time, error) {
	end := now.UTC().Truncate(24 * time.Hour)

	if c.EndDate != "" {
		parsed, err := time.Parse(types.DateLayout, c.EndDate)
		if err != nil {
			return time.Time{}, time.Time{}, pipeerrors.Wrapf(pipeerrors.ErrCodeInvalidDate, err, "end_date %q", c.EndDate)
		}

		end = parsed
	}

	start := end.AddDate(0, 0, -c.LookbackDays)

	return start, end, nil
}

// CanonicalTickers trims, upper-cases and de-duplicates tickers, keeping the first
// occurrence order. Empty entries are dropped.
func CanonicalTickers(tickers []string) []string {
	seen := make(map[string]struct{}, len(tickers))
	out := make([]string, 0, len(tickers))

	for _, t := range tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}

		if _, ok := seen[t]; ok {
			continue
		}

		seen[t] = struct{}{}
		out = append(out, t)
	}

	return out
}

// DSN renders the connection target in host:port/service form for logs. It never
// includes the password.
func (s StorageConfig) DSN() string {
	if s.Driver != DriverPostgres {
		return fmt.Sprintf("%s:%s", s.Driver, s.Path)
	}

	return fmt.Sprintf("%s:%d/%s", s.Host, s.Port, s.ServiceName)
}
