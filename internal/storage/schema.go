package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/rxtech-lab/stockpipe/internal/config"
	"github.com/rxtech-lab/stockpipe/internal/logger"
	pipeerrors "github.com/rxtech-lab/stockpipe/pkg/errors"
)

// TableShape is what introspection found for the stock_data table.
type TableShape struct {
	Columns    []string
	PrimaryKey []string
}

// SchemaManager creates stock_data when missing and refuses to run against a table
// with an incompatible shape. It never migrates.
type SchemaManager struct {
	logger *logger.Logger
}

// NewSchemaManager creates a schema manager.
func NewSchemaManager(log *logger.Logger) *SchemaManager {
	if log == nil {
		log = logger.Nop()
	}

	return &SchemaManager{logger: log}
}

// Ensure creates the table if it does not exist and verifies its columns and
// primary key. It is safe to call repeatedly.
func (m *SchemaManager) Ensure(ctx context.Context, s *Session) error {
	if _, err := s.Exec(ctx, s.Dialect().CreateTableSQL()); err != nil {
		if pipeerrors.HasCode(err, pipeerrors.ErrCodeSessionReleased) {
			return err
		}

		return pipeerrors.Wrapf(pipeerrors.ErrCodeSchemaCreateFailed, err, "create table %s", TableName)
	}

	shape, err := m.Describe(ctx, s)
	if err != nil {
		return err
	}

	if err := checkShape(shape); err != nil {
		m.logger.Error("Incompatible storage schema",
			zap.String("table", TableName),
			zap.Strings("columns", shape.Columns),
			zap.Strings("primary_key", shape.PrimaryKey),
			zap.Error(err),
		)

		return err
	}

	m.logger.Debug("Storage schema verified", zap.String("table", TableName), zap.String("target", s.Target()))

	return nil
}

// Describe introspects the stock_data table.
func (m *SchemaManager) Describe(ctx context.Context, s *Session) (TableShape, error) {
	switch s.Dialect().Name {
	case config.DriverSQLite:
		return describeSQLite(ctx, s)
	case config.DriverPostgres:
		return describeInformationSchema(ctx, s, postgresPrimaryKeyQuery(s.Dialect()))
	case config.DriverDuckDB:
		return describeInformationSchema(ctx, s, duckdbPrimaryKeyQuery(s.Dialect()))
	default:
		return TableShape{}, pipeerrors.Newf(pipeerrors.ErrCodeInvalidDriver, "cannot introspect driver %s", s.Dialect().Name)
	}
}

func describeSQLite(ctx context.Context, s *Session) (TableShape, error) {
	query, args, err := s.Dialect().Builder().
		Select("name", "pk").
		From(fmt.Sprintf("pragma_table_info('%s')", TableName)).
		OrderBy("cid").
		ToSql()
	if err != nil {
		return TableShape{}, pipeerrors.Wrap(pipeerrors.ErrCodeQueryFailed, "build table info query", err)
	}

	rows, err := s.Query(ctx, query, args...)
	if err != nil {
		return TableShape{}, wrapQueryErr(err, "read table info")
	}
	defer rows.Close()

	type keyColumn struct {
		name     string
		position int
	}

	var (
		shape TableShape
		keys  []keyColumn
	)

	for rows.Next() {
		var (
			name string
			pk   int
		)

		if err := rows.Scan(&name, &pk); err != nil {
			return TableShape{}, pipeerrors.Wrap(pipeerrors.ErrCodeQueryFailed, "scan table info", err)
		}

		shape.Columns = append(shape.Columns, strings.ToLower(name))

		if pk > 0 {
			keys = append(keys, keyColumn{name: strings.ToLower(name), position: pk})
		}
	}

	if err := rows.Err(); err != nil {
		return TableShape{}, pipeerrors.Wrap(pipeerrors.ErrCodeQueryFailed, "iterate table info", err)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].position < keys[j].position })

	for _, k := range keys {
		shape.PrimaryKey = append(shape.PrimaryKey, k.name)
	}

	return shape, nil
}

func postgresPrimaryKeyQuery(d Dialect) squirrel.SelectBuilder {
	return d.Builder().
		Select("kcu.column_name").
		From("information_schema.table_constraints tc").
		Join("information_schema.key_column_usage kcu ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema").
		Where(squirrel.Eq{"tc.table_name": TableName, "tc.constraint_type": "PRIMARY KEY"}).
		Where("tc.table_schema = current_schema()").
		OrderBy("kcu.ordinal_position")
}

func duckdbPrimaryKeyQuery(d Dialect) squirrel.SelectBuilder {
	return d.Builder().
		Select("unnest(constraint_column_names)").
		From("duckdb_constraints()").
		Where(squirrel.Eq{"table_name": TableName, "constraint_type": "PRIMARY KEY"})
}

func describeInformationSchema(ctx context.Context, s *Session, keyQuery squirrel.SelectBuilder) (TableShape, error) {
	columnQuery := s.Dialect().Builder().
		Select("column_name").
		From("information_schema.columns").
		Where(squirrel.Eq{"table_name": TableName}).
		OrderBy("ordinal_position")

	if s.Dialect().Name == config.DriverPostgres {
		columnQuery = columnQuery.Where("table_schema = current_schema()")
	}

	columns, err := queryStrings(ctx, s, columnQuery)
	if err != nil {
		return TableShape{}, err
	}

	keys, err := queryStrings(ctx, s, keyQuery)
	if err != nil {
		return TableShape{}, err
	}

	return TableShape{Columns: columns, PrimaryKey: keys}, nil
}

func queryStrings(ctx context.Context, s *Session, builder squirrel.SelectBuilder) ([]string, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, pipeerrors.Wrap(pipeerrors.ErrCodeQueryFailed, "build introspection query", err)
	}

	rows, err := s.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapQueryErr(err, "introspect schema")
	}
	defer rows.Close()

	var values []string

	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, pipeerrors.Wrap(pipeerrors.ErrCodeQueryFailed, "scan introspection row", err)
		}

		values = append(values, strings.ToLower(v))
	}

	if err := rows.Err(); err != nil {
		return nil, pipeerrors.Wrap(pipeerrors.ErrCodeQueryFailed, "iterate introspection rows", err)
	}

	return values, nil
}

func checkShape(shape TableShape) error {
	present := make(map[string]bool, len(shape.Columns))
	for _, c := range shape.Columns {
		present[c] = true
	}

	var missing []string

	for _, c := range Columns {
		if !present[c] {
			missing = append(missing, c)
		}
	}

	if len(missing) > 0 {
		return pipeerrors.Newf(pipeerrors.ErrCodeSchemaIncompatible,
			"table %s is missing columns: %s", TableName, strings.Join(missing, ", "))
	}

	if !sameSet(shape.PrimaryKey, PrimaryKey) {
		return pipeerrors.Newf(pipeerrors.ErrCodeSchemaIncompatible,
			"table %s has primary key (%s), want (%s)", TableName,
			strings.Join(shape.PrimaryKey, ", "), strings.Join(PrimaryKey, ", "))
	}

	return nil
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	seen := make(map[string]int, len(a))
	for _, v := range a {
		seen[v]++
	}

	for _, v := range b {
		if seen[v] == 0 {
			return false
		}

		seen[v]--
	}

	return true
}

func wrapQueryErr(err error, message string) error {
	if pipeerrors.HasCode(err, pipeerrors.ErrCodeSessionReleased) {
		return err
	}

	return pipeerrors.Wrap(pipeerrors.ErrCodeQueryFailed, message, err)
}
