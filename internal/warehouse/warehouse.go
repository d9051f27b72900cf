package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"trafficfeed/internal/config"
	"trafficfeed/internal/model"
)

// DateTime64 bounds.
var (
	minTime = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	maxTime = time.Date(2299, 12, 31, 23, 59, 59, 0, time.UTC)
)

type conn interface {
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
	Exec(ctx context.Context, query string, args ...any) error
	Ping(ctx context.Context) error
	Close() error
}

type Sink struct {
	conn   conn
	logger *slog.Logger
}

func Open(ctx context.Context, cfg config.WarehouseConfig, logger *slog.Logger) (*Sink, error) {
	c, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     cfg.DialTimeout,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := c.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return &Sink{conn: c, logger: logger}, nil
}

func (s *Sink) Close() error {
	return s.conn.Close()
}

// CreateTable provisions a per-case table. Geometry columns hold WKT text.
func (s *Sink) CreateTable(ctx context.Context, table string, cols []model.Column) error {
	if err := s.conn.Exec(ctx, CreateTableSQL(table, cols)); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

func CreateTableSQL(table string, cols []model.Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = fmt.Sprintf("\t%s %s", quoteIdent(c.Name), columnType(c.Type))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)\nENGINE = MergeTree()\nORDER BY tuple()",
		quoteIdent(table), strings.Join(defs, ",\n"))
}

func columnType(t model.ColumnType) string {
	switch t {
	case model.TypeInt, model.TypeBigInt:
		return "Nullable(Int64)"
	case model.TypeFloat:
		return "Nullable(Float64)"
	case model.TypeBool:
		return "Nullable(Bool)"
	case model.TypeTimestamp:
		return "Nullable(DateTime64(3))"
	case model.TypeGeometry:
		return "String"
	default:
		return "Nullable(String)"
	}
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func InsertSQL(table string, cols []model.Column) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = quoteIdent(c.Name)
	}
	return fmt.Sprintf("INSERT INTO %s (%s)", quoteIdent(table), strings.Join(names, ", "))
}

// Insert appends rows as one batch and returns how many were sent. Rows the
// table cannot accept are left out and reported through *PartialRowError;
// the remaining rows are still committed.
func (s *Sink) Insert(ctx context.Context, table string, cols []model.Column, rows [][]any) (int, error) {
	valid, rejected := Partition(cols, rows)
	if len(valid) > 0 {
		batch, err := s.conn.PrepareBatch(ctx, InsertSQL(table, cols))
		if err != nil {
			return 0, fmt.Errorf("prepare batch %s: %w", table, err)
		}
		for _, row := range valid {
			if err := batch.Append(row...); err != nil {
				_ = batch.Abort()
				return 0, fmt.Errorf("append %s: %w", table, err)
			}
		}
		if err := batch.Send(); err != nil {
			return 0, fmt.Errorf("send batch %s: %w", table, err)
		}
	}
	if len(rejected) > 0 {
		if s.logger != nil {
			for _, r := range rejected {
				s.logger.Warn("warehouse row rejected", "table", table, "row", r.Index, "err", r.Err)
			}
		}
		return len(valid), &PartialRowError{Table: table, Accepted: len(valid), Rejected: rejected}
	}
	return len(valid), nil
}

// Partition splits rows into those matching the column layout and the rejects.
func Partition(cols []model.Column, rows [][]any) ([][]any, []RowError) {
	valid := make([][]any, 0, len(rows))
	var rejected []RowError
	for i, row := range rows {
		if err := validateRow(cols, row); err != nil {
			rejected = append(rejected, RowError{Index: i, Err: err})
			continue
		}
		valid = append(valid, row)
	}
	return valid, rejected
}

func validateRow(cols []model.Column, row []any) error {
	if len(row) != len(cols) {
		return fmt.Errorf("row has %d values for %d columns", len(row), len(cols))
	}
	for i, c := range cols {
		if err := validateValue(c, row[i]); err != nil {
			return fmt.Errorf("column %s: %w", c.Name, err)
		}
	}
	return nil
}

func validateValue(c model.Column, v any) error {
	if v == nil {
		if c.Type == model.TypeGeometry {
			return fmt.Errorf("geometry is required")
		}
		return nil
	}
	ok := false
	switch c.Type {
	case model.TypeString:
		switch v.(type) {
		case string, *string:
			ok = true
		}
	case model.TypeGeometry:
		s, isString := v.(string)
		if isString && s == "" {
			return fmt.Errorf("geometry is empty")
		}
		ok = isString
	case model.TypeInt, model.TypeBigInt:
		switch v.(type) {
		case int64, *int64:
			ok = true
		}
	case model.TypeFloat:
		switch v.(type) {
		case float64, *float64:
			ok = true
		}
	case model.TypeBool:
		switch v.(type) {
		case bool, *bool:
			ok = true
		}
	case model.TypeTimestamp:
		var t *time.Time
		switch tv := v.(type) {
		case time.Time:
			t = &tv
		case *time.Time:
			if tv == nil {
				return nil
			}
			t = tv
		}
		if t == nil {
			break
		}
		ok = true
		if t.Before(minTime) || t.After(maxTime) {
			return fmt.Errorf("timestamp %s out of range", t.UTC().Format(time.RFC3339))
		}
	}
	if !ok {
		return fmt.Errorf("unexpected %T", v)
	}
	return nil
}

type RowError struct {
	Index int
	Err   error
}

// PartialRowError reports rows left out of an otherwise committed batch.
type PartialRowError struct {
	Table    string
	Accepted int
	Rejected []RowError
}

func (e *PartialRowError) Error() string {
	return fmt.Sprintf("%s: %d rows rejected, %d accepted", e.Table, len(e.Rejected), e.Accepted)
}
