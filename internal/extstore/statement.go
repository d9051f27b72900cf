package extstore

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"trafficfeed/internal/model"
)

const (
	srid            = 4326
	timestampLayout = "2006-01-02 15:04:05"
)

// BuildInsert renders one multi-row INSERT. Text is single-quoted with quotes
// doubled and NUL bytes removed; nil values render as null; model.WKT renders
// as ST_GeomFromText(..., 4326).
func BuildInsert(table string, cols []model.Column, rows [][]any) (string, error) {
	if len(rows) == 0 {
		return "", fmt.Errorf("no rows for %s", table)
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(names, ","))
	b.WriteString(") VALUES ")
	for i, row := range rows {
		if len(row) != len(cols) {
			return "", fmt.Errorf("row %d has %d values for %d columns", i, len(row), len(cols))
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('(')
		for j, v := range row {
			if j > 0 {
				b.WriteByte(',')
			}
			lit, err := Literal(v)
			if err != nil {
				return "", fmt.Errorf("row %d column %s: %w", i, cols[j].Name, err)
			}
			b.WriteString(lit)
		}
		b.WriteByte(')')
	}
	return b.String(), nil
}

func Literal(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "null", nil
	case model.WKT:
		return fmt.Sprintf("ST_GeomFromText(%s,%d)", quote(string(x)), srid), nil
	case string:
		return quote(x), nil
	case *string:
		if x == nil {
			return "null", nil
		}
		return quote(*x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case *int64:
		if x == nil {
			return "null", nil
		}
		return strconv.FormatInt(*x, 10), nil
	case int:
		return strconv.Itoa(x), nil
	case float64:
		return formatFloat(x), nil
	case *float64:
		if x == nil {
			return "null", nil
		}
		return formatFloat(*x), nil
	case bool:
		return strconv.FormatBool(x), nil
	case *bool:
		if x == nil {
			return "null", nil
		}
		return strconv.FormatBool(*x), nil
	case time.Time:
		return quote(x.Format(timestampLayout)), nil
	default:
		return "", fmt.Errorf("unsupported value %T", v)
	}
}

func quote(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "null"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// CreateTableSQL is the provisioning statement for a per-case table.
func CreateTableSQL(table string, cols []model.Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = c.Name + " " + columnType(c.Type)
	}
	return "CREATE TABLE " + table + " (" + strings.Join(defs, ", ") + ")"
}

func CartodbfySQL(table string) string {
	return "SELECT cdb_cartodbfytable(" + quote(table) + ")"
}

func columnType(t model.ColumnType) string {
	switch t {
	case model.TypeInt:
		return "int"
	case model.TypeBigInt:
		return "bigint"
	case model.TypeFloat:
		return "real"
	case model.TypeBool:
		return "bool"
	case model.TypeTimestamp:
		return "timestamp"
	case model.TypeGeometry:
		return "geometry"
	default:
		return "text"
	}
}
