package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"trafficfeed/internal/model"
)

const TimestampLayout = "2006-01-02 15:04:05"

// Strategy turns one raw feed record of a single kind into its three projections.
type Strategy interface {
	Kind() model.Kind
	Transform(raw []byte, floor time.Time, loc *time.Location) (Record, error)
	WarehouseColumns() []model.Column
	ExternalColumns() []model.Column
}

// Record holds the projections of one accepted feed record. Row slices are
// ordered like the strategy's column lists.
type Record struct {
	Identity     string
	Feature      *geojson.Feature
	WarehouseRow []any
	ExternalRow  []any
}

type SkipError struct {
	Kind   model.Kind
	Reason string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("skip %s record: %s", e.Kind, e.Reason)
}

func skipf(kind model.Kind, format string, args ...any) error {
	return &SkipError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func Strategies() []Strategy {
	return []Strategy{AlertStrategy{}, JamStrategy{}, IrregularityStrategy{}}
}

func col(name string, typ model.ColumnType) model.Column {
	return model.Column{Name: name, Type: typ}
}

// checkWindow converts epoch millis and rejects records older than floor.
func checkWindow(kind model.Kind, field string, ms *int64, floor time.Time, loc *time.Location) (time.Time, error) {
	if ms == nil {
		return time.Time{}, skipf(kind, "missing %s", field)
	}
	if *ms <= 0 {
		return time.Time{}, skipf(kind, "invalid %s %d", field, *ms)
	}
	ts := time.UnixMilli(*ms)
	if loc != nil {
		ts = ts.In(loc)
	}
	if ts.Before(floor) {
		return time.Time{}, skipf(kind, "%s %s predates case start %s", field, ts.Format(TimestampLayout), floor.Format(model.DayLayout))
	}
	return ts, nil
}

type vertex struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

func (v *vertex) valid() bool {
	return v != nil && v.X != nil && v.Y != nil
}

func decodeLine(kind model.Kind, line []vertex) ([][2]float64, error) {
	if len(line) == 0 {
		return nil, skipf(kind, "missing line")
	}
	out := make([][2]float64, 0, len(line))
	for i := range line {
		if !line[i].valid() {
			return nil, skipf(kind, "line vertex %d missing x/y", i)
		}
		out = append(out, [2]float64{*line[i].X, *line[i].Y})
	}
	return out, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func PointWKT(x, y float64) model.WKT {
	return model.WKT("Point(" + formatCoord(x) + " " + formatCoord(y) + ")")
}

func LineStringWKT(coords [][2]float64) model.WKT {
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = formatCoord(c[0]) + " " + formatCoord(c[1])
	}
	return model.WKT("LineString(" + strings.Join(parts, ", ") + ")")
}

func lineString(coords [][2]float64) orb.LineString {
	ls := make(orb.LineString, len(coords))
	for i, c := range coords {
		ls[i] = orb.Point{c[0], c[1]}
	}
	return ls
}

func feature(geom orb.Geometry, props geojson.Properties) *geojson.Feature {
	f := geojson.NewFeature(geom)
	f.Properties = props
	return f
}

// val unwraps optional values for feature properties so that absent fields encode as null.
func val[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
