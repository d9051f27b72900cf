package normalize

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"trafficfeed/internal/model"
)

type rawAlert struct {
	City              *string    `json:"city"`
	Confidence        flexInt    `json:"confidence"`
	NThumbsUp         flexInt    `json:"nThumbsUp"`
	Street            *string    `json:"street"`
	UUID              flexString `json:"uuid"`
	Country           *string    `json:"country"`
	Type              *string    `json:"type"`
	Subtype           *string    `json:"subtype"`
	RoadType          flexInt    `json:"roadType"`
	Reliability       flexInt    `json:"reliability"`
	Magvar            flexInt    `json:"magvar"`
	ReportRating      flexInt    `json:"reportRating"`
	PubMillis         flexInt    `json:"pubMillis"`
	ReportDescription *string    `json:"reportDescription"`
	Location          *vertex    `json:"location"`
}

type AlertStrategy struct{}

func (AlertStrategy) Kind() model.Kind { return model.KindAlerts }

var alertColumns = []model.Column{
	col("city", model.TypeString),
	col("confidence", model.TypeInt),
	col("nThumbsUp", model.TypeInt),
	col("street", model.TypeString),
	col("uuid", model.TypeString),
	col("country", model.TypeString),
	col("type", model.TypeString),
	col("subtype", model.TypeString),
	col("roadType", model.TypeInt),
	col("reliability", model.TypeInt),
	col("magvar", model.TypeInt),
	col("reportRating", model.TypeInt),
	col("ms", model.TypeBigInt),
	col("ts", model.TypeTimestamp),
	col("reportDescription", model.TypeString),
}

func (AlertStrategy) WarehouseColumns() []model.Column {
	return withGeo(alertColumns)
}

func (AlertStrategy) ExternalColumns() []model.Column {
	return withTheGeom(alertColumns)
}

func (s AlertStrategy) Transform(raw []byte, floor time.Time, loc *time.Location) (Record, error) {
	kind := s.Kind()
	var r rawAlert
	if err := json.Unmarshal(raw, &r); err != nil {
		return Record{}, skipf(kind, "malformed record: %v", err)
	}
	ts, err := checkWindow(kind, "pubMillis", r.PubMillis.ptr(), floor, loc)
	if err != nil {
		return Record{}, err
	}
	if r.UUID.empty() {
		return Record{}, skipf(kind, "missing uuid")
	}
	if !r.Location.valid() {
		return Record{}, skipf(kind, "missing location")
	}
	a := model.Alert{
		City:              r.City,
		Confidence:        r.Confidence.ptr(),
		NThumbsUp:         r.NThumbsUp.ptr(),
		Street:            r.Street,
		UUID:              r.UUID.String(),
		Country:           r.Country,
		Type:              r.Type,
		Subtype:           r.Subtype,
		RoadType:          r.RoadType.ptr(),
		Reliability:       r.Reliability.ptr(),
		Magvar:            r.Magvar.ptr(),
		ReportRating:      r.ReportRating.ptr(),
		PubMillis:         *r.PubMillis.ptr(),
		Timestamp:         ts,
		ReportDescription: r.ReportDescription,
		Longitude:         *r.Location.X,
		Latitude:          *r.Location.Y,
	}
	return alertRecord(a), nil
}

func alertRecord(a model.Alert) Record {
	wkt := PointWKT(a.Longitude, a.Latitude)
	ms := a.PubMillis
	props := geojson.Properties{
		"city":              val(a.City),
		"street":            val(a.Street),
		"confidence":        val(a.Confidence),
		"nThumbsUp":         val(a.NThumbsUp),
		"uuid":              a.UUID,
		"country":           val(a.Country),
		"subtype":           val(a.Subtype),
		"roadType":          val(a.RoadType),
		"reliability":       val(a.Reliability),
		"magvar":            val(a.Magvar),
		"type":              val(a.Type),
		"reportRating":      val(a.ReportRating),
		"pubMillis":         ms,
		"timestamp":         a.Timestamp.Format(TimestampLayout),
		"reportDescription": val(a.ReportDescription),
	}
	common := func(fold func(*string) *string, uuid string, ts any) []any {
		return []any{
			fold(a.City), a.Confidence, a.NThumbsUp, fold(a.Street), uuid,
			fold(a.Country), fold(a.Type), fold(a.Subtype), a.RoadType, a.Reliability,
			a.Magvar, a.ReportRating, ms, ts, fold(a.ReportDescription),
		}
	}
	keep := func(p *string) *string { return p }
	warehouse := append(common(keep, a.UUID, a.Timestamp), string(wkt), string(wkt))
	external := append(common(asciiPtr, ASCII(a.UUID), a.Timestamp.Format(TimestampLayout)), wkt)
	return Record{
		Identity:     a.UUID,
		Feature:      feature(orb.Point{a.Longitude, a.Latitude}, props),
		WarehouseRow: warehouse,
		ExternalRow:  external,
	}
}

func withGeo(cols []model.Column) []model.Column {
	out := make([]model.Column, 0, len(cols)+2)
	out = append(out, cols...)
	return append(out, col("geo", model.TypeGeometry), col("geoWKT", model.TypeString))
}

func withTheGeom(cols []model.Column) []model.Column {
	out := make([]model.Column, 0, len(cols)+1)
	out = append(out, cols...)
	return append(out, col("the_geom", model.TypeGeometry))
}
