package normalize

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb/geojson"

	"trafficfeed/internal/model"
)

type rawJam struct {
	City      *string         `json:"city"`
	TurnType  *string         `json:"turnType"`
	Level     flexInt         `json:"level"`
	Country   *string         `json:"country"`
	Segments  json.RawMessage `json:"segments"`
	SpeedKMH  flexFloat       `json:"speedKMH"`
	RoadType  flexInt         `json:"roadType"`
	Delay     flexInt         `json:"delay"`
	Length    flexInt         `json:"length"`
	Street    *string         `json:"street"`
	PubMillis flexInt         `json:"pubMillis"`
	EndNode   *string         `json:"endNode"`
	Type      *string         `json:"type"`
	ID        flexInt         `json:"id"`
	Speed     flexFloat       `json:"speed"`
	UUID      flexString      `json:"uuid"`
	StartNode *string         `json:"startNode"`
	Line      []vertex        `json:"line"`
}

type JamStrategy struct{}

func (JamStrategy) Kind() model.Kind { return model.KindJams }

var jamColumns = []model.Column{
	col("city", model.TypeString),
	col("turntype", model.TypeString),
	col("level", model.TypeInt),
	col("country", model.TypeString),
	col("speedKMH", model.TypeFloat),
	col("delay", model.TypeInt),
	col("length", model.TypeInt),
	col("street", model.TypeString),
	col("ms", model.TypeBigInt),
	col("ts", model.TypeTimestamp),
	col("endNode", model.TypeString),
	col("type", model.TypeString),
	col("id", model.TypeBigInt),
	col("speed", model.TypeFloat),
	col("uuid", model.TypeString),
	col("startNode", model.TypeString),
}

func (JamStrategy) WarehouseColumns() []model.Column {
	return withGeo(jamColumns)
}

func (JamStrategy) ExternalColumns() []model.Column {
	return withTheGeom(jamColumns)
}

func (s JamStrategy) Transform(raw []byte, floor time.Time, loc *time.Location) (Record, error) {
	kind := s.Kind()
	var r rawJam
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
	line, err := decodeLine(kind, r.Line)
	if err != nil {
		return Record{}, err
	}
	var segments any
	if len(r.Segments) > 0 {
		if err := json.Unmarshal(r.Segments, &segments); err != nil {
			return Record{}, skipf(kind, "malformed segments: %v", err)
		}
	}
	j := model.Jam{
		City:      r.City,
		TurnType:  r.TurnType,
		Level:     r.Level.ptr(),
		Country:   r.Country,
		Segments:  segments,
		SpeedKMH:  r.SpeedKMH.ptr(),
		RoadType:  r.RoadType.ptr(),
		Delay:     r.Delay.ptr(),
		Length:    r.Length.ptr(),
		Street:    r.Street,
		PubMillis: *r.PubMillis.ptr(),
		Timestamp: ts,
		EndNode:   r.EndNode,
		Type:      r.Type,
		ID:        r.ID.ptr(),
		Speed:     r.Speed.ptr(),
		UUID:      r.UUID.String(),
		StartNode: r.StartNode,
		Line:      line,
	}
	return jamRecord(j), nil
}

func jamRecord(j model.Jam) Record {
	wkt := LineStringWKT(j.Line)
	props := geojson.Properties{
		"city":      val(j.City),
		"turnType":  val(j.TurnType),
		"level":     val(j.Level),
		"country":   val(j.Country),
		"segments":  j.Segments,
		"speedKMH":  val(j.SpeedKMH),
		"roadType":  val(j.RoadType),
		"delay":     val(j.Delay),
		"length":    val(j.Length),
		"street":    val(j.Street),
		"pubMillis": j.PubMillis,
		"timestamp": j.Timestamp.Format(TimestampLayout),
		"endNode":   val(j.EndNode),
		"type":      val(j.Type),
		"id":        val(j.ID),
		"speed":     val(j.Speed),
		"uuid":      j.UUID,
		"startNode": val(j.StartNode),
	}
	warehouse := []any{
		j.City, j.TurnType, j.Level, j.Country, j.SpeedKMH, j.Delay, j.Length, j.Street,
		j.PubMillis, j.Timestamp, j.EndNode, j.Type, j.ID, j.Speed, j.UUID, j.StartNode,
		string(wkt), string(wkt),
	}
	external := []any{
		asciiPtr(j.City), asciiPtr(j.TurnType), j.Level, asciiPtr(j.Country), j.SpeedKMH,
		j.Delay, j.Length, asciiPtr(j.Street), j.PubMillis, j.Timestamp.Format(TimestampLayout),
		asciiPtr(j.EndNode), asciiPtr(j.Type), j.ID, j.Speed, j.UUID, asciiPtr(j.StartNode),
		wkt,
	}
	return Record{
		Identity:     j.UUID,
		Feature:      feature(lineString(j.Line), props),
		WarehouseRow: warehouse,
		ExternalRow:  external,
	}
}
