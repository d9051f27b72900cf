package normalize

import (
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb/geojson"

	"trafficfeed/internal/model"
)

type rawIrregularity struct {
	Trend               flexInt    `json:"trend"`
	Street              *string    `json:"street"`
	EndNode             *string    `json:"endNode"`
	NImages             flexInt    `json:"nImages"`
	Speed               flexFloat  `json:"speed"`
	ID                  flexString `json:"id"`
	Severity            flexInt    `json:"severity"`
	Type                *string    `json:"type"`
	Highway             flexBool   `json:"highway"`
	NThumbsUp           flexInt    `json:"nThumbsUp"`
	Seconds             flexInt    `json:"seconds"`
	AlertsCount         flexInt    `json:"alertsCount"`
	DriversCount        flexInt    `json:"driversCount"`
	StartNode           *string    `json:"startNode"`
	RegularSpeed        flexFloat  `json:"regularSpeed"`
	Country             *string    `json:"country"`
	Length              flexInt    `json:"length"`
	DelaySeconds        flexInt    `json:"delaySeconds"`
	JamLevel            flexInt    `json:"jamLevel"`
	NComments           flexInt    `json:"nComments"`
	City                *string    `json:"city"`
	CauseType           *string    `json:"causeType"`
	DetectionDateMillis flexInt    `json:"detectionDateMillis"`
	UpdateDateMillis    flexInt    `json:"updateDateMillis"`
	CauseAlert          *struct {
		UUID flexString `json:"uuid"`
	} `json:"causeAlert"`
	Line []vertex `json:"line"`
}

type IrregularityStrategy struct{}

func (IrregularityStrategy) Kind() model.Kind { return model.KindIrregularities }

var irregularityColumns = []model.Column{
	col("trend", model.TypeInt),
	col("street", model.TypeString),
	col("endNode", model.TypeString),
	col("nImages", model.TypeInt),
	col("speed", model.TypeFloat),
	col("id", model.TypeString),
	col("severity", model.TypeInt),
	col("type", model.TypeString),
	col("highway", model.TypeBool),
	col("nThumbsUp", model.TypeInt),
	col("seconds", model.TypeInt),
	col("alertsCount", model.TypeInt),
	col("detectionDateMS", model.TypeBigInt),
	col("detectionDateTS", model.TypeTimestamp),
	col("driversCount", model.TypeInt),
	col("startNode", model.TypeString),
	col("updateDateMS", model.TypeBigInt),
	col("updateDateTS", model.TypeTimestamp),
	col("regularSpeed", model.TypeFloat),
	col("country", model.TypeString),
	col("length", model.TypeInt),
	col("delaySeconds", model.TypeInt),
	col("jamLevel", model.TypeInt),
	col("nComments", model.TypeInt),
	col("city", model.TypeString),
	col("causeType", model.TypeString),
	col("causeAlertUUID", model.TypeString),
}

func (IrregularityStrategy) WarehouseColumns() []model.Column {
	return withGeo(irregularityColumns)
}

func (IrregularityStrategy) ExternalColumns() []model.Column {
	return withTheGeom(irregularityColumns)
}

// Transform windows irregularities on detection time. The identity carries the
// update time so every update lands as a new row.
func (s IrregularityStrategy) Transform(raw []byte, floor time.Time, loc *time.Location) (Record, error) {
	kind := s.Kind()
	var r rawIrregularity
	if err := json.Unmarshal(raw, &r); err != nil {
		return Record{}, skipf(kind, "malformed record: %v", err)
	}
	detected, err := checkWindow(kind, "detectionDateMillis", r.DetectionDateMillis.ptr(), floor, loc)
	if err != nil {
		return Record{}, err
	}
	if r.UpdateDateMillis.ptr() == nil {
		return Record{}, skipf(kind, "missing updateDateMillis")
	}
	if r.ID.empty() {
		return Record{}, skipf(kind, "missing id")
	}
	line, err := decodeLine(kind, r.Line)
	if err != nil {
		return Record{}, err
	}
	updated := time.UnixMilli(*r.UpdateDateMillis.ptr())
	if loc != nil {
		updated = updated.In(loc)
	}
	var causeUUID *string
	if r.CauseAlert != nil && !r.CauseAlert.UUID.empty() {
		v := r.CauseAlert.UUID.String()
		causeUUID = &v
	}
	irr := model.Irregularity{
		Trend:           r.Trend.ptr(),
		Street:          r.Street,
		EndNode:         r.EndNode,
		NImages:         r.NImages.ptr(),
		Speed:           r.Speed.ptr(),
		ID:              r.ID.String(),
		Severity:        r.Severity.ptr(),
		Type:            r.Type,
		Highway:         r.Highway.ptr(),
		NThumbsUp:       r.NThumbsUp.ptr(),
		Seconds:         r.Seconds.ptr(),
		AlertsCount:     r.AlertsCount.ptr(),
		DriversCount:    r.DriversCount.ptr(),
		StartNode:       r.StartNode,
		RegularSpeed:    r.RegularSpeed.ptr(),
		Country:         r.Country,
		Length:          r.Length.ptr(),
		DelaySeconds:    r.DelaySeconds.ptr(),
		JamLevel:        r.JamLevel.ptr(),
		NComments:       r.NComments.ptr(),
		City:            r.City,
		CauseType:       r.CauseType,
		CauseAlertUUID:  causeUUID,
		DetectionMillis: *r.DetectionDateMillis.ptr(),
		DetectionTime:   detected,
		UpdateMillis:    *r.UpdateDateMillis.ptr(),
		UpdateTime:      updated,
		Line:            line,
	}
	return irregularityRecord(irr, r.ID.Value()), nil
}

func IrregularityIdentity(id string, updateMillis int64) string {
	return id + strconv.FormatInt(updateMillis, 10)
}

// featureID is the id as sent by the feed; rows and identity use its text form.
func irregularityRecord(irr model.Irregularity, featureID any) Record {
	wkt := LineStringWKT(irr.Line)
	detectedTS := irr.DetectionTime.Format(TimestampLayout)
	updatedTS := irr.UpdateTime.Format(TimestampLayout)
	props := geojson.Properties{
		"trend":           val(irr.Trend),
		"street":          val(irr.Street),
		"endNode":         val(irr.EndNode),
		"nImages":         val(irr.NImages),
		"speed":           val(irr.Speed),
		"id":              featureID,
		"severity":        val(irr.Severity),
		"type":            val(irr.Type),
		"highway":         val(irr.Highway),
		"nThumbsUp":       val(irr.NThumbsUp),
		"seconds":         val(irr.Seconds),
		"alertsCount":     val(irr.AlertsCount),
		"driversCount":    val(irr.DriversCount),
		"startNode":       val(irr.StartNode),
		"regularSpeed":    val(irr.RegularSpeed),
		"country":         val(irr.Country),
		"length":          val(irr.Length),
		"delaySeconds":    val(irr.DelaySeconds),
		"jamLevel":        val(irr.JamLevel),
		"nComments":       val(irr.NComments),
		"city":            val(irr.City),
		"causeType":       val(irr.CauseType),
		"detectionDateMS": irr.DetectionMillis,
		"detectionDateTS": detectedTS,
		"updateDateMS":    irr.UpdateMillis,
		"updateDateTS":    updatedTS,
		"causeAlertUUID":  val(irr.CauseAlertUUID),
	}
	warehouse := []any{
		irr.Trend, irr.Street, irr.EndNode, irr.NImages, irr.Speed, irr.ID, irr.Severity,
		irr.Type, irr.Highway, irr.NThumbsUp, irr.Seconds, irr.AlertsCount,
		irr.DetectionMillis, irr.DetectionTime, irr.DriversCount, irr.StartNode,
		irr.UpdateMillis, irr.UpdateTime, irr.RegularSpeed, irr.Country, irr.Length,
		irr.DelaySeconds, irr.JamLevel, irr.NComments, irr.City, irr.CauseType,
		irr.CauseAlertUUID, string(wkt), string(wkt),
	}
	external := []any{
		irr.Trend, asciiPtr(irr.Street), asciiPtr(irr.EndNode), irr.NImages, irr.Speed,
		ASCII(irr.ID), irr.Severity, asciiPtr(irr.Type), irr.Highway, irr.NThumbsUp,
		irr.Seconds, irr.AlertsCount, irr.DetectionMillis, detectedTS, irr.DriversCount,
		asciiPtr(irr.StartNode), irr.UpdateMillis, updatedTS, irr.RegularSpeed,
		asciiPtr(irr.Country), irr.Length, irr.DelaySeconds, irr.JamLevel, irr.NComments,
		asciiPtr(irr.City), asciiPtr(irr.CauseType), asciiPtr(irr.CauseAlertUUID), wkt,
	}
	return Record{
		Identity:     IrregularityIdentity(irr.ID, irr.UpdateMillis),
		Feature:      feature(lineString(irr.Line), props),
		WarehouseRow: warehouse,
		ExternalRow:  external,
	}
}
