package normalize

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"trafficfeed/internal/model"
)

// 2024-01-01 12:00:00 UTC
const noonMillis = 1704110400000

func testFloor() time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
}

func isSkip(err error) bool {
	var skip *SkipError
	return errors.As(err, &skip)
}

func TestAlertTransform(t *testing.T) {
	raw := []byte(`{"uuid":"a-1","pubMillis":1704110400000,"city":"Café","street":"Rua São João","type":"JAM","confidence":3,"location":{"x":1,"y":2}}`)
	rec, err := AlertStrategy{}.Transform(raw, testFloor(), time.UTC)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if rec.Identity != "a-1" {
		t.Fatalf("identity: %s", rec.Identity)
	}
	if rec.Feature.Properties["city"] != "Café" {
		t.Fatalf("feature city: %v", rec.Feature.Properties["city"])
	}
	if rec.Feature.Properties["timestamp"] != "2024-01-01 12:00:00" {
		t.Fatalf("timestamp: %v", rec.Feature.Properties["timestamp"])
	}
	if pt, ok := rec.Feature.Geometry.(orb.Point); !ok || pt[0] != 1 || pt[1] != 2 {
		t.Fatalf("geometry: %#v", rec.Feature.Geometry)
	}
	cols := AlertStrategy{}.ExternalColumns()
	if len(rec.ExternalRow) != len(cols) || len(rec.WarehouseRow) != len(AlertStrategy{}.WarehouseColumns()) {
		t.Fatalf("row widths: external %d warehouse %d", len(rec.ExternalRow), len(rec.WarehouseRow))
	}
	if city := rec.ExternalRow[0].(*string); *city != "Cafe" {
		t.Fatalf("external city: %s", *city)
	}
	if street := rec.ExternalRow[3].(*string); *street != "Rua Sao Joao" {
		t.Fatalf("external street: %s", *street)
	}
	if city := rec.WarehouseRow[0].(*string); *city != "Café" {
		t.Fatalf("warehouse city: %s", *city)
	}
	if geom := rec.ExternalRow[len(cols)-1]; geom != model.WKT("Point(1 2)") {
		t.Fatalf("external geometry: %v", geom)
	}
	if geo := rec.WarehouseRow[len(rec.WarehouseRow)-1]; geo != "Point(1 2)" {
		t.Fatalf("warehouse wkt: %v", geo)
	}
	if rec.ExternalRow[1] == nil || rec.ExternalRow[2].(*int64) != nil {
		t.Fatalf("optional ints should stay pointers")
	}
}

func TestAlertBeforeFloorSkipped(t *testing.T) {
	raw := []byte(`{"uuid":"a-1","pubMillis":1704067199000,"location":{"x":1,"y":2}}`)
	_, err := AlertStrategy{}.Transform(raw, testFloor(), time.UTC)
	if !isSkip(err) {
		t.Fatalf("expected skip, got %v", err)
	}
}

func TestAlertAtFloorAccepted(t *testing.T) {
	raw := []byte(`{"uuid":"a-1","pubMillis":1704067200000,"location":{"x":1,"y":2}}`)
	if _, err := (AlertStrategy{}).Transform(raw, testFloor(), time.UTC); err != nil {
		t.Fatalf("record at floor should pass: %v", err)
	}
}

func TestAlertFloorUsesLocation(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	floor := time.Date(2024, 1, 1, 0, 0, 0, 0, loc)
	// 2024-01-01 01:00 UTC is still Dec 31 in BRT.
	raw := []byte(`{"uuid":"a-1","pubMillis":1704070800000,"location":{"x":1,"y":2}}`)
	if _, err := (AlertStrategy{}).Transform(raw, floor, loc); !isSkip(err) {
		t.Fatalf("expected skip in local zone, got %v", err)
	}
}

func TestAlertSkips(t *testing.T) {
	cases := map[string]string{
		"missing uuid":     `{"pubMillis":1704110400000,"location":{"x":1,"y":2}}`,
		"empty uuid":       `{"uuid":"","pubMillis":1704110400000,"location":{"x":1,"y":2}}`,
		"missing millis":   `{"uuid":"a","location":{"x":1,"y":2}}`,
		"missing location": `{"uuid":"a","pubMillis":1704110400000}`,
		"partial location": `{"uuid":"a","pubMillis":1704110400000,"location":{"x":1}}`,
		"malformed":        `{"uuid":`,
		"wrong type":       `{"uuid":"a","pubMillis":"yesterday","location":{"x":1,"y":2}}`,
	}
	for name, raw := range cases {
		if _, err := (AlertStrategy{}).Transform([]byte(raw), testFloor(), time.UTC); !isSkip(err) {
			t.Fatalf("%s: expected skip, got %v", name, err)
		}
	}
}

func TestNumericUUIDAccepted(t *testing.T) {
	raw := []byte(`{"uuid":98765,"pubMillis":1704110400000,"location":{"x":1,"y":2}}`)
	rec, err := AlertStrategy{}.Transform(raw, testFloor(), time.UTC)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if rec.Identity != "98765" {
		t.Fatalf("identity: %s", rec.Identity)
	}
}

func TestJamTransform(t *testing.T) {
	raw := []byte(`{"uuid":"j-1","id":77,"pubMillis":1704110400000,"street":"Avenida Paulista","speedKMH":12.5,
		"segments":[{"fromNode":1,"toNode":2}],"line":[{"x":-46.6,"y":-23.5},{"x":-46.61,"y":-23.51}]}`)
	rec, err := JamStrategy{}.Transform(raw, testFloor(), time.UTC)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if rec.Identity != "j-1" {
		t.Fatalf("identity: %s", rec.Identity)
	}
	ls, ok := rec.Feature.Geometry.(orb.LineString)
	if !ok || len(ls) != 2 {
		t.Fatalf("geometry: %#v", rec.Feature.Geometry)
	}
	want := model.WKT("LineString(-46.6 -23.5, -46.61 -23.51)")
	if got := rec.ExternalRow[len(rec.ExternalRow)-1]; got != want {
		t.Fatalf("wkt: %v", got)
	}
	if segs, ok := rec.Feature.Properties["segments"].([]any); !ok || len(segs) != 1 {
		t.Fatalf("segments: %#v", rec.Feature.Properties["segments"])
	}
	if len(rec.WarehouseRow) != len(JamStrategy{}.WarehouseColumns()) {
		t.Fatalf("warehouse width: %d", len(rec.WarehouseRow))
	}
}

func TestJamMissingLineSkipped(t *testing.T) {
	cases := []string{
		`{"uuid":"j-1","pubMillis":1704110400000}`,
		`{"uuid":"j-1","pubMillis":1704110400000,"line":[]}`,
		`{"uuid":"j-1","pubMillis":1704110400000,"line":[{"x":1}]}`,
	}
	for _, raw := range cases {
		if _, err := (JamStrategy{}).Transform([]byte(raw), testFloor(), time.UTC); !isSkip(err) {
			t.Fatalf("%s: expected skip, got %v", raw, err)
		}
	}
}

func TestIrregularityIdentityIncludesUpdate(t *testing.T) {
	first := []byte(`{"id":"42","detectionDateMillis":1704110400000,"updateDateMillis":1704110460000,"line":[{"x":1,"y":2},{"x":3,"y":4}]}`)
	second := []byte(`{"id":"42","detectionDateMillis":1704110400000,"updateDateMillis":1704110520000,"line":[{"x":1,"y":2},{"x":3,"y":4}]}`)
	a, err := IrregularityStrategy{}.Transform(first, testFloor(), time.UTC)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	b, err := IrregularityStrategy{}.Transform(second, testFloor(), time.UTC)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if a.Identity != "421704110460000" {
		t.Fatalf("identity: %s", a.Identity)
	}
	if a.Identity == b.Identity {
		t.Fatalf("updates must produce distinct identities")
	}
	if a.Feature.Properties["updateDateTS"] != "2024-01-01 12:01:00" {
		t.Fatalf("update ts: %v", a.Feature.Properties["updateDateTS"])
	}
}

func TestIrregularityCauseAlertAndSkips(t *testing.T) {
	raw := []byte(`{"id":7,"detectionDateMillis":1704110400000,"updateDateMillis":1704110400000,"highway":true,
		"causeAlert":{"uuid":"c-1"},"line":[{"x":1,"y":2},{"x":3,"y":4}]}`)
	rec, err := IrregularityStrategy{}.Transform(raw, testFloor(), time.UTC)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if rec.Feature.Properties["causeAlertUUID"] != "c-1" || rec.Feature.Properties["highway"] != true {
		t.Fatalf("properties: %#v", rec.Feature.Properties)
	}
	if len(rec.ExternalRow) != len(IrregularityStrategy{}.ExternalColumns()) {
		t.Fatalf("external width: %d", len(rec.ExternalRow))
	}

	noUpdate := []byte(`{"id":"7","detectionDateMillis":1704110400000,"line":[{"x":1,"y":2}]}`)
	if _, err := (IrregularityStrategy{}).Transform(noUpdate, testFloor(), time.UTC); !isSkip(err) {
		t.Fatalf("expected skip without updateDateMillis, got %v", err)
	}
	old := []byte(`{"id":"7","detectionDateMillis":1703980800000,"updateDateMillis":1704110400000,"line":[{"x":1,"y":2}]}`)
	if _, err := (IrregularityStrategy{}).Transform(old, testFloor(), time.UTC); !isSkip(err) {
		t.Fatalf("expected skip for old detection, got %v", err)
	}
}

func TestMistypedOptionalFieldsBecomeNull(t *testing.T) {
	raw := []byte(`{"uuid":"a-1","pubMillis":1704110400000,"magvar":2.5,"confidence":"3","nThumbsUp":{"n":1},
		"roadType":7.0,"location":{"x":1,"y":2}}`)
	rec, err := AlertStrategy{}.Transform(raw, testFloor(), time.UTC)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	props := rec.Feature.Properties
	if props["magvar"] != nil || props["nThumbsUp"] != nil {
		t.Fatalf("mistyped values should be null: %#v", props)
	}
	if props["confidence"] != int64(3) || props["roadType"] != int64(7) {
		t.Fatalf("numeric values: %#v", props)
	}

	jam := []byte(`{"uuid":"j-1","pubMillis":1704110400000,"level":"3","speed":"fast","line":[{"x":1,"y":2},{"x":3,"y":4}]}`)
	rec, err = JamStrategy{}.Transform(jam, testFloor(), time.UTC)
	if err != nil {
		t.Fatalf("jam transform: %v", err)
	}
	if rec.Feature.Properties["level"] != int64(3) || rec.Feature.Properties["speed"] != nil {
		t.Fatalf("jam properties: %#v", rec.Feature.Properties)
	}

	irr := []byte(`{"id":"9","detectionDateMillis":1704110400000,"updateDateMillis":1704110400000,"highway":"yes",
		"severity":1.5,"line":[{"x":1,"y":2},{"x":3,"y":4}]}`)
	rec, err = IrregularityStrategy{}.Transform(irr, testFloor(), time.UTC)
	if err != nil {
		t.Fatalf("irregularity transform: %v", err)
	}
	if rec.Feature.Properties["highway"] != nil || rec.Feature.Properties["severity"] != nil {
		t.Fatalf("irregularity properties: %#v", rec.Feature.Properties)
	}
}

func TestIrregularityFeatureKeepsFeedIDType(t *testing.T) {
	numeric := []byte(`{"id":7,"detectionDateMillis":1704110400000,"updateDateMillis":1704110400000,"line":[{"x":1,"y":2},{"x":3,"y":4}]}`)
	rec, err := IrregularityStrategy{}.Transform(numeric, testFloor(), time.UTC)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	data, err := rec.Feature.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"id":7`) {
		t.Fatalf("numeric id should stay a number: %s", data)
	}
	if rec.Identity != "71704110400000" || rec.WarehouseRow[5] != "7" {
		t.Fatalf("identity %s row id %#v", rec.Identity, rec.WarehouseRow[5])
	}

	text := []byte(`{"id":"abc","detectionDateMillis":1704110400000,"updateDateMillis":1704110400000,"line":[{"x":1,"y":2},{"x":3,"y":4}]}`)
	rec, err = IrregularityStrategy{}.Transform(text, testFloor(), time.UTC)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if rec.Feature.Properties["id"] != "abc" {
		t.Fatalf("string id: %#v", rec.Feature.Properties["id"])
	}
}

func TestASCII(t *testing.T) {
	cases := map[string]string{
		"Café":        "Cafe",
		"São Paulo":   "Sao Paulo",
		"Straße":      "Strasse",
		"Łódź":        "Lodz",
		"ﬁeld":        "field",
		"plain ascii": "plain ascii",
		"東京":          "",
	}
	for in, want := range cases {
		if got := ASCII(in); got != want {
			t.Fatalf("ASCII(%q) = %q, want %q", in, got, want)
		}
	}
}

