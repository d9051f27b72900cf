package model

import (
	"fmt"
	"strings"
	"time"
)

const DayLayout = "2006-01-02"

type Kind string

const (
	KindAlerts         Kind = "alerts"
	KindJams           Kind = "jams"
	KindIrregularities Kind = "irregularities"
)

var Kinds = []Kind{KindAlerts, KindJams, KindIrregularities}

type Case struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CreatedDay string `json:"created_day"`
}

// Floor is local midnight of the case's creation day; records older than it are never ingested.
func (c Case) Floor(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	day, err := time.ParseInLocation(DayLayout, strings.TrimSpace(c.CreatedDay), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("case %s: parse created day: %w", c.ID, err)
	}
	return day, nil
}

func TableName(kind Kind, caseID string) string {
	return string(kind) + "_" + strings.ReplaceAll(caseID, "-", "_")
}

type Alert struct {
	City              *string
	Confidence        *int64
	NThumbsUp         *int64
	Street            *string
	UUID              string
	Country           *string
	Type              *string
	Subtype           *string
	RoadType          *int64
	Reliability       *int64
	Magvar            *int64
	ReportRating      *int64
	PubMillis         int64
	Timestamp         time.Time
	ReportDescription *string
	Longitude         float64
	Latitude          float64
}

type Jam struct {
	City      *string
	TurnType  *string
	Level     *int64
	Country   *string
	Segments  any
	SpeedKMH  *float64
	RoadType  *int64
	Delay     *int64
	Length    *int64
	Street    *string
	PubMillis int64
	Timestamp time.Time
	EndNode   *string
	Type      *string
	ID        *int64
	Speed     *float64
	UUID      string
	StartNode *string
	Line      [][2]float64
}

type Irregularity struct {
	Trend           *int64
	Street          *string
	EndNode         *string
	NImages         *int64
	Speed           *float64
	ID              string
	Severity        *int64
	Type            *string
	Highway         *bool
	NThumbsUp       *int64
	Seconds         *int64
	AlertsCount     *int64
	DriversCount    *int64
	StartNode       *string
	RegularSpeed    *float64
	Country         *string
	Length          *int64
	DelaySeconds    *int64
	JamLevel        *int64
	NComments       *int64
	City            *string
	CauseType       *string
	CauseAlertUUID  *string
	DetectionMillis int64
	DetectionTime   time.Time
	UpdateMillis    int64
	UpdateTime      time.Time
	Line            [][2]float64
}

type KindReport struct {
	Kind          Kind   `json:"kind"`
	Received      int    `json:"received"`
	Skipped       int    `json:"skipped"`
	Features      int    `json:"features"`
	Duplicates    int    `json:"duplicates"`
	New           int    `json:"new"`
	WarehouseRows int    `json:"warehouse_rows"`
	ExternalRows  int    `json:"external_rows"`
	SinkErrors    int    `json:"sink_errors"`
	Aborted       bool   `json:"aborted,omitempty"`
	Error         string `json:"error,omitempty"`
}

type Incident struct {
	Timestamp time.Time `json:"timestamp"`
	CaseID    string    `json:"case_id"`
	Kind      Kind      `json:"kind"`
	Cycle     int64     `json:"cycle"`
	Sink      string    `json:"sink"`
	Error     string    `json:"error"`
	Artifact  string    `json:"artifact,omitempty"`
}

type ColumnType int

const (
	TypeString ColumnType = iota
	TypeInt
	TypeBigInt
	TypeFloat
	TypeBool
	TypeTimestamp
	TypeGeometry
)

type Column struct {
	Name string
	Type ColumnType
}

// WKT is geometry text destined for a spatial column.
type WKT string

type CycleReport struct {
	CaseID    string        `json:"case_id"`
	Cycle     int64         `json:"cycle"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Kinds     []KindReport  `json:"kinds"`
	Error     string        `json:"error,omitempty"`
}
