package pipeline

import (
	"fmt"

	"trafficfeed/internal/model"
)

const (
	SinkGeometry  = "geometry"
	SinkWarehouse = "warehouse"
	SinkExternal  = "external"
)

// DedupStoreError aborts one kind of a cycle before any sink write.
type DedupStoreError struct {
	CaseID   string
	Kind     model.Kind
	Identity string
	Op       string
	Err      error
}

func (e *DedupStoreError) Error() string {
	return fmt.Sprintf("dedup store %s %s/%s/%s: %v", e.Op, e.CaseID, e.Kind, e.Identity, e.Err)
}

func (e *DedupStoreError) Unwrap() error {
	return e.Err
}

// SinkWriteError is a failed sink write. It is logged and recorded as an
// incident; the cycle carries on.
type SinkWriteError struct {
	Sink     string
	CaseID   string
	Kind     model.Kind
	Cycle    int64
	Artifact string
	Err      error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("%s sink %s/%s cycle %d: %v", e.Sink, e.CaseID, e.Kind, e.Cycle, e.Err)
}

func (e *SinkWriteError) Unwrap() error {
	return e.Err
}
