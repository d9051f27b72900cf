package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"trafficfeed/internal/model"
)

func TestStoreKeepsLastReport(t *testing.T) {
	s := NewStore(10)
	s.Update(model.CycleReport{CaseID: "a", Cycle: 1})
	s.Update(model.CycleReport{CaseID: "a", Cycle: 2})
	st, ok := s.Get("a")
	if !ok {
		t.Fatalf("missing stats")
	}
	if st.Last.Cycle != 2 || st.Cycles != 2 {
		t.Fatalf("stats: %+v", st)
	}
	if _, ok := s.Get("b"); ok {
		t.Fatalf("unexpected stats for b")
	}
}

func TestStoreEvictsOldest(t *testing.T) {
	s := NewStore(2)
	s.Update(model.CycleReport{CaseID: "a"})
	time.Sleep(2 * time.Millisecond)
	s.Update(model.CycleReport{CaseID: "b"})
	time.Sleep(2 * time.Millisecond)
	s.Update(model.CycleReport{CaseID: "c"})
	ids := s.CaseIDs()
	if len(ids) != 2 || ids[0] != "b" || ids[1] != "c" {
		t.Fatalf("ids: %v", ids)
	}
}

func TestObserveReport(t *testing.T) {
	before := testutil.ToFloat64(RecordsTotal.WithLabelValues("jams", "new"))
	ObserveReport(&model.CycleReport{Kinds: []model.KindReport{{Kind: model.KindJams, Received: 3, New: 2}}}, "ok")
	after := testutil.ToFloat64(RecordsTotal.WithLabelValues("jams", "new"))
	if after-before != 2 {
		t.Fatalf("new counter delta: %v", after-before)
	}
}
