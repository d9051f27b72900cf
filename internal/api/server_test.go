package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"trafficfeed/internal/cases"
	"trafficfeed/internal/config"
	"trafficfeed/internal/feed"
	"trafficfeed/internal/incidents"
	"trafficfeed/internal/metrics"
	"trafficfeed/internal/model"
	"trafficfeed/internal/scheduler"
	"trafficfeed/internal/storage"
)

type stubRunner struct {
	err   error
	block chan struct{}
}

func (s *stubRunner) RunCycle(_ context.Context, c model.Case) (*model.CycleReport, error) {
	if s.block != nil {
		<-s.block
	}
	return &model.CycleReport{CaseID: c.ID}, s.err
}

type fixture struct {
	stats  *metrics.Store
	server *Server
	runner *stubRunner
	sched  *scheduler.Scheduler
	store  storage.Store
	inc    *incidents.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewBadger("")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	runner := &stubRunner{}
	sched := scheduler.New(config.SchedulerConfig{Workers: 1, Interval: time.Hour}, store, runner, nil, nil)
	inc := incidents.NewStore(10)
	reg := &cases.Registry{Store: store}
	stats := metrics.NewStore(10)
	srv := NewServer(Deps{
		Cases:     reg,
		Refresher: sched,
		Seen:      store,
		Stats:     stats,
		Incidents: inc,
		Config:    config.DefaultConfig(),
	}, nil, "test")
	return &fixture{stats: stats, server: srv, runner: runner, sched: sched, store: store, inc: inc}
}

func (f *fixture) do(t *testing.T, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode body %q: %v", rec.Body.String(), err)
		}
	}
	return rec, body
}

func (f *fixture) register(t *testing.T) string {
	t.Helper()
	rec, body := f.do(t, http.MethodPost, "/cases?name=downtown")
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status %d: %s", rec.Code, rec.Body.String())
	}
	c := body["case"].(map[string]any)
	return c["id"].(string)
}

func TestRegisterAndListCases(t *testing.T) {
	f := newFixture(t)
	id := f.register(t)

	rec, body := f.do(t, http.MethodGet, "/cases")
	if rec.Code != http.StatusOK || body["count"].(float64) != 1 {
		t.Fatalf("list: %d %v", rec.Code, body)
	}
	rec, _ = f.do(t, http.MethodGet, "/cases/"+id)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status %d", rec.Code)
	}
	rec, body = f.do(t, http.MethodPost, "/cases?name=")
	if rec.Code != http.StatusCreated || body["case"].(map[string]any)["name"] != "" {
		t.Fatalf("unnamed case: %d %v", rec.Code, body)
	}
}

func TestRefreshStatusCodes(t *testing.T) {
	f := newFixture(t)
	id := f.register(t)

	if rec, _ := f.do(t, http.MethodPost, "/cases/"+id+"/refresh"); rec.Code != http.StatusOK {
		t.Fatalf("ok refresh status %d", rec.Code)
	}

	f.runner.err = &feed.FetchError{URL: "http://feed", StatusCode: 503}
	if rec, _ := f.do(t, http.MethodPost, "/cases/"+id+"/refresh"); rec.Code != http.StatusBadGateway {
		t.Fatalf("fetch error status %d", rec.Code)
	}

	f.runner.err = errors.New("dedup store down")
	if rec, _ := f.do(t, http.MethodPost, "/cases/"+id+"/refresh"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("internal error status %d", rec.Code)
	}

	f.runner.err = nil
	f.sched.InFlight().Acquire(id)
	if rec, _ := f.do(t, http.MethodPost, "/cases/"+id+"/refresh"); rec.Code != http.StatusConflict {
		t.Fatalf("in-flight status %d", rec.Code)
	}
	f.sched.InFlight().Release(id)

	if rec, _ := f.do(t, http.MethodPost, "/cases/missing/refresh"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown case status %d", rec.Code)
	}
	if rec, _ := f.do(t, http.MethodGet, "/cases/"+id+"/refresh"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET refresh status %d", rec.Code)
	}
}

func TestCaseStatsIncludesSeenCounts(t *testing.T) {
	f := newFixture(t)
	id := f.register(t)
	ctx := context.Background()
	_ = f.store.Record(ctx, id, model.KindAlerts, "u1")
	_ = f.store.Record(ctx, id, model.KindAlerts, "u2")
	f.inc.Add(model.Incident{Timestamp: time.Now(), CaseID: id, Kind: model.KindJams, Sink: "external", Error: "boom"})

	rec, body := f.do(t, http.MethodGet, "/cases/"+id+"/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status %d", rec.Code)
	}
	seen := body["seen"].(map[string]any)
	if seen["alerts"].(float64) != 2 || seen["jams"].(float64) != 0 {
		t.Fatalf("seen: %v", seen)
	}
	if len(body["incidents"].([]any)) != 1 {
		t.Fatalf("incidents: %v", body["incidents"])
	}
}

func TestIncidentsEndpoint(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f.inc.Add(model.Incident{Timestamp: base, CaseID: "a", Sink: "warehouse"})
	f.inc.Add(model.Incident{Timestamp: base.Add(time.Hour), CaseID: "b", Sink: "external"})

	_, body := f.do(t, http.MethodGet, "/incidents")
	if body["count"].(float64) != 2 {
		t.Fatalf("all: %v", body)
	}
	_, body = f.do(t, http.MethodGet, "/incidents?case=b")
	if body["count"].(float64) != 1 {
		t.Fatalf("by case: %v", body)
	}
	_, body = f.do(t, http.MethodGet, "/incidents?since=2024-01-01T00:30:00Z")
	if body["count"].(float64) != 1 {
		t.Fatalf("since: %v", body)
	}
	if rec, _ := f.do(t, http.MethodGet, "/incidents?since=yesterday"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad since status %d", rec.Code)
	}
}

func TestHealthStatusAndMetrics(t *testing.T) {
	f := newFixture(t)
	if rec, body := f.do(t, http.MethodGet, "/health"); rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health: %d %v", rec.Code, body)
	}
	rec, body := f.do(t, http.MethodGet, "/status")
	if rec.Code != http.StatusOK || body["version"] != "test" || body["storage"] != "sqlite" {
		t.Fatalf("status: %d %v", rec.Code, body)
	}
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "trafficfeed_cases_in_flight") {
		t.Fatalf("metrics: %d", rec.Code)
	}
}

func TestStatsListedByCaseID(t *testing.T) {
	f := newFixture(t)
	f.stats.Update(model.CycleReport{CaseID: "b", Cycle: 2})
	f.stats.Update(model.CycleReport{CaseID: "a", Cycle: 1})

	rec, body := f.do(t, http.MethodGet, "/stats")
	if rec.Code != http.StatusOK || body["count"].(float64) != 2 {
		t.Fatalf("stats: %d %v", rec.Code, body)
	}
	list := body["stats"].([]any)
	first := list[0].(map[string]any)["last"].(map[string]any)
	if first["case_id"] != "a" {
		t.Fatalf("order: %v", list)
	}
}
