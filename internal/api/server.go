package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trafficfeed/internal/config"
	"trafficfeed/internal/feed"
	"trafficfeed/internal/incidents"
	"trafficfeed/internal/metrics"
	"trafficfeed/internal/model"
	"trafficfeed/internal/scheduler"
	"trafficfeed/internal/storage"
)

type CaseService interface {
	Register(ctx context.Context, name string) (model.Case, error)
	Get(ctx context.Context, id string) (model.Case, error)
	List(ctx context.Context) ([]model.Case, error)
}

type Refresher interface {
	RunNow(ctx context.Context, c model.Case) (*model.CycleReport, error)
	InFlight() *scheduler.InFlight
}

type SeenCounter interface {
	CountSeen(ctx context.Context, caseID string, kind model.Kind) (int64, error)
}

type BreakerStater interface {
	BreakerState() string
}

// Deps are the collaborators behind the endpoints. Seen and Breaker may be nil.
type Deps struct {
	Cases     CaseService
	Refresher Refresher
	Seen      SeenCounter
	Breaker   BreakerStater
	Stats     *metrics.Store
	Incidents *incidents.Store
	Config    *config.Config
}

type Server struct {
	deps    Deps
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status    string          `json:"status"`
	Time      string          `json:"time"`
	Version   string          `json:"version"`
	Timezone  string          `json:"timezone"`
	Storage   string          `json:"storage"`
	Sinks     sinkStatus      `json:"sinks"`
	Scheduler schedulerStatus `json:"scheduler"`
	InFlight  []string        `json:"in_flight"`
	Incidents int             `json:"incidents"`
}

type sinkStatus struct {
	Geometry  string `json:"geometry"`
	Warehouse bool   `json:"warehouse"`
	External  bool   `json:"external"`
	Breaker   string `json:"breaker,omitempty"`
}

type schedulerStatus struct {
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval"`
	Workers  int    `json:"workers"`
	Kafka    bool   `json:"kafka"`
}

func NewServer(deps Deps, logger *slog.Logger, version string) *Server {
	return &Server{deps: deps, logger: logger, version: version}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/cases", s.handleCases)
	mux.HandleFunc("/cases/", s.handleCase)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/incidents", s.handleIncidents)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func Start(ctx context.Context, cfg config.APIConfig, deps Deps, logger *slog.Logger, version string) *http.Server {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", cfg.Addr)
	}
	server := NewServer(deps, logger, version)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := statusResponse{
		Status:   "ok",
		Time:     time.Now().UTC().Format(time.RFC3339Nano),
		Version:  s.version,
		InFlight: []string{},
	}
	if cfg := s.deps.Config; cfg != nil {
		resp.Timezone = cfg.Timezone
		resp.Storage = cfg.Storage.Driver
		resp.Sinks = sinkStatus{
			Geometry:  cfg.Blob.URL,
			Warehouse: cfg.Warehouse.Enabled,
			External:  cfg.External.Enabled,
		}
		resp.Scheduler = schedulerStatus{
			Enabled:  cfg.Scheduler.Enabled,
			Interval: cfg.Scheduler.Interval.String(),
			Workers:  cfg.Scheduler.Workers,
			Kafka:    cfg.Queue.Enabled,
		}
	}
	if s.deps.Breaker != nil {
		resp.Sinks.Breaker = s.deps.Breaker.BreakerState()
	}
	if s.deps.Refresher != nil {
		for id := range s.deps.Refresher.InFlight().Active() {
			resp.InFlight = append(resp.InFlight, id)
		}
	}
	if s.deps.Incidents != nil {
		resp.Incidents = s.deps.Incidents.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCases(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.deps.Cases.List(r.Context())
		if err != nil {
			s.fail(w, "list cases", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"cases": list,
			"count": len(list),
		})
	case http.MethodPost:
		name := r.URL.Query().Get("name")
		c, err := s.deps.Cases.Register(r.Context(), name)
		if err != nil && c.ID == "" {
			s.fail(w, "register case", err)
			return
		}
		resp := map[string]any{"case": c}
		if err != nil {
			resp["warning"] = err.Error()
		}
		writeJSON(w, http.StatusCreated, resp)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleCase serves /cases/{id}, /cases/{id}/refresh and /cases/{id}/stats.
func (s *Server) handleCase(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/cases/"), "/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	c, err := s.deps.Cases.Get(r.Context(), id)
	if errors.Is(err, storage.ErrCaseNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}
	if err != nil {
		s.fail(w, "get case", err)
		return
	}
	switch action {
	case "":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"case": c})
	case "refresh":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.refresh(w, r, c)
	case "stats":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.caseStats(w, r, c)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request, c model.Case) {
	report, err := s.deps.Refresher.RunNow(r.Context(), c)
	var fe *feed.FetchError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"report": report})
	case errors.Is(err, scheduler.ErrInFlight):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
	case errors.As(err, &fe):
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "report": report})
	default:
		if s.logger != nil {
			s.logger.Error("refresh failed", "case_id", c.ID, "err", err)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "report": report})
	}
}

func (s *Server) caseStats(w http.ResponseWriter, r *http.Request, c model.Case) {
	resp := map[string]any{"case": c}
	if s.deps.Stats != nil {
		if st, ok := s.deps.Stats.Get(c.ID); ok {
			resp["stats"] = st
		}
	}
	if s.deps.Seen != nil {
		seen := make(map[model.Kind]int64, len(model.Kinds))
		for _, k := range model.Kinds {
			n, err := s.deps.Seen.CountSeen(r.Context(), c.ID, k)
			if err != nil {
				s.fail(w, "count seen", err)
				return
			}
			seen[k] = n
		}
		resp["seen"] = seen
	}
	if s.deps.Incidents != nil {
		resp["incidents"] = s.deps.Incidents.ForCase(c.ID, 20)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	list := []metrics.CaseStats{}
	if s.deps.Stats != nil {
		for _, id := range s.deps.Stats.CaseIDs() {
			if st, ok := s.deps.Stats.Get(id); ok {
				list = append(list, st)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats": list,
		"count": len(list),
	})
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Incidents == nil {
		writeJSON(w, http.StatusOK, map[string]any{"incidents": []model.Incident{}, "count": 0})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []model.Incident
	switch {
	case r.URL.Query().Get("case") != "":
		list = s.deps.Incidents.ForCase(r.URL.Query().Get("case"), limit)
	case r.URL.Query().Get("since") != "":
		ts, err := time.Parse(time.RFC3339, r.URL.Query().Get("since"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.deps.Incidents.Since(ts)
	default:
		list = s.deps.Incidents.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incidents": list,
		"count":     len(list),
	})
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	if s.logger != nil {
		s.logger.Error(op, "err", err)
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
