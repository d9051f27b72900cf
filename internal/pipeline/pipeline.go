package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb/geojson"

	"trafficfeed/internal/extstore"
	"trafficfeed/internal/feed"
	"trafficfeed/internal/geometry"
	"trafficfeed/internal/incidents"
	"trafficfeed/internal/metrics"
	"trafficfeed/internal/model"
	"trafficfeed/internal/normalize"
	"trafficfeed/internal/warehouse"
)

type DedupStore interface {
	Exists(ctx context.Context, caseID string, kind model.Kind, identity string) (bool, error)
	Record(ctx context.Context, caseID string, kind model.Kind, identity string) error
}

type GeometrySink interface {
	Write(ctx context.Context, caseID string, kind model.Kind, cycle int64, fc *geojson.FeatureCollection) error
}

type WarehouseSink interface {
	Insert(ctx context.Context, table string, cols []model.Column, rows [][]any) (int, error)
}

type ExternalSink interface {
	Insert(ctx context.Context, caseID string, kind model.Kind, cycle int64, table string, cols []model.Column, rows [][]any) error
}

type IncidentLedger interface {
	SaveIncident(ctx context.Context, inc model.Incident) error
}

// Deps wires a pipeline. Warehouse, External and Ledger may be nil.
type Deps struct {
	Fetcher    feed.Fetcher
	Dedup      DedupStore
	Geometry   GeometrySink
	Warehouse  WarehouseSink
	External   ExternalSink
	Ledger     IncidentLedger
	Incidents  *incidents.Store
	Stats      *metrics.Store
	Strategies []normalize.Strategy
	Location   *time.Location
	Now        func() time.Time
}

type Pipeline struct {
	deps   Deps
	logger *slog.Logger
}

func New(deps Deps, logger *slog.Logger) *Pipeline {
	if deps.Strategies == nil {
		deps.Strategies = normalize.Strategies()
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Pipeline{deps: deps, logger: logger}
}

// RunCycle fetches the feed once and processes every kind present in it.
// A fetch failure aborts the cycle before any write. Dedup store failures
// abort only their kind and are returned joined; sink failures are recorded
// as incidents and never returned.
func (p *Pipeline) RunCycle(ctx context.Context, c model.Case) (*model.CycleReport, error) {
	started := p.deps.Now()
	report := &model.CycleReport{CaseID: c.ID, Cycle: started.Unix(), StartedAt: started}
	err := p.runCycle(ctx, c, report)
	report.Duration = p.deps.Now().Sub(started)
	result := "ok"
	if err != nil {
		report.Error = err.Error()
		result = "error"
		var fe *feed.FetchError
		if errors.As(err, &fe) {
			result = "fetch_error"
		}
	}
	metrics.ObserveReport(report, result)
	if p.deps.Stats != nil {
		p.deps.Stats.Update(*report)
	}
	return report, err
}

func (p *Pipeline) runCycle(ctx context.Context, c model.Case, report *model.CycleReport) error {
	floor, err := c.Floor(p.deps.Location)
	if err != nil {
		return err
	}
	payload, err := p.deps.Fetcher.Fetch(ctx)
	if err != nil {
		if p.logger != nil {
			p.logger.Error("feed fetch failed", "case_id", c.ID, "cycle", report.Cycle, "err", err)
		}
		return err
	}
	if p.logger != nil {
		p.logger.Debug("feed fetched", "case_id", c.ID, "cycle", report.Cycle, "fetched_at", payload.FetchedAt, "kinds", len(payload.Records))
	}
	// once fetched, a cycle runs to completion
	ctx = context.WithoutCancel(ctx)

	type result struct {
		report model.KindReport
		err    error
		ran    bool
	}
	results := make([]result, len(p.deps.Strategies))
	var wg sync.WaitGroup
	for i, s := range p.deps.Strategies {
		if !payload.Has(s.Kind()) {
			continue
		}
		raws := payload.Records[s.Kind()]
		wg.Add(1)
		go func(i int, s normalize.Strategy, raws []json.RawMessage) {
			defer wg.Done()
			kr, err := p.runKind(ctx, c, report.Cycle, floor, s, raws)
			results[i] = result{report: kr, err: err, ran: true}
		}(i, s, raws)
	}
	wg.Wait()

	var errs []error
	for _, r := range results {
		if !r.ran {
			continue
		}
		report.Kinds = append(report.Kinds, r.report)
		if r.err != nil {
			errs = append(errs, r.err)
		}
	}
	return errors.Join(errs...)
}

func (p *Pipeline) runKind(ctx context.Context, c model.Case, cycle int64, floor time.Time, s normalize.Strategy, raws []json.RawMessage) (model.KindReport, error) {
	kind := s.Kind()
	kr := model.KindReport{Kind: kind, Received: len(raws)}
	seen := newCycleSet(len(raws))
	features := make([]*geojson.Feature, 0, len(raws))
	var warehouseRows, externalRows [][]any

	for _, raw := range raws {
		rec, err := s.Transform(raw, floor, p.deps.Location)
		if err != nil {
			kr.Skipped++
			if p.logger != nil {
				p.logger.Debug("record skipped", "case_id", c.ID, "kind", kind, "reason", err)
			}
			continue
		}
		features = append(features, rec.Feature)
		if seen.Seen(rec.Identity) {
			kr.Duplicates++
			continue
		}
		exists, err := p.deps.Dedup.Exists(ctx, c.ID, kind, rec.Identity)
		if err != nil {
			return p.abortKind(kr, &DedupStoreError{CaseID: c.ID, Kind: kind, Identity: rec.Identity, Op: "exists", Err: err})
		}
		if exists {
			kr.Duplicates++
			continue
		}
		warehouseRows = append(warehouseRows, rec.WarehouseRow)
		externalRows = append(externalRows, rec.ExternalRow)
		if err := p.deps.Dedup.Record(ctx, c.ID, kind, rec.Identity); err != nil {
			return p.abortKind(kr, &DedupStoreError{CaseID: c.ID, Kind: kind, Identity: rec.Identity, Op: "record", Err: err})
		}
		kr.New++
	}
	kr.Features = len(features)

	if err := p.deps.Geometry.Write(ctx, c.ID, kind, cycle, geometry.Collection(features)); err != nil {
		p.sinkFailed(ctx, &kr, &SinkWriteError{Sink: SinkGeometry, CaseID: c.ID, Kind: kind, Cycle: cycle, Err: err})
	}

	table := model.TableName(kind, c.ID)
	if p.deps.Warehouse != nil && len(warehouseRows) > 0 {
		n, err := p.deps.Warehouse.Insert(ctx, table, s.WarehouseColumns(), warehouseRows)
		kr.WarehouseRows = n
		if err != nil {
			p.sinkFailed(ctx, &kr, &SinkWriteError{Sink: SinkWarehouse, CaseID: c.ID, Kind: kind, Cycle: cycle, Err: err})
		}
	}

	if p.deps.External != nil && len(externalRows) > 0 {
		err := p.deps.External.Insert(ctx, c.ID, kind, cycle, table, s.ExternalColumns(), externalRows)
		if err != nil {
			swe := &SinkWriteError{Sink: SinkExternal, CaseID: c.ID, Kind: kind, Cycle: cycle, Err: err}
			var ie *extstore.InsertError
			if errors.As(err, &ie) {
				swe.Artifact = ie.Artifact
			}
			p.sinkFailed(ctx, &kr, swe)
		} else {
			kr.ExternalRows = len(externalRows)
		}
	}

	if p.logger != nil {
		p.logger.Info("kind processed",
			"case_id", c.ID,
			"kind", kind,
			"cycle", cycle,
			"received", kr.Received,
			"skipped", kr.Skipped,
			"duplicates", kr.Duplicates,
			"new", kr.New,
			"sink_errors", kr.SinkErrors)
	}
	return kr, nil
}

func (p *Pipeline) abortKind(kr model.KindReport, err *DedupStoreError) (model.KindReport, error) {
	kr.Aborted = true
	kr.Error = err.Error()
	if p.logger != nil {
		p.logger.Error("dedup store failed, kind aborted", "case_id", err.CaseID, "kind", err.Kind, "op", err.Op, "err", err.Err)
	}
	return kr, err
}

func (p *Pipeline) sinkFailed(ctx context.Context, kr *model.KindReport, err *SinkWriteError) {
	kr.SinkErrors++
	metrics.SinkFailures.WithLabelValues(err.Sink, string(err.Kind)).Inc()

	level := slog.LevelError
	var partial *warehouse.PartialRowError
	if errors.As(err, &partial) {
		level = slog.LevelWarn
	}
	if p.logger != nil {
		p.logger.Log(ctx, level, "sink write failed",
			"case_id", err.CaseID,
			"kind", err.Kind,
			"cycle", err.Cycle,
			"sink", err.Sink,
			"artifact", err.Artifact,
			"err", err.Err)
	}
	inc := model.Incident{
		Timestamp: p.deps.Now().UTC(),
		CaseID:    err.CaseID,
		Kind:      err.Kind,
		Cycle:     err.Cycle,
		Sink:      err.Sink,
		Error:     err.Err.Error(),
		Artifact:  err.Artifact,
	}
	if p.deps.Incidents != nil {
		p.deps.Incidents.Add(inc)
	}
	if p.deps.Ledger != nil {
		if lerr := p.deps.Ledger.SaveIncident(ctx, inc); lerr != nil && p.logger != nil {
			p.logger.Warn("persist incident", "case_id", inc.CaseID, "err", lerr)
		}
	}
}
