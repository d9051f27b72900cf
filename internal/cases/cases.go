package cases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"trafficfeed/internal/model"
	"trafficfeed/internal/normalize"
)

type Store interface {
	SaveCase(ctx context.Context, c model.Case) error
	GetCase(ctx context.Context, id string) (model.Case, error)
	ListCases(ctx context.Context) ([]model.Case, error)
}

type TableCreator interface {
	CreateTable(ctx context.Context, table string, cols []model.Column) error
}

type Provisioner interface {
	Provision(ctx context.Context, table string, cols []model.Column) error
}

// Registry creates cases and the per-case sink tables. Warehouse and
// External may be nil when those sinks are disabled.
type Registry struct {
	Store      Store
	Warehouse  TableCreator
	External   Provisioner
	Strategies []normalize.Strategy
	Location   *time.Location
	Now        func() time.Time
	NewID      func() string
	Logger     *slog.Logger
}

// Register persists a new case created today and provisions its tables.
// The name is free text and may be empty. A warehouse table failure is
// returned with the case, which stays registered; external provisioning
// failures are only logged.
func (r *Registry) Register(ctx context.Context, name string) (model.Case, error) {
	name = strings.TrimSpace(name)
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	newID := uuid.NewString
	if r.NewID != nil {
		newID = r.NewID
	}
	c := model.Case{
		ID:         newID(),
		Name:       name,
		CreatedDay: now().In(loc).Format(model.DayLayout),
	}
	if err := r.Store.SaveCase(ctx, c); err != nil {
		return model.Case{}, fmt.Errorf("save case: %w", err)
	}
	if r.Logger != nil {
		r.Logger.Info("case registered", "case_id", c.ID, "name", c.Name, "created_day", c.CreatedDay)
	}
	return c, r.Provision(ctx, c)
}

// Provision creates the sink tables of every kind for c.
func (r *Registry) Provision(ctx context.Context, c model.Case) error {
	strategies := r.Strategies
	if strategies == nil {
		strategies = normalize.Strategies()
	}
	var errs []error
	for _, s := range strategies {
		table := model.TableName(s.Kind(), c.ID)
		if r.Warehouse != nil {
			if err := r.Warehouse.CreateTable(ctx, table, s.WarehouseColumns()); err != nil {
				errs = append(errs, fmt.Errorf("warehouse table %s: %w", table, err))
			}
		}
		if r.External != nil {
			if err := r.External.Provision(ctx, table, s.ExternalColumns()); err != nil && r.Logger != nil {
				r.Logger.Warn("external table provisioning failed", "case_id", c.ID, "kind", s.Kind(), "table", table, "err", err)
			}
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) Get(ctx context.Context, id string) (model.Case, error) {
	return r.Store.GetCase(ctx, id)
}

func (r *Registry) List(ctx context.Context) ([]model.Case, error) {
	return r.Store.ListCases(ctx)
}
