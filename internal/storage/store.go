package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"trafficfeed/internal/config"
	"trafficfeed/internal/model"
)

var ErrCaseNotFound = errors.New("case not found")

// Store is the dedup ledger plus the case registry. Record is idempotent:
// inserting a key that already exists is not an error.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	Exists(ctx context.Context, caseID string, kind model.Kind, identity string) (bool, error)
	Record(ctx context.Context, caseID string, kind model.Kind, identity string) error
	CountSeen(ctx context.Context, caseID string, kind model.Kind) (int64, error)
	SaveCase(ctx context.Context, c model.Case) error
	GetCase(ctx context.Context, id string) (model.Case, error)
	ListCases(ctx context.Context) ([]model.Case, error)
	SaveIncident(ctx context.Context, inc model.Incident) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	case "badger":
		return NewBadger(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// baseStore carries the SQL shared by the database/sql drivers. Queries are
// written with ? placeholders and rewritten by bind for drivers that number them.
type baseStore struct {
	db       *sql.DB
	numbered bool
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) bind(query string) string {
	if !b.numbered {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (b *baseStore) exec(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *baseStore) Exists(ctx context.Context, caseID string, kind model.Kind, identity string) (bool, error) {
	var one int
	err := b.db.QueryRowContext(ctx,
		b.bind(`SELECT 1 FROM seen_records WHERE case_id = ? AND kind = ? AND identity = ?`),
		caseID, string(kind), identity,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup %s/%s/%s: %w", caseID, kind, identity, err)
	}
	return true, nil
}

func (b *baseStore) Record(ctx context.Context, caseID string, kind model.Kind, identity string) error {
	_, err := b.db.ExecContext(ctx,
		b.bind(`INSERT INTO seen_records (case_id, kind, identity, first_seen) VALUES (?, ?, ?, ?)
		ON CONFLICT (case_id, kind, identity) DO NOTHING`),
		caseID, string(kind), identity, nowUTC(),
	)
	if err != nil {
		return fmt.Errorf("record %s/%s/%s: %w", caseID, kind, identity, err)
	}
	return nil
}

func (b *baseStore) CountSeen(ctx context.Context, caseID string, kind model.Kind) (int64, error) {
	var n int64
	err := b.db.QueryRowContext(ctx,
		b.bind(`SELECT COUNT(*) FROM seen_records WHERE case_id = ? AND kind = ?`),
		caseID, string(kind),
	).Scan(&n)
	return n, err
}

func (b *baseStore) SaveCase(ctx context.Context, c model.Case) error {
	_, err := b.db.ExecContext(ctx,
		b.bind(`INSERT INTO cases (id, name, created_day, created_at) VALUES (?, ?, ?, ?)`),
		c.ID, c.Name, c.CreatedDay, nowUTC(),
	)
	return err
}

func (b *baseStore) GetCase(ctx context.Context, id string) (model.Case, error) {
	var c model.Case
	err := b.db.QueryRowContext(ctx,
		b.bind(`SELECT id, name, created_day FROM cases WHERE id = ?`), id,
	).Scan(&c.ID, &c.Name, &c.CreatedDay)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Case{}, ErrCaseNotFound
	}
	return c, err
}

func (b *baseStore) ListCases(ctx context.Context) ([]model.Case, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT id, name, created_day FROM cases ORDER BY created_day, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Case
	for rows.Next() {
		var c model.Case
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedDay); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (b *baseStore) SaveIncident(ctx context.Context, inc model.Incident) error {
	_, err := b.db.ExecContext(ctx,
		b.bind(`INSERT INTO sink_incidents (ts, case_id, kind, cycle, sink, error, artifact)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		inc.Timestamp.UTC(),
		inc.CaseID,
		string(inc.Kind),
		inc.Cycle,
		inc.Sink,
		inc.Error,
		inc.Artifact,
	)
	return err
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
