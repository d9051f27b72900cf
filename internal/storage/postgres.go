package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/trafficfeed?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, numbered: true}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS seen_records (
			case_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			identity TEXT NOT NULL,
			first_seen TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (case_id, kind, identity)
		)`,
		`CREATE TABLE IF NOT EXISTS cases (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_day TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sink_incidents (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			case_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			cycle BIGINT NOT NULL,
			sink TEXT NOT NULL,
			error TEXT NOT NULL,
			artifact TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sink_incidents_case ON sink_incidents(case_id, ts)`,
	})
}
