package extstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	gobreaker "github.com/sony/gobreaker/v2"

	"trafficfeed/internal/blobstore"
	"trafficfeed/internal/config"
	"trafficfeed/internal/metrics"
	"trafficfeed/internal/model"
)

const breakerName = "external-store"

type Artifacts interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// StatusError is a non-200 answer from the SQL API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sql api status %d: %s", e.StatusCode, e.Body)
}

// InsertError carries the failed statement's artifact key, empty when saving it failed too.
type InsertError struct {
	Table    string
	Artifact string
	Err      error
}

func (e *InsertError) Error() string {
	if e.Artifact != "" {
		return fmt.Sprintf("insert %s: %v (statement saved to %s)", e.Table, e.Err, e.Artifact)
	}
	return fmt.Sprintf("insert %s: %v", e.Table, e.Err)
}

func (e *InsertError) Unwrap() error {
	return e.Err
}

type Client struct {
	endpoint  string
	apiKey    string
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker[struct{}]
	artifacts Artifacts
	logger    *slog.Logger
}

func NewClient(cfg config.ExternalConfig, artifacts Artifacts, logger *slog.Logger) *Client {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	metrics.BreakerState.WithLabelValues(breakerName).Set(0)
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			if logger != nil {
				logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			}
		},
	})
	return &Client{
		endpoint:  cfg.URL,
		apiKey:    cfg.APIKey,
		http:      &http.Client{Timeout: cfg.Timeout},
		breaker:   breaker,
		artifacts: artifacts,
		logger:    logger,
	}
}

// Exec posts one statement as form field q with the key in the query string.
func (c *Client) Exec(ctx context.Context, statement string) error {
	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.post(ctx, statement)
	})
	return err
}

func (c *Client) post(ctx context.Context, statement string) error {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("api_key", c.apiKey)
	u.RawQuery = q.Encode()
	form := url.Values{"q": {statement}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Insert sends rows as one statement. When the store refuses it, the
// statement is saved under carto_errors/ for replay and an *InsertError is
// returned.
func (c *Client) Insert(ctx context.Context, caseID string, kind model.Kind, cycle int64, table string, cols []model.Column, rows [][]any) error {
	stmt, err := BuildInsert(table, cols, rows)
	if err != nil {
		return &InsertError{Table: table, Err: err}
	}
	execErr := c.Exec(ctx, stmt)
	if execErr == nil {
		return nil
	}
	if errors.Is(execErr, gobreaker.ErrOpenState) || errors.Is(execErr, gobreaker.ErrTooManyRequests) {
		execErr = fmt.Errorf("circuit open: %w", execErr)
	}
	key := blobstore.ErrorArtifactKey(caseID, cycle, kind)
	if c.artifacts == nil {
		return &InsertError{Table: table, Err: execErr}
	}
	if err := c.artifacts.Put(ctx, key, []byte(stmt), blobstore.ContentTypeText); err != nil {
		if c.logger != nil {
			c.logger.Error("save failed statement", "case_id", caseID, "kind", kind, "key", key, "err", err)
		}
		return &InsertError{Table: table, Err: errors.Join(execErr, err)}
	}
	return &InsertError{Table: table, Artifact: key, Err: execErr}
}

// Provision creates a table and registers it with the store. A failed
// registration is logged and otherwise ignored.
func (c *Client) Provision(ctx context.Context, table string, cols []model.Column) error {
	if err := c.Exec(ctx, CreateTableSQL(table, cols)); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}
	if err := c.Exec(ctx, CartodbfySQL(table)); err != nil && c.logger != nil {
		c.logger.Warn("cartodbfy failed", "table", table, "err", err)
	}
	return nil
}

func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}
