package feed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"trafficfeed/internal/config"
	"trafficfeed/internal/model"
)

const maxPayloadBytes = 64 << 20

// FetchError aborts a whole cycle. StatusCode is zero when no response arrived.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Payload holds the raw records of each kind present in one feed response.
// A kind missing from the response is absent from the map; a present but
// empty list maps to an empty slice.
type Payload struct {
	FetchedAt time.Time
	Records   map[model.Kind][]json.RawMessage
}

func (p *Payload) Has(kind model.Kind) bool {
	if p == nil {
		return false
	}
	_, ok := p.Records[kind]
	return ok
}

type Fetcher interface {
	Fetch(ctx context.Context) (*Payload, error)
}

type Client struct {
	url       string
	userAgent string
	http      *http.Client
	logger    *slog.Logger
}

func NewClient(cfg config.FeedConfig, logger *slog.Logger) *Client {
	return &Client{
		url:       cfg.URL,
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: cfg.Timeout},
		logger:    logger,
	}
}

func (c *Client) Fetch(ctx context.Context) (*Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, &FetchError{URL: c.url, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{URL: c.url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &FetchError{URL: c.url, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, &FetchError{URL: c.url, Err: fmt.Errorf("read body: %w", err)}
	}
	payload, err := Decode(body)
	if err != nil {
		return nil, &FetchError{URL: c.url, Err: err}
	}
	if c.logger != nil {
		c.logger.Debug("feed fetched",
			"bytes", len(body),
			"alerts", len(payload.Records[model.KindAlerts]),
			"jams", len(payload.Records[model.KindJams]),
			"irregularities", len(payload.Records[model.KindIrregularities]))
	}
	return payload, nil
}

// Decode splits a feed document into per-kind raw records. Unknown top-level
// keys are ignored and a null list counts as present but empty.
func Decode(body []byte) (*Payload, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty feed body")
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	p := &Payload{FetchedAt: time.Now(), Records: make(map[model.Kind][]json.RawMessage)}
	for _, kind := range model.Kinds {
		raw, ok := doc[string(kind)]
		if !ok {
			continue
		}
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		if list == nil {
			list = []json.RawMessage{}
		}
		p.Records[kind] = list
	}
	return p, nil
}
