package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"trafficfeed/internal/model"
)

const (
	seenKeyPrefix     = "seen:"
	caseKeyPrefix     = "case:"
	incidentKeyPrefix = "incident:"
)

type badgerStore struct {
	db *badger.DB
}

type seenValue struct {
	FirstSeen time.Time `json:"first_seen"`
}

// NewBadger opens an embedded ledger at dir. An empty dir or ":memory:" keeps
// everything in memory.
func NewBadger(dir string) (Store, error) {
	dir = strings.TrimSpace(dir)
	var opts badger.Options
	if dir == "" || dir == ":memory:" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &badgerStore{db: db}, nil
}

func (s *badgerStore) Init(ctx context.Context) error {
	return nil
}

func (s *badgerStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func seenKey(caseID string, kind model.Kind, identity string) []byte {
	return []byte(seenKeyPrefix + caseID + ":" + string(kind) + ":" + identity)
}

func (s *badgerStore) Exists(ctx context.Context, caseID string, kind model.Kind, identity string) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(seenKey(caseID, kind, identity))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("lookup %s/%s/%s: %w", caseID, kind, identity, err)
	}
	return found, nil
}

func (s *badgerStore) Record(ctx context.Context, caseID string, kind model.Kind, identity string) error {
	key := seenKey(caseID, kind, identity)
	data, err := json.Marshal(seenValue{FirstSeen: nowUTC()})
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
	if errors.Is(err, badger.ErrConflict) {
		// a concurrent writer recorded the same key first
		return nil
	}
	if err != nil {
		return fmt.Errorf("record %s/%s/%s: %w", caseID, kind, identity, err)
	}
	return nil
}

func (s *badgerStore) CountSeen(ctx context.Context, caseID string, kind model.Kind) (int64, error) {
	var n int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(seenKeyPrefix + caseID + ":" + string(kind) + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (s *badgerStore) SaveCase(ctx context.Context, c model.Case) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal case: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(caseKeyPrefix + c.ID)
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("case %s already exists", c.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
}

func (s *badgerStore) GetCase(ctx context.Context, id string) (model.Case, error) {
	var c model.Case
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(caseKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrCaseNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &c)
		})
	})
	if err != nil {
		return model.Case{}, err
	}
	return c, nil
}

func (s *badgerStore) ListCases(ctx context.Context) ([]model.Case, error) {
	var out []model.Case
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(caseKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var c model.Case
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			}); err != nil {
				return err
			}
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedDay != out[j].CreatedDay {
			return out[i].CreatedDay < out[j].CreatedDay
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *badgerStore) SaveIncident(ctx context.Context, inc model.Incident) error {
	data, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("marshal incident: %w", err)
	}
	key := []byte(incidentKeyPrefix + strconv.FormatInt(inc.Timestamp.UnixNano(), 10) + ":" + inc.CaseID + ":" + string(inc.Kind))
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}
