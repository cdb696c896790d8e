package runstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"agentflow/internal/domain"
)

const (
	runsBucketName  = "runs"
	indexBucketName = "runs_by_time"
)

var ErrStoreClosed = errors.New("run store is closed")

// Store keeps run summaries in a bbolt file. Records are keyed by run id and
// indexed by finish time so List can walk newest first.
type Store struct {
	logger *zap.Logger

	mu     sync.RWMutex
	db     *bolt.DB
	path   string
	closed bool
}

func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("run store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, fmt.Errorf("ensure run store dir: %w", err)
	}
	db, err := bolt.Open(trimmed, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(runsBucketName)); err != nil {
			return fmt.Errorf("create runs bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(indexBucketName)); err != nil {
			return fmt.Errorf("create index bucket: %w", err)
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{logger: logger.Named("runstore"), db: db, path: trimmed}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Record stores or replaces the summary for record.ID.
func (s *Store) Record(record domain.RunRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return domain.E(domain.CodeInvalidArgument, "runstore.record", "run id is required", nil)
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode run record: %w", err)
	}
	err = s.update(func(tx *bolt.Tx) error {
		runs := tx.Bucket([]byte(runsBucketName))
		index := tx.Bucket([]byte(indexBucketName))
		if existing := runs.Get([]byte(record.ID)); existing != nil {
			var previous domain.RunRecord
			if err := json.Unmarshal(existing, &previous); err == nil {
				if err := index.Delete(indexKey(previous)); err != nil {
					return fmt.Errorf("drop index entry: %w", err)
				}
			}
		}
		if err := runs.Put([]byte(record.ID), payload); err != nil {
			return fmt.Errorf("write run %s: %w", record.ID, err)
		}
		if err := index.Put(indexKey(record), []byte(record.ID)); err != nil {
			return fmt.Errorf("index run %s: %w", record.ID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("run recorded", zap.String("run_id", record.ID), zap.String("status", string(record.Status)))
	return nil
}

func (s *Store) Get(id string) (domain.RunRecord, error) {
	var record domain.RunRecord
	err := s.view(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(runsBucketName)).Get([]byte(id))
		if value == nil {
			return domain.E(domain.CodeNotFound, "runstore.get", fmt.Sprintf("run %q", id), nil)
		}
		if err := json.Unmarshal(value, &record); err != nil {
			return fmt.Errorf("decode run %s: %w", id, err)
		}
		return nil
	})
	return record, err
}

// List returns up to limit records, newest first. A non-positive limit returns all of them.
func (s *Store) List(limit int) ([]domain.RunRecord, error) {
	records := []domain.RunRecord{}
	err := s.view(func(tx *bolt.Tx) error {
		runs := tx.Bucket([]byte(runsBucketName))
		cursor := tx.Bucket([]byte(indexBucketName)).Cursor()
		for key, id := cursor.Last(); key != nil; key, id = cursor.Prev() {
			if limit > 0 && len(records) >= limit {
				return nil
			}
			value := runs.Get(id)
			if value == nil {
				continue
			}
			var record domain.RunRecord
			if err := json.Unmarshal(value, &record); err != nil {
				return fmt.Errorf("decode run %s: %w", id, err)
			}
			records = append(records, record)
		}
		return nil
	})
	return records, err
}

func (s *Store) view(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.View(fn)
}

func (s *Store) update(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.Update(fn)
}

// indexKey sorts by finish time, then run id for ties.
func indexKey(record domain.RunRecord) []byte {
	stamp := record.FinishedAt.UTC().Format("20060102T150405.000000000Z")
	return []byte(stamp + "/" + record.ID)
}

var _ domain.RunRecorder = (*Store)(nil)
