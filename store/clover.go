package store

import (
	"sync"
	"time"

	"github.com/ostafen/clover"
	"go.uber.org/zap"

	"github.com/wanderlink/wander-sync/types"
)

const cloverCollection = "local_kv"

// CloverStore persists key-value pairs in an embedded document store.
// One document per key.
type CloverStore struct {
	db     *clover.DB
	logger types.Logger
	mu     sync.Mutex
	closed bool
}

func NewCloverStore(logger types.Logger, config *types.StoreConfig) (*CloverStore, error) {
	db, err := clover.Open(config.Path)
	if err != nil {
		return nil, types.WrapError(err, "failed to open clover store")
	}

	exists, err := db.HasCollection(cloverCollection)
	if err != nil {
		_ = db.Close()
		return nil, types.WrapError(err, "failed to check store collection")
	}

	if !exists {
		if err := db.CreateCollection(cloverCollection); err != nil {
			_ = db.Close()
			return nil, types.WrapError(err, "failed to create store collection")
		}
	}

	logger.Info("Clover store opened", zap.String("path", config.Path))

	return &CloverStore{
		db:     db,
		logger: logger,
	}, nil
}

func (s *CloverStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", false
	}

	doc, err := s.db.Query(cloverCollection).
		Where(clover.Field("key").Eq(key)).
		FindFirst()
	if err != nil || doc == nil {
		return "", false
	}

	value, ok := doc.Get("value").(string)
	return value, ok
}

func (s *CloverStore) Set(key, value string) error {
	if key == "" {
		return types.ErrStoreKeyEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.ErrStoreClosed
	}

	query := s.db.Query(cloverCollection).Where(clover.Field("key").Eq(key))

	count, err := query.Count()
	if err != nil {
		return types.WrapError(err, "failed to query store")
	}

	if count > 0 {
		update := map[string]interface{}{
			"value":   value,
			"ch_time": time.Now().UnixNano(),
		}
		if err := query.Update(update); err != nil {
			return types.WrapError(err, "failed to update store entry")
		}
		return nil
	}

	doc := clover.NewDocument()
	doc.Set("key", key)
	doc.Set("value", value)
	doc.Set("ch_time", time.Now().UnixNano())

	if err := s.db.Insert(cloverCollection, doc); err != nil {
		return types.WrapError(err, "failed to insert store entry")
	}

	return nil
}

func (s *CloverStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.ErrStoreClosed
	}

	err := s.db.Query(cloverCollection).
		Where(clover.Field("key").Eq(key)).
		Delete()
	if err != nil {
		return types.WrapError(err, "failed to delete store entry")
	}

	return nil
}

func (s *CloverStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	if err := s.db.Close(); err != nil {
		return types.WrapError(err, "failed to close clover store")
	}

	s.logger.Debug("Clover store closed")
	return nil
}
