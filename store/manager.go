package store

import (
	"github.com/wanderlink/wander-sync/types"
)

var customStoreCreators = make(map[string]types.LocalStoreCreator)

func RegisterLocalStore(name string, creator types.LocalStoreCreator) {
	customStoreCreators[name] = creator
}

// NewLocalStore builds the persisted key-value store for session state.
// The memory backend is for tests and ephemeral runs; clover and sqlite
// survive restarts.
func NewLocalStore(logger types.Logger, config *types.StoreConfig) (types.LocalStore, error) {
	switch config.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "clover":
		return NewCloverStore(logger, config)
	case "sqlite":
		return NewSQLiteStore(logger, config)
	default:
		if creator, exists := customStoreCreators[config.Type]; exists {
			return creator(config)
		}
		return nil, types.Errorf(types.ErrStoreTypeUnknown, "type: %s", config.Type)
	}
}
