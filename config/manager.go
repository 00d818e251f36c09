package config

import (
	"sync/atomic"

	"github.com/wanderlink/wander-sync/types"
)

type Manager struct {
	config atomic.Pointer[types.AppConfig]
}

func NewManager(configPath string) (types.ConfigManager, error) {
	loader := NewLoader()

	cfg, err := loader.LoadFromFile(configPath)
	if err != nil {
		return nil, err
	}

	m := &Manager{}
	m.config.Store(cfg)

	return m, nil
}

// NewManagerFromConfig wraps an already-built config; tests and
// embedders construct isolated instances this way.
func NewManagerFromConfig(cfg *types.AppConfig) types.ConfigManager {
	m := &Manager{}
	m.config.Store(cfg)
	return m
}

func (m *Manager) GetConfig() *types.AppConfig {
	return m.config.Load()
}
