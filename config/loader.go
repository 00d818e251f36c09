package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/wanderlink/wander-sync/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(configPath string) (*types.AppConfig, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, types.WrapError(err, "file not found: "+configPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data, err := l.readFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to read config file")
	}

	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, types.WrapError(err, "failed to parse YAML config")
	}

	applyEnvOverrides(config)

	if err := l.validator.Struct(config); err != nil {
		return nil, types.WrapError(err, "config validation failed")
	}

	return config, nil
}

func (l *Loader) readFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

// Env overrides cover the knobs the original baked in at build time.
func applyEnvOverrides(config *types.AppConfig) {
	if v := os.Getenv("WANDER_API_URL"); v != "" {
		config.API.BaseURL = v
	}
	if v := os.Getenv("WANDER_REALTIME_URL"); v != "" {
		config.Realtime.URL = v
	}
	if v := os.Getenv("WANDER_STORE_PATH"); v != "" {
		config.Store.Path = v
	}
}

func (l *Loader) Defaults() *types.AppConfig {
	return &types.AppConfig{
		Name:    "wander-sync",
		Version: "dev",
		API: &types.APIConfig{
			BaseURL:         "https://api.wanderlink.app",
			Timeout:         15 * time.Second,
			Retries:         2,
			OutageThreshold: 3,
			CircuitBreaker: &types.CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				RecoveryTimeout:  30 * time.Second,
				HalfOpenRequests: 2,
			},
		},
		Realtime: &types.RealtimeConfig{
			URL:              "wss://api.wanderlink.app/socket",
			HandshakeTimeout: 10 * time.Second,
			ReconnectDelay:   5 * time.Second,
			MaxRetries:       10,
			PingInterval:     54 * time.Second,
			PongWait:         60 * time.Second,
			WriteWait:        10 * time.Second,
		},
		Cache: &types.CacheConfig{
			Type:             "memory",
			DefaultFreshFor:  30 * time.Second,
			DefaultRetainFor: 10 * time.Minute,
		},
		Prefetch: &types.PrefetchConfig{
			Enabled:   true,
			IdleDelay: 2 * time.Second,
			FeedPages: 2,
		},
		Reconcile: &types.ReconcileConfig{
			Enabled:    true,
			CountsSpec: "*/15 * * * * *",
			SweepSpec:  "0 * * * * *",
			Timezone:   "UTC",
		},
		Store: &types.StoreConfig{
			Type: "memory",
		},
		Logger: &types.LoggerConfig{
			Level: "info",
		},
		Metrics: &types.MetricsConfig{
			Enabled: false,
			Type:    "memory",
		},
	}
}
