package types

import (
	"time"
)

type ConfigManager interface {
	GetConfig() *AppConfig
}

type AppConfig struct {
	Name      string           `yaml:"name" json:"name" validate:"required"`
	Version   string           `yaml:"version" json:"version"`
	API       *APIConfig       `yaml:"api" json:"api" validate:"required"`
	Realtime  *RealtimeConfig  `yaml:"realtime" json:"realtime" validate:"required"`
	Cache     *CacheConfig     `yaml:"cache" json:"cache"`
	Prefetch  *PrefetchConfig  `yaml:"prefetch" json:"prefetch"`
	Reconcile *ReconcileConfig `yaml:"reconcile" json:"reconcile"`
	Store     *StoreConfig     `yaml:"store" json:"store"`
	Logger    *LoggerConfig    `yaml:"logger" json:"logger"`
	Metrics   *MetricsConfig   `yaml:"metrics" json:"metrics"`
}

type APIConfig struct {
	BaseURL         string                `yaml:"base_url" json:"base_url" validate:"required,url"`
	Timeout         time.Duration         `yaml:"timeout" json:"timeout"`
	Retries         int                   `yaml:"retries" json:"retries"`
	OutageThreshold int                   `yaml:"outage_threshold" json:"outage_threshold"`
	CircuitBreaker  *CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
	HalfOpenRequests int           `yaml:"half_open_requests" json:"half_open_requests"`
}

type RealtimeConfig struct {
	URL              string        `yaml:"url" json:"url" validate:"required"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`
	ReconnectDelay   time.Duration `yaml:"reconnect_delay" json:"reconnect_delay"`
	MaxRetries       int           `yaml:"max_retries" json:"max_retries"`
	PingInterval     time.Duration `yaml:"ping_interval" json:"ping_interval"`
	PongWait         time.Duration `yaml:"pong_wait" json:"pong_wait"`
	WriteWait        time.Duration `yaml:"write_wait" json:"write_wait"`
}

type CacheConfig struct {
	Type             string        `yaml:"type" json:"type"`
	DefaultFreshFor  time.Duration `yaml:"default_fresh_for" json:"default_fresh_for"`
	DefaultRetainFor time.Duration `yaml:"default_retain_for" json:"default_retain_for"`
	Config           interface{}   `yaml:"config" json:"config"`
}

type PrefetchConfig struct {
	Enabled   bool          `yaml:"enabled" json:"enabled"`
	IdleDelay time.Duration `yaml:"idle_delay" json:"idle_delay"`
	FeedPages int           `yaml:"feed_pages" json:"feed_pages"`
}

type ReconcileConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	CountsSpec string `yaml:"counts_spec" json:"counts_spec"`
	SweepSpec  string `yaml:"sweep_spec" json:"sweep_spec"`
	Timezone   string `yaml:"timezone" json:"timezone"`
}

type StoreConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Path   string      `yaml:"path" json:"path"`
	Config interface{} `yaml:"config" json:"config"`
}

type LoggerConfig struct {
	Level  string      `yaml:"level" json:"level"`
	Config interface{} `yaml:"config" json:"config"`
}

type MetricsConfig struct {
	Enabled bool        `yaml:"enabled" json:"enabled"`
	Type    string      `yaml:"type" json:"type"`
	Config  interface{} `yaml:"config" json:"config"`
}
