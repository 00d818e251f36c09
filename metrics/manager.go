package metrics

import (
	"github.com/wanderlink/wander-sync/types"
)

var customMetricsCreators = make(map[string]types.MetricsManagerCreator)

func RegisterMetricsManager(name string, creator types.MetricsManagerCreator) {
	customMetricsCreators[name] = creator
}

// NewMetricsManager builds the configured backend. Returns nil when
// metrics are disabled; every caller treats a nil manager as a no-op.
func NewMetricsManager(logger types.Logger, config *types.MetricsConfig) (types.MetricsManager, error) {
	if config == nil || !config.Enabled {
		return nil, nil
	}

	switch config.Type {
	case "", "memory":
		return NewMemoryMetrics(logger, config)
	case "prometheus":
		return NewPrometheusMetrics(logger, config)
	default:
		if creator, exists := customMetricsCreators[config.Type]; exists {
			return creator(config)
		}
		return nil, types.Errorf(types.ErrMetricsTypeUnknown, "type: %s", config.Type)
	}
}
