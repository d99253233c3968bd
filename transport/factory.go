package transport

import (
	"fmt"

	"go.uber.org/zap"
)

// NewBroker creates a Broker from the configuration.
func NewBroker(cfg Config, logger *zap.Logger) (Broker, error) {
	switch cfg.Kind {
	case KindMemory:
		return NewMemoryBroker(cfg, logger), nil
	case KindRedis:
		return NewRedisBroker(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported broker kind: %s", cfg.Kind)
	}
}

// MustNewBroker creates a Broker or panics on error.
//
// Only for use during application initialization.
func MustNewBroker(cfg Config, logger *zap.Logger) Broker {
	b, err := NewBroker(cfg, logger)
	if err != nil {
		panic(fmt.Sprintf("failed to create broker: %v", err))
	}
	return b
}
