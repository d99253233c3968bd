package registry

import "fmt"

// NewStore creates a Store from the configuration.
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case KindMemory:
		return NewMemoryStore(config), nil
	case KindRedis:
		return NewRedisStore(config)
	default:
		return nil, fmt.Errorf("unsupported task store type: %s", config.Type)
	}
}

// MustNewStore creates a Store or panics on error.
//
// Only for use during application initialization.
func MustNewStore(config Config) Store {
	store, err := NewStore(config)
	if err != nil {
		panic(fmt.Sprintf("failed to create task store: %v", err))
	}
	return store
}
