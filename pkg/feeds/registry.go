package feeds

import (
	"fmt"
	"sort"
	"sync"

	"github.com/StrathCole/cfd-oracle/pkg/config"
	"github.com/StrathCole/cfd-oracle/pkg/logging"
)

var (
	registry = make(map[string]Factory)
	mu       sync.RWMutex
)

// Register adds a feed factory to the registry
func Register(feedType string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[feedType] = factory
}

// Create creates a new adapter for cfg.Type
func Create(cfg config.FeedConfig, sub Submitter, logger *logging.Logger) (Adapter, error) {
	mu.RLock()
	factory, ok := registry[cfg.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeedType, cfg.Type)
	}

	adapter, err := factory(cfg, sub, logger.With("feed", cfg.Name, "type", cfg.Type))
	if err != nil {
		return nil, fmt.Errorf("feed %s.%s: %w", cfg.Type, cfg.Name, err)
	}
	return adapter, nil
}

// List returns all registered feed types
func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
