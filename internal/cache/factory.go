package cache

import (
	"fmt"

	"go.uber.org/zap"
)

// NewCache creates a tile store based on the eviction policy name
func NewCache(policyName string, capacity int, log *zap.Logger) (*Store, error) {
	switch policyName {
	case "cost":
		log.Info("Using cost-weighted tile cache", zap.Int("max_tiles", capacity))
		return NewStore(capacity, NewCostPolicy(), log), nil
	case "lru":
		log.Info("Using LRU tile cache", zap.Int("max_tiles", capacity))
		return NewStore(capacity, NewLRUPolicy(), log), nil
	case "unbounded":
		log.Info("Tile cache eviction disabled")
		return NewStore(0, NewLRUPolicy(), log), nil
	default:
		return nil, fmt.Errorf("unknown cache policy: %s (supported: cost, lru, unbounded)", policyName)
	}
}
