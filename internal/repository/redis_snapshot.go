package repository

import (
	"context"
	"errors"
	"fmt"

	"QuorumFeed/internal/domain/models"
	"QuorumFeed/pkg/cache"
	applogger "QuorumFeed/pkg/logger"
)

const nodeSnapshotKey = "nodes:snapshot"

// RedisSnapshotStore persists the node registry as a single JSON document.
// The registry is small (hundreds of nodes at most) so a whole-set write per
// snapshot interval is simpler than per-node keys and keeps load/save atomic.
type RedisSnapshotStore struct {
	cache cache.Service
	l     *applogger.Logger
}

func NewRedisSnapshotStore(c cache.Service, l *applogger.Logger) *RedisSnapshotStore {
	return &RedisSnapshotStore{cache: c, l: l}
}

func (s *RedisSnapshotStore) SaveNodes(ctx context.Context, nodes []*models.Node) error {
	if err := s.cache.Set(ctx, nodeSnapshotKey, nodes, 0); err != nil {
		return fmt.Errorf("save node snapshot: %w", err)
	}
	if s.l != nil {
		s.l.Debug("node snapshot saved", applogger.Int("nodes", len(nodes)))
	}
	return nil
}

func (s *RedisSnapshotStore) LoadNodes(ctx context.Context) ([]*models.Node, error) {
	var nodes []*models.Node
	err := s.cache.Get(ctx, nodeSnapshotKey, &nodes)
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load node snapshot: %w", err)
	}
	return nodes, nil
}

func (s *RedisSnapshotStore) Close() error {
	return nil // Connection owned by DI
}
