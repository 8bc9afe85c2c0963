package reconnect

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zenmesh/transport/pkg/config"
	"github.com/zenmesh/transport/pkg/logger"
	"github.com/zenmesh/transport/pkg/types"
)

// DistributedStore mirrors circuit-breaker trips into Redis so that multiple
// Transport instances behind the same signaling server (e.g. a horizontally
// scaled SFU-less mesh relay) treat a peer's failure history consistently
// instead of each process independently re-tripping its own breaker. It is
// strictly an optimization: IsOpenElsewhere reports false whenever Redis is
// unreachable, leaving the in-memory CircuitBreaker verdict in charge.
type DistributedStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	log       logger.Logger
}

// NewDistributedStore constructs a store from cluster/redis configuration.
// Returns nil if clustering is disabled, so callers can treat a nil store as
// "use local breaker state only".
func NewDistributedStore(cfg config.ClusterConfig, redisCfg config.RedisConfig, log logger.Logger) *DistributedStore {
	if !cfg.Enabled {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Address,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
		PoolSize: redisCfg.PoolSize,
	})

	ttl := redisCfg.StateTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &DistributedStore{client: client, keyPrefix: "transport:circuit:" + cfg.NodeID + ":", ttl: ttl, log: log}
}

func (s *DistributedStore) key(id types.PeerID) string {
	return s.keyPrefix + string(id)
}

// RecordOpen marks a peer's breaker as tripped cluster-wide, with a TTL equal
// to the cooldown so the key expires on its own once the breaker would have
// half-opened locally anyway.
func (s *DistributedStore) RecordOpen(ctx context.Context, id types.PeerID, cooldown time.Duration) {
	if s == nil {
		return
	}
	if err := s.client.Set(ctx, s.key(id), "open", cooldown).Err(); err != nil {
		s.log.Warn("failed to record circuit open in redis", logger.String("peer_id", string(id)), logger.Err(err))
	}
}

// RecordClosed removes a peer's tripped marker cluster-wide.
func (s *DistributedStore) RecordClosed(ctx context.Context, id types.PeerID) {
	if s == nil {
		return
	}
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		s.log.Warn("failed to clear circuit state in redis", logger.String("peer_id", string(id)), logger.Err(err))
	}
}

// IsOpenElsewhere reports whether another node in the cluster has this peer's
// breaker tripped. A Redis error is treated as "unknown", returning false so
// the caller falls back to its local breaker's verdict.
func (s *DistributedStore) IsOpenElsewhere(ctx context.Context, id types.PeerID) bool {
	if s == nil {
		return false
	}
	n, err := s.client.Exists(ctx, s.key(id)).Result()
	if err != nil {
		s.log.Warn("failed to check circuit state in redis", logger.String("peer_id", string(id)), logger.Err(err))
		return false
	}
	return n > 0
}

// Close releases the underlying Redis connection pool.
func (s *DistributedStore) Close() error {
	if s == nil {
		return nil
	}
	return s.client.Close()
}

func (s *DistributedStore) String() string {
	if s == nil {
		return "<nil distributed store>"
	}
	return fmt.Sprintf("DistributedStore(prefix=%s)", s.keyPrefix)
}
