package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fraudlens/investigation-backend/internal/domain/assessment"
	"github.com/fraudlens/investigation-backend/internal/infrastructure/config"
)

const snapshotKeyPrefix = "investigations:snapshot:"
const eventChannelPrefix = "investigations:events:"

// SnapshotCache keeps the latest status snapshot per investigation in Redis
// and republishes every committed snapshot on a per-investigation channel so
// out-of-process consumers share the in-process emission point.
type SnapshotCache struct {
	client *redis.Client
	cfg    *config.RedisConfig
	logger *zap.Logger
}

// NewSnapshotCache connects to Redis and verifies the connection
func NewSnapshotCache(cfg *config.RedisConfig, logger *zap.Logger) (*SnapshotCache, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.URL,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("snapshot cache initialized",
		zap.String("addr", cfg.URL),
		zap.Int("db", cfg.DB))

	return &SnapshotCache{client: client, cfg: cfg, logger: logger}, nil
}

// Publish stores the snapshot and broadcasts it on the investigation channel
func (c *SnapshotCache) Publish(ctx context.Context, snap *assessment.StatusSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	key := snapshotKeyPrefix + snap.InvestigationID.String()
	if err := c.client.Set(ctx, key, payload, c.cfg.SnapshotTTL).Err(); err != nil {
		c.logger.Error("redis snapshot set failed",
			zap.String("investigation_id", snap.InvestigationID.String()),
			zap.Error(err))
		return fmt.Errorf("redis snapshot set failed: %w", err)
	}

	channel := eventChannelPrefix + snap.InvestigationID.String()
	if err := c.client.Publish(ctx, channel, payload).Err(); err != nil {
		c.logger.Error("redis snapshot publish failed",
			zap.String("investigation_id", snap.InvestigationID.String()),
			zap.Error(err))
		return fmt.Errorf("redis snapshot publish failed: %w", err)
	}

	return nil
}

// GetSnapshot returns the latest cached snapshot, or nil when absent
func (c *SnapshotCache) GetSnapshot(ctx context.Context, id uuid.UUID) (*assessment.StatusSnapshot, error) {
	payload, err := c.client.Get(ctx, snapshotKeyPrefix+id.String()).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis snapshot get failed: %w", err)
	}

	var snap assessment.StatusSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// Subscribe delivers published snapshots for one investigation until the
// context ends. Used by external fan-out consumers.
func (c *SnapshotCache) Subscribe(ctx context.Context, id uuid.UUID) (<-chan *assessment.StatusSnapshot, error) {
	sub := c.client.Subscribe(ctx, eventChannelPrefix+id.String())
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}

	out := make(chan *assessment.StatusSnapshot)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var snap assessment.StatusSnapshot
				if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
					c.logger.Warn("dropping malformed snapshot event", zap.Error(err))
					continue
				}
				select {
				case out <- &snap:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close releases the Redis connection
func (c *SnapshotCache) Close() error {
	return c.client.Close()
}
