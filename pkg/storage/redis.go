package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/netsentry/netsentry/pkg/anomaly"
	"github.com/netsentry/netsentry/pkg/config"
	"github.com/netsentry/netsentry/pkg/packet"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	packetsKey        = "packets:recent"
	anomaliesKey      = "anomalies:history"
	anomaliesChannel  = "anomalies"
	anomaliesRetained = 1000
)

// RedisStore keeps packets and anomalies in Redis sorted sets scored by
// capture time and trimmed by rank to a bounded retention. ZAdd counts
// only newly added members, so re-submitting a batch after a partial
// failure skips the members that already landed.
type RedisStore struct {
	client    *redis.Client
	logger    zerolog.Logger
	retention int64
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg config.StorageConfig, logger zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	retention := int64(cfg.Retention)
	if retention <= 0 {
		retention = 10000
	}

	return &RedisStore{
		client:    client,
		logger:    logger.With().Str("component", "storage").Logger(),
		retention: retention,
	}, nil
}

// CreatePackets bulk-inserts a batch and returns the number actually
// stored, which may be less than submitted when duplicates are skipped.
func (r *RedisStore) CreatePackets(ctx context.Context, packets []packet.Packet) (int, error) {
	if len(packets) == 0 {
		return 0, nil
	}

	members := make([]redis.Z, 0, len(packets))
	for i := range packets {
		data, err := json.Marshal(&packets[i])
		if err != nil {
			r.logger.Warn().Err(err).Str("packet_id", packets[i].ID).Msg("Skipping unserializable packet")
			continue
		}
		members = append(members, redis.Z{
			Score:  float64(packets[i].Timestamp.UnixNano()) / 1e9,
			Member: string(data),
		})
	}
	if len(members) == 0 {
		return 0, nil
	}

	added, err := r.client.ZAdd(ctx, packetsKey, members...).Result()
	if err != nil {
		return 0, err
	}

	// Bound the time series; oldest ranks go first.
	if err := r.client.ZRemRangeByRank(ctx, packetsKey, 0, -r.retention-1).Err(); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to trim packet retention")
	}

	return int(added), nil
}

// FindRecentPackets returns up to limit packets ordered newest-first.
func (r *RedisStore) FindRecentPackets(ctx context.Context, limit int) ([]packet.Packet, error) {
	if limit <= 0 {
		limit = 1000
	}

	results, err := r.client.ZRevRange(ctx, packetsKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	packets := make([]packet.Packet, 0, len(results))
	for _, result := range results {
		var p packet.Packet
		if err := json.Unmarshal([]byte(result), &p); err != nil {
			continue
		}
		packets = append(packets, p)
	}

	return packets, nil
}

// CreateAnomaly persists an anomaly record and publishes it for
// subscribers.
func (r *RedisStore) CreateAnomaly(ctx context.Context, a anomaly.Anomaly) error {
	data, err := json.Marshal(&a)
	if err != nil {
		return err
	}

	if err := r.client.ZAdd(ctx, anomaliesKey, redis.Z{
		Score:  float64(a.Timestamp.UnixNano()) / 1e9,
		Member: string(data),
	}).Err(); err != nil {
		return err
	}

	if err := r.client.ZRemRangeByRank(ctx, anomaliesKey, 0, -anomaliesRetained-1).Err(); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to trim anomaly retention")
	}

	if err := r.client.Publish(ctx, anomaliesChannel, string(data)).Err(); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to publish anomaly")
	}

	return nil
}

// FindAnomalies returns up to limit anomaly records, newest first.
func (r *RedisStore) FindAnomalies(ctx context.Context, limit int) ([]anomaly.Anomaly, error) {
	if limit <= 0 {
		limit = 100
	}

	results, err := r.client.ZRevRange(ctx, anomaliesKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	anomalies := make([]anomaly.Anomaly, 0, len(results))
	for _, result := range results {
		var a anomaly.Anomaly
		if err := json.Unmarshal([]byte(result), &a); err != nil {
			continue
		}
		anomalies = append(anomalies, a)
	}

	return anomalies, nil
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
