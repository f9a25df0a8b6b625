package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fleet-monitor/telemetry/internal/config"
	"fleet-monitor/telemetry/internal/domain"
)

// RedisStore holds the non-durable side of the system: API keys,
// registry settings, classifier dedup markers and the anomaly fan-out
// channel. Telemetry itself never lands here.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Client() *redis.Client {
	return r.client
}

func APIKeyKey(apiKey string) string {
	return fmt.Sprintf("device:auth:%s", apiKey)
}

func ThresholdsKey(deviceID string) string {
	return fmt.Sprintf("device:%s:thresholds", deviceID)
}

func AnomalyChannel(deviceID string) string {
	return fmt.Sprintf("device:%s:anomalies", deviceID)
}

func dedupKey(deviceID string, t domain.AnomalyType) string {
	return fmt.Sprintf("anomaly:%s:%s", deviceID, string(t))
}

// GetAPIKey resolves an API key to the device it was issued to. An
// unknown key yields "" and no error.
func (r *RedisStore) GetAPIKey(ctx context.Context, apiKey string) (string, error) {
	val, err := r.client.Get(ctx, APIKeyKey(apiKey)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get api key failed: %w", err)
	}
	return val, nil
}

// DeviceSettings returns the raw registry hash for a device. Empty map
// when the device has no settings.
func (r *RedisStore) DeviceSettings(ctx context.Context, deviceID string) (map[string]string, error) {
	vals, err := r.client.HGetAll(ctx, ThresholdsKey(deviceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get thresholds failed: %w", err)
	}
	return vals, nil
}

func (r *RedisStore) CheckAnomalyDedup(ctx context.Context, deviceID string, t domain.AnomalyType) (bool, error) {
	count, err := r.client.Exists(ctx, dedupKey(deviceID, t)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return count > 0, nil
}

func (r *RedisStore) SetAnomalyDedup(ctx context.Context, deviceID string, t domain.AnomalyType, ttl time.Duration) error {
	return r.client.Set(ctx, dedupKey(deviceID, t), "1", ttl).Err()
}

// Notify publishes the anomaly as JSON on the device's anomaly channel.
func (r *RedisStore) Notify(ctx context.Context, a domain.Anomaly) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal anomaly: %w", err)
	}
	if err := r.client.Publish(ctx, AnomalyChannel(a.DeviceID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish anomaly: %w", err)
	}
	return nil
}
