package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"fleet-monitor/telemetry/internal/registry"
	"fleet-monitor/telemetry/internal/store"
)

type device struct {
	id       string
	apiKey   string
	settings map[string]any
}

var devices = []device{
	{
		id:     "ESP32_CAN_001",
		apiKey: "esp32_can_001_key",
		settings: map[string]any{
			registry.FieldLogInterval:   5000,
			registry.FieldRPMSpikeDelta: 500,
			registry.FieldMaxSpeed:      200,
		},
	},
	{
		id:     "ESP32_CAN_002",
		apiKey: "esp32_can_002_key",
		settings: map[string]any{
			registry.FieldLogInterval:   1000,
			registry.FieldRPMSpikeDelta: 400,
			registry.FieldMaxSpeed:      120,
		},
	},
	{id: "test_device", apiKey: "test_key"},
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file, using system environment variables")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisGetEnv("REDIS_ADDR", "localhost:6379"),
		Password: redisGetEnv("REDIS_PASSWORD", ""),
		DB:       0,
	})
	defer client.Close()

	ctx := context.Background()

	fmt.Println("Connecting to Redis...")
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Redis is running:\n  docker-compose up -d redis", err)
	}
	fmt.Println("✓ Connected")

	seedAPIKeys(ctx, client)
	seedThresholds(ctx, client)
	verify(ctx, client)

	fmt.Println("\n✅ Redis seeded successfully")
}

// API keys never expire.
func seedAPIKeys(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── API keys ────────────────────────────────────")
	for _, d := range devices {
		key := store.APIKeyKey(d.apiKey)
		if err := client.Set(ctx, key, d.id, 0).Err(); err != nil {
			log.Fatalf("Failed to set key %s: %v", key, err)
		}
		fmt.Printf("  ✓ %-40s → %s\n", key, d.id)
	}
}

func seedThresholds(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── Device thresholds ───────────────────────────")
	for _, d := range devices {
		if len(d.settings) == 0 {
			continue
		}
		key := store.ThresholdsKey(d.id)
		if err := client.HSet(ctx, key, d.settings).Err(); err != nil {
			log.Fatalf("Failed to set %s: %v", key, err)
		}
		fmt.Printf("  ✓ %-40s %v\n", key, d.settings)
	}
}

func verify(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── Verification ────────────────────────────────")

	keys, err := client.Keys(ctx, store.APIKeyKey("*")).Result()
	if err != nil {
		log.Fatalf("Verification failed: %v", err)
	}
	fmt.Printf("  ✓ %d API keys found in Redis\n", len(keys))

	rs := store.NewRedisStoreFromClient(client)
	device, err := rs.GetAPIKey(ctx, "test_key")
	if err != nil || device == "" {
		log.Fatalf("Spot check failed: %q %v", device, err)
	}
	fmt.Printf("  ✓ spot check: test_key → %s\n", device)
}

func redisGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
