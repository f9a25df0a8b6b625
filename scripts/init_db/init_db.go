package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"

	"fleet-monitor/telemetry/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		dbGetEnv("DB_USER", "fleet_user"),
		dbGetEnv("DB_PASSWORD", "fleet_password"),
		dbGetEnv("DB_HOST", "localhost"),
		dbGetEnv("DB_PORT", "5432"),
		dbGetEnv("DB_NAME", "fleet_monitor"),
	)

	ctx := context.Background()

	fmt.Println("Connecting to TimescaleDB...")
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure TimescaleDB is running:\n  docker-compose up -d timescaledb", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	fmt.Println("\n── Schema ──────────────────────────────────────")
	err = store.ApplySchema(ctx, conn, func(st store.Statement) {
		fmt.Printf("  ✓ %s\n", st.Label)
	})
	if err != nil {
		log.Fatalf("FAILED: %v", err)
	}

	verify(ctx, conn)

	fmt.Println("\n✅ Database initialised successfully")
	fmt.Println("   Run next: go run ./scripts/seed_redis")
}

func verify(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Verification ────────────────────────────────")

	for _, table := range []string{"can_frames", "vehicle_states", "anomalies"} {
		var exists bool
		err := conn.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_name = $1
			)
		`, table).Scan(&exists)
		if err != nil || !exists {
			log.Fatalf("Table %s was not created: %v", table, err)
		}
		fmt.Printf("  ✓ table: %s\n", table)
	}

	var hypertables int
	err := conn.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM timescaledb_information.hypertables
		WHERE hypertable_name IN ('can_frames', 'vehicle_states')
	`).Scan(&hypertables)
	if err != nil || hypertables != 2 {
		log.Fatalf("expected 2 hypertables, found %d: %v", hypertables, err)
	}
	fmt.Printf("  ✓ hypertables: %d\n", hypertables)

	var indexCount int
	err = conn.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM pg_indexes
		WHERE tablename IN ('can_frames', 'vehicle_states', 'anomalies')
		AND indexname LIKE 'idx_%'
	`).Scan(&indexCount)
	if err != nil {
		log.Fatalf("Index check failed: %v", err)
	}
	fmt.Printf("  ✓ indexes created: %d\n", indexCount)
}

func dbGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
