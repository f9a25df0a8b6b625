package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"fleet-monitor/telemetry/internal/domain"
)

// Execer is satisfied by *pgx.Conn and *pgxpool.Pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Statement struct {
	Label string
	SQL   string
}

// One chunk per day of millisecond timestamps.
const chunkIntervalMs = 24 * 60 * 60 * 1000

// Schema is idempotent; every statement is IF NOT EXISTS.
func Schema() []Statement {
	types := make([]string, len(domain.AnomalyTypes))
	for i, t := range domain.AnomalyTypes {
		types[i] = "'" + string(t) + "'"
	}

	return []Statement{
		{"timescaledb extension", `CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE`},
		{"can_frames table", `
			CREATE TABLE IF NOT EXISTS can_frames (
				ts         BIGINT    NOT NULL,
				device_id  TEXT      NOT NULL,
				can_id     TEXT      NOT NULL,
				dlc        SMALLINT  NOT NULL CHECK (dlc BETWEEN 0 AND 8),
				data       BYTEA     NOT NULL,
				seq        BIGSERIAL
			)`},
		{"can_frames hypertable", fmt.Sprintf(`
			SELECT create_hypertable('can_frames', 'ts',
				chunk_time_interval => %d::bigint, if_not_exists => TRUE)`, chunkIntervalMs)},
		{"vehicle_states table", `
			CREATE TABLE IF NOT EXISTS vehicle_states (
				ts             BIGINT           NOT NULL,
				device_id      TEXT             NOT NULL,
				speed          DOUBLE PRECISION NOT NULL,
				rpm            DOUBLE PRECISION NOT NULL,
				throttle       DOUBLE PRECISION NOT NULL,
				gear           SMALLINT         NOT NULL,
				engine_status  TEXT             NOT NULL CHECK (engine_status IN ('ON', 'OFF')),
				fault          BOOLEAN          NOT NULL DEFAULT false,
				latitude       DOUBLE PRECISION,
				longitude      DOUBLE PRECISION,
				seq            BIGSERIAL
			)`},
		{"vehicle_states hypertable", fmt.Sprintf(`
			SELECT create_hypertable('vehicle_states', 'ts',
				chunk_time_interval => %d::bigint, if_not_exists => TRUE)`, chunkIntervalMs)},
		{"anomalies table", `
			CREATE TABLE IF NOT EXISTS anomalies (
				id               UUID             PRIMARY KEY,
				ts               BIGINT           NOT NULL,
				device_id        TEXT             NOT NULL,
				anomaly_type     TEXT             NOT NULL,
				description      TEXT             NOT NULL,
				severity         SMALLINT         NOT NULL,
				can_id           TEXT,
				latitude         DOUBLE PRECISION,
				longitude        DOUBLE PRECISION,
				vehicle_state    JSONB,
				acknowledged     BOOLEAN          NOT NULL DEFAULT false,
				acknowledged_by  TEXT,
				acknowledged_at  BIGINT,
				notes            TEXT,
				created_at       BIGINT           NOT NULL,
				seq              BIGSERIAL,
				CONSTRAINT chk_anomaly_type CHECK (anomaly_type IN (` + strings.Join(types, ", ") + `)),
				CONSTRAINT chk_severity CHECK (severity BETWEEN 1 AND 3)
			)`},
		{"idx_can_frames_device_ts", `
			CREATE INDEX IF NOT EXISTS idx_can_frames_device_ts
			ON can_frames (device_id, ts DESC, seq DESC)`},
		{"idx_can_frames_device_canid_ts", `
			CREATE INDEX IF NOT EXISTS idx_can_frames_device_canid_ts
			ON can_frames (device_id, can_id, ts DESC)`},
		{"idx_vehicle_states_device_ts", `
			CREATE INDEX IF NOT EXISTS idx_vehicle_states_device_ts
			ON vehicle_states (device_id, ts DESC, seq DESC)`},
		{"idx_anomalies_device_ts", `
			CREATE INDEX IF NOT EXISTS idx_anomalies_device_ts
			ON anomalies (device_id, ts DESC, seq DESC)`},
		{"idx_anomalies_severity_ack", `
			CREATE INDEX IF NOT EXISTS idx_anomalies_severity_ack
			ON anomalies (severity, acknowledged)`},
		{"idx_anomalies_unacknowledged", `
			CREATE INDEX IF NOT EXISTS idx_anomalies_unacknowledged
			ON anomalies (device_id, severity DESC, ts DESC)
			WHERE NOT acknowledged`},
	}
}

// ApplySchema runs every Schema statement in order, stopping at the
// first failure. onApplied may be nil.
func ApplySchema(ctx context.Context, db Execer, onApplied func(Statement)) error {
	for _, st := range Schema() {
		if _, err := db.Exec(ctx, st.SQL); err != nil {
			return fmt.Errorf("%s: %w", st.Label, err)
		}
		if onApplied != nil {
			onApplied(st)
		}
	}
	return nil
}

// Pool exposes the connection pool for schema setup and tooling.
func (s *TimescaleStore) Pool() Execer {
	return s.pool
}
