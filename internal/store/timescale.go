package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-monitor/telemetry/internal/config"
	"fleet-monitor/telemetry/internal/domain"
)

type TimescaleStore struct {
	pool *pgxpool.Pool
}

func NewTimescaleStore(ctx context.Context, cfg *config.Config) (*TimescaleStore, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?pool_max_conns=%d",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBMaxConns,
	)
	return OpenTimescale(ctx, connStr)
}

// OpenTimescale connects to an explicit connection string.
func OpenTimescale(ctx context.Context, connStr string) (*TimescaleStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &TimescaleStore{pool: pool}, nil
}

func (s *TimescaleStore) Close() {
	s.pool.Close()
}

func (s *TimescaleStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func storageErr(op string, err error) error {
	return &domain.StorageError{Op: op, Err: err}
}

func direction(order domain.Order) string {
	if order == domain.Ascending {
		return "ASC"
	}
	return "DESC"
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ─── Frames ───────────────────────────────────────────────

var frameColumns = []string{
	"ts",
	"device_id",
	"can_id",
	"dlc",
	"data",
}

const frameSelect = `SELECT ts, device_id, can_id, dlc, data FROM can_frames`

func scanFrame(row pgx.CollectableRow) (domain.CANFrame, error) {
	var (
		f       domain.CANFrame
		payload []byte
	)
	if err := row.Scan(&f.Timestamp, &f.DeviceID, &f.CanID, &f.DLC, &payload); err != nil {
		return f, err
	}
	f.Data = domain.DataFromPayload(payload)
	return f, nil
}

func (s *TimescaleStore) queryFrames(ctx context.Context, op, sql string, args ...any) ([]domain.CANFrame, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	frames, err := pgx.CollectRows(rows, scanFrame)
	if err != nil {
		return nil, storageErr(op, err)
	}
	return frames, nil
}

func (s *TimescaleStore) InsertFrame(ctx context.Context, f *domain.CANFrame) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO can_frames (ts, device_id, can_id, dlc, data) VALUES ($1, $2, $3, $4, $5)`,
		f.Timestamp, f.DeviceID, f.CanID, f.DLC, f.Payload(),
	)
	if err != nil {
		return storageErr("insert frame", err)
	}
	return nil
}

// InsertFrames uses COPY; the batch commits or fails as a unit.
func (s *TimescaleStore) InsertFrames(ctx context.Context, frames []domain.CANFrame) error {
	if len(frames) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(frames))
	for i := range frames {
		f := &frames[i]
		rows[i] = []interface{}{f.Timestamp, f.DeviceID, f.CanID, f.DLC, f.Payload()}
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"can_frames"},
		frameColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return storageErr(fmt.Sprintf("copy %d frames", len(frames)), err)
	}
	return nil
}

func (s *TimescaleStore) LatestFrames(ctx context.Context, deviceID string, limit int) ([]domain.CANFrame, error) {
	if limit <= 0 {
		return []domain.CANFrame{}, nil
	}
	return s.queryFrames(ctx, "latest frames",
		frameSelect+` WHERE device_id = $1 ORDER BY ts DESC, seq DESC LIMIT $2`,
		deviceID, limit,
	)
}

func (s *TimescaleStore) FramesByCanID(ctx context.Context, deviceID, canID string, limit int) ([]domain.CANFrame, error) {
	if limit <= 0 {
		return []domain.CANFrame{}, nil
	}
	return s.queryFrames(ctx, "frames by can id",
		frameSelect+` WHERE device_id = $1 AND can_id = $2 ORDER BY ts DESC, seq DESC LIMIT $3`,
		deviceID, canID, limit,
	)
}

func (s *TimescaleStore) FramesInRange(ctx context.Context, deviceID string, start, end int64, order domain.Order) ([]domain.CANFrame, error) {
	dir := direction(order)
	return s.queryFrames(ctx, "frames in range",
		frameSelect+` WHERE device_id = $1 AND ts BETWEEN $2 AND $3 ORDER BY ts `+dir+`, seq `+dir,
		deviceID, start, end,
	)
}

func (s *TimescaleStore) DeleteFramesBefore(ctx context.Context, deviceID string, cutoff int64) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM can_frames WHERE device_id = $1 AND ts < $2`,
		deviceID, cutoff,
	)
	if err != nil {
		return 0, storageErr("delete frames", err)
	}
	return tag.RowsAffected(), nil
}

// ─── Vehicle state ────────────────────────────────────────

const stateSelect = `SELECT ts, device_id, speed, rpm, throttle, gear, engine_status, fault, latitude, longitude FROM vehicle_states`

func scanState(row pgx.CollectableRow) (domain.VehicleStateSample, error) {
	var (
		st     domain.VehicleStateSample
		status string
	)
	err := row.Scan(
		&st.Timestamp, &st.DeviceID, &st.Speed, &st.RPM, &st.Throttle,
		&st.Gear, &status, &st.Fault, &st.Latitude, &st.Longitude,
	)
	st.EngineStatus = domain.EngineStatus(status)
	return st, err
}

func (s *TimescaleStore) queryStates(ctx context.Context, op, sql string, args ...any) ([]domain.VehicleStateSample, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	states, err := pgx.CollectRows(rows, scanState)
	if err != nil {
		return nil, storageErr(op, err)
	}
	return states, nil
}

func (s *TimescaleStore) InsertState(ctx context.Context, st *domain.VehicleStateSample) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vehicle_states
			(ts, device_id, speed, rpm, throttle, gear, engine_status, fault, latitude, longitude)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		st.Timestamp, st.DeviceID, st.Speed, st.RPM, st.Throttle,
		st.Gear, string(st.EngineStatus), st.Fault, st.Latitude, st.Longitude,
	)
	if err != nil {
		return storageErr("insert state", err)
	}
	return nil
}

func (s *TimescaleStore) LatestStates(ctx context.Context, deviceID string, limit int) ([]domain.VehicleStateSample, error) {
	if limit <= 0 {
		return []domain.VehicleStateSample{}, nil
	}
	return s.queryStates(ctx, "latest states",
		stateSelect+` WHERE device_id = $1 ORDER BY ts DESC, seq DESC LIMIT $2`,
		deviceID, limit,
	)
}

func (s *TimescaleStore) StatesInRange(ctx context.Context, deviceID string, start, end int64, order domain.Order) ([]domain.VehicleStateSample, error) {
	dir := direction(order)
	return s.queryStates(ctx, "states in range",
		stateSelect+` WHERE device_id = $1 AND ts BETWEEN $2 AND $3 ORDER BY ts `+dir+`, seq `+dir,
		deviceID, start, end,
	)
}

// ─── Anomalies ────────────────────────────────────────────

const anomalySelect = `
	SELECT id::text, ts, device_id, anomaly_type, description, severity, can_id,
	       latitude, longitude, vehicle_state, acknowledged, acknowledged_by,
	       acknowledged_at, notes, created_at
	FROM anomalies`

const anomalyReturning = `
	RETURNING id::text, ts, device_id, anomaly_type, description, severity, can_id,
	          latitude, longitude, vehicle_state, acknowledged, acknowledged_by,
	          acknowledged_at, notes, created_at`

func scanAnomaly(row pgx.Row) (domain.Anomaly, error) {
	var (
		a        domain.Anomaly
		kind     string
		canID    *string
		snapshot []byte
		ackBy    *string
		notes    *string
	)
	err := row.Scan(
		&a.ID, &a.Timestamp, &a.DeviceID, &kind, &a.Description, &a.Severity, &canID,
		&a.Latitude, &a.Longitude, &snapshot, &a.Ack.Acknowledged, &ackBy,
		&a.Ack.At, &notes, &a.CreatedAt,
	)
	if err != nil {
		return a, err
	}
	a.Type = domain.AnomalyType(kind)
	if canID != nil {
		a.CanID = *canID
	}
	if ackBy != nil {
		a.Ack.By = *ackBy
	}
	if notes != nil {
		a.Ack.Notes = *notes
	}
	if len(snapshot) > 0 {
		a.VehicleState = &domain.VehicleSnapshot{}
		if err := json.Unmarshal(snapshot, a.VehicleState); err != nil {
			return a, fmt.Errorf("decode vehicle_state: %w", err)
		}
	}
	return a, nil
}

func scanAnomalyRow(row pgx.CollectableRow) (domain.Anomaly, error) {
	return scanAnomaly(row)
}

func (s *TimescaleStore) queryAnomalies(ctx context.Context, op, sql string, args ...any) ([]domain.Anomaly, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	anomalies, err := pgx.CollectRows(rows, scanAnomalyRow)
	if err != nil {
		return nil, storageErr(op, err)
	}
	return anomalies, nil
}

func (s *TimescaleStore) InsertAnomaly(ctx context.Context, a *domain.Anomaly) error {
	var snapshot []byte
	if a.VehicleState != nil {
		var err error
		if snapshot, err = json.Marshal(a.VehicleState); err != nil {
			return fmt.Errorf("encode vehicle_state: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO anomalies
			(id, ts, device_id, anomaly_type, description, severity, can_id,
			 latitude, longitude, vehicle_state, acknowledged, created_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false, $11)
	`,
		a.ID, a.Timestamp, a.DeviceID, string(a.Type), a.Description, int(a.Severity),
		nullString(a.CanID), a.Latitude, a.Longitude, snapshot, a.CreatedAt,
	)
	if err != nil {
		return storageErr("insert anomaly", err)
	}
	return nil
}

func (s *TimescaleStore) GetAnomaly(ctx context.Context, id string) (*domain.Anomaly, error) {
	a, err := scanAnomaly(s.pool.QueryRow(ctx, anomalySelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "anomaly", Key: id}
	}
	if err != nil {
		return nil, storageErr("get anomaly", err)
	}
	return &a, nil
}

func (s *TimescaleStore) AcknowledgeAnomaly(ctx context.Context, id string, ack domain.Acknowledgment) (*domain.Anomaly, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE anomalies
		SET acknowledged = $2, acknowledged_by = $3, acknowledged_at = $4, notes = $5
		WHERE id = $1`+anomalyReturning,
		id, ack.Acknowledged, nullString(ack.By), ack.At, nullString(ack.Notes),
	)
	a, err := scanAnomaly(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "anomaly", Key: id}
	}
	if err != nil {
		return nil, storageErr("acknowledge anomaly", err)
	}
	return &a, nil
}

func (s *TimescaleStore) LatestAnomalies(ctx context.Context, deviceID string, limit int) ([]domain.Anomaly, error) {
	if limit <= 0 {
		return []domain.Anomaly{}, nil
	}
	return s.queryAnomalies(ctx, "latest anomalies",
		anomalySelect+` WHERE device_id = $1 ORDER BY ts DESC, seq DESC LIMIT $2`,
		deviceID, limit,
	)
}

func (s *TimescaleStore) AnomaliesInRange(ctx context.Context, deviceID string, start, end int64, order domain.Order) ([]domain.Anomaly, error) {
	dir := direction(order)
	return s.queryAnomalies(ctx, "anomalies in range",
		anomalySelect+` WHERE device_id = $1 AND ts BETWEEN $2 AND $3 ORDER BY ts `+dir+`, seq `+dir,
		deviceID, start, end,
	)
}

func (s *TimescaleStore) UnacknowledgedAnomalies(ctx context.Context, deviceID string) ([]domain.Anomaly, error) {
	return s.queryAnomalies(ctx, "unacknowledged anomalies",
		anomalySelect+` WHERE device_id = $1 AND NOT acknowledged ORDER BY severity DESC, ts DESC, seq DESC`,
		deviceID,
	)
}

var _ Store = (*TimescaleStore)(nil)
