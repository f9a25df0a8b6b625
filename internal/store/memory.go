package store

import (
	"context"
	"sort"
	"sync"

	"fleet-monitor/telemetry/internal/domain"
)

type frameRow struct {
	seq   uint64
	frame domain.CANFrame
}

type stateRow struct {
	seq    uint64
	sample domain.VehicleStateSample
}

type anomalyRow struct {
	seq     uint64
	anomaly domain.Anomaly
}

// MemoryStore keeps everything in process memory. It backs the
// STORE_BACKEND=memory mode and the package tests.
type MemoryStore struct {
	mu        sync.RWMutex
	seq       uint64
	frames    map[string][]frameRow
	states    map[string][]stateRow
	anomalies map[string][]*anomalyRow
	byID      map[string]*anomalyRow
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		frames:    make(map[string][]frameRow),
		states:    make(map[string][]stateRow),
		anomalies: make(map[string][]*anomalyRow),
		byID:      make(map[string]*anomalyRow),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() {}

func (s *MemoryStore) nextSeq() uint64 {
	s.seq++
	return s.seq
}

func copyFrame(f domain.CANFrame) domain.CANFrame {
	f.Data = append([]int(nil), f.Data...)
	return f
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyState(st domain.VehicleStateSample) domain.VehicleStateSample {
	st.Latitude = copyFloat(st.Latitude)
	st.Longitude = copyFloat(st.Longitude)
	return st
}

func copyAnomaly(a domain.Anomaly) domain.Anomaly {
	a.Latitude = copyFloat(a.Latitude)
	a.Longitude = copyFloat(a.Longitude)
	if a.VehicleState != nil {
		v := *a.VehicleState
		a.VehicleState = &v
	}
	if a.Ack.At != nil {
		at := *a.Ack.At
		a.Ack.At = &at
	}
	return a
}

// less orders by (timestamp, seq) in the requested direction.
func less(tsA int64, seqA uint64, tsB int64, seqB uint64, order domain.Order) bool {
	if tsA != tsB {
		if order == domain.Ascending {
			return tsA < tsB
		}
		return tsA > tsB
	}
	if order == domain.Ascending {
		return seqA < seqB
	}
	return seqA > seqB
}

func clampLimit(n, limit int) int {
	if limit <= 0 {
		return 0
	}
	if limit < n {
		return limit
	}
	return n
}

// ─── Frames ───────────────────────────────────────────────

func (s *MemoryStore) InsertFrame(ctx context.Context, f *domain.CANFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[f.DeviceID] = append(s.frames[f.DeviceID], frameRow{seq: s.nextSeq(), frame: copyFrame(*f)})
	return nil
}

func (s *MemoryStore) InsertFrames(ctx context.Context, frames []domain.CANFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range frames {
		s.frames[f.DeviceID] = append(s.frames[f.DeviceID], frameRow{seq: s.nextSeq(), frame: copyFrame(f)})
	}
	return nil
}

func (s *MemoryStore) selectFrames(deviceID string, keep func(*domain.CANFrame) bool, order domain.Order) []domain.CANFrame {
	s.mu.RLock()
	rows := make([]frameRow, 0, len(s.frames[deviceID]))
	for _, r := range s.frames[deviceID] {
		if keep(&r.frame) {
			rows = append(rows, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		return less(rows[i].frame.Timestamp, rows[i].seq, rows[j].frame.Timestamp, rows[j].seq, order)
	})

	out := make([]domain.CANFrame, len(rows))
	for i, r := range rows {
		out[i] = copyFrame(r.frame)
	}
	return out
}

func (s *MemoryStore) LatestFrames(ctx context.Context, deviceID string, limit int) ([]domain.CANFrame, error) {
	all := s.selectFrames(deviceID, func(*domain.CANFrame) bool { return true }, domain.Descending)
	return all[:clampLimit(len(all), limit)], nil
}

func (s *MemoryStore) FramesByCanID(ctx context.Context, deviceID, canID string, limit int) ([]domain.CANFrame, error) {
	all := s.selectFrames(deviceID, func(f *domain.CANFrame) bool { return f.CanID == canID }, domain.Descending)
	return all[:clampLimit(len(all), limit)], nil
}

func (s *MemoryStore) FramesInRange(ctx context.Context, deviceID string, start, end int64, order domain.Order) ([]domain.CANFrame, error) {
	return s.selectFrames(deviceID, func(f *domain.CANFrame) bool {
		return f.Timestamp >= start && f.Timestamp <= end
	}, order), nil
}

func (s *MemoryStore) DeleteFramesBefore(ctx context.Context, deviceID string, cutoff int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.frames[deviceID]
	kept := rows[:0]
	var deleted int64
	for _, r := range rows {
		if r.frame.Timestamp < cutoff {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	s.frames[deviceID] = kept
	return deleted, nil
}

// ─── Vehicle state ────────────────────────────────────────

func (s *MemoryStore) InsertState(ctx context.Context, st *domain.VehicleStateSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.DeviceID] = append(s.states[st.DeviceID], stateRow{seq: s.nextSeq(), sample: copyState(*st)})
	return nil
}

func (s *MemoryStore) selectStates(deviceID string, keep func(*domain.VehicleStateSample) bool, order domain.Order) []domain.VehicleStateSample {
	s.mu.RLock()
	rows := make([]stateRow, 0, len(s.states[deviceID]))
	for _, r := range s.states[deviceID] {
		if keep(&r.sample) {
			rows = append(rows, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		return less(rows[i].sample.Timestamp, rows[i].seq, rows[j].sample.Timestamp, rows[j].seq, order)
	})

	out := make([]domain.VehicleStateSample, len(rows))
	for i, r := range rows {
		out[i] = copyState(r.sample)
	}
	return out
}

func (s *MemoryStore) LatestStates(ctx context.Context, deviceID string, limit int) ([]domain.VehicleStateSample, error) {
	all := s.selectStates(deviceID, func(*domain.VehicleStateSample) bool { return true }, domain.Descending)
	return all[:clampLimit(len(all), limit)], nil
}

func (s *MemoryStore) StatesInRange(ctx context.Context, deviceID string, start, end int64, order domain.Order) ([]domain.VehicleStateSample, error) {
	return s.selectStates(deviceID, func(st *domain.VehicleStateSample) bool {
		return st.Timestamp >= start && st.Timestamp <= end
	}, order), nil
}

// ─── Anomalies ────────────────────────────────────────────

func (s *MemoryStore) InsertAnomaly(ctx context.Context, a *domain.Anomaly) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[a.ID]; exists {
		return &domain.StorageError{Op: "insert anomaly", Err: errDuplicateID(a.ID)}
	}
	row := &anomalyRow{seq: s.nextSeq(), anomaly: copyAnomaly(*a)}
	s.anomalies[a.DeviceID] = append(s.anomalies[a.DeviceID], row)
	s.byID[a.ID] = row
	return nil
}

func (s *MemoryStore) GetAnomaly(ctx context.Context, id string) (*domain.Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.byID[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "anomaly", Key: id}
	}
	a := copyAnomaly(row.anomaly)
	return &a, nil
}

func (s *MemoryStore) AcknowledgeAnomaly(ctx context.Context, id string, ack domain.Acknowledgment) (*domain.Anomaly, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.byID[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "anomaly", Key: id}
	}
	row.anomaly.Ack = ack
	a := copyAnomaly(row.anomaly)
	return &a, nil
}

func (s *MemoryStore) selectAnomalies(deviceID string, keep func(*domain.Anomaly) bool, lessFn func(a, b *anomalyRow) bool) []domain.Anomaly {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]*anomalyRow, 0, len(s.anomalies[deviceID]))
	for _, r := range s.anomalies[deviceID] {
		if keep(&r.anomaly) {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return lessFn(rows[i], rows[j]) })

	out := make([]domain.Anomaly, len(rows))
	for i, r := range rows {
		out[i] = copyAnomaly(r.anomaly)
	}
	return out
}

func byTimestamp(order domain.Order) func(a, b *anomalyRow) bool {
	return func(a, b *anomalyRow) bool {
		return less(a.anomaly.Timestamp, a.seq, b.anomaly.Timestamp, b.seq, order)
	}
}

func (s *MemoryStore) LatestAnomalies(ctx context.Context, deviceID string, limit int) ([]domain.Anomaly, error) {
	all := s.selectAnomalies(deviceID, func(*domain.Anomaly) bool { return true }, byTimestamp(domain.Descending))
	return all[:clampLimit(len(all), limit)], nil
}

func (s *MemoryStore) AnomaliesInRange(ctx context.Context, deviceID string, start, end int64, order domain.Order) ([]domain.Anomaly, error) {
	return s.selectAnomalies(deviceID, func(a *domain.Anomaly) bool {
		return a.Timestamp >= start && a.Timestamp <= end
	}, byTimestamp(order)), nil
}

func (s *MemoryStore) UnacknowledgedAnomalies(ctx context.Context, deviceID string) ([]domain.Anomaly, error) {
	return s.selectAnomalies(deviceID, func(a *domain.Anomaly) bool {
		return !a.Ack.Acknowledged
	}, func(a, b *anomalyRow) bool {
		if a.anomaly.Severity != b.anomaly.Severity {
			return a.anomaly.Severity > b.anomaly.Severity
		}
		return less(a.anomaly.Timestamp, a.seq, b.anomaly.Timestamp, b.seq, domain.Descending)
	}), nil
}

type errDuplicateID string

func (e errDuplicateID) Error() string { return "duplicate anomaly id " + string(e) }

var _ Store = (*MemoryStore)(nil)
