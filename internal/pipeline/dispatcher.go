// Package pipeline moves work off the request path: HIGH severity
// anomaly notifications and, when enabled, server-side classification
// of vehicle-state samples. Both queues are bounded and drop on
// overflow rather than block the caller.
package pipeline

import (
	"sync"

	"fleet-monitor/telemetry/internal/domain"
	"fleet-monitor/telemetry/internal/metrics"
)

type Dispatcher struct {
	AnomalyChan chan domain.Anomaly
	StateChan   chan domain.VehicleStateSample

	mu              sync.RWMutex
	statesClosed    bool
	anomaliesClosed bool
}

func NewDispatcher(anomalySize, stateSize int) *Dispatcher {
	return &Dispatcher{
		AnomalyChan: make(chan domain.Anomaly, anomalySize),
		StateChan:   make(chan domain.VehicleStateSample, stateSize),
	}
}

// PublishAnomaly queues a notification. Never blocks; after Close the
// anomaly is dropped and counted.
func (d *Dispatcher) PublishAnomaly(a domain.Anomaly) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.anomaliesClosed {
		metrics.NotifyChannelDrops.Inc()
		return
	}
	select {
	case d.AnomalyChan <- a:
	default:
		metrics.NotifyChannelDrops.Inc()
	}
}

// SubmitState queues a stored sample for classification. Never blocks;
// after CloseStates the sample is dropped and counted.
func (d *Dispatcher) SubmitState(s domain.VehicleStateSample) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.statesClosed {
		metrics.StateChannelDrops.Inc()
		return
	}
	select {
	case d.StateChan <- s:
	default:
		metrics.StateChannelDrops.Inc()
	}
}

// CloseStates stops the classification queue. The evaluator drains what
// is buffered and returns; anomalies it records still reach AnomalyChan.
func (d *Dispatcher) CloseStates() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.statesClosed {
		d.statesClosed = true
		close(d.StateChan)
	}
}

// Close stops both queues. Safe to call more than once and after
// CloseStates.
func (d *Dispatcher) Close() {
	d.CloseStates()

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.anomaliesClosed {
		d.anomaliesClosed = true
		close(d.AnomalyChan)
	}
}
