package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fleet-monitor/telemetry/internal/domain"
	"fleet-monitor/telemetry/internal/metrics"
)

const notifyTimeout = 2 * time.Second

// Notifier delivers an anomaly to whoever is listening for the device.
type Notifier interface {
	Notify(ctx context.Context, a domain.Anomaly) error
}

type NotifyWorker struct {
	ch       <-chan domain.Anomaly
	notifier Notifier
	log      *zap.Logger
}

func NewNotifyWorker(ch <-chan domain.Anomaly, n Notifier, log *zap.Logger) *NotifyWorker {
	return &NotifyWorker{ch: ch, notifier: n, log: log}
}

// Run delivers until the channel is closed or ctx is cancelled.
func (w *NotifyWorker) Run(ctx context.Context) {
	for {
		select {
		case a, ok := <-w.ch:
			if !ok {
				return
			}
			w.deliver(a)

		case <-ctx.Done():
			return
		}
	}
}

func (w *NotifyWorker) deliver(a domain.Anomaly) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	if err := w.notifier.Notify(ctx, a); err != nil {
		metrics.NotificationFailures.Inc()
		w.log.Warn("anomaly notification failed",
			zap.String("anomaly_id", a.ID),
			zap.String("device_id", a.DeviceID),
			zap.Error(err),
		)
		return
	}
	metrics.NotificationsSent.Inc()
}
