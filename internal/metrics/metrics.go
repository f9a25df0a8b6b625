package metrics

import (
	"fmt"
	"net/http"

	"go.uber.org/atomic"
)

var (
	FramesIngested       = atomic.NewInt64(0)
	StatesIngested       = atomic.NewInt64(0)
	AnomaliesRecorded    = atomic.NewInt64(0)
	AnomaliesClassified  = atomic.NewInt64(0)
	ValidationRejects    = atomic.NewInt64(0)
	StorageFailures      = atomic.NewInt64(0)
	NotificationsSent    = atomic.NewInt64(0)
	NotificationFailures = atomic.NewInt64(0)
	NotifyChannelDrops   = atomic.NewInt64(0)
	StateChannelDrops    = atomic.NewInt64(0)
)

func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "telemetry_frames_ingested_total %d\n", FramesIngested.Load())
	fmt.Fprintf(w, "telemetry_states_ingested_total %d\n", StatesIngested.Load())
	fmt.Fprintf(w, "telemetry_anomalies_recorded_total %d\n", AnomaliesRecorded.Load())
	fmt.Fprintf(w, "telemetry_anomalies_classified_total %d\n", AnomaliesClassified.Load())
	fmt.Fprintf(w, "telemetry_validation_rejects_total %d\n", ValidationRejects.Load())
	fmt.Fprintf(w, "telemetry_storage_failures_total %d\n", StorageFailures.Load())
	fmt.Fprintf(w, "telemetry_notifications_sent_total %d\n", NotificationsSent.Load())
	fmt.Fprintf(w, "telemetry_notification_failures_total %d\n", NotificationFailures.Load())
	fmt.Fprintf(w, "telemetry_notify_channel_drops_total %d\n", NotifyChannelDrops.Load())
	fmt.Fprintf(w, "telemetry_state_channel_drops_total %d\n", StateChannelDrops.Load())
}
