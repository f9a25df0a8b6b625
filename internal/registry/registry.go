// Package registry reads per-device classifier thresholds. Devices
// without stored settings, or with unparsable fields, fall back to the
// defaults field by field.
package registry

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"fleet-monitor/telemetry/internal/domain"
)

const (
	FieldLogInterval   = "log_interval_ms"
	FieldRPMSpikeDelta = "rpm_spike_delta"
	FieldMaxSpeed      = "max_speed"
)

// SettingsSource returns the raw settings hash for a device.
type SettingsSource interface {
	DeviceSettings(ctx context.Context, deviceID string) (map[string]string, error)
}

type Registry struct {
	src SettingsSource
	log *zap.Logger
}

func New(src SettingsSource, log *zap.Logger) *Registry {
	return &Registry{src: src, log: log}
}

func (r *Registry) Thresholds(ctx context.Context, deviceID string) (domain.DeviceThresholds, error) {
	th := domain.DefaultThresholds(deviceID)

	raw, err := r.src.DeviceSettings(ctx, deviceID)
	if err != nil {
		return th, err
	}

	if v, ok := raw[FieldLogInterval]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			r.badField(deviceID, FieldLogInterval, v)
		} else {
			th.LogIntervalMs = n
		}
	}
	if v, ok := raw[FieldRPMSpikeDelta]; ok {
		th.RPMSpikeDelta = r.positiveFloat(deviceID, FieldRPMSpikeDelta, v, th.RPMSpikeDelta)
	}
	if v, ok := raw[FieldMaxSpeed]; ok {
		th.MaxSpeed = r.positiveFloat(deviceID, FieldMaxSpeed, v, th.MaxSpeed)
	}
	return th, nil
}

func (r *Registry) positiveFloat(deviceID, field, raw string, fallback float64) float64 {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f <= 0 {
		r.badField(deviceID, field, raw)
		return fallback
	}
	return f
}

func (r *Registry) badField(deviceID, field, raw string) {
	r.log.Warn("ignoring invalid device setting",
		zap.String("device_id", deviceID),
		zap.String("field", field),
		zap.String("value", raw),
	)
}

// NoSettings is a SettingsSource for deployments without a registry;
// every device gets the defaults.
type NoSettings struct{}

func (NoSettings) DeviceSettings(context.Context, string) (map[string]string, error) {
	return nil, nil
}
