// Package classify turns a vehicle-state sample into an anomaly when it
// breaks one of the device's thresholds. Everything here is pure: the
// caller supplies the prior sample and the thresholds.
package classify

import (
	"fmt"
	"math"

	"fleet-monitor/telemetry/internal/domain"
)

type Rule struct {
	Type     domain.AnomalyType
	Severity domain.Severity
	CanID    string
	// Check returns a description when the rule fires.
	Check func(cur, prior *domain.VehicleStateSample, th domain.DeviceThresholds) (string, bool)
}

// DefaultRules are evaluated in order; the first rule that fires wins.
var DefaultRules = []Rule{
	{
		Type:     domain.AnomalyRPMSpike,
		Severity: domain.SeverityMedium,
		CanID:    "0x101",
		Check: func(cur, prior *domain.VehicleStateSample, th domain.DeviceThresholds) (string, bool) {
			if prior == nil || prior.RPM == 0 {
				return "", false
			}
			delta := math.Abs(cur.RPM - prior.RPM)
			if delta <= th.RPMSpikeDelta {
				return "", false
			}
			return fmt.Sprintf("RPM spike detected: %.0f RPM -> %.0f RPM (delta: %.0f)", prior.RPM, cur.RPM, delta), true
		},
	},
	{
		Type:     domain.AnomalySpeedExceed,
		Severity: domain.SeverityMedium,
		CanID:    "0x100",
		Check: func(cur, _ *domain.VehicleStateSample, th domain.DeviceThresholds) (string, bool) {
			if cur.Speed <= th.MaxSpeed {
				return "", false
			}
			return fmt.Sprintf("Speed threshold exceeded: %.0f km/h (max: %.0f)", cur.Speed, th.MaxSpeed), true
		},
	},
	{
		Type:     domain.AnomalyEngineInconsistency,
		Severity: domain.SeverityHigh,
		CanID:    "0x103",
		Check: func(cur, _ *domain.VehicleStateSample, _ domain.DeviceThresholds) (string, bool) {
			if cur.EngineStatus != domain.EngineOff || cur.RPM <= 0 {
				return "", false
			}
			return fmt.Sprintf("Engine inconsistency: Engine OFF but RPM = %.0f", cur.RPM), true
		},
	},
}

// Classify runs DefaultRules against cur.
func Classify(cur, prior *domain.VehicleStateSample, th domain.DeviceThresholds) *domain.Anomaly {
	return ClassifyWith(DefaultRules, cur, prior, th)
}

// ClassifyWith returns the anomaly raised by the first matching rule, or
// nil.
func ClassifyWith(rules []Rule, cur, prior *domain.VehicleStateSample, th domain.DeviceThresholds) *domain.Anomaly {
	for _, rule := range rules {
		desc, fired := rule.Check(cur, prior, th)
		if !fired {
			continue
		}
		return &domain.Anomaly{
			Timestamp:   cur.Timestamp,
			DeviceID:    cur.DeviceID,
			Type:        rule.Type,
			Description: desc,
			Severity:    rule.Severity,
			CanID:       rule.CanID,
			Latitude:    cur.Latitude,
			Longitude:   cur.Longitude,
			VehicleState: &domain.VehicleSnapshot{
				Speed:        cur.Speed,
				RPM:          cur.RPM,
				Throttle:     cur.Throttle,
				Gear:         cur.Gear,
				EngineStatus: cur.EngineStatus,
			},
		}
	}
	return nil
}
