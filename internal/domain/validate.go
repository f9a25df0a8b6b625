package domain

import (
	"fmt"
	"math"
)

const MaxFrameBytes = 8

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// finite rejects NaN and ±Inf, which slip through ordinary comparisons.
func finite(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return invalid(field, "must be a finite number")
	}
	return nil
}

// Validate enforces frame bounds. dlc must match the number of data
// bytes.
func (f *CANFrame) Validate() error {
	if f.DeviceID == "" {
		return invalid("deviceId", "required")
	}
	if f.CanID == "" {
		return invalid("canId", "required")
	}
	if f.DLC < 0 || f.DLC > MaxFrameBytes {
		return invalid("dlc", "%d outside [0,%d]", f.DLC, MaxFrameBytes)
	}
	if len(f.Data) > MaxFrameBytes {
		return invalid("data", "%d bytes exceeds %d", len(f.Data), MaxFrameBytes)
	}
	for i, b := range f.Data {
		if b < 0 || b > 255 {
			return invalid("data", "byte %d value %d outside [0,255]", i, b)
		}
	}
	if len(f.Data) != f.DLC {
		return invalid("dlc", "dlc %d does not match %d data bytes", f.DLC, len(f.Data))
	}
	return nil
}

func (s *VehicleStateSample) Validate() error {
	if s.DeviceID == "" {
		return invalid("deviceId", "required")
	}
	if err := finite("speed", s.Speed); err != nil {
		return err
	}
	if err := finite("rpm", s.RPM); err != nil {
		return err
	}
	if err := finite("throttle", s.Throttle); err != nil {
		return err
	}
	if s.Speed < 0 {
		return invalid("speed", "must be >= 0")
	}
	if s.RPM < 0 {
		return invalid("rpm", "must be >= 0")
	}
	if s.Throttle < 0 || s.Throttle > 100 {
		return invalid("throttle", "%v outside [0,100]", s.Throttle)
	}
	if s.Gear < 0 || s.Gear > 7 {
		return invalid("gear", "%d outside [0,7]", s.Gear)
	}
	if s.EngineStatus != EngineOn && s.EngineStatus != EngineOff {
		return invalid("engineStatus", "must be ON or OFF")
	}
	return validateLocation(s.Latitude, s.Longitude)
}

func (a *Anomaly) Validate() error {
	if a.DeviceID == "" {
		return invalid("deviceId", "required")
	}
	if !a.Type.Valid() {
		return invalid("type", "unknown anomaly type %q", a.Type)
	}
	if a.Description == "" {
		return invalid("description", "required")
	}
	if !a.Severity.Valid() {
		return invalid("severity", "%d not in {1,2,3}", a.Severity)
	}
	if v := a.VehicleState; v != nil {
		if err := finite("vehicleState.speed", v.Speed); err != nil {
			return err
		}
		if err := finite("vehicleState.rpm", v.RPM); err != nil {
			return err
		}
		if err := finite("vehicleState.throttle", v.Throttle); err != nil {
			return err
		}
		if v.Speed < 0 || v.RPM < 0 {
			return invalid("vehicleState", "speed and rpm must be >= 0")
		}
	}
	return validateLocation(a.Latitude, a.Longitude)
}

func validateLocation(lat, lon *float64) error {
	if (lat == nil) != (lon == nil) {
		return invalid("location", "latitude and longitude must be given together")
	}
	if lat == nil {
		return nil
	}
	if err := finite("latitude", *lat); err != nil {
		return err
	}
	if err := finite("longitude", *lon); err != nil {
		return err
	}
	if *lat < -90 || *lat > 90 {
		return invalid("latitude", "%v outside [-90,90]", *lat)
	}
	if *lon < -180 || *lon > 180 {
		return invalid("longitude", "%v outside [-180,180]", *lon)
	}
	return nil
}
