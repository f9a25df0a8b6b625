package domain

type AnomalyType string

const (
	AnomalyRPMSpike             AnomalyType = "RPM_SPIKE"
	AnomalySpeedExceed          AnomalyType = "SPEED_EXCEED"
	AnomalyCANFrequency         AnomalyType = "CAN_FREQUENCY"
	AnomalyMissingMessage       AnomalyType = "MISSING_MESSAGE"
	AnomalyEngineInconsistency  AnomalyType = "ENGINE_INCONSISTENCY"
	AnomalyStatisticalDeviation AnomalyType = "STATISTICAL_DEVIATION"
)

// AnomalyTypes lists every accepted type. The chk_anomaly_type
// constraint in the database schema is generated from it.
var AnomalyTypes = []AnomalyType{
	AnomalyRPMSpike,
	AnomalySpeedExceed,
	AnomalyCANFrequency,
	AnomalyMissingMessage,
	AnomalyEngineInconsistency,
	AnomalyStatisticalDeviation,
}

func (t AnomalyType) Valid() bool {
	for _, v := range AnomalyTypes {
		if t == v {
			return true
		}
	}
	return false
}

type Severity int

const (
	SeverityLow    Severity = 1
	SeverityMedium Severity = 2
	SeverityHigh   Severity = 3
)

func (s Severity) Valid() bool {
	return s >= SeverityLow && s <= SeverityHigh
}

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// VehicleSnapshot is the subset of vehicle state captured alongside an
// anomaly at detection time.
type VehicleSnapshot struct {
	Speed        float64      `json:"speed"`
	RPM          float64      `json:"rpm"`
	Throttle     float64      `json:"throttle"`
	Gear         int          `json:"gear"`
	EngineStatus EngineStatus `json:"engineStatus"`
}

type Acknowledgment struct {
	Acknowledged bool   `json:"acknowledged"`
	By           string `json:"acknowledgedBy,omitempty"`
	At           *int64 `json:"acknowledgedAt,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

// Anomaly is owned by the anomaly ledger. Everything except Ack is
// immutable after Record.
type Anomaly struct {
	ID           string           `json:"id"`
	Timestamp    int64            `json:"timestamp"`
	DeviceID     string           `json:"deviceId"`
	Type         AnomalyType      `json:"type"`
	Description  string           `json:"description"`
	Severity     Severity         `json:"severity"`
	CanID        string           `json:"canId,omitempty"`
	Latitude     *float64         `json:"latitude,omitempty"`
	Longitude    *float64         `json:"longitude,omitempty"`
	VehicleState *VehicleSnapshot `json:"vehicleState,omitempty"`
	Ack          Acknowledgment   `json:"acknowledgment"`
	CreatedAt    int64            `json:"createdAt"`
}

// DeviceThresholds is registry configuration consumed by classifiers.
// The engine never writes it.
type DeviceThresholds struct {
	DeviceID      string  `json:"deviceId"`
	LogIntervalMs int64   `json:"logIntervalMs"`
	RPMSpikeDelta float64 `json:"rpmSpikeDelta"`
	MaxSpeed      float64 `json:"maxSpeed"`
}

// DefaultThresholds mirrors the registry defaults for devices that
// never had settings written.
func DefaultThresholds(deviceID string) DeviceThresholds {
	return DeviceThresholds{
		DeviceID:      deviceID,
		LogIntervalMs: 5000,
		RPMSpikeDelta: 500,
		MaxSpeed:      200,
	}
}
