package domain

// Timestamps are client-supplied Unix milliseconds. Ordering between
// records of one device is decided by this field only, never by arrival.

type CANFrame struct {
	Timestamp int64  `json:"timestamp"`
	CanID     string `json:"canId"`
	DLC       int    `json:"dlc"`
	Data      []int  `json:"data"`
	DeviceID  string `json:"deviceId"`
}

// Payload returns the frame data as raw bytes. Only meaningful after
// Validate has accepted the frame.
func (f *CANFrame) Payload() []byte {
	out := make([]byte, len(f.Data))
	for i, b := range f.Data {
		out[i] = byte(b)
	}
	return out
}

// DataFromPayload is the inverse of Payload.
func DataFromPayload(p []byte) []int {
	out := make([]int, len(p))
	for i, b := range p {
		out[i] = int(b)
	}
	return out
}

type EngineStatus string

const (
	EngineOn  EngineStatus = "ON"
	EngineOff EngineStatus = "OFF"
)

type VehicleStateSample struct {
	Timestamp    int64        `json:"timestamp"`
	DeviceID     string       `json:"deviceId"`
	Speed        float64      `json:"speed"`
	RPM          float64      `json:"rpm"`
	Throttle     float64      `json:"throttle"`
	Gear         int          `json:"gear"`
	EngineStatus EngineStatus `json:"engineStatus"`
	Fault        bool         `json:"fault"`
	Latitude     *float64     `json:"latitude,omitempty"`
	Longitude    *float64     `json:"longitude,omitempty"`
}

// HasLocation reports whether both coordinates are present.
func (s *VehicleStateSample) HasLocation() bool {
	return s.Latitude != nil && s.Longitude != nil
}

// Order selects the timestamp ordering of a range read.
type Order int

const (
	Descending Order = iota
	Ascending
)

func (o Order) String() string {
	if o == Ascending {
		return "asc"
	}
	return "desc"
}

// ParseOrder accepts "asc" or "desc". Empty input yields fallback.
func ParseOrder(s string, fallback Order) (Order, error) {
	switch s {
	case "":
		return fallback, nil
	case "asc":
		return Ascending, nil
	case "desc":
		return Descending, nil
	default:
		return fallback, &ValidationError{Field: "order", Reason: "must be asc or desc"}
	}
}
