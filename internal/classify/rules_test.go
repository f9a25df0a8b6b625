package classify

import (
	"testing"

	"fleet-monitor/telemetry/internal/domain"
)

func state(speed, rpm float64, engine domain.EngineStatus) *domain.VehicleStateSample {
	return &domain.VehicleStateSample{Timestamp: 1, DeviceID: "truck-1", Speed: speed, RPM: rpm, EngineStatus: engine}
}

func TestClassify(t *testing.T) {
	th := domain.DefaultThresholds("truck-1")

	tests := []struct {
		name  string
		cur   *domain.VehicleStateSample
		prior *domain.VehicleStateSample
		want  domain.AnomalyType
	}{
		{"normal", state(80, 2500, domain.EngineOn), state(78, 2400, domain.EngineOn), ""},
		{"rpm spike", state(80, 3100, domain.EngineOn), state(80, 2500, domain.EngineOn), domain.AnomalyRPMSpike},
		{"rpm delta at threshold", state(80, 3000, domain.EngineOn), state(80, 2500, domain.EngineOn), ""},
		{"no prior", state(80, 9000, domain.EngineOn), nil, ""},
		{"prior rpm zero", state(0, 900, domain.EngineOn), state(0, 0, domain.EngineOff), ""},
		{"speeding", state(201, 3000, domain.EngineOn), state(200, 3000, domain.EngineOn), domain.AnomalySpeedExceed},
		{"engine off with rpm", state(0, 800, domain.EngineOff), state(0, 800, domain.EngineOff), domain.AnomalyEngineInconsistency},
		{"spike wins over speed", state(250, 5000, domain.EngineOn), state(250, 2000, domain.EngineOn), domain.AnomalyRPMSpike},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.cur, tt.prior, th)
			if tt.want == "" {
				if got != nil {
					t.Fatalf("unexpected anomaly %+v", got)
				}
				return
			}
			if got == nil || got.Type != tt.want {
				t.Fatalf("got %+v, want %s", got, tt.want)
			}
			if err := got.Validate(); err != nil {
				t.Fatalf("classified anomaly invalid: %v", err)
			}
			if got.VehicleState == nil || got.VehicleState.RPM != tt.cur.RPM {
				t.Fatalf("snapshot missing: %+v", got.VehicleState)
			}
		})
	}
}

func TestClassifyHonoursDeviceThresholds(t *testing.T) {
	th := domain.DeviceThresholds{DeviceID: "truck-1", RPMSpikeDelta: 100, MaxSpeed: 90}
	if got := Classify(state(95, 2000, domain.EngineOn), nil, th); got == nil || got.Type != domain.AnomalySpeedExceed {
		t.Fatalf("got %+v", got)
	}
}
