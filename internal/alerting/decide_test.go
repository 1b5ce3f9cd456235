package alerting

import "testing"

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		current  State
		short    float64
		long     float64
		expected State
	}{
		{"pending both above fires", StatePending, 20, 20, StateFiring},
		{"pending exactly at threshold fires", StatePending, 14.4, 14.4, StateFiring},
		{"pending only short above", StatePending, 20, 1, StatePending},
		{"pending only long above", StatePending, 1, 20, StatePending},
		{"firing both below resolves", StateFiring, 0.5, 0.5, StateResolved},
		{"firing short below long above", StateFiring, 0.5, 20, StateFiring},
		{"firing short above long below", StateFiring, 20, 0.5, StateFiring},
		{"firing still burning", StateFiring, 20, 20, StateFiring},
		{"resolved re-fires", StateResolved, 20, 20, StateFiring},
		{"resolved stays resolved", StateResolved, 20, 0.5, StateResolved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.current, tt.short, tt.long, 14.4); got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

// A rule is never firing after a tick where either window is below the
// multiplier, unless it was already firing.
func TestDecide_NoFireBelowThreshold(t *testing.T) {
	burns := []float64{0, 0.5, 6, 14.3999, 14.4, 20, 100}
	for _, current := range []State{StatePending, StateResolved} {
		for _, short := range burns {
			for _, long := range burns {
				next := Decide(current, short, long, 14.4)
				if (short < 14.4 || long < 14.4) && next == StateFiring {
					t.Errorf("%s with short=%v long=%v fired", current, short, long)
				}
			}
		}
	}
}
