package universe

import (
	"math"
	"testing"
)

func TestScoreBounds(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		volume   float64
		change1h float64
		change24 float64
		want     float64
	}{
		{"dead market", 0, 0, 0, 0},
		{"movement capped at 0.4", 0, 1.0, 1.0, 0.4},
		{"negative volume treated as zero", -100, 0, 0, 0},
		{"huge volume approaches 0.6", 1e12, 0, 0, 0.6},
		{"volume at half-saturation", 50_000, 0, 0, 0.3},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Score(tc.volume, tc.change1h, tc.change24)
			if math.Abs(got-tc.want) > 1e-6 {
				t.Errorf("Score(%v, %v, %v) = %v, want %v", tc.volume, tc.change1h, tc.change24, got, tc.want)
			}
		})
	}
}

func TestScoreMonotoneAndCapped(t *testing.T) {
	t.Parallel()

	low := Score(10_000, 0.01, 0.02)
	high := Score(100_000, 0.01, 0.02)
	if high <= low {
		t.Errorf("more volume must not lower the score: %v vs %v", low, high)
	}

	still := Score(50_000, 0, 0)
	moving := Score(50_000, 0.05, 0)
	if moving <= still {
		t.Errorf("price movement must raise the score: %v vs %v", still, moving)
	}

	if got := Score(1e15, 10, 10); got > 1.0 {
		t.Errorf("score exceeds cap: %v", got)
	}

	// Direction of movement is irrelevant.
	if Score(0, -0.05, 0) != Score(0, 0.05, 0) {
		t.Error("score must use the magnitude of the change")
	}
}
