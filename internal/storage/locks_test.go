package storage

import "testing"

func TestTriggerLockKeyDeterministic(t *testing.T) {
	t.Parallel()

	a := TriggerLockKey("0xabc123", 0.95)
	b := TriggerLockKey("0xabc123", 0.95)
	if a != b {
		t.Fatalf("same inputs produced different keys: %d vs %d", a, b)
	}
}

func TestTriggerLockKeyPrecisionInsensitive(t *testing.T) {
	t.Parallel()

	// 0.95 and 0.9500 must land on the same lock.
	a := TriggerLockKey("0xabc123", 0.95)
	b := TriggerLockKey("0xabc123", 0.9500)
	if a != b {
		t.Fatalf("0.95 and 0.9500 derived different keys: %d vs %d", a, b)
	}
}

func TestTriggerLockKeyDistinct(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		condA, condB string
		thrA, thrB   float64
	}{
		{"different conditions", "0xabc", "0xdef", 0.95, 0.95},
		{"different thresholds", "0xabc", "0xabc", 0.95, 0.97},
		{"separator not ambiguous", "0xabc|0", "0xabc", 0.95, 0.95},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a := TriggerLockKey(tc.condA, tc.thrA)
			b := TriggerLockKey(tc.condB, tc.thrB)
			if a == b {
				t.Fatalf("expected distinct keys, both were %d", a)
			}
		})
	}
}
