package id

import (
	"strings"
	"testing"
)

func TestNewClockID(t *testing.T) {
	id1 := NewClockID("Game Loop")
	id2 := NewClockID("Game Loop")

	// Random, so two clocks never share an ID
	if id1 == id2 {
		t.Errorf("NewClockID should be unique per call, got %s twice", id1)
	}

	if !strings.HasPrefix(id1, "clock_game-loop_") {
		t.Errorf("Clock ID should start with 'clock_game-loop_', got: %s", id1)
	}

	if anon := NewClockID("  "); !strings.HasPrefix(anon, "clock_") || strings.Count(anon, "_") != 1 {
		t.Errorf("Unnamed clock ID should be 'clock_<uuid>', got: %s", anon)
	}
}

func TestGenerateCycleID(t *testing.T) {
	clockID := "clock_test"

	// Generate ID twice with same input
	id1 := GenerateCycleID(clockID, 7)
	id2 := GenerateCycleID(clockID, 7)

	// Should be deterministic
	if id1 != id2 {
		t.Errorf("GenerateCycleID not deterministic: %s != %s", id1, id2)
	}

	if !strings.HasPrefix(id1, "cycle_") {
		t.Errorf("Cycle ID should start with 'cycle_', got: %s", id1)
	}

	// Different sequence numbers should produce different IDs
	if id1 == GenerateCycleID(clockID, 8) {
		t.Errorf("Different sequence numbers should produce different IDs")
	}

	// Different clocks should produce different IDs for the same sequence
	if id1 == GenerateCycleID("clock_other", 7) {
		t.Errorf("Different clocks should produce different cycle IDs")
	}
}

func TestGenerateFaultID(t *testing.T) {
	id1 := GenerateFaultID("clock_test", 1)
	id2 := GenerateFaultID("clock_test", 1)

	if id1 != id2 {
		t.Errorf("GenerateFaultID not deterministic: %s != %s", id1, id2)
	}
	if !strings.HasPrefix(id1, "fault_") {
		t.Errorf("Fault ID should start with 'fault_', got: %s", id1)
	}

	// Fault and cycle namespaces never collide
	cycleID := GenerateCycleID("clock_test", 1)
	if strings.TrimPrefix(id1, "fault_") == strings.TrimPrefix(cycleID, "cycle_") {
		t.Errorf("Fault and cycle IDs share a UUID: %s", id1)
	}
}
