package lifecycle

import "testing"

func TestGate(t *testing.T) {
	g := NewGate()
	if g.IsReady() {
		t.Fatal("New gate should not be ready")
	}
	if g.State() != NotReady {
		t.Errorf("Expected state %s, got %s", NotReady, g.State())
	}

	if !g.MarkReady() {
		t.Error("First MarkReady should report the transition")
	}
	if g.MarkReady() {
		t.Error("Second MarkReady should be a no-op")
	}
	if !g.IsReady() {
		t.Error("Gate should be ready after MarkReady")
	}
	if g.State().String() != "ready" {
		t.Errorf("Expected state name 'ready', got '%s'", g.State())
	}
}

func TestGateZeroValue(t *testing.T) {
	var g Gate
	if g.IsReady() {
		t.Error("Zero value gate should not be ready")
	}
}
