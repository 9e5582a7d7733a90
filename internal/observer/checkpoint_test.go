package observer

import (
	"path/filepath"
	"testing"
)

func TestCheckpointsRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "observer.json")
	cp, err := LoadCheckpoints(path)
	if err != nil {
		t.Fatalf("LoadCheckpoints: %v", err)
	}
	if got := cp.Get("orders.log"); got != 0 {
		t.Errorf("fresh checkpoint = %d, want 0", got)
	}

	if err := cp.Set("orders.log", 42); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := cp.Set("trades.log", 7); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reloaded, err := LoadCheckpoints(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := reloaded.Get("orders.log"); got != 42 {
		t.Errorf("reloaded orders.log = %d, want 42", got)
	}
	if got := reloaded.Get("trades.log"); got != 7 {
		t.Errorf("reloaded trades.log = %d, want 7", got)
	}
}

func TestCheckpointsMonotonic(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "observer.json")
	cp, err := LoadCheckpoints(path)
	if err != nil {
		t.Fatalf("LoadCheckpoints: %v", err)
	}

	if err := cp.Set("src", 10); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := cp.Set("src", 3); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := cp.Get("src"); got != 10 {
		t.Errorf("count moved backwards: %d, want 10", got)
	}
}

func TestCheckpointsDropAndReset(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "observer.json")
	cp, err := LoadCheckpoints(path)
	if err != nil {
		t.Fatalf("LoadCheckpoints: %v", err)
	}

	if err := cp.Set("a", 5); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := cp.Set("b", 9); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := cp.Drop("a"); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if got := cp.Get("a"); got != 0 {
		t.Errorf("dropped source = %d, want 0", got)
	}
	// A dropped source may start over from a lower count.
	if err := cp.Set("a", 2); err != nil {
		t.Fatalf("Set after Drop: %v", err)
	}
	if got := cp.Get("a"); got != 2 {
		t.Errorf("restarted source = %d, want 2", got)
	}

	if err := cp.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	reloaded, err := LoadCheckpoints(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Get("a") != 0 || reloaded.Get("b") != 0 {
		t.Error("Reset must clear every source on disk")
	}
}
