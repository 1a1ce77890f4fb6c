package internal

import "testing"

func TestPresenceTrackerCountsDistinctUsers(t *testing.T) {
	p := NewPresenceTracker()

	if got := p.Connect("a"); got != 1 {
		t.Fatalf("first connect count = %d, want 1", got)
	}
	if got := p.Connect("a"); got != 2 {
		t.Fatalf("second connect count = %d, want 2", got)
	}
	p.Connect("b")
	if got := p.ActiveCount(); got != 2 {
		t.Fatalf("active count = %d, want 2", got)
	}

	if got := p.Disconnect("a"); got != 1 {
		t.Fatalf("disconnect count = %d, want 1", got)
	}
	if !p.Online("a") {
		t.Fatal("a should still be online with one connection left")
	}
	if got := p.Disconnect("a"); got != 0 {
		t.Fatalf("last disconnect count = %d, want 0", got)
	}
	if p.Online("a") {
		t.Fatal("a should be offline")
	}
	if got := p.ActiveCount(); got != 1 {
		t.Fatalf("active count = %d, want 1", got)
	}
}

func TestPresenceTrackerDisconnectUnknown(t *testing.T) {
	p := NewPresenceTracker()
	if got := p.Disconnect("ghost"); got != 0 {
		t.Fatalf("disconnect unknown = %d, want 0", got)
	}
	if got := p.ActiveCount(); got != 0 {
		t.Fatalf("active count = %d, want 0", got)
	}
}
