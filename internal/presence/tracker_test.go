package presence

import "testing"

func TestTracker_OnlineOffline(t *testing.T) {
	tr := NewTracker()

	if !tr.Connected("c1", "dev-a") {
		t.Fatalf("first connection should bring the device online")
	}
	if tr.Connected("c2", "dev-a") {
		t.Fatalf("second connection should not re-announce online")
	}
	if !tr.Online("dev-a") {
		t.Fatalf("device should be online")
	}

	if _, off := tr.Disconnected("c1"); off {
		t.Fatalf("device still has a live connection")
	}
	deviceID, off := tr.Disconnected("c2")
	if !off || deviceID != "dev-a" {
		t.Fatalf("last disconnect should report offline: (%q, %v)", deviceID, off)
	}
	if tr.Online("dev-a") {
		t.Fatalf("device should be offline")
	}
}

func TestTracker_AnonymousIgnored(t *testing.T) {
	tr := NewTracker()

	if tr.Connected("c1", "") {
		t.Fatalf("anonymous connections are not tracked")
	}
	if _, off := tr.Disconnected("c1"); off {
		t.Fatalf("untracked connection should not report offline")
	}
}

func TestTracker_UnknownDisconnect(t *testing.T) {
	tr := NewTracker()
	if deviceID, off := tr.Disconnected("nope"); off || deviceID != "" {
		t.Fatalf("unknown connection = (%q, %v)", deviceID, off)
	}
}

func TestTracker_DuplicateConnID(t *testing.T) {
	tr := NewTracker()
	tr.Connected("c1", "dev-a")
	if tr.Connected("c1", "dev-b") {
		t.Fatalf("duplicate conn id must not be counted twice")
	}
	if tr.Online("dev-b") {
		t.Fatalf("dev-b never connected")
	}
}
