package plan

import (
	"testing"
	"time"
)

func TestStore_LatestWins(t *testing.T) {
	s := NewStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	s.Upsert(Snapshot{
		SessionID: "sess-1",
		TurnID:    "turn-1",
		Steps:     []Step{{Text: "read code", Status: "completed"}},
	})
	s.Upsert(Snapshot{
		SessionID: "sess-1",
		TurnID:    "turn-2",
		Steps:     []Step{{Text: "write fix", Status: "in_progress"}},
	})

	got, ok := s.Get("sess-1")
	if !ok {
		t.Fatalf("expected a snapshot")
	}
	if got.TurnID != "turn-2" || len(got.Steps) != 1 || got.Steps[0].Text != "write fix" {
		t.Fatalf("latest plan should win: %+v", got)
	}
	if !got.UpdatedAt.Equal(base) {
		t.Fatalf("UpdatedAt should be stamped by the store: %v", got.UpdatedAt)
	}
}

func TestStore_GetUnknown(t *testing.T) {
	s := NewStore()
	if _, ok := s.Get("missing"); ok {
		t.Fatalf("unknown session should have no plan")
	}
}

func TestStore_SessionsIndependent(t *testing.T) {
	s := NewStore()
	s.Upsert(Snapshot{SessionID: "a", TurnID: "t-a"})
	s.Upsert(Snapshot{SessionID: "b", TurnID: "t-b"})

	if got, _ := s.Get("a"); got.TurnID != "t-a" {
		t.Fatalf("plan for a = %+v", got)
	}
	if got, _ := s.Get("b"); got.TurnID != "t-b" {
		t.Fatalf("plan for b = %+v", got)
	}
}

func TestStore_BlankSessionIgnored(t *testing.T) {
	s := NewStore()
	s.Upsert(Snapshot{SessionID: "  "})
	if _, ok := s.Get(""); ok {
		t.Fatalf("blank session must not be stored")
	}
}
