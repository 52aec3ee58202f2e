package plan

import (
	"strings"
	"sync"
	"time"
)

// Step is one entry of an agent turn plan.
type Step struct {
	Text   string `json:"text"`
	Status string `json:"status"`
}

// Snapshot is the latest plan the agent reported for a session. Each new
// plan event overwrites the previous snapshot; history is not kept.
type Snapshot struct {
	SessionID   string    `json:"sessionId"`
	TurnID      string    `json:"turnId,omitempty"`
	Explanation string    `json:"explanation,omitempty"`
	Steps       []Step    `json:"steps"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Store keeps the latest turn plan per session, in memory.
type Store struct {
	mu        sync.Mutex
	bySession map[string]Snapshot
	now       func() time.Time
}

func NewStore() *Store {
	return &Store{
		bySession: make(map[string]Snapshot),
		now:       time.Now,
	}
}

// Upsert replaces the session's snapshot. UpdatedAt is stamped here so
// callers cannot backdate a plan.
func (s *Store) Upsert(snapshot Snapshot) {
	sessionID := strings.TrimSpace(snapshot.SessionID)
	if sessionID == "" {
		return
	}
	snapshot.SessionID = sessionID
	snapshot.UpdatedAt = s.now().UTC()

	s.mu.Lock()
	s.bySession[sessionID] = snapshot
	s.mu.Unlock()
}

// Get returns the latest snapshot for a session, if any.
func (s *Store) Get(sessionID string) (Snapshot, bool) {
	sessionID = strings.TrimSpace(sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, ok := s.bySession[sessionID]
	return snapshot, ok
}
