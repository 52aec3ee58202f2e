package reasoning

import (
	"fmt"
	"strings"
	"sync"
)

// Part is one completed reasoning segment. An index is emitted at most once
// per item (finalize may re-emit only when the authoritative text differs
// from what the delta path produced).
type Part struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type itemState struct {
	currentIndex int64
	buffers      map[int64]*strings.Builder
	emitted      map[int64]bool
}

// Tracker reassembles streamed, index-addressed reasoning deltas into
// discrete completed parts. Items are independent; all access is serialized
// by one mutex since per-item traffic arrives on a single logical stream.
type Tracker struct {
	mu     sync.Mutex
	states map[string]*itemState
}

func NewTracker() *Tracker {
	return &Tracker{states: make(map[string]*itemState)}
}

// AppendDelta buffers a delta for (itemID, index). When the index advances
// past the current one, the previous index's buffer is closed and returned
// as a completed part.
func (t *Tracker) AppendDelta(itemID string, index int64, delta string) (Part, bool) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" || delta == "" {
		return Part{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.states[itemID]
	if state == nil {
		state = &itemState{
			currentIndex: -1,
			buffers:      make(map[int64]*strings.Builder),
			emitted:      make(map[int64]bool),
		}
		t.states[itemID] = state
	}

	var completed Part
	hasCompleted := false
	if index > state.currentIndex && state.currentIndex >= 0 {
		prev := state.currentIndex
		if !state.emitted[prev] {
			if buf, ok := state.buffers[prev]; ok {
				text := buf.String()
				if strings.TrimSpace(text) != "" {
					completed = Part{ID: partID(itemID, prev), Text: text}
					state.emitted[prev] = true
					hasCompleted = true
				}
			}
		}
	}

	if index > state.currentIndex {
		state.currentIndex = index
	}

	buf := state.buffers[index]
	if buf == nil {
		buf = &strings.Builder{}
		state.buffers[index] = buf
	}
	buf.WriteString(delta)

	return completed, hasCompleted
}

// FinalizeFromSummary closes an item. With an authoritative summary it emits
// every index not already emitted via the delta path; an already-emitted
// index is re-emitted only when its authoritative text differs from the
// buffered one. Without a summary the remaining buffers are flushed
// best-effort. The item's state is dropped either way.
func (t *Tracker) FinalizeFromSummary(itemID string, summaryParts []string) []Part {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.states[itemID]
	var parts []Part

	if len(summaryParts) > 0 {
		for i, text := range summaryParts {
			if strings.TrimSpace(text) == "" {
				continue
			}
			index := int64(i)

			shouldEmit := true
			if state != nil && state.emitted[index] {
				if buf, ok := state.buffers[index]; ok {
					shouldEmit = strings.TrimSpace(buf.String()) != strings.TrimSpace(text)
				} else {
					shouldEmit = false
				}
			}
			if shouldEmit {
				parts = append(parts, Part{ID: partID(itemID, index), Text: text})
			}
			if state != nil {
				state.emitted[index] = true
				replacement := &strings.Builder{}
				replacement.WriteString(text)
				state.buffers[index] = replacement
			}
		}
	} else if state != nil {
		for index := int64(0); index <= state.currentIndex; index++ {
			if state.emitted[index] {
				continue
			}
			buf, ok := state.buffers[index]
			if !ok {
				continue
			}
			text := buf.String()
			if strings.TrimSpace(text) == "" {
				continue
			}
			parts = append(parts, Part{ID: partID(itemID, index), Text: text})
			state.emitted[index] = true
		}
	}

	delete(t.states, itemID)
	return parts
}

// Clear drops an item's state without emitting anything.
func (t *Tracker) Clear(itemID string) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return
	}
	t.mu.Lock()
	delete(t.states, itemID)
	t.mu.Unlock()
}

func partID(itemID string, index int64) string {
	return fmt.Sprintf("%s_summary_%d", itemID, index)
}
