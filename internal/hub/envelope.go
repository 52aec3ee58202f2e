package hub

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

const ProtocolVersion = 1

const (
	TypeCommand  = "command"
	TypeEvent    = "event"
	TypeResponse = "response"
)

// Envelope is the versioned wrapper for every message on the real-time
// channel.
type Envelope struct {
	ProtocolVersion int            `json:"protocolVersion"`
	Type            string         `json:"type"`
	Name            string         `json:"name"`
	ID              string         `json:"id,omitempty"`
	Ts              time.Time      `json:"ts"`
	Data            map[string]any `json:"data,omitempty"`
}

func NewEvent(name string, data map[string]any) Envelope {
	return Envelope{
		ProtocolVersion: ProtocolVersion,
		Type:            TypeEvent,
		Name:            name,
		ID:              uuid.NewString(),
		Ts:              time.Now().UTC(),
		Data:            data,
	}
}

func (e Envelope) Encode() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	return data
}

// Decode parses an inbound envelope. ok is false for anything that is not a
// well-formed, version-compatible envelope; such messages are dropped
// silently so the protocol stays forward-compatible.
func Decode(raw []byte) (Envelope, bool) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, false
	}
	if e.ProtocolVersion != ProtocolVersion {
		return Envelope{}, false
	}
	switch e.Type {
	case TypeCommand, TypeEvent, TypeResponse:
	default:
		return Envelope{}, false
	}
	if strings.TrimSpace(e.Name) == "" {
		return Envelope{}, false
	}
	return e, true
}
