package presence

import (
	"strings"
	"sync"
)

// Tracker counts live connections per device. A device is online while at
// least one of its connections is open; anonymous (loopback) connections
// carry no device id and are not tracked.
type Tracker struct {
	mu     sync.Mutex
	byConn map[string]string
	counts map[string]int
}

func NewTracker() *Tracker {
	return &Tracker{
		byConn: make(map[string]string),
		counts: make(map[string]int),
	}
}

// Connected records a connection. It reports whether the device just came
// online (its first open connection).
func (t *Tracker) Connected(connID, deviceID string) bool {
	deviceID = strings.TrimSpace(deviceID)
	if connID == "" || deviceID == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, dup := t.byConn[connID]; dup {
		return false
	}
	t.byConn[connID] = deviceID
	t.counts[deviceID]++
	return t.counts[deviceID] == 1
}

// Disconnected removes a connection. It reports whether the device just
// went offline (its last connection closed).
func (t *Tracker) Disconnected(connID string) (deviceID string, wentOffline bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	deviceID, ok := t.byConn[connID]
	if !ok {
		return "", false
	}
	delete(t.byConn, connID)

	t.counts[deviceID]--
	if t.counts[deviceID] <= 0 {
		delete(t.counts, deviceID)
		return deviceID, true
	}
	return deviceID, false
}

// Online reports whether the device has at least one open connection.
func (t *Tracker) Online(deviceID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[strings.TrimSpace(deviceID)] > 0
}
