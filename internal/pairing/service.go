package pairing

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"codex-bridge/internal/devices"
)

// Request status values on the wire. A request only ever moves forward:
// pending -> approved | declined | expired.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusDeclined = "declined"
	StatusExpired  = "expired"
	StatusNotFound = "notFound"
)

const maxCodeLifetime = 30 * time.Minute

var (
	ErrRemoteDisabled = errors.New("remote access is disabled")
	ErrInvalidCode    = errors.New("pairing code is invalid or expired")
)

type Decision int

const (
	DecisionApprove Decision = iota + 1
	DecisionDecline
)

type Code struct {
	Value     string
	ExpiresAt time.Time
}

type ClaimRequest struct {
	PairingCode string
	DeviceName  string
	Platform    string
	DeviceModel string
	AppVersion  string
}

type ClaimResult struct {
	RequestID string
	ExpiresAt time.Time
}

// Notification describes a pending request for the local approval prompt.
type Notification struct {
	RequestID   string
	DeviceName  string
	Platform    string
	DeviceModel string
	AppVersion  string
	ClientIP    string
	ExpiresAt   time.Time
}

type PollResult struct {
	Status         string
	DeviceID       string
	DeviceToken    string
	TokenDelivered bool
	Message        string
}

type RespondResult struct {
	Status   string
	DeviceID string
}

type codeEntry struct {
	expiresAt time.Time
}

type requestEntry struct {
	requestID   string
	createdAt   time.Time
	expiresAt   time.Time
	deviceName  string
	platform    string
	deviceModel string
	appVersion  string
	clientIP    string

	status         string
	deviceID       string
	deviceToken    string
	tokenDelivered bool
}

// Service drives the pairing workflow: a short-lived one-shot code, a pending
// request awaiting human approval, and one-shot delivery of the minted device
// token. All state is in memory; only the resulting device registration is
// durable (in the trust store).
type Service struct {
	RemoteEnabled bool
	CodeTTL       time.Duration
	RequestTTL    time.Duration
	Devices       *devices.Store

	mu       sync.Mutex
	codes    map[string]codeEntry
	requests map[string]*requestEntry
	now      func() time.Time
}

func NewService(remoteEnabled bool, codeTTL, requestTTL time.Duration, store *devices.Store) *Service {
	return &Service{
		RemoteEnabled: remoteEnabled,
		CodeTTL:       codeTTL,
		RequestTTL:    requestTTL,
		Devices:       store,
		codes:         make(map[string]codeEntry),
		requests:      make(map[string]*requestEntry),
		now:           time.Now,
	}
}

// CreateCode mints a fresh one-shot pairing code. ttl <= 0 uses the
// configured default; anything above the cap is clamped.
func (s *Service) CreateCode(ttl time.Duration) Code {
	if ttl <= 0 {
		ttl = s.CodeTTL
	}
	if ttl > maxCodeLifetime {
		ttl = maxCodeLifetime
	}

	now := s.now()
	code := generateCode()
	expiresAt := now.Add(ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(now)
	s.codes[code] = codeEntry{expiresAt: expiresAt}

	return Code{Value: code, ExpiresAt: expiresAt}
}

// Claim consumes a pairing code and opens a pending request. The code is
// invalidated whether or not the request is ever approved.
func (s *Service) Claim(req ClaimRequest, clientIP string) (ClaimResult, error) {
	if !s.RemoteEnabled {
		return ClaimResult{}, ErrRemoteDisabled
	}

	code := strings.TrimSpace(req.PairingCode)
	if code == "" {
		return ClaimResult{}, fmt.Errorf("pairingCode is required")
	}
	if strings.TrimSpace(req.DeviceName) == "" {
		return ClaimResult{}, fmt.Errorf("deviceName is required")
	}
	if strings.TrimSpace(req.Platform) == "" {
		return ClaimResult{}, fmt.Errorf("platform is required")
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(now)

	entry, ok := s.codes[code]
	if !ok || !entry.expiresAt.After(now) {
		return ClaimResult{}, ErrInvalidCode
	}
	delete(s.codes, code)

	requestID := strings.ReplaceAll(uuid.NewString(), "-", "")
	expiresAt := now.Add(s.RequestTTL)
	s.requests[requestID] = &requestEntry{
		requestID:   requestID,
		createdAt:   now,
		expiresAt:   expiresAt,
		deviceName:  strings.TrimSpace(req.DeviceName),
		platform:    strings.TrimSpace(req.Platform),
		deviceModel: strings.TrimSpace(req.DeviceModel),
		appVersion:  strings.TrimSpace(req.AppVersion),
		clientIP:    strings.TrimSpace(clientIP),
		status:      StatusPending,
	}

	return ClaimResult{RequestID: requestID, ExpiresAt: expiresAt}, nil
}

// Poll reports the request status. The first poll that observes an approval
// carries the device token; the token is cleared from the entry in the same
// critical section, so no later poll can see it again.
func (s *Service) Poll(requestID string) PollResult {
	if !s.RemoteEnabled {
		return PollResult{Status: StatusNotFound, Message: "remote access is disabled"}
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return PollResult{Status: StatusNotFound}
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(now)

	entry, ok := s.requests[requestID]
	if !ok {
		return PollResult{Status: StatusNotFound}
	}

	switch entry.status {
	case StatusPending:
		return PollResult{Status: StatusPending}
	case StatusDeclined:
		return PollResult{Status: StatusDeclined}
	case StatusExpired:
		return PollResult{Status: StatusExpired}
	case StatusApproved:
		if entry.tokenDelivered {
			return PollResult{Status: StatusApproved, DeviceID: entry.deviceID, TokenDelivered: true}
		}
		token := entry.deviceToken
		entry.deviceToken = ""
		entry.tokenDelivered = true
		return PollResult{Status: StatusApproved, DeviceID: entry.deviceID, DeviceToken: token}
	default:
		return PollResult{Status: StatusNotFound}
	}
}

// Respond resolves a pending request. Approval registers the device and
// stages its token for the one-shot poll handoff.
func (s *Service) Respond(requestID string, decision Decision) RespondResult {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return RespondResult{Status: StatusNotFound}
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(now)

	entry, ok := s.requests[requestID]
	if !ok {
		return RespondResult{Status: StatusNotFound}
	}

	if entry.status != StatusPending {
		return RespondResult{Status: entry.status, DeviceID: entry.deviceID}
	}

	if !entry.expiresAt.After(now) {
		entry.status = StatusExpired
		return RespondResult{Status: StatusExpired}
	}

	if decision == DecisionDecline {
		entry.status = StatusDeclined
		return RespondResult{Status: StatusDeclined}
	}

	reg, err := s.Devices.Register(entry.deviceName, entry.platform, entry.deviceModel)
	if err != nil {
		log.Printf("pairing: device registration failed for request %s: %v", requestID, err)
		entry.status = StatusDeclined
		return RespondResult{Status: StatusDeclined}
	}

	entry.status = StatusApproved
	entry.deviceID = reg.DeviceID
	entry.deviceToken = reg.DeviceToken
	entry.tokenDelivered = false

	return RespondResult{Status: StatusApproved, DeviceID: reg.DeviceID}
}

// PendingRequest returns the notification payload for a still-pending
// request, for prompting the local user.
func (s *Service) PendingRequest(requestID string) (Notification, bool) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return Notification{}, false
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(now)

	entry, ok := s.requests[requestID]
	if !ok || entry.status != StatusPending {
		return Notification{}, false
	}

	return Notification{
		RequestID:   entry.requestID,
		DeviceName:  entry.deviceName,
		Platform:    entry.platform,
		DeviceModel: entry.deviceModel,
		AppVersion:  entry.appVersion,
		ClientIP:    entry.clientIP,
		ExpiresAt:   entry.expiresAt,
	}, true
}

// expireLocked applies lazy wall-clock expiry: dead codes are dropped and
// overdue pending requests flip to expired. Callers hold s.mu.
func (s *Service) expireLocked(now time.Time) {
	for code, entry := range s.codes {
		if !entry.expiresAt.After(now) {
			delete(s.codes, code)
		}
	}
	for _, entry := range s.requests {
		if entry.status == StatusPending && !entry.expiresAt.After(now) {
			entry.status = StatusExpired
		}
	}
}

func generateCode() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process is in a bad way; fall back
		// to a UUID rather than panic.
		return strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
