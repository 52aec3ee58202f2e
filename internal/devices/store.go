package devices

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"codex-bridge/internal/auth"
)

// lastSeen updates are throttled so authenticated traffic does not rewrite
// the registry file on every request.
const lastSeenWriteThrottle = 10 * time.Second

// Device is one paired device. The token is stored only as a hash; revoked
// devices stay in the registry so history and the deviceId survive revocation.
type Device struct {
	DeviceID    string     `json:"deviceId"`
	Name        string     `json:"name"`
	Platform    string     `json:"platform"`
	DeviceModel string     `json:"deviceModel,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastSeenAt  *time.Time `json:"lastSeenAt,omitempty"`
	RevokedAt   *time.Time `json:"revokedAt,omitempty"`
	TokenHash   string     `json:"tokenHash"`
}

func (d Device) Revoked() bool { return d.RevokedAt != nil }

type registryFile struct {
	Version int      `json:"version"`
	Devices []Device `json:"devices"`
}

// Registration is returned once from Register; the plaintext token exists
// nowhere else.
type Registration struct {
	DeviceID    string
	DeviceToken string
}

// Store is the durable registry of paired devices, backed by a JSON file.
type Store struct {
	mu          sync.Mutex
	filePath    string
	tokenCfg    auth.TokenConfig
	file        registryFile
	lastSavedAt time.Time
	now         func() time.Time
}

func NewStore(filePath string, tokenCfg auth.TokenConfig) *Store {
	s := &Store{
		filePath: filePath,
		tokenCfg: tokenCfg,
		file:     registryFile{Version: 1},
		now:      time.Now,
	}
	s.load()
	return s
}

// List returns a snapshot of all devices, revoked ones included.
func (s *Store) List() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Device, len(s.file.Devices))
	copy(out, s.file.Devices)
	return out
}

// Register creates a new device entry and mints its token. The registry
// keeps only the token hash.
func (s *Store) Register(name, platform, deviceModel string) (Registration, error) {
	name = strings.TrimSpace(name)
	platform = strings.TrimSpace(platform)
	if name == "" {
		return Registration{}, fmt.Errorf("device name is required")
	}
	if platform == "" {
		return Registration{}, fmt.Errorf("platform is required")
	}

	deviceID := strings.ReplaceAll(uuid.NewString(), "-", "")
	token, err := auth.CreateDeviceToken(deviceID, s.tokenCfg)
	if err != nil {
		return Registration{}, fmt.Errorf("mint device token: %w", err)
	}

	now := s.now().UTC()
	device := Device{
		DeviceID:    deviceID,
		Name:        name,
		Platform:    platform,
		DeviceModel: strings.TrimSpace(deviceModel),
		CreatedAt:   now,
		LastSeenAt:  &now,
		TokenHash:   auth.HashToken(token),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.file.Devices = append(s.file.Devices, device)
	if err := s.save(); err != nil {
		s.file.Devices = s.file.Devices[:len(s.file.Devices)-1]
		return Registration{}, err
	}

	return Registration{DeviceID: deviceID, DeviceToken: token}, nil
}

// Revoke soft-deletes a device. Revoking an already revoked device succeeds.
func (s *Store) Revoke(deviceID string) bool {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.file.Devices {
		if !strings.EqualFold(s.file.Devices[i].DeviceID, deviceID) {
			continue
		}
		if s.file.Devices[i].RevokedAt != nil {
			return true
		}
		now := s.now().UTC()
		s.file.Devices[i].RevokedAt = &now
		if err := s.save(); err != nil {
			log.Printf("devices: save after revoke failed: %v", err)
		}
		return true
	}
	return false
}

// VerifyToken resolves a presented token to its deviceId. The signature names
// the device, the stored hash proves the token is the one we issued, and a
// revoked device never authorizes. Implements auth.DeviceVerifier.
func (s *Store) VerifyToken(token string) (string, bool) {
	if strings.TrimSpace(token) == "" {
		return "", false
	}

	claims, err := auth.ParseDeviceToken(token, s.tokenCfg)
	if err != nil {
		return "", false
	}

	s.mu.Lock()
	var matched string
	for i := range s.file.Devices {
		d := &s.file.Devices[i]
		if !strings.EqualFold(d.DeviceID, claims.DeviceID) || d.RevokedAt != nil {
			continue
		}
		if auth.VerifyTokenHash(token, d.TokenHash) {
			matched = d.DeviceID
		}
		break
	}
	s.mu.Unlock()

	if matched == "" {
		return "", false
	}
	s.Touch(matched)
	return matched, true
}

// Touch updates lastSeenAt, throttling both the in-memory update and the
// file write.
func (s *Store) Touch(deviceID string) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return
	}

	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.file.Devices {
		d := &s.file.Devices[i]
		if !strings.EqualFold(d.DeviceID, deviceID) || d.RevokedAt != nil {
			continue
		}
		if d.LastSeenAt != nil && now.Sub(*d.LastSeenAt) < lastSeenWriteThrottle {
			return
		}
		d.LastSeenAt = &now
		if now.Sub(s.lastSavedAt) < lastSeenWriteThrottle {
			return
		}
		if err := s.save(); err != nil {
			log.Printf("devices: save after touch failed: %v", err)
		}
		return
	}
}

func (s *Store) load() {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("devices: read registry failed, starting empty: %v", err)
		}
		return
	}
	if len(data) == 0 {
		return
	}

	var parsed registryFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		log.Printf("devices: parse registry failed, starting empty: %v", err)
		return
	}
	if parsed.Version == 0 {
		parsed.Version = 1
	}
	s.file = parsed
}

func (s *Store) save() error {
	if dir := filepath.Dir(s.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create registry dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(s.file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if err := os.WriteFile(s.filePath, data, 0o600); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	s.lastSavedAt = s.now().UTC()
	return nil
}
