package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration. Values come from an optional YAML
// file; environment variables override the file.
type Config struct {
	Port        int    `yaml:"port"`
	GinMode     string `yaml:"ginMode"`
	TLSCertFile string `yaml:"tlsCertFile"`
	TLSKeyFile  string `yaml:"tlsKeyFile"`

	// RemoteEnabled opens the server to non-loopback callers. When false,
	// only loopback requests are ever authorized.
	RemoteEnabled bool `yaml:"remoteEnabled"`

	// ManagementToken is the shared credential that grants management
	// operations to non-loopback callers when remote access is enabled.
	ManagementToken string `yaml:"managementToken"`

	// PublicBaseURL is the externally reachable base URL embedded in
	// pairing deep links. Optional.
	PublicBaseURL string `yaml:"publicBaseUrl"`

	// TokenSecret signs device tokens. Required when remote access is enabled.
	TokenSecret string `yaml:"tokenSecret"`

	SessionsRoot     string `yaml:"sessionsRoot"`
	SessionsTrashDir string `yaml:"sessionsTrashDir"`
	DevicesFile      string `yaml:"devicesFile"`
	TranslationsFile string `yaml:"translationsFile"`

	PairingCodeTTL    time.Duration `yaml:"pairingCodeTTL"`
	PairingRequestTTL time.Duration `yaml:"pairingRequestTTL"`

	Translation Translation `yaml:"translation"`
}

// Translation configures the reasoning-text translation wrapper. The provider
// call itself sits behind translate.Translator; only the gate/cache knobs
// live here.
type Translation struct {
	Enabled           bool   `yaml:"enabled"`
	TargetLocale      string `yaml:"targetLocale"`
	Model             string `yaml:"model"`
	MaxRequestsPerSec int    `yaml:"maxRequestsPerSecond"`
	MaxConcurrency    int    `yaml:"maxConcurrency"`
	MaxInputChars     int    `yaml:"maxInputChars"`
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

// Load reads the YAML file at path (if non-empty) and applies environment
// overrides.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, osEnv{})
}

func LoadWithEnv(path string, env Env) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg, env); err != nil {
		return Config{}, err
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.RemoteEnabled && cfg.TokenSecret == "" {
		return Config{}, fmt.Errorf("tokenSecret is required when remote access is enabled")
	}
	if cfg.PairingCodeTTL <= 0 {
		cfg.PairingCodeTTL = 5 * time.Minute
	}
	if cfg.PairingRequestTTL <= 0 {
		cfg.PairingRequestTTL = 10 * time.Minute
	}

	return cfg, nil
}

func defaults() Config {
	home, _ := os.UserHomeDir()
	stateDir := filepath.Join(home, ".codex-bridge")
	return Config{
		Port:              3000,
		GinMode:           "release",
		SessionsRoot:      filepath.Join(home, ".codex", "sessions"),
		SessionsTrashDir:  filepath.Join(stateDir, "trash"),
		DevicesFile:       filepath.Join(stateDir, "paired-devices.json"),
		TranslationsFile:  filepath.Join(stateDir, "translations.json"),
		PairingCodeTTL:    5 * time.Minute,
		PairingRequestTTL: 10 * time.Minute,
		Translation: Translation{
			TargetLocale:      "zh-CN",
			Model:             "gpt-4.1-mini",
			MaxRequestsPerSec: 1,
			MaxConcurrency:    2,
			MaxInputChars:     8000,
		},
	}
}

func applyEnv(cfg *Config, env Env) error {
	if raw := env.Getenv("BRIDGE_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid BRIDGE_PORT")
		}
		cfg.Port = port
	}
	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}
	if raw := env.Getenv("BRIDGE_REMOTE_ENABLED"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid BRIDGE_REMOTE_ENABLED")
		}
		cfg.RemoteEnabled = enabled
	}
	if raw := env.Getenv("BRIDGE_MANAGEMENT_TOKEN"); raw != "" {
		cfg.ManagementToken = raw
	}
	if raw := env.Getenv("BRIDGE_PUBLIC_BASE_URL"); raw != "" {
		cfg.PublicBaseURL = raw
	}
	if raw := env.Getenv("BRIDGE_TOKEN_SECRET"); raw != "" {
		cfg.TokenSecret = raw
	}
	if raw := env.Getenv("CODEX_SESSIONS_ROOT"); raw != "" {
		cfg.SessionsRoot = raw
	}
	if raw := env.Getenv("BRIDGE_DEVICES_FILE"); raw != "" {
		cfg.DevicesFile = raw
	}
	if raw := env.Getenv("BRIDGE_TRANSLATIONS_FILE"); raw != "" {
		cfg.TranslationsFile = raw
	}
	if raw := env.Getenv("BRIDGE_PAIRING_CODE_TTL_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return fmt.Errorf("invalid BRIDGE_PAIRING_CODE_TTL_SECONDS")
		}
		cfg.PairingCodeTTL = time.Duration(seconds) * time.Second
	}
	if raw := env.Getenv("TLS_CERT_FILE"); raw != "" {
		cfg.TLSCertFile = raw
	}
	if raw := env.Getenv("TLS_KEY_FILE"); raw != "" {
		cfg.TLSKeyFile = raw
	}
	return nil
}
