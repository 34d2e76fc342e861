package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/gorelay/pkg/crypto"
	"github.com/NicolasHaas/gorelay/pkg/logging"
	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/store"
)

// Config holds server configuration. Zero durations disable the
// corresponding timeout.
type Config struct {
	ListenAddr    string `yaml:"listen_addr" toml:"listen_addr"`       // TCP bind address
	AdminName     string `yaml:"admin_name" toml:"admin_name"`         // the one privileged identity
	AdminPassword string `yaml:"admin_password" toml:"admin_password"` // hashed at startup, never stored
	BanStore      string `yaml:"ban_store" toml:"ban_store"`           // see store.Open

	Cipher     string        `yaml:"cipher" toml:"cipher"`           // chacha20poly1305 or aes256gcm
	TokenTTL   time.Duration `yaml:"token_ttl" toml:"token_ttl"`     // max token age
	KeyHandoff bool          `yaml:"key_handoff" toml:"key_handoff"` // send the key before NAME

	TLS      bool   `yaml:"tls" toml:"tls"`
	CertFile string `yaml:"cert_file" toml:"cert_file"` // auto-generated in DataDir if empty
	KeyFile  string `yaml:"key_file" toml:"key_file"`
	DataDir  string `yaml:"data_dir" toml:"data_dir"`

	MetricsAddr string `yaml:"metrics_addr" toml:"metrics_addr"` // empty disables /metrics

	HandshakeTimeout time.Duration `yaml:"handshake_timeout" toml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout" toml:"write_timeout"`
	BroadcastWorkers int           `yaml:"broadcast_workers" toml:"broadcast_workers"`

	DropOnDecryptError  bool    `yaml:"drop_on_decrypt_error" toml:"drop_on_decrypt_error"`
	ModerationThreshold float64 `yaml:"moderation_threshold" toml:"moderation_threshold"`
	ModerationWordlist  string  `yaml:"moderation_wordlist" toml:"moderation_wordlist"`

	LogLevel  string `yaml:"log_level" toml:"log_level"`
	LogFormat string `yaml:"log_format" toml:"log_format"`
	LogFile   string `yaml:"log_file" toml:"log_file"`

	// CLI-only actions (run and exit)
	ExportBans bool `yaml:"-" toml:"-"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:          "0.0.0.0:9999",
		AdminName:           "admin",
		AdminPassword:       "adminpass",
		BanStore:            store.DefaultSpec,
		Cipher:              crypto.MethodChaCha20Poly1305.String(),
		TokenTTL:            crypto.DefaultTTL,
		KeyHandoff:          true,
		DataDir:             ".",
		MetricsAddr:         ":9998",
		HandshakeTimeout:    10 * time.Second,
		WriteTimeout:        30 * time.Second,
		BroadcastWorkers:    64,
		DropOnDecryptError:  true,
		ModerationThreshold: 0.5,
		LogLevel:            "info",
		LogFormat:           "text",
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("config: listen_addr is required")
	}
	if err := model.ValidateName(c.AdminName); err != nil {
		return fmt.Errorf("config: admin_name: %w", err)
	}
	if c.AdminPassword == "" {
		return errors.New("config: admin_password is required")
	}
	if _, err := crypto.ParseMethod(c.Cipher); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.TokenTTL < 0 || c.HandshakeTimeout < 0 || c.WriteTimeout < 0 {
		return errors.New("config: durations must not be negative")
	}
	if c.BroadcastWorkers < 1 {
		return fmt.Errorf("config: broadcast_workers must be positive, got %d", c.BroadcastWorkers)
	}
	if c.ModerationThreshold < 0 || c.ModerationThreshold > 1 {
		return fmt.Errorf("config: moderation_threshold must be in [0,1], got %v", c.ModerationThreshold)
	}
	if err := logging.Validate(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// LoadConfigFile overlays the YAML or TOML file at path onto cfg. The format
// is chosen by extension; keys absent from the file keep their current value.
func LoadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse yaml config: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("parse toml config: %w", err)
		}
	default:
		return fmt.Errorf("config: unsupported config file type %q", filepath.Ext(path))
	}
	return nil
}

// BanYAML represents a ban in YAML export.
type BanYAML struct {
	Name      string `yaml:"name"`
	Reason    string `yaml:"reason,omitempty"`
	BannedBy  string `yaml:"banned_by,omitempty"`
	CreatedAt string `yaml:"created_at,omitempty"`
}

// BansExport is the top-level YAML for ban export.
type BansExport struct {
	Bans []BanYAML `yaml:"bans"`
}

// ExportBansYAML exports every ban in st as YAML.
func ExportBansYAML(ctx context.Context, st store.BanStore) ([]byte, error) {
	bans, err := st.List(ctx)
	if err != nil {
		return nil, err
	}

	export := BansExport{Bans: []BanYAML{}}
	for _, b := range bans {
		entry := BanYAML{Name: b.Name, Reason: b.Reason, BannedBy: b.BannedBy}
		if !b.CreatedAt.IsZero() {
			entry.CreatedAt = b.CreatedAt.UTC().Format(time.RFC3339)
		}
		export.Bans = append(export.Bans, entry)
	}
	return yaml.Marshal(&export)
}
