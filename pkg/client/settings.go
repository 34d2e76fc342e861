package client

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings stores the terminal client's defaults, persisted as YAML next to
// the binary. Command-line flags override them.
type Settings struct {
	Addr string `yaml:"addr"`
	Name string `yaml:"name,omitempty"`
	Lang string `yaml:"lang,omitempty"` // translate incoming messages into this language
	Key  string `yaml:"key,omitempty"`  // encoded key when the server does not hand it off
	TLS  bool   `yaml:"tls,omitempty"`
}

// DefaultSettings returns default settings.
func DefaultSettings() *Settings {
	return &Settings{
		Addr: "127.0.0.1:9999",
	}
}

// SettingsPath returns the default settings file location.
func SettingsPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "gorelay-client.yaml"
	}
	return filepath.Join(filepath.Dir(exe), "gorelay-client.yaml")
}

// LoadSettings loads settings from path or returns defaults.
func LoadSettings(path string) *Settings {
	s := DefaultSettings()
	data, err := os.ReadFile(path) //nolint:gosec // path from CLI flag or next to binary
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("read settings", "path", path, "err", err)
		}
		return s
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		slog.Error("parse settings", "path", path, "err", err)
		return DefaultSettings()
	}
	return s
}

// Save writes settings to path as YAML.
func (s *Settings) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
