package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API and status views.
	Listen string `yaml:"listen" json:"listen"`

	// DataDir is where bindings.json and stored feed files live.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// AvatarURL is a template with a single %s placeholder for the user ID.
	// Empty disables avatar fetching entirely.
	AvatarURL string `yaml:"avatar_url" json:"avatar_url"`

	// BindWindowSec is how long a bind request stays open waiting for the
	// feed file to arrive.
	BindWindowSec int `yaml:"bind_window_sec" json:"bind_window_sec"`

	// CaptureTimeoutSec bounds a single status-image capture.
	CaptureTimeoutSec int `yaml:"capture_timeout_sec" json:"capture_timeout_sec"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health and the /view/ pages the capture browser
	// loads.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:            "127.0.0.1:8080",
		DataDir:           "./data",
		AvatarURL:         "http://q.qlogo.cn/headimg_dl?dst_uin=%s&spec=640&img_type=jpg",
		BindWindowSec:     60,
		CaptureTimeoutSec: 30,
		BasicAuth:         nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.BindWindowSec <= 0 {
		c.BindWindowSec = 60
	}
	if c.CaptureTimeoutSec <= 0 {
		c.CaptureTimeoutSec = 30
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist: write a default config (0600, parent
//     directory created) and return it.
//   - If the file exists: read YAML, unmarshal, normalize defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".coursebot-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}
