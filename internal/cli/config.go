package cli

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"os"
	"time"

	"github.com/MrEthical07/trustplane"
	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML configuration file. Engine settings sit at the top
// level next to the process settings.
type FileConfig struct {
	trustplane.Config `yaml:",inline"`

	Redis RedisConfig `yaml:"redis"`
	HTTP  HTTPConfig  `yaml:"http"`
	// GeoIPDatabase is the path of a MaxMind City database. Empty disables
	// session geolocation.
	GeoIPDatabase string `yaml:"geoip_database"`
}

// RedisConfig selects the shared store.
type RedisConfig struct {
	Addrs    []string `yaml:"addrs"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
}

// HTTPConfig configures the listener started by serve.
type HTTPConfig struct {
	Address         string        `yaml:"address"`
	AdminToken      string        `yaml:"admin_token"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultFileConfig returns engine defaults plus a local Redis and listener.
func DefaultFileConfig() FileConfig {
	return FileConfig{
		Config: trustplane.DefaultConfig(),
		Redis: RedisConfig{
			Addrs: []string{"127.0.0.1:6379"},
		},
		HTTP: HTTPConfig{
			Address:         ":8080",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

// LoadFileConfig reads path over [DefaultFileConfig]. An empty path returns
// the defaults. Unknown keys are rejected.
func LoadFileConfig(path string) (FileConfig, error) {
	cfg := DefaultFileConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// loadKeys reads signing key files into cfg. Surrounding whitespace is kept
// for PEM input and trimmed for raw hs256 secrets.
func loadKeys(cfg *trustplane.Config, privatePath, publicPath string) error {
	if privatePath != "" {
		key, err := os.ReadFile(privatePath)
		if err != nil {
			return fmt.Errorf("read private key: %w", err)
		}
		if cfg.Token.SigningMethod == "hs256" {
			key = bytes.TrimSpace(key)
		}
		cfg.Token.PrivateKey = key
	}
	if publicPath != "" {
		key, err := os.ReadFile(publicPath)
		if err != nil {
			return fmt.Errorf("read public key: %w", err)
		}
		cfg.Token.PublicKey = key
	}
	return nil
}

// useEphemeralKey lets operator commands, which never issue tokens, run
// without the server's key material.
func useEphemeralKey(cfg *trustplane.Config) error {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return err
	}
	cfg.Token.SigningMethod = "hs256"
	cfg.Token.PrivateKey = key
	cfg.Token.PublicKey = nil
	return nil
}
