package shared

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// defaultListenerPort is used whenever the configured port is missing or out of range.
const defaultListenerPort = 8123

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Listener ListenerConfig `toml:"listener"`
	Download DownloadConfig `toml:"download"`
	Auth     AuthConfig     `toml:"auth"`
	Database DatabaseConfig `toml:"database"`
}

// ListenerConfig contains settings for listener mode.
//
// Read once at server start and treated as immutable for that server's lifetime.
type ListenerConfig struct {
	Host   string `toml:"host"`
	Port   int    `toml:"port"`
	Secret string `toml:"secret"`
}

// DownloadConfig contains settings for the download engine.
type DownloadConfig struct {
	Path         string `toml:"path"`
	AudioQuality string `toml:"audio_quality"`
	DelaySeconds int    `toml:"delay_seconds"`
}

// AuthConfig contains the OAuth client settings for the PKCE login flow.
type AuthConfig struct {
	ClientID     string `toml:"client_id"`
	AuthorizeURL string `toml:"authorize_url"`
	TokenURL     string `toml:"token_url"`
	RedirectURI  string `toml:"redirect_uri"`
	Scope        string `toml:"scope"`
	PKCEPort     int    `toml:"pkce_port"`
}

// DatabaseConfig contains database connection settings for the download history store.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.normalize()
	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	config.normalize()
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	// Check if file already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	// Write the embedded example config to the file
	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// normalize clamps out-of-range values to their defaults.
func (c *Config) normalize() {
	if c.Listener.Host == "" {
		c.Listener.Host = "127.0.0.1"
	}
	if c.Listener.Port <= 0 || c.Listener.Port > 65535 {
		c.Listener.Port = defaultListenerPort
	}
	if c.Auth.PKCEPort <= 0 || c.Auth.PKCEPort > 65535 {
		c.Auth.PKCEPort = c.Listener.Port
	}
	if c.Download.Path == "" {
		c.Download.Path = "./download"
	}
	if c.Download.DelaySeconds < 0 {
		c.Download.DelaySeconds = 0
	}
}

// ValidateListener reports whether the configuration can start listener mode.
//
// An empty secret refuses to start rather than serving unauthenticated requests.
func (c *Config) ValidateListener() error {
	if c.Listener.Secret == "" {
		return ErrMissingSecret
	}
	return nil
}
