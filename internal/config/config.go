package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultRequestTimeout bounds backend calls when the config does not say otherwise.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultStateDir holds the file token store, the session flash and logs.
	DefaultStateDir = "~/.portal"

	defaultRefreshPath  = "/sso/token/refresh"
	defaultExchangePath = "/sso/token"
)

// Config is the root configuration loaded from config.yaml.
type Config struct {
	SDKConfig `yaml:",inline"`

	// APIBaseURL prefixes every relative backend path.
	APIBaseURL string `yaml:"api-base-url" json:"api-base-url"`

	// ClientID identifies this client to the identity endpoints.
	ClientID string `yaml:"client-id" json:"client-id"`

	// LoginURL is opened when the session cannot be recovered.
	LoginURL string `yaml:"login-url" json:"login-url"`

	// LogoutURL is opened after local tokens are cleared.
	LogoutURL string `yaml:"logout-url" json:"logout-url"`

	// RedirectURI is sent with the authorization code exchange.
	RedirectURI string `yaml:"redirect-uri" json:"redirect-uri"`

	// RefreshPath and ExchangePath override the identity endpoint paths.
	RefreshPath  string `yaml:"refresh-path,omitempty" json:"refresh-path,omitempty"`
	ExchangePath string `yaml:"exchange-path,omitempty" json:"exchange-path,omitempty"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile writes logs to a rotating file under the state directory instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogsMaxTotalSizeMB caps the log directory size. <= 0 disables pruning.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	// StateDir is the local directory for durable client state.
	StateDir string `yaml:"state-dir" json:"state-dir"`

	// NoBrowser prints and copies URLs instead of opening a browser.
	NoBrowser bool `yaml:"no-browser" json:"no-browser"`

	// TokenStore selects the durable token backend.
	TokenStore TokenStoreConfig `yaml:"token-store" json:"token-store"`
}

// LoadConfig reads and parses the configuration file, failing when it does not exist.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads the configuration file. When optional is true a
// missing or empty file yields the defaults instead of an error.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(configFile) == "" {
		if optional {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: path is empty")
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", configFile, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		if optional {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: %s is empty", configFile)
	}

	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", configFile, err)
	}
	cfg.normalize()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration populated with default values.
func Default() *Config {
	cfg := &Config{
		SDKConfig: SDKConfig{
			RequestTimeoutSeconds: int(DefaultRequestTimeout / time.Second),
		},
		StateDir:     DefaultStateDir,
		RefreshPath:  defaultRefreshPath,
		ExchangePath: defaultExchangePath,
		TokenStore:   TokenStoreConfig{Type: "file"},
	}
	return cfg
}

// Validate reports configuration errors that would make every request fail.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil")
	}
	switch c.TokenStore.Type {
	case "", "file", "postgres", "object", "git", "redis":
	default:
		return fmt.Errorf("config: unknown token-store type %q", c.TokenStore.Type)
	}
	return nil
}

// RequestTimeout returns the configured per-request timeout.
func (c *Config) RequestTimeout() time.Duration {
	if c == nil || c.RequestTimeoutSeconds <= 0 {
		return DefaultRequestTimeout
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c *Config) normalize() {
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	c.ClientID = strings.TrimSpace(c.ClientID)
	c.LoginURL = strings.TrimSpace(c.LoginURL)
	c.LogoutURL = strings.TrimSpace(c.LogoutURL)
	if strings.TrimSpace(c.StateDir) == "" {
		c.StateDir = DefaultStateDir
	}
	if strings.TrimSpace(c.RefreshPath) == "" {
		c.RefreshPath = defaultRefreshPath
	}
	if strings.TrimSpace(c.ExchangePath) == "" {
		c.ExchangePath = defaultExchangePath
	}
	c.TokenStore.Type = strings.ToLower(strings.TrimSpace(c.TokenStore.Type))
	if c.TokenStore.Type == "" {
		c.TokenStore.Type = "file"
	}
}
