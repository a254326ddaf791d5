// Package config provides configuration management for the portal client.
// It handles loading and parsing the YAML configuration file and exposes
// structured access to backend endpoints, transport settings, logging and
// durable token storage.
package config

// SDKConfig holds the transport settings shared by every outbound request.
type SDKConfig struct {
	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	// Supported schemes: http, https, socks5.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// RequestLog enables debug logging of every backend request and its normalized outcome.
	RequestLog bool `yaml:"request-log" json:"request-log"`

	// RequestTimeoutSeconds bounds a single backend request. <= 0 falls back to the default.
	RequestTimeoutSeconds int `yaml:"request-timeout-seconds" json:"request-timeout-seconds"`
}

// TokenStoreConfig selects and configures the durable store holding the token set.
type TokenStoreConfig struct {
	// Type is one of "file" (default), "postgres", "object", "git" or "redis".
	Type string `yaml:"type" json:"type"`

	// Postgres
	DSN    string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	Schema string `yaml:"schema,omitempty" json:"schema,omitempty"`
	Table  string `yaml:"table,omitempty" json:"table,omitempty"`

	// S3-compatible object storage
	Endpoint  string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Bucket    string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	AccessKey string `yaml:"access-key,omitempty" json:"access-key,omitempty"`
	SecretKey string `yaml:"secret-key,omitempty" json:"secret-key,omitempty"`
	Region    string `yaml:"region,omitempty" json:"region,omitempty"`
	Prefix    string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	UseSSL    bool   `yaml:"use-ssl,omitempty" json:"use-ssl,omitempty"`

	// Git
	GitURL      string `yaml:"git-url,omitempty" json:"git-url,omitempty"`
	GitUsername string `yaml:"git-username,omitempty" json:"git-username,omitempty"`
	GitPassword string `yaml:"git-password,omitempty" json:"git-password,omitempty"`

	// Redis
	RedisAddr     string `yaml:"redis-addr,omitempty" json:"redis-addr,omitempty"`
	RedisPassword string `yaml:"redis-password,omitempty" json:"redis-password,omitempty"`
	RedisDB       int    `yaml:"redis-db,omitempty" json:"redis-db,omitempty"`
}
