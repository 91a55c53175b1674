package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Homismart client.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Homismart HomismartConfig `yaml:"homismart"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// HomismartConfig contains the remote service endpoint and account settings.
type HomismartConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// LoginTimeout bounds how long callers wait for the first login (seconds).
	LoginTimeout int `yaml:"login_timeout"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// ReconnectConfig contains the session reconnection policy.
type ReconnectConfig struct {
	InitialDelay int     `yaml:"initial_delay"`
	MaxDelay     int     `yaml:"max_delay"`
	Multiplier   float64 `yaml:"multiplier"`
	// MaxAttempts limits consecutive failed attempts. 0 means unlimited.
	MaxAttempts int `yaml:"max_attempts"`
}

// WebSocketConfig contains client-side WebSocket settings for the remote connection.
type WebSocketConfig struct {
	HandshakeTimeout int   `yaml:"handshake_timeout"`
	PingInterval     int   `yaml:"ping_interval"`
	PongTimeout      int   `yaml:"pong_timeout"`
	MaxMessageSize   int64 `yaml:"max_message_size"`
}

// MQTTConfig contains MQTT broker connection settings for the local bridge.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains local HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`

	// TokenSecret signs HS256 bearer tokens. When set, the command and
	// websocket routes require a valid token.
	TokenSecret string `yaml:"token_secret"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// LoadDotEnv loads KEY=value pairs from the given .env files into the process
// environment. Variables that are already set are left alone. Missing files are
// ignored so a bare environment works the same as a populated .env.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HOMISMART_SECTION_KEY
// For example: HOMISMART_USERNAME, HOMISMART_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Homismart: HomismartConfig{
			URL:          "wss://prom.homismart.com:443/homismartmain/websocket",
			LoginTimeout: 30,
			Reconnect: ReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				Multiplier:   1.5,
				MaxAttempts:  0,
			},
			WebSocket: WebSocketConfig{
				HandshakeTimeout: 10,
				PingInterval:     30,
				PongTimeout:      10,
				MaxMessageSize:   1 << 20,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "homismart-bridge",
			},
			QoS:         1,
			TopicPrefix: "homismart",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8087,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HOMISMART_URL"); v != "" {
		cfg.Homismart.URL = v
	}
	if v := os.Getenv("HOMISMART_USERNAME"); v != "" {
		cfg.Homismart.Username = v
	}
	if v := os.Getenv("HOMISMART_PASSWORD"); v != "" {
		cfg.Homismart.Password = v
	}

	if v := os.Getenv("HOMISMART_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// MQTT
	if v := os.Getenv("HOMISMART_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HOMISMART_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HOMISMART_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("HOMISMART_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("HOMISMART_API_TOKEN_SECRET"); v != "" {
		cfg.API.TokenSecret = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Homismart.Username == "" {
		errs = append(errs, "homismart.username is required (set HOMISMART_USERNAME environment variable)")
	}
	if c.Homismart.Password == "" {
		errs = append(errs, "homismart.password is required (set HOMISMART_PASSWORD environment variable)")
	}
	if u, err := url.Parse(c.Homismart.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		errs = append(errs, "homismart.url must be a ws:// or wss:// URL")
	}

	r := c.Homismart.Reconnect
	if r.InitialDelay < 0 || r.MaxDelay < 0 {
		errs = append(errs, "homismart.reconnect delays must not be negative")
	}
	if r.MaxDelay > 0 && r.InitialDelay > r.MaxDelay {
		errs = append(errs, "homismart.reconnect.initial_delay must not exceed max_delay")
	}
	if r.Multiplier != 0 && r.Multiplier < 1 {
		errs = append(errs, "homismart.reconnect.multiplier must be at least 1")
	}
	if r.MaxAttempts < 0 {
		errs = append(errs, "homismart.reconnect.max_attempts must not be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	// Short secrets make forged tokens practical.
	const minTokenSecretLength = 32
	if c.API.TokenSecret != "" && len(c.API.TokenSecret) < minTokenSecretLength {
		errs = append(errs, "api.token_secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetLoginTimeout returns the login wait timeout as a Duration.
func (c *Config) GetLoginTimeout() time.Duration {
	return time.Duration(c.Homismart.LoginTimeout) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// Seconds converts a config value expressed in whole seconds to a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
