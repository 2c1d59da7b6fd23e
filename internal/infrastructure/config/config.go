package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Pentair cloud constants used by the mobile application.
const (
	DefaultRegion         = "us-west-2"
	DefaultUserPoolID     = "us-west-2_lbiduhSwD"
	DefaultClientID       = "3de110o697faq7avdchtf07h4v"
	DefaultIdentityPoolID = "us-west-2:6f950f85-af44-43d9-b690-a431f753e9aa"
	DefaultEndpoint       = "https://api.pentair.cloud"
)

// Config is the root configuration structure for Pentair Cloud Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Cloud     CloudConfig     `yaml:"cloud"`
	Poll      PollConfig      `yaml:"poll"`
	Startup   StartupConfig   `yaml:"startup"`
	Programs  ProgramsConfig  `yaml:"programs"`
	Safety    SafetyConfig    `yaml:"safety"`
	Climate   ClimateConfig   `yaml:"climate"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// CloudConfig contains the Pentair account and AWS identity settings.
type CloudConfig struct {
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Region         string        `yaml:"region"`
	UserPoolID     string        `yaml:"user_pool_id"`
	ClientID       string        `yaml:"client_id"`
	IdentityPoolID string        `yaml:"identity_pool_id"`
	Endpoint       string        `yaml:"endpoint"`
	Timeout        time.Duration `yaml:"timeout"`
	// VerifyIDToken checks the ID token signature against the user pool JWKS.
	VerifyIDToken bool          `yaml:"verify_id_token"`
	Breaker       BreakerConfig `yaml:"breaker"`
}

// BreakerConfig contains circuit breaker settings for cloud API calls.
type BreakerConfig struct {
	MaxFailures int           `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// PollConfig contains status polling settings.
type PollConfig struct {
	// MinInterval is the minimum time between two remote status fetches.
	MinInterval time.Duration `yaml:"min_interval"`
	// ScanInterval is how often the scheduler asks for a refresh.
	ScanInterval time.Duration `yaml:"scan_interval"`
}

// StartupConfig controls retries of the initial sign-in and discovery.
type StartupConfig struct {
	MaxElapsed time.Duration `yaml:"max_elapsed"`
}

// ProgramsConfig maps logical roles to vendor program slots (1-8).
type ProgramsConfig struct {
	SpeedLow    int `yaml:"speed_low"`
	SpeedMedium int `yaml:"speed_medium"`
	SpeedHigh   int `yaml:"speed_high"`
	SpeedMax    int `yaml:"speed_max"`
	RelayLights int `yaml:"relay_lights"`
	RelayHeater int `yaml:"relay_heater"`
	// TemperatureSensor is the MQTT topic carrying the pool water temperature.
	TemperatureSensor string `yaml:"temperature_sensor"`
}

// SafetyConfig contains pump/heater interlock timing.
type SafetyConfig struct {
	MinHeaterSpeed int           `yaml:"min_heater_speed"`
	Debounce       time.Duration `yaml:"debounce"`
	StopGap        time.Duration `yaml:"stop_gap"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
	PumpStartDelay time.Duration `yaml:"pump_start_delay"`
}

// ClimateConfig contains pool thermostat settings.
type ClimateConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Target     float64 `yaml:"target"`
	MinTemp    float64 `yaml:"min_temp"`
	MaxTemp    float64 `yaml:"max_temp"`
	Hysteresis float64 `yaml:"hysteresis"`
	Unit       string  `yaml:"unit"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	// APIKeyHash is an argon2id PHC string. When set, mutating routes
	// require "Authorization: Bearer <key>".
	APIKeyHash string `yaml:"api_key_hash"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PENTAIRCLOUD_SECTION_KEY
// For example: PENTAIRCLOUD_USERNAME, PENTAIRCLOUD_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading a file.
// Credentials must still be supplied before it validates.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Cloud: CloudConfig{
			Region:         DefaultRegion,
			UserPoolID:     DefaultUserPoolID,
			ClientID:       DefaultClientID,
			IdentityPoolID: DefaultIdentityPoolID,
			Endpoint:       DefaultEndpoint,
			Timeout:        30 * time.Second,
			Breaker: BreakerConfig{
				MaxFailures: 5,
				OpenTimeout: 60 * time.Second,
			},
		},
		Poll: PollConfig{
			MinInterval:  60 * time.Second,
			ScanInterval: 30 * time.Second,
		},
		Startup: StartupConfig{
			MaxElapsed: 5 * time.Minute,
		},
		Programs: ProgramsConfig{
			SpeedLow:    3,
			SpeedMedium: 2,
			SpeedHigh:   4,
			SpeedMax:    1,
			RelayLights: 5,
			RelayHeater: 6,
		},
		Safety: SafetyConfig{
			MinHeaterSpeed: 50,
			Debounce:       500 * time.Millisecond,
			StopGap:        500 * time.Millisecond,
			SettleDelay:    time.Second,
			PumpStartDelay: 2 * time.Second,
		},
		Climate: ClimateConfig{
			Target:     82,
			MinTemp:    60,
			MaxTemp:    104,
			Hysteresis: 1,
			Unit:       "F",
		},
		MQTT: MQTTConfig{
			TopicPrefix: "pentaircloud",
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "pentaircloud-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8095,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: PENTAIRCLOUD_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Cloud account
	if v := os.Getenv("PENTAIRCLOUD_USERNAME"); v != "" {
		cfg.Cloud.Username = v
	}
	if v := os.Getenv("PENTAIRCLOUD_PASSWORD"); v != "" {
		cfg.Cloud.Password = v
	}

	// MQTT
	if v := os.Getenv("PENTAIRCLOUD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PENTAIRCLOUD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PENTAIRCLOUD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("PENTAIRCLOUD_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("PENTAIRCLOUD_API_KEY_HASH"); v != "" {
		cfg.API.APIKeyHash = v
	}

	if v := os.Getenv("PENTAIRCLOUD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Cloud.Username == "" {
		errs = append(errs, "cloud.username is required (set PENTAIRCLOUD_USERNAME environment variable)")
	}
	if c.Cloud.Password == "" {
		errs = append(errs, "cloud.password is required (set PENTAIRCLOUD_PASSWORD environment variable)")
	}
	if c.Cloud.Region == "" || c.Cloud.UserPoolID == "" || c.Cloud.ClientID == "" || c.Cloud.IdentityPoolID == "" {
		errs = append(errs, "cloud.region, cloud.user_pool_id, cloud.client_id and cloud.identity_pool_id are required")
	}
	if !strings.HasPrefix(c.Cloud.Endpoint, "https://") && !strings.HasPrefix(c.Cloud.Endpoint, "http://") {
		errs = append(errs, "cloud.endpoint must be an http(s) URL")
	}
	if c.Cloud.Timeout <= 0 {
		errs = append(errs, "cloud.timeout must be positive")
	}

	if c.Poll.MinInterval < 0 {
		errs = append(errs, "poll.min_interval must not be negative")
	}
	if c.Poll.ScanInterval <= 0 {
		errs = append(errs, "poll.scan_interval must be positive")
	}

	errs = append(errs, c.Programs.validate()...)

	if c.Safety.MinHeaterSpeed < 1 || c.Safety.MinHeaterSpeed > 100 {
		errs = append(errs, "safety.min_heater_speed must be between 1 and 100")
	}

	if c.Climate.Enabled {
		if c.Programs.TemperatureSensor == "" {
			errs = append(errs, "climate.enabled requires programs.temperature_sensor")
		}
		if !c.MQTT.Enabled {
			errs = append(errs, "climate.enabled requires mqtt.enabled for the temperature sensor")
		}
		if c.Climate.MinTemp >= c.Climate.MaxTemp {
			errs = append(errs, "climate.min_temp must be below climate.max_temp")
		}
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.APIKeyHash != "" && !strings.HasPrefix(c.API.APIKeyHash, "$argon2id$") {
		errs = append(errs, "api.api_key_hash must be an argon2id PHC string")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validate checks role assignments: every slot in 1..8 and no pump speed
// sharing a slot with another role.
func (p ProgramsConfig) validate() []string {
	var errs []string
	roles := []struct {
		key string
		id  int
	}{
		{"speed_low", p.SpeedLow},
		{"speed_medium", p.SpeedMedium},
		{"speed_high", p.SpeedHigh},
		{"speed_max", p.SpeedMax},
		{"relay_lights", p.RelayLights},
		{"relay_heater", p.RelayHeater},
	}

	seen := make(map[int]string, len(roles))
	for _, r := range roles {
		if r.id < 1 || r.id > 8 {
			errs = append(errs, fmt.Sprintf("programs.%s must be between 1 and 8", r.key))
			continue
		}
		if other, dup := seen[r.id]; dup {
			errs = append(errs, fmt.Sprintf("programs.%s uses the same program as programs.%s", r.key, other))
			continue
		}
		seen[r.id] = r.key
	}
	return errs
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
