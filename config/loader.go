// =============================================================================
// SwarmFlow configuration loader
// =============================================================================
// Unified configuration loading: YAML file + environment variable overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("SWARMFLOW").
//	    Load()
//
// Precedence: defaults -> YAML file -> environment variables.
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Acknowledgement policies accepted by AgentConfig.AckPolicy.
const (
	AckBeforeHandler = "ack_before"
	AckAfterHandler  = "ack_after"
)

// =============================================================================
// Core configuration structure
// =============================================================================

// Config is the complete SwarmFlow configuration.
type Config struct {
	// Server configures the ops HTTP listener.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Orchestrator configures the coordinating instance.
	Orchestrator OrchestratorConfig `yaml:"orchestrator" env:"ORCHESTRATOR"`

	// Agent configures a worker agent process.
	Agent AgentConfig `yaml:"agent" env:"AGENT"`

	// Broker selects and tunes the message broker.
	Broker BrokerConfig `yaml:"broker" env:"BROKER"`

	// Redis configures the shared Redis connection (broker and registry).
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Archive configures the durable result archive.
	Archive ArchiveConfig `yaml:"archive" env:"ARCHIVE"`

	// Auth configures authentication for the ops API.
	Auth AuthConfig `yaml:"auth" env:"AUTH"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry configures OTLP trace export.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics configures Prometheus instrumentation.
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// ServerConfig configures the ops HTTP server.
type ServerConfig struct {
	// HTTP port
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics port
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// Read timeout
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// Write timeout
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// Cap on concurrently accepted connections (0 = unlimited)
	MaxConns int `yaml:"max_conns" env:"MAX_CONNS"`
	// Requests per second allowed per client
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// Burst size for the rate limiter
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// Origins allowed for cross-origin requests (empty denies CORS)
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// TLS certificate path; the server stays plain HTTP when unset
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	// TLS private key path
	TLSKeyFile string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// OrchestratorConfig configures the coordinating instance.
type OrchestratorConfig struct {
	// Stable identity; queue names derive from it
	ID string `yaml:"id" env:"ID"`
	// Task registry backend
	Registry RegistryConfig `yaml:"registry" env:"REGISTRY"`
}

// RegistryConfig configures the task registry backend.
type RegistryConfig struct {
	// Backend type: memory, redis
	Type string `yaml:"type" env:"TYPE"`
	// Retention for finished task records (0 = keep forever)
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// Sweep interval for expired records
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
}

// AgentConfig configures a worker agent.
type AgentConfig struct {
	// Stable identity; queue names derive from it (generated when empty)
	ID string `yaml:"id" env:"ID"`
	// Capability advertised to the orchestrator: security, performance,
	// quality, testing, refactor, generic
	Capability string `yaml:"capability" env:"CAPABILITY"`
	// Identity of the orchestrator results are addressed to
	OrchestratorID string `yaml:"orchestrator_id" env:"ORCHESTRATOR_ID"`
	// Acknowledgement policy: ack_before, ack_after
	AckPolicy string `yaml:"ack_policy" env:"ACK_POLICY"`
	// Per-task handler deadline
	HandlerTimeout time.Duration `yaml:"handler_timeout" env:"HANDLER_TIMEOUT"`
}

// BrokerConfig selects and tunes the message broker.
type BrokerConfig struct {
	// Broker type: memory, redis
	Type string `yaml:"type" env:"TYPE"`
	// Per-queue buffer capacity for the in-memory broker
	QueueDepth int `yaml:"queue_depth" env:"QUEUE_DEPTH"`
	// Approximate cap on Redis stream length (0 = unbounded)
	StreamMaxLen int64 `yaml:"stream_max_len" env:"STREAM_MAX_LEN"`
	// Block interval for Redis stream reads
	Block time.Duration `yaml:"block" env:"BLOCK"`
}

// RedisConfig configures the shared Redis connection.
type RedisConfig struct {
	// Address
	Addr string `yaml:"addr" env:"ADDR"`
	// Password
	Password string `yaml:"password" env:"PASSWORD"`
	// Database number
	DB int `yaml:"db" env:"DB"`
	// Connection pool size
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// Minimum idle connections
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// ArchiveConfig configures the durable result archive.
type ArchiveConfig struct {
	// Whether archival is enabled
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Driver type: postgres, mysql, sqlite, mongo
	Driver string `yaml:"driver" env:"DRIVER"`
	// Host
	Host string `yaml:"host" env:"HOST"`
	// Port
	Port int `yaml:"port" env:"PORT"`
	// User
	User string `yaml:"user" env:"USER"`
	// Password
	Password string `yaml:"password" env:"PASSWORD"`
	// Database name, or file path for sqlite
	Name string `yaml:"name" env:"NAME"`
	// SSL mode (postgres)
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// Connection URI (mongo)
	URI string `yaml:"uri" env:"URI"`
	// Maximum open connections
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// Maximum idle connections
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// Maximum connection lifetime
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// AuthConfig configures authentication for the ops API.
type AuthConfig struct {
	// Whether authentication is enforced
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// HMAC secret for JWT bearer tokens
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	// Static API keys accepted via X-API-Key
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// Output paths
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// Whether to record caller information
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// Whether to record stack traces
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	// Whether tracing is enabled
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP endpoint
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// Service name
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// Sample rate
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig configures Prometheus instrumentation.
type MetricsConfig struct {
	// Whether metrics are registered and served
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Metric namespace prefix
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// =============================================================================
// Configuration loader
// =============================================================================

// Loader loads configuration (builder pattern).
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "SWARMFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the configuration file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a configuration validator.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load loads the configuration.
// Precedence: defaults -> YAML file -> environment variables.
func (l *Loader) Load() (*Config, error) {
	// 1. Start from defaults
	cfg := DefaultConfig()

	// 2. Overlay the YAML file when one is specified
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. Overlay environment variables
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. Run validators
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile loads configuration from a YAML file.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing file means defaults apply.
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv recursively populates struct fields.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// Recurse into nested sections.
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue assigns a parsed environment value to a field.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration parses as a duration string.
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// Comma-separated string slices.
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// MustLoad loads the configuration and panics on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, "tls_cert_file and tls_key_file must be set together")
	}

	if c.Orchestrator.ID == "" {
		errs = append(errs, "orchestrator id must not be empty")
	}
	switch c.Orchestrator.Registry.Type {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unknown registry type %q", c.Orchestrator.Registry.Type))
	}

	switch c.Agent.AckPolicy {
	case AckBeforeHandler, AckAfterHandler:
	default:
		errs = append(errs, fmt.Sprintf("unknown ack policy %q", c.Agent.AckPolicy))
	}
	if c.Agent.HandlerTimeout <= 0 {
		errs = append(errs, "handler_timeout must be positive")
	}

	switch c.Broker.Type {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unknown broker type %q", c.Broker.Type))
	}

	if c.Archive.Enabled {
		switch c.Archive.Driver {
		case "postgres", "mysql", "sqlite", "mongo":
		default:
			errs = append(errs, fmt.Sprintf("unknown archive driver %q", c.Archive.Driver))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the database connection string for SQL archive drivers.
func (a *ArchiveConfig) DSN() string {
	switch a.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			a.Host, a.Port, a.User, a.Password, a.Name, a.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			a.User, a.Password, a.Host, a.Port, a.Name,
		)
	case "sqlite":
		return a.Name
	default:
		return ""
	}
}
