package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full service configuration, read from the environment.
type Config struct {
	Service   ServiceConfig
	Server    ServerConfig
	GRPC      GRPCConfig
	Database  DatabaseConfig
	NATS      NATSConfig
	Telemetry TelemetryConfig
	Placement PlacementConfig
}

type ServiceConfig struct {
	Name        string `env:"SERVICE_NAME" envDefault:"be-discipline-placements"`
	Version     string `env:"SERVICE_VERSION" envDefault:"dev"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

type ServerConfig struct {
	Port            int           `env:"HTTP_PORT" envDefault:"8086"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	RequestTimeout  time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"20s"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	RateLimitRPS    float64       `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst  int           `env:"RATE_LIMIT_BURST" envDefault:"10"`
}

type GRPCConfig struct {
	Port       int  `env:"GRPC_PORT" envDefault:"9086"`
	Reflection bool `env:"GRPC_REFLECTION" envDefault:"true"`
}

type DatabaseConfig struct {
	Driver      string        `env:"STORE_DRIVER" envDefault:"postgres"`
	Host        string        `env:"DB_HOST" envDefault:"localhost"`
	Port        int           `env:"DB_PORT" envDefault:"5432"`
	User        string        `env:"DB_USER" envDefault:"postgres"`
	Password    string        `env:"DB_PASSWORD"`
	Database    string        `env:"DB_NAME" envDefault:"discipline"`
	SSLMode     string        `env:"DB_SSLMODE" envDefault:"disable"`
	MaxConns    int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	MinConns    int32         `env:"DB_MIN_CONNS" envDefault:"1"`
	MaxConnTime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	MaxIdleTime time.Duration `env:"DB_MAX_CONN_IDLE" envDefault:"30m"`
	HealthCheck time.Duration `env:"DB_HEALTH_CHECK" envDefault:"1m"`
	AutoMigrate bool          `env:"DB_AUTO_MIGRATE" envDefault:"false"`
}

type NATSConfig struct {
	URL            string `env:"NATS_URL"`
	SubjectPrefix  string `env:"NATS_SUBJECT_PREFIX" envDefault:"notifications.discipline"`
	StreamName     string `env:"NATS_STREAM" envDefault:"NOTIFICATIONS"`
	ConnectionName string `env:"NATS_CONNECTION_NAME" envDefault:"be-discipline-placements"`
}

type TelemetryConfig struct {
	Enabled      bool          `env:"OTEL_ENABLED" envDefault:"false"`
	Endpoint     string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	Insecure     bool          `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRate   float64       `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
	BatchTimeout time.Duration `env:"OTEL_BATCH_TIMEOUT" envDefault:"5s"`
}

type PlacementConfig struct {
	ChainTemplatesPath string   `env:"CHAIN_TEMPLATES_PATH" envDefault:"configs/chain_templates.yaml"`
	WatchTemplates     bool     `env:"CHAIN_TEMPLATES_WATCH" envDefault:"true"`
	DAEPConsequences   []string `env:"DAEP_CONSEQUENCE_TYPES" envSeparator:"," envDefault:"daep,daep_mandatory,daep_discretionary"`
	ApproverRoles      []string `env:"INCIDENT_APPROVER_ROLES" envSeparator:"," envDefault:"principal,assistant_principal"`
	FallbackRole       string   `env:"CHAIN_FALLBACK_ROLE" envDefault:"principal"`
	FallbackLabel      string   `env:"CHAIN_FALLBACK_LABEL" envDefault:"Principal"`
}

// Load parses the environment into Config and validates it.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.Database.Driver)
	}
	if c.Server.Port <= 0 || c.GRPC.Port <= 0 {
		return fmt.Errorf("HTTP_PORT and GRPC_PORT must be positive")
	}
	if c.Server.Port == c.GRPC.Port {
		return fmt.Errorf("HTTP_PORT and GRPC_PORT must differ")
	}
	if len(c.Placement.DAEPConsequences) == 0 {
		return fmt.Errorf("DAEP_CONSEQUENCE_TYPES must list at least one consequence type")
	}
	for i, r := range c.Placement.ApproverRoles {
		c.Placement.ApproverRoles[i] = strings.ToLower(strings.TrimSpace(r))
	}
	for i, t := range c.Placement.DAEPConsequences {
		c.Placement.DAEPConsequences[i] = strings.ToLower(strings.TrimSpace(t))
	}
	return nil
}
