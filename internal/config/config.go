package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"creditgate/internal/receipt"
)

const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"

	ProviderNats = "nats"
	ProviderGRPC = "grpc"
)

type Config struct {
	DBUser  string
	DBPass  string
	DBHost  string
	DBPort  string
	DBName  string
	SSLMode string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisPrefix   string

	NatsHost string
	NatsPort string

	GRPCHost       string
	GRPCPort       string
	GRPCListenPort string
	// EventService listener, started only in grpc worker mode.
	GRPCEventListenPort string
	GRPCServiceToken    string

	ApiPort    string
	ApiEnabled string

	StoreProvider  string
	BusProvider    string
	WorkerProvider string
	BusBufferSize  int

	LogLevel string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	PlayPackageName     string
	PlayCredentialsFile string
	PlayEndpoint        string

	Catalog         receipt.Catalog
	GrantMaxRetries int
	BalanceCacheTTL time.Duration
}

// New loads and validates configuration from environment variables.
// HTTP server is optional: if CREDITGATE_API_ENABLED != "true", ApiAddr() returns an error
// and the HTTP server simply won't start.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:              os.Getenv("CREDITGATE_POSTGRES_USER"),
		DBPass:              os.Getenv("CREDITGATE_POSTGRES_PASSWORD"),
		DBHost:              os.Getenv("CREDITGATE_POSTGRES_HOST"),
		DBPort:              getEnv("CREDITGATE_POSTGRES_PORT", "5432"),
		DBName:              os.Getenv("CREDITGATE_POSTGRES_DB"),
		SSLMode:             getEnv("CREDITGATE_POSTGRES_SSLMODE", "disable"),
		RedisHost:           os.Getenv("CREDITGATE_REDIS_HOST"),
		RedisPort:           getEnv("CREDITGATE_REDIS_PORT", "6379"),
		RedisPassword:       os.Getenv("CREDITGATE_REDIS_PASSWORD"),
		RedisPrefix:         getEnv("CREDITGATE_REDIS_PREFIX", "creditgate"),
		NatsHost:            os.Getenv("CREDITGATE_NATS_HOST"),
		NatsPort:            getEnv("CREDITGATE_NATS_PORT", "4222"),
		GRPCHost:            os.Getenv("CREDITGATE_GRPC_HOST"),
		GRPCPort:            os.Getenv("CREDITGATE_GRPC_PORT"),
		GRPCListenPort:      getEnv("CREDITGATE_GRPC_LISTEN_PORT", "50051"),
		GRPCEventListenPort: getEnv("CREDITGATE_GRPC_EVENT_LISTEN_PORT", "50052"),
		GRPCServiceToken:    os.Getenv("CREDITGATE_GRPC_SERVICE_TOKEN"),
		ApiPort:             os.Getenv("CREDITGATE_API_PORT"),
		ApiEnabled:          os.Getenv("CREDITGATE_API_ENABLED"),
		StoreProvider:       getEnv("CREDITGATE_STORE_PROVIDER", StorePostgres),
		BusProvider:         os.Getenv("CREDITGATE_BUS_PROVIDER"),
		WorkerProvider:      os.Getenv("CREDITGATE_WORKER_PROVIDER"),
		BusBufferSize:       getEnvInt("CREDITGATE_BUS_BUFFER_SIZE", 1024),
		LogLevel:            getEnv("CREDITGATE_LOG_LEVEL", "info"),
		JWTSecret:           os.Getenv("CREDITGATE_JWT_SECRET"),
		JWTIssuer:           os.Getenv("CREDITGATE_JWT_ISSUER"),
		JWTAudience:         os.Getenv("CREDITGATE_JWT_AUDIENCE"),
		PlayPackageName:     os.Getenv("CREDITGATE_PLAY_PACKAGE_NAME"),
		PlayCredentialsFile: os.Getenv("CREDITGATE_PLAY_CREDENTIALS_FILE"),
		PlayEndpoint:        os.Getenv("CREDITGATE_PLAY_ENDPOINT"),
		GrantMaxRetries:     getEnvInt("CREDITGATE_GRANT_MAX_RETRIES", 5),
		BalanceCacheTTL:     time.Duration(getEnvInt("CREDITGATE_BALANCE_CACHE_TTL_SECONDS", 300)) * time.Second,
	}

	catalog, err := receipt.ParseCatalog(getEnv("CREDITGATE_CATALOG", "credit_10=10,credit_20=20,credit_50=50"))
	if err != nil {
		return nil, fmt.Errorf("invalid CREDITGATE_CATALOG: %w", err)
	}
	cfg.Catalog = catalog

	// Required: store
	switch cfg.StoreProvider {
	case StorePostgres:
		if err := cfg.requireDatabase(); err != nil {
			return nil, err
		}
	case StoreRedis:
	default:
		return nil, fmt.Errorf("invalid store provider %q, must be 'postgres' or 'redis'", cfg.StoreProvider)
	}

	// Required: redis backs the balance cache whatever the store is
	if cfg.RedisHost == "" {
		return nil, fmt.Errorf("missing required env for redis: CREDITGATE_REDIS_HOST")
	}

	// Required: bus provider
	if cfg.BusProvider == "" {
		return nil, fmt.Errorf("missing required env: CREDITGATE_BUS_PROVIDER (nats|grpc)")
	}
	if cfg.BusProvider != ProviderNats && cfg.BusProvider != ProviderGRPC {
		return nil, fmt.Errorf("invalid bus provider %q, must be 'nats' or 'grpc'", cfg.BusProvider)
	}

	// Required: worker provider (default to bus provider if empty)
	if cfg.WorkerProvider == "" {
		cfg.WorkerProvider = cfg.BusProvider
	}
	if cfg.WorkerProvider != ProviderNats && cfg.WorkerProvider != ProviderGRPC {
		return nil, fmt.Errorf("invalid worker provider %q, must be 'nats' or 'grpc'", cfg.WorkerProvider)
	}
	if cfg.BusProvider == ProviderGRPC && (cfg.GRPCHost == "" || cfg.GRPCPort == "") {
		return nil, fmt.Errorf("missing required env for grpc bus: CREDITGATE_GRPC_HOST/PORT")
	}
	if (cfg.BusProvider == ProviderGRPC || cfg.WorkerProvider == ProviderGRPC) && cfg.GRPCServiceToken == "" {
		return nil, fmt.Errorf("missing required env for grpc events: CREDITGATE_GRPC_SERVICE_TOKEN")
	}
	if cfg.WorkerProvider == ProviderGRPC && cfg.GRPCEventListenPort == cfg.GRPCListenPort {
		return nil, fmt.Errorf("CREDITGATE_GRPC_EVENT_LISTEN_PORT must differ from CREDITGATE_GRPC_LISTEN_PORT")
	}
	if (cfg.BusProvider == ProviderNats || cfg.WorkerProvider == ProviderNats) && cfg.NatsHost == "" {
		return nil, fmt.Errorf("missing required env for nats: CREDITGATE_NATS_HOST")
	}

	// Required: identity and provider
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("missing required env: CREDITGATE_JWT_SECRET")
	}
	if cfg.PlayPackageName == "" {
		return nil, fmt.Errorf("missing required env: CREDITGATE_PLAY_PACKAGE_NAME")
	}
	if cfg.GrantMaxRetries < 0 {
		return nil, fmt.Errorf("CREDITGATE_GRANT_MAX_RETRIES must not be negative")
	}

	return cfg, nil
}

// NewMigration loads only what the migration tool needs.
func NewMigration() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:   os.Getenv("CREDITGATE_POSTGRES_USER"),
		DBPass:   os.Getenv("CREDITGATE_POSTGRES_PASSWORD"),
		DBHost:   os.Getenv("CREDITGATE_POSTGRES_HOST"),
		DBPort:   getEnv("CREDITGATE_POSTGRES_PORT", "5432"),
		DBName:   os.Getenv("CREDITGATE_POSTGRES_DB"),
		SSLMode:  getEnv("CREDITGATE_POSTGRES_SSLMODE", "disable"),
		LogLevel: getEnv("CREDITGATE_LOG_LEVEL", "info"),
	}
	if err := cfg.requireDatabase(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) requireDatabase() error {
	if c.DBUser == "" || c.DBHost == "" || c.DBName == "" {
		return fmt.Errorf("missing required env for database: CREDITGATE_POSTGRES_USER/HOST/DB")
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) NatsAddr() string {
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort)
}

func (c *Config) GRPCAddr() string {
	return fmt.Sprintf("%s:%s", c.GRPCHost, c.GRPCPort)
}

func (c *Config) GRPCListenAddr() string {
	return ":" + c.GRPCListenPort
}

func (c *Config) GRPCEventListenAddr() string {
	return ":" + c.GRPCEventListenPort
}

// ApiAddr returns the HTTP listen address if the API is enabled.
// Returns an error if CREDITGATE_API_ENABLED != "true"; callers should skip starting the HTTP server.
func (c *Config) ApiAddr() (string, error) {
	if c.ApiEnabled == "true" {
		if c.ApiPort == "" {
			return "", fmt.Errorf("CREDITGATE_API_PORT is required when CREDITGATE_API_ENABLED=true")
		}
		return ":" + c.ApiPort, nil
	}
	return "", fmt.Errorf("HTTP API is disabled (CREDITGATE_API_ENABLED != true)")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var intVal int
	if _, err := fmt.Sscanf(val, "%d", &intVal); err != nil {
		return defaultVal
	}
	return intVal
}
