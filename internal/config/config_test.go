package config

import (
	"strings"
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	for k, v := range map[string]string{
		"CREDITGATE_POSTGRES_USER":     "creditgate",
		"CREDITGATE_POSTGRES_PASSWORD": "secret",
		"CREDITGATE_POSTGRES_HOST":     "db",
		"CREDITGATE_POSTGRES_DB":       "creditgate",
		"CREDITGATE_REDIS_HOST":        "redis",
		"CREDITGATE_NATS_HOST":         "nats",
		"CREDITGATE_BUS_PROVIDER":      "nats",
		"CREDITGATE_JWT_SECRET":        "jwt-secret",
		"CREDITGATE_PLAY_PACKAGE_NAME": "com.app.x",
	} {
		t.Setenv(k, v)
	}
}

func TestNew_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if cfg.StoreProvider != StorePostgres || cfg.WorkerProvider != ProviderNats {
		t.Errorf("providers: store=%s worker=%s", cfg.StoreProvider, cfg.WorkerProvider)
	}
	if cfg.DSN() != "postgres://creditgate:secret@db:5432/creditgate?sslmode=disable" {
		t.Errorf("dsn: %s", cfg.DSN())
	}
	if cfg.RedisAddr() != "redis:6379" || cfg.NatsAddr() != "nats://nats:4222" || cfg.GRPCListenAddr() != ":50051" {
		t.Errorf("addrs: %s %s %s", cfg.RedisAddr(), cfg.NatsAddr(), cfg.GRPCListenAddr())
	}
	if cfg.GrantMaxRetries != 5 || cfg.BalanceCacheTTL != 5*time.Minute || cfg.BusBufferSize != 1024 {
		t.Errorf("tuning: %+v", cfg)
	}
	if credits, ok := cfg.Catalog.Credits("credit_50"); !ok || credits != 50 {
		t.Errorf("catalog: %v", cfg.Catalog)
	}
	if _, err := cfg.ApiAddr(); err == nil {
		t.Error("api must be disabled by default")
	}
}

func TestNew_Overrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("CREDITGATE_STORE_PROVIDER", "redis")
	t.Setenv("CREDITGATE_POSTGRES_USER", "")
	t.Setenv("CREDITGATE_CATALOG", "gems_100=100")
	t.Setenv("CREDITGATE_API_ENABLED", "true")
	t.Setenv("CREDITGATE_API_PORT", "8080")
	t.Setenv("CREDITGATE_GRANT_MAX_RETRIES", "9")

	cfg, err := New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if cfg.StoreProvider != StoreRedis {
		t.Errorf("store: %s", cfg.StoreProvider)
	}
	if _, ok := cfg.Catalog.Credits("credit_10"); ok {
		t.Error("custom catalog must replace the default")
	}
	if addr, err := cfg.ApiAddr(); err != nil || addr != ":8080" {
		t.Errorf("api addr: %q %v", addr, err)
	}
	if cfg.GrantMaxRetries != 9 {
		t.Errorf("retries: %d", cfg.GrantMaxRetries)
	}
}

func TestNew_Validation(t *testing.T) {
	cases := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"bad store", map[string]string{"CREDITGATE_STORE_PROVIDER": "mongo"}, "invalid store provider"},
		{"missing db", map[string]string{"CREDITGATE_POSTGRES_HOST": ""}, "database"},
		{"missing redis", map[string]string{"CREDITGATE_REDIS_HOST": ""}, "redis"},
		{"missing bus", map[string]string{"CREDITGATE_BUS_PROVIDER": ""}, "CREDITGATE_BUS_PROVIDER"},
		{"bad bus", map[string]string{"CREDITGATE_BUS_PROVIDER": "kafka"}, "invalid bus provider"},
		{"grpc without target", map[string]string{"CREDITGATE_BUS_PROVIDER": "grpc"}, "grpc bus"},
		{"grpc worker without service token", map[string]string{"CREDITGATE_WORKER_PROVIDER": "grpc"}, "CREDITGATE_GRPC_SERVICE_TOKEN"},
		{"grpc event port clash", map[string]string{
			"CREDITGATE_WORKER_PROVIDER":        "grpc",
			"CREDITGATE_GRPC_SERVICE_TOKEN":     "svc",
			"CREDITGATE_GRPC_EVENT_LISTEN_PORT": "50051",
		}, "CREDITGATE_GRPC_EVENT_LISTEN_PORT"},
		{"missing secret", map[string]string{"CREDITGATE_JWT_SECRET": ""}, "CREDITGATE_JWT_SECRET"},
		{"missing package", map[string]string{"CREDITGATE_PLAY_PACKAGE_NAME": ""}, "CREDITGATE_PLAY_PACKAGE_NAME"},
		{"bad catalog", map[string]string{"CREDITGATE_CATALOG": "credit_10=ten"}, "CREDITGATE_CATALOG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := New()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestNew_GRPCWorker(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("CREDITGATE_BUS_PROVIDER", "grpc")
	t.Setenv("CREDITGATE_GRPC_HOST", "worker")
	t.Setenv("CREDITGATE_GRPC_PORT", "50052")
	t.Setenv("CREDITGATE_GRPC_SERVICE_TOKEN", "svc")

	cfg, err := New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if cfg.WorkerProvider != ProviderGRPC || cfg.GRPCEventListenAddr() != ":50052" || cfg.GRPCAddr() != "worker:50052" {
		t.Fatalf("grpc worker: %s %s %s", cfg.WorkerProvider, cfg.GRPCEventListenAddr(), cfg.GRPCAddr())
	}
}

func TestNewMigration(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("CREDITGATE_BUS_PROVIDER", "")

	cfg, err := NewMigration()
	if err != nil {
		t.Fatalf("new migration: %v", err)
	}
	if !strings.HasPrefix(cfg.DSN(), "postgres://creditgate:") {
		t.Fatalf("dsn: %s", cfg.DSN())
	}
}
