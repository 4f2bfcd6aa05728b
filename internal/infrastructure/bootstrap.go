package infrastructure

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"creditgate/internal/config"
	"creditgate/internal/identity"
	"creditgate/internal/ledger"
	"creditgate/internal/receipt"
	"creditgate/internal/repository"
	"creditgate/internal/service"
	transportGRPC "creditgate/internal/transport/grpc"
	transportHTTP "creditgate/internal/transport/http"
	transportNATS "creditgate/internal/transport/nats"
	"creditgate/internal/verifier"
	"creditgate/internal/worker"
)

// Bootstrap initialises all dependencies from config and wires up the application.
// Returns the App, the process logger, a cleanup function, or an error.
func Bootstrap(ctx context.Context) (*App, *zap.Logger, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, nil, err
	}

	log, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, nil, err
	}

	var cleanupFns []func()
	fail := func(err error) (*App, *zap.Logger, func(), error) {
		runCleanup(cleanupFns)()
		return nil, nil, nil, err
	}

	rdb, err := connectRedis(ctx, cfg.RedisAddr(), cfg.RedisPassword)
	if err != nil {
		return fail(err)
	}
	cleanupFns = append(cleanupFns, func() { _ = rdb.Close() })

	// ── Storage ────────────────────────────────────────────────────────────────
	var store ledger.Store
	switch cfg.StoreProvider {
	case config.StorePostgres:
		db, err := connectPostgres(ctx, cfg.DSN())
		if err != nil {
			return fail(err)
		}
		cleanupFns = append(cleanupFns, db.Close)
		store = repository.NewPostgresLedger(db)
	case config.StoreRedis:
		store = repository.NewRedisLedger(rdb, cfg.RedisPrefix)
	default:
		return fail(fmt.Errorf("unsupported store provider %q", cfg.StoreProvider))
	}

	credits := ledger.New(store,
		ledger.WithLogger(log.Named("ledger")),
		ledger.WithMaxRetries(cfg.GrantMaxRetries),
	)
	cache := repository.NewBalanceCache(rdb, cfg.RedisPrefix, cfg.BalanceCacheTTL)

	// ── Provider and identity ──────────────────────────────────────────────────
	fetcher, err := newPlayFetcher(ctx, cfg.PlayCredentialsFile, cfg.PlayEndpoint)
	if err != nil {
		return fail(err)
	}

	// ── Bus ────────────────────────────────────────────────────────────────────
	var nc *nats.Conn
	if cfg.BusProvider == config.ProviderNats || cfg.WorkerProvider == config.ProviderNats {
		nc, err = connectNats(cfg.NatsAddr(), log.Named("nats"))
		if err != nil {
			return fail(err)
		}
		cleanupFns = append(cleanupFns, func() { _ = nc.Drain() })
	}

	var bus repository.MessageBus
	switch cfg.BusProvider {
	case config.ProviderNats:
		bus = transportNATS.NewBus(nc)
	case config.ProviderGRPC:
		grpcBus, cleanup, err := transportGRPC.NewGrpcBusFromAddr(cfg.GRPCAddr(), cfg.GRPCServiceToken, cfg.BusBufferSize, log.Named("grpc_bus"))
		if err != nil {
			return fail(err)
		}
		bus = grpcBus
		cleanupFns = append(cleanupFns, cleanup)
	}

	svc, err := service.NewOrchestrator(service.Dependencies{
		Normalizer:    receipt.NewNormalizer(cfg.Catalog, cfg.PlayPackageName),
		Authenticator: identity.NewJWTAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience),
		Verifier:      verifier.NewClient(fetcher, log.Named("verifier")),
		Ledger:        credits,
		Bus:           bus,
		Cache:         cache,
		Logger:        log.Named("service"),
	})
	if err != nil {
		return fail(err)
	}

	// ── Servers ────────────────────────────────────────────────────────────────
	servers := []Server{transportGRPC.NewServer(cfg.GRPCListenAddr(), svc, log.Named("grpc"))}

	// granted events arrive on a separate, token-guarded listener
	if cfg.WorkerProvider == config.ProviderGRPC {
		events, err := transportGRPC.NewEventServer(cfg.GRPCEventListenAddr(), cfg.GRPCServiceToken, svc, log.Named("grpc_events"))
		if err != nil {
			return fail(err)
		}
		servers = append(servers, events)
	}

	if nc != nil {
		servers = append(servers, transportNATS.NewHandler(svc, nc, log.Named("nats_handler")))
		if cfg.WorkerProvider == config.ProviderNats {
			servers = append(servers, worker.NewGrantedEventWorker(svc, nc, log.Named("worker")))
		}
	}

	if addr, apiErr := cfg.ApiAddr(); apiErr == nil {
		servers = append(servers, transportHTTP.NewServer(addr, svc, log.Named("http")))
	} else {
		log.Info("http api not started", zap.Error(apiErr))
	}

	log.Info("application wired",
		zap.String("store", cfg.StoreProvider),
		zap.String("bus", cfg.BusProvider),
		zap.String("worker", cfg.WorkerProvider),
		zap.Int("servers", len(servers)),
	)

	return NewApp(servers, log), log, runCleanup(cleanupFns), nil
}

// runCleanup returns a single function that calls all cleanup functions in reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
