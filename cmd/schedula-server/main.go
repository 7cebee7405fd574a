package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/medibook/schedula/internal/config"
	"github.com/medibook/schedula/internal/metrics"
	"github.com/medibook/schedula/internal/service/appointments"
	"github.com/medibook/schedula/internal/service/availability"
	"github.com/medibook/schedula/internal/service/schedules"
	"github.com/medibook/schedula/internal/store"
	"github.com/medibook/schedula/internal/store/memory"
	"github.com/medibook/schedula/internal/store/postgres"
	redisstore "github.com/medibook/schedula/internal/store/redis"
	grpcTransport "github.com/medibook/schedula/internal/transport/grpc"
	"github.com/medibook/schedula/internal/transport/ops"
)

var version = "dev"

// backend is the storage a server instance runs on.
type backend struct {
	repo     store.SchedulingRepository
	catalog  store.Catalog
	identity store.IdentityResolver
	checks   []ops.Check
	close    func()
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", "schedula-server"),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", "schedula-server"),
	)
	slog.SetDefault(log)

	cancelPolicy, err := appointments.ParseCancelPolicy(cfg.CancelPolicy)
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log.Info(
		"starting",
		slog.String("grpc_addr", cfg.GRPCAddr()),
		slog.String("ops_addr", cfg.OpsAddr),
		slog.String("database_driver", cfg.DatabaseDriver),
		slog.String("log_level", cfg.LogLevel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	be, err := openBackend(ctx, log, cfg, registry)
	if err != nil {
		os.Exit(1)
	}
	defer be.close()

	apptOpts := []appointments.Option{
		appointments.WithMetrics(collector),
		appointments.WithCancelPolicy(cancelPolicy),
	}
	if cfg.RedisEnabled {
		rdb, err := redisstore.NewClient(ctx, redisstore.ClientConfig{URL: cfg.RedisURL, Addr: cfg.RedisAddr})
		if err != nil {
			log.Error("redis connection failed", slog.Any("err", err), slog.String("redis_addr", cfg.RedisAddr))
			os.Exit(1)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn("redis close failed", slog.Any("err", err))
			}
		}()
		apptOpts = append(apptOpts, appointments.WithBookingGate(redisstore.NewBookingLocker(rdb, cfg.RedisLockTTL, cfg.RedisLockWait)))
		be.checks = append(be.checks, ops.Check{Name: "redis", Dep: redisPinger(rdb), Optional: true})
		log.Info("booking gate enabled", slog.Duration("lock_ttl", cfg.RedisLockTTL), slog.Duration("lock_wait", cfg.RedisLockWait))
	}

	availabilitySvc := availability.NewService(
		be.repo,
		be.catalog,
		availability.WithMetrics(collector),
		availability.WithConcurrency(cfg.AvailabilityConcurrency),
	)
	appointmentsSvc := appointments.NewService(be.repo, be.identity, availabilitySvc, apptOpts...)
	schedulesSvc := schedules.NewService(be.repo)

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpcTransport.Metrics(collector),
			grpcTransport.DefaultRequestTimeout(cfg.GRPCRequestTimeout),
		),
	)
	grpcTransport.RegisterSchedulingServiceServer(grpcServer, grpcTransport.NewSchedulingServer(schedulesSvc, availabilitySvc, appointmentsSvc, log))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(grpcTransport.ServiceName, healthpb.HealthCheckResponse_SERVING)

	opsServer := &http.Server{
		Addr: cfg.OpsAddr,
		Handler: ops.NewRouter(ops.RouterConfig{
			Checks:  be.checks,
			Metrics: collector.Handler(),
			Version: version,
			Log:     log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		log.Error("grpc listen failed", slog.Any("err", err), slog.String("grpc_addr", cfg.GRPCAddr()))
		os.Exit(1)
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Info("grpc server started", slog.String("grpc_addr", cfg.GRPCAddr()))
	log.Info("ops server started", slog.String("ops_addr", cfg.OpsAddr))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		healthServer.Shutdown()
		shutdown(log, grpcServer, opsServer, cfg.ShutdownTimeout)
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("server stopped with error", slog.Any("err", err))
			shutdown(log, grpcServer, opsServer, cfg.ShutdownTimeout)
			os.Exit(1)
		}
	}
}

func openBackend(ctx context.Context, log *slog.Logger, cfg config.Config, registry *prometheus.Registry) (backend, error) {
	if cfg.DatabaseDriver == config.DriverMemory {
		log.Warn("using in-memory store, data is lost on restart")
		repo := memory.New()
		return backend{repo: repo, catalog: repo, identity: repo, close: func() {}}, nil
	}

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		return backend{}, err
	}
	registry.MustRegister(collectors.NewDBStatsCollector(db.DB, "schedula"))

	catalog := postgres.NewCatalogRepo(db)
	return backend{
		repo:     postgres.NewSchedulingRepo(db),
		catalog:  catalog,
		identity: catalog,
		checks: []ops.Check{{
			Name: "postgres",
			Dep:  ops.PingFunc(func(ctx context.Context) error { return postgres.Ping(ctx, db) }),
		}},
		close: func() {
			if err := postgres.Close(db); err != nil {
				log.Warn("database close failed", slog.Any("err", err))
			}
		},
	}, nil
}

func redisPinger(rdb *goredis.Client) ops.Pinger {
	return ops.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
}

func shutdown(log *slog.Logger, s *grpc.Server, opsServer *http.Server, timeout time.Duration) {
	log.Info("shutting down", slog.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := opsServer.Shutdown(ctx); err != nil {
		log.Warn("ops server shutdown failed", slog.Any("err", err))
	}

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-ctx.Done():
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		s.Stop()
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
