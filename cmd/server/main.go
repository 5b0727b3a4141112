// Command cardkeeper-server serves the deck API over gRPC and HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/cardkeeper/internal/auth"
	"github.com/and161185/cardkeeper/internal/background"
	"github.com/and161185/cardkeeper/internal/backup"
	"github.com/and161185/cardkeeper/internal/config"
	"github.com/and161185/cardkeeper/internal/generate"
	"github.com/and161185/cardkeeper/internal/logging"
	"github.com/and161185/cardkeeper/internal/migrate"
	"github.com/and161185/cardkeeper/internal/observability"
	"github.com/and161185/cardkeeper/internal/repository"
	"github.com/and161185/cardkeeper/internal/repository/memstore"
	"github.com/and161185/cardkeeper/internal/repository/postgres"
	"github.com/and161185/cardkeeper/internal/repository/redisstore"
	grpcserver "github.com/and161185/cardkeeper/internal/server/grpc"
	httpserver "github.com/and161185/cardkeeper/internal/server/http"
	"github.com/and161185/cardkeeper/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	fs := pflag.NewFlagSet("cardkeeper-server", pflag.ExitOnError)
	config.Flags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("grpc", cfg.GRPC.Addr),
		zap.String("http", cfg.HTTP.Addr),
		zap.String("store", cfg.Store.Driver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	shutdownTracing, err := observability.Init(ctx, logger, observability.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.Service,
		Version:     version,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		Ratio:       cfg.Tracing.Ratio,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.Grace)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	repo, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	queue := background.New(background.Config{
		Workers:    cfg.Queue.Workers,
		Buffer:     cfg.Queue.Buffer,
		JobTimeout: cfg.Queue.Timeout,
	}, logger, nil)
	// workers outlive the signal so Stop can drain the queued checks
	queue.Start(context.WithoutCancel(ctx))
	defer queue.Stop()

	// No AI collaborator is configured; generation uses the built-in templates.
	svc := service.NewServices(repo, backup.NewRing(cfg.Backup.Capacity), queue, generate.New(nil, logger), logger, service.SystemClock)
	verifier := auth.NewVerifier([]byte(cfg.Auth.Key), cfg.Auth.Leeway)

	gs, err := newGRPCServer(cfg, logger, verifier)
	if err != nil {
		return err
	}
	grpcserver.New(svc, logger).Register(gs)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	if cfg.GRPC.Reflection {
		reflection.Register(gs)
	}

	httpSrv := httpserver.NewServer(cfg.HTTP.Addr, httpserver.RouterConfig{
		Services:    svc,
		Verifier:    verifier,
		Log:         logger,
		CORSOrigins: cfg.HTTP.Origins,
		ServiceName: tracingName(cfg),
	})

	grpcLis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	httpLis, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		_ = grpcLis.Close()
		return fmt.Errorf("listen http: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPC.Addr), zap.Bool("tls", cfg.GRPC.Cert != ""))
		if err := gs.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		hs.Shutdown()
		stopGRPC(gs, cfg.Shutdown.Grace)
		return nil
	})
	g.Go(func() error {
		return httpSrv.Serve(gctx, httpLis, cfg.Shutdown.Grace)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.DeckRepository, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		if cfg.Store.Migrate {
			if err := migrate.Up(ctx, cfg.Store.DSN); err != nil {
				return nil, nil, fmt.Errorf("migrate up: %w", err)
			}
		}
		db, err := postgres.New(ctx, cfg.Store.DSN, cfg.Store.Timeout)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("postgres ping: %w", err)
		}
		return postgres.NewDeckRepo(db, logger), db.Close, nil
	case config.DriverRedis:
		s, err := redisstore.Dial(ctx, redisstore.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			Timeout:  cfg.Store.Timeout,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.DriverMemory:
		logger.Warn("using the in-memory store; data is lost on exit")
		return memstore.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func newGRPCServer(cfg *config.Config, logger *zap.Logger, verifier *auth.Verifier) (*grpc.Server, error) {
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LoggingUnary(logger),
			grpcserver.AuthUnary(verifier),
		),
	}
	if cfg.Tracing.Enabled {
		opts = append(opts, grpc.StatsHandler(otelgrpc.NewServerHandler()))
	}
	if cfg.GRPC.Cert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.GRPC.Cert, cfg.GRPC.Key)
		if err != nil {
			return nil, fmt.Errorf("load TLS cert/key: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}
	return grpc.NewServer(opts...), nil
}

func stopGRPC(gs *grpc.Server, grace time.Duration) {
	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		gs.Stop()
	}
}

func tracingName(cfg *config.Config) string {
	if !cfg.Tracing.Enabled {
		return ""
	}
	return cfg.Tracing.Service
}
