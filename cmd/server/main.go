// Command bs-server starts the BetaSketch gRPC authority.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/beta-sketch/internal/config"
	"github.com/and161185/beta-sketch/internal/limiter"
	"github.com/and161185/beta-sketch/internal/migrate"
	"github.com/and161185/beta-sketch/internal/repository/postgres"
	"github.com/and161185/beta-sketch/internal/rpc"
	grpcserver "github.com/and161185/beta-sketch/internal/server/grpc"
	"github.com/and161185/beta-sketch/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses configuration, runs migrations, and starts a TLS-enabled gRPC server.
func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	envFile, err := config.LoadDotEnv()
	if err != nil {
		logger.Fatal("load .env", zap.Error(err))
	}

	var cfg config.Server
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()

	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("envFile", envFile),
	)
	if err := cfg.Validate(); err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
	if err != nil {
		logger.Fatal("failed to load TLS cert/key", zap.Error(err))
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if files, err := migrate.Embedded(); err == nil {
		logger.Info("migrations embedded", zap.Strings("files", files))
	}
	if err := migrate.Up(ctx, cfg.DSN); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	// DB pool; the pool's clock is the single source of updated_at stamps
	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		logger.Fatal("pgxpool.New", zap.Error(err))
	}
	defer db.Close()

	userRepo := postgres.NewUserRepo(db)
	betaRepo := postgres.NewBetaRepo(db)

	var lim limiter.Limiter = limiter.Noop{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		lim = limiter.NewRedis(rdb, cfg.LoginWindow, cfg.LoginMaxFails, cfg.LoginBlock)
	} else {
		logger.Warn("login rate limiting disabled (no redis configured)")
	}

	// Services
	authSvc := service.NewAuthService(userRepo, []byte(cfg.JWTKey),
		service.WithAccessTTL(cfg.AccessTTL),
		service.WithLimiter(lim),
		service.WithAuthLogger(logger.Named("auth")),
	)
	betaSvc := service.NewBetaService(betaRepo, logger.Named("betas"))

	// gRPC server with interceptors
	s := grpc.NewServer(
		grpc.Creds(creds),
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LoggingUnary(logger),
			grpcserver.AuthUnary([]byte(cfg.JWTKey),
				rpc.FullMethod("Register"),
				rpc.FullMethod("Login"),
				"/grpc.health.v1.Health/Check",
				"/grpc.health.v1.Health/Watch",
			),
		),
	)

	app := grpcserver.New(authSvc, betaSvc, []byte(cfg.JWTKey), logger.Named("grpc"))
	rpc.RegisterBetaSketchServer(s, app)

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	if cfg.Dev {
		reflection.Register(s)
	}

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening (TLS)", zap.String("addr", cfg.Addr))
		errCh <- s.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		hs.Shutdown()
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.Stop()
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
