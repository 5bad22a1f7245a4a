package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/access"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/auth"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/config"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/data"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/db"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/docstore"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/identity"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/middleware"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/presence"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/rpc"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/view"
)

// shutdownTimeout bounds graceful shutdown of both listeners.
const shutdownTimeout = 10 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	liveness, closeLiveness, err := openLiveness(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLiveness()

	// If JWT_KEYS is supplied tokens can be rotated; otherwise fall back to the
	// single JWT_SECRET.
	var jwtMgr *auth.JWTManager
	if len(cfg.JWTKeys) > 0 {
		jwtMgr = auth.NewJWTManagerFromKeys(cfg.JWTKeys, cfg.JWTActiveKid, cfg.TokenTTL)
	} else {
		jwtMgr = auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL)
	}

	// Credential calls are limited per email inside the identity provider and
	// token-carrying calls per peer here; small bursts allow quick retries.
	credentialLimits := middleware.NewLimiterStore(cfg.RateLimitRPM, 3, time.Minute)
	defer credentialLimits.Stop()
	peerLimits := middleware.NewLimiterStore(cfg.RateLimitRPM, 3, time.Minute)
	defer peerLimits.Stop()

	ids := identity.NewService(store, jwtMgr, identity.Options{
		TeacherEmail: cfg.TeacherEmail,
		Limiter:      credentialLimits,
		Logger:       logger,
	})
	guard := access.NewGuard(store)
	hub := NewStreamHub(func(ctx context.Context, uid string) error {
		return presence.MarkOffline(ctx, store, uid)
	}, logger)
	reaper := presence.NewReaper(store, liveness, cfg.PresenceTTL, cfg.ReaperInterval, logger)

	var serverOpts []grpc.ServerOption
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return err
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}
	authn := &authenticator{verifier: ids, liveness: liveness, logger: logger}
	serverOpts = append(serverOpts,
		grpc.ChainUnaryInterceptor(
			statusUnaryInterceptor(logger),
			middleware.RateLimitUnaryInterceptor(peerLimits, tokenMethods),
			authn.unary(),
		),
		grpc.ChainStreamInterceptor(
			statusStreamInterceptor(logger),
			authn.stream(),
		),
	)

	grpcServer := grpc.NewServer(serverOpts...)
	registerService(grpcServer, newServer(ids, guard, hub, logger))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_SERVING)

	httpApp := newHTTPApp(&dashboard{
		verifier:       ids,
		guard:          guard,
		hub:            hub,
		render:         view.Options{TeacherEmail: cfg.TeacherEmail},
		communityLimit: cfg.CommunityLimit,
		logger:         logger,
	})

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("HTTP dashboard listening", "addr", cfg.HTTPAddr)
		return httpApp.Listen(cfg.HTTPAddr)
	})
	g.Go(func() error {
		return reaper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		healthServer.Shutdown()

		done := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(shutdownTimeout):
			grpcServer.Stop()
		}
		return httpApp.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// openStore connects to MongoDB when configured and falls back to the
// in-memory store otherwise.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (docstore.Store, func(), error) {
	if cfg.MongoURI == "" {
		logger.Warn("MONGODB_URI not set; using the in-memory document store")
		return docstore.NewMemory(), func() {}, nil
	}

	dbClient, err := db.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return nil, nil, err
	}
	// Ensure indexes exist
	if err := dbClient.CreateIndexes(ctx); err != nil {
		_ = dbClient.Close(context.Background())
		return nil, nil, err
	}
	store := data.NewMongoStore(dbClient.Database(), data.WithLogger(logger))
	return store, func() { _ = dbClient.Close(context.Background()) }, nil
}

// openLiveness uses Redis when configured so every server instance shares the
// same liveness keys.
func openLiveness(ctx context.Context, cfg config.Config, logger *slog.Logger) (presence.Liveness, func(), error) {
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not set; using in-memory presence liveness")
		return presence.NewMemoryLiveness(cfg.PresenceTTL), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return presence.NewRedisLiveness(client, "", cfg.PresenceTTL), func() { _ = client.Close() }, nil
}
