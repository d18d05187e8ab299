package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-discipline-placements/internal/chaintemplate"
	"github.com/pesio-ai/be-discipline-placements/internal/client"
	"github.com/pesio-ai/be-discipline-placements/internal/handler"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/config"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/database"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/logger"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/middleware"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/telemetry"
	"github.com/pesio-ai/be-discipline-placements/internal/repository"
	"github.com/pesio-ai/be-discipline-placements/internal/repository/memory"
	"github.com/pesio-ai/be-discipline-placements/internal/service"
)

type storeWithPing interface {
	repository.Store
	Ping(ctx context.Context) error
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting DAEP Placements Service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Service.Name,
		ServiceVersion: cfg.Service.Version,
		Environment:    cfg.Service.Environment,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
		BatchTimeout:   cfg.Telemetry.BatchTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize telemetry")
	}

	// Initialize store
	store, closeStore := openStore(ctx, cfg, log)
	defer closeStore()

	// Chain templates
	eval, err := chaintemplate.NewEvaluator()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build CEL environment")
	}
	resolver := chaintemplate.NewResolver(eval, chaintemplate.StepTemplate{
		Role:  cfg.Placement.FallbackRole,
		Label: cfg.Placement.FallbackLabel,
	}, log)
	if err := resolver.Load(cfg.Placement.ChainTemplatesPath); err != nil {
		log.Fatal().Err(err).Str("path", cfg.Placement.ChainTemplatesPath).Msg("Failed to load chain templates")
	}

	// Notifications
	var events service.EventPublisher = client.NopPublisher{}
	if cfg.NATS.URL != "" {
		pub, closeNATS, err := client.ConnectNotifications(ctx, client.NATSConfig{
			URL:            cfg.NATS.URL,
			StreamName:     cfg.NATS.StreamName,
			SubjectPrefix:  cfg.NATS.SubjectPrefix,
			ConnectionName: cfg.NATS.ConnectionName,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer closeNATS()
		events = pub
	} else {
		log.Warn().Msg("NATS_URL not set, notifications disabled")
	}

	// Initialize services
	deps := service.Deps{
		Store:            store,
		Templates:        resolver,
		Events:           events,
		Tracker:          tel,
		Log:              log,
		DAEPConsequences: cfg.Placement.DAEPConsequences,
		ApproverRoles:    cfg.Placement.ApproverRoles,
	}
	svc := handler.Services{
		Chains:     service.NewApprovalChainService(deps),
		Compliance: service.NewComplianceService(deps),
		Incidents:  service.NewIncidentService(deps),
	}

	// HTTP server
	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	var h http.Handler = handler.NewHTTPHandler(svc, store, log).Routes()
	h = limiter.Middleware(h)
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)
	h = middleware.CORS(cfg.Server.CORSOrigins)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.RequestID(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// gRPC server
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		middleware.UnaryRequestID,
		middleware.UnaryLogger(&log.Logger),
		middleware.UnaryRecovery(&log.Logger),
	))
	handler.NewGRPCHandler(svc, log).Register(grpcServer)
	healthServer := health.NewServer()
	healthServer.SetServingStatus(handler.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	if cfg.GRPC.Reflection {
		reflection.Register(grpcServer)
	}

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info().Int("port", cfg.GRPC.Port).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		limiter.Cleanup(gctx, time.Minute)
		return nil
	})
	if cfg.Placement.WatchTemplates {
		g.Go(func() error {
			if err := resolver.Watch(gctx, cfg.Placement.ChainTemplatesPath); err != nil {
				log.Error().Err(err).Msg("Chain template watcher stopped")
			}
			return nil
		})
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		grpcServer.GracefulStop()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Telemetry shutdown failed")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server exited with error")
	}
	log.Info().Msg("Server stopped")
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (storeWithPing, func()) {
	if cfg.Database.Driver == "memory" {
		log.Warn().Msg("Using in-memory store, state is lost on restart")
		return memory.New(), func() {}
	}

	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	log.Info().Msg("Database connection established")

	if cfg.Database.AutoMigrate {
		if err := repository.Migrate(ctx, db); err != nil {
			db.Close()
			log.Fatal().Err(err).Msg("Failed to apply schema")
		}
		log.Info().Msg("Schema migrated")
	}
	return repository.NewPostgresStore(db), db.Close
}
