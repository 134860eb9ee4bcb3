package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-shift-reviews/internal/client"
	"github.com/pesio-ai/be-shift-reviews/internal/config"
	"github.com/pesio-ai/be-shift-reviews/internal/database"
	"github.com/pesio-ai/be-shift-reviews/internal/handler"
	"github.com/pesio-ai/be-shift-reviews/internal/logger"
	"github.com/pesio-ai/be-shift-reviews/internal/middleware"
	"github.com/pesio-ai/be-shift-reviews/internal/repository"
	"github.com/pesio-ai/be-shift-reviews/internal/service"
	"github.com/pesio-ai/be-shift-reviews/internal/trigger"
)

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
		Str("environment", cfg.Service.Environment).
		Msg("Starting Shift Review Service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	if cfg.Database.MigrateOnStart {
		if err := database.Migrate(cfg.Database.URL); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
		log.Info().Msg("Database migrations applied")
	}

	db, err := database.New(ctx, database.Config{
		URL:          cfg.Database.URL,
		MaxConns:     cfg.Database.MaxConns,
		MinConns:     cfg.Database.MinConns,
		MaxConnTime:  cfg.Database.MaxConnTime,
		MaxIdleTime:  cfg.Database.MaxIdleTime,
		HealthCheck:  cfg.Database.HealthCheck,
		MaxTxRetries: cfg.Database.MaxTxRetries,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize repositories
	reportRepo := repository.NewReportRepository(db)
	changeRepo := repository.NewChangeRepository(db)
	inboxRepo := repository.NewInboxRepository(db)
	mailRepo := repository.NewMailRepository(db)
	userRepo := repository.NewUserRepository(db)

	// Initialize external clients
	authClient := client.NewAuthProviderClient(cfg.AuthProvider.BaseURL, cfg.AuthProvider.APIKey, cfg.AuthProvider.Timeout)

	events := client.NewNotificationPublisher(nil, log.Logger)
	if cfg.NATS.URL != "" {
		publisher, closeNATS, err := client.ConnectNotificationPublisher(ctx, cfg.NATS.URL, cfg.NATS.Stream, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect notification publisher")
		}
		defer closeNATS()
		events = publisher
		log.Info().Str("stream", cfg.NATS.Stream).Msg("Notification publisher connected")
	}

	// Initialize services
	approvalService := service.NewApprovalService(reportRepo, log.Component("approvals"))
	reportService := service.NewReportService(reportRepo, userRepo, log.Component("reports"))
	queueService := service.NewReviewQueueService(reportRepo, userRepo, log.Component("review_queue"))
	directoryService := service.NewUserDirectoryService(userRepo, log.Component("users"))
	inboxService := service.NewInboxService(inboxRepo, log.Component("inbox"))
	tokenIssuer := service.NewTokenIssuer(reportRepo, mailRepo, service.TokenIssuerConfig{
		ApprovalURL: cfg.App.ApprovalURL,
		SenderName:  cfg.App.SenderName,
	}, log.Component("token_issuer"))
	notificationService := service.NewNotificationService(userRepo, inboxRepo, events, log.Component("notifications"))

	services := handler.Services{
		Approvals: approvalService,
		Reports:   reportService,
		Users:     directoryService,
		Queue:     queueService,
		Inbox:     inboxService,
	}
	jwtManager := middleware.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, 0)

	// Setup HTTP routes
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(chimw.RealIP)
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(chimw.Timeout(cfg.Server.RequestTimeout))
	router.Use(middleware.Authenticate(jwtManager))
	handler.NewHTTPHandler(services, log.Component("http")).Routes(router)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Setup gRPC server
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		middleware.UnaryRequestID,
		middleware.UnaryLogger(log.Component("grpc")),
		middleware.UnaryAuth(jwtManager),
	))
	handler.NewGRPCHandler(services, log.Component("grpc")).Register(grpcServer)
	healthServer := health.NewServer()
	healthServer.SetServingStatus(handler.ReviewServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	// Change dispatcher
	dispatcher := trigger.NewDispatcher(
		changeRepo,
		tokenIssuer,
		notificationService,
		func() *service.IdentityResolver {
			return service.NewIdentityResolver(userRepo, authClient, nil, log.Component("identity"))
		},
		trigger.Config{
			PollInterval: cfg.Triggers.PollInterval,
			BatchSize:    cfg.Triggers.BatchSize,
			Lease:        cfg.Triggers.Lease,
			MaxAttempts:  cfg.Triggers.MaxAttempts,
		},
		log.Component("dispatcher"),
	).WithListener(trigger.NewPGListener(db.Pool(), repository.ChangeChannel, log.Component("listener")))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return dispatcher.Run(gctx)
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		healthServer.Shutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server exited with error")
	}
	log.Info().Msg("Server stopped")
}
