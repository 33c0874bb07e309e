package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/devicehub/server/internal/auth"
	"github.com/devicehub/server/internal/confirm"
	"github.com/devicehub/server/internal/dlt"
	"github.com/devicehub/server/internal/events"
	httphandler "github.com/devicehub/server/internal/http"
	"github.com/devicehub/server/internal/http/handlers"
	"github.com/devicehub/server/internal/middleware"
	"github.com/devicehub/server/internal/proof"
	"github.com/devicehub/server/internal/repo"
	"github.com/devicehub/server/internal/store"
	"github.com/devicehub/server/internal/trade"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	e, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer e.db.Close()
	cfg, logger := e.cfg, e.logger

	// Action events go to Kafka when a broker is configured
	var publisher events.Publisher = events.NewLogPublisher(logger)
	if cfg.KafkaBroker != "" {
		kp, err := events.NewKafkaPublisher(cfg.KafkaBroker, cfg.KafkaTopic, logger)
		if err != nil {
			return err
		}
		publisher = kp
	}
	defer publisher.Close()

	// Initialize repositories and auth services
	userRepo := repo.NewUserRepo(e.db)
	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.AccessTokenTTL)
	authService := auth.NewAuthService(jwtService, userRepo)

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	var roles handlers.RoleChecker
	if cfg.DLTEnabled() {
		client := dlt.NewClient(cfg.DLTAPIURL, cfg.DLTToken, cfg.DLTRate, logger)
		roles = client

		publisherDone := make(chan struct{})
		go func() {
			defer close(publisherDone)
			proof.NewPublisher(repo.NewProofRepo(e.db), client, cfg.ProofInterval, logger).Run(bgCtx)
		}()
		defer func() { <-publisherDone }()
		defer stopBackground()
	} else {
		logger.Info("DLT_API_URL not set, transfer proofs stay pending")
	}

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService, roles, logger)
	defer authHandler.Close()

	// 120 trading actions per minute per user
	actionLimiter := middleware.NewRateLimiter(time.Minute, 120)
	defer actionLimiter.Close()

	st := store.New(e.db, cfg.DBDriver, logger)
	router := httphandler.NewRouter(httphandler.Handlers{
		Health:        handlers.NewHealthHandler(e.db),
		Auth:          authHandler,
		Actions:       handlers.NewActionHandler(st, trade.NewEngine(logger), confirm.NewEngine(logger), publisher, logger),
		ActionLimiter: actionLimiter,
	}, jwtService, userRepo, logger)

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Port).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return err
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("server exited")
	return nil
}
