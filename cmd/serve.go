package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"agora/internal/app/chat"
	"agora/internal/app/cluster"
	"agora/internal/app/db"
	"agora/internal/app/notify"
	"agora/internal/app/persist"
	"agora/internal/app/presence"
	"agora/internal/app/storage"
	"agora/internal/configs"
	"agora/internal/handler"
	"agora/internal/pkg/auth/jwt"
	"agora/internal/pkg/logx"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(load func() (*configs.AppConfig, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *configs.AppConfig) error {
	logx.InitGlobalLogger(cfg.LogLevel, cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Bool("cluster", cfg.PubSubURL != "").
		Bool("dead_letter", cfg.DeadLetterBucket != "").
		Dur("idle_timeout", cfg.IdleTimeout).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open persistence: %w", err)
	}
	defer backend.Close()

	if cfg.RoomsFile != "" {
		rooms, err := db.LoadRooms(cfg.RoomsFile)
		if err != nil {
			return err
		}
		if err := db.SeedRooms(ctx, backend, rooms); err != nil {
			return err
		}
		logx.Info("Rooms seeded", "file", cfg.RoomsFile, "count", len(rooms))
	}

	var deadLetter persist.DeadLetter
	archiveCfg := storage.ServiceConfig{
		BucketName:      cfg.DeadLetterBucket,
		Endpoint:        cfg.DeadLetterEndpoint,
		AccessKeyID:     cfg.DeadLetterAccessKeyID,
		SecretAccessKey: cfg.DeadLetterSecretAccessKey,
	}
	if archiveCfg.Enabled() {
		archive, err := storage.NewS3Archive(ctx, archiveCfg)
		if err != nil {
			return fmt.Errorf("failed to initialize dead-letter archive: %w", err)
		}
		deadLetter = archive
	}

	runner := persist.NewRunner(cfg.PersistTimeout, deadLetter)

	hub := chat.NewHub()
	registry := presence.NewRegistry()
	broadcaster := chat.NewBroadcaster(hub, backend, runner, chat.WithLookupTimeout(cfg.LookupTimeout))
	gateway := chat.NewGateway(hub, registry, broadcaster, cfg.IdleTimeout)
	dispatcher := notify.NewDispatcher(registry, hub, backend, runner)

	var (
		bus  cluster.Bus
		node *cluster.Node
	)
	if cfg.PubSubURL != "" {
		bus, err = cluster.Open(ctx, cfg.PubSubURL)
		if err != nil {
			return fmt.Errorf("failed to connect cluster bus: %w", err)
		}
		node = cluster.NewNode(bus, "", registry, broadcaster, dispatcher)
		registry.SetReplicator(node)
		broadcaster.SetRoomRelay(node)
		dispatcher.SetRelay(node)

		if err := node.Start(ctx); err != nil {
			_ = bus.Close()
			return fmt.Errorf("failed to start cluster node: %w", err)
		}
	}

	verifier := jwt.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	deps := &handler.AppDeps{
		Config:        cfg,
		Gateway:       gateway,
		Registry:      registry,
		Dispatcher:    dispatcher,
		Verifier:      verifier,
		Authenticator: jwt.NewAuthenticator(verifier),
	}

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           handler.Router(ctx, deps),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logx.Info(fmt.Sprintf("Agora gateway starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logx.Info("Received shutdown signal. Starting graceful shutdown...")
	case runErr = <-serverErr:
		if runErr != nil {
			logx.Error(runErr, "Server failed")
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Gateway shutdown incomplete")
	}
	if node != nil {
		if err := node.Stop(shutdownCtx); err != nil {
			logx.Error(err, "Cluster node shutdown incomplete")
		}
		if err := bus.Close(); err != nil {
			logx.Error(err, "Failed to close cluster bus")
		}
	}
	if err := runner.Close(shutdownCtx); err != nil {
		logx.Error(err, "Pending persistence tasks were cancelled")
	}

	logx.Info("Server gracefully stopped.")
	return runErr
}
