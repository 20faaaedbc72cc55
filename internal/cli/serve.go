package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Freeeeeet/visitor_gate/internal/app"
	"github.com/Freeeeeet/visitor_gate/internal/controller"
	"github.com/Freeeeeet/visitor_gate/internal/transport/httpapi"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, Telegram bot and background sweeps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), migrate)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending migrations before start")
	return cmd
}

func runServe(parent context.Context, migrate bool) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting visitor gate",
		zap.String("environment", cfg.Environment),
		zap.String("http_addr", cfg.HTTP.Addr),
	)

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer container.Close()

	if migrate {
		if err := applyMigrations(ctx, container, logger); err != nil {
			return err
		}
	}

	if container.Relay != nil {
		go func() {
			if err := container.Relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Realtime relay stopped", zap.Error(err))
			}
		}()
	}

	if container.Bot != nil {
		botController := controller.NewBotController(container.Bot, container.Users, container.Approvals, logger.Named("bot"))
		if err := botController.RegisterHandlers(ctx); err != nil {
			logger.Warn("Bot commands not registered", zap.Error(err))
		}
		go botController.Start(ctx)
	}

	scheduler := app.NewScheduler(logger.Named("scheduler"), container.Jobs()...)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	handler := httpapi.NewHandler(container.Visits, container.Access, container.Approvals, container.Hub, logger.Named("http"))
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler.Router(cfg.HTTP.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	logger.Info("Visitor gate stopped")
	return nil
}

func applyMigrations(ctx context.Context, container *app.Container, logger *zap.Logger) error {
	migrator, err := app.NewMigrator(container.Pool, logger.Named("migrations"))
	if err != nil {
		return err
	}
	defer migrator.Close()

	return migrator.Run(ctx)
}
