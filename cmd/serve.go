package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"comfy-relay/server/internal/adapters"
	"comfy-relay/server/internal/config"
	"comfy-relay/server/internal/generators"
	"comfy-relay/server/internal/storage"
	"comfy-relay/server/internal/web"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, restore, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer restore()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := zap.L().Named("main")

	bus := web.NewEventBus(cfg.Relay.BusCapacity)
	comfyui := generators.NewComfyUIClient(cfg.ComfyUIURL(), cfg.ComfyUI.Timeout)

	// one id for the life of the process: prompts submitted under it report
	// their events on the listener's connection
	clientID := uuid.NewString()
	listener := adapters.NewListener(
		adapters.NewWebsocketDialer(),
		bus,
		adapters.StreamURL(cfg.ComfyUIWebsocketURL(), clientID),
		cfg.Relay.ReconnectDelay,
	)
	go listener.Run(ctx)

	var journal web.RecentEvents
	if cfg.Redis.Addr != "" {
		j, err := storage.NewEventJournal(cfg.Redis)
		if err != nil {
			logger.Warn("event journal disabled", zap.Error(err))
		} else {
			defer j.Close()
			sub := bus.Subscribe()
			defer sub.Close()
			go j.Run(ctx, sub.C())
			journal = j
			logger.Info("event journal enabled", zap.String("addr", cfg.Redis.Addr))
		}
	}

	handlers := web.NewHandlers(cfg, comfyui, bus, listener, journal, clientID)
	go handlers.ImageCache().Run(ctx)

	server := &http.Server{
		Addr:         cfg.ServerAddr(),
		Handler:      web.NewRouter(cfg, handlers),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("comfyui", cfg.ComfyUIURL()),
			zap.String("client_id", clientID))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}
