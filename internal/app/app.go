package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/avelkov/concierge-server/internal/auth"
	"github.com/avelkov/concierge-server/internal/config"
	"github.com/avelkov/concierge-server/internal/core"
	"github.com/avelkov/concierge-server/internal/presence"
	"github.com/avelkov/concierge-server/internal/store"
	"github.com/avelkov/concierge-server/internal/store/sqlite"
	transporthttp "github.com/avelkov/concierge-server/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	store           store.Store
	presence        presence.Tracker
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}
	authService := auth.NewService(st, jwtConfig)

	var tracker presence.Tracker = presence.Disabled{}
	if cfg.RedisAddr != "" {
		redisTracker, err := presence.NewRedisTracker(ctx, cfg.RedisAddr, cfg.PresenceTTL)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("init presence tracker: %w", err)
		}
		tracker = redisTracker
		logger.Info().Str("redis_addr", cfg.RedisAddr).Msg("presence tracker enabled")
	}

	registry := core.NewRegistry()
	broadcaster := core.NewBroadcaster(registry, logger)
	chat := core.NewChatService(st, registry, broadcaster, logger)

	server := transporthttp.NewServer(chat, authService, st, tracker, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		presence:        tracker,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes the database and other resources.
func (a *App) cleanup() {
	if a.presence != nil {
		if err := a.presence.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close presence tracker")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
