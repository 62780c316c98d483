package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"roomchat/internal/api"
	"roomchat/internal/config"
	"roomchat/internal/limiter"
	"roomchat/internal/registry"
	"roomchat/internal/room"
	"roomchat/internal/storage"
	"roomchat/internal/websocket"
)

// Application coordinates all components. Initialization order:
// storage, limiter service, room registry, transport handlers, HTTP
// server. Shutdown runs in reverse.
type Application struct {
	config     *config.Config
	log        zerolog.Logger
	store      *storage.Store
	limiters   *limiter.Service
	rooms      *registry.Registry
	apiServer  *api.Server
	httpServer *http.Server

	janitorStop chan struct{}
}

// NewApplication wires components in dependency order.
func NewApplication(cfg *config.Config, log zerolog.Logger) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := storage.NewStore(cfg.Database.Path, log.With().Str("component", "storage").Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	limiters := limiter.NewService(cfg.Limiter.IdleTimeout.Std())

	limiterLog := log.With().Str("component", "limiter").Logger()
	limiterFactory := func(identity string, reportError func(error)) (room.LimiterClient, error) {
		resolve := func() (limiter.Stub, error) {
			return limiters.Stub(identity), nil
		}
		return limiter.NewClient(resolve, reportError, limiterLog)
	}

	roomLog := log.With().Str("component", "room").Logger()
	rooms := registry.New(func(name string) *room.Room {
		return room.New(name, store, limiterFactory, cfg.Room.ReplayLimit, roomLog)
	}, cfg.Room.IdleTimeout.Std(), log.With().Str("component", "registry").Logger())

	wsHandler := websocket.NewHandler(rooms, websocket.Options{
		PingInterval: cfg.WebSocket.PingInterval.Std(),
		ReadTimeout:  cfg.WebSocket.ReadTimeout.Std(),
		WriteTimeout: cfg.WebSocket.WriteTimeout.Std(),
		BufferSize:   cfg.WebSocket.BufferSize,
	}, log.With().Str("component", "websocket").Logger())

	apiServer := api.NewServer(wsHandler, rooms, store, log.With().Str("component", "api").Logger())

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	// Limiter RPC surface for split deployments; the in-process wiring
	// above does not go through it.
	mux.Handle("/internal/limiter/", http.StripPrefix("/internal/limiter", limiter.NewHandler(limiters)))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout.Std(),
		WriteTimeout: cfg.HTTP.WriteTimeout.Std(),
	}

	return &Application{
		config:      cfg,
		log:         log,
		store:       store,
		limiters:    limiters,
		rooms:       rooms,
		apiServer:   apiServer,
		httpServer:  httpServer,
		janitorStop: make(chan struct{}),
	}, nil
}

// Start launches the janitor and the HTTP server.
func (app *Application) Start(ctx context.Context) error {
	app.log.Info().Str("addr", app.httpServer.Addr).Msg("starting roomchat")

	go app.janitor()

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		app.log.Info().Msg("roomchat started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// janitor periodically reclaims idle rooms, idle limiter identities,
// stale checkpoints, and idle throttle buckets.
func (app *Application) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			evicted := app.rooms.Prune()
			pruned := app.limiters.Prune()
			app.apiServer.CleanupThrottle(10 * time.Minute)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := app.store.PruneCheckpoints(ctx, app.config.Room.CheckpointMaxAge.Std()); err != nil {
				app.log.Warn().Err(err).Msg("checkpoint pruning failed")
			}
			cancel()
			if evicted > 0 || pruned > 0 {
				app.log.Debug().Int("rooms", evicted).Int("identities", pruned).Msg("janitor pass")
			}
		case <-app.janitorStop:
			return
		}
	}
}

// Stop shuts components down in reverse dependency order.
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info().Msg("shutting down roomchat")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	close(app.janitorStop)

	if err := app.store.Close(); err != nil {
		app.log.Error().Err(err).Msg("storage shutdown error")
	}

	app.log.Info().Msg("roomchat shutdown complete")
	return nil
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Console {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("ROOMCHAT_CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := newLogger(cfg.Log)

	app, err := NewApplication(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	appErrCh := make(chan error, 1)
	go func() {
		if err := app.Start(ctx); err != nil {
			appErrCh <- err
		}
	}()

	select {
	case err := <-appErrCh:
		return fmt.Errorf("application error: %w", err)
	case sig := <-signalCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown requested")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		return app.Stop(shutdownCtx)
	}
}
