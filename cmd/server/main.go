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

	"github.com/dennisdiepolder/monti/presence/internal/aggregator"
	"github.com/dennisdiepolder/monti/presence/internal/alerts"
	"github.com/dennisdiepolder/monti/presence/internal/api"
	"github.com/dennisdiepolder/monti/presence/internal/assignment"
	"github.com/dennisdiepolder/monti/presence/internal/cache"
	"github.com/dennisdiepolder/monti/presence/internal/config"
	"github.com/dennisdiepolder/monti/presence/internal/event"
	"github.com/dennisdiepolder/monti/presence/internal/ingestion"
	"github.com/dennisdiepolder/monti/presence/internal/metrics"
	"github.com/dennisdiepolder/monti/presence/internal/presence"
	"github.com/dennisdiepolder/monti/presence/internal/routing"
	"github.com/dennisdiepolder/monti/presence/internal/storage"
	"github.com/dennisdiepolder/monti/presence/internal/sweeper"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/dennisdiepolder/monti/presence/internal/websocket"
	"github.com/dennisdiepolder/monti/presence/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("log_level", cfg.LogLevel).
		Str("presence_backend", cfg.Presence.Backend).
		Dur("record_ttl", cfg.Presence.RecordTTL()).
		Msg("starting presence engine")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Shared presence cache
	presenceStore, err := newPresenceStore(ctx, cfg, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open presence store")
	}
	defer presenceStore.Close()

	// Conversations and agent profiles
	repo, err := storage.NewStore(ctx, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage")
	}
	defer repo.Close()

	bus := event.NewBus(log.Logger)

	tracker := presence.NewTracker(presenceStore, trackerOptions(cfg, bus), log.Logger)

	orchestrator := assignment.NewOrchestrator(repo, repo, tracker, routing.NewSelector(), assignment.Options{
		DefaultMaxWaitSeconds: int(cfg.Presence.DefaultMaxWait / time.Second),
		DefaultMaxChats:       cfg.Presence.DefaultMaxChats,
		OnlineWindow:          cfg.Presence.OfflineThreshold,
		Publisher:             bus,
	}, log.Logger)

	// Websocket hubs
	hub := websocket.NewHub(log.Logger)
	processor := ingestion.NewDefaultProcessor(tracker, cfg.Presence.StoreTimeout, log.Logger)
	agentHub := websocket.NewAgentHub(processor, log.Logger)

	bus.Subscribe(types.EventAgentAssigned, agentHub.NotifyAssigned)
	bus.Subscribe(event.Wildcard, hub.PublishEvent)

	snapshots := aggregator.NewAggregator(tracker, hub, cfg.Presence.SnapshotInterval, log.Logger).
		WithAlerts(tracker, alerts.Thresholds{
			Late:    cfg.Presence.AwayThreshold,
			Missing: cfg.Presence.OfflineThreshold,
		})

	r := newRouter(cfg, routerDeps{
		tracker:      tracker,
		orchestrator: orchestrator,
		repo:         repo,
		hub:          hub,
		agentHub:     agentHub,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { hub.Run(gctx); return nil })
	g.Go(func() error { agentHub.Run(gctx); return nil })
	g.Go(func() error { snapshots.Start(gctx); return nil })

	if cfg.Presence.SweepEnabled {
		sw := sweeper.New(tracker, sweeper.Config{
			Interval:         cfg.Presence.SweepInterval,
			AwayThreshold:    cfg.Presence.AwayThreshold,
			OfflineThreshold: cfg.Presence.OfflineThreshold,
		}, nil, log.Logger)
		g.Go(func() error { sw.Start(gctx); return nil })
	} else {
		log.Info().Msg("inactivity sweeper disabled")
	}

	g.Go(func() error {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		return
	}
	log.Info().Msg("server stopped")
}

// trackerOptions keeps presence records alive until the offline threshold so
// the sweeper can demote idle agents to AWAY before they lapse
func trackerOptions(cfg *config.Config, publisher event.Publisher) presence.Options {
	return presence.Options{
		TTL:          cfg.Presence.TTL,
		OfflineAfter: cfg.Presence.OfflineThreshold,
		KeyPrefix:    cfg.Presence.KeyPrefix,
		Publisher:    publisher,
	}
}

// newPresenceStore opens the configured presence cache backend
func newPresenceStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (cache.Store, error) {
	switch cfg.Presence.Backend {
	case config.BackendRedis:
		return cache.DialRedis(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Timeout:  cfg.Presence.StoreTimeout,
		}, logger)
	default:
		logger.Info().Msg("using in-process presence store; presence is not shared between instances")
		return cache.NewMemoryStore(), nil
	}
}

type routerDeps struct {
	tracker      *presence.Tracker
	orchestrator api.Assigner
	repo         storage.Store
	hub          *websocket.Hub
	agentHub     *websocket.AgentHub
}

// newRouter builds the HTTP routes
func newRouter(cfg *config.Config, deps routerDeps) chi.Router {
	r := chi.NewRouter()

	// Add middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health", healthHandler)
	r.Get("/metrics", metrics.Get().Handler())

	r.Route("/api", func(r chi.Router) {
		api.NewPresenceHandler(deps.tracker, cfg.Presence.AwayThreshold, log.Logger).Routes(r)
		api.NewAssignmentHandler(deps.orchestrator, log.Logger).Routes(r)
		api.NewAgentActionsHandler(deps.agentHub, log.Logger).Routes(r)
	})

	// Internal routes for the chat service and the agent simulator
	r.Route("/internal", func(r chi.Router) {
		api.NewConversationHandler(deps.repo, log.Logger).Routes(r)
		api.NewRosterHandler(deps.repo, cfg.Presence.DefaultMaxChats, log.Logger).Routes(r)
	})

	r.Get("/ws", websocket.NewHandler(deps.hub, cfg, log.Logger).ServeHTTP)
	r.Get("/ws/agent", websocket.NewAgentHandler(deps.agentHub, log.Logger).ServeHTTP)

	return r
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"presence-engine"}`)
}
