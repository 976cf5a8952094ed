package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/simulator"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// CLI flags
	var (
		controlPort = flag.String("control-port", "8081", "Control API port")
		backendURL  = flag.String("backend-url", "http://localhost:8080", "Presence engine URL")
		agentCount  = flag.Int("agents", 100, "Agents started by default")
		maxAgents   = flag.Int("max-agents", 2000, "Upper bound for a single start request")
		autoStart   = flag.Bool("auto-start", false, "Automatically start simulation")
		heartbeat   = flag.Duration("heartbeat", 30*time.Second, "Heartbeat interval")
		busyToggle  = flag.Float64("busy-toggle", 0.1, "Chance per heartbeat tick to toggle ONLINE/BUSY")
		silent      = flag.Float64("silent", 0.1, "Fraction of agents that go silent after registering")
		connectRate = flag.Float64("connect-rate", 50, "New connections per second")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	// Setup logger
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Str("service", "agentsim").
		Logger()

	if *silent < 0 || *silent > 1 || *busyToggle < 0 || *busyToggle > 1 {
		logger.Fatal().Msg("-silent and -busy-toggle must be between 0 and 1")
	}

	sim := simulator.New(simulator.Config{
		BackendURL:            *backendURL,
		HeartbeatInterval:     *heartbeat,
		BusyToggleProbability: *busyToggle,
		SilentFraction:        *silent,
		ConnectRate:           *connectRate,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := simulator.NewAPI(sim, *agentCount, *maxAgents, logger)
	go func() {
		if err := api.Serve(ctx, ":"+*controlPort); err != nil {
			logger.Error().Err(err).Msg("control API stopped")
			stop()
		}
	}()

	if *autoStart {
		logger.Info().Int("agents", *agentCount).Msg("auto-starting simulation")
		if err := sim.Start(*agentCount); err != nil {
			logger.Error().Err(err).Msg("failed to auto-start simulation")
		}
	}

	logger.Info().
		Str("control_api", fmt.Sprintf("http://localhost:%s", *controlPort)).
		Str("backend_url", *backendURL).
		Msg("agentsim ready")

	<-ctx.Done()
	logger.Info().Msg("shutting down agentsim")
	if err := sim.Stop(); err != nil && !errors.Is(err, simulator.ErrNotRunning) {
		logger.Error().Err(err).Msg("failed to stop simulation")
	}
}
