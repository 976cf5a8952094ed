// Package simulator drives simulated agent consoles against the presence
// engine's agent websocket.
package simulator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	// ErrAlreadyRunning is returned by Start while a simulation is active
	ErrAlreadyRunning = errors.New("simulation already running")

	// ErrNotRunning is returned by Stop when nothing is running
	ErrNotRunning = errors.New("simulation not running")
)

// Config tunes the simulated agents
type Config struct {
	BackendURL            string
	HeartbeatInterval     time.Duration
	BusyToggleProbability float64 // chance per heartbeat tick to flip ONLINE/BUSY
	SilentFraction        float64 // share of agents that stop sending after registering
	ConnectRate           float64 // new connections per second
	Seed                  int64
}

// Status reports the current simulation
type Status struct {
	Running       bool       `json:"running"`
	Agents        int        `json:"agents"`
	Silent        int        `json:"silent"`
	Connected     int        `json:"connected"`
	Heartbeats    int64      `json:"heartbeats"`
	StatusChanges int64      `json:"statusChanges"`
	Assignments   int64      `json:"assignments"`
	Reconnects    int64      `json:"reconnects"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
}

// Simulator starts and stops batches of simulated agents
type Simulator struct {
	cfg    Config
	logger zerolog.Logger

	mu        sync.Mutex
	agents    []*Agent
	stats     *counters
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt *time.Time
}

// New creates a simulator
func New(cfg Config, logger zerolog.Logger) *Simulator {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.ConnectRate <= 0 {
		cfg.ConnectRate = 50
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Simulator{
		cfg:    cfg,
		stats:  &counters{},
		logger: logger.With().Str("component", "simulator").Logger(),
	}
}

// Start connects count agents, paced by the configured connect rate. The
// first count*SilentFraction agents are silent.
func (s *Simulator) Start(count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stats = &counters{}
	now := time.Now()
	s.startedAt = &now

	silent := int(float64(count) * s.cfg.SilentFraction)
	s.agents = make([]*Agent, 0, count)
	for i := 0; i < count; i++ {
		s.agents = append(s.agents, newAgent(types.NewAgentID(), i < silent, s.cfg, s.stats, s.cfg.Seed+int64(i), s.logger))
	}

	limiter := rate.NewLimiter(rate.Limit(s.cfg.ConnectRate), 1)
	agents := s.agents
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for _, a := range agents {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			s.wg.Add(1)
			go func(a *Agent) {
				defer s.wg.Done()
				a.Run(ctx)
			}(a)
		}
	}()

	s.logger.Info().
		Int("agents", count).
		Int("silent", silent).
		Float64("connect_rate", s.cfg.ConnectRate).
		Msg("simulation started")
	return nil
}

// Stop disconnects every agent and waits for their goroutines
func (s *Simulator) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.cancel()
	s.cancel = nil
	s.startedAt = nil
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("simulation stopped")
	return nil
}

// Status returns a snapshot of the running simulation
func (s *Simulator) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:       s.cancel != nil,
		Agents:        len(s.agents),
		Heartbeats:    s.stats.heartbeats.Load(),
		StatusChanges: s.stats.statusChanges.Load(),
		Assignments:   s.stats.assignments.Load(),
		Reconnects:    s.stats.reconnects.Load(),
		StartedAt:     s.startedAt,
	}
	for _, a := range s.agents {
		if a.silent {
			st.Silent++
		}
		if a.IsConnected() {
			st.Connected++
		}
	}
	return st
}

// AgentIDs returns the ids of the current batch
func (s *Simulator) AgentIDs() []types.AgentID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]types.AgentID, len(s.agents))
	for i, a := range s.agents {
		ids[i] = a.id
	}
	return ids
}
