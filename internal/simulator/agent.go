package simulator

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Write timeout
	writeTimeout = 10 * time.Second

	// Reconnect backoff
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second
)

// counters are shared by every simulated agent of one run
type counters struct {
	heartbeats    atomic.Int64
	statusChanges atomic.Int64
	assignments   atomic.Int64
	reconnects    atomic.Int64
}

// Agent is one simulated agent console connected to /ws/agent. A silent
// agent registers and then never sends another message, so the server only
// notices it through inactivity.
type Agent struct {
	id     types.AgentID
	silent bool
	cfg    Config
	stats  *counters
	rng    *rand.Rand
	logger zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool // permanently closed, no reconnects
	status    types.PresenceStatus
}

func newAgent(id types.AgentID, silent bool, cfg Config, stats *counters, seed int64, logger zerolog.Logger) *Agent {
	return &Agent{
		id:     id,
		silent: silent,
		cfg:    cfg,
		stats:  stats,
		rng:    rand.New(rand.NewSource(seed)),
		logger: logger.With().Str("agent_id", string(id)).Bool("silent", silent).Logger(),
		status: types.StatusOnline,
	}
}

// Run keeps the agent connected until ctx is cancelled or the server forces a disconnect
func (a *Agent) Run(ctx context.Context) {
	reconnectDelay := initialReconnectDelay

	for {
		if a.isClosed() {
			return
		}
		select {
		case <-ctx.Done():
			a.Close()
			return
		default:
		}

		if err := a.connect(ctx); err != nil {
			a.logger.Debug().Err(err).Dur("retry_in", reconnectDelay).Msg("connection failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			// Exponential backoff
			reconnectDelay *= 2
			if reconnectDelay > maxReconnectDelay {
				reconnectDelay = maxReconnectDelay
			}
			a.stats.reconnects.Add(1)
			continue
		}

		reconnectDelay = initialReconnectDelay
		a.send(types.AgentRegister{Type: types.MsgRegister, AgentID: a.id})
		a.runLoop(ctx)

		a.mu.Lock()
		a.connected = false
		if a.conn != nil {
			a.conn.Close()
			a.conn = nil
		}
		a.mu.Unlock()
	}
}

func (a *Agent) connect(ctx context.Context) error {
	url := a.cfg.BackendURL + "/ws/agent"
	if strings.HasPrefix(url, "http") {
		url = "ws" + strings.TrimPrefix(url, "http")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.conn = conn
	a.connected = true
	a.mu.Unlock()
	return nil
}

// runLoop sends heartbeats and occasional status toggles while reading server messages
func (a *Agent) runLoop(ctx context.Context) {
	heartbeat := time.NewTicker(a.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				return
			}
			a.handleIncoming(message)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			a.Close()
			<-readDone
			return
		case <-readDone:
			return
		case <-heartbeat.C:
			if a.silent {
				continue
			}
			if a.rng.Float64() < a.cfg.BusyToggleProbability {
				a.toggleStatus()
				continue
			}
			a.send(types.AgentHeartbeat{Type: types.MsgHeartbeat, AgentID: a.id, Timestamp: time.Now()})
			a.stats.heartbeats.Add(1)
		}
	}
}

// toggleStatus flips the agent between ONLINE and BUSY
func (a *Agent) toggleStatus() {
	a.mu.Lock()
	next := types.StatusBusy
	if a.status == types.StatusBusy {
		next = types.StatusOnline
	}
	a.status = next
	a.mu.Unlock()

	a.send(types.AgentStatusChange{Type: types.MsgStatusChange, AgentID: a.id, Status: next, Timestamp: time.Now()})
	a.stats.statusChanges.Add(1)
}

func (a *Agent) handleIncoming(message []byte) {
	var msgType struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &msgType); err != nil {
		return
	}

	switch msgType.Type {
	case types.MsgAssigned:
		var msg types.ConversationAssignedMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		a.stats.assignments.Add(1)
		a.logger.Info().Str("conversation_id", msg.ConversationID).Msg("conversation assigned")
	case types.MsgForceDisconnect:
		a.logger.Info().Msg("received force_disconnect")
		a.Close()
	case types.MsgError:
		var msg types.ServerError
		if err := json.Unmarshal(message, &msg); err == nil {
			a.logger.Warn().Str("message", msg.Message).Msg("server rejected message")
		}
	case types.MsgAck:
		// Ignore acks
	}
}

// send writes one JSON message to the websocket
func (a *Agent) send(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to marshal message")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil || !a.connected {
		return
	}
	a.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := a.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		a.logger.Debug().Err(err).Msg("write error")
	}
}

// Close permanently closes the connection and prevents reconnects
func (a *Agent) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
	a.connected = false
}

func (a *Agent) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// IsConnected returns whether the connection is established
func (a *Agent) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}
