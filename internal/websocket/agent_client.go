package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/metrics"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the agent
	agentWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the agent
	agentPongWait = 30 * time.Second

	// Send pings to agent with this period (must be less than pongWait)
	agentPingPeriod = 20 * time.Second

	// Maximum message size allowed from agent
	agentMaxMessageSize = 4096
)

// AgentClient is the WebSocket connection of one agent console. The agent
// identifies itself with its first register message; every later message is
// attributed to that id.
type AgentClient struct {
	// Set once by readPump before the register request reaches the hub
	agentID types.AgentID

	// The hub this client belongs to
	hub *AgentHub

	// The websocket connection
	conn *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	logger zerolog.Logger

	// done channel to signal client shutdown
	done chan struct{}

	// closeOnce ensures send channel is closed only once
	closeOnce sync.Once
}

// NewAgentClient creates a new AgentClient
func NewAgentClient(hub *AgentHub, conn *websocket.Conn, logger zerolog.Logger) *AgentClient {
	return &AgentClient{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 64),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// readPump pumps messages from the websocket connection to the hub
func (c *AgentClient) readPump() {
	defer func() {
		metrics.Get().RecordWebSocketDisconnect()
		close(c.done)
		if c.agentID != "" {
			select {
			case c.hub.unregister <- c:
			case <-c.hub.done:
			}
		} else {
			c.Close()
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(agentMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(agentPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(agentPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug().Err(err).Str("agent_id", string(c.agentID)).Msg("agent websocket read error")
			}
			break
		}

		metrics.Get().RecordWebSocketMessage()
		c.handleMessage(message)
	}
}

// handleMessage decodes one agent message and hands it to the hub
func (c *AgentClient) handleMessage(message []byte) {
	var msgType struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &msgType); err != nil {
		c.sendError("malformed message")
		return
	}

	switch msgType.Type {
	case types.MsgRegister:
		var reg types.AgentRegister
		if err := json.Unmarshal(message, &reg); err != nil {
			c.sendError("malformed register message")
			return
		}
		id, err := types.ParseAgentID(string(reg.AgentID))
		if err != nil {
			c.sendError(err.Error())
			return
		}
		if c.agentID != "" && c.agentID != id {
			c.sendError("connection already registered as " + string(c.agentID))
			return
		}
		if c.agentID == "" {
			c.agentID = id
			c.logger = c.logger.With().Str("agent_id", string(id)).Logger()
		}
		reg.AgentID = id
		c.forward(&reg)

	case types.MsgHeartbeat:
		var hb types.AgentHeartbeat
		if err := json.Unmarshal(message, &hb); err != nil {
			c.sendError("malformed heartbeat message")
			return
		}
		if c.agentID == "" {
			c.sendError("register before sending heartbeats")
			return
		}
		hb.AgentID = c.agentID
		c.forward(&hb)

	case types.MsgStatusChange:
		var sc types.AgentStatusChange
		if err := json.Unmarshal(message, &sc); err != nil {
			c.sendError("malformed status_change message")
			return
		}
		if c.agentID == "" {
			c.sendError("register before changing status")
			return
		}
		sc.AgentID = c.agentID
		c.forward(&sc)

	default:
		c.logger.Debug().Str("type", msgType.Type).Msg("unknown message type")
		c.sendError("unknown message type " + msgType.Type)
	}
}

// forward queues a decoded message for the hub; it is dropped once the hub has stopped
func (c *AgentClient) forward(msg any) {
	select {
	case c.hub.inbound <- agentRequest{client: c, msg: msg}:
	case <-c.hub.done:
	}
}

func (c *AgentClient) sendError(message string) {
	if data, err := json.Marshal(types.ServerError{Type: types.MsgError, Message: message}); err == nil {
		c.safeSend(data)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *AgentClient) writePump() {
	ticker := time.NewTicker(agentPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(agentWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(agentWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start starts the client's read and write pumps
func (c *AgentClient) Start() {
	go c.writePump()
	go c.readPump()
}

// Close safely closes the client's send channel (idempotent)
func (c *AgentClient) Close() {
	c.closeOnce.Do(func() {
		defer func() {
			recover() // absorb panic if channel was already closed
		}()
		close(c.send)
	})
}

// safeSend attempts to send a message, recovering from panic if channel is closed
func (c *AgentClient) safeSend(data []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			sent = false
		}
	}()

	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}
