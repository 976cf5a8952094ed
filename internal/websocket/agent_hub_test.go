package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/cache"
	"github.com/dennisdiepolder/monti/presence/internal/ingestion"
	"github.com/dennisdiepolder/monti/presence/internal/presence"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type agentEnv struct {
	hub     *AgentHub
	tracker *presence.Tracker
	server  *httptest.Server
}

func newAgentEnv(t *testing.T) *agentEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	tracker := presence.NewTracker(cache.NewMemoryStore(), presence.Options{}, zerolog.Nop())
	hub := NewAgentHub(ingestion.NewDefaultProcessor(tracker, time.Second, zerolog.Nop()), zerolog.Nop())
	go hub.Run(ctx)

	server := httptest.NewServer(NewAgentHandler(hub, zerolog.Nop()))
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return &agentEnv{hub: hub, tracker: tracker, server: server}
}

func (e *agentEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON[T any](t *testing.T, conn *websocket.Conn) T {
	t.Helper()
	var v T
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&v))
	return v
}

func register(t *testing.T, conn *websocket.Conn, id types.AgentID) types.ServerAck {
	t.Helper()
	require.NoError(t, conn.WriteJSON(types.AgentRegister{Type: types.MsgRegister, AgentID: id}))
	return readJSON[types.ServerAck](t, conn)
}

func TestAgentHub_RegisterHeartbeatStatus(t *testing.T) {
	env := newAgentEnv(t)
	conn := env.dial(t)
	id := types.NewAgentID()
	ctx := context.Background()

	ack := register(t, conn, id)
	assert.Equal(t, types.MsgAck, ack.Type)
	assert.Equal(t, id, ack.AgentID)
	assert.Equal(t, types.StatusOnline, ack.Status)
	assert.Equal(t, 1, env.hub.AgentCount())

	online, err := env.tracker.ListOnline(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.AgentID{id}, online)

	require.NoError(t, conn.WriteJSON(types.AgentStatusChange{Type: types.MsgStatusChange, Status: types.StatusBusy}))
	ack = readJSON[types.ServerAck](t, conn)
	assert.Equal(t, types.StatusBusy, ack.Status)

	require.NoError(t, conn.WriteJSON(types.AgentHeartbeat{Type: types.MsgHeartbeat}))
	ack = readJSON[types.ServerAck](t, conn)
	assert.Equal(t, types.StatusBusy, ack.Status)

	busy, err := env.tracker.ListBusy(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.AgentID{id}, busy)
}

func TestAgentHub_RequiresRegistration(t *testing.T) {
	env := newAgentEnv(t)
	conn := env.dial(t)

	require.NoError(t, conn.WriteJSON(types.AgentHeartbeat{Type: types.MsgHeartbeat, AgentID: types.NewAgentID()}))
	msg := readJSON[types.ServerError](t, conn)
	assert.Equal(t, types.MsgError, msg.Type)
	assert.Equal(t, 0, env.hub.AgentCount())
}

func TestAgentHub_RejectsInvalidInput(t *testing.T) {
	env := newAgentEnv(t)
	conn := env.dial(t)

	require.NoError(t, conn.WriteJSON(types.AgentRegister{Type: types.MsgRegister, AgentID: "not-a-uuid"}))
	assert.Equal(t, types.MsgError, readJSON[types.ServerError](t, conn).Type)

	register(t, conn, types.NewAgentID())

	require.NoError(t, conn.WriteJSON(types.AgentStatusChange{Type: types.MsgStatusChange, Status: "LUNCH"}))
	assert.Equal(t, types.MsgError, readJSON[types.ServerError](t, conn).Type)

	require.NoError(t, conn.WriteJSON(types.AgentRegister{Type: types.MsgRegister, AgentID: types.NewAgentID()}))
	assert.Equal(t, types.MsgError, readJSON[types.ServerError](t, conn).Type)
	assert.Equal(t, 1, env.hub.AgentCount())
}

func TestAgentHub_DisconnectMarksOffline(t *testing.T) {
	env := newAgentEnv(t)
	conn := env.dial(t)
	id := types.NewAgentID()
	register(t, conn, id)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		status, err := env.tracker.GetStatus(context.Background(), id)
		return err == nil && status == types.StatusOffline && env.hub.AgentCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAgentHub_ReconnectReplacesConnection(t *testing.T) {
	env := newAgentEnv(t)
	id := types.NewAgentID()

	first := env.dial(t)
	register(t, first, id)

	second := env.dial(t)
	register(t, second, id)

	// the replaced connection closes without taking the agent offline
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	require.Error(t, err)

	time.Sleep(50 * time.Millisecond)
	status, err := env.tracker.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOnline, status)
	assert.Equal(t, 1, env.hub.AgentCount())
}

func TestAgentHub_NotifyAssigned(t *testing.T) {
	env := newAgentEnv(t)
	conn := env.dial(t)
	id := types.NewAgentID()
	register(t, conn, id)

	err := env.hub.NotifyAssigned(context.Background(), types.AgentAssigned{
		Type:           types.EventAgentAssigned,
		ConversationID: "conv-1",
		AgentID:        id,
		Strategy:       types.StrategyWorkloadBalanced,
	})
	require.NoError(t, err)

	msg := readJSON[types.ConversationAssignedMsg](t, conn)
	assert.Equal(t, types.MsgAssigned, msg.Type)
	assert.Equal(t, "conv-1", msg.ConversationID)
	assert.Equal(t, id, msg.AgentID)

	// unknown agents are ignored
	require.NoError(t, env.hub.NotifyAssigned(context.Background(), types.AgentAssigned{AgentID: types.NewAgentID()}))
}

func TestAgentHub_ForceDisconnect(t *testing.T) {
	env := newAgentEnv(t)
	conn := env.dial(t)
	id := types.NewAgentID()
	register(t, conn, id)

	assert.True(t, env.hub.ForceDisconnect(id))
	msg := readJSON[types.ForceDisconnect](t, conn)
	assert.Equal(t, types.MsgForceDisconnect, msg.Type)

	status, err := env.tracker.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOffline, status)
	assert.Equal(t, 0, env.hub.AgentCount())

	assert.False(t, env.hub.ForceDisconnect(types.NewAgentID()))
}
