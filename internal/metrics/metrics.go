package metrics

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/types"
)

// Metrics holds all application metrics
type Metrics struct {
	mu sync.RWMutex

	// Presence metrics
	statusChangesTotal map[types.PresenceStatus]int64
	HeartbeatsTotal    int64
	StoreErrorsTotal   int64
	SelfHealPrunes     int64

	// Sweep metrics
	SweepRunsTotal    int64
	SweepSkippedTotal int64
	SweepAwayTotal    int64
	SweepOfflineTotal int64
	SweepErrorsTotal  int64
	lastSweepDuration time.Duration

	// Assignment metrics
	assignmentsTotal  map[types.AssignmentStrategy]int64
	assignmentsFailed map[string]int64 // failure kind -> count

	// Presence gauges (updated by the snapshot loop)
	onlineAgents    int
	availableAgents int
	busyAgents      int

	// WebSocket metrics
	WebSocketConnectionsTotal    int64
	WebSocketDisconnectionsTotal int64
	WebSocketMessagesTotal       int64
	activeConnections            int64
	AgentConnectsTotal           int64
	AgentDisconnectsTotal        int64

	// HTTP metrics
	httpRequestsTotal    map[string]map[int]int64 // endpoint -> status -> count
	httpRequestDurations map[string][]float64     // endpoint -> durations

	// Timing
	startTime time.Time
}

// Global metrics instance
var instance *Metrics
var once sync.Once

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = New()
	})
	return instance
}

// New creates an independent metrics registry (used by tests)
func New() *Metrics {
	return &Metrics{
		statusChangesTotal:   make(map[types.PresenceStatus]int64),
		assignmentsTotal:     make(map[types.AssignmentStrategy]int64),
		assignmentsFailed:    make(map[string]int64),
		httpRequestsTotal:    make(map[string]map[int]int64),
		httpRequestDurations: make(map[string][]float64),
		startTime:            time.Now(),
	}
}

// RecordStatusChange counts a status write
func (m *Metrics) RecordStatusChange(status types.PresenceStatus) {
	m.mu.Lock()
	m.statusChangesTotal[status]++
	m.mu.Unlock()
}

// RecordHeartbeat increments the heartbeat counter
func (m *Metrics) RecordHeartbeat() {
	m.mu.Lock()
	m.HeartbeatsTotal++
	m.mu.Unlock()
}

// RecordStoreError increments the presence store error counter
func (m *Metrics) RecordStoreError() {
	m.mu.Lock()
	m.StoreErrorsTotal++
	m.mu.Unlock()
}

// RecordSelfHeal counts stale set members pruned on read
func (m *Metrics) RecordSelfHeal(pruned int) {
	m.mu.Lock()
	m.SelfHealPrunes += int64(pruned)
	m.mu.Unlock()
}

// RecordSweep records the outcome of one sweep run
func (m *Metrics) RecordSweep(duration time.Duration, away, offline, errs int) {
	m.mu.Lock()
	m.SweepRunsTotal++
	m.SweepAwayTotal += int64(away)
	m.SweepOfflineTotal += int64(offline)
	m.SweepErrorsTotal += int64(errs)
	m.lastSweepDuration = duration
	m.mu.Unlock()
}

// RecordSweepSkipped counts ticks skipped because a sweep was still running
func (m *Metrics) RecordSweepSkipped() {
	m.mu.Lock()
	m.SweepSkippedTotal++
	m.mu.Unlock()
}

// RecordAssignment counts a successful assignment
func (m *Metrics) RecordAssignment(strategy types.AssignmentStrategy) {
	m.mu.Lock()
	m.assignmentsTotal[strategy]++
	m.mu.Unlock()
}

// RecordAssignmentFailure counts a failed assignment by failure kind
func (m *Metrics) RecordAssignmentFailure(kind string) {
	m.mu.Lock()
	m.assignmentsFailed[kind]++
	m.mu.Unlock()
}

// UpdatePresenceStats updates the presence gauges
func (m *Metrics) UpdatePresenceStats(online, available, busy int) {
	m.mu.Lock()
	m.onlineAgents = online
	m.availableAgents = available
	m.busyAgents = busy
	m.mu.Unlock()
}

// RecordWebSocketConnect increments connection counters
func (m *Metrics) RecordWebSocketConnect() {
	m.mu.Lock()
	m.WebSocketConnectionsTotal++
	m.activeConnections++
	m.mu.Unlock()
}

// RecordWebSocketDisconnect increments disconnection counter
func (m *Metrics) RecordWebSocketDisconnect() {
	m.mu.Lock()
	m.WebSocketDisconnectionsTotal++
	m.activeConnections--
	m.mu.Unlock()
}

// RecordWebSocketMessage increments message counter
func (m *Metrics) RecordWebSocketMessage() {
	m.mu.Lock()
	m.WebSocketMessagesTotal++
	m.mu.Unlock()
}

// RecordAgentConnect increments the agent connection counter
func (m *Metrics) RecordAgentConnect() {
	m.mu.Lock()
	m.AgentConnectsTotal++
	m.mu.Unlock()
}

// RecordAgentDisconnect increments the agent disconnection counter
func (m *Metrics) RecordAgentDisconnect() {
	m.mu.Lock()
	m.AgentDisconnectsTotal++
	m.mu.Unlock()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint string, statusCode int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.httpRequestsTotal[endpoint] == nil {
		m.httpRequestsTotal[endpoint] = make(map[int]int64)
	}
	m.httpRequestsTotal[endpoint][statusCode]++

	// Keep last 100 durations for percentile calculation
	if len(m.httpRequestDurations[endpoint]) >= 100 {
		m.httpRequestDurations[endpoint] = m.httpRequestDurations[endpoint][1:]
	}
	m.httpRequestDurations[endpoint] = append(m.httpRequestDurations[endpoint], duration.Seconds())
}

// GetActiveConnections returns current WebSocket connections
func (m *Metrics) GetActiveConnections() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeConnections
}

// AssignmentFailures returns the failure count for a kind
func (m *Metrics) AssignmentFailures(kind string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.assignmentsFailed[kind]
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		defer m.mu.RUnlock()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		// Helper to write metric
		write := func(name string, value interface{}, labels ...string) {
			labelStr := ""
			if len(labels) > 0 {
				labelStr = "{"
				for i := 0; i < len(labels); i += 2 {
					if i > 0 {
						labelStr += ","
					}
					labelStr += labels[i] + "=\"" + labels[i+1] + "\""
				}
				labelStr += "}"
			}

			switch v := value.(type) {
			case int:
				w.Write([]byte(name + labelStr + " " + strconv.Itoa(v) + "\n"))
			case int64:
				w.Write([]byte(name + labelStr + " " + strconv.FormatInt(v, 10) + "\n"))
			case float64:
				w.Write([]byte(name + labelStr + " " + strconv.FormatFloat(v, 'f', 6, 64) + "\n"))
			}
		}

		write("presence_uptime_seconds", time.Since(m.startTime).Seconds())

		for _, status := range types.AllStatuses {
			write("presence_status_changes_total", m.statusChangesTotal[status], "status", string(status))
		}
		write("presence_heartbeats_total", m.HeartbeatsTotal)
		write("presence_store_errors_total", m.StoreErrorsTotal)
		write("presence_self_heal_prunes_total", m.SelfHealPrunes)

		write("presence_agents_online", m.onlineAgents)
		write("presence_agents_available", m.availableAgents)
		write("presence_agents_busy", m.busyAgents)

		write("presence_sweep_runs_total", m.SweepRunsTotal)
		write("presence_sweep_skipped_total", m.SweepSkippedTotal)
		write("presence_sweep_away_total", m.SweepAwayTotal)
		write("presence_sweep_offline_total", m.SweepOfflineTotal)
		write("presence_sweep_errors_total", m.SweepErrorsTotal)
		write("presence_sweep_duration_seconds", m.lastSweepDuration.Seconds())

		for strategy, count := range m.assignmentsTotal {
			write("assignment_success_total", count, "strategy", string(strategy))
		}
		kinds := make([]string, 0, len(m.assignmentsFailed))
		for kind := range m.assignmentsFailed {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			write("assignment_failures_total", m.assignmentsFailed[kind], "kind", kind)
		}

		write("presence_websocket_connections_total", m.WebSocketConnectionsTotal)
		write("presence_websocket_disconnections_total", m.WebSocketDisconnectionsTotal)
		write("presence_websocket_active_connections", m.activeConnections)
		write("presence_websocket_messages_total", m.WebSocketMessagesTotal)
		write("presence_agent_connects_total", m.AgentConnectsTotal)
		write("presence_agent_disconnects_total", m.AgentDisconnectsTotal)

		for endpoint, statusCodes := range m.httpRequestsTotal {
			for status, count := range statusCodes {
				write("presence_http_requests_total", count, "endpoint", endpoint, "status", strconv.Itoa(status))
			}
		}
	}
}
