// Package alerts flags online agents whose heartbeats are lagging.
package alerts

import (
	"fmt"
	"slices"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/types"
)

// Rule names carried on every alert
const (
	RuleHeartbeatLate    = "heartbeat_late"
	RuleHeartbeatMissing = "heartbeat_missing"
)

// Thresholds control when a silent agent is flagged
type Thresholds struct {
	// Late raises a warning; usually the AWAY threshold
	Late time.Duration

	// Missing raises a critical alert; usually the OFFLINE threshold
	Missing time.Duration
}

// CheckHeartbeats evaluates the heartbeat rules for the given online agents.
// An agent absent from activity has no recorded heartbeat at all. Alerts are
// ordered by agent id.
func CheckHeartbeats(online []types.AgentID, activity map[types.AgentID]time.Time, now time.Time, th Thresholds) []types.AgentAlert {
	alerts := make([]types.AgentAlert, 0)
	for _, id := range online {
		last, ok := activity[id]
		if !ok {
			alerts = append(alerts, types.AgentAlert{
				AgentID:  id,
				Rule:     RuleHeartbeatMissing,
				Severity: types.SeverityCritical,
				Message:  "No heartbeat recorded",
			})
			continue
		}

		dur := now.Sub(last)
		switch {
		case th.Missing > 0 && dur >= th.Missing:
			alerts = append(alerts, types.AgentAlert{
				AgentID:  id,
				Rule:     RuleHeartbeatMissing,
				Severity: types.SeverityCritical,
				Message:  fmt.Sprintf("Silent for %s", formatDuration(dur)),
			})
		case th.Late > 0 && dur >= th.Late:
			alerts = append(alerts, types.AgentAlert{
				AgentID:  id,
				Rule:     RuleHeartbeatLate,
				Severity: types.SeverityWarning,
				Message:  fmt.Sprintf("Silent for %s", formatDuration(dur)),
			})
		}
	}

	slices.SortFunc(alerts, func(a, b types.AgentAlert) int {
		switch {
		case a.AgentID < b.AgentID:
			return -1
		case a.AgentID > b.AgentID:
			return 1
		}
		return 0
	})
	return alerts
}

func formatDuration(d time.Duration) string {
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if mins >= 60 {
		hours := mins / 60
		mins = mins % 60
		return fmt.Sprintf("%dh%dm", hours, mins)
	}
	return fmt.Sprintf("%dm%ds", mins, secs)
}
