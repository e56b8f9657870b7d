// Package health records pushed health-check events and renders the status
// report exposed to the agent.
package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/server-doctor/internal/registry"
	"github.com/nidhogg/server-doctor/internal/ringbuf"
	"go.uber.org/zap"
)

// Event is one pushed health observation from a forwarder.
type Event struct {
	TS         int64  `json:"ts"`
	Status     string `json:"status"`
	LatencyMs  int64  `json:"latencyMs"`
	HTTPStatus int    `json:"httpStatus"`
	Message    string `json:"message,omitempty"`
}

const (
	// DefaultCapacity keeps roughly an hour of 30s-interval checks.
	DefaultCapacity = 120

	// StaleAfter marks a server stale when no health push arrived in time.
	StaleAfter = 60 * time.Second

	maxMessageLen = 500
)

// Tracker stores health event history and the latest snapshot per server.
type Tracker struct {
	buf    *ringbuf.Store[Event]
	reg    registry.Registry
	now    func() time.Time
	logger *zap.Logger
}

// NewTracker creates a tracker with the given per-server event capacity.
func NewTracker(capacity int, reg registry.Registry, logger *zap.Logger) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracker{
		buf:    ringbuf.NewStore[Event](capacity),
		reg:    reg,
		now:    time.Now,
		logger: logger,
	}
}

// Record normalizes and stores a pushed health event, then updates the
// registry's snapshot of the server.
func (t *Tracker) Record(ctx context.Context, server string, e Event) error {
	e.Status = NormalizeStatus(e.Status, e.HTTPStatus)
	if e.TS <= 0 {
		e.TS = t.now().UnixMilli()
	}
	e.Message = trimMessage(e.Message)

	t.buf.Append(server, e)
	if err := t.reg.SetHealthSnapshot(ctx, server, e.Status, e.LatencyMs, e.HTTPStatus); err != nil {
		return fmt.Errorf("health snapshot: %w", err)
	}
	t.logger.Debug("health recorded",
		zap.String("server", server),
		zap.String("status", e.Status))
	return nil
}

// Recent returns up to limit stored health events, oldest first.
func (t *Tracker) Recent(server string, limit int) []Event {
	return t.buf.Snapshot(server, limit)
}

// StatusReport renders the agent-facing health summary for server: current
// status, latency, last-checked age, and staleness against StaleAfter.
func (t *Tracker) StatusReport(ctx context.Context, server string) (string, error) {
	s, err := t.reg.Lookup(ctx, server)
	if err != nil {
		return "", err
	}
	if s.HealthStatus == "" || s.HealthCheckedAt.IsZero() {
		return fmt.Sprintf("server %q has not reported any health checks yet", server), nil
	}

	age := t.now().Sub(s.HealthCheckedAt)
	report := fmt.Sprintf("server %q: %s (http %d, %dms) — last check %s ago",
		server, s.HealthStatus, s.HealthHTTPStatus, s.HealthLatencyMs, age.Round(time.Second))
	if age > StaleAfter {
		report += fmt.Sprintf("\nwarning: no health push for over %s, data may be stale", StaleAfter)
	}
	return report, nil
}

// NormalizeStatus maps free-text forwarder statuses to the known set, falling
// back to the HTTP status when the field is missing or unrecognized.
func NormalizeStatus(status string, httpStatus int) string {
	s := strings.ToUpper(strings.TrimSpace(status))
	switch s {
	case "UP", "DOWN", "UNKNOWN", "OUT_OF_SERVICE":
		return s
	case "":
		if httpStatus == 200 {
			return "UP"
		}
		return "DOWN"
	default:
		if httpStatus == 200 {
			return "UP"
		}
		return "UNKNOWN"
	}
}

func trimMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if len(msg) > maxMessageLen {
		return msg[:maxMessageLen]
	}
	return msg
}
