// Package logs keeps bounded recent log history per server and produces
// deduplicated error summaries for diagnosis.
package logs

import (
	"fmt"
	"strings"

	"github.com/nidhogg/server-doctor/internal/ringbuf"
	"go.uber.org/zap"
)

// Event is one pushed log line from a monitored server.
type Event struct {
	TS      int64  `json:"ts"` // epoch millis
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Analysis is the result of scanning recent logs for error-class entries.
type Analysis struct {
	Server  string   `json:"server"`
	Entries []string `json:"entries"`
	Count   int      `json:"count"`
	Summary string   `json:"summary"`
}

const (
	// DefaultCapacity holds enough history for incident review.
	DefaultCapacity = 10_000

	// maxDisplayLen caps each rendered entry so reports stay readable.
	maxDisplayLen = 500

	SummaryNoLogs      = "no logs collected yet"
	SummaryNoErrors    = "no errors in the recent window"
	SummaryErrorsFound = "recent error logs found"
)

// exceptionHints mark stack-trace style lines that should count as errors
// even when the level field says otherwise. Matching is case-sensitive on
// purpose, unlike the level comparison.
var exceptionHints = []string{"Exception", "ERROR", "Caused by"}

// Aggregator owns the per-server log ring buffers.
type Aggregator struct {
	buf    *ringbuf.Store[Event]
	logger *zap.Logger
}

// NewAggregator creates an aggregator with the given per-server capacity.
func NewAggregator(capacity int, logger *zap.Logger) *Aggregator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Aggregator{
		buf:    ringbuf.NewStore[Event](capacity),
		logger: logger,
	}
}

// Ingest appends a batch of events to server's buffer. Blank entries are
// skipped rather than failing the batch. The accepted events are returned so
// the caller can run its alert and heartbeat hooks; the aggregator itself
// never calls external services.
func (a *Aggregator) Ingest(server string, events []Event) []Event {
	if len(events) == 0 {
		return nil
	}

	accepted := make([]Event, 0, len(events))
	for _, e := range events {
		if e.Level == "" && e.Message == "" {
			continue
		}
		accepted = append(accepted, e)
	}
	a.buf.AppendAll(server, accepted)

	a.logger.Debug("logs ingested",
		zap.String("server", server),
		zap.Int("accepted", len(accepted)))
	return accepted
}

// Len reports how many events are retained for server.
func (a *Aggregator) Len(server string) int { return a.buf.Len(server) }

// AnalyzeErrors scans the most recent limit events in chronological order,
// keeps error-class entries, collapses consecutive duplicates into a
// run-length annotation, and truncates long messages. Annotation lines count
// toward Count.
func (a *Aggregator) AnalyzeErrors(server string, limit int) Analysis {
	if limit <= 0 {
		limit = 100
	}
	recent := a.buf.Snapshot(server, limit)
	if len(recent) == 0 {
		return Analysis{Server: server, Entries: []string{}, Summary: SummaryNoLogs}
	}

	var entries []string
	lastMsg := ""
	repeats := 0

	flushRepeats := func() {
		if repeats > 0 {
			entries = append(entries, fmt.Sprintf("   (same error repeated %d more times)", repeats))
			repeats = 0
		}
	}

	for _, e := range recent {
		if !isErrorClass(e) {
			continue
		}

		msg := e.Message
		if msg == lastMsg {
			repeats++
			continue
		}
		flushRepeats()

		display := msg
		if len(display) > maxDisplayLen {
			display = display[:maxDisplayLen] + "\n   ... (truncated) ..."
		}
		entries = append(entries, fmt.Sprintf("%d [%s] %s", e.TS, e.Level, display))
		lastMsg = msg
	}
	flushRepeats()

	if len(entries) == 0 {
		return Analysis{Server: server, Entries: []string{}, Summary: SummaryNoErrors}
	}
	return Analysis{
		Server:  server,
		Entries: entries,
		Count:   len(entries),
		Summary: SummaryErrorsFound,
	}
}

// isErrorClass reports whether an event should appear in an error summary.
// The level check is case-insensitive; the hint check is not.
func isErrorClass(e Event) bool {
	if strings.EqualFold(e.Level, "ERROR") {
		return true
	}
	for _, hint := range exceptionHints {
		if strings.Contains(e.Message, hint) {
			return true
		}
	}
	return false
}

// ErrorMessages returns the messages of ERROR-level events in a batch, used
// by the ingest path to decide whether to raise an alert.
func ErrorMessages(events []Event) []string {
	var out []string
	for _, e := range events {
		if strings.EqualFold(e.Level, "ERROR") {
			out = append(out, e.Message)
		}
	}
	return out
}

// AlertText renders the first error of a batch as a short alert body.
func AlertText(errors []string) string {
	if len(errors) == 0 {
		return ""
	}
	first := errors[0]
	if len(first) > 200 {
		first = first[:200] + "..."
	}
	return fmt.Sprintf("error log detected:\n`%s`", first)
}
