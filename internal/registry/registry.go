// Package registry owns the catalog of monitored target servers: identity,
// ingest tokens, heartbeat, and the latest health snapshot.
package registry

import (
	"context"
	"errors"
	"time"
)

// Server is one registered monitoring target.
type Server struct {
	Name       string    `json:"serverName"`
	URL        string    `json:"url"`
	HealthPath string    `json:"healthPath"`
	Token      string    `json:"ingestToken"`
	LastSeen   time.Time `json:"lastSeen"`

	HealthStatus     string    `json:"healthStatus,omitempty"`
	HealthLatencyMs  int64     `json:"healthLatencyMs,omitempty"`
	HealthHTTPStatus int       `json:"healthHttpStatus,omitempty"`
	HealthCheckedAt  time.Time `json:"healthCheckedAt,omitempty"`
}

// RegisterRequest carries the fields needed to register a server.
type RegisterRequest struct {
	Name       string `json:"serverName"`
	URL        string `json:"url"`
	HealthPath string `json:"healthPath"`
}

var (
	ErrNotFound        = errors.New("server not found")
	ErrUnauthorized    = errors.New("invalid ingest token")
	ErrDuplicate       = errors.New("server already registered")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Registry is the store of target servers. Implementations must be safe for
// concurrent use.
type Registry interface {
	// Register stores a new server and issues its ingest token.
	Register(ctx context.Context, req RegisterRequest) (Server, error)
	// Lookup returns the server named name or ErrNotFound.
	Lookup(ctx context.Context, name string) (Server, error)
	// VerifyToken checks an ingest token against the server's issued one.
	// A blank token or a mismatch yields ErrUnauthorized.
	VerifyToken(ctx context.Context, name, token string) error
	// UpdateURL changes a server's base URL.
	UpdateURL(ctx context.Context, name, url string) error
	// TouchHeartbeat records that name pushed data just now. It runs in its
	// own unit of work, isolated from the ingest write that triggered it.
	TouchHeartbeat(ctx context.Context, name string) error
	// SetHealthSnapshot stores the latest pushed health state.
	SetHealthSnapshot(ctx context.Context, name, status string, latencyMs int64, httpStatus int) error
	// List returns all registered servers.
	List(ctx context.Context) ([]Server, error)
}
