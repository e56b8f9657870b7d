package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Memory is the in-process Registry used when no database is configured and
// by the test suites.
type Memory struct {
	mu      sync.RWMutex
	servers map[string]Server
	now     func() time.Time
	logger  *zap.Logger
}

// NewMemory creates an empty in-memory registry.
func NewMemory(logger *zap.Logger) *Memory {
	return &Memory{
		servers: make(map[string]Server),
		now:     time.Now,
		logger:  logger,
	}
}

func (m *Memory) Register(_ context.Context, req RegisterRequest) (Server, error) {
	if req.Name == "" {
		return Server{}, fmt.Errorf("%w: serverName is required", ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.servers[req.Name]; ok {
		return Server{}, fmt.Errorf("%w: %s", ErrDuplicate, req.Name)
	}

	s := Server{
		Name:       req.Name,
		URL:        req.URL,
		HealthPath: req.HealthPath,
		Token:      uuid.NewString(),
	}
	m.servers[req.Name] = s
	m.logger.Info("server registered", zap.String("server", req.Name))
	return s, nil
}

func (m *Memory) Lookup(_ context.Context, name string) (Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[name]
	if !ok {
		return Server{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s, nil
}

func (m *Memory) VerifyToken(ctx context.Context, name, token string) error {
	s, err := m.Lookup(ctx, name)
	if err != nil {
		return err
	}
	if token == "" || s.Token != token {
		return ErrUnauthorized
	}
	return nil
}

func (m *Memory) UpdateURL(_ context.Context, name, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	s.URL = url
	m.servers[name] = s
	return nil
}

func (m *Memory) TouchHeartbeat(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	s.LastSeen = m.now()
	m.servers[name] = s
	return nil
}

func (m *Memory) SetHealthSnapshot(_ context.Context, name, status string, latencyMs int64, httpStatus int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	s.HealthStatus = status
	s.HealthLatencyMs = latencyMs
	s.HealthHTTPStatus = httpStatus
	s.HealthCheckedAt = m.now()
	m.servers[name] = s
	return nil
}

func (m *Memory) List(_ context.Context) ([]Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Server, 0, len(m.servers))
	for _, s := range m.servers {
		out = append(out, s)
	}
	return out, nil
}
