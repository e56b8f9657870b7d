package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Postgres is the pgx-backed Registry.
type Postgres struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres connects a pgx pool to dsn and verifies the connection.
func NewPostgres(dsn string, logger *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected")
	return &Postgres{db: pool, logger: logger}, nil
}

// Migrate reads and executes all .up.sql files from the migrations directory.
func (p *Postgres) Migrate(ctx context.Context, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := p.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		p.logger.Info("migration applied", zap.String("file", f))
	}
	return nil
}

func (p *Postgres) Register(ctx context.Context, req RegisterRequest) (Server, error) {
	if req.Name == "" {
		return Server{}, fmt.Errorf("%w: serverName is required", ErrInvalidArgument)
	}

	token := uuid.NewString()
	_, err := p.db.Exec(ctx, `
		INSERT INTO target_servers (name, url, health_path, token)
		VALUES ($1, $2, $3, $4)`,
		req.Name, req.URL, req.HealthPath, token)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return Server{}, fmt.Errorf("%w: %s", ErrDuplicate, req.Name)
		}
		return Server{}, fmt.Errorf("register server: %w", err)
	}

	p.logger.Info("server registered", zap.String("server", req.Name))
	return Server{Name: req.Name, URL: req.URL, HealthPath: req.HealthPath, Token: token}, nil
}

func (p *Postgres) Lookup(ctx context.Context, name string) (Server, error) {
	var s Server
	var lastSeen, checkedAt *time.Time
	var status *string
	var latency *int64
	var httpStatus *int
	err := p.db.QueryRow(ctx, `
		SELECT name, url, health_path, token, last_seen,
		       health_status, health_latency_ms, health_http_status, health_checked_at
		FROM target_servers WHERE name = $1`, name,
	).Scan(&s.Name, &s.URL, &s.HealthPath, &s.Token, &lastSeen,
		&status, &latency, &httpStatus, &checkedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Server{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Server{}, fmt.Errorf("lookup server: %w", err)
	}

	if lastSeen != nil {
		s.LastSeen = *lastSeen
	}
	if status != nil {
		s.HealthStatus = *status
	}
	if latency != nil {
		s.HealthLatencyMs = *latency
	}
	if httpStatus != nil {
		s.HealthHTTPStatus = *httpStatus
	}
	if checkedAt != nil {
		s.HealthCheckedAt = *checkedAt
	}
	return s, nil
}

func (p *Postgres) VerifyToken(ctx context.Context, name, token string) error {
	s, err := p.Lookup(ctx, name)
	if err != nil {
		return err
	}
	if token == "" || s.Token != token {
		return ErrUnauthorized
	}
	return nil
}

func (p *Postgres) UpdateURL(ctx context.Context, name, url string) error {
	tag, err := p.db.Exec(ctx,
		`UPDATE target_servers SET url = $2 WHERE name = $1`, name, url)
	if err != nil {
		return fmt.Errorf("update url: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

// TouchHeartbeat updates last_seen in a single short statement on its own
// pooled connection. Keeping it out of the ingest write path avoids the
// read-then-upgrade lock escalation that deadlocks concurrent pushes.
func (p *Postgres) TouchHeartbeat(ctx context.Context, name string) error {
	tag, err := p.db.Exec(ctx,
		`UPDATE target_servers SET last_seen = now() WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("touch heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

func (p *Postgres) SetHealthSnapshot(ctx context.Context, name, status string, latencyMs int64, httpStatus int) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE target_servers
		SET health_status = $2, health_latency_ms = $3,
		    health_http_status = $4, health_checked_at = now()
		WHERE name = $1`,
		name, status, latencyMs, httpStatus)
	if err != nil {
		return fmt.Errorf("set health snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context) ([]Server, error) {
	rows, err := p.db.Query(ctx,
		`SELECT name, url, health_path, token FROM target_servers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var out []Server
	for rows.Next() {
		var s Server
		if err := rows.Scan(&s.Name, &s.URL, &s.HealthPath, &s.Token); err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close shuts down the connection pool.
func (p *Postgres) Close() {
	p.db.Close()
}
