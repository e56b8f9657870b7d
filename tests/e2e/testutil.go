//go:build integration

package e2e

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"github.com/nidhogg/server-doctor/internal/api"
	"github.com/nidhogg/server-doctor/internal/doctor"
	"github.com/nidhogg/server-doctor/internal/guide"
	"github.com/nidhogg/server-doctor/internal/health"
	"github.com/nidhogg/server-doctor/internal/logs"
	"github.com/nidhogg/server-doctor/internal/mcp"
	"github.com/nidhogg/server-doctor/internal/metrics"
	"github.com/nidhogg/server-doctor/internal/notify"
	"github.com/nidhogg/server-doctor/internal/registry"
)

// Package-level shared state set by TestMain.
var (
	testLogger *zap.Logger
	testPG     *registry.Postgres
)

func TestMain(m *testing.M) {
	testLogger = zap.NewNop()
	if os.Getenv("E2E_VERBOSE") != "" {
		testLogger, _ = zap.NewDevelopment()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("doctor"),
		tcpg.WithUsername("doctor"),
		tcpg.WithPassword("doctor"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres container unavailable, skipping suite: %v\n", err)
		os.Exit(0)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "connection string: %v\n", err)
		os.Exit(1)
	}

	pg, err := registry.NewPostgres(dsn, testLogger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	if err := pg.Migrate(ctx, migrationsDir()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	testPG = pg

	code := m.Run()

	pg.Close()
	_ = container.Terminate(context.Background())
	os.Exit(code)
}

func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

// recordingTransport collects every webhook post for assertions.
type recordingTransport struct {
	mu    sync.Mutex
	posts []string
}

func (r *recordingTransport) Platform() string { return "recording" }

func (r *recordingTransport) Post(_ context.Context, _ string, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posts = append(r.posts, text)
	return nil
}

func (r *recordingTransport) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.posts...)
}

type gateway struct {
	server    *httptest.Server
	handler   *api.Handler
	transport *recordingTransport
}

// startGateway boots the full stack against the container-backed registry
// and returns a live HTTP server for black-box drives.
func startGateway(t *testing.T) *gateway {
	t.Helper()

	logAgg := logs.NewAggregator(logs.DefaultCapacity, testLogger)
	metricAgg := metrics.NewAggregator(metrics.DefaultCapacity, metrics.DefaultTrendThresholds, testLogger)
	ht := health.NewTracker(health.DefaultCapacity, testPG, testLogger)

	transport := &recordingTransport{}
	notifier := notify.NewDispatcher(transport, notify.NewMemoryCooldowns(), time.Minute, testLogger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	notifier.Start(ctx)

	doc := doctor.New(logAgg, metricAgg, nil, notifier, testLogger)
	g := guide.New("http://gateway.local", "forwarder:latest")
	tools := mcp.NewToolbox(doc, logAgg, metricAgg, testPG, ht, g, nil)
	rpc := mcp.NewServer(mcp.NewSessionManager(true, testLogger), tools, testLogger)

	// The handler needs its own public URL for the endpoint event, so the
	// listener starts before the handler is wired in.
	var inner atomic.Pointer[http.Handler]
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		(*inner.Load()).ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	h := api.NewHandler(testPG, logAgg, metricAgg, ht, notifier, doc, rpc,
		ts.URL, "https://hooks.example/default", testLogger)
	router := h.Router()
	inner.Store(&router)

	return &gateway{server: ts, handler: h, transport: transport}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
