package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/server-doctor/internal/doctor"
	"github.com/nidhogg/server-doctor/internal/guide"
	"github.com/nidhogg/server-doctor/internal/health"
	"github.com/nidhogg/server-doctor/internal/logs"
	"github.com/nidhogg/server-doctor/internal/metrics"
	"github.com/nidhogg/server-doctor/internal/registry"
)

func newTestServer(t *testing.T) (*Server, registry.Registry) {
	t.Helper()
	logger := zap.NewNop()
	reg := registry.NewMemory(logger)
	logAgg := logs.NewAggregator(logs.DefaultCapacity, logger)
	metricAgg := metrics.NewAggregator(metrics.DefaultCapacity, metrics.DefaultTrendThresholds, logger)
	ht := health.NewTracker(health.DefaultCapacity, reg, logger)
	d := doctor.New(logAgg, metricAgg, nil, nil, logger)
	g := guide.New("http://gateway.local", "forwarder:latest")
	demos := []DemoServer{{Name: "demo-shop", Description: "sample web shop"}}
	tools := NewToolbox(d, logAgg, metricAgg, reg, ht, g, demos)
	return NewServer(NewSessionManager(true, logger), tools, logger), reg
}

func recvEvent(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case e := <-s.Events():
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for session event")
		return Event{}
	}
}

func recvResponse(t *testing.T, s *Session) response {
	t.Helper()
	e := recvEvent(t, s)
	if e.Name != MessageEvent {
		t.Fatalf("event name = %q, want %q", e.Name, MessageEvent)
	}
	var resp response
	if err := json.Unmarshal([]byte(e.Data), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func noEvent(t *testing.T, s *Session) {
	t.Helper()
	select {
	case e := <-s.Events():
		t.Fatalf("unexpected event %q: %s", e.Name, e.Data)
	default:
	}
}

func callResult(t *testing.T, resp response) toolCallResult {
	t.Helper()
	body, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("remarshal result: %v", err)
	}
	var res toolCallResult
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode tool call result: %v", err)
	}
	return res
}

func TestInitializeHandshake(t *testing.T) {
	srv, _ := newTestServer(t)
	sess := srv.Sessions().Open()

	frame := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`
	if err := srv.HandleMessage(context.Background(), sess.ID(), []byte(frame)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	resp := recvResponse(t, sess)
	if string(resp.ID) != "1" {
		t.Fatalf("response id = %s, want 1", resp.ID)
	}
	body, _ := json.Marshal(resp.Result)
	var res initializeResult
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode initialize result: %v", err)
	}
	if res.ProtocolVersion != "2024-11-05" {
		t.Fatalf("protocol version = %q, want echo of client version", res.ProtocolVersion)
	}
	if res.ServerInfo.Name != serverName {
		t.Fatalf("server name = %q", res.ServerInfo.Name)
	}
	if _, ok := res.Capabilities["tools"]; !ok {
		t.Fatal("tools capability missing")
	}
	if got := sess.State(); got != StateInitialized {
		t.Fatalf("state = %v, want StateInitialized", got)
	}
}

func TestInitializeDefaultsProtocolVersion(t *testing.T) {
	srv, _ := newTestServer(t)
	sess := srv.Sessions().Open()

	frame := `{"jsonrpc":"2.0","id":7,"method":"initialize"}`
	if err := srv.HandleMessage(context.Background(), sess.ID(), []byte(frame)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	resp := recvResponse(t, sess)
	body, _ := json.Marshal(resp.Result)
	var res initializeResult
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode initialize result: %v", err)
	}
	if res.ProtocolVersion != ProtocolVersion {
		t.Fatalf("protocol version = %q, want %q", res.ProtocolVersion, ProtocolVersion)
	}
}

func TestInitializedNotificationSilent(t *testing.T) {
	srv, _ := newTestServer(t)
	sess := srv.Sessions().Open()

	frame := `{"jsonrpc":"2.0","method":"notifications/initialized"}`
	if err := srv.HandleMessage(context.Background(), sess.ID(), []byte(frame)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	noEvent(t, sess)
	if got := sess.State(); got != StateReady {
		t.Fatalf("state = %v, want StateReady", got)
	}
}

func TestToolsList(t *testing.T) {
	srv, _ := newTestServer(t)
	sess := srv.Sessions().Open()

	frame := `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`
	if err := srv.HandleMessage(context.Background(), sess.ID(), []byte(frame)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	resp := recvResponse(t, sess)
	body, _ := json.Marshal(resp.Result)
	var res listToolsResult
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode tools/list result: %v", err)
	}
	if len(res.Tools) != 6 {
		t.Fatalf("len(tools) = %d, want 6", len(res.Tools))
	}
	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{ToolDiagnoseServer, ToolFetchErrorLogs, ToolRegisterServer, ToolGetHealthStatus, ToolGetSetupGuide, ToolListDemoServers} {
		if !names[want] {
			t.Fatalf("tool %q missing from catalog", want)
		}
	}
}

func TestToolCallRegisterServer(t *testing.T) {
	srv, reg := newTestServer(t)
	sess := srv.Sessions().Open()

	frame := `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"ServerDoctor-register_server","arguments":{"serverName":"payments","serverUrl":"http://payments:8080"}}}`
	if err := srv.HandleMessage(context.Background(), sess.ID(), []byte(frame)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	res := callResult(t, recvResponse(t, sess))
	if res.IsError {
		t.Fatalf("register reported error: %+v", res.Content)
	}
	if len(res.Content) != 1 || res.Content[0].Type != "text" {
		t.Fatalf("content = %+v, want single text block", res.Content)
	}
	if !strings.Contains(res.Content[0].Text, `server "payments" registered`) {
		t.Fatalf("unexpected register output: %s", res.Content[0].Text)
	}

	srvRec, err := reg.Lookup(context.Background(), "payments")
	if err != nil {
		t.Fatalf("Lookup after register: %v", err)
	}
	if srvRec.Token == "" {
		t.Fatal("registered server has no token")
	}
}

func TestToolCallHealthStatus(t *testing.T) {
	srv, reg := newTestServer(t)
	sess := srv.Sessions().Open()

	ctx := context.Background()
	if _, err := reg.Register(ctx, registry.RegisterRequest{Name: "payments", URL: "http://payments:8080"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := srv.tools.health.Record(ctx, "payments", health.Event{Status: "UP", LatencyMs: 9, HTTPStatus: 200}); err != nil {
		t.Fatalf("record health: %v", err)
	}
	srv.tools.metrics.Ingest("payments", metrics.RawSample{TS: 1, CPUUsage: 0.4, MemUsed: 512 << 20, MemMax: 1024 << 20})

	frame := `{"jsonrpc":"2.0","id":10,"method":"tools/call","params":{"name":"ServerDoctor-get_health_status","arguments":{"serverName":"payments"}}}`
	if err := srv.HandleMessage(ctx, sess.ID(), []byte(frame)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	res := callResult(t, recvResponse(t, sess))
	if res.IsError {
		t.Fatalf("health status reported error: %+v", res.Content)
	}
	text := res.Content[0].Text
	if !strings.Contains(text, "UP") {
		t.Fatalf("report missing status: %q", text)
	}
	if !strings.Contains(text, "current resources: CPU 40.0%") {
		t.Fatalf("report missing resource line: %q", text)
	}
}

func TestToolCallMissingArgument(t *testing.T) {
	srv, _ := newTestServer(t)
	sess := srv.Sessions().Open()

	frame := `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"ServerDoctor-fetch_error_logs","arguments":{}}}`
	if err := srv.HandleMessage(context.Background(), sess.ID(), []byte(frame)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	res := callResult(t, recvResponse(t, sess))
	if !res.IsError {
		t.Fatal("missing argument should surface as tool error")
	}
	if !strings.Contains(res.Content[0].Text, "missing required argument: serverName") {
		t.Fatalf("error text = %q", res.Content[0].Text)
	}
}

func TestToolCallUnknownTool(t *testing.T) {
	srv, _ := newTestServer(t)
	sess := srv.Sessions().Open()

	frame := `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"ServerDoctor-reboot_universe","arguments":{}}}`
	if err := srv.HandleMessage(context.Background(), sess.ID(), []byte(frame)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	res := callResult(t, recvResponse(t, sess))
	if !res.IsError {
		t.Fatal("unknown tool should surface as tool error")
	}
	if !strings.Contains(res.Content[0].Text, "unknown tool") {
		t.Fatalf("error text = %q", res.Content[0].Text)
	}
}

func TestPing(t *testing.T) {
	srv, _ := newTestServer(t)
	sess := srv.Sessions().Open()

	frame := `{"jsonrpc":"2.0","id":9,"method":"ping"}`
	if err := srv.HandleMessage(context.Background(), sess.ID(), []byte(frame)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	resp := recvResponse(t, sess)
	var pong string
	body, _ := json.Marshal(resp.Result)
	if err := json.Unmarshal(body, &pong); err != nil || pong != "pong" {
		t.Fatalf("ping result = %s", body)
	}
}

func TestUnknownMethodIgnored(t *testing.T) {
	srv, _ := newTestServer(t)
	sess := srv.Sessions().Open()

	frame := `{"jsonrpc":"2.0","id":6,"method":"resources/list"}`
	if err := srv.HandleMessage(context.Background(), sess.ID(), []byte(frame)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	noEvent(t, sess)
}

func TestBlankSessionIDRoutesToLatest(t *testing.T) {
	srv, _ := newTestServer(t)
	stale := srv.Sessions().Open()
	live := srv.Sessions().Open()

	frame := `{"jsonrpc":"2.0","id":8,"method":"ping"}`
	if err := srv.HandleMessage(context.Background(), "", []byte(frame)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	recvResponse(t, live)
	select {
	case e := <-stale.Events():
		t.Fatalf("superseded session received event: %+v", e)
	default:
	}
}

func TestUnknownSessionDropped(t *testing.T) {
	srv, _ := newTestServer(t)

	frame := `{"jsonrpc":"2.0","id":1,"method":"ping"}`
	if err := srv.HandleMessage(context.Background(), "nope", []byte(frame)); err != nil {
		t.Fatalf("HandleMessage should drop silently, got %v", err)
	}
}

func TestMalformedFrame(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.Sessions().Open()

	if err := srv.HandleMessage(context.Background(), "", []byte("{not json")); err == nil {
		t.Fatal("malformed frame should return an error")
	}
}
