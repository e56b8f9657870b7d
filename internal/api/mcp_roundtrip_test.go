package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/server-doctor/internal/mcp"
	"github.com/nidhogg/server-doctor/internal/mcpclient"
)

// TestMCPRoundTrip drives the full protocol path with the real client:
// connect, endpoint discovery, initialize handshake, tool listing, and a
// tool call answered over the stream.
func TestMCPRoundTrip(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.handler.Router())
	defer ts.Close()
	f.handler.publicURL = ts.URL

	client := mcpclient.New(ts.URL+"/mcp/sse", zap.NewNop())
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	tools := client.Tools()
	if len(tools) != 6 {
		t.Fatalf("len(tools) = %d, want 6", len(tools))
	}

	out, err := client.CallTool(ctx, mcp.ToolListDemoServers, nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !strings.Contains(out, "demo-shop") {
		t.Fatalf("demo listing = %q", out)
	}

	if _, err := client.CallTool(ctx, mcp.ToolFetchErrorLogs, map[string]any{}); err == nil {
		t.Fatal("missing serverName should surface as tool error")
	} else if !strings.Contains(err.Error(), "missing required argument") {
		t.Fatalf("tool error = %v", err)
	}
}
