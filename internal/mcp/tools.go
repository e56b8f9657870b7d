package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nidhogg/server-doctor/internal/doctor"
	"github.com/nidhogg/server-doctor/internal/guide"
	"github.com/nidhogg/server-doctor/internal/health"
	"github.com/nidhogg/server-doctor/internal/logs"
	"github.com/nidhogg/server-doctor/internal/metrics"
	"github.com/nidhogg/server-doctor/internal/registry"
)

// Tool describes one callable operation advertised to agent clients.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

const (
	ToolDiagnoseServer  = "ServerDoctor-diagnose_server"
	ToolFetchErrorLogs  = "ServerDoctor-fetch_error_logs"
	ToolRegisterServer  = "ServerDoctor-register_server"
	ToolGetHealthStatus = "ServerDoctor-get_health_status"
	ToolGetSetupGuide   = "ServerDoctor-get_setup_guide"
	ToolListDemoServers = "ServerDoctor-list_demo_servers"
)

func serverNameSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"serverName": map[string]any{
				"type":        "string",
				"description": "Registered name of the target server",
			},
		},
		"required": []string{"serverName"},
	}
}

// Catalog is the static tool list returned by tools/list.
func Catalog() []Tool {
	return []Tool{
		{
			Name:        ToolDiagnoseServer,
			Description: "Run a full diagnosis of the named server: recent error logs plus a resource trend, analyzed by the configured LLM.",
			InputSchema: serverNameSchema(),
		},
		{
			Name:        ToolFetchErrorLogs,
			Description: "Fetch the deduplicated error log analysis for the named server.",
			InputSchema: serverNameSchema(),
		},
		{
			Name:        ToolRegisterServer,
			Description: "Register a new target server and receive its ingest token and setup guide.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"serverName": map[string]any{"type": "string"},
					"serverUrl":  map[string]any{"type": "string"},
					"healthUrl":  map[string]any{"type": "string"},
				},
				"required": []string{"serverName", "serverUrl"},
			},
		},
		{
			Name:        ToolGetHealthStatus,
			Description: "Report the latest health check status of the named server.",
			InputSchema: serverNameSchema(),
		},
		{
			Name:        ToolGetSetupGuide,
			Description: "Render the log forwarder setup guide for the named registered server.",
			InputSchema: serverNameSchema(),
		},
		{
			Name:        ToolListDemoServers,
			Description: "List the built-in demo servers available for experimentation.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}

// DemoServer is one built-in playground target surfaced by list_demo_servers.
type DemoServer struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Toolbox executes tool calls against the gateway's domain services.
type Toolbox struct {
	doctor  *doctor.Doctor
	logs    *logs.Aggregator
	metrics *metrics.Aggregator
	reg     registry.Registry
	health  *health.Tracker
	guide   *guide.Generator
	demos   []DemoServer
}

// NewToolbox wires the tool implementations.
func NewToolbox(d *doctor.Doctor, la *logs.Aggregator, ma *metrics.Aggregator, reg registry.Registry, ht *health.Tracker, g *guide.Generator, demos []DemoServer) *Toolbox {
	return &Toolbox{doctor: d, logs: la, metrics: ma, reg: reg, health: ht, guide: g, demos: demos}
}

type serverNameArgs struct {
	ServerName string `json:"serverName"`
}

type registerArgs struct {
	ServerName string `json:"serverName"`
	ServerURL  string `json:"serverUrl"`
	HealthURL  string `json:"healthUrl"`
}

func decodeArgs(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode tool arguments: %w", err)
	}
	return nil
}

// Call runs the named tool and returns its text result. Errors are reported
// to the caller as failed tool output, never as protocol errors.
func (t *Toolbox) Call(ctx context.Context, name string, raw json.RawMessage) (string, error) {
	switch name {
	case ToolDiagnoseServer:
		var args serverNameArgs
		if err := decodeArgs(raw, &args); err != nil {
			return "", err
		}
		if args.ServerName == "" {
			return "", fmt.Errorf("missing required argument: serverName")
		}
		return t.doctor.Diagnose(ctx, args.ServerName), nil

	case ToolFetchErrorLogs:
		var args serverNameArgs
		if err := decodeArgs(raw, &args); err != nil {
			return "", err
		}
		if args.ServerName == "" {
			return "", fmt.Errorf("missing required argument: serverName")
		}
		analysis := t.logs.AnalyzeErrors(args.ServerName, 100)
		if len(analysis.Entries) == 0 {
			return analysis.Summary, nil
		}
		var b strings.Builder
		b.WriteString(analysis.Summary)
		b.WriteString("\n\n")
		b.WriteString(strings.Join(analysis.Entries, "\n"))
		return b.String(), nil

	case ToolRegisterServer:
		var args registerArgs
		if err := decodeArgs(raw, &args); err != nil {
			return "", err
		}
		if args.ServerName == "" {
			return "", fmt.Errorf("missing required argument: serverName")
		}
		if args.ServerURL == "" {
			return "", fmt.Errorf("missing required argument: serverUrl")
		}
		srv, err := t.reg.Register(ctx, registry.RegisterRequest{
			Name:       args.ServerName,
			URL:        args.ServerURL,
			HealthPath: args.HealthURL,
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("server %q registered.\n\n%s", srv.Name, t.guide.Render(srv.Name, srv.Token)), nil

	case ToolGetHealthStatus:
		var args serverNameArgs
		if err := decodeArgs(raw, &args); err != nil {
			return "", err
		}
		if args.ServerName == "" {
			return "", fmt.Errorf("missing required argument: serverName")
		}
		report, err := t.health.StatusReport(ctx, args.ServerName)
		if err != nil {
			return "", err
		}
		if snap := t.metrics.Current(args.ServerName); snap.Found {
			report += fmt.Sprintf("\ncurrent resources: CPU %.1f%%, RAM %.0f/%.0f MB",
				snap.CPUPercent, snap.MemUsedMB, snap.MemMaxMB)
		}
		return report, nil

	case ToolGetSetupGuide:
		var args serverNameArgs
		if err := decodeArgs(raw, &args); err != nil {
			return "", err
		}
		if args.ServerName == "" {
			return "", fmt.Errorf("missing required argument: serverName")
		}
		srv, err := t.reg.Lookup(ctx, args.ServerName)
		if err != nil {
			return "", err
		}
		return t.guide.Render(srv.Name, srv.Token), nil

	case ToolListDemoServers:
		if len(t.demos) == 0 {
			return "no demo servers are configured.", nil
		}
		var b strings.Builder
		b.WriteString("available demo servers:\n")
		for _, d := range t.demos {
			fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
		}
		return b.String(), nil

	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}
