// Package mcpclient is the agent-side counterpart of the gateway's MCP
// endpoint: it opens the SSE stream, discovers the JSON-RPC message URL from
// the endpoint event, performs the initialize handshake, and exposes the
// advertised tools.
package mcpclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const rpcTimeout = 30 * time.Second

// ToolInfo describes one tool advertised by the gateway.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ToolError reports a tool call whose result carried isError. The text is
// the failure content rendered by the server.
type ToolError struct {
	Tool string
	Text string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Text)
}

// Client talks JSON-RPC to the gateway over an SSE session.
type Client struct {
	sseURL  string
	rpcURL  string
	http    *http.Client
	tools   []ToolInfo
	pending map[int64]chan json.RawMessage
	nextID  atomic.Int64
	mu      sync.Mutex
	cancel  context.CancelFunc
	logger  *zap.Logger
}

// New creates a client for the given SSE endpoint.
func New(sseURL string, logger *zap.Logger) *Client {
	return &Client{
		sseURL:  sseURL,
		http:    &http.Client{},
		pending: make(map[int64]chan json.RawMessage),
		logger:  logger,
	}
}

// Tools returns the tool catalog discovered during Connect.
func (c *Client) Tools() []ToolInfo { return c.tools }

// Connect opens the stream, resolves the message endpoint, runs the
// initialize handshake, and loads the tool catalog.
func (c *Client) Connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.sseURL, nil)
	if err != nil {
		return fmt.Errorf("build sse request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("open sse stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("sse stream status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	endpoint, err := readEndpointEvent(scanner)
	if err != nil {
		resp.Body.Close()
		return fmt.Errorf("endpoint event: %w", err)
	}
	c.rpcURL, err = c.resolveEndpoint(endpoint)
	if err != nil {
		resp.Body.Close()
		return err
	}
	c.logger.Info("message endpoint discovered", zap.String("rpc", c.rpcURL))

	streamCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.readStream(streamCtx, resp.Body, scanner)

	if err := c.initialize(ctx); err != nil {
		return err
	}
	if err := c.loadTools(ctx); err != nil {
		return fmt.Errorf("load tools: %w", err)
	}
	c.logger.Info("tools discovered", zap.Int("count", len(c.tools)))
	return nil
}

// readEndpointEvent scans the stream until the server announces its
// JSON-RPC message URL.
func readEndpointEvent(scanner *bufio.Scanner) (string, error) {
	var event string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if event == "endpoint" {
				return strings.TrimPrefix(line, "data: "), nil
			}
		}
	}
	return "", fmt.Errorf("stream ended before endpoint event")
}

// resolveEndpoint makes the announced endpoint absolute relative to the
// SSE URL.
func (c *Client) resolveEndpoint(endpoint string) (string, error) {
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}
	if ref.IsAbs() {
		return endpoint, nil
	}
	base, err := url.Parse(c.sseURL)
	if err != nil {
		return "", fmt.Errorf("parse sse url %q: %w", c.sseURL, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// readStream dispatches message events to waiting RPC callers.
func (c *Client) readStream(ctx context.Context, body io.ReadCloser, scanner *bufio.Scanner) {
	defer body.Close()
	var event string
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if event == "message" {
				c.dispatch([]byte(strings.TrimPrefix(line, "data: ")))
			}
			event = ""
		}
	}
}

func (c *Client) dispatch(data []byte) {
	var envelope struct {
		ID     int64           `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.logger.Debug("ignoring non-rpc stream data")
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[envelope.ID]
	if ok {
		delete(c.pending, envelope.ID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if len(envelope.Error) > 0 && string(envelope.Error) != "null" {
		ch <- envelope.Error
		return
	}
	ch <- envelope.Result
}

// call posts a JSON-RPC request and waits for its response on the stream.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan json.RawMessage, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	body, err := json.Marshal(struct {
		JSONRPC string `json:"jsonrpc"`
		ID      int64  `json:"id"`
		Method  string `json:"method"`
		Params  any    `json:"params,omitempty"`
	}{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal rpc: %w", err)
	}

	if err := c.post(ctx, body); err != nil {
		c.forget(id)
		return nil, err
	}

	select {
	case result := <-ch:
		return result, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case <-time.After(rpcTimeout):
		c.forget(id)
		return nil, fmt.Errorf("rpc timeout for %s", method)
	}
}

// notify posts a JSON-RPC notification, expecting no response.
func (c *Client) notify(ctx context.Context, method string) error {
	body, err := json.Marshal(struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
	}{JSONRPC: "2.0", Method: method})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return c.post(ctx, body)
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post rpc: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": "2025-03-26",
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "doctorctl",
			"version": "1.0.0",
		},
	}
	if _, err := c.call(ctx, "initialize", params); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := c.notify(ctx, "notifications/initialized"); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	return nil
}

func (c *Client) loadTools(ctx context.Context) error {
	result, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return err
	}
	var resp struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return fmt.Errorf("parse tools/list: %w", err)
	}
	c.tools = resp.Tools
	return nil
}

// CallTool invokes a tool and returns its text content. Results flagged
// isError come back as a *ToolError.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	result, err := c.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return "", fmt.Errorf("call %s: %w", name, err)
	}

	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return string(result), nil
	}
	if len(resp.Content) == 0 {
		return string(result), nil
	}
	if resp.IsError {
		return "", &ToolError{Tool: name, Text: resp.Content[0].Text}
	}
	return resp.Content[0].Text, nil
}

// Close stops the stream reader and releases waiting callers.
func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	return nil
}
