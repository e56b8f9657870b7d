package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

const (
	// ProtocolVersion is offered when the client does not name one.
	ProtocolVersion = "2025-03-26"

	serverName    = "ServerDoctor-MCP"
	serverVersion = "1.0.0"

	// MessageEvent is the stream event name carrying JSON-RPC responses.
	MessageEvent = "message"
)

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result"`
}

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      serverInfo     `json:"serverInfo"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type listToolsResult struct {
	Tools []Tool `json:"tools"`
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolCallResult struct {
	Content []content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Server dispatches JSON-RPC frames for live sessions. Responses travel back
// over the session's event stream, never on the HTTP response that delivered
// the frame.
type Server struct {
	sessions *SessionManager
	tools    *Toolbox
	logger   *zap.Logger
}

// NewServer wires the dispatcher.
func NewServer(sessions *SessionManager, tools *Toolbox, logger *zap.Logger) *Server {
	return &Server{sessions: sessions, tools: tools, logger: logger}
}

// Sessions exposes the session manager for transport handlers.
func (s *Server) Sessions() *SessionManager { return s.sessions }

// HandleMessage parses one JSON-RPC frame and routes the response to the
// session named by sessionID, falling back to the most recent session when
// the id is blank. Unknown methods are logged and dropped.
func (s *Server) HandleMessage(ctx context.Context, sessionID string, frame []byte) error {
	var req request
	if err := json.Unmarshal(frame, &req); err != nil {
		return fmt.Errorf("parse rpc frame: %w", err)
	}

	sess, ok := s.resolve(sessionID)
	if !ok {
		s.logger.Warn("rpc frame for unknown session",
			zap.String("session", sessionID),
			zap.String("method", req.Method))
		return nil
	}

	switch req.Method {
	case "initialize":
		var params initializeParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				s.logger.Warn("bad initialize params", zap.Error(err))
			}
		}
		version := params.ProtocolVersion
		if version == "" {
			version = ProtocolVersion
		}
		sess.setState(StateInitialized)
		s.reply(sess, req.ID, initializeResult{
			ProtocolVersion: version,
			Capabilities:    map[string]any{"tools": map[string]any{}},
			ServerInfo:      serverInfo{Name: serverName, Version: serverVersion},
		})

	case "notifications/initialized":
		sess.setState(StateReady)

	case "tools/list":
		s.reply(sess, req.ID, listToolsResult{Tools: Catalog()})

	case "tools/call":
		var params toolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.replyToolError(sess, req.ID, fmt.Errorf("decode tools/call params: %w", err))
			return nil
		}
		text, err := s.tools.Call(ctx, params.Name, params.Arguments)
		if err != nil {
			s.logger.Warn("tool call failed",
				zap.String("tool", params.Name), zap.Error(err))
			s.replyToolError(sess, req.ID, err)
			return nil
		}
		s.reply(sess, req.ID, toolCallResult{
			Content: []content{{Type: "text", Text: text}},
		})

	case "ping":
		s.reply(sess, req.ID, "pong")

	default:
		s.logger.Warn("unknown rpc method ignored",
			zap.String("method", req.Method), zap.String("session", sess.ID()))
	}
	return nil
}

func (s *Server) resolve(sessionID string) (*Session, bool) {
	if sessionID != "" {
		return s.sessions.Get(sessionID)
	}
	return s.sessions.Latest()
}

// replyToolError renders a failed tool call as result content so the agent
// can read the failure instead of tearing down the session.
func (s *Server) replyToolError(sess *Session, id json.RawMessage, err error) {
	s.reply(sess, id, toolCallResult{
		Content: []content{{Type: "text", Text: "tool execution failed: " + err.Error()}},
		IsError: true,
	})
}

func (s *Server) reply(sess *Session, id json.RawMessage, result any) {
	body, err := json.Marshal(response{JSONRPC: "2.0", ID: id, Result: result})
	if err != nil {
		s.logger.Error("marshal rpc response", zap.Error(err))
		return
	}
	if err := sess.Send(MessageEvent, string(body)); err != nil {
		s.logger.Warn("session write failed, dropping session",
			zap.String("session", sess.ID()), zap.Error(err))
		s.sessions.Close(sess.ID())
	}
}
