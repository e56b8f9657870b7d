package api

import (
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

const maxFrameBytes = 1 << 20

// handleSSE opens an MCP session and streams its events until the client
// disconnects. POSTed connects may carry an initialize frame in the body,
// which is dispatched before streaming begins.
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	sess := h.rpc.Sessions().Open()
	defer h.rpc.Sessions().Close(sess.ID())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	endpoint := fmt.Sprintf("%s/mcp/messages?id=%s", h.publicURL, sess.ID())
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", endpoint)
	flusher.Flush()

	if r.Method == http.MethodPost {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
		if err == nil && len(body) > 0 {
			if err := h.rpc.HandleMessage(r.Context(), sess.ID(), body); err != nil {
				h.logger.Warn("inline connect frame rejected", zap.Error(err))
			}
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sess.Done():
			return
		case e := <-sess.Events():
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Name, e.Data)
			flusher.Flush()
		}
	}
}

// handleMessage accepts one JSON-RPC frame for the session named by the id
// query parameter. The response travels back over the SSE stream, so the
// HTTP reply is only an acknowledgement.
func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("id")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := h.rpc.HandleMessage(r.Context(), sessionID, body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
