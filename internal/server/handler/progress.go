package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// keepAliveInterval paces SSE comment frames that keep proxies from closing
// idle streams.
const keepAliveInterval = 15 * time.Second

// ProgressSource opens per-client progress streams.
type ProgressSource interface {
	Subscribe(clientID string) (<-chan string, func())
}

// ProgressHandler streams progress milestones as Server-Sent Events.
type ProgressHandler struct {
	source ProgressSource
	logger *slog.Logger
}

// NewProgressHandler creates a ProgressHandler.
func NewProgressHandler(source ProgressSource, logger *slog.Logger) *ProgressHandler {
	return &ProgressHandler{source: source, logger: logHandler(logger, "progress")}
}

// Stream holds the connection open and writes one "data:" event per
// milestone until the client disconnects.
// GET /progress/{clientId}
func (h *ProgressHandler) Stream(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("clientId")
	if clientID == "" {
		writeError(w, http.StatusBadRequest, "clientId is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	msgs, unsubscribe := h.source.Subscribe(clientID)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.DebugContext(r.Context(), "progress stream opened", slog.String("client_id", clientID))

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.DebugContext(r.Context(), "progress stream closed", slog.String("client_id", clientID))
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", sseEscape(msg)); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// sseEscape keeps a multi-line message inside one event.
func sseEscape(msg string) string {
	return strings.ReplaceAll(msg, "\n", "\ndata: ")
}
