package boundary

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mattercertis/crawlcore/telemetry"
)

// HTTPServer is the thin otelhttp-instrumented admin surface SPEC_FULL.md
// §11 wires up: /healthz and /crawl/state, plus POST endpoints for the
// boundary commands. Grounded on the teacher's BaseAgent.Start/Stop
// pattern in core/agent.go: a *http.ServeMux built up front, wrapped once
// in a tracing middleware, served behind a *http.Server with a bounded
// graceful Shutdown.
type HTTPServer struct {
	cmds   *Server
	server *http.Server
}

// NewHTTPServer builds the admin server bound to addr. serviceName is
// passed to telemetry.TracingMiddleware the same way the teacher's
// BaseAgent names its own tracing spans after the agent.
func NewHTTPServer(cmds *Server, addr, serviceName string) *HTTPServer {
	mux := http.NewServeMux()
	h := &HTTPServer{cmds: cmds}

	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/crawl/state", h.handleState)
	mux.HandleFunc("/crawl/status", h.handleStatus)
	mux.HandleFunc("/crawl/start", h.handleStart)
	mux.HandleFunc("/crawl/pause", h.handlePause)
	mux.HandleFunc("/crawl/resume", h.handleResume)
	mux.HandleFunc("/crawl/cancel", h.handleCancel)

	var handler http.Handler = mux
	handler = telemetry.TracingMiddleware(serviceName)(handler)

	h.server = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return h
}

// ListenAndServe blocks serving until Shutdown is called or the listener
// fails, mirroring BaseAgent.Start's "configure then block" shape.
func (h *HTTPServer) ListenAndServe() error {
	if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server within ctx's deadline, mirroring
// BaseAgent.Stop.
func (h *HTTPServer) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *HTTPServer) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cmds.GetState())
}

func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.cmds.AnalyzeSystemStatus(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	profile := r.URL.Query().Get("profile")
	if err := h.cmds.StartCrawling(profile); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *HTTPServer) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := h.cmds.Pause(r.URL.Query().Get("reason")); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (h *HTTPServer) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := h.cmds.Resume(); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (h *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	if err := h.cmds.Cancel(force); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}
