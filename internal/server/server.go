// Package server exposes the agent over HTTP: one streamed endpoint for
// messages plus conversation deletion and health.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bowerhall/mira/internal/agent"
	"github.com/bowerhall/mira/internal/apperr"
	"github.com/bowerhall/mira/internal/logger"
	"github.com/bowerhall/mira/internal/memory"
	"github.com/bowerhall/mira/internal/status"
	"github.com/bowerhall/mira/internal/stream"
)

const maxBodyBytes = 1 << 20

// BackfillStats reports the embedding backfill schedule.
type BackfillStats interface {
	Stats() (lastRun, nextRun time.Time, filled int)
}

type Server struct {
	agent    *agent.Agent
	status   *status.Checker
	backfill BackfillStats
	mux      *http.ServeMux
	http     *http.Server
}

func New(addr string, a *agent.Agent, checker *status.Checker) *Server {
	s := &Server{agent: a, status: checker, mux: http.NewServeMux()}

	s.mux.HandleFunc("POST /message", s.handleMessage)
	s.mux.HandleFunc("DELETE /conversations/{id}", s.handleDeleteConversation)
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// SetBackfill adds the backfill schedule to the health report.
func (s *Server) SetBackfill(b BackfillStats) {
	s.backfill = b
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe() error {
	logger.Info("server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type messageRequest struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversationId,omitempty"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var body messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(body.Content) == "" {
		writeError(w, http.StatusBadRequest, "Missing content")
		return
	}

	turn, err := s.agent.Prepare(r.Context(), agent.Request{
		Content:        body.Content,
		Hostname:       requestHostname(r),
		ConversationID: body.ConversationID,
	})
	switch {
	case err == nil:
	case apperr.IsKind(err, apperr.KindValidation):
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	case errors.Is(err, memory.ErrNotFound):
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}

	setStreamHeaders(w)

	if err != nil {
		logger.Warn("message rejected", "error", err)
		sw := stream.NewWriter(w)
		_ = sw.WriteError(agent.ClientMessage(err))
		sw.Close()
		return
	}

	w.Header().Set("X-Conversation-Id", turn.ConversationID())
	w.WriteHeader(http.StatusOK)

	if err := turn.Run(r.Context(), w); err != nil {
		logger.Debug("message stream ended with error", "conversation", turn.ConversationID(), "error", err)
	}
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	err := s.agent.ForgetConversation(r.Context(), id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, agent.ErrConversationBusy):
		writeError(w, http.StatusConflict, "Conversation busy")
	default:
		logger.Error("delete conversation failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

type healthResponse struct {
	status.Report
	Agent    agent.Status    `json:"agent"`
	Backfill *backfillStatus `json:"backfill,omitempty"`
}

type backfillStatus struct {
	LastRun *time.Time `json:"lastRun,omitempty"`
	NextRun *time.Time `json:"nextRun,omitempty"`
	Filled  int        `json:"filled"`
}

func newBackfillStatus(b BackfillStats) *backfillStatus {
	last, next, filled := b.Stats()

	bs := &backfillStatus{Filled: filled}
	if !last.IsZero() {
		bs.LastRun = &last
	}
	if !next.IsZero() {
		bs.NextRun = &next
	}
	return bs
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.status.Report(r.Context())

	code := http.StatusOK
	if !report.Healthy {
		code = http.StatusServiceUnavailable
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(code)
		w.Write([]byte(strings.Join(report.Lines(), "\n") + "\n"))
		return
	}

	resp := healthResponse{Report: report, Agent: s.agent.Status()}
	if s.backfill != nil {
		resp.Backfill = newBackfillStatus(s.backfill)
	}

	writeJSON(w, code, resp)
}

// requestHostname identifies the caller the way the message store keys
// users: the request host without its port.
func requestHostname(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host
}

func setStreamHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Vercel-AI-Data-Stream", "v1")
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorResponse{Status: "error", Message: message})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
