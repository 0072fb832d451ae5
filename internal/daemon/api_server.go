package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"belfry/internal/config"
	"belfry/internal/logging"
)

// APIServer exposes daemon status, processing history, and metrics over
// HTTP. The server is optional: an empty bind address disables it.
type APIServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

// NewAPIServer builds the HTTP status server. It returns nil when no bind
// address is configured.
func NewAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *APIServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	srv := &APIServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api"),
		daemon: d,
	}

	router := chi.NewRouter()
	router.Get("/api/status", srv.handleStatus)
	router.Get("/api/history", srv.handleHistory)
	if d.Metrics() != nil {
		router.Method(http.MethodGet, "/metrics", d.Metrics().Handler())
	}

	srv.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

// Start begins serving and arranges shutdown when ctx is canceled.
func (s *APIServer) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Stop shuts the server down and closes its listener.
func (s *APIServer) Stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// Addr returns the bound listener address, or "" before Start.
func (s *APIServer) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *APIServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	entries, err := s.daemon.History(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	payload := make([]historyEntry, len(entries))
	for i, entry := range entries {
		payload[i] = historyEntry{
			Doorbell:   entry.Doorbell,
			FileID:     entry.FileID,
			EventType:  entry.EventType,
			EventTime:  entry.EventTime,
			Status:     entry.Status,
			OutputPath: entry.OutputPath,
			Detail:     entry.Detail,
			Duration:   entry.Duration.String(),
			CreatedAt:  entry.CreatedAt,
		}
	}
	s.writeJSON(w, http.StatusOK, historyResponse{Entries: payload})
}

type historyEntry struct {
	Doorbell   string    `json:"doorbell"`
	FileID     string    `json:"file_id"`
	EventType  string    `json:"event_type"`
	EventTime  int64     `json:"event_time"`
	Status     string    `json:"status"`
	OutputPath string    `json:"output_path,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Duration   string    `json:"duration"`
	CreatedAt  time.Time `json:"created_at"`
}

type historyResponse struct {
	Entries []historyEntry `json:"entries"`
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("api response encode failed", logging.Error(err))
	}
}

func (s *APIServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
