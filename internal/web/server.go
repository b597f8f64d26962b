package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/conorfennell/mentaton/internal/domain"
	"github.com/conorfennell/mentaton/internal/ledger"
	"github.com/conorfennell/mentaton/internal/quiz"
	"github.com/conorfennell/mentaton/internal/sync"
)

// Counter reports how many questions are stored.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// Snapshotter reads the version ledger.
type Snapshotter interface {
	Snapshot() (ledger.Entry, error)
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	quiz    *quiz.Service
	store   Counter
	ledger  Snapshotter
	outcome sync.Outcome
	router  *http.ServeMux
	logger  *slog.Logger
}

// NewServer creates and configures a new server. outcome is the result of the
// start-up sync and is reported by /status.
func NewServer(q *quiz.Service, store Counter, l Snapshotter, outcome sync.Outcome, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		quiz:    q,
		store:   store,
		ledger:  l,
		outcome: outcome,
		router:  http.NewServeMux(),
		logger:  logger,
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.HandleFunc("GET /questions/random", s.handleRandomQuestion())
	s.router.HandleFunc("GET /categories", s.handleCategories())
	s.router.HandleFunc("GET /status", s.handleStatus())
	s.router.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleRandomQuestion serves one random question for the selection.
func (s *Server) handleRandomQuestion() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		q, err := s.quiz.Lookup(r.Context(), query.Get("category"), query.Get("difficulty"), query.Get("language"))
		switch {
		case errors.Is(err, quiz.ErrNoQuestion):
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": quiz.ErrNoQuestion.Error()})
			return
		case err != nil:
			s.logger.Error("Error looking up question", "error", err)
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": quiz.ErrStoreUnavailable.Error()})
			return
		}
		s.writeJSON(w, http.StatusOK, q)
	}
}

// handleCategories lists the categories for a language.
func (s *Server) handleCategories() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cats, err := s.quiz.Categories(r.Context(), r.URL.Query().Get("language"))
		if err != nil {
			s.logger.Error("Error listing categories", "error", err)
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": quiz.ErrStoreUnavailable.Error()})
			return
		}
		if cats == nil {
			cats = []domain.CategoryCount{}
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"categories": cats})
	}
}

type statusResponse struct {
	Version       float64    `json:"version"`
	Digest        string     `json:"dataset_sha256,omitempty"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
	Questions     int        `json:"questions"`
	StartupSync   string     `json:"startup_sync"`
	RemoteVersion float64    `json:"remote_version,omitempty"`
	SyncError     string     `json:"sync_error,omitempty"`
}

// handleStatus reports the installed version and store size.
func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, err := s.ledger.Snapshot()
		if err != nil {
			s.logger.Error("Error reading version ledger", "error", err)
			s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "version ledger unreadable"})
			return
		}
		n, err := s.store.Count(r.Context())
		if err != nil {
			s.logger.Error("Error counting questions", "error", err)
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": quiz.ErrStoreUnavailable.Error()})
			return
		}

		resp := statusResponse{
			Version:       entry.Version,
			Digest:        entry.Digest,
			Questions:     n,
			StartupSync:   s.outcome.Status.String(),
			RemoteVersion: s.outcome.RemoteVersion,
		}
		if !entry.UpdatedAt.IsZero() {
			resp.UpdatedAt = &entry.UpdatedAt
		}
		if s.outcome.Err != nil {
			resp.SyncError = s.outcome.Err.Error()
		}
		s.writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Error writing response", "error", err)
	}
}
