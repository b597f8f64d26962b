package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/conorfennell/mentaton/internal/domain"
	"github.com/conorfennell/mentaton/internal/ledger"
	"github.com/conorfennell/mentaton/internal/quiz"
	"github.com/conorfennell/mentaton/internal/storage"
	"github.com/conorfennell/mentaton/internal/sync"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := storage.Open(filepath.Join(dir, "questions.db"))
	if err != nil {
		t.Fatalf("Open() returned an unexpected error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.ReplaceAll(ctx, []domain.Question{
		{ID: 1, Question: "Q", Answer: "A", Category: "arte", Difficulty: "facil", Language: "es"},
		{ID: 2, Question: "Q2", Answer: "A2", Category: "historia", Difficulty: "facil", Language: "es"},
	}); err != nil {
		t.Fatalf("ReplaceAll() returned an unexpected error: %v", err)
	}

	l := ledger.New(filepath.Join(dir, "version.yaml"))
	if err := l.SetApplied(2, "abc"); err != nil {
		t.Fatal(err)
	}

	outcome := sync.Outcome{Status: sync.Updated, RemoteVersion: 2, Version: 2}
	return NewServer(quiz.NewService(db, quietLogger), db, l, outcome, quietLogger)
}

func TestHandleRandomQuestion(t *testing.T) {
	s := newTestServer(t)

	testCases := []struct {
		name       string
		target     string
		wantStatus int
		wantAnswer string
	}{
		{name: "match", target: "/questions/random?category=Arte&difficulty=FACIL&language=es", wantStatus: http.StatusOK, wantAnswer: "A"},
		{name: "no match", target: "/questions/random?category=ciencia&difficulty=facil&language=es", wantStatus: http.StatusNotFound},
		{name: "missing params", target: "/questions/random", wantStatus: http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.target, nil))

			if rec.Code != tc.wantStatus {
				t.Fatalf("Expected status %d, got %d: %s", tc.wantStatus, rec.Code, rec.Body.String())
			}
			if tc.wantAnswer == "" {
				return
			}
			var q domain.Question
			if err := json.Unmarshal(rec.Body.Bytes(), &q); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if q.Answer != tc.wantAnswer {
				t.Errorf("Expected answer '%s', got '%s'", tc.wantAnswer, q.Answer)
			}
		})
	}
}

func TestHandleRandomQuestionRejectsPost(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/questions/random", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestHandleCategories(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/categories?language=ES", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var body struct {
		Categories []domain.CategoryCount `json:"categories"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(body.Categories) != 2 || body.Categories[0].Category != "arte" {
		t.Errorf("Unexpected categories %v", body.Categories)
	}
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var body statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body.Version != 2 || body.Questions != 2 || body.StartupSync != "updated" || body.Digest != "abc" {
		t.Errorf("Unexpected status %+v", body)
	}
}

type brokenStore struct{}

func (brokenStore) QueryRandom(ctx context.Context, category, difficulty, language string) (*domain.Question, error) {
	return nil, errors.New("disk I/O error")
}

func (brokenStore) Categories(ctx context.Context, language string) ([]domain.CategoryCount, error) {
	return nil, errors.New("disk I/O error")
}

func (brokenStore) Count(ctx context.Context) (int, error) {
	return 0, errors.New("disk I/O error")
}

func TestHandlersWithBrokenStore(t *testing.T) {
	l := ledger.New(filepath.Join(t.TempDir(), "version.yaml"))
	s := NewServer(quiz.NewService(brokenStore{}, quietLogger), brokenStore{}, l, sync.Outcome{}, quietLogger)

	for target, want := range map[string]int{
		"/questions/random?category=arte&difficulty=facil&language=es": http.StatusServiceUnavailable,
		"/categories": http.StatusServiceUnavailable,
		"/status":     http.StatusServiceUnavailable,
		"/healthz":    http.StatusNoContent,
	} {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != want {
			t.Errorf("%s: expected %d, got %d", target, want, rec.Code)
		}
	}
}
