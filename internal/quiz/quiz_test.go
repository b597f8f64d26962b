package quiz

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/conorfennell/mentaton/internal/domain"
	"github.com/conorfennell/mentaton/internal/storage"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type failingStore struct{}

func (failingStore) QueryRandom(ctx context.Context, category, difficulty, language string) (*domain.Question, error) {
	return nil, errors.New("no such table: questions")
}

func (failingStore) Categories(ctx context.Context, language string) ([]domain.CategoryCount, error) {
	return nil, errors.New("no such table: questions")
}

type recordingStore struct {
	category, difficulty, language string
}

func (r *recordingStore) QueryRandom(ctx context.Context, category, difficulty, language string) (*domain.Question, error) {
	r.category, r.difficulty, r.language = category, difficulty, language
	return &domain.Question{ID: 1}, nil
}

func (r *recordingStore) Categories(ctx context.Context, language string) ([]domain.CategoryCount, error) {
	r.language = language
	return nil, nil
}

func TestLookupLowercasesInputs(t *testing.T) {
	rec := &recordingStore{}
	svc := NewService(rec, quietLogger)

	if _, err := svc.Lookup(context.Background(), "Arte", " FACIL ", "ES"); err != nil {
		t.Fatalf("Lookup() returned an unexpected error: %v", err)
	}
	if rec.category != "arte" || rec.difficulty != "facil" || rec.language != "es" {
		t.Errorf("Expected lowercased predicate, got %s/%s/%s", rec.category, rec.difficulty, rec.language)
	}
}

func TestGetRandomQuestion(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(filepath.Join(t.TempDir(), "questions.db"))
	if err != nil {
		t.Fatalf("Open() returned an unexpected error: %v", err)
	}
	defer db.Close()
	if _, err := db.ReplaceAll(ctx, []domain.Question{
		{ID: 1, Question: "Q", Answer: "A", Category: "arte", Difficulty: "facil", Language: "es"},
	}); err != nil {
		t.Fatalf("ReplaceAll() returned an unexpected error: %v", err)
	}
	svc := NewService(db, quietLogger)

	t.Run("match", func(t *testing.T) {
		q := svc.GetRandomQuestion(ctx, "ARTE", "Facil", "Es")
		if q == nil || q.Answer != "A" {
			t.Fatalf("Expected question with answer 'A', got %v", q)
		}
	})

	t.Run("no match", func(t *testing.T) {
		if q := svc.GetRandomQuestion(ctx, "ciencia", "facil", "es"); q != nil {
			t.Errorf("Expected nil, got %v", q)
		}
		if _, err := svc.Lookup(ctx, "ciencia", "facil", "es"); !errors.Is(err, ErrNoQuestion) {
			t.Errorf("Expected ErrNoQuestion, got %v", err)
		}
	})
}

func TestGetRandomQuestionSwallowsStoreErrors(t *testing.T) {
	ctx := context.Background()

	for name, svc := range map[string]*Service{
		"failing store": NewService(failingStore{}, quietLogger),
		"no store":      NewService(nil, quietLogger),
	} {
		t.Run(name, func(t *testing.T) {
			if q := svc.GetRandomQuestion(ctx, "arte", "facil", "es"); q != nil {
				t.Errorf("Expected nil, got %v", q)
			}
			if _, err := svc.Lookup(ctx, "arte", "facil", "es"); !errors.Is(err, ErrStoreUnavailable) {
				t.Errorf("Expected ErrStoreUnavailable, got %v", err)
			}
			if _, err := svc.Categories(ctx, "es"); !errors.Is(err, ErrStoreUnavailable) {
				t.Errorf("Expected ErrStoreUnavailable, got %v", err)
			}
		})
	}
}

func TestGetRandomQuestionAfterClose(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "questions.db"))
	if err != nil {
		t.Fatalf("Open() returned an unexpected error: %v", err)
	}
	db.Close()

	svc := NewService(db, quietLogger)
	if q := svc.GetRandomQuestion(context.Background(), "arte", "facil", "es"); q != nil {
		t.Errorf("Expected nil from a closed store, got %v", q)
	}
}
