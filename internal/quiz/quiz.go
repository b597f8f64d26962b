// Package quiz is the read API used by the presentation layer.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/conorfennell/mentaton/internal/domain"
)

var (
	// ErrNoQuestion means the store holds no question for the selection.
	ErrNoQuestion = errors.New("no question available")
	// ErrStoreUnavailable means the store could not be queried.
	ErrStoreUnavailable = errors.New("question store unavailable")
)

// Store is the subset of the question store used for lookups.
type Store interface {
	QueryRandom(ctx context.Context, category, difficulty, language string) (*domain.Question, error)
	Categories(ctx context.Context, language string) ([]domain.CategoryCount, error)
}

// Service serves random questions from a store.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService returns a Service. A nil store yields a service whose lookups
// all report ErrStoreUnavailable.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Lookup returns a random question for the selection. Inputs are matched
// case-insensitively.
func (s *Service) Lookup(ctx context.Context, category, difficulty, language string) (*domain.Question, error) {
	if s.store == nil {
		return nil, ErrStoreUnavailable
	}

	category = domain.NormalizeKey(category)
	difficulty = domain.NormalizeKey(difficulty)
	language = domain.NormalizeKey(language)

	q, err := s.store.QueryRandom(ctx, category, difficulty, language)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if q == nil {
		return nil, ErrNoQuestion
	}
	return q, nil
}

// GetRandomQuestion is Lookup with every failure mapped to nil. Causes are
// logged, never returned.
func (s *Service) GetRandomQuestion(ctx context.Context, category, difficulty, language string) *domain.Question {
	q, err := s.Lookup(ctx, category, difficulty, language)
	if err != nil {
		if !errors.Is(err, ErrNoQuestion) {
			s.logger.Error("Failed to get random question",
				"category", category, "difficulty", difficulty, "language", language, "error", err)
		} else {
			s.logger.Debug("No question for selection",
				"category", category, "difficulty", difficulty, "language", language)
		}
		return nil
	}
	return q
}

// Categories lists the categories available in a language.
func (s *Service) Categories(ctx context.Context, language string) ([]domain.CategoryCount, error) {
	if s.store == nil {
		return nil, ErrStoreUnavailable
	}
	cats, err := s.store.Categories(ctx, domain.NormalizeKey(language))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return cats, nil
}
