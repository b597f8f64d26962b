package domain

import "strings"

// DefaultLanguage is used for dataset records that carry no language.
const DefaultLanguage = "es"

// Question represents a single trivia item as stored locally.
type Question struct {
	ID         int64  `json:"id"`
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	Category   string `json:"category"`
	Difficulty string `json:"difficulty"`
	Language   string `json:"language"`
}

// Normalized returns a copy of q with the lookup fields lowercased.
func (q Question) Normalized() Question {
	q.Category = NormalizeKey(q.Category)
	q.Difficulty = NormalizeKey(q.Difficulty)
	q.Language = NormalizeKey(q.Language)
	if q.Language == "" {
		q.Language = DefaultLanguage
	}
	return q
}

// NormalizeKey lowercases and trims a category, difficulty or language value
// so that stored rows and query predicates compare equal.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Manifest is the small remote document advertising the current content
// version and where to download it from.
type Manifest struct {
	Version      float64 `json:"version" validate:"gte=0"`
	QuestionsURL string  `json:"questions_url,omitempty"`
}

// CategoryCount is a category together with the number of stored questions.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}
