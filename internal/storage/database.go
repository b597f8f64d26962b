package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "modernc.org/sqlite" // Registers the sqlite driver

	"github.com/conorfennell/mentaton/internal/domain"
)

// pragmas keep readers on the previous snapshot while a rebuild is in progress.
const pragmas = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// DefaultBatchSize bounds the number of rows sent in one INSERT statement.
const DefaultBatchSize = 200

// DB represents a wrapper around the SQL database connection.
type DB struct {
	conn      *sql.DB
	path      string
	logger    *slog.Logger
	batchSize int
}

// Option configures a DB at Open time.
type Option func(*DB)

// WithLogger sets the logger used for per-record insert warnings.
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) {
		if l != nil {
			db.logger = l
		}
	}
}

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(db *DB) {
		if n > 0 {
			db.batchSize = n
		}
	}
}

// Exists reports whether a store file is present at path. Opening a store
// creates the file, so callers that care must check first.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Remove deletes the store file and its WAL side files.
func Remove(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}

// Open creates a new database connection and ensures the schema is up to date.
func Open(path string, opts ...Option) (*DB, error) {
	conn, err := sql.Open("sqlite", path+pragmas)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn, path: path, logger: slog.Default(), batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(db)
	}
	ctx := context.Background()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the file the store was opened from.
func (db *DB) Path() string {
	return db.path
}

// EnsureSchema creates the questions table if it does not exist yet. It never
// touches existing rows.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping verifies that the store is reachable and the questions table can be read.
func (db *DB) Ping(ctx context.Context) error {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions LIMIT 1`).Scan(&n); err != nil {
		return fmt.Errorf("failed to probe questions table: %w", err)
	}
	return nil
}

// Count returns the number of stored questions.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count questions: %w", err)
	}
	return n, nil
}

// QueryRandom returns one question matching all three keys, chosen at random
// among the matches. It returns nil when nothing matches. The keys are
// compared as given; callers lowercase them first.
func (db *DB) QueryRandom(ctx context.Context, category, difficulty, language string) (*domain.Question, error) {
	var q domain.Question
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, question, answer, category, difficulty, language
		FROM questions
		WHERE category = ? AND difficulty = ? AND language = ?
		ORDER BY RANDOM() LIMIT 1
	`, category, difficulty, language)

	err := row.Scan(&q.ID, &q.Question, &q.Answer, &q.Category, &q.Difficulty, &q.Language)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // No matching question
		}
		return nil, fmt.Errorf("failed to query random question (%s/%s/%s): %w", category, difficulty, language, err)
	}
	return &q, nil
}

// FindByID retrieves a question by its identifier.
func (db *DB) FindByID(ctx context.Context, id int64) (*domain.Question, error) {
	var q domain.Question
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, question, answer, category, difficulty, language
		FROM questions WHERE id = ?
	`, id)

	err := row.Scan(&q.ID, &q.Question, &q.Answer, &q.Category, &q.Difficulty, &q.Language)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find question %d: %w", id, err)
	}
	return &q, nil
}

// Categories lists the distinct categories available in a language, with the
// number of questions in each. An empty language lists every language.
func (db *DB) Categories(ctx context.Context, language string) ([]domain.CategoryCount, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT category, COUNT(*)
		FROM questions
		WHERE ? = '' OR language = ?
		GROUP BY category
		ORDER BY category
	`, language, language)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []domain.CategoryCount
	for rows.Next() {
		var c domain.CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan category row: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate categories: %w", err)
	}
	return categories, nil
}
