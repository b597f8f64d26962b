package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/conorfennell/mentaton/internal/domain"
)

const insertPrefix = `INSERT OR REPLACE INTO questions (id, question, answer, category, difficulty, language) VALUES `

const rowPlaceholders = `(?, ?, ?, ?, ?, ?)`

// ReplaceStats summarises a ReplaceAll run.
type ReplaceStats struct {
	Inserted        int
	Skipped         int
	Batches         int
	FallbackBatches int
}

// ReplaceAll drops the questions table and rebuilds it from questions inside
// a single transaction. Rows are written in batches; a batch that fails is
// retried one record at a time and records that still fail are skipped.
// Until the transaction commits, readers keep seeing the previous table.
func (db *DB) ReplaceAll(ctx context.Context, questions []domain.Question) (ReplaceStats, error) {
	var stats ReplaceStats

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("failed to begin rebuild: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, dropSchema); err != nil {
		return stats, fmt.Errorf("failed to drop questions table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return stats, fmt.Errorf("failed to recreate questions table: %w", err)
	}

	for start := 0; start < len(questions); start += db.batchSize {
		end := min(start+db.batchSize, len(questions))
		batch := questions[start:end]
		stats.Batches++

		err := withSavepoint(ctx, tx, func() error {
			_, err := tx.ExecContext(ctx, batchStatement(len(batch)), batchArgs(batch)...)
			return err
		})
		if err == nil {
			stats.Inserted += len(batch)
			continue
		}
		if ctx.Err() != nil {
			return stats, fmt.Errorf("failed to insert batch at offset %d: %w", start, ctx.Err())
		}

		db.logger.Warn("Batch insert failed, falling back to single inserts",
			"offset", start, "size", len(batch), "error", err)
		stats.FallbackBatches++

		for _, q := range batch {
			err := withSavepoint(ctx, tx, func() error {
				_, err := tx.ExecContext(ctx, insertPrefix+rowPlaceholders, rowArgs(q)...)
				return err
			})
			if err != nil {
				db.logger.Warn("Skipping question that could not be inserted", "id", q.ID, "error", err)
				stats.Skipped++
				continue
			}
			stats.Inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("failed to commit rebuild: %w", err)
	}
	return stats, nil
}

// withSavepoint runs fn so that a failure only undoes fn's own writes.
func withSavepoint(ctx context.Context, tx *sql.Tx, fn func() error) error {
	if _, err := tx.ExecContext(ctx, `SAVEPOINT question_insert`); err != nil {
		return err
	}
	if err := fn(); err != nil {
		_, _ = tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT question_insert`)
		_, _ = tx.ExecContext(ctx, `RELEASE SAVEPOINT question_insert`)
		return err
	}
	_, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT question_insert`)
	return err
}

func batchStatement(n int) string {
	var b strings.Builder
	b.WriteString(insertPrefix)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(rowPlaceholders)
	}
	return b.String()
}

func batchArgs(batch []domain.Question) []any {
	args := make([]any, 0, len(batch)*6)
	for _, q := range batch {
		args = append(args, rowArgs(q)...)
	}
	return args
}

func rowArgs(q domain.Question) []any {
	if strings.TrimSpace(q.Language) == "" {
		q.Language = domain.DefaultLanguage
	}
	return []any{q.ID, q.Question, q.Answer, q.Category, q.Difficulty, q.Language}
}

type lookupKey struct {
	category, difficulty, language string
}

// Normalize lowercases category, difficulty and language on every row.
// Lowercasing is done in Go rather than with SQL LOWER(), which only folds
// ASCII. Running it again is a no-op.
func (db *DB) Normalize(ctx context.Context) (int, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin normalize: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT category, difficulty, language FROM questions`)
	if err != nil {
		return 0, fmt.Errorf("failed to read lookup keys: %w", err)
	}
	var stale []lookupKey
	for rows.Next() {
		var k lookupKey
		if err := rows.Scan(&k.category, &k.difficulty, &k.language); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan lookup keys: %w", err)
		}
		if k != normalizedKey(k) {
			stale = append(stale, k)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate lookup keys: %w", err)
	}

	var updated int
	for _, k := range stale {
		n := normalizedKey(k)
		res, err := tx.ExecContext(ctx, `
			UPDATE questions
			SET category = ?, difficulty = ?, language = ?
			WHERE category = ? AND difficulty = ? AND language = ?
		`, n.category, n.difficulty, n.language, k.category, k.difficulty, k.language)
		if err != nil {
			return 0, fmt.Errorf("failed to normalize %s/%s/%s: %w", k.category, k.difficulty, k.language, err)
		}
		affected, _ := res.RowsAffected()
		updated += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit normalize: %w", err)
	}
	return updated, nil
}

func normalizedKey(k lookupKey) lookupKey {
	q := domain.Question{Category: k.category, Difficulty: k.difficulty, Language: k.language}.Normalized()
	return lookupKey{category: q.Category, difficulty: q.Difficulty, language: q.Language}
}
