package storage

const schema = `
-- The 'questions' table holds the trivia items of the currently installed dataset.
CREATE TABLE IF NOT EXISTS questions (
    id INTEGER PRIMARY KEY NOT NULL CHECK (id > 0),
    question TEXT NOT NULL DEFAULT '',
    answer TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT '',
    difficulty TEXT NOT NULL DEFAULT '',
    language TEXT NOT NULL DEFAULT 'es'
);

-- Lookups always filter on all three keys.
CREATE INDEX IF NOT EXISTS idx_questions_lookup ON questions(category, difficulty, language);
`

const dropSchema = `
DROP INDEX IF EXISTS idx_questions_lookup;
DROP TABLE IF EXISTS questions;
`
