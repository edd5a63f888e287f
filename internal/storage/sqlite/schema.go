package sqlite

// Schema creates the diary tables. All statements are idempotent.
// Timestamps are stored as Unix nanoseconds (UTC) so ordering is exact.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL
);

-- Key/value profile: consent flag, onboarding answers, completion marker
CREATE TABLE IF NOT EXISTS profile_fields (
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    key TEXT NOT NULL,
    value TEXT NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (user_id, key)
);

CREATE TABLE IF NOT EXISTS quick_profiles (
    user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    alias TEXT NOT NULL,
    occupation TEXT NOT NULL,
    social_circle TEXT NOT NULL,
    life_focus TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Append-only journal; seq breaks ties between equal timestamps
CREATE TABLE IF NOT EXISTS entries (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    content TEXT NOT NULL,
    ai_response TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_user_created ON entries(user_id, created_at, seq);

CREATE TABLE IF NOT EXISTS tags (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    entry_id TEXT NOT NULL REFERENCES entries(id) ON DELETE CASCADE,
    tag_type TEXT NOT NULL,
    tag_value TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tags_entry ON tags(entry_id);
`
