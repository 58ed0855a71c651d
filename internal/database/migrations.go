package database

// SQL migrations for the gateway database.
// All migrations use IF NOT EXISTS to be idempotent.

// migrationLiveSessionTokens caches the current live session token per consumer
// key so a restart can skip the handshake. The token secret is stored encrypted.
const migrationLiveSessionTokens = `
CREATE TABLE IF NOT EXISTS live_session_tokens (
    consumer_key TEXT PRIMARY KEY,
    secret_ciphertext BLOB NOT NULL,
    secret_nonce BLOB NOT NULL,
    signature TEXT NOT NULL,
    issued_at DATETIME NOT NULL,
    expires_at DATETIME NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// migrationHandshakeHistory records every handshake attempt for auditing
const migrationHandshakeHistory = `
CREATE TABLE IF NOT EXISTS handshake_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    attempt_id TEXT NOT NULL UNIQUE,
    consumer_key TEXT NOT NULL,
    attempt INTEGER NOT NULL DEFAULT 1,
    status TEXT NOT NULL,
    error_class TEXT,
    error_message TEXT,
    started_at DATETIME NOT NULL,
    completed_at DATETIME,
    duration_ms INTEGER,
    expires_at DATETIME
);
`

const migrationIndexes = `
CREATE INDEX IF NOT EXISTS idx_handshake_history_consumer ON handshake_history(consumer_key);
CREATE INDEX IF NOT EXISTS idx_handshake_history_started ON handshake_history(started_at);
CREATE INDEX IF NOT EXISTS idx_live_session_tokens_expires ON live_session_tokens(expires_at);
`
