package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"broker_gateway/internal/broker"
	"broker_gateway/internal/broker/ibkr/oauth"
	"broker_gateway/internal/database"
)

// TokenRepository caches live session tokens in SQLite. Token secrets are
// sealed with the Encryptor, scoped to the consumer key.
type TokenRepository struct {
	db  *database.DB
	enc *broker.Encryptor
}

var _ oauth.TokenStore = (*TokenRepository)(nil)

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(db *database.DB, enc *broker.Encryptor) *TokenRepository {
	return &TokenRepository{db: db, enc: enc}
}

// SaveToken stores tok for consumerKey, replacing any previous token.
func (r *TokenRepository) SaveToken(ctx context.Context, consumerKey string, tok *oauth.StoredToken) error {
	ciphertext, nonce, err := r.enc.Encrypt(tok.Secret, consumerKey)
	if err != nil {
		return fmt.Errorf("encrypting token: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO live_session_tokens (consumer_key, secret_ciphertext, secret_nonce, signature, issued_at, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(consumer_key) DO UPDATE SET
		    secret_ciphertext = excluded.secret_ciphertext,
		    secret_nonce = excluded.secret_nonce,
		    signature = excluded.signature,
		    issued_at = excluded.issued_at,
		    expires_at = excluded.expires_at,
		    updated_at = excluded.updated_at
	`, consumerKey, ciphertext, nonce, tok.Signature, tok.IssuedAt.UTC(), tok.ExpiresAt.UTC(), time.Now().UTC())
	return err
}

// LoadToken returns the cached token for consumerKey, or nil if none is stored.
func (r *TokenRepository) LoadToken(ctx context.Context, consumerKey string) (*oauth.StoredToken, error) {
	var ciphertext, nonce []byte
	tok := &oauth.StoredToken{}

	err := r.db.QueryRowContext(ctx, `
		SELECT secret_ciphertext, secret_nonce, signature, issued_at, expires_at
		FROM live_session_tokens
		WHERE consumer_key = ?
	`, consumerKey).Scan(&ciphertext, &nonce, &tok.Signature, &tok.IssuedAt, &tok.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	tok.Secret, err = r.enc.Decrypt(ciphertext, nonce, consumerKey)
	if err != nil {
		return nil, fmt.Errorf("decrypting token: %w", err)
	}
	return tok, nil
}

// DeleteToken removes the cached token for consumerKey.
func (r *TokenRepository) DeleteToken(ctx context.Context, consumerKey string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM live_session_tokens WHERE consumer_key = ?`, consumerKey)
	return err
}

// DeleteExpired removes tokens that expired before now.
func (r *TokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM live_session_tokens WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
