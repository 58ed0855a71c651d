package repository

import (
	"database/sql"
	"log"
	"time"

	"broker_gateway/internal/broker/ibkr/oauth"
	"broker_gateway/internal/database"
	apperrors "broker_gateway/internal/errors"
	"broker_gateway/internal/models"
)

const handshakeColumns = `id, attempt_id, consumer_key, attempt, status, error_class, error_message, started_at, completed_at, duration_ms, expires_at`

// HandshakeHistoryRepository handles handshake history database operations.
type HandshakeHistoryRepository struct {
	db *database.DB
}

// NewHandshakeHistoryRepository creates a new HandshakeHistoryRepository.
func NewHandshakeHistoryRepository(db *database.DB) *HandshakeHistoryRepository {
	return &HandshakeHistoryRepository{db: db}
}

// Start records a new attempt with status "started" and returns its row ID.
func (r *HandshakeHistoryRepository) Start(attemptID, consumerKey string, attempt int, startedAt time.Time) (int64, error) {
	result, err := r.db.Exec(`
		INSERT INTO handshake_history (attempt_id, consumer_key, attempt, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, attemptID, consumerKey, attempt, models.HandshakeStarted, startedAt.UTC())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// Complete marks an attempt as successful.
func (r *HandshakeHistoryRepository) Complete(attemptID string, expiresAt time.Time, elapsed time.Duration) error {
	_, err := r.db.Exec(`
		UPDATE handshake_history
		SET status = ?, completed_at = ?, duration_ms = ?, expires_at = ?
		WHERE attempt_id = ?
	`, models.HandshakeSucceeded, time.Now().UTC(), elapsed.Milliseconds(), expiresAt.UTC(), attemptID)
	return err
}

// Fail marks an attempt as failed. Only the error class and message are
// stored; neither carries key or token material.
func (r *HandshakeHistoryRepository) Fail(attemptID, errorClass, errorMsg string, elapsed time.Duration) error {
	_, err := r.db.Exec(`
		UPDATE handshake_history
		SET status = ?, error_class = ?, error_message = ?, completed_at = ?, duration_ms = ?
		WHERE attempt_id = ?
	`, models.HandshakeFailed, errorClass, errorMsg, time.Now().UTC(), elapsed.Milliseconds(), attemptID)
	return err
}

// GetByAttemptID retrieves an attempt by its attempt ID.
func (r *HandshakeHistoryRepository) GetByAttemptID(attemptID string) (*models.HandshakeRecord, error) {
	row := r.db.QueryRow(`SELECT `+handshakeColumns+` FROM handshake_history WHERE attempt_id = ?`, attemptID)
	return r.scanRecord(row)
}

// Recent retrieves the most recent attempts for a consumer key, newest first.
func (r *HandshakeHistoryRepository) Recent(consumerKey string, limit int) ([]*models.HandshakeRecord, error) {
	rows, err := r.db.Query(`
		SELECT `+handshakeColumns+`
		FROM handshake_history
		WHERE consumer_key = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, consumerKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanRecords(rows)
}

// CountByStatus returns the number of attempts with the given status.
func (r *HandshakeHistoryRepository) CountByStatus(consumerKey, status string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM handshake_history WHERE consumer_key = ? AND status = ?`, consumerKey, status).Scan(&count)
	return count, err
}

// DeleteOlderThan removes attempts started before the given time.
func (r *HandshakeHistoryRepository) DeleteOlderThan(before time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM handshake_history WHERE started_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHandshake(s scanner) (*models.HandshakeRecord, error) {
	rec := &models.HandshakeRecord{}
	var errorClass, errorMsg sql.NullString
	var completedAt, expiresAt sql.NullTime
	var durationMs sql.NullInt64

	err := s.Scan(
		&rec.ID,
		&rec.AttemptID,
		&rec.ConsumerKey,
		&rec.Attempt,
		&rec.Status,
		&errorClass,
		&errorMsg,
		&rec.StartedAt,
		&completedAt,
		&durationMs,
		&expiresAt,
	)
	if err != nil {
		return nil, err
	}

	rec.ErrorClass = errorClass.String
	rec.ErrorMessage = errorMsg.String
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}
	if durationMs.Valid {
		rec.DurationMs = durationMs.Int64
	}
	if expiresAt.Valid {
		rec.ExpiresAt = &expiresAt.Time
	}
	return rec, nil
}

func (r *HandshakeHistoryRepository) scanRecord(row *sql.Row) (*models.HandshakeRecord, error) {
	rec, err := scanHandshake(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (r *HandshakeHistoryRepository) scanRecords(rows *sql.Rows) ([]*models.HandshakeRecord, error) {
	records := make([]*models.HandshakeRecord, 0)
	for rows.Next() {
		rec, err := scanHandshake(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// HandshakeRecorder writes handshake lifecycle events to the history table.
type HandshakeRecorder struct {
	repo        *HandshakeHistoryRepository
	consumerKey string
	now         func() time.Time
}

var _ oauth.HandshakeObserver = (*HandshakeRecorder)(nil)

// NewHandshakeRecorder creates an observer recording attempts for consumerKey.
func NewHandshakeRecorder(repo *HandshakeHistoryRepository, consumerKey string) *HandshakeRecorder {
	return &HandshakeRecorder{repo: repo, consumerKey: consumerKey, now: time.Now}
}

// HandshakeStarted implements oauth.HandshakeObserver.
func (h *HandshakeRecorder) HandshakeStarted(id string, attempt int) {
	if _, err := h.repo.Start(id, h.consumerKey, attempt, h.now()); err != nil {
		log.Printf("[IBKR OAuth] Failed to record handshake %s: %v", id, err)
	}
}

// HandshakeSucceeded implements oauth.HandshakeObserver.
func (h *HandshakeRecorder) HandshakeSucceeded(id string, expiresAt time.Time, elapsed time.Duration) {
	if err := h.repo.Complete(id, expiresAt, elapsed); err != nil {
		log.Printf("[IBKR OAuth] Failed to record handshake %s: %v", id, err)
	}
}

// HandshakeFailed implements oauth.HandshakeObserver.
func (h *HandshakeRecorder) HandshakeFailed(id string, err error, elapsed time.Duration) {
	if rerr := h.repo.Fail(id, apperrors.Class(err), err.Error(), elapsed); rerr != nil {
		log.Printf("[IBKR OAuth] Failed to record handshake %s: %v", id, rerr)
	}
}
