package repository

import (
	"testing"
	"time"

	apperrors "broker_gateway/internal/errors"
	"broker_gateway/internal/models"
)

func TestHandshakeHistoryRepository_StartAndComplete(t *testing.T) {
	repo := NewHandshakeHistoryRepository(setupTestDB(t))
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	id, err := repo.Start("attempt-1", "TESTCONS", 1, started)
	if err != nil {
		t.Fatalf("Start() error = %v, want nil", err)
	}
	if id == 0 {
		t.Error("Start() returned zero ID")
	}

	expires := started.Add(24 * time.Hour)
	if err := repo.Complete("attempt-1", expires, 1500*time.Millisecond); err != nil {
		t.Fatalf("Complete() error = %v, want nil", err)
	}

	rec, err := repo.GetByAttemptID("attempt-1")
	if err != nil {
		t.Fatalf("GetByAttemptID() error = %v", err)
	}
	if rec == nil {
		t.Fatal("GetByAttemptID() = nil, want record")
	}
	if rec.Status != models.HandshakeSucceeded {
		t.Errorf("Status = %q, want %q", rec.Status, models.HandshakeSucceeded)
	}
	if rec.DurationMs != 1500 {
		t.Errorf("DurationMs = %d, want 1500", rec.DurationMs)
	}
	if rec.ExpiresAt == nil || !rec.ExpiresAt.Equal(expires) {
		t.Errorf("ExpiresAt = %v, want %v", rec.ExpiresAt, expires)
	}
	if rec.CompletedAt == nil {
		t.Error("CompletedAt = nil, want set")
	}
}

func TestHandshakeHistoryRepository_Fail(t *testing.T) {
	repo := NewHandshakeHistoryRepository(setupTestDB(t))

	if _, err := repo.Start("attempt-2", "TESTCONS", 2, time.Now()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := repo.Fail("attempt-2", "key_exchange", "server public value out of range", time.Second); err != nil {
		t.Fatalf("Fail() error = %v, want nil", err)
	}

	rec, err := repo.GetByAttemptID("attempt-2")
	if err != nil {
		t.Fatalf("GetByAttemptID() error = %v", err)
	}
	if rec.Status != models.HandshakeFailed || rec.ErrorClass != "key_exchange" {
		t.Errorf("record = %+v, want failed key_exchange", rec)
	}
	if rec.Attempt != 2 {
		t.Errorf("Attempt = %d, want 2", rec.Attempt)
	}
	if rec.ExpiresAt != nil {
		t.Error("ExpiresAt should be nil for a failed attempt")
	}
}

func TestHandshakeHistoryRepository_GetMissing(t *testing.T) {
	repo := NewHandshakeHistoryRepository(setupTestDB(t))

	rec, err := repo.GetByAttemptID("nope")
	if err != nil {
		t.Fatalf("GetByAttemptID() error = %v, want nil", err)
	}
	if rec != nil {
		t.Errorf("GetByAttemptID() = %+v, want nil", rec)
	}
}

func TestHandshakeHistoryRepository_RecentAndPrune(t *testing.T) {
	repo := NewHandshakeHistoryRepository(setupTestDB(t))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ids := []string{"a", "b", "c", "d"}
	for i, id := range ids {
		if _, err := repo.Start(id, "TESTCONS", 1, base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("Start(%s) error = %v", id, err)
		}
	}
	if _, err := repo.Start("other", "OTHERCONS", 1, base); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	recent, err := repo.Recent("TESTCONS", 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recent) != 2 || recent[0].AttemptID != "d" || recent[1].AttemptID != "c" {
		t.Errorf("Recent() = %v, want [d c]", attemptIDs(recent))
	}

	count, err := repo.CountByStatus("TESTCONS", models.HandshakeStarted)
	if err != nil {
		t.Fatalf("CountByStatus() error = %v", err)
	}
	if count != 4 {
		t.Errorf("CountByStatus() = %d, want 4", count)
	}

	deleted, err := repo.DeleteOlderThan(base.Add(90 * time.Minute))
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if deleted != 3 {
		t.Errorf("DeleteOlderThan() = %d, want 3", deleted)
	}
}

func TestHandshakeRecorder_RecordsLifecycle(t *testing.T) {
	repo := NewHandshakeHistoryRepository(setupTestDB(t))
	rec := NewHandshakeRecorder(repo, "TESTCONS")

	rec.HandshakeStarted("ok", 1)
	rec.HandshakeSucceeded("ok", time.Now().Add(time.Hour), 20*time.Millisecond)

	rec.HandshakeStarted("bad", 2)
	cause := apperrors.TokenValidation("signature mismatch")
	rec.HandshakeFailed("bad", cause, 5*time.Millisecond)

	ok, err := repo.GetByAttemptID("ok")
	if err != nil || ok == nil {
		t.Fatalf("GetByAttemptID(ok) = %v, %v", ok, err)
	}
	if ok.Status != models.HandshakeSucceeded || ok.ConsumerKey != "TESTCONS" {
		t.Errorf("ok record = %+v", ok)
	}

	bad, err := repo.GetByAttemptID("bad")
	if err != nil || bad == nil {
		t.Fatalf("GetByAttemptID(bad) = %v, %v", bad, err)
	}
	if bad.ErrorClass != "token_validation" {
		t.Errorf("ErrorClass = %q, want token_validation", bad.ErrorClass)
	}
}

func attemptIDs(recs []*models.HandshakeRecord) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.AttemptID
	}
	return ids
}
