package store

import (
	"testing"
	"time"
)

func TestSessionCreate(t *testing.T) {
	db := setupTestDB(t)
	ss := NewSessionStore(db)
	uid := createTestUser(t, db, "alice@example.com")

	sess, err := ss.Create(uid)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if len(sess.Token) != 64 { // 32 bytes hex-encoded
		t.Errorf("token length = %d, want 64", len(sess.Token))
	}
	if sess.UserID != uid {
		t.Errorf("user_id = %d, want %d", sess.UserID, uid)
	}
}

func TestSessionGetByToken(t *testing.T) {
	db := setupTestDB(t)
	ss := NewSessionStore(db)
	uid := createTestUser(t, db, "alice@example.com")
	created, _ := ss.Create(uid)

	sess, err := ss.GetByToken(created.Token)
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if sess == nil {
		t.Fatal("expected session, got nil")
	}
	if sess.ID != created.ID {
		t.Errorf("id = %d, want %d", sess.ID, created.ID)
	}

	missing, err := ss.GetByToken("nonexistent")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for nonexistent token")
	}
}

func TestSessionExpired(t *testing.T) {
	db := setupTestDB(t)
	ss := NewSessionStore(db)
	uid := createTestUser(t, db, "alice@example.com")
	created, _ := ss.Create(uid)

	past := time.Now().UTC().Add(-time.Hour)
	if _, err := db.Exec(`UPDATE sessions SET expires_at = ? WHERE id = ?`, past, created.ID); err != nil {
		t.Fatalf("expire session: %v", err)
	}

	sess, err := ss.GetByToken(created.Token)
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if sess != nil {
		t.Error("expected nil for expired session")
	}

	n, err := ss.DeleteExpired()
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
}

func TestSessionDelete(t *testing.T) {
	db := setupTestDB(t)
	ss := NewSessionStore(db)
	uid := createTestUser(t, db, "alice@example.com")
	created, _ := ss.Create(uid)

	if err := ss.Delete(created.Token); err != nil {
		t.Fatalf("delete: %v", err)
	}

	sess, err := ss.GetByToken(created.Token)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if sess != nil {
		t.Error("expected nil after delete")
	}
}
