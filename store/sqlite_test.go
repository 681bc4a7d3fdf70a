package store

import (
	"errors"
	"os"
	"testing"
	"time"

	"chatalk/models"
)

func openTestStore(t *testing.T) (*SQLite, func()) {
	t.Helper()

	tmpfile, err := os.CreateTemp("", "chatalk-store-*.db")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	tmpfile.Close()
	os.Remove(tmpfile.Name())

	s, err := Open(tmpfile.Name())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}

	return s, func() {
		s.Close()
		os.Remove(tmpfile.Name())
	}
}

func TestAddUserAndAuthenticate(t *testing.T) {
	s, cleanup := openTestStore(t)
	defer cleanup()

	err := s.AddUser(&models.User{Username: "alice", Password: "secret1", Status: models.StatusOffline})
	if err != nil {
		t.Fatalf("AddUser failed: %v", err)
	}

	ok, err := s.Authenticate("alice", "secret1")
	if err != nil || !ok {
		t.Errorf("Expected valid credentials, got ok=%v err=%v", ok, err)
	}

	ok, err = s.Authenticate("alice", "wrongpass")
	if err != nil || ok {
		t.Errorf("Expected invalid password to fail, got ok=%v err=%v", ok, err)
	}

	ok, err = s.Authenticate("ghost", "secret1")
	if err != nil || ok {
		t.Errorf("Expected unknown user to fail, got ok=%v err=%v", ok, err)
	}

	// The stored credential is a hash, never the plaintext.
	users, err := s.ListUsers()
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("Expected 1 user, got %d", len(users))
	}
	if users[0].Password == "secret1" {
		t.Error("Plaintext credential was persisted")
	}
}

func TestAddUserDuplicate(t *testing.T) {
	s, cleanup := openTestStore(t)
	defer cleanup()

	u := &models.User{Username: "alice", Password: "secret1", Status: models.StatusOffline}
	if err := s.AddUser(u); err != nil {
		t.Fatalf("AddUser failed: %v", err)
	}
	if err := s.AddUser(u); err == nil {
		t.Error("Duplicate username must be rejected by the store")
	}
}

func TestUpdateUserReplacesBlocks(t *testing.T) {
	s, cleanup := openTestStore(t)
	defer cleanup()

	if err := s.AddUser(&models.User{Username: "alice", Password: "secret1", Status: models.StatusOffline}); err != nil {
		t.Fatalf("AddUser failed: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	err := s.UpdateUser(&models.User{
		Username:       "alice",
		Status:         models.StatusOnline,
		LastConnection: now,
		Blocked:        []string{"bob", "carol"},
	})
	if err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}

	users, err := s.ListUsers()
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	u := users[0]
	if u.Status != models.StatusOnline {
		t.Errorf("Expected online status, got %s", u.Status)
	}
	if !u.LastConnection.Equal(now) {
		t.Errorf("Expected last connection %v, got %v", now, u.LastConnection)
	}
	if len(u.Blocked) != 2 || u.Blocked[0] != "bob" || u.Blocked[1] != "carol" {
		t.Errorf("Unexpected block set: %v", u.Blocked)
	}

	// A second update replaces the whole set, it does not append.
	err = s.UpdateUser(&models.User{
		Username:       "alice",
		Status:         models.StatusOffline,
		LastConnection: now,
		Blocked:        []string{"carol"},
	})
	if err != nil {
		t.Fatalf("Second UpdateUser failed: %v", err)
	}

	users, _ = s.ListUsers()
	if got := users[0].Blocked; len(got) != 1 || got[0] != "carol" {
		t.Errorf("Expected block set [carol], got %v", got)
	}
}

func TestUpdateUserUnknown(t *testing.T) {
	s, cleanup := openTestStore(t)
	defer cleanup()

	err := s.UpdateUser(&models.User{Username: "ghost", Status: models.StatusOnline})
	if !errors.Is(err, ErrNoRows) {
		t.Errorf("Expected ErrNoRows, got %v", err)
	}
}

func TestMessageVisibility(t *testing.T) {
	s, cleanup := openTestStore(t)
	defer cleanup()

	base := time.Now().UTC().Truncate(time.Second)
	records := []models.ChatRecord{
		{ID: "n1", Kind: models.KindServerNotice, Recipient: "alice", Content: "alice notice", Timestamp: base},
		{ID: "n2", Kind: models.KindServerNotice, Recipient: "bob", Content: "bob notice", Timestamp: base},
		{ID: "d1", Kind: models.KindDirect, Author: "alice", Recipient: "bob", Content: "a to b", Timestamp: base},
		{ID: "d2", Kind: models.KindDirect, Author: "bob", Recipient: "carol", Content: "b to c", Timestamp: base},
		{ID: "b1", Kind: models.KindBroadcast, Author: "carol", Content: "everyone", Timestamp: base},
	}
	for i := range records {
		if err := s.AppendMessage(&records[i]); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	visible, err := s.ListMessagesVisibleTo("alice")
	if err != nil {
		t.Fatalf("ListMessagesVisibleTo failed: %v", err)
	}

	got := make(map[string]bool)
	for _, r := range visible {
		got[r.ID] = true
	}
	for _, id := range []string{"n1", "d1", "b1"} {
		if !got[id] {
			t.Errorf("Record %s should be visible to alice", id)
		}
	}
	for _, id := range []string{"n2", "d2"} {
		if got[id] {
			t.Errorf("Record %s should not be visible to alice", id)
		}
	}
}

func TestAppendMessageNullFields(t *testing.T) {
	s, cleanup := openTestStore(t)
	defer cleanup()

	base := time.Now().UTC().Truncate(time.Second)
	notice := models.ChatRecord{ID: "n1", Kind: models.KindServerNotice, Recipient: "alice", Content: "x", Timestamp: base}
	broadcast := models.ChatRecord{ID: "b1", Kind: models.KindBroadcast, Author: "alice", Content: "y", Timestamp: base}

	if err := s.AppendMessage(&notice); err != nil {
		t.Fatalf("AppendMessage notice failed: %v", err)
	}
	if err := s.AppendMessage(&broadcast); err != nil {
		t.Fatalf("AppendMessage broadcast failed: %v", err)
	}

	visible, err := s.ListMessagesVisibleTo("alice")
	if err != nil {
		t.Fatalf("ListMessagesVisibleTo failed: %v", err)
	}
	for _, r := range visible {
		switch r.ID {
		case "n1":
			if r.Author != "" {
				t.Errorf("Notice author should come back empty, got %q", r.Author)
			}
		case "b1":
			if r.Recipient != "" {
				t.Errorf("Broadcast recipient should come back empty, got %q", r.Recipient)
			}
		}
	}
}
