// Package store is the persistence gateway for user records and the chat
// log. The rest of the server only sees the Gateway interface; the sqlite
// implementation keeps every logical update atomic per call.
package store

import (
	"errors"

	"chatalk/models"
)

var ErrNoRows = errors.New("no rows found")

// Gateway is the narrow persistence contract consumed by the server core.
// Every method is atomic per call: a concurrent UpdateUser on the same
// username never interleaves into a lost update.
type Gateway interface {
	// ListUsers returns every user record, block sets included.
	ListUsers() ([]models.User, error)

	// AddUser creates a user. The plaintext credential in u.Password is
	// hashed before it is persisted.
	AddUser(u *models.User) error

	// UpdateUser replaces the stored record matching u.Username, block set
	// included. The credential is never touched after registration.
	// Returns ErrNoRows for an unknown username.
	UpdateUser(u *models.User) error

	// Authenticate reports whether the credentials match a stored user.
	Authenticate(username, password string) (bool, error)

	// ListMessagesVisibleTo returns the chat records belonging to the
	// user's history: notices addressed to them, direct messages they sent
	// or received, and all broadcasts. No ordering is guaranteed.
	ListMessagesVisibleTo(username string) ([]models.ChatRecord, error)

	// AppendMessage persists exactly one chat record.
	AppendMessage(r *models.ChatRecord) error

	Close() error
}
