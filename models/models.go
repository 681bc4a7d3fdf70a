package models

import "time"

// Status is a user's persisted presence state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// RecordKind classifies a persisted chat record.
type RecordKind int

const (
	KindServerNotice RecordKind = iota
	KindDirect
	KindBroadcast
)

func (k RecordKind) String() string {
	switch k {
	case KindServerNotice:
		return "notice"
	case KindDirect:
		return "direct"
	case KindBroadcast:
		return "broadcast"
	}
	return "unknown"
}

type User struct {
	Username       string
	Password       string // opaque credential; hashed at the store edge
	Status         Status
	LastConnection time.Time
	Blocked        []string
}

// HasBlocked reports whether the user has blocked the given username.
func (u *User) HasBlocked(username string) bool {
	for _, b := range u.Blocked {
		if b == username {
			return true
		}
	}
	return false
}

// ChatRecord is an immutable persisted message or server notice.
// Author is empty only for server notices, Recipient only for broadcasts.
type ChatRecord struct {
	ID        string
	Kind      RecordKind
	Author    string
	Recipient string
	Content   string
	Timestamp time.Time
}

// VisibleTo reports whether the record belongs in the given user's history:
// notices are addressed to one recipient, direct messages belong to both ends,
// broadcasts belong to everyone.
func (r *ChatRecord) VisibleTo(username string) bool {
	switch r.Kind {
	case KindServerNotice:
		return r.Recipient == username
	case KindDirect:
		return r.Author == username || r.Recipient == username
	case KindBroadcast:
		return true
	}
	return false
}
