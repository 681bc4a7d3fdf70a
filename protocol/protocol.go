package protocol

import (
	"strings"
	"time"

	"chatalk/models"
)

// Command names accepted on the wire.
const (
	CmdRegister    = "reg"
	CmdLogin       = "login"
	CmdMessage     = "message"
	CmdBroadcast   = "broadcast"
	CmdWhoseOnline = "whoseonline"
	CmdWhoLastHr   = "wholasthr"
	CmdBlock       = "block"
	CmdUnblock     = "ublock"
	CmdLogout      = "logout"
)

// Status tokens written back to clients. These are wire-compatible with the
// chatalk protocol and must not be renamed.
const (
	StatusInvalidCommand       = "invalidCommand"
	StatusUserRegistered       = "userRegistered"
	StatusUserIsLoggedIn       = "userIsLoggedIn"
	StatusUsernameExists       = "usernameAlreadyExists"
	StatusUsernameTooShort     = "usernameCannotBeLessThan3Chars"
	StatusPasswordTooShort     = "passwordCannotBeLessThan6Chars"
	StatusLoginSuccessful      = "loginSuccessful"
	StatusInvalidCredentials   = "invalidCredentials"
	StatusAccessRestricted     = "accessRestricted"
	StatusUserAlreadyLoggedIn  = "userAlreadyLoggedIn"
	StatusNotLoggedIn          = "notLoggedIn"
	StatusMessageSaved         = "messageSaved"
	StatusMessageReceived      = "messageReceived"
	StatusInvalidRecipient     = "invalidRecipient"
	StatusRecipientNotFound    = "recipientNotFound"
	StatusRecipientIsBlocked   = "recipientIsBlocked"
	StatusAuthorIsBlocked      = "authorIsBlocked"
	StatusInvalidUser          = "invalidUser"
	StatusUserNotFound         = "userNotFound"
	StatusUserAlreadyBlocked   = "userAlreadyBlocked"
	StatusUserBlocked          = "userBlocked"
	StatusUserNotBlocked       = "userNotBlocked"
	StatusUserUnblocked        = "userUnblocked"
	StatusLoggedOut            = "loggedOut"
	StatusServerError          = "serverError"
)

// Command is one parsed client line. Splitting into arguments is
// command-specific (message text keeps its spaces), so the raw line is kept.
type Command struct {
	Name string
	Line string
}

// Parse extracts the command name from a client line. The name is matched
// case-insensitively.
func Parse(line string) Command {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	name := line
	if i := strings.IndexByte(line, ' '); i >= 0 {
		name = line[:i]
	}

	return Command{
		Name: strings.ToLower(name),
		Line: line,
	}
}

// Split splits the full command line into at most n space-separated parts.
// The last part keeps any remaining spaces, which is how message and
// broadcast text survive intact.
func (c Command) Split(n int) []string {
	return strings.SplitN(c.Line, " ", n)
}

// EncodeRecord renders a chat record as a single wire line:
// kind|author|recipient|content|timestamp. Empty author or recipient render
// as empty fields. Timestamps are RFC3339 UTC.
func EncodeRecord(r *models.ChatRecord) string {
	fields := []string{
		r.Kind.String(),
		Escape(r.Author),
		Escape(r.Recipient),
		Escape(r.Content),
		r.Timestamp.UTC().Format(time.RFC3339),
	}
	return strings.Join(fields, "|")
}

// FormatList renders a set of names as one comma-separated line. Each item
// is escaped so embedded commas cannot break the list apart.
func FormatList(items []string) string {
	escaped := make([]string, 0, len(items))
	for _, item := range items {
		escaped = append(escaped, Escape(item))
	}
	return strings.Join(escaped, ",")
}

// Escape escapes protocol delimiters and line breaks inside a field.
func Escape(s string) string {
	var result strings.Builder

	for _, r := range s {
		switch r {
		case '|':
			result.WriteString("\\|")
		case ',':
			result.WriteString("\\,")
		case '\\':
			result.WriteString("\\\\")
		case '\n':
			result.WriteString("\\n")
		case '\r':
			result.WriteString("\\r")
		default:
			result.WriteRune(r)
		}
	}

	return result.String()
}

// Unescape reverses Escape. Unrecognized escapes are kept verbatim.
func Unescape(s string) string {
	var result strings.Builder
	escape := false

	for i, r := range s {
		if escape {
			switch r {
			case '|':
				result.WriteRune('|')
			case ',':
				result.WriteRune(',')
			case '\\':
				result.WriteRune('\\')
			case 'n':
				result.WriteRune('\n')
			case 'r':
				result.WriteRune('\r')
			default:
				result.WriteRune('\\')
				result.WriteRune(r)
			}
			escape = false
			continue
		}

		if r == '\\' && i < len(s)-1 {
			escape = true
			continue
		}

		result.WriteRune(r)
	}

	if escape {
		result.WriteRune('\\')
	}

	return result.String()
}
