package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"chatalk/models"
)

// SQLite is the Gateway implementation backed by a single sqlite file.
// Write transactions are serialized by sqlite itself, which gives the
// per-key atomicity the contract requires.
type SQLite struct {
	conn *sql.DB
}

var _ Gateway = (*SQLite)(nil)

func Open(path string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}

	s := &SQLite{conn: conn}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLite) Close() error {
	return s.conn.Close()
}

func (s *SQLite) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'offline',
			last_connection TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS blocks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner TEXT NOT NULL,
			blocked TEXT NOT NULL,
			UNIQUE(owner, blocked)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			kind INTEGER NOT NULL,
			author TEXT,
			recipient TEXT,
			content TEXT NOT NULL,
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_blocks_owner ON blocks(owner)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_author ON messages(author, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient, timestamp)`,
	}

	for _, query := range queries {
		if _, err := s.conn.Exec(query); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

func (s *SQLite) ListUsers() ([]models.User, error) {
	rows, err := s.conn.Query("SELECT username, password, status, last_connection FROM users")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		var status, lastConn string
		if err := rows.Scan(&u.Username, &u.Password, &status, &lastConn); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.Status = models.Status(status)
		u.LastConnection, _ = time.Parse(time.RFC3339, lastConn)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	blocks, err := s.loadBlocks()
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].Blocked = blocks[users[i].Username]
	}

	return users, nil
}

func (s *SQLite) loadBlocks() (map[string][]string, error) {
	rows, err := s.conn.Query("SELECT owner, blocked FROM blocks ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	blocks := make(map[string][]string)
	for rows.Next() {
		var owner, blocked string
		if err := rows.Scan(&owner, &blocked); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		blocks[owner] = append(blocks[owner], blocked)
	}
	return blocks, rows.Err()
}

func (s *SQLite) AddUser(u *models.User) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("add user %s: %w", u.Username, err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT INTO users (username, password, status, last_connection) VALUES (?, ?, ?, ?)",
		u.Username, string(hashed), string(u.Status), u.LastConnection.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("add user %s: %w", u.Username, err)
	}

	for _, blocked := range u.Blocked {
		if _, err := tx.Exec("INSERT INTO blocks (owner, blocked) VALUES (?, ?)", u.Username, blocked); err != nil {
			return fmt.Errorf("add user %s: %w", u.Username, err)
		}
	}

	return tx.Commit()
}

func (s *SQLite) UpdateUser(u *models.User) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("update user %s: %w", u.Username, err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		"UPDATE users SET status = ?, last_connection = ? WHERE username = ?",
		string(u.Status), u.LastConnection.UTC().Format(time.RFC3339), u.Username,
	)
	if err != nil {
		return fmt.Errorf("update user %s: %w", u.Username, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user %s: %w", u.Username, err)
	}
	if affected == 0 {
		return ErrNoRows
	}

	if _, err := tx.Exec("DELETE FROM blocks WHERE owner = ?", u.Username); err != nil {
		return fmt.Errorf("update user %s: %w", u.Username, err)
	}
	for _, blocked := range u.Blocked {
		if _, err := tx.Exec("INSERT INTO blocks (owner, blocked) VALUES (?, ?)", u.Username, blocked); err != nil {
			return fmt.Errorf("update user %s: %w", u.Username, err)
		}
	}

	return tx.Commit()
}

func (s *SQLite) Authenticate(username, password string) (bool, error) {
	var hashed string
	err := s.conn.QueryRow("SELECT password FROM users WHERE username = ?", username).Scan(&hashed)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("authenticate %s: %w", username, err)
	}

	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) == nil, nil
}

func (s *SQLite) ListMessagesVisibleTo(username string) ([]models.ChatRecord, error) {
	query := `
		SELECT id, kind, COALESCE(author, ''), COALESCE(recipient, ''), content, timestamp
		FROM messages
		WHERE (kind = ? AND recipient = ?)
		   OR (kind = ? AND (author = ? OR recipient = ?))
		   OR kind = ?
	`

	rows, err := s.conn.Query(query,
		int(models.KindServerNotice), username,
		int(models.KindDirect), username, username,
		int(models.KindBroadcast),
	)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", username, err)
	}
	defer rows.Close()

	var records []models.ChatRecord
	for rows.Next() {
		var r models.ChatRecord
		var kind int
		var ts string
		if err := rows.Scan(&r.ID, &kind, &r.Author, &r.Recipient, &r.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		r.Kind = models.RecordKind(kind)
		r.Timestamp, err = time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("parse message timestamp: %w", err)
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

func (s *SQLite) AppendMessage(r *models.ChatRecord) error {
	_, err := s.conn.Exec(
		"INSERT INTO messages (id, kind, author, recipient, content, timestamp) VALUES (?, ?, ?, ?, ?, ?)",
		r.ID, int(r.Kind), nullable(r.Author), nullable(r.Recipient),
		r.Content, r.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// nullable maps an empty author or recipient to NULL so a notice's missing
// author and a broadcast's missing recipient stay distinguishable.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
