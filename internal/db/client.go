// Package db is the client-side state store: saved accounts and UI
// preferences in a local sqlite file. Conversation messages are never
// persisted here; history is server-authoritative and fetched per
// session.
package db

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/Nitirit/GigaChat-App/internal/models"
)

// StateDB handles client-side persistence.
type StateDB struct {
	db *sql.DB
}

// Open opens or creates the state database at path.
func Open(path string) (*StateDB, error) {
	db, err := sql.Open("sqlite3", path+"?_fk=on")
	if err != nil {
		return nil, errors.Wrap(err, "open state database")
	}

	s := &StateDB{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate state database")
	}
	return s, nil
}

// Close closes the database connection.
func (s *StateDB) Close() error {
	return s.db.Close()
}

func (s *StateDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			server_url TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			session_cookie TEXT NOT NULL DEFAULT '',
			last_login DATETIME
		);

		CREATE TABLE IF NOT EXISTS preferences (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveAccount adds or updates the account for a server.
func (s *StateDB) SaveAccount(serverURL, username, sessionCookie string) (*models.Account, error) {
	now := time.Now().UTC()

	_, err := s.db.Exec(`
		INSERT INTO accounts (server_url, username, session_cookie, last_login)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(server_url) DO UPDATE SET
			username = excluded.username,
			session_cookie = excluded.session_cookie,
			last_login = excluded.last_login
	`, serverURL, username, sessionCookie, now)
	if err != nil {
		return nil, err
	}

	return s.Account(serverURL)
}

// Account returns the saved account for a server, or nil when none is
// saved.
func (s *StateDB) Account(serverURL string) (*models.Account, error) {
	var a models.Account
	var lastLogin sql.NullTime
	err := s.db.QueryRow(`
		SELECT server_url, username, session_cookie, last_login
		FROM accounts WHERE server_url = ?
	`, serverURL).Scan(&a.ServerURL, &a.Username, &a.SessionCookie, &lastLogin)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		a.LastLogin = lastLogin.Time
	}
	return &a, nil
}

// Accounts returns all saved accounts, most recently used first.
func (s *StateDB) Accounts() ([]models.Account, error) {
	rows, err := s.db.Query(`
		SELECT server_url, username, session_cookie, last_login
		FROM accounts ORDER BY last_login DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var a models.Account
		var lastLogin sql.NullTime
		if err := rows.Scan(&a.ServerURL, &a.Username, &a.SessionCookie, &lastLogin); err != nil {
			return nil, err
		}
		if lastLogin.Valid {
			a.LastLogin = lastLogin.Time
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// DeleteAccount removes a saved account, e.g. on logout.
func (s *StateDB) DeleteAccount(serverURL string) error {
	_, err := s.db.Exec(`DELETE FROM accounts WHERE server_url = ?`, serverURL)
	return err
}

// GetPreference retrieves a preference value; absent keys read as "".
func (s *StateDB) GetPreference(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetPreference sets a preference value.
func (s *StateDB) SetPreference(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}
