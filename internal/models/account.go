package models

import "time"

// Account is a saved server login. One row per server URL; the session
// cookie is replayed on the next start so the user stays signed in.
type Account struct {
	ServerURL     string    `json:"server_url"`
	Username      string    `json:"username"`
	SessionCookie string    `json:"-"`
	LastLogin     time.Time `json:"last_login"`
}
