// Package admin authenticates operators of the admin endpoints with
// bearer-token sessions held in memory. Sessions do not survive a restart.
package admin

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrInvalidCredentials is returned by Login when username or password is wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Session is an authenticated admin session.
type Session struct {
	Username     string    `json:"username"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Auth issues and validates session tokens for a single configured operator.
type Auth struct {
	username string
	password string
	timeout  time.Duration

	mu       sync.Mutex
	sessions map[string]*Session

	now func() time.Time
}

// New creates an Auth for the configured credentials. timeout bounds how
// long a session stays valid after login.
func New(username, password string, timeout time.Duration) *Auth {
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}
	return &Auth{
		username: username,
		password: password,
		timeout:  timeout,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Login checks credentials and returns a fresh session token.
func (a *Auth) Login(username, password string) (string, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1
	if !userOK || !passOK {
		return "", ErrInvalidCredentials
	}

	token, err := newToken()
	if err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}

	now := a.now()
	a.mu.Lock()
	a.sessions[token] = &Session{
		Username:     username,
		CreatedAt:    now,
		ExpiresAt:    now.Add(a.timeout),
		LastActivity: now,
	}
	a.mu.Unlock()

	return token, nil
}

// Validate returns the session for token, or false if the token is unknown
// or expired. Expired sessions are removed on the spot.
func (a *Auth) Validate(token string) (Session, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.sessions[token]
	if !ok {
		return Session{}, false
	}
	now := a.now()
	if now.After(s.ExpiresAt) {
		delete(a.sessions, token)
		return Session{}, false
	}
	s.LastActivity = now
	return *s, true
}

// Logout removes the session. Returns false if the token was not active.
func (a *Auth) Logout(token string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.sessions[token]; !ok {
		return false
	}
	delete(a.sessions, token)
	return true
}

// CleanupExpired drops expired sessions and returns how many were removed.
func (a *Auth) CleanupExpired() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	removed := 0
	for token, s := range a.sessions {
		if now.After(s.ExpiresAt) {
			delete(a.sessions, token)
			removed++
		}
	}
	return removed
}

// ActiveSessions reports how many sessions are currently held.
func (a *Auth) ActiveSessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
