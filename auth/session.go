package auth

import (
	"sync"
	"time"

	"github.com/alwitt/cardvault/models"
	"github.com/alwitt/cardvault/secret"
	"github.com/alwitt/cardvault/session"
)

/*
Session one unlocked session of a user.

The passphrase is held in a secret buffer for the lifetime of the session. The session
ends on Close, on a session end event, or once the user was inactive for the inactivity
timeout.
*/
type Session struct {
	// UserID the user
	UserID string
	// OpenedAt when the session was unlocked
	OpenedAt time.Time

	lock       sync.Mutex
	passphrase *secret.Buffer
	detector   *session.InactivityDetector
	closed     bool
}

/*
Passphrase read the session passphrase

	@returns the passphrase, models.ErrSessionLocked once the session ended
*/
func (s *Session) Passphrase() (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return "", models.ErrSessionLocked
	}
	return s.passphrase.Read()
}

// Touch report user activity, postponing the inactivity timeout
func (s *Session) Touch() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return
	}
	s.detector.Touch()
}

// Active whether the session is still open
func (s *Session) Active() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return !s.closed
}

// Close end the session, zeroing the passphrase. Idempotent.
func (s *Session) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.detector.Disarm()
	s.passphrase.Zero()
}
