package ports

import "github.com/clinicroom/waiting-room/internal/core/domain"

// StoredSession is the durable part of a session: enough to survive a restart
// without logging in again.
type StoredSession struct {
	Identity domain.Identity `json:"identity"`
	Token    string          `json:"token"`
}

// SessionStorage persists the session across process restarts. Load returns
// (nil, nil) when no session is stored.
type SessionStorage interface {
	Load() (*StoredSession, error)
	Save(session StoredSession) error
	Clear() error
}
