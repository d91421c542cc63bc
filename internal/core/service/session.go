package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/clinicroom/waiting-room/internal/core/domain"
	"github.com/clinicroom/waiting-room/internal/core/ports"
	"github.com/clinicroom/waiting-room/internal/metrics"
)

// SessionStore owns the authenticated identity. It is the only component that
// mutates the session; everyone else reads through Current or subscribes with
// OnChange. The session survives restarts via ports.SessionStorage.
type SessionStore struct {
	api      ports.AuthAPI
	storage  ports.SessionStorage
	clock    clockwork.Clock
	log      zerolog.Logger
	validate *validator.Validate

	mu        sync.RWMutex
	current   *ports.StoredSession
	listeners []func(*domain.Identity)
}

// NewSessionStore builds a SessionStore and restores any persisted session.
// A restored token whose JWT expiry has already passed is discarded so the
// client starts unauthenticated instead of failing its first call.
func NewSessionStore(api ports.AuthAPI, storage ports.SessionStorage, clock clockwork.Clock, log zerolog.Logger) *SessionStore {
	s := &SessionStore{
		api:      api,
		storage:  storage,
		clock:    clock,
		log:      log.With().Str("component", "session").Logger(),
		validate: validator.New(),
	}
	s.restore()
	return s
}

func (s *SessionStore) restore() {
	stored, err := s.storage.Load()
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to load persisted session")
		return
	}
	if stored == nil {
		return
	}
	if s.tokenExpired(stored.Token) {
		s.log.Info().Msg("persisted session expired, discarding")
		if err := s.storage.Clear(); err != nil {
			s.log.Warn().Err(err).Msg("failed to clear expired session")
		}
		return
	}
	s.current = stored
	s.log.Info().Str("role", string(stored.Identity.Role)).Msg("session restored")
}

// Login authenticates against the backend and persists the resulting session.
// Returns domain.ErrInvalidCredentials on rejected or malformed credentials.
func (s *SessionStore) Login(ctx context.Context, creds ports.Credentials) (*domain.Identity, error) {
	if err := s.validate.Struct(creds); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCredentials, err)
	}

	result, err := s.api.Login(ctx, creds)
	if err != nil {
		return nil, err
	}
	if !result.Identity.Role.Valid() {
		return nil, fmt.Errorf("%w: login returned unknown role %q", domain.ErrValidation, result.Identity.Role)
	}

	stored := ports.StoredSession{Identity: result.Identity, Token: result.Token}
	if err := s.storage.Save(stored); err != nil {
		s.log.Warn().Err(err).Msg("failed to persist session")
	}

	s.mu.Lock()
	s.current = &stored
	s.mu.Unlock()

	s.log.Info().Str("role", string(result.Identity.Role)).Int("role_id", result.Identity.RoleID).Msg("logged in")
	s.notify()
	return &result.Identity, nil
}

// Logout invalidates the session server-side on a best-effort basis and
// always clears the local session, even when the server call fails.
func (s *SessionStore) Logout(ctx context.Context) error {
	err := s.api.Logout(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("server-side logout failed, clearing local session anyway")
	}
	s.clear()
	return err
}

// ForceLogout clears the local session without a server call. Invoked when an
// authenticated call comes back 401.
func (s *SessionStore) ForceLogout() {
	s.mu.RLock()
	active := s.current != nil
	s.mu.RUnlock()
	if !active {
		return
	}
	metrics.ForcedLogoutsTotal.Inc()
	s.log.Warn().Msg("session rejected by server, forcing logout")
	s.clear()
}

func (s *SessionStore) clear() {
	if err := s.storage.Clear(); err != nil {
		s.log.Warn().Err(err).Msg("failed to clear persisted session")
	}
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	s.notify()
}

// Current returns the authenticated identity, or nil when logged out.
func (s *SessionStore) Current() *domain.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	id := s.current.Identity
	return &id
}

// Token returns the bearer token for the REST adapter, or "" when logged out.
func (s *SessionStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.Token
}

// OnChange registers a listener invoked after every login/logout with the new
// identity (nil on logout). Listeners run on the mutating goroutine.
func (s *SessionStore) OnChange(fn func(*domain.Identity)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *SessionStore) notify() {
	id := s.Current()
	s.mu.RLock()
	listeners := make([]func(*domain.Identity), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(id)
	}
}

// tokenExpired inspects the token's exp claim without verifying the signature;
// verification is the server's job, the client only wants to avoid presenting
// a token it already knows is dead.
func (s *SessionStore) tokenExpired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(s.clock.Now())
}
