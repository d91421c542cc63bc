// Package devserver is a self-contained waiting-room backend for local
// development and end-to-end tests. It keeps everything in memory and emits
// the same wire events the production backend does.
package devserver

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"

	"github.com/clinicroom/waiting-room/internal/core/domain"
)

// estimate of one examination slot, used for the queue's wait projection.
const slotEstimate = 5 * time.Minute

// User is one seeded account.
type User struct {
	ID           int
	Name         string
	Email        string
	Role         domain.Role
	RoleID       int
	passwordHash []byte
}

type queueEntry struct {
	VisitorID   int
	VisitorName string
	Email       string
	Reason      string
	ExternalID  string
	JoinedAt    time.Time
}

type examination struct {
	ID           int
	ProviderID   int
	ProviderName string
	VisitorID    int
	VisitorName  string
	Reason       string
	StartedAt    time.Time
}

// Store holds the whole waiting-room state behind one mutex. The scale of a
// dev backend never justifies anything finer.
type Store struct {
	clock clockwork.Clock

	mu               sync.Mutex
	usersByEmail     map[string]*User
	queue            []queueEntry
	activeByVisitor  map[int]*examination
	activeByProvider map[int]*examination
	revokedTokens    map[string]struct{}
	nextUserID       int
	nextExamID       int
}

// NewStore returns an empty store ticking on the given clock.
func NewStore(clock clockwork.Clock) *Store {
	return &Store{
		clock:            clock,
		usersByEmail:     make(map[string]*User),
		activeByVisitor:  make(map[int]*examination),
		activeByProvider: make(map[int]*examination),
		revokedTokens:    make(map[string]struct{}),
		nextUserID:       1,
		nextExamID:       1,
	}
}

// SeedUser registers an account. RoleID is assigned per role in seeding order.
func (s *Store) SeedUser(name, email, password string, role domain.Role) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByEmail[email]; exists {
		return nil, fmt.Errorf("%w: email %s already registered", domain.ErrValidation, email)
	}

	roleID := 1
	for _, u := range s.usersByEmail {
		if u.Role == role {
			roleID++
		}
	}
	u := &User{
		ID:           s.nextUserID,
		Name:         name,
		Email:        email,
		Role:         role,
		RoleID:       roleID,
		passwordHash: hash,
	}
	s.nextUserID++
	s.usersByEmail[email] = u
	return u, nil
}

// Authenticate checks the credentials and returns the account.
func (s *Store) Authenticate(email, password string) (*User, error) {
	s.mu.Lock()
	u, ok := s.usersByEmail[email]
	s.mu.Unlock()
	if !ok {
		return nil, domain.ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)) != nil {
		return nil, domain.ErrInvalidCredentials
	}
	return u, nil
}

// RevokeToken blacklists a token id at logout.
func (s *Store) RevokeToken(jti string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokedTokens[jti] = struct{}{}
}

// TokenRevoked reports whether a token id has been logged out.
func (s *Store) TokenRevoked(jti string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.revokedTokens[jti]
	return ok
}

// JoinQueue appends the visitor. Joining while queued or under examination is
// rejected; the examination always outranks the queue.
func (s *Store) JoinQueue(u *User, externalID, reason string) (domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.activeByVisitor[u.RoleID]; busy {
		return domain.QueueItem{}, fmt.Errorf("%w: examination in progress", domain.ErrQueueRejected)
	}
	for _, e := range s.queue {
		if e.VisitorID == u.RoleID {
			return domain.QueueItem{}, fmt.Errorf("%w: already in queue", domain.ErrQueueRejected)
		}
	}

	s.queue = append(s.queue, queueEntry{
		VisitorID:   u.RoleID,
		VisitorName: u.Name,
		Email:       u.Email,
		Reason:      reason,
		ExternalID:  externalID,
		JoinedAt:    s.clock.Now(),
	})
	return s.queueItemLocked(u.RoleID)
}

// ExitQueue removes the visitor from the queue.
func (s *Store) ExitQueue(visitorID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.queue {
		if e.VisitorID == visitorID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: visitor %d not in queue", domain.ErrNotFound, visitorID)
}

// QueueItem returns the visitor's own membership snapshot.
func (s *Store) QueueItem(visitorID int) (domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queueItemLocked(visitorID)
}

func (s *Store) queueItemLocked(visitorID int) (domain.QueueItem, error) {
	for i, e := range s.queue {
		if e.VisitorID == visitorID {
			position := i + 1
			waited := s.clock.Now().Sub(e.JoinedAt)
			return domain.QueueItem{
				Position:          position,
				JoinedAt:          e.JoinedAt,
				WaitedTime:        formatDuration(waited),
				EstimatedWaitTime: formatDuration(time.Duration(position) * slotEstimate),
				TotalVisitors:     len(s.queue),
			}, nil
		}
	}
	return domain.QueueItem{}, fmt.Errorf("%w: visitor %d not in queue", domain.ErrNotFound, visitorID)
}

// Snapshot returns the full waiting list in arrival order.
func (s *Store) Snapshot() domain.QueueSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := domain.QueueSnapshot{
		Total:    len(s.queue),
		Visitors: make([]domain.QueueVisitor, 0, len(s.queue)),
	}
	now := s.clock.Now()
	for i, e := range s.queue {
		snap.Visitors = append(snap.Visitors, domain.QueueVisitor{
			Position:    i + 1,
			VisitorID:   e.VisitorID,
			VisitorName: e.VisitorName,
			Reason:      e.Reason,
			Email:       e.Email,
			WaitingTime: formatDuration(now.Sub(e.JoinedAt)),
		})
	}
	sort.SliceStable(snap.Visitors, func(a, b int) bool {
		return snap.Visitors[a].Position < snap.Visitors[b].Position
	})
	return snap
}

// Pickup moves a queued visitor into an examination with the provider.
func (s *Store) Pickup(provider *User, visitorID int) (domain.ExaminationDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.activeByProvider[provider.RoleID]; busy {
		return domain.ExaminationDetail{}, fmt.Errorf("%w: provider already examining", domain.ErrQueueRejected)
	}

	idx := -1
	for i, e := range s.queue {
		if e.VisitorID == visitorID {
			idx = i
			break
		}
	}
	if idx < 0 {
		// Usually a pickup race: another provider got there first.
		return domain.ExaminationDetail{}, fmt.Errorf("%w: visitor %d no longer in queue", domain.ErrQueueRejected, visitorID)
	}

	entry := s.queue[idx]
	s.queue = append(s.queue[:idx], s.queue[idx+1:]...)

	exam := &examination{
		ID:           s.nextExamID,
		ProviderID:   provider.RoleID,
		ProviderName: provider.Name,
		VisitorID:    entry.VisitorID,
		VisitorName:  entry.VisitorName,
		Reason:       entry.Reason,
		StartedAt:    s.clock.Now(),
	}
	s.nextExamID++
	s.activeByVisitor[exam.VisitorID] = exam
	s.activeByProvider[exam.ProviderID] = exam
	return s.detailLocked(exam), nil
}

// Examination returns the active examination for one side of the room.
func (s *Store) Examination(role domain.Role, roleID int) (domain.ExaminationDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exam *examination
	if role == domain.RoleVisitor {
		exam = s.activeByVisitor[roleID]
	} else {
		exam = s.activeByProvider[roleID]
	}
	if exam == nil {
		return domain.ExaminationDetail{}, fmt.Errorf("%w: no active examination", domain.ErrNotFound)
	}
	return s.detailLocked(exam), nil
}

// Complete ends the examination for either party and returns its final state.
func (s *Store) Complete(role domain.Role, roleID int) (domain.ExaminationDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exam *examination
	if role == domain.RoleVisitor {
		exam = s.activeByVisitor[roleID]
	} else {
		exam = s.activeByProvider[roleID]
	}
	if exam == nil {
		return domain.ExaminationDetail{}, fmt.Errorf("%w: no active examination", domain.ErrNotFound)
	}

	delete(s.activeByVisitor, exam.VisitorID)
	delete(s.activeByProvider, exam.ProviderID)

	detail := s.detailLocked(exam)
	detail.Status = domain.ExaminationCompleted
	return detail, nil
}

func (s *Store) detailLocked(exam *examination) domain.ExaminationDetail {
	return domain.ExaminationDetail{
		ExaminationID: exam.ID,
		ProviderID:    exam.ProviderID,
		ProviderName:  exam.ProviderName,
		VisitorID:     exam.VisitorID,
		VisitorName:   exam.VisitorName,
		Status:        domain.ExaminationInProgress,
		StartedAt:     exam.StartedAt,
		Duration:      formatDuration(s.clock.Now().Sub(exam.StartedAt)),
		Reason:        exam.Reason,
	}
}

// formatDuration renders an HH:MM:SS clock the way the production backend does.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	sec := (d % time.Minute) / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}
