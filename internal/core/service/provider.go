package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/clinicroom/waiting-room/internal/core/domain"
	"github.com/clinicroom/waiting-room/internal/core/ports"
	"github.com/clinicroom/waiting-room/internal/metrics"
)

// ProviderState is the provider's view: the waiting list plus an optional
// active examination. The two evolve independently — the queue keeps updating
// while an examination runs.
type ProviderState struct {
	Queue         domain.QueueSnapshot
	Examination   domain.ExaminationStatus
	Notice        *domain.Notice
	StatusMessage string
}

// ProviderService drives the provider state machine. The queue list has no
// client-visible sequence number, so broadcast events trigger a full snapshot
// re-pull instead of local list surgery; a refetch supersedes any speculative
// edit and cannot drift on missed or reordered deliveries.
type ProviderService struct {
	api      ports.ProviderAPI
	push     ports.PushConnector
	identity domain.Identity
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     ProviderState
	subs      []ports.Subscription
	listeners []func(ProviderState)
	closeOnce sync.Once
}

// NewProviderService builds the state machine for one authenticated provider.
func NewProviderService(api ports.ProviderAPI, push ports.PushConnector, identity domain.Identity, log zerolog.Logger) *ProviderService {
	return &ProviderService{
		api:      api,
		push:     push,
		identity: identity,
		log:      log.With().Str("component", "provider").Int("provider_id", identity.RoleID).Logger(),
	}
}

// Start subscribes to the provider's private channel and the broadcast
// channel, then pulls the initial examination status and waiting list.
func (s *ProviderService) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	for _, channel := range []string{s.identity.PrivateChannel(), domain.BroadcastChannel} {
		sub, err := s.push.Subscribe(channel, s.HandleEvent)
		if err != nil {
			s.Close()
			return fmt.Errorf("subscribe %s: %w", channel, err)
		}
		s.mu.Lock()
		s.subs = append(s.subs, sub)
		s.mu.Unlock()
	}

	return s.Refresh(s.ctx)
}

// Close cancels in-flight work and unsubscribes exactly once per subscribe.
func (s *ProviderService) Close() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Lock()
		subs := s.subs
		s.subs = nil
		s.mu.Unlock()
		for _, sub := range subs {
			sub.Close()
		}
	})
}

// State returns a copy of the current state.
func (s *ProviderService) State() ProviderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnChange registers a listener invoked with a state copy after every
// transition.
func (s *ProviderService) OnChange(fn func(ProviderState)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// ClearNotice dismisses the current notice, if any.
func (s *ProviderService) ClearNotice() {
	s.mu.Lock()
	changed := s.state.Notice != nil
	s.state.Notice = nil
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// Refresh pulls examination status and the waiting list.
func (s *ProviderService) Refresh(ctx context.Context) error {
	if err := s.refreshExamination(ctx); err != nil {
		return err
	}
	return s.FetchQueue(ctx)
}

// FetchQueue retrieves the full waiting-list snapshot and replaces local
// state wholesale.
func (s *ProviderService) FetchQueue(ctx context.Context) error {
	metrics.SnapshotRefetchesTotal.WithLabelValues("queue_list").Inc()

	snapshot, err := s.api.QueueList(ctx)
	if err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	s.state.Queue = *snapshot
	s.state.Notice = nil
	s.mu.Unlock()
	s.notify()
	return nil
}

// PickupVisitor claims a waiting visitor. On success the examination status is
// re-fetched: the server decides who actually got the visitor when two
// providers raced, and a lost race surfaces here as a rejection.
func (s *ProviderService) PickupVisitor(ctx context.Context, visitorID int) error {
	if err := s.api.PickupVisitor(ctx, visitorID); err != nil {
		return s.fail(err)
	}

	if err := s.refreshExamination(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.state.StatusMessage = "Visitor picked up successfully."
	s.mu.Unlock()

	return s.FetchQueue(ctx)
}

// CompleteExamination finishes the active examination and clears it locally.
func (s *ProviderService) CompleteExamination(ctx context.Context, visitorID int) error {
	if err := s.api.CompleteExamination(ctx, visitorID); err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	s.applyExaminationEnded("Examination completed successfully.")
	s.mu.Unlock()
	s.notify()
	return nil
}

// HandleEvent applies one decoded push event.
func (s *ProviderService) HandleEvent(ev domain.Event) {
	metrics.PushEventsTotal.WithLabelValues(string(ev.Kind)).Inc()

	switch ev.Kind {
	case domain.EventVisitorJoinedQueue, domain.EventVisitorExitedQueue:
		if err := s.FetchQueue(s.ctx); err != nil {
			s.log.Warn().Err(err).Str("event", string(ev.Kind)).Msg("queue refetch after broadcast event failed")
		}

	case domain.EventProviderPickedUp:
		if err := s.refreshExamination(s.ctx); err != nil {
			s.log.Warn().Err(err).Msg("examination refetch after pickup event failed")
		}
		if err := s.FetchQueue(s.ctx); err != nil {
			s.log.Warn().Err(err).Msg("queue refetch after pickup event failed")
		}

	case domain.EventProviderCompleted:
		// Self-scoped signal: clear locally, no refetch needed.
		s.mu.Lock()
		s.applyExaminationEnded("Examination completed successfully.")
		s.mu.Unlock()
		s.notify()
	}
}

func (s *ProviderService) refreshExamination(ctx context.Context) error {
	metrics.SnapshotRefetchesTotal.WithLabelValues("examination").Inc()

	detail, err := s.api.Examination(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.mu.Lock()
		s.state.Examination = domain.ExaminationStatus{}
		s.mu.Unlock()
		s.notify()
		return nil
	case err != nil:
		return s.fail(err)
	}

	s.mu.Lock()
	if detail.InProgress() {
		s.state.Examination = detail.StatusFor(domain.RoleProvider)
	} else {
		s.state.Examination = domain.ExaminationStatus{}
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// applyExaminationEnded clears examination state; idempotent against the
// completion event racing the local completion call. Requires s.mu held.
func (s *ProviderService) applyExaminationEnded(msg string) {
	if !s.state.Examination.Active {
		return
	}
	s.state.Examination = domain.ExaminationStatus{}
	s.state.Notice = nil
	if msg != "" {
		s.state.StatusMessage = msg
	}
}

// fail records the error as a Notice (state otherwise unchanged) and returns it.
func (s *ProviderService) fail(err error) error {
	if notice := classifyError(err); notice != nil {
		s.mu.Lock()
		s.state.Notice = notice
		s.mu.Unlock()
		s.notify()
	}
	return err
}

func (s *ProviderService) notify() {
	s.mu.Lock()
	state := s.state
	listeners := make([]func(ProviderState), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(state)
	}
}
