package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/clinicroom/waiting-room/internal/core/domain"
	"github.com/clinicroom/waiting-room/internal/core/ports"
	"github.com/clinicroom/waiting-room/internal/metrics"
)

// VisitorState is the visitor's whole view of the world. Every transition is a
// total, idempotent function of "latest known truth": REST responses and push
// events may land in either order and must commute.
type VisitorState struct {
	Queue         domain.QueueStatus
	Examination   domain.ExaminationStatus
	Notice        *domain.Notice
	StatusMessage string
}

// VisitorService drives the visitor state machine: idle → queued →
// in-examination → idle. Commands issue REST calls; push events mutate state
// independently. The invariant "never queued and in examination at once" holds
// under duplicate and reordered deliveries.
type VisitorService struct {
	api      ports.VisitorAPI
	push     ports.PushConnector
	identity domain.Identity
	log      zerolog.Logger
	validate *validator.Validate

	// requireReason makes the join reason mandatory; deployments differ.
	requireReason bool

	// ctx scopes event-triggered fetches; cancelled on Close so a late
	// response cannot mutate state after teardown.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     VisitorState
	subs      []ports.Subscription
	listeners []func(VisitorState)
	closeOnce sync.Once
}

// VisitorOption customises a VisitorService.
type VisitorOption func(*VisitorService)

// WithRequireReason controls whether JoinQueue demands a non-empty reason.
func WithRequireReason(required bool) VisitorOption {
	return func(s *VisitorService) { s.requireReason = required }
}

// NewVisitorService builds the state machine for one authenticated visitor.
// Call Start to subscribe and reconcile, Close to tear down.
func NewVisitorService(api ports.VisitorAPI, push ports.PushConnector, identity domain.Identity, log zerolog.Logger, opts ...VisitorOption) *VisitorService {
	s := &VisitorService{
		api:           api,
		push:          push,
		identity:      identity,
		log:           log.With().Str("component", "visitor").Int("visitor_id", identity.RoleID).Logger(),
		validate:      validator.New(),
		requireReason: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start subscribes to the visitor's private channel and the broadcast channel,
// then reconciles local state against the server.
func (s *VisitorService) Start(ctx context.Context) error {
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
func (s *VisitorService) Close() {
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
func (s *VisitorService) State() VisitorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnChange registers a listener invoked with a state copy after every
// transition.
func (s *VisitorService) OnChange(fn func(VisitorState)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// ClearNotice dismisses the current notice, if any.
func (s *VisitorService) ClearNotice() {
	s.mu.Lock()
	changed := s.state.Notice != nil
	s.state.Notice = nil
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// JoinQueue validates input, calls the join endpoint, and applies the response
// as the source of truth for queue membership. The later broadcast "joined"
// event triggers an idempotent re-fetch rather than a second insert.
func (s *VisitorService) JoinQueue(ctx context.Context, externalID, reason string) error {
	input := ports.JoinQueueInput{ExternalID: externalID, Reason: reason}
	if err := s.validate.Struct(input); err != nil {
		return s.fail(fmt.Errorf("%w: external id is required", domain.ErrValidation))
	}
	if s.requireReason && reason == "" {
		return s.fail(fmt.Errorf("%w: reason is required", domain.ErrValidation))
	}

	item, err := s.api.JoinQueue(ctx, input)
	if err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	s.applyQueued(*item, "Your provider will shortly be with you.")
	s.mu.Unlock()
	s.notify()

	s.log.Info().Int("position", item.Position).Msg("joined queue")
	return nil
}

// ExitQueue leaves the waiting room. If a pickup raced the exit call the
// examination transition wins and the exit is a local no-op.
func (s *VisitorService) ExitQueue(ctx context.Context) error {
	if err := s.api.ExitQueue(ctx); err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	s.applyQueueExit("You have exited the queue.")
	s.mu.Unlock()
	s.notify()
	return nil
}

// ExitExamination is the visitor-initiated completion. It reconciles cleanly
// when the completion event arrived first.
func (s *VisitorService) ExitExamination(ctx context.Context) error {
	if err := s.api.CompleteExamination(ctx); err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	s.applyExaminationEnded("Your examination has been completed.")
	s.mu.Unlock()
	s.notify()
	return nil
}

// Refresh reconciles local state against the server. The examination endpoint
// takes precedence: during the pickup handoff window the queue endpoint can
// still report stale membership, which is discarded when an examination is
// active.
func (s *VisitorService) Refresh(ctx context.Context) error {
	metrics.SnapshotRefetchesTotal.WithLabelValues("examination").Inc()

	detail, err := s.api.Examination(ctx)
	switch {
	case err == nil && detail.InProgress():
		s.mu.Lock()
		s.state.Examination = detail.StatusFor(domain.RoleVisitor)
		s.state.Queue = domain.QueueStatus{}
		s.mu.Unlock()
		s.notify()
		return nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return s.fail(err)
	}

	// No examination in progress server-side; that is the truth now.
	s.mu.Lock()
	s.state.Examination = domain.ExaminationStatus{}
	s.mu.Unlock()

	return s.refreshQueueItem(ctx)
}

func (s *VisitorService) refreshQueueItem(ctx context.Context) error {
	metrics.SnapshotRefetchesTotal.WithLabelValues("queue_item").Inc()

	item, err := s.api.QueueItem(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.mu.Lock()
		s.applyQueueExit("")
		s.mu.Unlock()
		s.notify()
		return nil
	case err != nil:
		return s.fail(err)
	}

	s.mu.Lock()
	s.applyQueued(*item, "")
	s.mu.Unlock()
	s.notify()
	return nil
}

// HandleEvent applies one decoded push event. Invoked from the connector's
// delivery goroutine; safe to call concurrently with commands.
func (s *VisitorService) HandleEvent(ev domain.Event) {
	metrics.PushEventsTotal.WithLabelValues(string(ev.Kind)).Inc()

	switch ev.Kind {
	case domain.EventVisitorPickedUp:
		if ev.Pickup == nil {
			return
		}
		s.mu.Lock()
		s.applyPickup(*ev.Pickup)
		s.mu.Unlock()
		s.notify()

	case domain.EventExaminationFinished:
		s.mu.Lock()
		s.applyExaminationEnded("Your examination has been completed.")
		s.mu.Unlock()
		s.notify()

	case domain.EventVisitorDroppedOff:
		s.mu.Lock()
		s.applyExaminationEnded("Your provider has ended the examination.")
		s.mu.Unlock()
		s.notify()

	case domain.EventVisitorJoinedQueue:
		// Broadcast channel: only our own membership matters here.
		if ev.QueueChange == nil || ev.QueueChange.VisitorID != s.identity.RoleID {
			return
		}
		if err := s.refreshQueueItem(s.ctx); err != nil {
			s.log.Warn().Err(err).Msg("queue refresh after join event failed")
		}

	case domain.EventVisitorExitedQueue:
		if ev.QueueChange == nil || ev.QueueChange.VisitorID != s.identity.RoleID {
			return
		}
		s.mu.Lock()
		s.applyQueueExit("You have exited the queue.")
		s.mu.Unlock()
		s.notify()
	}
}

// ── transitions (all require s.mu held) ──────────────────────────────────────

// applyQueued records queue membership. A live examination wins over any
// queue claim, so a stale join confirmation cannot resurrect queued state.
func (s *VisitorService) applyQueued(item domain.QueueItem, msg string) {
	if s.state.Examination.Active {
		return
	}
	s.state.Queue = item.Status()
	s.state.Notice = nil
	if msg != "" {
		s.state.StatusMessage = msg
	}
}

// applyQueueExit clears queue membership unless an examination is active:
// a pickup that raced a local exit must win.
func (s *VisitorService) applyQueueExit(msg string) {
	if s.state.Examination.Active {
		return
	}
	s.state.Queue = domain.QueueStatus{}
	s.state.Notice = nil
	if msg != "" {
		s.state.StatusMessage = msg
	}
}

// applyPickup transitions queued → in-examination from the authoritative push
// payload. A duplicate delivery with the same examination id is a no-op.
func (s *VisitorService) applyPickup(p domain.PickupPayload) {
	if s.state.Examination.Active && s.state.Examination.ExaminationID == p.ExaminationID {
		return
	}
	s.state.Examination = domain.ExaminationStatus{
		Active:           true,
		ExaminationID:    p.ExaminationID,
		CounterpartyID:   p.Provider.ID,
		CounterpartyName: p.Provider.Name,
		StartedAt:        p.StartedAt,
	}
	s.state.Queue = domain.QueueStatus{}
	s.state.StatusMessage = fmt.Sprintf("You are invited by %s. Your examination is in progress.", p.Provider.Name)
}

// applyExaminationEnded clears examination state; idempotent so the visitor's
// own completion call and the server's completion event reconcile cleanly.
func (s *VisitorService) applyExaminationEnded(msg string) {
	if !s.state.Examination.Active {
		return
	}
	s.state.Examination = domain.ExaminationStatus{}
	if msg != "" {
		s.state.StatusMessage = msg
	}
}

// fail records the error as a Notice (state otherwise unchanged) and returns it.
func (s *VisitorService) fail(err error) error {
	if notice := classifyError(err); notice != nil {
		s.mu.Lock()
		s.state.Notice = notice
		s.mu.Unlock()
		s.notify()
	}
	return err
}

func (s *VisitorService) notify() {
	s.mu.Lock()
	state := s.state
	listeners := make([]func(VisitorState), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(state)
	}
}
