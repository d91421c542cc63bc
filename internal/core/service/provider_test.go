package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/clinicroom/waiting-room/internal/core/domain"
)

type stubProviderAPI struct {
	snapshot    *domain.QueueSnapshot
	snapshotErr error
	pickupErr   error
	completeErr error
	exam        *domain.ExaminationDetail
	examErr     error

	calls map[string]int
}

func newStubProviderAPI() *stubProviderAPI {
	return &stubProviderAPI{
		snapshot: &domain.QueueSnapshot{},
		examErr:  domain.ErrNotFound,
		calls:    make(map[string]int),
	}
}

func (a *stubProviderAPI) QueueList(_ context.Context) (*domain.QueueSnapshot, error) {
	a.calls["queue_list"]++
	return a.snapshot, a.snapshotErr
}

func (a *stubProviderAPI) PickupVisitor(_ context.Context, _ int) error {
	a.calls["pickup"]++
	return a.pickupErr
}

func (a *stubProviderAPI) CompleteExamination(_ context.Context, _ int) error {
	a.calls["complete"]++
	return a.completeErr
}

func (a *stubProviderAPI) Examination(_ context.Context) (*domain.ExaminationDetail, error) {
	a.calls["examination"]++
	return a.exam, a.examErr
}

func providerIdentity() domain.Identity {
	return domain.Identity{ID: 2, Name: "Dr. X", Email: "drx@example.com", Role: domain.RoleProvider, RoleID: 4}
}

func newTestProvider(t *testing.T, api *stubProviderAPI, push *fakePush) *ProviderService {
	t.Helper()
	svc := NewProviderService(api, push, providerIdentity(), zerolog.Nop())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func waitingVisitor(id int, name string) domain.QueueVisitor {
	return domain.QueueVisitor{Position: 1, VisitorID: id, VisitorName: name, WaitingTime: "1m0s"}
}

func TestProvider_FetchQueueReplacesWholesale(t *testing.T) {
	api := newStubProviderAPI()
	api.snapshot = &domain.QueueSnapshot{Total: 1, Visitors: []domain.QueueVisitor{waitingVisitor(7, "Ann")}}
	svc := newTestProvider(t, api, newFakePush())

	if got := svc.State().Queue.Total; got != 1 {
		t.Fatalf("expected initial snapshot applied, total = %d", got)
	}

	api.snapshot = &domain.QueueSnapshot{Total: 2, Visitors: []domain.QueueVisitor{
		waitingVisitor(8, "Bob"),
		waitingVisitor(9, "Cam"),
	}}
	if err := svc.FetchQueue(context.Background()); err != nil {
		t.Fatalf("FetchQueue returned error: %v", err)
	}

	state := svc.State()
	if state.Queue.Total != 2 || state.Queue.Contains(7) {
		t.Fatalf("expected wholesale replacement, got %+v", state.Queue)
	}
}

func TestProvider_BroadcastEventTriggersRefetch(t *testing.T) {
	api := newStubProviderAPI()
	push := newFakePush()
	svc := newTestProvider(t, api, push)

	before := api.calls["queue_list"]
	push.emit(domain.BroadcastChannel, domain.Event{
		Kind:        domain.EventVisitorJoinedQueue,
		Channel:     domain.BroadcastChannel,
		QueueChange: &domain.QueueChangePayload{VisitorID: 7, VisitorName: "Ann", Position: 1},
	})
	push.emit(domain.BroadcastChannel, domain.Event{
		Kind:        domain.EventVisitorExitedQueue,
		Channel:     domain.BroadcastChannel,
		QueueChange: &domain.QueueChangePayload{VisitorID: 7},
	})

	if got := api.calls["queue_list"] - before; got != 2 {
		t.Fatalf("expected one full refetch per broadcast event, got %d", got)
	}
	_ = svc
}

func TestProvider_PickupRefetchesExamination(t *testing.T) {
	api := newStubProviderAPI()
	api.snapshot = &domain.QueueSnapshot{Total: 1, Visitors: []domain.QueueVisitor{waitingVisitor(7, "Ann")}}
	svc := newTestProvider(t, api, newFakePush())

	// After pickup the server reports the examination; it, not the local
	// action, decides who got the visitor.
	api.exam = &domain.ExaminationDetail{
		ExaminationID: 31,
		ProviderID:    4,
		ProviderName:  "Dr. X",
		VisitorID:     7,
		VisitorName:   "Ann",
		Status:        domain.ExaminationInProgress,
	}
	api.examErr = nil
	api.snapshot = &domain.QueueSnapshot{}

	if err := svc.PickupVisitor(context.Background(), 7); err != nil {
		t.Fatalf("PickupVisitor returned error: %v", err)
	}

	state := svc.State()
	if !state.Examination.Active || state.Examination.CounterpartyID != 7 {
		t.Fatalf("expected examination with visitor 7, got %+v", state.Examination)
	}
	if state.Queue.Contains(7) {
		t.Fatal("picked-up visitor must leave the local queue snapshot")
	}
}

func TestProvider_DoublePickupRejected(t *testing.T) {
	api := newStubProviderAPI()
	api.pickupErr = fmt.Errorf("%w: visitor already picked up", domain.ErrQueueRejected)
	svc := newTestProvider(t, api, newFakePush())

	err := svc.PickupVisitor(context.Background(), 7)
	if !errors.Is(err, domain.ErrQueueRejected) {
		t.Fatalf("expected ErrQueueRejected, got %v", err)
	}

	state := svc.State()
	if state.Examination.Active {
		t.Fatal("losing a pickup race must not create a local examination")
	}
	if state.Notice == nil {
		t.Fatal("expected a dismissible notice after the rejection")
	}
}

func TestProvider_SelfPickupEventRepullsBoth(t *testing.T) {
	api := newStubProviderAPI()
	push := newFakePush()
	svc := newTestProvider(t, api, push)

	examsBefore := api.calls["examination"]
	queueBefore := api.calls["queue_list"]

	api.exam = &domain.ExaminationDetail{
		ExaminationID: 31, ProviderID: 4, VisitorID: 7, VisitorName: "Ann",
		Status: domain.ExaminationInProgress,
	}
	api.examErr = nil

	push.emit("provider.4", domain.Event{Kind: domain.EventProviderPickedUp, Channel: "provider.4"})

	if api.calls["examination"]-examsBefore != 1 || api.calls["queue_list"]-queueBefore != 1 {
		t.Fatal("self-scoped pickup event must re-pull examination and queue")
	}
	if !svc.State().Examination.Active {
		t.Fatal("expected examination applied from refetch")
	}
}

func TestProvider_SelfCompletedEventClearsWithoutRefetch(t *testing.T) {
	api := newStubProviderAPI()
	api.exam = &domain.ExaminationDetail{
		ExaminationID: 31, ProviderID: 4, VisitorID: 7, VisitorName: "Ann",
		Status: domain.ExaminationInProgress,
	}
	api.examErr = nil
	push := newFakePush()
	svc := newTestProvider(t, api, push)

	if !svc.State().Examination.Active {
		t.Fatal("expected active examination after start")
	}

	examsBefore := api.calls["examination"]
	push.emit("provider.4", domain.Event{Kind: domain.EventProviderCompleted, Channel: "provider.4"})

	if svc.State().Examination.Active {
		t.Fatal("completed event must clear the examination")
	}
	if api.calls["examination"] != examsBefore {
		t.Fatal("completed event must not trigger a refetch")
	}
}

func TestProvider_CompleteExamination(t *testing.T) {
	api := newStubProviderAPI()
	api.exam = &domain.ExaminationDetail{
		ExaminationID: 31, ProviderID: 4, VisitorID: 7, VisitorName: "Ann",
		Status: domain.ExaminationInProgress,
	}
	api.examErr = nil
	svc := newTestProvider(t, api, newFakePush())

	if err := svc.CompleteExamination(context.Background(), 7); err != nil {
		t.Fatalf("CompleteExamination returned error: %v", err)
	}
	if svc.State().Examination.Active {
		t.Fatal("expected examination cleared after completion")
	}
}
