package devserver

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/clinicroom/waiting-room/internal/core/domain"
)

func seedRoom(t *testing.T) (*Store, *clockwork.FakeClock, *User, *User, *User) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	s := NewStore(clock)

	ann, err := s.SeedUser("Ann Lee", "ann@example.com", "pw", domain.RoleVisitor)
	if err != nil {
		t.Fatalf("seed ann: %v", err)
	}
	bo, err := s.SeedUser("Bo Chen", "bo@example.com", "pw", domain.RoleVisitor)
	if err != nil {
		t.Fatalf("seed bo: %v", err)
	}
	doc, err := s.SeedUser("Dr. Okafor", "okafor@example.com", "pw", domain.RoleProvider)
	if err != nil {
		t.Fatalf("seed doc: %v", err)
	}
	return s, clock, ann, bo, doc
}

func TestStore_QueuePositionsFollowArrivalOrder(t *testing.T) {
	s, clock, ann, bo, _ := seedRoom(t)

	if _, err := s.JoinQueue(ann, "ext-1", "checkup"); err != nil {
		t.Fatalf("join ann: %v", err)
	}
	clock.Advance(2 * time.Minute)
	if _, err := s.JoinQueue(bo, "ext-2", ""); err != nil {
		t.Fatalf("join bo: %v", err)
	}

	item, err := s.QueueItem(bo.RoleID)
	if err != nil {
		t.Fatalf("QueueItem: %v", err)
	}
	if item.Position != 2 || item.TotalVisitors != 2 {
		t.Fatalf("unexpected item: %+v", item)
	}

	clock.Advance(time.Minute)
	snap := s.Snapshot()
	if snap.Total != 2 || snap.Visitors[0].VisitorID != ann.RoleID {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Visitors[0].WaitingTime != "00:03:00" {
		t.Fatalf("waiting time = %q, want 00:03:00", snap.Visitors[0].WaitingTime)
	}

	// Ann leaving promotes Bo to the front.
	if err := s.ExitQueue(ann.RoleID); err != nil {
		t.Fatalf("ExitQueue: %v", err)
	}
	item, err = s.QueueItem(bo.RoleID)
	if err != nil {
		t.Fatalf("QueueItem after exit: %v", err)
	}
	if item.Position != 1 {
		t.Fatalf("position = %d after promotion, want 1", item.Position)
	}
}

func TestStore_DoubleJoinRejected(t *testing.T) {
	s, _, ann, _, _ := seedRoom(t)

	if _, err := s.JoinQueue(ann, "ext-1", "checkup"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := s.JoinQueue(ann, "ext-1", "checkup"); !errors.Is(err, domain.ErrQueueRejected) {
		t.Fatalf("want ErrQueueRejected, got %v", err)
	}
}

func TestStore_PickupRaces(t *testing.T) {
	s, _, ann, bo, doc := seedRoom(t)

	if _, err := s.JoinQueue(ann, "ext-1", "checkup"); err != nil {
		t.Fatalf("join: %v", err)
	}

	detail, err := s.Pickup(doc, ann.RoleID)
	if err != nil {
		t.Fatalf("Pickup: %v", err)
	}
	if detail.Status != domain.ExaminationInProgress || detail.VisitorID != ann.RoleID {
		t.Fatalf("unexpected detail: %+v", detail)
	}

	// A second pickup of the same visitor loses the race.
	if _, err := s.Pickup(doc, ann.RoleID); !errors.Is(err, domain.ErrQueueRejected) {
		t.Fatalf("want ErrQueueRejected for vanished visitor, got %v", err)
	}

	// A busy provider cannot pick up another visitor.
	if _, err := s.JoinQueue(bo, "ext-2", ""); err != nil {
		t.Fatalf("join bo: %v", err)
	}
	if _, err := s.Pickup(doc, bo.RoleID); !errors.Is(err, domain.ErrQueueRejected) {
		t.Fatalf("want ErrQueueRejected for busy provider, got %v", err)
	}

	// A visitor under examination cannot rejoin the queue.
	if _, err := s.JoinQueue(ann, "ext-1", "checkup"); !errors.Is(err, domain.ErrQueueRejected) {
		t.Fatalf("want ErrQueueRejected while under examination, got %v", err)
	}
}

func TestStore_CompleteFreesBothParties(t *testing.T) {
	s, _, ann, _, doc := seedRoom(t)

	if _, err := s.JoinQueue(ann, "ext-1", "checkup"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := s.Pickup(doc, ann.RoleID); err != nil {
		t.Fatalf("Pickup: %v", err)
	}

	detail, err := s.Complete(domain.RoleProvider, doc.RoleID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if detail.Status != domain.ExaminationCompleted {
		t.Fatalf("status = %q, want completed", detail.Status)
	}

	if _, err := s.Examination(domain.RoleVisitor, ann.RoleID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("visitor examination after complete: %v", err)
	}
	if _, err := s.Examination(domain.RoleProvider, doc.RoleID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("provider examination after complete: %v", err)
	}

	// Both sides are free to start over.
	if _, err := s.JoinQueue(ann, "ext-1", "follow-up"); err != nil {
		t.Fatalf("rejoin after complete: %v", err)
	}
}

func TestStore_Authenticate(t *testing.T) {
	s, _, ann, _, _ := seedRoom(t)

	u, err := s.Authenticate(ann.Email, "pw")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if u.RoleID != ann.RoleID {
		t.Fatalf("unexpected user: %+v", u)
	}

	if _, err := s.Authenticate(ann.Email, "wrong"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}
	if _, err := s.Authenticate("ghost@example.com", "pw"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials for unknown user, got %v", err)
	}
}
