package ports

import (
	"context"

	"github.com/clinicroom/waiting-room/internal/core/domain"
)

// Credentials carries a login attempt.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResult is the authenticated session returned by the backend.
type LoginResult struct {
	Identity  domain.Identity
	Token     string
	ExpiresIn int // seconds
}

// AuthAPI is the request/response contract for session management.
type AuthAPI interface {
	Login(ctx context.Context, creds Credentials) (*LoginResult, error)
	Logout(ctx context.Context) error
}

// JoinQueueInput carries the visitor's join request. Whether Reason is
// required varies by deployment; the service enforces it when configured.
type JoinQueueInput struct {
	ExternalID string `json:"external_id" validate:"required"`
	Reason     string `json:"reason"`
}

// VisitorAPI is the visitor-scoped REST surface. Status reads return
// domain.ErrNotFound when the resource is absent; callers treat that as
// "not queued" / "no active examination", never as a failure.
type VisitorAPI interface {
	JoinQueue(ctx context.Context, input JoinQueueInput) (*domain.QueueItem, error)
	ExitQueue(ctx context.Context) error
	QueueItem(ctx context.Context) (*domain.QueueItem, error)
	Examination(ctx context.Context) (*domain.ExaminationDetail, error)
	CompleteExamination(ctx context.Context) error
}

// ProviderAPI is the provider-scoped REST surface.
type ProviderAPI interface {
	QueueList(ctx context.Context) (*domain.QueueSnapshot, error)
	PickupVisitor(ctx context.Context, visitorID int) error
	CompleteExamination(ctx context.Context, visitorID int) error
	Examination(ctx context.Context) (*domain.ExaminationDetail, error)
}
