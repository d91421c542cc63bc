package ports

import (
	"context"

	"github.com/clinicroom/waiting-room/internal/core/domain"
)

// EventHandler receives decoded push events. Handlers may be invoked from the
// connector's delivery goroutine; state machines serialise internally.
type EventHandler func(domain.Event)

// Subscription is one live channel binding. Close unsubscribes; it is safe to
// call more than once but unbinds exactly once.
type Subscription interface {
	Close()
}

// PushConnector is the subscribe side of the push channel. Events are decoded
// at this boundary; unknown event names never reach handlers.
type PushConnector interface {
	Subscribe(channel string, handler EventHandler) (Subscription, error)
	Close() error
}

// EventPublisher is the publish side of the push channel, used by the dev
// backend to emit the same wire events the production backend does.
type EventPublisher interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}
