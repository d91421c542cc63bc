package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind is the closed set of push event types the client understands.
type EventKind string

const (
	// Broadcast channel (lounge.queue), delivered to every connected client.
	EventVisitorJoinedQueue EventKind = "visitor.joined.queue"
	EventVisitorExitedQueue EventKind = "visitor.exited.queue"

	// Visitor private channel (visitor.<id>).
	EventVisitorPickedUp     EventKind = "visitor.picked.up"
	EventExaminationFinished EventKind = "visitor.examination.completed"
	EventVisitorDroppedOff   EventKind = "visitor.dropped.off"

	// Provider private channel (provider.<id>).
	EventProviderPickedUp  EventKind = "provider.pickedup.visitor"
	EventProviderCompleted EventKind = "provider.completed.examination"
)

// eventAliases maps every wire-level event name onto a kind. The backend has
// emitted two naming families over time (event class names and dotted names);
// both decode to the same kind.
var eventAliases = map[string]EventKind{
	"visitor.joined.queue":              EventVisitorJoinedQueue,
	"VisitorJoinedQueue":                EventVisitorJoinedQueue,
	"visitor.exited.queue":              EventVisitorExitedQueue,
	"VisitorExitedQueue":                EventVisitorExitedQueue,
	"visitor.picked.up":                 EventVisitorPickedUp,
	"VisitorPickedUpEvent":              EventVisitorPickedUp,
	"visitor.examination.completed":     EventExaminationFinished,
	"VisitorExaminationCompletedEvent":  EventExaminationFinished,
	"visitor.dropped.off":               EventVisitorDroppedOff,
	"VisitorExitedEvent":                EventVisitorDroppedOff,
	"provider.pickedup.visitor":         EventProviderPickedUp,
	"ProviderPickedUpVisitorEvent":      EventProviderPickedUp,
	"provider.completed.examination":    EventProviderCompleted,
	"ProviderCompletedExaminationEvent": EventProviderCompleted,
}

// Party identifies one side of an examination inside an event payload.
type Party struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// QueueChangePayload accompanies join/exit events on the broadcast channel.
type QueueChangePayload struct {
	VisitorID   int    `json:"visitor_id"`
	VisitorName string `json:"visitor_name,omitempty"`
	Position    int    `json:"position,omitempty"`
	Message     string `json:"message,omitempty"`
}

// PickupPayload accompanies the visitor-side pickup event. It is authoritative:
// the visitor transitions into the examination from this payload alone.
type PickupPayload struct {
	ExaminationID int       `json:"examination_id"`
	Provider      Party     `json:"provider"`
	Visitor       Party     `json:"visitor"`
	StartedAt     time.Time `json:"started_at"`
	Message       string    `json:"message,omitempty"`
}

// Event is the decoded form of a push delivery: a kind plus the payload for
// that kind. Exactly one payload pointer is set for kinds that carry one.
type Event struct {
	Kind    EventKind
	Channel string

	QueueChange *QueueChangePayload
	Pickup      *PickupPayload
}

// DecodeEvent turns a raw delivery (channel, wire event name, JSON payload)
// into a typed Event. Unknown names yield ErrUnknownEvent so connectors can
// drop them instead of guessing.
func DecodeEvent(channel, name string, data []byte) (Event, error) {
	kind, ok := eventAliases[name]
	if !ok {
		return Event{}, fmt.Errorf("%w: %q on %q", ErrUnknownEvent, name, channel)
	}

	ev := Event{Kind: kind, Channel: channel}

	switch kind {
	case EventVisitorJoinedQueue, EventVisitorExitedQueue:
		var p QueueChangePayload
		if len(data) > 0 {
			if err := json.Unmarshal(data, &p); err != nil {
				return Event{}, fmt.Errorf("decode %s: %w", kind, err)
			}
		}
		ev.QueueChange = &p

	case EventVisitorPickedUp:
		var p PickupPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", kind, err)
		}
		ev.Pickup = &p

	case EventExaminationFinished, EventVisitorDroppedOff,
		EventProviderPickedUp, EventProviderCompleted:
		// No payload required; these are pure signals.
	}

	return ev, nil
}
