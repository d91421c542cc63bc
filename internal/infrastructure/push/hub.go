package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/clinicroom/waiting-room/internal/core/domain"
	"github.com/clinicroom/waiting-room/internal/core/ports"
	"github.com/clinicroom/waiting-room/internal/metrics"
)

// Hub is an in-process push channel. The dev server publishes into it and
// clients in the same process subscribe, which gives tests and local runs the
// full event flow without a PubNub keyset. Delivery is synchronous.
type Hub struct {
	log zerolog.Logger

	mu       sync.Mutex
	closed   bool
	handlers map[string]map[*hubSubscription]ports.EventHandler
}

// NewHub returns an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:      log.With().Str("component", "push-hub").Logger(),
		handlers: make(map[string]map[*hubSubscription]ports.EventHandler),
	}
}

// Subscribe binds a handler to a channel.
func (h *Hub) Subscribe(channel string, handler ports.EventHandler) (ports.Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errors.New("push: hub closed")
	}
	if h.handlers[channel] == nil {
		h.handlers[channel] = make(map[*hubSubscription]ports.EventHandler)
	}
	sub := &hubSubscription{hub: h, channel: channel}
	h.handlers[channel][sub] = handler
	return sub, nil
}

// Close drops every subscription; later publishes are silently discarded.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.handlers = make(map[string]map[*hubSubscription]ports.EventHandler)
	return nil
}

// Publish decodes the wire envelope and delivers it to the channel's
// subscribers before returning.
func (h *Hub) Publish(ctx context.Context, channel, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	ev, err := domain.DecodeEvent(channel, event, data)
	if err != nil {
		metrics.PushEventsDroppedTotal.Inc()
		if errors.Is(err, domain.ErrUnknownEvent) {
			h.log.Debug().Str("event", event).Str("channel", channel).Msg("dropping unknown event")
			return nil
		}
		return err
	}
	metrics.PushEventsTotal.WithLabelValues(string(ev.Kind)).Inc()

	h.mu.Lock()
	targets := make([]ports.EventHandler, 0, len(h.handlers[channel]))
	for _, fn := range h.handlers[channel] {
		targets = append(targets, fn)
	}
	h.mu.Unlock()

	for _, fn := range targets {
		fn(ev)
	}
	return nil
}

type hubSubscription struct {
	hub     *Hub
	channel string
	once    sync.Once
}

func (s *hubSubscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.handlers[s.channel], s)
		if len(s.hub.handlers[s.channel]) == 0 {
			delete(s.hub.handlers, s.channel)
		}
		s.hub.mu.Unlock()
	})
}
