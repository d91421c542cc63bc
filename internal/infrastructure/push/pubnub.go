// Package push implements the real-time channel: a PubNub-backed connector
// for production and an in-process hub for the dev server and tests. Both
// decode wire payloads into typed events at the boundary.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	pubnub "github.com/pubnub/go/v7"
	"github.com/rs/zerolog"

	"github.com/clinicroom/waiting-room/internal/core/domain"
	"github.com/clinicroom/waiting-room/internal/core/ports"
	"github.com/clinicroom/waiting-room/internal/metrics"
)

// PubNubConfig carries the keyset for one connection. UserID must be unique
// per connected client; AuthKey is the PAM grant that opens the private
// channels.
type PubNubConfig struct {
	SubscribeKey string
	PublishKey   string
	AuthKey      string
	UserID       string
}

// PubNubConnector adapts a PubNub connection to the PushConnector and
// EventPublisher ports. Deliveries are decoded on a single goroutine; unknown
// or malformed payloads are counted and dropped, never forwarded.
type PubNubConnector struct {
	pn  *pubnub.PubNub
	log zerolog.Logger

	mu       sync.Mutex
	handlers map[string]map[*pubnubSubscription]ports.EventHandler

	listener  *pubnub.Listener
	done      chan struct{}
	closeOnce sync.Once
}

// NewPubNubConnector opens the connection and starts the delivery loop.
func NewPubNubConnector(cfg PubNubConfig, log zerolog.Logger) *PubNubConnector {
	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.UserID))
	pnCfg.SubscribeKey = cfg.SubscribeKey
	pnCfg.PublishKey = cfg.PublishKey
	pnCfg.AuthKey = cfg.AuthKey

	c := &PubNubConnector{
		pn:       pubnub.NewPubNub(pnCfg),
		log:      log.With().Str("component", "push").Logger(),
		handlers: make(map[string]map[*pubnubSubscription]ports.EventHandler),
		listener: pubnub.NewListener(),
		done:     make(chan struct{}),
	}
	c.pn.AddListener(c.listener)
	go c.run()
	return c
}

// Subscribe binds a handler to a channel, joining the channel on first use.
func (c *PubNubConnector) Subscribe(channel string, handler ports.EventHandler) (ports.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return nil, errors.New("push: connector closed")
	default:
	}

	first := len(c.handlers[channel]) == 0
	if c.handlers[channel] == nil {
		c.handlers[channel] = make(map[*pubnubSubscription]ports.EventHandler)
	}
	sub := &pubnubSubscription{conn: c, channel: channel}
	c.handlers[channel][sub] = handler

	if first {
		c.pn.Subscribe().Channels([]string{channel}).Execute()
		c.log.Debug().Str("channel", channel).Msg("subscribed")
	}
	return sub, nil
}

// Close tears down every subscription and the connection itself.
func (c *PubNubConnector) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.handlers = make(map[string]map[*pubnubSubscription]ports.EventHandler)
		c.mu.Unlock()
		c.pn.UnsubscribeAll()
		c.pn.Destroy()
	})
	return nil
}

// Publish emits the backend's wire envelope: {"event": name, "data": payload}.
func (c *PubNubConnector) Publish(ctx context.Context, channel, event string, payload any) error {
	_, _, err := c.pn.PublishWithContext(ctx).
		Channel(channel).
		Message(map[string]any{"event": event, "data": payload}).
		Execute()
	if err != nil {
		return fmt.Errorf("%w: publish %s on %s: %v", domain.ErrUnavailable, event, channel, err)
	}
	return nil
}

func (c *PubNubConnector) run() {
	for {
		select {
		case <-c.done:
			return
		case status := <-c.listener.Status:
			c.log.Debug().Str("category", fmt.Sprint(status.Category)).Msg("connection status")
		case msg := <-c.listener.Message:
			c.dispatch(msg)
		case <-c.listener.Presence:
			// Presence is not part of the protocol; drain to keep the listener alive.
		}
	}
}

func (c *PubNubConnector) dispatch(msg *pubnub.PNMessage) {
	name, data, err := unpackEnvelope(msg.Message)
	if err != nil {
		metrics.PushEventsDroppedTotal.Inc()
		c.log.Debug().Err(err).Str("channel", msg.Channel).Msg("dropping delivery")
		return
	}

	ev, err := domain.DecodeEvent(msg.Channel, name, data)
	if err != nil {
		metrics.PushEventsDroppedTotal.Inc()
		if !errors.Is(err, domain.ErrUnknownEvent) {
			c.log.Warn().Err(err).Str("channel", msg.Channel).Msg("malformed event payload")
		}
		return
	}
	metrics.PushEventsTotal.WithLabelValues(string(ev.Kind)).Inc()

	c.mu.Lock()
	targets := make([]ports.EventHandler, 0, len(c.handlers[msg.Channel]))
	for _, h := range c.handlers[msg.Channel] {
		targets = append(targets, h)
	}
	c.mu.Unlock()

	for _, h := range targets {
		h(ev)
	}
}

// unpackEnvelope pulls the event name and raw data out of a delivery. PubNub
// hands the message back as decoded JSON, so re-marshal the data field for
// the typed decoder.
func unpackEnvelope(message any) (string, []byte, error) {
	envelope, ok := message.(map[string]any)
	if !ok {
		return "", nil, fmt.Errorf("unexpected message shape %T", message)
	}
	name, ok := envelope["event"].(string)
	if !ok || name == "" {
		return "", nil, errors.New("missing event name")
	}
	var data []byte
	if raw, ok := envelope["data"]; ok && raw != nil {
		var err error
		data, err = json.Marshal(raw)
		if err != nil {
			return "", nil, fmt.Errorf("re-encode data: %w", err)
		}
	}
	return name, data, nil
}

type pubnubSubscription struct {
	conn    *PubNubConnector
	channel string
	once    sync.Once
}

// Close unbinds the handler, leaving the channel once nothing listens on it.
func (s *pubnubSubscription) Close() {
	s.once.Do(func() {
		s.conn.mu.Lock()
		delete(s.conn.handlers[s.channel], s)
		last := len(s.conn.handlers[s.channel]) == 0
		if last {
			delete(s.conn.handlers, s.channel)
		}
		s.conn.mu.Unlock()

		if last {
			s.conn.pn.Unsubscribe().Channels([]string{s.channel}).Execute()
			s.conn.log.Debug().Str("channel", s.channel).Msg("unsubscribed")
		}
	})
}
