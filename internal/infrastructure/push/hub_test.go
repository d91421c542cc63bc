package push

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicroom/waiting-room/internal/core/domain"
)

func TestHub_DeliversDecodedEvents(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	defer hub.Close()

	var got []domain.Event
	_, err := hub.Subscribe(domain.BroadcastChannel, func(ev domain.Event) {
		got = append(got, ev)
	})
	require.NoError(t, err)

	err = hub.Publish(context.Background(), domain.BroadcastChannel, "VisitorJoinedQueue",
		map[string]any{"visitor_id": 7, "visitor_name": "Ann Lee", "position": 1})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, domain.EventVisitorJoinedQueue, got[0].Kind)
	require.NotNil(t, got[0].QueueChange)
	assert.Equal(t, 7, got[0].QueueChange.VisitorID)
	assert.Equal(t, 1, got[0].QueueChange.Position)
}

func TestHub_ChannelsAreIsolated(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	defer hub.Close()

	var visitorEvents, providerEvents int
	_, err := hub.Subscribe("visitor.7", func(domain.Event) { visitorEvents++ })
	require.NoError(t, err)
	_, err = hub.Subscribe("provider.2", func(domain.Event) { providerEvents++ })
	require.NoError(t, err)

	require.NoError(t, hub.Publish(context.Background(), "visitor.7", "visitor.picked.up",
		map[string]any{"examination_id": 1, "provider": map[string]any{"id": 2}, "visitor": map[string]any{"id": 7}}))

	assert.Equal(t, 1, visitorEvents)
	assert.Equal(t, 0, providerEvents)
}

func TestHub_DropsUnknownEvents(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	defer hub.Close()

	delivered := 0
	_, err := hub.Subscribe(domain.BroadcastChannel, func(domain.Event) { delivered++ })
	require.NoError(t, err)

	// Unknown names are dropped at the boundary, not surfaced as failures.
	err = hub.Publish(context.Background(), domain.BroadcastChannel, "SomeFutureEvent", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
}

func TestHub_CloseStopsDelivery(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	delivered := 0
	sub, err := hub.Subscribe("visitor.7", func(domain.Event) { delivered++ })
	require.NoError(t, err)

	sub.Close()
	sub.Close() // double Close must not panic
	require.NoError(t, hub.Publish(context.Background(), "visitor.7", "visitor.dropped.off", nil))
	assert.Equal(t, 0, delivered)

	require.NoError(t, hub.Close())
	_, err = hub.Subscribe("visitor.7", func(domain.Event) {})
	assert.Error(t, err)
}
