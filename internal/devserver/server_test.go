package devserver_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicroom/waiting-room/internal/core/domain"
	"github.com/clinicroom/waiting-room/internal/core/ports"
	"github.com/clinicroom/waiting-room/internal/core/service"
	"github.com/clinicroom/waiting-room/internal/devserver"
	"github.com/clinicroom/waiting-room/internal/infrastructure/api"
	"github.com/clinicroom/waiting-room/internal/infrastructure/push"
	"github.com/clinicroom/waiting-room/internal/infrastructure/storage"
)

type room struct {
	hub   *push.Hub
	store *devserver.Store
	url   string
	clock clockwork.Clock
}

func newRoom(t *testing.T) *room {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	store := devserver.NewStore(clock)
	hub := push.NewHub(zerolog.Nop())
	t.Cleanup(func() { hub.Close() })

	srv := devserver.New(store, hub, clock, "test-secret", time.Hour, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	_, err := store.SeedUser("Ann Lee", "ann@example.com", "pw-ann", domain.RoleVisitor)
	require.NoError(t, err)
	_, err = store.SeedUser("Dr. Okafor", "okafor@example.com", "pw-okafor", domain.RoleProvider)
	require.NoError(t, err)

	return &room{hub: hub, store: store, url: ts.URL, clock: clock}
}

// login builds a fully wired client stack for one account and returns its
// session store alongside the REST client.
func (r *room) login(t *testing.T, email, password string) (*service.SessionStore, *api.Client) {
	t.Helper()
	client := api.NewClient(r.url, zerolog.Nop())
	store := storage.NewFileSessionStorage(filepath.Join(t.TempDir(), "session.json"))
	session := service.NewSessionStore(client.Auth(), store, r.clock, zerolog.Nop())
	client.SetTokenSource(session.Token)
	client.SetUnauthorizedHandler(session.ForceLogout)

	_, err := session.Login(context.Background(), ports.Credentials{Email: email, Password: password})
	require.NoError(t, err)
	return session, client
}

func TestEndToEnd_VisitFlow(t *testing.T) {
	r := newRoom(t)
	ctx := context.Background()

	visitorSession, visitorClient := r.login(t, "ann@example.com", "pw-ann")
	providerSession, providerClient := r.login(t, "okafor@example.com", "pw-okafor")

	visitor := service.NewVisitorService(visitorClient.Visitor(), r.hub, *visitorSession.Current(), zerolog.Nop())
	require.NoError(t, visitor.Start(ctx))
	defer visitor.Close()

	provider := service.NewProviderService(providerClient.Provider(), r.hub, *providerSession.Current(), zerolog.Nop())
	require.NoError(t, provider.Start(ctx))
	defer provider.Close()

	// Visitor checks in; the provider's waiting list picks it up via the
	// broadcast event without an explicit refresh.
	require.NoError(t, visitor.JoinQueue(ctx, "vsee123", "checkup"))
	vs := visitor.State()
	require.True(t, vs.Queue.InQueue)
	assert.Equal(t, 1, vs.Queue.Position)

	ps := provider.State()
	require.Equal(t, 1, ps.Queue.Total)
	assert.Equal(t, "Ann Lee", ps.Queue.Visitors[0].VisitorName)
	assert.Equal(t, "checkup", ps.Queue.Visitors[0].Reason)
	visitorID := ps.Queue.Visitors[0].VisitorID

	// Pickup: the visitor transitions into the examination off the push
	// payload, and the waiting list empties on both sides.
	require.NoError(t, provider.PickupVisitor(ctx, visitorID))

	ps = provider.State()
	require.True(t, ps.Examination.Active)
	assert.Equal(t, "Ann Lee", ps.Examination.CounterpartyName)
	assert.Equal(t, 0, ps.Queue.Total)

	vs = visitor.State()
	require.True(t, vs.Examination.Active)
	assert.Equal(t, "Dr. Okafor", vs.Examination.CounterpartyName)
	assert.Equal(t, ps.Examination.ExaminationID, vs.Examination.ExaminationID)
	assert.False(t, vs.Queue.InQueue, "examination outranks queue membership")

	// Completion returns both sides to idle.
	require.NoError(t, provider.CompleteExamination(ctx, visitorID))

	assert.False(t, provider.State().Examination.Active)
	vs = visitor.State()
	assert.False(t, vs.Examination.Active)
	assert.False(t, vs.Queue.InQueue)
}

func TestEndToEnd_QueueConflicts(t *testing.T) {
	r := newRoom(t)
	ctx := context.Background()

	visitorSession, visitorClient := r.login(t, "ann@example.com", "pw-ann")
	visitor := service.NewVisitorService(visitorClient.Visitor(), r.hub, *visitorSession.Current(), zerolog.Nop())
	require.NoError(t, visitor.Start(ctx))
	defer visitor.Close()

	require.NoError(t, visitor.JoinQueue(ctx, "vsee123", "checkup"))

	// Double join is rejected server-side and surfaces as a notice, leaving
	// the original membership intact.
	err := visitor.JoinQueue(ctx, "vsee123", "checkup")
	require.Error(t, err)
	vs := visitor.State()
	require.NotNil(t, vs.Notice)
	assert.True(t, vs.Queue.InQueue)

	require.NoError(t, visitor.ExitQueue(ctx))
	assert.False(t, visitor.State().Queue.InQueue)
}

func TestEndToEnd_RevokedTokenForcesLogout(t *testing.T) {
	r := newRoom(t)
	ctx := context.Background()

	session, client := r.login(t, "ann@example.com", "pw-ann")
	require.NotNil(t, session.Current())

	// Revoke the session server-side, the way an expiry or an admin kick
	// would, then make an authenticated call with the now-stale token.
	r.store.RevokeToken(jtiOf(t, session.Token()))

	_, err := client.Visitor().QueueItem(ctx)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Nil(t, session.Current(), "401 on an authenticated call clears the session")
}

func TestEndToEnd_ForcedLogoutFromEventGoroutine(t *testing.T) {
	r := newRoom(t)
	ctx := context.Background()

	session, client := r.login(t, "ann@example.com", "pw-ann")
	visitor := service.NewVisitorService(client.Visitor(), r.hub, *session.Current(), zerolog.Nop())
	require.NoError(t, visitor.Start(ctx))
	defer visitor.Close()

	var lastIdentity *domain.Identity
	var identityMu sync.Mutex
	session.OnChange(func(id *domain.Identity) {
		identityMu.Lock()
		lastIdentity = id
		identityMu.Unlock()
	})

	// Kill the session server-side, then let a broadcast event drive a refetch
	// from the connector's delivery goroutine. The resulting 401 must force the
	// logout from that goroutine without racing readers.
	roleID := session.Current().RoleID
	r.store.RevokeToken(jtiOf(t, session.Token()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.hub.Publish(context.Background(), domain.BroadcastChannel,
			string(domain.EventVisitorJoinedQueue),
			domain.QueueChangePayload{VisitorID: roleID, Position: 1})
	}()

	require.Eventually(t, func() bool {
		select {
		case <-done:
			return session.Current() == nil
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond, "forced logout should clear the session")

	identityMu.Lock()
	defer identityMu.Unlock()
	assert.Nil(t, lastIdentity, "listeners observe the cleared session")
}

func jtiOf(t *testing.T, token string) string {
	t.Helper()
	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(token, claims)
	require.NoError(t, err)
	jti, _ := claims["jti"].(string)
	require.NotEmpty(t, jti)
	return jti
}
