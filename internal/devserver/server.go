package devserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/clinicroom/waiting-room/internal/core/domain"
	"github.com/clinicroom/waiting-room/internal/core/ports"
)

// Server serves the waiting-room REST surface and publishes push events
// through the given publisher, so a client pointed at it behaves exactly as
// against the production backend.
type Server struct {
	store     *Store
	publisher ports.EventPublisher
	clock     clockwork.Clock
	jwtSecret []byte
	tokenTTL  time.Duration
	log       zerolog.Logger
	echo      *echo.Echo
}

// New wires the routes and middleware.
func New(store *Store, publisher ports.EventPublisher, clock clockwork.Clock, jwtSecret string, tokenTTL time.Duration, log zerolog.Logger) *Server {
	s := &Server{
		store:     store,
		publisher: publisher,
		clock:     clock,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		log:       log.With().Str("component", "devserver").Logger(),
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = newValidator()
	e.HTTPErrorHandler = newHTTPErrorHandler(s.log)

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())

	// Per-instance registry so multiple servers can coexist in one process.
	registry := prometheus.NewRegistry()
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace:  "waitingroom_devserver",
		Registerer: registry,
	}))
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
		Gatherer: registry,
	}))

	e.POST("/api/login", s.handleLogin)
	e.POST("/api/logout", s.handleLogout, s.auth())

	visitor := e.Group("/api/visitor", s.auth(), requireRole(domain.RoleVisitor))
	visitor.POST("/queue", s.handleJoinQueue)
	visitor.DELETE("/queue", s.handleExitQueue)
	visitor.GET("/queue/item", s.handleQueueItem)
	visitor.GET("/examination", s.handleExamination)
	visitor.POST("/examination/complete", s.handleVisitorComplete)

	provider := e.Group("/api/provider", s.auth(), requireRole(domain.RoleProvider))
	provider.GET("/queue/list", s.handleQueueList)
	provider.POST("/queue/pickup", s.handlePickup)
	provider.POST("/examination/complete", s.handleProviderComplete)
	provider.GET("/examination", s.handleExamination)

	s.echo = e
	return s
}

// Handler exposes the underlying handler for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start blocks serving on the given address.
func (s *Server) Start(addr string) error { return s.echo.Start(addr) }

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error { return s.echo.Shutdown(ctx) }

// ── Auth ─────────────────────────────────────────────────────────────────────

type sessionClaims struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	RoleID int    `json:"role_id"`
	jwt.RegisteredClaims
}

const userContextKey = "devserver.user"

func (s *Server) issueToken(u *User) (string, error) {
	now := s.clock.Now()
	claims := sessionClaims{
		Name:   u.Name,
		Email:  u.Email,
		Role:   string(u.Role),
		RoleID: u.RoleID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprint(u.ID),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

// auth validates the bearer token and injects the account into the request
// context. Revoked and expired tokens are both 401s.
func (s *Server) auth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header")
			}

			claims := &sessionClaims{}
			tkn, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (any, error) {
				if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
					return nil, jwt.ErrTokenSignatureInvalid
				}
				return s.jwtSecret, nil
			}, jwt.WithTimeFunc(s.clock.Now))
			if err != nil || !tkn.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if s.store.TokenRevoked(claims.ID) {
				return echo.NewHTTPError(http.StatusUnauthorized, "token revoked")
			}

			role, err := domain.ParseRole(claims.Role)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			c.Set(userContextKey, &User{
				Name:   claims.Name,
				Email:  claims.Email,
				Role:   role,
				RoleID: claims.RoleID,
			})
			c.Set("jti", claims.ID)
			return next(c)
		}
	}
}

func requireRole(role domain.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u := currentUser(c)
			if u == nil || u.Role != role {
				return echo.NewHTTPError(http.StatusForbidden, "forbidden")
			}
			return next(c)
		}
	}
}

func currentUser(c echo.Context) *User {
	u, _ := c.Get(userContextKey).(*User)
	return u
}

// ── Handlers ─────────────────────────────────────────────────────────────────

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	u, err := s.store.Authenticate(req.Email, req.Password)
	if err != nil {
		return err
	}
	token, err := s.issueToken(u)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status": "success",
		"user": map[string]any{
			"id":      u.ID,
			"name":    u.Name,
			"email":   u.Email,
			"type":    string(u.Role),
			"type_id": u.RoleID,
		},
		"authorisation": map[string]any{
			"token":      token,
			"type":       "bearer",
			"expires_in": int(s.tokenTTL.Seconds()),
		},
	})
}

func (s *Server) handleLogout(c echo.Context) error {
	if jti, ok := c.Get("jti").(string); ok {
		s.store.RevokeToken(jti)
	}
	return c.JSON(http.StatusOK, successEnvelope{Success: true})
}

type joinQueueRequest struct {
	ExternalID string `json:"external_id" validate:"required"`
	Reason     string `json:"reason"`
}

func (s *Server) handleJoinQueue(c echo.Context) error {
	var req joinQueueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	u := currentUser(c)
	item, err := s.store.JoinQueue(u, req.ExternalID, req.Reason)
	if err != nil {
		return err
	}

	s.publish(c, domain.BroadcastChannel, string(domain.EventVisitorJoinedQueue), domain.QueueChangePayload{
		VisitorID:   u.RoleID,
		VisitorName: u.Name,
		Position:    item.Position,
	})
	return c.JSON(http.StatusOK, successEnvelope{Success: true, Data: item})
}

func (s *Server) handleExitQueue(c echo.Context) error {
	u := currentUser(c)
	if err := s.store.ExitQueue(u.RoleID); err != nil {
		return err
	}
	s.publish(c, domain.BroadcastChannel, string(domain.EventVisitorExitedQueue), domain.QueueChangePayload{
		VisitorID:   u.RoleID,
		VisitorName: u.Name,
	})
	return c.JSON(http.StatusOK, successEnvelope{Success: true})
}

func (s *Server) handleQueueItem(c echo.Context) error {
	item, err := s.store.QueueItem(currentUser(c).RoleID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, successEnvelope{Success: true, Data: item})
}

func (s *Server) handleExamination(c echo.Context) error {
	u := currentUser(c)
	detail, err := s.store.Examination(u.Role, u.RoleID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, successEnvelope{Success: true, Data: detail})
}

func (s *Server) handleVisitorComplete(c echo.Context) error {
	u := currentUser(c)
	detail, err := s.store.Complete(u.Role, u.RoleID)
	if err != nil {
		return err
	}
	s.publish(c, fmt.Sprintf("provider.%d", detail.ProviderID), string(domain.EventProviderCompleted), nil)
	return c.JSON(http.StatusOK, successEnvelope{Success: true, Data: detail})
}

func (s *Server) handleQueueList(c echo.Context) error {
	return c.JSON(http.StatusOK, successEnvelope{Success: true, Data: s.store.Snapshot()})
}

type pickupRequest struct {
	VisitorID int `json:"visitor_id" validate:"required"`
}

func (s *Server) handlePickup(c echo.Context) error {
	var req pickupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	u := currentUser(c)
	detail, err := s.store.Pickup(u, req.VisitorID)
	if err != nil {
		return err
	}

	// The picked-up visitor leaves the waiting list, so every client hears the
	// membership change, the visitor gets the authoritative pickup payload, and
	// the provider's other tabs re-pull their state.
	s.publish(c, domain.BroadcastChannel, string(domain.EventVisitorExitedQueue), domain.QueueChangePayload{
		VisitorID:   detail.VisitorID,
		VisitorName: detail.VisitorName,
	})
	s.publish(c, fmt.Sprintf("visitor.%d", detail.VisitorID), string(domain.EventVisitorPickedUp), domain.PickupPayload{
		ExaminationID: detail.ExaminationID,
		Provider:      domain.Party{ID: detail.ProviderID, Name: detail.ProviderName},
		Visitor:       domain.Party{ID: detail.VisitorID, Name: detail.VisitorName},
		StartedAt:     detail.StartedAt,
	})
	s.publish(c, fmt.Sprintf("provider.%d", detail.ProviderID), string(domain.EventProviderPickedUp), nil)

	return c.JSON(http.StatusOK, successEnvelope{Success: true, Data: detail})
}

func (s *Server) handleProviderComplete(c echo.Context) error {
	var req pickupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	u := currentUser(c)
	detail, err := s.store.Complete(u.Role, u.RoleID)
	if err != nil {
		return err
	}
	if req.VisitorID != 0 && req.VisitorID != detail.VisitorID {
		s.log.Warn().Int("requested", req.VisitorID).Int("actual", detail.VisitorID).
			Msg("completion named a different visitor than the active examination")
	}

	s.publish(c, fmt.Sprintf("visitor.%d", detail.VisitorID), string(domain.EventExaminationFinished), nil)
	return c.JSON(http.StatusOK, successEnvelope{Success: true, Data: detail})
}

func (s *Server) publish(c echo.Context, channel, event string, payload any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(c.Request().Context(), channel, event, payload); err != nil {
		s.log.Error().Err(err).Str("channel", channel).Str("event", event).Msg("publish failed")
	}
}

// ── Error handling ───────────────────────────────────────────────────────────

type errorResponse struct {
	Error string `json:"error"`
}

// newHTTPErrorHandler maps domain errors onto deterministic status codes and
// renders the canonical {"error": "..."} envelope.
func newHTTPErrorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code, msg := resolveError(err, log, c)
		_ = c.JSON(code, errorResponse{Error: msg})
	}
}

func resolveError(err error, log zerolog.Logger, c echo.Context) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, fmt.Sprintf("%v", he.Message)
	}

	switch {
	case errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrQueueRejected):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, err.Error()
	}

	log.Error().Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Request().URL.Path).
		Msg("unhandled error")
	return http.StatusInternalServerError, "internal server error"
}
