// Command devserver runs a self-contained waiting-room backend on localhost:
// seeded accounts, in-memory state, and push events over PubNub when a keyset
// is configured.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/clinicroom/waiting-room/internal/core/domain"
	"github.com/clinicroom/waiting-room/internal/core/ports"
	"github.com/clinicroom/waiting-room/internal/devserver"
	"github.com/clinicroom/waiting-room/internal/infrastructure/config"
	"github.com/clinicroom/waiting-room/internal/infrastructure/push"
	"github.com/clinicroom/waiting-room/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		log := logger.Init(logger.Options{})
		log.Fatal().Err(err).Msg("configuration")
	}
	log := logger.Init(logger.Options{Level: cfg.LogLevel, Pretty: true})

	var publisher ports.EventPublisher
	if cfg.PubNub.Enabled() {
		publisher = push.NewPubNubConnector(push.PubNubConfig{
			SubscribeKey: cfg.PubNub.SubscribeKey,
			PublishKey:   cfg.PubNub.PublishKey,
			AuthKey:      cfg.PubNub.AuthKey,
			UserID:       "devserver",
		}, log)
	} else {
		log.Warn().Msg("no PubNub keyset, events stay in-process")
		publisher = push.NewHub(log)
	}

	store := devserver.NewStore(clockwork.NewRealClock())
	seed(store, log)

	srv := devserver.New(store, publisher, clockwork.NewRealClock(),
		cfg.DevServer.JWTSecret, time.Duration(cfg.DevServer.TokenLifetime)*time.Second, log)

	go func() {
		addr := ":" + cfg.DevServer.Port
		log.Info().Str("addr", addr).Msg("dev server listening")
		if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}

// seed registers the demo roster and logs the credentials so a local client
// can log straight in.
func seed(store *devserver.Store, log zerolog.Logger) {
	accounts := []struct {
		name, email, password string
		role                  domain.Role
	}{
		{"Ann Lee", "ann@example.com", "visitor-pass", domain.RoleVisitor},
		{"Bo Chen", "bo@example.com", "visitor-pass", domain.RoleVisitor},
		{"Dr. Okafor", "okafor@example.com", "provider-pass", domain.RoleProvider},
	}
	for _, a := range accounts {
		u, err := store.SeedUser(a.name, a.email, a.password, a.role)
		if err != nil {
			log.Fatal().Err(err).Str("email", a.email).Msg("seed account")
		}
		log.Info().
			Str("email", u.Email).
			Str("password", a.password).
			Str("role", string(u.Role)).
			Int("role_id", u.RoleID).
			Msg("seeded account")
	}
}
