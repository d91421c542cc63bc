// Command waitingroom is the interactive waiting-room client. It keeps a
// session across restarts, reacts to push events in real time, and exposes
// the visitor and provider flows as console commands.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/clinicroom/waiting-room/internal/core/domain"
	"github.com/clinicroom/waiting-room/internal/core/ports"
	"github.com/clinicroom/waiting-room/internal/core/service"
	"github.com/clinicroom/waiting-room/internal/infrastructure/api"
	"github.com/clinicroom/waiting-room/internal/infrastructure/config"
	"github.com/clinicroom/waiting-room/internal/infrastructure/push"
	"github.com/clinicroom/waiting-room/internal/infrastructure/storage"
	"github.com/clinicroom/waiting-room/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(ctx)
	if err != nil {
		log := logger.Init(logger.Options{})
		log.Fatal().Err(err).Msg("configuration")
	}
	log := logger.Init(logger.Options{Level: cfg.LogLevel})

	client := api.NewClient(cfg.APIBaseURL, log)
	session := service.NewSessionStore(client.Auth(), storage.NewFileSessionStorage(cfg.SessionFile), clockwork.NewRealClock(), log)
	client.SetTokenSource(session.Token)
	client.SetUnauthorizedHandler(session.ForceLogout)

	var connector ports.PushConnector
	if cfg.PubNub.Enabled() {
		connector = push.NewPubNubConnector(push.PubNubConfig{
			SubscribeKey: cfg.PubNub.SubscribeKey,
			PublishKey:   cfg.PubNub.PublishKey,
			AuthKey:      cfg.PubNub.AuthKey,
			UserID:       uuid.NewString(),
		}, log)
	} else {
		log.Warn().Msg("no PubNub keyset, running without live updates")
		connector = push.NewHub(log)
	}
	defer connector.Close()

	a := &app{
		client:        client,
		session:       session,
		connector:     connector,
		log:           log,
		requireReason: cfg.RequireJoinReason,
	}
	a.run(ctx)
}

type app struct {
	client        *api.Client
	session       *service.SessionStore
	connector     ports.PushConnector
	log           zerolog.Logger
	requireReason bool

	// mu guards the service pointers: ForceLogout can fire from a connector
	// goroutine and tear them down while the command loop is reading them.
	mu       sync.Mutex
	visitor  *service.VisitorService
	provider *service.ProviderService
}

func (a *app) run(ctx context.Context) {
	// Tear the role session down whenever the session store clears, whether
	// through an explicit logout or a forced one.
	a.session.OnChange(func(id *domain.Identity) {
		if id == nil {
			a.stopServices()
			fmt.Println("logged out")
		}
	})

	if id := a.session.Current(); id != nil {
		fmt.Printf("welcome back, %s (%s)\n", id.Name, id.Role)
		if err := a.startService(ctx, *id); err != nil {
			fmt.Println("error:", err)
		}
	} else {
		fmt.Println("not logged in; use: login <email> <password>")
	}

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			fmt.Println()
			a.stopServices()
			return
		case line, ok := <-lines:
			if !ok {
				a.stopServices()
				return
			}
			if quit := a.dispatch(ctx, strings.Fields(line)); quit {
				a.stopServices()
				return
			}
		}
	}
}

func (a *app) dispatch(ctx context.Context, args []string) (quit bool) {
	if len(args) == 0 {
		return false
	}

	var err error
	switch args[0] {
	case "help":
		printHelp()
	case "quit", "exit-app":
		return true
	case "login":
		err = a.login(ctx, args[1:])
	case "logout":
		err = a.session.Logout(ctx)
	case "status":
		a.printStatus()
	case "refresh":
		err = a.refresh(ctx)
	case "join":
		err = a.join(ctx, args[1:])
	case "leave":
		err = a.withVisitor(func(v *service.VisitorService) error { return v.ExitQueue(ctx) })
	case "done":
		err = a.withVisitor(func(v *service.VisitorService) error { return v.ExitExamination(ctx) })
	case "list":
		err = a.withProvider(func(p *service.ProviderService) error {
			if err := p.FetchQueue(ctx); err != nil {
				return err
			}
			printQueue(p.State().Queue)
			return nil
		})
	case "pickup":
		err = a.pickup(ctx, args[1:])
	case "complete":
		err = a.complete(ctx, args[1:])
	default:
		fmt.Printf("unknown command %q; try help\n", args[0])
	}
	if err != nil {
		fmt.Println("error:", err)
	}
	return false
}

func (a *app) login(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: login <email> <password>")
	}
	id, err := a.session.Login(ctx, ports.Credentials{Email: args[0], Password: args[1]})
	if err != nil {
		return err
	}
	fmt.Printf("logged in as %s (%s)\n", id.Name, id.Role)
	return a.startService(ctx, *id)
}

// startService spins up the state machine for the session's role; the guard
// makes the decision the UI router would.
func (a *app) startService(ctx context.Context, id domain.Identity) error {
	a.stopServices()

	switch {
	case service.ResolveAccess(true, &id, domain.RoleVisitor) == service.AccessAuthorized:
		v := service.NewVisitorService(a.client.Visitor(), a.connector, id, a.log,
			service.WithRequireReason(a.requireReason))
		v.OnChange(printVisitorState)
		if err := v.Start(ctx); err != nil {
			return err
		}
		a.mu.Lock()
		a.visitor = v
		a.mu.Unlock()
	case service.ResolveAccess(true, &id, domain.RoleProvider) == service.AccessAuthorized:
		p := service.NewProviderService(a.client.Provider(), a.connector, id, a.log)
		p.OnChange(printProviderState)
		if err := p.Start(ctx); err != nil {
			return err
		}
		a.mu.Lock()
		a.provider = p
		a.mu.Unlock()
	default:
		return fmt.Errorf("no room for role %q", id.Role)
	}
	return nil
}

func (a *app) stopServices() {
	a.mu.Lock()
	v, p := a.visitor, a.provider
	a.visitor, a.provider = nil, nil
	a.mu.Unlock()

	if v != nil {
		v.Close()
	}
	if p != nil {
		p.Close()
	}
}

func (a *app) services() (*service.VisitorService, *service.ProviderService) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.visitor, a.provider
}

func (a *app) withVisitor(fn func(*service.VisitorService) error) error {
	v, _ := a.services()
	if v == nil {
		return fmt.Errorf("visitor commands need a visitor session")
	}
	return fn(v)
}

func (a *app) withProvider(fn func(*service.ProviderService) error) error {
	_, p := a.services()
	if p == nil {
		return fmt.Errorf("provider commands need a provider session")
	}
	return fn(p)
}

func (a *app) refresh(ctx context.Context) error {
	v, p := a.services()
	if v != nil {
		return v.Refresh(ctx)
	}
	if p != nil {
		return p.Refresh(ctx)
	}
	return fmt.Errorf("not logged in")
}

func (a *app) join(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: join <external-id> [reason...]")
	}
	reason := strings.Join(args[1:], " ")
	return a.withVisitor(func(v *service.VisitorService) error {
		return v.JoinQueue(ctx, args[0], reason)
	})
}

func (a *app) pickup(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: pickup <visitor-id>")
	}
	visitorID, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("visitor id must be a number")
	}
	return a.withProvider(func(p *service.ProviderService) error {
		return p.PickupVisitor(ctx, visitorID)
	})
}

func (a *app) complete(ctx context.Context, args []string) error {
	return a.withProvider(func(p *service.ProviderService) error {
		exam := p.State().Examination
		if !exam.Active {
			return fmt.Errorf("no active examination")
		}
		visitorID := exam.CounterpartyID
		if len(args) == 1 {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("visitor id must be a number")
			}
			visitorID = id
		}
		return p.CompleteExamination(ctx, visitorID)
	})
}

func (a *app) printStatus() {
	id := a.session.Current()
	if id == nil {
		fmt.Println("not logged in")
		return
	}
	fmt.Printf("%s (%s #%d)\n", id.Name, id.Role, id.RoleID)
	v, p := a.services()
	if v != nil {
		printVisitorState(v.State())
	}
	if p != nil {
		printProviderState(p.State())
	}
}

func printVisitorState(st service.VisitorState) {
	switch {
	case st.Examination.Active:
		fmt.Printf("in examination with %s (started %s)\n",
			st.Examination.CounterpartyName, st.Examination.StartedAt.Format("15:04:05"))
	case st.Queue.InQueue:
		fmt.Printf("in queue: position %d of %d, waited %s, estimated %s\n",
			st.Queue.Position, st.Queue.TotalVisitors, st.Queue.WaitedTime, st.Queue.EstimatedWaitTime)
	default:
		fmt.Println("idle")
	}
	if st.Notice != nil {
		fmt.Println("notice:", st.Notice.Message)
	}
	if st.StatusMessage != "" {
		fmt.Println(st.StatusMessage)
	}
}

func printProviderState(st service.ProviderState) {
	if st.Examination.Active {
		fmt.Printf("examining %s (started %s)\n",
			st.Examination.CounterpartyName, st.Examination.StartedAt.Format("15:04:05"))
	} else {
		fmt.Printf("waiting list: %d visitor(s)\n", st.Queue.Total)
	}
	if st.Notice != nil {
		fmt.Println("notice:", st.Notice.Message)
	}
}

func printQueue(q domain.QueueSnapshot) {
	if q.Total == 0 {
		fmt.Println("waiting list is empty")
		return
	}
	for _, v := range q.Visitors {
		fmt.Printf("%2d. #%d %s", v.Position, v.VisitorID, v.VisitorName)
		if v.Reason != "" {
			fmt.Printf(" (%s)", v.Reason)
		}
		fmt.Printf(" waiting %s\n", v.WaitingTime)
	}
}

func printHelp() {
	fmt.Print(`commands:
  login <email> <password>   start a session
  logout                     end the session
  status                     show current state
  refresh                    re-pull state from the server
  join <external-id> [reason]  (visitor) enter the queue
  leave                      (visitor) exit the queue
  done                       (visitor) leave the examination
  list                       (provider) show the waiting list
  pickup <visitor-id>        (provider) start an examination
  complete [visitor-id]      (provider) finish the examination
  quit                       exit
`)
}
