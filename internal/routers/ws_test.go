package routers

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"tokenrelay/internal/chat"
	"tokenrelay/internal/dispatch"
	"tokenrelay/internal/engine"
	"tokenrelay/internal/middleware"
	"tokenrelay/internal/session"
	"tokenrelay/internal/stats"
	"tokenrelay/internal/users"
	"tokenrelay/pkg/relay"
)

// failingEngine rejects every generation.
type failingEngine struct{}

func (failingEngine) Generate(ctx context.Context, prompt string, cfg engine.SamplingConfig, sessionID string) (engine.Stream, error) {
	return nil, fmt.Errorf("%w: engine down", engine.ErrEngineFailure)
}

type relayFixture struct {
	client *relay.Client
	store  *chat.MemStore
}

func newRelayFixture(t *testing.T, eng engine.Engine) *relayFixture {
	t.Helper()
	log := zap.NewNop().Sugar()

	store := chat.NewMemStore()
	userMgr := users.NewManager(nil, nil, log)
	userMgr.AllowAnonymous = true
	dm := dispatch.NewManager(eng, session.NewRegistry(0, log), log)
	usage := stats.NewRecorder(nil, log)

	e := echo.New()
	base := e.Group("")
	base.Use(middleware.NewRecoverMiddleware(log))
	base.Use(middleware.NewTrackMiddleware(log))
	if err := RegisterRelayRoutes(base, dm, store, userMgr, usage, log); err != nil {
		t.Fatalf("RegisterRelayRoutes: %v", err)
	}

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	return &relayFixture{
		client: &relay.Client{URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"},
		store:  store,
	}
}

func TestTurnEndToEnd(t *testing.T) {
	fx := newRelayFixture(t, &engine.SimEngine{
		Respond: func(prompt string) string { return "Hi there!" },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	turn, err := fx.client.Send(ctx, "", "Hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if turn.Response != "Hi there!" {
		t.Fatalf("response = %q, want %q", turn.Response, "Hi there!")
	}
	if turn.ChatID == "" {
		t.Fatal("server did not mint a chat id")
	}

	// Persistence is async; wait for the interaction to land.
	deadline := time.Now().Add(5 * time.Second)
	for {
		c, err := fx.store.GetChat(ctx, turn.ChatID)
		if err == nil && len(c.Turns) == 1 {
			if c.Turns[0].Prompt != "Hello" || c.Turns[0].Response != "Hi there!" {
				t.Fatalf("persisted turn = %+v", c.Turns[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("interaction never persisted (err=%v)", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A second turn on the same chat appends rather than minting a new one.
	turn2, err := fx.client.Send(ctx, turn.ChatID, "Again")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if turn2.ChatID != turn.ChatID {
		t.Fatalf("chat id changed across turns: %q -> %q", turn.ChatID, turn2.ChatID)
	}
}

func TestTurnSurfacesEngineFailure(t *testing.T) {
	fx := newRelayFixture(t, failingEngine{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := fx.client.Send(ctx, "", "Hello")
	var gerr *relay.GenerationError
	if !errors.As(err, &gerr) {
		t.Fatalf("Send error = %v, want GenerationError", err)
	}
}

func TestConcurrentTurnsAreIsolated(t *testing.T) {
	responses := map[string]string{
		"alpha": "first response text",
		"beta":  "a completely different reply",
		"gamma": "and a third one",
	}
	fx := newRelayFixture(t, &engine.SimEngine{
		Respond: func(prompt string) string { return responses[prompt] },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for prompt, want := range responses {
		wg.Add(1)
		go func(prompt, want string) {
			defer wg.Done()
			turn, err := fx.client.Send(ctx, "", prompt)
			if err != nil {
				t.Errorf("Send(%s): %v", prompt, err)
				return
			}
			if turn.Response != want {
				t.Errorf("Send(%s) = %q, want %q", prompt, turn.Response, want)
			}
		}(prompt, want)
	}
	wg.Wait()
}
