package routers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"tokenrelay/internal/chat"
	"tokenrelay/internal/delta"
	"tokenrelay/internal/engine"
	"tokenrelay/internal/session"
	"tokenrelay/internal/setup"
	"tokenrelay/internal/shared"
	"tokenrelay/pkg/wire"
)

// TurnWS serves one chat turn over a websocket: read the turn request,
// stream deltas back, persist the completed interaction. One turn per
// connection, the way the relay bridge dials it.
func (rr *RelayRouter) TurnWS(cc echo.Context) error {
	c := cc.(*setup.Context)

	conn, err := rr.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		c.Log.Warnw("websocket upgrade failed", "error", err)
		return nil
	}
	defer func() {
		_ = conn.Close()
	}()
	conn.SetReadLimit(shared.WSReadLimit)

	_ = conn.SetReadDeadline(time.Now().Add(shared.WSHandshakeWait))
	_, message, err := conn.ReadMessage()
	if err != nil {
		c.Log.Warnw("websocket read failed", "error", err)
		return nil
	}

	sink := &wsSink{conn: conn}

	var turn wire.TurnRequest
	if err := json.Unmarshal(message, &turn); err != nil {
		_ = sink.sendFrame(wire.ServerFrame{Type: wire.FrameError, Message: "invalid JSON format"})
		return nil
	}

	user, err := rr.users.GetUserFromKey(c.Request().Context(), turn.APIKey)
	if err != nil {
		_ = sink.sendFrame(wire.ServerFrame{Type: wire.FrameError, Message: shared.ErrUnauthorized.Err.Error()})
		return nil
	}
	c.User = user
	c.Log = c.Log.With("user_id", user.UserID)

	chatID, err := rr.resolveChat(c, user.UserID, &turn)
	if err != nil {
		var rerr *shared.RequestError
		msg := "failed to resolve chat"
		if errors.As(err, &rerr) {
			msg = rerr.Err.Error()
		}
		_ = sink.sendFrame(wire.ServerFrame{Type: wire.FrameError, Message: msg})
		return nil
	}
	if chatID != turn.ChatID {
		// Minted a new chat for this turn; tell the client before tokens
		// start flowing.
		if err := sink.sendFrame(wire.ServerFrame{Type: wire.FrameChat, ChatID: chatID}); err != nil {
			return nil
		}
	}

	// The request context does not end when a hijacked websocket drops, so
	// watch the read side: a client that closes or errors cancels the
	// generation instead of leaking it.
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	go func() {
		_ = conn.SetReadDeadline(time.Time{})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	cfg := engine.SamplingConfig{}
	if turn.Sampling != nil {
		cfg = engine.SamplingConfig{
			Temperature: turn.Sampling.Temperature,
			TopP:        turn.Sampling.TopP,
			MaxTokens:   turn.Sampling.MaxTokens,
		}
	}

	turnStart := time.Now()
	res, runErr := rr.dispatch.Run(ctx, turn.Prompt, cfg, "ws", sink)
	if res != nil {
		rr.usage.Record(user.UserID, res.Status, len(res.Text), time.Since(turnStart), res.TTFT)
	}
	if runErr != nil && res == nil {
		// Rejected before streaming started (bad prompt, capacity, engine
		// down); the client still gets a structured error frame.
		var rerr *shared.RequestError
		msg := "generation failed"
		if errors.As(runErr, &rerr) {
			msg = rerr.Err.Error()
		}
		_ = sink.sendFrame(wire.ServerFrame{Type: wire.FrameError, Message: msg})
		return nil
	}

	if res != nil && res.Status == session.Completed {
		rr.persistTurn(c, chatID, turn.Prompt, res.Text)
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(shared.WSWriteTimeout))
	return nil
}

func (rr *RelayRouter) resolveChat(c *setup.Context, userID uint64, turn *wire.TurnRequest) (string, error) {
	if turn.ChatID == "" {
		chatID, err := rr.chats.CreateChat(c.Request().Context(), userID, shared.TruncateTitle(turn.Prompt))
		if err != nil {
			c.Log.Errorw("failed creating chat for turn", "error", err)
			return "", shared.ErrInternalServerError
		}
		return chatID, nil
	}

	existing, err := rr.chats.GetChat(c.Request().Context(), turn.ChatID)
	if err != nil {
		return "", err
	}
	if existing.UserID != userID {
		return "", shared.ErrNotChatOwner
	}
	return turn.ChatID, nil
}

// persistTurn hands the finished turn to the chat store off the hot path.
func (rr *RelayRouter) persistTurn(c *setup.Context, chatID, prompt, response string) {
	log := c.Log
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := rr.chats.AddInteraction(ctx, chatID, chat.Interaction{Prompt: prompt, Response: response})
		if err != nil {
			log.Errorw("failed persisting interaction", "chat_id", chatID, "error", err)
			return
		}
		log.Infow("interaction persisted", "chat_id", chatID)
	}()
}

// wsSink adapts a websocket connection to the dispatch sink. gorilla allows
// one concurrent writer, so writes are serialized here.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) sendFrame(f wire.ServerFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(shared.WSWriteTimeout))
	return s.conn.WriteJSON(f)
}

func (s *wsSink) SendDelta(d delta.Delta) error {
	return s.sendFrame(wire.ServerFrame{Type: wire.FrameDelta, SessionID: d.SessionID, Text: d.Text})
}

func (s *wsSink) SendTerminal(sessionID string) error {
	return s.sendFrame(wire.ServerFrame{Type: wire.FrameDone, SessionID: sessionID})
}

func (s *wsSink) SendFailure(sessionID string, err error) error {
	msg := "generation failed"
	var rerr *shared.RequestError
	if errors.As(err, &rerr) {
		msg = rerr.Err.Error()
	}
	return s.sendFrame(wire.ServerFrame{Type: wire.FrameError, SessionID: sessionID, Message: msg})
}
