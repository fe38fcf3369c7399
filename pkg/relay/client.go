// Package relay is the client-side bridge: it turns one chat turn into one
// dispatch-service websocket stream and back into a single accumulated
// response.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"tokenrelay/pkg/wire"
)

// GenerationError is a failure reported by the service itself, as opposed
// to a broken transport.
type GenerationError struct {
	SessionID string
	Message   string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (session %s): %s", e.SessionID, e.Message)
}

// ErrStreamTruncated means the socket closed before a done or error frame
// arrived. The partial text is not a usable response.
var ErrStreamTruncated = errors.New("stream closed before completion")

// Turn is one completed round trip.
type Turn struct {
	ChatID    string
	SessionID string
	Response  string
}

// Client dials the dispatch service. Zero value plus URL is usable; APIKey
// is optional against debug servers.
type Client struct {
	URL    string
	APIKey string

	// Dialer overrides the websocket dialer, mainly for tests.
	Dialer *websocket.Dialer

	// HandshakeTimeout bounds the dial. Defaults to 30s.
	HandshakeTimeout time.Duration
}

func (c *Client) dialer() *websocket.Dialer {
	if c.Dialer != nil {
		return c.Dialer
	}
	timeout := c.HandshakeTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &websocket.Dialer{HandshakeTimeout: timeout}
}

// Send runs one turn and blocks until the full response has arrived.
func (c *Client) Send(ctx context.Context, chatID, prompt string) (*Turn, error) {
	return c.Stream(ctx, chatID, prompt, nil)
}

// Stream runs one turn, invoking onDelta for every partial string as it
// arrives. A non-nil error from onDelta aborts the turn. The returned Turn
// carries the accumulated response, exactly the concatenation of the deltas
// in arrival order.
func (c *Client) Stream(ctx context.Context, chatID, prompt string, onDelta func(text string) error) (*Turn, error) {
	conn, _, err := c.dialer().DialContext(ctx, c.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	// A canceled context must unblock the read loop; closing the socket is
	// how gorilla interrupts a blocked ReadJSON.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	if err := conn.WriteJSON(wire.TurnRequest{
		APIKey: c.APIKey,
		ChatID: chatID,
		Prompt: prompt,
	}); err != nil {
		return nil, fmt.Errorf("send turn request: %w", err)
	}

	turn := &Turn{ChatID: chatID}
	var response strings.Builder

	for {
		var frame wire.ServerFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// A close before the done frame is a transport failure, not a
			// completion -- the accumulated text must not be surfaced as a
			// finished response.
			return nil, fmt.Errorf("%w: %v", ErrStreamTruncated, err)
		}

		switch frame.Type {
		case wire.FrameChat:
			turn.ChatID = frame.ChatID
		case wire.FrameDelta:
			if turn.SessionID == "" {
				turn.SessionID = frame.SessionID
			}
			response.WriteString(frame.Text)
			if onDelta != nil {
				if err := onDelta(frame.Text); err != nil {
					return nil, err
				}
			}
		case wire.FrameDone:
			turn.Response = response.String()
			return turn, nil
		case wire.FrameError:
			return nil, &GenerationError{SessionID: frame.SessionID, Message: frame.Message}
		default:
			return nil, fmt.Errorf("unknown frame type %q", frame.Type)
		}
	}
}
