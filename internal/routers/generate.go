package routers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"tokenrelay/internal/delta"
	"tokenrelay/internal/engine"
	"tokenrelay/internal/setup"
	"tokenrelay/internal/shared"
	"tokenrelay/pkg/wire"
)

type generateRequest struct {
	Prompt   string         `json:"prompt"`
	Sampling *wire.Sampling `json:"sampling,omitempty"`
}

// GenerateSSE streams one generation as server-sent events. Deltas arrive as
// `event: delta`, completion as `event: done`, failure as `event: error` --
// termination is an event type, not a token value.
func (rr *RelayRouter) GenerateSSE(cc echo.Context) error {
	c := cc.(*setup.Context)

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		c.Log.Errorw("Failed to read request body", "error", err.Error())
		return c.JSON(http.StatusBadRequest, shared.ErrorBody{
			Message: "failed to read request body",
			Object:  "error",
			Type:    "BadRequest",
			Code:    http.StatusBadRequest,
		})
	}

	var req generateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return c.JSON(http.StatusBadRequest, shared.ErrorBody{
			Message: "invalid JSON format",
			Object:  "error",
			Type:    "BadRequest",
			Code:    http.StatusBadRequest,
		})
	}

	cfg := engine.SamplingConfig{}
	if req.Sampling != nil {
		cfg = engine.SamplingConfig{
			Temperature: req.Sampling.Temperature,
			TopP:        req.Sampling.TopP,
			MaxTokens:   req.Sampling.MaxTokens,
		}
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	sink := &sseSink{c: c}
	turnStart := time.Now()
	res, runErr := rr.dispatch.Run(c.Request().Context(), req.Prompt, cfg, "sse", sink)
	if res != nil {
		rr.usage.Record(c.User.UserID, res.Status, len(res.Text), time.Since(turnStart), res.TTFT)
	}
	if runErr != nil && res == nil {
		// Headers are already out; the rejection goes down the stream.
		var rerr *shared.RequestError
		msg := "generation failed"
		if errors.As(runErr, &rerr) {
			msg = rerr.Err.Error()
		}
		_ = sink.writeEvent(wire.FrameError, wire.ServerFrame{Type: wire.FrameError, Message: msg})
	}
	if runErr != nil && res != nil {
		c.Log.Warnw("generation ended early", "session_id", res.SessionID, "status", res.Status.String(), "error", runErr)
	}
	return nil
}

// sseSink adapts the echo response writer to the dispatch sink.
type sseSink struct {
	c *setup.Context
}

func (s *sseSink) writeEvent(event string, f wire.ServerFrame) error {
	if err := s.c.Request().Context().Err(); err != nil {
		return err
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.c.Response(), "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.c.Response().Flush()
	return nil
}

func (s *sseSink) SendDelta(d delta.Delta) error {
	return s.writeEvent(wire.FrameDelta, wire.ServerFrame{Type: wire.FrameDelta, SessionID: d.SessionID, Text: d.Text})
}

func (s *sseSink) SendTerminal(sessionID string) error {
	return s.writeEvent(wire.FrameDone, wire.ServerFrame{Type: wire.FrameDone, SessionID: sessionID})
}

func (s *sseSink) SendFailure(sessionID string, err error) error {
	msg := "generation failed"
	var rerr *shared.RequestError
	if errors.As(err, &rerr) {
		msg = rerr.Err.Error()
	}
	return s.writeEvent(wire.FrameError, wire.ServerFrame{Type: wire.FrameError, SessionID: sessionID, Message: msg})
}
