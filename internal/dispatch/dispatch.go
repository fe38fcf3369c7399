// Package dispatch drives the engine and the delta tracker in lockstep and
// forwards every delta to a transport sink. This is the streaming core: one
// Run per generation, one goroutine per Run, exclusive ownership of the
// tracker state.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aidarkhanov/nanoid"
	"go.uber.org/zap"

	"tokenrelay/internal/delta"
	"tokenrelay/internal/engine"
	"tokenrelay/internal/metrics"
	"tokenrelay/internal/session"
	"tokenrelay/internal/shared"
)

// Sink receives the outbound side of a generation. Implementations adapt a
// concrete transport (websocket frames, SSE events, test capture buffers).
// The terminal and failure signals are separate calls, never token payloads.
type Sink interface {
	SendDelta(d delta.Delta) error
	SendTerminal(sessionID string) error
	SendFailure(sessionID string, err error) error
}

// Result summarizes a finished Run for logging and persistence.
type Result struct {
	SessionID string
	Text      string
	Status    session.Status
	TTFT      time.Duration
}

// Manager is the network-facing generation service. The engine handle is
// injected at construction; there is no ambient process-wide engine.
type Manager struct {
	Engine   engine.Engine
	Sessions *session.Registry
	Log      *zap.SugaredLogger
}

func NewManager(eng engine.Engine, reg *session.Registry, log *zap.SugaredLogger) *Manager {
	return &Manager{Engine: eng, Sessions: reg, Log: log}
}

// Run executes one generation end to end. Admission failures are returned as
// *shared.RequestError before anything is streamed. Once streaming has
// begun, failures are delivered through the sink and reflected in the
// returned Result's status; the returned error is then for the caller's log
// only.
func (m *Manager) Run(ctx context.Context, prompt string, cfg engine.SamplingConfig, transport string, sink Sink) (*Result, error) {
	if prompt == "" {
		return nil, shared.ErrEmptyPrompt
	}

	// A fresh collision-resistant id per call. Reusing an identifier across
	// concurrent generations would share tracker state between unrelated
	// requests.
	idNano, err := nanoid.Generate("0123456789abcdefghijklmnopqrstuvwxyz", 21)
	if err != nil {
		return nil, shared.ErrInternalServerError
	}
	sessionID := "gen_" + idNano

	if _, err := m.Sessions.Begin(sessionID); err != nil {
		switch {
		case errors.Is(err, session.ErrCapacity):
			return nil, shared.ErrTooManySessions
		case errors.Is(err, session.ErrSessionCollision):
			m.Log.Errorw("session id collision", "session_id", sessionID, "error", err)
			metrics.ErrorCount.WithLabelValues("session_collision").Inc()
			return nil, shared.ErrInternalServerError
		default:
			return nil, shared.ErrInternalServerError
		}
	}

	res := &Result{SessionID: sessionID, Status: session.Failed}
	defer func() {
		m.Sessions.Release(sessionID, res.Status)
		metrics.SessionCount.WithLabelValues(transport, res.Status.String()).Inc()
	}()

	log := m.Log.With("session_id", sessionID)
	start := time.Now()

	stream, err := m.Engine.Generate(ctx, prompt, cfg.WithDefaults(), sessionID)
	if err != nil {
		log.Errorw("engine rejected generation", "error", err)
		metrics.ErrorCount.WithLabelValues("engine_start").Inc()
		return nil, shared.ErrEngineUnavailable
	}
	defer func() {
		_ = stream.Close()
	}()

	tracker := delta.NewState(sessionID)
	var ttftRecorded bool

	for {
		if ctx.Err() != nil {
			log.Warnw("client gone, cancelling generation")
			res.Status = session.Cancelled
			return res, ctx.Err()
		}

		snap, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				res.Status = session.Cancelled
				return res, ctx.Err()
			}
			log.Errorw("engine stream failed", "error", err)
			metrics.ErrorCount.WithLabelValues("engine_stream").Inc()
			_ = sink.SendFailure(sessionID, shared.ErrEngineUnavailable)
			return res, fmt.Errorf("engine stream: %w", err)
		}

		d, err := tracker.Next(snap)
		if err != nil {
			// Monotonicity violation: this session is corrupt, abort it
			// without touching others.
			log.Errorw("snapshot violated tracker invariant", "error", err, "seen_length", tracker.SeenLength)
			metrics.ErrorCount.WithLabelValues("protocol_violation").Inc()
			_ = sink.SendFailure(sessionID, shared.ErrInternalServerError)
			return res, err
		}

		if !ttftRecorded {
			ttftRecorded = true
			res.TTFT = time.Since(start)
			metrics.TimeToFirstToken.Observe(res.TTFT.Seconds())
			_ = m.Sessions.MarkStreaming(sessionID)
			log.Infow("first snapshot received", "ttft_ms", res.TTFT.Milliseconds())
		}

		if err := sink.SendDelta(d); err != nil {
			// The client hop broke; stop the engine instead of generating
			// into the void.
			log.Warnw("client write failed, cancelling generation", "error", err)
			res.Status = session.Cancelled
			return res, err
		}
		res.Text += d.Text
		metrics.StreamedDeltas.Inc()
		metrics.StreamedBytes.Add(float64(len(d.Text)))

		if tracker.Finished {
			break
		}
	}

	if err := sink.SendTerminal(sessionID); err != nil {
		res.Status = session.Cancelled
		return res, err
	}

	res.Status = session.Completed
	log.Infow("generation completed",
		"chars", len(res.Text),
		"duration", time.Since(start).String())
	return res, nil
}
