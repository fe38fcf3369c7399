package engine

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"
)

// SimEngine produces snapshots by growing the response word by word. Used in
// debug mode and in tests, where a GPU-backed sidecar is not available.
type SimEngine struct {
	// Respond maps a prompt to the full response text. When nil, the
	// canned response is used.
	Respond func(prompt string) string
	// StepDelay pauses between snapshots to mimic model latency.
	StepDelay time.Duration
}

func (e *SimEngine) Generate(ctx context.Context, prompt string, cfg SamplingConfig, sessionID string) (Stream, error) {
	full := "This is a simulated response."
	if e.Respond != nil {
		full = e.Respond(prompt)
	}

	words := strings.Fields(full)
	snapshots := make([]Snapshot, 0, len(words)+1)
	var b strings.Builder
	for i, w := range words {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(w)
		snapshots = append(snapshots, Snapshot{Text: b.String()})
	}
	snapshots = append(snapshots, Snapshot{Text: full, Finished: true})

	ctx, cancel := context.WithCancel(ctx)
	return &simStream{ctx: ctx, cancel: cancel, snapshots: snapshots, delay: e.StepDelay}, nil
}

type simStream struct {
	ctx       context.Context
	cancel    context.CancelFunc
	snapshots []Snapshot
	delay     time.Duration

	mu   sync.Mutex
	next int
	done bool
}

func (s *simStream) Recv() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done || s.next >= len(s.snapshots) {
		return Snapshot{}, io.EOF
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-s.ctx.Done():
		}
	}
	if err := s.ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	snap := s.snapshots[s.next]
	s.next++
	if snap.Finished {
		s.done = true
	}
	return snap, nil
}

func (s *simStream) Close() error {
	s.cancel()
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
	return nil
}
