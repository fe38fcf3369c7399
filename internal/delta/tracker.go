// Package delta turns cumulative engine snapshots into the token deltas a
// client actually streams. One State per generation, owned by that
// generation's goroutine, so no locking is needed.
package delta

import (
	"errors"
	"fmt"

	"tokenrelay/internal/engine"
)

var (
	// ErrTextRegression means a snapshot's text was shorter than what was
	// already emitted. That violates the engine contract and the affected
	// session must be aborted, never truncated quietly.
	ErrTextRegression = errors.New("snapshot text shorter than previously emitted")

	// ErrTrackerFinished means a snapshot arrived after the finishing one.
	ErrTrackerFinished = errors.New("tracker already finished")
)

// Delta is the newly added suffix since the last snapshot. The terminal
// delta carries no text and is the reserved end-of-stream signal, kept
// structurally separate from token payloads.
type Delta struct {
	SessionID string
	Text      string
	Terminal  bool
}

// State tracks how much of a session's cumulative text has been emitted.
// SeenLength is monotonically non-decreasing; Finished flips exactly once.
type State struct {
	SessionID  string
	SeenLength int
	Finished   bool
}

func NewState(sessionID string) *State {
	return &State{SessionID: sessionID}
}

// Next computes the delta introduced by snap. Zero-length deltas are
// legitimate (the engine emitted no new characters that step) and are not
// terminal.
func (s *State) Next(snap engine.Snapshot) (Delta, error) {
	if s.Finished {
		return Delta{}, ErrTrackerFinished
	}
	if len(snap.Text) < s.SeenLength {
		return Delta{}, fmt.Errorf("%w: seen %d, got %d (session %s)",
			ErrTextRegression, s.SeenLength, len(snap.Text), s.SessionID)
	}

	d := Delta{SessionID: s.SessionID, Text: snap.Text[s.SeenLength:]}
	s.SeenLength = len(snap.Text)
	if snap.Finished {
		s.Finished = true
	}
	return d, nil
}

// Terminal returns the end-of-stream marker. Only meaningful after a
// finished snapshot has been consumed via Next.
func (s *State) Terminal() Delta {
	return Delta{SessionID: s.SessionID, Terminal: true}
}
