// Package engine wraps the generation engine behind a snapshot stream. The
// engine reports cumulative text per step; callers downstream turn those
// snapshots into deltas.
package engine

import (
	"context"
	"errors"

	"tokenrelay/internal/shared"
)

// SamplingConfig mirrors the knobs the engine accepts per generation.
type SamplingConfig struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// WithDefaults fills zero-valued fields from the service defaults.
func (c SamplingConfig) WithDefaults() SamplingConfig {
	if c.Temperature == 0 {
		c.Temperature = shared.DefaultTemperature
	}
	if c.TopP == 0 {
		c.TopP = shared.DefaultTopP
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = shared.DefaultMaxTokens
	}
	return c
}

// Snapshot is one cumulative-text report from the engine. Text only ever
// grows between snapshots of the same generation.
type Snapshot struct {
	Text     string `json:"text"`
	Finished bool   `json:"finished"`
}

// ErrEngineFailure marks generations aborted by the engine itself, as
// opposed to a clean Finished snapshot. Wrapped errors carry detail.
var ErrEngineFailure = errors.New("engine failure")

// Stream is a lazy, finite, non-restartable sequence of snapshots.
//
// Recv returns the next snapshot, io.EOF after a Finished snapshot has been
// consumed, or an error wrapping ErrEngineFailure if the engine aborted.
// Close releases the underlying generation and is safe to call more than
// once; it is the cancellation path for abandoned sessions.
type Stream interface {
	Recv() (Snapshot, error)
	Close() error
}

// Engine starts generations. Implementations must stop the underlying
// computation promptly when ctx is canceled or the stream is closed.
type Engine interface {
	Generate(ctx context.Context, prompt string, cfg SamplingConfig, sessionID string) (Stream, error)
}
