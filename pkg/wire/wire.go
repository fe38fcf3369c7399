// Package wire defines the websocket protocol between the relay bridge and
// the dispatch service. Frames are tagged by type; stream termination is a
// dedicated frame type rather than a magic token value, so no legitimate
// model output can ever be mistaken for the end of a stream.
package wire

// Frame types sent by the server.
const (
	FrameDelta = "delta"
	FrameDone  = "done"
	FrameError = "error"
	FrameChat  = "chat"
)

// TurnRequest is the single client message opening a generation turn.
type TurnRequest struct {
	APIKey   string    `json:"api_key,omitempty"`
	ChatID   string    `json:"chat_id,omitempty"`
	Prompt   string    `json:"prompt"`
	Sampling *Sampling `json:"sampling,omitempty"`
}

// Sampling carries the per-turn sampling overrides.
type Sampling struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// ServerFrame is every message the server sends during a turn.
//
//	{"type":"chat","chat_id":"chat-..."}          chat minted for this turn
//	{"type":"delta","session_id":"...","text":.}  one token delta
//	{"type":"done","session_id":"..."}            clean completion
//	{"type":"error","session_id":"...","message":.} generation failed
type ServerFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	ChatID    string `json:"chat_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Message   string `json:"message,omitempty"`
}
