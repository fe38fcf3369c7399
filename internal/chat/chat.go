// Package chat persists completed turns. The dispatch path only hands off
// the accumulated response here; schema and retention are this package's
// concern alone.
package chat

import (
	"context"
	"time"
)

type Chat struct {
	ID        string        `json:"id"`
	UserID    uint64        `json:"user_id"`
	Title     string        `json:"title"`
	CreatedAt time.Time     `json:"created_at"`
	Turns     []Interaction `json:"turns,omitempty"`
}

// Interaction is one prompt/response pair within a chat.
type Interaction struct {
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the chat-history boundary. ErrChatNotFound (shared package) is
// returned for unknown ids.
type Store interface {
	CreateChat(ctx context.Context, userID uint64, title string) (string, error)
	AddInteraction(ctx context.Context, chatID string, in Interaction) error
	GetChat(ctx context.Context, chatID string) (*Chat, error)
	DeleteChat(ctx context.Context, chatID string) error
}
