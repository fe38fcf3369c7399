package chat

import (
	"context"
	"errors"
	"testing"

	"tokenrelay/internal/shared"
)

func TestMemStoreRoundTrip(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	chatID, err := s.CreateChat(ctx, 7, "a title")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	if err := s.AddInteraction(ctx, chatID, Interaction{Prompt: "Hello", Response: "Hi there!"}); err != nil {
		t.Fatalf("AddInteraction: %v", err)
	}

	c, err := s.GetChat(ctx, chatID)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if c.UserID != 7 || c.Title != "a title" {
		t.Fatalf("chat = %+v", c)
	}
	if len(c.Turns) != 1 || c.Turns[0].Response != "Hi there!" {
		t.Fatalf("turns = %+v", c.Turns)
	}

	if err := s.DeleteChat(ctx, chatID); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}
	if _, err := s.GetChat(ctx, chatID); !errors.Is(err, shared.ErrChatNotFound) {
		t.Fatalf("GetChat after delete: %v, want ErrChatNotFound", err)
	}
}

func TestMemStoreUnknownChat(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	if err := s.AddInteraction(ctx, "chat-missing", Interaction{}); !errors.Is(err, shared.ErrChatNotFound) {
		t.Fatalf("AddInteraction: %v, want ErrChatNotFound", err)
	}
	if err := s.DeleteChat(ctx, "chat-missing"); !errors.Is(err, shared.ErrChatNotFound) {
		t.Fatalf("DeleteChat: %v, want ErrChatNotFound", err)
	}
}
