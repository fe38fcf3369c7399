package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tokenrelay/internal/shared"
)

// MemStore is the in-process store used in debug mode and tests.
type MemStore struct {
	mu    sync.Mutex
	next  int
	chats map[string]*Chat
}

func NewMemStore() *MemStore {
	return &MemStore{chats: make(map[string]*Chat)}
}

func (s *MemStore) CreateChat(_ context.Context, userID uint64, title string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	chatID := fmt.Sprintf("chat-mem%d", s.next)
	s.chats[chatID] = &Chat{ID: chatID, UserID: userID, Title: title, CreatedAt: time.Now().UTC()}
	return chatID, nil
}

func (s *MemStore) AddInteraction(_ context.Context, chatID string, in Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return shared.ErrChatNotFound
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	c.Turns = append(c.Turns, in)
	return nil
}

func (s *MemStore) GetChat(_ context.Context, chatID string) (*Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil, shared.ErrChatNotFound
	}
	cp := *c
	cp.Turns = append([]Interaction(nil), c.Turns...)
	return &cp, nil
}

func (s *MemStore) DeleteChat(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return shared.ErrChatNotFound
	}
	delete(s.chats, chatID)
	return nil
}
