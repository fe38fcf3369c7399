package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aidarkhanov/nanoid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tokenrelay/internal/shared"
)

// SQLStore keeps chats in MySQL with a redis cache in front of chat
// metadata reads.
//
// Schema:
//
//	CREATE TABLE chat (
//	    id         VARCHAR(32) PRIMARY KEY,
//	    user_id    BIGINT UNSIGNED NOT NULL,
//	    title      VARCHAR(64) NOT NULL,
//	    created_at DATETIME NOT NULL
//	);
//	CREATE TABLE interaction (
//	    id         BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
//	    chat_id    VARCHAR(32) NOT NULL,
//	    prompt     TEXT NOT NULL,
//	    response   MEDIUMTEXT NOT NULL,
//	    created_at DATETIME NOT NULL,
//	    INDEX (chat_id)
//	);
type SQLStore struct {
	wdb   *sql.DB
	rdb   *sql.DB
	redis *redis.Client
	log   *zap.SugaredLogger
}

func NewSQLStore(wdb *sql.DB, rdb *sql.DB, redisClient *redis.Client, log *zap.SugaredLogger) *SQLStore {
	return &SQLStore{wdb: wdb, rdb: rdb, redis: redisClient, log: log}
}

func chatCacheKey(chatID string) string {
	return fmt.Sprintf("v1:chat:%s", chatID)
}

func (s *SQLStore) CreateChat(ctx context.Context, userID uint64, title string) (string, error) {
	idNano, err := nanoid.Generate("0123456789abcdefghijklmnopqrstuvwxyz", 11)
	if err != nil {
		return "", fmt.Errorf("failed generating chat id: %w", err)
	}
	chatID := "chat-" + idNano

	_, err = s.wdb.ExecContext(ctx,
		`INSERT INTO chat (id, user_id, title, created_at) VALUES (?, ?, ?, ?)`,
		chatID, userID, title, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed creating chat: %w", err)
	}
	return chatID, nil
}

func (s *SQLStore) AddInteraction(ctx context.Context, chatID string, in Interaction) error {
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	res, err := s.wdb.ExecContext(ctx,
		`INSERT INTO interaction (chat_id, prompt, response, created_at)
		 SELECT ?, ?, ?, ? FROM chat WHERE chat.id = ?`,
		chatID, in.Prompt, in.Response, in.CreatedAt, chatID)
	if err != nil {
		return fmt.Errorf("failed saving interaction: %w", err)
	}
	rows, err := res.RowsAffected()
	if err == nil && rows == 0 {
		return shared.ErrChatNotFound
	}

	// Cached copy is stale now.
	if s.redis != nil {
		if err := s.redis.Del(ctx, chatCacheKey(chatID)).Err(); err != nil {
			s.log.Warnw("failed invalidating chat cache", "chat_id", chatID, "error", err)
		}
	}
	return nil
}

func (s *SQLStore) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	if s.redis != nil {
		cached, err := s.redis.Get(ctx, chatCacheKey(chatID)).Result()
		if err == nil {
			var c Chat
			if err := json.Unmarshal([]byte(cached), &c); err == nil {
				return &c, nil
			}
			s.log.Errorw("error unmarshalling chat cache", "chat_id", chatID, "error", err)
		}
	}

	var c Chat
	err := s.rdb.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at FROM chat WHERE id = ?`, chatID,
	).Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, shared.ErrChatNotFound
		}
		return nil, fmt.Errorf("failed fetching chat: %w", err)
	}

	rows, err := s.rdb.QueryContext(ctx,
		`SELECT prompt, response, created_at FROM interaction WHERE chat_id = ? ORDER BY id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed fetching interactions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	for rows.Next() {
		var in Interaction
		if err := rows.Scan(&in.Prompt, &in.Response, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed scanning interaction: %w", err)
		}
		c.Turns = append(c.Turns, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading interactions: %w", err)
	}

	if s.redis != nil {
		go func() {
			body, err := json.Marshal(c)
			if err != nil {
				s.log.Errorw("error marshalling chat for cache", "chat_id", chatID, "error", err)
				return
			}
			s.redis.Set(context.Background(), chatCacheKey(chatID), body, shared.ChatInfoCacheTTL)
		}()
	}
	return &c, nil
}

func (s *SQLStore) DeleteChat(ctx context.Context, chatID string) error {
	res, err := s.wdb.ExecContext(ctx, `DELETE FROM chat WHERE id = ?`, chatID)
	if err != nil {
		return fmt.Errorf("failed deleting chat: %w", err)
	}
	rows, err := res.RowsAffected()
	if err == nil && rows == 0 {
		return shared.ErrChatNotFound
	}
	if _, err := s.wdb.ExecContext(ctx, `DELETE FROM interaction WHERE chat_id = ?`, chatID); err != nil {
		s.log.Warnw("failed deleting chat interactions", "chat_id", chatID, "error", err)
	}
	if s.redis != nil {
		_ = s.redis.Del(ctx, chatCacheKey(chatID)).Err()
	}
	return nil
}
