// Package users resolves API keys to user metadata, caching lookups in
// redis in front of the read replica.
package users

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tokenrelay/internal/shared"
)

type Manager struct {
	redis *redis.Client
	rdb   *sql.DB
	log   *zap.SugaredLogger

	// AllowAnonymous skips key validation entirely. Debug mode only.
	AllowAnonymous bool
}

func NewManager(redisClient *redis.Client, rdb *sql.DB, log *zap.SugaredLogger) *Manager {
	return &Manager{redis: redisClient, rdb: rdb, log: log}
}

// Anonymous is the identity handed out in debug mode.
var Anonymous = shared.UserMetadata{UserID: 0, Email: "anonymous", Role: "debug", MaxSessions: shared.DefaultMaxSessions}

func (m *Manager) GetUserFromKey(ctx context.Context, apiKey string) (*shared.UserMetadata, error) {
	if m.AllowAnonymous {
		anon := Anonymous
		return &anon, nil
	}
	if len(apiKey) != shared.APIKeyLength {
		return nil, shared.ErrInvalidKeyLen
	}

	var userMetadata shared.UserMetadata
	userMetadata.APIKey = apiKey

	userInfoCacheKey := fmt.Sprintf("v1:user:apikey:%s", apiKey)
	userInfoCache, err := m.redis.Get(ctx, userInfoCacheKey).Result()
	switch err {
	case nil:
		err = json.Unmarshal([]byte(userInfoCache), &userMetadata)
		if err == nil {
			return &userMetadata, nil
		}
		m.log.Errorw("Error unmarshalling user info cache", "error", err)
		fallthrough
	default:
		m.log.Debugw("User cache miss", "key", userInfoCacheKey)

		err = m.rdb.QueryRowContext(ctx, `
		SELECT
		user.id,
		user.email,
		user.role,
		user.max_sessions
		FROM user
		INNER JOIN api_key ON user.id = api_key.user_id
		WHERE api_key.id = ?
		`, apiKey).Scan(
			&userMetadata.UserID,
			&userMetadata.Email,
			&userMetadata.Role,
			&userMetadata.MaxSessions,
		)
		if err != nil {
			if err == sql.ErrNoRows {
				m.log.Warnw("Invalid API key", "key", apiKey)
				return nil, shared.ErrUnauthorized
			}
			m.log.Errorw("Database error during API key validation", "error", err)
			return nil, shared.ErrUnauthorized
		}
		go func() {
			userInfoCache, err := json.Marshal(userMetadata)
			if err != nil {
				m.log.Errorw("Error marshalling user info", "error", err)
				return
			}
			m.redis.Set(context.Background(), userInfoCacheKey, userInfoCache, shared.UserInfoCacheTTL)
		}()
		return &userMetadata, nil
	}
}
