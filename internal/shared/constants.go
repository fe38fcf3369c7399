package shared

import "time"

// HTTP Client Configuration
const (
	DefaultHTTPTimeout     = 180 * time.Second
	DefaultStreamTimeout   = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Cache Configuration
const (
	UserInfoCacheTTL = 1 * time.Minute
	ChatInfoCacheTTL = 5 * time.Minute
)

// Sampling Configuration
const (
	DefaultTemperature = 0.7
	DefaultTopP        = 0.95
	DefaultMaxTokens   = 512
)

// API Configuration
const (
	APIKeyLength       = 32
	DefaultMaxSessions = 32
)

// Websocket Configuration
const (
	WSReadLimit     = 1 << 20
	WSWriteTimeout  = 10 * time.Second
	WSHandshakeWait = 30 * time.Second
)
