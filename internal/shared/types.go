package shared

// UserMetadata is the resolved identity behind an API key. Cached in redis,
// backed by the user table.
type UserMetadata struct {
	UserID      uint64 `json:"user_id,omitempty"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role,omitempty"`
	MaxSessions int    `json:"max_sessions,omitempty"`
	APIKey      string `json:"-"`
}

// ErrorBody is the JSON error shape returned on non-streaming failures.
type ErrorBody struct {
	Message string `json:"message"`
	Object  string `json:"object"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}
