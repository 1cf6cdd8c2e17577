package session

import "time"

// Session is the server side record behind the session cookie.
type Session struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	UserAgent  string    `json:"userAgent,omitempty"`
	IPAddress  string    `json:"ipAddress,omitempty"`
}

// IsValid reports whether the session is usable at now.
func (s Session) IsValid(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// Meta describes the client a session is used from.
type Meta struct {
	UserAgent string
	IPAddress string
}
