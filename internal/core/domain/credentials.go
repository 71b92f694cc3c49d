package domain

import "time"

type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Credentials resolve where and how a session connects. A zero ExpiresAt
// means the token carries no expiry.
type Credentials struct {
	SignalingURL string
	Token        string
	ICEServers   []ICEServer
	ExpiresAt    time.Time
}

// Valid reports whether the credentials can still be used at now with the
// given safety margin.
func (c *Credentials) Valid(now time.Time, margin time.Duration) bool {
	if c == nil || c.SignalingURL == "" {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Add(margin).Before(c.ExpiresAt)
}
