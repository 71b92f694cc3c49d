package utils

import (
	"github.com/google/uuid"
)

// GenerateSessionID generates a unique session ID
func GenerateSessionID() string {
	return uuid.NewString()
}

// GenerateTrackKey builds a stable key for a remote track.
func GenerateTrackKey(kind string, ssrc uint32) string {
	return GenerateID(kind, ssrc)
}
