package domain

import "time"

type SessionState int

const (
	SessionStateIdle SessionState = iota
	SessionStateNegotiating
	SessionStateConnected
	SessionStateActive
	SessionStateDisconnecting
	SessionStateError
)

func (s SessionState) String() string {
	switch s {
	case SessionStateIdle:
		return "idle"
	case SessionStateNegotiating:
		return "negotiating"
	case SessionStateConnected:
		return "connected"
	case SessionStateActive:
		return "active"
	case SessionStateDisconnecting:
		return "disconnecting"
	case SessionStateError:
		return "error"
	default:
		return "unknown"
	}
}

// CanTransition reports whether from -> to is an edge of the session
// lifecycle. Error -> Negotiating is the reconnect loop.
func (s SessionState) CanTransition(to SessionState) bool {
	switch s {
	case SessionStateIdle:
		return to == SessionStateNegotiating
	case SessionStateNegotiating:
		return to == SessionStateConnected || to == SessionStateError || to == SessionStateDisconnecting
	case SessionStateConnected:
		return to == SessionStateActive || to == SessionStateError || to == SessionStateDisconnecting
	case SessionStateActive:
		return to == SessionStateError || to == SessionStateDisconnecting
	case SessionStateError:
		return to == SessionStateNegotiating || to == SessionStateDisconnecting
	case SessionStateDisconnecting:
		return to == SessionStateIdle
	}
	return false
}

type Target struct {
	AccountID  string `json:"account_id"`
	StreamName string `json:"stream_name"`
}

// LayerHint expresses the caller's preferred simulcast layer.
type LayerHint struct {
	EncodingID string `json:"encoding_id,omitempty"`
	MaxHeight  int    `json:"max_height,omitempty"`
}

// Preferences are fixed for the lifetime of a session.
type Preferences struct {
	VideoCodecs          []string  `json:"video_codecs"`
	AudioCodecs          []string  `json:"audio_codecs"`
	Stereo               bool      `json:"stereo"`
	BandwidthCeilingKbps int       `json:"bandwidth_ceiling_kbps"`
	Layer                LayerHint `json:"layer"`
}

// Session is a point-in-time view of a subscribe session.
type Session struct {
	ID             string       `json:"id"`
	Target         Target       `json:"target"`
	Endpoint       string       `json:"endpoint"`
	Preferences    Preferences  `json:"preferences"`
	State          SessionState `json:"-"`
	StateName      string       `json:"state"`
	Attempt        int          `json:"attempt"`
	Reconnects     int          `json:"reconnects"`
	SubscriberID   string       `json:"subscriber_id,omitempty"`
	ClusterID      string       `json:"cluster_id,omitempty"`
	TokenExpiresAt time.Time    `json:"token_expires_at,omitempty"`
	Tracks         []MediaTrack `json:"tracks"`
	SelectedLayer  *Layer       `json:"selected_layer,omitempty"`
	StartedAt      time.Time    `json:"started_at"`
	ActiveSince    time.Time    `json:"active_since,omitempty"`
}

// StateChange is reported to observers on every transition. Err is set only
// when Terminal is true; transient failures are visible through stats.
type StateChange struct {
	SessionID string
	From      SessionState
	To        SessionState
	Attempt   int
	Terminal  bool
	Err       error
	At        time.Time
}
