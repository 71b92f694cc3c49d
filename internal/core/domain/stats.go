package domain

import "time"

// TrackStats are cumulative counters for one track.
type TrackStats struct {
	TrackID         string    `json:"track_id"`
	Kind            TrackKind `json:"kind"`
	Codec           string    `json:"codec"`
	PacketsReceived uint64    `json:"packets_received"`
	PacketsLost     uint64    `json:"packets_lost"`
	BytesReceived   uint64    `json:"bytes_received"`
	// Interarrival jitter in seconds.
	Jitter         float64   `json:"jitter"`
	FramesDecoded  uint64    `json:"frames_decoded"`
	FramesDropped  uint64    `json:"frames_dropped"`
	DecodeErrors   uint64    `json:"decode_errors"`
	KeyframeWaits  uint64    `json:"keyframe_waits"`
	AudioUnderruns uint64    `json:"audio_underruns,omitempty"`
	AudioOverruns  uint64    `json:"audio_overruns,omitempty"`
	LastFrameAt    time.Time `json:"last_frame_at"`
	// Last frame that reached the decoder, rendered or deliberately skipped.
	LastMediaAt time.Time `json:"last_media_at"`
}

// TransportStats come from the peer connection.
type TransportStats struct {
	RTT           time.Duration
	BytesReceived uint64
}

// ConnectionStats is an immutable snapshot taken by the health monitor.
type ConnectionStats struct {
	SessionID       string        `json:"session_id"`
	Timestamp       time.Time     `json:"timestamp"`
	BitrateBps      float64       `json:"bitrate_bps"`
	VideoBitrateBps float64       `json:"video_bitrate_bps"`
	AudioBitrateBps float64       `json:"audio_bitrate_bps"`
	PacketsReceived uint64        `json:"packets_received"`
	PacketsLost     uint64        `json:"packets_lost"`
	LossPercent     float64       `json:"loss_percent"`
	RTT             time.Duration `json:"rtt"`
	Jitter          time.Duration `json:"jitter"`
	FramesDecoded   uint64        `json:"frames_decoded"`
	FramesDropped   uint64        `json:"frames_dropped"`
	DecodeErrors    uint64        `json:"decode_errors"`
	AudioUnderruns  uint64        `json:"audio_underruns"`
	Frozen          bool          `json:"frozen"`
	FreezeCount     int           `json:"freeze_count"`
	Reconnects      int           `json:"reconnects"`
	Tracks          []TrackStats  `json:"tracks"`
}
