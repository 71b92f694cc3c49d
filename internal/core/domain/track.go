package domain

import (
	"strings"
	"time"
)

type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// MediaTrack describes one inbound audio or video stream.
type MediaTrack struct {
	ID        string    `json:"id"`
	StreamID  string    `json:"stream_id"`
	Mid       string    `json:"mid"`
	Kind      TrackKind `json:"kind"`
	Codec     string    `json:"codec"`
	ClockRate uint32    `json:"clock_rate"`
	Channels  uint16    `json:"channels,omitempty"`
	SSRC      uint32    `json:"ssrc"`
	Muted     bool      `json:"muted"`
}

// CodecName returns the lower-case codec name without the "audio/" or
// "video/" prefix.
func (t MediaTrack) CodecName() string {
	name := t.Codec
	if i := strings.IndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	return strings.ToLower(name)
}

type PixelFormat string

const (
	PixelFormatI420 PixelFormat = "i420"
	PixelFormatRGBA PixelFormat = "rgba"
	PixelFormatBGRA PixelFormat = "bgra"
)

// AudioFrame holds interleaved signed 16-bit PCM. PCM is only valid for the
// duration of the sink callback.
type AudioFrame struct {
	TrackID     string
	PCM         []int16
	SampleRate  int
	Channels    int
	Timestamp   time.Duration
	Sequence    uint64
	CaptureTime time.Time
}

// Duration of the frame at its sample rate.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate == 0 || f.Channels == 0 {
		return 0
	}
	samples := len(f.PCM) / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// VideoFrame holds one decoded picture. For I420 the planes are packed
// Y, U, V with Stride bytes per luma row; packed formats use 4 bytes per pixel.
// Pixels is only valid for the duration of the sink callback.
type VideoFrame struct {
	TrackID     string
	Pixels      []byte
	Width       int
	Height      int
	Stride      int
	Format      PixelFormat
	Keyframe    bool
	Timestamp   time.Duration
	Sequence    uint64
	CaptureTime time.Time
}
