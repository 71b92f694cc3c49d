package pipeline

import (
	"strings"
	"sync"

	"rillview/internal/core/domain"
	"rillview/internal/core/ports"
)

// DecoderRegistry maps codec names ("opus", "vp8", ...) to decoder
// factories. Hosts add decoders for codecs without a built-in.
type DecoderRegistry struct {
	mu    sync.RWMutex
	audio map[string]ports.AudioDecoderFactory
	video map[string]ports.VideoDecoderFactory
}

// NewDecoderRegistry returns a registry with the built-in G.711 and VP8
// intra decoders.
func NewDecoderRegistry() *DecoderRegistry {
	r := &DecoderRegistry{
		audio: make(map[string]ports.AudioDecoderFactory),
		video: make(map[string]ports.VideoDecoderFactory),
	}
	r.RegisterAudio("pcmu", newULawDecoder)
	r.RegisterAudio("pcma", newALawDecoder)
	r.RegisterVideo("vp8", newVP8Decoder)
	return r
}

func (r *DecoderRegistry) RegisterAudio(codec string, factory ports.AudioDecoderFactory) {
	r.mu.Lock()
	r.audio[strings.ToLower(codec)] = factory
	r.mu.Unlock()
}

func (r *DecoderRegistry) RegisterVideo(codec string, factory ports.VideoDecoderFactory) {
	r.mu.Lock()
	r.video[strings.ToLower(codec)] = factory
	r.mu.Unlock()
}

// Supports reports whether a decoder is registered for codec.
func (r *DecoderRegistry) Supports(kind domain.TrackKind, codec string) bool {
	codec = strings.ToLower(codec)
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case domain.TrackKindAudio:
		_, ok := r.audio[codec]
		return ok
	case domain.TrackKindVideo:
		_, ok := r.video[codec]
		return ok
	}
	return false
}

func (r *DecoderRegistry) audioDecoder(track domain.MediaTrack) (ports.AudioDecoder, error) {
	r.mu.RLock()
	factory, ok := r.audio[track.CodecName()]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNoDecoder
	}
	return factory(track)
}

func (r *DecoderRegistry) videoDecoder(track domain.MediaTrack) (ports.VideoDecoder, error) {
	r.mu.RLock()
	factory, ok := r.video[track.CodecName()]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNoDecoder
	}
	return factory(track)
}
