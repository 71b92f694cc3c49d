package ports

import (
	"image"

	"rillview/internal/core/domain"
)

type PipelineEvent interface {
	pipelineEvent()
}

// FirstFrameEvent fires once per track when its first frame reaches the sink.
type FirstFrameEvent struct {
	TrackID string
	Kind    domain.TrackKind
}

type TrackEndedEvent struct {
	TrackID string
	Err     error
}

func (FirstFrameEvent) pipelineEvent() {}
func (TrackEndedEvent) pipelineEvent() {}

type TrackPipeline interface {
	AddTrack(track domain.MediaTrack, src TrackSource) error
	Events() <-chan PipelineEvent
	Stats() []domain.TrackStats
	Close() error
}

type PipelineFactory func(sink Sink, keyframes KeyframeRequester) TrackPipeline

// AudioDecoder turns one encoded frame into interleaved PCM. The returned
// slice may alias dst.
type AudioDecoder interface {
	Decode(dst []int16, payload []byte) (pcm []int16, sampleRate, channels int, err error)
}

// VideoDecoder turns one encoded frame into a picture.
type VideoDecoder interface {
	Decode(payload []byte) (image.Image, error)
}

type AudioDecoderFactory func(track domain.MediaTrack) (AudioDecoder, error)

type VideoDecoderFactory func(track domain.MediaTrack) (VideoDecoder, error)
