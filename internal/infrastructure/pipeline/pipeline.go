package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"rillview/internal/core/domain"
	"rillview/internal/core/ports"
	apperrors "rillview/pkg/errors"
	"rillview/pkg/optimize"
	"rillview/pkg/utils"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/samplebuilder"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Config struct {
	AudioSampleRate int
	AudioChannels   int
	// Buffered audio above this duration counts as an overrun.
	AudioHighWater time.Duration
	// Delivery stalls longer than this count as an underrun.
	UnderrunInterval time.Duration
	PixelFormat      domain.PixelFormat
	VideoQueueDepth  int
	// Samplebuilder reorder window in packets.
	ReorderWindow uint16
}

func DefaultConfig() Config {
	return Config{
		AudioSampleRate:  48000,
		AudioChannels:    2,
		AudioHighWater:   500 * time.Millisecond,
		UnderrunInterval: 100 * time.Millisecond,
		PixelFormat:      domain.PixelFormatI420,
		VideoQueueDepth:  8,
		ReorderWindow:    128,
	}
}

// Pipeline turns remote RTP tracks into decoded frames for a sink. Each
// track runs its own reader and delivery goroutines.
type Pipeline struct {
	cfg       Config
	sink      ports.Sink
	keyframes ports.KeyframeRequester
	registry  *DecoderRegistry

	pcmPool   *optimize.BufferPool[int16]
	framePool *optimize.BytePool

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	tracks map[string]*trackState
	order  []string
	closed bool

	events chan ports.PipelineEvent
	wg     sync.WaitGroup

	logger *zap.SugaredLogger
}

var _ ports.TrackPipeline = (*Pipeline)(nil)

type trackState struct {
	track    domain.MediaTrack
	codec    string
	counters *trackCounters
	clock    *captureClock
	unwrap   *timestampUnwrapper
	builder  *samplebuilder.SampleBuilder
	seq      uint64

	firstFrame sync.Once
	decodeLog  rate.Sometimes
}

// NewFactory returns a PipelineFactory sharing one decoder registry.
func NewFactory(cfg Config, registry *DecoderRegistry, logger *zap.SugaredLogger) ports.PipelineFactory {
	return func(sink ports.Sink, keyframes ports.KeyframeRequester) ports.TrackPipeline {
		return New(cfg, sink, keyframes, registry, logger)
	}
}

func New(cfg Config, sink ports.Sink, keyframes ports.KeyframeRequester, registry *DecoderRegistry, logger *zap.SugaredLogger) *Pipeline {
	def := DefaultConfig()
	if cfg.AudioSampleRate <= 0 {
		cfg.AudioSampleRate = def.AudioSampleRate
	}
	if cfg.AudioChannels <= 0 {
		cfg.AudioChannels = def.AudioChannels
	}
	if cfg.VideoQueueDepth <= 0 {
		cfg.VideoQueueDepth = def.VideoQueueDepth
	}
	if cfg.ReorderWindow == 0 {
		cfg.ReorderWindow = def.ReorderWindow
	}
	if cfg.UnderrunInterval <= 0 {
		cfg.UnderrunInterval = def.UnderrunInterval
	}
	if cfg.PixelFormat == "" {
		cfg.PixelFormat = def.PixelFormat
	}
	if registry == nil {
		registry = NewDecoderRegistry()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:       cfg,
		sink:      sink,
		keyframes: keyframes,
		registry:  registry,
		// 120 ms of 48 kHz stereo covers the largest Opus frame
		pcmPool:   optimize.NewBufferPool[int16](48 * 120 * 2),
		framePool: optimize.NewBytePool(64 * 1024),
		ctx:       ctx,
		cancel:    cancel,
		tracks:    make(map[string]*trackState),
		events:    make(chan ports.PipelineEvent, 16),
		logger:    logger,
	}
}

// AddTrack starts processing src. Tracks without a decoder are drained so
// their counters keep moving.
func (p *Pipeline) AddTrack(track domain.MediaTrack, src ports.TrackSource) error {
	key := utils.GenerateTrackKey(string(track.Kind), track.SSRC)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return domain.ErrPipelineClosed
	}
	if _, exists := p.tracks[key]; exists {
		return domain.ErrTrackExists
	}

	ts := &trackState{
		track:    track,
		codec:    track.CodecName(),
		counters: newTrackCounters(track),
		clock:    newCaptureClock(track.ClockRate),
		unwrap:   newTimestampUnwrapper(track.ClockRate),
		// a broken stream fails every frame
		decodeLog: rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}

	var handle func(sample *media.Sample)
	switch track.Kind {
	case domain.TrackKindAudio:
		dec, err := p.registry.audioDecoder(track)
		if err == nil {
			out := newAudioOutput(p, ts, dec)
			handle = out.push
			p.start(out.run)
		} else {
			p.logNoDecoder(track, err)
		}
	case domain.TrackKindVideo:
		dec, err := p.registry.videoDecoder(track)
		if err == nil {
			out := newVideoOutput(p, ts, dec)
			handle = out.push
			p.start(out.run)
		} else {
			p.logNoDecoder(track, err)
		}
	}

	if handle != nil {
		if depacketizer := depacketizerFor(ts.codec); depacketizer != nil {
			ts.builder = samplebuilder.New(p.cfg.ReorderWindow, depacketizer, ts.clock.clockRate)
		} else {
			p.logNoDecoder(track, domain.ErrNoDecoder)
			handle = nil
		}
	}

	p.tracks[key] = ts
	p.order = append(p.order, key)

	p.start(func() { p.readLoop(ts, src, handle) })
	if rs, ok := src.(ports.RTCPSource); ok {
		p.start(func() { p.rtcpLoop(ts, rs) })
	}

	p.logger.Infow("track added to pipeline",
		"track_id", track.ID,
		"kind", track.Kind,
		"codec", ts.codec,
		"decoding", handle != nil,
	)
	return nil
}

func (p *Pipeline) Events() <-chan ports.PipelineEvent {
	return p.events
}

// Stats returns per-track counters in track arrival order.
func (p *Pipeline) Stats() []domain.TrackStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.TrackStats, 0, len(p.order))
	for _, key := range p.order {
		out = append(out, p.tracks[key].counters.snapshot())
	}
	return out
}

// Close stops all track goroutines. It does not wait for them: readers exit
// once their source fails, which happens when the peer connection closes.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.cancel()
	return nil
}

// wait blocks until every goroutine has exited.
func (p *Pipeline) wait() {
	p.wg.Wait()
}

func (p *Pipeline) start(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

func (p *Pipeline) logNoDecoder(track domain.MediaTrack, err error) {
	p.logger.Warnw("no decoder for track, draining",
		"track_id", track.ID,
		"codec", track.Codec,
		"error", err,
	)
}

func (p *Pipeline) emit(ev ports.PipelineEvent) {
	select {
	case p.events <- ev:
	case <-p.ctx.Done():
	}
}

func (p *Pipeline) delivered(ts *trackState, at time.Time) {
	ts.counters.frameDecoded(at)
	ts.firstFrame.Do(func() {
		p.logger.Infow("first frame delivered", "track_id", ts.track.ID, "kind", ts.track.Kind)
		p.emit(ports.FirstFrameEvent{TrackID: ts.track.ID, Kind: ts.track.Kind})
	})
}

// decodeFailed drops the frame. Failures are counted and logged at most once
// per interval per track.
func (p *Pipeline) decodeFailed(ts *trackState, err error) {
	ts.counters.decodeError()
	ts.decodeLog.Do(func() {
		p.logger.Debugw("frame dropped",
			"track_id", ts.track.ID,
			"codec", ts.codec,
			"error", apperrors.NewDecodeError("decode "+ts.codec+" frame", err),
		)
	})
}

func (p *Pipeline) readLoop(ts *trackState, src ports.TrackSource, handle func(*media.Sample)) {
	for {
		pkt, _, err := src.ReadRTP()
		if err != nil {
			if p.ctx.Err() == nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				p.logger.Infow("track ended", "track_id", ts.track.ID, "error", err)
				p.emit(ports.TrackEndedEvent{TrackID: ts.track.ID, Err: err})
			}
			return
		}
		if p.ctx.Err() != nil {
			return
		}

		ts.counters.packet(pkt.SequenceNumber, pkt.Timestamp, pkt.MarshalSize(), time.Now())
		if handle == nil {
			continue
		}

		ts.builder.Push(pkt)
		for sample := ts.builder.Pop(); sample != nil; sample = ts.builder.Pop() {
			if sample.PrevDroppedPackets > 0 {
				ts.counters.frameDropped(1)
			}
			handle(sample)
		}
	}
}

func (p *Pipeline) rtcpLoop(ts *trackState, src ports.RTCPSource) {
	for {
		packets, _, err := src.ReadRTCP()
		if err != nil {
			return
		}
		if p.ctx.Err() != nil {
			return
		}
		for _, pkt := range packets {
			if sr, ok := pkt.(*rtcp.SenderReport); ok {
				ts.clock.update(sr.NTPTime, sr.RTPTime)
			}
		}
	}
}

// accept applies the monotonic guard. Late frames are counted as dropped.
func (ts *trackState) accept(sample *media.Sample) (time.Duration, time.Time, uint64, bool) {
	offset, ok := ts.unwrap.accept(sample.PacketTimestamp)
	if !ok {
		ts.counters.frameDropped(1)
		return 0, time.Time{}, 0, false
	}
	ts.seq++
	return offset, ts.clock.captureTime(sample.PacketTimestamp), ts.seq, true
}

func depacketizerFor(codec string) rtp.Depacketizer {
	switch codec {
	case "vp8":
		return &codecs.VP8Packet{}
	case "vp9":
		return &codecs.VP9Packet{}
	case "h264":
		return &codecs.H264Packet{}
	case "opus":
		return &codecs.OpusPacket{}
	case "pcmu", "pcma":
		return &rawPacket{}
	}
	return nil
}

// rawPacket passes payloads through unchanged; every packet is a frame.
type rawPacket struct{}

func (rawPacket) Unmarshal(payload []byte) ([]byte, error) { return payload, nil }
func (rawPacket) IsPartitionHead([]byte) bool              { return true }
func (rawPacket) IsPartitionTail(bool, []byte) bool        { return true }
