package pipeline

import (
	"errors"
	"sync/atomic"
	"time"

	"rillview/internal/core/domain"
	"rillview/internal/core/ports"

	"github.com/pion/webrtc/v3/pkg/media"
)

type encodedFrame struct {
	data      []byte
	keyframe  bool
	timestamp time.Duration
	capture   time.Time
	seq       uint64
}

// videoOutput queues assembled frames for a decode goroutine. When the queue
// overflows it skips ahead to the newest queued keyframe, or waits for the
// next one, so the reader never blocks on a slow decoder or sink.
type videoOutput struct {
	p     *Pipeline
	ts    *trackState
	dec   ports.VideoDecoder
	conv  *frameConverter
	queue chan encodedFrame

	awaitKeyframe atomic.Bool
}

func newVideoOutput(p *Pipeline, ts *trackState, dec ports.VideoDecoder) *videoOutput {
	v := &videoOutput{
		p:     p,
		ts:    ts,
		dec:   dec,
		conv:  newFrameConverter(p.cfg.PixelFormat),
		queue: make(chan encodedFrame, p.cfg.VideoQueueDepth),
	}
	// nothing decodes before the first keyframe
	v.awaitKeyframe.Store(true)
	return v
}

// push runs on the reader goroutine.
func (v *videoOutput) push(sample *media.Sample) {
	offset, capture, seq, ok := v.ts.accept(sample)
	if !ok {
		return
	}

	keyframe := IsKeyframe(v.ts.codec, sample.Data)
	if sample.PrevDroppedPackets > 0 && !keyframe {
		// the reference chain is broken
		v.armKeyframeWait()
	}

	if v.awaitKeyframe.Load() {
		if !keyframe {
			v.ts.counters.frameDropped(1)
			v.requestKeyframe()
			return
		}
		v.awaitKeyframe.Store(false)
	}

	buf := v.p.framePool.Get(len(sample.Data))
	copy(buf, sample.Data)
	frame := encodedFrame{data: buf, keyframe: keyframe, timestamp: offset, capture: capture, seq: seq}

	select {
	case v.queue <- frame:
		return
	default:
	}
	v.overflow(frame)
}

// overflow runs when the queue is full. Frames queued ahead of the newest
// keyframe are discarded and that keyframe stays queued with its successors.
// Without a keyframe the queue is flushed and decoding waits for the next one.
func (v *videoOutput) overflow(frame encodedFrame) {
	pending := append(v.drain(), frame)

	key := -1
	for i := len(pending) - 1; i >= 0; i-- {
		if pending[i].keyframe {
			key = i
			break
		}
	}
	if key < 0 {
		v.discard(pending)
		v.p.logger.Debugw("video queue overflow, waiting for keyframe", "track_id", v.ts.track.ID, "dropped", len(pending))
		v.armKeyframeWait()
		return
	}

	v.discard(pending[:key])
	keep := pending[key:]
	truncated := 0
	if depth := cap(v.queue); len(keep) > depth {
		truncated = len(keep) - depth
		v.discard(keep[depth:])
		keep = keep[:depth]
	}
	// only this goroutine sends, so the drained queue has room
	for _, f := range keep {
		v.queue <- f
	}
	v.p.logger.Debugw("video queue overflow, skipped to keyframe",
		"track_id", v.ts.track.ID,
		"dropped", key+truncated,
		"keyframe_seq", keep[0].seq,
	)
	if truncated > 0 {
		// the frames after the cut reference the ones just dropped
		v.armKeyframeWait()
	}
}

// drain empties the queue and returns its frames oldest first.
func (v *videoOutput) drain() []encodedFrame {
	frames := make([]encodedFrame, 0, cap(v.queue)+1)
	for {
		select {
		case f := <-v.queue:
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func (v *videoOutput) discard(frames []encodedFrame) {
	for _, f := range frames {
		v.p.framePool.Put(f.data)
	}
	v.ts.counters.frameDropped(len(frames))
}

func (v *videoOutput) armKeyframeWait() {
	if v.awaitKeyframe.CompareAndSwap(false, true) {
		v.ts.counters.keyframeWait()
	}
	v.requestKeyframe()
}

func (v *videoOutput) requestKeyframe() {
	if v.p.keyframes == nil {
		return
	}
	if err := v.p.keyframes.RequestKeyframe(v.ts.track.SSRC); err != nil {
		v.p.logger.Debugw("keyframe request failed", "track_id", v.ts.track.ID, "error", err)
	}
}

func (v *videoOutput) run() {
	for {
		select {
		case <-v.p.ctx.Done():
			v.discard(v.drain())
			return
		case f := <-v.queue:
			v.decode(f)
		}
	}
}

func (v *videoOutput) decode(f encodedFrame) {
	defer v.p.framePool.Put(f.data)

	img, err := v.dec.Decode(f.data)
	switch {
	case errors.Is(err, ErrFrameSkipped):
		// media is still flowing even though nothing is rendered
		v.ts.counters.frameSkipped(time.Now())
		return
	case err != nil:
		v.p.decodeFailed(v.ts, err)
		v.armKeyframeWait()
		return
	}

	pixels, width, height, stride := v.conv.convert(img)
	v.p.sink.OnVideoFrame(domain.VideoFrame{
		TrackID:     v.ts.track.ID,
		Pixels:      pixels,
		Width:       width,
		Height:      height,
		Stride:      stride,
		Format:      v.conv.format,
		Keyframe:    f.keyframe,
		Timestamp:   f.timestamp,
		Sequence:    f.seq,
		CaptureTime: f.capture,
	})
	v.p.delivered(v.ts, time.Now())
}
