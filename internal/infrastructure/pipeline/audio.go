package pipeline

import (
	"sync"
	"time"

	"rillview/internal/core/domain"
	"rillview/internal/core/ports"

	"github.com/pion/webrtc/v3/pkg/media"
)

type audioSegment struct {
	pcm       []int16
	timestamp time.Duration
	capture   time.Time
	seq       uint64
}

// audioOutput decodes on the reader goroutine and hands PCM to a delivery
// goroutine through an unbounded FIFO. Audio is never dropped; a FIFO above
// the high-water mark is only counted.
type audioOutput struct {
	p   *Pipeline
	ts  *trackState
	dec ports.AudioDecoder
	rs  *resampler

	mu        sync.Mutex
	fifo      []audioSegment
	buffered  time.Duration
	overrun   bool
	notify    chan struct{}
	underruns ports.UnderrunHandler
}

func newAudioOutput(p *Pipeline, ts *trackState, dec ports.AudioDecoder) *audioOutput {
	out := &audioOutput{
		p:      p,
		ts:     ts,
		dec:    dec,
		rs:     newResampler(p.cfg.AudioSampleRate, p.cfg.AudioChannels),
		notify: make(chan struct{}, 1),
	}
	if h, ok := p.sink.(ports.UnderrunHandler); ok {
		out.underruns = h
	}
	return out
}

// push runs on the reader goroutine.
func (a *audioOutput) push(sample *media.Sample) {
	offset, capture, seq, ok := a.ts.accept(sample)
	if !ok {
		return
	}

	decoded, rate, channels, err := a.dec.Decode(a.p.pcmPool.Get(0), sample.Data)
	if err != nil {
		a.p.decodeFailed(a.ts, err)
		a.p.pcmPool.Put(decoded)
		return
	}

	pcm := a.rs.process(a.p.pcmPool.Get(0), decoded, rate, channels)
	a.p.pcmPool.Put(decoded)
	if len(pcm) == 0 {
		a.p.pcmPool.Put(pcm)
		return
	}

	seg := audioSegment{pcm: pcm, timestamp: offset, capture: capture, seq: seq}
	dur := a.duration(len(pcm))

	a.mu.Lock()
	a.fifo = append(a.fifo, seg)
	a.buffered += dur
	crossed := false
	if a.p.cfg.AudioHighWater > 0 && a.buffered > a.p.cfg.AudioHighWater && !a.overrun {
		a.overrun = true
		crossed = true
	}
	a.mu.Unlock()

	if crossed {
		a.ts.counters.overrun()
		a.p.logger.Debugw("audio buffer above high-water mark", "track_id", a.ts.track.ID)
	}

	select {
	case a.notify <- struct{}{}:
	default:
	}
}

func (a *audioOutput) duration(samples int) time.Duration {
	frames := samples / a.p.cfg.AudioChannels
	return time.Duration(frames) * time.Second / time.Duration(a.p.cfg.AudioSampleRate)
}

func (a *audioOutput) pop() (audioSegment, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.fifo) == 0 {
		return audioSegment{}, false
	}
	seg := a.fifo[0]
	a.fifo[0] = audioSegment{}
	a.fifo = a.fifo[1:]
	a.buffered -= a.duration(len(seg.pcm))
	if a.buffered <= a.p.cfg.AudioHighWater/2 {
		a.overrun = false
	}
	return seg, true
}

// run delivers segments in order. Once playback has started, a gap longer
// than the underrun interval is reported once per starvation.
func (a *audioOutput) run() {
	timer := time.NewTimer(a.p.cfg.UnderrunInterval)
	defer timer.Stop()

	playing, starved := false, false
	for {
		for {
			seg, ok := a.pop()
			if !ok {
				break
			}
			a.deliver(seg)
			playing, starved = true, false
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(a.p.cfg.UnderrunInterval)

		select {
		case <-a.p.ctx.Done():
			a.release()
			return
		case <-a.notify:
		case <-timer.C:
			if playing && !starved {
				starved = true
				a.ts.counters.underrun()
				if a.underruns != nil {
					a.underruns.OnAudioUnderrun(a.ts.track.ID)
				}
			}
		}
	}
}

func (a *audioOutput) deliver(seg audioSegment) {
	a.p.sink.OnAudioFrame(domain.AudioFrame{
		TrackID:     a.ts.track.ID,
		PCM:         seg.pcm,
		SampleRate:  a.p.cfg.AudioSampleRate,
		Channels:    a.p.cfg.AudioChannels,
		Timestamp:   seg.timestamp,
		Sequence:    seg.seq,
		CaptureTime: seg.capture,
	})
	a.p.pcmPool.Put(seg.pcm)
	a.p.delivered(a.ts, time.Now())
}

func (a *audioOutput) release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, seg := range a.fifo {
		a.p.pcmPool.Put(seg.pcm)
	}
	a.fifo = nil
	a.buffered = 0
}
