package pipeline

import (
	"sync"
	"time"

	"rillview/internal/core/domain"
)

// trackCounters accumulates receive and decode statistics for one track.
type trackCounters struct {
	mu sync.Mutex

	stats     domain.TrackStats
	clockRate float64

	seqStarted bool
	baseSeq    uint32
	maxSeq     uint32 // extended
	cycles     uint32

	jitter      float64 // in timestamp units
	lastTransit float64
	haveTransit bool
}

func newTrackCounters(track domain.MediaTrack) *trackCounters {
	rate := float64(track.ClockRate)
	if rate == 0 {
		rate = 90000
	}
	return &trackCounters{
		stats: domain.TrackStats{
			TrackID: track.ID,
			Kind:    track.Kind,
			Codec:   track.CodecName(),
		},
		clockRate: rate,
	}
}

// packet records one RTP packet arriving at the given time.
func (c *trackCounters) packet(seq uint16, ts uint32, size int, arrival time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.PacketsReceived++
	c.stats.BytesReceived += uint64(size)

	if !c.seqStarted {
		c.seqStarted = true
		c.baseSeq = uint32(seq)
		c.maxSeq = uint32(seq)
	} else {
		maxLow := uint16(c.maxSeq)
		delta := int16(seq - maxLow)
		if delta > 0 {
			if seq < maxLow {
				c.cycles += 1 << 16
			}
			c.maxSeq = c.cycles | uint32(seq)
		}
	}

	// RFC 3550 A.8
	arrivalUnits := float64(arrival.UnixNano()) / float64(time.Second) * c.clockRate
	transit := arrivalUnits - float64(ts)
	if c.haveTransit {
		d := transit - c.lastTransit
		if d < 0 {
			d = -d
		}
		c.jitter += (d - c.jitter) / 16
	}
	c.lastTransit = transit
	c.haveTransit = true
}

func (c *trackCounters) frameDecoded(at time.Time) {
	c.mu.Lock()
	c.stats.FramesDecoded++
	c.stats.LastFrameAt = at
	c.stats.LastMediaAt = at
	c.mu.Unlock()
}

// frameSkipped records a frame the decoder chose not to render.
func (c *trackCounters) frameSkipped(at time.Time) {
	c.mu.Lock()
	c.stats.FramesDropped++
	c.stats.LastMediaAt = at
	c.mu.Unlock()
}

func (c *trackCounters) frameDropped(n int) {
	c.mu.Lock()
	c.stats.FramesDropped += uint64(n)
	c.mu.Unlock()
}

func (c *trackCounters) decodeError() {
	c.mu.Lock()
	c.stats.DecodeErrors++
	c.mu.Unlock()
}

func (c *trackCounters) keyframeWait() {
	c.mu.Lock()
	c.stats.KeyframeWaits++
	c.mu.Unlock()
}

func (c *trackCounters) underrun() {
	c.mu.Lock()
	c.stats.AudioUnderruns++
	c.mu.Unlock()
}

func (c *trackCounters) overrun() {
	c.mu.Lock()
	c.stats.AudioOverruns++
	c.mu.Unlock()
}

func (c *trackCounters) snapshot() domain.TrackStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	if c.seqStarted {
		expected := uint64(c.maxSeq-c.baseSeq) + 1
		if expected > s.PacketsReceived {
			s.PacketsLost = expected - s.PacketsReceived
		}
	}
	s.Jitter = c.jitter / c.clockRate
	return s
}
