package pipeline

import (
	"sync"
	"time"
)

// timestampUnwrapper extends 32-bit RTP timestamps across wraparound
// and rejects frames that would go backwards.
type timestampUnwrapper struct {
	clockRate uint32
	started   bool
	first     int64
	last      int64
	lastRaw   uint32
	wraps     int64
}

func newTimestampUnwrapper(clockRate uint32) *timestampUnwrapper {
	if clockRate == 0 {
		clockRate = 90000
	}
	return &timestampUnwrapper{clockRate: clockRate}
}

// unwrap returns the extended timestamp of raw.
func (u *timestampUnwrapper) unwrap(raw uint32) int64 {
	if !u.started {
		u.started = true
		u.lastRaw = raw
		u.first = int64(raw)
		u.last = int64(raw)
		return int64(raw)
	}

	diff := int32(raw - u.lastRaw)
	if diff > 0 && raw < u.lastRaw {
		u.wraps++
	} else if diff < 0 && raw > u.lastRaw {
		u.wraps--
	}
	u.lastRaw = raw
	return u.wraps<<32 | int64(raw)
}

// accept unwraps raw and reports its offset from the first frame. Frames
// older than the last accepted one are rejected.
func (u *timestampUnwrapper) accept(raw uint32) (time.Duration, bool) {
	first := !u.started
	ext := u.unwrap(raw)
	if !first && ext < u.last {
		return 0, false
	}
	u.last = ext
	return u.toDuration(ext - u.first), true
}

// toDuration splits ticks into whole seconds and a remainder so the product
// with time.Second stays within int64 on long sessions.
func (u *timestampUnwrapper) toDuration(ticks int64) time.Duration {
	rate := int64(u.clockRate)
	return time.Duration(ticks/rate)*time.Second + time.Duration(ticks%rate)*time.Second/time.Duration(rate)
}

// captureClock maps RTP time to sender wall clock using the latest RTCP
// sender report.
type captureClock struct {
	mu        sync.Mutex
	clockRate uint32
	valid     bool
	rtpTime   uint32
	ntpTime   time.Time
}

func newCaptureClock(clockRate uint32) *captureClock {
	if clockRate == 0 {
		clockRate = 90000
	}
	return &captureClock{clockRate: clockRate}
}

func (c *captureClock) update(ntp uint64, rtpTime uint32) {
	c.mu.Lock()
	c.valid = true
	c.rtpTime = rtpTime
	c.ntpTime = ntpToTime(ntp)
	c.mu.Unlock()
}

// captureTime is zero until the first sender report arrives.
func (c *captureClock) captureTime(rtpTime uint32) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid {
		return time.Time{}
	}
	delta := int64(int32(rtpTime - c.rtpTime))
	return c.ntpTime.Add(time.Duration(delta) * time.Second / time.Duration(c.clockRate))
}

var ntpEpoch = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

func ntpToTime(ntp uint64) time.Time {
	secs := int64(ntp >> 32)
	frac := int64(ntp & 0xFFFFFFFF)
	nanos := frac * int64(time.Second) >> 32
	return ntpEpoch.Add(time.Duration(secs)*time.Second + time.Duration(nanos))
}
