package pipeline

// resampler converts interleaved PCM to the sink's rate and channel count.
// It interpolates linearly and keeps its phase across calls so frame
// boundaries do not click.
type resampler struct {
	outRate     int
	outChannels int

	inRate int
	pos    float64   // read position relative to the start of the next input
	prev   []float64 // last input frame, per output channel
	primed bool
}

func newResampler(outRate, outChannels int) *resampler {
	return &resampler{outRate: outRate, outChannels: outChannels}
}

// process appends the converted samples of in to dst.
func (r *resampler) process(dst, in []int16, inRate, inChannels int) []int16 {
	if inChannels <= 0 || inRate <= 0 || len(in) < inChannels {
		return dst
	}
	frames := len(in) / inChannels

	if inRate == r.outRate {
		for i := 0; i < frames; i++ {
			dst = r.appendRemixed(dst, in[i*inChannels:(i+1)*inChannels])
		}
		return dst
	}

	if r.inRate != inRate {
		r.inRate = inRate
		r.pos = 0
		r.primed = false
	}
	if len(r.prev) != r.outChannels {
		r.prev = make([]float64, r.outChannels)
	}

	cur := make([]float64, r.outChannels)
	step := float64(inRate) / float64(r.outRate)

	for i := 0; i < frames; i++ {
		r.remixFloat(cur, in[i*inChannels:(i+1)*inChannels])
		if !r.primed {
			copy(r.prev, cur)
			r.primed = true
			r.pos = 1
		}
		// emit every output sample that falls between prev and cur
		for r.pos <= 1 {
			for ch := 0; ch < r.outChannels; ch++ {
				v := r.prev[ch] + (cur[ch]-r.prev[ch])*r.pos
				dst = append(dst, clamp16(v))
			}
			r.pos += step
		}
		r.pos--
		copy(r.prev, cur)
	}
	return dst
}

func (r *resampler) appendRemixed(dst, frame []int16) []int16 {
	switch {
	case len(frame) == r.outChannels:
		return append(dst, frame...)
	case len(frame) == 1:
		for ch := 0; ch < r.outChannels; ch++ {
			dst = append(dst, frame[0])
		}
		return dst
	}
	cur := make([]float64, r.outChannels)
	r.remixFloat(cur, frame)
	for _, v := range cur {
		dst = append(dst, clamp16(v))
	}
	return dst
}

// remixFloat maps one input frame onto the output channels. Mono is
// duplicated, extra channels are averaged down.
func (r *resampler) remixFloat(out []float64, frame []int16) {
	n := len(frame)
	switch {
	case n == len(out):
		for i, s := range frame {
			out[i] = float64(s)
		}
	case n == 1:
		for i := range out {
			out[i] = float64(frame[0])
		}
	case len(out) == 1:
		var sum float64
		for _, s := range frame {
			sum += float64(s)
		}
		out[0] = sum / float64(n)
	default:
		for i := range out {
			out[i] = float64(frame[i%n])
		}
	}
}

func clamp16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	if v < 0 {
		return int16(v - 0.5)
	}
	return int16(v + 0.5)
}
