package pipeline

import (
	"rillview/internal/core/domain"
	"rillview/internal/core/ports"
)

// g711Decoder expands 8-bit companded samples to 16-bit PCM.
type g711Decoder struct {
	table *[256]int16
}

var (
	ulawTable = buildTable(ulawToLinear)
	alawTable = buildTable(alawToLinear)
)

func newULawDecoder(domain.MediaTrack) (ports.AudioDecoder, error) {
	return &g711Decoder{table: &ulawTable}, nil
}

func newALawDecoder(domain.MediaTrack) (ports.AudioDecoder, error) {
	return &g711Decoder{table: &alawTable}, nil
}

func (d *g711Decoder) Decode(dst []int16, payload []byte) ([]int16, int, int, error) {
	if cap(dst) < len(payload) {
		dst = make([]int16, len(payload))
	}
	dst = dst[:len(payload)]
	for i, b := range payload {
		dst[i] = d.table[b]
	}
	return dst, 8000, 1, nil
}

func buildTable(fn func(byte) int16) [256]int16 {
	var t [256]int16
	for i := range t {
		t[i] = fn(byte(i))
	}
	return t
}

// ITU-T G.711
func ulawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	sample := (int16(mantissa)<<3 + 0x84) << exponent
	sample -= 0x84
	if sign != 0 {
		return -sample
	}
	return sample
}

func alawToLinear(a byte) int16 {
	a ^= 0x55
	sign := a & 0x80
	exponent := (a >> 4) & 0x07
	mantissa := int16(a & 0x0F)

	var sample int16
	if exponent == 0 {
		sample = mantissa<<4 + 8
	} else {
		sample = (mantissa<<4 + 0x108) << (exponent - 1)
	}
	if sign == 0 {
		return -sample
	}
	return sample
}
