package pipeline

import (
	"bytes"
	"errors"
	"image"

	"rillview/internal/core/domain"
	"rillview/internal/core/ports"

	"golang.org/x/image/vp8"
)

// ErrFrameSkipped is returned by decoders for frames they deliberately do
// not render. Skipped frames count as dropped, not as decode errors.
var ErrFrameSkipped = errors.New("frame skipped by decoder")

// vp8IntraDecoder renders VP8 key frames only. Inter frames are skipped, so
// the picture refreshes at the publisher's keyframe interval.
type vp8IntraDecoder struct {
	dec    *vp8.Decoder
	reader *bytes.Reader
}

func newVP8Decoder(domain.MediaTrack) (ports.VideoDecoder, error) {
	return &vp8IntraDecoder{dec: vp8.NewDecoder(), reader: bytes.NewReader(nil)}, nil
}

func (d *vp8IntraDecoder) Decode(payload []byte) (image.Image, error) {
	d.reader.Reset(payload)
	d.dec.Init(d.reader, len(payload))

	fh, err := d.dec.DecodeFrameHeader()
	if err != nil {
		return nil, err
	}
	if !fh.KeyFrame {
		return nil, ErrFrameSkipped
	}
	img, err := d.dec.DecodeFrame()
	if err != nil {
		return nil, err
	}
	return img, nil
}
