package pipeline

import (
	"image"
	"image/color"

	"rillview/internal/core/domain"

	"golang.org/x/image/draw"
)

// frameConverter produces the sink pixel format. The output buffer is reused
// between frames, so it must not be touched while a sink callback runs.
type frameConverter struct {
	format domain.PixelFormat
	buf    []byte
	// staging area for non-YCbCr sources converted to I420
	packed []byte
}

func newFrameConverter(format domain.PixelFormat) *frameConverter {
	if format == "" {
		format = domain.PixelFormatI420
	}
	return &frameConverter{format: format}
}

func grow(buf *[]byte, n int) []byte {
	if cap(*buf) < n {
		*buf = make([]byte, n)
	}
	*buf = (*buf)[:n]
	return *buf
}

// convert returns the pixels of img and the luma or packed row stride.
func (c *frameConverter) convert(img image.Image) (pixels []byte, width, height, stride int) {
	b := img.Bounds()
	width, height = b.Dx(), b.Dy()

	switch c.format {
	case domain.PixelFormatRGBA, domain.PixelFormatBGRA:
		pixels = toPacked(&c.buf, img)
		if c.format == domain.PixelFormatBGRA {
			for i := 0; i+3 < len(pixels); i += 4 {
				pixels[i], pixels[i+2] = pixels[i+2], pixels[i]
			}
		}
		return pixels, width, height, width * 4
	default:
		if ycc, ok := img.(*image.YCbCr); ok && ycc.SubsampleRatio == image.YCbCrSubsampleRatio420 {
			return c.copyI420(ycc), width, height, width
		}
		return c.rgbToI420(toPacked(&c.packed, img), width, height), width, height, width
	}
}

func toPacked(buf *[]byte, img image.Image) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	pix := grow(buf, w*h*4)
	dst := &image.RGBA{Pix: pix, Stride: w * 4, Rect: image.Rect(0, 0, w, h)}
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return pix
}

func (c *frameConverter) copyI420(img *image.YCbCr) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	cw, ch := (w+1)/2, (h+1)/2
	out := grow(&c.buf, w*h+2*cw*ch)

	off := 0
	for y := 0; y < h; y++ {
		start := img.YOffset(b.Min.X, b.Min.Y+y)
		off += copy(out[off:off+w], img.Y[start:start+w])
	}
	for _, plane := range [][]byte{img.Cb, img.Cr} {
		for y := 0; y < ch; y++ {
			start := img.COffset(b.Min.X, b.Min.Y+2*y)
			off += copy(out[off:off+cw], plane[start:start+cw])
		}
	}
	return out
}

// rgbToI420 converts packed RGBA to I420, sampling chroma from the top-left
// pixel of each 2x2 block.
func (c *frameConverter) rgbToI420(src []byte, w, h int) []byte {
	cw, ch := (w+1)/2, (h+1)/2
	out := grow(&c.buf, w*h+2*cw*ch)

	uOff, vOff := w*h, w*h+cw*ch
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 4
			yy, cb, cr := color.RGBToYCbCr(src[i], src[i+1], src[i+2])
			out[y*w+x] = yy
			if x%2 == 0 && y%2 == 0 {
				ci := (y/2)*cw + x/2
				out[uOff+ci] = cb
				out[vOff+ci] = cr
			}
		}
	}
	return out
}
