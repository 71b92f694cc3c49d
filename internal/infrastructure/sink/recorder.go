package sink

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"rillview/internal/core/domain"

	"go.uber.org/zap"
)

type RecorderConfig struct {
	// AudioPath receives interleaved s16le PCM. Empty disables audio.
	AudioPath string
	// VideoPath receives YUV4MPEG2 for I420 frames, raw packed pixels
	// otherwise. Empty disables video.
	VideoPath string
	// VideoFPS is only written to the Y4M header.
	VideoFPS int
}

type RecorderStats struct {
	AudioFrames   uint64 `json:"audio_frames"`
	AudioBytes    uint64 `json:"audio_bytes"`
	VideoFrames   uint64 `json:"video_frames"`
	VideoBytes    uint64 `json:"video_bytes"`
	SkippedFrames uint64 `json:"skipped_frames"`
	Underruns     uint64 `json:"underruns"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
}

type output struct {
	file *os.File
	w    *bufio.Writer
}

func create(path string) (*output, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &output{file: f, w: bufio.NewWriterSize(f, 1<<20)}, nil
}

func (o *output) close() error {
	if o == nil {
		return nil
	}
	return errors.Join(o.w.Flush(), o.file.Close())
}

// Recorder is a ports.Sink that writes decoded frames to raw files. The
// first frame of each kind fixes the format; later frames that do not match
// are counted and skipped.
type Recorder struct {
	config RecorderConfig
	logger *zap.SugaredLogger

	mu      sync.Mutex
	audio   *output
	video   *output
	pcm     []byte
	format  domain.PixelFormat
	stats   RecorderStats
	closed  bool
	lastErr error
}

func NewRecorder(config RecorderConfig, logger *zap.SugaredLogger) (*Recorder, error) {
	if config.VideoFPS <= 0 {
		config.VideoFPS = 30
	}
	r := &Recorder{config: config, logger: logger}

	var err error
	if config.AudioPath != "" {
		if r.audio, err = create(config.AudioPath); err != nil {
			return nil, err
		}
	}
	if config.VideoPath != "" {
		if r.video, err = create(config.VideoPath); err != nil {
			_ = r.audio.close()
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) OnAudioFrame(frame domain.AudioFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.audio == nil || r.closed || len(frame.PCM) == 0 {
		return
	}

	if r.stats.SampleRate == 0 {
		r.stats.SampleRate, r.stats.Channels = frame.SampleRate, frame.Channels
		r.logger.Infow("Recording audio",
			"path", r.config.AudioPath,
			"track_id", frame.TrackID,
			"sample_rate", frame.SampleRate,
			"channels", frame.Channels,
		)
	} else if frame.SampleRate != r.stats.SampleRate || frame.Channels != r.stats.Channels {
		r.stats.SkippedFrames++
		return
	}

	if cap(r.pcm) < 2*len(frame.PCM) {
		r.pcm = make([]byte, 2*len(frame.PCM))
	}
	buf := r.pcm[:2*len(frame.PCM)]
	for i, s := range frame.PCM {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(s))
	}
	if r.write(r.audio, buf) {
		r.stats.AudioFrames++
		r.stats.AudioBytes += uint64(len(buf))
	}
}

func (r *Recorder) OnVideoFrame(frame domain.VideoFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.video == nil || r.closed || len(frame.Pixels) == 0 {
		return
	}

	if r.stats.Width == 0 {
		r.stats.Width, r.stats.Height = frame.Width, frame.Height
		r.format = frame.Format
		if frame.Format == domain.PixelFormatI420 {
			header := fmt.Sprintf("YUV4MPEG2 W%d H%d F%d:1 Ip A1:1 C420jpeg\n", frame.Width, frame.Height, r.config.VideoFPS)
			if !r.write(r.video, []byte(header)) {
				return
			}
		}
		r.logger.Infow("Recording video",
			"path", r.config.VideoPath,
			"track_id", frame.TrackID,
			"width", frame.Width,
			"height", frame.Height,
			"format", string(frame.Format),
		)
	} else if frame.Width != r.stats.Width || frame.Height != r.stats.Height || frame.Format != r.format {
		if r.stats.SkippedFrames == 0 {
			r.logger.Warnw("Video format changed, skipping frames",
				"width", frame.Width,
				"height", frame.Height,
			)
		}
		r.stats.SkippedFrames++
		return
	}

	if r.format == domain.PixelFormatI420 && !r.write(r.video, []byte("FRAME\n")) {
		return
	}
	if r.write(r.video, frame.Pixels) {
		r.stats.VideoFrames++
		r.stats.VideoBytes += uint64(len(frame.Pixels))
	}
}

// OnAudioUnderrun implements ports.UnderrunHandler.
func (r *Recorder) OnAudioUnderrun(trackID string) {
	r.mu.Lock()
	r.stats.Underruns++
	r.mu.Unlock()
}

// write must be called with mu held. Only the first error is logged.
func (r *Recorder) write(o *output, p []byte) bool {
	if _, err := o.w.Write(p); err != nil {
		if r.lastErr == nil {
			r.logger.Errorw("Recorder write failed", "path", o.file.Name(), "error", err)
		}
		r.lastErr = err
		return false
	}
	return true
}

func (r *Recorder) Stats() RecorderStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Close flushes and closes both files. Frames arriving afterwards are ignored.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return errors.Join(r.audio.close(), r.video.close(), r.lastErr)
}
