package capture

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"sync"
)

// MJPEGEncoder is the guaranteed-baseline video encoder. Every platform
// can produce it and every frame is independently decodable, which is
// what the chunked recorder needs when no better codec is registered.
type MJPEGEncoder struct {
	config  VideoEncoderConfig
	quality int
	buf     bytes.Buffer
	stats   EncoderStats
	mu      sync.Mutex
}

// NewMJPEGEncoder creates an MJPEG encoder.
func NewMJPEGEncoder(config VideoEncoderConfig) (*MJPEGEncoder, error) {
	if config.Width <= 0 || config.Height <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", config.Width, config.Height)
	}
	if config.FPS <= 0 {
		config.FPS = 30
	}

	e := &MJPEGEncoder{config: config}
	e.quality = config.Quality
	if e.quality <= 0 {
		e.quality = qualityForBitrate(config.BitrateBps, config.Width, config.Height, config.FPS)
	}
	if e.quality > 100 {
		e.quality = 100
	}
	return e, nil
}

// qualityForBitrate derives a JPEG quality level from a target bitrate by
// way of bits-per-pixel. The mapping is coarse; MJPEG has no rate control.
func qualityForBitrate(bitrateBps, width, height, fps int) int {
	if bitrateBps <= 0 {
		return 80
	}
	bpp := float64(bitrateBps) / float64(width*height*fps)
	q := int(bpp * 200)
	if q < 40 {
		q = 40
	}
	if q > 95 {
		q = 95
	}
	return q
}

// Encode compresses one I420 frame into a standalone JPEG image.
func (e *MJPEGEncoder) Encode(frame *VideoFrame) (*EncodedFrame, error) {
	img := frame.YCbCr()
	if img == nil {
		return nil, fmt.Errorf("mjpeg: unsupported pixel format %v", frame.Format)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.buf.Reset()
	if err := jpeg.Encode(&e.buf, img, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, fmt.Errorf("mjpeg: encode: %w", err)
	}

	e.stats.FramesEncoded++
	e.stats.KeyframesEncoded++
	e.stats.BytesEncoded += uint64(e.buf.Len())

	data := make([]byte, e.buf.Len())
	copy(data, e.buf.Bytes())

	return &EncodedFrame{
		Data:      data,
		FrameType: FrameTypeKey,
		PTS:       frame.Timestamp,
		Duration:  frame.Duration,
	}, nil
}

// RequestKeyframe is a no-op; every MJPEG frame is a keyframe.
func (e *MJPEGEncoder) RequestKeyframe() {}

// SetBitrate re-derives the JPEG quality from a new target bitrate.
func (e *MJPEGEncoder) SetBitrate(bitrateBps int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config.BitrateBps = bitrateBps
	e.quality = qualityForBitrate(bitrateBps, e.config.Width, e.config.Height, e.config.FPS)
	return nil
}

// Config returns the encoder configuration.
func (e *MJPEGEncoder) Config() VideoEncoderConfig {
	return e.config
}

// Codec returns VideoCodecMJPEG.
func (e *MJPEGEncoder) Codec() VideoCodec {
	return VideoCodecMJPEG
}

// Stats returns encoding statistics.
func (e *MJPEGEncoder) Stats() EncoderStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Quality returns the active JPEG quality level.
func (e *MJPEGEncoder) Quality() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quality
}

// Close releases the encoder.
func (e *MJPEGEncoder) Close() error {
	return nil
}

func init() {
	RegisterVideoEncoder(VideoCodecMJPEG, func(config VideoEncoderConfig) (VideoEncoder, error) {
		return NewMJPEGEncoder(config)
	})
}
