package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrCodecNotSupported is returned when no encoder is registered for a codec.
var ErrCodecNotSupported = errors.New("codec not supported")

// VideoEncoderConfig configures a video encoder.
type VideoEncoderConfig struct {
	Codec VideoCodec // Codec type

	Width      int // Frame width
	Height     int // Frame height
	FPS        int // Target framerate
	BitrateBps int // Target bitrate in bits per second

	// Quality is the codec-specific quality knob (1-100 for MJPEG).
	// 0 means derive from bitrate.
	Quality int
}

// DefaultVideoEncoderConfig returns a default encoder configuration.
func DefaultVideoEncoderConfig(codec VideoCodec, width, height int) VideoEncoderConfig {
	return VideoEncoderConfig{
		Codec:      codec,
		Width:      width,
		Height:     height,
		FPS:        30,
		BitrateBps: 6_000_000,
	}
}

// EncoderStats provides encoding metrics.
type EncoderStats struct {
	FramesEncoded    uint64 // Total frames encoded
	KeyframesEncoded uint64 // Total keyframes encoded
	BytesEncoded     uint64 // Total bytes of encoded data
}

// VideoEncoder encodes raw video frames to compressed bitstream.
type VideoEncoder interface {
	io.Closer

	// Encode encodes a video frame.
	// Returns nil if the encoder is buffering and no output is ready.
	// The returned EncodedFrame data is valid until the next Encode() call.
	Encode(frame *VideoFrame) (*EncodedFrame, error)

	// RequestKeyframe forces the next frame to be a keyframe.
	RequestKeyframe()

	// SetBitrate updates the target bitrate dynamically.
	SetBitrate(bitrateBps int) error

	// Config returns the encoder configuration.
	Config() VideoEncoderConfig

	// Codec returns the codec type.
	Codec() VideoCodec

	// Stats returns encoding statistics.
	Stats() EncoderStats
}

// AudioEncoderConfig configures an audio encoder.
type AudioEncoderConfig struct {
	Codec AudioCodec // Codec type

	SampleRate  int // Sample rate (e.g., 48000)
	Channels    int // Number of channels (1 or 2)
	BitrateBps  int // Target bitrate in bps
	FrameSizeMs int // Packet duration in milliseconds
}

// DefaultAudioEncoderConfig returns a default audio encoder configuration.
func DefaultAudioEncoderConfig(codec AudioCodec) AudioEncoderConfig {
	return AudioEncoderConfig{
		Codec:       codec,
		SampleRate:  48000,
		Channels:    1,
		BitrateBps:  128_000,
		FrameSizeMs: 20,
	}
}

// AudioEncoderStats provides audio encoding metrics.
type AudioEncoderStats struct {
	PacketsEncoded uint64
	BytesEncoded   uint64
	SamplesEncoded uint64
}

// AudioEncoder encodes raw audio samples to compressed bitstream.
type AudioEncoder interface {
	io.Closer

	// Encode encodes audio samples. Returns nil if the encoder is
	// accumulating and no full packet is ready yet.
	Encode(samples *AudioSamples) (*EncodedAudio, error)

	// Flush returns any partially accumulated packet.
	Flush() (*EncodedAudio, error)

	Config() AudioEncoderConfig
	Codec() AudioCodec
	Stats() AudioEncoderStats
}

// --- Registry ---

// VideoEncoderFactory creates a video encoder.
type VideoEncoderFactory func(VideoEncoderConfig) (VideoEncoder, error)

// AudioEncoderFactory creates an audio encoder.
type AudioEncoderFactory func(AudioEncoderConfig) (AudioEncoder, error)

type encoderRegistry struct {
	mu    sync.RWMutex
	video map[VideoCodec]VideoEncoderFactory
	audio map[AudioCodec]AudioEncoderFactory
}

var globalEncoderRegistry = &encoderRegistry{
	video: make(map[VideoCodec]VideoEncoderFactory),
	audio: make(map[AudioCodec]AudioEncoderFactory),
}

// RegisterVideoEncoder registers a video encoder factory for a codec.
func RegisterVideoEncoder(codec VideoCodec, factory VideoEncoderFactory) {
	globalEncoderRegistry.mu.Lock()
	defer globalEncoderRegistry.mu.Unlock()
	globalEncoderRegistry.video[codec] = factory
}

// RegisterAudioEncoder registers an audio encoder factory for a codec.
func RegisterAudioEncoder(codec AudioCodec, factory AudioEncoderFactory) {
	globalEncoderRegistry.mu.Lock()
	defer globalEncoderRegistry.mu.Unlock()
	globalEncoderRegistry.audio[codec] = factory
}

// NewVideoEncoder creates a video encoder for the configured codec.
func NewVideoEncoder(config VideoEncoderConfig) (VideoEncoder, error) {
	globalEncoderRegistry.mu.RLock()
	factory, ok := globalEncoderRegistry.video[config.Codec]
	globalEncoderRegistry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCodecNotSupported, config.Codec)
	}
	return factory(config)
}

// NewAudioEncoder creates an audio encoder for the configured codec.
func NewAudioEncoder(config AudioEncoderConfig) (AudioEncoder, error) {
	globalEncoderRegistry.mu.RLock()
	factory, ok := globalEncoderRegistry.audio[config.Codec]
	globalEncoderRegistry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCodecNotSupported, config.Codec)
	}
	return factory(config)
}

// VideoEncoderSupported reports whether an encoder is registered for the codec.
func VideoEncoderSupported(codec VideoCodec) bool {
	globalEncoderRegistry.mu.RLock()
	defer globalEncoderRegistry.mu.RUnlock()
	_, ok := globalEncoderRegistry.video[codec]
	return ok
}

// AudioEncoderSupported reports whether an encoder is registered for the codec.
func AudioEncoderSupported(codec AudioCodec) bool {
	globalEncoderRegistry.mu.RLock()
	defer globalEncoderRegistry.mu.RUnlock()
	_, ok := globalEncoderRegistry.audio[codec]
	return ok
}

// SupportedVideoCodecs returns all codecs with a registered encoder.
func SupportedVideoCodecs() []VideoCodec {
	globalEncoderRegistry.mu.RLock()
	defer globalEncoderRegistry.mu.RUnlock()

	codecs := make([]VideoCodec, 0, len(globalEncoderRegistry.video))
	for c := range globalEncoderRegistry.video {
		codecs = append(codecs, c)
	}
	return codecs
}

// SupportedAudioCodecs returns all codecs with a registered encoder.
func SupportedAudioCodecs() []AudioCodec {
	globalEncoderRegistry.mu.RLock()
	defer globalEncoderRegistry.mu.RUnlock()

	codecs := make([]AudioCodec, 0, len(globalEncoderRegistry.audio))
	for c := range globalEncoderRegistry.audio {
		codecs = append(codecs, c)
	}
	return codecs
}
