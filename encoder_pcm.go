package capture

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

// PCMEncoder is the guaranteed-baseline audio encoder: signed 16-bit
// little-endian pass-through, regularized into fixed-duration packets so
// the container sees a steady block cadence.
type PCMEncoder struct {
	config AudioEncoderConfig

	packetBytes int // target packet size in bytes

	mu         sync.Mutex
	pending    []byte
	pendingPTS int64 // PTS of the first pending sample, ns
	havePTS    bool
	stats      AudioEncoderStats
}

// NewPCMEncoder creates a PCM encoder.
func NewPCMEncoder(config AudioEncoderConfig) (*PCMEncoder, error) {
	if config.SampleRate <= 0 {
		config.SampleRate = 48000
	}
	if config.Channels <= 0 {
		config.Channels = 1
	}
	if config.FrameSizeMs <= 0 {
		config.FrameSizeMs = 20
	}

	samplesPerPacket := config.SampleRate * config.FrameSizeMs / 1000
	return &PCMEncoder{
		config:      config,
		packetBytes: samplesPerPacket * config.Channels * 2,
	}, nil
}

// Encode accumulates samples and returns a packet once at least one full
// packet duration is buffered. Float samples are converted to S16.
func (e *PCMEncoder) Encode(samples *AudioSamples) (*EncodedAudio, error) {
	if samples.SampleRate != e.config.SampleRate || samples.Channels != e.config.Channels {
		return nil, fmt.Errorf("pcm: sample format mismatch: got %dHz/%dch, want %dHz/%dch",
			samples.SampleRate, samples.Channels, e.config.SampleRate, e.config.Channels)
	}

	data, err := toS16LE(samples)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.havePTS {
		e.pendingPTS = samples.Timestamp
		e.havePTS = true
	}
	e.pending = append(e.pending, data...)

	if len(e.pending) < e.packetBytes {
		return nil, nil
	}

	// Emit the largest whole multiple of the packet size.
	n := (len(e.pending) / e.packetBytes) * e.packetBytes
	return e.emitLocked(n), nil
}

// Flush returns any partially accumulated packet.
func (e *PCMEncoder) Flush() (*EncodedAudio, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.pending) == 0 {
		return nil, nil
	}
	return e.emitLocked(len(e.pending)), nil
}

func (e *PCMEncoder) emitLocked(n int) *EncodedAudio {
	out := make([]byte, n)
	copy(out, e.pending[:n])
	e.pending = append(e.pending[:0], e.pending[n:]...)

	sampleCount := n / (e.config.Channels * 2)
	duration := int64(sampleCount) * 1e9 / int64(e.config.SampleRate)
	pts := e.pendingPTS
	e.pendingPTS += duration
	if len(e.pending) == 0 {
		e.havePTS = false
	}

	e.stats.PacketsEncoded++
	e.stats.BytesEncoded += uint64(n)
	e.stats.SamplesEncoded += uint64(sampleCount)

	return &EncodedAudio{
		Data:        out,
		PTS:         pts,
		Duration:    duration,
		SampleCount: sampleCount,
	}
}

// toS16LE converts samples to interleaved signed 16-bit little endian.
func toS16LE(samples *AudioSamples) ([]byte, error) {
	switch samples.Format {
	case AudioFormatS16:
		return samples.Data, nil

	case AudioFormatF32:
		n := len(samples.Data) / 4
		out := make([]byte, n*2)
		for i := 0; i < n; i++ {
			bits := binary.LittleEndian.Uint32(samples.Data[i*4:])
			f := math.Float32frombits(bits)
			v := int32(f * 32767)
			if v > 32767 {
				v = 32767
			} else if v < -32768 {
				v = -32768
			}
			binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
		}
		return out, nil

	default:
		return nil, fmt.Errorf("pcm: unsupported sample format %v", samples.Format)
	}
}

// Config returns the encoder configuration.
func (e *PCMEncoder) Config() AudioEncoderConfig {
	return e.config
}

// Codec returns AudioCodecPCM.
func (e *PCMEncoder) Codec() AudioCodec {
	return AudioCodecPCM
}

// Stats returns encoding statistics.
func (e *PCMEncoder) Stats() AudioEncoderStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Close releases the encoder.
func (e *PCMEncoder) Close() error {
	return nil
}

func init() {
	RegisterAudioEncoder(AudioCodecPCM, func(config AudioEncoderConfig) (AudioEncoder, error) {
		return NewPCMEncoder(config)
	})
}
