package capture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// ErrNoAudioTrack is returned when audio is written to a video-only container.
var ErrNoAudioTrack = errors.New("container has no audio track")

// ChunkBuffer accumulates container output and slices it into chunks.
// Chunks are append-only: each Cut moves the bytes written since the
// previous cut into the chunk list, so concatenating all chunks
// reproduces the byte stream exactly.
type ChunkBuffer struct {
	mu      sync.Mutex
	pending bytes.Buffer
	chunks  [][]byte
	total   uint64
}

// NewChunkBuffer creates an empty chunk buffer.
func NewChunkBuffer() *ChunkBuffer {
	return &ChunkBuffer{}
}

// Write implements io.Writer.
func (b *ChunkBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total += uint64(len(p))
	return b.pending.Write(p)
}

// Cut seals the bytes written since the previous cut into a new chunk.
// A cut with no intervening writes is a no-op.
func (b *ChunkBuffer) Cut() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cutLocked()
}

func (b *ChunkBuffer) cutLocked() {
	if b.pending.Len() == 0 {
		return
	}
	chunk := make([]byte, b.pending.Len())
	copy(chunk, b.pending.Bytes())
	b.chunks = append(b.chunks, chunk)
	b.pending.Reset()
}

// Chunks returns the sealed chunks in write order.
func (b *ChunkBuffer) Chunks() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.chunks))
	copy(out, b.chunks)
	return out
}

// ChunkCount returns the number of sealed chunks.
func (b *ChunkBuffer) ChunkCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Size returns the total number of bytes written, sealed or pending.
func (b *ChunkBuffer) Size() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Concat seals any pending bytes and returns all chunks joined into a
// single contiguous byte slice.
func (b *ChunkBuffer) Concat() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cutLocked()

	out := make([]byte, 0, b.total)
	for _, chunk := range b.chunks {
		out = append(out, chunk...)
	}
	return out
}

// Reset discards all chunks and pending bytes.
func (b *ChunkBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending.Reset()
	b.chunks = nil
	b.total = 0
}

// writerCloser adapts an io.Writer to the io.WriteCloser the container
// writer requires, rejecting writes after close.
type writerCloser struct {
	w      io.Writer
	closed bool
}

func (wc *writerCloser) Write(p []byte) (int, error) {
	if wc.closed {
		return 0, io.ErrClosedPipe
	}
	return wc.w.Write(p)
}

func (wc *writerCloser) Close() error {
	wc.closed = true
	return nil
}

// Matroska track types.
const (
	matroskaTrackTypeVideo = 1
	matroskaTrackTypeAudio = 2
)

// ContainerConfig describes the tracks of a Matroska container.
type ContainerConfig struct {
	Video  VideoCodec
	Width  int
	Height int
	FPS    int

	// Audio is optional; AudioCodecUnknown produces a video-only container.
	Audio      AudioCodec
	SampleRate int
	Channels   int

	Logger logrus.FieldLogger
}

// MatroskaWriter muxes encoded video and optional audio into a Matroska
// stream. Block timecodes are derived from frame PTS at millisecond
// precision.
type MatroskaWriter struct {
	config ContainerConfig
	log    logrus.FieldLogger

	mu     sync.Mutex
	video  webm.BlockWriteCloser
	audio  webm.BlockWriteCloser
	closed bool
	blocks uint64

	fatalMu sync.Mutex
	fatal   error
}

// NewMatroskaWriter creates a Matroska writer emitting into w. The
// container header is written immediately.
func NewMatroskaWriter(w io.Writer, config ContainerConfig) (*MatroskaWriter, error) {
	if config.Video == VideoCodecUnknown {
		return nil, errors.New("container requires a video codec")
	}
	if config.Width <= 0 || config.Height <= 0 {
		return nil, fmt.Errorf("invalid container dimensions: %dx%d", config.Width, config.Height)
	}
	if config.FPS <= 0 {
		config.FPS = 30
	}

	log := config.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	m := &MatroskaWriter{
		config: config,
		log:    log.WithField("component", "container"),
	}

	tracks := []webm.TrackEntry{
		{
			Name:            "Video",
			TrackNumber:     1,
			TrackUID:        1,
			CodecID:         config.Video.MatroskaCodecID(),
			TrackType:       matroskaTrackTypeVideo,
			DefaultDuration: uint64(time.Second) / uint64(config.FPS),
			Video: &webm.Video{
				PixelWidth:  uint64(config.Width),
				PixelHeight: uint64(config.Height),
			},
		},
	}
	if config.Audio != AudioCodecUnknown {
		sampleRate := config.SampleRate
		if sampleRate <= 0 {
			sampleRate = config.Audio.ClockRate()
		}
		channels := config.Channels
		if channels <= 0 {
			channels = 1
		}
		audio := &webm.Audio{
			SamplingFrequency: float64(sampleRate),
			Channels:          uint64(channels),
		}
		if config.Audio == AudioCodecPCM {
			audio.BitDepth = 16
		}
		tracks = append(tracks, webm.TrackEntry{
			Name:        "Audio",
			TrackNumber: 2,
			TrackUID:    2,
			CodecID:     config.Audio.MatroskaCodecID(),
			TrackType:   matroskaTrackTypeAudio,
			Audio:       audio,
		})
	}

	writers, err := webm.NewSimpleBlockWriter(&writerCloser{w: w}, tracks,
		mkvcore.WithOnFatalHandler(func(err error) {
			m.fatalMu.Lock()
			if m.fatal == nil {
				m.fatal = err
			}
			m.fatalMu.Unlock()
			m.log.WithError(err).Warn("container write failed")
		}))
	if err != nil {
		return nil, fmt.Errorf("create matroska writer: %w", err)
	}

	m.video = writers[0]
	if config.Audio != AudioCodecUnknown {
		m.audio = writers[1]
	}
	return m, nil
}

// WriteVideo appends an encoded video frame to the video track.
func (m *MatroskaWriter) WriteVideo(frame *EncodedFrame) error {
	if len(frame.Data) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return io.ErrClosedPipe
	}
	if err := m.fatalErr(); err != nil {
		return err
	}

	timecode := frame.PTS / int64(time.Millisecond)
	if _, err := m.video.Write(frame.IsKeyframe(), timecode, frame.Data); err != nil {
		return fmt.Errorf("write video block: %w", err)
	}
	m.blocks++
	return nil
}

// WriteAudio appends an encoded audio packet to the audio track.
func (m *MatroskaWriter) WriteAudio(pkt *EncodedAudio) error {
	if len(pkt.Data) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return io.ErrClosedPipe
	}
	if m.audio == nil {
		return ErrNoAudioTrack
	}
	if err := m.fatalErr(); err != nil {
		return err
	}

	timecode := pkt.PTS / int64(time.Millisecond)
	if _, err := m.audio.Write(true, timecode, pkt.Data); err != nil {
		return fmt.Errorf("write audio block: %w", err)
	}
	m.blocks++
	return nil
}

// BlocksWritten returns the number of blocks written across all tracks.
func (m *MatroskaWriter) BlocksWritten() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocks
}

func (m *MatroskaWriter) fatalErr() error {
	m.fatalMu.Lock()
	defer m.fatalMu.Unlock()
	return m.fatal
}

// Close finalizes the container, flushing any buffered blocks.
func (m *MatroskaWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var result error
	if m.video != nil {
		if err := m.video.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close video track: %w", err))
		}
		m.video = nil
	}
	if m.audio != nil {
		if err := m.audio.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close audio track: %w", err))
		}
		m.audio = nil
	}
	m.log.WithField("blocks", m.blocks).Debug("container finalized")
	return result
}
