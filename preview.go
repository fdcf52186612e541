package capture

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// PreviewConfig configures the live preview publisher.
type PreviewConfig struct {
	Codec       VideoCodec // Preview codec (default MJPEG)
	BitrateBps  int        // Encoder target bitrate (default 4 Mbps)
	Quality     int        // Codec quality override (0 = derive from bitrate)
	MTU         int        // RTP payload budget (default DefaultMTU)
	SSRC        uint32     // RTP SSRC (0 = random)
	PayloadType uint8      // RTP payload type (0 = codec default)
	Logger      logrus.FieldLogger
}

// DefaultPreviewConfig returns the default preview configuration.
func DefaultPreviewConfig() PreviewConfig {
	return PreviewConfig{
		Codec:      VideoCodecMJPEG,
		BitrateBps: 4_000_000,
		MTU:        DefaultMTU,
	}
}

// PreviewStream publishes a video source as an RTP stream. It exists so
// the composited canvas can be watched live while a session records;
// the recorded artifacts never pass through it.
type PreviewStream struct {
	config     PreviewConfig
	log        logrus.FieldLogger
	source     VideoSource
	sink       RTPWriter
	encoder    VideoEncoder
	packetizer RTPPacketizer

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	doneCh  chan struct{}

	base     int64
	haveBase bool

	framesSent  atomic.Uint64
	packetsSent atomic.Uint64
}

// NewPreviewStream creates a preview publisher reading frames from
// source and writing RTP packets to sink. The source is borrowed; the
// caller keeps ownership of its lifecycle.
func NewPreviewStream(config PreviewConfig, source VideoSource, sink RTPWriter) (*PreviewStream, error) {
	if source == nil {
		return nil, errors.New("preview requires a video source")
	}
	if sink == nil {
		return nil, errors.New("preview requires an RTP sink")
	}
	if config.Codec == VideoCodecUnknown {
		config.Codec = VideoCodecMJPEG
	}
	if config.BitrateBps <= 0 {
		config.BitrateBps = 4_000_000
	}
	if config.MTU <= 0 {
		config.MTU = DefaultMTU
	}
	if config.PayloadType == 0 {
		config.PayloadType = config.Codec.DefaultPayloadType()
	}
	if config.SSRC == 0 {
		config.SSRC = randomSSRC()
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	srcCfg := source.Config()
	encCfg := DefaultVideoEncoderConfig(config.Codec, srcCfg.Width, srcCfg.Height)
	encCfg.FPS = srcCfg.FPS
	encCfg.BitrateBps = config.BitrateBps
	encCfg.Quality = config.Quality

	encoder, err := NewVideoEncoder(encCfg)
	if err != nil {
		return nil, fmt.Errorf("create preview encoder: %w", err)
	}

	packetizer, err := CreateVideoPacketizer(config.Codec, config.SSRC, config.PayloadType, config.MTU)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create preview packetizer: %w", err)
	}

	return &PreviewStream{
		config:     config,
		log:        config.Logger.WithField("component", "preview"),
		source:     source,
		sink:       sink,
		encoder:    encoder,
		packetizer: packetizer,
	}, nil
}

// NewPreviewTrack builds a LocalTrack publishing the source as an RTP
// stream, ready to hand to a pion PeerConnection via AddTrack.
func NewPreviewTrack(config PreviewConfig, source VideoSource, id, streamID string) (*LocalTrack, *PreviewStream, error) {
	codec := config.Codec
	if codec == VideoCodecUnknown {
		codec = VideoCodecMJPEG
	}
	track := NewLocalTrack(webrtc.RTPCodecCapability{
		MimeType:  codec.MimeType(),
		ClockRate: codec.ClockRate(),
	}, id, streamID)

	stream, err := NewPreviewStream(config, source, track)
	if err != nil {
		return nil, nil, err
	}
	return track, stream, nil
}

// Start begins reading, encoding and publishing frames.
func (s *PreviewStream) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.doneCh = make(chan struct{})
	s.haveBase = false

	s.log.WithFields(logrus.Fields{
		"codec": s.config.Codec,
		"ssrc":  s.config.SSRC,
		"mtu":   s.config.MTU,
	}).Debug("preview started")

	go s.publishLoop()
	return nil
}

func (s *PreviewStream) publishLoop() {
	defer close(s.doneCh)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		frame, err := s.source.ReadFrame(s.ctx)
		if err != nil {
			if errors.Is(err, ErrSourceClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			s.log.WithError(err).Debug("preview frame read failed")
			continue
		}
		if frame == nil {
			continue
		}

		if !s.haveBase {
			s.base = frame.Timestamp
			s.haveBase = true
		}

		encoded, err := s.encoder.Encode(frame)
		if err != nil {
			s.log.WithError(err).Warn("preview encode failed")
			continue
		}
		if encoded == nil {
			continue
		}
		encoded.PTS = frame.Timestamp - s.base

		packets, err := s.packetizer.Packetize(encoded)
		if err != nil {
			s.log.WithError(err).Warn("preview packetize failed")
			continue
		}

		for _, pkt := range packets {
			if err := s.sink.WriteRTP(pkt); err != nil {
				s.log.WithError(err).Warn("preview write failed")
				break
			}
			s.packetsSent.Add(1)
		}
		s.framesSent.Add(1)
	}
}

// Stop halts publishing and waits for the loop to exit.
func (s *PreviewStream) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.doneCh != nil {
		<-s.doneCh
	}

	s.log.WithFields(logrus.Fields{
		"frames":  s.framesSent.Load(),
		"packets": s.packetsSent.Load(),
	}).Debug("preview stopped")
	return nil
}

// Close stops the stream and releases the encoder.
func (s *PreviewStream) Close() error {
	s.Stop()
	return s.encoder.Close()
}

// FramesSent returns the number of frames published since Start.
func (s *PreviewStream) FramesSent() uint64 { return s.framesSent.Load() }

// PacketsSent returns the number of RTP packets written since Start.
func (s *PreviewStream) PacketsSent() uint64 { return s.packetsSent.Load() }

func randomSSRC() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint32(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint32(b[:])
}
