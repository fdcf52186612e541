package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// ErrRecorderStopped is returned when a stopped track recorder is reused.
var ErrRecorderStopped = errors.New("track recorder already stopped")

// DefaultChunkInterval is the media-time granularity at which encoded
// output is sealed into chunks.
const DefaultChunkInterval = time.Second

// TrackProfile is one tier of a capability table: a video codec,
// an optional muxed audio codec, and their target bitrates.
type TrackProfile struct {
	Video           VideoCodec
	Audio           AudioCodec
	VideoBitrateBps int
	AudioBitrateBps int
}

// MimeType returns the container MIME type with codec parameters,
// e.g. "video/x-matroska;codecs=vp9,opus".
func (p TrackProfile) MimeType() string {
	if p.Audio != AudioCodecUnknown {
		return fmt.Sprintf("video/x-matroska;codecs=%s,%s", p.Video.CodecsToken(), p.Audio.CodecsToken())
	}
	return fmt.Sprintf("video/x-matroska;codecs=%s", p.Video.CodecsToken())
}

// CapabilityTable is an ordered list of codec profiles, best first.
// Selection walks the table and picks the first profile whose codecs
// have registered encoders; if none match, a guaranteed baseline is
// substituted so selection never fails.
type CapabilityTable []TrackProfile

// Select resolves the table against the registered encoders.
func (t CapabilityTable) Select() TrackProfile {
	for _, p := range t {
		if !VideoEncoderSupported(p.Video) {
			continue
		}
		if p.Audio != AudioCodecUnknown && !AudioEncoderSupported(p.Audio) {
			continue
		}
		return p
	}
	return t.baseline()
}

// baseline produces the fallback profile, keeping audio if any tier
// in the table wanted it and inheriting the table's bitrate targets.
func (t CapabilityTable) baseline() TrackProfile {
	p := TrackProfile{
		Video:           VideoCodecMJPEG,
		VideoBitrateBps: 6_000_000,
	}
	if len(t) > 0 {
		if t[0].VideoBitrateBps > 0 {
			p.VideoBitrateBps = t[0].VideoBitrateBps
		}
		if t[0].Audio != AudioCodecUnknown {
			p.Audio = AudioCodecPCM
			p.AudioBitrateBps = t[0].AudioBitrateBps
		}
	}
	return p
}

// DefaultWebcamTable is the capability table for the webcam binding.
// Bitrates are fixed high to preserve facial detail for downstream
// reframing.
var DefaultWebcamTable = CapabilityTable{
	{Video: VideoCodecVP9, VideoBitrateBps: 12_000_000},
	{Video: VideoCodecVP8, VideoBitrateBps: 12_000_000},
	{Video: VideoCodecH264, VideoBitrateBps: 12_000_000},
	{Video: VideoCodecMJPEG, VideoBitrateBps: 12_000_000},
}

// DefaultScreenTable is the capability table for the screen binding,
// with microphone audio muxed in. Moderate bitrate; the backend
// re-compresses.
var DefaultScreenTable = CapabilityTable{
	{Video: VideoCodecVP9, Audio: AudioCodecOpus, VideoBitrateBps: 6_000_000, AudioBitrateBps: 128_000},
	{Video: VideoCodecVP8, Audio: AudioCodecOpus, VideoBitrateBps: 6_000_000, AudioBitrateBps: 128_000},
	{Video: VideoCodecH264, Audio: AudioCodecAAC, VideoBitrateBps: 6_000_000, AudioBitrateBps: 128_000},
	{Video: VideoCodecMJPEG, Audio: AudioCodecPCM, VideoBitrateBps: 6_000_000, AudioBitrateBps: 128_000},
}

// WebcamTableWithAudio returns the webcam table with microphone audio
// muxed into each tier, for single-track sessions that have no screen
// binding.
func WebcamTableWithAudio() CapabilityTable {
	out := make(CapabilityTable, len(DefaultWebcamTable))
	copy(out, DefaultWebcamTable)
	for i := range out {
		switch out[i].Video {
		case VideoCodecH264:
			out[i].Audio = AudioCodecAAC
		case VideoCodecMJPEG:
			out[i].Audio = AudioCodecPCM
		default:
			out[i].Audio = AudioCodecOpus
		}
		out[i].AudioBitrateBps = 128_000
	}
	return out
}

// TrackBlob is one track's assembled recording.
type TrackBlob struct {
	Data     []byte
	MimeType string
	Chunks   int
}

// RecorderConfig configures a single track binding.
type RecorderConfig struct {
	// Name labels the binding in logs, e.g. "webcam" or "screen".
	Name string

	// Table is the ordered capability table, resolved once at
	// construction. Nil selects the screen table.
	Table CapabilityTable

	// Width, Height and FPS describe the coded video. Zero values are
	// filled from the video track's negotiated settings.
	Width  int
	Height int
	FPS    int

	// ChunkInterval is the media-time chunk granularity.
	ChunkInterval time.Duration

	Logger logrus.FieldLogger
}

// TrackRecorder encodes one video track, with optional muxed audio,
// into an append-only chunk buffer. Chunks are sealed at a fixed
// media-time granularity; concatenating them yields a single
// well-formed Matroska stream.
type TrackRecorder struct {
	config  RecorderConfig
	profile TrackProfile
	log     logrus.FieldLogger

	video VideoTrack
	audio AudioTrack

	buffer *ChunkBuffer
	mux    *MatroskaWriter
	venc   VideoEncoder
	aenc   AudioEncoder

	running   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	videoDone chan struct{}
	audioDone chan struct{}

	mu      sync.Mutex
	stopped bool

	// PTS of the first frame/samples seen, used to rebase both tracks
	// to a zero-based session timeline.
	videoBase int64
	haveVBase bool
	audioBase int64
	haveABase bool
	nextCut   int64

	videoFrames  atomic.Uint64
	audioPackets atomic.Uint64
}

// NewTrackRecorder creates a binding for the given tracks. The
// capability table is resolved immediately; audio tiers are dropped
// when no audio track is supplied.
func NewTrackRecorder(config RecorderConfig, video VideoTrack, audio AudioTrack) (*TrackRecorder, error) {
	if video == nil {
		return nil, errors.New("track recorder requires a video track")
	}
	if config.Table == nil {
		config.Table = DefaultScreenTable
	}
	if config.ChunkInterval <= 0 {
		config.ChunkInterval = DefaultChunkInterval
	}
	if config.FPS <= 0 {
		config.FPS = 30
	}
	settings := video.Settings()
	if config.Width <= 0 {
		config.Width = settings.Width
	}
	if config.Height <= 0 {
		config.Height = settings.Height
	}
	if config.Width <= 0 || config.Height <= 0 {
		config.Width = CanonicalWidth
		config.Height = CanonicalHeight
	}

	log := config.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	profile := config.Table.Select()
	if audio == nil {
		profile.Audio = AudioCodecUnknown
		profile.AudioBitrateBps = 0
	}

	r := &TrackRecorder{
		config:  config,
		profile: profile,
		log:     log.WithField("component", "recorder").WithField("track", config.Name),
		video:   video,
		audio:   audio,
		buffer:  NewChunkBuffer(),
		nextCut: int64(config.ChunkInterval),
	}

	vencConfig := DefaultVideoEncoderConfig(profile.Video, config.Width, config.Height)
	vencConfig.FPS = config.FPS
	if profile.VideoBitrateBps > 0 {
		vencConfig.BitrateBps = profile.VideoBitrateBps
	}
	venc, err := NewVideoEncoder(vencConfig)
	if err != nil {
		return nil, fmt.Errorf("create %s video encoder: %w", profile.Video, err)
	}
	r.venc = venc

	containerConfig := ContainerConfig{
		Video:  profile.Video,
		Width:  config.Width,
		Height: config.Height,
		FPS:    config.FPS,
		Logger: log,
	}

	if profile.Audio != AudioCodecUnknown {
		audioSettings := audio.Settings()
		aencConfig := DefaultAudioEncoderConfig(profile.Audio)
		if audioSettings.SampleRate > 0 {
			aencConfig.SampleRate = audioSettings.SampleRate
		}
		if audioSettings.ChannelCount > 0 {
			aencConfig.Channels = audioSettings.ChannelCount
		}
		if profile.AudioBitrateBps > 0 {
			aencConfig.BitrateBps = profile.AudioBitrateBps
		}
		aenc, err := NewAudioEncoder(aencConfig)
		if err != nil {
			venc.Close()
			return nil, fmt.Errorf("create %s audio encoder: %w", profile.Audio, err)
		}
		r.aenc = aenc

		containerConfig.Audio = profile.Audio
		containerConfig.SampleRate = aencConfig.SampleRate
		containerConfig.Channels = aencConfig.Channels
	}

	mux, err := NewMatroskaWriter(r.buffer, containerConfig)
	if err != nil {
		venc.Close()
		if r.aenc != nil {
			r.aenc.Close()
		}
		return nil, err
	}
	r.mux = mux

	r.log.WithField("mime", profile.MimeType()).Debug("negotiated codec profile")
	return r, nil
}

// Profile returns the negotiated codec profile.
func (r *TrackRecorder) Profile() TrackProfile {
	return r.profile
}

// MimeType returns the negotiated container MIME type.
func (r *TrackRecorder) MimeType() string {
	return r.profile.MimeType()
}

// Start begins pulling frames from the bound tracks.
func (r *TrackRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrRecorderStopped
	}
	r.mu.Unlock()

	if !r.running.CompareAndSwap(false, true) {
		return errors.New("track recorder already running")
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	r.videoDone = make(chan struct{})
	go r.videoLoop()
	if r.aenc != nil {
		r.audioDone = make(chan struct{})
		go r.audioLoop()
	}

	r.log.Debug("track recorder started")
	return nil
}

func (r *TrackRecorder) videoLoop() {
	defer close(r.videoDone)

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		frame, err := r.video.ReadFrame(r.ctx)
		if err != nil {
			if errors.Is(err, ErrSourceClosed) || r.ctx.Err() != nil {
				return
			}
			r.log.WithError(err).Debug("video read failed")
			continue
		}

		if err := r.encodeVideo(frame); err != nil {
			r.log.WithError(err).Warn("video encode failed")
		}
	}
}

func (r *TrackRecorder) encodeVideo(frame *VideoFrame) error {
	r.mu.Lock()
	if !r.haveVBase {
		r.videoBase = frame.Timestamp
		r.haveVBase = true
	}
	base := r.videoBase
	r.mu.Unlock()

	encoded, err := r.venc.Encode(frame)
	if err != nil {
		return err
	}
	if encoded == nil {
		return nil
	}
	encoded.PTS = frame.Timestamp - base

	if err := r.mux.WriteVideo(encoded); err != nil {
		return err
	}
	r.videoFrames.Add(1)

	r.mu.Lock()
	for encoded.PTS >= r.nextCut {
		r.buffer.Cut()
		r.nextCut += int64(r.config.ChunkInterval)
	}
	r.mu.Unlock()
	return nil
}

func (r *TrackRecorder) audioLoop() {
	defer close(r.audioDone)

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		samples, err := r.audio.ReadSamples(r.ctx)
		if err != nil {
			if errors.Is(err, ErrSourceClosed) || r.ctx.Err() != nil {
				return
			}
			r.log.WithError(err).Debug("audio read failed")
			continue
		}

		if err := r.encodeAudio(samples); err != nil {
			r.log.WithError(err).Warn("audio encode failed")
		}
	}
}

func (r *TrackRecorder) encodeAudio(samples *AudioSamples) error {
	r.mu.Lock()
	if !r.haveABase {
		r.audioBase = samples.Timestamp
		r.haveABase = true
	}
	base := r.audioBase
	r.mu.Unlock()

	rebased := *samples
	rebased.Timestamp -= base

	pkt, err := r.aenc.Encode(&rebased)
	if err != nil {
		return err
	}
	if pkt == nil {
		return nil
	}
	if err := r.mux.WriteAudio(pkt); err != nil {
		return err
	}
	r.audioPackets.Add(1)
	return nil
}

// Stop halts both encode loops, flushes trailing audio, finalizes the
// container, and seals the last chunk. Safe to call more than once.
func (r *TrackRecorder) Stop() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.mu.Unlock()

	if r.running.CompareAndSwap(true, false) {
		r.cancel()
		<-r.videoDone
		if r.audioDone != nil {
			<-r.audioDone
		}
	}

	var result error
	if r.aenc != nil {
		if pkt, err := r.aenc.Flush(); err != nil {
			result = multierror.Append(result, fmt.Errorf("flush audio: %w", err))
		} else if pkt != nil {
			if err := r.mux.WriteAudio(pkt); err != nil {
				result = multierror.Append(result, err)
			} else {
				r.audioPackets.Add(1)
			}
		}
	}
	if err := r.mux.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	r.buffer.Cut()

	if err := r.venc.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if r.aenc != nil {
		if err := r.aenc.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	r.log.WithFields(logrus.Fields{
		"frames": r.videoFrames.Load(),
		"chunks": r.buffer.ChunkCount(),
		"bytes":  r.buffer.Size(),
	}).Debug("track recorder stopped")
	return result
}

// Blob concatenates the sealed chunks into the final tagged blob.
// Call after Stop.
func (r *TrackRecorder) Blob() TrackBlob {
	return TrackBlob{
		Data:     r.buffer.Concat(),
		MimeType: r.profile.MimeType(),
		Chunks:   r.buffer.ChunkCount(),
	}
}

// HasFootage reports whether any media blocks were written.
func (r *TrackRecorder) HasFootage() bool {
	return r.videoFrames.Load() > 0 || r.audioPackets.Load() > 0
}

// VideoFrames returns the number of encoded video frames.
func (r *TrackRecorder) VideoFrames() uint64 {
	return r.videoFrames.Load()
}

// AudioPackets returns the number of written audio packets.
func (r *TrackRecorder) AudioPackets() uint64 {
	return r.audioPackets.Load()
}
