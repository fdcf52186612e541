package capture

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

// PatternType selects the synthetic video pattern.
type PatternType int

const (
	PatternColorBars    PatternType = iota // SMPTE-style color bars
	PatternGradient                        // Horizontal luma gradient
	PatternCheckerboard                    // Checkerboard
	PatternSolidColor                      // Single flat color
	PatternNoise                           // Grayscale noise
	PatternMovingBox                       // Animated box on black
)

func (p PatternType) String() string {
	switch p {
	case PatternColorBars:
		return "ColorBars"
	case PatternGradient:
		return "Gradient"
	case PatternCheckerboard:
		return "Checkerboard"
	case PatternSolidColor:
		return "SolidColor"
	case PatternNoise:
		return "Noise"
	case PatternMovingBox:
		return "MovingBox"
	default:
		return "Unknown"
	}
}

// SyntheticVideoConfig configures a synthetic video source.
type SyntheticVideoConfig struct {
	Width       int         // Frame width (default 1280)
	Height      int         // Frame height (default 720)
	FPS         int         // Frames per second (default 30)
	Pattern     PatternType // Pattern to generate (default color bars)
	Solid       RGBColor    // Color for PatternSolidColor
	CheckerSize int         // Checker square size (default 32)
	Clock       clock.WithTicker
}

// DefaultSyntheticVideoConfig returns the default synthetic video
// configuration.
func DefaultSyntheticVideoConfig() SyntheticVideoConfig {
	return SyntheticVideoConfig{
		Width:       1280,
		Height:      720,
		FPS:         30,
		Pattern:     PatternColorBars,
		CheckerSize: 32,
	}
}

// SyntheticVideoSource generates video frames without any hardware. It
// stands in for a camera or display in headless runs and tests.
type SyntheticVideoSource struct {
	config SyntheticVideoConfig
	clk    clock.WithTicker

	// Double-buffered output. A handed-out frame stays intact until the
	// second-next tick.
	frames   [2]*VideoFrame
	frameIdx int

	frameDuration time.Duration
	frameCount    uint64
	startTime     time.Time
	rngState      uint64

	running  atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	frameCh  chan *VideoFrame
	doneCh   chan struct{}
	callback VideoFrameCallback

	mu sync.RWMutex
}

// NewSyntheticVideoSource creates a synthetic video source.
func NewSyntheticVideoSource(config SyntheticVideoConfig) *SyntheticVideoSource {
	if config.Width <= 0 {
		config.Width = 1280
	}
	if config.Height <= 0 {
		config.Height = 720
	}
	if config.FPS <= 0 {
		config.FPS = 30
	}
	if config.CheckerSize <= 0 {
		config.CheckerSize = 32
	}
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}
	config.Width = (config.Width + 1) &^ 1
	config.Height = (config.Height + 1) &^ 1

	s := &SyntheticVideoSource{
		config:        config,
		clk:           config.Clock,
		frameDuration: time.Second / time.Duration(config.FPS),
		frameCh:       make(chan *VideoFrame, 2),
		rngState:      uint64(time.Now().UnixNano()) | 1,
	}
	s.frames[0] = NewI420Frame(config.Width, config.Height)
	s.frames[1] = NewI420Frame(config.Width, config.Height)
	return s
}

// Start begins generating frames.
func (s *SyntheticVideoSource) Start(ctx context.Context) error {
	if s.running.Load() {
		return errors.New("source already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.doneCh = make(chan struct{})
	s.running.Store(true)
	s.startTime = s.clk.Now()
	s.frameCount = 0

	go s.generateLoop()
	return nil
}

// Stop halts generation and waits for the loop to exit.
func (s *SyntheticVideoSource) Stop() error {
	if !s.running.Load() {
		return nil
	}

	s.running.Store(false)
	if s.cancel != nil {
		s.cancel()
	}
	if s.doneCh != nil {
		<-s.doneCh
	}
	return nil
}

// Close stops the source and releases its buffers.
func (s *SyntheticVideoSource) Close() error {
	s.Stop()
	s.mu.Lock()
	if s.frameCh != nil {
		close(s.frameCh)
		s.frameCh = nil
	}
	s.mu.Unlock()
	return nil
}

// ReadFrame reads the next generated frame.
func (s *SyntheticVideoSource) ReadFrame(ctx context.Context) (*VideoFrame, error) {
	s.mu.RLock()
	ch := s.frameCh
	s.mu.RUnlock()
	if ch == nil {
		return nil, ErrSourceClosed
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case frame, ok := <-ch:
		if !ok {
			return nil, ErrSourceClosed
		}
		return frame, nil
	}
}

// SetCallback sets the push-mode callback for frame delivery.
func (s *SyntheticVideoSource) SetCallback(cb VideoFrameCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = cb
}

// Config returns the source configuration.
func (s *SyntheticVideoSource) Config() SourceConfig {
	return SourceConfig{
		Width:      s.config.Width,
		Height:     s.config.Height,
		FPS:        s.config.FPS,
		Format:     PixelFormatI420,
		SourceType: SourceTypeSynthetic,
	}
}

func (s *SyntheticVideoSource) generateLoop() {
	defer close(s.doneCh)

	ticker := s.clk.NewTicker(s.frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C():
			s.frameCount++

			frame := s.frames[s.frameIdx]
			s.frameIdx = (s.frameIdx + 1) % 2
			s.draw(frame, s.frameCount)

			frame.Timestamp = s.clk.Since(s.startTime).Nanoseconds()
			frame.Duration = s.frameDuration.Nanoseconds()

			s.mu.RLock()
			cb := s.callback
			ch := s.frameCh
			s.mu.RUnlock()

			if cb != nil {
				cb(frame)
				continue
			}
			if ch == nil {
				return
			}
			select {
			case ch <- frame:
			default:
				// Consumer not keeping up; drop.
			}
		}
	}
}

func (s *SyntheticVideoSource) draw(frame *VideoFrame, frameNum uint64) {
	switch s.config.Pattern {
	case PatternGradient:
		drawGradient(frame)
	case PatternCheckerboard:
		drawCheckerboard(frame, s.config.CheckerSize)
	case PatternSolidColor:
		clearI420(frame, yuvFromRGB(s.config.Solid))
	case PatternNoise:
		s.drawNoise(frame)
	case PatternMovingBox:
		drawMovingBox(frame, frameNum)
	default:
		drawColorBars(frame)
	}
}

// Simplified 8-bar pattern at 75% levels.
var colorBars = [8]RGBColor{
	{R: 192, G: 192, B: 192},
	{R: 192, G: 192, B: 0},
	{R: 0, G: 192, B: 192},
	{R: 0, G: 192, B: 0},
	{R: 192, G: 0, B: 192},
	{R: 192, G: 0, B: 0},
	{R: 0, G: 0, B: 192},
	{R: 16, G: 16, B: 16},
}

func drawColorBars(f *VideoFrame) {
	var bars [8]yuvColor
	for i, c := range colorBars {
		bars[i] = yuvFromRGB(c)
	}

	w, h := f.Width, f.Height
	barWidth := w / 8
	if barWidth == 0 {
		barWidth = 1
	}

	for y := 0; y < h; y++ {
		row := f.Data[0][y*f.Stride[0]:]
		for x := 0; x < w; x++ {
			idx := min(x/barWidth, 7)
			row[x] = bars[idx].y
		}
	}
	for y := 0; y < h/2; y++ {
		uRow := f.Data[1][y*f.Stride[1]:]
		vRow := f.Data[2][y*f.Stride[2]:]
		for x := 0; x < w/2; x++ {
			idx := min(x*2/barWidth, 7)
			uRow[x] = bars[idx].u
			vRow[x] = bars[idx].v
		}
	}
}

func drawGradient(f *VideoFrame) {
	w, h := f.Width, f.Height
	for y := 0; y < h; y++ {
		row := f.Data[0][y*f.Stride[0]:]
		for x := 0; x < w; x++ {
			row[x] = uint8(x * 255 / w)
		}
	}
	fillChromaNeutral(f)
}

func drawCheckerboard(f *VideoFrame, size int) {
	w, h := f.Width, f.Height
	for y := 0; y < h; y++ {
		row := f.Data[0][y*f.Stride[0]:]
		for x := 0; x < w; x++ {
			if ((x/size)+(y/size))%2 == 0 {
				row[x] = 235
			} else {
				row[x] = 16
			}
		}
	}
	fillChromaNeutral(f)
}

func (s *SyntheticVideoSource) drawNoise(f *VideoFrame) {
	// xorshift64 keeps this fast enough to run per tick.
	state := s.rngState
	plane := f.Data[0]
	for y := 0; y < f.Height; y++ {
		row := plane[y*f.Stride[0] : y*f.Stride[0]+f.Width]
		for x := range row {
			state ^= state << 13
			state ^= state >> 7
			state ^= state << 17
			row[x] = uint8(state)
		}
	}
	s.rngState = state
	fillChromaNeutral(f)
}

func drawMovingBox(f *VideoFrame, frameNum uint64) {
	clearI420(f, yuvBlack)

	w, h := f.Width, f.Height
	boxSize := min(w, h) / 5
	radius := float64(min(w, h)) / 4
	angle := float64(frameNum) * 0.05

	boxX := w/2 + int(radius*math.Cos(angle)) - boxSize/2
	boxY := h/2 + int(radius*math.Sin(angle)) - boxSize/2

	for y := max(boxY, 0); y < boxY+boxSize && y < h; y++ {
		row := f.Data[0][y*f.Stride[0]:]
		for x := max(boxX, 0); x < boxX+boxSize && x < w; x++ {
			row[x] = 235
		}
	}
}

func fillChromaNeutral(f *VideoFrame) {
	for y := 0; y < f.Height/2; y++ {
		uRow := f.Data[1][y*f.Stride[1] : y*f.Stride[1]+f.Width/2]
		vRow := f.Data[2][y*f.Stride[2] : y*f.Stride[2]+f.Width/2]
		for x := range uRow {
			uRow[x] = 128
			vRow[x] = 128
		}
	}
}

// SyntheticAudioConfig configures a synthetic audio source.
type SyntheticAudioConfig struct {
	SampleRate int     // Default 48000
	Channels   int     // Default 1
	Frequency  float64 // Tone frequency in Hz (default 440, 0 = silence)
	Amplitude  float64 // 0..1 (default 0.2)
	PacketMs   int     // Packet duration in milliseconds (default 10)
	Clock      clock.WithTicker
}

// DefaultSyntheticAudioConfig returns the default synthetic audio
// configuration.
func DefaultSyntheticAudioConfig() SyntheticAudioConfig {
	return SyntheticAudioConfig{
		SampleRate: 48000,
		Channels:   1,
		Frequency:  440,
		Amplitude:  0.2,
		PacketMs:   10,
	}
}

// SyntheticAudioSource generates a sine tone in S16 PCM. It stands in
// for a microphone in headless runs and tests.
type SyntheticAudioSource struct {
	config           SyntheticAudioConfig
	clk              clock.WithTicker
	samplesPerPacket int
	phase            float64
	samplesSent      uint64

	running  atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	sampleCh chan *AudioSamples
	doneCh   chan struct{}
	callback AudioSamplesCallback

	mu sync.RWMutex
}

// NewSyntheticAudioSource creates a synthetic audio source.
func NewSyntheticAudioSource(config SyntheticAudioConfig) *SyntheticAudioSource {
	if config.SampleRate <= 0 {
		config.SampleRate = 48000
	}
	if config.Channels <= 0 {
		config.Channels = 1
	}
	if config.Amplitude <= 0 || config.Amplitude > 1 {
		config.Amplitude = 0.2
	}
	if config.PacketMs <= 0 {
		config.PacketMs = 10
	}
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}

	return &SyntheticAudioSource{
		config:           config,
		clk:              config.Clock,
		samplesPerPacket: config.SampleRate * config.PacketMs / 1000,
		sampleCh:         make(chan *AudioSamples, 4),
	}
}

// Start begins generating samples.
func (s *SyntheticAudioSource) Start(ctx context.Context) error {
	if s.running.Load() {
		return errors.New("source already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.doneCh = make(chan struct{})
	s.running.Store(true)
	s.samplesSent = 0
	s.phase = 0

	go s.generateLoop()
	return nil
}

// Stop halts generation and waits for the loop to exit.
func (s *SyntheticAudioSource) Stop() error {
	if !s.running.Load() {
		return nil
	}

	s.running.Store(false)
	if s.cancel != nil {
		s.cancel()
	}
	if s.doneCh != nil {
		<-s.doneCh
	}
	return nil
}

// Close stops the source.
func (s *SyntheticAudioSource) Close() error {
	s.Stop()
	s.mu.Lock()
	if s.sampleCh != nil {
		close(s.sampleCh)
		s.sampleCh = nil
	}
	s.mu.Unlock()
	return nil
}

// ReadSamples reads the next generated packet.
func (s *SyntheticAudioSource) ReadSamples(ctx context.Context) (*AudioSamples, error) {
	s.mu.RLock()
	ch := s.sampleCh
	s.mu.RUnlock()
	if ch == nil {
		return nil, ErrSourceClosed
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case samples, ok := <-ch:
		if !ok {
			return nil, ErrSourceClosed
		}
		return samples, nil
	}
}

// SetCallback sets the push-mode callback for sample delivery.
func (s *SyntheticAudioSource) SetCallback(cb AudioSamplesCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = cb
}

// SampleRate returns the configured sample rate.
func (s *SyntheticAudioSource) SampleRate() int { return s.config.SampleRate }

// Channels returns the configured channel count.
func (s *SyntheticAudioSource) Channels() int { return s.config.Channels }

func (s *SyntheticAudioSource) generateLoop() {
	defer close(s.doneCh)

	interval := time.Duration(s.config.PacketMs) * time.Millisecond
	ticker := s.clk.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C():
			samples := s.generatePacket()

			s.mu.RLock()
			cb := s.callback
			ch := s.sampleCh
			s.mu.RUnlock()

			if cb != nil {
				cb(samples)
				continue
			}
			if ch == nil {
				return
			}
			select {
			case ch <- samples:
			default:
			}
		}
	}
}

func (s *SyntheticAudioSource) generatePacket() *AudioSamples {
	n := s.samplesPerPacket
	channels := s.config.Channels
	data := make([]byte, n*channels*2)

	step := 2 * math.Pi * s.config.Frequency / float64(s.config.SampleRate)
	scale := s.config.Amplitude * 32767

	for i := 0; i < n; i++ {
		var value int16
		if s.config.Frequency > 0 {
			value = int16(math.Sin(s.phase) * scale)
			s.phase += step
			if s.phase > 2*math.Pi {
				s.phase -= 2 * math.Pi
			}
		}
		for c := 0; c < channels; c++ {
			idx := (i*channels + c) * 2
			data[idx] = byte(value)
			data[idx+1] = byte(uint16(value) >> 8)
		}
	}

	pts := int64(s.samplesSent) * 1e9 / int64(s.config.SampleRate)
	s.samplesSent += uint64(n)

	return &AudioSamples{
		Data:        data,
		SampleRate:  s.config.SampleRate,
		Channels:    channels,
		SampleCount: n,
		Format:      AudioFormatS16,
		Timestamp:   pts,
	}
}

// SyntheticProviderConfig configures the synthetic device provider.
type SyntheticProviderConfig struct {
	// CameraMaxWidth rejects camera constraints wider than this,
	// simulating a lower-grade device. 0 accepts any request.
	CameraMaxWidth int

	// Deny flags make the corresponding open fail with
	// ErrPermissionDenied.
	DenyCamera     bool
	DenyMicrophone bool
	DenyDisplay    bool

	// DisplayAudio controls whether display audio capture is offered.
	DisplayAudio bool

	CameraPattern  PatternType
	DisplayPattern PatternType

	Clock clock.WithTicker
}

// DefaultSyntheticProviderConfig returns a provider configuration with
// every device available.
func DefaultSyntheticProviderConfig() SyntheticProviderConfig {
	return SyntheticProviderConfig{
		DisplayAudio:   true,
		CameraPattern:  PatternMovingBox,
		DisplayPattern: PatternCheckerboard,
	}
}

const (
	syntheticCameraID = "synthetic-camera"
	syntheticMicID    = "synthetic-microphone"
)

// SyntheticProvider implements DeviceProvider entirely in software. It
// backs headless runs and lets tests exercise permission refusals,
// constraint fallback and external stream revocation.
type SyntheticProvider struct {
	config SyntheticProviderConfig

	mu           sync.Mutex
	camera       *SourceVideoTrack
	microphone   *SourceAudioTrack
	display      *SourceVideoTrack
	displayAudio *SourceAudioTrack
}

// NewSyntheticProvider creates a synthetic device provider.
func NewSyntheticProvider(config SyntheticProviderConfig) *SyntheticProvider {
	return &SyntheticProvider{config: config}
}

// ListVideoDevices returns the synthetic camera.
func (p *SyntheticProvider) ListVideoDevices(ctx context.Context) ([]DeviceInfo, error) {
	return []DeviceInfo{
		{DeviceID: syntheticCameraID, Kind: DeviceKindVideoInput, Label: "Synthetic Camera"},
	}, nil
}

// ListAudioInputDevices returns the synthetic microphone.
func (p *SyntheticProvider) ListAudioInputDevices(ctx context.Context) ([]DeviceInfo, error) {
	return []DeviceInfo{
		{DeviceID: syntheticMicID, Kind: DeviceKindAudioInput, Label: "Synthetic Microphone"},
	}, nil
}

// OpenVideoDevice opens the synthetic camera.
func (p *SyntheticProvider) OpenVideoDevice(ctx context.Context, deviceID string, constraints *VideoConstraints) (VideoTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.config.DenyCamera {
		return nil, ErrPermissionDenied
	}

	var c VideoConstraints
	if constraints != nil {
		c = *constraints
	}
	if p.config.CameraMaxWidth > 0 && c.Width > p.config.CameraMaxWidth {
		return nil, fmt.Errorf("requested %dx%d exceeds device capability", c.Width, c.Height)
	}
	if c.Width <= 0 {
		c.Width = 640
	}
	if c.Height <= 0 {
		c.Height = 480
	}
	if c.FrameRate <= 0 {
		c.FrameRate = 30
	}

	source := NewSyntheticVideoSource(SyntheticVideoConfig{
		Width:   c.Width,
		Height:  c.Height,
		FPS:     c.FrameRate,
		Pattern: p.config.CameraPattern,
		Clock:   p.config.Clock,
	})
	if err := source.Start(context.Background()); err != nil {
		return nil, err
	}

	track := NewSourceVideoTrack(uuid.NewString(), "Synthetic Camera", source, VideoTrackSettings{
		Width:     c.Width,
		Height:    c.Height,
		FrameRate: c.FrameRate,
		DeviceID:  syntheticCameraID,
	})

	p.mu.Lock()
	p.camera = track
	p.mu.Unlock()
	return track, nil
}

// OpenAudioDevice opens the synthetic microphone.
func (p *SyntheticProvider) OpenAudioDevice(ctx context.Context, deviceID string, constraints *AudioConstraints) (AudioTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.config.DenyMicrophone {
		return nil, ErrPermissionDenied
	}

	var c AudioConstraints
	if constraints != nil {
		c = *constraints
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 48000
	}
	if c.ChannelCount <= 0 {
		c.ChannelCount = 1
	}

	cfg := DefaultSyntheticAudioConfig()
	cfg.SampleRate = c.SampleRate
	cfg.Channels = c.ChannelCount
	cfg.Clock = p.config.Clock

	source := NewSyntheticAudioSource(cfg)
	if err := source.Start(context.Background()); err != nil {
		return nil, err
	}

	track := NewSourceAudioTrack(uuid.NewString(), "Synthetic Microphone", source, AudioTrackSettings{
		SampleRate:       c.SampleRate,
		ChannelCount:     c.ChannelCount,
		DeviceID:         syntheticMicID,
		EchoCancellation: c.EchoCancellation,
		NoiseSuppression: c.NoiseSuppression,
		AutoGainControl:  c.AutoGainControl,
	})

	p.mu.Lock()
	p.microphone = track
	p.mu.Unlock()
	return track, nil
}

// CaptureDisplay opens the synthetic display.
func (p *SyntheticProvider) CaptureDisplay(ctx context.Context, options DisplayVideoOptions) (VideoTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.config.DenyDisplay {
		return nil, ErrPermissionDenied
	}

	width := options.Width
	height := options.Height
	fps := options.FrameRate
	if width <= 0 {
		width = CanonicalWidth
	}
	if height <= 0 {
		height = CanonicalHeight
	}
	if fps <= 0 {
		fps = 30
	}

	source := NewSyntheticVideoSource(SyntheticVideoConfig{
		Width:   width,
		Height:  height,
		FPS:     fps,
		Pattern: p.config.DisplayPattern,
		Clock:   p.config.Clock,
	})
	if err := source.Start(context.Background()); err != nil {
		return nil, err
	}

	track := NewSourceVideoTrack(uuid.NewString(), "Synthetic Display", source, VideoTrackSettings{
		Width:     width,
		Height:    height,
		FrameRate: fps,
	})

	p.mu.Lock()
	p.display = track
	p.mu.Unlock()
	return track, nil
}

// CaptureDisplayAudio opens synthetic display audio.
func (p *SyntheticProvider) CaptureDisplayAudio(ctx context.Context) (AudioTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !p.config.DisplayAudio {
		return nil, errors.New("display audio not available")
	}

	cfg := DefaultSyntheticAudioConfig()
	cfg.Frequency = 330
	cfg.Channels = 2
	cfg.Clock = p.config.Clock

	source := NewSyntheticAudioSource(cfg)
	if err := source.Start(context.Background()); err != nil {
		return nil, err
	}

	track := NewSourceAudioTrack(uuid.NewString(), "Synthetic Display Audio", source, AudioTrackSettings{
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.Channels,
	})

	p.mu.Lock()
	p.displayAudio = track
	p.mu.Unlock()
	return track, nil
}

// RevokeCamera ends the most recently opened camera track from outside,
// as if the device were unplugged.
func (p *SyntheticProvider) RevokeCamera() {
	p.mu.Lock()
	track := p.camera
	p.camera = nil
	p.mu.Unlock()
	if track != nil {
		track.Close()
	}
}

// RevokeMicrophone ends the most recently opened microphone track.
func (p *SyntheticProvider) RevokeMicrophone() {
	p.mu.Lock()
	track := p.microphone
	p.microphone = nil
	p.mu.Unlock()
	if track != nil {
		track.Close()
	}
}

// RevokeDisplay ends the most recently opened display track, as if the
// user stopped sharing their screen.
func (p *SyntheticProvider) RevokeDisplay() {
	p.mu.Lock()
	track := p.display
	audio := p.displayAudio
	p.display = nil
	p.displayAudio = nil
	p.mu.Unlock()
	if track != nil {
		track.Close()
	}
	if audio != nil {
		audio.Close()
	}
}

func init() {
	RegisterVideoSource(SourceTypeSynthetic, func(config interface{}) (VideoSource, error) {
		cfg, ok := config.(*SyntheticVideoConfig)
		if !ok {
			def := DefaultSyntheticVideoConfig()
			cfg = &def
		}
		return NewSyntheticVideoSource(*cfg), nil
	})
	RegisterAudioSource(SourceTypeSynthetic, func(config interface{}) (AudioSource, error) {
		cfg, ok := config.(*SyntheticAudioConfig)
		if !ok {
			def := DefaultSyntheticAudioConfig()
			cfg = &def
		}
		return NewSyntheticAudioSource(*cfg), nil
	})
}
