package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// Device acquisition errors.
var (
	// ErrPermissionDenied means the user or platform refused access.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrDeviceUnavailable means no device could be opened after every
	// constraint tier was tried.
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrStreamEnded means a live source was revoked outside the
	// application, e.g. the user stopped sharing their screen.
	ErrStreamEnded = errors.New("stream ended externally")
)

// DeviceKind represents the type of media device.
type DeviceKind int

const (
	DeviceKindVideoInput  DeviceKind = iota // Camera
	DeviceKindAudioInput                    // Microphone
	DeviceKindAudioOutput                   // Speaker/headphones
)

func (k DeviceKind) String() string {
	switch k {
	case DeviceKindVideoInput:
		return "videoinput"
	case DeviceKindAudioInput:
		return "audioinput"
	case DeviceKindAudioOutput:
		return "audiooutput"
	default:
		return "unknown"
	}
}

// DeviceInfo describes a media device.
type DeviceInfo struct {
	DeviceID string     // Unique identifier for the device
	GroupID  string     // Group identifier (devices with same groupID belong together)
	Kind     DeviceKind // Device type
	Label    string     // Human-readable device name
}

// DisplayMediaOptions configures display capture.
type DisplayMediaOptions struct {
	Video DisplayVideoOptions
	Audio bool // Request audio from display
}

// DisplayVideoOptions configures display capture video.
type DisplayVideoOptions struct {
	DisplaySurface string // "monitor", "window", "browser"
	Cursor         string // "always", "motion", "never"
	Width          int    // Requested width
	Height         int    // Requested height
	FrameRate      int    // Requested framerate
}

// VideoConstraints describe a requested camera configuration. Zero
// values leave the choice to the device.
type VideoConstraints struct {
	DeviceID   string
	Width      int
	Height     int
	FrameRate  int
	FacingMode string // "user" or "environment"
}

// AudioConstraints describe a requested microphone configuration.
type AudioConstraints struct {
	DeviceID         string
	SampleRate       int
	ChannelCount     int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DeviceProvider is implemented by platform-specific device implementations.
type DeviceProvider interface {
	// ListVideoDevices returns available video input devices.
	ListVideoDevices(ctx context.Context) ([]DeviceInfo, error)

	// ListAudioInputDevices returns available audio input devices.
	ListAudioInputDevices(ctx context.Context) ([]DeviceInfo, error)

	// OpenVideoDevice opens a video input device.
	OpenVideoDevice(ctx context.Context, deviceID string, constraints *VideoConstraints) (VideoTrack, error)

	// OpenAudioDevice opens an audio input device.
	OpenAudioDevice(ctx context.Context, deviceID string, constraints *AudioConstraints) (AudioTrack, error)

	// CaptureDisplay captures the screen/window.
	CaptureDisplay(ctx context.Context, options DisplayVideoOptions) (VideoTrack, error)

	// CaptureDisplayAudio captures display audio (if available).
	CaptureDisplayAudio(ctx context.Context) (AudioTrack, error)
}

// deviceRegistry holds the registered device provider.
type deviceRegistry struct {
	provider DeviceProvider
	mu       sync.RWMutex
}

var globalDeviceRegistry = &deviceRegistry{}

// RegisterDeviceProvider registers a platform-specific device provider.
func RegisterDeviceProvider(provider DeviceProvider) {
	globalDeviceRegistry.mu.Lock()
	defer globalDeviceRegistry.mu.Unlock()
	globalDeviceRegistry.provider = provider
}

// GetDeviceProvider returns the registered device provider.
func GetDeviceProvider() DeviceProvider {
	globalDeviceRegistry.mu.RLock()
	defer globalDeviceRegistry.mu.RUnlock()
	return globalDeviceRegistry.provider
}

// SourceKind identifies what a MediaSource captures.
type SourceKind int

const (
	SourceKindCamera SourceKind = iota
	SourceKindMicrophone
	SourceKindDisplay
)

func (k SourceKind) String() string {
	switch k {
	case SourceKindCamera:
		return "camera"
	case SourceKindMicrophone:
		return "microphone"
	case SourceKindDisplay:
		return "display"
	default:
		return "unknown"
	}
}

// MediaSource is a live capture handle: its tracks plus the negotiated
// settings. Sources are owned by the DeviceManager that acquired them;
// consumers borrow the tracks and must not close them.
type MediaSource struct {
	id       string
	kind     SourceKind
	video    VideoTrack
	audio    AudioTrack
	released atomic.Bool
}

// ID returns the unique source identifier.
func (s *MediaSource) ID() string { return s.id }

// Kind returns what the source captures.
func (s *MediaSource) Kind() SourceKind { return s.kind }

// Video returns the video track, or nil for audio-only sources.
func (s *MediaSource) Video() VideoTrack { return s.video }

// Audio returns the audio track, or nil when the source has none.
func (s *MediaSource) Audio() AudioTrack { return s.audio }

// VideoSettings returns the negotiated video settings.
func (s *MediaSource) VideoSettings() (VideoTrackSettings, bool) {
	if s.video == nil {
		return VideoTrackSettings{}, false
	}
	return s.video.Settings(), true
}

// AudioSettings returns the negotiated audio settings.
func (s *MediaSource) AudioSettings() (AudioTrackSettings, bool) {
	if s.audio == nil {
		return AudioTrackSettings{}, false
	}
	return s.audio.Settings(), true
}

// Live reports whether every track of the source is still live.
func (s *MediaSource) Live() bool {
	if s.released.Load() {
		return false
	}
	if s.video != nil && s.video.State() != TrackStateLive {
		return false
	}
	if s.audio != nil && s.audio.State() != TrackStateLive {
		return false
	}
	return true
}

// Stream wraps the source's tracks in a MediaStream.
func (s *MediaSource) Stream() MediaStream {
	stream := NewMediaStream(s.id)
	if s.video != nil {
		stream.AddTrack(s.video)
	}
	if s.audio != nil {
		stream.AddTrack(s.audio)
	}
	return stream
}

func (s *MediaSource) close() error {
	s.released.Store(true)
	var result error
	if s.video != nil {
		if err := s.video.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if s.audio != nil {
		if err := s.audio.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// defaultCameraTiers is the constraint fallback ladder, best first.
// A tier that fails to open falls through to the next; the final
// unconstrained tier accepts whatever the device offers.
var defaultCameraTiers = []VideoConstraints{
	{Width: 1920, Height: 1080, FrameRate: 30},
	{Width: 1280, Height: 720, FrameRate: 30},
	{},
}

// defaultMicrophoneConstraints request voice-processed mono capture.
var defaultMicrophoneConstraints = AudioConstraints{
	SampleRate:       48000,
	ChannelCount:     1,
	EchoCancellation: true,
	NoiseSuppression: true,
	AutoGainControl:  true,
}

// DeviceManagerConfig configures a DeviceManager.
type DeviceManagerConfig struct {
	// Provider supplies device access. Nil uses the registered global
	// provider.
	Provider DeviceProvider

	// CameraTiers overrides the camera constraint fallback ladder.
	CameraTiers []VideoConstraints

	Logger logrus.FieldLogger
}

// DeviceManager acquires and owns capture sources. Camera acquisition
// walks a tiered constraint ladder; the microphone is opened with echo
// cancellation, noise suppression and auto gain; display capture is
// only valid in response to an explicit user action.
type DeviceManager struct {
	provider DeviceProvider
	tiers    []VideoConstraints
	log      logrus.FieldLogger

	mu         sync.Mutex
	camera     *MediaSource
	microphone *MediaSource
	display    *MediaSource
	endedCb    func(SourceKind)
}

// NewDeviceManager creates a device manager.
func NewDeviceManager(config DeviceManagerConfig) (*DeviceManager, error) {
	provider := config.Provider
	if provider == nil {
		provider = GetDeviceProvider()
	}
	if provider == nil {
		return nil, errors.New("no device provider registered")
	}

	tiers := config.CameraTiers
	if tiers == nil {
		tiers = defaultCameraTiers
	}

	log := config.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &DeviceManager{
		provider: provider,
		tiers:    tiers,
		log:      log.WithField("component", "devices"),
	}, nil
}

// OnStreamEnded registers a callback fired when an acquired source ends
// outside the manager's control, e.g. the user revokes screen sharing.
func (m *DeviceManager) OnStreamEnded(cb func(SourceKind)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endedCb = cb
}

// AcquireCamera opens the default camera, walking the constraint tiers
// from best to least demanding. A permission refusal aborts
// immediately; any other failure falls through to the next tier.
func (m *DeviceManager) AcquireCamera(ctx context.Context) (*MediaSource, error) {
	var lastErr error
	for i, tier := range m.tiers {
		tier := tier
		track, err := m.provider.OpenVideoDevice(ctx, tier.DeviceID, &tier)
		if err == nil {
			settings := track.Settings()
			m.log.WithFields(logrus.Fields{
				"tier":   i,
				"width":  settings.Width,
				"height": settings.Height,
				"fps":    settings.FrameRate,
			}).Debug("camera acquired")
			return m.adopt(SourceKindCamera, track, nil), nil
		}
		if errors.Is(err, ErrPermissionDenied) {
			return nil, fmt.Errorf("open camera: %w", err)
		}
		m.log.WithError(err).WithField("tier", i).Debug("camera tier failed")
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no constraint tiers configured")
	}
	return nil, fmt.Errorf("open camera: %w: %v", ErrDeviceUnavailable, lastErr)
}

// AcquireMicrophone opens the default microphone with echo
// cancellation, noise suppression and auto gain at 48kHz mono.
func (m *DeviceManager) AcquireMicrophone(ctx context.Context) (*MediaSource, error) {
	constraints := defaultMicrophoneConstraints
	track, err := m.provider.OpenAudioDevice(ctx, constraints.DeviceID, &constraints)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return nil, fmt.Errorf("open microphone: %w", err)
		}
		return nil, fmt.Errorf("open microphone: %w: %v", ErrDeviceUnavailable, err)
	}
	m.log.Debug("microphone acquired")
	return m.adopt(SourceKindMicrophone, nil, track), nil
}

// AcquireDisplay starts display capture with audio when available.
// Callers must invoke this in direct response to a user action; the
// platform refuses unsolicited capture with ErrPermissionDenied.
func (m *DeviceManager) AcquireDisplay(ctx context.Context, options DisplayMediaOptions) (*MediaSource, error) {
	video, err := m.provider.CaptureDisplay(ctx, options.Video)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return nil, fmt.Errorf("capture display: %w", err)
		}
		return nil, fmt.Errorf("capture display: %w: %v", ErrDeviceUnavailable, err)
	}

	var audio AudioTrack
	if options.Audio {
		audio, err = m.provider.CaptureDisplayAudio(ctx)
		if err != nil {
			// Display audio is best-effort, matching platform behavior.
			m.log.WithError(err).Debug("display audio unavailable")
			audio = nil
		}
	}

	m.log.Debug("display capture acquired")
	return m.adopt(SourceKindDisplay, video, audio), nil
}

// adopt wraps tracks in a MediaSource, stores it, and hooks external
// end signals.
func (m *DeviceManager) adopt(kind SourceKind, video VideoTrack, audio AudioTrack) *MediaSource {
	source := &MediaSource{
		id:    uuid.NewString(),
		kind:  kind,
		video: video,
		audio: audio,
	}

	m.mu.Lock()
	switch kind {
	case SourceKindCamera:
		m.camera = source
	case SourceKindMicrophone:
		m.microphone = source
	case SourceKindDisplay:
		m.display = source
	}
	m.mu.Unlock()

	notify := func() { m.handleEnded(source) }
	if video != nil {
		video.OnEnded(notify)
	}
	if audio != nil {
		audio.OnEnded(notify)
	}
	return source
}

func (m *DeviceManager) handleEnded(source *MediaSource) {
	// A release initiated through the manager also ends the tracks;
	// only externally revoked sources are surfaced.
	if source.released.Swap(true) {
		return
	}

	m.log.WithField("kind", source.kind).Warn("source ended externally")

	m.mu.Lock()
	cb := m.endedCb
	m.mu.Unlock()
	if cb != nil {
		cb(source.kind)
	}
}

// Camera returns the acquired camera source, or nil.
func (m *DeviceManager) Camera() *MediaSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.camera
}

// Microphone returns the acquired microphone source, or nil.
func (m *DeviceManager) Microphone() *MediaSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.microphone
}

// Display returns the acquired display source, or nil.
func (m *DeviceManager) Display() *MediaSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.display
}

// ReleaseCamera closes and forgets the camera source.
func (m *DeviceManager) ReleaseCamera() error {
	return m.release(SourceKindCamera)
}

// ReleaseMicrophone closes and forgets the microphone source.
func (m *DeviceManager) ReleaseMicrophone() error {
	return m.release(SourceKindMicrophone)
}

// ReleaseDisplay closes and forgets the display source.
func (m *DeviceManager) ReleaseDisplay() error {
	return m.release(SourceKindDisplay)
}

func (m *DeviceManager) release(kind SourceKind) error {
	m.mu.Lock()
	var source *MediaSource
	switch kind {
	case SourceKindCamera:
		source, m.camera = m.camera, nil
	case SourceKindMicrophone:
		source, m.microphone = m.microphone, nil
	case SourceKindDisplay:
		source, m.display = m.display, nil
	}
	m.mu.Unlock()

	if source == nil {
		return nil
	}
	m.log.WithField("kind", kind).Debug("source released")
	return source.close()
}

// ReleaseAll closes every acquired source.
func (m *DeviceManager) ReleaseAll() error {
	var result error
	for _, kind := range []SourceKind{SourceKindCamera, SourceKindMicrophone, SourceKindDisplay} {
		if err := m.release(kind); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// EnumerateDevices lists the available capture devices.
func (m *DeviceManager) EnumerateDevices(ctx context.Context) ([]DeviceInfo, error) {
	var devices []DeviceInfo
	if video, err := m.provider.ListVideoDevices(ctx); err == nil {
		devices = append(devices, video...)
	}
	if audio, err := m.provider.ListAudioInputDevices(ctx); err == nil {
		devices = append(devices, audio...)
	}
	return devices, nil
}
