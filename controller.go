package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// Controller errors.
var (
	// ErrDisplayRequired rejects a start when the selected layout needs
	// a display source and none is acquired.
	ErrDisplayRequired = errors.New("layout requires a display source")

	// ErrWebcamRequired rejects a webcam-only start with no camera.
	ErrWebcamRequired = errors.New("layout requires a camera source")

	// ErrNoFootage means a session ended without capturing any media.
	ErrNoFootage = errors.New("no footage captured")

	// ErrCountdownLocked means the countdown was configured as not
	// cancellable.
	ErrCountdownLocked = errors.New("countdown is not cancellable")
)

// Countdown and flush defaults.
const (
	DefaultCountdownTicks    = 5
	DefaultCountdownInterval = time.Second
	DefaultFlushGrace        = 500 * time.Millisecond
)

// SessionState is a recording controller state.
type SessionState int

const (
	StateIdle SessionState = iota
	StateCountdown
	StateRecording
	StateProcessing
	StatePreview
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCountdown:
		return "countdown"
	case StateRecording:
		return "recording"
	case StateProcessing:
		return "processing"
	case StatePreview:
		return "preview"
	default:
		return "unknown"
	}
}

// ControllerConfig configures a RecordingController.
type ControllerConfig struct {
	// Layout is the initially selected layout.
	Layout Layout

	// Bubble is the initial webcam presentation. A zero Size selects
	// the default bubble.
	Bubble BubbleStyle

	// Width, Height and FPS shape the preview canvas.
	Width  int
	Height int
	FPS    int

	// AutoSwitch enables idle-driven layout switching while recording
	// in the overlay layout.
	AutoSwitch bool

	// IdleAfter and DwellMinimum tune the auto-switch timers. Zero
	// values select the defaults.
	IdleAfter    time.Duration
	DwellMinimum time.Duration

	// CountdownTicks is the number of one-interval countdown ticks
	// before recording starts. Zero selects the default; a negative
	// value skips the countdown entirely.
	CountdownTicks    int
	CountdownInterval time.Duration

	// CountdownCancellable permits Cancel during the countdown.
	CountdownCancellable bool

	// FlushGrace is the wait between stopping the encoders and reading
	// their buffers.
	FlushGrace time.Duration

	// ChunkInterval is the per-track chunk granularity.
	ChunkInterval time.Duration

	// AutoProcess marks payloads for processing without manual review
	// and submits them as soon as they are assembled.
	AutoProcess bool

	// WebcamTable and ScreenTable override the capability tables.
	WebcamTable CapabilityTable
	ScreenTable CapabilityTable

	// Submitter receives finished payloads. Nil leaves dispatch to the
	// caller via Payload and Submit.
	Submitter Submitter

	Logger logrus.FieldLogger
	Clock  clock.WithTicker
}

// DefaultControllerConfig returns the standard session configuration.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Layout:            LayoutOverlay,
		Bubble:            DefaultBubbleStyle(),
		Width:             CanonicalWidth,
		Height:            CanonicalHeight,
		FPS:               30,
		AutoSwitch:        true,
		CountdownTicks:    DefaultCountdownTicks,
		CountdownInterval: DefaultCountdownInterval,
		FlushGrace:        DefaultFlushGrace,
		ChunkInterval:     DefaultChunkInterval,
		AutoProcess:       true,
	}
}

// recordingSession holds the per-session state created at recording
// start and destroyed after blob assembly.
type recordingSession struct {
	id     string
	layout Layout
	start  time.Time

	// screen is the primary binding; on single-track sessions it holds
	// the sole binding instead.
	screen *TrackRecorder
	webcam *TrackRecorder
	single bool
}

// RecordingController drives the capture session state machine:
// idle, countdown, recording, processing, back to idle, with a preview
// state for manual-review flows. It owns the shared layout cell and
// injects it into the renderer and the activity monitor.
type RecordingController struct {
	config    ControllerConfig
	log       logrus.FieldLogger
	clk       clock.Clock
	devices   *DeviceManager
	cell      *LayoutCell
	renderer  *CompositeRenderer
	monitor   *ActivityMonitor
	switchLog *SwitchLog

	mu             sync.Mutex
	state          SessionState
	selectedLayout Layout
	autoSwitch     bool
	autoProcess    bool
	session        *recordingSession
	payload        *HandoffPayload
	countdownStop  context.CancelFunc

	stateCb     func(SessionState)
	countdownCb func(remaining int)
	errCb       func(error)
}

// NewRecordingController wires a controller over the given device
// manager.
func NewRecordingController(config ControllerConfig, devices *DeviceManager) (*RecordingController, error) {
	if devices == nil {
		return nil, errors.New("controller requires a device manager")
	}
	if config.Width <= 0 || config.Height <= 0 {
		config.Width = CanonicalWidth
		config.Height = CanonicalHeight
	}
	if config.FPS <= 0 {
		config.FPS = 30
	}
	if config.CountdownTicks == 0 {
		config.CountdownTicks = DefaultCountdownTicks
	}
	if config.CountdownInterval <= 0 {
		config.CountdownInterval = DefaultCountdownInterval
	}
	if config.FlushGrace <= 0 {
		config.FlushGrace = DefaultFlushGrace
	}
	if config.ChunkInterval <= 0 {
		config.ChunkInterval = DefaultChunkInterval
	}
	if config.Bubble.Size <= 0 {
		config.Bubble = DefaultBubbleStyle()
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}

	cell := NewLayoutCell(config.Width, config.Height, config.Layout)
	cell.SetBubble(config.Bubble)

	renderer := NewCompositeRenderer(RendererConfig{
		Width:  config.Width,
		Height: config.Height,
		FPS:    config.FPS,
		Logger: config.Logger,
		Clock:  config.Clock,
	}, cell)

	monitor := NewActivityMonitor(AutoSwitchConfig{
		IdleAfter:    config.IdleAfter,
		DwellMinimum: config.DwellMinimum,
		Logger:       config.Logger,
		Clock:        config.Clock,
	}, cell)

	c := &RecordingController{
		config:         config,
		log:            config.Logger.WithField("component", "controller"),
		clk:            config.Clock,
		devices:        devices,
		cell:           cell,
		renderer:       renderer,
		monitor:        monitor,
		switchLog:      NewSwitchLog(),
		state:          StateIdle,
		selectedLayout: config.Layout,
		autoSwitch:     config.AutoSwitch,
		autoProcess:    config.AutoProcess,
	}

	devices.OnStreamEnded(c.handleSourceEnded)
	return c, nil
}

// State returns the current session state.
func (c *RecordingController) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Cell returns the shared layout cell read by the renderer each frame.
func (c *RecordingController) Cell() *LayoutCell {
	return c.cell
}

// Renderer returns the preview renderer.
func (c *RecordingController) Renderer() *CompositeRenderer {
	return c.renderer
}

// Drag returns a drag handle for repositioning the webcam bubble. The
// new position is committed to the layout cell at drag end.
func (c *RecordingController) Drag() *BubbleDrag {
	return NewBubbleDrag(c.cell)
}

// Layout returns the selected layout.
func (c *RecordingController) Layout() Layout {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedLayout
}

// SetLayout selects the layout for the next session. Only valid while
// idle; during recording the layout cell belongs to the auto-switch
// monitor.
func (c *RecordingController) SetLayout(layout Layout) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return fmt.Errorf("cannot change layout in state %s", c.state)
	}
	c.selectedLayout = layout
	c.cell.SetLayout(layout)
	return nil
}

// SetBubble updates the webcam presentation.
func (c *RecordingController) SetBubble(style BubbleStyle) {
	c.cell.SetBubble(style)
}

// SetAutoSwitch toggles idle-driven layout switching. Disabling it
// mid-session disengages the monitor immediately.
func (c *RecordingController) SetAutoSwitch(enabled bool) {
	c.mu.Lock()
	c.autoSwitch = enabled
	state := c.state
	session := c.session
	c.mu.Unlock()

	if state != StateRecording || session == nil {
		return
	}
	if !enabled {
		c.monitor.Disengage()
	} else if session.layout == LayoutOverlay {
		c.monitor.Engage(session.start, c.switchLog)
	}
}

// SetAutoProcess toggles the payload's auto-process flag.
func (c *RecordingController) SetAutoProcess(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoProcess = enabled
}

// NotifyActivity forwards a user input event to the activity monitor.
func (c *RecordingController) NotifyActivity() {
	c.monitor.OnActivity()
}

// Switches returns the layout switches recorded this session.
func (c *RecordingController) Switches() []LayoutSwitchEvent {
	return c.switchLog.Events()
}

// OnStateChange registers a state transition callback.
func (c *RecordingController) OnStateChange(cb func(SessionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateCb = cb
}

// OnCountdownTick registers a callback fired once per countdown tick
// with the number of remaining ticks.
func (c *RecordingController) OnCountdownTick(cb func(remaining int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.countdownCb = cb
}

// OnError registers a callback for asynchronous session failures.
func (c *RecordingController) OnError(cb func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errCb = cb
}

// StartPreview attaches the acquired sources to the renderer and runs
// the draw loop without recording.
func (c *RecordingController) StartPreview(ctx context.Context) error {
	c.attachSources()
	return c.renderer.Start(ctx)
}

// StopPreview halts the draw loop.
func (c *RecordingController) StopPreview() error {
	return c.renderer.Stop()
}

func (c *RecordingController) attachSources() {
	if camera := c.devices.Camera(); camera != nil {
		c.renderer.SetWebcam(camera.Video())
	}
	if display := c.devices.Display(); display != nil {
		c.renderer.SetDisplay(display.Video())
	}
}

// Start begins a session: idle to countdown, then recording once the
// countdown elapses. The start is rejected while a session is active,
// and when the selected layout needs a source that is not acquired.
func (c *RecordingController) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot start recording in state %s", state)
	}
	layout := c.selectedLayout
	c.mu.Unlock()

	if layout.RequiresDisplay() {
		display := c.devices.Display()
		if display == nil || !display.Live() {
			return ErrDisplayRequired
		}
	} else {
		camera := c.devices.Camera()
		if camera == nil || !camera.Live() {
			return ErrWebcamRequired
		}
	}

	countdownCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		cancel()
		return fmt.Errorf("cannot start recording in state %s", state)
	}
	c.state = StateCountdown
	c.countdownStop = cancel
	cb := c.stateCb
	c.mu.Unlock()
	if cb != nil {
		cb(StateCountdown)
	}

	c.log.WithField("layout", layout).Info("session starting")
	go c.runCountdown(ctx, countdownCtx)
	return nil
}

// Cancel aborts the countdown and returns to idle. It fails with
// ErrCountdownLocked unless the countdown was configured cancellable.
func (c *RecordingController) Cancel() error {
	c.mu.Lock()
	if c.state != StateCountdown {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot cancel in state %s", state)
	}
	if !c.config.CountdownCancellable {
		c.mu.Unlock()
		return ErrCountdownLocked
	}
	stop := c.countdownStop
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	return nil
}

// runCountdown emits one tick per interval, then hands off to the
// recording phase. Cancellation is only possible through Cancel.
func (c *RecordingController) runCountdown(ctx, countdownCtx context.Context) {
	defer func() {
		c.mu.Lock()
		stop := c.countdownStop
		c.countdownStop = nil
		c.mu.Unlock()
		if stop != nil {
			stop()
		}
	}()

	for remaining := c.config.CountdownTicks; remaining > 0; remaining-- {
		c.mu.Lock()
		cb := c.countdownCb
		c.mu.Unlock()
		if cb != nil {
			cb(remaining)
		}

		timer := c.clk.NewTimer(c.config.CountdownInterval)
		select {
		case <-countdownCtx.Done():
			timer.Stop()
			c.log.Info("countdown cancelled")
			c.setState(StateIdle)
			return
		case <-timer.C():
		}
	}

	if err := c.beginRecording(ctx); err != nil {
		c.log.WithError(err).Error("failed to start recording")
		c.setState(StateIdle)
		c.fireError(err)
	}
}

// beginRecording resets session state and starts the track bindings.
// The webcam binding starts before the screen binding, and the state
// only becomes recording after both are running.
func (c *RecordingController) beginRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateCountdown {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("countdown interrupted in state %s", state)
	}
	layout := c.selectedLayout
	autoSwitch := c.autoSwitch
	c.mu.Unlock()

	c.switchLog.Reset()
	c.cell.SetLayout(layout)

	session := &recordingSession{
		id:     uuid.NewString(),
		layout: layout,
		start:  c.clk.Now(),
	}

	camera := c.devices.Camera()
	display := c.devices.Display()
	var mic AudioTrack
	if m := c.devices.Microphone(); m != nil {
		mic = m.Audio()
	}

	if layout == LayoutWebcamOnly {
		if camera == nil || camera.Video() == nil {
			return ErrWebcamRequired
		}
		table := c.config.WebcamTable
		if table == nil {
			table = WebcamTableWithAudio()
		}
		rec, err := NewTrackRecorder(RecorderConfig{
			Name:          "media",
			Table:         table,
			FPS:           c.config.FPS,
			ChunkInterval: c.config.ChunkInterval,
			Logger:        c.config.Logger,
		}, camera.Video(), mic)
		if err != nil {
			return err
		}
		session.screen = rec
		session.single = true
	} else {
		if display == nil || display.Video() == nil {
			return ErrDisplayRequired
		}
		if camera != nil && camera.Video() != nil {
			table := c.config.WebcamTable
			if table == nil {
				table = DefaultWebcamTable
			}
			rec, err := NewTrackRecorder(RecorderConfig{
				Name:          "webcam",
				Table:         table,
				FPS:           c.config.FPS,
				ChunkInterval: c.config.ChunkInterval,
				Logger:        c.config.Logger,
			}, camera.Video(), nil)
			if err != nil {
				return err
			}
			session.webcam = rec
		}

		audio := mic
		if audio == nil && display.Audio() != nil {
			audio = display.Audio()
		}
		table := c.config.ScreenTable
		if table == nil {
			table = DefaultScreenTable
		}
		rec, err := NewTrackRecorder(RecorderConfig{
			Name:          "screen",
			Table:         table,
			FPS:           c.config.FPS,
			ChunkInterval: c.config.ChunkInterval,
			Logger:        c.config.Logger,
		}, display.Video(), audio)
		if err != nil {
			if session.webcam != nil {
				session.webcam.Stop()
			}
			return err
		}
		session.screen = rec
	}

	// Webcam binding first, screen binding second.
	if session.webcam != nil {
		if err := session.webcam.Start(ctx); err != nil {
			return err
		}
	}
	if err := session.screen.Start(ctx); err != nil {
		if session.webcam != nil {
			session.webcam.Stop()
		}
		return err
	}

	c.attachSources()
	c.renderer.Start(ctx)

	c.mu.Lock()
	c.session = session
	c.state = StateRecording
	cb := c.stateCb
	c.mu.Unlock()
	if cb != nil {
		cb(StateRecording)
	}

	if autoSwitch && layout == LayoutOverlay {
		c.monitor.Engage(session.start, c.switchLog)
	}

	c.log.WithFields(logrus.Fields{
		"session": session.id,
		"layout":  layout,
		"single":  session.single,
	}).Info("recording")
	return nil
}

// Stop ends the active session and assembles the handoff payload. With
// auto-process enabled and a submitter configured, the payload is
// dispatched and the controller returns to idle; otherwise it is held
// in the preview state. ErrNoFootage is returned when nothing was
// captured.
func (c *RecordingController) Stop(ctx context.Context) (*HandoffPayload, error) {
	session, err := c.takeSession()
	if err != nil {
		return nil, err
	}
	return c.processSession(ctx, session)
}

// takeSession transitions recording to processing and claims the
// session.
func (c *RecordingController) takeSession() (*recordingSession, error) {
	c.mu.Lock()
	if c.state != StateRecording {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("cannot stop in state %s", state)
	}
	c.state = StateProcessing
	session := c.session
	c.session = nil
	cb := c.stateCb
	c.mu.Unlock()
	if cb != nil {
		cb(StateProcessing)
	}
	return session, nil
}

// processSession stops the encoders and the compositor, waits the flush
// grace, then assembles and dispatches the payload.
func (c *RecordingController) processSession(ctx context.Context, session *recordingSession) (*HandoffPayload, error) {
	stopped := c.clk.Now()

	c.monitor.Disengage()

	var stopErr error
	if session.webcam != nil {
		if err := session.webcam.Stop(); err != nil {
			stopErr = multierror.Append(stopErr, err)
		}
	}
	if err := session.screen.Stop(); err != nil {
		stopErr = multierror.Append(stopErr, err)
	}
	c.renderer.Stop()
	if stopErr != nil {
		c.log.WithError(stopErr).Warn("encoder shutdown reported errors")
	}

	// Trailing chunks settle before the buffers are read.
	c.clk.Sleep(c.config.FlushGrace)

	// The session may have flipped the live layout; restore the
	// user's selection.
	c.cell.SetLayout(session.layout)

	hasFootage := session.screen.HasFootage()
	if session.webcam != nil && session.webcam.HasFootage() {
		hasFootage = true
	}
	if !hasFootage {
		c.setState(StateIdle)
		c.log.Warn("session produced no footage")
		return nil, ErrNoFootage
	}

	payload := c.assemble(session, stopped)

	c.mu.Lock()
	autoProcess := c.autoProcess
	c.mu.Unlock()

	if autoProcess && c.config.Submitter != nil {
		if err := c.config.Submitter.Submit(ctx, payload); err != nil {
			// Hold the payload for retry through Submit.
			c.mu.Lock()
			c.payload = payload
			c.mu.Unlock()
			c.setState(StatePreview)
			c.log.WithError(err).Error("handoff submission failed")
			return payload, err
		}
		c.setState(StateIdle)
		c.log.WithField("session", session.id).Info("session complete")
		return payload, nil
	}

	c.mu.Lock()
	c.payload = payload
	c.mu.Unlock()
	c.setState(StatePreview)
	c.log.WithField("session", session.id).Info("session held for review")
	return payload, nil
}

// assemble builds the handoff payload from the session's buffers.
func (c *RecordingController) assemble(session *recordingSession, stopped time.Time) *HandoffPayload {
	c.mu.Lock()
	autoProcess := c.autoProcess
	c.mu.Unlock()

	payload := &HandoffPayload{
		SessionID:      session.id,
		Screen:         session.screen.Blob(),
		SingleBlob:     session.single,
		Layout:         session.layout,
		AutoProcess:    autoProcess,
		LayoutSwitches: c.switchLog.Events(),
		Duration:       stopped.Sub(session.start),
	}
	if session.webcam != nil {
		blob := session.webcam.Blob()
		payload.Webcam = &blob
		geometry := c.cell.Bubble().ToCanonical()
		payload.WebcamGeometry = &geometry
	}
	return payload
}

// Payload returns the assembled payload held in the preview state.
func (c *RecordingController) Payload() *HandoffPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payload
}

// Submit dispatches the held payload and returns the controller to
// idle.
func (c *RecordingController) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StatePreview || c.payload == nil {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("no payload to submit in state %s", state)
	}
	payload := c.payload
	c.mu.Unlock()

	if c.config.Submitter == nil {
		return errors.New("no submitter configured")
	}
	if err := c.config.Submitter.Submit(ctx, payload); err != nil {
		return err
	}

	c.mu.Lock()
	c.payload = nil
	c.mu.Unlock()
	c.setState(StateIdle)
	return nil
}

// Discard drops the held payload and returns the controller to idle.
func (c *RecordingController) Discard() {
	c.mu.Lock()
	if c.state != StatePreview {
		c.mu.Unlock()
		return
	}
	c.payload = nil
	c.mu.Unlock()
	c.setState(StateIdle)
}

// handleSourceEnded reacts to sources revoked outside the controller.
// A dead display forces the session into processing; a dead camera
// cancels only the webcam binding.
func (c *RecordingController) handleSourceEnded(kind SourceKind) {
	c.mu.Lock()
	state := c.state
	session := c.session
	c.mu.Unlock()

	switch kind {
	case SourceKindDisplay:
		c.renderer.SetDisplay(nil)
		if state != StateRecording || session == nil || session.single {
			return
		}
		c.log.WithError(ErrStreamEnded).Warn("display revoked, stopping session")
		c.forceStop()

	case SourceKindCamera:
		c.renderer.SetWebcam(nil)
		if state != StateRecording || session == nil {
			return
		}
		if session.single {
			// The sole source died; the session cannot continue.
			c.log.WithError(ErrStreamEnded).Warn("camera revoked, stopping session")
			c.forceStop()
			return
		}
		c.log.WithError(ErrStreamEnded).Warn("camera revoked, cancelling webcam binding")
		if session.webcam != nil {
			session.webcam.Stop()
		}

	case SourceKindMicrophone:
		// The audio encode loop ends on its own when the track closes.
		c.log.Debug("microphone ended")
	}
}

func (c *RecordingController) forceStop() {
	session, err := c.takeSession()
	if err != nil {
		return
	}
	if _, err := c.processSession(context.Background(), session); err != nil {
		c.log.WithError(err).Error("forced stop failed")
		c.fireError(err)
	}
}

func (c *RecordingController) setState(s SessionState) {
	c.mu.Lock()
	c.state = s
	cb := c.stateCb
	c.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

func (c *RecordingController) fireError(err error) {
	c.mu.Lock()
	cb := c.errCb
	c.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// Close stops any active session and releases the renderer.
func (c *RecordingController) Close() error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state == StateRecording {
		if session, err := c.takeSession(); err == nil {
			c.processSession(context.Background(), session)
		}
	}
	c.monitor.Disengage()
	return c.renderer.Close()
}
