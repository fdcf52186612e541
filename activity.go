package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// AutoSwitchConfig tunes the activity-driven layout switching. The
// defaults match observed product behavior but are deliberately
// configuration, not invariants.
type AutoSwitchConfig struct {
	// IdleAfter is how long input must be absent before the layout
	// switches to the full-screen webcam shot.
	IdleAfter time.Duration

	// DwellMinimum is how long the webcam shot must persist before an
	// input event is allowed to switch back. Events arriving earlier are
	// ignored entirely, so a brief glance never reverts a deliberate
	// full-screen webcam segment.
	DwellMinimum time.Duration

	Logger logrus.FieldLogger
	Clock  clock.Clock
}

// DefaultAutoSwitchConfig returns the default thresholds: 5s idle, 2s dwell.
func DefaultAutoSwitchConfig() AutoSwitchConfig {
	return AutoSwitchConfig{
		IdleAfter:    5 * time.Second,
		DwellMinimum: 2 * time.Second,
	}
}

// ActivityMonitor observes user input during a recording session and
// mutates the shared layout cell between overlay and webcam-only. It is
// the single layout writer while engaged; all writes are gated behind the
// recording + overlay + auto-switch predicate enforced by the controller
// engaging it.
type ActivityMonitor struct {
	config AutoSwitchConfig
	cell   *LayoutCell
	log    logrus.FieldLogger
	clk    clock.Clock

	engaged atomic.Bool

	mu           sync.Mutex
	sessionStart time.Time
	switchLog    *SwitchLog
	lastActivity time.Time
	dwellSince   time.Time // set when entering webcam-only, zero otherwise
	idleTimer    clock.Timer
	stopCh       chan struct{}
	doneCh       chan struct{}

	switches atomic.Uint64
}

// NewActivityMonitor creates a monitor bound to the shared layout cell.
func NewActivityMonitor(config AutoSwitchConfig, cell *LayoutCell) *ActivityMonitor {
	if config.IdleAfter <= 0 {
		config.IdleAfter = 5 * time.Second
	}
	if config.DwellMinimum <= 0 {
		config.DwellMinimum = 2 * time.Second
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}
	return &ActivityMonitor{
		config: config,
		cell:   cell,
		log:    config.Logger.WithField("component", "autoswitch"),
		clk:    config.Clock,
	}
}

// Engage arms the monitor for a recording session. The session start time
// anchors switch-log offsets. Engaging counts as activity, so the first
// idle switch can fire no earlier than IdleAfter into the session.
func (m *ActivityMonitor) Engage(sessionStart time.Time, log *SwitchLog) {
	if m.engaged.Swap(true) {
		return
	}

	m.mu.Lock()
	m.sessionStart = sessionStart
	m.switchLog = log
	m.lastActivity = m.clk.Now()
	m.dwellSince = time.Time{}
	m.idleTimer = m.clk.NewTimer(m.config.IdleAfter)
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	timer := m.idleTimer
	stopCh := m.stopCh
	m.mu.Unlock()

	go m.idleLoop(timer, stopCh)

	m.log.WithFields(logrus.Fields{
		"idle_after": m.config.IdleAfter,
		"dwell_min":  m.config.DwellMinimum,
	}).Debug("auto-switch engaged")
}

// Disengage disarms the monitor and waits for its timer goroutine to exit.
// Safe to call when not engaged.
func (m *ActivityMonitor) Disengage() {
	if !m.engaged.Swap(false) {
		return
	}

	m.mu.Lock()
	if m.idleTimer != nil {
		m.idleTimer.Stop()
	}
	close(m.stopCh)
	doneCh := m.doneCh
	m.mu.Unlock()

	<-doneCh
	m.log.WithField("switches", m.switches.Load()).Debug("auto-switch disengaged")
}

// Engaged reports whether the monitor is currently driving the layout.
func (m *ActivityMonitor) Engaged() bool {
	return m.engaged.Load()
}

// Switches returns the number of layout switches performed this session.
func (m *ActivityMonitor) Switches() uint64 {
	return m.switches.Load()
}

// OnActivity records a user input event (keystroke, pointer move). While
// the webcam shot is active, events inside the dwell window are discarded;
// an event at or past the dwell minimum switches back to overlay.
// Otherwise the event resets the idle countdown.
func (m *ActivityMonitor) OnActivity() {
	if !m.engaged.Load() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()

	if m.cell.Layout() == LayoutWebcamOnly && !m.dwellSince.IsZero() {
		if now.Sub(m.dwellSince) < m.config.DwellMinimum {
			return
		}
		m.lastActivity = now
		m.dwellSince = time.Time{}
		m.cell.SetLayout(LayoutOverlay)
		m.switchLog.Append(now.Sub(m.sessionStart), LayoutOverlay)
		m.switches.Add(1)
		m.resetIdleTimerLocked()
		m.log.WithField("offset", now.Sub(m.sessionStart)).Debug("switched to overlay")
		return
	}

	m.lastActivity = now
	m.resetIdleTimerLocked()
}

func (m *ActivityMonitor) resetIdleTimerLocked() {
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer.Reset(m.config.IdleAfter)
	}
}

func (m *ActivityMonitor) idleLoop(timer clock.Timer, stopCh chan struct{}) {
	m.mu.Lock()
	doneCh := m.doneCh
	m.mu.Unlock()
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case <-timer.C():
			m.onIdle()
		}
	}
}

// onIdle handles an idle timer expiration. A fire that raced with a timer
// reset is detected by re-checking the elapsed time since last activity.
func (m *ActivityMonitor) onIdle() {
	if !m.engaged.Load() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cell.Layout() != LayoutOverlay {
		return
	}

	now := m.clk.Now()
	if now.Sub(m.lastActivity) < m.config.IdleAfter {
		// Stale fire from before a reset
		return
	}

	m.dwellSince = now
	m.cell.SetLayout(LayoutWebcamOnly)
	m.switchLog.Append(now.Sub(m.sessionStart), LayoutWebcamOnly)
	m.switches.Add(1)
	m.log.WithField("offset", now.Sub(m.sessionStart)).Debug("switched to webcam_only")
}
