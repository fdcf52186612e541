package capture

import (
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"
)

// waitUntil polls cond with a real-time deadline. Used for effects that
// happen on the monitor's timer goroutine after a fake clock step.
func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newEngagedMonitor(t *testing.T) (*ActivityMonitor, *LayoutCell, *SwitchLog, *testingclock.FakeClock) {
	t.Helper()

	fc := testingclock.NewFakeClock(time.Now())
	cell := NewLayoutCell(CanonicalWidth, CanonicalHeight, LayoutOverlay)
	config := DefaultAutoSwitchConfig()
	config.Clock = fc

	m := NewActivityMonitor(config, cell)
	log := NewSwitchLog()
	m.Engage(fc.Now(), log)
	t.Cleanup(m.Disengage)

	waitUntil(t, "idle timer armed", fc.HasWaiters)
	return m, cell, log, fc
}

func TestActivityMonitor_IdleSwitchesToWebcamOnly(t *testing.T) {
	_, cell, log, fc := newEngagedMonitor(t)

	fc.Step(5 * time.Second)
	waitUntil(t, "idle switch", func() bool { return cell.Layout() == LayoutWebcamOnly })

	events := log.Events()
	if len(events) != 1 {
		t.Fatalf("log has %d entries, want 1", len(events))
	}
	if events[0].Layout != LayoutWebcamOnly || events[0].TimestampSeconds != 5 {
		t.Errorf("events[0] = %+v, want {5 webcam_only}", events[0])
	}
}

func TestActivityMonitor_ActivityResetsIdleCountdown(t *testing.T) {
	m, cell, log, fc := newEngagedMonitor(t)

	// Typing 3s in restarts the 5s countdown.
	fc.Step(3 * time.Second)
	m.OnActivity()

	fc.Step(3 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if cell.Layout() != LayoutOverlay {
		t.Fatal("layout switched although the countdown was reset")
	}
	if log.Len() != 0 {
		t.Fatalf("log has %d entries, want 0", log.Len())
	}

	fc.Step(2 * time.Second)
	waitUntil(t, "idle switch", func() bool { return cell.Layout() == LayoutWebcamOnly })

	last, _ := log.Last()
	if last.TimestampSeconds != 8 {
		t.Errorf("switch offset = %v, want 8", last.TimestampSeconds)
	}
}

func TestActivityMonitor_DwellWindow(t *testing.T) {
	m, cell, log, fc := newEngagedMonitor(t)

	fc.Step(5 * time.Second)
	waitUntil(t, "idle switch", func() bool { return cell.Layout() == LayoutWebcamOnly })

	// 1s into the webcam shot: the event is discarded outright.
	fc.Step(1 * time.Second)
	m.OnActivity()
	if cell.Layout() != LayoutWebcamOnly {
		t.Fatal("event inside dwell window switched the layout")
	}
	if log.Len() != 1 {
		t.Fatalf("log has %d entries, want 1", log.Len())
	}

	// 2s in: the dwell minimum is met and the event switches back.
	fc.Step(1 * time.Second)
	m.OnActivity()
	if cell.Layout() != LayoutOverlay {
		t.Fatal("event past dwell minimum should switch back to overlay")
	}

	events := log.Events()
	if len(events) != 2 {
		t.Fatalf("log has %d entries, want 2", len(events))
	}
	if events[1].Layout != LayoutOverlay || events[1].TimestampSeconds != 7 {
		t.Errorf("events[1] = %+v, want {7 overlay}", events[1])
	}
	if m.Switches() != 2 {
		t.Errorf("Switches = %d, want 2", m.Switches())
	}
}

func TestActivityMonitor_IgnoredEventDoesNotResetDwell(t *testing.T) {
	m, cell, _, fc := newEngagedMonitor(t)

	fc.Step(5 * time.Second)
	waitUntil(t, "idle switch", func() bool { return cell.Layout() == LayoutWebcamOnly })

	// A burst of early events must not extend the dwell window.
	for i := 0; i < 5; i++ {
		fc.Step(300 * time.Millisecond)
		m.OnActivity()
	}
	if cell.Layout() != LayoutWebcamOnly {
		t.Fatal("early events switched the layout")
	}

	// 2.1s after entering webcam-only the next event switches back.
	fc.Step(600 * time.Millisecond)
	m.OnActivity()
	if cell.Layout() != LayoutOverlay {
		t.Fatal("dwell window should be measured from the idle switch, not the last ignored event")
	}
}

func TestActivityMonitor_SwitchBackRearmsIdleTimer(t *testing.T) {
	m, cell, log, fc := newEngagedMonitor(t)

	fc.Step(5 * time.Second)
	waitUntil(t, "first idle switch", func() bool { return cell.Layout() == LayoutWebcamOnly })

	fc.Step(2 * time.Second)
	m.OnActivity()
	if cell.Layout() != LayoutOverlay {
		t.Fatal("expected switch back to overlay")
	}

	// Going idle again re-triggers the webcam shot 5s later.
	fc.Step(5 * time.Second)
	waitUntil(t, "second idle switch", func() bool { return cell.Layout() == LayoutWebcamOnly })

	last, _ := log.Last()
	if last.TimestampSeconds != 12 {
		t.Errorf("second switch offset = %v, want 12", last.TimestampSeconds)
	}
	if m.Switches() != 3 {
		t.Errorf("Switches = %d, want 3", m.Switches())
	}
}

func TestActivityMonitor_DisengagedIsInert(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Now())
	cell := NewLayoutCell(CanonicalWidth, CanonicalHeight, LayoutOverlay)
	config := DefaultAutoSwitchConfig()
	config.Clock = fc

	m := NewActivityMonitor(config, cell)

	// Never engaged: events and disengage are no-ops.
	m.OnActivity()
	m.Disengage()
	if m.Engaged() {
		t.Error("monitor should not report engaged")
	}
	if fc.HasWaiters() {
		t.Error("no timer should be armed before Engage")
	}
}

func TestActivityMonitor_DisengageStopsSwitching(t *testing.T) {
	m, cell, log, fc := newEngagedMonitor(t)

	m.Disengage()
	if m.Engaged() {
		t.Fatal("monitor still engaged after Disengage")
	}

	fc.Step(10 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if cell.Layout() != LayoutOverlay {
		t.Error("layout switched after Disengage")
	}
	if log.Len() != 0 {
		t.Errorf("log has %d entries, want 0", log.Len())
	}

	// Re-engaging twice arms exactly one session.
	m.Engage(fc.Now(), log)
	m.Engage(fc.Now(), log)
	if !m.Engaged() {
		t.Fatal("monitor should be engaged")
	}
	m.Disengage()
}
