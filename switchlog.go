package capture

import (
	"sync"
	"time"
)

// LayoutSwitchEvent is one entry in the switch log: the layout that became
// active and when, as an offset from session start.
type LayoutSwitchEvent struct {
	TimestampSeconds float64 `json:"timestamp_seconds"`
	Layout           Layout  `json:"layout"`
}

// SwitchLog is the append-only, time-ordered record of layout transitions
// during a recording session. The external merge step replays it to
// reconstruct the final edited video.
//
// Two invariants hold for every log: timestamps are non-decreasing, and no
// two consecutive entries carry the same layout. Append enforces both.
type SwitchLog struct {
	mu      sync.Mutex
	entries []LayoutSwitchEvent
}

// NewSwitchLog creates an empty switch log.
func NewSwitchLog() *SwitchLog {
	return &SwitchLog{}
}

// Append records a layout transition at the given offset from session
// start. A transition to the same layout as the last entry is dropped.
// An offset earlier than the last entry is clamped to it so the log stays
// time-ordered even under scheduler jitter. Returns whether an entry was
// actually appended.
func (l *SwitchLog) Append(offset time.Duration, layout Layout) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := offset.Seconds()
	if n := len(l.entries); n > 0 {
		last := l.entries[n-1]
		if last.Layout == layout {
			return false
		}
		if ts < last.TimestampSeconds {
			ts = last.TimestampSeconds
		}
	}

	l.entries = append(l.entries, LayoutSwitchEvent{
		TimestampSeconds: ts,
		Layout:           layout,
	})
	return true
}

// Events returns a copy of all entries in order.
func (l *SwitchLog) Events() []LayoutSwitchEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LayoutSwitchEvent, len(l.entries))
	copy(out, l.entries)
	return out
}

// Last returns the most recent entry, if any.
func (l *SwitchLog) Last() (LayoutSwitchEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return LayoutSwitchEvent{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Len returns the number of entries.
func (l *SwitchLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Reset clears the log for a new session.
func (l *SwitchLog) Reset() {
	l.mu.Lock()
	l.entries = l.entries[:0]
	l.mu.Unlock()
}
