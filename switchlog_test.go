package capture

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSwitchLog_Append(t *testing.T) {
	log := NewSwitchLog()

	if !log.Append(0, LayoutOverlay) {
		t.Fatal("first append should succeed")
	}
	if !log.Append(5*time.Second, LayoutWebcamOnly) {
		t.Fatal("layout change should append")
	}
	if !log.Append(9*time.Second, LayoutOverlay) {
		t.Fatal("layout change should append")
	}

	events := log.Events()
	if len(events) != 3 {
		t.Fatalf("Len = %d, want 3", len(events))
	}
	want := []LayoutSwitchEvent{
		{TimestampSeconds: 0, Layout: LayoutOverlay},
		{TimestampSeconds: 5, Layout: LayoutWebcamOnly},
		{TimestampSeconds: 9, Layout: LayoutOverlay},
	}
	for i, e := range events {
		if e != want[i] {
			t.Errorf("events[%d] = %+v, want %+v", i, e, want[i])
		}
	}
}

func TestSwitchLog_DropsConsecutiveDuplicates(t *testing.T) {
	log := NewSwitchLog()

	log.Append(0, LayoutOverlay)
	if log.Append(2*time.Second, LayoutOverlay) {
		t.Error("duplicate layout should be dropped")
	}
	if got := log.Len(); got != 1 {
		t.Errorf("Len = %d, want 1", got)
	}

	// The same layout is fine once another one sits between.
	log.Append(3*time.Second, LayoutWebcamOnly)
	if !log.Append(4*time.Second, LayoutOverlay) {
		t.Error("non-consecutive repeat should append")
	}
	if got := log.Len(); got != 3 {
		t.Errorf("Len = %d, want 3", got)
	}
}

func TestSwitchLog_ClampsBackwardsTimestamps(t *testing.T) {
	log := NewSwitchLog()

	log.Append(5*time.Second, LayoutOverlay)
	log.Append(4*time.Second, LayoutWebcamOnly)

	events := log.Events()
	if events[1].TimestampSeconds != 5 {
		t.Errorf("timestamp = %v, want clamped to 5", events[1].TimestampSeconds)
	}
}

func TestSwitchLog_Last(t *testing.T) {
	log := NewSwitchLog()

	if _, ok := log.Last(); ok {
		t.Error("Last on empty log should report no entry")
	}

	log.Append(time.Second, LayoutOverlay)
	log.Append(2*time.Second, LayoutWebcamOnly)

	last, ok := log.Last()
	if !ok {
		t.Fatal("Last should report an entry")
	}
	if last.Layout != LayoutWebcamOnly || last.TimestampSeconds != 2 {
		t.Errorf("Last = %+v, want {2 webcam_only}", last)
	}
}

func TestSwitchLog_Reset(t *testing.T) {
	log := NewSwitchLog()
	log.Append(0, LayoutOverlay)
	log.Append(time.Second, LayoutWebcamOnly)

	log.Reset()
	if got := log.Len(); got != 0 {
		t.Errorf("Len after Reset = %d, want 0", got)
	}

	// The dedup window resets too.
	if !log.Append(0, LayoutWebcamOnly) {
		t.Error("append after Reset should succeed")
	}
}

func TestLayoutSwitchEvent_JSON(t *testing.T) {
	e := LayoutSwitchEvent{TimestampSeconds: 12.5, Layout: LayoutWebcamOnly}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	want := `{"timestamp_seconds":12.5,"layout":"webcam_only"}`
	if string(data) != want {
		t.Errorf("Marshal = %s, want %s", data, want)
	}
}
