package capture

import (
	"encoding/json"
	"math"
	"testing"
)

func TestLayout_String(t *testing.T) {
	tests := []struct {
		layout Layout
		want   string
	}{
		{LayoutScreenOnly, "screen_only"},
		{LayoutWebcamOnly, "webcam_only"},
		{LayoutSideBySide, "side_by_side"},
		{LayoutOverlay, "overlay"},
		{Layout(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.layout.String(); got != tt.want {
				t.Errorf("Layout.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLayout_RequiresDisplay(t *testing.T) {
	tests := []struct {
		layout Layout
		want   bool
	}{
		{LayoutScreenOnly, true},
		{LayoutSideBySide, true},
		{LayoutOverlay, true},
		{LayoutWebcamOnly, false},
	}

	for _, tt := range tests {
		t.Run(tt.layout.String(), func(t *testing.T) {
			if got := tt.layout.RequiresDisplay(); got != tt.want {
				t.Errorf("Layout.RequiresDisplay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLayout_JSONRoundTrip(t *testing.T) {
	for _, layout := range []Layout{LayoutScreenOnly, LayoutWebcamOnly, LayoutSideBySide, LayoutOverlay} {
		data, err := json.Marshal(layout)
		if err != nil {
			t.Fatalf("Marshal(%v) error: %v", layout, err)
		}
		var got Layout
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Unmarshal(%s) error: %v", data, err)
		}
		if got != layout {
			t.Errorf("round trip = %v, want %v", got, layout)
		}
	}

	var l Layout
	if err := json.Unmarshal([]byte(`"picture_in_picture"`), &l); err == nil {
		t.Error("Unmarshal of unknown layout should fail")
	}
}

func TestBubbleShape_JSONRoundTrip(t *testing.T) {
	for _, shape := range []BubbleShape{BubbleShapeCircle, BubbleShapeRounded, BubbleShapeSquare} {
		data, err := json.Marshal(shape)
		if err != nil {
			t.Fatalf("Marshal(%v) error: %v", shape, err)
		}
		var got BubbleShape
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Unmarshal(%s) error: %v", data, err)
		}
		if got != shape {
			t.Errorf("round trip = %v, want %v", got, shape)
		}
	}
}

func TestParseHexColor(t *testing.T) {
	c, err := ParseHexColor("#ff8000")
	if err != nil {
		t.Fatalf("ParseHexColor error: %v", err)
	}
	if c != (RGBColor{R: 255, G: 128, B: 0}) {
		t.Errorf("ParseHexColor = %+v, want {255 128 0}", c)
	}
	if got := c.Hex(); got != "#ff8000" {
		t.Errorf("Hex() = %v, want #ff8000", got)
	}

	for _, bad := range []string{"", "ff8000", "#ff80", "#zzzzzz"} {
		if _, err := ParseHexColor(bad); err == nil {
			t.Errorf("ParseHexColor(%q) should fail", bad)
		}
	}
}

func TestBubbleStyle_Bounds(t *testing.T) {
	b := BubbleStyle{PosXPercent: 50, PosYPercent: 50, Size: 320}
	x, y, w, h := b.Bounds(1920, 1080)
	if x != 960-160 || y != 540-160 {
		t.Errorf("Bounds origin = (%d,%d), want (800,380)", x, y)
	}
	if w != 320 || h != 320 {
		t.Errorf("Bounds size = (%d,%d), want (320,320)", w, h)
	}
}

func TestBubbleStyle_Clamp(t *testing.T) {
	// Oversized bubble is capped to the smaller canvas dimension.
	big := BubbleStyle{PosXPercent: 50, PosYPercent: 50, Size: 4000}
	clamped := big.Clamp(1920, 1080)
	if clamped.Size != 1080 {
		t.Errorf("Clamp size = %d, want 1080", clamped.Size)
	}

	// A bubble dragged past the edge is pulled back inside.
	edge := BubbleStyle{PosXPercent: 0, PosYPercent: 100, Size: 320}
	clamped = edge.Clamp(1920, 1080)
	x, y, w, h := clamped.Bounds(1920, 1080)
	if x < 0 || y < 0 || x+w > 1920 || y+h > 1080 {
		t.Errorf("clamped bounds (%d,%d,%d,%d) escape the canvas", x, y, w, h)
	}
}

func TestBubbleStyle_ToCanonical(t *testing.T) {
	b := BubbleStyle{
		PosXPercent: 50,
		PosYPercent: 50,
		Size:        320,
		Shape:       BubbleShapeCircle,
		BorderColor: RGBColor{R: 255, G: 255, B: 255},
		BorderWidth: 6,
	}
	g := b.ToCanonical()

	if g.X != 800 || g.Y != 380 {
		t.Errorf("canonical origin = (%d,%d), want (800,380)", g.X, g.Y)
	}
	if g.Size != 320 {
		t.Errorf("canonical size = %d, want 320", g.Size)
	}
	if g.Shape != "circle" {
		t.Errorf("canonical shape = %q, want circle", g.Shape)
	}
	if g.BorderColor != "#ffffff" {
		t.Errorf("canonical border color = %q, want #ffffff", g.BorderColor)
	}
	if g.BorderWidth != 6 {
		t.Errorf("canonical border width = %d, want 6", g.BorderWidth)
	}

	back, err := FromCanonical(g)
	if err != nil {
		t.Fatalf("FromCanonical error: %v", err)
	}
	if math.Abs(back.PosXPercent-b.PosXPercent) > 0.1 || math.Abs(back.PosYPercent-b.PosYPercent) > 0.1 {
		t.Errorf("FromCanonical center = (%v,%v), want (%v,%v)",
			back.PosXPercent, back.PosYPercent, b.PosXPercent, b.PosYPercent)
	}
	if back.Shape != b.Shape || back.BorderColor != b.BorderColor || back.Size != b.Size {
		t.Errorf("FromCanonical = %+v, want %+v", back, b)
	}
}

func TestBubbleGeometry_JSONFields(t *testing.T) {
	g := BubbleStyle{PosXPercent: 15, PosYPercent: 80, Size: 320, BorderColor: RGBColor{R: 255, G: 255, B: 255}, BorderWidth: 6}.ToCanonical()
	data, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	for _, key := range []string{"x", "y", "size", "shape", "border_color", "border_width"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("geometry JSON missing %q: %s", key, data)
		}
	}
}

func TestLayoutCell(t *testing.T) {
	cell := NewLayoutCell(1920, 1080, LayoutOverlay)

	if got := cell.Layout(); got != LayoutOverlay {
		t.Errorf("initial layout = %v, want overlay", got)
	}

	cell.SetLayout(LayoutWebcamOnly)
	if got := cell.Layout(); got != LayoutWebcamOnly {
		t.Errorf("layout after set = %v, want webcam_only", got)
	}

	// SetBubble clamps against the canvas.
	cell.SetBubble(BubbleStyle{PosXPercent: 0, PosYPercent: 0, Size: 320})
	b := cell.Bubble()
	x, y, _, _ := b.Bounds(1920, 1080)
	if x < 0 || y < 0 {
		t.Errorf("stored bubble bounds (%d,%d) escape the canvas", x, y)
	}

	if w, h := cell.CanvasSize(); w != 1920 || h != 1080 {
		t.Errorf("CanvasSize = (%d,%d), want (1920,1080)", w, h)
	}
}

func TestBubbleDrag_CommitsAtEndOnly(t *testing.T) {
	cell := NewLayoutCell(1920, 1080, LayoutOverlay)
	cell.SetBubble(BubbleStyle{PosXPercent: 15, PosYPercent: 80, Size: 320})
	drag := NewBubbleDrag(cell)

	// Grab at the bubble center.
	drag.Begin(288, 864)
	drag.Move(960, 540)
	drag.Move(1000, 500)
	drag.Move(960, 540)

	// The authoritative cell is untouched while the drag is live.
	if b := cell.Bubble(); b.PosXPercent != 15 || b.PosYPercent != 80 {
		t.Errorf("cell moved mid-drag to (%v,%v)", b.PosXPercent, b.PosYPercent)
	}

	xp, yp, active := drag.Position()
	if !active {
		t.Fatal("drag should be active")
	}
	if math.Abs(xp-50) > 0.01 || math.Abs(yp-50) > 0.01 {
		t.Errorf("sampled position = (%v,%v), want (50,50)", xp, yp)
	}

	drag.End()
	b := cell.Bubble()
	if math.Abs(b.PosXPercent-50) > 0.01 || math.Abs(b.PosYPercent-50) > 0.01 {
		t.Errorf("committed position = (%v,%v), want (50,50)", b.PosXPercent, b.PosYPercent)
	}

	// Events after the drag ended change nothing.
	drag.Move(100, 100)
	drag.End()
	if b := cell.Bubble(); math.Abs(b.PosXPercent-50) > 0.01 {
		t.Errorf("position moved after drag end: %v", b.PosXPercent)
	}
}

func TestBubbleDrag_KeepsGrabOffset(t *testing.T) {
	cell := NewLayoutCell(1920, 1080, LayoutOverlay)
	cell.SetBubble(BubbleStyle{PosXPercent: 15, PosYPercent: 80, Size: 320})
	drag := NewBubbleDrag(cell)

	// Grab 12px right of center; the offset must be preserved.
	drag.Begin(300, 864)
	drag.Move(960, 540)
	drag.End()

	b := cell.Bubble()
	wantX := 50 - float64(12)/1920*100
	if math.Abs(b.PosXPercent-wantX) > 0.01 {
		t.Errorf("committed X = %v, want %v", b.PosXPercent, wantX)
	}
}
