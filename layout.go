package capture

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// Canonical pixel space used for handoff geometry. Bubble positions are
// stored as canvas percentages and converted to this space at stop time.
const (
	CanonicalWidth  = 1920
	CanonicalHeight = 1080
)

// Layout is the visual arrangement governing preview composition and
// which sources are recorded.
type Layout int

const (
	LayoutScreenOnly Layout = iota
	LayoutWebcamOnly
	LayoutSideBySide
	LayoutOverlay
)

func (l Layout) String() string {
	switch l {
	case LayoutScreenOnly:
		return "screen_only"
	case LayoutWebcamOnly:
		return "webcam_only"
	case LayoutSideBySide:
		return "side_by_side"
	case LayoutOverlay:
		return "overlay"
	default:
		return "unknown"
	}
}

// RequiresDisplay reports whether the layout cannot render without a
// display source.
func (l Layout) RequiresDisplay() bool {
	return l != LayoutWebcamOnly
}

// MarshalJSON encodes the layout as its wire name.
func (l Layout) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON decodes a layout from its wire name.
func (l *Layout) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "screen_only":
		*l = LayoutScreenOnly
	case "webcam_only":
		*l = LayoutWebcamOnly
	case "side_by_side":
		*l = LayoutSideBySide
	case "overlay":
		*l = LayoutOverlay
	default:
		return fmt.Errorf("unknown layout %q", s)
	}
	return nil
}

// BubbleShape is the outline drawn around the webcam bubble.
type BubbleShape int

const (
	BubbleShapeCircle BubbleShape = iota
	BubbleShapeRounded
	BubbleShapeSquare
)

func (s BubbleShape) String() string {
	switch s {
	case BubbleShapeCircle:
		return "circle"
	case BubbleShapeRounded:
		return "rounded"
	case BubbleShapeSquare:
		return "square"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the shape as its wire name.
func (s BubbleShape) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a shape from its wire name.
func (s *BubbleShape) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v {
	case "circle":
		*s = BubbleShapeCircle
	case "rounded":
		*s = BubbleShapeRounded
	case "square":
		*s = BubbleShapeSquare
	default:
		return fmt.Errorf("unknown bubble shape %q", v)
	}
	return nil
}

// RGBColor is an 8-bit RGB triple.
type RGBColor struct {
	R, G, B uint8
}

// Hex returns the color as "#rrggbb".
func (c RGBColor) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// ParseHexColor parses "#rrggbb" into an RGBColor.
func ParseHexColor(s string) (RGBColor, error) {
	var c RGBColor
	if len(s) != 7 || s[0] != '#' {
		return c, fmt.Errorf("invalid hex color %q", s)
	}
	if _, err := fmt.Sscanf(s[1:], "%02x%02x%02x", &c.R, &c.G, &c.B); err != nil {
		return c, fmt.Errorf("invalid hex color %q", s)
	}
	return c, nil
}

// BubbleStyle describes the webcam bubble overlay: a center position in
// canvas percentages, a size in canvas pixels, and the border decoration.
type BubbleStyle struct {
	PosXPercent float64     // Bubble center X as percentage of canvas width
	PosYPercent float64     // Bubble center Y as percentage of canvas height
	Size        int         // Bubble diameter/side length in pixels
	Shape       BubbleShape // Outline shape
	BorderColor RGBColor    // Border fill color
	BorderWidth int         // Border thickness in pixels
}

// DefaultBubbleStyle returns the default webcam bubble: a white-ringed
// circle near the bottom-left corner.
func DefaultBubbleStyle() BubbleStyle {
	return BubbleStyle{
		PosXPercent: 15,
		PosYPercent: 80,
		Size:        320,
		Shape:       BubbleShapeCircle,
		BorderColor: RGBColor{R: 255, G: 255, B: 255},
		BorderWidth: 6,
	}
}

// Center returns the bubble center in pixels for the given canvas.
func (b BubbleStyle) Center(canvasW, canvasH int) (x, y int) {
	x = int(b.PosXPercent / 100 * float64(canvasW))
	y = int(b.PosYPercent / 100 * float64(canvasH))
	return x, y
}

// Bounds returns the bubble bounding box (top-left + size) in pixels for
// the given canvas.
func (b BubbleStyle) Bounds(canvasW, canvasH int) (x, y, w, h int) {
	cx, cy := b.Center(canvasW, canvasH)
	return cx - b.Size/2, cy - b.Size/2, b.Size, b.Size
}

// Clamp returns a copy whose bounding box fits fully inside the canvas.
// The size is capped to the smaller canvas dimension first, then the
// center is pulled inward until the box no longer crosses an edge.
func (b BubbleStyle) Clamp(canvasW, canvasH int) BubbleStyle {
	out := b
	maxSize := canvasW
	if canvasH < maxSize {
		maxSize = canvasH
	}
	if out.Size > maxSize {
		out.Size = maxSize
	}
	if out.Size < 2 {
		out.Size = 2
	}

	half := float64(out.Size) / 2
	minXP := half / float64(canvasW) * 100
	maxXP := 100 - minXP
	minYP := half / float64(canvasH) * 100
	maxYP := 100 - minYP

	out.PosXPercent = clampFloat(out.PosXPercent, minXP, maxXP)
	out.PosYPercent = clampFloat(out.PosYPercent, minYP, maxYP)
	return out
}

// BubbleGeometry is the bubble converted to the canonical 1920x1080 pixel
// space for handoff: top-left position plus size and decoration.
type BubbleGeometry struct {
	X           int    `json:"x"`
	Y           int    `json:"y"`
	Size        int    `json:"size"`
	Shape       string `json:"shape"`
	BorderColor string `json:"border_color"`
	BorderWidth int    `json:"border_width"`
}

// ToCanonical converts the bubble to canonical pixel space. The center
// percentage maps onto the canonical canvas and the top-left corner is the
// center minus half the size.
func (b BubbleStyle) ToCanonical() BubbleGeometry {
	cx := b.PosXPercent / 100 * CanonicalWidth
	cy := b.PosYPercent / 100 * CanonicalHeight
	return BubbleGeometry{
		X:           int(cx - float64(b.Size)/2),
		Y:           int(cy - float64(b.Size)/2),
		Size:        b.Size,
		Shape:       b.Shape.String(),
		BorderColor: b.BorderColor.Hex(),
		BorderWidth: b.BorderWidth,
	}
}

// FromCanonical converts canonical-space geometry back into a percentage
// position. The inverse of ToCanonical up to integer rounding.
func FromCanonical(g BubbleGeometry) (BubbleStyle, error) {
	var shape BubbleShape
	if err := shape.UnmarshalJSON([]byte(fmt.Sprintf("%q", g.Shape))); err != nil {
		return BubbleStyle{}, err
	}
	color, err := ParseHexColor(g.BorderColor)
	if err != nil {
		return BubbleStyle{}, err
	}
	cx := float64(g.X) + float64(g.Size)/2
	cy := float64(g.Y) + float64(g.Size)/2
	return BubbleStyle{
		PosXPercent: cx / CanonicalWidth * 100,
		PosYPercent: cy / CanonicalHeight * 100,
		Size:        g.Size,
		Shape:       shape,
		BorderColor: color,
		BorderWidth: g.BorderWidth,
	}, nil
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// LayoutCell is the shared "current layout" handle read by the renderer
// every frame and written by the activity monitor or the user. A single
// parent owns the cell and injects it by reference into all consumers;
// there is no package-level instance.
type LayoutCell struct {
	canvasW, canvasH int

	layout atomic.Int32

	bubbleMu sync.RWMutex
	bubble   BubbleStyle
}

// NewLayoutCell creates a layout cell for the given canvas dimensions.
func NewLayoutCell(canvasW, canvasH int, initial Layout) *LayoutCell {
	if canvasW <= 0 {
		canvasW = CanonicalWidth
	}
	if canvasH <= 0 {
		canvasH = CanonicalHeight
	}
	c := &LayoutCell{
		canvasW: canvasW,
		canvasH: canvasH,
	}
	c.layout.Store(int32(initial))
	c.bubble = DefaultBubbleStyle().Clamp(canvasW, canvasH)
	return c
}

// Layout returns the current layout.
func (c *LayoutCell) Layout() Layout {
	return Layout(c.layout.Load())
}

// SetLayout stores a new current layout.
func (c *LayoutCell) SetLayout(l Layout) {
	c.layout.Store(int32(l))
}

// Bubble returns the current webcam bubble style.
func (c *LayoutCell) Bubble() BubbleStyle {
	c.bubbleMu.RLock()
	defer c.bubbleMu.RUnlock()
	return c.bubble
}

// SetBubble stores a new bubble style, clamped to the canvas.
func (c *LayoutCell) SetBubble(b BubbleStyle) {
	clamped := b.Clamp(c.canvasW, c.canvasH)
	c.bubbleMu.Lock()
	c.bubble = clamped
	c.bubbleMu.Unlock()
}

// CanvasSize returns the canvas dimensions the cell clamps against.
func (c *LayoutCell) CanvasSize() (w, h int) {
	return c.canvasW, c.canvasH
}

// BubbleDrag accumulates high-frequency pointer positions while the user
// drags the webcam bubble. Pointer moves update only the drag's own
// sample; the authoritative cell is written exactly once, at drag end.
type BubbleDrag struct {
	cell *LayoutCell

	mu     sync.Mutex
	active bool
	xp, yp float64 // Current sampled center, canvas percentages
	grabDX float64 // Pointer offset from bubble center at grab time
	grabDY float64
}

// NewBubbleDrag creates a drag handle bound to a layout cell.
func NewBubbleDrag(cell *LayoutCell) *BubbleDrag {
	return &BubbleDrag{cell: cell}
}

// Begin starts a drag at the given canvas pixel position.
func (d *BubbleDrag) Begin(px, py int) {
	b := d.cell.Bubble()
	cw, ch := d.cell.CanvasSize()

	d.mu.Lock()
	d.active = true
	d.xp = b.PosXPercent
	d.yp = b.PosYPercent
	d.grabDX = float64(px)/float64(cw)*100 - b.PosXPercent
	d.grabDY = float64(py)/float64(ch)*100 - b.PosYPercent
	d.mu.Unlock()
}

// Move samples a pointer position. No shared state is touched.
func (d *BubbleDrag) Move(px, py int) {
	cw, ch := d.cell.CanvasSize()

	d.mu.Lock()
	if d.active {
		d.xp = float64(px)/float64(cw)*100 - d.grabDX
		d.yp = float64(py)/float64(ch)*100 - d.grabDY
	}
	d.mu.Unlock()
}

// Position returns the currently sampled center in canvas percentages.
// Useful for drawing a drag ghost; not the authoritative position.
func (d *BubbleDrag) Position() (xp, yp float64, active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.xp, d.yp, d.active
}

// End commits the final sampled position to the layout cell and
// deactivates the drag.
func (d *BubbleDrag) End() {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return
	}
	d.active = false
	xp, yp := d.xp, d.yp
	d.mu.Unlock()

	b := d.cell.Bubble()
	b.PosXPercent = xp
	b.PosYPercent = yp
	d.cell.SetBubble(b)
}
