package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// RendererConfig configures the composite renderer.
type RendererConfig struct {
	Width      int      // Canvas width (default 1920)
	Height     int      // Canvas height (default 1080)
	FPS        int      // Output frame rate (default 30)
	Background RGBColor // Canvas clear color (default black)
	Logger     logrus.FieldLogger
	Clock      clock.WithTicker
}

// DefaultRendererConfig returns the default renderer configuration: a
// 1920x1080 canvas at 30 fps over a black background.
func DefaultRendererConfig() RendererConfig {
	return RendererConfig{
		Width:  CanonicalWidth,
		Height: CanonicalHeight,
		FPS:    30,
	}
}

// CompositeRenderer runs a continuous draw loop that composites the
// webcam and display tracks into one frame per tick according to the
// current layout. The output feeds the live preview and the auto-switch
// feedback path only; the recorded artifacts come from the per-track
// encoders.
//
// It implements VideoSource, so the preview publisher can consume it like
// any other source.
type CompositeRenderer struct {
	config RendererConfig
	cell   *LayoutCell
	log    logrus.FieldLogger
	clk    clock.WithTicker
	bg     yuvColor

	// Borrowed tracks. The renderer never stops or closes them; the
	// device manager owns their lifecycle.
	srcMu   sync.RWMutex
	webcam  VideoTrack
	display VideoTrack

	// Cached most-recent frames, reused when a source produces slower
	// than the canvas tick.
	lastWebcam  *VideoFrame
	lastDisplay *VideoFrame

	// Double-buffered canvas. The frame handed out aliases one buffer
	// while the loop draws into the other.
	canvases  [2]*VideoFrame
	canvasIdx int

	bubbleScaler *VideoScaler

	running   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	frameCh   chan *VideoFrame
	doneCh    chan struct{}
	callback  VideoFrameCallback
	startTime time.Time

	framesRendered atomic.Uint64
	framesDropped  atomic.Uint64

	mu sync.RWMutex
}

// NewCompositeRenderer creates a renderer drawing from the given layout
// cell. The cell is shared with the activity monitor and read every tick.
func NewCompositeRenderer(config RendererConfig, cell *LayoutCell) *CompositeRenderer {
	if config.Width <= 0 {
		config.Width = CanonicalWidth
	}
	if config.Height <= 0 {
		config.Height = CanonicalHeight
	}
	if config.FPS <= 0 {
		config.FPS = 30
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}

	// Ensure even dimensions
	config.Width = (config.Width + 1) &^ 1
	config.Height = (config.Height + 1) &^ 1

	c := &CompositeRenderer{
		config:  config,
		cell:    cell,
		log:     config.Logger.WithField("component", "renderer"),
		clk:     config.Clock,
		bg:      yuvFromRGB(config.Background),
		frameCh: make(chan *VideoFrame, 2),
	}
	if (config.Background == RGBColor{}) {
		c.bg = yuvBlack
	}
	c.canvases[0] = NewI420Frame(config.Width, config.Height)
	c.canvases[1] = NewI420Frame(config.Width, config.Height)
	return c
}

// SetWebcam sets the webcam track to composite. Nil detaches it; the
// renderer falls back to display-only drawing.
func (c *CompositeRenderer) SetWebcam(track VideoTrack) {
	c.srcMu.Lock()
	c.webcam = track
	c.lastWebcam = nil
	c.srcMu.Unlock()
}

// SetDisplay sets the display track to composite. Nil detaches it.
func (c *CompositeRenderer) SetDisplay(track VideoTrack) {
	c.srcMu.Lock()
	c.display = track
	c.lastDisplay = nil
	c.srcMu.Unlock()
}

// Start begins the draw loop.
func (c *CompositeRenderer) Start(ctx context.Context) error {
	if c.running.Load() {
		return nil
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.doneCh = make(chan struct{})
	c.running.Store(true)
	c.startTime = c.clk.Now()
	c.framesRendered.Store(0)
	c.framesDropped.Store(0)

	c.log.WithFields(logrus.Fields{
		"width":  c.config.Width,
		"height": c.config.Height,
		"fps":    c.config.FPS,
	}).Debug("renderer started")

	go c.renderLoop()

	return nil
}

// Stop halts the draw loop and waits for it to exit. Borrowed tracks are
// left running.
func (c *CompositeRenderer) Stop() error {
	if !c.running.Load() {
		return nil
	}

	c.running.Store(false)
	if c.cancel != nil {
		c.cancel()
	}
	if c.doneCh != nil {
		<-c.doneCh
	}

	c.log.WithField("frames", c.framesRendered.Load()).Debug("renderer stopped")
	return nil
}

// Close releases the renderer.
func (c *CompositeRenderer) Close() error {
	c.Stop()

	c.mu.Lock()
	if c.frameCh != nil {
		close(c.frameCh)
		c.frameCh = nil
	}
	c.mu.Unlock()
	return nil
}

// ReadFrame reads the next composited frame. The frame is valid until the
// second-next tick overwrites its buffer.
func (c *CompositeRenderer) ReadFrame(ctx context.Context) (*VideoFrame, error) {
	c.mu.RLock()
	ch := c.frameCh
	c.mu.RUnlock()
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
func (c *CompositeRenderer) SetCallback(cb VideoFrameCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
}

// Config returns the renderer output configuration as a SourceConfig.
func (c *CompositeRenderer) Config() SourceConfig {
	return SourceConfig{
		Width:      c.config.Width,
		Height:     c.config.Height,
		FPS:        c.config.FPS,
		Format:     PixelFormatI420,
		SourceType: SourceTypeCustom,
	}
}

// FramesRendered returns the number of frames composited since Start.
func (c *CompositeRenderer) FramesRendered() uint64 {
	return c.framesRendered.Load()
}

// FramesDropped returns the number of frames dropped because no consumer
// kept up with the tick rate.
func (c *CompositeRenderer) FramesDropped() uint64 {
	return c.framesDropped.Load()
}

func (c *CompositeRenderer) renderLoop() {
	defer close(c.doneCh)

	frameDuration := time.Second / time.Duration(c.config.FPS)
	ticker := c.clk.NewTicker(frameDuration)
	defer ticker.Stop()

	for c.running.Load() {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C():
			webcam, display := c.pullFrames(frameDuration / 2)

			canvas := c.canvases[c.canvasIdx]
			c.canvasIdx = (c.canvasIdx + 1) % 2

			c.renderFrame(canvas, webcam, display)
			c.framesRendered.Add(1)

			canvas.Timestamp = c.clk.Since(c.startTime).Nanoseconds()
			canvas.Duration = frameDuration.Nanoseconds()

			c.mu.RLock()
			cb := c.callback
			ch := c.frameCh
			c.mu.RUnlock()

			if cb != nil {
				cb(canvas)
				continue
			}
			select {
			case ch <- canvas:
			default:
				c.framesDropped.Add(1)
			}
		}
	}
}

// pullFrames grabs the freshest frame from each attached track, waiting at
// most half a tick. A track that produced nothing new keeps contributing
// its previous frame.
func (c *CompositeRenderer) pullFrames(timeout time.Duration) (webcam, display *VideoFrame) {
	c.srcMu.Lock()
	defer c.srcMu.Unlock()

	if c.webcam != nil && c.webcam.State() == TrackStateLive {
		ctx, cancel := context.WithTimeout(c.ctx, timeout)
		if frame, err := c.webcam.ReadFrame(ctx); err == nil && frame != nil {
			c.lastWebcam = frame
		}
		cancel()
	}
	if c.display != nil && c.display.State() == TrackStateLive {
		ctx, cancel := context.WithTimeout(c.ctx, timeout)
		if frame, err := c.display.ReadFrame(ctx); err == nil && frame != nil {
			c.lastDisplay = frame
		}
		cancel()
	}
	return c.lastWebcam, c.lastDisplay
}

// renderFrame draws one composited frame onto the canvas: clear, then
// branch on the current layout. Missing sources degrade to whatever is
// available rather than failing the tick.
func (c *CompositeRenderer) renderFrame(canvas *VideoFrame, webcam, display *VideoFrame) {
	clearI420(canvas, c.bg)

	w, h := canvas.Width, canvas.Height

	switch c.cell.Layout() {
	case LayoutOverlay:
		if display != nil {
			drawScaled(canvas, 0, 0, w, h, display, ScaleModeFill)
		}
		if webcam != nil {
			c.drawWebcamBubble(canvas, webcam)
		}

	case LayoutWebcamOnly:
		if webcam != nil {
			drawScaled(canvas, 0, 0, w, h, webcam, ScaleModeFit)
		} else if display != nil {
			drawScaled(canvas, 0, 0, w, h, display, ScaleModeFill)
		}

	case LayoutSideBySide:
		half := (w / 2) &^ 1
		switch {
		case display != nil && webcam != nil:
			drawScaled(canvas, 0, 0, half, h, display, ScaleModeFit)
			drawScaled(canvas, half, 0, w-half, h, webcam, ScaleModeFit)
		case display != nil:
			drawScaled(canvas, 0, 0, w, h, display, ScaleModeFill)
		case webcam != nil:
			drawScaled(canvas, 0, 0, w, h, webcam, ScaleModeFit)
		}

	default: // LayoutScreenOnly
		if display != nil {
			drawScaled(canvas, 0, 0, w, h, display, ScaleModeFill)
		} else if webcam != nil {
			drawScaled(canvas, 0, 0, w, h, webcam, ScaleModeFit)
		}
	}
}

// drawWebcamBubble cover-scales the webcam frame into the bubble's inner
// area and draws the bordered shape on top of the canvas.
func (c *CompositeRenderer) drawWebcamBubble(canvas, webcam *VideoFrame) {
	style := c.cell.Bubble()
	inner := bubbleInnerSize(style)

	if c.bubbleScaler == nil ||
		c.bubbleScaler.srcWidth != webcam.Width ||
		c.bubbleScaler.srcHeight != webcam.Height ||
		c.bubbleScaler.dstWidth != inner {
		c.bubbleScaler = NewVideoScaler(webcam.Width, webcam.Height, inner, inner, ScaleModeFill)
	}

	scaled := c.bubbleScaler.Scale(webcam)
	drawBubble(canvas, scaled, style)
}
