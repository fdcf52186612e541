package capture

import (
	"context"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"
)

// stubVideoSource hands out the same frame on every read.
type stubVideoSource struct {
	frame *VideoFrame
}

func (s *stubVideoSource) Start(ctx context.Context) error { return nil }
func (s *stubVideoSource) Stop() error                     { return nil }
func (s *stubVideoSource) Close() error                    { return nil }

func (s *stubVideoSource) ReadFrame(ctx context.Context) (*VideoFrame, error) {
	return s.frame, nil
}

func (s *stubVideoSource) SetCallback(cb VideoFrameCallback) {}

func (s *stubVideoSource) Config() SourceConfig {
	return SourceConfig{
		Width:      s.frame.Width,
		Height:     s.frame.Height,
		FPS:        30,
		Format:     PixelFormatI420,
		SourceType: SourceTypeCustom,
	}
}

func solidFrame(width, height int, luma byte) *VideoFrame {
	f := NewI420Frame(width, height)
	for i := range f.Data[0] {
		f.Data[0][i] = luma
	}
	fillChromaNeutral(f)
	return f
}

func solidVideoTrack(id string, width, height int, luma byte) VideoTrack {
	source := &stubVideoSource{frame: solidFrame(width, height, luma)}
	return NewSourceVideoTrack(id, id, source, VideoTrackSettings{
		Width:     width,
		Height:    height,
		FrameRate: 30,
	})
}

func lumaAt(f *VideoFrame, x, y int) byte {
	return f.Data[0][y*f.Stride[0]+x]
}

func startRenderer(t *testing.T, cell *LayoutCell) (*CompositeRenderer, *testingclock.FakeClock) {
	t.Helper()

	fc := testingclock.NewFakeClock(time.Now())
	config := DefaultRendererConfig()
	config.Clock = fc

	r := NewCompositeRenderer(config, cell)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	t.Cleanup(func() { r.Close() })

	waitUntil(t, "render ticker armed", fc.HasWaiters)
	return r, fc
}

func nextFrame(t *testing.T, r *CompositeRenderer, fc *testingclock.FakeClock) *VideoFrame {
	t.Helper()

	fc.Step(40 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	frame, err := r.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame error: %v", err)
	}
	return frame
}

func TestCompositeRenderer_Config(t *testing.T) {
	cell := NewLayoutCell(CanonicalWidth, CanonicalHeight, LayoutOverlay)
	r := NewCompositeRenderer(DefaultRendererConfig(), cell)

	cfg := r.Config()
	if cfg.Width != 1920 || cfg.Height != 1080 {
		t.Errorf("canvas = %dx%d, want 1920x1080", cfg.Width, cfg.Height)
	}
	if cfg.FPS != 30 {
		t.Errorf("fps = %d, want 30", cfg.FPS)
	}
	if cfg.Format != PixelFormatI420 {
		t.Errorf("format = %v, want I420", cfg.Format)
	}
}

func TestCompositeRenderer_NoSourcesDrawsBackground(t *testing.T) {
	cell := NewLayoutCell(CanonicalWidth, CanonicalHeight, LayoutOverlay)
	r, fc := startRenderer(t, cell)

	frame := nextFrame(t, r, fc)
	if got := lumaAt(frame, 960, 540); got != 16 {
		t.Errorf("center luma = %d, want black (16)", got)
	}
	if r.FramesRendered() == 0 {
		t.Error("FramesRendered should count the tick")
	}
}

func TestCompositeRenderer_OverlayDrawsDisplayWithBubble(t *testing.T) {
	cell := NewLayoutCell(CanonicalWidth, CanonicalHeight, LayoutOverlay)
	r, fc := startRenderer(t, cell)

	r.SetDisplay(solidVideoTrack("display", 1920, 1080, 200))
	r.SetWebcam(solidVideoTrack("webcam", 640, 480, 90))

	frame := nextFrame(t, r, fc)

	// Display fills the canvas away from the bubble.
	if got := lumaAt(frame, 1800, 100); got != 200 {
		t.Errorf("display luma = %d, want 200", got)
	}

	// Default bubble: 320px circle centered at (15%, 80%) = (288, 864).
	if got := lumaAt(frame, 288, 864); got != 90 {
		t.Errorf("bubble center luma = %d, want webcam 90", got)
	}

	// Top of the circle sits in the white border ring.
	if got := lumaAt(frame, 288, 864-159); got != 235 {
		t.Errorf("border luma = %d, want white (235)", got)
	}

	// The bounding-box corner is outside the circle: display shows through.
	if got := lumaAt(frame, 288-158, 864-158); got != 200 {
		t.Errorf("corner luma = %d, want display 200", got)
	}
}

func TestCompositeRenderer_WebcamOnlyLetterboxes(t *testing.T) {
	cell := NewLayoutCell(CanonicalWidth, CanonicalHeight, LayoutWebcamOnly)
	r, fc := startRenderer(t, cell)

	r.SetDisplay(solidVideoTrack("display", 1920, 1080, 200))
	r.SetWebcam(solidVideoTrack("webcam", 640, 480, 90))

	frame := nextFrame(t, r, fc)

	// 4:3 webcam on a 16:9 canvas: pillarboxed to 1440x1080 centered.
	if got := lumaAt(frame, 960, 540); got != 90 {
		t.Errorf("center luma = %d, want webcam 90", got)
	}
	if got := lumaAt(frame, 100, 540); got != 16 {
		t.Errorf("pillarbox luma = %d, want black (16)", got)
	}
	if got := lumaAt(frame, 1820, 540); got != 16 {
		t.Errorf("pillarbox luma = %d, want black (16)", got)
	}
}

func TestCompositeRenderer_FollowsLayoutCell(t *testing.T) {
	cell := NewLayoutCell(CanonicalWidth, CanonicalHeight, LayoutOverlay)
	r, fc := startRenderer(t, cell)

	r.SetDisplay(solidVideoTrack("display", 1920, 1080, 200))
	r.SetWebcam(solidVideoTrack("webcam", 1280, 720, 90))

	frame := nextFrame(t, r, fc)
	if got := lumaAt(frame, 1800, 100); got != 200 {
		t.Errorf("overlay frame luma = %d, want display 200", got)
	}

	// The monitor flips the shared cell; the next tick follows it.
	cell.SetLayout(LayoutWebcamOnly)
	frame = nextFrame(t, r, fc)
	if got := lumaAt(frame, 960, 540); got != 90 {
		t.Errorf("webcam_only frame luma = %d, want webcam 90", got)
	}
}

func TestCompositeRenderer_WebcamOnlyWithoutWebcam(t *testing.T) {
	cell := NewLayoutCell(CanonicalWidth, CanonicalHeight, LayoutWebcamOnly)
	r, fc := startRenderer(t, cell)

	// Only a display attached: degrade to drawing it instead of black.
	r.SetDisplay(solidVideoTrack("display", 1920, 1080, 200))

	frame := nextFrame(t, r, fc)
	if got := lumaAt(frame, 960, 540); got != 200 {
		t.Errorf("center luma = %d, want display 200", got)
	}
}

func TestCompositeRenderer_SideBySide(t *testing.T) {
	cell := NewLayoutCell(CanonicalWidth, CanonicalHeight, LayoutSideBySide)
	r, fc := startRenderer(t, cell)

	r.SetDisplay(solidVideoTrack("display", 1920, 1080, 200))
	r.SetWebcam(solidVideoTrack("webcam", 1280, 720, 90))

	frame := nextFrame(t, r, fc)

	// 16:9 halves fit to 960x540 centered vertically in each half.
	if got := lumaAt(frame, 480, 540); got != 200 {
		t.Errorf("left half luma = %d, want display 200", got)
	}
	if got := lumaAt(frame, 1440, 540); got != 90 {
		t.Errorf("right half luma = %d, want webcam 90", got)
	}
	// Above the fitted region both halves show background.
	if got := lumaAt(frame, 480, 100); got != 16 {
		t.Errorf("letterbox luma = %d, want black (16)", got)
	}
}

func TestCompositeRenderer_CloseEndsReads(t *testing.T) {
	cell := NewLayoutCell(CanonicalWidth, CanonicalHeight, LayoutOverlay)
	r, fc := startRenderer(t, cell)
	_ = fc

	if err := r.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	if _, err := r.ReadFrame(context.Background()); err != ErrSourceClosed {
		t.Errorf("ReadFrame after Close = %v, want ErrSourceClosed", err)
	}

	// Stop and Close are idempotent.
	if err := r.Stop(); err != nil {
		t.Errorf("second Stop error: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close error: %v", err)
	}
}

func TestBubbleInnerSize(t *testing.T) {
	tests := []struct {
		name  string
		style BubbleStyle
		want  int
	}{
		{"default border", BubbleStyle{Size: 320, BorderWidth: 6}, 308},
		{"no border", BubbleStyle{Size: 320, BorderWidth: 0}, 320},
		{"negative border", BubbleStyle{Size: 320, BorderWidth: -3}, 320},
		{"border capped", BubbleStyle{Size: 20, BorderWidth: 50}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bubbleInnerSize(tt.style); got != tt.want {
				t.Errorf("bubbleInnerSize = %d, want %d", got, tt.want)
			}
		})
	}
}
