package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func overlayPayload() *HandoffPayload {
	return &HandoffPayload{
		SessionID: "sess-42",
		Screen: TrackBlob{
			Data:     []byte("screen-bytes"),
			MimeType: "video/x-matroska;codecs=mjpeg,pcm",
			Chunks:   2,
		},
		Webcam: &TrackBlob{
			Data:     []byte("webcam-bytes"),
			MimeType: "video/x-matroska;codecs=mjpeg",
			Chunks:   1,
		},
		Layout: LayoutOverlay,
		WebcamGeometry: &BubbleGeometry{
			X: 800, Y: 380, Size: 320,
			Shape: "circle", BorderColor: "#ffffff", BorderWidth: 6,
		},
		AutoProcess: true,
		LayoutSwitches: []LayoutSwitchEvent{
			{TimestampSeconds: 5, Layout: LayoutWebcamOnly},
			{TimestampSeconds: 9.5, Layout: LayoutOverlay},
		},
		Duration: 12500 * time.Millisecond,
	}
}

func singleBlobPayload() *HandoffPayload {
	return &HandoffPayload{
		SessionID: "sess-solo",
		Screen: TrackBlob{
			Data:     []byte("media-bytes"),
			MimeType: "video/x-matroska;codecs=mjpeg,pcm",
			Chunks:   1,
		},
		SingleBlob: true,
		Layout:     LayoutWebcamOnly,
		Duration:   3 * time.Second,
	}
}

func TestHandoffPayload_Manifest(t *testing.T) {
	raw, err := overlayPayload().Manifest()
	if err != nil {
		t.Fatalf("Manifest error: %v", err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("manifest is not valid JSON: %v", err)
	}

	checks := map[string]string{
		"session_id":       `"sess-42"`,
		"layout":           `"overlay"`,
		"screen_mime_type": `"video/x-matroska;codecs=mjpeg,pcm"`,
		"webcam_mime_type": `"video/x-matroska;codecs=mjpeg"`,
		"auto_process":     `true`,
		"duration_seconds": `12.5`,
	}
	for key, want := range checks {
		got, ok := m[key]
		if !ok {
			t.Errorf("manifest missing %q", key)
			continue
		}
		if string(got) != want {
			t.Errorf("manifest %s = %s, want %s", key, got, want)
		}
	}

	if _, ok := m["single_blob"]; ok {
		t.Error("two-blob manifest should omit single_blob")
	}

	var geo BubbleGeometry
	if err := json.Unmarshal(m["webcam_geometry"], &geo); err != nil {
		t.Fatalf("webcam_geometry unmarshal: %v", err)
	}
	if geo.X != 800 || geo.Y != 380 || geo.Size != 320 {
		t.Errorf("geometry = %+v, want 800/380/320", geo)
	}

	var switches []LayoutSwitchEvent
	if err := json.Unmarshal(m["layout_switches"], &switches); err != nil {
		t.Fatalf("layout_switches unmarshal: %v", err)
	}
	if len(switches) != 2 || switches[0].Layout != LayoutWebcamOnly {
		t.Errorf("switches = %v, want the recorded pair", switches)
	}
}

func TestHandoffPayload_ManifestSingleBlob(t *testing.T) {
	raw, err := singleBlobPayload().Manifest()
	if err != nil {
		t.Fatalf("Manifest error: %v", err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("manifest is not valid JSON: %v", err)
	}
	if string(m["single_blob"]) != "true" {
		t.Errorf("single_blob = %s, want true", m["single_blob"])
	}
	for _, key := range []string{"webcam_mime_type", "webcam_geometry", "layout_switches"} {
		if _, ok := m[key]; ok {
			t.Errorf("single-blob manifest should omit %q", key)
		}
	}
	if string(m["layout"]) != `"webcam_only"` {
		t.Errorf("layout = %s, want webcam_only", m["layout"])
	}
}

// submissionCapture is the raw request body seen by a stub ingest server.
type submissionCapture struct {
	method      string
	contentType string
	body        []byte
}

// captureServer records each submission and replies with the given
// status. Capture and decoding stay on separate goroutines, so the
// handler only copies bytes.
func captureServer(status int) (*httptest.Server, chan submissionCapture) {
	ch := make(chan submissionCapture, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ch <- submissionCapture{
			method:      r.Method,
			contentType: r.Header.Get("Content-Type"),
			body:        body,
		}
		w.WriteHeader(status)
	}))
	return server, ch
}

// multipartPart is one decoded part of a submission body.
type multipartPart struct {
	name        string
	filename    string
	contentType string
	data        []byte
}

func decodeParts(t *testing.T, c submissionCapture) []multipartPart {
	t.Helper()

	_, params, err := mime.ParseMediaType(c.contentType)
	if err != nil {
		t.Fatalf("bad content type %q: %v", c.contentType, err)
	}
	reader := multipart.NewReader(bytes.NewReader(c.body), params["boundary"])

	var parts []multipartPart
	for {
		p, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read part: %v", err)
		}
		data, err := io.ReadAll(p)
		if err != nil {
			t.Fatalf("read part body: %v", err)
		}
		parts = append(parts, multipartPart{
			name:        p.FormName(),
			filename:    p.FileName(),
			contentType: p.Header.Get("Content-Type"),
			data:        data,
		})
	}
	return parts
}

func TestHTTPSubmitter_PostsMultipart(t *testing.T) {
	payload := overlayPayload()
	server, captured := captureServer(http.StatusOK)
	defer server.Close()

	s := NewHTTPSubmitter(server.URL, WithHTTPClient(server.Client()), WithSubmitLogger(testLogger()))
	if err := s.Submit(context.Background(), payload); err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	c := <-captured
	if c.method != http.MethodPost {
		t.Errorf("method = %s, want POST", c.method)
	}

	parts := decodeParts(t, c)
	if len(parts) != 3 {
		t.Fatalf("part count = %d, want manifest + screen + webcam", len(parts))
	}

	manifest := parts[0]
	if manifest.name != "manifest" || manifest.contentType != "application/json" {
		t.Errorf("first part = %s (%s), want manifest (application/json)", manifest.name, manifest.contentType)
	}
	var m handoffManifest
	if err := json.Unmarshal(manifest.data, &m); err != nil {
		t.Fatalf("manifest part unmarshal: %v", err)
	}
	if m.SessionID != payload.SessionID {
		t.Errorf("manifest session = %q, want %q", m.SessionID, payload.SessionID)
	}

	screen := parts[1]
	if screen.name != "screen" || screen.filename != "screen.mkv" {
		t.Errorf("second part = %s/%s, want screen/screen.mkv", screen.name, screen.filename)
	}
	if screen.contentType != payload.Screen.MimeType {
		t.Errorf("screen part type = %q, want blob mime", screen.contentType)
	}
	if !bytes.Equal(screen.data, payload.Screen.Data) {
		t.Error("screen part bytes differ from the blob")
	}

	webcam := parts[2]
	if webcam.name != "webcam" || webcam.filename != "webcam.mkv" {
		t.Errorf("third part = %s/%s, want webcam/webcam.mkv", webcam.name, webcam.filename)
	}
	if webcam.contentType != payload.Webcam.MimeType {
		t.Errorf("webcam part type = %q, want blob mime", webcam.contentType)
	}
	if !bytes.Equal(webcam.data, payload.Webcam.Data) {
		t.Error("webcam part bytes differ from the blob")
	}
}

func TestHTTPSubmitter_SingleBlobPostsOnePart(t *testing.T) {
	payload := singleBlobPayload()
	server, captured := captureServer(http.StatusCreated)
	defer server.Close()

	s := NewHTTPSubmitter(server.URL, WithHTTPClient(server.Client()), WithSubmitLogger(testLogger()))
	if err := s.Submit(context.Background(), payload); err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	parts := decodeParts(t, <-captured)
	if len(parts) != 2 {
		t.Fatalf("part count = %d, want manifest + media", len(parts))
	}
	media := parts[1]
	if media.name != "media" || media.filename != "media.mkv" {
		t.Errorf("blob part = %s/%s, want media/media.mkv", media.name, media.filename)
	}
	if !bytes.Equal(media.data, payload.Screen.Data) {
		t.Error("media part bytes differ from the blob")
	}
}

func TestHTTPSubmitter_RejectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer server.Close()

	s := NewHTTPSubmitter(server.URL, WithHTTPClient(server.Client()), WithSubmitLogger(testLogger()))
	err := s.Submit(context.Background(), singleBlobPayload())
	if !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("Submit = %v, want ErrUploadFailed", err)
	}
	if !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("error %q should carry status and body", err)
	}
}

func TestHTTPSubmitter_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	s := NewHTTPSubmitter(url, WithSubmitLogger(testLogger()))
	if err := s.Submit(context.Background(), singleBlobPayload()); !errors.Is(err, ErrUploadFailed) {
		t.Errorf("Submit to dead server = %v, want ErrUploadFailed", err)
	}
}

func TestNullSubmitter(t *testing.T) {
	var s NullSubmitter
	if err := s.Submit(context.Background(), overlayPayload()); err != nil {
		t.Fatalf("Submit = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Submit(ctx, overlayPayload()); !errors.Is(err, context.Canceled) {
		t.Errorf("Submit with cancelled context = %v, want context.Canceled", err)
	}
}
