package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrUploadFailed wraps handoff submissions rejected by the boundary.
var ErrUploadFailed = pkgerrors.New("handoff submission failed")

// HandoffPayload is the single outbound artifact of a capture session:
// the recorded blobs plus everything the processing pipeline needs to
// merge them.
type HandoffPayload struct {
	SessionID string

	// Screen is the screen-track blob with audio muxed where available.
	// On single-blob sessions it holds the sole recorded blob instead.
	Screen TrackBlob

	// Webcam is the separately encoded webcam blob, nil when absent.
	Webcam *TrackBlob

	// SingleBlob marks the simplified submission used when only one
	// stream was produced, e.g. a webcam-only session.
	SingleBlob bool

	// Layout is the layout selected for the session.
	Layout Layout

	// WebcamGeometry places the webcam bubble in the canonical
	// 1920x1080 pixel space. Nil when no webcam was captured.
	WebcamGeometry *BubbleGeometry

	// AutoProcess asks the pipeline to process without manual review.
	AutoProcess bool

	// LayoutSwitches is the ordered auto-switch record.
	LayoutSwitches []LayoutSwitchEvent

	Duration time.Duration
}

// handoffManifest is the JSON metadata part of a submission.
type handoffManifest struct {
	SessionID       string              `json:"session_id"`
	Layout          Layout              `json:"layout"`
	ScreenMime      string              `json:"screen_mime_type"`
	WebcamMime      string              `json:"webcam_mime_type,omitempty"`
	SingleBlob      bool                `json:"single_blob,omitempty"`
	WebcamGeometry  *BubbleGeometry     `json:"webcam_geometry,omitempty"`
	AutoProcess     bool                `json:"auto_process"`
	LayoutSwitches  []LayoutSwitchEvent `json:"layout_switches,omitempty"`
	DurationSeconds float64             `json:"duration_seconds,omitempty"`
}

// Manifest returns the JSON metadata describing the payload.
func (p *HandoffPayload) Manifest() ([]byte, error) {
	m := handoffManifest{
		SessionID:       p.SessionID,
		Layout:          p.Layout,
		ScreenMime:      p.Screen.MimeType,
		SingleBlob:      p.SingleBlob,
		WebcamGeometry:  p.WebcamGeometry,
		AutoProcess:     p.AutoProcess,
		LayoutSwitches:  p.LayoutSwitches,
		DurationSeconds: p.Duration.Seconds(),
	}
	if p.Webcam != nil {
		m.WebcamMime = p.Webcam.MimeType
	}
	return json.Marshal(m)
}

// Submitter dispatches a finished payload across the outbound boundary.
type Submitter interface {
	Submit(ctx context.Context, payload *HandoffPayload) error
}

// NullSubmitter accepts and discards every payload. Useful for headless
// runs that only want the recording side effects.
type NullSubmitter struct{}

// Submit implements Submitter.
func (NullSubmitter) Submit(ctx context.Context, payload *HandoffPayload) error {
	return ctx.Err()
}

// HTTPSubmitter posts payloads as multipart/form-data: a "manifest"
// JSON part plus one file part per blob ("screen" and "webcam", or a
// single "media" part on the single-blob path).
type HTTPSubmitter struct {
	url    string
	client *http.Client
	log    logrus.FieldLogger
}

// HTTPSubmitterOption customizes an HTTPSubmitter.
type HTTPSubmitterOption func(*HTTPSubmitter)

// WithHTTPClient sets the client used for submissions.
func WithHTTPClient(client *http.Client) HTTPSubmitterOption {
	return func(s *HTTPSubmitter) { s.client = client }
}

// WithSubmitLogger sets the submission logger.
func WithSubmitLogger(log logrus.FieldLogger) HTTPSubmitterOption {
	return func(s *HTTPSubmitter) { s.log = log }
}

// NewHTTPSubmitter creates a submitter posting to the given URL.
func NewHTTPSubmitter(url string, opts ...HTTPSubmitterOption) *HTTPSubmitter {
	s := &HTTPSubmitter{
		url:    url,
		client: &http.Client{Timeout: 2 * time.Minute},
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "handoff")
	return s
}

// Submit implements Submitter.
func (s *HTTPSubmitter) Submit(ctx context.Context, payload *HandoffPayload) error {
	body, contentType, err := encodeMultipart(payload)
	if err != nil {
		return pkgerrors.Wrap(err, "encode handoff")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, body)
	if err != nil {
		return pkgerrors.Wrap(err, "build handoff request")
	}
	req.Header.Set("Content-Type", contentType)

	s.log.WithFields(logrus.Fields{
		"session":     payload.SessionID,
		"screen_size": len(payload.Screen.Data),
		"single_blob": payload.SingleBlob,
	}).Debug("submitting handoff payload")

	resp, err := s.client.Do(req)
	if err != nil {
		return pkgerrors.Wrapf(ErrUploadFailed, "post %s: %v", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return pkgerrors.Wrapf(ErrUploadFailed, "status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	s.log.WithField("session", payload.SessionID).Debug("handoff accepted")
	return nil
}

// encodeMultipart renders the payload into a multipart body.
func encodeMultipart(payload *HandoffPayload) (*bytes.Buffer, string, error) {
	manifest, err := payload.Manifest()
	if err != nil {
		return nil, "", err
	}

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	part, err := createPart(w, "manifest", "", "application/json")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(manifest); err != nil {
		return nil, "", err
	}

	if payload.SingleBlob {
		if err := writeBlobPart(w, "media", "media.mkv", payload.Screen); err != nil {
			return nil, "", err
		}
	} else {
		if err := writeBlobPart(w, "screen", "screen.mkv", payload.Screen); err != nil {
			return nil, "", err
		}
		if payload.Webcam != nil {
			if err := writeBlobPart(w, "webcam", "webcam.mkv", *payload.Webcam); err != nil {
				return nil, "", err
			}
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return body, w.FormDataContentType(), nil
}

func writeBlobPart(w *multipart.Writer, field, filename string, blob TrackBlob) error {
	part, err := createPart(w, field, filename, blob.MimeType)
	if err != nil {
		return err
	}
	_, err = part.Write(blob.Data)
	return err
}

// createPart opens a form part with an explicit content type, which
// multipart.Writer's convenience helpers cannot set.
func createPart(w *multipart.Writer, field, filename, contentType string) (io.Writer, error) {
	h := make(textproto.MIMEHeader)
	if filename != "" {
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	} else {
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q`, field))
	}
	h.Set("Content-Type", contentType)
	return w.CreatePart(h)
}
