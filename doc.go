// Package capture implements the client-side recording engine for
// screen-plus-webcam sessions: device acquisition, live compositing,
// dual-track encoding and the final artifact handoff.
//
// Key pieces include:
//   - DeviceManager: tiered camera acquisition, voice-processed microphone
//     capture and user-initiated display capture behind a pluggable
//     DeviceProvider
//   - CompositeRenderer: a 30 fps draw loop blending the display frame and
//     a bordered webcam bubble into a preview canvas
//   - ActivityMonitor: idle detection that switches the layout to the
//     webcam while the screen is quiet, with a dwell window on the way back
//   - TrackRecorder: independent per-track encoder bindings writing
//     chunked Matroska into append-only buffers
//   - RecordingController: the session state machine tying the above
//     together (countdown, recording, processing, preview)
//   - HandoffPayload/HTTPSubmitter: the assembled blobs, layout switch log
//     and bubble geometry posted to the processing backend
//
// # Architecture
//
//	Record:  DeviceManager -> TrackRecorder (per track) -> VideoEncoder/AudioEncoder -> MatroskaWriter -> ChunkBuffer
//	Preview: DeviceManager -> CompositeRenderer -> PreviewStream -> RTPPacketizer -> LocalTrack (pion)
//
// The composited canvas is preview-only. Recorded artifacts always come
// from the raw per-track bindings, so the backend can re-composite with
// full quality using the layout switch log and bubble geometry carried in
// the handoff payload.
//
// # Sources
//
// Capture devices are abstracted behind DeviceProvider. The package ships
// a SyntheticProvider generating test patterns and tones for headless
// runs; platform providers register themselves via RegisterDeviceProvider.
//
// # Codecs
//
// Encoders are registered per codec. The pure-Go baseline pairs MJPEG
// video with PCM audio and is always available; capability tables probe
// richer codecs first and fall back tier by tier.
package capture
