package capture

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image/jpeg"
	"math"
	"testing"
)

func TestMJPEGEncoder_ProducesDecodableJPEG(t *testing.T) {
	enc, err := NewMJPEGEncoder(DefaultVideoEncoderConfig(VideoCodecMJPEG, 320, 240))
	if err != nil {
		t.Fatalf("NewMJPEGEncoder error: %v", err)
	}
	defer enc.Close()

	frame := createGradientFrame(320, 240)
	frame.Timestamp = 123_456_789
	frame.Duration = 33_333_333

	encoded, err := enc.Encode(frame)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if encoded.FrameType != FrameTypeKey {
		t.Errorf("frame type = %v, want Key", encoded.FrameType)
	}
	if encoded.PTS != frame.Timestamp {
		t.Errorf("PTS = %d, want %d", encoded.PTS, frame.Timestamp)
	}

	img, err := jpeg.Decode(bytes.NewReader(encoded.Data))
	if err != nil {
		t.Fatalf("output is not decodable JPEG: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 320 || bounds.Dy() != 240 {
		t.Errorf("decoded size = %dx%d, want 320x240", bounds.Dx(), bounds.Dy())
	}
}

func TestMJPEGEncoder_OutputSurvivesNextEncode(t *testing.T) {
	enc, err := NewMJPEGEncoder(DefaultVideoEncoderConfig(VideoCodecMJPEG, 320, 240))
	if err != nil {
		t.Fatalf("NewMJPEGEncoder error: %v", err)
	}
	defer enc.Close()

	first, err := enc.Encode(solidFrame(320, 240, 60))
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	snapshot := make([]byte, len(first.Data))
	copy(snapshot, first.Data)

	if _, err := enc.Encode(solidFrame(320, 240, 200)); err != nil {
		t.Fatalf("second Encode error: %v", err)
	}

	if !bytes.Equal(first.Data, snapshot) {
		t.Error("first frame's data was overwritten by the second encode")
	}
}

func TestMJPEGEncoder_InvalidDimensions(t *testing.T) {
	if _, err := NewMJPEGEncoder(DefaultVideoEncoderConfig(VideoCodecMJPEG, 0, 240)); err == nil {
		t.Error("zero width should fail")
	}
	if _, err := NewMJPEGEncoder(DefaultVideoEncoderConfig(VideoCodecMJPEG, 320, -1)); err == nil {
		t.Error("negative height should fail")
	}
}

func TestMJPEGEncoder_RejectsPackedFormats(t *testing.T) {
	enc, err := NewMJPEGEncoder(DefaultVideoEncoderConfig(VideoCodecMJPEG, 320, 240))
	if err != nil {
		t.Fatalf("NewMJPEGEncoder error: %v", err)
	}
	defer enc.Close()

	frame := &VideoFrame{
		Data:   [][]byte{make([]byte, 320*240*4)},
		Stride: []int{320 * 4},
		Width:  320,
		Height: 240,
		Format: PixelFormatRGBA32,
	}
	if _, err := enc.Encode(frame); err == nil {
		t.Error("RGBA input should fail")
	}
}

func TestMJPEGEncoder_Quality(t *testing.T) {
	config := DefaultVideoEncoderConfig(VideoCodecMJPEG, 1280, 720)
	config.Quality = 85
	enc, err := NewMJPEGEncoder(config)
	if err != nil {
		t.Fatalf("NewMJPEGEncoder error: %v", err)
	}
	if got := enc.Quality(); got != 85 {
		t.Errorf("explicit quality = %d, want 85", got)
	}

	if err := enc.SetBitrate(6_000_000); err != nil {
		t.Fatalf("SetBitrate error: %v", err)
	}
	if got := enc.Quality(); got != 43 {
		t.Errorf("quality for 6Mbps 720p30 = %d, want 43", got)
	}
}

func TestQualityForBitrate(t *testing.T) {
	tests := []struct {
		name                        string
		bitrate, width, height, fps int
		want                        int
	}{
		{"no bitrate", 0, 1280, 720, 30, 80},
		{"floor", 1_000_000, 1920, 1080, 30, 40},
		{"720p 6Mbps", 6_000_000, 1280, 720, 30, 43},
		{"ceiling", 500_000_000, 1280, 720, 30, 95},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := qualityForBitrate(tt.bitrate, tt.width, tt.height, tt.fps); got != tt.want {
				t.Errorf("qualityForBitrate = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMJPEGEncoder_Stats(t *testing.T) {
	enc, err := NewMJPEGEncoder(DefaultVideoEncoderConfig(VideoCodecMJPEG, 320, 240))
	if err != nil {
		t.Fatalf("NewMJPEGEncoder error: %v", err)
	}
	defer enc.Close()

	for i := 0; i < 3; i++ {
		if _, err := enc.Encode(solidFrame(320, 240, 90)); err != nil {
			t.Fatalf("Encode error: %v", err)
		}
	}

	stats := enc.Stats()
	if stats.FramesEncoded != 3 || stats.KeyframesEncoded != 3 {
		t.Errorf("frames/keyframes = %d/%d, want 3/3", stats.FramesEncoded, stats.KeyframesEncoded)
	}
	if stats.BytesEncoded == 0 {
		t.Error("BytesEncoded should be non-zero")
	}
}

func TestNewVideoEncoder_Registry(t *testing.T) {
	enc, err := NewVideoEncoder(DefaultVideoEncoderConfig(VideoCodecMJPEG, 640, 480))
	if err != nil {
		t.Fatalf("NewVideoEncoder(MJPEG) error: %v", err)
	}
	if enc.Codec() != VideoCodecMJPEG {
		t.Errorf("Codec = %v, want MJPEG", enc.Codec())
	}
	enc.Close()

	if _, err := NewVideoEncoder(DefaultVideoEncoderConfig(VideoCodecVP8, 640, 480)); !errors.Is(err, ErrCodecNotSupported) {
		t.Errorf("NewVideoEncoder(VP8) = %v, want ErrCodecNotSupported", err)
	}

	if !VideoEncoderSupported(VideoCodecMJPEG) {
		t.Error("MJPEG should be supported")
	}
	if VideoEncoderSupported(VideoCodecAV1) {
		t.Error("AV1 should not be supported")
	}
}

func TestNewAudioEncoder_Registry(t *testing.T) {
	enc, err := NewAudioEncoder(DefaultAudioEncoderConfig(AudioCodecPCM))
	if err != nil {
		t.Fatalf("NewAudioEncoder(PCM) error: %v", err)
	}
	if enc.Codec() != AudioCodecPCM {
		t.Errorf("Codec = %v, want PCM", enc.Codec())
	}
	enc.Close()

	if _, err := NewAudioEncoder(DefaultAudioEncoderConfig(AudioCodecOpus)); !errors.Is(err, ErrCodecNotSupported) {
		t.Errorf("NewAudioEncoder(Opus) = %v, want ErrCodecNotSupported", err)
	}
}

func pcmInput(sampleCount int, ts int64) *AudioSamples {
	return &AudioSamples{
		Data:        make([]byte, sampleCount*2),
		SampleRate:  48000,
		Channels:    1,
		SampleCount: sampleCount,
		Format:      AudioFormatS16,
		Timestamp:   ts,
	}
}

func TestPCMEncoder_AccumulatesPacketDuration(t *testing.T) {
	enc, err := NewPCMEncoder(DefaultAudioEncoderConfig(AudioCodecPCM))
	if err != nil {
		t.Fatalf("NewPCMEncoder error: %v", err)
	}
	defer enc.Close()

	// 10ms in: below the 20ms packet size, nothing comes out.
	out, err := enc.Encode(pcmInput(480, 1_000_000))
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if out != nil {
		t.Fatalf("got packet after 10ms, want nil")
	}

	// Second 10ms completes the packet.
	out, err = enc.Encode(pcmInput(480, 11_000_000))
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if out == nil {
		t.Fatal("want a packet after 20ms of input")
	}
	if len(out.Data) != 1920 {
		t.Errorf("packet size = %d bytes, want 1920", len(out.Data))
	}
	if out.SampleCount != 960 {
		t.Errorf("SampleCount = %d, want 960", out.SampleCount)
	}
	if out.Duration != 20_000_000 {
		t.Errorf("Duration = %d, want 20ms", out.Duration)
	}
	// The packet carries the PTS of its first sample.
	if out.PTS != 1_000_000 {
		t.Errorf("PTS = %d, want 1000000", out.PTS)
	}
}

func TestPCMEncoder_FlushReturnsRemainder(t *testing.T) {
	enc, err := NewPCMEncoder(DefaultAudioEncoderConfig(AudioCodecPCM))
	if err != nil {
		t.Fatalf("NewPCMEncoder error: %v", err)
	}
	defer enc.Close()

	if _, err := enc.Encode(pcmInput(480, 0)); err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	out, err := enc.Flush()
	if err != nil {
		t.Fatalf("Flush error: %v", err)
	}
	if out == nil {
		t.Fatal("Flush should return the 10ms remainder")
	}
	if out.SampleCount != 480 || out.Duration != 10_000_000 {
		t.Errorf("remainder = %d samples / %dns, want 480 / 10ms", out.SampleCount, out.Duration)
	}

	out, err = enc.Flush()
	if err != nil {
		t.Fatalf("second Flush error: %v", err)
	}
	if out != nil {
		t.Error("second Flush should return nil")
	}
}

func TestPCMEncoder_PTSAdvancesAcrossPackets(t *testing.T) {
	enc, err := NewPCMEncoder(DefaultAudioEncoderConfig(AudioCodecPCM))
	if err != nil {
		t.Fatalf("NewPCMEncoder error: %v", err)
	}
	defer enc.Close()

	first, err := enc.Encode(pcmInput(960, 5_000_000))
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	second, err := enc.Encode(pcmInput(960, 25_000_000))
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	if first == nil || second == nil {
		t.Fatal("both 20ms inputs should emit packets")
	}
	if first.PTS != 5_000_000 {
		t.Errorf("first PTS = %d, want 5ms", first.PTS)
	}
	if second.PTS != first.PTS+first.Duration {
		t.Errorf("second PTS = %d, want contiguous %d", second.PTS, first.PTS+first.Duration)
	}
}

func TestPCMEncoder_ConvertsF32(t *testing.T) {
	enc, err := NewPCMEncoder(DefaultAudioEncoderConfig(AudioCodecPCM))
	if err != nil {
		t.Fatalf("NewPCMEncoder error: %v", err)
	}
	defer enc.Close()

	floats := []float32{0, 0.5, -1.0, 1.5}
	data := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(f))
	}

	if _, err := enc.Encode(&AudioSamples{
		Data:        data,
		SampleRate:  48000,
		Channels:    1,
		SampleCount: len(floats),
		Format:      AudioFormatF32,
		Timestamp:   0,
	}); err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	out, err := enc.Flush()
	if err != nil {
		t.Fatalf("Flush error: %v", err)
	}
	if out == nil {
		t.Fatal("Flush should return the converted samples")
	}

	want := []int16{0, 16383, -32767, 32767}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(out.Data[i*2:]))
		if got != w {
			t.Errorf("sample %d = %d, want %d", i, got, w)
		}
	}
}

func TestPCMEncoder_RejectsFormatMismatch(t *testing.T) {
	enc, err := NewPCMEncoder(DefaultAudioEncoderConfig(AudioCodecPCM))
	if err != nil {
		t.Fatalf("NewPCMEncoder error: %v", err)
	}
	defer enc.Close()

	bad := pcmInput(480, 0)
	bad.SampleRate = 44100
	if _, err := enc.Encode(bad); err == nil {
		t.Error("mismatched sample rate should fail")
	}

	stereo := pcmInput(480, 0)
	stereo.Channels = 2
	if _, err := enc.Encode(stereo); err == nil {
		t.Error("mismatched channel count should fail")
	}
}
