package capture

// VideoCodec identifies the video codec type.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecMJPEG
	VideoCodecVP8
	VideoCodecVP9
	VideoCodecH264
	VideoCodecAV1
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecMJPEG:
		return "MJPEG"
	case VideoCodecVP8:
		return "VP8"
	case VideoCodecVP9:
		return "VP9"
	case VideoCodecH264:
		return "H264"
	case VideoCodecAV1:
		return "AV1"
	default:
		return "Unknown"
	}
}

// MimeType returns the RTP MIME type for this codec.
func (c VideoCodec) MimeType() string {
	switch c {
	case VideoCodecMJPEG:
		return "video/JPEG"
	case VideoCodecVP8:
		return "video/VP8"
	case VideoCodecVP9:
		return "video/VP9"
	case VideoCodecH264:
		return "video/H264"
	case VideoCodecAV1:
		return "video/AV1"
	default:
		return ""
	}
}

// CodecsToken returns the token used in a container MIME "codecs" parameter.
func (c VideoCodec) CodecsToken() string {
	switch c {
	case VideoCodecMJPEG:
		return "mjpeg"
	case VideoCodecVP8:
		return "vp8"
	case VideoCodecVP9:
		return "vp9"
	case VideoCodecH264:
		return "avc1"
	case VideoCodecAV1:
		return "av01"
	default:
		return ""
	}
}

// MatroskaCodecID returns the Matroska CodecID for this codec.
func (c VideoCodec) MatroskaCodecID() string {
	switch c {
	case VideoCodecMJPEG:
		return "V_MJPEG"
	case VideoCodecVP8:
		return "V_VP8"
	case VideoCodecVP9:
		return "V_VP9"
	case VideoCodecH264:
		return "V_MPEG4/ISO/AVC"
	case VideoCodecAV1:
		return "V_AV1"
	default:
		return ""
	}
}

// ClockRate returns the RTP clock rate for this codec.
func (c VideoCodec) ClockRate() uint32 {
	// All video codecs use 90kHz clock
	return 90000
}

// DefaultPayloadType returns a typical RTP payload type for this codec.
func (c VideoCodec) DefaultPayloadType() uint8 {
	switch c {
	case VideoCodecMJPEG:
		return 26 // Static payload type
	case VideoCodecVP8:
		return 96
	case VideoCodecVP9:
		return 98
	case VideoCodecH264:
		return 102
	case VideoCodecAV1:
		return 35
	default:
		return 96
	}
}

// AudioCodec identifies the audio codec type.
type AudioCodec int

const (
	AudioCodecUnknown AudioCodec = iota
	AudioCodecPCM
	AudioCodecOpus
	AudioCodecAAC
)

func (c AudioCodec) String() string {
	switch c {
	case AudioCodecPCM:
		return "PCM"
	case AudioCodecOpus:
		return "Opus"
	case AudioCodecAAC:
		return "AAC"
	default:
		return "Unknown"
	}
}

// MimeType returns the RTP MIME type for this codec.
func (c AudioCodec) MimeType() string {
	switch c {
	case AudioCodecPCM:
		return "audio/L16"
	case AudioCodecOpus:
		return "audio/opus"
	case AudioCodecAAC:
		return "audio/AAC"
	default:
		return ""
	}
}

// CodecsToken returns the token used in a container MIME "codecs" parameter.
func (c AudioCodec) CodecsToken() string {
	switch c {
	case AudioCodecPCM:
		return "pcm"
	case AudioCodecOpus:
		return "opus"
	case AudioCodecAAC:
		return "mp4a.40.2"
	default:
		return ""
	}
}

// MatroskaCodecID returns the Matroska CodecID for this codec.
func (c AudioCodec) MatroskaCodecID() string {
	switch c {
	case AudioCodecPCM:
		return "A_PCM/INT/LIT"
	case AudioCodecOpus:
		return "A_OPUS"
	case AudioCodecAAC:
		return "A_AAC"
	default:
		return ""
	}
}

// ClockRate returns the RTP clock rate for this codec.
func (c AudioCodec) ClockRate() uint32 {
	switch c {
	case AudioCodecOpus:
		return 48000
	case AudioCodecPCM:
		return 48000
	case AudioCodecAAC:
		return 48000 // Varies, but 48kHz is common
	default:
		return 48000
	}
}

// DefaultPayloadType returns a typical RTP payload type for this codec.
func (c AudioCodec) DefaultPayloadType() uint8 {
	switch c {
	case AudioCodecPCM:
		return 97
	case AudioCodecOpus:
		return 111
	case AudioCodecAAC:
		return 98
	default:
		return 111
	}
}
