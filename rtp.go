package capture

import (
	"fmt"
	"sync"

	"github.com/pion/rtp"
)

// Re-export pion/rtp types for convenience
type (
	// RTPPacket is an alias to pion's rtp.Packet
	RTPPacket = rtp.Packet

	// RTPHeader is an alias to pion's rtp.Header
	RTPHeader = rtp.Header
)

// Default MTU for RTP packets (UDP safe)
const DefaultMTU = 1200

// RTPPacketizer segments encoded frames into RTP packets.
type RTPPacketizer interface {
	// Packetize converts an encoded frame to RTP packets.
	Packetize(frame *EncodedFrame) ([]*RTPPacket, error)

	// SetSSRC updates the SSRC for outgoing packets.
	SetSSRC(ssrc uint32)

	// SSRC returns the current SSRC.
	SSRC() uint32

	// PayloadType returns the configured payload type.
	PayloadType() uint8

	// SetPayloadType updates the payload type.
	SetPayloadType(pt uint8)

	// MTU returns the maximum transmission unit.
	MTU() int

	// SetMTU updates the MTU.
	SetMTU(mtu int)
}

// RTPDepacketizer reassembles RTP packets into encoded frames.
type RTPDepacketizer interface {
	// Depacketize processes an RTP packet and returns a complete frame
	// if available. Returns nil if the frame is not yet complete.
	Depacketize(packet *RTPPacket) (*EncodedFrame, error)

	// DepacketizeBytes processes raw RTP packet bytes.
	DepacketizeBytes(data []byte) (*EncodedFrame, error)

	// Reset clears any buffered partial frames.
	Reset()
}

// RTPWriter is a sink for outgoing RTP packets.
type RTPWriter interface {
	WriteRTP(packet *RTPPacket) error
}

// PacketizerFactory creates an RTP packetizer.
type PacketizerFactory func(ssrc uint32, pt uint8, mtu int) (RTPPacketizer, error)

// DepacketizerFactory creates an RTP depacketizer.
type DepacketizerFactory func() (RTPDepacketizer, error)

// rtpRegistry holds packetizer/depacketizer factories.
type rtpRegistry struct {
	packetizers   map[VideoCodec]PacketizerFactory
	depacketizers map[VideoCodec]DepacketizerFactory
	mu            sync.RWMutex
}

var globalRTPRegistry = &rtpRegistry{
	packetizers:   make(map[VideoCodec]PacketizerFactory),
	depacketizers: make(map[VideoCodec]DepacketizerFactory),
}

// RegisterVideoPacketizer registers a video RTP packetizer factory.
func RegisterVideoPacketizer(codec VideoCodec, factory PacketizerFactory) {
	globalRTPRegistry.mu.Lock()
	defer globalRTPRegistry.mu.Unlock()
	globalRTPRegistry.packetizers[codec] = factory
}

// RegisterVideoDepacketizer registers a video RTP depacketizer factory.
func RegisterVideoDepacketizer(codec VideoCodec, factory DepacketizerFactory) {
	globalRTPRegistry.mu.Lock()
	defer globalRTPRegistry.mu.Unlock()
	globalRTPRegistry.depacketizers[codec] = factory
}

// CreateVideoPacketizer creates a video RTP packetizer.
func CreateVideoPacketizer(codec VideoCodec, ssrc uint32, pt uint8, mtu int) (RTPPacketizer, error) {
	globalRTPRegistry.mu.RLock()
	factory, ok := globalRTPRegistry.packetizers[codec]
	globalRTPRegistry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("video packetizer not available: %v", codec)
	}

	return factory(ssrc, pt, mtu)
}

// CreateVideoDepacketizer creates a video RTP depacketizer.
func CreateVideoDepacketizer(codec VideoCodec) (RTPDepacketizer, error) {
	globalRTPRegistry.mu.RLock()
	factory, ok := globalRTPRegistry.depacketizers[codec]
	globalRTPRegistry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("video depacketizer not available: %v", codec)
	}

	return factory()
}

// IsRTPTimestampOlder returns true if ts1 is older than or equal to ts2,
// handling 32-bit wraparound correctly per RTP timestamp comparison rules.
// This is used by depacketizers to discard late-arriving packets.
func IsRTPTimestampOlder(ts1, ts2 uint32) bool {
	if ts1 == ts2 {
		return true
	}
	// ts1 is older if (ts2 - ts1) < 2^31
	diff := ts2 - ts1
	return diff < 0x80000000
}
