package capture

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/rtp"
)

// RTP/JPEG (RFC 2435) constants.
const (
	jpegType422 = 0 // 4:2:2 chroma subsampling
	jpegType420 = 1 // 4:2:0 chroma subsampling

	// jpegDynamicQ signals quantization tables carried in-band with the
	// first fragment.
	jpegDynamicQ = 255

	jpegMainHeaderSize  = 8
	jpegQuantHeaderSize = 4
)

// jpegScan is the payload-relevant content of a baseline JPEG: the
// entropy-coded scan data plus the tables and geometry needed to
// rebuild the headers on the receiving side.
type jpegScan struct {
	typ     byte      // jpegType422 or jpegType420
	width   int
	height  int
	qtables [2][]byte // zigzag order, 64 bytes each
	data    []byte    // scan data, EOI stripped
}

// parseJPEG dissects a baseline JFIF stream. Progressive scans,
// 16-bit quantization tables and restart intervals are rejected; the
// RTP payload format cannot carry them with static headers.
func parseJPEG(data []byte) (*jpegScan, error) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil, errors.New("jpeg: missing SOI")
	}

	scan := &jpegScan{typ: jpegType420}
	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			return nil, fmt.Errorf("jpeg: bad marker alignment at %d", i)
		}
		marker := data[i+1]

		// Standalone markers carry no length.
		if marker == 0xD8 || (marker >= 0xD0 && marker <= 0xD7) {
			i += 2
			continue
		}
		if marker == 0xD9 {
			return nil, errors.New("jpeg: EOI before scan data")
		}

		segLen := int(data[i+2])<<8 | int(data[i+3])
		if segLen < 2 || i+2+segLen > len(data) {
			return nil, errors.New("jpeg: truncated segment")
		}
		seg := data[i+4 : i+2+segLen]

		switch marker {
		case 0xDB: // DQT, possibly several tables per segment
			for off := 0; off+65 <= len(seg)+1; off += 65 {
				if off >= len(seg) {
					break
				}
				if seg[off]>>4 != 0 {
					return nil, errors.New("jpeg: 16-bit quantization table")
				}
				id := seg[off] & 0x0F
				if id > 1 || off+65 > len(seg) {
					return nil, errors.New("jpeg: unsupported quantization table layout")
				}
				scan.qtables[id] = seg[off+1 : off+65]
			}

		case 0xC0: // baseline SOF
			if len(seg) < 8 {
				return nil, errors.New("jpeg: short SOF segment")
			}
			scan.height = int(seg[1])<<8 | int(seg[2])
			scan.width = int(seg[3])<<8 | int(seg[4])
			switch seg[7] {
			case 0x22:
				scan.typ = jpegType420
			case 0x21:
				scan.typ = jpegType422
			default:
				return nil, fmt.Errorf("jpeg: unsupported chroma sampling %#x", seg[7])
			}

		case 0xC1, 0xC2, 0xC3, 0xC5, 0xC6, 0xC7, 0xC9, 0xCA, 0xCB, 0xCD, 0xCE, 0xCF:
			return nil, fmt.Errorf("jpeg: unsupported SOF marker %#x", marker)

		case 0xDD:
			return nil, errors.New("jpeg: restart intervals not supported")

		case 0xDA: // SOS, scan data follows
			body := data[i+2+segLen:]
			if n := len(body); n >= 2 && body[n-2] == 0xFF && body[n-1] == 0xD9 {
				body = body[:n-2]
			}
			if scan.width == 0 || scan.height == 0 {
				return nil, errors.New("jpeg: SOS before SOF")
			}
			if scan.qtables[0] == nil || scan.qtables[1] == nil {
				return nil, errors.New("jpeg: missing quantization tables")
			}
			scan.data = body
			return scan, nil
		}

		i += 2 + segLen
	}
	return nil, errors.New("jpeg: no scan data found")
}

// JPEGPacketizer implements RTPPacketizer for motion JPEG per RFC 2435.
// Quantization tables are sent in-band with each first fragment, so any
// encoder quality setting round-trips.
type JPEGPacketizer struct {
	ssrc        uint32
	payloadType uint8
	mtu         int
	sequencer   rtp.Sequencer
	mu          sync.Mutex
}

// NewJPEGPacketizer creates a new RTP/JPEG packetizer.
func NewJPEGPacketizer(ssrc uint32, pt uint8, mtu int) (*JPEGPacketizer, error) {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	if pt == 0 {
		pt = VideoCodecMJPEG.DefaultPayloadType()
	}
	return &JPEGPacketizer{
		ssrc:        ssrc,
		payloadType: pt,
		mtu:         mtu,
		sequencer:   rtp.NewRandomSequencer(),
	}, nil
}

// Packetize converts one encoded JPEG frame to RTP packets.
func (p *JPEGPacketizer) Packetize(frame *EncodedFrame) ([]*RTPPacket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(frame.Data) == 0 {
		return nil, nil
	}

	scan, err := parseJPEG(frame.Data)
	if err != nil {
		return nil, err
	}
	if scan.width > 2040 || scan.height > 2040 {
		return nil, fmt.Errorf("jpeg: %dx%d exceeds RTP/JPEG geometry limit", scan.width, scan.height)
	}

	timestamp := frame.RTPTimestamp(VideoCodecMJPEG.ClockRate())
	quantLen := len(scan.qtables[0]) + len(scan.qtables[1])

	var packets []*RTPPacket
	offset := 0
	for offset < len(scan.data) {
		headerSize := jpegMainHeaderSize
		if offset == 0 {
			headerSize += jpegQuantHeaderSize + quantLen
		}
		capacity := p.mtu - 12 - headerSize
		if capacity <= 0 {
			return nil, fmt.Errorf("jpeg: mtu %d too small", p.mtu)
		}
		n := len(scan.data) - offset
		if n > capacity {
			n = capacity
		}

		payload := make([]byte, 0, headerSize+n)
		payload = append(payload,
			0, // type-specific
			byte(offset>>16), byte(offset>>8), byte(offset),
			scan.typ,
			jpegDynamicQ,
			byte(scan.width/8),
			byte(scan.height/8),
		)
		if offset == 0 {
			payload = append(payload,
				0, // MBZ
				0, // precision: 8-bit tables
				byte(quantLen>>8), byte(quantLen),
			)
			payload = append(payload, scan.qtables[0]...)
			payload = append(payload, scan.qtables[1]...)
		}
		payload = append(payload, scan.data[offset:offset+n]...)
		offset += n

		packets = append(packets, &RTPPacket{
			Header: rtp.Header{
				Version:        2,
				Marker:         offset == len(scan.data),
				PayloadType:    p.payloadType,
				SequenceNumber: p.sequencer.NextSequenceNumber(),
				Timestamp:      timestamp,
				SSRC:           p.ssrc,
			},
			Payload: payload,
		})
	}
	return packets, nil
}

func (p *JPEGPacketizer) SetSSRC(ssrc uint32)     { p.mu.Lock(); p.ssrc = ssrc; p.mu.Unlock() }
func (p *JPEGPacketizer) SSRC() uint32            { p.mu.Lock(); defer p.mu.Unlock(); return p.ssrc }
func (p *JPEGPacketizer) PayloadType() uint8      { p.mu.Lock(); defer p.mu.Unlock(); return p.payloadType }
func (p *JPEGPacketizer) SetPayloadType(pt uint8) { p.mu.Lock(); p.payloadType = pt; p.mu.Unlock() }
func (p *JPEGPacketizer) MTU() int                { p.mu.Lock(); defer p.mu.Unlock(); return p.mtu }
func (p *JPEGPacketizer) SetMTU(mtu int)          { p.mu.Lock(); p.mtu = mtu; p.mu.Unlock() }

// JPEGDepacketizer reassembles RTP/JPEG fragments into complete JPEG
// frames, regenerating the JFIF headers the sender stripped.
type JPEGDepacketizer struct {
	buffer    []byte
	qtables   [2][]byte
	typ       byte
	width     int
	height    int
	timestamp uint32
	started   bool
	mu        sync.Mutex
}

// NewJPEGDepacketizer creates a new RTP/JPEG depacketizer.
func NewJPEGDepacketizer() (*JPEGDepacketizer, error) {
	return &JPEGDepacketizer{}, nil
}

// Depacketize processes an RTP packet and returns a complete frame once
// the marker-bit fragment arrives.
func (d *JPEGDepacketizer) Depacketize(packet *RTPPacket) (*EncodedFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	payload := packet.Payload
	if len(payload) < jpegMainHeaderSize {
		return nil, errors.New("jpeg: short payload")
	}

	offset := int(payload[1])<<16 | int(payload[2])<<8 | int(payload[3])
	typ := payload[4]
	q := payload[5]
	width := int(payload[6]) * 8
	height := int(payload[7]) * 8
	rest := payload[jpegMainHeaderSize:]

	if typ != jpegType422 && typ != jpegType420 {
		return nil, fmt.Errorf("jpeg: unsupported payload type %d", typ)
	}

	// A new frame begins at fragment offset zero; anything else without
	// a frame in progress is a mid-frame join and is dropped.
	if offset == 0 {
		if q >= 128 {
			if len(rest) < jpegQuantHeaderSize {
				return nil, errors.New("jpeg: short quantization header")
			}
			quantLen := int(rest[2])<<8 | int(rest[3])
			if quantLen != 128 || len(rest) < jpegQuantHeaderSize+quantLen {
				return nil, errors.New("jpeg: unsupported quantization header")
			}
			tables := rest[jpegQuantHeaderSize : jpegQuantHeaderSize+quantLen]
			d.qtables[0] = append(d.qtables[0][:0], tables[:64]...)
			d.qtables[1] = append(d.qtables[1][:0], tables[64:]...)
			rest = rest[jpegQuantHeaderSize+quantLen:]
		} else {
			return nil, fmt.Errorf("jpeg: static quantization tables (Q=%d) not supported", q)
		}
		d.buffer = d.buffer[:0]
		d.typ = typ
		d.width = width
		d.height = height
		d.timestamp = packet.Header.Timestamp
		d.started = true
	} else {
		if !d.started || packet.Header.Timestamp != d.timestamp || offset != len(d.buffer) {
			// Lost the start or a middle fragment; wait for the next
			// frame boundary.
			d.started = false
			d.buffer = d.buffer[:0]
			return nil, nil
		}
	}

	d.buffer = append(d.buffer, rest...)

	if !packet.Header.Marker {
		return nil, nil
	}

	frame := &EncodedFrame{
		Data:      makeJFIF(d.typ, d.width, d.height, d.qtables, d.buffer),
		FrameType: FrameTypeKey,
		PTS:       int64(d.timestamp) * 1e9 / int64(VideoCodecMJPEG.ClockRate()),
	}
	d.started = false
	d.buffer = d.buffer[:0]
	return frame, nil
}

// DepacketizeBytes processes raw RTP packet bytes.
func (d *JPEGDepacketizer) DepacketizeBytes(data []byte) (*EncodedFrame, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		return nil, err
	}
	return d.Depacketize(&pkt)
}

// Reset clears any buffered partial frames.
func (d *JPEGDepacketizer) Reset() {
	d.mu.Lock()
	d.buffer = d.buffer[:0]
	d.started = false
	d.timestamp = 0
	d.mu.Unlock()
}

// Standard Huffman tables from the JPEG specification. Baseline
// encoders, including the one producing our frames, use exactly these,
// which is what lets RTP/JPEG omit them on the wire.
var (
	jpegLumDCLens = []byte{0, 1, 5, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 0, 0, 0}
	jpegLumDCVals = []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}

	jpegLumACLens = []byte{0, 2, 1, 3, 3, 2, 4, 3, 5, 5, 4, 4, 0, 0, 1, 0x7d}
	jpegLumACVals = []byte{
		0x01, 0x02, 0x03, 0x00, 0x04, 0x11, 0x05, 0x12,
		0x21, 0x31, 0x41, 0x06, 0x13, 0x51, 0x61, 0x07,
		0x22, 0x71, 0x14, 0x32, 0x81, 0x91, 0xa1, 0x08,
		0x23, 0x42, 0xb1, 0xc1, 0x15, 0x52, 0xd1, 0xf0,
		0x24, 0x33, 0x62, 0x72, 0x82, 0x09, 0x0a, 0x16,
		0x17, 0x18, 0x19, 0x1a, 0x25, 0x26, 0x27, 0x28,
		0x29, 0x2a, 0x34, 0x35, 0x36, 0x37, 0x38, 0x39,
		0x3a, 0x43, 0x44, 0x45, 0x46, 0x47, 0x48, 0x49,
		0x4a, 0x53, 0x54, 0x55, 0x56, 0x57, 0x58, 0x59,
		0x5a, 0x63, 0x64, 0x65, 0x66, 0x67, 0x68, 0x69,
		0x6a, 0x73, 0x74, 0x75, 0x76, 0x77, 0x78, 0x79,
		0x7a, 0x83, 0x84, 0x85, 0x86, 0x87, 0x88, 0x89,
		0x8a, 0x92, 0x93, 0x94, 0x95, 0x96, 0x97, 0x98,
		0x99, 0x9a, 0xa2, 0xa3, 0xa4, 0xa5, 0xa6, 0xa7,
		0xa8, 0xa9, 0xaa, 0xb2, 0xb3, 0xb4, 0xb5, 0xb6,
		0xb7, 0xb8, 0xb9, 0xba, 0xc2, 0xc3, 0xc4, 0xc5,
		0xc6, 0xc7, 0xc8, 0xc9, 0xca, 0xd2, 0xd3, 0xd4,
		0xd5, 0xd6, 0xd7, 0xd8, 0xd9, 0xda, 0xe1, 0xe2,
		0xe3, 0xe4, 0xe5, 0xe6, 0xe7, 0xe8, 0xe9, 0xea,
		0xf1, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6, 0xf7, 0xf8,
		0xf9, 0xfa,
	}

	jpegChmDCLens = []byte{0, 3, 1, 1, 1, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 0}
	jpegChmDCVals = []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}

	jpegChmACLens = []byte{0, 2, 1, 2, 4, 4, 3, 4, 7, 5, 4, 4, 0, 1, 2, 0x77}
	jpegChmACVals = []byte{
		0x00, 0x01, 0x02, 0x03, 0x11, 0x04, 0x05, 0x21,
		0x31, 0x06, 0x12, 0x41, 0x51, 0x07, 0x61, 0x71,
		0x13, 0x22, 0x32, 0x81, 0x08, 0x14, 0x42, 0x91,
		0xa1, 0xb1, 0xc1, 0x09, 0x23, 0x33, 0x52, 0xf0,
		0x15, 0x62, 0x72, 0xd1, 0x0a, 0x16, 0x24, 0x34,
		0xe1, 0x25, 0xf1, 0x17, 0x18, 0x19, 0x1a, 0x26,
		0x27, 0x28, 0x29, 0x2a, 0x35, 0x36, 0x37, 0x38,
		0x39, 0x3a, 0x43, 0x44, 0x45, 0x46, 0x47, 0x48,
		0x49, 0x4a, 0x53, 0x54, 0x55, 0x56, 0x57, 0x58,
		0x59, 0x5a, 0x63, 0x64, 0x65, 0x66, 0x67, 0x68,
		0x69, 0x6a, 0x73, 0x74, 0x75, 0x76, 0x77, 0x78,
		0x79, 0x7a, 0x82, 0x83, 0x84, 0x85, 0x86, 0x87,
		0x88, 0x89, 0x8a, 0x92, 0x93, 0x94, 0x95, 0x96,
		0x97, 0x98, 0x99, 0x9a, 0xa2, 0xa3, 0xa4, 0xa5,
		0xa6, 0xa7, 0xa8, 0xa9, 0xaa, 0xb2, 0xb3, 0xb4,
		0xb5, 0xb6, 0xb7, 0xb8, 0xb9, 0xba, 0xc2, 0xc3,
		0xc4, 0xc5, 0xc6, 0xc7, 0xc8, 0xc9, 0xca, 0xd2,
		0xd3, 0xd4, 0xd5, 0xd6, 0xd7, 0xd8, 0xd9, 0xda,
		0xe2, 0xe3, 0xe4, 0xe5, 0xe6, 0xe7, 0xe8, 0xe9,
		0xea, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6, 0xf7, 0xf8,
		0xf9, 0xfa,
	}
)

// makeJFIF rebuilds a decodable JPEG from reassembled scan data.
func makeJFIF(typ byte, width, height int, qtables [2][]byte, scan []byte) []byte {
	var b bytes.Buffer
	b.Grow(len(scan) + 640)

	b.Write([]byte{0xFF, 0xD8}) // SOI

	for id, table := range qtables {
		b.Write([]byte{0xFF, 0xDB, 0x00, 0x43, byte(id)})
		b.Write(table)
	}

	sampling := byte(0x22)
	if typ == jpegType422 {
		sampling = 0x21
	}
	b.Write([]byte{
		0xFF, 0xC0, 0x00, 0x11, 0x08,
		byte(height >> 8), byte(height),
		byte(width >> 8), byte(width),
		0x03,
		0x01, sampling, 0x00,
		0x02, 0x11, 0x01,
		0x03, 0x11, 0x01,
	})

	writeDHT(&b, 0x00, jpegLumDCLens, jpegLumDCVals)
	writeDHT(&b, 0x10, jpegLumACLens, jpegLumACVals)
	writeDHT(&b, 0x01, jpegChmDCLens, jpegChmDCVals)
	writeDHT(&b, 0x11, jpegChmACLens, jpegChmACVals)

	b.Write([]byte{
		0xFF, 0xDA, 0x00, 0x0C, 0x03,
		0x01, 0x00,
		0x02, 0x11,
		0x03, 0x11,
		0x00, 0x3F, 0x00,
	})

	b.Write(scan)
	b.Write([]byte{0xFF, 0xD9}) // EOI
	return b.Bytes()
}

func writeDHT(b *bytes.Buffer, class byte, lens, vals []byte) {
	length := 2 + 1 + len(lens) + len(vals)
	b.Write([]byte{0xFF, 0xC4, byte(length >> 8), byte(length), class})
	b.Write(lens)
	b.Write(vals)
}

func init() {
	RegisterVideoPacketizer(VideoCodecMJPEG, func(ssrc uint32, pt uint8, mtu int) (RTPPacketizer, error) {
		return NewJPEGPacketizer(ssrc, pt, mtu)
	})
	RegisterVideoDepacketizer(VideoCodecMJPEG, func() (RTPDepacketizer, error) {
		return NewJPEGDepacketizer()
	})
}
