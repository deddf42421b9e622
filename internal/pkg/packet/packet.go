// Package packet decodes and encodes the media datagrams carried on the data channel.
//
// Every datagram starts with a fixed 12-byte header:
//
//	byte 0       reserved
//	byte 1       marker (1 bit) + payload type (7 bits)
//	bytes 2-3    sequence number, big-endian
//	bytes 4-7    timestamp, big-endian
//	bytes 8-11   reserved
//
// followed by the opaque payload.
package packet

import (
	"fmt"

	"github.com/pion/rtp"
	"github.com/pkg/errors"
)

// HeaderSize is the fixed length of the datagram header.
const HeaderSize = 12

// PayloadTypeJPEG is the payload type used for MJPEG frames.
const PayloadTypeJPEG = 26

// rtp version 2, no padding, no extension, no CSRCs
const fixedFirstOctet = 0x80

// ErrShortPacket is returned when a datagram is smaller than the fixed header.
var ErrShortPacket = errors.New("packet shorter than header")

// Packet is a single received media datagram. It is not modified after Parse returns it.
type Packet struct {
	PayloadType    uint8
	Marker         bool
	SequenceNumber uint16
	Timestamp      uint32
	Payload        []byte
}

// Parse decodes a datagram. The payload is copied so the caller may reuse data.
// The reserved first octet is ignored: it never changes the header length.
func Parse(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, errors.Wrapf(ErrShortPacket, "%d bytes", len(data))
	}
	var fixed [HeaderSize]byte
	copy(fixed[:], data[:HeaderSize])
	fixed[0] = fixedFirstOctet

	var h rtp.Header
	if _, err := h.Unmarshal(fixed[:]); err != nil {
		return nil, errors.Wrap(err, "unmarshal header failed")
	}
	payload := make([]byte, len(data)-HeaderSize)
	copy(payload, data[HeaderSize:])
	return &Packet{
		PayloadType:    h.PayloadType,
		Marker:         h.Marker,
		SequenceNumber: h.SequenceNumber,
		Timestamp:      h.Timestamp,
		Payload:        payload,
	}, nil
}

// Marshal encodes the packet with the given synchronization source in the reserved trailing octets.
func (p *Packet) Marshal(ssrc uint32) ([]byte, error) {
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         p.Marker,
			PayloadType:    p.PayloadType & 0x7f,
			SequenceNumber: p.SequenceNumber,
			Timestamp:      p.Timestamp,
			SSRC:           ssrc,
		},
		Payload: p.Payload,
	}
	buf, err := pkt.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "marshal packet failed")
	}
	return buf, nil
}

func (p *Packet) String() string {
	return fmt.Sprintf("seq=%d ts=%d pt=%d marker=%t len=%d",
		p.SequenceNumber, p.Timestamp, p.PayloadType, p.Marker, len(p.Payload))
}

// Less reports whether sequence number a precedes b, allowing for 16-bit wrap.
func Less(a, b uint16) bool {
	return int16(a-b) < 0
}
