package playback

import (
	"sync"

	"rtspc/internal/pkg/packet"

	"github.com/pkg/errors"
)

// ErrStale is returned by Insert for packets behind the playback cursor.
var ErrStale = errors.New("packet behind playback cursor")

// ErrDuplicate is returned by Insert for a sequence number that is already buffered.
var ErrDuplicate = errors.New("packet already buffered")

// Buffer holds received packets that have not been played yet, sorted by sequence number,
// together with the playback cursor: the next sequence number expected to be played.
// It is shared between the datagram receiver and the playback clock.
type Buffer struct {
	mu      sync.Mutex
	packets []*packet.Packet
	cursor  uint16
}

// NewBuffer creates an empty buffer with the cursor at 0.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Insert places p at its position in sequence order.
// Packets behind the cursor and exact duplicates are rejected.
func (b *Buffer) Insert(p *packet.Packet) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	seq := p.SequenceNumber
	if packet.Less(seq, b.cursor) {
		return ErrStale
	}
	// packets mostly arrive in order, so scan from the tail
	i := len(b.packets)
	for i > 0 && packet.Less(seq, b.packets[i-1].SequenceNumber) {
		i--
	}
	if i > 0 && b.packets[i-1].SequenceNumber == seq {
		return ErrDuplicate
	}
	b.packets = append(b.packets, nil)
	copy(b.packets[i+1:], b.packets[i:])
	b.packets[i] = p
	return nil
}

// Len returns the number of buffered packets.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.packets)
}

// Cursor returns the next sequence number to be played.
func (b *Buffer) Cursor() uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

// Sequence returns the buffered sequence numbers in play order.
func (b *Buffer) Sequence() []uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	seqs := make([]uint16, len(b.packets))
	for i, p := range b.packets {
		seqs[i] = p.SequenceNumber
	}
	return seqs
}

// Clear drops every buffered packet and keeps the cursor.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.packets = nil
}

// Reset drops every buffered packet and moves the cursor.
func (b *Buffer) Reset(cursor uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.packets = nil
	b.cursor = cursor
}

// dropStaleLocked removes packets that fell behind the cursor.
func (b *Buffer) dropStaleLocked() int {
	n := 0
	for n < len(b.packets) && packet.Less(b.packets[n].SequenceNumber, b.cursor) {
		n++
	}
	b.packets = b.packets[n:]
	return n
}
