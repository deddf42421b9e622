package playback

import (
	"time"

	"rtspc/internal/pkg/packet"
	"rtspc/internal/pkg/stats"
)

// Outcome describes what a single playout step did.
type Outcome int

const (
	// Waiting means buffering is not active, nothing was played and the cursor did not move.
	Waiting Outcome = iota
	// Skipped means the cursor advanced over a missing packet.
	Skipped
	// Emitted means the packet at the cursor was played.
	Emitted
)

func (o Outcome) String() string {
	switch o {
	case Waiting:
		return "waiting"
	case Skipped:
		return "skipped"
	case Emitted:
		return "emitted"
	}
	return "unknown"
}

// DefaultThreshold is the buffer depth used to decide when playout may start.
// Playout starts once more than half of it is buffered.
const DefaultThreshold = 120

// Playout applies the per-tick playout policy to a Buffer.
// Step must only be called from one goroutine.
type Playout struct {
	buf       *Buffer
	stats     *stats.Stats
	threshold int
	active    bool
}

// NewPlayout creates a Playout over buf that records emitted frames in st.
func NewPlayout(buf *Buffer, st *stats.Stats, threshold int) *Playout {
	if threshold < 0 {
		threshold = 0
	}
	return &Playout{
		buf:       buf,
		stats:     st,
		threshold: threshold,
	}
}

// Buffer returns the underlying buffer.
func (p *Playout) Buffer() *Buffer {
	return p.buf
}

// Active reports whether buffering is active, i.e. the pre-roll is over.
func (p *Playout) Active() bool {
	p.buf.mu.Lock()
	defer p.buf.mu.Unlock()
	return p.active
}

// Reset moves the cursor, drops all buffered packets and restarts the pre-roll.
func (p *Playout) Reset(cursor uint16) {
	b := p.buf
	b.mu.Lock()
	defer b.mu.Unlock()
	b.packets = nil
	b.cursor = cursor
	p.active = false
}

// Step runs one tick of the policy:
//   - buffering becomes active once more than half the threshold is buffered,
//     and inactive whenever the buffer is empty;
//   - while inactive nothing happens;
//   - while active, stale packets are dropped and either the packet at the cursor
//     is returned or the cursor skips over the gap.
//
// The cursor advances by exactly one on every active tick.
func (p *Playout) Step(now time.Time) (*packet.Packet, Outcome) {
	b := p.buf
	b.mu.Lock()
	defer b.mu.Unlock()

	depth := len(b.packets)
	if !p.active && depth*2 > p.threshold {
		p.active = true
		p.stats.Start(now)
	}
	if depth == 0 {
		p.active = false
	}
	if !p.active {
		return nil, Waiting
	}

	b.dropStaleLocked()
	if len(b.packets) == 0 || b.packets[0].SequenceNumber != b.cursor {
		b.cursor++
		return nil, Skipped
	}
	head := b.packets[0]
	b.packets[0] = nil
	b.packets = b.packets[1:]
	b.cursor++
	p.stats.Record(head.SequenceNumber)
	return head, Emitted
}
