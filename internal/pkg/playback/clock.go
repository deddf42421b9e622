// Package playback turns packets that arrive out of order, late or not at all
// into a steady, ordered sequence of frames.
//
// A Buffer keeps received packets sorted by sequence number behind a playback cursor.
// A Playout decides on every tick whether to wait for the pre-roll, skip a missing
// sequence number, or emit the next packet. A Clock drives the Playout at a fixed cadence.
package playback

import (
	"time"

	"rtspc/internal/pkg/packet"
)

// DefaultInterval is the reference cadence of 25 frames per second.
const DefaultInterval = time.Second / 25

// Clock ticks a Playout at a fixed interval and hands emitted packets to Emit.
type Clock struct {
	Playout  *Playout
	Interval time.Duration
	// Emit is called from the clock goroutine for every emitted packet. It must not block.
	Emit func(*packet.Packet)
	// Observe, when set, is called after every tick with the outcome and the remaining depth.
	Observe func(outcome Outcome, depth int)
}

// Run ticks until stop is closed. On stop the buffer is cleared.
func (c *Clock) Run(stop <-chan struct{}) {
	interval := c.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer c.Playout.Buffer().Clear()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			pkt, outcome := c.Playout.Step(now)
			if outcome == Emitted && c.Emit != nil {
				c.Emit(pkt)
			}
			if c.Observe != nil {
				c.Observe(outcome, c.Playout.Buffer().Len())
			}
		}
	}
}
