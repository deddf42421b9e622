package playback

import (
	"sync"
	"testing"
	"time"

	"rtspc/internal/pkg/packet"
	"rtspc/internal/pkg/stats"

	"github.com/stretchr/testify/require"
)

func pkt(seq uint16) *packet.Packet {
	return &packet.Packet{PayloadType: packet.PayloadTypeJPEG, SequenceNumber: seq, Payload: []byte{byte(seq)}}
}

func newPlayout(threshold int, cursor uint16) (*Playout, *stats.Stats) {
	st := stats.New()
	p := NewPlayout(NewBuffer(), st, threshold)
	p.Reset(cursor)
	return p, st
}

func TestInsertSorted(t *testing.T) {
	b := NewBuffer()
	for _, seq := range []uint16{5, 3, 9, 4, 7} {
		require.NoError(t, b.Insert(pkt(seq)))
	}
	require.Equal(t, []uint16{3, 4, 5, 7, 9}, b.Sequence())
	require.Equal(t, 5, b.Len())
}

func TestInsertRejects(t *testing.T) {
	b := NewBuffer()
	b.Reset(6)
	require.ErrorIs(t, b.Insert(pkt(2)), ErrStale)
	require.NoError(t, b.Insert(pkt(8)))
	require.ErrorIs(t, b.Insert(pkt(8)), ErrDuplicate)
	require.Equal(t, []uint16{8}, b.Sequence())
}

func TestInsertAcrossWrap(t *testing.T) {
	b := NewBuffer()
	b.Reset(65534)
	for _, seq := range []uint16{0, 65535, 1, 65534} {
		require.NoError(t, b.Insert(pkt(seq)))
	}
	require.Equal(t, []uint16{65534, 65535, 0, 1}, b.Sequence())
}

func TestStepReorders(t *testing.T) {
	p, _ := newPlayout(0, 3)
	for _, seq := range []uint16{5, 3, 4} {
		require.NoError(t, p.Buffer().Insert(pkt(seq)))
	}
	var played []uint16
	for i := 0; i < 3; i++ {
		f, outcome := p.Step(time.Now())
		require.Equal(t, Emitted, outcome)
		played = append(played, f.SequenceNumber)
	}
	require.Equal(t, []uint16{3, 4, 5}, played)
}

func TestStepSkipsGap(t *testing.T) {
	p, _ := newPlayout(0, 5)
	require.NoError(t, p.Buffer().Insert(pkt(7)))

	_, outcome := p.Step(time.Now())
	require.Equal(t, Skipped, outcome)
	require.Equal(t, uint16(6), p.Buffer().Cursor())

	_, outcome = p.Step(time.Now())
	require.Equal(t, Skipped, outcome)

	f, outcome := p.Step(time.Now())
	require.Equal(t, Emitted, outcome)
	require.Equal(t, uint16(7), f.SequenceNumber)
	require.Equal(t, uint16(8), p.Buffer().Cursor())
}

func TestStepStalePacketNotRecorded(t *testing.T) {
	p, st := newPlayout(0, 6)
	require.ErrorIs(t, p.Buffer().Insert(pkt(2)), ErrStale)
	require.Zero(t, st.Total())
	require.Zero(t, p.Buffer().Len())
}

func TestStepPreRoll(t *testing.T) {
	p, st := newPlayout(4, 0)
	now := time.Unix(100, 0)

	require.NoError(t, p.Buffer().Insert(pkt(0)))
	require.NoError(t, p.Buffer().Insert(pkt(1)))
	_, outcome := p.Step(now)
	require.Equal(t, Waiting, outcome)
	require.False(t, p.Active())
	require.Equal(t, uint16(0), p.Buffer().Cursor())

	require.NoError(t, p.Buffer().Insert(pkt(2)))
	f, outcome := p.Step(now)
	require.Equal(t, Emitted, outcome)
	require.Equal(t, uint16(0), f.SequenceNumber)
	require.True(t, p.Active())

	// drain, then the buffer is empty and pre-roll starts over
	_, _ = p.Step(now)
	_, _ = p.Step(now)
	_, outcome = p.Step(now)
	require.Equal(t, Waiting, outcome)
	require.False(t, p.Active())
	require.Equal(t, uint16(3), p.Buffer().Cursor())

	require.NoError(t, p.Buffer().Insert(pkt(3)))
	_, outcome = p.Step(now)
	require.Equal(t, Waiting, outcome)

	r := st.Finalize(now.Add(3 * time.Second))
	require.Equal(t, uint64(3), r.Total)
	require.Equal(t, 3*time.Second, r.Elapsed)
}

func TestStepAcrossWrap(t *testing.T) {
	p, _ := newPlayout(0, 65535)
	require.NoError(t, p.Buffer().Insert(pkt(0)))
	require.NoError(t, p.Buffer().Insert(pkt(65535)))

	f, _ := p.Step(time.Now())
	require.Equal(t, uint16(65535), f.SequenceNumber)
	f, _ = p.Step(time.Now())
	require.Equal(t, uint16(0), f.SequenceNumber)
	require.Equal(t, uint16(1), p.Buffer().Cursor())
}

func TestClockRun(t *testing.T) {
	p, _ := newPlayout(0, 0)
	for _, seq := range []uint16{2, 0, 1} {
		require.NoError(t, p.Buffer().Insert(pkt(seq)))
	}

	var mu sync.Mutex
	var played []uint16
	c := &Clock{
		Playout:  p,
		Interval: time.Millisecond,
		Emit: func(f *packet.Packet) {
			mu.Lock()
			defer mu.Unlock()
			played = append(played, f.SequenceNumber)
		},
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(stop)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(played) == 3
	}, time.Second, time.Millisecond)

	close(stop)
	<-done
	require.Equal(t, []uint16{0, 1, 2}, played)
}

func TestClockStopClearsBuffer(t *testing.T) {
	p, _ := newPlayout(100, 0)
	require.NoError(t, p.Buffer().Insert(pkt(0)))
	c := &Clock{Playout: p, Interval: time.Millisecond}
	stop := make(chan struct{})
	close(stop)
	c.Run(stop)
	require.Zero(t, p.Buffer().Len())
}

func TestActiveWhileClockRuns(t *testing.T) {
	p, _ := newPlayout(2, 0)
	for seq := uint16(0); seq < 4; seq++ {
		require.NoError(t, p.Buffer().Insert(pkt(seq)))
	}
	c := &Clock{Playout: p, Interval: time.Millisecond}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(stop)
	}()

	// Active is read while the clock goroutine flips it
	require.Eventually(t, func() bool { return p.Buffer().Len() == 0 && !p.Active() }, time.Second, time.Millisecond)
	p.Reset(10)
	require.False(t, p.Active())

	close(stop)
	<-done
}
