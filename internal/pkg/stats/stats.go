// Package stats accumulates per-session playback counters and derives
// frame and loss rates when a stream ends.
package stats

import (
	"math"
	"sync"
	"time"
)

// Report is the finalized view of a stream.
type Report struct {
	Total      uint64
	OutOfOrder uint64
	Early      uint64
	Late       uint64
	MaxSeq     uint64
	Elapsed    time.Duration
	FrameRate  float64
	LossRate   float64
}

// Stats is safe for concurrent use.
type Stats struct {
	mu sync.Mutex

	total      uint64
	outOfOrder uint64
	early      uint64
	late       uint64

	seen    bool
	lastSeq uint16
	ext     uint64 // last emitted sequence number, extended past 16-bit wrap
	maxSeq  uint64

	start time.Time
	end   time.Time
}

// New creates empty Stats.
func New() *Stats {
	return &Stats{}
}

// Reset clears every counter and timestamp.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total, s.outOfOrder, s.early, s.late = 0, 0, 0, 0
	s.seen, s.lastSeq, s.ext, s.maxSeq = false, 0, 0, 0
	s.start, s.end = time.Time{}, time.Time{}
}

// Start marks the stream start. Only the first call after Reset has an effect.
func (s *Stats) Start(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.start.IsZero() {
		s.start = t
	}
}

// Record accounts for an emitted frame, classifying it against the previously emitted one.
// The first frame of a stream is expected to carry sequence number 0.
func (s *Stats) Record(seq uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++

	var expected uint16
	if s.seen {
		expected = s.lastSeq + 1
	}
	if seq != expected {
		s.outOfOrder++
		if int16(seq-expected) < 0 {
			s.late++
		} else {
			s.early++
		}
	}

	if !s.seen {
		s.ext = uint64(seq)
	} else {
		s.ext = uint64(int64(s.ext) + int64(int16(seq-s.lastSeq)))
	}
	s.seen = true
	s.lastSeq = seq
	if s.ext > s.maxSeq {
		s.maxSeq = s.ext
	}
}

// Total returns the number of frames recorded since the last Reset.
func (s *Stats) Total() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Finalize stamps the end time and computes the rates.
func (s *Stats) Finalize(end time.Time) Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.end = end
	var elapsed time.Duration
	if !s.start.IsZero() && end.After(s.start) {
		elapsed = end.Sub(s.start)
	}
	frameRate, lossRate := Rates(s.total, s.maxSeq, elapsed)
	return Report{
		Total:      s.total,
		OutOfOrder: s.outOfOrder,
		Early:      s.early,
		Late:       s.late,
		MaxSeq:     s.maxSeq,
		Elapsed:    elapsed,
		FrameRate:  frameRate,
		LossRate:   lossRate,
	}
}

// Rates computes frames per second and lost frames per second over the elapsed
// time floored to whole seconds. Both are zero when less than a second elapsed.
func Rates(total, maxSeq uint64, elapsed time.Duration) (frameRate, lossRate float64) {
	secs := math.Floor(elapsed.Seconds())
	if secs <= 0 {
		return 0, 0
	}
	lost := float64(maxSeq+1) - float64(total)
	return float64(total) / secs, lost / secs
}
