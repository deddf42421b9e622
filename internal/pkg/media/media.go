// Package media reads MJPEG files in the length-prefixed format used by the demo server:
// every frame is preceded by its size as 5 ASCII decimal digits.
package media

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

const (
	headerSize = 5
	// MaxFrameSize is the largest frame the 5 digit header can describe.
	MaxFrameSize = 99999
)

// ErrBadHeader indicates that a frame header is not 5 decimal digits.
var ErrBadHeader = errors.New("bad frame header")

// Source yields the frames of one media file in order.
type Source struct {
	r      *bufio.Reader
	closer io.Closer
	frame  int
}

// Open opens the media file at path.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open media %s failed", path)
	}
	s := NewSource(f)
	s.closer = f
	return s, nil
}

// NewSource reads frames from r.
func NewSource(r io.Reader) *Source {
	return &Source{r: bufio.NewReader(r)}
}

// Next returns the next frame, or io.EOF after the last one.
func (s *Source) Next() ([]byte, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(s.r, header); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, errors.Wrapf(ErrBadHeader, "frame %d: %v", s.frame+1, err)
	}
	size, err := strconv.Atoi(string(header))
	if err != nil || size < 0 {
		return nil, errors.Wrapf(ErrBadHeader, "frame %d: %q", s.frame+1, header)
	}
	frame := make([]byte, size)
	if _, err := io.ReadFull(s.r, frame); err != nil {
		return nil, errors.Wrapf(err, "read frame %d failed", s.frame+1)
	}
	s.frame++
	return frame, nil
}

// Frame returns the number of the last frame returned by Next, starting at 1.
func (s *Source) Frame() int {
	return s.frame
}

// Close closes the underlying file, if any.
func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Write appends frame to w in the length-prefixed format.
func Write(w io.Writer, frame []byte) error {
	if len(frame) > MaxFrameSize {
		return errors.Errorf("frame of %d bytes exceeds %d", len(frame), MaxFrameSize)
	}
	if _, err := fmt.Fprintf(w, "%05d", len(frame)); err != nil {
		return errors.Wrap(err, "write frame header failed")
	}
	if _, err := w.Write(frame); err != nil {
		return errors.Wrap(err, "write frame failed")
	}
	return nil
}
