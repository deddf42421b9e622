package server

import (
	"io"
	"math/rand"
	"net"
	"sync"
	"time"

	"rtspc/internal/pkg/media"
	"rtspc/internal/pkg/packet"

	"github.com/sirupsen/logrus"
)

// streamer sends one datagram per frame interval until stopped or the media ends.
type streamer struct {
	source   *media.Source
	udp      net.Conn
	interval time.Duration
	ssrc     uint32
	drop     float64
	reorder  float64
	server   *Server
	rand     *rand.Rand
	log      logrus.FieldLogger

	// held is a datagram delayed until its successor has been sent.
	held []byte

	done     chan struct{}
	quit     chan struct{}
	stopOnce sync.Once
}

func newStreamer(s *Server, source *media.Source, udp net.Conn, seed int64) *streamer {
	r := rand.New(rand.NewSource(seed)) // nolint: gosec // only simulates a lossy network
	return &streamer{
		source:   source,
		udp:      udp,
		interval: s.frameInterval,
		ssrc:     r.Uint32(),
		drop:     s.dropRate,
		reorder:  s.reorderRate,
		server:   s,
		rand:     r,
		log:      logger.WithField("data_addr", udp.RemoteAddr().String()),
		done:     make(chan struct{}),
		quit:     make(chan struct{}),
	}
}

// stop ends the run loop and waits for it.
func (st *streamer) stop() {
	st.stopOnce.Do(func() { close(st.quit) })
	<-st.done
}

func (st *streamer) run() {
	defer close(st.done)
	ticker := time.NewTicker(st.interval)
	defer ticker.Stop()
	for {
		select {
		case <-st.quit:
			return
		case <-ticker.C:
			frame, err := st.source.Next()
			if err == io.EOF {
				st.flush()
				st.log.WithField("frames", st.source.Frame()).Info("end of media")
				return
			}
			if err != nil {
				st.log.WithError(err).Error("read frame failed")
				return
			}
			p := &packet.Packet{
				PayloadType:    packet.PayloadTypeJPEG,
				SequenceNumber: uint16(st.source.Frame()),
				Timestamp:      uint32(time.Duration(st.source.Frame()) * st.interval / time.Millisecond),
				Payload:        frame,
			}
			data, err := p.Marshal(st.ssrc)
			if err != nil {
				st.log.WithError(err).Error("marshal packet failed")
				return
			}
			st.deliver(data)
		}
	}
}

// deliver sends data, unless the simulated network drops or delays it.
func (st *streamer) deliver(data []byte) {
	if st.drop > 0 && st.rand.Float64() < st.drop {
		st.server.metrics.PacketDropped()
		return
	}
	if st.held != nil {
		st.send(data)
		st.flush()
		st.server.metrics.PacketReordered()
		return
	}
	if st.reorder > 0 && st.rand.Float64() < st.reorder {
		st.held = data
		return
	}
	st.send(data)
}

func (st *streamer) flush() {
	if st.held == nil {
		return
	}
	st.send(st.held)
	st.held = nil
}

func (st *streamer) send(data []byte) {
	if _, err := st.udp.Write(data); err != nil {
		// the client may not listen yet or any more; datagrams are best effort
		st.log.WithError(err).Trace("send datagram failed")
		return
	}
	st.server.metrics.PacketSent()
}
