package client

import (
	"net"
	"sync"
	"time"

	"rtspc/internal/pkg/log"
	"rtspc/internal/pkg/packet"
	"rtspc/internal/pkg/playback"

	"github.com/pkg/errors"
)

// maxDatagramSize is the largest UDP payload.
const maxDatagramSize = 0x10000

// dataPath is one run of the datagram receiver and the playback clock, from PLAY until
// PAUSE, TEARDOWN or Close.
type dataPath struct {
	udp *net.UDPConn

	stop      chan struct{}
	abort     chan struct{}
	stopOnce  sync.Once
	abortOnce sync.Once
	wg        sync.WaitGroup
}

func newDataPath(udp *net.UDPConn) *dataPath {
	return &dataPath{
		udp:   udp,
		stop:  make(chan struct{}),
		abort: make(chan struct{}),
	}
}

// halt signals both loops to stop. An immediate halt also wakes up a blocked read;
// otherwise the receiver keeps draining the socket until it goes quiet.
func (d *dataPath) halt(immediate bool) {
	d.stopOnce.Do(func() { close(d.stop) })
	if !immediate {
		return
	}
	d.abortOnce.Do(func() { close(d.abort) })
	_ = d.udp.SetReadDeadline(time.Now())
}

func (d *dataPath) wait() {
	d.wg.Wait()
}

func (d *dataPath) stopped() bool {
	select {
	case <-d.stop:
		return true
	default:
		return false
	}
}

func (d *dataPath) aborted() bool {
	select {
	case <-d.abort:
		return true
	default:
		return false
	}
}

func (c *Client) startDataPath() (*dataPath, error) {
	c.mu.Lock()
	if c.state == StateClosed || c.udp == nil {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	dp := newDataPath(c.udp)
	c.dp = dp
	c.mu.Unlock()

	clock := &playback.Clock{
		Playout:  c.playout,
		Interval: c.playbackRate,
		Emit:     c.emit,
		Observe: func(outcome playback.Outcome, depth int) {
			if outcome == playback.Skipped {
				c.metrics.FrameSkipped()
			}
			c.metrics.SetBufferDepth(depth)
		},
	}
	dp.wg.Add(2)
	go c.receive(dp)
	go func() {
		defer dp.wg.Done()
		clock.Run(dp.stop)
	}()
	return dp, nil
}

func (c *Client) stopDataPath(dp *dataPath, immediate bool) {
	dp.halt(immediate)
	dp.wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dp == dp {
		c.dp = nil
	}
}

// receive reads datagrams into the reorder buffer until the data path is stopped
// or the socket fails, then finalizes the stream statistics.
func (c *Client) receive(dp *dataPath) {
	defer dp.wg.Done()
	buf := make([]byte, maxDatagramSize)
	var drainUntil time.Time
	var failure error
	for {
		if dp.aborted() {
			break
		}
		deadline := time.Now().Add(c.receiveTimeout)
		if dp.stopped() {
			if drainUntil.IsZero() {
				drainUntil = deadline
			}
			deadline = drainUntil
		}
		if err := dp.udp.SetReadDeadline(deadline); err != nil {
			if !errors.Is(err, net.ErrClosed) {
				failure = &TransportError{Op: "set read deadline", Err: err}
			}
			break
		}
		// an immediate halt may have set its deadline before ours
		if dp.aborted() {
			break
		}
		n, _, err := dp.udp.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if dp.stopped() {
					break
				}
				continue
			}
			if !errors.Is(err, net.ErrClosed) && !dp.stopped() {
				failure = &TransportError{Op: "receive", Err: err}
			}
			break
		}
		c.handleDatagram(buf[:n])
	}

	c.finishStream()
	if failure != nil {
		c.log.WithError(failure).Error("data path failed")
		if c.sink != nil {
			c.sink.HandleError(failure)
		}
		// Close waits for this goroutine, so it cannot run inline.
		go func() { _ = c.Close() }()
	}
}

func (c *Client) handleDatagram(data []byte) {
	c.metrics.PacketReceived()
	p, err := packet.Parse(data)
	if err != nil {
		c.metrics.PacketDiscarded("malformed")
		c.log.WithError(err).WithField("size", len(data)).Trace("discarded datagram")
		return
	}
	buf := c.playout.Buffer()
	if err := buf.Insert(p); err != nil {
		reason := "duplicate"
		if errors.Is(err, playback.ErrStale) {
			reason = "stale"
		}
		c.metrics.PacketDiscarded(reason)
		c.log.WithFields(log.PacketFields(p)).WithField("reason", reason).Trace("discarded packet")
		return
	}
	c.metrics.SetBufferDepth(buf.Len())
}

func (c *Client) emit(p *packet.Packet) {
	c.metrics.FrameEmitted()
	if c.sink != nil {
		c.sink.HandleFrame(p)
	}
}

func (c *Client) finishStream() {
	report := c.stats.Finalize(time.Now())
	c.mu.Lock()
	c.report = report
	c.mu.Unlock()
	c.metrics.SetRates(report.FrameRate, report.LossRate)
	c.log.WithFields(log.ReportFields(report)).Info("stream finished")
}
