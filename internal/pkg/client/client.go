package client

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"rtspc/internal/pkg/log"
	"rtspc/internal/pkg/metrics"
	"rtspc/internal/pkg/packet"
	"rtspc/internal/pkg/playback"
	"rtspc/internal/pkg/rtsp"
	"rtspc/internal/pkg/stats"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

const (
	// DefaultReceiveTimeout bounds every read on the data socket.
	DefaultReceiveTimeout = time.Second
	// DefaultRequestTimeout bounds every control request.
	DefaultRequestTimeout = 10 * time.Second
)

// State is the state of the control channel.
type State int

const (
	StateInit State = iota
	StateReady
	StatePlaying
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Sink receives what the data path produces. Both methods are called from data path
// goroutines; they must not block and must not call back into the Client.
type Sink interface {
	// HandleFrame is called for every frame played, in play order.
	HandleFrame(*packet.Packet)
	// HandleError is called when the data path fails.
	HandleError(error)
}

// Client implements the control channel and the data path of one session.
type Client struct {
	serverAddr     string
	transport      string
	playbackRate   time.Duration
	threshold      int
	receiveTimeout time.Duration
	requestTimeout time.Duration
	metrics        *metrics.Client
	log            logrus.FieldLogger
	sink           Sink

	// opMu serializes control operations, so there is a single request in flight.
	opMu sync.Mutex
	cseq int

	mu        sync.Mutex
	state     State
	session   string
	mediaID   string
	conn      net.Conn
	br        *bufio.Reader
	udp       *net.UDPConn
	dp        *dataPath
	report    stats.Report
	closeOnce sync.Once

	stats   *stats.Stats
	playout *playback.Playout
}

// Cfg configures a Client.
type Cfg func(*Client) error

// WithServerAddr sets the host:port of the server's control channel.
func WithServerAddr(addr string) Cfg {
	return func(c *Client) error {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return errors.Wrapf(err, "parse server address %q failed", addr)
		}
		c.serverAddr = addr
		return nil
	}
}

// WithPlaybackRate sets the interval between two playback ticks.
func WithPlaybackRate(d time.Duration) Cfg {
	return func(c *Client) error {
		if d <= 0 {
			return errors.Errorf("playback rate must be positive, got %s", d)
		}
		c.playbackRate = d
		return nil
	}
}

// WithBufferThreshold sets the buffer threshold. Playback starts once more than half of it is buffered.
func WithBufferThreshold(n int) Cfg {
	return func(c *Client) error {
		if n < 0 {
			return errors.Errorf("buffer threshold must not be negative, got %d", n)
		}
		c.threshold = n
		return nil
	}
}

// WithReceiveTimeout sets the read timeout of the data socket.
func WithReceiveTimeout(d time.Duration) Cfg {
	return func(c *Client) error {
		if d <= 0 {
			return errors.Errorf("receive timeout must be positive, got %s", d)
		}
		c.receiveTimeout = d
		return nil
	}
}

// WithRequestTimeout sets the timeout of a control request.
func WithRequestTimeout(d time.Duration) Cfg {
	return func(c *Client) error {
		if d <= 0 {
			return errors.Errorf("request timeout must be positive, got %s", d)
		}
		c.requestTimeout = d
		return nil
	}
}

// WithTransport sets the transport announced in SETUP.
func WithTransport(t string) Cfg {
	return func(c *Client) error {
		c.transport = t
		return nil
	}
}

// WithMetrics records client metrics in m.
func WithMetrics(m *metrics.Client) Cfg {
	return func(c *Client) error {
		c.metrics = m
		return nil
	}
}

// WithLogger sets the logger, typically carrying fields that identify the session.
func WithLogger(l logrus.FieldLogger) Cfg {
	return func(c *Client) error {
		c.log = l
		return nil
	}
}

// WithSink sets where played frames and data path errors go.
func WithSink(s Sink) Cfg {
	return func(c *Client) error {
		c.sink = s
		return nil
	}
}

// NewClient creates a new Client with the given configuration.
func NewClient(cfgs ...Cfg) (*Client, error) {
	c := &Client{
		transport:      rtsp.DefaultTransport,
		playbackRate:   playback.DefaultInterval,
		threshold:      playback.DefaultThreshold,
		receiveTimeout: DefaultReceiveTimeout,
		requestTimeout: DefaultRequestTimeout,
		log:            logger,
	}
	for _, cfg := range cfgs {
		if err := cfg(c); err != nil {
			return nil, errors.Wrap(err, "apply Client cfg failed")
		}
	}
	if c.serverAddr == "" {
		return nil, errors.New("server address is required")
	}
	c.stats = stats.New()
	c.playout = playback.NewPlayout(playback.NewBuffer(), c.stats, c.threshold)
	c.metrics.SetState(int(StateInit))
	return c, nil
}

// Connect establishes the control connection to the server.
func (c *Client) Connect(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.mu.Lock()
	state, conn := c.state, c.conn
	c.mu.Unlock()
	if state == StateClosed {
		return ErrClosed
	}
	if conn != nil {
		return ErrConnected
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.serverAddr)
	if err != nil {
		return &TransportError{Op: "connect", Err: err}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.br = bufio.NewReader(conn)
	c.log.WithField("server", c.serverAddr).Info("connected")
	return nil
}

// Setup asks the server to prepare mediaID and opens the data socket.
func (c *Client) Setup(ctx context.Context, mediaID string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.checkState("setup", StateInit); err != nil {
		return err
	}
	udp, err := c.listenUDP()
	if err != nil {
		return err
	}
	// every SETUP starts a new request sequence
	c.cseq = 1
	req := rtsp.NewSetupRequest(mediaID, c.cseq, c.transport, udp.LocalAddr().(*net.UDPAddr).Port)
	res, err := c.request(ctx, req)
	if err == nil && res.Session == "" {
		err = errors.Wrap(rtsp.ErrMalformedResponse, "setup response has no session")
	}
	if err != nil {
		_ = udp.Close()
		return err
	}

	c.stats.Reset()
	c.playout.Reset(0)
	ok := c.transition(StateReady, func() {
		c.session = res.Session
		c.mediaID = mediaID
		c.udp = udp
		c.report = stats.Report{}
	})
	if !ok {
		_ = udp.Close()
		return ErrClosed
	}
	return nil
}

// Play starts the data path and asks the server to start streaming.
func (c *Client) Play(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.checkState("play", StateReady); err != nil {
		return err
	}
	// the data path runs before PLAY is sent so no datagram is missed
	dp, err := c.startDataPath()
	if err != nil {
		return err
	}
	if err := c.simpleRequest(ctx, rtsp.MethodPlay); err != nil {
		c.stopDataPath(dp, true)
		return err
	}
	if !c.transition(StatePlaying, nil) {
		return ErrClosed
	}
	return nil
}

// Pause stops the data path and asks the server to stop streaming.
// If the server refuses, the data path is restarted and the client stays Playing.
func (c *Client) Pause(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.checkState("pause", StatePlaying); err != nil {
		return err
	}
	c.mu.Lock()
	dp := c.dp
	c.mu.Unlock()
	if dp == nil {
		return ErrClosed
	}
	dp.halt(true)
	err := c.simpleRequest(ctx, rtsp.MethodPause)
	dp.wait()
	if err != nil {
		if c.State() == StatePlaying {
			if _, restartErr := c.startDataPath(); restartErr != nil {
				c.log.WithError(restartErr).Error("restart data path failed")
			}
		}
		return err
	}
	if !c.transition(StateReady, func() { c.dp = nil }) {
		return ErrClosed
	}
	return nil
}

// Teardown ends the session. When playing, the data path is stopped gracefully
// after the server acknowledged the request.
func (c *Client) Teardown(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.checkState("teardown", StateReady, StatePlaying); err != nil {
		return err
	}
	if err := c.simpleRequest(ctx, rtsp.MethodTeardown); err != nil {
		return err
	}
	c.mu.Lock()
	dp, udp := c.dp, c.udp
	c.mu.Unlock()
	if dp != nil {
		c.stopDataPath(dp, false)
	}
	if udp != nil {
		_ = udp.Close()
	}
	if !c.transition(StateInit, func() {
		c.session = ""
		c.mediaID = ""
		c.udp = nil
		c.dp = nil
	}) {
		return ErrClosed
	}
	return nil
}

// Close stops the data path immediately and closes both sockets. It is idempotent,
// may be called from any state and unblocks a request in flight.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		prev := c.state
		c.state = StateClosed
		conn, udp, dp := c.conn, c.udp, c.dp
		c.conn, c.br, c.udp, c.dp = nil, nil, nil, nil
		c.session, c.mediaID = "", ""
		c.mu.Unlock()

		c.metrics.SetState(int(StateClosed))
		c.log.WithFields(logrus.Fields{"from": prev.String(), "to": StateClosed.String()}).Info("state changed")
		if dp != nil {
			dp.halt(true)
		}
		if conn != nil {
			if cerr := conn.Close(); cerr != nil {
				err = errors.Wrap(cerr, "close control connection failed")
			}
		}
		if dp != nil {
			dp.wait()
		}
		if udp != nil {
			_ = udp.Close()
		}
	})
	return err
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the server assigned session identifier, empty outside Ready and Playing.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// MediaID returns the media being played, empty when none is set up.
func (c *Client) MediaID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mediaID
}

// CSeq returns the sequence number of the last request sent.
func (c *Client) CSeq() int {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.cseq
}

// DataPort returns the local port of the data socket, 0 when there is none.
func (c *Client) DataPort() int {
	udp := c.udpConn()
	if udp == nil {
		return 0
	}
	return udp.LocalAddr().(*net.UDPAddr).Port
}

// Report returns the statistics of the last finished stream.
func (c *Client) Report() stats.Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report
}

func (c *Client) udpConn() *net.UDPConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.udp
}

func (c *Client) checkState(op string, allowed ...State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ErrClosed
	}
	for _, s := range allowed {
		if c.state == s {
			return nil
		}
	}
	return errors.Wrapf(ErrInvalidState, "%s in state %s", op, c.state)
}

// transition moves to state to and applies update atomically, unless the client was closed meanwhile.
func (c *Client) transition(to State, update func()) bool {
	c.mu.Lock()
	from := c.state
	if from == StateClosed {
		c.mu.Unlock()
		return false
	}
	c.state = to
	if update != nil {
		update()
	}
	c.mu.Unlock()

	c.metrics.SetState(int(to))
	c.log.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Info("state changed")
	return true
}

// listenUDP binds the data socket to the local address of the control connection.
func (c *Client) listenUDP() (*net.UDPConn, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}
	laddr := &net.UDPAddr{}
	if tcp, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		laddr.IP = tcp.IP
	}
	udp, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, errors.Wrap(err, "open data socket failed")
	}
	return udp, nil
}

func (c *Client) simpleRequest(ctx context.Context, method rtsp.Method) error {
	c.mu.Lock()
	session, mediaID := c.session, c.mediaID
	c.mu.Unlock()
	c.cseq++
	_, err := c.request(ctx, rtsp.NewRequest(method, mediaID, c.cseq, session))
	return err
}

// request sends req and reads its response. Transport failures close the client.
func (c *Client) request(ctx context.Context, req *rtsp.Request) (*rtsp.Response, error) {
	start := time.Now()
	res, err := c.roundTrip(ctx, req)
	c.metrics.ObserveRequest(string(req.Method), err, time.Since(start))
	if err != nil {
		c.log.WithFields(log.RequestFields(req)).WithError(err).Warn("request failed")
		if IsTransportError(err) {
			_ = c.Close()
		}
		return res, err
	}
	c.log.WithFields(log.ResponseFields(res)).Debug("received response")
	return res, nil
}

func (c *Client) roundTrip(ctx context.Context, req *rtsp.Request) (*rtsp.Response, error) {
	c.mu.Lock()
	conn, br, state := c.conn, c.br, c.state
	c.mu.Unlock()
	if state == StateClosed {
		return nil, ErrClosed
	}
	if conn == nil {
		return nil, ErrNotConnected
	}

	deadline := time.Now().Add(c.requestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, c.transportError(ctx, "set deadline", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	c.log.WithFields(log.RequestFields(req)).Debug("sent request")
	if err := req.Write(conn); err != nil {
		return nil, c.transportError(ctx, "write request", err)
	}
	res, err := rtsp.ReadResponse(br)
	if err != nil {
		if rtsp.IsProtocolError(err) {
			return res, err
		}
		return nil, c.transportError(ctx, "read response", err)
	}
	if res.CSeq != req.CSeq {
		return res, errors.Wrapf(rtsp.ErrMalformedResponse, "cseq %d does not match request cseq %d", res.CSeq, req.CSeq)
	}
	return res, nil
}

func (c *Client) transportError(ctx context.Context, op string, err error) error {
	if c.State() == StateClosed {
		return ErrClosed
	}
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	return &TransportError{Op: op, Err: err}
}
