package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"rtspc/internal/pkg/client"
	"rtspc/internal/pkg/media"
	"rtspc/internal/pkg/metrics"
	"rtspc/internal/pkg/packet"
	"rtspc/internal/pkg/rtsp"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

const frameCount = 5

func writeMedia(t *testing.T) string {
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "movie.Mjpeg"))
	require.NoError(t, err)
	defer f.Close()
	for i := 1; i <= frameCount; i++ {
		require.NoError(t, media.Write(f, []byte(fmt.Sprintf("frame %d", i))))
	}
	return dir
}

func startServer(t *testing.T, cfgs ...Cfg) (*Server, string) {
	cfgs = append([]Cfg{WithMediaDir(writeMedia(t)), WithFrameInterval(time.Millisecond)}, cfgs...)
	s, err := NewServer(cfgs...)
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return s, ln.Addr().String()
}

// rawConn speaks the control protocol by hand.
type rawConn struct {
	t    *testing.T
	conn net.Conn
	br   *bufio.Reader
	cseq int
}

func dialRaw(t *testing.T, addr string) *rawConn {
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &rawConn{t: t, conn: conn, br: bufio.NewReader(conn)}
}

func (c *rawConn) do(req *rtsp.Request) *rtsp.Response {
	require.NoError(c.t, req.Write(c.conn))
	res, err := rtsp.ReadResponse(c.br)
	require.NotNil(c.t, res, "%v", err)
	require.Equal(c.t, req.CSeq, res.CSeq)
	return res
}

func (c *rawConn) setup(mediaID string, port int) *rtsp.Response {
	c.cseq++
	return c.do(rtsp.NewSetupRequest(mediaID, c.cseq, rtsp.DefaultTransport, port))
}

func (c *rawConn) request(method rtsp.Method, session string) *rtsp.Response {
	c.cseq++
	return c.do(rtsp.NewRequest(method, "movie.Mjpeg", c.cseq, session))
}

func listenData(t *testing.T) *net.UDPConn {
	udp, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = udp.Close() })
	return udp
}

func readSeqs(t *testing.T, udp *net.UDPConn, n int) []uint16 {
	buf := make([]byte, 2048)
	var seqs []uint16
	for len(seqs) < n {
		require.NoError(t, udp.SetReadDeadline(time.Now().Add(time.Second)))
		m, _, err := udp.ReadFromUDP(buf)
		require.NoError(t, err)
		p, err := packet.Parse(buf[:m])
		require.NoError(t, err)
		require.Equal(t, uint8(packet.PayloadTypeJPEG), p.PayloadType)
		require.Equal(t, fmt.Sprintf("frame %d", p.SequenceNumber), string(p.Payload))
		seqs = append(seqs, p.SequenceNumber)
	}
	return seqs
}

func TestStream(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.NewServer(reg)
	require.NoError(t, err)
	s, addr := startServer(t, WithMetrics(m))
	c := dialRaw(t, addr)
	udp := listenData(t)

	res := c.setup("movie.Mjpeg", udp.LocalAddr().(*net.UDPAddr).Port)
	require.Equal(t, rtsp.StatusOK, res.Code)
	require.Len(t, res.Session, 6)
	sess, err := s.Store().Get(res.Session)
	require.NoError(t, err)
	require.Equal(t, "movie.Mjpeg", sess.MediaID)
	require.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))

	require.Equal(t, rtsp.StatusOK, c.request(rtsp.MethodPlay, res.Session).Code)
	require.Equal(t, []uint16{1, 2, 3, 4, 5}, readSeqs(t, udp, frameCount))

	require.Equal(t, rtsp.StatusOK, c.request(rtsp.MethodTeardown, res.Session).Code)
	require.Zero(t, s.Store().Len())
	require.Equal(t, 0.0, testutil.ToFloat64(m.SessionsActive))
	require.Equal(t, float64(frameCount), testutil.ToFloat64(m.PacketsSent))
	require.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("PLAY")))
}

func TestPauseResumes(t *testing.T) {
	_, addr := startServer(t, WithFrameInterval(20*time.Millisecond))
	c := dialRaw(t, addr)
	udp := listenData(t)

	res := c.setup("movie.Mjpeg", udp.LocalAddr().(*net.UDPAddr).Port)
	require.Equal(t, rtsp.StatusOK, c.request(rtsp.MethodPlay, res.Session).Code)
	first := readSeqs(t, udp, 1)
	require.Equal(t, rtsp.StatusOK, c.request(rtsp.MethodPause, res.Session).Code)
	require.Equal(t, rtsp.StatusOK, c.request(rtsp.MethodPlay, res.Session).Code)

	// every frame arrives exactly once across the pause
	rest := readSeqs(t, udp, frameCount-1)
	require.Equal(t, []uint16{1, 2, 3, 4, 5}, append(first, rest...))
}

func TestReorder(t *testing.T) {
	_, addr := startServer(t, WithReorderRate(1))
	c := dialRaw(t, addr)
	udp := listenData(t)

	res := c.setup("movie.Mjpeg", udp.LocalAddr().(*net.UDPAddr).Port)
	c.request(rtsp.MethodPlay, res.Session)
	require.Equal(t, []uint16{2, 1, 4, 3, 5}, readSeqs(t, udp, frameCount))
}

func TestDrop(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.NewServer(reg)
	require.NoError(t, err)
	_, addr := startServer(t, WithDropRate(1), WithMetrics(m))
	c := dialRaw(t, addr)
	udp := listenData(t)

	res := c.setup("movie.Mjpeg", udp.LocalAddr().(*net.UDPAddr).Port)
	c.request(rtsp.MethodPlay, res.Session)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.PacketsDropped) == frameCount
	}, time.Second, time.Millisecond)
	require.Zero(t, testutil.ToFloat64(m.PacketsSent))
}

func TestErrors(t *testing.T) {
	_, addr := startServer(t)
	c := dialRaw(t, addr)

	require.Equal(t, rtsp.StatusNotFound, c.setup("missing.Mjpeg", 5000).Code)
	require.Equal(t, rtsp.StatusMethodNotValidInState, c.request(rtsp.MethodPlay, "").Code)
	require.Equal(t, rtsp.StatusMethodNotValidInState, c.request(rtsp.MethodTeardown, "").Code)

	res := c.setup("movie.Mjpeg", 5000)
	require.Equal(t, rtsp.StatusOK, res.Code)
	require.Equal(t, rtsp.StatusMethodNotValidInState, c.setup("movie.Mjpeg", 5000).Code)
	require.Equal(t, rtsp.StatusSessionNotFound, c.request(rtsp.MethodPlay, "1").Code)
	require.Equal(t, rtsp.StatusMethodNotValidInState, c.request(rtsp.MethodPause, res.Session).Code)
}

func TestMalformedRequest(t *testing.T) {
	_, addr := startServer(t)
	c := dialRaw(t, addr)
	_, err := c.conn.Write([]byte("GARBAGE\r\n\r\n"))
	require.NoError(t, err)
	res, err := rtsp.ReadResponse(c.br)
	require.Error(t, err)
	require.Equal(t, rtsp.StatusBadRequest, res.Code)
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(WithFrameInterval(0))
	require.Error(t, err)
	_, err = NewServer(WithDropRate(1.5))
	require.Error(t, err)
	_, err = NewServer(WithReorderRate(-0.1))
	require.Error(t, err)
}

type frames struct {
	mu   sync.Mutex
	seqs []uint16
}

func (f *frames) HandleFrame(p *packet.Packet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seqs = append(f.seqs, p.SequenceNumber)
}

func (f *frames) HandleError(error) {}

func (f *frames) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seqs)
}

func TestWithClient(t *testing.T) {
	_, addr := startServer(t, WithReorderRate(1))
	sink := &frames{}
	c, err := client.NewClient(
		client.WithServerAddr(addr),
		client.WithSink(sink),
		client.WithPlaybackRate(time.Millisecond),
		client.WithBufferThreshold(2*frameCount-1),
		client.WithReceiveTimeout(50*time.Millisecond),
	)
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Setup(ctx, "movie.Mjpeg"))
	require.NoError(t, c.Play(ctx))
	require.Eventually(t, func() bool { return sink.len() == frameCount }, 2*time.Second, time.Millisecond)
	require.NoError(t, c.Teardown(ctx))

	require.Equal(t, []uint16{1, 2, 3, 4, 5}, sink.seqs)
	report := c.Report()
	require.Equal(t, uint64(frameCount), report.Total)
	require.Equal(t, uint64(frameCount), report.MaxSeq)
	// the stream starts at 1 rather than 0
	require.Equal(t, uint64(1), report.OutOfOrder)
}
