// Package metrics holds the Prometheus collectors exported by the client and the demo server.
//
// Every method is safe to call on a nil receiver, so components can record
// unconditionally and callers opt in by passing a collector set.
package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Client holds the client side collectors.
type Client struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	PacketsReceived  prometheus.Counter
	PacketsDiscarded *prometheus.CounterVec
	FramesEmitted    prometheus.Counter
	FramesSkipped    prometheus.Counter
	BufferDepth      prometheus.Gauge
	State            prometheus.Gauge
	FrameRate        prometheus.Gauge
	LossRate         prometheus.Gauge
}

// NewClient creates the client collectors and registers them on reg.
func NewClient(reg prometheus.Registerer) (*Client, error) {
	m := &Client{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtspc_client_requests_total",
			Help: "Control requests sent, by method and result",
		}, []string{"method", "result"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rtspc_client_request_duration_seconds",
			Help:    "Time from sending a control request to reading its response",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),

		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtspc_client_packets_received_total",
			Help: "Datagrams read from the data socket",
		}),

		PacketsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtspc_client_packets_discarded_total",
			Help: "Datagrams discarded before playback, by reason",
		}, []string{"reason"}),

		FramesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtspc_client_frames_emitted_total",
			Help: "Frames handed to listeners by the playback clock",
		}),

		FramesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtspc_client_frames_skipped_total",
			Help: "Playback ticks that skipped a missing sequence number",
		}),

		BufferDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtspc_client_buffer_depth",
			Help: "Packets waiting in the reorder buffer",
		}),

		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtspc_client_state",
			Help: "Control channel state (0 = init, 1 = ready, 2 = playing, 3 = closed)",
		}),

		FrameRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtspc_client_frame_rate",
			Help: "Frames per second of the last finished stream",
		}),

		LossRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtspc_client_loss_rate",
			Help: "Lost frames per second of the last finished stream",
		}),
	}
	if err := register(reg,
		m.RequestsTotal,
		m.RequestDuration,
		m.PacketsReceived,
		m.PacketsDiscarded,
		m.FramesEmitted,
		m.FramesSkipped,
		m.BufferDepth,
		m.State,
		m.FrameRate,
		m.LossRate,
	); err != nil {
		return nil, err
	}
	return m, nil
}

// ObserveRequest records a finished control request.
func (m *Client) ObserveRequest(method string, err error, took time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.RequestsTotal.WithLabelValues(method, result).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(took.Seconds())
}

// PacketReceived counts a datagram read from the socket.
func (m *Client) PacketReceived() {
	if m == nil {
		return
	}
	m.PacketsReceived.Inc()
}

// PacketDiscarded counts a datagram dropped for reason.
func (m *Client) PacketDiscarded(reason string) {
	if m == nil {
		return
	}
	m.PacketsDiscarded.WithLabelValues(reason).Inc()
}

// FrameEmitted counts a played frame.
func (m *Client) FrameEmitted() {
	if m == nil {
		return
	}
	m.FramesEmitted.Inc()
}

// FrameSkipped counts a skipped sequence number.
func (m *Client) FrameSkipped() {
	if m == nil {
		return
	}
	m.FramesSkipped.Inc()
}

// SetBufferDepth reports the reorder buffer depth.
func (m *Client) SetBufferDepth(depth int) {
	if m == nil {
		return
	}
	m.BufferDepth.Set(float64(depth))
}

// SetState reports the control channel state.
func (m *Client) SetState(state int) {
	if m == nil {
		return
	}
	m.State.Set(float64(state))
}

// SetRates reports the rates of a finished stream.
func (m *Client) SetRates(frameRate, lossRate float64) {
	if m == nil {
		return
	}
	m.FrameRate.Set(frameRate)
	m.LossRate.Set(lossRate)
}

// Server holds the demo server collectors.
type Server struct {
	SessionsActive   prometheus.Gauge
	RequestsTotal    *prometheus.CounterVec
	PacketsSent      prometheus.Counter
	PacketsDropped   prometheus.Counter
	PacketsReordered prometheus.Counter
}

// NewServer creates the server collectors and registers them on reg.
func NewServer(reg prometheus.Registerer) (*Server, error) {
	m := &Server{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtspc_server_sessions_active",
			Help: "Sessions set up and not yet torn down",
		}),

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtspc_server_requests_total",
			Help: "Control requests handled, by method",
		}, []string{"method"}),

		PacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtspc_server_packets_sent_total",
			Help: "Datagrams sent to clients",
		}),

		PacketsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtspc_server_packets_dropped_total",
			Help: "Datagrams deliberately not sent to simulate loss",
		}),

		PacketsReordered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtspc_server_packets_reordered_total",
			Help: "Datagrams deliberately sent after their successor",
		}),
	}
	if err := register(reg,
		m.SessionsActive,
		m.RequestsTotal,
		m.PacketsSent,
		m.PacketsDropped,
		m.PacketsReordered,
	); err != nil {
		return nil, err
	}
	return m, nil
}

// SessionOpened counts a new session.
func (m *Server) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// SessionClosed counts a finished session.
func (m *Server) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// Request counts a handled request.
func (m *Server) Request(method string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method).Inc()
}

// PacketSent counts a sent datagram.
func (m *Server) PacketSent() {
	if m == nil {
		return
	}
	m.PacketsSent.Inc()
}

// PacketDropped counts a datagram withheld to simulate loss.
func (m *Server) PacketDropped() {
	if m == nil {
		return
	}
	m.PacketsDropped.Inc()
}

// PacketReordered counts a datagram sent after its successor.
func (m *Server) PacketReordered() {
	if m == nil {
		return
	}
	m.PacketsReordered.Inc()
}

func register(reg prometheus.Registerer, cs ...prometheus.Collector) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return errors.Wrap(err, "register collector failed")
		}
	}
	return nil
}
