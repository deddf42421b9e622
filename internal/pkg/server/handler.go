package server

import (
	"bufio"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"rtspc/internal/pkg/log"
	"rtspc/internal/pkg/media"
	"rtspc/internal/pkg/rtsp"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type connState int

const (
	connInit connState = iota
	connReady
	connPlaying
)

// connHandler serves the requests of one control connection. A connection carries
// at most one session at a time.
type connHandler struct {
	server *Server
	conn   net.Conn
	log    logrus.FieldLogger
	rand   *rand.Rand

	state    connState
	session  string
	source   *media.Source
	udp      net.Conn
	streamer *streamer
}

func newConnHandler(s *Server, conn net.Conn) *connHandler {
	return &connHandler{
		server: s,
		conn:   conn,
		log:    logger.WithField("remote", conn.RemoteAddr().String()),
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())), // nolint: gosec // session ids need not be secret
	}
}

func (h *connHandler) run() {
	defer h.conn.Close()
	defer h.release()
	h.log.Info("new connection established")
	br := bufio.NewReader(h.conn)
	for {
		req, err := rtsp.ReadRequest(br)
		if err != nil {
			if errors.Is(err, rtsp.ErrMalformedRequest) {
				h.log.WithError(err).Warn("malformed request")
				_ = rtsp.NewResponse(rtsp.StatusBadRequest, 0, "").Write(h.conn)
			}
			h.log.Info("connection closed")
			return
		}
		h.log.WithFields(log.RequestFields(req)).Debug("received request")
		h.server.metrics.Request(string(req.Method))
		res := h.handle(req)
		if err := res.Write(h.conn); err != nil {
			h.log.WithError(err).Warn("write response failed")
			return
		}
		h.log.WithFields(log.ResponseFields(res)).Debug("sent response")
	}
}

func (h *connHandler) handle(req *rtsp.Request) *rtsp.Response {
	if req.Method != rtsp.MethodSetup && h.state != connInit && req.Session != h.session {
		return rtsp.NewResponse(rtsp.StatusSessionNotFound, req.CSeq, "")
	}
	switch req.Method {
	case rtsp.MethodSetup:
		return h.setup(req)
	case rtsp.MethodPlay:
		return h.play(req)
	case rtsp.MethodPause:
		return h.pause(req)
	case rtsp.MethodTeardown:
		return h.teardown(req)
	}
	return rtsp.NewResponse(rtsp.StatusBadRequest, req.CSeq, h.session)
}

func (h *connHandler) setup(req *rtsp.Request) *rtsp.Response {
	if h.state != connInit {
		return rtsp.NewResponse(rtsp.StatusMethodNotValidInState, req.CSeq, h.session)
	}
	if req.ClientPort == 0 {
		return rtsp.NewResponse(rtsp.StatusBadRequest, req.CSeq, "")
	}
	source, err := media.Open(filepath.Join(h.server.mediaDir, filepath.Base(req.MediaID)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rtsp.NewResponse(rtsp.StatusNotFound, req.CSeq, "")
		}
		h.log.WithError(err).Error("open media failed")
		return rtsp.NewResponse(rtsp.StatusInternalServerError, req.CSeq, "")
	}
	addr := &net.UDPAddr{Port: req.ClientPort}
	if tcp, ok := h.conn.RemoteAddr().(*net.TCPAddr); ok {
		addr.IP = tcp.IP
	}
	udp, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		_ = source.Close()
		h.log.WithError(err).Error("open data socket failed")
		return rtsp.NewResponse(rtsp.StatusInternalServerError, req.CSeq, "")
	}

	id := h.newSessionID()
	if err := h.server.store.New(Session{ID: id, MediaID: req.MediaID, DataAddr: addr}); err != nil {
		_ = source.Close()
		_ = udp.Close()
		h.log.WithError(err).Error("new session failed")
		return rtsp.NewResponse(rtsp.StatusInternalServerError, req.CSeq, "")
	}
	h.server.metrics.SessionOpened()
	h.session, h.source, h.udp, h.state = id, source, udp, connReady
	h.log.WithFields(logrus.Fields{"rtsp_session": id, "media": req.MediaID, "data_addr": addr.String()}).Info("session set up")
	return rtsp.NewResponse(rtsp.StatusOK, req.CSeq, id)
}

func (h *connHandler) play(req *rtsp.Request) *rtsp.Response {
	if h.state != connReady {
		return rtsp.NewResponse(rtsp.StatusMethodNotValidInState, req.CSeq, h.session)
	}
	h.streamer = newStreamer(h.server, h.source, h.udp, h.rand.Int63())
	go h.streamer.run()
	h.setPlaying(true)
	h.state = connPlaying
	return rtsp.NewResponse(rtsp.StatusOK, req.CSeq, h.session)
}

func (h *connHandler) pause(req *rtsp.Request) *rtsp.Response {
	if h.state != connPlaying {
		return rtsp.NewResponse(rtsp.StatusMethodNotValidInState, req.CSeq, h.session)
	}
	h.stopStreaming()
	h.state = connReady
	return rtsp.NewResponse(rtsp.StatusOK, req.CSeq, h.session)
}

func (h *connHandler) teardown(req *rtsp.Request) *rtsp.Response {
	if h.state == connInit {
		return rtsp.NewResponse(rtsp.StatusMethodNotValidInState, req.CSeq, "")
	}
	id := h.session
	h.release()
	return rtsp.NewResponse(rtsp.StatusOK, req.CSeq, id)
}

func (h *connHandler) setPlaying(playing bool) {
	if err := h.server.store.SetPlaying(h.session, playing); err != nil {
		h.log.WithError(err).Warn("update session failed")
	}
}

func (h *connHandler) stopStreaming() {
	if h.streamer == nil {
		return
	}
	h.streamer.stop()
	h.streamer = nil
	h.setPlaying(false)
}

// release ends the current session, if any.
func (h *connHandler) release() {
	if h.state == connInit {
		return
	}
	h.stopStreaming()
	_ = h.source.Close()
	_ = h.udp.Close()
	if err := h.server.store.Delete(h.session); err != nil {
		h.log.WithError(err).Warn("delete session failed")
	}
	h.server.metrics.SessionClosed()
	h.log.WithField("rtsp_session", h.session).Info("session torn down")
	h.session, h.source, h.udp, h.streamer, h.state = "", nil, nil, nil, connInit
}

// newSessionID returns a random six digit identifier not in use.
func (h *connHandler) newSessionID() string {
	for {
		id := strconv.Itoa(100000 + h.rand.Intn(900000))
		if _, err := h.server.store.Get(id); errors.Is(err, ErrSessionNotFound) {
			return id
		}
	}
}
