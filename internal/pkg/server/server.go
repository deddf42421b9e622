package server

import (
	"context"
	"net"
	"sync"
	"time"

	"rtspc/internal/pkg/metrics"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// DefaultFrameInterval is the pace at which frames are sent while playing.
const DefaultFrameInterval = 50 * time.Millisecond

// Server streams media files to clients speaking the control protocol.
type Server struct {
	mediaDir      string
	frameInterval time.Duration
	dropRate      float64
	reorderRate   float64
	store         Store
	metrics       *metrics.Server
}

// Cfg configures a Server.
type Cfg func(*Server) error

// WithMediaDir sets the directory media identifiers are resolved in.
func WithMediaDir(dir string) Cfg {
	return func(s *Server) error {
		s.mediaDir = dir
		return nil
	}
}

// WithFrameInterval sets the interval between two datagrams of a session.
func WithFrameInterval(d time.Duration) Cfg {
	return func(s *Server) error {
		if d <= 0 {
			return errors.Errorf("frame interval must be positive, got %s", d)
		}
		s.frameInterval = d
		return nil
	}
}

// WithDropRate sets the probability that a datagram is not sent.
func WithDropRate(p float64) Cfg {
	return func(s *Server) error {
		if p < 0 || p > 1 {
			return errors.Errorf("drop rate must be within [0, 1], got %v", p)
		}
		s.dropRate = p
		return nil
	}
}

// WithReorderRate sets the probability that a datagram is sent after its successor.
func WithReorderRate(p float64) Cfg {
	return func(s *Server) error {
		if p < 0 || p > 1 {
			return errors.Errorf("reorder rate must be within [0, 1], got %v", p)
		}
		s.reorderRate = p
		return nil
	}
}

// WithSessionStore sets the session store for the server.
func WithSessionStore(store Store) Cfg {
	return func(s *Server) error {
		s.store = store
		return nil
	}
}

// WithMetrics records server metrics in m.
func WithMetrics(m *metrics.Server) Cfg {
	return func(s *Server) error {
		s.metrics = m
		return nil
	}
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfgs ...Cfg) (*Server, error) {
	server := &Server{
		mediaDir:      ".",
		frameInterval: DefaultFrameInterval,
	}
	for _, cfg := range cfgs {
		if err := cfg(server); err != nil {
			return nil, errors.Wrap(err, "apply Server cfg failed")
		}
	}
	if server.store == nil {
		server.store = NewMemoryStore()
	}
	return server, nil
}

// Store returns the session store.
func (s *Server) Store() Store {
	return s.store
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s failed", addr)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts control connections on ln until ctx is done. ln is closed on return,
// together with every open connection.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logger.WithField("addr", ln.Addr().String()).Info("server listening")
	var wg sync.WaitGroup
	var mu sync.Mutex
	conns := make(map[net.Conn]struct{})
	closeAll := func() {
		mu.Lock()
		defer mu.Unlock()
		for c := range conns {
			_ = c.Close()
		}
	}
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		closeAll()
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			closeAll()
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "accept failed")
		}
		mu.Lock()
		conns[conn] = struct{}{}
		mu.Unlock()
		if ctx.Err() != nil {
			_ = conn.Close()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				mu.Lock()
				delete(conns, conn)
				mu.Unlock()
			}()
			newConnHandler(s, conn).run()
		}()
	}
}
