// Package session is the entry point for user interfaces. A Session translates user
// intents into control requests and fans played frames, media changes and failures
// out to registered listeners.
package session

import (
	"context"
	"sync"

	"rtspc/internal/pkg/client"
	"rtspc/internal/pkg/packet"
	"rtspc/internal/pkg/stats"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// Listener is notified of session events. Methods are called from the caller's
// goroutine for control operations and from data path goroutines for frames and
// data path failures. They must not block and must not call back into the Session.
type Listener interface {
	// OnError is called once for every failed operation.
	OnError(err error)
	// OnFrame is called for every frame played. A nil frame means the display should be cleared.
	OnFrame(frame *packet.Packet)
	// OnMediaChanged is called when media is opened or closed. An empty mediaID means no media.
	OnMediaChanged(mediaID string)
}

// Session owns one control connection and the session running over it.
type Session struct {
	id     uuid.UUID
	log    logrus.FieldLogger
	client *client.Client

	mu        sync.RWMutex
	listeners []Listener
	mediaID   string
}

// Dial creates a Session and connects it to the server. No media is set up yet.
func Dial(ctx context.Context, cfgs ...client.Cfg) (*Session, error) {
	s := &Session{id: uuid.New()}
	s.log = logger.WithField("session", s.id.String())
	cfgs = append([]client.Cfg{client.WithLogger(s.log)}, cfgs...)
	c, err := client.NewClient(append(cfgs, client.WithSink(s))...)
	if err != nil {
		return nil, errors.Wrap(err, "create client failed")
	}
	if err := c.Connect(ctx); err != nil {
		return nil, errors.Wrap(err, "connect failed")
	}
	s.client = c
	return s, nil
}

// ID identifies the session in logs.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// State returns the state of the control channel.
func (s *Session) State() client.State {
	return s.client.State()
}

// MediaID returns the open media, empty when none.
func (s *Session) MediaID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mediaID
}

// Report returns the statistics of the last finished stream.
func (s *Session) Report() stats.Report {
	return s.client.Report()
}

// AddListener registers l and immediately tells it the current media.
func (s *Session) AddListener(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	mediaID := s.mediaID
	s.mu.Unlock()
	l.OnMediaChanged(mediaID)
}

// Open sets up mediaID.
func (s *Session) Open(ctx context.Context, mediaID string) error {
	if err := s.client.Setup(ctx, mediaID); err != nil {
		return s.fail(errors.Wrapf(err, "open %s failed", mediaID))
	}
	s.setMedia(mediaID)
	return nil
}

// Play starts or resumes playback of the open media.
func (s *Session) Play(ctx context.Context) error {
	if err := s.client.Play(ctx); err != nil {
		return s.fail(errors.Wrap(err, "play failed"))
	}
	return nil
}

// Pause pauses playback. The server may still send a few frames; they are dropped.
func (s *Session) Pause(ctx context.Context) error {
	if err := s.client.Pause(ctx); err != nil {
		return s.fail(errors.Wrap(err, "pause failed"))
	}
	return nil
}

// Teardown closes the open media.
func (s *Session) Teardown(ctx context.Context) error {
	if err := s.client.Teardown(ctx); err != nil {
		return s.fail(errors.Wrap(err, "teardown failed"))
	}
	s.clear()
	return nil
}

// Close closes the connection. The Session must not be used afterwards.
func (s *Session) Close() error {
	if err := s.client.Close(); err != nil {
		return s.fail(errors.Wrap(err, "close failed"))
	}
	s.clear()
	return nil
}

// HandleFrame forwards a played frame to the listeners while media is open.
func (s *Session) HandleFrame(p *packet.Packet) {
	s.mu.RLock()
	open := s.mediaID != ""
	s.mu.RUnlock()
	if !open {
		return
	}
	for _, l := range s.snapshot() {
		l.OnFrame(p)
	}
}

// HandleError forwards a data path failure to the listeners.
func (s *Session) HandleError(err error) {
	_ = s.fail(errors.Wrap(err, "data path failed"))
}

// fail notifies the listeners of err. A transport failure closes the client,
// so the media is cleared as on Close.
func (s *Session) fail(err error) error {
	s.log.WithError(err).Error("session operation failed")
	for _, l := range s.snapshot() {
		l.OnError(err)
	}
	if client.IsTransportError(err) || s.client.State() == client.StateClosed {
		s.clear()
	}
	return err
}

func (s *Session) setMedia(mediaID string) {
	s.mu.Lock()
	s.mediaID = mediaID
	s.mu.Unlock()
	for _, l := range s.snapshot() {
		l.OnMediaChanged(mediaID)
	}
}

// clear notifies the listeners that no media is open, once per open media.
func (s *Session) clear() {
	s.mu.Lock()
	open := s.mediaID != ""
	s.mediaID = ""
	s.mu.Unlock()
	if !open {
		return
	}
	for _, l := range s.snapshot() {
		l.OnFrame(nil)
		l.OnMediaChanged("")
	}
}

func (s *Session) snapshot() []Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Listener(nil), s.listeners...)
}
