package server

import (
	"net"
	"sync"
)

// Store keeps the sessions that are set up and not yet torn down.
type Store interface {
	New(sess Session) error
	Get(id string) (Session, error)
	SetPlaying(id string, playing bool) error
	Delete(id string) error
	Len() int
}

// Session is what the server knows about one client session.
type Session struct {
	ID       string
	MediaID  string
	DataAddr *net.UDPAddr
	Playing  bool
}

// MemoryStore is a Store held in memory.
type MemoryStore struct {
	sessions map[string]Session
	mu       sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
	}
}

func (p *MemoryStore) New(sess Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sessions[sess.ID]; ok {
		return ErrSessionAlreadyExists
	}
	p.sessions[sess.ID] = sess
	return nil
}

func (p *MemoryStore) Get(id string) (Session, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if sess, ok := p.sessions[id]; ok {
		return sess, nil
	}
	return Session{}, ErrSessionNotFound
}

func (p *MemoryStore) SetPlaying(id string, playing bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	sess, ok := p.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.Playing = playing
	p.sessions[id] = sess
	return nil
}

func (p *MemoryStore) Delete(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(p.sessions, id)
	return nil
}

func (p *MemoryStore) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}
