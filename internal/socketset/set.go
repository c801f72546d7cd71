package socketset

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Set owns every SocketState a single connection driver iteration touches,
// plus the Poller that tells the event loop which of them are ready. It is
// not safe for concurrent use -- the driver is single-threaded by design
// (spec section 5), and Set enforces nothing beyond bookkeeping.
type Set struct {
	log    *slog.Logger
	poller Poller

	mu      sync.Mutex
	sockets map[string]*SocketState
	fds     map[string]int
}

// NewSet builds an empty Set with a fresh platform Poller.
func NewSet(log *slog.Logger) (*Set, error) {
	poller, err := NewPoller()
	if err != nil {
		return nil, fmt.Errorf("socketset: new poller: %w", err)
	}
	return &Set{
		log:     log,
		poller:  poller,
		sockets: make(map[string]*SocketState),
		fds:     make(map[string]int),
	}, nil
}

// Add wraps conn in a SocketState, registers it with the Poller for
// readability, and indexes it by local address.
func (s *Set) Add(conn *net.UDPConn, burstCap int) (*SocketState, error) {
	st, err := New(s.log, conn, burstCap)
	if err != nil {
		return nil, err
	}

	fd, err := fdOf(conn)
	if err != nil {
		return nil, fmt.Errorf("socketset: resolve fd: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := st.LocalAddr().String()
	s.sockets[key] = st
	s.fds[key] = fd
	if err := s.poller.Register(fd); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Set) Get(local *net.UDPAddr) (*SocketState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sockets[local.String()]
	return st, ok
}

// SetWritable toggles epoll's EPOLLOUT interest for the socket bound to
// local, matching the "only watch for write-readiness while a send is
// pending" rule from SPEC_FULL.md section 9.2.
func (s *Set) SetWritable(local *net.UDPAddr, want bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fd, ok := s.fds[local.String()]
	if !ok {
		return fmt.Errorf("socketset: no socket bound to %s", local)
	}
	return s.poller.SetWritable(fd, want)
}

func (s *Set) Remove(local *net.UDPAddr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := local.String()
	st, ok := s.sockets[key]
	if !ok {
		return nil
	}
	fd := s.fds[key]
	delete(s.sockets, key)
	delete(s.fds, key)
	if err := s.poller.Unregister(fd); err != nil {
		return err
	}
	return st.Close()
}

// Wait blocks on the Set's shared Poller -- the single suspension point of
// the event loop (spec section 5).
func (s *Set) Wait(timeout time.Duration) ([]PollEvent, error) {
	return s.poller.Wait(timeout)
}

func (s *Set) All() []*SocketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*SocketState, 0, len(s.sockets))
	for _, st := range s.sockets {
		out = append(out, st)
	}
	return out
}

func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, st := range s.sockets {
		if err := st.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.poller.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
