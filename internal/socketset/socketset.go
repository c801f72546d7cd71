// Package socketset owns the non-blocking UDP sockets quicperf sends and
// receives on. One SocketState exists per local address (spec section 4.1);
// it is grounded on the teacher's tools/twamp/pkg/light sender/reader split
// between "do the syscalls" and "fall back when the platform can't".
package socketset

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// MaxDatagramSize is the client-side single-datagram cap from spec section 6.
const MaxDatagramSize = 1350

// ServerBurstCap is the largest GSO burst the server will ever coalesce into
// one socket buffer (spec section 3: "up to ~64KB GSO burst").
const ServerBurstCap = 64 * 1024

// ErrSendPending is returned by ScheduleSend when a previous send has not
// yet drained -- a programmer error per spec section 3's invariant.
var ErrSendPending = errors.New("socketset: schedule_send called while a send is already pending")

// PendingSend describes the datagram(s) currently buffered for write.
type PendingSend struct {
	To              net.Addr
	MaxDatagramSize int
	At              time.Time // SO_TXTIME hint; zero means "now"
}

// SocketState is one non-blocking UDP socket plus its single outstanding
// send buffer. It is never shared: exactly one SocketSet owns it.
type SocketState struct {
	log   *slog.Logger
	conn  *net.UDPConn
	local *net.UDPAddr

	buf   []byte
	until int
	info  *PendingSend

	wouldBlockCount uint64

	gso gsoWriter
}

// New wraps an already-bound, already-set-nonblocking *net.UDPConn.
// Buf is sized for burstCap bytes (MaxDatagramSize on the client,
// ServerBurstCap on the server).
func New(log *slog.Logger, conn *net.UDPConn, burstCap int) (*SocketState, error) {
	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("socketset: local addr %v is not a UDP address", conn.LocalAddr())
	}
	s := &SocketState{
		log:   log.With("local", local.String()),
		conn:  conn,
		local: local,
		buf:   make([]byte, burstCap),
	}
	if err := configurePlatform(s); err != nil {
		// Degraded operation (no pacing/GSO/bind-to-device) is acceptable,
		// so the failure is only logged and New still returns no error.
		s.log.Warn("socket options not fully applied", "error", err)
	}
	s.gso = newGSOWriter(conn, s.log)
	return s, nil
}

func (s *SocketState) LocalAddr() *net.UDPAddr { return s.local }

func (s *SocketState) WouldBlockCount() uint64 { return s.wouldBlockCount }

// Buffer exposes the backing array so callers (the connection driver) can
// write directly into socket.buf[socket.until:...] as spec section 4.5
// describes, rather than copying.
func (s *SocketState) Buffer() []byte { return s.buf }

func (s *SocketState) Until() int { return s.until }

func (s *SocketState) SetUntil(n int) { s.until = n }

// SendPending reports whether schedule_send() has armed a buffer that
// try_send() has not yet drained.
func (s *SocketState) SendPending() bool { return s.info != nil }

// WritableForDest returns true if no send is pending, or the pending send
// already targets peer -- it governs whether the server may append another
// GSO segment for the same destination (spec section 4.1).
func (s *SocketState) WritableForDest(peer net.Addr) bool {
	if s.info == nil {
		return true
	}
	return sameAddr(s.info.To, peer)
}

func sameAddr(a, b net.Addr) bool {
	au, aok := a.(*net.UDPAddr)
	bu, bok := b.(*net.UDPAddr)
	if aok && bok {
		return au.IP.Equal(bu.IP) && au.Port == bu.Port
	}
	return a.String() == b.String()
}

// ScheduleSend commits until bytes of s.Buffer() (or buf, when non-nil) for
// the next write. Panics if a send is already pending: spec section 3 calls
// this "a programmer error", and the driver never legitimately hits it
// because it always drains via TrySend first.
func (s *SocketState) ScheduleSend(buf []byte, until int, to net.Addr, maxDatagramSize int, at time.Time) {
	if s.info != nil {
		panic(ErrSendPending)
	}
	if buf != nil {
		copy(s.buf, buf[:until])
	}
	s.until = until
	s.info = &PendingSend{To: to, MaxDatagramSize: maxDatagramSize, At: at}
}

// TrySend attempts one non-blocking write of the pending buffer. It returns
// (0, nil) on EWOULDBLOCK, leaving the send pending for the next call.
func (s *SocketState) TrySend() (int, error) {
	if s.info == nil {
		return 0, nil
	}

	// Emulate non-blocking send with the stdlib net package: arm a
	// deadline that has already passed so WriteTo either completes
	// immediately or fails with a *net.OpError wrapping os.ErrDeadlineExceeded,
	// which isWouldBlock treats as EWOULDBLOCK.
	_ = s.conn.SetWriteDeadline(time.Now())

	var (
		n   int
		err error
	)
	if s.until > s.info.MaxDatagramSize && s.info.MaxDatagramSize > 0 {
		n, err = s.gso.WriteBurst(s.buf[:s.until], s.info.To, s.info.MaxDatagramSize, s.info.At)
	} else {
		n, err = s.conn.WriteTo(s.buf[:s.until], s.info.To)
	}

	if err == nil {
		s.until = 0
		s.info = nil
		return n, nil
	}

	if isWouldBlock(err) {
		s.wouldBlockCount++
		if n > 0 && n < s.until {
			// Keep only the unsent remainder pending for the next call.
			copy(s.buf, s.buf[n:s.until])
			s.until -= n
		}
		return 0, nil
	}

	return 0, fmt.Errorf("socketset: send to %s failed: %w", s.info.To, err)
}

// ReadFrom performs one non-blocking receive. Callers loop until
// isWouldBlock(err).
func (s *SocketState) ReadFrom(buf []byte) (int, net.Addr, error) {
	_ = s.conn.SetReadDeadline(time.Now())
	n, addr, err := s.conn.ReadFrom(buf)
	if err != nil {
		if isWouldBlock(err) {
			return 0, nil, err
		}
		return 0, nil, fmt.Errorf("socketset: recv on %s failed: %w", s.local, err)
	}
	return n, addr, nil
}

// SyscallConn exposes the underlying conn for callers (the event loop) that
// need to register it with a poller.
func (s *SocketState) SyscallConn() (interface{ Control(func(uintptr)) error }, error) {
	type rawConn interface {
		Control(f func(fd uintptr)) error
	}
	rc, err := s.conn.SyscallConn()
	if err != nil {
		return nil, err
	}
	return controlAdapter{rc}, nil
}

type controlAdapter struct {
	rc interface {
		Control(f func(fd uintptr)) error
	}
}

func (c controlAdapter) Control(f func(uintptr)) error {
	return c.rc.Control(func(fd uintptr) { f(fd) })
}

func (s *SocketState) Close() error { return s.conn.Close() }

// isWouldBlock reports whether err is the result of the already-expired
// deadline TrySend/ReadFrom arm before every syscall -- the stdlib's stand-in
// for EWOULDBLOCK, since net.UDPConn never surfaces that errno directly.
func isWouldBlock(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
