// Package engine defines the boundary between quicperf's own multi-path
// send/receive machinery and the QUIC implementation that drives the wire
// protocol. No quic-go-specific (or any other QUIC library's) type appears
// in this package; internal/driver, internal/scheduler and
// internal/pathstatus only ever see a Connection.
package engine

import (
	"net"
	"time"
)

// PathStatus is an operator-visible hint on a path.
type PathStatus uint8

const (
	StatusActive PathStatus = iota
	StatusStandby
	StatusAvailable
	StatusBroken
)

// PathStatusFromUint parses the --status wire values from spec section 6.
func PathStatusFromUint(v uint64) PathStatus {
	switch v {
	case 1:
		return StatusStandby
	case 2:
		return StatusAvailable
	case 7:
		return StatusBroken
	default:
		return StatusActive
	}
}

func (s PathStatus) String() string {
	switch s {
	case StatusStandby:
		return "standby"
	case StatusAvailable:
		return "available"
	case StatusBroken:
		return "broken"
	default:
		return "active"
	}
}

// RecvInfo carries the local/remote addresses a datagram arrived on, mirroring
// quiche::RecvInfo.
type RecvInfo struct {
	To   net.Addr
	From net.Addr
}

// SendInfo describes where a produced datagram must be written and the
// maximum size of the path's datagrams.
type SendInfo struct {
	To                net.Addr
	From              net.Addr
	MaxDatagramSize    int
	At                time.Time // SO_TXTIME pacing hint, zero if immediate
}

// SendInstructions is opaque scheduling guidance handed from the scheduler to
// the connection's send path (spec section 4.3: "instructions to the
// library").
type SendInstructions struct {
	Local        net.Addr
	Peer         net.Addr
	PacingBudget int // bytes this call may spend on this path, 0 = unlimited
}

// PathEventKind enumerates the path-lifecycle notifications a multipath
// connection can raise (spec section 4.4/4.5).
type PathEventKind int

const (
	PathEventNew PathEventKind = iota
	PathEventValidated
	PathEventFailedValidation
	PathEventClosed
	PathEventReusedSourceConnectionID
	PathEventPeerMigrated
	PathEventPeerPathStatus
)

type PathEvent struct {
	Kind   PathEventKind
	Local  net.Addr
	Peer   net.Addr
	Status PathStatus // only meaningful for PathEventPeerPathStatus
	Reason string
	Err    error
}

// SourceCID is an opaque connection-ID handle plus its reset token.
type SourceCID struct {
	Seq   uint64
	ID    []byte
	Token [16]byte
}

// PathStats mirrors quiche::PathStats: per-path counters the UI aggregates.
type PathStats struct {
	Local       net.Addr
	Peer        net.Addr
	SentBytes   uint64
	RecvBytes   uint64
	LostBytes   uint64
	CwndAvail   uint64
	SmoothedRTT time.Duration
	Status      PathStatus
}

// ConnectionStats mirrors quiche::Stats: connection-wide counters.
type ConnectionStats struct {
	SentBytes uint64
	RecvBytes uint64
	LostBytes uint64
}

// Stream is the subset of stream I/O the test protocol needs (spec section
// 4.6 only ever touches stream 0).
type Stream interface {
	// Send writes up to len(p) bytes, returning the number accepted. fin
	// marks the stream as finished after this write.
	Send(p []byte, fin bool) (int, error)
	// Recv reads into p, returning bytes read and whether the stream ended.
	Recv(p []byte) (int, bool, error)
}

// ErrDone is returned by Connection methods when there is nothing left to do
// right now -- a normal control-flow signal, never logged as an error (spec
// section 7).
var ErrDone = doneError{}

type doneError struct{}

func (doneError) Error() string { return "done" }

// Connection is the opaque QUIC connection object of spec section 3. It
// stands in for whatever multipath-capable QUIC library a production build
// would link against (see SPEC_FULL.md section 9.1 for why quic-go itself
// cannot satisfy every method natively, and how quicgo.Adapter bridges the
// gap).
type Connection interface {
	// Recv feeds one received (and already demultiplexed-as-QUIC) datagram
	// to the connection.
	Recv(buf []byte, info RecvInfo) (int, error)

	// SendOnPath asks the connection to produce its next outgoing datagram
	// for the given path, honoring the scheduler's instructions. Returns
	// ErrDone when the connection has nothing to send on this path right
	// now.
	SendOnPath(buf []byte, instr SendInstructions) (int, SendInfo, error)

	// PathEvents drains and returns all path events queued since the last
	// call.
	PathEvents() []PathEvent

	// RetiredSourceCIDs drains the retired-SCID queue.
	RetiredSourceCIDs() []uint64

	// SourceCIDsLeft reports how many additional source CIDs the peer's
	// limit still allows.
	SourceCIDsLeft() int

	// NewSourceCID issues a new source connection ID.
	NewSourceCID() (SourceCID, error)

	// AvailableDestinationCIDs reports how many destination CIDs are
	// available for probing a new path.
	AvailableDestinationCIDs() int

	// ProbePath starts path validation for a new (local, peer) pair.
	ProbePath(local, peer net.Addr) error

	// SetPathStatus mutates the operator-visible status of a path, and
	// advertises it to the peer when advertise is true.
	SetPathStatus(local, peer net.Addr, status PathStatus, advertise bool) error

	// Timeout reports the duration until the connection's internal timer
	// next needs OnTimeout, and whether a timer is currently armed.
	Timeout() (time.Duration, bool)

	// OnTimeout must be safe to call spuriously (spec section 8:
	// "Idempotence of timeout").
	OnTimeout()

	IsEstablished() bool
	IsInEarlyData() bool
	IsDraining() bool
	IsClosed() bool

	// Close initiates a connection close; app selects an application-level
	// (true) vs transport-level (false) close.
	Close(app bool, code uint64, reason string) error

	Stats() ConnectionStats
	PathStats() []PathStats

	// OpenStream returns the application's sole stream (stream 0).
	OpenStream() (Stream, error)

	// NegotiatedALPN reports the ALPN selected during the handshake, or ""
	// before it is established.
	NegotiatedALPN() string
}
