// Package demux implements the co-multiplexing split between QUIC traffic
// and ICE connectivity-check traffic sharing one UDP socket (spec section
// 4.2): a single first-byte test routes each inbound datagram to the right
// consumer without blocking the event loop.
package demux

import (
	"log/slog"
	"net"

	"github.com/alitto/pond/v2"
)

// quicFormBit is bit 0x40 of the first byte of a QUIC v1 datagram (both long
// and short header forms always set it; STUN/ICE messages never do).
const quicFormBit = 0x40

// IsQUIC reports whether b, the first byte of a datagram, belongs to a QUIC
// packet as opposed to a STUN/ICE connectivity check sharing the socket.
func IsQUIC(b byte) bool {
	return b&quicFormBit != 0
}

// ICEHandler receives non-QUIC datagrams. Dispatch runs it on the Demuxer's
// worker pool, not on the event-loop goroutine that services every QUIC path.
type ICEHandler func(buf []byte, from net.Addr)

// Demuxer dispatches each inbound datagram to the QUIC receive path or to an
// ICE handler, running the (possibly slow) ICE handler on a small bounded
// worker pool so a misbehaving peer can never stall QUIC processing. This
// mirrors the non-blocking dispatch discipline the driver applies to its own
// sockets, grounded on the alitto/pond bounded-pool pattern used elsewhere in
// the teacher's stack for off-loop fan-out work.
type Demuxer struct {
	log     *slog.Logger
	ice     ICEHandler
	pool    pond.Pool
	dropped uint64
}

// New builds a Demuxer. poolSize bounds how many ICE callbacks may run
// concurrently; 1 is sufficient for a single ICE agent per connection.
func New(log *slog.Logger, ice ICEHandler, poolSize int) *Demuxer {
	if poolSize < 1 {
		poolSize = 1
	}
	return &Demuxer{
		log: log,
		ice: ice,
		pool: pond.NewPool(poolSize,
			pond.WithQueueSize(poolSize),
			pond.WithNonBlocking(true)),
	}
}

// Dispatch routes buf (already copied out of the socket's read buffer by the
// caller -- Dispatch retains no reference to the original slice beyond this
// call returning for the QUIC path, and takes an owned copy for ICE) either
// straight back to the caller (QUIC: the bool return is true, caller keeps
// processing inline) or onto the ICE worker pool (bool is false).
func (d *Demuxer) Dispatch(buf []byte, from net.Addr) (isQUIC bool) {
	if len(buf) == 0 {
		d.dropped++
		return false
	}
	if IsQUIC(buf[0]) {
		return true
	}

	if d.ice == nil {
		d.dropped++
		return false
	}

	owned := make([]byte, len(buf))
	copy(owned, buf)

	submitted := d.pool.Submit(func() {
		d.ice(owned, from)
	})
	if submitted == nil {
		d.dropped++
		d.log.Warn("ICE worker pool full, dropping datagram", "from", from)
	}
	return false
}

// Dropped returns the number of datagrams discarded because the ICE worker
// pool was saturated or no ICE handler was configured.
func (d *Demuxer) Dropped() uint64 { return d.dropped }

// Close waits for in-flight ICE callbacks to finish and releases the pool.
func (d *Demuxer) Close() {
	d.pool.StopAndWait()
}
