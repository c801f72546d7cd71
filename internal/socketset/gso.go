package socketset

import (
	"net"
	"time"
)

// gsoWriter coalesces a burst of same-size datagrams into as few syscalls as
// possible. WriteBurst writes buf, split into segSize-byte pieces destined
// for to. txAt is accepted but not used by either implementation: no
// SO_TXTIME timestamp is attached, so every burst is sent immediately.
// It returns the number of bytes actually written -- on a partial write the
// caller resumes with the remainder on the next TrySend call.
type gsoWriter interface {
	WriteBurst(buf []byte, to net.Addr, segSize int, txAt time.Time) (int, error)
}
