// Package scheduler implements the path scheduler of spec section 4.3: given
// a connection's current path stats, decide which path (if any) should carry
// the next outbound datagram. A strategy is chosen once at startup and never
// switched at runtime (monomorphic dispatch, no per-call strategy lookup).
package scheduler

import (
	"net"

	"github.com/quicperfio/quicperf/internal/engine"
)

// Decision records one scheduling outcome for the UI's decision ring.
type Decision struct {
	Local engine.SendInstructions
	Ok    bool // false when no path was eligible
}

// Scheduler selects the next path to send on. Implementations are not safe
// for concurrent use; the driver calls NextSend from a single goroutine.
type Scheduler interface {
	// NextSend inspects stats (the connection's current PathStats) and
	// returns scheduling instructions for the next send, or ok=false when no
	// eligible path wants to send.
	NextSend(stats []engine.PathStats) (instr engine.SendInstructions, ok bool)

	// Decisions drains every decision recorded since the last call, for the
	// UI to render once per tick.
	Decisions() []Decision
}

// eligible reports whether a path may currently carry new data: active,
// the library reports send capacity, and not Broken (spec.md line 73).
// Standby and Available paths are excluded -- they carry no new data until
// promoted to Active.
func eligible(p engine.PathStats) bool {
	return p.Status == engine.StatusActive && p.CwndAvail > 0
}

func toInstructions(p engine.PathStats) engine.SendInstructions {
	return engine.SendInstructions{
		Local:        p.Local,
		Peer:         p.Peer,
		PacingBudget: int(p.CwndAvail),
	}
}

func addrKey(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
