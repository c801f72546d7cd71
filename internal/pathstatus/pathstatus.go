// Package pathstatus implements the time-ordered path status updates of
// spec section 4.7: a schedule of (delay, path index, status) triples that
// fire once wall time since test start has advanced far enough.
package pathstatus

import (
	"fmt"
	"net"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/quicperfio/quicperf/internal/engine"
)

// Update is one pending (delay, path index, status) entry from the --status
// CLI flag.
type Update struct {
	Delay  time.Duration
	PathID int
	Status engine.PathStatus
}

// Updater applies pending Updates against a connection's paths as wall time
// advances past each entry's delay.
type Updater struct {
	clock   clockwork.Clock
	start   time.Time
	pending []Update
}

// New validates every update's PathID against pathCount. Construction fails
// -- matching spec section 4.7 -- if any PathID is out of range.
func New(clock clockwork.Clock, start time.Time, updates []Update, pathCount int) (*Updater, error) {
	for _, u := range updates {
		if u.PathID < 0 || u.PathID >= pathCount {
			return nil, fmt.Errorf("pathstatus: update targets path %d, only %d configured", u.PathID, pathCount)
		}
	}
	cp := make([]Update, len(updates))
	copy(cp, updates)
	return &Updater{clock: clock, start: start, pending: cp}, nil
}

// Apply applies every pending update whose delay has elapsed as of the
// updater's clock, given the local/peer address pair at each path index.
// Updates whose path is not yet known (SetPathStatus fails) are retained for
// a later call; spec section 4.7 calls this "retain entries that fail".
func (u *Updater) Apply(conn engine.Connection, localAddrs, peerAddrs []net.Addr) {
	elapsed := u.clock.Now().Sub(u.start)

	remaining := u.pending[:0]
	for _, up := range u.pending {
		if elapsed < up.Delay {
			remaining = append(remaining, up)
			continue
		}
		if up.PathID >= len(localAddrs) || up.PathID >= len(peerAddrs) {
			remaining = append(remaining, up)
			continue
		}
		if err := conn.SetPathStatus(localAddrs[up.PathID], peerAddrs[up.PathID], up.Status, true); err != nil {
			remaining = append(remaining, up)
			continue
		}
	}
	u.pending = remaining
}

// Pending reports how many updates have not yet been applied.
func (u *Updater) Pending() int { return len(u.pending) }
