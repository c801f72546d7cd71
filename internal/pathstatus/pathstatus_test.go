package pathstatus

import (
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quicperfio/quicperf/internal/engine"
)

type fakeStatusConn struct {
	calls []engine.PathStatus
	fail  bool
}

func (f *fakeStatusConn) SetPathStatus(local, peer net.Addr, status engine.PathStatus, advertise bool) error {
	if f.fail {
		return assertErr
	}
	f.calls = append(f.calls, status)
	return nil
}

var assertErr = &pathNotKnownError{}

type pathNotKnownError struct{}

func (*pathNotKnownError) Error() string { return "path not known" }

// minimalConn satisfies engine.Connection by embedding a nil Connection for
// every method Apply never calls, and forwarding SetPathStatus explicitly
// (embedding both would make the method ambiguous and unpromoted).
type minimalConn struct {
	engine.Connection
	*fakeStatusConn
}

func (c minimalConn) SetPathStatus(local, peer net.Addr, status engine.PathStatus, advertise bool) error {
	return c.fakeStatusConn.SetPathStatus(local, peer, status, advertise)
}

func TestConstructionRejectsOutOfRangePathID(t *testing.T) {
	clock := clockwork.NewFakeClock()
	_, err := New(clock, clock.Now(), []Update{{PathID: 5, Status: engine.StatusStandby}}, 2)
	assert.Error(t, err)
}

func TestApplyFiresAfterDelayElapses(t *testing.T) {
	clock := clockwork.NewFakeClock()
	start := clock.Now()
	u, err := New(clock, start, []Update{{Delay: 2 * time.Second, PathID: 0, Status: engine.StatusStandby}}, 1)
	require.NoError(t, err)

	fake := &fakeStatusConn{}
	conn := minimalConn{fakeStatusConn: fake}
	locals := []net.Addr{&net.UDPAddr{Port: 1}}
	peers := []net.Addr{&net.UDPAddr{Port: 2}}

	u.Apply(conn, locals, peers)
	assert.Empty(t, fake.calls)
	assert.Equal(t, 1, u.Pending())

	clock.Advance(2 * time.Second)
	u.Apply(conn, locals, peers)
	assert.Equal(t, []engine.PathStatus{engine.StatusStandby}, fake.calls)
	assert.Equal(t, 0, u.Pending())
}

func TestApplyRetainsFailedUpdates(t *testing.T) {
	clock := clockwork.NewFakeClock()
	start := clock.Now()
	u, err := New(clock, start, []Update{{Delay: 0, PathID: 0, Status: engine.StatusBroken}}, 1)
	require.NoError(t, err)

	fake := &fakeStatusConn{fail: true}
	conn := minimalConn{fakeStatusConn: fake}
	locals := []net.Addr{&net.UDPAddr{Port: 1}}
	peers := []net.Addr{&net.UDPAddr{Port: 2}}

	u.Apply(conn, locals, peers)
	assert.Equal(t, 1, u.Pending())
}
