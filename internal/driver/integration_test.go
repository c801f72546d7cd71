package driver

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quicperfio/quicperf/internal/demux"
	"github.com/quicperfio/quicperf/internal/engine"
	"github.com/quicperfio/quicperf/internal/pathstatus"
	"github.com/quicperfio/quicperf/internal/protocol"
	"github.com/quicperfio/quicperf/internal/scheduler"
	"github.com/quicperfio/quicperf/internal/socketset"
)

// fakeConn is an in-memory engine.Connection double driving the connection
// driver's state machine without a real QUIC handshake, in the spirit of the
// teacher's fake-clock-driven connection tests.
type fakeConn struct {
	established bool
	closed      bool
	alpn        string

	paths      []engine.PathStats
	events     []engine.PathEvent
	probeCalls []net.Addr

	sourceCIDsLeft int
	destCIDsAvail  int

	sendResponses []sendResponse
}

type sendResponse struct {
	n    int
	info engine.SendInfo
	err  error
}

func (f *fakeConn) Recv(buf []byte, info engine.RecvInfo) (int, error) { return len(buf), nil }

func (f *fakeConn) SendOnPath(buf []byte, instr engine.SendInstructions) (int, engine.SendInfo, error) {
	if len(f.sendResponses) == 0 {
		return 0, engine.SendInfo{}, engine.ErrDone
	}
	r := f.sendResponses[0]
	f.sendResponses = f.sendResponses[1:]
	return r.n, r.info, r.err
}

func (f *fakeConn) PathEvents() []engine.PathEvent {
	out := f.events
	f.events = nil
	return out
}

func (f *fakeConn) RetiredSourceCIDs() []uint64 { return nil }

func (f *fakeConn) SourceCIDsLeft() int { return f.sourceCIDsLeft }

func (f *fakeConn) NewSourceCID() (engine.SourceCID, error) {
	if f.sourceCIDsLeft <= 0 {
		return engine.SourceCID{}, engine.ErrDone
	}
	f.sourceCIDsLeft--
	return engine.SourceCID{Seq: 1, ID: []byte{1}}, nil
}

func (f *fakeConn) AvailableDestinationCIDs() int { return f.destCIDsAvail }

func (f *fakeConn) ProbePath(local, peer net.Addr) error {
	f.probeCalls = append(f.probeCalls, local)
	f.events = append(f.events, engine.PathEvent{Kind: engine.PathEventValidated, Local: local, Peer: peer})
	f.paths = append(f.paths, engine.PathStats{Local: local, Peer: peer, CwndAvail: 1 << 16})
	return nil
}

func (f *fakeConn) SetPathStatus(local, peer net.Addr, status engine.PathStatus, advertise bool) error {
	for i := range f.paths {
		if f.paths[i].Local.String() == local.String() {
			f.paths[i].Status = status
			return nil
		}
	}
	return engine.ErrDone
}

func (f *fakeConn) Timeout() (time.Duration, bool) { return 0, false }
func (f *fakeConn) OnTimeout()                     {}
func (f *fakeConn) IsEstablished() bool            { return f.established }
func (f *fakeConn) IsInEarlyData() bool            { return false }
func (f *fakeConn) IsDraining() bool               { return f.closed }
func (f *fakeConn) IsClosed() bool                 { return f.closed }

func (f *fakeConn) Close(app bool, code uint64, reason string) error {
	f.closed = true
	return nil
}

func (f *fakeConn) Stats() engine.ConnectionStats { return engine.ConnectionStats{} }
func (f *fakeConn) PathStats() []engine.PathStats { return f.paths }

func (f *fakeConn) OpenStream() (engine.Stream, error) { return nopStream{}, nil }

func (f *fakeConn) NegotiatedALPN() string { return f.alpn }

type nopStream struct{}

func (nopStream) Send(p []byte, fin bool) (int, error) { return len(p), nil }
func (nopStream) Recv(p []byte) (int, bool, error)     { return 0, false, engine.ErrDone }

func newLoopbackSet(t *testing.T, addrs []*net.UDPAddr) (*socketset.Set, []net.Addr) {
	t.Helper()
	set, err := socketset.NewSet(testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = set.Close() })

	out := make([]net.Addr, len(addrs))
	for i, a := range addrs {
		conn, err := net.ListenUDP("udp", a)
		require.NoError(t, err)
		_, err = set.Add(conn, socketset.MaxDatagramSize)
		require.NoError(t, err)
		out[i] = conn.LocalAddr()
	}
	return set, out
}

func TestClientDriverAdvancesThroughHandshakeToProbing(t *testing.T) {
	clock := clockwork.NewFakeClock()
	local := []*net.UDPAddr{{IP: net.IPv4(127, 0, 0, 1), Port: 0}}
	sockets, localAddrs := newLoopbackSet(t, local)
	peerAddrs := []net.Addr{&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9999}}

	conn := &fakeConn{destCIDsAvail: 0, sourceCIDsLeft: 0}
	tc := protocol.TestConfig{LocalAddrs: []string{"a"}, PeerAddrs: []string{"b"}, Duration: protocol.DurationFromGo(time.Second)}
	proto, err := protocol.NewClient(clock, tc)
	require.NoError(t, err)
	updater, err := pathstatus.New(clock, clock.Now(), nil, 1)
	require.NoError(t, err)

	cd := NewClientDriver(ClientConfig{
		Log: testLogger(), Clock: clock, Sockets: sockets, Demux: demux.New(testLogger(), nil, 1),
		Conn: conn, Scheduler: schedulerOrPanic(t), Proto: proto, Updater: updater,
		LocalAddrs: localAddrs, PeerAddrs: peerAddrs,
	})

	assert.Equal(t, StateHandshaking, cd.State())
	conn.established = true

	_, err = cd.RunIteration()
	require.NoError(t, err)
	assert.Equal(t, StateProbing, cd.State())
}

func TestClientDriverProbesEveryLocalAddrAtMostOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	local := []*net.UDPAddr{
		{IP: net.IPv4(127, 0, 0, 1), Port: 0},
		{IP: net.IPv4(127, 0, 0, 1), Port: 0},
	}
	sockets, localAddrs := newLoopbackSet(t, local)
	peerAddrs := []net.Addr{
		&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9001},
		&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9002},
	}

	conn := &fakeConn{established: true, destCIDsAvail: 4, sourceCIDsLeft: 0}
	conn.paths = []engine.PathStats{{Local: localAddrs[0], Peer: peerAddrs[0], CwndAvail: 1 << 16}}
	tc := protocol.TestConfig{LocalAddrs: []string{"a", "b"}, PeerAddrs: []string{"c", "d"}, Duration: protocol.DurationFromGo(time.Second)}
	proto, err := protocol.NewClient(clock, tc)
	require.NoError(t, err)
	updater, err := pathstatus.New(clock, clock.Now(), nil, 2)
	require.NoError(t, err)

	cd := NewClientDriver(ClientConfig{
		Log: testLogger(), Clock: clock, Sockets: sockets, Demux: demux.New(testLogger(), nil, 1),
		Conn: conn, Scheduler: schedulerOrPanic(t), Proto: proto, Updater: updater,
		LocalAddrs: localAddrs, PeerAddrs: peerAddrs,
	})

	for i := 0; i < 5 && cd.State() != StateRunning; i++ {
		_, err := cd.RunIteration()
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, len(conn.probeCalls), len(localAddrs))
	assert.Equal(t, StateRunning, cd.State())
}

func TestServerDriverTransitionsToClosedOnUserTermination(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sockets, err := socketset.NewSet(testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sockets.Close() })

	sd, err := NewServerDriver(ServerConfig{
		Log: testLogger(), Clock: clock, Sockets: sockets, Demux: demux.New(testLogger(), nil, 1),
		Factory:      func(local, peer net.Addr, scid []byte) (engine.Connection, error) { return nil, engine.ErrDone },
		NewScheduler: func() scheduler.Scheduler { return schedulerOrPanic(t) },
	})
	require.NoError(t, err)

	conn := &fakeConn{established: true, alpn: "quicheperf"}
	client := sd.AdoptConnection(conn, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	require.NotNil(t, client)

	sd.RequestClose()
	require.NoError(t, sd.RunIteration())
	assert.True(t, conn.closed)
}

func TestServerDriverGarbageCollectsClosedClients(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sockets, err := socketset.NewSet(testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sockets.Close() })

	sd, err := NewServerDriver(ServerConfig{
		Log: testLogger(), Clock: clock, Sockets: sockets, Demux: demux.New(testLogger(), nil, 1),
		Factory:      func(local, peer net.Addr, scid []byte) (engine.Connection, error) { return nil, engine.ErrDone },
		NewScheduler: func() scheduler.Scheduler { return schedulerOrPanic(t) },
	})
	require.NoError(t, err)

	conn := &fakeConn{established: true, closed: true, alpn: "quicheperf"}
	sd.AdoptConnection(conn, []byte{9, 9, 9, 9, 9, 9, 9, 9})
	require.Equal(t, 1, sd.ClientCount())

	require.NoError(t, sd.RunIteration())
	assert.Equal(t, 0, sd.ClientCount())
}

func schedulerOrPanic(t *testing.T) scheduler.Scheduler {
	t.Helper()
	s, err := scheduler.New(scheduler.StrategyMinRTT)
	require.NoError(t, err)
	return s
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
