package driver

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/quicperfio/quicperf/internal/demux"
	"github.com/quicperfio/quicperf/internal/engine"
	"github.com/quicperfio/quicperf/internal/pathstatus"
	"github.com/quicperfio/quicperf/internal/protocol"
	"github.com/quicperfio/quicperf/internal/scheduler"
	"github.com/quicperfio/quicperf/internal/socketset"
)

// uiTick is the UI reporting cadence from spec.md section 5.
const uiTick = time.Second

// ClientDriver drives one client connection through Handshaking ->
// Probing -> Running -> Draining -> Closed (spec.md section 4.4).
type ClientDriver struct {
	log   *slog.Logger
	clock clockwork.Clock

	sockets *socketset.Set
	demux   *demux.Demuxer
	conn    engine.Connection
	sched   scheduler.Scheduler
	proto   *protocol.ClientState
	updater *pathstatus.Updater

	localAddrs, peerAddrs []net.Addr
	probedPaths           int

	state          ConnState
	closeRequested bool
}

// ClientConfig bundles everything NewClientDriver needs to assemble a
// running client-side connection.
type ClientConfig struct {
	Log         *slog.Logger
	Clock       clockwork.Clock
	Sockets     *socketset.Set
	Demux       *demux.Demuxer
	Conn        engine.Connection
	Scheduler   scheduler.Scheduler
	Proto       *protocol.ClientState
	Updater     *pathstatus.Updater
	LocalAddrs  []net.Addr
	PeerAddrs   []net.Addr
}

func NewClientDriver(cfg ClientConfig) *ClientDriver {
	return &ClientDriver{
		log:         cfg.Log,
		clock:       cfg.Clock,
		sockets:     cfg.Sockets,
		demux:       cfg.Demux,
		conn:        cfg.Conn,
		sched:       cfg.Scheduler,
		proto:       cfg.Proto,
		updater:     cfg.Updater,
		localAddrs:  cfg.LocalAddrs,
		peerAddrs:   cfg.PeerAddrs,
		probedPaths: 1, // the initial path is implicitly validated by the handshake
		state:       StateHandshaking,
	}
}

func (d *ClientDriver) State() ConnState { return d.state }

// RequestClose marks SIGINT-style cooperative shutdown (spec.md section 5).
func (d *ClientDriver) RequestClose() {
	d.closeRequested = true
}

// effectiveTimeout computes min(library timeout, UI timeout, protocol
// timeout) per spec.md section 4.4 step (a).
func (d *ClientDriver) effectiveTimeout() time.Duration {
	timeout := uiTick
	if libTimeout, armed := d.conn.Timeout(); armed && libTimeout < timeout {
		timeout = libTimeout
	}
	if protoTimeout := d.proto.NextTimeout(); protoTimeout < timeout {
		timeout = protoTimeout
	}
	return timeout
}

// RunIteration performs exactly one event-loop pass: poll, drain, probe,
// CID housekeeping, protocol dispatch, scheduler-driven send, path status
// apply. It returns (true, nil) once the connection has reached Closed.
func (d *ClientDriver) RunIteration() (done bool, err error) {
	if d.closeRequested && d.state != StateDraining && d.state != StateClosed {
		if closeErr := d.conn.Close(true, 0x01, "user terminated"); closeErr != nil {
			d.log.Warn("close on user termination failed", "error", closeErr)
		}
		d.state = StateDraining
	}

	timeout := d.effectiveTimeout()
	events, err := d.pollOnce(timeout)
	if err != nil {
		return false, fmt.Errorf("driver: poll: %w", err)
	}

	timedOut := len(events) == 0
	if !timedOut {
		if err := d.drainReadySockets(); err != nil {
			return false, err
		}
	}

	if timedOut {
		if _, armed := d.conn.Timeout(); armed {
			d.conn.OnTimeout()
		}
	}

	d.advanceState()

	if d.state == StateClosed {
		return true, nil
	}

	if err := d.probeNextPath(); err != nil {
		d.log.Warn("path probe failed", "error", err)
	}
	d.drainPathEvents()

	// Dispatch runs every iteration once past the handshake, concurrently
	// with path probing -- it does not wait for every local address to be
	// probed first.
	if d.proto != nil && d.state != StateHandshaking {
		if stream, streamErr := d.conn.OpenStream(); streamErr == nil {
			if dispatchErr := d.proto.Dispatch(stream); dispatchErr != nil && !errors.Is(dispatchErr, engine.ErrDone) {
				d.log.Warn("protocol dispatch error", "error", dispatchErr)
			}
		}
	}

	if err := d.sendLoop(); err != nil {
		return false, err
	}

	d.updater.Apply(d.conn, d.localAddrs, d.peerAddrs)

	if d.conn.IsClosed() {
		d.state = StateClosed
		return true, nil
	}
	return false, nil
}

func (d *ClientDriver) pollOnce(timeout time.Duration) ([]socketset.PollEvent, error) {
	for _, sock := range d.sockets.All() {
		_ = d.sockets.SetWritable(sock.LocalAddr(), sock.SendPending())
	}
	return d.sockets.Wait(timeout)
}

func (d *ClientDriver) drainReadySockets() error {
	for _, sock := range d.sockets.All() {
		if sock.SendPending() {
			if _, err := sock.TrySend(); err != nil {
				return fmt.Errorf("driver: try_send: %w", err)
			}
		}

		buf := make([]byte, socketset.MaxDatagramSize)
		for {
			n, from, err := sock.ReadFrom(buf)
			if err != nil {
				break // EWOULDBLOCK, tolerated
			}
			if n == 0 {
				break
			}
			if d.demux.Dispatch(buf[:n], from) {
				if _, recvErr := d.conn.Recv(buf[:n], engine.RecvInfo{To: sock.LocalAddr(), From: from}); recvErr != nil {
					d.log.Debug("packet-level recv error, skipping", "error", recvErr)
				}
			}
		}
	}
	return nil
}

func (d *ClientDriver) advanceState() {
	switch d.state {
	case StateHandshaking:
		if d.conn.IsEstablished() || d.conn.IsInEarlyData() {
			d.state = StateProbing
		}
	case StateProbing:
		if d.probedPaths >= len(d.localAddrs) {
			d.state = StateRunning
		}
	case StateRunning:
		if d.proto.Finished() {
			if err := d.conn.Close(true, protocol.CloseNormal, protocol.ReasonNormal); err != nil {
				d.log.Warn("close after test duration failed", "error", err)
			}
			d.state = StateDraining
		}
	case StateDraining:
		if d.conn.IsClosed() {
			d.state = StateClosed
		}
	}
}

func (d *ClientDriver) probeNextPath() error {
	if d.state != StateProbing {
		return nil
	}
	if d.probedPaths >= len(d.localAddrs) {
		return nil
	}
	if d.conn.AvailableDestinationCIDs() <= 0 {
		return nil
	}
	if err := d.conn.ProbePath(d.localAddrs[d.probedPaths], d.peerAddrs[d.probedPaths]); err != nil {
		return err
	}
	d.probedPaths++
	return nil
}

func (d *ClientDriver) drainPathEvents() {
	for _, ev := range d.conn.PathEvents() {
		switch ev.Kind {
		case engine.PathEventValidated:
			_ = d.conn.SetPathStatus(ev.Local, ev.Peer, engine.StatusActive, false)
		case engine.PathEventFailedValidation, engine.PathEventClosed, engine.PathEventReusedSourceConnectionID:
			d.log.Info("path event", "kind", ev.Kind, "local", ev.Local, "peer", ev.Peer, "reason", ev.Reason)
		case engine.PathEventNew, engine.PathEventPeerMigrated:
			// Unreachable client-side per spec.md section 4.4; log for visibility.
			d.log.Debug("unexpected client-side path event", "kind", ev.Kind)
		case engine.PathEventPeerPathStatus:
			// Ignored client-side per spec.md section 4.4.
		}
	}

	for _, retired := range d.conn.RetiredSourceCIDs() {
		d.log.Debug("source CID retired", "seq", retired)
	}
	for d.conn.SourceCIDsLeft() > 0 {
		if _, err := d.conn.NewSourceCID(); err != nil {
			break
		}
	}
}

// sendLoop drives the scheduler until it returns no eligible path or returns
// the same path twice in a row, whether that path was blocked or has just
// been sent on -- spec.md section 7's "scheduler over-return
// of same path MUST break on a detected repeat... to avoid a hot loop".
func (d *ClientDriver) sendLoop() error {
	var lastAttempted string
	for {
		instr, ok := d.sched.NextSend(d.conn.PathStats())
		if !ok {
			return nil
		}

		key := instr.Local.String() + "->" + instr.Peer.String()
		sock, found := d.sockets.Get(asUDPAddr(instr.Local))
		if !found {
			return nil
		}

		if sock.SendPending() {
			if _, err := sock.TrySend(); err != nil {
				return fmt.Errorf("driver: try_send: %w", err)
			}
		}
		if sock.SendPending() || !sock.WritableForDest(instr.Peer) {
			if key == lastAttempted {
				return nil
			}
			lastAttempted = key
			continue
		}

		buf := sock.Buffer()
		n, info, err := d.conn.SendOnPath(buf[sock.Until():], instr)
		if errors.Is(err, engine.ErrDone) {
			if key == lastAttempted {
				return nil
			}
			lastAttempted = key
			continue
		}
		if err != nil {
			return fmt.Errorf("driver: send_on_path: %w", err)
		}

		sock.SetUntil(sock.Until() + n)
		sock.ScheduleSend(nil, sock.Until(), info.To, info.MaxDatagramSize, info.At)
		if _, sendErr := sock.TrySend(); sendErr != nil {
			return fmt.Errorf("driver: try_send: %w", sendErr)
		}

		if key == lastAttempted {
			return nil
		}
		lastAttempted = key
	}
}

func asUDPAddr(a net.Addr) *net.UDPAddr {
	if u, ok := a.(*net.UDPAddr); ok {
		return u
	}
	return &net.UDPAddr{}
}
