package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/quicperfio/quicperf/internal/cliopts"
	"github.com/quicperfio/quicperf/internal/demux"
	"github.com/quicperfio/quicperf/internal/driver"
	"github.com/quicperfio/quicperf/internal/engine/quicgo"
	"github.com/quicperfio/quicperf/internal/obs"
	"github.com/quicperfio/quicperf/internal/pathstatus"
	"github.com/quicperfio/quicperf/internal/protocol"
	"github.com/quicperfio/quicperf/internal/qlogging"
	"github.com/quicperfio/quicperf/internal/scheduler"
	"github.com/quicperfio/quicperf/internal/socketset"
	"github.com/quicperfio/quicperf/internal/ui"
)

var (
	peerFlag     []string
	durationSecs float64
	reverse      bool
	bitrateFlag  string
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Run a throughput test against a quicperf server",
	RunE:  runClient,
}

func init() {
	clientCmd.Flags().StringSliceVarP(&peerFlag, "connect", "c", nil, "peer host:port to connect to (repeatable; count must match -l)")
	clientCmd.Flags().Float64VarP(&durationSecs, "duration", "d", 10, "test duration in seconds")
	clientCmd.Flags().BoolVarP(&reverse, "reverse", "R", false, "have the server send instead of the client")
	clientCmd.Flags().StringVarP(&bitrateFlag, "bitrate", "b", "", "cap the sending rate (accepts size suffixes k/m/g, bits/sec)")
	clientCmd.Flags().StringSliceVar(&statusRaw, "status", nil, "scheduled path status change <sec,pid,status_uint> (repeatable)")
}

func runClient(cmd *cobra.Command, args []string) error {
	copts := cliopts.ClientOpts{
		Global:    opts,
		PeerAddrs: peerFlag,
		Duration:  time.Duration(durationSecs * float64(time.Second)),
		Reverse:   reverse,
	}
	if bitrateFlag != "" {
		bps, err := cliopts.ParseBitrate(bitrateFlag)
		if err != nil {
			return err
		}
		copts.Bitrate = &bps
	}
	for _, raw := range statusRaw {
		u, err := cliopts.ParseStatus(raw)
		if err != nil {
			return err
		}
		copts.Status = append(copts.Status, u)
	}
	if err := cliopts.ValidateClient(copts); err != nil {
		return err
	}

	strategy, err := cliopts.SchedulerStrategy(copts.Scheduler)
	if err != nil {
		return err
	}

	localAddrs := make([]*net.UDPAddr, len(copts.LocalAddrs))
	for i, raw := range copts.LocalAddrs {
		a, err := cliopts.ResolveBindAddr(raw)
		if err != nil {
			return err
		}
		localAddrs[i] = a
	}
	peerAddrs := make([]*net.UDPAddr, len(copts.PeerAddrs))
	for i, raw := range copts.PeerAddrs {
		a, err := net.ResolveUDPAddr("udp", raw)
		if err != nil {
			return fmt.Errorf("resolve peer address %q: %w", raw, err)
		}
		peerAddrs[i] = a
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	keyLog, keyLogClose, err := qlogging.KeyLogWriter()
	if err != nil {
		return err
	}
	defer keyLogClose()

	// Path 0's socket is owned exclusively by quic-go's Transport; every
	// additional local address is a registry-only probe path driven by our
	// own socketset/driver loop (see internal/engine/quicgo's package doc).
	initialConn, err := net.ListenUDP("udp", localAddrs[0])
	if err != nil {
		return fmt.Errorf("bind %s: %w", localAddrs[0], err)
	}

	adapter, err := quicgo.Dial(ctx, initialConn, quicgo.DialConfig{
		Local:        localAddrs[0],
		Peer:         peerAddrs[0],
		ServerName:   hostOf(copts.PeerAddrs[0]),
		InsecureTLS:  true, // quicperf servers use self-signed certs by design
		KeyLogWriter: keyLog,
		QLogDir:      os.Getenv("QLOGDIR"),
	})
	if err != nil {
		return err
	}

	sockets, err := socketset.NewSet(log)
	if err != nil {
		return err
	}
	defer sockets.Close()

	for i := 1; i < len(localAddrs); i++ {
		conn, err := net.ListenUDP("udp", localAddrs[i])
		if err != nil {
			return fmt.Errorf("bind %s: %w", localAddrs[i], err)
		}
		if _, err := sockets.Add(conn, socketset.MaxDatagramSize); err != nil {
			return err
		}
	}

	dmx := demux.New(log, nil, 1)
	defer dmx.Close()

	sched, err := scheduler.New(strategy)
	if err != nil {
		return err
	}

	clock := clockwork.NewRealClock()
	tc := protocol.TestConfig{
		LocalAddrs:    copts.LocalAddrs,
		PeerAddrs:     copts.PeerAddrs,
		ClientSending: !copts.Reverse,
		Duration:      protocol.DurationFromGo(copts.Duration),
		BitrateTarget: copts.Bitrate,
	}
	if copts.Password != "" {
		tc.Password = &copts.Password
	}
	proto, err := protocol.NewClient(clock, tc)
	if err != nil {
		return err
	}

	localNetAddrs := make([]net.Addr, len(localAddrs))
	peerNetAddrs := make([]net.Addr, len(peerAddrs))
	for i := range localAddrs {
		localNetAddrs[i] = localAddrs[i]
		peerNetAddrs[i] = peerAddrs[i]
	}
	updater, err := pathstatus.New(clock, clock.Now(), copts.Status, len(localAddrs))
	if err != nil {
		return err
	}

	cd := driver.NewClientDriver(driver.ClientConfig{
		Log:        log,
		Clock:      clock,
		Sockets:    sockets,
		Demux:      dmx,
		Conn:       adapter,
		Scheduler:  sched,
		Proto:      proto,
		Updater:    updater,
		LocalAddrs: localNetAddrs,
		PeerAddrs:  peerNetAddrs,
	})

	var metrics *obs.Metrics
	if copts.MetricsAddr != "" {
		reg := prometheusRegistry()
		metrics = obs.NewMetrics(reg)
		go func() {
			if err := obs.ServeMetrics(ctx, copts.MetricsAddr, reg, log); err != nil {
				log.Warn("metrics server error", "error", err)
			}
		}()
	}

	reporter := ui.New(os.Stdout, clock)
	var lastSent, lastRecv, lastWouldBlock uint64

	for {
		select {
		case <-ctx.Done():
			cd.RequestClose()
		default:
		}

		done, err := cd.RunIteration()
		if err != nil {
			return fmt.Errorf("client run failed: %w", err)
		}
		reporter.Tick(adapter.PathStats(), sched.Decisions())
		if metrics != nil {
			stats := adapter.Stats()
			metrics.BytesSent.Add(float64(stats.SentBytes - lastSent))
			metrics.BytesRecv.Add(float64(stats.RecvBytes - lastRecv))
			lastSent, lastRecv = stats.SentBytes, stats.RecvBytes
			var wouldBlock uint64
			for _, s := range sockets.All() {
				wouldBlock += s.WouldBlockCount()
			}
			metrics.WouldBlocks.Add(float64(wouldBlock - lastWouldBlock))
			lastWouldBlock = wouldBlock
		}
		if done {
			break
		}
	}

	reporter.Summary(adapter.Stats(), adapter.PathStats())
	return nil
}

func hostOf(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return host
}
