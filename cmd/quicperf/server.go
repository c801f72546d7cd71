package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/quicperfio/quicperf/internal/cliopts"
	"github.com/quicperfio/quicperf/internal/demux"
	"github.com/quicperfio/quicperf/internal/driver"
	"github.com/quicperfio/quicperf/internal/engine"
	"github.com/quicperfio/quicperf/internal/engine/quicgo"
	"github.com/quicperfio/quicperf/internal/obs"
	"github.com/quicperfio/quicperf/internal/qlogging"
	"github.com/quicperfio/quicperf/internal/scheduler"
	"github.com/quicperfio/quicperf/internal/socketset"
)

var (
	certPath string
	keyPath  string
	oneshot  bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Accept throughput tests from quicperf clients",
	RunE:  runServer,
}

func init() {
	serverCmd.Flags().StringVar(&certPath, "cert", "", "TLS certificate path")
	serverCmd.Flags().StringVar(&keyPath, "key", "", "TLS key path")
	serverCmd.Flags().BoolVarP(&oneshot, "oneshot", "1", false, "exit after serving a single client")
}

func runServer(cmd *cobra.Command, args []string) error {
	sopts := cliopts.ServerOpts{Global: opts, CertPath: certPath, KeyPath: keyPath, Oneshot: oneshot}
	if err := cliopts.ValidateServer(sopts); err != nil {
		return err
	}
	strategy, err := cliopts.SchedulerStrategy(sopts.Scheduler)
	if err != nil {
		return err
	}

	if len(sopts.LocalAddrs) == 0 {
		sopts.LocalAddrs = []string{":4433"}
	}
	localAddrs := make([]*net.UDPAddr, len(sopts.LocalAddrs))
	for i, raw := range sopts.LocalAddrs {
		a, err := cliopts.ResolveBindAddr(raw)
		if err != nil {
			return err
		}
		localAddrs[i] = a
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	keyLog, keyLogClose, err := qlogging.KeyLogWriter()
	if err != nil {
		return err
	}
	defer keyLogClose()

	ln, err := quicgo.Listen(quicgo.ListenConfig{
		Local:        localAddrs[0],
		CertFile:     certPath,
		KeyFile:      keyPath,
		KeyLogWriter: keyLog,
		QLogDir:      os.Getenv("QLOGDIR"),
	})
	if err != nil {
		return err
	}
	defer ln.Close()

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
		if _, err := sockets.Add(conn, socketset.ServerBurstCap); err != nil {
			return err
		}
	}

	dmx := demux.New(log, nil, 4)
	defer dmx.Close()

	clock := clockwork.NewRealClock()

	var password *string
	if sopts.Password != "" {
		password = &sopts.Password
	}

	sd, err := driver.NewServerDriver(driver.ServerConfig{
		Log:     log,
		Clock:   clock,
		Sockets: sockets,
		Demux:   dmx,
		Factory: func(local, peer net.Addr, scid []byte) (engine.Connection, error) {
			return nil, fmt.Errorf("server: unexpected raw-datagram accept on %s; the initial path is owned by quic-go's own listener", local)
		},
		NewScheduler: func() scheduler.Scheduler {
			s, _ := scheduler.New(strategy)
			return s
		},
		Password: password,
	})
	if err != nil {
		return err
	}

	var metrics *obs.Metrics
	if sopts.MetricsAddr != "" {
		reg := prometheusRegistry()
		metrics = obs.NewMetrics(reg)
		go func() {
			if err := obs.ServeMetrics(ctx, sopts.MetricsAddr, reg, log); err != nil {
				log.Warn("metrics server error", "error", err)
			}
		}()
	}

	var lastWouldBlock uint64
	var acceptedOnce atomic.Bool
	// Accepted connections are handed to the main loop, which alone touches
	// the driver's client map.
	adopt := make(chan func(), 16)
	go func() {
		for {
			if oneshot && acceptedOnce.Load() {
				return
			}
			adapter, err := ln.Accept(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("accept failed", "error", err)
				continue
			}
			scid, err := adapter.NewSourceCID()
			if err != nil {
				log.Warn("new source CID failed", "error", err)
				continue
			}
			adopt <- func() {
				client := sd.AdoptConnection(adapter, scid.ID)
				log.Info("client connected", "id", client.ID)
				acceptedOnce.Store(true)
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			sd.RequestClose()
		}
		for len(adopt) > 0 {
			(<-adopt)()
		}

		if err := sd.RunIteration(); err != nil {
			return fmt.Errorf("server run failed: %w", err)
		}
		if metrics != nil {
			metrics.ClientCount.Set(float64(sd.ClientCount()))
			var wouldBlock uint64
			for _, s := range sockets.All() {
				wouldBlock += s.WouldBlockCount()
			}
			metrics.WouldBlocks.Add(float64(wouldBlock - lastWouldBlock))
			lastWouldBlock = wouldBlock
		}
		if ctx.Err() != nil && sd.ClientCount() == 0 {
			break
		}
		if oneshot && acceptedOnce.Load() && sd.ClientCount() == 0 {
			break
		}
	}
	return nil
}
