// Package obs builds quicperf's logger and optional metrics endpoint
// (SPEC_FULL.md section 4.9).
package obs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewLogger builds a tint-colorized slog.Logger, matching the teacher's
// CLI logging convention. verbose raises the level to Debug.
func NewLogger(out io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := tint.NewHandler(out, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})
	return slog.New(handler)
}

// Metrics holds the counters/gauges an optional --metrics-addr endpoint
// exposes.
type Metrics struct {
	BytesSent   prometheus.Counter
	BytesRecv   prometheus.Counter
	WouldBlocks prometheus.Counter
	ClientCount prometheus.Gauge
}

// NewMetrics registers quicperf's metrics on a dedicated registry so a test
// process can construct more than one without collector-name collisions.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		BytesSent: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "quicperf_bytes_sent_total",
			Help: "Total bytes sent across every path.",
		}),
		BytesRecv: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "quicperf_bytes_received_total",
			Help: "Total bytes received across every path.",
		}),
		WouldBlocks: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "quicperf_would_block_total",
			Help: "Number of EWOULDBLOCK results from try_send.",
		}),
		ClientCount: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "quicperf_server_clients",
			Help: "Number of live clients tracked by the server.",
		}),
	}
}

// ServeMetrics starts an HTTP server exposing reg on addr, shutting down
// when ctx is cancelled. It blocks until then; callers run it in a goroutine
// of its own, which touches neither socket nor connection state (spec.md
// section 5: "the ICE collaborator may run on a separate thread").
func ServeMetrics(ctx context.Context, addr string, reg *prometheus.Registry, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown error", "error", err)
		}
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("obs: metrics server: %w", err)
		}
		return nil
	case <-ctx.Done():
		return nil
	}
}
