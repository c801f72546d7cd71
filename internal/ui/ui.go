// Package ui renders the per-second throughput lines and final summary
// table of spec.md section 2 ("UI", ~17% of the implementation budget).
package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/olekukonko/tablewriter"

	"github.com/quicperfio/quicperf/internal/engine"
	"github.com/quicperfio/quicperf/internal/scheduler"
)

// Reporter accumulates per-path byte counters once per second and renders a
// final summary table on Summary. One Reporter exists per connection.
type Reporter struct {
	out   io.Writer
	clock clockwork.Clock

	lastTick  time.Time
	lastBytes map[string]uint64
	totalSent uint64
}

func New(out io.Writer, clock clockwork.Clock) *Reporter {
	return &Reporter{out: out, clock: clock, lastTick: clock.Now(), lastBytes: make(map[string]uint64)}
}

// Tick renders one reporting line if at least one second has elapsed since
// the last tick, using each path's PathStats and any scheduler decisions
// recorded since the previous call.
func (r *Reporter) Tick(paths []engine.PathStats, decisions []scheduler.Decision) {
	now := r.clock.Now()
	elapsed := now.Sub(r.lastTick)
	if elapsed < time.Second {
		return
	}
	r.lastTick = now

	var totalMbps float64
	for _, p := range paths {
		key := p.Local.String() + "->" + p.Peer.String()
		delta := p.SentBytes - r.lastBytes[key]
		r.lastBytes[key] = p.SentBytes
		mbps := bytesToMbps(delta, elapsed)
		totalMbps += mbps
		fmt.Fprintf(r.out, "%-40s %8.2f Mbps  rtt=%-10s status=%s\n",
			key, mbps, p.SmoothedRTT, p.Status)
	}
	fmt.Fprintf(r.out, "%-40s %8.2f Mbps  (decisions this window: %d)\n",
		"Total", totalMbps, len(decisions))
}

func bytesToMbps(bytes uint64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	bits := float64(bytes) * 8
	return bits / elapsed.Seconds() / 1_000_000
}

// Summary renders the final per-path and connection-wide stats table once
// the test has finished.
func (r *Reporter) Summary(stats engine.ConnectionStats, paths []engine.PathStats) {
	table := tablewriter.NewWriter(r.out)
	table.SetHeader([]string{"Path", "Sent", "Recv", "Lost", "RTT", "Status"})
	for _, p := range paths {
		table.Append([]string{
			p.Local.String() + " -> " + p.Peer.String(),
			formatBytes(p.SentBytes),
			formatBytes(p.RecvBytes),
			formatBytes(p.LostBytes),
			p.SmoothedRTT.String(),
			p.Status.String(),
		})
	}
	table.Render()

	fmt.Fprintf(r.out, "\nTotal: sent=%s recv=%s lost=%s\n",
		formatBytes(stats.SentBytes), formatBytes(stats.RecvBytes), formatBytes(stats.LostBytes))
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
