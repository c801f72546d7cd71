package ui

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"

	"github.com/quicperfio/quicperf/internal/engine"
	"github.com/quicperfio/quicperf/internal/scheduler"
)

func TestTickSkipsBeforeOneSecond(t *testing.T) {
	var buf bytes.Buffer
	clock := clockwork.NewFakeClock()
	r := New(&buf, clock)

	r.Tick([]engine.PathStats{{Local: &net.UDPAddr{Port: 1}, Peer: &net.UDPAddr{Port: 2}, SentBytes: 1000}}, nil)
	assert.Empty(t, buf.String())
}

func TestTickReportsThroughputAfterOneSecond(t *testing.T) {
	var buf bytes.Buffer
	clock := clockwork.NewFakeClock()
	r := New(&buf, clock)

	clock.Advance(time.Second)
	stats := []engine.PathStats{{Local: &net.UDPAddr{Port: 1}, Peer: &net.UDPAddr{Port: 2}, SentBytes: 1_000_000}}
	r.Tick(stats, []scheduler.Decision{{Ok: true}})
	assert.Contains(t, buf.String(), "Mbps")
	assert.Contains(t, buf.String(), "Total")
}

func TestSummaryRendersTable(t *testing.T) {
	var buf bytes.Buffer
	clock := clockwork.NewFakeClock()
	r := New(&buf, clock)

	r.Summary(engine.ConnectionStats{SentBytes: 2048}, []engine.PathStats{
		{Local: &net.UDPAddr{Port: 1}, Peer: &net.UDPAddr{Port: 2}, SentBytes: 2048, Status: engine.StatusActive},
	})
	assert.Contains(t, buf.String(), "PATH")
	assert.Contains(t, buf.String(), "2.00 KiB")
}
