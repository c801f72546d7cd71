package quicgo

import (
	"context"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/logging"
	"github.com/quic-go/quic-go/qlog"

	"github.com/quicperfio/quicperf/internal/qlogging"
)

// qlogTracer returns a quic.Config.Tracer factory that opens one QLogFile per
// connection under dir, or nil when dir is empty (QLOGDIR unset).
func qlogTracer(dir, role string) func(context.Context, logging.Perspective, quic.ConnectionID) *logging.ConnectionTracer {
	if dir == "" {
		return nil
	}
	return func(_ context.Context, perspective logging.Perspective, connID quic.ConnectionID) *logging.ConnectionTracer {
		f, err := qlogging.NewQLogFile(dir, connID.String(), role, time.Now())
		if err != nil || f == nil {
			return nil
		}
		return qlog.NewConnectionTracer(f, perspective, connID)
	}
}
