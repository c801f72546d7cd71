// Package cliopts parses and validates the flags of spec.md section 6,
// failing fast before any network I/O is attempted (spec.md section 7).
package cliopts

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/quicperfio/quicperf/internal/engine"
	"github.com/quicperfio/quicperf/internal/pathstatus"
)

// Global holds every flag shared by the client and server subcommands.
type Global struct {
	Password                       string
	CongestionControl              string
	Multipath                      bool
	Scheduler                      string
	LocalAddrs                     []string
	MaxData                        uint64
	MaxStreamData                  uint64
	FCInitialConnectionWindow      uint64
	FCInitialStreamWindow          uint64
	FCWindowUpdateThreshold        float64
	FCAutotuneStrategy             string
	FCAutotuneIncreaseFactor       float64
	FCReactiveRTTTriggerFactor     float64
	HyStart                        bool
	Verbose                        bool
	MetricsAddr                    string
	EnvFile                        string
}

// ClientOpts holds the client subcommand's own flags.
type ClientOpts struct {
	Global
	PeerAddrs []string
	Duration  time.Duration
	Reverse   bool
	Bitrate   *uint64 // bytes/sec, nil = uncapped
	Status    []pathstatus.Update
}

// ServerOpts holds the server subcommand's own flags.
type ServerOpts struct {
	Global
	CertPath string
	KeyPath  string
	Oneshot  bool
}

// ValidateClient enforces spec.md section 6/7's fail-fast invariants: at
// least one local address, equal local/peer address counts, a positive
// duration and a known scheduler. It does not check the status schedule.
func ValidateClient(o ClientOpts) error {
	if len(o.LocalAddrs) == 0 {
		return fmt.Errorf("cliopts: at least one -l address is required")
	}
	if len(o.LocalAddrs) != len(o.PeerAddrs) {
		return fmt.Errorf("cliopts: %d local addresses (-l) but %d peer addresses (-c)", len(o.LocalAddrs), len(o.PeerAddrs))
	}
	if o.Duration <= 0 {
		return fmt.Errorf("cliopts: -d/--duration must be positive")
	}
	if _, err := schedulerStrategyName(o.Scheduler); err != nil {
		return err
	}
	return nil
}

// ValidateServer enforces the server subcommand's fail-fast invariants.
func ValidateServer(o ServerOpts) error {
	if o.CertPath == "" || o.KeyPath == "" {
		return fmt.Errorf("cliopts: --cert and --key are both required")
	}
	if _, err := schedulerStrategyName(o.Scheduler); err != nil {
		return err
	}
	return nil
}

func schedulerStrategyName(name string) (string, error) {
	switch name {
	case "", "minrtt":
		return "minrtt", nil
	case "round-robin", "roundrobin":
		return "roundrobin", nil
	case "blest":
		return "blest", nil
	default:
		return "", fmt.Errorf("cliopts: unknown --scheduler %q", name)
	}
}

// SchedulerStrategy normalizes the --scheduler flag to the name
// internal/scheduler.New expects.
func SchedulerStrategy(name string) (string, error) { return schedulerStrategyName(name) }

// ParseBitrate accepts a decimal value with an optional size suffix
// (k/K/m/M/g/G, base 1000) describing bits/sec, and returns bytes/sec (spec.md
// section 6: "-b <bitrate>... divided by 8 to obtain bytes/s").
func ParseBitrate(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("cliopts: empty bitrate")
	}

	mult := uint64(1)
	suffix := s[len(s)-1]
	switch suffix {
	case 'k', 'K':
		mult = 1_000
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1_000_000
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1_000_000_000
		s = s[:len(s)-1]
	}

	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cliopts: invalid bitrate %q: %w", s, err)
	}
	bitsPerSec := v * mult
	return bitsPerSec / 8, nil
}

// ParseStatus parses one --status <sec,pid,status_uint> flag value into a
// pathstatus.Update (spec.md section 6).
func ParseStatus(s string) (pathstatus.Update, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return pathstatus.Update{}, fmt.Errorf("cliopts: --status must be <sec,pid,status>, got %q", s)
	}

	secs, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return pathstatus.Update{}, fmt.Errorf("cliopts: invalid --status delay %q: %w", parts[0], err)
	}
	pid, err := strconv.Atoi(parts[1])
	if err != nil {
		return pathstatus.Update{}, fmt.Errorf("cliopts: invalid --status path id %q: %w", parts[1], err)
	}
	statusVal, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return pathstatus.Update{}, fmt.Errorf("cliopts: invalid --status value %q: %w", parts[2], err)
	}

	return pathstatus.Update{
		Delay:  time.Duration(secs * float64(time.Second)),
		PathID: pid,
		Status: engine.PathStatusFromUint(statusVal),
	}, nil
}
