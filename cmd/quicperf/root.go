package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/quicperfio/quicperf/internal/cliopts"
	"github.com/quicperfio/quicperf/internal/obs"
)

var (
	opts cliopts.Global

	envFile   string
	verbose   bool
	localFlag []string
	statusRaw []string

	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "quicperf",
	Short: "QUIC multipath throughput testing tool",
	Long: `quicperf drives one or more QUIC paths between a client and server to
measure throughput, with optional multipath scheduling and in-band ICE
connectivity checks sharing the same UDP sockets.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return err
			}
		} else {
			_ = godotenv.Load() // best-effort .env in the working directory
		}
		log = obs.NewLogger(os.Stderr, verbose)
		opts.LocalAddrs = localFlag
		opts.Verbose = verbose
		opts.EnvFile = envFile
		return nil
	},
}

func init() {
	cobra.EnableCommandSorting = false

	rootCmd.PersistentFlags().StringVarP(&opts.Password, "password", "p", "", "shared password the server checks against")
	rootCmd.PersistentFlags().StringVar(&opts.CongestionControl, "cc", "cubic", "congestion control: reno|cubic|bbr|constant-<N>")
	rootCmd.PersistentFlags().BoolVar(&opts.Multipath, "mp", true, "enable multipath extensions")
	rootCmd.PersistentFlags().StringVar(&opts.Scheduler, "scheduler", "minrtt", "path scheduler: blest|minrtt|round-robin")
	rootCmd.PersistentFlags().StringSliceVarP(&localFlag, "local", "l", nil, "local bind address or interface name (repeatable)")
	rootCmd.PersistentFlags().Uint64Var(&opts.MaxData, "max-data", 0, "connection-level flow control limit (0 = library default)")
	rootCmd.PersistentFlags().Uint64Var(&opts.MaxStreamData, "max-stream-data", 0, "stream-level flow control limit (0 = library default)")
	rootCmd.PersistentFlags().Uint64Var(&opts.FCInitialConnectionWindow, "fc-initial-connection-window", 0, "initial connection flow control window")
	rootCmd.PersistentFlags().Uint64Var(&opts.FCInitialStreamWindow, "fc-initial-stream-window", 0, "initial stream flow control window")
	rootCmd.PersistentFlags().Float64Var(&opts.FCWindowUpdateThreshold, "fc-window-update-threshold", 0.5, "fraction of window consumed before sending a window update")
	rootCmd.PersistentFlags().StringVar(&opts.FCAutotuneStrategy, "fc-autotune-strategy", "", "flow control autotune strategy, empty disables autotuning")
	rootCmd.PersistentFlags().Float64Var(&opts.FCAutotuneIncreaseFactor, "fc-autotune-increase-factor", 2.0, "multiplier applied to the window on autotune growth")
	rootCmd.PersistentFlags().Float64Var(&opts.FCReactiveRTTTriggerFactor, "fc-reactive-rtt-trigger-factor", 1.5, "RTT-increase factor that triggers reactive window growth")
	rootCmd.PersistentFlags().BoolVar(&opts.HyStart, "hystart", true, "enable HyStart++ slow-start")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "address to expose Prometheus metrics on, empty disables the server")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment variables from this file instead of ./.env")

	rootCmd.AddCommand(clientCmd)
	rootCmd.AddCommand(serverCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// prometheusRegistry builds a fresh registry per process run so repeated
// invocations in tests never collide on collector names.
func prometheusRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}
