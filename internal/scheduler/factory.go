package scheduler

import "fmt"

// Strategy names accepted by the --scheduler CLI flag.
const (
	StrategyMinRTT     = "minrtt"
	StrategyRoundRobin = "roundrobin"
	StrategyBLEST      = "blest"
)

// New builds the Scheduler for name, chosen once at startup and never
// switched for the lifetime of the connection (spec section 4.3).
func New(name string) (Scheduler, error) {
	switch name {
	case StrategyMinRTT, "":
		return NewMinRTT(), nil
	case StrategyRoundRobin:
		return NewRoundRobin(), nil
	case StrategyBLEST:
		return NewBLEST(), nil
	default:
		return nil, fmt.Errorf("scheduler: unknown strategy %q", name)
	}
}
