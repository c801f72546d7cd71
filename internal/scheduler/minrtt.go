package scheduler

import "github.com/quicperfio/quicperf/internal/engine"

// MinRTT picks the eligible path with the smallest smoothed RTT, breaking
// ties by path index (spec section 4.3).
type MinRTT struct {
	decisions []Decision
}

func NewMinRTT() *MinRTT { return &MinRTT{} }

func (s *MinRTT) NextSend(stats []engine.PathStats) (engine.SendInstructions, bool) {
	best := -1
	for i, p := range stats {
		if !eligible(p) {
			continue
		}
		if best == -1 || p.SmoothedRTT < stats[best].SmoothedRTT {
			best = i
		}
	}
	if best == -1 {
		s.decisions = append(s.decisions, Decision{Ok: false})
		return engine.SendInstructions{}, false
	}
	instr := toInstructions(stats[best])
	s.decisions = append(s.decisions, Decision{Local: instr, Ok: true})
	return instr, true
}

func (s *MinRTT) Decisions() []Decision {
	out := s.decisions
	s.decisions = nil
	return out
}
