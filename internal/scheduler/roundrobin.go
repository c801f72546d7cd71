package scheduler

import "github.com/quicperfio/quicperf/internal/engine"

// RoundRobin rotates through eligible paths, remembering its cursor across
// calls so each path gets one packet per full rotation (spec section 4.3).
type RoundRobin struct {
	cursor    int
	decisions []Decision
}

func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

func (s *RoundRobin) NextSend(stats []engine.PathStats) (engine.SendInstructions, bool) {
	n := len(stats)
	if n == 0 {
		s.decisions = append(s.decisions, Decision{Ok: false})
		return engine.SendInstructions{}, false
	}

	for tried := 0; tried < n; tried++ {
		i := (s.cursor + tried) % n
		if eligible(stats[i]) {
			s.cursor = (i + 1) % n
			instr := toInstructions(stats[i])
			s.decisions = append(s.decisions, Decision{Local: instr, Ok: true})
			return instr, true
		}
	}
	s.decisions = append(s.decisions, Decision{Ok: false})
	return engine.SendInstructions{}, false
}

func (s *RoundRobin) Decisions() []Decision {
	out := s.decisions
	s.decisions = nil
	return out
}
