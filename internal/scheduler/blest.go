package scheduler

import "github.com/quicperfio/quicperf/internal/engine"

// BLEST refines MinRTT with the blocking estimation from the paper of the
// same name: before handing the fast path another packet, check whether the
// fast path's own outstanding bytes already exceed what the slower path
// could deliver across its own RTT (its bandwidth-delay product). If so,
// sending more on the fast path only grows head-of-line blocking risk for
// data that must eventually be reassembled alongside the slow path's bytes,
// so BLEST steps down to the slow path instead.
//
// PathStats does not expose a raw bytes-in-flight counter, so the
// outstanding estimate is tracked locally per path: each pick of a path adds
// its CwndAvail, and the fast path's estimate is reset to zero whenever BLEST
// steps down to the slow path. CwndAvail of the slower path stands in for
// its bandwidth-delay product, since both approximate "how much data fits in
// one RTT" from the library's own congestion state.
type BLEST struct {
	sentSinceChosen map[string]uint64
	decisions       []Decision
}

func NewBLEST() *BLEST {
	return &BLEST{sentSinceChosen: make(map[string]uint64)}
}

func (s *BLEST) NextSend(stats []engine.PathStats) (engine.SendInstructions, bool) {
	fast, slow := -1, -1
	for i, p := range stats {
		if !eligible(p) {
			continue
		}
		if fast == -1 || p.SmoothedRTT < stats[fast].SmoothedRTT {
			slow = fast
			fast = i
		} else if slow == -1 || p.SmoothedRTT < stats[slow].SmoothedRTT {
			slow = i
		}
	}

	if fast == -1 {
		s.decisions = append(s.decisions, Decision{Ok: false})
		return engine.SendInstructions{}, false
	}

	chosen := fast
	if slow != -1 {
		fastKey := addrKey(stats[fast].Local)
		outstanding := s.sentSinceChosen[fastKey]
		if outstanding >= stats[slow].CwndAvail {
			chosen = slow
		}
	}

	if chosen == slow {
		// Stepping down to the slow path relieves pressure on the fast
		// path's estimate; let it accrue again from here.
		s.sentSinceChosen[addrKey(stats[fast].Local)] = 0
	}
	key := addrKey(stats[chosen].Local)
	s.sentSinceChosen[key] += uint64(stats[chosen].CwndAvail)

	instr := toInstructions(stats[chosen])
	s.decisions = append(s.decisions, Decision{Local: instr, Ok: true})
	return instr, true
}

func (s *BLEST) Decisions() []Decision {
	out := s.decisions
	s.decisions = nil
	return out
}
