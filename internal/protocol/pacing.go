package protocol

import "time"

// BitrateTimer is the pacing tick from spec section 4.6.
const BitrateTimer = 10 * time.Millisecond

// maxCatchUpRounds caps how many pacing rounds a late call may emit at once,
// so a stalled sender cannot burst unboundedly once it resumes.
const maxCatchUpRounds = 3.0

// bitratePacer tracks how many bytes the bitrate-paced sender may emit on
// this call, implementing spec section 4.6's "emit bytes_per_round each
// BITRATE_TIMER... catch up up to 3 rounds but never burst more" rule.
type bitratePacer struct {
	bytesPerRound uint64
	lastSend      time.Time
	firstSend     bool
}

func newBitratePacer(bitrateTarget uint64) *bitratePacer {
	return &bitratePacer{
		bytesPerRound: bitrateTarget / 100,
		firstSend:     true,
	}
}

// allowance returns how many bytes may be sent at time now, and advances the
// pacer's bookkeeping as if that allowance were fully consumed.
func (p *bitratePacer) allowance(now time.Time) uint64 {
	if p.firstSend {
		p.firstSend = false
		p.lastSend = now
		return p.bytesPerRound
	}

	elapsed := now.Sub(p.lastSend)
	if elapsed < BitrateTimer {
		return 0
	}

	rounds := float64(elapsed) / float64(BitrateTimer)
	if rounds > maxCatchUpRounds {
		rounds = maxCatchUpRounds
	}
	p.lastSend = now
	return uint64(float64(p.bytesPerRound) * rounds)
}

// nextTimeout reports how long until the pacer next has an allowance,
// clamped at zero (spec section 4.6's shortened protocol timeout).
func (p *bitratePacer) nextTimeout(now time.Time) time.Duration {
	if p.firstSend {
		return 0
	}
	remaining := BitrateTimer - now.Sub(p.lastSend)
	if remaining < 0 {
		return 0
	}
	return remaining
}
