package scheduler

import (
	"net"
	"testing"
	"time"

	"github.com/quicperfio/quicperf/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(port int) *net.UDPAddr { return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port} }

func TestMinRTTPicksLowestRTT(t *testing.T) {
	s := NewMinRTT()
	stats := []engine.PathStats{
		{Local: addr(1), CwndAvail: 1000, SmoothedRTT: 100 * time.Millisecond},
		{Local: addr(2), CwndAvail: 1000, SmoothedRTT: 10 * time.Millisecond},
	}
	instr, ok := s.NextSend(stats)
	require.True(t, ok)
	assert.Equal(t, addr(2).String(), instr.Local.String())
}

func TestMinRTTSkipsBrokenAndStarvedPaths(t *testing.T) {
	s := NewMinRTT()
	stats := []engine.PathStats{
		{Local: addr(1), CwndAvail: 1000, SmoothedRTT: time.Millisecond, Status: engine.StatusBroken},
		{Local: addr(2), CwndAvail: 0, SmoothedRTT: 2 * time.Millisecond},
		{Local: addr(3), CwndAvail: 500, SmoothedRTT: 50 * time.Millisecond},
	}
	instr, ok := s.NextSend(stats)
	require.True(t, ok)
	assert.Equal(t, addr(3).String(), instr.Local.String())
}

func TestMinRTTNoEligiblePaths(t *testing.T) {
	s := NewMinRTT()
	_, ok := s.NextSend([]engine.PathStats{{Local: addr(1), CwndAvail: 0}})
	assert.False(t, ok)
	decisions := s.Decisions()
	require.Len(t, decisions, 1)
	assert.False(t, decisions[0].Ok)
}

func TestRoundRobinRotatesAcrossCalls(t *testing.T) {
	s := NewRoundRobin()
	stats := []engine.PathStats{
		{Local: addr(1), CwndAvail: 100},
		{Local: addr(2), CwndAvail: 100},
	}
	first, ok := s.NextSend(stats)
	require.True(t, ok)
	second, ok := s.NextSend(stats)
	require.True(t, ok)
	assert.NotEqual(t, first.Local.String(), second.Local.String())
	third, ok := s.NextSend(stats)
	require.True(t, ok)
	assert.Equal(t, first.Local.String(), third.Local.String())
}

func TestRoundRobinSkipsIneligible(t *testing.T) {
	s := NewRoundRobin()
	stats := []engine.PathStats{
		{Local: addr(1), CwndAvail: 0},
		{Local: addr(2), CwndAvail: 100},
	}
	instr, ok := s.NextSend(stats)
	require.True(t, ok)
	assert.Equal(t, addr(2).String(), instr.Local.String())
}

func TestBLESTStepsDownWhenFastPathSaturated(t *testing.T) {
	s := NewBLEST()
	stats := []engine.PathStats{
		{Local: addr(1), CwndAvail: 50, SmoothedRTT: 10 * time.Millisecond},  // fast
		{Local: addr(2), CwndAvail: 80, SmoothedRTT: 100 * time.Millisecond}, // slow
	}

	first, ok := s.NextSend(stats)
	require.True(t, ok)
	assert.Equal(t, addr(1).String(), first.Local.String())

	// After one round the fast path's accrued estimate (50) is still below
	// the slow path's CwndAvail (80), so it keeps winning.
	second, ok := s.NextSend(stats)
	require.True(t, ok)
	assert.Equal(t, addr(1).String(), second.Local.String())

	// Accrued outstanding on the fast path (100) now reaches the slow
	// path's BDP proxy (80) and BLEST steps down.
	third, ok := s.NextSend(stats)
	require.True(t, ok)
	assert.Equal(t, addr(2).String(), third.Local.String())
}

func TestFactoryUnknownStrategy(t *testing.T) {
	_, err := New("nonexistent")
	assert.Error(t, err)
}

func TestFactoryDefaultsToMinRTT(t *testing.T) {
	s, err := New("")
	require.NoError(t, err)
	_, isMinRTT := s.(*MinRTT)
	assert.True(t, isMinRTT)
}
