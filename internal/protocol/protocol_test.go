package protocol

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quicperfio/quicperf/internal/engine"
)

// pipeStream is an in-memory engine.Stream: Send appends to an internal
// buffer a peer Recv call drains, modeling one direction of stream 0.
type pipeStream struct {
	out *[]byte
	in  *[]byte
}

func newPipePair() (a, b engine.Stream) {
	ab := make([]byte, 0, 256)
	ba := make([]byte, 0, 256)
	return &pipeStream{out: &ab, in: &ba}, &pipeStream{out: &ba, in: &ab}
}

func (p *pipeStream) Send(buf []byte, fin bool) (int, error) {
	*p.out = append(*p.out, buf...)
	return len(buf), nil
}

func (p *pipeStream) Recv(buf []byte) (int, bool, error) {
	n := copy(buf, *p.in)
	*p.in = (*p.in)[n:]
	return n, false, nil
}

func boolPtr(s string) *string { return &s }

func TestConfigAckRoundTrip(t *testing.T) {
	clock := clockwork.NewFakeClock()
	clientStream, serverStream := newPipePair()

	tc := TestConfig{
		LocalAddrs:    []string{"127.0.0.1:5000"},
		PeerAddrs:     []string{"127.0.0.1:6000"},
		ClientSending: true,
		Duration:      DurationFromGo(time.Second),
	}
	client, err := NewClient(clock, tc)
	require.NoError(t, err)
	server := NewServer(clock, nil)

	require.NoError(t, client.Dispatch(clientStream))
	assert.True(t, client.configSent)

	require.NoError(t, server.Dispatch(serverStream))
	require.NotNil(t, server.Config())
	assert.Equal(t, tc.LocalAddrs, server.Config().LocalAddrs)

	require.NoError(t, client.Dispatch(clientStream))
	assert.True(t, client.configAcked)
}

func TestAuthFailureClosesWithError(t *testing.T) {
	clock := clockwork.NewFakeClock()
	clientStream, serverStream := newPipePair()

	expected := "secret"
	server := NewServer(clock, &expected)

	wrong := "nope"
	tc := TestConfig{
		LocalAddrs: []string{"a"}, PeerAddrs: []string{"b"},
		Password: &wrong,
		Duration:  DurationFromGo(time.Second),
	}
	client, err := NewClient(clock, tc)
	require.NoError(t, err)

	require.NoError(t, client.Dispatch(clientStream))
	err = server.Dispatch(serverStream)
	assert.ErrorIs(t, err, ErrAuthFailed{})
}

func TestConfigValidateRejectsMismatchedAddrCounts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	_, err := NewClient(clock, TestConfig{LocalAddrs: []string{"a", "b"}, PeerAddrs: []string{"c"}})
	assert.Error(t, err)
}

func TestBitratePacerFirstSendIsOneRound(t *testing.T) {
	p := newBitratePacer(100_000) // 1000 bytes/round
	now := time.Now()
	assert.Equal(t, uint64(1000), p.allowance(now))
}

func TestBitratePacerWithholdsWithinOneRound(t *testing.T) {
	p := newBitratePacer(100_000)
	now := time.Now()
	p.allowance(now)
	assert.Equal(t, uint64(0), p.allowance(now.Add(5*time.Millisecond)))
}

func TestBitratePacerCatchesUpCappedAtThreeRounds(t *testing.T) {
	p := newBitratePacer(100_000) // 1000 bytes/round, round = 10ms
	now := time.Now()
	p.allowance(now)
	// five rounds elapsed, but catch-up caps at 3
	got := p.allowance(now.Add(50 * time.Millisecond))
	assert.Equal(t, uint64(3000), got)
}

func TestTerminationOnDurationExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	clientStream, serverStream := newPipePair()

	tc := TestConfig{
		LocalAddrs: []string{"a"}, PeerAddrs: []string{"b"},
		ClientSending: true,
		Duration:      DurationFromGo(time.Second),
	}
	client, err := NewClient(clock, tc)
	require.NoError(t, err)
	server := NewServer(clock, nil)

	require.NoError(t, client.Dispatch(clientStream))
	require.NoError(t, server.Dispatch(serverStream))
	require.NoError(t, client.Dispatch(clientStream))

	clock.Advance(2 * time.Second)
	err = client.Dispatch(clientStream)
	assert.ErrorIs(t, err, engine.ErrDone)
	assert.True(t, client.Finished())

	// Idempotence: a further dispatch after finished is a no-op.
	assert.NoError(t, client.Dispatch(clientStream))
}
