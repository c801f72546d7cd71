package cliopts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quicperfio/quicperf/internal/engine"
)

func TestValidateClientRequiresEqualAddrCounts(t *testing.T) {
	o := ClientOpts{
		Global:    Global{LocalAddrs: []string{"0.0.0.0:0", "0.0.0.0:0"}},
		PeerAddrs: []string{"10.0.0.1:4433"},
		Duration:  time.Second,
	}
	err := ValidateClient(o)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local addresses")
}

func TestValidateClientRejectsZeroDuration(t *testing.T) {
	o := ClientOpts{
		Global:    Global{LocalAddrs: []string{"0.0.0.0:0"}},
		PeerAddrs: []string{"10.0.0.1:4433"},
	}
	err := ValidateClient(o)
	require.Error(t, err)
}

func TestValidateClientRejectsUnknownScheduler(t *testing.T) {
	o := ClientOpts{
		Global: Global{
			LocalAddrs: []string{"0.0.0.0:0"},
			Scheduler:  "bogus",
		},
		PeerAddrs: []string{"10.0.0.1:4433"},
		Duration:  time.Second,
	}
	require.Error(t, ValidateClient(o))
}

func TestValidateClientAcceptsWellFormedOpts(t *testing.T) {
	o := ClientOpts{
		Global: Global{
			LocalAddrs: []string{"0.0.0.0:0"},
			Scheduler:  "blest",
		},
		PeerAddrs: []string{"10.0.0.1:4433"},
		Duration:  10 * time.Second,
	}
	assert.NoError(t, ValidateClient(o))
}

func TestValidateServerRequiresCertAndKey(t *testing.T) {
	err := ValidateServer(ServerOpts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--cert")
}

func TestParseBitrateAppliesSuffixAndDividesByEight(t *testing.T) {
	bps, err := ParseBitrate("8000000")
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), bps)

	bps, err = ParseBitrate("8M")
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), bps)

	bps, err = ParseBitrate("16k")
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000), bps)
}

func TestParseBitrateRejectsGarbage(t *testing.T) {
	_, err := ParseBitrate("not-a-number")
	require.Error(t, err)
}

func TestParseStatusParsesTriple(t *testing.T) {
	u, err := ParseStatus("2.5,1,7")
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, u.Delay)
	assert.Equal(t, 1, u.PathID)
	assert.Equal(t, engine.PathStatusFromUint(7), u.Status)
}

func TestParseStatusRejectsWrongArity(t *testing.T) {
	_, err := ParseStatus("1,2")
	require.Error(t, err)
}

func TestParseStatusRejectsNonNumericFields(t *testing.T) {
	_, err := ParseStatus("x,1,2")
	require.Error(t, err)

	_, err = ParseStatus("1,x,2")
	require.Error(t, err)

	_, err = ParseStatus("1,2,x")
	require.Error(t, err)
}
