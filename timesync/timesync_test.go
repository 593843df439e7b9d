package timesync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimate_ZeroRTTMatchesServerTimeExactly(t *testing.T) {
	offset, rtt := Estimate(1000, 1000, 1000)
	assert.Equal(t, int64(0), rtt)
	assert.Equal(t, int64(0), offset)
}

func TestEstimate_SymmetricRTTSplitsEvenly(t *testing.T) {
	// Client sends at t0=1000, server replies with serverTime=1050 (50ms
	// ahead on arrival), client receives at t1=1100 (100ms RTT).
	offset, rtt := Estimate(1000, 1050, 1100)
	assert.Equal(t, int64(100), rtt)
	assert.Equal(t, int64(0), offset) // (1050+50)-1100 = 0
}

func TestEstimate_ServerAheadProducesPositiveOffset(t *testing.T) {
	offset, _ := Estimate(1000, 1200, 1100)
	assert.Equal(t, int64(150), offset) // (1200+50)-1100 = 150
}

func TestServerTimeAt_AppliesOffset(t *testing.T) {
	assert.Equal(t, int64(1150), ServerTimeAt(1000, 150))
	assert.Equal(t, int64(850), ServerTimeAt(1000, -150))
}
