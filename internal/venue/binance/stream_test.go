package binance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// S4: snapshot lastUpdateId=100; delta U=95,u=110 bootstraps (new last=110);
// next delta chains off 110 to 120; a delta that doesn't chain off 120
// signals a gap and must reset rather than apply.
func TestNextBootstrapStateGapResetsAndResyncs(t *testing.T) {
	bootstrapped, lastUpdateID := false, int64(100)

	bootstrapped, lastUpdateID, apply := nextBootstrapState(bootstrapped, lastUpdateID, depthUpdateMsg{FirstUpdateID: 95, FinalUpdateID: 110})
	assert.True(t, bootstrapped)
	assert.EqualValues(t, 110, lastUpdateID)
	assert.True(t, apply, "first in-sequence frame must apply")

	bootstrapped, lastUpdateID, apply = nextBootstrapState(bootstrapped, lastUpdateID, depthUpdateMsg{PrevFinalID: 110, FinalUpdateID: 120})
	assert.True(t, bootstrapped)
	assert.EqualValues(t, 120, lastUpdateID)
	assert.True(t, apply, "chained frame must apply")

	bootstrapped, lastUpdateID, apply = nextBootstrapState(bootstrapped, lastUpdateID, depthUpdateMsg{PrevFinalID: 115, FinalUpdateID: 125})
	assert.False(t, bootstrapped, "broken chain must reset bootstrap")
	assert.EqualValues(t, 120, lastUpdateID, "last good update ID is untouched until re-snapshot")
	assert.False(t, apply, "a gapped frame must not be applied")
}

func TestNextBootstrapStateIgnoresFrameBeforeBootstrapWindow(t *testing.T) {
	_, _, apply := nextBootstrapState(false, 100, depthUpdateMsg{FirstUpdateID: 101, FinalUpdateID: 109})
	assert.False(t, apply, "a frame entirely past the snapshot's lastUpdateId never bootstraps")
}
