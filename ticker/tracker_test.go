package ticker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerSubscribeDefaultsToQuote(t *testing.T) {
	tr := newSubscriptionTracker()
	tr.applySubscribe([]uint32{408065, 738561})

	all, byMode := tr.snapshot()
	assert.Equal(t, []uint32{408065, 738561}, all)
	assert.Empty(t, byMode, "default-mode tokens need no mode replay")
}

func TestTrackerResubscribeKeepsMode(t *testing.T) {
	tr := newSubscriptionTracker()
	tr.applySubscribe([]uint32{408065})
	tr.applySetMode(ModeFull, []uint32{408065})

	// Subscribing again must not reset the explicit mode.
	tr.applySubscribe([]uint32{408065})

	_, byMode := tr.snapshot()
	assert.Equal(t, []uint32{408065}, byMode[ModeFull])
}

func TestTrackerSetModeImplicitlySubscribes(t *testing.T) {
	tr := newSubscriptionTracker()
	tr.applySetMode(ModeLTP, []uint32{5633})

	all, byMode := tr.snapshot()
	assert.Equal(t, []uint32{5633}, all)
	assert.Equal(t, []uint32{5633}, byMode[ModeLTP])
}

func TestTrackerUnsubscribe(t *testing.T) {
	tr := newSubscriptionTracker()
	tr.applySubscribe([]uint32{408065, 738561})
	tr.applyUnsubscribe([]uint32{408065})

	all, _ := tr.snapshot()
	assert.Equal(t, []uint32{738561}, all)

	// Unsubscribing an untracked token is a no-op.
	tr.applyUnsubscribe([]uint32{999999})
	all, _ = tr.snapshot()
	assert.Equal(t, []uint32{738561}, all)
}

func TestTrackerSnapshotReflectsNetEffect(t *testing.T) {
	tr := newSubscriptionTracker()
	tr.applySubscribe([]uint32{1, 2, 3})
	tr.applySetMode(ModeFull, []uint32{2, 4})
	tr.applyUnsubscribe([]uint32{1})
	tr.applySetMode(ModeLTP, []uint32{3})
	tr.applySubscribe([]uint32{2}) // no-op on mode

	all, byMode := tr.snapshot()
	require.Equal(t, []uint32{2, 3, 4}, all)
	assert.Equal(t, []uint32{2, 4}, byMode[ModeFull])
	assert.Equal(t, []uint32{3}, byMode[ModeLTP])
	assert.NotContains(t, byMode, ModeQuote)
}

func TestTrackerSnapshotSorted(t *testing.T) {
	tr := newSubscriptionTracker()
	tr.applySubscribe([]uint32{900, 5, 77, 3})

	all, _ := tr.snapshot()
	assert.Equal(t, []uint32{3, 5, 77, 900}, all)
}
