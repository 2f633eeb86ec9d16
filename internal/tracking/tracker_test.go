package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveil/internal/geometry"
)

func box(x, y, w, h float64) geometry.Box {
	return geometry.Box{X: x, Y: y, Width: w, Height: h}
}

func TestSlotTrackerFirstCycle(t *testing.T) {
	tr := NewSlotTracker(0)
	slots := tr.Assign(0, []geometry.Box{box(0, 0, 0.2, 0.2), box(0.5, 0.5, 0.2, 0.2)})
	assert.Equal(t, []int{0, 1}, slots)
}

func TestSlotTrackerInheritsAboveThreshold(t *testing.T) {
	tr := NewSlotTracker(DefaultMatchIoU)
	prev := box(0, 0, 0.2, 0.2)
	tr.Assign(0, []geometry.Box{prev})

	cur := box(0.05, 0, 0.2, 0.2)
	require.Greater(t, geometry.IoU(prev, cur), 0.3)
	assert.Equal(t, []int{0}, tr.Assign(0, []geometry.Box{cur}))
}

func TestSlotTrackerBelowThresholdGetsNewID(t *testing.T) {
	tr := NewSlotTracker(DefaultMatchIoU)
	prev := box(0, 0, 0.2, 0.2)
	tr.Assign(0, []geometry.Box{prev})

	cur := box(0.11, 0, 0.2, 0.2)
	iou := geometry.IoU(prev, cur)
	require.InDelta(t, 0.29, iou, 0.005)
	require.Less(t, iou, 0.3)
	assert.Equal(t, []int{1}, tr.Assign(0, []geometry.Box{cur}))
}

func TestSlotTrackerNeverReusesIDs(t *testing.T) {
	tr := NewSlotTracker(DefaultMatchIoU)
	spot := box(0.3, 0.3, 0.2, 0.4)

	a := tr.Assign(0, []geometry.Box{spot})
	require.Equal(t, []int{0}, a)

	// A leaves
	assert.Empty(t, tr.Assign(0, nil))

	// B shows up where A was
	b := tr.Assign(0, []geometry.Box{box(0.31, 0.3, 0.2, 0.4)})
	require.Len(t, b, 1)
	assert.NotEqual(t, a[0], b[0])
	assert.Equal(t, 1, b[0])
}

func TestSlotTrackerGreedyInputOrder(t *testing.T) {
	tr := NewSlotTracker(DefaultMatchIoU)
	tr.Assign(0, []geometry.Box{box(0, 0, 0.2, 0.2), box(0.6, 0.6, 0.2, 0.2)})

	// both current boxes overlap the first previous box; the first one in
	// input order takes it, the second one gets a fresh id
	slots := tr.Assign(0, []geometry.Box{box(0.02, 0, 0.2, 0.2), box(0.01, 0, 0.2, 0.2)})
	assert.Equal(t, []int{0, 2}, slots)

	// previous slot 1 was dropped, so a box at its spot is new
	slots = tr.Assign(0, []geometry.Box{box(0.6, 0.6, 0.2, 0.2)})
	assert.Equal(t, []int{3}, slots)
}

func TestSlotTrackerCamerasAreIndependent(t *testing.T) {
	tr := NewSlotTracker(DefaultMatchIoU)
	assert.Equal(t, []int{0}, tr.Assign(0, []geometry.Box{box(0, 0, 0.2, 0.2)}))
	assert.Equal(t, []int{0, 1}, tr.Assign(4, []geometry.Box{box(0, 0, 0.2, 0.2), box(0.5, 0, 0.2, 0.2)}))
	assert.Equal(t, []int{0}, tr.Assign(0, []geometry.Box{box(0, 0, 0.2, 0.2)}))

	boxes, slots := tr.Previous(4)
	assert.Len(t, boxes, 2)
	assert.Equal(t, []int{0, 1}, slots)
}
