// Package tracking assigns stable per-camera identities to detections and
// debounces per-pair heuristics over consecutive cycles.
package tracking

import (
	"surveil/internal/geometry"
	"surveil/internal/pipeline"
)

// DefaultMatchIoU is the overlap a detection must exceed to inherit a previous slot
const DefaultMatchIoU = 0.3

type slotState struct {
	prevBoxes []geometry.Box
	prevSlots []int
	next      int
}

// SlotTracker assigns slot ids by greedy IoU matching against the previous
// cycle of the same camera. Ids increase monotonically per camera and are
// never reissued.
type SlotTracker struct {
	threshold float64
	cams      *pipeline.Arena[*slotState]
}

// NewSlotTracker creates a tracker. A non-positive threshold uses DefaultMatchIoU.
func NewSlotTracker(threshold float64) *SlotTracker {
	if threshold <= 0 {
		threshold = DefaultMatchIoU
	}
	return &SlotTracker{
		threshold: threshold,
		cams:      pipeline.NewArena(func() *slotState { return &slotState{} }),
	}
}

// Assign returns one slot id per box, in input order, and makes the boxes
// the previous cycle for the next call. Previous slots left unmatched are
// dropped for good.
func (t *SlotTracker) Assign(handle int, boxes []geometry.Box) []int {
	st := t.cams.Get(handle)
	slots := make([]int, len(boxes))

	if len(st.prevBoxes) == 0 {
		for i := range boxes {
			slots[i] = st.mint()
		}
		st.remember(boxes, slots)
		return slots
	}

	used := make([]bool, len(st.prevBoxes))
	for i, box := range boxes {
		bestIoU := t.threshold
		bestJ := -1
		for j, prev := range st.prevBoxes {
			if used[j] {
				continue
			}
			if iou := geometry.IoU(box, prev); iou > bestIoU {
				bestIoU = iou
				bestJ = j
			}
		}
		if bestJ >= 0 {
			slots[i] = st.prevSlots[bestJ]
			used[bestJ] = true
		} else {
			slots[i] = -1
		}
	}
	for i := range slots {
		if slots[i] < 0 {
			slots[i] = st.mint()
		}
	}

	st.remember(boxes, slots)
	return slots
}

// Previous returns the boxes and slots remembered from the last Assign call
func (t *SlotTracker) Previous(handle int) ([]geometry.Box, []int) {
	st := t.cams.Get(handle)
	return st.prevBoxes, st.prevSlots
}

func (s *slotState) mint() int {
	id := s.next
	s.next++
	return id
}

func (s *slotState) remember(boxes []geometry.Box, slots []int) {
	s.prevBoxes = append(s.prevBoxes[:0:0], boxes...)
	s.prevSlots = slots
}
