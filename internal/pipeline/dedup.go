package pipeline

import (
	"surveil/internal/geometry"
)

// DefaultMergeIoU is the overlap above which two same-class events are the same object
const DefaultMergeIoU = 0.5

// Deduplicate merges overlapping events of one class. For every pair whose IoU
// exceeds threshold only the higher-confidence event survives; on equal
// confidence the earlier event wins. Survivors keep their input order.
func Deduplicate(events []Event, threshold float64) []Event {
	if len(events) <= 1 {
		return events
	}

	suppressed := make([]bool, len(events))
	for i := range events {
		if suppressed[i] {
			continue
		}
		for j := i + 1; j < len(events); j++ {
			if suppressed[j] {
				continue
			}
			if geometry.IoU(events[i].BoundingBox, events[j].BoundingBox) <= threshold {
				continue
			}
			if events[i].Confidence >= events[j].Confidence {
				suppressed[j] = true
			} else {
				suppressed[i] = true
				break
			}
		}
	}

	kept := make([]Event, 0, len(events))
	for i, e := range events {
		if !suppressed[i] {
			kept = append(kept, e)
		}
	}
	return kept
}

// MergeClass deduplicates the events of one type and returns them ahead of
// the untouched events of every other type, plus the merged subset.
func MergeClass(events []Event, eventType EventType, threshold float64) (all []Event, merged []Event) {
	var same, other []Event
	for _, e := range events {
		if e.Type == eventType {
			same = append(same, e)
		} else {
			other = append(other, e)
		}
	}
	merged = Deduplicate(same, threshold)
	all = make([]Event, 0, len(merged)+len(other))
	all = append(all, merged...)
	all = append(all, other...)
	return all, merged
}
