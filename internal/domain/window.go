package domain

import "time"

// Window is a closed time interval [Start, End]. An open-ended window has no
// End and extends forever.
type Window struct {
	Start     time.Time
	End       time.Time
	OpenEnded bool
}

// QueryWindow builds the window a new commitment asks for. A missing end
// collapses the window onto its start instant.
func QueryWindow(start time.Time, end *time.Time) Window {
	if end == nil {
		return Window{Start: start, End: start}
	}
	return Window{Start: start, End: *end}
}

// CommitmentWindow builds the window an existing commitment holds. A missing
// end means the commitment is open-ended.
func CommitmentWindow(start time.Time, end *time.Time) Window {
	if end == nil {
		return Window{Start: start, OpenEnded: true}
	}
	return Window{Start: start, End: *end}
}

// Overlaps reports whether two windows intersect. Bounds are inclusive:
// a window ending at 12:00:00 overlaps one starting at 12:00:00.
func (w Window) Overlaps(other Window) bool {
	return w.startsNoLaterThanEndOf(other) && other.startsNoLaterThanEndOf(w)
}

func (w Window) startsNoLaterThanEndOf(other Window) bool {
	if other.OpenEnded {
		return true
	}
	return !w.Start.After(other.End)
}
