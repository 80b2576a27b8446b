package service

import "logistics/internal/domain"

// Uncapped is the remaining capacity of a vehicle with no recorded capacity.
const Uncapped = -1

// Remaining returns how many seats are left on a trip. Requests that no longer
// hold seats are ignored. Returns Uncapped when capacity is nil or zero.
func Remaining(capacity *int, onTrip []*domain.Request) int {
	if capacity == nil || *capacity <= 0 {
		return Uncapped
	}

	taken := 0
	for _, r := range onTrip {
		if r.HoldsSeats() {
			taken += r.Passengers
		}
	}

	if taken >= *capacity {
		return 0
	}
	return *capacity - taken
}

// CanAdd reports whether passengers fit into remaining seats. Partial fits are rejected.
func CanAdd(remaining, passengers int) bool {
	return remaining == Uncapped || passengers <= remaining
}
