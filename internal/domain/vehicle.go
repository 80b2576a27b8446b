package domain

// Vehicle is owned by fleet management and read-only to the scheduler.
type Vehicle struct {
	ID int64
	// Capacity is the seat ceiling. nil means the record carries no capacity
	// and the vehicle is uncapped.
	Capacity *int
	Active   bool
}
