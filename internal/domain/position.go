package domain

import (
	"strconv"
	"time"
)

// PositionReport is a single accepted driver telemetry point.
// (TripID, DriverID, RecordedAt) is unique.
type PositionReport struct {
	ID         int64
	TripID     int64
	DriverID   int64
	Lat        float64
	Lng        float64
	Heading    *float64
	Speed      *float64
	RecordedAt time.Time
	CreatedAt  time.Time
}

// StreamKey identifies the telemetry stream of one driver on one trip.
type StreamKey struct {
	TripID   int64
	DriverID int64
}

func (k StreamKey) String() string {
	return strconv.FormatInt(k.TripID, 10) + ":" + strconv.FormatInt(k.DriverID, 10)
}

// Stream returns the stream the report belongs to.
func (p *PositionReport) Stream() StreamKey {
	return StreamKey{TripID: p.TripID, DriverID: p.DriverID}
}

// PointRef is the slice of a stored point the retention job needs.
// RecordedAt is nil when the stored row carries no timestamp.
type PointRef struct {
	ID         int64
	RecordedAt *time.Time
}

// CacheNamespace separates the kinds of ephemeral telemetry entries.
type CacheNamespace string

const (
	CacheLastSeen CacheNamespace = "last_seen"
	CacheThrottle CacheNamespace = "throttle"
)

// CacheKey addresses one ephemeral telemetry entry.
type CacheKey struct {
	Namespace CacheNamespace
	Stream    StreamKey
}
