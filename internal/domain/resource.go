package domain

import "strconv"

// ResourceKind is a kind of schedulable resource.
type ResourceKind string

const (
	ResourceVehicle   ResourceKind = "vehicle"
	ResourceDriver    ResourceKind = "driver"
	ResourceRequester ResourceKind = "requester"
)

// ResourceKey identifies one schedulable resource.
type ResourceKey struct {
	Kind ResourceKind
	ID   int64
}

func VehicleKey(id int64) ResourceKey   { return ResourceKey{Kind: ResourceVehicle, ID: id} }
func DriverKey(id int64) ResourceKey    { return ResourceKey{Kind: ResourceDriver, ID: id} }
func RequesterKey(id int64) ResourceKey { return ResourceKey{Kind: ResourceRequester, ID: id} }

func (k ResourceKey) String() string {
	return string(k.Kind) + ":" + strconv.FormatInt(k.ID, 10)
}
