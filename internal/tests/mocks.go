package tests

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"logistics/internal/domain"
	"logistics/internal/redis"
	"logistics/internal/repository"
)

// ──────────────────────────────────────────────
// MOCK SCHEDULING STORE
// ──────────────────────────────────────────────

// MockStore is an in-memory stand-in for the trips, requests and vehicles
// tables. Transactions are serialized on one mutex, which gives the same
// guarantee as the per-resource locks taken in Postgres, and roll back on error.
type MockStore struct {
	mu       sync.RWMutex
	trips    map[int64]*domain.Trip
	requests map[int64]*domain.Request
	vehicles map[int64]*domain.Vehicle
	nextTrip int64

	txMu sync.Mutex

	// Counters for verification
	CreateTripCallCount int32
	LinkCallCount       int32
	TxCallCount         int32
	LockedKeys          [][]domain.ResourceKey

	// Error injection
	CreateTripError error
	LockError       error
	ListActiveError error
	// LinkFails makes LinkToTrip report that the request was linked concurrently.
	LinkFails bool
}

// NewMockStore creates an empty store.
func NewMockStore() *MockStore {
	return &MockStore{
		trips:    make(map[int64]*domain.Trip),
		requests: make(map[int64]*domain.Request),
		vehicles: make(map[int64]*domain.Vehicle),
		nextTrip: 100,
	}
}

// AddVehicle adds a vehicle. capacity 0 means none recorded.
func (m *MockStore) AddVehicle(id int64, capacity int, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := &domain.Vehicle{ID: id, Active: active}
	if capacity > 0 {
		v.Capacity = &capacity
	}
	m.vehicles[id] = v
}

// AddRequest adds a request.
func (m *MockStore) AddRequest(req *domain.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *req
	m.requests[req.ID] = &cp
}

// AddTrip adds a trip as-is, keeping its ID.
func (m *MockStore) AddTrip(trip *domain.Trip) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *trip
	m.trips[trip.ID] = &cp
}

// GetTrip returns trip for test assertions.
func (m *MockStore) GetTrip(id int64) *domain.Trip {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trips[id]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

// GetRequest returns request for test assertions.
func (m *MockStore) GetRequest(id int64) *domain.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

// CountTrips returns the number of stored trips.
func (m *MockStore) CountTrips() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.trips)
}

// Trips returns the store's trip repository.
func (m *MockStore) Trips() repository.TripRepository { return &MockTripRepository{store: m} }

// Requests returns the store's request repository.
func (m *MockStore) Requests() repository.RequestRepository { return &MockRequestRepository{store: m} }

// Vehicles returns the store's vehicle repository.
func (m *MockStore) Vehicles() repository.VehicleRepository { return &MockVehicleRepository{store: m} }

// WithinTx runs fn serialized with every other transaction.
func (m *MockStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	atomic.AddInt32(&m.TxCallCount, 1)

	m.txMu.Lock()
	defer m.txMu.Unlock()

	snapshot := m.snapshot()
	if err := fn(ctx, &mockTx{store: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type storeSnapshot struct {
	trips    map[int64]*domain.Trip
	requests map[int64]*domain.Request
	nextTrip int64
}

func (m *MockStore) snapshot() storeSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := storeSnapshot{
		trips:    make(map[int64]*domain.Trip, len(m.trips)),
		requests: make(map[int64]*domain.Request, len(m.requests)),
		nextTrip: m.nextTrip,
	}
	for id, t := range m.trips {
		cp := *t
		s.trips[id] = &cp
	}
	for id, r := range m.requests {
		cp := *r
		s.requests[id] = &cp
	}
	return s
}

func (m *MockStore) restore(s storeSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips = s.trips
	m.requests = s.requests
	m.nextTrip = s.nextTrip
}

type mockTx struct {
	store *MockStore
}

func (t *mockTx) Trips() repository.TripRepository       { return t.store.Trips() }
func (t *mockTx) Requests() repository.RequestRepository { return t.store.Requests() }
func (t *mockTx) Vehicles() repository.VehicleRepository { return t.store.Vehicles() }

func (t *mockTx) LockResources(ctx context.Context, keys ...domain.ResourceKey) error {
	if t.store.LockError != nil {
		return t.store.LockError
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.LockedKeys = append(t.store.LockedKeys, append([]domain.ResourceKey(nil), keys...))
	return nil
}

// ──────────────────────────────────────────────
// MOCK TRIP REPOSITORY
// ──────────────────────────────────────────────

// MockTripRepository is a mock implementation of TripRepository backed by a MockStore.
type MockTripRepository struct {
	store *MockStore
}

func (r *MockTripRepository) Create(ctx context.Context, trip *domain.Trip) error {
	m := r.store
	atomic.AddInt32(&m.CreateTripCallCount, 1)
	if m.CreateTripError != nil {
		return m.CreateTripError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTrip++
	trip.ID = m.nextTrip
	trip.CreatedAt = time.Now()
	cp := *trip
	m.trips[trip.ID] = &cp
	return nil
}

func (r *MockTripRepository) GetByID(ctx context.Context, id int64) (*domain.Trip, error) {
	trip := r.store.GetTrip(id)
	if trip == nil {
		return nil, repository.ErrNotFound
	}
	return trip, nil
}

func (r *MockTripRepository) GetByIDForUpdate(ctx context.Context, id int64) (*domain.Trip, error) {
	return r.GetByID(ctx, id)
}

func (r *MockTripRepository) ListActiveByResource(ctx context.Context, key domain.ResourceKey, window domain.Window) ([]*domain.Trip, error) {
	m := r.store
	if m.ListActiveError != nil {
		return nil, m.ListActiveError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	held := make(map[int64]bool)
	switch key.Kind {
	case domain.ResourceVehicle:
		for id, t := range m.trips {
			held[id] = t.VehicleID == key.ID
		}
	case domain.ResourceDriver:
		for id, t := range m.trips {
			held[id] = t.DriverID == key.ID
		}
	case domain.ResourceRequester:
		for _, req := range m.requests {
			if req.UserID == key.ID && req.TripID != nil && req.HoldsSeats() {
				held[*req.TripID] = true
			}
		}
	default:
		return nil, errors.New("unknown resource kind")
	}

	var result []*domain.Trip
	for id, ok := range held {
		t, exists := m.trips[id]
		if !ok || !exists || !t.Status.IsActive() {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DepartAt.Before(result[j].DepartAt) })
	return result, nil
}

func (r *MockTripRepository) UpdateStatus(ctx context.Context, id int64, from, to domain.TripStatus) (bool, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	return true, nil
}

// ──────────────────────────────────────────────
// MOCK REQUEST REPOSITORY
// ──────────────────────────────────────────────

// MockRequestRepository is a mock implementation of RequestRepository backed by a MockStore.
type MockRequestRepository struct {
	store *MockStore
}

func (r *MockRequestRepository) GetByID(ctx context.Context, id int64) (*domain.Request, error) {
	req := r.store.GetRequest(id)
	if req == nil {
		return nil, repository.ErrNotFound
	}
	return req, nil
}

func (r *MockRequestRepository) ListByTrip(ctx context.Context, tripID int64) ([]*domain.Request, error) {
	m := r.store
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Request
	for _, req := range m.requests {
		if req.TripID != nil && *req.TripID == tripID {
			cp := *req
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *MockRequestRepository) LinkToTrip(ctx context.Context, requestID, tripID int64) (bool, error) {
	m := r.store
	atomic.AddInt32(&m.LinkCallCount, 1)
	if m.LinkFails {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[requestID]
	if !ok || !req.Linkable() {
		return false, nil
	}
	id := tripID
	req.TripID = &id
	req.Status = domain.RequestStatusAssigned
	return true, nil
}

func (r *MockRequestRepository) UpdateStatusByTrip(ctx context.Context, tripID int64, status domain.RequestStatus) (int64, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, req := range m.requests {
		if req.TripID != nil && *req.TripID == tripID && req.HoldsSeats() {
			req.Status = status
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────
// MOCK VEHICLE REPOSITORY
// ──────────────────────────────────────────────

// MockVehicleRepository is a mock implementation of VehicleRepository backed by a MockStore.
type MockVehicleRepository struct {
	store *MockStore
}

func (r *MockVehicleRepository) GetByID(ctx context.Context, id int64) (*domain.Vehicle, error) {
	m := r.store
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vehicles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

// ──────────────────────────────────────────────
// MOCK POSITION REPOSITORY
// ──────────────────────────────────────────────

// MockPositionRepository is a mock implementation of PositionRepository that
// enforces the (trip, driver, recorded_at) unique index.
type MockPositionRepository struct {
	mu        sync.Mutex
	points    map[int64]*domain.PositionReport
	untimed   map[int64]bool
	nextID    int64
	insertGap time.Duration

	// Counters for verification
	InsertCallCount int32
	DeleteCallCount int32

	// Error injection
	InsertError error
	// FailDeleteForTrip makes DeleteByIDs fail when any id belongs to that trip.
	FailDeleteForTrip int64
}

// NewMockPositionRepository creates a new mock position repository.
func NewMockPositionRepository() *MockPositionRepository {
	return &MockPositionRepository{
		points:  make(map[int64]*domain.PositionReport),
		untimed: make(map[int64]bool),
	}
}

// SetInsertDelay makes every Insert sleep, widening race windows in concurrency tests.
func (m *MockPositionRepository) SetInsertDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertGap = d
}

// AddPoint stores a point directly, bypassing the unique index, and returns its id.
func (m *MockPositionRepository) AddPoint(tripID, driverID int64, recordedAt time.Time) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.points[m.nextID] = &domain.PositionReport{
		ID:         m.nextID,
		TripID:     tripID,
		DriverID:   driverID,
		RecordedAt: recordedAt.UTC(),
		CreatedAt:  time.Now(),
	}
	return m.nextID
}

// AddUntimedPoint stores a point whose recorded_at is NULL and returns its id.
func (m *MockPositionRepository) AddUntimedPoint(tripID, driverID int64) int64 {
	id := m.AddPoint(tripID, driverID, time.Time{})
	m.mu.Lock()
	defer m.mu.Unlock()
	m.untimed[id] = true
	return id
}

// Has reports whether a point is still stored.
func (m *MockPositionRepository) Has(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.points[id]
	return ok
}

// Count returns the number of stored points.
func (m *MockPositionRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.points)
}

func (m *MockPositionRepository) Insert(ctx context.Context, p *domain.PositionReport) error {
	atomic.AddInt32(&m.InsertCallCount, 1)
	if m.InsertError != nil {
		return m.InsertError
	}

	m.mu.Lock()
	gap := m.insertGap
	m.mu.Unlock()
	if gap > 0 {
		time.Sleep(gap)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.points {
		if m.untimed[id] {
			continue
		}
		if existing.TripID == p.TripID && existing.DriverID == p.DriverID && existing.RecordedAt.Equal(p.RecordedAt) {
			return repository.ErrDuplicate
		}
	}
	m.nextID++
	p.ID = m.nextID
	p.CreatedAt = time.Now()
	cp := *p
	m.points[p.ID] = &cp
	return nil
}

func (m *MockPositionRepository) ListRecent(ctx context.Context, tripID int64, since time.Time, limit int) ([]*domain.PositionReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*domain.PositionReport
	for id, p := range m.points {
		if p.TripID != tripID || m.untimed[id] {
			continue
		}
		if !since.IsZero() && p.RecordedAt.Before(since) {
			continue
		}
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RecordedAt.After(result[j].RecordedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}

func (m *MockPositionRepository) PurgeBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, p := range m.points {
		if !m.untimed[id] && p.RecordedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	for _, id := range ids {
		delete(m.points, id)
	}
	return int64(len(ids)), nil
}

func (m *MockPositionRepository) ListStreams(ctx context.Context, from, to time.Time) ([]domain.StreamKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[domain.StreamKey]bool)
	for id, p := range m.points {
		if m.untimed[id] || p.RecordedAt.Before(from) || !p.RecordedAt.Before(to) {
			continue
		}
		seen[p.Stream()] = true
	}
	streams := make([]domain.StreamKey, 0, len(seen))
	for s := range seen {
		streams = append(streams, s)
	}
	sort.Slice(streams, func(i, j int) bool {
		if streams[i].TripID != streams[j].TripID {
			return streams[i].TripID < streams[j].TripID
		}
		return streams[i].DriverID < streams[j].DriverID
	})
	return streams, nil
}

func (m *MockPositionRepository) ListStreamPoints(ctx context.Context, stream domain.StreamKey, from, to time.Time) ([]domain.PointRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var refs []domain.PointRef
	for id, p := range m.points {
		if p.Stream() != stream {
			continue
		}
		if m.untimed[id] {
			refs = append(refs, domain.PointRef{ID: id})
			continue
		}
		if p.RecordedAt.Before(from) || !p.RecordedAt.Before(to) {
			continue
		}
		t := p.RecordedAt
		refs = append(refs, domain.PointRef{ID: id, RecordedAt: &t})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs, nil
}

func (m *MockPositionRepository) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	atomic.AddInt32(&m.DeleteCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailDeleteForTrip != 0 {
		for _, id := range ids {
			if p, ok := m.points[id]; ok && p.TripID == m.FailDeleteForTrip {
				return 0, errors.New("delete failed for trip " + strconv.FormatInt(p.TripID, 10))
			}
		}
	}
	var n int64
	for _, id := range ids {
		if _, ok := m.points[id]; ok {
			delete(m.points, id)
			delete(m.untimed, id)
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────
// MOCK TELEMETRY CACHE
// ──────────────────────────────────────────────

type cacheEntry struct {
	value   time.Time
	expires time.Time
}

// MockTelemetryCache is an in-memory TTL cache.
type MockTelemetryCache struct {
	mu      sync.Mutex
	entries map[domain.CacheKey]cacheEntry

	// Counters for verification
	GetCallCount int32
	SetCallCount int32

	// Error injection
	GetError error
	SetError error
}

// NewMockTelemetryCache creates a new mock telemetry cache.
func NewMockTelemetryCache() *MockTelemetryCache {
	return &MockTelemetryCache{entries: make(map[domain.CacheKey]cacheEntry)}
}

func (m *MockTelemetryCache) Get(ctx context.Context, key domain.CacheKey) (time.Time, bool, error) {
	atomic.AddInt32(&m.GetCallCount, 1)
	if m.GetError != nil {
		return time.Time{}, false, m.GetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || time.Now().After(e.expires) {
		return time.Time{}, false, nil
	}
	return e.value, true, nil
}

func (m *MockTelemetryCache) Set(ctx context.Context, key domain.CacheKey, value time.Time, ttl time.Duration) error {
	atomic.AddInt32(&m.SetCallCount, 1)
	if m.SetError != nil {
		return m.SetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = cacheEntry{value: value, expires: time.Now().Add(ttl)}
	return nil
}

// Expire drops every entry in the namespace, as if its TTL had passed.
func (m *MockTelemetryCache) Expire(ns domain.CacheNamespace) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if k.Namespace == ns {
			delete(m.entries, k)
		}
	}
}

// TTL returns the remaining lifetime of an entry, or zero if absent.
func (m *MockTelemetryCache) TTL(key domain.CacheKey) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return 0
	}
	return time.Until(e.expires)
}

// ──────────────────────────────────────────────
// MOCK LOCK STORE
// ──────────────────────────────────────────────

// MockLockStore is a mock implementation of LockStoreInterface.
type MockLockStore struct {
	mu    sync.Mutex
	held  map[string]string
	token int

	AcquireError error
}

// NewMockLockStore creates a new mock lock store.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{held: make(map[string]string)}
}

func (m *MockLockStore) Acquire(ctx context.Context, name string, ttl time.Duration) (string, error) {
	if m.AcquireError != nil {
		return "", m.AcquireError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[name]; ok {
		return "", nil
	}
	m.token++
	token := "token-" + strconv.Itoa(m.token)
	m.held[name] = token
	return token, nil
}

func (m *MockLockStore) Release(ctx context.Context, name, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[name] == token {
		delete(m.held, name)
	}
	return nil
}

// IsHeld reports whether the named lease is held.
func (m *MockLockStore) IsHeld(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[name]
	return ok
}

// ──────────────────────────────────────────────
// MOCK NOTIFIER AND PUBLISHER
// ──────────────────────────────────────────────

// MockNotifier records driver notifications.
type MockNotifier struct {
	mu    sync.Mutex
	calls []int64

	Err error
}

// NewMockNotifier creates a new mock notifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) NotifyDriverAssigned(ctx context.Context, driverID int64, trip *domain.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, driverID)
	return m.Err
}

// Calls returns the driver ids notified so far.
func (m *MockNotifier) Calls() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.calls...)
}

// MockPublisher records published positions.
type MockPublisher struct {
	mu        sync.Mutex
	published []*domain.PositionReport

	Err error
}

// NewMockPublisher creates a new mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) PublishPosition(ctx context.Context, p *domain.PositionReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, p)
	return m.Err
}

// Published returns the positions published so far.
func (m *MockPublisher) Published() []*domain.PositionReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.PositionReport(nil), m.published...)
}

// Ensure mocks implement interfaces.
var (
	_ repository.Transactor         = (*MockStore)(nil)
	_ repository.TripRepository     = (*MockTripRepository)(nil)
	_ repository.RequestRepository  = (*MockRequestRepository)(nil)
	_ repository.VehicleRepository  = (*MockVehicleRepository)(nil)
	_ repository.PositionRepository = (*MockPositionRepository)(nil)
	_ redis.TelemetryCacheInterface = (*MockTelemetryCache)(nil)
	_ redis.LockStoreInterface      = (*MockLockStore)(nil)
)
