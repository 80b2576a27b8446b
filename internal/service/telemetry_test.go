package service_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"logistics/internal/domain"
	"logistics/internal/logging"
	"logistics/internal/repository"
	"logistics/internal/service"
	"logistics/internal/tests"
)

// ──────────────────────────────────────────────
// TELEMETRY FIXTURE
// ──────────────────────────────────────────────

const liveTripID = int64(80)

var telemetryNow = time.Date(2030, 3, 4, 10, 30, 0, 0, time.UTC)

type telemetryFixture struct {
	store     *tests.MockStore
	positions *tests.MockPositionRepository
	cache     *tests.MockTelemetryCache
	publisher *tests.MockPublisher
	svc       *service.TelemetryService
}

func newTelemetryFixture(opts service.TelemetryOptions) *telemetryFixture {
	store := tests.NewMockStore()
	store.AddTrip(&domain.Trip{ID: liveTripID, VehicleID: 7, DriverID: 9, Status: domain.TripStatusInProgress, DepartAt: at(10, 0)})
	store.AddRequest(&domain.Request{ID: 1, UserID: 501, Status: domain.RequestStatusAssigned, Passengers: 1, TripID: ptr(liveTripID)})

	positions := tests.NewMockPositionRepository()
	cache := tests.NewMockTelemetryCache()
	publisher := tests.NewMockPublisher()

	svc := service.NewTelemetryService(
		store.Trips(),
		positions,
		cache,
		publisher,
		service.NewRoleAuthorizer(store.Requests()),
		opts,
		logging.Discard(),
	).WithClock(func() time.Time { return telemetryNow })

	return &telemetryFixture{store: store, positions: positions, cache: cache, publisher: publisher, svc: svc}
}

// report sends a valid position for the live trip recorded offset from now.
func (f *telemetryFixture) report(offset time.Duration) (*service.IngestResult, error) {
	return f.svc.Ingest(context.Background(), service.IngestRequest{
		TripID:     liveTripID,
		Caller:     tripDriver,
		Lat:        ptr(52.37),
		Lng:        ptr(4.89),
		RecordedAt: telemetryNow.Add(offset).Format(time.RFC3339Nano),
	})
}

var liveStream = domain.StreamKey{TripID: liveTripID, DriverID: 9}

// ──────────────────────────────────────────────
// INGESTION
// ──────────────────────────────────────────────

func TestIngest_AcceptsAndUpdatesCaches(t *testing.T) {
	t.Parallel()

	f := newTelemetryFixture(service.DefaultTelemetryOptions())

	res, err := f.report(-time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Accepted || res.Reason != service.ReasonAccepted {
		t.Fatalf("expected accepted, got %+v", res)
	}
	if res.Report == nil || res.Report.ID == 0 {
		t.Fatal("expected stored report with id")
	}
	if f.positions.Count() != 1 {
		t.Errorf("expected 1 stored point, got %d", f.positions.Count())
	}

	lastSeen := domain.CacheKey{Namespace: domain.CacheLastSeen, Stream: liveStream}
	if ttl := f.cache.TTL(lastSeen); ttl < 59*time.Minute || ttl > time.Hour {
		t.Errorf("expected last-seen TTL about 1h, got %v", ttl)
	}
	throttle := domain.CacheKey{Namespace: domain.CacheThrottle, Stream: liveStream}
	if ttl := f.cache.TTL(throttle); ttl < 7*time.Second || ttl > 8*time.Second {
		t.Errorf("expected throttle TTL about 8s, got %v", ttl)
	}

	if got := f.publisher.Published(); len(got) != 1 || got[0].TripID != liveTripID {
		t.Errorf("expected one published point, got %v", got)
	}
}

func TestIngest_OnlyTheTripDriver(t *testing.T) {
	t.Parallel()

	f := newTelemetryFixture(service.DefaultTelemetryOptions())

	_, err := f.svc.Ingest(context.Background(), service.IngestRequest{
		TripID: liveTripID,
		Caller: domain.Caller{UserID: 10, Role: domain.RoleDriver},
		Lat:    ptr(200.0), // authorization is checked before validation
	})
	if !errors.Is(err, service.ErrNotTripDriver) {
		t.Fatalf("expected ErrNotTripDriver, got %v", err)
	}
	if f.positions.Count() != 0 {
		t.Error("nothing may be stored")
	}
}

func TestIngest_TripMustBeInProgress(t *testing.T) {
	t.Parallel()

	for _, status := range []domain.TripStatus{domain.TripStatusScheduled, domain.TripStatusDispatched, domain.TripStatusCompleted} {
		f := newTelemetryFixture(service.DefaultTelemetryOptions())
		f.store.AddTrip(&domain.Trip{ID: liveTripID, VehicleID: 7, DriverID: 9, Status: status, DepartAt: at(10, 0)})

		if _, err := f.report(0); !errors.Is(err, service.ErrTripNotInProgress) {
			t.Errorf("%s: expected ErrTripNotInProgress, got %v", status, err)
		}
	}
}

func TestIngest_UnknownTrip(t *testing.T) {
	t.Parallel()

	f := newTelemetryFixture(service.DefaultTelemetryOptions())

	_, err := f.svc.Ingest(context.Background(), service.IngestRequest{TripID: 999, Caller: tripDriver})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIngest_CallerAndTripCheckedBeforeBody(t *testing.T) {
	t.Parallel()

	stranger := domain.Caller{UserID: 77, Role: domain.RoleStaff}

	tests := []struct {
		name   string
		status domain.TripStatus
		req    service.IngestRequest
		want   error
	}{
		{name: "stranger without coordinates", status: domain.TripStatusInProgress, req: service.IngestRequest{Caller: stranger}, want: service.ErrNotTripDriver},
		{name: "stranger with undecodable body", status: domain.TripStatusInProgress, req: service.IngestRequest{Caller: stranger, Malformed: true}, want: service.ErrNotTripDriver},
		{name: "driver of scheduled trip without lat", status: domain.TripStatusScheduled, req: service.IngestRequest{Caller: tripDriver, Lng: ptr(1.0)}, want: service.ErrTripNotInProgress},
		{name: "driver with undecodable body", status: domain.TripStatusInProgress, req: service.IngestRequest{Caller: tripDriver, Malformed: true}, want: service.ErrValidation},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newTelemetryFixture(service.DefaultTelemetryOptions())
			f.store.AddTrip(&domain.Trip{ID: liveTripID, VehicleID: 7, DriverID: 9, Status: tt.status, DepartAt: at(10, 0)})

			tt.req.TripID = liveTripID
			if _, err := f.svc.Ingest(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if f.positions.Count() != 0 {
				t.Error("nothing may be stored")
			}
		})
	}
}

func TestIngest_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		lat     float64
		lng     float64
		heading *float64
		speed   *float64
		missing string
		field   string
	}{
		{name: "lat missing", missing: "lat", field: "lat"},
		{name: "lng missing", missing: "lng", field: "lng"},
		{name: "lat too high", lat: 90.01, field: "lat"},
		{name: "lat too low", lat: -91, field: "lat"},
		{name: "lat NaN", lat: math.NaN(), field: "lat"},
		{name: "lng too high", lng: 180.5, field: "lng"},
		{name: "lng too low", lng: -181, field: "lng"},
		{name: "heading 360", heading: ptr(360.0), field: "heading"},
		{name: "heading negative", heading: ptr(-1.0), field: "heading"},
		{name: "speed too high", speed: ptr(300.1), field: "speed"},
		{name: "speed negative", speed: ptr(-0.5), field: "speed"},
		{name: "speed NaN", speed: ptr(math.NaN()), field: "speed"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newTelemetryFixture(service.DefaultTelemetryOptions())
			req := service.IngestRequest{
				TripID:  liveTripID,
				Caller:  tripDriver,
				Lat:     ptr(tt.lat),
				Lng:     ptr(tt.lng),
				Heading: tt.heading,
				Speed:   tt.speed,
			}
			switch tt.missing {
			case "lat":
				req.Lat = nil
			case "lng":
				req.Lng = nil
			}
			_, err := f.svc.Ingest(context.Background(), req)

			var verr *service.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, verr.Field)
			}
			if !errors.Is(err, service.ErrValidation) {
				t.Error("ValidationError must unwrap to ErrValidation")
			}
		})
	}
}

func TestIngest_BoundaryValuesAccepted(t *testing.T) {
	t.Parallel()

	f := newTelemetryFixture(service.DefaultTelemetryOptions())

	res, err := f.svc.Ingest(context.Background(), service.IngestRequest{
		TripID:  liveTripID,
		Caller:  tripDriver,
		Lat:     ptr(-90.0),
		Lng:     ptr(180.0),
		Heading: ptr(359.0),
		Speed:   ptr(300.0),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Accepted {
		t.Errorf("expected accepted, got %s", res.Reason)
	}
}

func TestIngest_RecordedAt(t *testing.T) {
	t.Parallel()

	t.Run("unparseable", func(t *testing.T) {
		t.Parallel()

		f := newTelemetryFixture(service.DefaultTelemetryOptions())
		_, err := f.svc.Ingest(context.Background(), service.IngestRequest{
			TripID: liveTripID, Caller: tripDriver, Lat: ptr(52.37), Lng: ptr(4.89), RecordedAt: "yesterday at noon",
		})
		if !errors.Is(err, service.ErrInvalidRecordedAt) {
			t.Fatalf("expected ErrInvalidRecordedAt, got %v", err)
		}
	})

	t.Run("empty means now", func(t *testing.T) {
		t.Parallel()

		f := newTelemetryFixture(service.DefaultTelemetryOptions())
		res, err := f.svc.Ingest(context.Background(), service.IngestRequest{TripID: liveTripID, Caller: tripDriver, Lat: ptr(52.37), Lng: ptr(4.89)})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Report.RecordedAt.Equal(telemetryNow) {
			t.Errorf("expected %v, got %v", telemetryNow, res.Report.RecordedAt)
		}
	})

	t.Run("offset converted to UTC", func(t *testing.T) {
		t.Parallel()

		f := newTelemetryFixture(service.DefaultTelemetryOptions())
		res, err := f.svc.Ingest(context.Background(), service.IngestRequest{
			TripID: liveTripID, Caller: tripDriver, Lat: ptr(52.37), Lng: ptr(4.89), RecordedAt: "2030-03-04T12:29:00+02:00",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := time.Date(2030, 3, 4, 10, 29, 0, 0, time.UTC)
		if !res.Report.RecordedAt.Equal(want) || res.Report.RecordedAt.Location() != time.UTC {
			t.Errorf("expected %v, got %v", want, res.Report.RecordedAt)
		}
	})

	t.Run("truncated to microseconds", func(t *testing.T) {
		t.Parallel()

		f := newTelemetryFixture(service.DefaultTelemetryOptions())
		res, err := f.svc.Ingest(context.Background(), service.IngestRequest{
			TripID: liveTripID, Caller: tripDriver, Lat: ptr(52.37), Lng: ptr(4.89), RecordedAt: "2030-03-04T10:29:00.123456789Z",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ns := res.Report.RecordedAt.Nanosecond(); ns != 123456000 {
			t.Errorf("expected 123456000ns, got %d", ns)
		}

		// The same instant at database precision is the same point.
		res, err = f.svc.Ingest(context.Background(), service.IngestRequest{
			TripID: liveTripID, Caller: tripDriver, Lat: ptr(52.37), Lng: ptr(4.89), RecordedAt: "2030-03-04T10:29:00.123456Z",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Reason != service.ReasonDuplicate {
			t.Errorf("expected duplicate, got %s", res.Reason)
		}
	})
}

func TestIngest_FutureSkew(t *testing.T) {
	t.Parallel()

	f := newTelemetryFixture(service.DefaultTelemetryOptions())

	res, err := f.report(2 * time.Minute)
	if err != nil || !res.Accepted {
		t.Fatalf("exactly at the skew limit must be accepted: %+v, %v", res, err)
	}

	_, err = f.report(2*time.Minute + time.Second)
	if !errors.Is(err, service.ErrFutureTimestamp) {
		t.Fatalf("expected ErrFutureTimestamp, got %v", err)
	}
}

func TestIngest_OutOfOrderAfterNewerPoint(t *testing.T) {
	t.Parallel()

	f := newTelemetryFixture(service.DefaultTelemetryOptions())

	if res, err := f.report(0); err != nil || !res.Accepted {
		t.Fatalf("first point: %+v, %v", res, err)
	}

	res, err := f.report(-time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Accepted || res.Reason != service.ReasonOutOfOrder {
		t.Errorf("expected out_of_order, got %+v", res)
	}
	if f.positions.Count() != 1 {
		t.Errorf("expected 1 stored point, got %d", f.positions.Count())
	}
}

func TestIngest_SameTimestampIsDuplicate(t *testing.T) {
	t.Parallel()

	f := newTelemetryFixture(service.DefaultTelemetryOptions())

	if _, err := f.report(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := f.report(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Reason != service.ReasonDuplicate {
		t.Errorf("expected duplicate, got %s", res.Reason)
	}
}

func TestIngest_ThrottleUntilMarkerExpires(t *testing.T) {
	t.Parallel()

	f := newTelemetryFixture(service.DefaultTelemetryOptions())

	if _, err := f.report(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := f.report(time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Reason != service.ReasonTooFrequent {
		t.Fatalf("expected too_frequent, got %s", res.Reason)
	}

	f.cache.Expire(domain.CacheThrottle)

	res, err = f.report(2 * time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Accepted {
		t.Errorf("expected accepted after throttle expiry, got %s", res.Reason)
	}
	if f.positions.Count() != 2 {
		t.Errorf("expected 2 stored points, got %d", f.positions.Count())
	}
}

func TestIngest_ExpiredLastSeenFallsBackToUniqueIndex(t *testing.T) {
	t.Parallel()

	f := newTelemetryFixture(service.DefaultTelemetryOptions())

	if _, err := f.report(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.cache.Expire(domain.CacheLastSeen)
	f.cache.Expire(domain.CacheThrottle)

	res, err := f.report(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Reason != service.ReasonDuplicate {
		t.Errorf("expected duplicate from the unique index, got %s", res.Reason)
	}
}

func TestIngest_ConcurrentDuplicatesStoreOnce(t *testing.T) {
	t.Parallel()

	f := newTelemetryFixture(service.DefaultTelemetryOptions())
	f.cache.GetError = errors.New("redis: connection refused")
	f.cache.SetError = errors.New("redis: connection refused")
	f.positions.SetInsertDelay(5 * time.Millisecond)

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	reasons := make(map[string]int)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.report(0)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			mu.Lock()
			reasons[res.Reason]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if reasons[service.ReasonAccepted] != 1 {
		t.Errorf("expected exactly 1 accepted, got %v", reasons)
	}
	if reasons[service.ReasonDuplicate] != workers-1 {
		t.Errorf("expected %d duplicates, got %v", workers-1, reasons)
	}
	if f.positions.Count() != 1 {
		t.Errorf("expected 1 stored point, got %d", f.positions.Count())
	}
}

func TestIngest_CacheFailuresDoNotBlockIngestion(t *testing.T) {
	t.Parallel()

	f := newTelemetryFixture(service.DefaultTelemetryOptions())
	f.cache.GetError = errors.New("redis: i/o timeout")

	res, err := f.report(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Accepted {
		t.Errorf("expected accepted, got %s", res.Reason)
	}
}

func TestIngest_InsertFailureLeavesCachesUntouched(t *testing.T) {
	t.Parallel()

	f := newTelemetryFixture(service.DefaultTelemetryOptions())
	f.positions.InsertError = errors.New("connection reset")

	if _, err := f.report(0); err == nil {
		t.Fatal("expected insert error")
	}

	lastSeen := domain.CacheKey{Namespace: domain.CacheLastSeen, Stream: liveStream}
	if f.cache.TTL(lastSeen) != 0 {
		t.Error("last-seen must not advance for a point that was not stored")
	}
	if len(f.publisher.Published()) != 0 {
		t.Error("nothing may be published")
	}
}

func TestIngest_PublishFailureStillAccepts(t *testing.T) {
	t.Parallel()

	f := newTelemetryFixture(service.DefaultTelemetryOptions())
	f.publisher.Err = errors.New("kafka: leader not available")

	res, err := f.report(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Accepted {
		t.Errorf("expected accepted, got %s", res.Reason)
	}
}

// ──────────────────────────────────────────────
// RECENT POINTS
// ──────────────────────────────────────────────

func TestRecentPoints(t *testing.T) {
	t.Parallel()

	opts := service.DefaultTelemetryOptions()
	opts.RecentLimit = 3
	opts.RecentLimitMax = 4
	f := newTelemetryFixture(opts)

	for i := 10; i >= 1; i-- {
		f.positions.AddPoint(liveTripID, 9, telemetryNow.Add(-time.Duration(i)*time.Minute))
	}
	f.positions.AddPoint(liveTripID+1, 9, telemetryNow)

	recent := func(caller domain.Caller, q service.RecentQuery) ([]*domain.PositionReport, error) {
		return f.svc.RecentPoints(context.Background(), caller, liveTripID, q)
	}

	t.Run("default limit, ascending", func(t *testing.T) {
		points, err := recent(manager, service.RecentQuery{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(points) != 3 {
			t.Fatalf("expected 3 points, got %d", len(points))
		}
		for i := 1; i < len(points); i++ {
			if !points[i-1].RecordedAt.Before(points[i].RecordedAt) {
				t.Errorf("points out of order at %d", i)
			}
		}
		if want := telemetryNow.Add(-time.Minute); !points[2].RecordedAt.Equal(want) {
			t.Errorf("expected newest %v, got %v", want, points[2].RecordedAt)
		}
	})

	t.Run("limit clamped to max", func(t *testing.T) {
		points, err := recent(tripDriver, service.RecentQuery{Limit: ptr(50)})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(points) != 4 {
			t.Errorf("expected 4 points, got %d", len(points))
		}
	})

	t.Run("since minutes", func(t *testing.T) {
		points, err := recent(domain.Caller{UserID: 501, Role: domain.RoleStaff}, service.RecentQuery{SinceMinutes: ptr(2), Limit: ptr(4)})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(points) != 2 {
			t.Errorf("expected 2 points, got %d", len(points))
		}
	})

	t.Run("non-positive limit", func(t *testing.T) {
		_, err := recent(manager, service.RecentQuery{Limit: ptr(0)})
		if !errors.Is(err, service.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("non-positive since", func(t *testing.T) {
		_, err := recent(manager, service.RecentQuery{SinceMinutes: ptr(-5)})
		if !errors.Is(err, service.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("stranger", func(t *testing.T) {
		_, err := recent(otherUser, service.RecentQuery{})
		if !errors.Is(err, service.ErrForbidden) {
			t.Errorf("expected ErrForbidden, got %v", err)
		}
	})
}
