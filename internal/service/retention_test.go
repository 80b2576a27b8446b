package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"logistics/internal/domain"
	"logistics/internal/logging"
	"logistics/internal/service"
	"logistics/internal/tests"
)

var retentionNow = time.Date(2030, 1, 20, 12, 0, 0, 0, time.UTC)

func daysAgo(days int) time.Time {
	return retentionNow.Add(-time.Duration(days) * 24 * time.Hour)
}

type retentionFixture struct {
	positions *tests.MockPositionRepository
	locks     *tests.MockLockStore
	svc       *service.RetentionService
}

func newRetentionFixture(opts service.RetentionOptions) *retentionFixture {
	positions := tests.NewMockPositionRepository()
	locks := tests.NewMockLockStore()
	svc := service.NewRetentionService(
		positions,
		locks,
		service.NewRoleAuthorizer(tests.NewMockStore().Requests()),
		nil,
		opts,
		logging.Discard(),
	).WithClock(func() time.Time { return retentionNow })
	return &retentionFixture{positions: positions, locks: locks, svc: svc}
}

func TestSelectRedundant(t *testing.T) {
	t.Parallel()

	ts := func(sec int64) *time.Time {
		v := time.Unix(sec, 0).UTC()
		return &v
	}

	tests := []struct {
		name        string
		points      []domain.PointRef
		want        []int64
		wantSkipped int
	}{
		{
			name: "empty",
		},
		{
			name:   "one per bucket keeps all",
			points: []domain.PointRef{{ID: 1, RecordedAt: ts(0)}, {ID: 2, RecordedAt: ts(300)}, {ID: 3, RecordedAt: ts(600)}},
		},
		{
			name:   "lowest id wins regardless of time",
			points: []domain.PointRef{{ID: 4, RecordedAt: ts(10)}, {ID: 2, RecordedAt: ts(250)}, {ID: 3, RecordedAt: ts(0)}},
			want:   []int64{4, 3},
		},
		{
			name:   "bucket edge belongs to next bucket",
			points: []domain.PointRef{{ID: 1, RecordedAt: ts(299)}, {ID: 2, RecordedAt: ts(300)}, {ID: 3, RecordedAt: ts(301)}},
			want:   []int64{3},
		},
		{
			name:   "before the epoch floors downward",
			points: []domain.PointRef{{ID: 1, RecordedAt: ts(-1)}, {ID: 2, RecordedAt: ts(-300)}, {ID: 3, RecordedAt: ts(0)}},
			want:   []int64{2},
		},
		{
			name:        "untimed points skipped",
			points:      []domain.PointRef{{ID: 1}, {ID: 2, RecordedAt: ts(5)}, {ID: 3, RecordedAt: ts(6)}},
			want:        []int64{3},
			wantSkipped: 1,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, skipped := service.SelectRedundant(tt.points, 5*time.Minute)
			if skipped != tt.wantSkipped {
				t.Errorf("expected %d skipped, got %d", tt.wantSkipped, skipped)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("expected %v, got %v", tt.want, got)
					break
				}
			}
		})
	}
}

func TestPruneOnce_KeepsLowestIDPerBucket(t *testing.T) {
	t.Parallel()

	f := newRetentionFixture(service.DefaultRetentionOptions())
	bucket := daysAgo(10)

	// The earliest timestamp is not the lowest id.
	keeper := f.positions.AddPoint(5, 9, bucket.Add(2*time.Minute))
	others := []int64{
		f.positions.AddPoint(5, 9, bucket),
		f.positions.AddPoint(5, 9, bucket.Add(30*time.Second)),
		f.positions.AddPoint(5, 9, bucket.Add(4*time.Minute+59*time.Second)),
	}
	nextBucket := f.positions.AddPoint(5, 9, bucket.Add(5*time.Minute))

	res, err := f.svc.PruneOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Downsampled != 3 || res.Streams != 1 {
		t.Errorf("expected 3 downsampled over 1 stream, got %+v", res)
	}

	if !f.positions.Has(keeper) || !f.positions.Has(nextBucket) {
		t.Error("bucket keepers must survive")
	}
	for _, id := range others {
		if f.positions.Has(id) {
			t.Errorf("point %d should have been downsampled", id)
		}
	}

	again, err := f.svc.PruneOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.Downsampled != 0 || again.Purged != 0 {
		t.Errorf("second run must change nothing, got %+v", again)
	}
	if f.positions.Count() != 2 {
		t.Errorf("expected 2 points left, got %d", f.positions.Count())
	}
}

func TestPruneOnce_Bands(t *testing.T) {
	t.Parallel()

	f := newRetentionFixture(service.DefaultRetentionOptions())
	freshCutoff := retentionNow.Add(-72 * time.Hour)
	purgeCutoff := daysAgo(30)

	// Fresh band: dense points stay untouched, including the cutoff itself.
	fresh := []int64{
		f.positions.AddPoint(5, 9, freshCutoff),
		f.positions.AddPoint(5, 9, freshCutoff.Add(time.Second)),
		f.positions.AddPoint(5, 9, retentionNow.Add(-time.Minute)),
	}
	// Middle band: the purge cutoff belongs here.
	middleKeeper := f.positions.AddPoint(5, 9, purgeCutoff)
	middleDropped := f.positions.AddPoint(5, 9, purgeCutoff.Add(time.Second))
	// Old band.
	old := []int64{
		f.positions.AddPoint(5, 9, purgeCutoff.Add(-time.Second)),
		f.positions.AddPoint(6, 9, daysAgo(90)),
	}

	res, err := f.svc.PruneOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Downsampled != 1 || res.Purged != 2 {
		t.Errorf("expected 1 downsampled and 2 purged, got %+v", res)
	}

	for _, id := range fresh {
		if !f.positions.Has(id) {
			t.Errorf("fresh point %d must be untouched", id)
		}
	}
	if !f.positions.Has(middleKeeper) || f.positions.Has(middleDropped) {
		t.Error("middle band must keep only the bucket keeper")
	}
	for _, id := range old {
		if f.positions.Has(id) {
			t.Errorf("old point %d must be purged", id)
		}
	}
}

func TestPruneOnce_StreamsAreIndependent(t *testing.T) {
	t.Parallel()

	f := newRetentionFixture(service.DefaultRetentionOptions())
	bucket := daysAgo(10)

	a1 := f.positions.AddPoint(5, 9, bucket)
	a2 := f.positions.AddPoint(5, 9, bucket.Add(time.Minute))
	b1 := f.positions.AddPoint(5, 10, bucket.Add(time.Minute))
	c1 := f.positions.AddPoint(6, 9, bucket.Add(time.Minute))

	res, err := f.svc.PruneOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Streams != 3 || res.Downsampled != 1 {
		t.Errorf("expected 3 streams and 1 downsampled, got %+v", res)
	}
	if !f.positions.Has(a1) || f.positions.Has(a2) || !f.positions.Has(b1) || !f.positions.Has(c1) {
		t.Error("each stream keeps its own bucket keeper")
	}
}

func TestPruneOnce_StreamFailureDoesNotStopRun(t *testing.T) {
	t.Parallel()

	f := newRetentionFixture(service.DefaultRetentionOptions())
	f.positions.FailDeleteForTrip = 5
	bucket := daysAgo(10)

	f.positions.AddPoint(5, 9, bucket)
	f.positions.AddPoint(5, 9, bucket.Add(time.Minute))
	f.positions.AddPoint(6, 9, bucket)
	dropped := f.positions.AddPoint(6, 9, bucket.Add(time.Minute))
	f.positions.AddPoint(7, 9, daysAgo(45))

	res, err := f.svc.PruneOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Failed != 1 {
		t.Errorf("expected 1 failed stream, got %d", res.Failed)
	}
	if res.Downsampled != 1 || res.Purged != 1 {
		t.Errorf("expected the healthy stream and purge to proceed, got %+v", res)
	}
	if f.positions.Has(dropped) {
		t.Error("healthy stream must be downsampled")
	}
}

func TestPruneOnce_UntimedPointsAreLeftAlone(t *testing.T) {
	t.Parallel()

	f := newRetentionFixture(service.DefaultRetentionOptions())
	bucket := daysAgo(10)

	f.positions.AddPoint(5, 9, bucket)
	f.positions.AddPoint(5, 9, bucket.Add(time.Minute))
	untimed := f.positions.AddUntimedPoint(5, 9)

	res, err := f.svc.PruneOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Skipped != 1 {
		t.Errorf("expected 1 skipped, got %d", res.Skipped)
	}
	if !f.positions.Has(untimed) {
		t.Error("untimed point must not be deleted")
	}
}

func TestPruneOnce_PurgesInBatches(t *testing.T) {
	t.Parallel()

	opts := service.DefaultRetentionOptions()
	opts.BatchSize = 2
	f := newRetentionFixture(opts)

	for i := 0; i < 5; i++ {
		f.positions.AddPoint(int64(10+i), 9, daysAgo(40))
	}

	res, err := f.svc.PruneOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Purged != 5 {
		t.Errorf("expected 5 purged, got %d", res.Purged)
	}
	if f.positions.Count() != 0 {
		t.Errorf("expected empty store, got %d", f.positions.Count())
	}
}

func TestPruneOnce_DownsamplesInBatches(t *testing.T) {
	t.Parallel()

	opts := service.DefaultRetentionOptions()
	opts.BatchSize = 2
	f := newRetentionFixture(opts)
	bucket := daysAgo(10)

	for i := 0; i < 6; i++ {
		f.positions.AddPoint(5, 9, bucket.Add(time.Duration(i)*time.Second))
	}

	res, err := f.svc.PruneOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Downsampled != 5 {
		t.Errorf("expected 5 downsampled, got %d", res.Downsampled)
	}
	if calls := f.positions.DeleteCallCount; calls != 3 {
		t.Errorf("expected 3 delete batches, got %d", calls)
	}
}

func TestPruneOnce_StopsWhenCancelled(t *testing.T) {
	t.Parallel()

	f := newRetentionFixture(service.DefaultRetentionOptions())
	f.positions.AddPoint(5, 9, daysAgo(10))
	f.positions.AddPoint(5, 9, daysAgo(10).Add(time.Second))
	f.positions.AddPoint(6, 9, daysAgo(60))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.PruneOnce(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if f.positions.Count() != 3 {
		t.Errorf("cancelled run must not delete, %d points left", f.positions.Count())
	}
}

func TestPrune_RequiresManager(t *testing.T) {
	t.Parallel()

	f := newRetentionFixture(service.DefaultRetentionOptions())
	f.positions.AddPoint(5, 9, daysAgo(60))

	if _, err := f.svc.Prune(context.Background(), tripDriver); !errors.Is(err, service.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if f.positions.Count() != 1 {
		t.Error("forbidden prune must not delete")
	}

	res, err := f.svc.Prune(context.Background(), manager)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Purged != 1 {
		t.Errorf("expected 1 purged, got %d", res.Purged)
	}
}

func TestRunLeased(t *testing.T) {
	t.Parallel()

	t.Run("runs and releases the lease", func(t *testing.T) {
		t.Parallel()

		f := newRetentionFixture(service.DefaultRetentionOptions())
		f.positions.AddPoint(5, 9, daysAgo(60))

		if !f.svc.RunLeased(context.Background()) {
			t.Fatal("expected run")
		}
		if f.positions.Count() != 0 {
			t.Error("expected purge")
		}
		if f.locks.IsHeld("retention:prune") {
			t.Error("lease must be released")
		}
	})

	t.Run("skips when held elsewhere", func(t *testing.T) {
		t.Parallel()

		f := newRetentionFixture(service.DefaultRetentionOptions())
		f.positions.AddPoint(5, 9, daysAgo(60))
		if _, err := f.locks.Acquire(context.Background(), "retention:prune", time.Hour); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if f.svc.RunLeased(context.Background()) {
			t.Fatal("expected skip")
		}
		if f.positions.Count() != 1 {
			t.Error("nothing may be deleted without the lease")
		}
	})

	t.Run("skips when the lock store is down", func(t *testing.T) {
		t.Parallel()

		f := newRetentionFixture(service.DefaultRetentionOptions())
		f.locks.AcquireError = errors.New("redis: connection refused")

		if f.svc.RunLeased(context.Background()) {
			t.Fatal("expected skip")
		}
	})
}

func TestRunScheduler_PrunesAtStartup(t *testing.T) {
	t.Parallel()

	opts := service.DefaultRetentionOptions()
	opts.Interval = time.Hour
	f := newRetentionFixture(opts)
	f.positions.AddPoint(5, 9, daysAgo(60))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.svc.RunScheduler(ctx)

	deadline := time.After(2 * time.Second)
	for f.positions.Count() != 0 {
		select {
		case <-deadline:
			t.Fatal("expected a prune before the first tick")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRunScheduler_StopsOnCancel(t *testing.T) {
	t.Parallel()

	opts := service.DefaultRetentionOptions()
	opts.Interval = 10 * time.Millisecond
	f := newRetentionFixture(opts)
	f.positions.AddPoint(5, 9, daysAgo(60))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.RunScheduler(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for f.positions.Count() != 0 {
		select {
		case <-deadline:
			cancel()
			t.Fatal("scheduler never pruned")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
