package tracking

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

func TestApplyLocationUpdateCreatesRecord(t *testing.T) {
	store := NewStore(4)

	rec := store.ApplyLocationUpdate("D1", "transporter-1", t0)
	require.Equal(t, "D1", rec.DeliveryID)
	require.Equal(t, "transporter-1", rec.Owner)
	require.True(t, rec.Active)
	require.Equal(t, t0, rec.LastUpdate)
	require.Zero(t, rec.ResumeCount)
	require.Zero(t, rec.TotalDowntimeMinutes)
	require.Nil(t, rec.LastDisconnect)
}

func TestApplyLocationUpdateIgnoresNonOwner(t *testing.T) {
	store := NewStore(4)
	store.ApplyLocationUpdate("D1", "transporter-1", t0)
	require.True(t, store.MarkInactive("D1", t0.Add(time.Minute)))

	rec := store.ApplyLocationUpdate("D1", "observer-9", t0.Add(2*time.Minute))
	require.Equal(t, "transporter-1", rec.Owner)
	require.False(t, rec.Active)
	require.Equal(t, t0, rec.LastUpdate)

	stored, ok := store.Get("D1")
	require.True(t, ok)
	require.Equal(t, rec, stored)

	require.Zero(t, store.MarkAllInactiveForOwner("observer-9", t0.Add(3*time.Minute)))

	rec = store.ApplyLocationUpdate("D1", "transporter-1", t0.Add(4*time.Minute))
	require.True(t, rec.Active)
	require.Equal(t, t0.Add(4*time.Minute), rec.LastUpdate)
	require.Equal(t, 1, store.MarkAllInactiveForOwner("transporter-1", t0.Add(5*time.Minute)))
}

func TestDowntimeIsFlooredAndNeverNegative(t *testing.T) {
	require.Equal(t, int64(5), Downtime(t0, t0.Add(5*time.Minute)))
	require.Equal(t, int64(5), Downtime(t0, t0.Add(5*time.Minute+59*time.Second)))
	require.Equal(t, int64(0), Downtime(t0, t0.Add(59*time.Second)))
	require.Equal(t, int64(0), Downtime(t0, t0))
	require.Equal(t, int64(0), Downtime(t0, t0.Add(-10*time.Minute)))
}

func TestApplyResumeAccumulates(t *testing.T) {
	store := NewStore(4)
	store.ApplyLocationUpdate("D1", "transporter-1", t0)
	store.MarkAllInactiveForOwner("transporter-1", t0.Add(time.Minute))

	gaps := []time.Duration{5 * time.Minute, 90 * time.Second, -3 * time.Minute, 12 * time.Minute}
	var want int64
	last := t0
	for _, gap := range gaps {
		resumed := last.Add(gap)
		got := store.ApplyResume("D1", "transporter-1", last, resumed)
		require.GreaterOrEqual(t, got, int64(0))
		want += got
		last = resumed
	}

	rec, ok := store.Get("D1")
	require.True(t, ok)
	require.Equal(t, int64(len(gaps)), rec.ResumeCount)
	require.Equal(t, want, rec.TotalDowntimeMinutes)
	require.Equal(t, int64(5+1+0+12), rec.TotalDowntimeMinutes)
	require.True(t, rec.Active)
	require.Equal(t, last, rec.LastUpdate)
}

func TestApplyResumeCreatesMissingRecord(t *testing.T) {
	store := NewStore(4)

	got := store.ApplyResume("D9", "transporter-2", t0, t0.Add(7*time.Minute))
	require.Equal(t, int64(7), got)

	rec, ok := store.Get("D9")
	require.True(t, ok)
	require.Equal(t, "transporter-2", rec.Owner)
	require.Equal(t, int64(1), rec.ResumeCount)
}

func TestMarkInactiveLeavesAccumulators(t *testing.T) {
	store := NewStore(4)
	store.ApplyResume("D1", "transporter-1", t0, t0.Add(3*time.Minute))

	disconnectAt := t0.Add(4 * time.Minute)
	require.True(t, store.MarkInactive("D1", disconnectAt))
	require.False(t, store.MarkInactive("unknown", disconnectAt))

	rec, _ := store.Get("D1")
	require.False(t, rec.Active)
	require.NotNil(t, rec.LastDisconnect)
	require.Equal(t, disconnectAt, *rec.LastDisconnect)
	require.Equal(t, int64(1), rec.ResumeCount)
	require.Equal(t, int64(3), rec.TotalDowntimeMinutes)
	require.Equal(t, t0.Add(3*time.Minute), rec.LastUpdate)
}

func TestMarkAllInactiveForOwnerOnlyTouchesOwner(t *testing.T) {
	store := NewStore(8)
	for i := 0; i < 20; i++ {
		owner := "transporter-1"
		if i%2 == 1 {
			owner = "transporter-2"
		}
		store.ApplyLocationUpdate(fmt.Sprintf("D%d", i), owner, t0)
	}
	store.ApplyResume("D0", "transporter-1", t0, t0.Add(2*time.Minute))

	require.Equal(t, 10, store.MarkAllInactiveForOwner("transporter-1", t0.Add(time.Hour)))

	for i := 0; i < 20; i++ {
		rec, ok := store.Get(fmt.Sprintf("D%d", i))
		require.True(t, ok)
		require.Equal(t, i%2 == 1, rec.Active, "delivery D%d", i)
	}
	rec, _ := store.Get("D0")
	require.Equal(t, int64(1), rec.ResumeCount)
	require.Equal(t, int64(2), rec.TotalDowntimeMinutes)
}

func TestGetReturnsCopy(t *testing.T) {
	store := NewStore(1)
	store.ApplyLocationUpdate("D1", "transporter-1", t0)
	store.MarkInactive("D1", t0)

	rec, _ := store.Get("D1")
	*rec.LastDisconnect = t0.Add(time.Hour)
	rec.Active = true

	again, _ := store.Get("D1")
	require.False(t, again.Active)
	require.Equal(t, t0, *again.LastDisconnect)
}

func TestConcurrentUpdatesKeepMaximumTimestamp(t *testing.T) {
	store := NewStore(16)
	const deliveries = 16
	const samples = 200

	var wg sync.WaitGroup
	for d := 0; d < deliveries; d++ {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			id := fmt.Sprintf("D%d", d)
			for i := 1; i <= samples; i++ {
				store.ApplyLocationUpdate(id, "transporter-1", t0.Add(time.Duration(i)*time.Second))
			}
		}(d)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < samples; i++ {
			store.ApplyResume("shared", "transporter-2", t0, t0.Add(time.Minute))
		}
	}()
	wg.Wait()

	for d := 0; d < deliveries; d++ {
		rec, ok := store.Get(fmt.Sprintf("D%d", d))
		require.True(t, ok)
		require.Equal(t, t0.Add(samples*time.Second), rec.LastUpdate)
	}
	shared, _ := store.Get("shared")
	require.Equal(t, int64(samples), shared.ResumeCount)
	require.Equal(t, int64(samples), shared.TotalDowntimeMinutes)
	require.Equal(t, deliveries+1, store.Len())
}
