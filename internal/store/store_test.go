package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/farmdash/internal/entities"
	"github.com/tphakala/farmdash/internal/errors"
	"github.com/tphakala/farmdash/internal/snapshot"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 14, 15, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	s := New(append([]Option{WithClock(clock.Now)}, opts...)...)
	t.Cleanup(s.Close)
	return s, clock
}

func TestShouldFetchBoundary(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 14, 15, 0, 0, 0, time.UTC)
	policy := DefaultPolicy()

	for _, c := range []Collection{
		CollectionFarmer, CollectionCrops, CollectionDiagnoses,
		CollectionTreatments, CollectionNotifications, CollectionUsage,
	} {
		ttl := policy.TTLFor(c)
		t.Run(string(c), func(t *testing.T) {
			t.Parallel()

			older := now.Add(-ttl - time.Millisecond)
			newer := now.Add(-ttl + time.Millisecond)
			exact := now.Add(-ttl)

			assert.True(t, ShouldFetch(3, &older, ttl, now), "stamp older than ttl must refetch")
			assert.False(t, ShouldFetch(3, &newer, ttl, now), "stamp within ttl must not refetch")
			assert.False(t, ShouldFetch(3, &exact, ttl, now), "stamp exactly ttl old is still fresh")
			assert.True(t, ShouldFetch(0, &newer, ttl, now), "empty list always refetches")
			assert.True(t, ShouldFetch(3, nil, ttl, now), "missing stamp always refetches")
		})
	}
}

func TestDefaultPolicy(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	assert.Equal(t, 5*time.Minute, p.TTLFor(CollectionCrops))
	assert.Equal(t, 5*time.Minute, p.TTLFor(CollectionFarmer))
	assert.Equal(t, 5*time.Minute, p.TTLFor(CollectionDiagnoses))
	assert.Equal(t, 5*time.Minute, p.TTLFor(CollectionTreatments))
	assert.Equal(t, 2*time.Minute, p.TTLFor(CollectionNotifications))
	assert.Equal(t, 10*time.Minute, p.TTLFor(CollectionUsage))

	custom := Policy{TTL: map[Collection]time.Duration{CollectionCrops: time.Minute}}
	assert.Equal(t, time.Minute, custom.TTLFor(CollectionCrops))
	assert.Equal(t, 2*time.Minute, custom.TTLFor(CollectionNotifications), "missing entries fall back to defaults")
}

func TestEmptyStoreHasZeroedStats(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	assert.Equal(t, entities.DiagnosisStats{}, s.DiagnosisStats())
	assert.Equal(t, entities.TreatmentStats{}, s.TreatmentStats())

	ns := s.NotificationStats()
	assert.Zero(t, ns.Total)
	assert.NotNil(t, ns.ByType)
	assert.NotNil(t, ns.ByChannel)
}

func TestSetDiagnosesRecomputesStats(t *testing.T) {
	t.Parallel()

	s, clock := newTestStore(t)
	now := clock.Now()
	s.SetDiagnoses([]entities.Diagnosis{
		{ID: "d-1", DiseaseDetected: true, RequiresTreatment: true, CreatedAt: now.Add(-time.Hour)},
		{ID: "d-2", CreatedAt: now.AddDate(0, -2, 0)},
	})

	st := s.DiagnosisStats()
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.DiseaseDetected)
	assert.Equal(t, 1, st.HealthyCrops)
	assert.Equal(t, st.Total, st.DiseaseDetected+st.HealthyCrops)

	s.AddDiagnosis(entities.Diagnosis{ID: "d-3", DiseaseDetected: true, CreatedAt: now})
	st = s.DiagnosisStats()
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.DiseaseDetected)
	assert.Equal(t, entities.ID("d-3"), s.Diagnoses()[0].ID, "add prepends")
}

func TestCropMutations(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	s.SetCrops([]entities.Crop{{ID: "c-1", CropName: "Papa"}})
	s.AddCrop(entities.Crop{ID: "c-2", CropName: "Maíz"})

	crops := s.Crops()
	require.Len(t, crops, 2)
	assert.Equal(t, entities.ID("c-2"), crops[0].ID)

	require.NoError(t, s.UpdateCrop(entities.Crop{ID: "c-1", CropName: "Papa nativa"}))
	assert.Equal(t, "Papa nativa", s.Crops()[1].CropName)

	err := s.UpdateCrop(entities.Crop{ID: "missing"})
	require.ErrorIs(t, err, ErrNotFound)
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, s.RemoveCrop("c-2"))
	assert.Len(t, s.Crops(), 1)
	require.ErrorIs(t, s.RemoveCrop("c-2"), ErrNotFound)
}

func TestAccessorsReturnCopies(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	s.SetCrops([]entities.Crop{{ID: "c-1", CropName: "Papa"}})

	crops := s.Crops()
	crops[0].CropName = "mutated"
	assert.Equal(t, "Papa", s.Crops()[0].CropName)

	s.SetNotifications([]entities.Notification{{ID: "n-1", NotificationType: "alert"}})
	ns := s.NotificationStats()
	ns.ByType["ALERT"] = 99
	assert.Equal(t, 1, s.NotificationStats().ByType["ALERT"])
}

func TestTreatmentProgressIsRecomputed(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	s.SetTreatments([]entities.Treatment{
		{ID: "t-1", Status: entities.StatusInProgress, ActivitiesCount: 4, CompletedActivitiesCount: 3, ProgressPercentage: 10},
	})

	tr, ok := s.Treatment("t-1")
	require.True(t, ok)
	assert.Equal(t, 75, tr.ProgressPercentage)
	assert.Equal(t, 75, s.TreatmentStats().AverageProgress)
}

func TestUpdateStepDerivesTreatmentFromSteps(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	s.SetTreatments([]entities.Treatment{
		{ID: "t-1", Status: entities.StatusPending, ActivitiesCount: 9, CompletedActivitiesCount: 9},
	})
	s.SetSteps("t-1", []entities.TreatmentStep{
		{ID: "s-1", TreatmentID: "t-1", Status: entities.StatusPending},
		{ID: "s-2", TreatmentID: "t-1", Status: entities.StatusPending},
	})

	tr, _ := s.Treatment("t-1")
	assert.Equal(t, 2, tr.ActivitiesCount, "steps override stale counters")
	assert.Equal(t, 0, tr.CompletedActivitiesCount)
	assert.Equal(t, 0, tr.ProgressPercentage)

	require.NoError(t, s.UpdateStep(entities.TreatmentStep{ID: "s-1", TreatmentID: "t-1", Status: entities.StatusCompleted}))
	tr, _ = s.Treatment("t-1")
	assert.Equal(t, 1, tr.CompletedActivitiesCount)
	assert.Equal(t, 1, tr.PendingActivitiesCount)
	assert.Equal(t, 50, tr.ProgressPercentage)
	assert.Equal(t, entities.StatusInProgress, tr.Status)
	assert.Equal(t, 1, s.TreatmentStats().InProgress)

	require.NoError(t, s.UpdateStep(entities.TreatmentStep{ID: "s-2", TreatmentID: "t-1", Status: entities.StatusCompleted}))
	tr, _ = s.Treatment("t-1")
	assert.Equal(t, 100, tr.ProgressPercentage)
	assert.Equal(t, entities.StatusCompleted, tr.Status)
	assert.Equal(t, 1, s.TreatmentStats().Completed)

	require.ErrorIs(t, s.UpdateStep(entities.TreatmentStep{ID: "s-9", TreatmentID: "t-1"}), ErrNotFound)
	require.ErrorIs(t, s.UpdateStep(entities.TreatmentStep{ID: "s-1", TreatmentID: "t-9"}), ErrNotFound)
}

func TestMarkNotificationReadDecrementsUnreadByOne(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	s.SetNotifications([]entities.Notification{
		{ID: "n-1", NotificationStatus: entities.NotificationUnread},
		{ID: "n-2", NotificationStatus: entities.NotificationUnread},
		{ID: "n-3", NotificationStatus: entities.NotificationRead},
	})
	before := s.NotificationStats()
	require.Equal(t, 2, before.Unread)

	require.NoError(t, s.MarkNotificationRead("n-1"))
	after := s.NotificationStats()
	assert.Equal(t, before.Unread-1, after.Unread)
	assert.Equal(t, before.Total, after.Total)

	require.ErrorIs(t, s.MarkNotificationRead("missing"), ErrNotFound)

	assert.Equal(t, 1, s.MarkAllNotificationsRead())
	assert.Zero(t, s.NotificationStats().Unread)
}

func TestCollectionLifecycle(t *testing.T) {
	t.Parallel()

	s, clock := newTestStore(t)
	assert.Equal(t, StatusEmpty, s.State(CollectionCrops).Status)
	assert.True(t, s.ShouldFetch(CollectionCrops))

	ticket := s.BeginFetch(CollectionCrops)
	assert.Equal(t, StatusLoading, s.State(CollectionCrops).Status)

	require.NoError(t, s.CommitCrops(ticket, []entities.Crop{{ID: "c-1"}}))
	st := s.State(CollectionCrops)
	assert.Equal(t, StatusReady, st.Status)
	assert.Equal(t, 1, st.Count)
	require.NotNil(t, st.LastUpdated)
	assert.False(t, s.ShouldFetch(CollectionCrops))

	clock.Advance(DefaultProfileTTL + time.Millisecond)
	assert.Equal(t, StatusStale, s.State(CollectionCrops).Status)
	assert.True(t, s.ShouldFetch(CollectionCrops))

	ticket = s.BeginFetch(CollectionCrops)
	require.NoError(t, s.Fail(ticket, fmt.Errorf("HTTP 502")))
	st = s.State(CollectionCrops)
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, "HTTP 502", st.Error)
	assert.Len(t, s.Crops(), 1, "failed fetch keeps cached data")

	ticket = s.BeginFetch(CollectionCrops)
	require.NoError(t, s.CommitCrops(ticket, []entities.Crop{{ID: "c-1"}, {ID: "c-2"}}))
	st = s.State(CollectionCrops)
	assert.Equal(t, StatusReady, st.Status)
	assert.Empty(t, st.Error)
}

func TestOutOfOrderResponsesAreDiscarded(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	first := s.BeginFetch(CollectionDiagnoses)
	second := s.BeginFetch(CollectionDiagnoses)

	require.NoError(t, s.CommitDiagnoses(second, []entities.Diagnosis{{ID: "new"}}))
	err := s.CommitDiagnoses(first, []entities.Diagnosis{{ID: "old"}})
	require.ErrorIs(t, err, ErrStaleResponse)

	list := s.Diagnoses()
	require.Len(t, list, 1)
	assert.Equal(t, entities.ID("new"), list[0].ID)
	assert.False(t, s.State(CollectionDiagnoses).Loading)

	require.ErrorIs(t, s.Fail(first, fmt.Errorf("late")), ErrStaleResponse)
	assert.Empty(t, s.State(CollectionDiagnoses).Error)
}

func TestOlderResponseCommitsWhileNewerInFlight(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	first := s.BeginFetch(CollectionCrops)
	second := s.BeginFetch(CollectionCrops)

	require.NoError(t, s.CommitCrops(first, []entities.Crop{{ID: "a"}}))
	assert.True(t, s.State(CollectionCrops).Loading, "second fetch still pending")

	require.NoError(t, s.CommitCrops(second, []entities.Crop{{ID: "b"}}))
	assert.Equal(t, entities.ID("b"), s.Crops()[0].ID)
}

func TestStepsTicketsAreIndependentPerTreatment(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	a := s.BeginStepsFetch("t-1")
	b := s.BeginStepsFetch("t-2")
	assert.Equal(t, uint64(1), a.Seq)
	assert.Equal(t, uint64(1), b.Seq)

	require.NoError(t, s.CommitSteps(b, []entities.TreatmentStep{{ID: "s-1", TreatmentID: "t-2"}}))
	require.NoError(t, s.CommitSteps(a, nil))

	steps, ok := s.Steps("t-2")
	require.True(t, ok)
	assert.Len(t, steps, 1)
	assert.Equal(t, StatusReady, s.StepsState("t-2").Status)
	assert.True(t, s.ShouldFetchSteps("t-1"), "empty step list is always refetched")
}

func TestClearAllResetsEverything(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	s.SetToken("tok")
	s.SetFarmer(&entities.Farmer{ID: "f-1"})
	s.SetCrops([]entities.Crop{{ID: "c-1"}})
	s.SetDiagnoses([]entities.Diagnosis{{ID: "d-1", DiseaseDetected: true}})
	s.SetNotifications([]entities.Notification{{ID: "n-1"}})
	inFlight := s.BeginFetch(CollectionCrops)

	s.ClearAll()

	assert.Empty(t, s.Token())
	assert.Nil(t, s.Farmer())
	assert.Empty(t, s.Crops())
	assert.Equal(t, entities.DiagnosisStats{}, s.DiagnosisStats())
	assert.Zero(t, s.NotificationStats().Total)
	for _, st := range s.States() {
		assert.Equal(t, StatusEmpty, st.Status, st.Collection)
		assert.Nil(t, st.LastUpdated)
	}

	require.ErrorIs(t, s.CommitCrops(inFlight, []entities.Crop{{ID: "leak"}}), ErrStaleResponse)
	assert.Empty(t, s.Crops())
}

func TestGetReturnsDataAndState(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	s.SetTreatments([]entities.Treatment{{ID: "t-1"}})

	data, st := s.Get(CollectionTreatments)
	list, ok := data.([]entities.Treatment)
	require.True(t, ok)
	assert.Len(t, list, 1)
	assert.Equal(t, StatusReady, st.Status)

	data, st = s.Get(CollectionUsage)
	assert.Nil(t, data)
	assert.Equal(t, StatusEmpty, st.Status)
}

func TestSubscribeReceivesChanges(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ch, unsubscribe := s.Subscribe()

	s.AddCrop(entities.Crop{ID: "c-1"})
	change := <-ch
	assert.Equal(t, CollectionCrops, change.Collection)
	assert.Equal(t, OpAdd, change.Op)
	assert.Equal(t, "c-1", change.ID)

	unsubscribe()
	_, open := <-ch
	assert.False(t, open, "unsubscribe closes the channel")

	s.AddCrop(entities.Crop{ID: "c-2"})
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	_, unsubscribe := s.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := range DefaultChannelBufferSize * 2 {
			s.AddNotification(entities.Notification{ID: entities.ID(fmt.Sprintf("n-%d", i))})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("mutations blocked on a full subscriber")
	}
	assert.Equal(t, DefaultChannelBufferSize*2, s.NotificationStats().Total)
}

func TestConcurrentMutationsKeepStatsConsistent(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Go(func() {
			s.AddDiagnosis(entities.Diagnosis{ID: entities.ID(fmt.Sprintf("d-%d", i)), DiseaseDetected: i%2 == 0})
		})
		wg.Go(func() {
			st := s.DiagnosisStats()
			assert.Equal(t, st.Total, st.DiseaseDetected+st.HealthyCrops)
		})
	}
	wg.Wait()

	assert.Equal(t, 50, s.DiagnosisStats().Total)
	assert.Equal(t, 25, s.DiagnosisStats().DiseaseDetected)
}

func TestPersistRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := snapshot.NewMemoryStore()
	s, clock := newTestStore(t, WithPersister(mem))

	s.SetToken("tok")
	s.SetFarmer(&entities.Farmer{ID: "f-1", Email: "ana@example.com"})
	s.SetCrops([]entities.Crop{{ID: "c-1", CropName: "Papa"}})
	s.SetDiagnoses([]entities.Diagnosis{{ID: "d-1", DiseaseDetected: true, CreatedAt: clock.Now()}})
	s.SetTreatments([]entities.Treatment{{ID: "t-1", Status: entities.StatusPending, ActivitiesCount: 4, CompletedActivitiesCount: 3}})
	s.SetSteps("t-1", []entities.TreatmentStep{
		{ID: "s-1", TreatmentID: "t-1", Status: entities.StatusCompleted},
		{ID: "s-2", TreatmentID: "t-1", Status: entities.StatusPending},
	})
	s.SetNotifications([]entities.Notification{{ID: "n-1", NotificationType: "alert", NotificationChannel: "email"}})
	s.SetUsage(&entities.UsageLimits{PlanID: "free", DiagnosesUsed: 3, DiagnosesLimit: 10})
	require.NoError(t, s.Flush(ctx))

	restored, _ := newTestStore(t, WithPersister(mem))
	found, err := restored.Restore(ctx)
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, s.Token(), restored.Token())
	assert.Equal(t, s.Farmer(), restored.Farmer())
	assert.Equal(t, s.Crops(), restored.Crops())
	assert.Equal(t, s.Diagnoses(), restored.Diagnoses())
	assert.Equal(t, s.Treatments(), restored.Treatments())
	assert.Equal(t, s.Notifications(), restored.Notifications())
	assert.Equal(t, s.Usage(), restored.Usage())
	assert.Equal(t, s.DiagnosisStats(), restored.DiagnosisStats())
	assert.Equal(t, s.TreatmentStats(), restored.TreatmentStats())
	assert.Equal(t, s.NotificationStats(), restored.NotificationStats())

	origSteps, _ := s.Steps("t-1")
	gotSteps, ok := restored.Steps("t-1")
	require.True(t, ok)
	assert.Equal(t, origSteps, gotSteps)

	assert.Equal(t, s.State(CollectionCrops).LastUpdated, restored.State(CollectionCrops).LastUpdated)
	assert.False(t, restored.ShouldFetch(CollectionCrops))
}

func TestRestoreRecomputesDriftedStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := snapshot.NewMemoryStore()
	require.NoError(t, mem.Save(ctx, &snapshot.Snapshot{
		Version: snapshot.Version,
		Treatments: []entities.Treatment{
			{ID: "t-1", ActivitiesCount: 4, CompletedActivitiesCount: 3, ProgressPercentage: 12},
		},
		TreatmentStats: entities.TreatmentStats{Total: 40, AverageProgress: 99},
	}))

	s, _ := newTestStore(t, WithPersister(mem))
	found, err := s.Restore(ctx)
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, 75, s.Treatments()[0].ProgressPercentage)
	assert.Equal(t, entities.TreatmentStats{Total: 1, AverageProgress: 75}, s.TreatmentStats())
}

func TestRestoreWithoutSnapshot(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t, WithPersister(snapshot.NewMemoryStore()))
	found, err := s.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCloseSavesPendingChanges(t *testing.T) {
	t.Parallel()

	mem := snapshot.NewMemoryStore()
	s := New(WithPersister(mem))
	s.SetCrops([]entities.Crop{{ID: "c-1"}})
	s.Close()

	snap, err := mem.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Len(t, snap.Crops, 1)

	require.ErrorIs(t, s.Flush(context.Background()), ErrClosed)
}

func TestPurgeRemovesSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := snapshot.NewMemoryStore()
	s, _ := newTestStore(t, WithPersister(mem))
	s.SetToken("tok")
	require.NoError(t, s.Flush(ctx))

	require.NoError(t, s.Purge(ctx))
	snap, err := mem.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)
	assert.Empty(t, s.Token())
}
