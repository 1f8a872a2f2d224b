package store

import (
	"context"
	"slices"
	"time"

	"github.com/tphakala/farmdash/internal/entities"
	"github.com/tphakala/farmdash/internal/observability/metrics"
	"github.com/tphakala/farmdash/internal/snapshot"
)

// saveTimeout bounds a background snapshot save.
const saveTimeout = 10 * time.Second

type flushRequest struct {
	ctx   context.Context
	reply chan error
}

// schedulePersist marks the store dirty and wakes the writer. Multiple changes
// between two saves collapse into one save of the latest state.
func (s *Store) schedulePersist() {
	if s.persister == nil {
		return
	}
	s.changes.Add(1)
	select {
	case s.persistCh <- struct{}{}:
	default:
	}
}

func (s *Store) writer() {
	var saved uint64
	save := func(ctx context.Context) error {
		seq := s.changes.Load()
		if seq == saved {
			return nil
		}
		snap := s.Snapshot()

		start := time.Now()
		err := s.persister.Save(ctx, snap)
		if s.metrics != nil {
			status := metrics.StatusSuccess
			if err != nil {
				status = metrics.StatusError
			}
			s.metrics.RecordSnapshotSave(status, time.Since(start).Seconds())
		}
		if err != nil {
			s.logger.Warn("failed to save snapshot",
				"backend", s.persister.Name(),
				"error", err)
			return err
		}
		saved = seq
		return nil
	}

	for {
		select {
		case <-s.persistCh:
			ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
			_ = save(ctx)
			cancel()
		case req := <-s.flushCh:
			req.reply <- save(req.ctx)
		case <-s.done:
			ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
			_ = save(ctx)
			cancel()
			return
		}
	}
}

// Flush waits until every change made before the call has been saved.
// It returns nil when no Persister is configured.
func (s *Store) Flush(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	req := flushRequest{ctx: ctx, reply: make(chan error, 1)}
	select {
	case s.flushCh <- req:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close saves pending changes, stops the writer and closes subscriber
// channels. The Persister itself is not closed.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		if s.persister != nil {
			close(s.done)
			s.wg.Wait()
		}
		s.closeSubscribers()
	})
}

// Purge clears the store and removes the persisted snapshot (logout).
func (s *Store) Purge(ctx context.Context) error {
	s.ClearAll()
	if s.persister == nil {
		return nil
	}
	if err := s.Flush(ctx); err != nil {
		return err
	}
	return s.persister.Clear(ctx)
}

// Snapshot returns the persisted form of the current state.
func (s *Store) Snapshot() *snapshot.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &snapshot.Snapshot{
		Version:           snapshot.Version,
		SavedAt:           s.now(),
		Token:             s.token,
		User:              cloneFarmer(s.farmer),
		Crops:             slices.Clone(s.crops),
		Diagnoses:         slices.Clone(s.diagnoses),
		Treatments:        slices.Clone(s.treatments),
		Notifications:     slices.Clone(s.notifications),
		DiagnosisStats:    s.diagnosisStats,
		TreatmentStats:    s.treatmentStats,
		NotificationStats: cloneNotificationStats(s.notificationStats),

		FarmerLastUpdated:        s.stampLocked(string(CollectionFarmer)),
		CropsLastUpdated:         s.stampLocked(string(CollectionCrops)),
		DiagnosesLastUpdated:     s.stampLocked(string(CollectionDiagnoses)),
		TreatmentsLastUpdated:    s.stampLocked(string(CollectionTreatments)),
		NotificationsLastUpdated: s.stampLocked(string(CollectionNotifications)),
		UsageLastUpdated:         s.stampLocked(string(CollectionUsage)),
	}
	if s.usage != nil {
		u := *s.usage
		snap.Usage = &u
	}
	if len(s.steps) > 0 {
		snap.Steps = make(map[string][]entities.TreatmentStep, len(s.steps))
		snap.StepsLastUpdated = make(map[string]time.Time, len(s.steps))
		for id, list := range s.steps {
			snap.Steps[id] = slices.Clone(list)
			if stamp := s.stampLocked(stepsKey(id)); stamp != nil {
				snap.StepsLastUpdated[id] = *stamp
			}
		}
	}
	return snap
}

func (s *Store) stampLocked(key string) *time.Time {
	m, ok := s.meta[key]
	if !ok || m.lastUpdated == nil {
		return nil
	}
	stamp := *m.lastUpdated
	return &stamp
}

// Restore loads the persisted snapshot into the store. Statistics and
// treatment counters are recomputed rather than trusted. It reports whether a
// snapshot was found.
func (s *Store) Restore(ctx context.Context) (bool, error) {
	if s.persister == nil {
		return false, nil
	}
	snap, err := s.persister.Load(ctx)
	if err != nil {
		return false, err
	}
	if snap == nil {
		return false, nil
	}
	s.Apply(snap)
	return true, nil
}

// Apply replaces the whole store state with snap and recomputes statistics.
// Fetches in flight are treated as stale when they complete.
func (s *Store) Apply(snap *snapshot.Snapshot) {
	s.mu.Lock()
	now := s.now()

	s.token = snap.Token
	s.farmer = cloneFarmer(snap.User)
	s.crops = slices.Clone(snap.Crops)
	s.diagnoses = slices.Clone(snap.Diagnoses)
	s.treatments = slices.Clone(snap.Treatments)
	s.notifications = slices.Clone(snap.Notifications)
	s.usage = nil
	if snap.Usage != nil {
		u := *snap.Usage
		s.usage = &u
	}
	s.steps = make(map[string][]entities.TreatmentStep, len(snap.Steps))
	for id, list := range snap.Steps {
		s.steps[id] = slices.Clone(list)
	}

	for _, m := range s.meta {
		m.lastUpdated = nil
		m.err = ""
		m.settled = m.issued
	}
	stamps := map[string]*time.Time{
		string(CollectionFarmer):        snap.FarmerLastUpdated,
		string(CollectionCrops):         snap.CropsLastUpdated,
		string(CollectionDiagnoses):     snap.DiagnosesLastUpdated,
		string(CollectionTreatments):    snap.TreatmentsLastUpdated,
		string(CollectionNotifications): snap.NotificationsLastUpdated,
		string(CollectionUsage):         snap.UsageLastUpdated,
	}
	for id, stamp := range snap.StepsLastUpdated {
		stamps[stepsKey(id)] = &stamp
	}
	for key, stamp := range stamps {
		if stamp != nil {
			s.touchLocked(key, *stamp)
		}
	}

	s.recomputeAllLocked(now)
	s.mu.Unlock()

	for _, c := range Collections {
		s.publish(Change{Collection: c, Op: OpRestore, At: now})
	}
}
