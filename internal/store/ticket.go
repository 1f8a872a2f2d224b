package store

import (
	"slices"
	"time"

	"github.com/tphakala/farmdash/internal/entities"
	"github.com/tphakala/farmdash/internal/errors"
)

// Ticket identifies one fetch. Sequence numbers increase per collection (per
// treatment for steps); a response is only committed when its ticket is newer
// than every ticket already committed or failed for the same key.
type Ticket struct {
	Collection Collection
	Key        string
	Seq        uint64
}

func (t Ticket) metaKey() string {
	if t.Collection == CollectionSteps {
		return stepsKey(t.Key)
	}
	return string(t.Collection)
}

// BeginFetch issues a ticket for a top-level collection and marks it LOADING.
func (s *Store) BeginFetch(c Collection) Ticket {
	return s.begin(Ticket{Collection: c})
}

// BeginStepsFetch issues a ticket for one treatment's steps.
func (s *Store) BeginStepsFetch(treatmentID string) Ticket {
	return s.begin(Ticket{Collection: CollectionSteps, Key: treatmentID})
}

func (s *Store) begin(t Ticket) Ticket {
	s.mu.Lock()
	m := s.metaLocked(t.metaKey())
	m.issued++
	t.Seq = m.issued
	now := s.now()
	s.mu.Unlock()

	s.publish(Change{Collection: t.Collection, Op: OpLoading, ID: t.Key, At: now})
	return t
}

// commit applies fn if t is still current. Data already present is left
// untouched when the response is stale.
func (s *Store) commit(t Ticket, fn func(now time.Time)) error {
	err := s.mutate(t.Collection, OpSet, t.Key, func(now time.Time) error {
		m := s.metaLocked(t.metaKey())
		if t.Seq <= m.settled {
			return ErrStaleResponse
		}
		m.settled = t.Seq
		m.err = ""
		fn(now)
		return nil
	})
	if errors.Is(err, ErrStaleResponse) {
		if s.metrics != nil {
			s.metrics.RecordStaleDiscard(string(t.Collection))
		}
		s.logger.Debug("discarding stale fetch response",
			"collection", t.Collection,
			"key", t.Key,
			"seq", t.Seq)
	}
	return err
}

// Fail records a failed fetch. Cached data is retained and the collection
// reports ERROR until the next successful commit.
func (s *Store) Fail(t Ticket, cause error) error {
	s.mu.Lock()
	m := s.metaLocked(t.metaKey())
	if t.Seq <= m.settled {
		s.mu.Unlock()
		return ErrStaleResponse
	}
	m.settled = t.Seq
	if cause != nil {
		m.err = cause.Error()
	}
	now := s.now()
	s.mu.Unlock()

	s.publish(Change{Collection: t.Collection, Op: OpError, ID: t.Key, At: now})
	return nil
}

// CommitFarmer stores a fetched farmer profile.
func (s *Store) CommitFarmer(t Ticket, f *entities.Farmer) error {
	return s.commit(t, func(now time.Time) { s.setFarmerLocked(f, now) })
}

// CommitCrops stores a fetched crop list.
func (s *Store) CommitCrops(t Ticket, list []entities.Crop) error {
	return s.commit(t, func(now time.Time) { s.setCropsLocked(list, now) })
}

// CommitDiagnoses stores a fetched diagnosis log.
func (s *Store) CommitDiagnoses(t Ticket, list []entities.Diagnosis) error {
	return s.commit(t, func(now time.Time) { s.setDiagnosesLocked(list, now) })
}

// CommitTreatments stores a fetched treatment list.
func (s *Store) CommitTreatments(t Ticket, list []entities.Treatment) error {
	return s.commit(t, func(now time.Time) { s.setTreatmentsLocked(list, now) })
}

// CommitSteps stores the fetched steps of the ticket's treatment.
func (s *Store) CommitSteps(t Ticket, list []entities.TreatmentStep) error {
	return s.commit(t, func(now time.Time) { s.setStepsLocked(t.Key, list, now) })
}

// CommitNotifications stores a fetched notification list.
func (s *Store) CommitNotifications(t Ticket, list []entities.Notification) error {
	return s.commit(t, func(now time.Time) { s.setNotificationsLocked(list, now) })
}

// CommitUsage stores fetched usage figures.
func (s *Store) CommitUsage(t Ticket, u *entities.UsageLimits) error {
	return s.commit(t, func(now time.Time) { s.setUsageLocked(u, now) })
}

func (s *Store) setFarmerLocked(f *entities.Farmer, now time.Time) {
	s.farmer = cloneFarmer(f)
	s.touchLocked(string(CollectionFarmer), now)
}

func (s *Store) setCropsLocked(list []entities.Crop, now time.Time) {
	s.crops = slices.Clone(list)
	s.touchLocked(string(CollectionCrops), now)
}

func (s *Store) setDiagnosesLocked(list []entities.Diagnosis, now time.Time) {
	s.diagnoses = slices.Clone(list)
	s.touchLocked(string(CollectionDiagnoses), now)
	s.recomputeDiagnosesLocked(now)
}

func (s *Store) setTreatmentsLocked(list []entities.Treatment, now time.Time) {
	s.treatments = slices.Clone(list)
	s.touchLocked(string(CollectionTreatments), now)
	s.recomputeTreatmentsLocked(now)
}

func (s *Store) setStepsLocked(treatmentID string, list []entities.TreatmentStep, now time.Time) {
	s.steps[treatmentID] = slices.Clone(list)
	s.touchLocked(stepsKey(treatmentID), now)
	s.recomputeTreatmentsLocked(now)
}

func (s *Store) setNotificationsLocked(list []entities.Notification, now time.Time) {
	s.notifications = slices.Clone(list)
	s.touchLocked(string(CollectionNotifications), now)
	s.recomputeNotificationsLocked()
}

func (s *Store) setUsageLocked(u *entities.UsageLimits, now time.Time) {
	if u == nil {
		s.usage = nil
	} else {
		c := *u
		s.usage = &c
	}
	s.touchLocked(string(CollectionUsage), now)
}
