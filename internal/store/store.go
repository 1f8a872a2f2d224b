// Package store implements the entity cache shared by fetchers, the API and the CLI.
//
// A Store holds the latest known copy of every collection together with its
// last-updated stamp and fetch bookkeeping. Every mutation recomputes the
// derived statistics while holding the write lock, so readers never observe a
// list whose statistics lag behind it. Changes are broadcast to subscribers
// and, when a Persister is configured, saved asynchronously.
package store

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/farmdash/internal/entities"
	"github.com/tphakala/farmdash/internal/logging"
	"github.com/tphakala/farmdash/internal/observability/metrics"
	"github.com/tphakala/farmdash/internal/snapshot"
	"github.com/tphakala/farmdash/internal/stats"
)

// Store is the entity cache. Create one with New; the zero value is not usable.
type Store struct {
	mu      sync.RWMutex
	now     func() time.Time
	policy  Policy
	logger  *slog.Logger
	metrics *metrics.StoreMetrics

	token         string
	farmer        *entities.Farmer
	crops         []entities.Crop
	diagnoses     []entities.Diagnosis
	treatments    []entities.Treatment
	steps         map[string][]entities.TreatmentStep
	notifications []entities.Notification
	usage         *entities.UsageLimits

	diagnosisStats    entities.DiagnosisStats
	treatmentStats    entities.TreatmentStats
	notificationStats entities.NotificationStats

	meta map[string]*fetchMeta

	subscribersMu sync.Mutex
	subscribers   []*subscriber
	closed        bool

	persister snapshot.Persister
	persistCh chan struct{}
	flushCh   chan flushRequest
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	changes   atomic.Uint64
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithPolicy sets the staleness windows.
func WithPolicy(p Policy) Option {
	return func(s *Store) { s.policy = p }
}

// WithPersister enables asynchronous snapshot persistence.
func WithPersister(p snapshot.Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.StoreMetrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates a Store. If a Persister is configured a background writer is
// started; call Close to stop it.
func New(opts ...Option) *Store {
	s := &Store{
		now:    time.Now,
		policy: DefaultPolicy(),
		steps:  make(map[string][]entities.TreatmentStep),
		meta:   make(map[string]*fetchMeta),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.ForService("store")
	}

	s.recomputeAllLocked(s.now())

	if s.persister != nil {
		s.persistCh = make(chan struct{}, 1)
		s.flushCh = make(chan flushRequest)
		s.done = make(chan struct{})
		s.wg.Go(s.writer)
	}
	return s
}

// Policy returns the staleness policy in effect.
func (s *Store) Policy() Policy {
	return s.policy
}

// mutate runs fn under the write lock and, if it succeeds, records metrics,
// notifies subscribers and schedules a snapshot save.
func (s *Store) mutate(c Collection, op Op, id string, fn func(now time.Time) error) error {
	s.mu.Lock()
	now := s.now()
	if err := fn(now); err != nil {
		s.mu.Unlock()
		return err
	}
	size := s.sizeLocked(c)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordMutation(string(c), string(op), size)
	}
	s.publish(Change{Collection: c, Op: op, ID: id, At: now})
	s.schedulePersist()
	return nil
}

func (s *Store) metaLocked(key string) *fetchMeta {
	m, ok := s.meta[key]
	if !ok {
		m = &fetchMeta{}
		s.meta[key] = m
	}
	return m
}

func (s *Store) touchLocked(key string, now time.Time) {
	stamp := now
	s.metaLocked(key).lastUpdated = &stamp
}

func (s *Store) sizeLocked(c Collection) int {
	switch c {
	case CollectionFarmer:
		if s.farmer != nil {
			return 1
		}
	case CollectionCrops:
		return len(s.crops)
	case CollectionDiagnoses:
		return len(s.diagnoses)
	case CollectionTreatments:
		return len(s.treatments)
	case CollectionSteps:
		total := 0
		for _, list := range s.steps {
			total += len(list)
		}
		return total
	case CollectionNotifications:
		return len(s.notifications)
	case CollectionUsage:
		if s.usage != nil {
			return 1
		}
	}
	return 0
}

func (s *Store) countLocked(c Collection, key string) int {
	if c == CollectionSteps {
		return len(s.steps[key])
	}
	return s.sizeLocked(c)
}

func (s *Store) recomputeDiagnosesLocked(now time.Time) {
	s.diagnosisStats = stats.Diagnoses(s.diagnoses, now)
}

// recomputeTreatmentsLocked re-derives every treatment's counters and progress
// from its steps (when known) and then the aggregate statistics.
func (s *Store) recomputeTreatmentsLocked(now time.Time) {
	for i := range s.treatments {
		s.treatments[i] = stats.RecomputeTreatment(s.treatments[i], s.steps[string(s.treatments[i].ID)])
	}
	s.treatmentStats = stats.Treatments(s.treatments, now)
}

func (s *Store) recomputeNotificationsLocked() {
	s.notificationStats = stats.Notifications(s.notifications)
}

func (s *Store) recomputeAllLocked(now time.Time) {
	s.recomputeDiagnosesLocked(now)
	s.recomputeTreatmentsLocked(now)
	s.recomputeNotificationsLocked()
}

// Session

// SetToken stores the bearer token of the current session.
func (s *Store) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	s.schedulePersist()
}

// Token returns the bearer token of the current session, or "".
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Farmer

// SetFarmer replaces the farmer profile.
func (s *Store) SetFarmer(f *entities.Farmer) {
	_ = s.mutate(CollectionFarmer, OpSet, "", func(now time.Time) error {
		s.setFarmerLocked(f, now)
		return nil
	})
}

// Farmer returns a copy of the farmer profile, or nil.
func (s *Store) Farmer() *entities.Farmer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneFarmer(s.farmer)
}

func cloneFarmer(f *entities.Farmer) *entities.Farmer {
	if f == nil {
		return nil
	}
	c := *f
	c.Roles = slices.Clone(f.Roles)
	return &c
}

// Crops

// SetCrops replaces the crop list.
func (s *Store) SetCrops(list []entities.Crop) {
	_ = s.mutate(CollectionCrops, OpSet, "", func(now time.Time) error {
		s.setCropsLocked(list, now)
		return nil
	})
}

// AddCrop prepends a crop.
func (s *Store) AddCrop(c entities.Crop) {
	_ = s.mutate(CollectionCrops, OpAdd, string(c.ID), func(now time.Time) error {
		s.crops = slices.Insert(slices.Clone(s.crops), 0, c)
		s.touchLocked(string(CollectionCrops), now)
		return nil
	})
}

// UpdateCrop replaces the crop with the same id.
func (s *Store) UpdateCrop(c entities.Crop) error {
	return s.mutate(CollectionCrops, OpUpdate, string(c.ID), func(now time.Time) error {
		i := slices.IndexFunc(s.crops, func(x entities.Crop) bool { return x.ID == c.ID })
		if i < 0 {
			return ErrNotFound
		}
		s.crops[i] = c
		s.touchLocked(string(CollectionCrops), now)
		return nil
	})
}

// RemoveCrop deletes the crop with the given id.
func (s *Store) RemoveCrop(id string) error {
	return s.mutate(CollectionCrops, OpRemove, id, func(now time.Time) error {
		i := slices.IndexFunc(s.crops, func(x entities.Crop) bool { return string(x.ID) == id })
		if i < 0 {
			return ErrNotFound
		}
		s.crops = slices.Delete(slices.Clone(s.crops), i, i+1)
		s.touchLocked(string(CollectionCrops), now)
		return nil
	})
}

// Crops returns a copy of the crop list.
func (s *Store) Crops() []entities.Crop {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.crops)
}

// Diagnoses

// SetDiagnoses replaces the diagnosis log and recomputes DiagnosisStats.
func (s *Store) SetDiagnoses(list []entities.Diagnosis) {
	_ = s.mutate(CollectionDiagnoses, OpSet, "", func(now time.Time) error {
		s.setDiagnosesLocked(list, now)
		return nil
	})
}

// AddDiagnosis prepends a diagnosis and recomputes DiagnosisStats.
func (s *Store) AddDiagnosis(d entities.Diagnosis) {
	_ = s.mutate(CollectionDiagnoses, OpAdd, string(d.ID), func(now time.Time) error {
		s.diagnoses = slices.Insert(slices.Clone(s.diagnoses), 0, d)
		s.touchLocked(string(CollectionDiagnoses), now)
		s.recomputeDiagnosesLocked(now)
		return nil
	})
}

// UpdateDiagnosis replaces the diagnosis with the same id.
func (s *Store) UpdateDiagnosis(d entities.Diagnosis) error {
	return s.mutate(CollectionDiagnoses, OpUpdate, string(d.ID), func(now time.Time) error {
		i := slices.IndexFunc(s.diagnoses, func(x entities.Diagnosis) bool { return x.ID == d.ID })
		if i < 0 {
			return ErrNotFound
		}
		s.diagnoses[i] = d
		s.touchLocked(string(CollectionDiagnoses), now)
		s.recomputeDiagnosesLocked(now)
		return nil
	})
}

// Diagnoses returns a copy of the diagnosis log.
func (s *Store) Diagnoses() []entities.Diagnosis {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.diagnoses)
}

// Diagnosis returns the diagnosis with the given id.
func (s *Store) Diagnosis(id string) (entities.Diagnosis, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := slices.IndexFunc(s.diagnoses, func(x entities.Diagnosis) bool { return string(x.ID) == id })
	if i < 0 {
		return entities.Diagnosis{}, false
	}
	return s.diagnoses[i], true
}

// DiagnosisStats returns the statistics computed at the last diagnosis mutation.
func (s *Store) DiagnosisStats() entities.DiagnosisStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.diagnosisStats
}

// Treatments

// SetTreatments replaces the treatment list and recomputes TreatmentStats.
func (s *Store) SetTreatments(list []entities.Treatment) {
	_ = s.mutate(CollectionTreatments, OpSet, "", func(now time.Time) error {
		s.setTreatmentsLocked(list, now)
		return nil
	})
}

// AddTreatment prepends a treatment and recomputes TreatmentStats.
func (s *Store) AddTreatment(t entities.Treatment) {
	_ = s.mutate(CollectionTreatments, OpAdd, string(t.ID), func(now time.Time) error {
		s.treatments = slices.Insert(slices.Clone(s.treatments), 0, t)
		s.touchLocked(string(CollectionTreatments), now)
		s.recomputeTreatmentsLocked(now)
		return nil
	})
}

// UpdateTreatment replaces the treatment with the same id.
func (s *Store) UpdateTreatment(t entities.Treatment) error {
	return s.mutate(CollectionTreatments, OpUpdate, string(t.ID), func(now time.Time) error {
		i := slices.IndexFunc(s.treatments, func(x entities.Treatment) bool { return x.ID == t.ID })
		if i < 0 {
			return ErrNotFound
		}
		s.treatments[i] = t
		s.touchLocked(string(CollectionTreatments), now)
		s.recomputeTreatmentsLocked(now)
		return nil
	})
}

// Treatments returns a copy of the treatment list.
func (s *Store) Treatments() []entities.Treatment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.treatments)
}

// Treatment returns the treatment with the given id.
func (s *Store) Treatment(id string) (entities.Treatment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := slices.IndexFunc(s.treatments, func(x entities.Treatment) bool { return string(x.ID) == id })
	if i < 0 {
		return entities.Treatment{}, false
	}
	return s.treatments[i], true
}

// TreatmentStats returns the statistics computed at the last treatment mutation.
func (s *Store) TreatmentStats() entities.TreatmentStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.treatmentStats
}

// Steps

// SetSteps replaces the steps of one treatment. The treatment's counters are
// re-derived from the new list.
func (s *Store) SetSteps(treatmentID string, list []entities.TreatmentStep) {
	_ = s.mutate(CollectionSteps, OpSet, treatmentID, func(now time.Time) error {
		s.setStepsLocked(treatmentID, list, now)
		return nil
	})
}

// UpdateStep replaces one step of an already-loaded treatment and re-derives
// the treatment's counters, status and progress.
func (s *Store) UpdateStep(step entities.TreatmentStep) error {
	return s.mutate(CollectionSteps, OpUpdate, string(step.ID), func(now time.Time) error {
		list, ok := s.steps[string(step.TreatmentID)]
		if !ok {
			return ErrNotFound
		}
		i := slices.IndexFunc(list, func(x entities.TreatmentStep) bool { return x.ID == step.ID })
		if i < 0 {
			return ErrNotFound
		}
		list = slices.Clone(list)
		list[i] = step
		s.steps[string(step.TreatmentID)] = list
		s.touchLocked(stepsKey(string(step.TreatmentID)), now)
		s.recomputeTreatmentsLocked(now)
		return nil
	})
}

// Steps returns a copy of the steps of a treatment and whether they are loaded.
func (s *Store) Steps(treatmentID string) ([]entities.TreatmentStep, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list, ok := s.steps[treatmentID]
	return slices.Clone(list), ok
}

// Notifications

// SetNotifications replaces the notification list.
func (s *Store) SetNotifications(list []entities.Notification) {
	_ = s.mutate(CollectionNotifications, OpSet, "", func(now time.Time) error {
		s.setNotificationsLocked(list, now)
		return nil
	})
}

// AddNotification prepends a notification.
func (s *Store) AddNotification(n entities.Notification) {
	_ = s.mutate(CollectionNotifications, OpAdd, string(n.ID), func(now time.Time) error {
		s.notifications = slices.Insert(slices.Clone(s.notifications), 0, n)
		s.touchLocked(string(CollectionNotifications), now)
		s.recomputeNotificationsLocked()
		return nil
	})
}

// MarkNotificationRead sets one notification to READ. The list stamp is left
// alone: this is a local transition, not fresh server data.
func (s *Store) MarkNotificationRead(id string) error {
	return s.mutate(CollectionNotifications, OpMarkRead, id, func(time.Time) error {
		i := slices.IndexFunc(s.notifications, func(x entities.Notification) bool { return string(x.ID) == id })
		if i < 0 {
			return ErrNotFound
		}
		list := slices.Clone(s.notifications)
		list[i].NotificationStatus = entities.NotificationRead
		s.notifications = list
		s.recomputeNotificationsLocked()
		return nil
	})
}

// MarkAllNotificationsRead sets every notification to READ and returns how many changed.
func (s *Store) MarkAllNotificationsRead() int {
	changed := 0
	_ = s.mutate(CollectionNotifications, OpMarkRead, "", func(time.Time) error {
		list := slices.Clone(s.notifications)
		for i := range list {
			if !list[i].IsRead() {
				list[i].NotificationStatus = entities.NotificationRead
				changed++
			}
		}
		s.notifications = list
		s.recomputeNotificationsLocked()
		return nil
	})
	return changed
}

// Notifications returns a copy of the notification list.
func (s *Store) Notifications() []entities.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.notifications)
}

// NotificationStats returns a copy of the notification statistics.
func (s *Store) NotificationStats() entities.NotificationStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneNotificationStats(s.notificationStats)
}

func cloneNotificationStats(ns entities.NotificationStats) entities.NotificationStats {
	out := ns
	out.ByType = make(map[string]int, len(ns.ByType))
	for k, v := range ns.ByType {
		out.ByType[k] = v
	}
	out.ByChannel = make(map[string]int, len(ns.ByChannel))
	for k, v := range ns.ByChannel {
		out.ByChannel[k] = v
	}
	return out
}

// Usage

// SetUsage replaces the subscription usage figures.
func (s *Store) SetUsage(u *entities.UsageLimits) {
	_ = s.mutate(CollectionUsage, OpSet, "", func(now time.Time) error {
		s.setUsageLocked(u, now)
		return nil
	})
}

// Usage returns a copy of the usage figures, or nil.
func (s *Store) Usage() *entities.UsageLimits {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.usage == nil {
		return nil
	}
	c := *s.usage
	return &c
}

// ClearAll empties every collection, drops every stamp and the session token,
// and zeroes the statistics. Fetches in flight at the time of the call are
// treated as stale when they complete.
func (s *Store) ClearAll() {
	_ = s.mutate(CollectionFarmer, OpClear, "", func(now time.Time) error {
		s.token = ""
		s.farmer = nil
		s.crops = nil
		s.diagnoses = nil
		s.treatments = nil
		s.steps = make(map[string][]entities.TreatmentStep)
		s.notifications = nil
		s.usage = nil
		for _, m := range s.meta {
			m.lastUpdated = nil
			m.err = ""
			m.settled = m.issued
		}
		s.recomputeAllLocked(now)
		return nil
	})
	s.logger.Debug("store cleared")
}

// State

// State returns the freshness of a top-level collection.
func (s *Store) State(c Collection) CollectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked(c, "")
}

// StepsState returns the freshness of one treatment's steps.
func (s *Store) StepsState(treatmentID string) CollectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked(CollectionSteps, treatmentID)
}

// States returns the freshness of every top-level collection.
func (s *Store) States() []CollectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CollectionState, 0, len(Collections))
	for _, c := range Collections {
		out = append(out, s.stateLocked(c, ""))
	}
	return out
}

func (s *Store) stateLocked(c Collection, treatmentID string) CollectionState {
	key := string(c)
	if c == CollectionSteps {
		key = stepsKey(treatmentID)
	}
	st := CollectionState{
		Collection: c,
		Key:        treatmentID,
		Count:      s.countLocked(c, treatmentID),
	}
	m, ok := s.meta[key]
	if ok {
		if m.lastUpdated != nil {
			stamp := *m.lastUpdated
			st.LastUpdated = &stamp
		}
		st.Loading = m.loading()
		st.Error = m.err
	}

	switch {
	case st.Loading:
		st.Status = StatusLoading
	case st.Error != "":
		st.Status = StatusError
	case st.Count == 0 && st.LastUpdated == nil:
		st.Status = StatusEmpty
	case ShouldFetch(st.Count, st.LastUpdated, s.policy.TTLFor(c), s.now()):
		st.Status = StatusStale
	default:
		st.Status = StatusReady
	}
	return st
}

// ShouldFetch applies the staleness policy to a top-level collection.
func (s *Store) ShouldFetch(c Collection) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shouldFetchLocked(c, "")
}

// ShouldFetchSteps applies the staleness policy to one treatment's steps.
func (s *Store) ShouldFetchSteps(treatmentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shouldFetchLocked(CollectionSteps, treatmentID)
}

func (s *Store) shouldFetchLocked(c Collection, treatmentID string) bool {
	key := string(c)
	if c == CollectionSteps {
		key = stepsKey(treatmentID)
	}
	var lastUpdated *time.Time
	if m, ok := s.meta[key]; ok {
		lastUpdated = m.lastUpdated
	}
	return ShouldFetch(s.countLocked(c, treatmentID), lastUpdated, s.policy.TTLFor(c), s.now())
}

// Get returns a copy of a top-level collection's data together with its state.
// The data is a *entities.Farmer, []entities.Crop, []entities.Diagnosis,
// []entities.Treatment, []entities.Notification or *entities.UsageLimits.
func (s *Store) Get(c Collection) (any, CollectionState) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data any
	switch c {
	case CollectionFarmer:
		data = cloneFarmer(s.farmer)
	case CollectionCrops:
		data = slices.Clone(s.crops)
	case CollectionDiagnoses:
		data = slices.Clone(s.diagnoses)
	case CollectionTreatments:
		data = slices.Clone(s.treatments)
	case CollectionNotifications:
		data = slices.Clone(s.notifications)
	case CollectionUsage:
		if s.usage != nil {
			u := *s.usage
			data = &u
		}
	}
	return data, s.stateLocked(c, "")
}
