package store

import (
	"time"
)

// Collection names one cached entity list.
type Collection string

const (
	CollectionFarmer        Collection = "farmer"
	CollectionCrops         Collection = "crops"
	CollectionDiagnoses     Collection = "diagnoses"
	CollectionTreatments    Collection = "treatments"
	CollectionSteps         Collection = "steps"
	CollectionNotifications Collection = "notifications"
	CollectionUsage         Collection = "usage"
)

// Collections lists every top-level collection in a stable order.
var Collections = []Collection{
	CollectionFarmer,
	CollectionCrops,
	CollectionDiagnoses,
	CollectionTreatments,
	CollectionNotifications,
	CollectionUsage,
}

// Status is the lifecycle position of a collection:
// EMPTY → LOADING → READY → STALE → LOADING → READY, and LOADING → ERROR on failure.
type Status string

const (
	StatusEmpty   Status = "EMPTY"
	StatusLoading Status = "LOADING"
	StatusReady   Status = "READY"
	StatusStale   Status = "STALE"
	StatusError   Status = "ERROR"
)

// CollectionState describes the freshness of one collection.
type CollectionState struct {
	Collection  Collection `json:"collection"`
	Key         string     `json:"key,omitempty"`
	Status      Status     `json:"status"`
	Count       int        `json:"count"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
	Loading     bool       `json:"loading"`
	Error       string     `json:"error,omitempty"`
}

// Default staleness windows.
const (
	DefaultProfileTTL      = 5 * time.Minute
	DefaultDiagnosesTTL    = 5 * time.Minute
	DefaultTreatmentsTTL   = 5 * time.Minute
	DefaultNotificationTTL = 2 * time.Minute
	DefaultStatisticsTTL   = 10 * time.Minute
)

// Policy maps collections to their staleness window.
type Policy struct {
	TTL map[Collection]time.Duration
}

// DefaultPolicy returns the stock TTLs. Crops share the farmer profile window.
func DefaultPolicy() Policy {
	return Policy{TTL: map[Collection]time.Duration{
		CollectionFarmer:        DefaultProfileTTL,
		CollectionCrops:         DefaultProfileTTL,
		CollectionDiagnoses:     DefaultDiagnosesTTL,
		CollectionTreatments:    DefaultTreatmentsTTL,
		CollectionSteps:         DefaultTreatmentsTTL,
		CollectionNotifications: DefaultNotificationTTL,
		CollectionUsage:         DefaultStatisticsTTL,
	}}
}

// TTLFor returns the window for c, falling back to the default policy.
func (p Policy) TTLFor(c Collection) time.Duration {
	if ttl, ok := p.TTL[c]; ok && ttl > 0 {
		return ttl
	}
	return DefaultPolicy().TTL[c]
}

// ShouldFetch reports whether a collection must be re-requested: it is empty,
// was never stamped, or its stamp is strictly older than ttl.
func ShouldFetch(count int, lastUpdated *time.Time, ttl time.Duration, now time.Time) bool {
	return count == 0 || lastUpdated == nil || now.Sub(*lastUpdated) > ttl
}

// fetchMeta is the per-key bookkeeping behind CollectionState.
type fetchMeta struct {
	lastUpdated *time.Time
	err         string
	issued      uint64
	settled     uint64
}

func (m *fetchMeta) loading() bool {
	return m.issued > m.settled
}

func stepsKey(treatmentID string) string {
	return string(CollectionSteps) + "/" + treatmentID
}
