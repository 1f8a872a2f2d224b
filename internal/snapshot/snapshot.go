// Package snapshot persists the entity store between process runs.
//
// A Snapshot is the complete serialized state of the store: session, every
// collection with its last-updated timestamp, and the derived statistics.
// Backends implement Persister; Open picks one from Config.
package snapshot

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/tphakala/farmdash/internal/entities"
	"github.com/tphakala/farmdash/internal/errors"
)

// Version is bumped whenever the persisted layout changes incompatibly.
const Version = 1

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMySQL  = "mysql"
	BackendMemory = "memory"
)

// Snapshot is the persisted form of the entity store.
type Snapshot struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"savedAt"`

	Token             string           `json:"token,omitempty"`
	User              *entities.Farmer `json:"user,omitempty"`
	FarmerLastUpdated *time.Time       `json:"farmerLastUpdated,omitempty"`

	Crops            []entities.Crop `json:"crops"`
	CropsLastUpdated *time.Time      `json:"cropsLastUpdated,omitempty"`

	Diagnoses            []entities.Diagnosis `json:"diagnoses"`
	DiagnosesLastUpdated *time.Time           `json:"diagnosesLastUpdated,omitempty"`

	Treatments            []entities.Treatment `json:"treatments"`
	TreatmentsLastUpdated *time.Time           `json:"treatmentsLastUpdated,omitempty"`

	Steps            map[string][]entities.TreatmentStep `json:"steps,omitempty"`
	StepsLastUpdated map[string]time.Time                `json:"stepsLastUpdated,omitempty"`

	Notifications            []entities.Notification `json:"notifications"`
	NotificationsLastUpdated *time.Time              `json:"notificationsLastUpdated,omitempty"`

	Usage            *entities.UsageLimits `json:"usage,omitempty"`
	UsageLastUpdated *time.Time            `json:"usageLastUpdated,omitempty"`

	DiagnosisStats    entities.DiagnosisStats    `json:"diagnosisStats"`
	TreatmentStats    entities.TreatmentStats    `json:"treatmentStats"`
	NotificationStats entities.NotificationStats `json:"notificationStats"`
}

// Persister stores and retrieves the latest snapshot.
type Persister interface {
	// Load returns the stored snapshot, or nil and no error when none exists.
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	Clear(ctx context.Context) error
	Close() error
	// Name identifies the backend in logs and metrics.
	Name() string
}

// Config selects and configures a backend.
type Config struct {
	Backend string
	// Path is the JSON file for the file backend and the database file for sqlite.
	Path  string
	MySQL MySQLConfig
}

// MySQLConfig holds connection parameters for the mysql backend.
type MySQLConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// Open builds the Persister named by cfg.Backend.
func Open(cfg Config, logger *slog.Logger) (Persister, error) {
	switch cfg.Backend {
	case BackendFile, "":
		store, err := NewFileStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendSQLite:
		repo, err := OpenSQLite(cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case BackendMySQL:
		repo, err := OpenMySQL(cfg.MySQL, logger)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, errors.Newf("unknown snapshot backend %q", cfg.Backend).
			Component("snapshot").
			Category(errors.CategoryConfiguration).
			Context("backend", cfg.Backend).
			Build()
	}
}

func encode(snap *Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, errors.New(err).
			Component("snapshot").
			Category(errors.CategoryFileParsing).
			Context("operation", "encode").
			Build()
	}
	return data, nil
}

func decode(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.New(err).
			Component("snapshot").
			Category(errors.CategoryFileParsing).
			Context("operation", "decode").
			Build()
	}
	if snap.Version != Version {
		return nil, errors.Newf("unsupported snapshot version %d", snap.Version).
			Component("snapshot").
			Category(errors.CategoryValidation).
			Context("version", snap.Version).
			Context("supported", Version).
			Build()
	}
	return &snap, nil
}
