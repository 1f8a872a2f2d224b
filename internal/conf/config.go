// Package conf loads farmdash settings from YAML, FARMDASH_* environment
// variables and built-in defaults.
package conf

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/farmdash/internal/backend"
	"github.com/tphakala/farmdash/internal/errors"
	"github.com/tphakala/farmdash/internal/logging"
	"github.com/tphakala/farmdash/internal/mqtt"
	"github.com/tphakala/farmdash/internal/snapshot"
	"github.com/tphakala/farmdash/internal/store"
)

// ConfigFileName is the file searched for in the default config paths.
const ConfigFileName = "config.yaml"

// Settings contains all configuration options for farmdash.
type Settings struct {
	Debug bool // true to enable debug logging

	Backend  BackendSettings  // backing REST services
	Cache    CacheSettings    // staleness windows per collection
	Snapshot SnapshotSettings // persisted local state
	Log      LogSettings
	API      APISettings // local JSON API served by `farmdash serve`
	MQTT     MQTTSettings
	Sentry   SentrySettings
}

// BackendSettings holds the base URL of every service and shared client settings.
type BackendSettings struct {
	Detection    string
	Treatment    string
	User         string
	Notification string
	Subscription string
	Timeout      time.Duration
	RateLimit    float64 // requests per second across all services
	Burst        int
	PlanCacheTTL time.Duration
}

// CacheSettings overrides the staleness windows.
type CacheSettings struct {
	Profile       time.Duration // farmer profile and crops
	Diagnoses     time.Duration
	Treatments    time.Duration // treatments and steps
	Notifications time.Duration
	Statistics    time.Duration // usage limits
}

// SnapshotSettings selects the persistence backend.
type SnapshotSettings struct {
	Backend string // file, sqlite, mysql or memory
	Path    string
	MySQL   MySQLSettings
}

// MySQLSettings holds connection parameters for the mysql snapshot backend.
type MySQLSettings struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// LogSettings controls service log files.
type LogSettings struct {
	FileOutput bool
	Dir        string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// APISettings configures the local HTTP server.
type APISettings struct {
	Listen  string
	Metrics bool // expose /metrics
}

// MQTTSettings configures the optional change publisher.
type MQTTSettings struct {
	Enabled  bool
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // topic prefix
	QoS      int
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled     bool
	DSN         string
	Environment string
}

// Load reads settings from path. An empty path searches the default config
// paths; a missing file leaves defaults and environment values in effect.
func Load(path string) (*Settings, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}
	return settings, nil
}

// newViper initializes a viper instance with defaults, environment bindings
// and the configuration file.
func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaultConfig(v)

	if err := configureEnvironmentVariables(v); err != nil {
		logging.Warn("ignoring invalid environment variables", "error", err)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		paths, err := GetDefaultConfigPaths()
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
			logging.Debug("no config file found, using defaults")
		case path != "" && os.IsNotExist(err):
			logging.Debug("config file does not exist, using defaults", "path", path)
		default:
			return nil, errors.New(err).
				Component("conf").
				Category(errors.CategoryFileParsing).
				Context("path", path).
				Build()
		}
	}
	return v, nil
}

// WriteDefaultConfig writes the default settings to path. An existing file is
// only replaced when overwrite is set.
func WriteDefaultConfig(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return errors.Newf("config file already exists").
				Component("conf").
				Category(errors.CategoryConflict).
				Context("path", path).
				Build()
		}
	}

	v := viper.New()
	setDefaultConfig(v)
	return SaveYAMLConfig(path, v.AllSettings())
}

// SaveYAMLConfig writes values to configPath. The file is replaced atomically
// and comments are not preserved.
func SaveYAMLConfig(configPath string, values map[string]any) error {
	yamlData, err := yaml.Marshal(yamlValues(values))
	if err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileParsing).
			Context("operation", "marshal").
			Build()
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fileError(err, "create-config-dir", configPath)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fileError(err, "create-temp-file", configPath)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fileError(err, "write-temp-file", configPath)
	}
	if err := tempFile.Close(); err != nil {
		return fileError(err, "close-temp-file", configPath)
	}
	if err := os.Chmod(tempFileName, 0o600); err != nil {
		return fileError(err, "chmod-temp-file", configPath)
	}
	if err := os.Rename(tempFileName, configPath); err != nil {
		return fileError(err, "rename-config", configPath)
	}
	return nil
}

// yamlValues converts durations to their string form so the written file
// reads back through viper.
func yamlValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, val := range values {
		switch typed := val.(type) {
		case map[string]any:
			out[k] = yamlValues(typed)
		case time.Duration:
			out[k] = typed.String()
		default:
			out[k] = val
		}
	}
	return out
}

func fileError(err error, operation, path string) error {
	return errors.New(err).
		Component("conf").
		Category(errors.CategoryFileIO).
		Context("operation", operation).
		Context("path", path).
		Build()
}

// Services returns the backend client configuration.
func (s *Settings) Services() backend.ServicesConfig {
	return backend.ServicesConfig{
		DetectionURL:    s.Backend.Detection,
		TreatmentURL:    s.Backend.Treatment,
		UserURL:         s.Backend.User,
		NotificationURL: s.Backend.Notification,
		SubscriptionURL: s.Backend.Subscription,
		Timeout:         s.Backend.Timeout,
		RateLimit:       s.Backend.RateLimit,
		Burst:           s.Backend.Burst,
		PlanCacheTTL:    s.Backend.PlanCacheTTL,
	}
}

// Policy returns the staleness policy. Zero windows fall back to the defaults.
func (s *Settings) Policy() store.Policy {
	return store.Policy{TTL: map[store.Collection]time.Duration{
		store.CollectionFarmer:        s.Cache.Profile,
		store.CollectionCrops:         s.Cache.Profile,
		store.CollectionDiagnoses:     s.Cache.Diagnoses,
		store.CollectionTreatments:    s.Cache.Treatments,
		store.CollectionSteps:         s.Cache.Treatments,
		store.CollectionNotifications: s.Cache.Notifications,
		store.CollectionUsage:         s.Cache.Statistics,
	}}
}

// SnapshotConfig returns the persistence backend configuration.
func (s *Settings) SnapshotConfig() snapshot.Config {
	return snapshot.Config{
		Backend: s.Snapshot.Backend,
		Path:    s.Snapshot.Path,
		MySQL: snapshot.MySQLConfig{
			Host:     s.Snapshot.MySQL.Host,
			Port:     s.Snapshot.MySQL.Port,
			Username: s.Snapshot.MySQL.Username,
			Password: s.Snapshot.MySQL.Password,
			Database: s.Snapshot.MySQL.Database,
		},
	}
}

// LogFiles returns the rotation settings for service log files.
func (s *Settings) LogFiles() logging.FileConfig {
	return logging.FileConfig{
		Enabled:    s.Log.FileOutput,
		Dir:        s.Log.Dir,
		MaxSizeMB:  s.Log.MaxSize,
		MaxBackups: s.Log.MaxBackups,
		MaxAgeDays: s.Log.MaxAge,
	}
}

// MQTTConfig returns the publisher client configuration.
func (s *Settings) MQTTConfig() mqtt.Config {
	cfg := mqtt.DefaultConfig()
	cfg.Broker = s.MQTT.Broker
	cfg.Username = s.MQTT.Username
	cfg.Password = s.MQTT.Password
	if s.MQTT.ClientID != "" {
		cfg.ClientID = s.MQTT.ClientID
	}
	if s.MQTT.Topic != "" {
		cfg.TopicPrefix = s.MQTT.Topic
	}
	cfg.QoS = byte(s.MQTT.QoS)
	return cfg
}
