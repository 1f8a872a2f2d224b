// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/tphakala/farmdash/internal/snapshot"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) []string{
		validateBackendSettings,
		validateCacheSettings,
		validateSnapshotSettings,
		validateAPISettings,
		validateMQTTSettings,
		validateSentrySettings,
	}
	for _, validate := range validators {
		ve.Errors = append(ve.Errors, validate(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateBackendSettings(s *Settings) []string {
	var errs []string
	urls := map[string]string{
		"backend.detection":    s.Backend.Detection,
		"backend.treatment":    s.Backend.Treatment,
		"backend.user":         s.Backend.User,
		"backend.notification": s.Backend.Notification,
		"backend.subscription": s.Backend.Subscription,
	}
	for key, raw := range urls {
		if err := validateServiceURL(raw); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if s.Backend.Timeout <= 0 {
		errs = append(errs, "backend.timeout must be positive")
	}
	if s.Backend.RateLimit < 0 {
		errs = append(errs, "backend.ratelimit must not be negative")
	}
	if s.Backend.Burst < 0 {
		errs = append(errs, "backend.burst must not be negative")
	}
	return errs
}

func validateServiceURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

func validateCacheSettings(s *Settings) []string {
	var errs []string
	windows := map[string]int64{
		"cache.profile":       int64(s.Cache.Profile),
		"cache.diagnoses":     int64(s.Cache.Diagnoses),
		"cache.treatments":    int64(s.Cache.Treatments),
		"cache.notifications": int64(s.Cache.Notifications),
		"cache.statistics":    int64(s.Cache.Statistics),
	}
	for key, d := range windows {
		if d < 0 {
			errs = append(errs, key+" must not be negative")
		}
	}
	return errs
}

func validateSnapshotSettings(s *Settings) []string {
	switch s.Snapshot.Backend {
	case snapshot.BackendFile, snapshot.BackendSQLite:
		if s.Snapshot.Path == "" {
			return []string{"snapshot.path is required for the " + s.Snapshot.Backend + " backend"}
		}
	case snapshot.BackendMySQL:
		var errs []string
		if s.Snapshot.MySQL.Host == "" {
			errs = append(errs, "snapshot.mysql.host is required")
		}
		if s.Snapshot.MySQL.Database == "" {
			errs = append(errs, "snapshot.mysql.database is required")
		}
		return errs
	case snapshot.BackendMemory:
	default:
		return []string{fmt.Sprintf("snapshot.backend %q is not one of file, sqlite, mysql, memory", s.Snapshot.Backend)}
	}
	return nil
}

func validateAPISettings(s *Settings) []string {
	if _, _, err := net.SplitHostPort(s.API.Listen); err != nil {
		return []string{fmt.Sprintf("api.listen: %v", err)}
	}
	return nil
}

func validateMQTTSettings(s *Settings) []string {
	if !s.MQTT.Enabled {
		return nil
	}
	var errs []string
	if s.MQTT.Broker == "" {
		errs = append(errs, "mqtt.broker is required when mqtt is enabled")
	} else if _, err := url.Parse(s.MQTT.Broker); err != nil {
		errs = append(errs, fmt.Sprintf("mqtt.broker: %v", err))
	}
	if s.MQTT.QoS < 0 || s.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1 or 2")
	}
	return errs
}

func validateSentrySettings(s *Settings) []string {
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		return []string{"sentry.dsn is required when sentry is enabled"}
	}
	return nil
}
