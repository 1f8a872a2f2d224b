// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/farmdash/internal/errors"
	"github.com/tphakala/farmdash/internal/snapshot"
)

// EnvPrefix prefixes every environment variable, e.g. FARMDASH_API_LISTEN.
const EnvPrefix = "FARMDASH"

// envBinding holds metadata for environment variable bindings
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns the explicitly validated environment variables.
// Every other key is still read through AutomaticEnv.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "FARMDASH_DEBUG", validateEnvBool},

		{"backend.detection", "FARMDASH_BACKEND_DETECTION", validateEnvURL},
		{"backend.treatment", "FARMDASH_BACKEND_TREATMENT", validateEnvURL},
		{"backend.user", "FARMDASH_BACKEND_USER", validateEnvURL},
		{"backend.notification", "FARMDASH_BACKEND_NOTIFICATION", validateEnvURL},
		{"backend.subscription", "FARMDASH_BACKEND_SUBSCRIPTION", validateEnvURL},
		{"backend.timeout", "FARMDASH_BACKEND_TIMEOUT", validateEnvDuration},

		{"snapshot.backend", "FARMDASH_SNAPSHOT_BACKEND", validateEnvSnapshotBackend},
		{"snapshot.path", "FARMDASH_SNAPSHOT_PATH", nil},
		{"snapshot.mysql.password", "FARMDASH_SNAPSHOT_MYSQL_PASSWORD", nil},

		{"api.listen", "FARMDASH_API_LISTEN", nil},
		{"mqtt.password", "FARMDASH_MQTT_PASSWORD", nil},
		{"sentry.dsn", "FARMDASH_SENTRY_DSN", nil},
	}
}

// configureEnvironmentVariables sets up environment variable support on v.
func configureEnvironmentVariables(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return bindEnvVars(v, os.LookupEnv)
}

// bindEnvVars binds the explicit variables and validates those that are set.
// Invalid values are reported together; settings validation rejects them later.
func bindEnvVars(v *viper.Viper, lookup func(string) (string, bool)) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		value, set := lookup(binding.EnvVar)
		if set && binding.Validate != nil {
			if err := binding.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", binding.EnvVar, value, err))
			}
		}
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
		}
	}

	if len(warnings) > 0 {
		return errors.Newf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - ")).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f", value)
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must include a host")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %s", d)
	}
	return nil
}

func validateEnvSnapshotBackend(value string) error {
	switch strings.TrimSpace(value) {
	case snapshot.BackendFile, snapshot.BackendSQLite, snapshot.BackendMySQL, snapshot.BackendMemory:
		return nil
	default:
		return fmt.Errorf("snapshot backend must be one of file, sqlite, mysql, memory")
	}
}
