// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/farmdash/internal/backend"
	"github.com/tphakala/farmdash/internal/snapshot"
	"github.com/tphakala/farmdash/internal/store"
)

// setDefaultConfig sets default values for every configuration key.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("backend.detection", "http://localhost:8001")
	v.SetDefault("backend.treatment", "http://localhost:8002")
	v.SetDefault("backend.user", "http://localhost:8003")
	v.SetDefault("backend.notification", "http://localhost:8004")
	v.SetDefault("backend.subscription", "http://localhost:8005")
	v.SetDefault("backend.timeout", 30*time.Second)
	v.SetDefault("backend.ratelimit", backend.DefaultRateLimit)
	v.SetDefault("backend.burst", backend.DefaultBurst)
	v.SetDefault("backend.plancachettl", time.Hour)

	v.SetDefault("cache.profile", store.DefaultProfileTTL)
	v.SetDefault("cache.diagnoses", store.DefaultDiagnosesTTL)
	v.SetDefault("cache.treatments", store.DefaultTreatmentsTTL)
	v.SetDefault("cache.notifications", store.DefaultNotificationTTL)
	v.SetDefault("cache.statistics", store.DefaultStatisticsTTL)

	v.SetDefault("snapshot.backend", snapshot.BackendFile)
	v.SetDefault("snapshot.path", "farmdash-state.json")
	v.SetDefault("snapshot.mysql.host", "localhost")
	v.SetDefault("snapshot.mysql.port", "3306")
	v.SetDefault("snapshot.mysql.username", "")
	v.SetDefault("snapshot.mysql.password", "")
	v.SetDefault("snapshot.mysql.database", "farmdash")

	v.SetDefault("log.fileoutput", false)
	v.SetDefault("log.dir", "logs")
	v.SetDefault("log.maxsize", 10)
	v.SetDefault("log.maxbackups", 3)
	v.SetDefault("log.maxage", 28)

	v.SetDefault("api.listen", "127.0.0.1:8080")
	v.SetDefault("api.metrics", true)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.clientid", "farmdash")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic", "farmdash")
	v.SetDefault("mqtt.qos", 0)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
}
