package buildinfo

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetDefaults(t *testing.T) {
	info := Get()

	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.BuildDate)
	assert.Equal(t, runtime.Version(), info.GoVersion)
}

func TestGetPrefersLinkerValues(t *testing.T) {
	oldVersion, oldDate := Version, BuildDate
	t.Cleanup(func() { Version, BuildDate = oldVersion, oldDate })

	Version = "v1.4.0"
	BuildDate = "2025-06-01T00:00:00Z"

	info := Get()
	assert.Equal(t, "v1.4.0", info.Version)
	assert.Equal(t, "2025-06-01T00:00:00Z", info.BuildDate)
}
