package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/farmdash/internal/conf"
	"github.com/tphakala/farmdash/internal/entities"
	"github.com/tphakala/farmdash/internal/snapshot"
	"github.com/tphakala/farmdash/internal/store"
)

func loadSettings(t *testing.T, backend string) *conf.Settings {
	t.Helper()
	settings, err := conf.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	settings.Snapshot.Backend = backend
	settings.Snapshot.Path = filepath.Join(t.TempDir(), "state.json")
	return settings
}

func TestNewWiresComponents(t *testing.T) {
	a, err := New(t.Context(), loadSettings(t, snapshot.BackendMemory))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.NotNil(t, a.Services.Detection)
	assert.Same(t, a.Store, a.Fetcher.Store())
	assert.Equal(t, store.DefaultNotificationTTL, a.Store.Policy().TTLFor(store.CollectionNotifications))

	_, err = a.Sessions.Current()
	require.Error(t, err, "a fresh app has no session")
}

func TestNewRestoresSnapshot(t *testing.T) {
	settings := loadSettings(t, snapshot.BackendFile)

	first, err := New(t.Context(), settings)
	require.NoError(t, err)
	first.Store.SetCrops([]entities.Crop{{ID: "c1", CropName: "Tomato"}})
	require.NoError(t, first.Close())

	second, err := New(t.Context(), settings)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	crops := second.Store.Crops()
	require.Len(t, crops, 1)
	assert.Equal(t, "Tomato", crops[0].CropName)
}

func TestNewIgnoresCorruptSnapshot(t *testing.T) {
	settings := loadSettings(t, snapshot.BackendFile)
	require.NoError(t, os.WriteFile(settings.Snapshot.Path, []byte("{not json"), 0o600))

	a, err := New(t.Context(), settings)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Empty(t, a.Store.Crops())
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("snapshot:\n  backend: redis\n"), 0o600))

	_, err := Open(t.Context(), Options{ConfigPath: path})
	require.Error(t, err)
}
