// conf/utils.go config file location helpers
package conf

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/tphakala/farmdash/internal/errors"
)

// GetDefaultConfigPaths returns the directories searched for config.yaml.
// When one of them already holds the file, only that directory is returned.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "get-home-directory").
			Build()
	}

	var configPaths []string
	switch runtime.GOOS {
	case "windows":
		configPaths = []string{
			".",
			filepath.Join(homeDir, "AppData", "Roaming", "farmdash"),
		}
	default:
		configPaths = []string{
			".",
			filepath.Join(homeDir, ".config", "farmdash"),
			"/etc/farmdash",
		}
	}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, ConfigFileName)); err == nil {
			return []string{path}, nil
		}
	}
	return configPaths, nil
}

// DefaultConfigFile returns the path `config init` writes to when no path is
// given: the per-user config directory.
func DefaultConfigFile() (string, error) {
	paths, err := GetDefaultConfigPaths()
	if err != nil {
		return "", err
	}
	for _, path := range paths {
		if path != "." {
			return filepath.Join(path, ConfigFileName), nil
		}
	}
	return ConfigFileName, nil
}
