package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir picks the per-host data directory: $XDG_DATA_HOME/evlog,
// then /var/lib/evlog, then the macOS or Windows application directory,
// then ~/.evlog. Without a home directory it is ./data.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return dataDirFor(home, os.Getenv, isDir)
}

func dataDirFor(home string, getenv func(string) string, dirExists func(string) bool) string {
	if home == "" {
		return "./data"
	}
	if xdg := getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "evlog")
	}
	candidates := []struct{ probe, dir string }{
		{"/var/lib", "/var/lib/evlog"},
		{filepath.Join(home, "Library"), filepath.Join(home, "Library", "Application Support", "Evlog")},
		{filepath.Join(home, "AppData"), filepath.Join(home, "AppData", "Local", "Evlog")},
	}
	for _, c := range candidates {
		if dirExists(c.probe) {
			return c.dir
		}
	}
	return filepath.Join(home, ".evlog")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
