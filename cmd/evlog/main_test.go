package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

func newConfigCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	addConfigFlags(cmd)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return cmd
}

func TestLoadConfigLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evlog.yaml")
	body := "dataDir: " + dir + "\nfsync: never\nlog:\n  level: warn\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("EVLOG_LOG_LEVEL", "debug")
	t.Setenv("EVLOG_FSYNC", "interval")

	cfg, err := loadConfig(newConfigCmd(t, "--config", path, "--fsync", "always"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != dir {
		t.Fatalf("dataDir = %q", cfg.DataDir)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("env did not override file: level %q", cfg.Log.Level)
	}
	if cfg.Fsync != "always" {
		t.Fatalf("flag did not override env: fsync %q", cfg.Fsync)
	}
}

func TestLoadConfigValidates(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad fsync", []string{"--fsync", "sometimes"}},
		{"redis without addr", []string{"--uplink", "redis"}},
		{"bad level", []string{"--log-level", "loud"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--data-dir", t.TempDir()}, tt.args...)
			if _, err := loadConfig(newConfigCmd(t, args...)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
