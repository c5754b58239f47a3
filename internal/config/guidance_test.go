package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fieldguide/guidance/internal/geom"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := EmptyGuidanceConfig()

	if got := cfg.GetPathsToGenerate(); got != 5 {
		t.Errorf("GetPathsToGenerate() = %d, want 5", got)
	}
	if got := cfg.GetPathsInReserve(); got != 3 {
		t.Errorf("GetPathsInReserve() = %d, want 3", got)
	}
	if got := cfg.GetOffsetTowPoint(); got != (geom.Point3{X: -1}) {
		t.Errorf("GetOffsetTowPoint() = %v, want (-1,0,0)", got)
	}
	if got := cfg.GetWorkerCount(); got != 1 {
		t.Errorf("GetWorkerCount() = %d, want 1", got)
	}
	if cfg.GetStartRight() || cfg.GetMirror() {
		t.Error("start_right and mirror default to false")
	}
}

func TestLoadGuidanceConfig(t *testing.T) {
	path := writeConfig(t, "guidance.json", `{
  "offset_hook_point": [-1.5, 0, 0.2],
  "paths_to_generate": 9,
  "start_right": true,
  "worker_count": 0
}`)

	cfg, err := LoadGuidanceConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if got := cfg.GetOffsetHookPoint(); got != (geom.Point3{X: -1.5, Z: 0.2}) {
		t.Errorf("GetOffsetHookPoint() = %v", got)
	}
	if cfg.GetPathsToGenerate() != 9 {
		t.Errorf("GetPathsToGenerate() = %d, want 9", cfg.GetPathsToGenerate())
	}
	if !cfg.GetStartRight() {
		t.Error("GetStartRight() = false, want true")
	}
	if cfg.GetWorkerCount() != 0 {
		t.Errorf("GetWorkerCount() = %d, want 0", cfg.GetWorkerCount())
	}
	// Omitted fields keep their defaults.
	if cfg.GetPathsInReserve() != 3 {
		t.Errorf("GetPathsInReserve() = %d, want 3", cfg.GetPathsInReserve())
	}
}

func TestLoadGuidanceConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "guidance.yaml", `{}`, ".json extension"},
		{"bad json", "guidance.json", `{"paths_to_generate":`, "failed to parse"},
		{"bad max passes", "guidance.json", `{"max_passes": 0}`, "max_passes"},
		{"bad parity", "guidance.json", `{"parity": "X"}`, "parity"},
		{"bad stop bits", "guidance.json", `{"stop_bits": 3}`, "stop_bits"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadGuidanceConfig(writeConfig(t, tt.file, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadGuidanceConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if cfg.GetMaxPasses() != 1000 {
		t.Errorf("defaults file max_passes = %d, want 1000", cfg.GetMaxPasses())
	}
	if cfg.GetParity() != "N" {
		t.Errorf("defaults file parity = %q, want N", cfg.GetParity())
	}
}
