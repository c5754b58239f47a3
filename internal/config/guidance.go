// Package config loads the guidance engine configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fieldguide/guidance/internal/geom"
)

// DefaultConfigPath is the path to the canonical guidance defaults file.
const DefaultConfigPath = "config/guidance.defaults.json"

// Vec3 is a JSON [x, y, z] triple.
type Vec3 [3]float64

// Point returns the vector as a geom point.
func (v Vec3) Point() geom.Point3 {
	return geom.Point3{X: v[0], Y: v[1], Z: v[2]}
}

// GuidanceConfig is the root configuration document. Every field is
// optional; the Get* accessors supply defaults for omitted fields.
type GuidanceConfig struct {
	// Linkage offsets in vehicle-local axes (x forward).
	OffsetHookPoint *Vec3 `json:"offset_hook_point,omitempty"`
	OffsetTowPoint  *Vec3 `json:"offset_tow_point,omitempty"`

	// Pass family
	PathsToGenerate *int  `json:"paths_to_generate,omitempty"`
	PathsInReserve  *int  `json:"paths_in_reserve,omitempty"`
	ForwardPasses   *int  `json:"forward_passes,omitempty"`
	ReversePasses   *int  `json:"reverse_passes,omitempty"`
	StartRight      *bool `json:"start_right,omitempty"`
	Mirror          *bool `json:"mirror,omitempty"`
	MaxPasses       *int  `json:"max_passes,omitempty"`

	// Background planning
	WorkerCount   *int `json:"worker_count,omitempty"`
	JobQueueDepth *int `json:"job_queue_depth,omitempty"`

	// Pose feed serial port
	BaudRate *int    `json:"baud_rate,omitempty"`
	DataBits *int    `json:"data_bits,omitempty"`
	StopBits *int    `json:"stop_bits,omitempty"`
	Parity   *string `json:"parity,omitempty"`
}

// EmptyGuidanceConfig returns a config with every field unset.
func EmptyGuidanceConfig() *GuidanceConfig {
	return &GuidanceConfig{}
}

// LoadGuidanceConfig reads and validates a JSON config file. Omitted fields
// keep their defaults, so partial files are fine.
func LoadGuidanceConfig(path string) (*GuidanceConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyGuidanceConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the working directory
// or one of its parents. Panics if no candidate loads; intended for tests.
func MustLoadDefaultConfig() *GuidanceConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/<pkg>/
		"../../../" + DefaultConfigPath, // from internal/<pkg>/<sub>/
	}
	for _, path := range candidates {
		if cfg, err := LoadGuidanceConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks value ranges. Pass counts are not checked here: the
// planner clamps them rather than rejecting them.
func (c *GuidanceConfig) Validate() error {
	if c.MaxPasses != nil && *c.MaxPasses < 1 {
		return fmt.Errorf("max_passes must be at least 1, got %d", *c.MaxPasses)
	}
	if c.WorkerCount != nil && *c.WorkerCount < 0 {
		return fmt.Errorf("worker_count must be non-negative, got %d", *c.WorkerCount)
	}
	if c.JobQueueDepth != nil && *c.JobQueueDepth < 1 {
		return fmt.Errorf("job_queue_depth must be at least 1, got %d", *c.JobQueueDepth)
	}
	if c.DataBits != nil && (*c.DataBits < 5 || *c.DataBits > 8) {
		return fmt.Errorf("data_bits must be between 5 and 8, got %d", *c.DataBits)
	}
	if c.StopBits != nil && *c.StopBits != 1 && *c.StopBits != 2 {
		return fmt.Errorf("stop_bits must be 1 or 2, got %d", *c.StopBits)
	}
	if c.Parity != nil {
		switch strings.ToUpper(strings.TrimSpace(*c.Parity)) {
		case "", "N", "NONE", "E", "EVEN", "O", "ODD":
		default:
			return fmt.Errorf("unsupported parity %q", *c.Parity)
		}
	}
	return nil
}

// GetOffsetHookPoint returns the hook offset or the default (origin).
func (c *GuidanceConfig) GetOffsetHookPoint() geom.Point3 {
	if c.OffsetHookPoint == nil {
		return geom.Point3{}
	}
	return c.OffsetHookPoint.Point()
}

// GetOffsetTowPoint returns the tow offset or the default (one metre back).
func (c *GuidanceConfig) GetOffsetTowPoint() geom.Point3 {
	if c.OffsetTowPoint == nil {
		return geom.Point3{X: -1}
	}
	return c.OffsetTowPoint.Point()
}

// GetPathsToGenerate returns the paths_to_generate value or the default.
func (c *GuidanceConfig) GetPathsToGenerate() int {
	if c.PathsToGenerate == nil {
		return 5
	}
	return *c.PathsToGenerate
}

// GetPathsInReserve returns the paths_in_reserve value or the default.
func (c *GuidanceConfig) GetPathsInReserve() int {
	if c.PathsInReserve == nil {
		return 3
	}
	return *c.PathsInReserve
}

// GetForwardPasses returns the forward_passes value or the default.
func (c *GuidanceConfig) GetForwardPasses() int {
	if c.ForwardPasses == nil {
		return 0
	}
	return *c.ForwardPasses
}

// GetReversePasses returns the reverse_passes value or the default.
func (c *GuidanceConfig) GetReversePasses() int {
	if c.ReversePasses == nil {
		return 0
	}
	return *c.ReversePasses
}

// GetStartRight returns the start_right value or the default.
func (c *GuidanceConfig) GetStartRight() bool {
	if c.StartRight == nil {
		return false
	}
	return *c.StartRight
}

// GetMirror returns the mirror value or the default.
func (c *GuidanceConfig) GetMirror() bool {
	if c.Mirror == nil {
		return false
	}
	return *c.Mirror
}

// GetMaxPasses returns the max_passes value or the default.
func (c *GuidanceConfig) GetMaxPasses() int {
	if c.MaxPasses == nil {
		return 1000
	}
	return *c.MaxPasses
}

// GetWorkerCount returns the worker_count value or the default. Zero means
// plans are computed inline on the control goroutine.
func (c *GuidanceConfig) GetWorkerCount() int {
	if c.WorkerCount == nil {
		return 1
	}
	return *c.WorkerCount
}

// GetJobQueueDepth returns the job_queue_depth value or the default.
func (c *GuidanceConfig) GetJobQueueDepth() int {
	if c.JobQueueDepth == nil {
		return 8
	}
	return *c.JobQueueDepth
}

// GetBaudRate returns the baud_rate value or the default.
func (c *GuidanceConfig) GetBaudRate() int {
	if c.BaudRate == nil {
		return 115200
	}
	return *c.BaudRate
}

// GetDataBits returns the data_bits value or the default.
func (c *GuidanceConfig) GetDataBits() int {
	if c.DataBits == nil {
		return 8
	}
	return *c.DataBits
}

// GetStopBits returns the stop_bits value or the default.
func (c *GuidanceConfig) GetStopBits() int {
	if c.StopBits == nil {
		return 1
	}
	return *c.StopBits
}

// GetParity returns the parity value or the default.
func (c *GuidanceConfig) GetParity() string {
	if c.Parity == nil {
		return "N"
	}
	return *c.Parity
}
