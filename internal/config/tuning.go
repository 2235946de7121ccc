package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TuningConfig holds every tunable of the violation pipeline.
// Fields are pointers so that partial documents (a file on disk, an
// override sent to PUT /api/config) only touch what they name.
type TuningConfig struct {
	// Track state machine
	PositionHistorySize  *int     `json:"position_history_size,omitempty"`
	MovementWindow       *int     `json:"movement_window,omitempty"`
	ViolationHistorySize *int     `json:"violation_history_size,omitempty"`
	MovementThreshold    *float64 `json:"movement_threshold,omitempty"`
	MaxPositionJump      *float64 `json:"max_position_jump,omitempty"`
	MaxSuspiciousJumps   *int     `json:"max_suspicious_jumps,omitempty"`

	// Violation evaluator
	CrossingCheckWindow  *int  `json:"crossing_check_window,omitempty"`
	MaxJumpsForViolation *int  `json:"max_jumps_for_violation,omitempty"`
	DedupViolations      *bool `json:"dedup_violations,omitempty"`

	// Light resolver
	LightPolicy   *string `json:"light_policy,omitempty"` // "demote" or "sticky"
	RedHoldFrames *int    `json:"red_hold_frames,omitempty"`

	// Vehicle pre-filter
	MinVehicleConfidence *float64 `json:"min_vehicle_confidence,omitempty"`
	MinVehicleAreaRatio  *float64 `json:"min_vehicle_area_ratio,omitempty"`
	MaxVehicleAreaRatio  *float64 `json:"max_vehicle_area_ratio,omitempty"`

	// Source handling
	OpenRetries          *int    `json:"open_retries,omitempty"`
	OpenBackoff          *string `json:"open_backoff,omitempty"` // duration string like "1s"
	MaxConsecutiveErrors *int    `json:"max_consecutive_errors,omitempty"`
	ReadBackoff          *string `json:"read_backoff,omitempty"` // duration string like "100ms"

	// Collaborators
	DetectorConfidence *float64 `json:"detector_confidence,omitempty"`
	TrackerIoU         *float64 `json:"tracker_iou,omitempty"`
	TrackerMaxAge      *int     `json:"tracker_max_age,omitempty"`
}

// Light policies
const (
	LightPolicyDemote = "demote"
	LightPolicySticky = "sticky"
)

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields unset.
// The Get* methods supply defaults for every field.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// Fields omitted from the file keep their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseTuningConfig(data)
}

// ParseTuningConfig decodes and validates a JSON tuning document
func ParseTuningConfig(data []byte) (*TuningConfig, error) {
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Merge returns a copy of c with every non-nil field of override applied on top
func (c *TuningConfig) Merge(override *TuningConfig) *TuningConfig {
	out := *c
	if override == nil {
		return &out
	}
	mergeInt(&out.PositionHistorySize, override.PositionHistorySize)
	mergeInt(&out.MovementWindow, override.MovementWindow)
	mergeInt(&out.ViolationHistorySize, override.ViolationHistorySize)
	mergeFloat(&out.MovementThreshold, override.MovementThreshold)
	mergeFloat(&out.MaxPositionJump, override.MaxPositionJump)
	mergeInt(&out.MaxSuspiciousJumps, override.MaxSuspiciousJumps)
	mergeInt(&out.CrossingCheckWindow, override.CrossingCheckWindow)
	mergeInt(&out.MaxJumpsForViolation, override.MaxJumpsForViolation)
	if override.DedupViolations != nil {
		out.DedupViolations = ptrBool(*override.DedupViolations)
	}
	mergeString(&out.LightPolicy, override.LightPolicy)
	mergeInt(&out.RedHoldFrames, override.RedHoldFrames)
	mergeFloat(&out.MinVehicleConfidence, override.MinVehicleConfidence)
	mergeFloat(&out.MinVehicleAreaRatio, override.MinVehicleAreaRatio)
	mergeFloat(&out.MaxVehicleAreaRatio, override.MaxVehicleAreaRatio)
	mergeInt(&out.OpenRetries, override.OpenRetries)
	mergeString(&out.OpenBackoff, override.OpenBackoff)
	mergeInt(&out.MaxConsecutiveErrors, override.MaxConsecutiveErrors)
	mergeString(&out.ReadBackoff, override.ReadBackoff)
	mergeFloat(&out.DetectorConfidence, override.DetectorConfidence)
	mergeFloat(&out.TrackerIoU, override.TrackerIoU)
	mergeInt(&out.TrackerMaxAge, override.TrackerMaxAge)
	return &out
}

func mergeInt(dst **int, src *int) {
	if src != nil {
		*dst = ptrInt(*src)
	}
}

func mergeFloat(dst **float64, src *float64) {
	if src != nil {
		*dst = ptrFloat64(*src)
	}
}

func mergeString(dst **string, src *string) {
	if src != nil {
		*dst = ptrString(*src)
	}
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	positive := []struct {
		name string
		v    *int
	}{
		{"position_history_size", c.PositionHistorySize},
		{"movement_window", c.MovementWindow},
		{"violation_history_size", c.ViolationHistorySize},
		{"crossing_check_window", c.CrossingCheckWindow},
		{"open_retries", c.OpenRetries},
		{"max_consecutive_errors", c.MaxConsecutiveErrors},
	}
	for _, p := range positive {
		if p.v != nil && *p.v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", p.name, *p.v)
		}
	}

	if c.CrossingCheckWindow != nil && *c.CrossingCheckWindow < 2 {
		return fmt.Errorf("crossing_check_window must be at least 2, got %d", *c.CrossingCheckWindow)
	}
	if c.PositionHistorySize != nil && *c.PositionHistorySize < c.GetCrossingCheckWindow() {
		return fmt.Errorf("position_history_size (%d) must not be smaller than crossing_check_window (%d)",
			*c.PositionHistorySize, c.GetCrossingCheckWindow())
	}

	nonNegative := []struct {
		name string
		v    *int
	}{
		{"max_suspicious_jumps", c.MaxSuspiciousJumps},
		{"max_jumps_for_violation", c.MaxJumpsForViolation},
		{"red_hold_frames", c.RedHoldFrames},
		{"tracker_max_age", c.TrackerMaxAge},
	}
	for _, p := range nonNegative {
		if p.v != nil && *p.v < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", p.name, *p.v)
		}
	}

	if c.MovementThreshold != nil && *c.MovementThreshold < 0 {
		return fmt.Errorf("movement_threshold must be non-negative, got %f", *c.MovementThreshold)
	}
	if c.MaxPositionJump != nil && *c.MaxPositionJump <= 0 {
		return fmt.Errorf("max_position_jump must be positive, got %f", *c.MaxPositionJump)
	}

	unit := []struct {
		name string
		v    *float64
	}{
		{"min_vehicle_confidence", c.MinVehicleConfidence},
		{"min_vehicle_area_ratio", c.MinVehicleAreaRatio},
		{"max_vehicle_area_ratio", c.MaxVehicleAreaRatio},
		{"detector_confidence", c.DetectorConfidence},
		{"tracker_iou", c.TrackerIoU},
	}
	for _, p := range unit {
		if p.v != nil && (*p.v < 0 || *p.v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", p.name, *p.v)
		}
	}
	if c.GetMinVehicleAreaRatio() > c.GetMaxVehicleAreaRatio() {
		return fmt.Errorf("min_vehicle_area_ratio (%f) exceeds max_vehicle_area_ratio (%f)",
			c.GetMinVehicleAreaRatio(), c.GetMaxVehicleAreaRatio())
	}

	if c.LightPolicy != nil {
		switch *c.LightPolicy {
		case LightPolicyDemote, LightPolicySticky:
		default:
			return fmt.Errorf("light_policy must be %q or %q, got %q", LightPolicyDemote, LightPolicySticky, *c.LightPolicy)
		}
	}

	for name, v := range map[string]*string{"open_backoff": c.OpenBackoff, "read_backoff": c.ReadBackoff} {
		if v != nil && *v != "" {
			d, err := time.ParseDuration(*v)
			if err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
			if d < 0 {
				return fmt.Errorf("%s must be non-negative, got %s", name, d)
			}
		}
	}

	return nil
}

// GetPositionHistorySize returns the position_history_size value or the default.
func (c *TuningConfig) GetPositionHistorySize() int {
	if c.PositionHistorySize == nil {
		return 20
	}
	return *c.PositionHistorySize
}

// GetMovementWindow returns the movement_window value or the default.
func (c *TuningConfig) GetMovementWindow() int {
	if c.MovementWindow == nil {
		return 4
	}
	return *c.MovementWindow
}

// GetViolationHistorySize returns the violation_history_size value or the default.
func (c *TuningConfig) GetViolationHistorySize() int {
	if c.ViolationHistorySize == nil {
		return 5
	}
	return *c.ViolationHistorySize
}

// GetMovementThreshold returns the movement_threshold value or the default.
func (c *TuningConfig) GetMovementThreshold() float64 {
	if c.MovementThreshold == nil {
		return 1.5
	}
	return *c.MovementThreshold
}

// GetMaxPositionJump returns the max_position_jump value or the default.
func (c *TuningConfig) GetMaxPositionJump() float64 {
	if c.MaxPositionJump == nil {
		return 50
	}
	return *c.MaxPositionJump
}

// GetMaxSuspiciousJumps returns the max_suspicious_jumps value or the default.
func (c *TuningConfig) GetMaxSuspiciousJumps() int {
	if c.MaxSuspiciousJumps == nil {
		return 2
	}
	return *c.MaxSuspiciousJumps
}

// GetCrossingCheckWindow returns the crossing_check_window value or the default.
func (c *TuningConfig) GetCrossingCheckWindow() int {
	if c.CrossingCheckWindow == nil {
		return 8
	}
	return *c.CrossingCheckWindow
}

// GetMaxJumpsForViolation returns the max_jumps_for_violation value or the default.
func (c *TuningConfig) GetMaxJumpsForViolation() int {
	if c.MaxJumpsForViolation == nil {
		return 1
	}
	return *c.MaxJumpsForViolation
}

// GetDedupViolations returns the dedup_violations value or the default.
func (c *TuningConfig) GetDedupViolations() bool {
	if c.DedupViolations == nil {
		return true
	}
	return *c.DedupViolations
}

// GetLightPolicy returns the light_policy value or the default.
func (c *TuningConfig) GetLightPolicy() string {
	if c.LightPolicy == nil || *c.LightPolicy == "" {
		return LightPolicyDemote
	}
	return *c.LightPolicy
}

// GetRedHoldFrames returns the red_hold_frames value or the default.
func (c *TuningConfig) GetRedHoldFrames() int {
	if c.RedHoldFrames == nil {
		return 0
	}
	return *c.RedHoldFrames
}

// GetMinVehicleConfidence returns the min_vehicle_confidence value or the default.
func (c *TuningConfig) GetMinVehicleConfidence() float64 {
	if c.MinVehicleConfidence == nil {
		return 0.3
	}
	return *c.MinVehicleConfidence
}

// GetMinVehicleAreaRatio returns the min_vehicle_area_ratio value or the default.
func (c *TuningConfig) GetMinVehicleAreaRatio() float64 {
	if c.MinVehicleAreaRatio == nil {
		return 0.001
	}
	return *c.MinVehicleAreaRatio
}

// GetMaxVehicleAreaRatio returns the max_vehicle_area_ratio value or the default.
func (c *TuningConfig) GetMaxVehicleAreaRatio() float64 {
	if c.MaxVehicleAreaRatio == nil {
		return 0.25
	}
	return *c.MaxVehicleAreaRatio
}

// GetOpenRetries returns the open_retries value or the default.
func (c *TuningConfig) GetOpenRetries() int {
	if c.OpenRetries == nil {
		return 3
	}
	return *c.OpenRetries
}

// GetOpenBackoff parses and returns OpenBackoff as a time.Duration.
func (c *TuningConfig) GetOpenBackoff() time.Duration {
	return parseDurationOr(c.OpenBackoff, time.Second)
}

// GetMaxConsecutiveErrors returns the max_consecutive_errors value or the default.
func (c *TuningConfig) GetMaxConsecutiveErrors() int {
	if c.MaxConsecutiveErrors == nil {
		return 10
	}
	return *c.MaxConsecutiveErrors
}

// GetReadBackoff parses and returns ReadBackoff as a time.Duration.
func (c *TuningConfig) GetReadBackoff() time.Duration {
	return parseDurationOr(c.ReadBackoff, 100*time.Millisecond)
}

// GetDetectorConfidence returns the detector_confidence value or the default.
func (c *TuningConfig) GetDetectorConfidence() float64 {
	if c.DetectorConfidence == nil {
		return 0.5
	}
	return *c.DetectorConfidence
}

// GetTrackerIoU returns the tracker_iou value or the default.
func (c *TuningConfig) GetTrackerIoU() float64 {
	if c.TrackerIoU == nil {
		return 0.3
	}
	return *c.TrackerIoU
}

// GetTrackerMaxAge returns the tracker_max_age value or the default.
func (c *TuningConfig) GetTrackerMaxAge() int {
	if c.TrackerMaxAge == nil {
		return 30
	}
	return *c.TrackerMaxAge
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}
