package pipeline

import (
	"time"

	"redlight/internal/config"
)

// Settings is the resolved, typed form of the tuning config
type Settings struct {
	Track     TrackSettings
	Evaluator EvaluatorSettings

	LightPolicy   string
	RedHoldFrames int

	MinVehicleConfidence float32
	MinVehicleAreaRatio  float32
	MaxVehicleAreaRatio  float32

	OpenRetries          int
	OpenBackoff          time.Duration
	MaxConsecutiveErrors int
	ReadBackoff          time.Duration
}

// SettingsFromTuning resolves every tunable, applying defaults for unset fields
func SettingsFromTuning(cfg *config.TuningConfig) Settings {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	return Settings{
		Track: TrackSettings{
			PositionHistorySize:  cfg.GetPositionHistorySize(),
			MovementWindow:       cfg.GetMovementWindow(),
			ViolationHistorySize: cfg.GetViolationHistorySize(),
			MovementThreshold:    float32(cfg.GetMovementThreshold()),
			MaxPositionJump:      float32(cfg.GetMaxPositionJump()),
			MaxSuspiciousJumps:   cfg.GetMaxSuspiciousJumps(),
		},
		Evaluator: EvaluatorSettings{
			CrossingCheckWindow:  cfg.GetCrossingCheckWindow(),
			MaxJumpsForViolation: cfg.GetMaxJumpsForViolation(),
			Dedup:                cfg.GetDedupViolations(),
		},
		LightPolicy:          cfg.GetLightPolicy(),
		RedHoldFrames:        cfg.GetRedHoldFrames(),
		MinVehicleConfidence: float32(cfg.GetMinVehicleConfidence()),
		MinVehicleAreaRatio:  float32(cfg.GetMinVehicleAreaRatio()),
		MaxVehicleAreaRatio:  float32(cfg.GetMaxVehicleAreaRatio()),
		OpenRetries:          cfg.GetOpenRetries(),
		OpenBackoff:          cfg.GetOpenBackoff(),
		MaxConsecutiveErrors: cfg.GetMaxConsecutiveErrors(),
		ReadBackoff:          cfg.GetReadBackoff(),
	}
}

// DefaultSettings returns the built-in defaults
func DefaultSettings() Settings {
	return SettingsFromTuning(nil)
}
