package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz int `yaml:"tick_rate_hz"`

	MaxActiveTrains       int    `yaml:"max_active_trains"`
	DispatchIntervalTicks uint64 `yaml:"dispatch_interval_ticks"`
	LoadTicks             uint64 `yaml:"load_ticks"`
	UnloadTicks           uint64 `yaml:"unload_ticks"`

	MinBlockClearanceDistance float64 `yaml:"min_block_clearance_distance"`

	NormalSpeed    float64 `yaml:"normal_speed"`
	ReverseSpeed   float64 `yaml:"reverse_speed"`
	BrakeZoneSpeed float64 `yaml:"brake_zone_speed"`

	ServiceBrake     float64 `yaml:"service_brake"`
	EmergencyBrake   float64 `yaml:"emergency_brake"`
	StopTimeoutTicks uint64  `yaml:"stop_timeout_ticks"`

	ReverseHoldTicks uint64 `yaml:"reverse_hold_ticks"`
	ReturnHoldTicks  uint64 `yaml:"return_hold_ticks"`
	// 0 keeps the clearance wait unbounded.
	ReverseClearanceTimeoutTicks uint64 `yaml:"reverse_clearance_timeout_ticks"`

	Safety Safety `yaml:"safety"`
}

type Safety struct {
	Enabled            bool    `yaml:"enabled"`
	RequireClearance   bool    `yaml:"require_clearance"`
	MaxSpeed           float64 `yaml:"max_speed"`
	MaxAccel           float64 `yaml:"max_accel"`
	CollisionThreshold float64 `yaml:"collision_threshold"`
	UnlockDelayTicks   uint64  `yaml:"unlock_delay_ticks"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:                5,
		MaxActiveTrains:           2,
		DispatchIntervalTicks:     50,
		LoadTicks:                 25,
		UnloadTicks:               25,
		MinBlockClearanceDistance: 4.0,
		NormalSpeed:               6.0,
		ReverseSpeed:              4.0,
		BrakeZoneSpeed:            2.5,
		ServiceBrake:              3.0,
		EmergencyBrake:            9.0,
		StopTimeoutTicks:          100,
		ReverseHoldTicks:          100,
		ReturnHoldTicks:           50,
		Safety: Safety{
			Enabled:            true,
			RequireClearance:   true,
			MaxSpeed:           12.0,
			MaxAccel:           8.0,
			CollisionThreshold: 0.5,
			UnlockDelayTicks:   10,
		},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be positive")
	}
	if t.MaxActiveTrains <= 0 {
		return fmt.Errorf("max_active_trains must be positive")
	}
	if t.NormalSpeed <= 0 || t.ReverseSpeed <= 0 {
		return fmt.Errorf("normal_speed and reverse_speed must be positive")
	}
	return nil
}
