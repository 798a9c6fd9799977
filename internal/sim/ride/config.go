package ride

import "rideloop/internal/sim/tuning"

type RideMode string

const (
	ModeNormal      RideMode = "NORMAL"
	ModeReverse     RideMode = "REVERSE"
	ModeMaintenance RideMode = "MAINTENANCE"
	ModeEmergency   RideMode = "EMERGENCY"
	ModeTesting     RideMode = "TESTING"
)

// Config is the recognized option surface of the control core,
// expressed in ticks and core units. It is normally derived from the
// yaml tuning file.
type Config struct {
	TickRateHz int

	MaxActiveTrains       int
	DispatchIntervalTicks uint64
	LoadTicks             uint64
	UnloadTicks           uint64

	MinBlockClearance float64

	NormalSpeed    float64
	ReverseSpeed   float64
	BrakeZoneSpeed float64

	ServiceBrake     float64
	EmergencyBrake   float64
	StopTimeoutTicks uint64

	ReverseHoldTicks             uint64
	ReturnHoldTicks              uint64
	ReverseClearanceTimeoutTicks uint64

	SafetyEnabled      bool
	RequireClearance   bool
	MaxSafeSpeed       float64
	MaxSafeAccel       float64
	CollisionThreshold float64
	UnlockDelayTicks   uint64
}

func ConfigFromTuning(t tuning.Tuning) Config {
	return Config{
		TickRateHz:                   t.TickRateHz,
		MaxActiveTrains:              t.MaxActiveTrains,
		DispatchIntervalTicks:        t.DispatchIntervalTicks,
		LoadTicks:                    t.LoadTicks,
		UnloadTicks:                  t.UnloadTicks,
		MinBlockClearance:            t.MinBlockClearanceDistance,
		NormalSpeed:                  t.NormalSpeed,
		ReverseSpeed:                 t.ReverseSpeed,
		BrakeZoneSpeed:               t.BrakeZoneSpeed,
		ServiceBrake:                 t.ServiceBrake,
		EmergencyBrake:               t.EmergencyBrake,
		StopTimeoutTicks:             t.StopTimeoutTicks,
		ReverseHoldTicks:             t.ReverseHoldTicks,
		ReturnHoldTicks:              t.ReturnHoldTicks,
		ReverseClearanceTimeoutTicks: t.ReverseClearanceTimeoutTicks,
		SafetyEnabled:                t.Safety.Enabled,
		RequireClearance:             t.Safety.RequireClearance,
		MaxSafeSpeed:                 t.Safety.MaxSpeed,
		MaxSafeAccel:                 t.Safety.MaxAccel,
		CollisionThreshold:           t.Safety.CollisionThreshold,
		UnlockDelayTicks:             t.Safety.UnlockDelayTicks,
	}
}
