package ride

import (
	"fmt"

	"rideloop/internal/sim/motion"
)

// Vehicle is a pooled physical train. The Mover is its movement
// collaborator; the core never integrates physics itself.
type Vehicle struct {
	ID    string
	Mover motion.Mover
}

type RunState string

const (
	RunLoading       RunState = "LOADING"
	RunReady         RunState = "READY"
	RunMoving        RunState = "MOVING"
	RunBraking       RunState = "BRAKING"
	RunStopped       RunState = "STOPPED"
	RunEmergencyStop RunState = "EMERGENCY_STOP"
)

// VehicleRun is the lifetime record of one vehicle's trip through the
// block sequence. It is owned by the dispatch scheduler and referenced
// by block sections and the reverse orchestrator.
type VehicleRun struct {
	ID      string
	Vehicle *Vehicle

	CurrentBlock int
	TargetBlock  int

	DispatchedTick uint64
	CompletedTick  uint64

	// EstimatedDoneTick is a nominal completion time fixed at
	// dispatch: load, one lap at normal speed, unload.
	EstimatedDoneTick uint64

	Reversed  bool
	Completed bool

	state RunState

	// Cached from the movement collaborator each tick.
	lastPos   motion.Vec3
	lastSpeed float64

	// lapStarted flips when the run first leaves its spawn block, so
	// re-entering block 0 means the circuit is finished.
	lapStarted bool
	unloading  bool

	loadTimer      TimerID
	hasLoadTimer   bool
	unloadTimer    TimerID
	hasUnloadTimer bool
	stopTimer      TimerID
	hasStopTimer   bool
}

func (vr *VehicleRun) State() RunState      { return vr.state }
func (vr *VehicleRun) LastSpeed() float64   { return vr.lastSpeed }
func (vr *VehicleRun) LastPos() motion.Vec3 { return vr.lastPos }

// commandSpeed sends the mover a cruise command honoring the run's
// travel direction.
func (vr *VehicleRun) commandSpeed(speed float64) {
	if vr.Reversed {
		speed = -speed
	}
	vr.Vehicle.Mover.SetTargetSpeed(speed)
}

// start transitions Loading/Ready into Moving and issues the initial
// speed command.
func (vr *VehicleRun) start(speed float64) error {
	if vr.state != RunLoading && vr.state != RunReady {
		return fmt.Errorf("run %s: start from %s: %w", vr.ID, vr.state, ErrBadState)
	}
	vr.state = RunMoving
	vr.commandSpeed(speed)
	return nil
}

// stop issues service braking; the deceleration to zero is observed
// externally (speed polling, or the stop timeout).
func (vr *VehicleRun) stop(brake float64) error {
	if vr.state != RunMoving {
		return fmt.Errorf("run %s: stop from %s: %w", vr.ID, vr.state, ErrBadState)
	}
	vr.state = RunBraking
	vr.Vehicle.Mover.ApplyBrake(brake)
	return nil
}

// emergencyStop forces EMERGENCY_STOP from any state with maximum
// braking and cancels every pending run timer.
func (vr *VehicleRun) emergencyStop(brake float64, timers *Timers) {
	vr.cancelTimers(timers)
	vr.state = RunEmergencyStop
	vr.Vehicle.Mover.ApplyBrake(brake)
}

// resetEmergency returns the run to READY; the only way out of
// EMERGENCY_STOP.
func (vr *VehicleRun) resetEmergency() error {
	if vr.state != RunEmergencyStop {
		return fmt.Errorf("run %s: reset from %s: %w", vr.ID, vr.state, ErrBadState)
	}
	vr.state = RunReady
	return nil
}

func (vr *VehicleRun) cancelTimers(timers *Timers) {
	if vr.hasLoadTimer {
		timers.Cancel(vr.loadTimer)
		vr.hasLoadTimer = false
	}
	if vr.hasUnloadTimer {
		timers.Cancel(vr.unloadTimer)
		vr.hasUnloadTimer = false
	}
	if vr.hasStopTimer {
		timers.Cancel(vr.stopTimer)
		vr.hasStopTimer = false
	}
}
