package ride

import (
	"fmt"
	"math"

	"rideloop/internal/protocol"
	"rideloop/internal/sim/layout"
	"rideloop/internal/sim/motion"
)

type DeviceKind string

const (
	KindSwitch    DeviceKind = "SWITCH"
	KindTurntable DeviceKind = "TURNTABLE"
)

type DeviceState string

const (
	DeviceIdle        DeviceState = "IDLE"
	DeviceMoving      DeviceState = "MOVING"
	DeviceLocked      DeviceState = "LOCKED"
	DeviceError       DeviceState = "ERROR"
	DeviceMaintenance DeviceState = "MAINTENANCE"
)

// Geometry computes how long a device takes to travel between two of
// its selectable positions. The state machine is identical for every
// device kind; only this strategy differs.
type Geometry interface {
	// MoveDuration returns seconds of motion between position indices.
	MoveDuration(from, to int) float64
	Positions() int
}

// Rotary geometry: positions are angles in degrees, motion takes the
// shorter arc.
type Rotary struct {
	Angles        []float64
	DegreesPerSec float64
}

func (g Rotary) Positions() int { return len(g.Angles) }

func (g Rotary) MoveDuration(from, to int) float64 {
	d := math.Abs(g.Angles[to] - g.Angles[from])
	d = math.Mod(d, 360)
	if d > 180 {
		d = 360 - d
	}
	return d / g.DegreesPerSec
}

// Linear geometry: positions are offsets along a throw axis.
type Linear struct {
	Offsets     []float64
	UnitsPerSec float64
}

func (g Linear) Positions() int { return len(g.Offsets) }

func (g Linear) MoveDuration(from, to int) float64 {
	return math.Abs(g.Offsets[to]-g.Offsets[from]) / g.UnitsPerSec
}

// ClearanceFunc reports whether any vehicle is inside the sphere of
// the given radius around origin. Queried before a device may move.
type ClearanceFunc func(origin motion.Vec3, radius float64) bool

// MovableDevice is the shared state machine for switch-type and
// turntable-type track devices. A position change may only begin from
// IDLE, never while locked or in maintenance.
type MovableDevice struct {
	ID           string
	Kind         DeviceKind
	Origin       motion.Vec3
	SafetyRadius float64

	geom Geometry

	state  DeviceState
	pos    int
	target int

	lockPending bool

	moveTimer      TimerID
	hasMoveTimer   bool
	unlockTimer    TimerID
	hasUnlockTimer bool

	requireClearance bool
	obstructed       ClearanceFunc

	tickRate         int
	unlockDelayTicks uint64

	timers  *Timers
	publish func(protocol.Event)
}

type deviceDeps struct {
	timers           *Timers
	publish          func(protocol.Event)
	obstructed       ClearanceFunc
	requireClearance bool
	tickRate         int
	unlockDelayTicks uint64
}

func newDevice(ld layout.Device, deps deviceDeps) (*MovableDevice, error) {
	var geom Geometry
	switch DeviceKind(ld.Kind) {
	case KindTurntable:
		geom = Rotary{Angles: ld.Positions, DegreesPerSec: ld.Speed}
	case KindSwitch:
		geom = Linear{Offsets: ld.Positions, UnitsPerSec: ld.Speed}
	default:
		return nil, fmt.Errorf("device %s: unknown kind %q: %w", ld.ID, ld.Kind, ErrBadState)
	}
	return &MovableDevice{
		ID:               ld.ID,
		Kind:             DeviceKind(ld.Kind),
		Origin:           motion.Vec3{X: ld.Origin[0], Y: ld.Origin[1], Z: ld.Origin[2]},
		SafetyRadius:     ld.SafetyRadius,
		geom:             geom,
		state:            DeviceIdle,
		requireClearance: deps.requireClearance,
		obstructed:       deps.obstructed,
		tickRate:         deps.tickRate,
		unlockDelayTicks: deps.unlockDelayTicks,
		timers:           deps.timers,
		publish:          deps.publish,
	}, nil
}

func (d *MovableDevice) State() DeviceState { return d.state }
func (d *MovableDevice) Position() int      { return d.pos }
func (d *MovableDevice) Target() int        { return d.target }

// AtPosition reports whether the device sits idle (or locked) at the
// given position; used by block routing checks.
func (d *MovableDevice) AtPosition(index int) bool {
	if d.state != DeviceIdle && d.state != DeviceLocked {
		return false
	}
	return d.pos == index
}

// RequestPosition starts a timed motion toward the target index. The
// request is rejected without a state change when the device is
// moving, locked, in maintenance or errored, and with
// ErrSafetyViolation when a required clearance check fails.
func (d *MovableDevice) RequestPosition(target int, nowTick uint64) error {
	if target < 0 || target >= d.geom.Positions() {
		return fmt.Errorf("device %s position %d: %w", d.ID, target, ErrInvalidIndex)
	}
	switch d.state {
	case DeviceMoving:
		return fmt.Errorf("device %s: %w", d.ID, ErrDeviceBusy)
	case DeviceLocked:
		return fmt.Errorf("device %s: %w", d.ID, ErrDeviceLocked)
	case DeviceMaintenance:
		return fmt.Errorf("device %s: %w", d.ID, ErrDeviceMaintenance)
	case DeviceError:
		return fmt.Errorf("device %s: %w", d.ID, ErrEmergency)
	}
	if target == d.pos {
		return nil
	}
	if d.requireClearance && d.obstructed != nil && d.obstructed(d.Origin, d.SafetyRadius) {
		d.publish(protocol.Event{
			"t":         nowTick,
			"type":      protocol.EvSafetyViolation,
			"device_id": d.ID,
			"detail":    "vehicle inside safety zone",
		})
		return fmt.Errorf("device %s: %w", d.ID, ErrSafetyViolation)
	}

	d.target = target
	d.setState(DeviceMoving, nowTick)
	ticks := d.durationTicks(d.geom.MoveDuration(d.pos, target))
	d.moveTimer = d.timers.Schedule(nowTick+ticks, d.completeMove)
	d.hasMoveTimer = true
	return nil
}

func (d *MovableDevice) completeMove(nowTick uint64) {
	d.hasMoveTimer = false
	d.pos = d.target
	if d.lockPending {
		d.lockPending = false
		d.setState(DeviceLocked, nowTick)
	} else {
		d.setState(DeviceIdle, nowTick)
	}
	d.publish(protocol.Event{
		"t":         nowTick,
		"type":      protocol.EvDevicePositionChanged,
		"device_id": d.ID,
		"index":     d.pos,
	})
}

// Lock freezes the device. Locking mid-motion latches: the device
// finishes its move and lands in LOCKED.
func (d *MovableDevice) Lock(nowTick uint64) error {
	switch d.state {
	case DeviceLocked:
		return nil
	case DeviceMoving:
		d.lockPending = true
		return nil
	case DeviceIdle:
		d.setState(DeviceLocked, nowTick)
		return nil
	case DeviceMaintenance:
		return fmt.Errorf("device %s: %w", d.ID, ErrDeviceMaintenance)
	default:
		return fmt.Errorf("device %s: %w", d.ID, ErrEmergency)
	}
}

// Unlock returns the device to IDLE after the configured unlock delay.
func (d *MovableDevice) Unlock(nowTick uint64) error {
	if d.state == DeviceMoving && d.lockPending {
		d.lockPending = false
		return nil
	}
	if d.state != DeviceLocked {
		return fmt.Errorf("device %s: unlock from %s: %w", d.ID, d.state, ErrBadState)
	}
	if d.hasUnlockTimer {
		return nil
	}
	d.unlockTimer = d.timers.Schedule(nowTick+d.unlockDelayTicks, func(now uint64) {
		d.hasUnlockTimer = false
		if d.state == DeviceLocked {
			d.setState(DeviceIdle, now)
		}
	})
	d.hasUnlockTimer = true
	return nil
}

// EmergencyStop cancels any in-progress motion and forces ERROR,
// whatever the prior state.
func (d *MovableDevice) EmergencyStop(nowTick uint64) {
	if d.hasMoveTimer {
		d.timers.Cancel(d.moveTimer)
		d.hasMoveTimer = false
	}
	if d.hasUnlockTimer {
		d.timers.Cancel(d.unlockTimer)
		d.hasUnlockTimer = false
	}
	d.lockPending = false
	d.setState(DeviceError, nowTick)
}

// ResetError is the only exit from ERROR.
func (d *MovableDevice) ResetError(nowTick uint64) error {
	if d.state != DeviceError {
		return fmt.Errorf("device %s: reset from %s: %w", d.ID, d.state, ErrBadState)
	}
	d.setState(DeviceIdle, nowTick)
	return nil
}

// SetMaintenance enters or leaves maintenance; entry is refused while
// the device is moving.
func (d *MovableDevice) SetMaintenance(on bool, nowTick uint64) error {
	if on {
		if d.state == DeviceMoving {
			return fmt.Errorf("device %s: %w", d.ID, ErrDeviceBusy)
		}
		if d.state == DeviceMaintenance {
			return nil
		}
		if d.hasUnlockTimer {
			d.timers.Cancel(d.unlockTimer)
			d.hasUnlockTimer = false
		}
		d.setState(DeviceMaintenance, nowTick)
		return nil
	}
	if d.state != DeviceMaintenance {
		return fmt.Errorf("device %s: leave maintenance from %s: %w", d.ID, d.state, ErrBadState)
	}
	d.setState(DeviceIdle, nowTick)
	return nil
}

func (d *MovableDevice) setState(s DeviceState, nowTick uint64) {
	if d.state == s {
		return
	}
	d.state = s
	d.publish(protocol.Event{
		"t":         nowTick,
		"type":      protocol.EvDeviceStateChanged,
		"device_id": d.ID,
		"state":     string(s),
	})
}

func (d *MovableDevice) durationTicks(seconds float64) uint64 {
	t := math.Ceil(seconds * float64(d.tickRate))
	if t < 1 {
		t = 1
	}
	return uint64(t)
}
