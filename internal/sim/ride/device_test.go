package ride

import (
	"errors"
	"testing"

	"rideloop/internal/protocol"
	"rideloop/internal/sim/layout"
	"rideloop/internal/sim/motion"
)

type deviceFixture struct {
	dev    *MovableDevice
	timers *Timers
	events []protocol.Event

	blocked bool
}

func newDeviceFixture(t *testing.T, ld layout.Device) *deviceFixture {
	t.Helper()
	f := &deviceFixture{timers: NewTimers()}
	dev, err := newDevice(ld, deviceDeps{
		timers:           f.timers,
		publish:          func(e protocol.Event) { f.events = append(f.events, e) },
		obstructed:       func(motion.Vec3, float64) bool { return f.blocked },
		requireClearance: true,
		tickRate:         5,
		unlockDelayTicks: 2,
	})
	if err != nil {
		t.Fatalf("new device: %v", err)
	}
	f.dev = dev
	return f
}

func turntableSpec() layout.Device {
	return layout.Device{
		ID: "tt", Kind: "TURNTABLE",
		Positions: []float64{0, 90, 180, 270}, Speed: 90.0, SafetyRadius: 3.0,
	}
}

func switchSpec() layout.Device {
	return layout.Device{
		ID: "sw", Kind: "SWITCH",
		Positions: []float64{0, 1.5}, Speed: 0.5, SafetyRadius: 2.0,
	}
}

func TestRotary_ShortestArc(t *testing.T) {
	g := Rotary{Angles: []float64{0, 90, 180, 270}, DegreesPerSec: 90}

	// 0 -> 180 is a half turn either way: 2 seconds.
	if d := g.MoveDuration(0, 2); d != 2.0 {
		t.Fatalf("0->180: %v", d)
	}
	// 0 -> 270 goes the short way (90 degrees back).
	if d := g.MoveDuration(0, 3); d != 1.0 {
		t.Fatalf("0->270: %v", d)
	}
	if d := g.MoveDuration(1, 1); d != 0 {
		t.Fatalf("same position: %v", d)
	}
}

func TestLinear_ThrowDuration(t *testing.T) {
	g := Linear{Offsets: []float64{0, 1.5}, UnitsPerSec: 0.5}
	if d := g.MoveDuration(0, 1); d != 3.0 {
		t.Fatalf("throw duration: %v", d)
	}
	if d := g.MoveDuration(1, 0); d != 3.0 {
		t.Fatalf("return duration: %v", d)
	}
}

func TestDevice_TimedMove(t *testing.T) {
	f := newDeviceFixture(t, turntableSpec())

	// Half turn at 90 deg/s and 5 ticks/s: 10 ticks of motion.
	if err := f.dev.RequestPosition(2, 100); err != nil {
		t.Fatalf("request: %v", err)
	}
	if f.dev.State() != DeviceMoving {
		t.Fatalf("state after request: %s", f.dev.State())
	}

	f.timers.Advance(109)
	if f.dev.State() != DeviceMoving {
		t.Fatalf("move completed early")
	}
	f.timers.Advance(110)
	if f.dev.State() != DeviceIdle || f.dev.Position() != 2 {
		t.Fatalf("after move: state=%s pos=%d", f.dev.State(), f.dev.Position())
	}

	found := false
	for _, e := range f.events {
		if e["type"] == protocol.EvDevicePositionChanged && e["index"] == 2 {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing position-changed event: %v", f.events)
	}
}

func TestDevice_RequestGuards(t *testing.T) {
	f := newDeviceFixture(t, turntableSpec())

	if err := f.dev.RequestPosition(9, 0); !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("out of range: %v", err)
	}
	// Requesting the current position is a no-op, not an error.
	if err := f.dev.RequestPosition(0, 0); err != nil {
		t.Fatalf("same position: %v", err)
	}

	if err := f.dev.RequestPosition(1, 0); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := f.dev.RequestPosition(2, 1); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("while moving: %v", err)
	}
	f.timers.Advance(100)

	if err := f.dev.Lock(101); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := f.dev.RequestPosition(2, 102); !errors.Is(err, ErrDeviceLocked) {
		t.Fatalf("while locked: %v", err)
	}
}

func TestDevice_ClearanceViolation(t *testing.T) {
	f := newDeviceFixture(t, turntableSpec())
	f.blocked = true

	err := f.dev.RequestPosition(1, 50)
	if !errors.Is(err, ErrSafetyViolation) {
		t.Fatalf("expected ErrSafetyViolation, got %v", err)
	}
	if f.dev.State() != DeviceIdle {
		t.Fatalf("refused request changed state: %s", f.dev.State())
	}
	if len(f.eventsOf(protocol.EvSafetyViolation)) != 1 {
		t.Fatalf("expected one safety violation event")
	}

	f.blocked = false
	if err := f.dev.RequestPosition(1, 51); err != nil {
		t.Fatalf("request after zone cleared: %v", err)
	}
}

func (f *deviceFixture) eventsOf(typ string) []protocol.Event {
	var out []protocol.Event
	for _, e := range f.events {
		if e["type"] == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestDevice_LockLatchesDuringMove(t *testing.T) {
	f := newDeviceFixture(t, switchSpec())

	if err := f.dev.RequestPosition(1, 0); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := f.dev.Lock(1); err != nil {
		t.Fatalf("lock mid-move: %v", err)
	}
	if f.dev.State() != DeviceMoving {
		t.Fatalf("lock should latch, not interrupt: %s", f.dev.State())
	}

	f.timers.Advance(100)
	if f.dev.State() != DeviceLocked || f.dev.Position() != 1 {
		t.Fatalf("after latched lock: state=%s pos=%d", f.dev.State(), f.dev.Position())
	}
}

func TestDevice_UnlockDelay(t *testing.T) {
	f := newDeviceFixture(t, switchSpec())
	if err := f.dev.Lock(10); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := f.dev.Unlock(10); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if f.dev.State() != DeviceLocked {
		t.Fatalf("unlock should be delayed, state=%s", f.dev.State())
	}
	f.timers.Advance(11)
	if f.dev.State() != DeviceLocked {
		t.Fatalf("unlocked one tick early")
	}
	f.timers.Advance(12)
	if f.dev.State() != DeviceIdle {
		t.Fatalf("still locked after delay: %s", f.dev.State())
	}
}

func TestDevice_EmergencyStopAndReset(t *testing.T) {
	f := newDeviceFixture(t, turntableSpec())

	if err := f.dev.RequestPosition(2, 0); err != nil {
		t.Fatalf("request: %v", err)
	}
	f.dev.EmergencyStop(3)
	if f.dev.State() != DeviceError {
		t.Fatalf("state after estop: %s", f.dev.State())
	}

	// The canceled move timer must not land the device anywhere.
	f.timers.Advance(100)
	if f.dev.State() != DeviceError || f.dev.Position() != 0 {
		t.Fatalf("canceled move completed: state=%s pos=%d", f.dev.State(), f.dev.Position())
	}

	if err := f.dev.RequestPosition(1, 101); !errors.Is(err, ErrEmergency) {
		t.Fatalf("request in ERROR: %v", err)
	}
	if err := f.dev.ResetError(102); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if f.dev.State() != DeviceIdle {
		t.Fatalf("state after reset: %s", f.dev.State())
	}
	if err := f.dev.ResetError(103); !errors.Is(err, ErrBadState) {
		t.Fatalf("reset from IDLE: %v", err)
	}
}

func TestDevice_Maintenance(t *testing.T) {
	f := newDeviceFixture(t, switchSpec())

	if err := f.dev.SetMaintenance(true, 0); err != nil {
		t.Fatalf("enter maintenance: %v", err)
	}
	if err := f.dev.RequestPosition(1, 1); !errors.Is(err, ErrDeviceMaintenance) {
		t.Fatalf("request in maintenance: %v", err)
	}
	if err := f.dev.Lock(2); !errors.Is(err, ErrDeviceMaintenance) {
		t.Fatalf("lock in maintenance: %v", err)
	}
	if err := f.dev.SetMaintenance(false, 3); err != nil {
		t.Fatalf("leave maintenance: %v", err)
	}

	// Entry is refused mid-motion.
	if err := f.dev.RequestPosition(1, 4); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := f.dev.SetMaintenance(true, 5); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("maintenance while moving: %v", err)
	}
}
