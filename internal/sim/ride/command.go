package ride

import (
	"fmt"

	"rideloop/internal/protocol"
)

type CommandKind string

const (
	// Ride lifecycle.
	CmdStart          CommandKind = "START"
	CmdStop           CommandKind = "STOP"
	CmdReverse        CommandKind = "REVERSE"
	CmdEmergencyStop  CommandKind = "ESTOP"
	CmdResetEmergency CommandKind = "RESET"
	CmdMaintenance    CommandKind = "MAINTENANCE"
	CmdTesting        CommandKind = "TESTING"

	// Device control.
	CmdDevicePosition    CommandKind = "DEVICE_POSITION"
	CmdDeviceLock        CommandKind = "DEVICE_LOCK"
	CmdDeviceReset       CommandKind = "DEVICE_RESET"
	CmdDeviceMaintenance CommandKind = "DEVICE_MAINTENANCE"
)

// Command is an operator request, applied at the tick boundary in
// receive order. Local rejections are reported as COMMAND_RESULT
// events, never silently dropped.
type Command struct {
	ReqID    string      `json:"req_id,omitempty"`
	Kind     CommandKind `json:"kind"`
	Device   string      `json:"device,omitempty"`
	Position int         `json:"position,omitempty"`
	On       bool        `json:"on,omitempty"`
}

func (r *Ride) applyCommand(cmd Command, nowTick uint64) {
	err := r.dispatchCommand(cmd, nowTick)
	e := protocol.Event{
		"t":    nowTick,
		"type": protocol.EvCommandResult,
		"ref":  cmd.ReqID,
		"kind": string(cmd.Kind),
		"ok":   err == nil,
	}
	if err != nil {
		e["code"] = ErrorCode(err)
		e["message"] = err.Error()
	}
	r.bus.Publish(e)
}

func (r *Ride) dispatchCommand(cmd Command, nowTick uint64) error {
	switch cmd.Kind {
	case CmdStart:
		if r.mode == ModeEmergency {
			return fmt.Errorf("ride in emergency: %w", ErrEmergency)
		}
		r.running = true
		return nil

	case CmdStop:
		r.running = false
		return nil

	case CmdReverse:
		return r.reverser.Begin(nowTick)

	case CmdEmergencyStop:
		r.raiseEmergency(nowTick, "operator", "manual emergency stop")
		return nil

	case CmdResetEmergency:
		return r.resetEmergency(nowTick)

	case CmdMaintenance:
		return r.setServiceMode(ModeMaintenance, cmd.On, nowTick)

	case CmdTesting:
		return r.setServiceMode(ModeTesting, cmd.On, nowTick)

	case CmdDevicePosition:
		d, err := r.commandDevice(cmd.Device)
		if err != nil {
			return err
		}
		return d.RequestPosition(cmd.Position, nowTick)

	case CmdDeviceLock:
		d, err := r.commandDevice(cmd.Device)
		if err != nil {
			return err
		}
		if cmd.On {
			return d.Lock(nowTick)
		}
		return d.Unlock(nowTick)

	case CmdDeviceReset:
		d, err := r.commandDevice(cmd.Device)
		if err != nil {
			return err
		}
		return d.ResetError(nowTick)

	case CmdDeviceMaintenance:
		d, err := r.commandDevice(cmd.Device)
		if err != nil {
			return err
		}
		return d.SetMaintenance(cmd.On, nowTick)

	default:
		return fmt.Errorf("unknown command %q: %w", cmd.Kind, ErrBadState)
	}
}

// setServiceMode toggles MAINTENANCE or TESTING. Entering either
// interrupts a running reverse sequence; leaving returns to NORMAL.
func (r *Ride) setServiceMode(m RideMode, on bool, nowTick uint64) error {
	if on {
		if r.mode == ModeEmergency {
			return fmt.Errorf("ride in emergency: %w", ErrEmergency)
		}
		r.reverser.interrupt(nowTick)
		r.setMode(m, nowTick)
		return nil
	}
	if r.mode != m {
		return fmt.Errorf("leave %s from %s: %w", m, r.mode, ErrBadState)
	}
	r.setMode(ModeNormal, nowTick)
	return nil
}

func (r *Ride) commandDevice(id string) (*MovableDevice, error) {
	d := r.deviceByID[id]
	if d == nil {
		return nil, fmt.Errorf("device %q: %w", id, ErrInvalidIndex)
	}
	return d, nil
}
