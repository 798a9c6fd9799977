package ride

import (
	"errors"

	"rideloop/internal/protocol"
)

// Expected contention: the operation is rejected and the caller may
// retry. Emergency is the exception — it is fatal to the current
// run/device until an explicit reset.
var (
	ErrInvalidIndex      = errors.New("invalid index")
	ErrBlockOccupied     = errors.New("block occupied")
	ErrDeviceBusy        = errors.New("device busy")
	ErrDeviceLocked      = errors.New("device locked")
	ErrDeviceMaintenance = errors.New("device in maintenance")
	ErrSafetyViolation   = errors.New("safety clearance violation")
	ErrEmergency         = errors.New("emergency condition")
	ErrBadState          = errors.New("invalid state for operation")
)

// ErrorCode maps a core error onto its wire code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidIndex):
		return protocol.ErrInvalidIndex
	case errors.Is(err, ErrBlockOccupied):
		return protocol.ErrBlockOccupied
	case errors.Is(err, ErrDeviceBusy):
		return protocol.ErrDeviceBusy
	case errors.Is(err, ErrDeviceLocked):
		return protocol.ErrDeviceLocked
	case errors.Is(err, ErrDeviceMaintenance):
		return protocol.ErrDeviceMaintenance
	case errors.Is(err, ErrSafetyViolation):
		return protocol.ErrSafetyViolation
	case errors.Is(err, ErrEmergency):
		return protocol.ErrEmergency
	case errors.Is(err, ErrBadState):
		return protocol.ErrBadRequest
	default:
		return protocol.ErrInternal
	}
}
