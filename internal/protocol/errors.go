package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Control layer: expected contention, caller may retry.
	ErrBadRequest        = "E_BAD_REQUEST"
	ErrInvalidIndex      = "E_INVALID_INDEX"
	ErrBlockOccupied     = "E_BLOCK_OCCUPIED"
	ErrDeviceBusy        = "E_DEVICE_BUSY"
	ErrDeviceLocked      = "E_DEVICE_LOCKED"
	ErrDeviceMaintenance = "E_DEVICE_MAINTENANCE"
	ErrSafetyViolation   = "E_SAFETY_VIOLATION"

	// Fatal to the current run/device, explicit reset required.
	ErrEmergency = "E_EMERGENCY"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:   {},
	ErrBadRequest:        {},
	ErrInvalidIndex:      {},
	ErrBlockOccupied:     {},
	ErrDeviceBusy:        {},
	ErrDeviceLocked:      {},
	ErrDeviceMaintenance: {},
	ErrSafetyViolation:   {},
	ErrEmergency:         {},
	ErrInternal:          {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
