package protocol

// Event is a single state-change record published on the ride event
// bus and fanned out to observers. Events are fire-and-forget and
// delivered at least once; consumers must be idempotent.
type Event map[string]interface{}

// Event types.
const (
	EvRideModeChanged       = "RIDE_MODE_CHANGED"
	EvTrainDispatched       = "TRAIN_DISPATCHED"
	EvTrainCompleted        = "TRAIN_COMPLETED"
	EvBlockOccupancyChanged = "BLOCK_OCCUPANCY_CHANGED"
	EvDeviceStateChanged    = "DEVICE_STATE_CHANGED"
	EvDevicePositionChanged = "DEVICE_POSITION_CHANGED"
	EvEmergencyStopRaised   = "EMERGENCY_STOP_RAISED"
	EvSequenceTriggered     = "SEQUENCE_TRIGGERED"
	EvSafetyViolation       = "SAFETY_VIOLATION"
	EvReverseAborted        = "REVERSE_ABORTED"
	EvCommandResult         = "COMMAND_RESULT"
)

// Sequence names carried by SEQUENCE_TRIGGERED.
const (
	SeqNormal  = "normal"
	SeqReverse = "reverse"
	SeqReturn  = "return"
)
