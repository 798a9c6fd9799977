package ride

import (
	"fmt"
	"testing"

	"rideloop/internal/protocol"
)

func TestErrorCode_WrappedErrors(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{nil, ""},
		{ErrInvalidIndex, protocol.ErrInvalidIndex},
		{fmt.Errorf("block 3: %w", ErrBlockOccupied), protocol.ErrBlockOccupied},
		{fmt.Errorf("device sw: %w", ErrDeviceBusy), protocol.ErrDeviceBusy},
		{fmt.Errorf("device sw: %w", ErrDeviceLocked), protocol.ErrDeviceLocked},
		{fmt.Errorf("device sw: %w", ErrDeviceMaintenance), protocol.ErrDeviceMaintenance},
		{fmt.Errorf("zone: %w", ErrSafetyViolation), protocol.ErrSafetyViolation},
		{ErrEmergency, protocol.ErrEmergency},
		{fmt.Errorf("start from STOPPED: %w", ErrBadState), protocol.ErrBadRequest},
		{fmt.Errorf("boom"), protocol.ErrInternal},
	}
	for _, c := range cases {
		if got := ErrorCode(c.err); got != c.code {
			t.Fatalf("ErrorCode(%v) = %q, want %q", c.err, got, c.code)
		}
	}
	for _, c := range cases {
		if !protocol.IsKnownCode(c.code) {
			t.Fatalf("code %q not registered in the protocol", c.code)
		}
	}
}
