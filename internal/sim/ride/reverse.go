package ride

import (
	"fmt"

	"rideloop/internal/protocol"
)

type ReversePhase string

const (
	PhaseForward           ReversePhase = "FORWARD"
	PhaseAwaitingClearance ReversePhase = "AWAITING_CLEARANCE"
	PhaseReversing         ReversePhase = "REVERSING"
	PhaseReverseHold       ReversePhase = "REVERSE_HOLD"
	PhaseReturnToForward   ReversePhase = "RETURN_TO_FORWARD"
)

// Reverser choreographs the ride-wide direction reversal. It is the
// only component that drives RideMode between NORMAL and REVERSE.
// An emergency stop or maintenance request interrupts the sequence at
// any phase; it never auto-resumes.
type Reverser struct {
	r *Ride

	phase     ReversePhase
	startTick uint64

	// clearSeenTick is the tick of the last AllClear observation; the
	// phase only advances on a strictly later tick that still reports
	// clear.
	clearSeen     bool
	clearSeenTick uint64

	holdTimer    TimerID
	hasHoldTimer bool
}

func newReverser(r *Ride) *Reverser {
	return &Reverser{r: r, phase: PhaseForward}
}

func (rv *Reverser) Phase() ReversePhase { return rv.phase }

// Begin starts the reversal sequence: suspend dispatching and wait
// for every block to clear.
func (rv *Reverser) Begin(nowTick uint64) error {
	if rv.phase != PhaseForward {
		return fmt.Errorf("reverse sequence in phase %s: %w", rv.phase, ErrBadState)
	}
	if rv.r.mode != ModeNormal {
		return fmt.Errorf("reverse from mode %s: %w", rv.r.mode, ErrBadState)
	}
	rv.r.setMode(ModeReverse, nowTick)
	rv.phase = PhaseAwaitingClearance
	rv.startTick = nowTick
	rv.clearSeen = false
	return nil
}

func (rv *Reverser) tick(nowTick uint64) {
	if rv.phase != PhaseAwaitingClearance {
		return
	}

	if t := rv.r.cfg.ReverseClearanceTimeoutTicks; t > 0 && nowTick-rv.startTick >= t {
		rv.abort(nowTick)
		return
	}

	if !rv.r.blocks.AllClear() {
		rv.clearSeen = false
		return
	}
	if !rv.clearSeen {
		rv.clearSeen = true
		rv.clearSeenTick = nowTick
		return
	}
	if nowTick > rv.clearSeenTick {
		rv.enterReversing(nowTick)
	}
}

func (rv *Reverser) enterReversing(nowTick uint64) {
	rv.phase = PhaseReversing

	for _, vr := range rv.r.dispatcher.ActiveRuns() {
		vr.Reversed = true
		vr.commandSpeed(rv.r.cfg.ReverseSpeed)
	}
	rv.r.blocks.SetReversed(true)
	rv.r.bus.Publish(protocol.Event{
		"t":    nowTick,
		"type": protocol.EvSequenceTriggered,
		"name": protocol.SeqReverse,
	})

	rv.phase = PhaseReverseHold
	rv.holdTimer = rv.r.timers.Schedule(nowTick+rv.r.cfg.ReverseHoldTicks, rv.enterReturn)
	rv.hasHoldTimer = true
}

func (rv *Reverser) enterReturn(nowTick uint64) {
	rv.hasHoldTimer = false
	rv.phase = PhaseReturnToForward

	for _, vr := range rv.r.dispatcher.ActiveRuns() {
		vr.Reversed = false
		vr.commandSpeed(rv.r.cfg.NormalSpeed)
	}
	rv.r.blocks.SetReversed(false)
	rv.r.bus.Publish(protocol.Event{
		"t":    nowTick,
		"type": protocol.EvSequenceTriggered,
		"name": protocol.SeqReturn,
	})

	rv.holdTimer = rv.r.timers.Schedule(nowTick+rv.r.cfg.ReturnHoldTicks, rv.finish)
	rv.hasHoldTimer = true
}

func (rv *Reverser) finish(nowTick uint64) {
	rv.hasHoldTimer = false
	rv.phase = PhaseForward
	rv.r.setMode(ModeNormal, nowTick)
	rv.r.bus.Publish(protocol.Event{
		"t":    nowTick,
		"type": protocol.EvSequenceTriggered,
		"name": protocol.SeqNormal,
	})
}

// abort fires when the clearance wait exceeds its configured bound (a
// stuck vehicle would otherwise stall the sequence forever).
func (rv *Reverser) abort(nowTick uint64) {
	rv.phase = PhaseForward
	rv.clearSeen = false
	rv.r.setMode(ModeNormal, nowTick)
	rv.r.bus.Publish(protocol.Event{
		"t":      nowTick,
		"type":   protocol.EvReverseAborted,
		"detail": "block clearance wait timed out",
	})
}

// interrupt cancels the sequence wherever it is. The caller decides
// the resulting ride mode; the orchestrator must be explicitly
// restarted afterwards. If the interruption lands between the flip
// and the return, the reversed flags are restored so the round trip
// leaves no block or run inverted.
func (rv *Reverser) interrupt(nowTick uint64) {
	if rv.hasHoldTimer {
		rv.r.timers.Cancel(rv.holdTimer)
		rv.hasHoldTimer = false
	}
	if rv.phase == PhaseReversing || rv.phase == PhaseReverseHold {
		for _, vr := range rv.r.dispatcher.ActiveRuns() {
			vr.Reversed = false
		}
		rv.r.blocks.SetReversed(false)
	}
	rv.phase = PhaseForward
	rv.clearSeen = false
}
