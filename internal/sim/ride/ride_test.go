package ride

import (
	"testing"

	"rideloop/internal/protocol"
	"rideloop/internal/sim/layout"
)

func TestRide_NewValidation(t *testing.T) {
	lay := testLayout()
	pool := []*Vehicle{{ID: "V1", Mover: &stubMover{}}}

	if _, err := New(testConfig(), lay, nil); err == nil {
		t.Fatalf("empty pool accepted")
	}

	cfg := testConfig()
	cfg.TickRateHz = 0
	if _, err := New(cfg, lay, pool); err == nil {
		t.Fatalf("zero tick rate accepted")
	}

	bad := testLayout()
	bad.Blocks[2].RequiresDevice = &layout.DeviceRequirement{ID: "ghost", Position: 0}
	if _, err := New(testConfig(), bad, pool); err == nil {
		t.Fatalf("dangling device reference accepted")
	}
}

func TestRide_DeviceGatesBlockEntry(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxActiveTrains = 1 })
	vr := h.startAndDispatch()
	h.advance(vr, 1)

	// Turn the turntable away from the route while the vehicle is
	// outside its safety zone. A half turn at 90 deg/s takes 10 ticks.
	h.step(Command{Kind: CmdDevicePosition, Device: "turntable_a", Position: 2})
	h.steps(10)
	tt := h.ride.Device("turntable_a")
	if tt.State() != DeviceIdle || tt.Position() != 2 {
		t.Fatalf("turntable: state=%s pos=%d", tt.State(), tt.Position())
	}

	// The run must hold on block 1 even when parked at the block 2
	// entry.
	b1, _ := h.ride.blocks.Block(1)
	b2, _ := h.ride.blocks.Block(2)
	h.mover(vr).pos = b2.EntryPoint()
	h.steps(3)
	if vr.CurrentBlock != 1 {
		t.Fatalf("run advanced through a misaligned device: block %d", vr.CurrentBlock)
	}

	// Parked at the entry the vehicle is inside the safety zone, so a
	// realign request is refused.
	h.clearEvents()
	h.step(Command{Kind: CmdDevicePosition, Device: "turntable_a", Position: 0})
	if len(h.eventsOf(protocol.EvSafetyViolation)) != 1 {
		t.Fatalf("expected a safety violation for a move under a parked vehicle")
	}

	// Back the vehicle off, realign, and entry resumes.
	h.mover(vr).pos = b1.EntryPoint()
	h.step(Command{Kind: CmdDevicePosition, Device: "turntable_a", Position: 0})
	h.steps(10)
	h.mover(vr).pos = b2.EntryPoint()
	h.step()
	if vr.CurrentBlock != 2 {
		t.Fatalf("run did not advance after device realigned: block %d", vr.CurrentBlock)
	}
}

func TestRide_OccupiedBlockGatesEntry(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxActiveTrains = 1 })
	vr := h.startAndDispatch()
	h.advance(vr, 1)

	parked := &VehicleRun{ID: "parked"}
	if err := h.ride.blocks.Claim(2, parked, 0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	b2, _ := h.ride.blocks.Block(2)
	h.mover(vr).pos = b2.EntryPoint()
	h.steps(5)
	if vr.CurrentBlock != 1 {
		t.Fatalf("run entered an occupied block")
	}

	h.ride.blocks.Release(2, h.ride.CurrentTick())
	h.step()
	if vr.CurrentBlock != 2 {
		t.Fatalf("run did not enter after the block cleared")
	}
}

func TestRide_BlockSpeedCommands(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxActiveTrains = 1 })
	vr := h.startAndDispatch()
	m := h.mover(vr)

	// Initial start command uses the cruise speed.
	if m.target != h.ride.cfg.NormalSpeed {
		t.Fatalf("initial speed: %v", m.target)
	}

	h.advance(vr, 1)
	h.advance(vr, 2)
	h.advance(vr, 3)
	// Block 3 carries a brake zone with its own limit.
	if m.target != 2.5 {
		t.Fatalf("brake-zone speed: %v", m.target)
	}
}

func TestRide_ClearanceDistanceGatesEntry(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxActiveTrains = 1 })
	vr := h.startAndDispatch()
	h.advance(vr, 1)

	// Parked short of the block 2 entry, outside the clearance
	// distance.
	b2, _ := h.ride.blocks.Block(2)
	entry := b2.EntryPoint()
	m := h.mover(vr)
	m.pos = entry
	m.pos.Z -= h.ride.cfg.MinBlockClearance + 1
	h.steps(3)
	if vr.CurrentBlock != 1 {
		t.Fatalf("run advanced from outside the clearance distance")
	}

	m.pos = entry
	h.step()
	if vr.CurrentBlock != 2 {
		t.Fatalf("run did not advance at the entry point")
	}
}

func TestRide_AttachObserver(t *testing.T) {
	h := newHarness(t)

	out := make(chan []byte, 4)
	resp := make(chan AttachResponse, 1)
	h.ride.handleAttach(AttachRequest{Name: "panel", Out: out, Resp: resp})
	welcome := (<-resp).Welcome

	if welcome.Type != protocol.TypeWelcome || welcome.SessionID == "" {
		t.Fatalf("welcome: %+v", welcome)
	}
	if welcome.RideParams.Blocks != 4 || len(welcome.RideParams.Devices) != 2 {
		t.Fatalf("ride params: %+v", welcome.RideParams)
	}

	h.step(Command{Kind: CmdStart})
	select {
	case frame := <-out:
		if len(frame) == 0 {
			t.Fatalf("empty event batch frame")
		}
	default:
		t.Fatalf("no event batch delivered to observer")
	}
}

func TestRide_SendLatestDropsWhenSlow(t *testing.T) {
	ch := make(chan []byte, 1)
	sendLatest(ch, []byte("a"))
	sendLatest(ch, []byte("b"))

	got := <-ch
	if string(got) != "b" {
		t.Fatalf("slow observer should see the newest frame, got %q", got)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra frame %q", extra)
	default:
	}
}
