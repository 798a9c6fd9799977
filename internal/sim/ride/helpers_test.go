package ride

import (
	"testing"

	"rideloop/internal/protocol"
	"rideloop/internal/sim/layout"
	"rideloop/internal/sim/motion"
)

// stubMover is a fully manual movement collaborator: commanded speeds
// take effect immediately and position only changes when a test moves
// it. Keeps block and run tests independent of any integration model.
type stubMover struct {
	pos          motion.Vec3
	speed        float64
	target       float64
	braking      bool
	collision    float64
	hasCollision bool

	// holdSpeed keeps the reported speed unchanged under braking, for
	// tests exercising the stop-observation timeout.
	holdSpeed bool
}

func (m *stubMover) Position() motion.Vec3 { return m.pos }
func (m *stubMover) Speed() float64        { return m.speed }

func (m *stubMover) SetTargetSpeed(v float64) {
	m.target = v
	m.speed = v
	m.braking = false
}

func (m *stubMover) ApplyBrake(decel float64) {
	m.target = 0
	m.braking = true
	if !m.holdSpeed {
		m.speed = 0
	}
}

func (m *stubMover) CollisionSeverity() (float64, bool) {
	sev, ok := m.collision, m.hasCollision
	m.collision, m.hasCollision = 0, false
	return sev, ok
}

// testLayout is a four-block square circuit with a turntable routing
// into block 2 and a switch routing into the brake-zone block 3.
func testLayout() layout.Layout {
	return layout.Layout{
		Blocks: []layout.Block{
			{ID: 0, Waypoints: [][3]float64{{0, 0, 0}, {10, 0, 0}}, SpeedLimit: 3.0},
			{ID: 1, Waypoints: [][3]float64{{10, 0, 0}, {10, 0, 10}}},
			{ID: 2, Waypoints: [][3]float64{{10, 0, 10}, {0, 0, 10}},
				RequiresDevice: &layout.DeviceRequirement{ID: "turntable_a", Position: 0}},
			{ID: 3, Waypoints: [][3]float64{{0, 0, 10}, {0, 0, 0}},
				BrakeZone:      &layout.BrakeZone{From: 0, To: 10, SpeedLimit: 2.5},
				RequiresDevice: &layout.DeviceRequirement{ID: "switch_a", Position: 0}},
		},
		Devices: []layout.Device{
			{ID: "turntable_a", Kind: "TURNTABLE", Origin: [3]float64{10, 0, 10},
				Positions: []float64{0, 90, 180, 270}, Speed: 90.0, SafetyRadius: 3.0},
			{ID: "switch_a", Kind: "SWITCH", Origin: [3]float64{0, 0, 10},
				Positions: []float64{0, 1.5}, Speed: 0.5, SafetyRadius: 2.0},
		},
	}
}

// testConfig keeps every delay short and the safety envelope wide so
// individual tests tighten only what they exercise.
func testConfig() Config {
	return Config{
		TickRateHz:            5,
		MaxActiveTrains:       2,
		DispatchIntervalTicks: 5,
		LoadTicks:             2,
		UnloadTicks:           2,
		MinBlockClearance:     1.0,
		NormalSpeed:           6.0,
		ReverseSpeed:          4.0,
		BrakeZoneSpeed:        2.5,
		ServiceBrake:          3.0,
		EmergencyBrake:        9.0,
		StopTimeoutTicks:      4,
		ReverseHoldTicks:      3,
		ReturnHoldTicks:       2,
		SafetyEnabled:         true,
		RequireClearance:      true,
		MaxSafeSpeed:          100.0,
		MaxSafeAccel:          1e9,
		CollisionThreshold:    0.5,
		UnlockDelayTicks:      2,
	}
}

type harness struct {
	t    *testing.T
	ride *Ride

	events []protocol.Event
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	cfg := testConfig()
	for _, f := range mutate {
		f(&cfg)
	}
	pool := []*Vehicle{
		{ID: "V1", Mover: &stubMover{}},
		{ID: "V2", Mover: &stubMover{}},
		{ID: "V3", Mover: &stubMover{}},
	}
	r, err := New(cfg, testLayout(), pool)
	if err != nil {
		t.Fatalf("new ride: %v", err)
	}
	h := &harness{t: t, ride: r}
	r.bus.Subscribe(func(e protocol.Event) {
		h.events = append(h.events, e)
	})
	return h
}

func (h *harness) step(cmds ...Command) {
	h.ride.StepOnce(cmds)
}

func (h *harness) steps(n int) {
	for i := 0; i < n; i++ {
		h.ride.StepOnce(nil)
	}
}

func (h *harness) clearEvents() { h.events = h.events[:0] }

func (h *harness) eventsOf(typ string) []protocol.Event {
	var out []protocol.Event
	for _, e := range h.events {
		if e["type"] == typ {
			out = append(out, e)
		}
	}
	return out
}

func (h *harness) mover(vr *VehicleRun) *stubMover {
	return vr.Vehicle.Mover.(*stubMover)
}

// startAndDispatch starts the ride, waits out the load delay, and
// returns the first run once it is moving on the spawn block.
func (h *harness) startAndDispatch() *VehicleRun {
	h.t.Helper()
	h.step(Command{Kind: CmdStart})
	active := h.ride.dispatcher.ActiveRuns()
	if len(active) != 1 {
		h.t.Fatalf("expected one active run after start, got %d", len(active))
	}
	vr := active[0]
	h.steps(int(h.ride.cfg.LoadTicks))
	if vr.State() != RunMoving {
		h.t.Fatalf("run not moving after load delay: %s", vr.State())
	}
	return vr
}

// advance teleports the run's vehicle to the entry waypoint of the
// given block and steps once so the block system performs the
// transition.
func (h *harness) advance(vr *VehicleRun, to int) {
	h.t.Helper()
	b, err := h.ride.blocks.Block(to)
	if err != nil {
		h.t.Fatalf("block %d: %v", to, err)
	}
	h.mover(vr).pos = b.EntryPoint()
	h.step()
	if vr.CurrentBlock != to {
		h.t.Fatalf("run %s: expected block %d, still on %d (state %s)", vr.ID, to, vr.CurrentBlock, vr.State())
	}
}
