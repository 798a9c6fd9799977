package ride

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"rideloop/internal/protocol"
	"rideloop/internal/sim/layout"
	"rideloop/internal/sim/motion"
)

// spawnBlock is where pooled vehicles enter and leave the circuit.
const spawnBlock = 0

// stoppedSpeedEps is the observed-speed threshold below which a
// braking run counts as stopped.
const stoppedSpeedEps = 1e-3

// Stepper advances the external movement integration by one tick.
type Stepper interface {
	Step()
}

// TickLogger persists one entry per tick. Implemented in
// internal/persistence.
type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type TickLogEntry struct {
	Tick     uint64           `json:"tick"`
	Mode     string           `json:"mode"`
	Commands []Command        `json:"commands,omitempty"`
	Events   []protocol.Event `json:"events,omitempty"`
	Digest   string           `json:"digest"`
}

// AttachRequest registers an observer feed. Observers receive an
// EVENT_BATCH frame per tick and never affect simulation state.
type AttachRequest struct {
	Name string
	Out  chan []byte
	Resp chan AttachResponse
}

type AttachResponse struct {
	Welcome protocol.WelcomeMsg
}

// Ride is the single-threaded authoritative control core. All state
// must be accessed only from the tick loop goroutine; external
// callers talk through the Inbox/Attach/Leave channels.
type Ride struct {
	cfg Config

	tick atomic.Uint64
	mode RideMode

	// running gates dispatching; the ride starts idle until an
	// operator START command.
	running bool

	blocks     *BlockRegistry
	devices    []*MovableDevice
	deviceByID map[string]*MovableDevice
	dispatcher *Dispatcher
	reverser   *Reverser
	timers     *Timers
	bus        *Bus

	inbox  chan Command
	attach chan AttachRequest
	leave  chan string
	stop   chan struct{}

	observers map[string]chan []byte

	// Optional movement integration hook, stepped first each tick.
	physics Stepper

	// Optional tick logger (may be nil).
	tickLogger TickLogger

	// Events published during the current tick, republished to
	// observers and the tick log.
	tickEvents []protocol.Event
}

func New(cfg Config, lay layout.Layout, pool []*Vehicle) (*Ride, error) {
	if err := lay.Validate(); err != nil {
		return nil, err
	}
	if cfg.TickRateHz <= 0 {
		return nil, fmt.Errorf("tick rate must be positive: %w", ErrBadState)
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("empty vehicle pool: %w", ErrBadState)
	}

	r := &Ride{
		cfg:        cfg,
		mode:       ModeNormal,
		timers:     NewTimers(),
		bus:        NewBus(),
		inbox:      make(chan Command, 256),
		attach:     make(chan AttachRequest, 16),
		leave:      make(chan string, 16),
		stop:       make(chan struct{}),
		observers:  map[string]chan []byte{},
		deviceByID: map[string]*MovableDevice{},
	}
	r.blocks = NewBlockRegistry(lay.Blocks, r.bus)
	r.dispatcher = newDispatcher(r, pool)
	r.reverser = newReverser(r)

	for _, ld := range lay.Devices {
		d, err := newDevice(ld, deviceDeps{
			timers:           r.timers,
			publish:          r.bus.Publish,
			obstructed:       r.vehicleWithin,
			requireClearance: cfg.RequireClearance,
			tickRate:         cfg.TickRateHz,
			unlockDelayTicks: cfg.UnlockDelayTicks,
		})
		if err != nil {
			return nil, err
		}
		r.devices = append(r.devices, d)
		r.deviceByID[d.ID] = d
	}

	// Collect everything published during a tick for the observers
	// and the tick log.
	r.bus.Subscribe(func(e protocol.Event) {
		r.tickEvents = append(r.tickEvents, e)
	})

	return r, nil
}

func (r *Ride) Inbox() chan<- Command        { return r.inbox }
func (r *Ride) Attach() chan<- AttachRequest { return r.attach }
func (r *Ride) Leave() chan<- string         { return r.leave }

func (r *Ride) CurrentTick() uint64 { return r.tick.Load() }
func (r *Ride) Mode() RideMode      { return r.mode }
func (r *Ride) Running() bool       { return r.running }

func (r *Ride) Blocks() *BlockRegistry  { return r.blocks }
func (r *Ride) Dispatcher() *Dispatcher { return r.dispatcher }
func (r *Ride) Reverser() *Reverser     { return r.reverser }
func (r *Ride) Bus() *Bus               { return r.bus }

// Device returns the movable device with the given id, or nil.
func (r *Ride) Device(id string) *MovableDevice { return r.deviceByID[id] }

func (r *Ride) SetPhysics(s Stepper)       { r.physics = s }
func (r *Ride) SetTickLogger(l TickLogger) { r.tickLogger = l }

// RideParams describes the ride to a connecting observer.
func (r *Ride) RideParams() protocol.RideParams {
	ids := make([]string, 0, len(r.devices))
	for _, d := range r.devices {
		ids = append(ids, d.ID)
	}
	return protocol.RideParams{
		TickRateHz:      r.cfg.TickRateHz,
		Blocks:          r.blocks.Len(),
		Devices:         ids,
		MaxActiveTrains: r.cfg.MaxActiveTrains,
	}
}

// Run drives the tick loop until the context ends or Stop is called.
func (r *Ride) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(r.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []Command

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stop:
			return nil
		case req := <-r.attach:
			r.handleAttach(req)
		case id := <-r.leave:
			delete(r.observers, id)
		case cmd := <-r.inbox:
			pending = append(pending, cmd)
		case <-ticker.C:
			r.step(pending)
			pending = pending[:0]
		}
	}
}

func (r *Ride) Stop() { close(r.stop) }

// StepOnce advances the ride by a single tick with the same ordering
// semantics as the server loop. Primarily for deterministic replays
// and tests.
func (r *Ride) StepOnce(cmds []Command) (tick uint64, digest string) {
	tick = r.tick.Load()
	r.step(cmds)
	return tick, r.stateDigest(tick)
}

// step applies one discrete tick: commands in receive order, then
// elapsed timers, then the fixed system order — block occupancy,
// device machines (timer driven), vehicle runs, dispatch, reverse
// orchestration.
func (r *Ride) step(cmds []Command) {
	nowTick := r.tick.Load()
	r.tickEvents = r.tickEvents[:0]

	if r.physics != nil {
		r.physics.Step()
	}

	applied := make([]Command, 0, len(cmds))
	for _, cmd := range cmds {
		applied = append(applied, cmd)
		r.applyCommand(cmd, nowTick)
	}

	r.timers.Advance(nowTick)

	r.systemBlocks(nowTick)
	r.systemRuns(nowTick)
	r.dispatcher.tick(nowTick)
	r.reverser.tick(nowTick)

	digest := r.stateDigest(nowTick)

	if len(r.observers) > 0 {
		batch := protocol.EventBatchMsg{
			Type:            protocol.TypeEventBatch,
			ProtocolVersion: protocol.Version,
			Tick:            nowTick,
			Mode:            string(r.mode),
			Events:          append([]protocol.Event(nil), r.tickEvents...),
		}
		if b, err := json.Marshal(batch); err == nil {
			for _, out := range r.observers {
				sendLatest(out, b)
			}
		}
	}

	if r.tickLogger != nil {
		_ = r.tickLogger.WriteTick(TickLogEntry{
			Tick:     nowTick,
			Mode:     string(r.mode),
			Commands: applied,
			Events:   append([]protocol.Event(nil), r.tickEvents...),
			Digest:   digest,
		})
	}

	r.tick.Add(1)
}

// systemBlocks evaluates block transition eligibility for every
// moving run: next block clear, any routing device in place, and the
// vehicle within the clearance distance of the entry waypoint.
func (r *Ride) systemBlocks(nowTick uint64) {
	for _, vr := range r.dispatcher.ActiveRuns() {
		if vr.State() != RunMoving {
			continue
		}
		nextID := r.nextBlockID(vr)
		next, err := r.blocks.Block(nextID)
		if err != nil {
			continue
		}
		if !r.blocks.IsClear(nextID) {
			continue
		}
		if req := next.RequiresDevice; req != nil {
			d := r.deviceByID[req.ID]
			if d == nil || !d.AtPosition(req.Position) {
				continue
			}
		}
		pos := vr.Vehicle.Mover.Position()
		if motion.Dist(pos, next.EntryPoint()) > r.cfg.MinBlockClearance {
			continue
		}

		prev := vr.CurrentBlock
		if err := r.blocks.Advance(vr, nextID, nowTick); err != nil {
			continue
		}
		if prev == spawnBlock && nextID != spawnBlock {
			vr.lapStarted = true
		}
		vr.commandSpeed(r.blockSpeed(next))
		if nextID == spawnBlock && vr.lapStarted {
			r.dispatcher.onRunReturned(vr, nowTick)
		}
	}
}

// blockSpeed is the speed command issued on entering a block: the
// brake-zone limit when one exists, otherwise the block's own limit
// or the mode-appropriate cruise speed.
func (r *Ride) blockSpeed(b *BlockSection) float64 {
	if b.BrakeZone != nil {
		if b.BrakeZone.SpeedLimit > 0 {
			return b.BrakeZone.SpeedLimit
		}
		return r.cfg.BrakeZoneSpeed
	}
	cruise := r.cfg.NormalSpeed
	if r.mode == ModeReverse {
		cruise = r.cfg.ReverseSpeed
	}
	if b.SpeedLimit > 0 && b.SpeedLimit < cruise {
		return b.SpeedLimit
	}
	return cruise
}

func (r *Ride) nextBlockID(vr *VehicleRun) int {
	n := r.blocks.Len()
	if vr.Reversed {
		return (vr.CurrentBlock - 1 + n) % n
	}
	return (vr.CurrentBlock + 1) % n
}

// systemRuns polls the movement collaborator for every active run,
// applies the per-tick safety monitor, and observes braking runs
// reaching standstill.
func (r *Ride) systemRuns(nowTick uint64) {
	for _, vr := range r.dispatcher.ActiveRuns() {
		speed := vr.Vehicle.Mover.Speed()
		accel := (speed - vr.lastSpeed) * float64(r.cfg.TickRateHz)
		vr.lastPos = vr.Vehicle.Mover.Position()

		if r.cfg.SafetyEnabled && vr.State() != RunEmergencyStop {
			if sev, ok := vr.Vehicle.Mover.CollisionSeverity(); ok && sev >= r.cfg.CollisionThreshold {
				r.raiseEmergency(nowTick, vr.ID, fmt.Sprintf("collision severity %.2f", sev))
			} else if math.Abs(speed) > r.cfg.MaxSafeSpeed {
				r.raiseEmergency(nowTick, vr.ID, fmt.Sprintf("overspeed %.2f", speed))
			} else if math.Abs(accel) > r.cfg.MaxSafeAccel {
				r.raiseEmergency(nowTick, vr.ID, fmt.Sprintf("acceleration %.2f", accel))
			}
		}

		if vr.State() == RunBraking && math.Abs(speed) < stoppedSpeedEps {
			if vr.hasStopTimer {
				r.timers.Cancel(vr.stopTimer)
				vr.hasStopTimer = false
			}
			vr.state = RunStopped
		}
		vr.lastSpeed = speed
	}
}

// vehicleWithin is the device clearance query: any active vehicle
// inside the sphere blocks device motion.
func (r *Ride) vehicleWithin(origin motion.Vec3, radius float64) bool {
	for _, vr := range r.dispatcher.ActiveRuns() {
		if motion.Dist(vr.Vehicle.Mover.Position(), origin) <= radius {
			return true
		}
	}
	return false
}

// raiseEmergency cascades a vehicle-level emergency ride-wide:
// EMERGENCY mode, every run and device stopped, all sequence timers
// dead. It fires EMERGENCY_STOP_RAISED exactly once per incident.
func (r *Ride) raiseEmergency(nowTick uint64, source, reason string) {
	if r.mode == ModeEmergency {
		return
	}
	r.reverser.interrupt(nowTick)
	r.setMode(ModeEmergency, nowTick)
	r.dispatcher.emergencyStopAll(nowTick)
	for _, d := range r.devices {
		d.EmergencyStop(nowTick)
	}
	r.bus.Publish(protocol.Event{
		"t":      nowTick,
		"type":   protocol.EvEmergencyStopRaised,
		"source": source,
		"reason": reason,
	})
}

// resetEmergency is the operator's explicit recovery path.
func (r *Ride) resetEmergency(nowTick uint64) error {
	if r.mode != ModeEmergency {
		return fmt.Errorf("reset from mode %s: %w", r.mode, ErrBadState)
	}
	r.dispatcher.resetAll()
	for _, d := range r.devices {
		if d.State() == DeviceError {
			_ = d.ResetError(nowTick)
		}
	}
	r.setMode(ModeNormal, nowTick)
	return nil
}

func (r *Ride) setMode(m RideMode, nowTick uint64) {
	if r.mode == m {
		return
	}
	r.mode = m
	r.bus.Publish(protocol.Event{
		"t":    nowTick,
		"type": protocol.EvRideModeChanged,
		"mode": string(m),
	})
}

func (r *Ride) handleAttach(req AttachRequest) {
	if req.Out == nil {
		if req.Resp != nil {
			req.Resp <- AttachResponse{}
		}
		return
	}
	id := uuid.NewString()
	r.observers[id] = req.Out
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       id,
		RideParams:      r.RideParams(),
	}
	if req.Resp != nil {
		req.Resp <- AttachResponse{Welcome: welcome}
	}
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
