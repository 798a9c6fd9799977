package ride

import (
	"fmt"
	"math"

	"rideloop/internal/protocol"
)

// Dispatcher owns the idle vehicle pool and the bounded set of active
// runs. Skipped dispatches (empty pool, cap reached, station block
// occupied) are normal backpressure, not faults.
type Dispatcher struct {
	r *Ride

	pool   []*Vehicle
	active []*VehicleRun

	// runSeq numbers runs in dispatch order. Run ids must be stable
	// across replays, so no randomness here.
	runSeq uint64

	dispatched   bool
	lastDispatch uint64
}

func newDispatcher(r *Ride, pool []*Vehicle) *Dispatcher {
	return &Dispatcher{r: r, pool: pool}
}

func (d *Dispatcher) ActiveRuns() []*VehicleRun { return d.active }
func (d *Dispatcher) PoolSize() int             { return len(d.pool) }

func (d *Dispatcher) findRun(id string) *VehicleRun {
	for _, vr := range d.active {
		if vr.ID == id {
			return vr
		}
	}
	return nil
}

func (d *Dispatcher) tick(nowTick uint64) {
	d.finishStoppedRuns(nowTick)
	d.startReadyRuns(nowTick)

	if d.r.mode != ModeNormal || !d.r.running {
		return
	}
	if len(d.active) >= d.r.cfg.MaxActiveTrains || len(d.pool) == 0 {
		return
	}
	if d.dispatched && nowTick-d.lastDispatch < d.r.cfg.DispatchIntervalTicks {
		return
	}
	d.dispatch(nowTick)
}

// dispatch pulls the next pooled vehicle and releases it onto the
// spawn block.
func (d *Dispatcher) dispatch(nowTick uint64) {
	v := d.pool[0]
	vr := &VehicleRun{
		ID:             fmt.Sprintf("R%d", d.runSeq+1),
		Vehicle:        v,
		DispatchedTick: nowTick,
		state:          RunLoading,
		lastSpeed:      v.Mover.Speed(),
		lastPos:        v.Mover.Position(),
	}
	if err := d.r.blocks.Claim(spawnBlock, vr, nowTick); err != nil {
		// Station still occupied: leave the vehicle pooled. The run
		// id is only consumed on a successful claim so the R<n>
		// numbering stays contiguous in logs.
		return
	}
	d.runSeq++
	d.pool = d.pool[1:]
	d.active = append(d.active, vr)
	d.dispatched = true
	d.lastDispatch = nowTick

	lapTicks := uint64(math.Ceil(d.r.blocks.CircuitLength() / d.r.cfg.NormalSpeed * float64(d.r.cfg.TickRateHz)))
	vr.EstimatedDoneTick = nowTick + d.r.cfg.LoadTicks + lapTicks + d.r.cfg.UnloadTicks

	vr.loadTimer = d.r.timers.Schedule(nowTick+d.r.cfg.LoadTicks, func(uint64) {
		vr.hasLoadTimer = false
		if vr.state == RunLoading {
			vr.state = RunReady
		}
	})
	vr.hasLoadTimer = true

	d.r.bus.Publish(protocol.Event{
		"t":       nowTick,
		"type":    protocol.EvTrainDispatched,
		"run_id":  vr.ID,
		"vehicle": v.ID,
		"eta":     vr.EstimatedDoneTick,
	})
}

// startReadyRuns issues the initial speed command to every run that
// finished loading (or was reset after an emergency). A reverse
// sequence suspends new dispatches only: a run already loading when
// REVERSE was accepted still starts its lap, otherwise it would hold
// the station block and the circuit could never clear.
func (d *Dispatcher) startReadyRuns(nowTick uint64) {
	switch d.r.mode {
	case ModeNormal:
	case ModeReverse:
		if d.r.reverser.phase != PhaseAwaitingClearance {
			return
		}
	default:
		return
	}
	for _, vr := range d.active {
		if vr.state != RunReady || vr.unloading {
			continue
		}
		_ = vr.start(d.r.cfg.NormalSpeed)
	}
}

// onRunReturned is called by the block system when a run advances back
// into the spawn block with a full lap behind it.
func (d *Dispatcher) onRunReturned(vr *VehicleRun, nowTick uint64) {
	if vr.state != RunMoving {
		return
	}
	_ = vr.stop(d.r.cfg.ServiceBrake)
	vr.stopTimer = d.r.timers.Schedule(nowTick+d.r.cfg.StopTimeoutTicks, func(uint64) {
		vr.hasStopTimer = false
		// Deceleration never observed; treat the run as stopped.
		if vr.state == RunBraking {
			vr.state = RunStopped
		}
	})
	vr.hasStopTimer = true
}

// finishStoppedRuns begins unloading for runs stopped at the station
// and completes them once the unload delay elapses.
func (d *Dispatcher) finishStoppedRuns(nowTick uint64) {
	for _, vr := range d.active {
		if vr.state != RunStopped || !vr.lapStarted || vr.unloading {
			continue
		}
		vr.unloading = true
		run := vr
		run.unloadTimer = d.r.timers.Schedule(nowTick+d.r.cfg.UnloadTicks, func(now uint64) {
			run.hasUnloadTimer = false
			d.complete(run, now)
		})
		run.hasUnloadTimer = true
	}
}

// complete returns the vehicle to the pool and retires the run.
func (d *Dispatcher) complete(vr *VehicleRun, nowTick uint64) {
	d.r.blocks.Release(vr.CurrentBlock, nowTick)
	vr.Completed = true
	vr.CompletedTick = nowTick
	for i, a := range d.active {
		if a == vr {
			d.active = append(d.active[:i], d.active[i+1:]...)
			break
		}
	}
	d.pool = append(d.pool, vr.Vehicle)
	d.r.bus.Publish(protocol.Event{
		"t":       nowTick,
		"type":    protocol.EvTrainCompleted,
		"run_id":  vr.ID,
		"vehicle": vr.Vehicle.ID,
	})
}

// emergencyStopAll drops every active run into EMERGENCY_STOP with
// maximum braking.
func (d *Dispatcher) emergencyStopAll(nowTick uint64) {
	for _, vr := range d.active {
		if vr.state != RunEmergencyStop {
			vr.emergencyStop(d.r.cfg.EmergencyBrake, d.r.timers)
		}
	}
}

// resetAll returns every emergency-stopped run to READY. A run that
// was interrupted mid-unload resumes from STOPPED so the unload delay
// restarts.
func (d *Dispatcher) resetAll() {
	for _, vr := range d.active {
		if vr.state != RunEmergencyStop {
			continue
		}
		_ = vr.resetEmergency()
		if vr.unloading {
			vr.unloading = false
			vr.state = RunStopped
		}
	}
}
