package ride

import (
	"fmt"

	"rideloop/internal/protocol"
	"rideloop/internal/sim/layout"
	"rideloop/internal/sim/motion"
)

// BlockSection is one mutually-exclusive track segment. Occupancy is
// mutated only through the BlockRegistry.
type BlockSection struct {
	ID         int
	Waypoints  []motion.Vec3
	Length     float64
	SpeedLimit float64
	BrakeZone  *layout.BrakeZone

	// RequiresDevice gates entry on a routing device sitting idle at
	// a given position.
	RequiresDevice *layout.DeviceRequirement

	Reversed bool

	occupant    *VehicleRun
	EnteredTick uint64
	ExitedTick  uint64
}

// EntryPoint is the waypoint a vehicle approaches to enter the block,
// honoring the current travel direction.
func (b *BlockSection) EntryPoint() motion.Vec3 {
	if b.Reversed {
		return b.Waypoints[len(b.Waypoints)-1]
	}
	return b.Waypoints[0]
}

func (b *BlockSection) Occupied() bool        { return b.occupant != nil }
func (b *BlockSection) Occupant() *VehicleRun { return b.occupant }

// BlockRegistry owns block occupancy: no other component writes these
// fields. All methods assume the single-threaded tick model.
type BlockRegistry struct {
	blocks []*BlockSection
	bus    *Bus
}

func NewBlockRegistry(blocks []layout.Block, bus *Bus) *BlockRegistry {
	br := &BlockRegistry{bus: bus}
	for _, lb := range blocks {
		br.blocks = append(br.blocks, &BlockSection{
			ID:             lb.ID,
			Waypoints:      lb.Path(),
			Length:         lb.Length(),
			SpeedLimit:     lb.SpeedLimit,
			BrakeZone:      lb.BrakeZone,
			RequiresDevice: lb.RequiresDevice,
		})
	}
	return br
}

func (br *BlockRegistry) Len() int { return len(br.blocks) }

// CircuitLength sums the lengths of every block section.
func (br *BlockRegistry) CircuitLength() float64 {
	var total float64
	for _, b := range br.blocks {
		total += b.Length
	}
	return total
}

func (br *BlockRegistry) Block(id int) (*BlockSection, error) {
	if id < 0 || id >= len(br.blocks) {
		return nil, fmt.Errorf("block %d: %w", id, ErrInvalidIndex)
	}
	return br.blocks[id], nil
}

// IsClear reports whether the block exists and has no occupant.
func (br *BlockRegistry) IsClear(id int) bool {
	b, err := br.Block(id)
	if err != nil {
		return false
	}
	return b.occupant == nil
}

// AllClear reports whether no block is occupied. The reverse sequence
// uses it as its precondition gate.
func (br *BlockRegistry) AllClear() bool {
	for _, b := range br.blocks {
		if b.occupant != nil {
			return false
		}
	}
	return true
}

// Claim marks a block occupied by the given run. Re-claiming the
// block a run already holds is a no-op. Claiming a block occupied by
// a different run fails without touching the prior occupant.
func (br *BlockRegistry) Claim(id int, run *VehicleRun, nowTick uint64) error {
	b, err := br.Block(id)
	if err != nil {
		return err
	}
	if b.occupant == run {
		return nil
	}
	if b.occupant != nil {
		return fmt.Errorf("block %d held by run %s: %w", id, b.occupant.ID, ErrBlockOccupied)
	}
	b.occupant = run
	b.EnteredTick = nowTick
	br.publishOccupancy(b, true, nowTick)
	return nil
}

// Release clears occupancy; releasing a clear or unknown block is a
// no-op.
func (br *BlockRegistry) Release(id int, nowTick uint64) {
	b, err := br.Block(id)
	if err != nil || b.occupant == nil {
		return
	}
	b.occupant = nil
	b.ExitedTick = nowTick
	br.publishOccupancy(b, false, nowTick)
}

// Advance releases the run's current block and claims nextID in one
// operation. On failure nothing changes and the run stays on its
// prior block.
func (br *BlockRegistry) Advance(run *VehicleRun, nextID int, nowTick uint64) error {
	next, err := br.Block(nextID)
	if err != nil {
		return err
	}
	if next.occupant != nil && next.occupant != run {
		return fmt.Errorf("block %d held by run %s: %w", nextID, next.occupant.ID, ErrBlockOccupied)
	}
	br.Release(run.CurrentBlock, nowTick)
	if err := br.Claim(nextID, run, nowTick); err != nil {
		// Unreachable given the check above; fail loudly if it isn't.
		return err
	}
	run.CurrentBlock = nextID
	run.TargetBlock = nextID
	return nil
}

// SetReversed flips the travel direction of every block.
func (br *BlockRegistry) SetReversed(reversed bool) {
	for _, b := range br.blocks {
		b.Reversed = reversed
	}
}

func (br *BlockRegistry) publishOccupancy(b *BlockSection, occupied bool, nowTick uint64) {
	br.bus.Publish(protocol.Event{
		"t":        nowTick,
		"type":     protocol.EvBlockOccupancyChanged,
		"block_id": b.ID,
		"occupied": occupied,
	})
}
