// Package layout describes the static track geometry the control core
// runs against: the ordered block sections and the movable devices
// routing between them.
package layout

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"rideloop/internal/sim/motion"
)

type Layout struct {
	Blocks  []Block  `yaml:"blocks"`
	Devices []Device `yaml:"devices"`
}

type Block struct {
	ID         int          `yaml:"id"`
	Waypoints  [][3]float64 `yaml:"waypoints"`
	SpeedLimit float64      `yaml:"speed_limit"`
	BrakeZone  *BrakeZone   `yaml:"brake_zone,omitempty"`
	// RequiresDevice gates entry on a device sitting at a position.
	RequiresDevice *DeviceRequirement `yaml:"requires_device,omitempty"`
}

type BrakeZone struct {
	From       float64 `yaml:"from"` // arclength range within the block
	To         float64 `yaml:"to"`
	SpeedLimit float64 `yaml:"speed_limit"`
}

type DeviceRequirement struct {
	ID       string `yaml:"id"`
	Position int    `yaml:"position"`
}

type Device struct {
	ID           string     `yaml:"id"`
	Kind         string     `yaml:"kind"` // "SWITCH" or "TURNTABLE"
	Origin       [3]float64 `yaml:"origin"`
	Positions    []float64  `yaml:"positions"` // angles (deg) or linear offsets
	Speed        float64    `yaml:"speed"`     // deg/s or units/s
	SafetyRadius float64    `yaml:"safety_radius"`
}

func Load(path string) (Layout, error) {
	var l Layout
	raw, err := os.ReadFile(path)
	if err != nil {
		return l, err
	}
	if err := yaml.Unmarshal(raw, &l); err != nil {
		return l, fmt.Errorf("layout.yaml: %w", err)
	}
	if err := l.Validate(); err != nil {
		return l, fmt.Errorf("layout.yaml: %w", err)
	}
	return l, nil
}

// Validate checks that block ids are the contiguous range 0..n-1 in
// order, every block has at least two waypoints, and device references
// resolve.
func (l Layout) Validate() error {
	if len(l.Blocks) == 0 {
		return fmt.Errorf("no blocks defined")
	}
	devices := map[string]Device{}
	for _, d := range l.Devices {
		if d.ID == "" {
			return fmt.Errorf("device with empty id")
		}
		if _, dup := devices[d.ID]; dup {
			return fmt.Errorf("duplicate device id %q", d.ID)
		}
		if d.Kind != "SWITCH" && d.Kind != "TURNTABLE" {
			return fmt.Errorf("device %q: unknown kind %q", d.ID, d.Kind)
		}
		if len(d.Positions) < 2 {
			return fmt.Errorf("device %q: needs at least two positions", d.ID)
		}
		if d.Speed <= 0 {
			return fmt.Errorf("device %q: speed must be positive", d.ID)
		}
		devices[d.ID] = d
	}
	for i, b := range l.Blocks {
		if b.ID != i {
			return fmt.Errorf("block ids must be contiguous from 0: got %d at index %d", b.ID, i)
		}
		if len(b.Waypoints) < 2 {
			return fmt.Errorf("block %d: needs at least two waypoints", b.ID)
		}
		if r := b.RequiresDevice; r != nil {
			d, ok := devices[r.ID]
			if !ok {
				return fmt.Errorf("block %d: unknown device %q", b.ID, r.ID)
			}
			if r.Position < 0 || r.Position >= len(d.Positions) {
				return fmt.Errorf("block %d: device %q has no position %d", b.ID, r.ID, r.Position)
			}
		}
	}
	return nil
}

// Path converts a block's waypoints to vectors.
func (b Block) Path() []motion.Vec3 {
	out := make([]motion.Vec3, len(b.Waypoints))
	for i, w := range b.Waypoints {
		out[i] = motion.Vec3{X: w[0], Y: w[1], Z: w[2]}
	}
	return out
}

// Length is the polyline arclength of the block.
func (b Block) Length() float64 {
	p := b.Path()
	var sum float64
	for i := 1; i < len(p); i++ {
		sum += motion.Dist(p[i-1], p[i])
	}
	return sum
}

// FullPath concatenates all block paths into one closed circuit
// polyline, deduplicating coincident joins.
func (l Layout) FullPath() []motion.Vec3 {
	var out []motion.Vec3
	for _, b := range l.Blocks {
		p := b.Path()
		if len(out) > 0 && motion.Dist(out[len(out)-1], p[0]) < 1e-9 {
			p = p[1:]
		}
		out = append(out, p...)
	}
	return out
}
