// Package motion defines the boundary between the control core and the
// vehicle movement integration. The core only reads position/speed and
// issues speed/brake commands; how a vehicle actually moves is behind
// the Mover interface.
package motion

import "math"

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

func (v Vec3) Len() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Dist is the euclidean distance between two points.
func Dist(a, b Vec3) float64 { return a.Sub(b).Len() }

// Mover is the movement collaborator for a single vehicle, polled once
// per tick by the control core.
type Mover interface {
	Position() Vec3
	Speed() float64

	// SetTargetSpeed commands a signed cruise speed; the mover ramps
	// toward it with its own acceleration profile.
	SetTargetSpeed(v float64)

	// ApplyBrake commands deceleration to zero at the given rate.
	ApplyBrake(decel float64)

	// CollisionSeverity reports a collision registered since the last
	// poll, if any.
	CollisionSeverity() (float64, bool)
}
