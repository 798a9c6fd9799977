package motion

import "math"

// Kinematic is a reference Mover: a point following a polyline at
// constant acceleration/deceleration. It exists so the server and the
// tests have a deterministic movement collaborator; it makes no claim
// to physical realism.
type Kinematic struct {
	path []Vec3
	cum  []float64 // cumulative arclength per waypoint
	loop bool

	s      float64 // signed position along the path, metres
	speed  float64 // signed, m/s
	target float64
	accel  float64 // magnitude used to ramp toward target
	brake  float64 // active braking deceleration, 0 when not braking

	collision    float64
	hasCollision bool
}

func NewKinematic(path []Vec3, accel float64, loop bool) *Kinematic {
	k := &Kinematic{path: path, accel: accel, loop: loop}
	k.cum = make([]float64, len(path))
	for i := 1; i < len(path); i++ {
		k.cum[i] = k.cum[i-1] + Dist(path[i-1], path[i])
	}
	return k
}

// PathLength is the total arclength of the polyline.
func (k *Kinematic) PathLength() float64 {
	if len(k.cum) == 0 {
		return 0
	}
	return k.cum[len(k.cum)-1]
}

func (k *Kinematic) Position() Vec3 {
	if len(k.path) == 0 {
		return Vec3{}
	}
	s := k.s
	total := k.PathLength()
	if k.loop && total > 0 {
		s = math.Mod(math.Mod(s, total)+total, total)
	}
	for i := 1; i < len(k.path); i++ {
		if s <= k.cum[i] {
			segLen := k.cum[i] - k.cum[i-1]
			if segLen <= 0 {
				return k.path[i]
			}
			t := (s - k.cum[i-1]) / segLen
			a, b := k.path[i-1], k.path[i]
			return Vec3{a.X + (b.X-a.X)*t, a.Y + (b.Y-a.Y)*t, a.Z + (b.Z-a.Z)*t}
		}
	}
	return k.path[len(k.path)-1]
}

func (k *Kinematic) Speed() float64 { return k.speed }

func (k *Kinematic) SetTargetSpeed(v float64) {
	k.target = v
	k.brake = 0
}

func (k *Kinematic) ApplyBrake(decel float64) {
	k.target = 0
	if decel > 0 {
		k.brake = decel
	} else {
		k.brake = k.accel
	}
}

func (k *Kinematic) CollisionSeverity() (float64, bool) {
	sev, ok := k.collision, k.hasCollision
	k.collision, k.hasCollision = 0, false
	return sev, ok
}

// InjectCollision registers a collision that the next CollisionSeverity
// poll will report. Used by the test harness.
func (k *Kinematic) InjectCollision(severity float64) {
	k.collision = severity
	k.hasCollision = true
}

// Teleport places the mover at arclength s with the given speed.
func (k *Kinematic) Teleport(s, speed float64) {
	k.s = s
	k.speed = speed
}

// Step advances the mover by dt seconds, ramping speed toward the
// commanded target at the configured acceleration (or the braking rate
// while a brake command is active).
func (k *Kinematic) Step(dt float64) {
	rate := k.accel
	if k.brake > 0 {
		rate = k.brake
	}
	switch {
	case k.speed < k.target:
		k.speed = math.Min(k.target, k.speed+rate*dt)
	case k.speed > k.target:
		k.speed = math.Max(k.target, k.speed-rate*dt)
	}
	k.s += k.speed * dt
	if !k.loop {
		total := k.PathLength()
		if k.s < 0 {
			k.s = 0
		}
		if k.s > total {
			k.s = total
		}
	}
}

// Field steps a set of kinematic movers with one call; it satisfies the
// control core's physics hook.
type Field struct {
	movers []*Kinematic
	dt     float64
}

func NewField(tickRateHz int) *Field {
	return &Field{dt: 1 / float64(tickRateHz)}
}

func (f *Field) Add(k *Kinematic) { f.movers = append(f.movers, k) }

func (f *Field) Step() {
	for _, k := range f.movers {
		k.Step(f.dt)
	}
}
