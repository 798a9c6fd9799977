package ride

import "sort"

type TimerID uint64

type timer struct {
	id       TimerID
	deadline uint64 // tick at which the timer fires
	seq      uint64 // registration order, breaks deadline ties
	fire     func(nowTick uint64)
	canceled bool
}

// Timers holds the pending deadline timers for every state machine.
// Long-running operations (loading waits, device motion, reverse
// holds) are modeled as entries here, never as blocking waits. Not
// safe for concurrent use: all access happens on the tick goroutine.
type Timers struct {
	nextID  TimerID
	nextSeq uint64
	pending []*timer
}

func NewTimers() *Timers { return &Timers{} }

// Schedule registers fire to run at the given tick. A deadline at or
// before the current tick fires on the next Advance.
func (t *Timers) Schedule(deadline uint64, fire func(nowTick uint64)) TimerID {
	t.nextID++
	t.nextSeq++
	t.pending = append(t.pending, &timer{
		id:       t.nextID,
		deadline: deadline,
		seq:      t.nextSeq,
		fire:     fire,
	})
	return t.nextID
}

// Cancel is idempotent: canceling an unknown or already-canceled timer
// is a no-op.
func (t *Timers) Cancel(id TimerID) {
	for _, tm := range t.pending {
		if tm.id == id {
			tm.canceled = true
			return
		}
	}
}

// CancelAll marks every pending timer canceled.
func (t *Timers) CancelAll() {
	for _, tm := range t.pending {
		tm.canceled = true
	}
}

// Pending reports the number of live timers.
func (t *Timers) Pending() int {
	n := 0
	for _, tm := range t.pending {
		if !tm.canceled {
			n++
		}
	}
	return n
}

// Advance fires every timer whose deadline has elapsed by nowTick, in
// deadline order with ties broken by registration order. Timers
// scheduled while firing are deferred to the next tick. A timer
// canceled by an earlier timer firing in the same tick does not fire.
func (t *Timers) Advance(nowTick uint64) {
	var due []*timer
	for _, tm := range t.pending {
		if !tm.canceled && tm.deadline <= nowTick {
			due = append(due, tm)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline != due[j].deadline {
			return due[i].deadline < due[j].deadline
		}
		return due[i].seq < due[j].seq
	})
	for _, tm := range due {
		if tm.canceled {
			continue
		}
		tm.canceled = true // consumed
		tm.fire(nowTick)
	}

	// Compact after firing so in-flight cancellations take effect and
	// timers scheduled by firing callbacks are preserved.
	rest := make([]*timer, 0, len(t.pending))
	for _, tm := range t.pending {
		if !tm.canceled {
			rest = append(rest, tm)
		}
	}
	t.pending = rest
}
