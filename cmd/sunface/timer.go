package main

import (
	"context"
	"time"
)

// Stopper is a cancellable scheduled callback. *time.Timer implements it.
type Stopper interface {
	Stop() bool
}

// TimerFactory schedules callbacks. Tests substitute a fake that counts calls.
type TimerFactory interface {
	AfterFunc(d time.Duration, f func()) Stopper
}

type realTimerFactory struct{}

func (realTimerFactory) AfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// TimerSlot holds at most one outstanding redraw timer.
//
// Arm overwrites the slot, stopping whatever was there first. The slot is
// owned by the daemon goroutine; the timer callback only posts a TimerFired
// carrying its generation, and the reducer drops fires whose generation is no
// longer current. A fire that raced with Cancel is therefore a no-op.
type TimerSlot struct {
	ctx     context.Context
	factory TimerFactory
	fires   chan<- TimerFired
	now     func() time.Time

	handle Stopper
	gen    uint64
}

// NewTimerSlot creates an empty slot that posts fires to the given channel
// until ctx is canceled.
func NewTimerSlot(ctx context.Context, factory TimerFactory, fires chan<- TimerFired, now func() time.Time) *TimerSlot {
	if factory == nil {
		factory = realTimerFactory{}
	}
	if now == nil {
		now = time.Now
	}
	return &TimerSlot{
		ctx:     ctx,
		factory: factory,
		fires:   fires,
		now:     now,
	}
}

// Arm replaces the slot contents with a timer for generation gen.
func (t *TimerSlot) Arm(gen uint64, delay time.Duration) {
	t.Cancel()

	ctx, fires, now := t.ctx, t.fires, t.now
	t.gen = gen
	t.handle = t.factory.AfterFunc(delay, func() {
		select {
		case fires <- TimerFired{Gen: gen, At: now()}:
		case <-ctx.Done():
		}
	})
}

// Cancel stops the outstanding timer. Calling it on an empty slot is a no-op.
func (t *TimerSlot) Cancel() {
	if t.handle == nil {
		return
	}
	t.handle.Stop()
	t.handle = nil
}

// Release empties the slot after generation gen has fired.
func (t *TimerSlot) Release(gen uint64) {
	if t.handle != nil && t.gen == gen {
		t.handle = nil
	}
}

// Live reports whether the slot holds a timer, and its generation.
func (t *TimerSlot) Live() (uint64, bool) {
	return t.gen, t.handle != nil
}
