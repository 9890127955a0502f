package main

import (
	"time"
)

// This file implements the render scheduler as a reducer:
//
//   - Events: host lifecycle callbacks, sync notifications, timer fires
//   - Commands: side effects (arm/cancel timer, redraw, sync connect/disconnect)
//   - Reduce(): computes next state + commands, without performing I/O
//
// The scheduler is Armed while Visible and Interactive. Every transition that
// changes Armed-ness or cadence cancels the outstanding timer before arming a
// new one, so at most one timer is ever live. Each armed timer carries a
// generation; fires from a cancelled generation are ignored.

// CadenceConfig maps mute state to the redraw interval.
type CadenceConfig struct {
	Interactive time.Duration
	Muted       time.Duration
}

// DefaultCadence returns the 1s / 60s cadence.
func DefaultCadence() CadenceConfig {
	return CadenceConfig{
		Interactive: defaultInteractiveIntervalMS * time.Millisecond,
		Muted:       defaultMutedIntervalMS * time.Millisecond,
	}
}

// IntervalFor returns the active interval for the given mute state.
func (c CadenceConfig) IntervalFor(muted bool) time.Duration {
	if muted {
		if c.Muted <= 0 {
			return defaultMutedIntervalMS * time.Millisecond
		}
		return c.Muted
	}
	if c.Interactive <= 0 {
		return defaultInteractiveIntervalMS * time.Millisecond
	}
	return c.Interactive
}

// NextDelay returns the delay until the next wall-clock multiple of interval.
// It is phase aligned (interval - now mod interval), never zero, and tolerates
// any clock value including times before the Unix epoch.
func NextDelay(now time.Time, interval time.Duration) time.Duration {
	ms := interval.Milliseconds()
	if ms <= 0 {
		return interval
	}
	phase := now.UnixMilli() % ms
	if phase < 0 {
		phase += ms
	}
	return time.Duration(ms-phase) * time.Millisecond
}

// ==============================
// Reducer input/output
// ==============================

// ReduceResult is the output of Reduce(): next state plus Commands to execute
// and Broadcasts for frame websocket clients.
type ReduceResult struct {
	State      *EngineState
	Commands   []Command
	Broadcasts []StateBroadcast
}

// reduction accumulates the output of a single Reduce call.
type reduction struct {
	s   *EngineState
	cfg CadenceConfig
	now time.Time

	cmds       []Command
	broadcasts []StateBroadcast
}

// Reduce is the pure reducer:
//
// Rules:
// - Must not perform I/O
// - Must not block
// - Must not mutate anything outside the returned state
func Reduce(s *EngineState, e Event, cfg CadenceConfig) ReduceResult {
	if s == nil {
		s = NewEngineState(nil)
	}

	var now time.Time
	if te, ok := e.(TimedEvent); ok {
		now = te.At
		e = te.Event
	}
	if tf, ok := e.(TimerFired); ok && !tf.At.IsZero() {
		now = tf.At
	}
	if now.IsZero() {
		now = time.Now()
	}

	r := &reduction{s: s, cfg: cfg, now: now}

	switch ev := e.(type) {
	case VisibilityChanged:
		next := Hidden
		if ev.Visible {
			next = Visible
		}
		if next == s.Visibility {
			break
		}
		s.Visibility = next
		if next == Visible {
			s.ClockBase = now.In(s.Zone())
			s.Sync.Wanted = true
			r.cmds = append(r.cmds, CmdSyncConnect{})
		} else {
			s.Sync.Wanted = false
			s.Sync.Connected = false
			r.cmds = append(r.cmds, CmdSyncDisconnect{})
		}
		r.broadcastDisplay()
		r.syncTimer()

	case AmbientModeChanged:
		next := Interactive
		if ev.Ambient {
			next = Ambient
		}
		if next == s.Mode {
			break
		}
		s.Mode = next
		r.broadcastDisplay()
		// Repaint in the new style; arming already requests a frame.
		if !r.syncTimer() && s.Visibility == Visible {
			r.redraw("mode")
		}

	case InterruptionFilterChanged:
		s.Filter = ev.Filter
		r.setMuted(ev.Filter.Muted())

	case TimeZoneChanged:
		if ev.Location != nil {
			s.Location = ev.Location
		}
		s.ClockBase = now.In(s.Zone())

	case TimeTick:
		if s.Visibility == Visible {
			r.redraw("tick")
		}

	case WindowInsetsApplied:
		s.Device.Round = ev.Round

	case PropertiesChanged:
		s.Device.BurnInProtection = ev.BurnInProtection
		s.Device.LowBitAmbient = ev.LowBitAmbient

	case SyncConnected:
		// A late callback from a channel we already released.
		if !s.Sync.Wanted {
			break
		}
		s.Sync.Connected = true
		s.Sync.ConnectedAt = now
		s.Sync.LastError = ""

	case SyncConnectionLost:
		s.Sync.Connected = false
		if ev.Err != nil {
			s.Sync.LastError = ev.Err.Error()
			s.Sync.LastErrorAt = now
		}

	case WeatherDocumentsReceived:
		if len(ev.Updates) == 0 {
			break
		}
		next := s.Weather
		for _, u := range ev.Updates {
			next = next.Apply(u)
		}
		if next != s.Weather {
			s.Weather = next
			s.WeatherAt = now
			r.broadcasts = append(r.broadcasts, BroadcastWeatherChanged{Weather: next, At: now})
		}
		// Disarmed: nothing queued, the next armed frame reads the current snapshot.
		if s.ShouldArm() {
			r.redraw("data")
		}

	case TimerFired:
		if !s.Timer.Armed || ev.Gen != s.Timer.Gen {
			// Stale fire from a cancelled or replaced timer.
			break
		}
		s.Timer.Armed = false
		s.Timer.Deadline = time.Time{}
		if !s.ShouldArm() {
			break
		}
		r.redraw("timer")
		r.arm()

	case RequestStateSnapshot:
		r.cmds = append(r.cmds, CmdPublishStateSnapshot{Reply: ev.Reply, Snapshot: s.Snapshot()})

	default:
		// Unknown event type: no-op.
	}

	return ReduceResult{
		State:      s,
		Commands:   r.cmds,
		Broadcasts: r.broadcasts,
	}
}

// syncTimer arms or cancels the timer to match ShouldArm.
// It returns true if the timer was armed (which also requests a frame).
func (r *reduction) syncTimer() bool {
	want := r.s.ShouldArm()
	switch {
	case want && !r.s.Timer.Armed:
		r.arm()
		r.redraw("armed")
		return true
	case !want && r.s.Timer.Armed:
		r.cancel()
	}
	return false
}

// setMuted applies a mute change. While armed the timer is replaced so the new
// interval applies from the next fire; no extra frame is requested.
func (r *reduction) setMuted(muted bool) {
	if muted == r.s.Muted {
		return
	}
	r.s.Muted = muted
	r.broadcastDisplay()
	if r.s.Timer.Armed {
		r.arm()
	}
}

// arm cancels any outstanding timer and arms a new generation.
func (r *reduction) arm() {
	if r.s.Timer.Armed {
		r.cancel()
	}
	interval := r.cfg.IntervalFor(r.s.Muted)
	delay := NextDelay(r.now, interval)
	r.s.Timer = TimerState{
		Armed:    true,
		Gen:      r.s.Timer.Gen + 1,
		Interval: interval,
		Deadline: r.now.Add(delay),
	}
	r.cmds = append(r.cmds, CmdArmTimer{Gen: r.s.Timer.Gen, Delay: delay})
}

func (r *reduction) cancel() {
	if !r.s.Timer.Armed {
		return
	}
	r.s.Timer.Armed = false
	r.s.Timer.Deadline = time.Time{}
	r.cmds = append(r.cmds, CmdCancelTimer{})
}

func (r *reduction) redraw(reason string) {
	r.cmds = append(r.cmds, CmdRedraw{Reason: reason})
}

func (r *reduction) broadcastDisplay() {
	r.broadcasts = append(r.broadcasts, BroadcastDisplayChanged{
		Visibility: r.s.Visibility,
		Mode:       r.s.Mode,
		Muted:      r.s.Muted,
		At:         r.now,
	})
}
