package main

import (
	"context"
	"image"
	"log/slog"
	"time"
)

// ============================================================================
// Central Daemon Loop
// ============================================================================
//
// Rules enforced here:
//   - The reducer performs no I/O and computes: next state + commands.
//   - The daemon loop is the only place that executes side effects.
//   - Effect observations (sync failures) are turned into Events and fed back
//     into the reducer.
//   - Events are queued explicitly; commands never re-enter Reduce.
//
// Everything that touches EngineState, the timer slot or the renderers runs on
// this goroutine, so none of it needs a lock.
// ============================================================================

// DaemonDeps are the collaborators of the daemon loop.
type DaemonDeps struct {
	Cadence CadenceConfig
	// Location is the initial device time zone; nil means time.Local.
	Location *time.Location

	// Sync is optional; without it the face renders with an empty snapshot.
	Sync      SyncChannel
	Callbacks ConnectionCallbacks

	Targets []RenderTarget
	Bounds  image.Rectangle

	// Broadcasts receives reducer broadcasts; sends never block the loop.
	Broadcasts chan<- StateBroadcast

	// Timers and Clock are replaced by tests.
	Timers TimerFactory
	Clock  func() time.Time
}

// runDaemon is the main daemon loop that:
//   - Receives Events from the host, the sync adapter and the timer slot
//   - Reduces events into (state, commands, broadcasts)
//   - Executes commands and feeds observations back into the reducer
//
// Shutdown semantics:
//   - Exits when ctx is canceled
//   - Exits cleanly when the events channel is closed
//
// On exit the outstanding timer is cancelled and the sync channel released.
func runDaemon(ctx context.Context, events <-chan Event, deps DaemonDeps, logger *slog.Logger) *EngineState {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	state := NewEngineState(deps.Location)

	fires := make(chan TimerFired, 1)
	slot := NewTimerSlot(ctx, deps.Timers, fires, clock)

	env := &effectEnv{
		slot:      slot,
		sync:      deps.Sync,
		callbacks: deps.Callbacks,
		targets:   deps.Targets,
		bounds:    deps.Bounds,
		clock:     clock,
		logger:    logger,
	}

	defer func() {
		slot.Cancel()
		if state.Sync.Wanted && deps.Sync != nil {
			if err := deps.Sync.Disconnect(); err != nil {
				logger.Warn("sync disconnect on shutdown failed", "error", err)
			}
		}
	}()

	// Explicit queues:
	// - eventQueue holds events awaiting reduction
	// - cmdQueue holds commands awaiting execution
	var eventQueue []Event
	var cmdQueue []Command

	enqueueEvent := func(ev Event) {
		eventQueue = append(eventQueue, ev)
	}
	enqueueCommands := func(cmds []Command) {
		if len(cmds) == 0 {
			return
		}
		cmdQueue = append(cmdQueue, cmds...)
	}

	publish := func(bs []StateBroadcast) {
		if deps.Broadcasts == nil {
			return
		}
		for _, b := range bs {
			select {
			case deps.Broadcasts <- b:
			default:
				logger.Warn("broadcast channel full; dropping", "broadcast", b)
			}
		}
	}

	// Reduce all queued events, enqueuing any resulting commands.
	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			rr := Reduce(state, ev, deps.Cadence)
			if rr.State != nil {
				state = rr.State
			}
			enqueueCommands(rr.Commands)
			publish(rr.Broadcasts)
		}
	}

	// Execute all queued commands, enqueuing observation events.
	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]

			runEffect(env, state, cmd, enqueueEvent)

			// Observations are reduced promptly so follow-up commands run in order.
			flushEvents()
		}
	}

	// Main loop
	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return state

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				return state
			}
			enqueueEvent(TimedEvent{Event: ev, At: clock()})
			flushEvents()
			flushCommands()

		case f := <-fires:
			slot.Release(f.Gen)
			enqueueEvent(f)
			flushEvents()
			flushCommands()
		}
	}
}
