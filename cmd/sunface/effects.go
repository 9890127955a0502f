package main

import (
	"image"
	"log/slog"
	"time"
)

// effectEnv is what runEffect may touch. It is owned by the daemon goroutine.
type effectEnv struct {
	slot      *TimerSlot
	sync      SyncChannel
	callbacks ConnectionCallbacks
	targets   []RenderTarget
	bounds    image.Rectangle
	clock     func() time.Time
	logger    *slog.Logger
}

// runEffect executes a single reducer-emitted Command and reports failures
// that the reducer should know about via onEvent.
//
// Rules:
// - This function is allowed to perform I/O.
// - It must never call Reduce() directly.
// - It reads state but never writes it.
func runEffect(env *effectEnv, state *EngineState, cmd Command, onEvent func(Event)) {
	logger := env.logger

	switch c := cmd.(type) {
	case CmdArmTimer:
		env.slot.Arm(c.Gen, c.Delay)
		logger.Debug("timer armed", "gen", c.Gen, "delay", c.Delay)

	case CmdCancelTimer:
		env.slot.Cancel()
		logger.Debug("timer cancelled")

	case CmdRedraw:
		face := BuildFaceState(state, env.clock())
		failed := drawAll(env.targets, env.bounds, face, func(t RenderTarget, err error) {
			logger.Warn("render failed", "target", t.Name, "reason", c.Reason, "error", err)
		})
		logger.Debug("frame drawn", "reason", c.Reason, "targets", len(env.targets), "failed", failed)

	case CmdSyncConnect:
		if env.sync == nil {
			logger.Debug("sync connect skipped", "error", errNoSyncChannel{})
			return
		}
		if err := env.sync.Connect(env.callbacks); err != nil {
			logger.Error("sync connect failed", "error", err)
			onEvent(SyncConnectionLost{Err: err})
		}

	case CmdSyncDisconnect:
		if env.sync == nil {
			return
		}
		if err := env.sync.Disconnect(); err != nil {
			logger.Warn("sync disconnect failed", "error", err)
		}

	case CmdPublishStateSnapshot:
		if c.Reply == nil {
			logger.Warn("state snapshot requested with nil reply channel")
			return
		}

		// Never block the daemon loop on a slow requester.
		select {
		case c.Reply <- c.Snapshot:
		default:
			logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	default:
		logger.Warn("unknown command type", "command", cmd.String(), "error", errUnknownCommand{cmd: cmd})
	}
}

// errNoSyncChannel indicates a sync command with no channel configured.
type errNoSyncChannel struct{}

func (errNoSyncChannel) Error() string { return "no sync channel configured" }

type errUnknownCommand struct {
	cmd Command
}

func (e errUnknownCommand) Error() string { return "unknown command: " + e.cmd.String() }
