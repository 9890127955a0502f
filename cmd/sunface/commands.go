package main

import (
	"fmt"
	"time"
)

// ==============================
// Commands (side effects)
// ==============================

// Command represents an external side effect to be executed by the daemon loop:
// timer arming, rendering, and sync channel lifecycle.
type Command interface {
	commandMarker()
	String() string
}

// CmdArmTimer arms the single redraw timer. Any outstanding timer is replaced.
type CmdArmTimer struct {
	Gen   uint64
	Delay time.Duration
}

func (CmdArmTimer) commandMarker() {}
func (c CmdArmTimer) String() string {
	return fmt.Sprintf("CmdArmTimer(gen=%d, delay=%s)", c.Gen, c.Delay)
}

// CmdCancelTimer cancels the outstanding redraw timer, if any. Idempotent.
type CmdCancelTimer struct{}

func (CmdCancelTimer) commandMarker() {}
func (CmdCancelTimer) String() string { return "CmdCancelTimer()" }

// CmdRedraw asks every render target to draw one frame.
type CmdRedraw struct {
	Reason string
}

func (CmdRedraw) commandMarker()   {}
func (c CmdRedraw) String() string { return fmt.Sprintf("CmdRedraw(reason=%s)", c.Reason) }

// CmdSyncConnect asks the sync channel to connect (non-blocking).
type CmdSyncConnect struct{}

func (CmdSyncConnect) commandMarker() {}
func (CmdSyncConnect) String() string { return "CmdSyncConnect()" }

// CmdSyncDisconnect asks the sync channel to disconnect.
type CmdSyncDisconnect struct{}

func (CmdSyncDisconnect) commandMarker() {}
func (CmdSyncDisconnect) String() string { return "CmdSyncDisconnect()" }

// CmdPublishStateSnapshot delivers a reducer-produced snapshot to a requester.
type CmdPublishStateSnapshot struct {
	Reply    chan<- StateSnapshot
	Snapshot StateSnapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (CmdPublishStateSnapshot) String() string { return "CmdPublishStateSnapshot()" }

// ==============================
// Broadcasts (state fan-out)
// ==============================

// StateBroadcast is a reducer-emitted notification for frame websocket clients.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastDisplayChanged is emitted when visibility, mode or mute changes.
type BroadcastDisplayChanged struct {
	Visibility Visibility
	Mode       DisplayMode
	Muted      bool
	At         time.Time
}

func (BroadcastDisplayChanged) broadcastMarker() {}

// BroadcastWeatherChanged is emitted when a sync batch changed the snapshot.
type BroadcastWeatherChanged struct {
	Weather WeatherSnapshot
	At      time.Time
}

func (BroadcastWeatherChanged) broadcastMarker() {}
