package main

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Events - inputs to the reducer
// ============================================================================
// Host lifecycle callbacks, sync channel notifications and timer fires are all
// delivered as Events on one queue. Only the daemon goroutine reduces them.
// ============================================================================

// Event is the input to the reducer.
type Event interface {
	eventMarker()
}

// TimedEvent stamps an event with the time the daemon received it.
// Payload types stay clean; the reducer unwraps this before dispatch.
type TimedEvent struct {
	Event Event
	At    time.Time
}

func (TimedEvent) eventMarker() {}

// ----------------------------------------------------------------------------
// Host lifecycle
// ----------------------------------------------------------------------------

// VisibilityChanged is reported when the face is shown or hidden.
type VisibilityChanged struct {
	Visible bool `json:"visible"`
}

func (VisibilityChanged) eventMarker() {}

// AmbientModeChanged is reported when the device enters or leaves ambient mode.
type AmbientModeChanged struct {
	Ambient bool `json:"ambient"`
}

func (AmbientModeChanged) eventMarker() {}

// InterruptionFilterChanged carries the host do-not-disturb setting.
type InterruptionFilterChanged struct {
	Filter InterruptionFilter `json:"filter"`
}

func (InterruptionFilterChanged) eventMarker() {}

// TimeTick is the host's once-a-minute tick (delivered in ambient mode).
type TimeTick struct{}

func (TimeTick) eventMarker() {}

// WindowInsetsApplied reports the screen shape.
type WindowInsetsApplied struct {
	Round bool `json:"round"`
}

func (WindowInsetsApplied) eventMarker() {}

// PropertiesChanged reports display capabilities relevant to ambient drawing.
type PropertiesChanged struct {
	BurnInProtection bool `json:"burn_in_protection"`
	LowBitAmbient    bool `json:"low_bit_ambient"`
}

func (PropertiesChanged) eventMarker() {}

// TimeZoneChanged carries the new device time zone.
// Location is resolved by the receiving layer so the reducer stays free of I/O.
type TimeZoneChanged struct {
	Zone     string         `json:"zone"`
	Location *time.Location `json:"-"`
}

func (TimeZoneChanged) eventMarker() {}

// ----------------------------------------------------------------------------
// Sync channel
// ----------------------------------------------------------------------------

// SyncConnected is posted once the sync channel is connected and subscribed.
type SyncConnected struct{}

func (SyncConnected) eventMarker() {}

// SyncConnectionLost is posted when the channel drops or a connect attempt fails.
type SyncConnectionLost struct {
	Err error
}

func (SyncConnectionLost) eventMarker() {}

// WeatherDocumentsReceived carries the normalized updates of one change batch.
// All updates are applied in a single reduction.
type WeatherDocumentsReceived struct {
	Updates    []WeatherUpdate
	Reconciled bool // true when produced by the post-connect fetch
}

func (WeatherDocumentsReceived) eventMarker() {}

// ----------------------------------------------------------------------------
// Internal
// ----------------------------------------------------------------------------

// TimerFired is posted by the timer slot when a redraw timer elapses.
type TimerFired struct {
	Gen uint64
	At  time.Time
}

func (TimerFired) eventMarker() {}

// RequestStateSnapshot asks the reducer to publish a StateSnapshot on Reply.
type RequestStateSnapshot struct {
	Reply chan<- StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================
// Host events travel over IPC as {"type": "...", "data": {...}}.
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete host Event.
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "visibility_changed":
		var e VisibilityChanged
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal VisibilityChanged: %w", err)
		}
		return e, nil

	case "ambient_mode_changed":
		var e AmbientModeChanged
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal AmbientModeChanged: %w", err)
		}
		return e, nil

	case "interruption_filter_changed":
		var e InterruptionFilterChanged
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal InterruptionFilterChanged: %w", err)
		}
		if e.Filter == FilterUnknown {
			return nil, fmt.Errorf("unmarshal InterruptionFilterChanged: missing filter")
		}
		return e, nil

	case "time_tick":
		return TimeTick{}, nil

	case "window_insets_applied":
		var e WindowInsetsApplied
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal WindowInsetsApplied: %w", err)
		}
		return e, nil

	case "properties_changed":
		var e PropertiesChanged
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal PropertiesChanged: %w", err)
		}
		return e, nil

	case "time_zone_changed":
		var e TimeZoneChanged
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal TimeZoneChanged: %w", err)
		}
		loc, err := time.LoadLocation(e.Zone)
		if err != nil {
			return nil, fmt.Errorf("time zone %q: %w", e.Zone, err)
		}
		e.Location = loc
		return e, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent serializes a host Event into a JSON envelope with type discriminator
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope
	var payload any

	switch e := e.(type) {
	case VisibilityChanged:
		env.Type = "visibility_changed"
		payload = e
	case AmbientModeChanged:
		env.Type = "ambient_mode_changed"
		payload = e
	case InterruptionFilterChanged:
		env.Type = "interruption_filter_changed"
		payload = e
	case TimeTick:
		env.Type = "time_tick"
	case WindowInsetsApplied:
		env.Type = "window_insets_applied"
		payload = e
	case PropertiesChanged:
		env.Type = "properties_changed"
		payload = e
	case TimeZoneChanged:
		env.Type = "time_zone_changed"
		payload = e
	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %T: %w", e, err)
		}
		env.Data = data
	}

	return json.Marshal(env)
}
