package main

import (
	"encoding/json"
	"fmt"
	"time"
)

// Visibility is whether the host currently shows the face.
type Visibility int

const (
	Hidden Visibility = iota
	Visible
)

func (v Visibility) String() string {
	if v == Visible {
		return "visible"
	}
	return "hidden"
}

func (v Visibility) MarshalJSON() ([]byte, error) { return json.Marshal(v.String()) }

func (v *Visibility) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("visibility: %w", err)
	}
	switch s {
	case "visible":
		*v = Visible
	case "hidden":
		*v = Hidden
	default:
		return fmt.Errorf("unknown visibility %q", s)
	}
	return nil
}

// DisplayMode is the host power mode.
type DisplayMode int

const (
	Interactive DisplayMode = iota
	Ambient
)

func (m DisplayMode) String() string {
	if m == Ambient {
		return "ambient"
	}
	return "interactive"
}

func (m DisplayMode) MarshalJSON() ([]byte, error) { return json.Marshal(m.String()) }

func (m *DisplayMode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("display mode: %w", err)
	}
	switch s {
	case "ambient":
		*m = Ambient
	case "interactive":
		*m = Interactive
	default:
		return fmt.Errorf("unknown display mode %q", s)
	}
	return nil
}

// InterruptionFilter mirrors the host's do-not-disturb setting.
type InterruptionFilter int

const (
	FilterUnknown  InterruptionFilter = 0
	FilterAll      InterruptionFilter = 1
	FilterPriority InterruptionFilter = 2
	FilterNone     InterruptionFilter = 3
	FilterAlarms   InterruptionFilter = 4
)

// ParseInterruptionFilter accepts the names used by sunface-ctl and the IPC protocol.
func ParseInterruptionFilter(s string) (InterruptionFilter, error) {
	switch s {
	case "all":
		return FilterAll, nil
	case "priority":
		return FilterPriority, nil
	case "none":
		return FilterNone, nil
	case "alarms":
		return FilterAlarms, nil
	default:
		return FilterUnknown, fmt.Errorf("unknown interruption filter %q (must be all, priority, none or alarms)", s)
	}
}

func (f InterruptionFilter) String() string {
	switch f {
	case FilterAll:
		return "all"
	case FilterPriority:
		return "priority"
	case FilterNone:
		return "none"
	case FilterAlarms:
		return "alarms"
	default:
		return "unknown"
	}
}

func (f InterruptionFilter) MarshalJSON() ([]byte, error) { return json.Marshal(f.String()) }

// UnmarshalJSON accepts either a filter name or the host's numeric value.
func (f *InterruptionFilter) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		if n < int(FilterAll) || n > int(FilterAlarms) {
			return fmt.Errorf("interruption filter %d out of range", n)
		}
		*f = InterruptionFilter(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("interruption filter: %w", err)
	}
	parsed, err := ParseInterruptionFilter(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Muted reports whether this filter silences the face (slow cadence).
func (f InterruptionFilter) Muted() bool { return f == FilterNone }

// EngineState is the daemon-owned state of one face engine.
//
// Only Reduce mutates it. Effects and renderers read it on the daemon goroutine.
type EngineState struct {
	Visibility Visibility
	Mode       DisplayMode
	Filter     InterruptionFilter
	Muted      bool

	// Location is the device time zone; nil means time.Local.
	Location *time.Location

	// ClockBase is reset to "now" on becoming visible and on time zone changes.
	ClockBase time.Time

	Weather   WeatherSnapshot
	WeatherAt time.Time

	Device DeviceProperties

	Timer TimerState
	Sync  SyncState
}

// DeviceProperties are reported by the host once the surface is attached.
type DeviceProperties struct {
	Round            bool
	BurnInProtection bool
	LowBitAmbient    bool
}

// TimerState is the reducer's bookkeeping for the single redraw timer slot.
type TimerState struct {
	// Armed is true while a timer with generation Gen is outstanding.
	Armed bool
	// Gen identifies the outstanding timer; fires carrying another value are stale.
	Gen      uint64
	Interval time.Duration
	Deadline time.Time
}

// SyncState records what the engine last heard from the sync channel.
type SyncState struct {
	Wanted      bool
	Connected   bool
	ConnectedAt time.Time
	LastError   string
	LastErrorAt time.Time
}

// NewEngineState returns the initial state: hidden, interactive, unmuted, disarmed.
func NewEngineState(loc *time.Location) *EngineState {
	return &EngineState{
		Visibility: Hidden,
		Mode:       Interactive,
		Filter:     FilterAll,
		Location:   loc,
	}
}

// ShouldArm reports whether the periodic redraw timer may be running.
func (s *EngineState) ShouldArm() bool {
	return s.Visibility == Visible && s.Mode == Interactive
}

// Zone returns the engine time zone.
func (s *EngineState) Zone() *time.Location {
	if s.Location == nil {
		return time.Local
	}
	return s.Location
}

// StateSnapshot is an immutable copy of EngineState for other goroutines.
type StateSnapshot struct {
	Visibility Visibility      `json:"visibility"`
	Mode       DisplayMode     `json:"mode"`
	Muted      bool            `json:"muted"`
	Filter     string          `json:"interruption_filter"`
	Zone       string          `json:"time_zone"`
	Weather    WeatherSnapshot `json:"weather"`
	WeatherAt  time.Time       `json:"weather_at"`
	Armed      bool            `json:"armed"`
	IntervalMS int64           `json:"interval_ms"`
	Connected  bool            `json:"sync_connected"`
	SyncError  string          `json:"sync_error,omitempty"`
	Round      bool            `json:"round"`
}

// Snapshot copies the externally interesting parts of the state.
func (s *EngineState) Snapshot() StateSnapshot {
	return StateSnapshot{
		Visibility: s.Visibility,
		Mode:       s.Mode,
		Muted:      s.Muted,
		Filter:     s.Filter.String(),
		Zone:       s.Zone().String(),
		Weather:    s.Weather,
		WeatherAt:  s.WeatherAt,
		Armed:      s.Timer.Armed,
		IntervalMS: s.Timer.Interval.Milliseconds(),
		Connected:  s.Sync.Connected,
		SyncError:  s.Sync.LastError,
		Round:      s.Device.Round,
	}
}
