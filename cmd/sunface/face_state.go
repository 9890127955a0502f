package main

import "time"

// FaceState is the immutable input the renderer consumes for one frame.
// It is rebuilt for every redraw and never mutated.
type FaceState struct {
	Time    time.Time       `json:"time"`
	Mode    DisplayMode     `json:"mode"`
	Weather WeatherSnapshot `json:"weather"`

	Muted            bool `json:"muted"`
	Round            bool `json:"round"`
	BurnInProtection bool `json:"burn_in_protection"`
	LowBitAmbient    bool `json:"low_bit_ambient"`
}

// BuildFaceState assembles a frame from the current engine state and a fresh
// wall-clock reading, converted to the engine's time zone.
func BuildFaceState(s *EngineState, now time.Time) FaceState {
	return FaceState{
		Time:             now.In(s.Zone()),
		Mode:             s.Mode,
		Weather:          s.Weather,
		Muted:            s.Muted,
		Round:            s.Device.Round,
		BurnInProtection: s.Device.BurnInProtection,
		LowBitAmbient:    s.Device.LowBitAmbient,
	}
}

// AntiAlias reports whether text should be anti-aliased for this frame.
// Low-bit ambient displays can only show full on/off pixels.
func (f FaceState) AntiAlias() bool {
	return !(f.LowBitAmbient && f.Mode == Ambient)
}

// Alpha is the text opacity (0-255); muted faces are drawn dimmed.
func (f FaceState) Alpha() uint8 {
	if f.Muted {
		return muteAlpha
	}
	return normalAlpha
}

const (
	muteAlpha   = 100
	normalAlpha = 255
)
