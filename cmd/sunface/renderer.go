package main

import (
	"encoding/json"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Surface is where a renderer paints a frame.
type Surface interface {
	io.Writer
}

// Renderer paints one FaceState. Draw is synchronous and must not touch engine state.
type Renderer interface {
	Draw(surface Surface, bounds image.Rectangle, face FaceState) error
}

// RenderTarget pairs a renderer with the surface it draws on.
type RenderTarget struct {
	Name     string
	Renderer Renderer
	Surface  Surface
}

// ============================================================================
// JSON frame renderer
// ============================================================================

// frameData is the JSON `data` payload of a "frame" message.
type frameData struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Face   FaceState `json:"face"`
	Text   faceText  `json:"text"`
	Alpha  uint8     `json:"alpha"`
	Smooth bool      `json:"anti_alias"`
}

// faceText is the pre-formatted text a thin display client can paint directly.
type faceText struct {
	Hour     string `json:"hour"`
	Minute   string `json:"minute"`
	Date     string `json:"date"`
	HighTemp string `json:"high_temp,omitempty"`
	LowTemp  string `json:"low_temp,omitempty"`
}

// JSONFrameRenderer writes one envelope per frame. Its surface is normally the
// frame websocket hub.
type JSONFrameRenderer struct{}

func (JSONFrameRenderer) Draw(surface Surface, bounds image.Rectangle, face FaceState) error {
	ts := face.Time.UTC()
	msg, err := json.Marshal(envelope{
		Type: "frame",
		Ts:   &ts,
		Data: frameData{
			Width:  bounds.Dx(),
			Height: bounds.Dy(),
			Face:   face,
			Text:   formatFaceText(face),
			Alpha:  face.Alpha(),
			Smooth: face.AntiAlias(),
		},
	})
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if _, err := surface.Write(msg); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func formatFaceText(face FaceState) faceText {
	t := faceText{
		Hour:   fmt.Sprintf("%02d", face.Time.Hour()),
		Minute: fmt.Sprintf("%02d", face.Time.Minute()),
		Date:   strings.ToUpper(face.Time.Format("Mon, Jan 02 2006")),
	}
	if face.Weather.HighTempKnown {
		t.HighTemp = face.Weather.HighTemp
	}
	if face.Weather.LowTempKnown {
		t.LowTemp = face.Weather.LowTemp
	}
	return t
}

// ============================================================================
// Terminal preview renderer
// ============================================================================

var iconGlyphs = map[IconCategory]string{
	IconStorm:       "⛈",
	IconLightRain:   "🌦",
	IconRain:        "🌧",
	IconSnow:        "❄",
	IconFog:         "🌫",
	IconClear:       "☀",
	IconLightClouds: "🌤",
	IconClouds:      "☁",
}

const (
	interactiveBackground = "#0288D1"
	textColor             = "#FFFFFF"
	mutedTextColor        = "#9E9E9E"
)

// TerminalRenderer draws a boxed preview of the face to a terminal.
type TerminalRenderer struct{}

func (TerminalRenderer) Draw(surface Surface, bounds image.Rectangle, face FaceState) error {
	text := formatFaceText(face)

	base := lipgloss.NewStyle().Foreground(lipgloss.Color(textColor))
	if face.Muted {
		base = base.Foreground(lipgloss.Color(mutedTextColor)).Faint(true)
	}

	box := lipgloss.NewStyle().Padding(0, 2).Align(lipgloss.Center)
	if face.Round {
		box = box.Border(lipgloss.RoundedBorder())
	} else {
		box = box.Border(lipgloss.NormalBorder())
	}
	if face.Mode == Interactive {
		box = box.Background(lipgloss.Color(interactiveBackground))
	}

	hour := base
	if !face.BurnInProtection {
		hour = hour.Bold(true)
	}
	lines := []string{
		hour.Render(text.Hour) + base.Render(":"+text.Minute),
		base.Render(text.Date),
	}

	// Ambient frames show only the time.
	if face.Mode == Interactive {
		var weather []string
		if g, ok := iconGlyphs[face.Weather.Icon]; ok {
			weather = append(weather, g)
		}
		if text.HighTemp != "" {
			weather = append(weather, base.Bold(true).Render(text.HighTemp))
		}
		if text.LowTemp != "" {
			weather = append(weather, base.Render(text.LowTemp))
		}
		if len(weather) > 0 {
			lines = append(lines, strings.Join(weather, " "))
		}
	}

	if w := bounds.Dx() / 16; w > 0 {
		box = box.Width(w)
	}

	_, err := fmt.Fprintln(surface, box.Render(lipgloss.JoinVertical(lipgloss.Center, lines...)))
	return err
}

// drawAll renders face on every target and returns the number of failures.
func drawAll(targets []RenderTarget, bounds image.Rectangle, face FaceState, onErr func(RenderTarget, error)) int {
	failed := 0
	for _, t := range targets {
		if t.Renderer == nil || t.Surface == nil {
			continue
		}
		if err := t.Renderer.Draw(t.Surface, bounds, face); err != nil {
			failed++
			if onErr != nil {
				onErr(t, err)
			}
		}
	}
	return failed
}

// frameBounds is the drawing rectangle for a display of the given size.
func frameBounds(width, height int) image.Rectangle {
	return image.Rect(0, 0, width, height)
}
