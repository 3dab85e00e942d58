package output

import (
	"github.com/fatih/color"
)

// Palette holds the colors used by the live display and the summary.
type Palette struct {
	Title  *color.Color
	Border *color.Color
	Label  *color.Color
	Value  *color.Color
	Good   *color.Color
	Warn   *color.Color
	Bad    *color.Color
	Dim    *color.Color
	Accent *color.Color
	Phase  *color.Color
}

// NewPalette returns the default palette. When enabled is false every
// color prints plain text, regardless of the terminal.
func NewPalette(enabled bool) *Palette {
	p := &Palette{
		Title:  color.New(color.Bold),
		Border: color.New(color.FgCyan),
		Label:  color.New(color.FgWhite),
		Value:  color.New(color.FgCyan),
		Good:   color.New(color.FgGreen),
		Warn:   color.New(color.FgYellow),
		Bad:    color.New(color.FgRed),
		Dim:    color.New(color.Faint),
		Accent: color.New(color.FgBlue),
		Phase:  color.New(color.FgMagenta),
	}

	for _, c := range p.all() {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *Palette) all() []*color.Color {
	return []*color.Color{p.Title, p.Border, p.Label, p.Value, p.Good, p.Warn, p.Bad, p.Dim, p.Accent, p.Phase}
}

// Mark returns a colored check mark or cross.
func (p *Palette) Mark(passed bool) string {
	if passed {
		return p.Good.Sprint("✓")
	}
	return p.Bad.Sprint("✗")
}

// ErrorRate returns the color for a failure ratio.
func (p *Palette) ErrorRate(rate float64) *color.Color {
	switch {
	case rate > 0.05:
		return p.Bad
	case rate > 0.01:
		return p.Warn
	default:
		return p.Good
	}
}
