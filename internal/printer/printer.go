package printer

import (
	"github.com/fatih/color"
)

type ColorPrinter struct {
	Success func(format string, a ...interface{}) string
	Error   func(format string, a ...interface{}) string
	Warning func(format string, a ...interface{}) string
	Info    func(format string, a ...interface{}) string
	Debug   func(format string, a ...interface{}) string
}

func NewColorPrinter() *ColorPrinter {
	return &ColorPrinter{
		Success: color.New(color.FgGreen).SprintfFunc(),
		Error:   color.New(color.FgRed).SprintfFunc(),
		Warning: color.New(color.FgYellow).SprintfFunc(),
		Info:    color.New(color.FgBlue).SprintfFunc(),
		Debug:   color.New(color.FgCyan).SprintfFunc(),
	}
}

// SetEnabled toggles ANSI colouring globally (off for JSON logs and pipes).
func SetEnabled(enabled bool) {
	color.NoColor = !enabled
}

// Level picks the colour for a three-tier health word: ok, degraded, bad.
// Anything else is printed uncoloured.
func (p *ColorPrinter) Level(tier, text string) string {
	switch tier {
	case "ok":
		return p.Success("%s", text)
	case "degraded":
		return p.Warning("%s", text)
	case "bad":
		return p.Error("%s", text)
	default:
		return text
	}
}
