package ui

import "fmt"

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent  = 74  // blue
	colorCmd     = 250 // light gray
	colorMuted   = 245 // medium gray
	colorCreated = 114 // green
	colorDeleted = 203 // red
)

var noColor bool

func render(color int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", color, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return render(colorCmd, s) }

// RenderChange colors a resource change kind: created green, deleted red,
// anything else in the accent color.
func RenderChange(change string) string {
	switch change {
	case "created":
		return render(colorCreated, change)
	case "deleted":
		return render(colorDeleted, change)
	}
	return render(colorAccent, change)
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
