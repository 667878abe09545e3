package ui

import (
	"strings"
	"testing"
)

func TestRenderChange(t *testing.T) {
	defer func(prev bool) { noColor = prev }(noColor)
	noColor = false

	tests := []struct {
		change string
		color  string
	}{
		{"created", "38;5;114m"},
		{"updated", "38;5;74m"},
		{"deleted", "38;5;203m"},
	}
	for _, tt := range tests {
		got := RenderChange(tt.change)
		if !strings.Contains(got, tt.color) || !strings.Contains(got, tt.change) {
			t.Errorf("RenderChange(%q) = %q, want color %s", tt.change, got, tt.color)
		}
	}

	ForceNoColor()
	if got := RenderChange("created"); got != "created" {
		t.Errorf("no color: got %q", got)
	}
	if got := RenderMuted("x"); got != "x" {
		t.Errorf("no color: got %q", got)
	}
}
