package safety

import (
	"strings"
	"testing"
)

func TestScreenCheck(t *testing.T) {
	screen := NewScreen(nil)
	tests := []struct {
		name    string
		texts   []string
		allowed bool
		match   string
	}{
		{name: "benign", texts: []string{"a red chair in a sunlit loft"}, allowed: true},
		{name: "empty", texts: []string{"", ""}, allowed: true},
		{name: "phrase", texts: []string{"how to MAKE A BOMB"}, allowed: false, match: "make a bomb"},
		{name: "negative prompt", texts: []string{"a villa", "graphic gore, blurry"}, allowed: false, match: "graphic gore"},
		{name: "hyphenated", texts: []string{"Neo-Nazi poster"}, allowed: false, match: "neo nazi"},
		{name: "short keyword whole word only", texts: []string{"render on cpu with landscape"}, allowed: true},
		{name: "short keyword alone", texts: []string{"cp"}, allowed: false, match: "cp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allowed, reason := screen.Check(tt.texts...)
			if allowed != tt.allowed {
				t.Fatalf("allowed = %v (%s), want %v", allowed, reason, tt.allowed)
			}
			if !tt.allowed && !strings.Contains(reason, tt.match) {
				t.Fatalf("reason = %q, want it to mention %q", reason, tt.match)
			}
			if tt.allowed && reason != "" {
				t.Fatalf("reason = %q, want empty", reason)
			}
		})
	}
}

func TestScreenCustomPhrases(t *testing.T) {
	screen := NewScreen([]string{"Forbidden Tower", "  "})
	if ok, _ := screen.Check("the forbidden   tower at dusk"); ok {
		t.Fatalf("expected custom phrase to match")
	}
	if ok, _ := screen.Check("make a bomb"); !ok {
		t.Fatalf("custom list should replace the default list")
	}
}
