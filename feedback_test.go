package alyamem

import (
	"strings"
	"testing"
)

// ══════════════════════════════════════════════
// Feedback detector
// ══════════════════════════════════════════════

func TestFeedback_DetectsStyleChange(t *testing.T) {
	d := NewFeedbackDetector(nil)

	r := d.Detect("that was too long, keep it short please", nil)
	if !r.Matched {
		t.Fatal("expected a match")
	}
	if r.Changes["style"] != "concise" {
		t.Fatalf("expected concise, got %+v", r.Changes)
	}
	if r.Triggers["style"] == "" {
		t.Fatal("trigger keyword not recorded")
	}
}

func TestFeedback_DetectsToneChange(t *testing.T) {
	d := NewFeedbackDetector(nil)

	r := d.Detect("can you be less formal with me?", nil)
	if r.Changes["tone"] != "casual" {
		t.Fatalf("expected casual, got %+v", r.Changes)
	}
}

func TestFeedback_NoChangeWhenAlreadySet(t *testing.T) {
	d := NewFeedbackDetector(nil)

	r := d.Detect("keep it short", map[string]string{"style": "concise"})
	if r.Matched {
		t.Fatalf("preference already set, expected no change: %+v", r.Changes)
	}
}

func TestFeedback_LongMessagesIgnored(t *testing.T) {
	d := NewFeedbackDetector(nil)

	msg := "keep it short " + strings.Repeat("and let me tell you a story ", 10)
	if r := d.Detect(msg, nil); r.Matched {
		t.Fatal("long messages are content, not feedback")
	}
}

func TestFeedback_NeutralMessage(t *testing.T) {
	d := NewFeedbackDetector(nil)

	r := d.Detect("what's the weather like today?", nil)
	if r.Matched || len(r.Changes) != 0 {
		t.Fatalf("expected no feedback: %+v", r)
	}
}

func TestFeedback_CustomPatterns(t *testing.T) {
	d := NewFeedbackDetector(map[string]map[string][]string{
		"emoji": {"off": {"no emoji"}},
	})

	r := d.Detect("please, no emoji", nil)
	if r.Changes["emoji"] != "off" {
		t.Fatalf("custom pattern not applied: %+v", r.Changes)
	}
	// Default patterns are replaced, not merged.
	if r2 := d.Detect("keep it short", nil); r2.Matched {
		t.Fatal("default patterns must not leak into a custom detector")
	}
}
