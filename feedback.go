package alyamem

import "strings"

// ──────────────────────────────────────────────
// Feedback Detector — style preference signals from user messages
// ──────────────────────────────────────────────

// DefaultFeedbackPatterns maps preference keys to values to trigger
// keywords. Override via NewFeedbackDetector.
func DefaultFeedbackPatterns() map[string]map[string][]string {
	return map[string]map[string][]string{
		"style": {
			"concise":  {"too long", "shorter", "keep it short", "get to the point", "tl;dr", "less text"},
			"detailed": {"tell me more", "more detail", "go deeper", "elaborate", "explain more"},
		},
		"tone": {
			"casual": {"less formal", "plain words", "talk normal", "lighten up"},
			"formal": {"more professional", "more formal", "be serious"},
		},
	}
}

// FeedbackResult holds the detection outcome.
type FeedbackResult struct {
	// Matched indicates whether any feedback signal was detected.
	Matched bool
	// Changes contains preference changes: pref key -> new value.
	Changes map[string]string
	// Triggers contains the matched keyword per preference key.
	Triggers map[string]string
}

// FeedbackDetector detects explicit style feedback in user messages and
// maps it to preference adjustments stored on the user profile.
// Messages longer than maxLength are skipped: long messages are content,
// not feedback.
type FeedbackDetector struct {
	patterns  map[string]map[string][]string
	maxLength int
}

// NewFeedbackDetector creates a detector. patterns nil means defaults.
func NewFeedbackDetector(patterns map[string]map[string][]string) *FeedbackDetector {
	if patterns == nil {
		patterns = DefaultFeedbackPatterns()
	}
	return &FeedbackDetector{patterns: patterns, maxLength: 120}
}

// Detect scans the message for feedback keywords. A keyword only
// produces a change when the preference actually flips.
func (d *FeedbackDetector) Detect(message string, current map[string]string) FeedbackResult {
	result := FeedbackResult{
		Changes:  map[string]string{},
		Triggers: map[string]string{},
	}
	if len(message) > d.maxLength {
		return result
	}
	lower := strings.ToLower(message)

	for prefKey, values := range d.patterns {
		for prefValue, keywords := range values {
			for _, kw := range keywords {
				if !strings.Contains(lower, kw) {
					continue
				}
				if current[prefKey] == prefValue {
					break // already set, not a change
				}
				result.Matched = true
				result.Changes[prefKey] = prefValue
				result.Triggers[prefKey] = kw
				break
			}
		}
	}
	return result
}
