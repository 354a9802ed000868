package alyamem

import (
	"fmt"
	"strings"
)

// ──────────────────────────────────────────────
// Prompt formatting — flat text rendering of the context payload
// ──────────────────────────────────────────────

// FormatFacts renders the user's facts as a flat list for prompt
// construction. Returns "" when there is nothing to say.
func FormatFacts(facts []Fact) string {
	if len(facts) == 0 {
		return ""
	}
	var lines []string
	lines = append(lines, "What you know about this user:")
	for _, f := range facts {
		lines = append(lines, fmt.Sprintf("- %s: %s", f.Key, f.Value))
	}
	return strings.Join(lines, "\n")
}

// FormatRelationship renders the relationship snapshot as a one-line
// tone hint for the persona layer.
func FormatRelationship(r RelationshipSnapshot) string {
	return fmt.Sprintf("Relationship: %s (affection %d, %d interactions)",
		r.LevelName, r.AffectionPoints, r.InteractionCount)
}

// FormatMemories renders retrieval hits as a flat list. Returns "" when
// nothing relevant was found; the prompt simply omits the section.
func FormatMemories(memories []RelevantMemory) string {
	if len(memories) == 0 {
		return ""
	}
	var lines []string
	lines = append(lines, "Possibly relevant past context:")
	for _, m := range memories {
		lines = append(lines, "- "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// Format renders the whole payload (minus the recent turns, which the
// caller passes to the LLM as chat messages) into one prompt block.
func (p *ContextPayload) Format() string {
	var parts []string
	if s := FormatRelationship(p.Relationship); s != "" {
		parts = append(parts, s)
	}
	if s := FormatFacts(p.Facts); s != "" {
		parts = append(parts, s)
	}
	if s := FormatMemories(p.RelevantMemories); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n\n")
}
