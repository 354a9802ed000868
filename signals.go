package alyamem

import (
	"context"
	"strings"
)

// ──────────────────────────────────────────────
// Signal Detector — lightweight rule-based scoring
// ──────────────────────────────────────────────

type weightedKeyword struct {
	keyword string
	weight  float64
}

// SignalDetector derives interaction signals from raw message text via
// weighted keyword scoring. It is the built-in fallback for deployments
// without an external NLU: callers with a real classifier should build
// Signals themselves and skip this.
type SignalDetector struct {
	intents   map[Intent][]weightedKeyword
	emotions  map[string][]weightedKeyword
	threshold float64
}

// NewSignalDetector creates a detector with the built-in English
// patterns.
func NewSignalDetector() *SignalDetector {
	return &SignalDetector{
		intents:   defaultIntentPatterns(),
		emotions:  defaultEmotionPatterns(),
		threshold: 0.3,
	}
}

func defaultIntentPatterns() map[Intent][]weightedKeyword {
	return map[Intent][]weightedKeyword{
		IntentGreeting: {
			{keyword: "good morning", weight: 0.5}, {keyword: "good evening", weight: 0.5},
			{keyword: "hello", weight: 0.4}, {keyword: "hey there", weight: 0.4},
		},
		IntentGratitude: {
			{keyword: "thank you", weight: 0.5}, {keyword: "thanks", weight: 0.5},
			{keyword: "appreciate it", weight: 0.4},
		},
		IntentApology: {
			{keyword: "sorry", weight: 0.5}, {keyword: "my bad", weight: 0.4},
			{keyword: "apologize", weight: 0.5},
		},
		IntentCompliment: {
			{keyword: "you're amazing", weight: 0.5}, {keyword: "so smart", weight: 0.4},
			{keyword: "well done", weight: 0.4}, {keyword: "you're the best", weight: 0.5},
		},
		IntentAffection: {
			{keyword: "love you", weight: 0.5}, {keyword: "miss you", weight: 0.5},
			{keyword: "thinking of you", weight: 0.4},
		},
		IntentInsult: {
			{keyword: "you're useless", weight: 0.5}, {keyword: "stupid bot", weight: 0.5},
			{keyword: "idiot", weight: 0.4}, {keyword: "shut up", weight: 0.4},
		},
	}
}

func defaultEmotionPatterns() map[string][]weightedKeyword {
	return map[string][]weightedKeyword{
		"angry": {
			{keyword: "bullshit", weight: 0.5}, {keyword: "wtf", weight: 0.5},
			{keyword: "terrible", weight: 0.4}, {keyword: "useless", weight: 0.4},
			{keyword: "furious", weight: 0.5},
		},
		"anxious": {
			{keyword: "asap", weight: 0.4}, {keyword: "hurry", weight: 0.4},
			{keyword: "urgent", weight: 0.4}, {keyword: "worried", weight: 0.4},
		},
		"happy": {
			// Lower weight: happiness needs multiple hits, sarcasm reads
			// the same as a single cheerful word.
			{keyword: "awesome", weight: 0.25}, {keyword: "great", weight: 0.25},
			{keyword: "love it", weight: 0.25}, {keyword: "haha", weight: 0.25},
			{keyword: "nice", weight: 0.25},
		},
		"sad": {
			{keyword: "sigh", weight: 0.4}, {keyword: "forget it", weight: 0.4},
			{keyword: "disappointed", weight: 0.4}, {keyword: "lonely", weight: 0.4},
		},
	}
}

// Detect scores the message and returns the derived signals. Sentiment
// comes from the emotion balance: positive tones push it up, negative
// tones down, clamped to [-1, 1].
func (d *SignalDetector) Detect(message string) Signals {
	lower := strings.ToLower(message)

	intent := IntentNeutral
	best := 0.0
	for candidate, keywords := range d.intents {
		score := 0.0
		for _, kw := range keywords {
			if strings.Contains(lower, kw.keyword) {
				score += kw.weight
			}
		}
		if score > best {
			best = score
			intent = candidate
		}
	}
	if best < d.threshold {
		intent = IntentNeutral
	}

	scores := make(map[string]float64, len(d.emotions))
	for tone, keywords := range d.emotions {
		for _, kw := range keywords {
			if strings.Contains(lower, kw.keyword) {
				scores[tone] += kw.weight
			}
		}
	}

	// Two or more exclamation marks amplify whatever tone leads.
	if strings.Count(message, "!") >= 2 {
		if top := maxTone(scores); top != "" {
			scores[top] += 0.1
		}
	}

	emotion := ""
	if top := maxTone(scores); top != "" && scores[top] >= d.threshold {
		emotion = top
	}

	sentiment := scores["happy"] - scores["angry"] - scores["sad"] - 0.5*scores["anxious"]
	switch intent {
	case IntentGratitude, IntentCompliment, IntentAffection:
		sentiment += 0.3
	case IntentInsult:
		sentiment -= 0.5
	}
	if sentiment > 1 {
		sentiment = 1
	}
	if sentiment < -1 {
		sentiment = -1
	}

	return Signals{
		Sentiment: sentiment,
		Intent:    intent,
		Emotion:   emotion,
	}
}

func maxTone(scores map[string]float64) string {
	top := ""
	best := 0.0
	for tone, score := range scores {
		if score > best {
			best = score
			top = tone
		}
	}
	return top
}

// ProcessMessage is ProcessTurn with built-in signal detection, for
// callers without an external classifier.
func (e *Engine) ProcessMessage(ctx context.Context, userID, conversationID, text string) (*ContextPayload, error) {
	return e.ProcessTurn(ctx, userID, conversationID, text, e.signals.Detect(text))
}
