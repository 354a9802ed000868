package alyamem

import "testing"

// ══════════════════════════════════════════════
// Signal detector
// ══════════════════════════════════════════════

func TestSignals_IntentDetection(t *testing.T) {
	d := NewSignalDetector()

	cases := []struct {
		message string
		want    Intent
	}{
		{"thank you so much!", IntentGratitude},
		{"good morning alya", IntentGreeting},
		{"sorry, my bad", IntentApology},
		{"you're amazing, well done", IntentCompliment},
		{"love you, miss you", IntentAffection},
		{"shut up, stupid bot", IntentInsult},
		{"what time is it", IntentNeutral},
	}
	for _, tc := range cases {
		if got := d.Detect(tc.message).Intent; got != tc.want {
			t.Errorf("%q: intent = %q, want %q", tc.message, got, tc.want)
		}
	}
}

func TestSignals_EmotionNeedsThreshold(t *testing.T) {
	d := NewSignalDetector()

	// One low-weight happy word stays below the threshold.
	if got := d.Detect("nice").Emotion; got != "" {
		t.Fatalf("single weak hit must stay neutral, got %q", got)
	}
	// Multiple hits cross it.
	if got := d.Detect("haha awesome, love it").Emotion; got != "happy" {
		t.Fatalf("expected happy, got %q", got)
	}
	if got := d.Detect("this is bullshit, wtf").Emotion; got != "angry" {
		t.Fatalf("expected angry, got %q", got)
	}
}

func TestSignals_SentimentDirection(t *testing.T) {
	d := NewSignalDetector()

	if s := d.Detect("haha awesome, love it").Sentiment; s <= 0 {
		t.Fatalf("positive message scored %v", s)
	}
	if s := d.Detect("this is terrible and useless").Sentiment; s >= 0 {
		t.Fatalf("negative message scored %v", s)
	}
	if s := d.Detect("what time is it").Sentiment; s != 0 {
		t.Fatalf("neutral message scored %v", s)
	}
}

func TestSignals_SentimentClamped(t *testing.T) {
	d := NewSignalDetector()

	s := d.Detect("bullshit wtf terrible useless furious, shut up stupid bot idiot").Sentiment
	if s != -1 {
		t.Fatalf("expected clamp at -1, got %v", s)
	}
}
