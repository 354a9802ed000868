package alyamem

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the statically-typed engine configuration. The content
// (thresholds, window sizes) is externally tunable via YAML; the shape
// is fixed. Parse once at startup with LoadConfig, or start from
// DefaultConfig and override fields.
type Config struct {
	Window       WindowConfig       `yaml:"window"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Relationship RelationshipConfig `yaml:"relationship"`
	Budget       BudgetConfig       `yaml:"budget"`

	// DedupWindow is how long an identical (user, role, content) append
	// is treated as an upstream retry and silently collapsed.
	DedupWindow time.Duration `yaml:"dedup_window"`
}

// WindowConfig bounds the active conversation window.
type WindowConfig struct {
	// MaxTurns is W: eviction triggers when the active count exceeds it.
	MaxTurns int `yaml:"max_turns"`
	// KeepRecent is how many turns survive an eviction. Must be < MaxTurns.
	KeepRecent int `yaml:"keep_recent"`
	// SummarizeTimeout bounds one summarizer call.
	SummarizeTimeout time.Duration `yaml:"summarize_timeout"`
}

// RetrievalConfig tunes relevance retrieval.
type RetrievalConfig struct {
	MaxResults int `yaml:"max_results"`
	// MinScore filters lexical matches; below it a candidate is dropped
	// even when MaxResults is not reached.
	MinScore float64 `yaml:"min_score"`
	// MinSimilarity filters embedding matches (cosine).
	MinSimilarity float64 `yaml:"min_similarity"`
	// MinTokenLen drops query/candidate tokens shorter than this.
	MinTokenLen int `yaml:"min_token_len"`
	// EmbedTimeout bounds one embedding-provider call; on expiry the
	// retriever falls back to the lexical strategy.
	EmbedTimeout time.Duration `yaml:"embed_timeout"`
}

// LevelThreshold gates one relationship level. Both conditions must
// hold for a user to reach the level.
type LevelThreshold struct {
	Affection    int `yaml:"affection"`
	Interactions int `yaml:"interactions"`
}

// RelationshipConfig holds the affection scoring policy. The source
// persona bot shipped several disagreeing constant sets; they are
// configuration here, with the defaults below as the canonical policy.
type RelationshipConfig struct {
	// Levels is indexed by RelationshipLevel. Level 0 must be {0, 0}.
	Levels []LevelThreshold `yaml:"levels"`

	SentimentHighDelta int     `yaml:"sentiment_high_delta"` // sentiment > HighBar
	SentimentLowDelta  int     `yaml:"sentiment_low_delta"`  // 0 < sentiment <= HighBar
	SentimentNegDelta  int     `yaml:"sentiment_neg_delta"`  // sentiment < -HighBar
	SentimentHighBar   float64 `yaml:"sentiment_high_bar"`

	IntentDeltas map[Intent]int `yaml:"intent_deltas"`
	// ConflictScale multiplies the 0..1 conflict signal strength.
	ConflictScale float64 `yaml:"conflict_scale"`

	// MaxDeltaPerTurn / MinDeltaPerTurn clamp the net per-turn swing.
	MaxDeltaPerTurn int `yaml:"max_delta_per_turn"`
	MinDeltaPerTurn int `yaml:"min_delta_per_turn"`

	// DemotionFloor: when points fall below it while level > 0, the
	// level drops by exactly one step and points reset to zero.
	DemotionFloor int `yaml:"demotion_floor"`
}

// BudgetConfig bounds the assembled context payload by estimated tokens.
type BudgetConfig struct {
	TotalTokens  int     `yaml:"total_tokens"`
	HistoryRatio float64 `yaml:"history_ratio"`
	MemoryRatio  float64 `yaml:"memory_ratio"`
}

// DefaultConfig returns the canonical policy constants.
func DefaultConfig() Config {
	return Config{
		DedupWindow: 2 * time.Second,
		Window: WindowConfig{
			MaxTurns:         20,
			KeepRecent:       10,
			SummarizeTimeout: 15 * time.Second,
		},
		Retrieval: RetrievalConfig{
			MaxResults:    4,
			MinScore:      0.25,
			MinSimilarity: 0.55,
			MinTokenLen:   3,
			EmbedTimeout:  8 * time.Second,
		},
		Relationship: RelationshipConfig{
			Levels: []LevelThreshold{
				{Affection: 0, Interactions: 0},     // stranger
				{Affection: 40, Interactions: 10},   // acquaintance
				{Affection: 150, Interactions: 40},  // friend
				{Affection: 400, Interactions: 120}, // close friend
				{Affection: 900, Interactions: 300}, // intimate
			},
			SentimentHighDelta: 2,
			SentimentLowDelta:  1,
			SentimentNegDelta:  -1,
			SentimentHighBar:   0.3,
			IntentDeltas: map[Intent]int{
				IntentGratitude:  1,
				IntentApology:    1,
				IntentCompliment: 2,
				IntentAffection:  5,
				IntentInsult:     -5,
				IntentToxic:      -8,
			},
			ConflictScale:   4,
			MaxDeltaPerTurn: 20,
			MinDeltaPerTurn: -15,
			DemotionFloor:   -100,
		},
		Budget: BudgetConfig{
			TotalTokens:  8000,
			HistoryRatio: 0.5,
			MemoryRatio:  0.2,
		},
	}
}

// LoadConfig reads a YAML config file layered over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks structural invariants the engine depends on.
func (c Config) Validate() error {
	if c.Window.MaxTurns <= 0 {
		return fmt.Errorf("%w: window.max_turns must be positive", ErrValidation)
	}
	if c.Window.KeepRecent < 0 || c.Window.KeepRecent >= c.Window.MaxTurns {
		return fmt.Errorf("%w: window.keep_recent must be in [0, max_turns)", ErrValidation)
	}
	if len(c.Relationship.Levels) == 0 {
		return fmt.Errorf("%w: relationship.levels must not be empty", ErrValidation)
	}
	first := c.Relationship.Levels[0]
	if first.Affection != 0 || first.Interactions != 0 {
		return fmt.Errorf("%w: relationship.levels[0] must be {0, 0}", ErrValidation)
	}
	for i := 1; i < len(c.Relationship.Levels); i++ {
		prev, cur := c.Relationship.Levels[i-1], c.Relationship.Levels[i]
		if cur.Affection <= prev.Affection || cur.Interactions < prev.Interactions {
			return fmt.Errorf("%w: relationship.levels must be strictly increasing at index %d", ErrValidation, i)
		}
	}
	if c.Relationship.MaxDeltaPerTurn < 0 || c.Relationship.MinDeltaPerTurn > 0 {
		return fmt.Errorf("%w: per-turn delta clamp is inverted", ErrValidation)
	}
	if c.Retrieval.MaxResults <= 0 {
		return fmt.Errorf("%w: retrieval.max_results must be positive", ErrValidation)
	}
	return nil
}
