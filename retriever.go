package alyamem

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
)

// ──────────────────────────────────────────────
// Relevance Retriever — ranked recall of prior turns and facts
// ──────────────────────────────────────────────

// Candidate is one piece of prior content considered for retrieval.
type Candidate struct {
	Content string
	Source  string // "turn" | "fact" | "summary"
	At      time.Time
}

// Scorer ranks candidates against a query. Implementations must be
// deterministic for a fixed corpus and query. Results come back in
// descending score order, already filtered by the strategy's own
// minimum-score threshold.
type Scorer interface {
	Score(ctx context.Context, query string, candidates []Candidate) ([]RelevantMemory, error)
	Name() string
}

// Retriever gathers a user's candidate corpus and ranks it with the
// configured scoring strategy. When the primary strategy fails (for
// example an embedding provider timing out), it transparently falls
// back to the lexical scorer; callers never see that failure.
type Retriever struct {
	turns     TurnStore
	facts     FactStore
	summaries SummaryStore
	primary   Scorer
	lexical   *LexicalScorer
	cfg       RetrievalConfig
	log       zerolog.Logger
}

// NewRetriever creates a retriever. primary may be nil, in which case
// the lexical strategy is used directly.
func NewRetriever(backend Backend, primary Scorer, cfg RetrievalConfig, log zerolog.Logger) *Retriever {
	return &Retriever{
		turns:     backend,
		facts:     backend,
		summaries: backend,
		primary:   primary,
		lexical:   NewLexicalScorer(cfg),
		cfg:       cfg,
		log:       log.With().Str("component", "retriever").Logger(),
	}
}

// Retrieve returns up to maxResults relevant memories, best first.
// "Nothing relevant" is a normal outcome and comes back as an empty
// slice. Only candidate-corpus storage reads can fail.
func (r *Retriever) Retrieve(ctx context.Context, userID, conversationID, query string, maxResults int) ([]RelevantMemory, error) {
	if maxResults <= 0 {
		maxResults = r.cfg.MaxResults
	}
	candidates, err := r.gather(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 || strings.TrimSpace(query) == "" {
		return []RelevantMemory{}, nil
	}

	hits := r.score(ctx, query, candidates)
	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}
	return hits, nil
}

func (r *Retriever) score(ctx context.Context, query string, candidates []Candidate) []RelevantMemory {
	if r.primary != nil {
		sctx := ctx
		cancel := func() {}
		if r.cfg.EmbedTimeout > 0 {
			sctx, cancel = context.WithTimeout(ctx, r.cfg.EmbedTimeout)
		}
		hits, err := r.primary.Score(sctx, query, candidates)
		cancel()
		if err == nil {
			return hits
		}
		r.log.Warn().
			Err(err).
			Str("strategy", r.primary.Name()).
			Msg("primary retrieval strategy failed, falling back to lexical")
		observeRetrievalFallback(r.primary.Name())
	}
	hits, err := r.lexical.Score(ctx, query, candidates)
	if err != nil {
		// Lexical scoring has no failure modes; keep the contract anyway.
		return []RelevantMemory{}
	}
	return hits
}

func (r *Retriever) gather(ctx context.Context, userID, conversationID string) ([]Candidate, error) {
	turns, err := r.turns.Recent(ctx, userID, conversationID, 0)
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for _, t := range turns {
		out = append(out, Candidate{Content: t.Content, Source: "turn", At: t.CreatedAt})
	}

	sums, err := r.summaries.Summaries(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	for _, s := range sums {
		out = append(out, Candidate{Content: s.Content, Source: "summary", At: s.EndAt})
	}

	facts, err := r.facts.GetAll(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, f := range facts {
		out = append(out, Candidate{Content: f.Key + ": " + f.Value, Source: "fact", At: f.CreatedAt})
	}
	return out, nil
}

// ──────────────────────────────────────────────
// Lexical strategy — keyword overlap scoring
// ──────────────────────────────────────────────

// stopwords excluded from keyword matching. English plus a few romanized
// fillers the bot's user base produces.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "had": {}, "her": {}, "was": {},
	"one": {}, "our": {}, "out": {}, "has": {}, "have": {}, "this": {},
	"that": {}, "with": {}, "they": {}, "them": {}, "what": {}, "when": {},
	"where": {}, "will": {}, "would": {}, "there": {}, "their": {},
	"about": {}, "which": {}, "your": {}, "just": {}, "like": {},
	"really": {}, "very": {}, "much": {}, "some": {}, "from": {},
	"did": {}, "does": {}, "how": {}, "why": {}, "who": {},
}

// LexicalScorer ranks candidates by keyword overlap with the query:
// score = matched query keywords / total query keywords. Ties break by
// recency, most recent first.
type LexicalScorer struct {
	minScore    float64
	minTokenLen int
}

// NewLexicalScorer creates a scorer from retrieval config.
func NewLexicalScorer(cfg RetrievalConfig) *LexicalScorer {
	minLen := cfg.MinTokenLen
	if minLen <= 0 {
		minLen = 3
	}
	return &LexicalScorer{minScore: cfg.MinScore, minTokenLen: minLen}
}

func (s *LexicalScorer) Name() string { return "lexical" }

// Score implements Scorer. A query with no usable keywords matches
// nothing: the result is empty, not lowest-available noise.
func (s *LexicalScorer) Score(_ context.Context, query string, candidates []Candidate) ([]RelevantMemory, error) {
	queryKeywords := s.keywords(query)
	if len(queryKeywords) == 0 {
		return []RelevantMemory{}, nil
	}

	hits := make([]RelevantMemory, 0, len(candidates))
	for _, c := range candidates {
		candidateSet := make(map[string]struct{})
		for _, tok := range s.keywords(c.Content) {
			candidateSet[tok] = struct{}{}
		}
		matched := 0
		for _, kw := range queryKeywords {
			if _, ok := candidateSet[kw]; ok {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		score := float64(matched) / float64(len(queryKeywords))
		if score < s.minScore {
			continue
		}
		hits = append(hits, RelevantMemory{
			Content: c.Content,
			Score:   score,
			Source:  c.Source,
			At:      c.At,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].At.After(hits[j].At)
	})
	return hits, nil
}

// keywords tokenizes text into deduplicated lowercase keywords with
// punctuation stripped, stopwords and short tokens dropped.
func (s *LexicalScorer) keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < s.minTokenLen {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Compile-time interface check.
var _ Scorer = (*LexicalScorer)(nil)
