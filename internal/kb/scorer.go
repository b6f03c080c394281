package kb

import (
	"sort"
	"strings"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// Scoring weights. The custom boost is applied per matching token, not once
// per entry; downstream threshold tuning depends on this exact formula.
const (
	haystackWeight = 1.0
	questionWeight = 0.5
	customWeight   = 0.3

	// DefaultTopK is the number of ranked entries kept for grounding context.
	DefaultTopK = 5

	// minTokenLength filters out short stop-word-like tokens (articles,
	// prepositions); tokens of this length or less are discarded. The 0.5
	// threshold is tuned against this cutoff: "quali sono gli orari" must
	// normalize over three tokens, not four.
	minTokenLength = 3
)

// ScoredEntry pairs a knowledge base entry with its normalized relevance score.
type ScoredEntry struct {
	Entry models.FaqEntry
	Score float64
}

// Score ranks entries against the query and returns the top-K matches plus the
// confidence of the best match (0 when nothing matched).
//
// Each query token longer than minTokenLength contributes 1.0 when it appears
// in the lowercased section+question+answer haystack, a further 0.5 when it
// also appears in the question alone, and a further 0.3 when the entry is
// custom. The raw score is normalized by the token count.
func Score(query string, entries []models.FaqEntry, topK int) ([]ScoredEntry, float64) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil, 0
	}

	ranked := make([]ScoredEntry, 0, len(entries))
	for _, e := range entries {
		haystack := strings.ToLower(e.Section + " " + e.Question + " " + e.Answer)
		question := strings.ToLower(e.Question)

		raw := 0.0
		for _, tok := range tokens {
			if !strings.Contains(haystack, tok) {
				continue
			}
			raw += haystackWeight
			if strings.Contains(question, tok) {
				raw += questionWeight
			}
			if e.IsCustom {
				raw += customWeight
			}
		}

		score := raw / float64(len(tokens))
		if score <= 0 {
			continue
		}
		ranked = append(ranked, ScoredEntry{Entry: e, Score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	if len(ranked) == 0 {
		return nil, 0
	}
	return ranked, ranked[0].Score
}

// tokenize lowercases the query and drops tokens of length <= minTokenLength.
func tokenize(query string) []string {
	var tokens []string
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		if len(tok) > minTokenLength {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}
