package kb

import (
	"math"
	"testing"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

func TestScoreExactMatchScenario(t *testing.T) {
	entries := []models.FaqEntry{
		{Question: "orari apertura", Answer: "9-18"},
	}

	// Tokens: quali, sono, orari. Only "orari" matches, in both haystack and
	// question: (1.0 + 0.5) / 3 = 0.5.
	ranked, confidence := Score("quali sono gli orari", entries, DefaultTopK)
	if len(ranked) != 1 {
		t.Fatalf("expected 1 ranked entry, got %d", len(ranked))
	}
	if math.Abs(confidence-0.5) > 1e-9 {
		t.Errorf("expected confidence 0.5, got %v", confidence)
	}
}

func TestScoreNoMatchScenario(t *testing.T) {
	entries := []models.FaqEntry{
		{Question: "orari apertura", Answer: "9-18"},
	}
	ranked, confidence := Score("avete posto auto", entries, DefaultTopK)
	if len(ranked) != 0 {
		t.Errorf("expected no ranked entries, got %d", len(ranked))
	}
	if confidence != 0 {
		t.Errorf("expected confidence 0, got %v", confidence)
	}
}

func TestScoreCustomBoostPerMatchingToken(t *testing.T) {
	plain := []models.FaqEntry{{Question: "orari apertura negozio", Answer: "9-18"}}
	custom := []models.FaqEntry{{Question: "orari apertura negozio", Answer: "9-18", IsCustom: true}}

	// Two matching tokens out of two: plain = (1.5*2)/2, custom adds 0.3 per
	// matching token: (1.8*2)/2.
	_, plainConf := Score("orari apertura", plain, DefaultTopK)
	_, customConf := Score("orari apertura", custom, DefaultTopK)

	if math.Abs(plainConf-1.5) > 1e-9 {
		t.Errorf("expected plain confidence 1.5, got %v", plainConf)
	}
	if math.Abs(customConf-1.8) > 1e-9 {
		t.Errorf("expected custom confidence 1.8, got %v", customConf)
	}
}

func TestScoreCustomNeverDecreasesConfidence(t *testing.T) {
	queries := []string{"orari apertura", "quali sono gli orari", "pagamento carta credito"}
	entry := models.FaqEntry{Question: "orari apertura", Answer: "9-18 pagamento carta"}

	for _, q := range queries {
		_, plain := Score(q, []models.FaqEntry{entry}, DefaultTopK)
		asCustom := entry
		asCustom.IsCustom = true
		_, boosted := Score(q, []models.FaqEntry{asCustom}, DefaultTopK)
		if boosted < plain {
			t.Errorf("query %q: custom confidence %v below non-custom %v", q, boosted, plain)
		}
	}
}

func TestScoreDiscardsShortTokens(t *testing.T) {
	entries := []models.FaqEntry{{Question: "il re di roma", Answer: "storia gli eventi"}}
	ranked, confidence := Score("il re gli di", entries, DefaultTopK)
	if len(ranked) != 0 || confidence != 0 {
		t.Errorf("queries with only short tokens must score nothing, got %d entries conf %v", len(ranked), confidence)
	}
}

func TestScoreShortTokensDoNotDiluteNormalization(t *testing.T) {
	entries := []models.FaqEntry{{Question: "orari apertura", Answer: "9-18"}}

	// "gli" and "di" are dropped before normalization, so padding a query
	// with articles cannot push a matching entry below the threshold.
	_, bare := Score("quali sono orari", entries, DefaultTopK)
	_, padded := Score("quali sono gli orari di", entries, DefaultTopK)
	if math.Abs(bare-padded) > 1e-9 {
		t.Errorf("short tokens changed the score: bare %v, padded %v", bare, padded)
	}
}

func TestScoreKeepsTopK(t *testing.T) {
	var entries []models.FaqEntry
	for i := 0; i < 8; i++ {
		entries = append(entries, models.FaqEntry{Question: "orari apertura", Answer: "9-18"})
	}
	ranked, _ := Score("orari", entries, 5)
	if len(ranked) != 5 {
		t.Errorf("expected 5 ranked entries, got %d", len(ranked))
	}
}

func TestScoreSortsDescending(t *testing.T) {
	entries := []models.FaqEntry{
		{Question: "consegna", Answer: "in giornata"},
		{Question: "orari apertura", Answer: "orari 9-18"},
	}
	ranked, confidence := Score("orari apertura", entries, DefaultTopK)
	if len(ranked) != 1 {
		t.Fatalf("expected 1 match, got %d", len(ranked))
	}
	if ranked[0].Entry.Question != "orari apertura" {
		t.Errorf("best entry should rank first, got %+v", ranked[0].Entry)
	}
	if confidence != ranked[0].Score {
		t.Errorf("confidence %v must equal top score %v", confidence, ranked[0].Score)
	}
}
