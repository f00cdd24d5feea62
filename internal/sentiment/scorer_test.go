package sentiment

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func mustAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	analyzer, err := Load("")
	if err != nil {
		t.Fatalf("load embedded lexicon: %v", err)
	}
	return analyzer
}

func mustScore(t *testing.T, a *Analyzer, text string) float64 {
	t.Helper()
	score, err := a.Score(text)
	if err != nil {
		t.Fatalf("Score(%q) failed: %v", text, err)
	}
	return score
}

func TestScore_Polarity(t *testing.T) {
	t.Parallel()

	a := mustAnalyzer(t)

	if score := mustScore(t, a, "This stock is great"); score <= 0 {
		t.Fatalf("expected positive score, got %f", score)
	}
	if score := mustScore(t, a, "This stock is terrible"); score >= 0 {
		t.Fatalf("expected negative score, got %f", score)
	}
	if score := mustScore(t, a, "The meeting is on Tuesday"); score != 0 {
		t.Fatalf("expected neutral score, got %f", score)
	}
	if score := mustScore(t, a, "   "); score != 0 {
		t.Fatalf("expected 0 for blank text, got %f", score)
	}
}

func TestScore_NegationFlips(t *testing.T) {
	t.Parallel()

	a := mustAnalyzer(t)
	if score := mustScore(t, a, "earnings were not great"); score >= 0 {
		t.Fatalf("expected negated positive word to score negative, got %f", score)
	}
}

func TestScore_BoostersAndEmphasis(t *testing.T) {
	t.Parallel()

	a := mustAnalyzer(t)
	plain := mustScore(t, a, "the quarter was good")
	boosted := mustScore(t, a, "the quarter was very good")
	dampened := mustScore(t, a, "the quarter was slightly good")
	exclaimed := mustScore(t, a, "the quarter was good!!!")

	if boosted <= plain {
		t.Fatalf("expected booster to raise score: plain=%f boosted=%f", plain, boosted)
	}
	if dampened >= plain {
		t.Fatalf("expected dampener to lower score: plain=%f dampened=%f", plain, dampened)
	}
	if exclaimed <= plain {
		t.Fatalf("expected exclamation to raise score: plain=%f exclaimed=%f", plain, exclaimed)
	}
}

func TestScore_RangeAndDeterminism(t *testing.T) {
	t.Parallel()

	a := mustAnalyzer(t)
	texts := []string{
		"great great great amazing awesome best love love love!!!!",
		"terrible awful worst crash scam fraud bankrupt dead!!!!",
		"GameStop to the moon",
		"lol",
	}
	for _, text := range texts {
		first := mustScore(t, a, text)
		second := mustScore(t, a, text)
		if first != second {
			t.Fatalf("expected deterministic score for %q: %f != %f", text, first, second)
		}
		if first < -1 || first > 1 {
			t.Fatalf("score out of range for %q: %f", text, first)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.tsv"))
	if !errors.Is(err, ErrLexiconMissing) {
		t.Fatalf("expected ErrLexiconMissing, got %v", err)
	}
}

func TestLoad_CustomFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lexicon.tsv")
	if err := os.WriteFile(path, []byte("# custom\nyolo\t2.5\n"), 0o644); err != nil {
		t.Fatalf("write lexicon: %v", err)
	}

	a, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if score := mustScore(t, a, "yolo"); score <= 0 {
		t.Fatalf("expected custom token to score positive, got %f", score)
	}
	if score := mustScore(t, a, "great"); score != 0 {
		t.Fatalf("expected token outside custom lexicon to be neutral, got %f", score)
	}
}

func TestParseLexicon_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "missing tab", input: "good 1.9\n", wantErr: "expected token<TAB>valence"},
		{name: "bad number", input: "good\tplenty\n", wantErr: "invalid valence"},
		{name: "out of range", input: "good\t7\n", wantErr: "outside"},
		{name: "empty", input: "# nothing\n\n", wantErr: "lexicon is empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLexicon(strings.NewReader(tt.input))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNormalize_Bounds(t *testing.T) {
	t.Parallel()

	if got := normalize(0); got != 0 {
		t.Fatalf("expected 0, got %f", got)
	}
	if got := normalize(1e6); got > 1 || got < 0.99 {
		t.Fatalf("expected score close to 1, got %f", got)
	}
	if got := normalize(-1e6); got < -1 || got > -0.99 {
		t.Fatalf("expected score close to -1, got %f", got)
	}
}

func TestTokenize_WholeTextWithoutSentenceSplitting(t *testing.T) {
	t.Parallel()

	tokens, err := tokenize("GameStop to the moon. Buy now!")
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	seen := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		if tok == "" {
			t.Fatalf("unexpected empty token in %q", tokens)
		}
		seen[tok] = true
	}
	for _, want := range []string{"GameStop", "moon", "Buy", "now"} {
		if !seen[want] {
			t.Fatalf("expected token %q in %q", want, tokens)
		}
	}
}
