package correct

import (
	"testing"
)

func rulesFor(t *testing.T, phrases, words map[string]string) *Rules {
	t.Helper()
	r := emptyRules()
	for k, v := range phrases {
		r.Phrases[k] = v
	}
	for k, v := range words {
		r.Words[k] = v
	}
	return r
}

func TestRegexFixes(t *testing.T) {
	c := NewCorrector(emptyRules(), 80)
	cases := []struct {
		in, want string
	}{
		{"i am going too the  market .", "I am going too the market."},
		{"hello   world", "hello world"},
		{"done. next sentence", "done. next sentence"},
		{"done.next sentence", "done. next sentence"},
		{"  padded  ", "padded"},
	}
	for _, tc := range cases {
		if got := c.Correct(tc.in).Text; got != tc.want {
			t.Errorf("Correct(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPhraseSubstitution(t *testing.T) {
	c := NewCorrector(rulesFor(t, map[string]string{"be holder": "beholder"}, nil), 80)
	res := c.Correct("the be holder appeared")
	if res.Text != "the beholder appeared" {
		t.Fatalf("text: %q", res.Text)
	}
	if res.PhraseChanges != 1 {
		t.Fatalf("phrase changes: %d", res.PhraseChanges)
	}
	if res.Confidence != 85 {
		t.Fatalf("confidence: %d", res.Confidence)
	}
}

func TestPhraseSubstitutionCaseInsensitive(t *testing.T) {
	c := NewCorrector(rulesFor(t, map[string]string{"be holder": "beholder"}, nil), 80)
	res := c.Correct("The Be Holder appeared twice, the be holder did")
	if res.Text != "The beholder appeared twice, the beholder did" {
		t.Fatalf("text: %q", res.Text)
	}
}

func TestFuzzyWordCorrection(t *testing.T) {
	c := NewCorrector(rulesFor(t, nil, map[string]string{"sylphrena": "Sylphrena"}), 80)

	// Exact match keeps the canonical casing.
	res := c.Correct("greetings sylphrena")
	if res.Text != "greetings Sylphrena" {
		t.Fatalf("exact: %q", res.Text)
	}
	if res.WordCorrections != 1 || res.MarginalMatches != 0 {
		t.Fatalf("exact counters: %+v", res)
	}

	// One edit away still matches, counts as marginal, keeps punctuation.
	res = c.Correct("greetings silphrena,")
	if res.Text != "greetings Sylphrena," {
		t.Fatalf("fuzzy: %q", res.Text)
	}
	if res.MarginalMatches != 1 {
		t.Fatalf("fuzzy counters: %+v", res)
	}
	// One correction in two words, marginal: 100 - 30 - 20.
	if res.Confidence != 50 {
		t.Fatalf("fuzzy confidence: %d", res.Confidence)
	}

	// Too far away is left alone.
	res = c.Correct("greetings stranger")
	if res.Text != "greetings stranger" || res.WordCorrections != 0 {
		t.Fatalf("miss: %+v", res)
	}
}

func TestCapitalizedWordKeepsCapital(t *testing.T) {
	c := NewCorrector(rulesFor(t, nil, map[string]string{"kaladin": "kaladin"}), 80)
	res := c.Correct("Kaladin spoke")
	if res.Text != "Kaladin spoke" {
		t.Fatalf("text: %q", res.Text)
	}
}

func TestGarbledTextScoresLow(t *testing.T) {
	c := NewCorrector(emptyRules(), 80)
	res := c.Correct("a b c went to it")
	// Scattered single letters and many tiny words both trip the garbled
	// heuristics even though no word was corrected.
	if res.Confidence > 60 {
		t.Fatalf("confidence too high for garbled input: %d", res.Confidence)
	}
}

func TestCleanTextScoresHigh(t *testing.T) {
	c := NewCorrector(emptyRules(), 80)
	res := c.Correct("the party gathered around the table")
	if res.Confidence != 100 {
		t.Fatalf("confidence: %d", res.Confidence)
	}
}
