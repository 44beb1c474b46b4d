package correct

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// Regex stage fixes, applied in order before any vocabulary lookups.
var (
	reLoneI      = regexp.MustCompile(`(?i)\bi\s+`)
	reSpaces     = regexp.MustCompile(`\s+`)
	reGapPunct   = regexp.MustCompile(`\s+([,.;:!?])`)
	reSentenceLC = regexp.MustCompile(`([.!?])\s*([a-z])`)
)

// Garbled-output heuristics; each one found costs 20 confidence points.
var garbledPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b[a-z]\s+[a-z]\s+[a-z]\b`),
	regexp.MustCompile(`\b\w{1,2}\b.*\b\w{1,2}\b.*\b\w{1,2}\b`),
}

var reNonWord = regexp.MustCompile(`[^\w]`)

// marginalScore is the similarity below which a fuzzy hit still counts as a
// correction but drags confidence down.
const marginalScore = 95

// Result carries a corrected transcript and how much the corrector trusts it.
type Result struct {
	Text            string
	Confidence      int
	PhraseChanges   int
	WordCorrections int
	MarginalMatches int
}

type phrasePattern struct {
	re          *regexp.Regexp
	replacement string
}

// Corrector runs the deterministic correction layers: regex fixes, phrase
// substitution, and fuzzy word matching with confidence scoring.
type Corrector struct {
	rules               *Rules
	phrases             []phrasePattern
	similarityThreshold int
}

func NewCorrector(rules *Rules, similarityThreshold int) *Corrector {
	c := &Corrector{rules: rules, similarityThreshold: similarityThreshold}
	for garbled, canonical := range rules.Phrases {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(garbled) + `\b`)
		c.phrases = append(c.phrases, phrasePattern{re: re, replacement: canonical})
	}
	return c
}

// Correct applies every deterministic layer and scores the outcome. It never
// fails: unknown text passes through with its confidence reflecting how
// garbled it looks.
func (c *Corrector) Correct(text string) Result {
	out := strings.TrimSpace(text)

	out = reLoneI.ReplaceAllString(out, "I ")
	out = reSpaces.ReplaceAllString(out, " ")
	out = reGapPunct.ReplaceAllString(out, "$1")
	out = reSentenceLC.ReplaceAllString(out, "$1 $2")

	phrased := c.correctPhrases(out)
	phraseChanges := 0
	if phrased != out {
		phraseChanges = 1
	}
	out = phrased

	out, wordConfidence, corrections, marginal := c.correctWords(out)

	out = strings.TrimSpace(reSpaces.ReplaceAllString(out, " "))

	penalty := phraseChanges * 15
	lower := strings.ToLower(out)
	for _, p := range garbledPatterns {
		if p.MatchString(lower) {
			penalty += 20
		}
	}
	confidence := wordConfidence - penalty
	if confidence < 0 {
		confidence = 0
	}

	return Result{
		Text:            out,
		Confidence:      confidence,
		PhraseChanges:   phraseChanges,
		WordCorrections: corrections,
		MarginalMatches: marginal,
	}
}

// correctPhrases replaces known garbled phrases, working from the rightmost
// match backwards so earlier replacements do not shift later offsets.
func (c *Corrector) correctPhrases(text string) string {
	type match struct {
		start, end  int
		replacement string
	}
	var matches []match
	for _, p := range c.phrases {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			matches = append(matches, match{start: loc[0], end: loc[1], replacement: p.replacement})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].start > matches[j].start })

	out := text
	lastStart := len(text) + 1
	for _, m := range matches {
		if m.end > lastStart {
			continue // overlaps a replacement already made to its right
		}
		out = out[:m.start] + m.replacement + out[m.end:]
		lastStart = m.start
	}
	return out
}

// correctWords fuzzy-matches each word against the garbled vocabulary. The
// returned confidence drops with the fraction of words changed and again for
// matches that were only marginally similar.
func (c *Corrector) correctWords(text string) (string, int, int, int) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return text, 100, 0, 0
	}

	corrections := 0
	marginal := 0
	out := make([]string, 0, len(words))
	for _, word := range words {
		clean := reNonWord.ReplaceAllString(strings.ToLower(word), "")
		best := ""
		bestScore := 0
		if clean != "" {
			for garbled, canonical := range c.rules.Words {
				score := similarity(clean, garbled)
				if score > bestScore && score >= c.similarityThreshold {
					bestScore = score
					best = canonical
				}
			}
		}
		if best == "" {
			out = append(out, word)
			continue
		}
		corrections++
		if bestScore < marginalScore {
			marginal++
		}
		out = append(out, redecorate(word, best))
	}

	correctionRate := float64(corrections) / float64(len(words))
	marginalRate := float64(marginal) / float64(len(words))
	confidence := int(100 - correctionRate*60 - marginalRate*40)
	if confidence < 0 {
		confidence = 0
	}
	return strings.Join(out, " "), confidence, corrections, marginal
}

// redecorate carries the original word's leading capital and punctuation over
// to its replacement.
func redecorate(original, replacement string) string {
	r := []rune(original)
	if len(r) > 0 && unicode.IsUpper(r[0]) {
		rep := []rune(replacement)
		if len(rep) > 0 {
			rep[0] = unicode.ToUpper(rep[0])
			replacement = string(rep)
		}
	}
	if punct := reNonWord.FindAllString(original, -1); punct != nil {
		replacement += strings.Join(punct, "")
	}
	return replacement
}

// similarity scores two lowercased words from 0 to 100 as edit distance
// normalized by the longer word.
func similarity(a, b string) int {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 100
	}
	d := levenshtein.ComputeDistance(a, b)
	score := (longest - d) * 100 / longest
	if score < 0 {
		return 0
	}
	return score
}
