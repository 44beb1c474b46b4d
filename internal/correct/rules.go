package correct

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/leoscribe/internal/logging"
)

// Rules holds the correction vocabulary parsed from the rules file. Garbled
// forms are stored lowercased; canonical forms keep their casing.
type Rules struct {
	// Phrases maps multi-word garbled forms to their canonical replacement.
	Phrases map[string]string
	// Words maps single garbled words to their canonical replacement.
	Words map[string]string
	// Glossary is every canonical term, sorted, for LLM prompt context.
	Glossary []string
}

func emptyRules() *Rules {
	return &Rules{
		Phrases: make(map[string]string),
		Words:   make(map[string]string),
	}
}

// LoadRules parses a rules file of "garbled > canonical" lines. Lines that
// are empty or start with "#" or "---" are skipped. A missing file yields an
// empty rule set so the pipeline can run without a vocabulary.
func LoadRules(path string) (*Rules, error) {
	r := emptyRules()
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Warnw("rules file not found, running without vocabulary", "path", path)
			return r, nil
		}
		return nil, fmt.Errorf("open rules %s: %w", path, err)
	}
	defer f.Close()

	terms := make(map[string]struct{})
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "---") {
			continue
		}
		garbled, canonical, ok := strings.Cut(line, " > ")
		if !ok {
			continue
		}
		garbled = strings.ToLower(strings.TrimSpace(garbled))
		canonical = strings.TrimSpace(canonical)
		if garbled == "" || canonical == "" {
			continue
		}
		terms[canonical] = struct{}{}
		if strings.Contains(garbled, " ") {
			r.Phrases[garbled] = canonical
		} else {
			r.Words[garbled] = canonical
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}

	r.Glossary = make([]string, 0, len(terms))
	for t := range terms {
		r.Glossary = append(r.Glossary, t)
	}
	sort.Strings(r.Glossary)

	logging.Infow("correction rules loaded", "phrases", len(r.Phrases), "words", len(r.Words), "glossary_terms", len(r.Glossary))
	return r, nil
}
