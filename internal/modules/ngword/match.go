package ngword

import (
	"strings"
	"sync"

	"github.com/cloudflare/ahocorasick"
	"golang.org/x/text/cases"
	"golang.org/x/text/width"
)

// fold lowers case and maps full-width forms to their narrow equivalents.
func fold(text string) string {
	return cases.Fold().String(width.Fold.String(text))
}

// FirstMatch returns the first word of words, in list order, contained in
// content.
func FirstMatch(words []string, content string, caseSensitive bool) (string, bool) {
	if content == "" {
		return "", false
	}
	haystack := content
	if !caseSensitive {
		haystack = fold(content)
	}
	for _, word := range words {
		needle := strings.TrimSpace(word)
		if needle == "" {
			continue
		}
		if !caseSensitive {
			needle = fold(needle)
		}
		if strings.Contains(haystack, needle) {
			return word, true
		}
	}
	return "", false
}

// InsultMatcher is a case-insensitive substring matcher over a fixed list.
type InsultMatcher struct {
	mu      sync.Mutex
	matcher *ahocorasick.Matcher
	words   []string
}

func NewInsultMatcher(words []string) *InsultMatcher {
	kept := make([]string, 0, len(words))
	patterns := make([][]byte, 0, len(words))
	for _, word := range words {
		folded := fold(strings.TrimSpace(word))
		if folded == "" {
			continue
		}
		kept = append(kept, word)
		patterns = append(patterns, []byte(folded))
	}
	return &InsultMatcher{matcher: ahocorasick.NewMatcher(patterns), words: kept}
}

// Match returns the list entry with the lowest index found in text.
func (m *InsultMatcher) Match(text string) (string, bool) {
	if m == nil || len(m.words) == 0 || text == "" {
		return "", false
	}
	m.mu.Lock()
	hits := m.matcher.Match([]byte(fold(text)))
	m.mu.Unlock()
	if len(hits) == 0 {
		return "", false
	}
	first := hits[0]
	for _, hit := range hits[1:] {
		if hit < first {
			first = hit
		}
	}
	return m.words[first], true
}
