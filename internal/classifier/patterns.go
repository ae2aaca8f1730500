package classifier

import (
	"regexp"
	"strings"
)

// Go's \b only understands ASCII word characters, so English alternatives are
// word-bounded with \b while Hebrew alternatives are bounded by hand: a word
// must start the text or follow a non-Hebrew character, optionally through up
// to two attached prefix letters (ו, ה, ב, ל, מ, ש, כ as in "ללקוח" or
// "שמארגן"). The end is left open for plural and possessive suffixes. The
// word itself is capture group 1.
func english(words ...string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(words, "|") + `)\b`)
}

const hebrewPrefixes = `[ובהלמשכ]{0,2}`

func hebrew(words ...string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?:^|[^\p{Hebrew}])` + hebrewPrefixes + `(` + strings.Join(quoted, "|") + `)`)
}

// category is a named, ordered group of patterns.
type category struct {
	name     string
	patterns []*regexp.Regexp
}

// match returns the distinct matches of c in text, in order of first appearance.
func (c category) match(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, re := range c.patterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			hit := m[0]
			if len(m) > 1 {
				hit = m[1]
			}
			key := strings.ToLower(strings.TrimSpace(hit))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, key)
		}
	}
	return out
}

type categoryMatch struct {
	name    string
	matches []string
}

// matchCategories runs every category and keeps the ones that matched, in declaration order.
func matchCategories(text string, cats []category) []categoryMatch {
	var out []categoryMatch
	for _, c := range cats {
		if m := c.match(text); len(m) > 0 {
			out = append(out, categoryMatch{name: c.name, matches: m})
		}
	}
	return out
}

// unique flattens category matches into distinct signals.
func unique(matches []categoryMatch) []string {
	var out []string
	seen := map[string]bool{}
	for _, cm := range matches {
		for _, m := range cm.matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}

// strongest returns the category with the most matches; earlier categories win ties.
func strongest(matches []categoryMatch) string {
	best := ""
	bestN := 0
	for _, cm := range matches {
		if len(cm.matches) > bestN {
			best, bestN = cm.name, len(cm.matches)
		}
	}
	return best
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
