// Package mention finds references to story entities in free text and keeps
// the derived MENTIONS edges of a story graph in sync with node prose.
package mention

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/starford/storyloom/internal/models"
)

// Confidence of each match kind. A full name and its possessive share a rank.
const (
	ConfidenceExact   = 1.0
	ConfidenceAlias   = 0.95
	ConfidencePartial = 0.7
)

// minPartialRunes is the shortest name token usable for a partial match.
const minPartialRunes = 2

const wordClass = `\p{L}\p{N}_`

type pattern struct {
	re         *regexp.Regexp
	confidence float64
}

type entityPatterns struct {
	info     models.EntityInfo
	patterns []pattern // in priority order
}

// Matcher holds compiled patterns for an entity catalog. It is safe for
// concurrent use.
type Matcher struct {
	entities []entityPatterns
}

// NewMatcher compiles the patterns for every entity in the catalog. Entities
// repeated by id are only kept once.
func NewMatcher(entities []models.EntityInfo) *Matcher {
	m := &Matcher{}
	seen := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		if ps := compileEntity(e); len(ps) > 0 {
			m.entities = append(m.entities, entityPatterns{info: e, patterns: ps})
		}
	}
	return m
}

// Extract returns at most one Mention per entity found in text, using the
// strongest match kind present anywhere in the text. Results follow catalog
// order. Empty text or an empty catalog yields an empty result.
func Extract(text string, entities []models.EntityInfo) []models.Mention {
	if strings.TrimSpace(text) == "" || len(entities) == 0 {
		return []models.Mention{}
	}
	return NewMatcher(entities).Extract(text)
}

// Extract is Extract with precompiled patterns.
func (m *Matcher) Extract(text string) []models.Mention {
	out := []models.Mention{}
	if strings.TrimSpace(text) == "" {
		return out
	}
	for _, ep := range m.entities {
		for _, p := range ep.patterns {
			sub := p.re.FindStringSubmatch(text)
			if sub == nil {
				continue
			}
			out = append(out, models.Mention{
				EntityID:    ep.info.ID,
				EntityType:  ep.info.Type,
				MatchedText: sub[1],
				Confidence:  p.confidence,
			})
			break
		}
	}
	return out
}

func compileEntity(e models.EntityInfo) []pattern {
	var out []pattern
	name := strings.TrimSpace(e.Name)
	if name != "" {
		out = append(out, pattern{re: termPattern(name, true), confidence: ConfidenceExact})
	}
	for _, alias := range e.Aliases {
		alias = strings.TrimSpace(alias)
		if alias == "" || strings.EqualFold(alias, name) {
			continue
		}
		out = append(out, pattern{re: termPattern(alias, false), confidence: ConfidenceAlias})
	}
	tokens := strings.Fields(name)
	if len(tokens) >= 2 {
		first, last := tokens[0], tokens[len(tokens)-1]
		if utf8.RuneCountInString(first) >= minPartialRunes {
			out = append(out, pattern{re: termPattern(first, false), confidence: ConfidencePartial})
		}
		if !strings.EqualFold(first, last) && utf8.RuneCountInString(last) >= minPartialRunes {
			out = append(out, pattern{re: termPattern(last, false), confidence: ConfidencePartial})
		}
	}
	return out
}

// termPattern builds a case-insensitive pattern that matches term only as a
// whole word (Unicode letters, digits and underscore count as word characters).
// Runs of whitespace inside term match any whitespace run. With possessive set,
// a trailing "'s" is included in the match. Group 1 captures the matched text.
func termPattern(term string, possessive bool) *regexp.Regexp {
	words := strings.Fields(term)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	core := strings.Join(words, `\s+`)
	if possessive {
		core += `(?:['’]s)?`
	}
	return regexp.MustCompile(`(?i)(?:^|[^` + wordClass + `])(` + core + `)(?:[^` + wordClass + `]|$)`)
}
