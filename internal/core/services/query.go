package services

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
	"github.com/custodia-labs/dfdewey/internal/core/ports/driven"
)

// ParseQuery splits a query into clauses that must all match.
// Bare words are separate clauses, "quoted text" is one phrase clause and
// a trailing * makes the last word a prefix.
func ParseQuery(raw string) (driven.Query, error) {
	var q driven.Query
	s := strings.TrimSpace(raw)

	for len(s) > 0 {
		var text string
		phrase := false

		if s[0] == '"' {
			end := strings.IndexByte(s[1:], '"')
			if end < 0 {
				text, s = s[1:], ""
			} else {
				text, s = s[1:end+1], s[end+2:]
			}
			phrase = true
		} else {
			end := strings.IndexAny(s, " \t\"")
			if end < 0 {
				text, s = s, ""
			} else {
				text, s = s[:end], s[end:]
			}
		}
		s = strings.TrimLeft(s, " \t")

		prefix := false
		if strings.HasSuffix(text, "*") {
			// A quoted phrase may be followed directly by the wildcard.
			text = strings.TrimRight(text, "*")
			prefix = true
		} else if phrase && strings.HasPrefix(s, "*") {
			s = strings.TrimLeft(s[1:], " \t")
			prefix = true
		}

		text = strings.Join(strings.Fields(text), " ")
		if text == "" {
			continue
		}
		q.Clauses = append(q.Clauses, driven.Clause{Text: text, Phrase: phrase, Prefix: prefix})
	}

	if len(q.Clauses) == 0 {
		return q, fmt.Errorf("%w: empty query %q", domain.ErrInvalidInput, raw)
	}
	return q, nil
}

// PhraseQuery is the query list search uses for each term.
func PhraseQuery(term string) driven.Query {
	text := strings.Join(strings.Fields(term), " ")
	if text == "" {
		return driven.Query{}
	}
	return driven.Query{Clauses: []driven.Clause{{Text: text, Phrase: true}}}
}

// highlightPattern turns a query into a case-insensitive pattern matching
// each clause. * matches a run of non-space characters and ? any one character.
func highlightPattern(raw string) (*regexp.Regexp, error) {
	raw = strings.ReplaceAll(raw, `"`, " ")
	var parts []string
	for _, word := range strings.Fields(raw) {
		p := regexp.QuoteMeta(word)
		p = strings.ReplaceAll(p, `\*`, `\S*`)
		p = strings.ReplaceAll(p, `\?`, `.`)
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalidInput)
	}
	return regexp.Compile("(?i)" + strings.Join(parts, "|"))
}
