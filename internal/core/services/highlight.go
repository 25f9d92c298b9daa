package services

import (
	"regexp"
	"strings"
)

// ANSI escapes used by the default highlighter.
const (
	textHighlight = "\x1b[31m\x1b[1m"
	textReset     = "\x1b[0m"
)

// Highlighter marks one matched span of a hit.
type Highlighter func(match string) string

// ANSIHighlighter renders matches bold red on a terminal.
func ANSIHighlighter(match string) string {
	return textHighlight + match + textReset
}

// highlight wraps every non-empty match of re in data with mark.
func highlight(data string, re *regexp.Regexp, mark Highlighter) string {
	spans := re.FindAllStringIndex(data, -1)
	if len(spans) == 0 {
		return data
	}

	var b strings.Builder
	last := 0
	for _, span := range spans {
		if span[0] == span[1] {
			continue
		}
		b.WriteString(data[last:span[0]])
		b.WriteString(mark(data[span[0]:span[1]]))
		last = span[1]
	}
	b.WriteString(data[last:])
	return b.String()
}
