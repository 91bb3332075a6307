// Package sanitize strips markdown and reasoning artifacts from model output
// so the text can be shown in the UI and read aloud.
package sanitize

import (
	"regexp"
	"strings"
)

type rule struct {
	re   *regexp.Regexp
	repl string
}

// Order matters: emphasis is unwrapped before list markers are removed, and
// stray markers are dropped only after code spans are unwrapped.
var rules = []rule{
	{regexp.MustCompile(`(?s)<think>.*?</think>`), ""},
	{regexp.MustCompile(`\*\*([^*]+)\*\*`), "$1"},
	{regexp.MustCompile(`\*([^*]+)\*`), "$1"},
	{regexp.MustCompile(`__([^_]+)__`), "$1"},
	{regexp.MustCompile(`_([^_]+)_`), "$1"},
	{regexp.MustCompile(`(?m)^#{1,6}[ \t]*`), ""},
	{regexp.MustCompile(`(?m)^[ \t]*[-*+][ \t]+`), ""},
	{regexp.MustCompile(`(?m)^[ \t]*\d+\.[ \t]+`), ""},
	{regexp.MustCompile("(?s)```.*?```"), ""},
	{regexp.MustCompile("`([^`]+)`"), "$1"},
	{regexp.MustCompile(`[*_]`), ""},
	{regexp.MustCompile(`\n{3,}`), "\n\n"},
}

// Clean returns text with think blocks, emphasis, headings, list markers,
// code fences and inline code removed, excess blank lines collapsed, and
// surrounding whitespace trimmed.
func Clean(text string) string {
	for _, r := range rules {
		text = r.re.ReplaceAllString(text, r.repl)
	}
	return strings.TrimSpace(text)
}
