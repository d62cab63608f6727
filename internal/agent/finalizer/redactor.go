package finalizer

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/retirement-advisor-poc/server/internal/agent/graph/prompts"
	"github.com/retirement-advisor-poc/server/internal/agent/model"
)

// Redactor swaps member names for a placeholder before text reaches a model
// and swaps them back afterwards.
type Redactor struct {
	placeholder string
}

func NewRedactor() Redactor {
	return Redactor{placeholder: prompts.MemberPlaceholder}
}

// Redact replaces the member's full, first and last name (whole words,
// case-insensitive) with the placeholder. Word boundaries are Unicode-aware,
// so names such as "Zoë" or "Élodie" are matched too.
func (r Redactor) Redact(text string, m *model.MemberProfile) string {
	if m == nil {
		return text
	}
	full := strings.TrimSpace(m.FirstName + " " + m.LastName)
	for _, name := range []string{full, m.FirstName, m.LastName} {
		name = strings.TrimSpace(name)
		if utf8.RuneCountInString(name) < 2 {
			continue
		}
		text = replaceWord(text, name, r.placeholder)
	}
	return text
}

// replaceWord replaces case-insensitive occurrences of word that are not
// part of a longer word. RE2's \b only knows ASCII word characters.
func replaceWord(text, word, repl string) string {
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(word))
	locs := re.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return text
	}

	var b strings.Builder
	last := 0
	for _, loc := range locs {
		if !atWordBoundary(text, loc[0], loc[1]) {
			continue
		}
		b.WriteString(text[last:loc[0]])
		b.WriteString(repl)
		last = loc[1]
	}
	b.WriteString(text[last:])
	return b.String()
}

func atWordBoundary(text string, start, end int) bool {
	if start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(text[:start]); isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		if r, _ := utf8.DecodeRuneInString(text[end:]); isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) || r == '_'
}

// Restore puts the member's first name back. Without a name the text is
// returned unchanged.
func (r Redactor) Restore(text string, m *model.MemberProfile) string {
	if m == nil || strings.TrimSpace(m.FirstName) == "" {
		return text
	}
	return strings.ReplaceAll(text, r.placeholder, strings.TrimSpace(m.FirstName))
}
