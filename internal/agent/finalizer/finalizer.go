// Package finalizer turns the terminal state of the retry loop into the text
// shown to the member.
package finalizer

import (
	"fmt"
	"strings"

	"github.com/retirement-advisor-poc/server/internal/agent/model"
)

var greetingPrefixes = []string{"hi", "hello", "hey", "dear", "g'day", "good morning", "good afternoon", "good evening", "greetings"}

// Input is the terminal state handed to the finalizer.
type Input struct {
	Text        string
	State       model.LoopState
	Final       model.ValidationOutcome
	Member      *model.MemberProfile
	ToolIDs     []string
	ToolResults model.ToolResults
}

// Output is the externally visible answer.
type Output struct {
	Text        string
	Citations   []model.Citation
	Validated   bool
	NeedsReview bool
}

type Finalizer struct {
	redactor   Redactor
	disclaimer string
}

func New(redactor Redactor) *Finalizer {
	return &Finalizer{redactor: redactor, disclaimer: Disclaimer}
}

// Finalize applies, in order: identifier restore, greeting, references and
// disclaimer. A tool failure replaces the draft with the review message.
func (f *Finalizer) Finalize(in Input) Output {
	if in.Final.HasViolation(model.CodeToolExecutionFailed, model.SeverityCritical) {
		return Output{
			Text:        f.greet(ToolFailureMessage, in.Member),
			Citations:   []model.Citation{},
			NeedsReview: true,
		}
	}

	if strings.TrimSpace(in.Text) == "" {
		return Output{
			Text:        f.greet(NoAnswerMessage, in.Member),
			Citations:   []model.Citation{},
			NeedsReview: true,
		}
	}

	text := f.redactor.Restore(strings.TrimSpace(in.Text), in.Member)
	text = f.greet(text, in.Member)
	cites := CollectCitations(in.ToolIDs, in.ToolResults)
	text = f.appendReferences(text, cites)

	passed := in.State == model.StatePassed && in.Final.Passed
	return Output{
		Text:        text,
		Citations:   cites,
		Validated:   passed,
		NeedsReview: !passed,
	}
}

func (f *Finalizer) greet(text string, m *model.MemberProfile) string {
	if startsWithGreeting(text) {
		return text
	}
	greeting := "Hello,"
	if m != nil && strings.TrimSpace(m.FirstName) != "" {
		greeting = fmt.Sprintf("Hi %s,", strings.TrimSpace(m.FirstName))
	}
	if text == "" {
		return greeting
	}
	return greeting + "\n\n" + text
}

func (f *Finalizer) appendReferences(text string, cites []model.Citation) string {
	var b strings.Builder
	b.WriteString(text)
	if len(cites) > 0 {
		b.WriteString("\n\n**References**\n")
		for _, c := range cites {
			b.WriteString("- ")
			b.WriteString(c.Source)
			if c.Title != "" {
				b.WriteString(": ")
				b.WriteString(c.Title)
			}
			if c.URL != "" {
				b.WriteString(" (")
				b.WriteString(c.URL)
				b.WriteString(")")
			}
			b.WriteString("\n")
		}
	}
	b.WriteString("\n---\n_")
	b.WriteString(f.disclaimer)
	b.WriteString("_")
	return b.String()
}

func startsWithGreeting(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, p := range greetingPrefixes {
		if !strings.HasPrefix(lower, p) {
			continue
		}
		rest := lower[len(p):]
		if rest == "" || !isLetter(rest[0]) {
			return true
		}
	}
	return false
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// CollectCitations gathers successful tool citations in tool order without
// duplicates.
func CollectCitations(order []string, results model.ToolResults) []model.Citation {
	cites := []model.Citation{}
	seen := map[model.Citation]bool{}
	for _, id := range order {
		r, ok := results[id]
		if !ok || r.Failed() {
			continue
		}
		for _, c := range r.Citations {
			if seen[c] {
				continue
			}
			seen[c] = true
			cites = append(cites, c)
		}
	}
	return cites
}
