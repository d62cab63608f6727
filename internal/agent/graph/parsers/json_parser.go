package parsers

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	logx "github.com/retirement-advisor-poc/server/pkg/logger"
)

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 64 * 1024 // 64KB
	maxCandidates = 32        // embedded objects tried before giving up
	maxErrSnippet = 200       // limit error snippet size
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// Strategy extracts one JSON candidate from raw model output.
type Strategy struct {
	Name    string
	Extract func(content string) []string
}

// DefaultStrategies are tried in order; the first candidate that decodes wins.
var DefaultStrategies = []Strategy{
	{Name: "plain", Extract: extractPlain},
	{Name: "fenced", Extract: extractFenced},
	{Name: "embedded", Extract: extractEmbedded},
}

// Outcome is the result of a multi-strategy parse. A zero Strategy means no
// strategy produced a usable object: callers must handle that NoJudgment case
// explicitly.
type Outcome[T any] struct {
	Value    T
	Strategy string
	Errors   []string
}

// NoJudgment reports whether every strategy failed.
func (o Outcome[T]) NoJudgment() bool {
	return o.Strategy == ""
}

// ParseJSON runs the strategies in order and decodes the first candidate that
// is valid JSON and passes validate. It never panics.
func ParseJSON[T any](content string, validate func(*T) error, strategies ...Strategy) (out Outcome[T]) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "json_parser").Msgf("panic recovered: %v", r)
			var zero T
			out = Outcome[T]{Value: zero, Errors: append(out.Errors, "panic")}
		}
	}()

	if len(strategies) == 0 {
		strategies = DefaultStrategies
	}
	if len(content) > maxContentLen {
		logx.Warn().
			Str("component", "json_parser").
			Int("max_len", maxContentLen).
			Int("orig_len", len(content)).
			Msg("content truncated due to size limit")
		content = content[:maxContentLen]
	}

	for _, s := range strategies {
		for _, candidate := range s.Extract(content) {
			var v T
			if err := json.Unmarshal([]byte(candidate), &v); err != nil {
				out.Errors = append(out.Errors, fmt.Sprintf("%s: %s", s.Name, safeSnippet(err.Error())))
				continue
			}
			if validate != nil {
				if err := validate(&v); err != nil {
					out.Errors = append(out.Errors, fmt.Sprintf("%s: %s", s.Name, safeSnippet(err.Error())))
					continue
				}
			}
			out.Value = v
			out.Strategy = s.Name
			return out
		}
	}
	return out
}

func extractPlain(content string) []string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		return []string{s}
	}
	return nil
}

func extractFenced(content string) []string {
	var out []string
	for _, m := range fencedBlock.FindAllStringSubmatch(content, -1) {
		if body := strings.TrimSpace(m[1]); body != "" {
			out = append(out, body)
		}
	}
	return out
}

// extractEmbedded returns balanced {...} spans found in prose, outermost first.
func extractEmbedded(content string) []string {
	var out []string
	for start := strings.IndexByte(content, '{'); start >= 0 && len(out) < maxCandidates; {
		end := matchBrace(content, start)
		if end < 0 {
			break
		}
		out = append(out, content[start:end+1])
		next := strings.IndexByte(content[end+1:], '{')
		if next < 0 {
			break
		}
		start = end + 1 + next
	}
	return out
}

// matchBrace finds the index of the brace closing the one at start, skipping
// braces inside JSON strings. Returns -1 when unbalanced.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func validUnit(v float64, name string) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s invalid number", name)
	}
	if v < 0 || v > 1 {
		return fmt.Errorf("%s out of range", name)
	}
	return nil
}

func safeSnippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrSnippet {
		return s
	}
	return s[:maxErrSnippet]
}
