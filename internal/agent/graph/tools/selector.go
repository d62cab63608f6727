package tools

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/retirement-advisor-poc/server/internal/agent/model"
)

// Rule maps a boolean CEL predicate over the lower-cased query to a tool
// category.
type Rule struct {
	Name     string
	Category model.ToolCategory
	Expr     string
}

// DefaultRules are evaluated in order; every match contributes its category.
var DefaultRules = []Rule{
	{
		Name:     "tax",
		Category: model.CategoryTax,
		Expr:     `["tax", "withdraw", "lump sum", "penalt", "cash out"].exists(w, query.contains(w))`,
	},
	{
		Name:     "benefit",
		Category: model.CategoryBenefit,
		Expr:     `["pension", "benefit", "social security", "preservation", "access", "eligib", "entitle"].exists(w, query.contains(w))`,
	},
	{
		Name:     "projection",
		Category: model.CategoryProjection,
		Expr:     `["project", "forecast", "how much will i have", "retire at", "enough", "how long", "run out", "grow", "future", "minimum distribution", "rmd", "drawdown", "corpus"].exists(w, query.contains(w))`,
	},
}

type compiledRule struct {
	Rule
	prg cel.Program
}

// Selector maps query text plus a country profile to calculator tool ids.
// Compiled programs are read-only after construction.
type Selector struct {
	rules []compiledRule
}

func NewSelector(rules []Rule) (*Selector, error) {
	env, err := cel.NewEnv(cel.Variable("query", cel.StringType))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	s := &Selector{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		ast, iss := env.Compile(r.Expr)
		if iss != nil && iss.Err() != nil {
			return nil, fmt.Errorf("rule %s: compile error: %w", r.Name, iss.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("rule %s: expression must be boolean, got %v", r.Name, ast.OutputType())
		}
		prg, err := env.Program(ast, cel.CostLimit(100000))
		if err != nil {
			return nil, fmt.Errorf("rule %s: program creation error: %w", r.Name, err)
		}
		s.rules = append(s.rules, compiledRule{Rule: r, prg: prg})
	}
	return s, nil
}

// Categories returns the categories whose predicates match, in rule order
// and without duplicates.
func (s *Selector) Categories(query string) []model.ToolCategory {
	facts := map[string]any{"query": strings.ToLower(query)}

	var cats []model.ToolCategory
	seen := map[model.ToolCategory]bool{}
	for _, r := range s.rules {
		out, _, err := r.prg.Eval(facts)
		if err != nil {
			continue
		}
		if matched, ok := out.Value().(bool); ok && matched && !seen[r.Category] {
			seen[r.Category] = true
			cats = append(cats, r.Category)
		}
	}
	return cats
}

// Select returns the deduplicated tool ids for the query. When no rule
// matches, or no matching category is offered by the country, it falls back
// to the country's first two tools. The result is empty only for a country
// without tools.
func (s *Selector) Select(query string, profile model.CountryProfile) []string {
	var ids []string
	seen := map[string]bool{}
	for _, cat := range s.Categories(query) {
		id, ok := profile.ToolFor(cat)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) > 0 {
		return ids
	}

	n := len(profile.AvailableToolIDs)
	if n > 2 {
		n = 2
	}
	return append([]string(nil), profile.AvailableToolIDs[:n]...)
}
