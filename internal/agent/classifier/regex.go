package classifier

import (
	"regexp"

	"github.com/retirement-advisor-poc/server/internal/agent/model"
)

// Rule is one high-precision regex rule of the first cascade stage.
type Rule struct {
	Label   string
	OnTopic bool
	Pattern *regexp.Regexp
}

// accountTerms carries its own closing boundary; "401(k)" ends on a
// non-word character where \b would never match.
const accountTerms = `(?:(?:super(?:annuation)?|pensions?|iras?|roth|retire(?:ment|d)?|epf|nps|annuit(?:y|ies)|drawdown|lump[- ]sum|kiwisaver)\b|401(?:\(k\)|k\b))`

// DefaultRules returns the on-topic rules followed by the off-topic rules.
// Order matters: the first match wins.
func DefaultRules() []Rule {
	return []Rule{
		// on-topic: account keywords combined with an action keyword
		{model.LabelRetirementTax, true, regexp.MustCompile(`(?i)\btax(?:ed|es|able|ation)?\b.*\b(?:withdraw\w*\b|` + accountTerms + `)`)},
		{model.LabelRetirementTax, true, regexp.MustCompile(`(?i)\b` + accountTerms + `.*\btax(?:ed|es|able|ation)?\b`)},
		{model.LabelWithdrawal, true, regexp.MustCompile(`(?i)\b(?:withdraw\w*|access|cash(?:ing)? out|take out|early release)\b.*\b` + accountTerms)},
		{model.LabelContribution, true, regexp.MustCompile(`(?i)\b(?:contribut\w*|salary sacrific\w*|concessional|catch-up|employer match)\b.*\b` + accountTerms)},
		{model.LabelPensionBenefit, true, regexp.MustCompile(`(?i)\b(?:state pension|age pension|social security|pension benefits?|eps pension|preservation age)\b`)},
		{model.LabelProjection, true, regexp.MustCompile(`(?i)\b(?:enough to retire|retire (?:at|by|early)|balance at retirement|required minimum distributions?|rmds?|how long will my (?:super|pension|savings) last)\b`)},
		{model.LabelProjection, true, regexp.MustCompile(`(?i)\b(?:project\w*|forecast\w*|grow|estimate)\b.*\b` + accountTerms)},
		{model.LabelGeneralRetirement, true, regexp.MustCompile(`(?i)\b(?:superannuation\b|401(?:\(k\)|k\b)|retirement (?:age|savings|plan\w*|income|accounts?)\b|pension (?:funds?|schemes?|pots?|plans?)\b)`)},

		// off-topic
		{model.LabelWeather, false, regexp.MustCompile(`(?i)\b(?:weather|temperature|rain(?:ing|y)?|snow(?:ing)?|sunny|humid\w*)\b`)},
		{model.LabelFood, false, regexp.MustCompile(`(?i)\b(?:recipes?|cook(?:ing)?|bak(?:e|ing)|restaurants?|dinner|lunch|pizza|pasta)\b`)},
		{model.LabelEntertainment, false, regexp.MustCompile(`(?i)\b(?:movies?|films?|tv shows?|netflix|songs?|music|celebrit\w*|video games?)\b`)},
		{model.LabelSports, false, regexp.MustCompile(`(?i)\b(?:football|soccer|cricket|nba|nfl|basketball|tennis|who won the)\b`)},
	}
}

// RegexStage is the zero-cost first stage of the cascade.
type RegexStage struct {
	rules []Rule
}

func NewRegexStage(rules []Rule) *RegexStage {
	return &RegexStage{rules: rules}
}

// Match returns the first rule matching the query.
func (s *RegexStage) Match(query string) (Rule, bool) {
	for _, r := range s.rules {
		if r.Pattern.MatchString(query) {
			return r, true
		}
	}
	return Rule{}, false
}
