package model

// ToolCategory is the closed set of calculator kinds a country may offer.
type ToolCategory string

const (
	CategoryTax        ToolCategory = "tax"
	CategoryBenefit    ToolCategory = "benefit"
	CategoryProjection ToolCategory = "projection"
)

// CountryProfile is the static vocabulary and tool set of one retirement system.
// Profiles are loaded at start-up and shared read-only by all requests.
type CountryProfile struct {
	Code             string                  `yaml:"code" json:"code"`
	DisplayName      string                  `yaml:"display_name" json:"display_name"`
	CurrencyCode     string                  `yaml:"currency_code" json:"currency_code"`
	CurrencySymbol   string                  `yaml:"currency_symbol" json:"currency_symbol"`
	AccountTerm      string                  `yaml:"account_term" json:"account_term"`
	BalanceTerm      string                  `yaml:"balance_term" json:"balance_term"`
	RegulatorNames   []string                `yaml:"regulator_names" json:"regulator_names"`
	AvailableToolIDs []string                `yaml:"available_tool_ids" json:"available_tool_ids"`
	Tools            map[ToolCategory]string `yaml:"tools" json:"tools"`
}

// HasTool reports whether the tool id is configured for the country.
func (p CountryProfile) HasTool(id string) bool {
	for _, t := range p.AvailableToolIDs {
		if t == id {
			return true
		}
	}
	return false
}

// ToolFor returns the tool id configured for a category, if available.
func (p CountryProfile) ToolFor(c ToolCategory) (string, bool) {
	id, ok := p.Tools[c]
	if !ok || !p.HasTool(id) {
		return "", false
	}
	return id, true
}
