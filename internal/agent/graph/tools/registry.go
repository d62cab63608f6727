package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/retirement-advisor-poc/server/internal/agent/model"
)

// ===================================
// Calculator tool specs
// ===================================

// Spec binds a tool id to its category and the SQL function computing it.
type Spec struct {
	ID       string
	Category model.ToolCategory
	Function string
	Desc     string
}

var DefaultSpecs = []Spec{
	{"au_tax", model.CategoryTax, "au_calculate_withdrawal_tax", "Tax payable on a superannuation lump-sum withdrawal (ATO rules)."},
	{"au_preservation", model.CategoryBenefit, "au_check_preservation_access", "Preservation age and condition-of-release check for superannuation access."},
	{"au_projection", model.CategoryProjection, "au_project_super_balance", "Projected superannuation balance at retirement age."},
	{"us_penalty", model.CategoryTax, "us_calculate_early_withdrawal", "Income tax and 10% early-withdrawal penalty on a 401(k) distribution (IRS rules)."},
	{"us_social_security", model.CategoryBenefit, "us_estimate_social_security", "Estimated Social Security retirement benefit (SSA rules)."},
	{"us_rmd", model.CategoryProjection, "us_calculate_rmd", "Required minimum distribution for the current year."},
	{"uk_tax", model.CategoryTax, "uk_calculate_pension_tax", "Tax on a pension withdrawal after the 25% tax-free lump sum (HMRC rules)."},
	{"uk_state_pension", model.CategoryBenefit, "uk_estimate_state_pension", "State Pension estimate from qualifying National Insurance years."},
	{"uk_drawdown", model.CategoryProjection, "uk_project_drawdown", "How long a pension pot lasts under flexi-access drawdown."},
	{"in_epf_tax", model.CategoryTax, "in_calculate_epf_tax", "Tax on an EPF withdrawal given years of continuous service."},
	{"in_nps", model.CategoryProjection, "in_project_nps_corpus", "Projected NPS corpus and mandatory annuity split."},
	{"in_eps_pension", model.CategoryBenefit, "in_calculate_eps_pension", "Monthly EPS pension from pensionable salary and service."},
}

// CalcInput is the JSON argument of every calculator tool.
type CalcInput struct {
	MemberID string   `json:"member_id"`
	Country  string   `json:"country"`
	Amount   *float64 `json:"amount,omitempty"`
}

// CalcOutput is the JSON result of every calculator tool.
type CalcOutput struct {
	Value     string           `json:"value"`
	Authority string           `json:"authority"`
	Citations []model.Citation `json:"citations,omitempty"`
}

// Registry holds the calculator tools, one eino tool per spec, all backed by
// the same calculation service.
type Registry struct {
	specs map[string]Spec
	tools map[string]tool.InvokableTool
}

func NewRegistry(calc model.Calculator, specs []Spec) (*Registry, error) {
	if calc == nil {
		return nil, fmt.Errorf("calculator is nil")
	}
	r := &Registry{
		specs: make(map[string]Spec, len(specs)),
		tools: make(map[string]tool.InvokableTool, len(specs)),
	}
	for _, s := range specs {
		if s.ID == "" || s.Function == "" {
			return nil, fmt.Errorf("tool spec %q: id and function are required", s.ID)
		}
		if _, dup := r.specs[s.ID]; dup {
			return nil, fmt.Errorf("duplicate tool id %q", s.ID)
		}
		r.specs[s.ID] = s
		r.tools[s.ID] = newCalculatorTool(calc, s)
	}
	return r, nil
}

func newCalculatorTool(calc model.Calculator, s Spec) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: s.ID,
			Desc: s.Desc,
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"member_id": {
					Type:     "string",
					Desc:     "Member identifier",
					Required: true,
				},
				"country": {
					Type:     "string",
					Desc:     "ISO country code of the member's retirement system",
					Required: true,
				},
				"amount": {
					Type: "number",
					Desc: "Optional amount, e.g. a withdrawal in local currency",
				},
			}),
		},
		func(ctx context.Context, in *CalcInput) (*CalcOutput, error) {
			if in.MemberID == "" {
				return nil, fmt.Errorf("member_id is required")
			}
			resp, err := calc.Calculate(ctx, model.CalcRequest{
				ToolID:   s.ID,
				Function: s.Function,
				MemberID: in.MemberID,
				Country:  in.Country,
				Amount:   in.Amount,
			})
			if err != nil {
				return nil, err
			}
			if resp == nil {
				return nil, fmt.Errorf("%s returned no result", s.Function)
			}
			return &CalcOutput{
				Value:     resp.Value,
				Authority: resp.Authority,
				Citations: resp.Citations,
			}, nil
		},
	)
}

func (r *Registry) Tool(id string) (tool.InvokableTool, bool) {
	t, ok := r.tools[id]
	return t, ok
}

// CheckProfiles verifies that every tool a country offers is registered with
// the category the country files it under.
func (r *Registry) CheckProfiles(profiles []model.CountryProfile) error {
	for _, p := range profiles {
		for _, id := range p.AvailableToolIDs {
			if _, ok := r.specs[id]; !ok {
				return fmt.Errorf("country %s: tool %q is not registered", p.Code, id)
			}
		}
		for cat, id := range p.Tools {
			s, ok := r.specs[id]
			if !ok {
				return fmt.Errorf("country %s: tool %q is not registered", p.Code, id)
			}
			if s.Category != cat {
				return fmt.Errorf("country %s: tool %q is a %s tool, not %s", p.Code, id, s.Category, cat)
			}
		}
	}
	return nil
}
