package model

import "context"

// MemberProfile is the member context handed to synthesis and validation.
type MemberProfile struct {
	MemberID      string  `json:"member_id"`
	Country       string  `json:"country"`
	FirstName     string  `json:"first_name"`
	LastName      string  `json:"last_name"`
	Age           int     `json:"age"`
	Balance       float64 `json:"balance"`
	AnnualIncome  float64 `json:"annual_income"`
	RetirementAge int     `json:"retirement_age"`
	EmployerName  string  `json:"employer_name,omitempty"`
}

// MemberRepository loads member profiles from the SQL warehouse.
type MemberRepository interface {
	Get(ctx context.Context, memberID, country string) (*MemberProfile, error)
}
