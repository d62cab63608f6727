package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/retirement-advisor-poc/server/internal/agent/model"
	errx "github.com/retirement-advisor-poc/server/internal/core/error"
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// SQLCalculator runs the calculation functions deployed in the warehouse.
// Each function takes (member_id, country, amount) and returns one row of
// (value, authority, citations jsonb).
type SQLCalculator struct {
	db *sql.DB
}

func NewSQLCalculator(db *sql.DB) *SQLCalculator {
	return &SQLCalculator{db: db}
}

func (c *SQLCalculator) Calculate(ctx context.Context, req model.CalcRequest) (*model.CalcResponse, error) {
	// function names cannot be bound as parameters
	if !identRe.MatchString(req.Function) {
		return nil, fmt.Errorf("invalid calculator function name %q", req.Function)
	}
	query := fmt.Sprintf(`SELECT value, authority, citations FROM retirement.%s($1, $2, $3)`, req.Function)

	var amount sql.NullFloat64
	if req.Amount != nil {
		amount = sql.NullFloat64{Float64: *req.Amount, Valid: true}
	}

	var (
		value, authority sql.NullString
		rawCitations     []byte
	)
	err := c.db.QueryRowContext(ctx, query, req.MemberID, req.Country, amount).
		Scan(&value, &authority, &rawCitations)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Function, errx.WrapPostgres(err))
	}

	out := &model.CalcResponse{
		Value:     value.String,
		Authority: authority.String,
		Citations: []model.Citation{},
	}
	if len(rawCitations) > 0 {
		if err := json.Unmarshal(rawCitations, &out.Citations); err != nil {
			return nil, fmt.Errorf("%s: decode citations: %w", req.Function, err)
		}
	}
	if out.Value == "" {
		return nil, fmt.Errorf("%s: returned no value", req.Function)
	}
	return out, nil
}

var _ model.Calculator = (*SQLCalculator)(nil)
