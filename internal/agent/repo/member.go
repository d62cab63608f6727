package repo

import (
	"context"
	"database/sql"

	"github.com/retirement-advisor-poc/server/internal/agent/model"
	errx "github.com/retirement-advisor-poc/server/internal/core/error"
)

const selectMember = `SELECT member_id, country, first_name, last_name, age, balance, annual_income,
	retirement_age, COALESCE(employer_name, '')
FROM retirement.member_profiles
WHERE member_id = $1 AND country = $2`

type PostgresMemberRepository struct {
	db *sql.DB
}

func NewPostgresMemberRepository(db *sql.DB) *PostgresMemberRepository {
	return &PostgresMemberRepository{db: db}
}

// Get returns a 404 AppError when the member is unknown in that country.
func (r *PostgresMemberRepository) Get(ctx context.Context, memberID, country string) (*model.MemberProfile, error) {
	var m model.MemberProfile
	err := r.db.QueryRowContext(ctx, selectMember, memberID, country).Scan(
		&m.MemberID, &m.Country, &m.FirstName, &m.LastName, &m.Age,
		&m.Balance, &m.AnnualIncome, &m.RetirementAge, &m.EmployerName,
	)
	if err != nil {
		return nil, errx.WrapPostgres(err)
	}
	return &m, nil
}

var _ model.MemberRepository = (*PostgresMemberRepository)(nil)
