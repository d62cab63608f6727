package repo

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retirement-advisor-poc/server/internal/agent/model"
	errx "github.com/retirement-advisor-poc/server/internal/core/error"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestSQLCalculator(t *testing.T) {
	db, mock := newMock(t)
	amount := 50000.0

	mock.ExpectQuery(`SELECT value, authority, citations FROM retirement\.au_calculate_withdrawal_tax\(\$1, \$2, \$3\)`).
		WithArgs("AU-1001", "AU", amount).
		WillReturnRows(sqlmock.NewRows([]string{"value", "authority", "citations"}).
			AddRow("Tax payable: $7,500", "Australian Taxation Office", []byte(`[{"source":"ATO","title":"Super lump sum tax","url":"https://www.ato.gov.au"}]`)))

	out, err := NewSQLCalculator(db).Calculate(context.Background(), model.CalcRequest{
		ToolID:   "au_tax",
		Function: "au_calculate_withdrawal_tax",
		MemberID: "AU-1001",
		Country:  "AU",
		Amount:   &amount,
	})
	require.NoError(t, err)
	assert.Equal(t, "Tax payable: $7,500", out.Value)
	assert.Equal(t, "Australian Taxation Office", out.Authority)
	require.Len(t, out.Citations, 1)
	assert.Equal(t, "ATO", out.Citations[0].Source)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLCalculatorNullAmountAndCitations(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`FROM retirement\.us_calculate_rmd`).
		WithArgs("US-7", "US", nil).
		WillReturnRows(sqlmock.NewRows([]string{"value", "authority", "citations"}).AddRow("RMD: $12,000", "IRS", nil))

	out, err := NewSQLCalculator(db).Calculate(context.Background(), model.CalcRequest{Function: "us_calculate_rmd", MemberID: "US-7", Country: "US"})
	require.NoError(t, err)
	assert.Empty(t, out.Citations)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLCalculatorErrors(t *testing.T) {
	db, mock := newMock(t)
	calc := NewSQLCalculator(db)
	ctx := context.Background()

	_, err := calc.Calculate(ctx, model.CalcRequest{Function: "x; DROP TABLE members"})
	assert.ErrorContains(t, err, "invalid calculator function name")

	mock.ExpectQuery(`FROM retirement\.uk_calculate_tax`).WillReturnError(errors.New("division by zero"))
	_, err = calc.Calculate(ctx, model.CalcRequest{Function: "uk_calculate_tax", MemberID: "UK-1", Country: "UK"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "division by zero")
	assert.Equal(t, http.StatusBadGateway, errx.StatusOf(err))

	mock.ExpectQuery(`FROM retirement\.uk_calculate_tax`).
		WillReturnRows(sqlmock.NewRows([]string{"value", "authority", "citations"}).AddRow(nil, nil, nil))
	_, err = calc.Calculate(ctx, model.CalcRequest{Function: "uk_calculate_tax", MemberID: "UK-1", Country: "UK"})
	assert.ErrorContains(t, err, "returned no value")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMemberRepository(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresMemberRepository(db)
	ctx := context.Background()

	mock.ExpectQuery(`FROM retirement\.member_profiles\s+WHERE member_id = \$1 AND country = \$2`).
		WithArgs("IN-42", "IN").
		WillReturnRows(sqlmock.NewRows([]string{"member_id", "country", "first_name", "last_name", "age", "balance", "annual_income", "retirement_age", "employer_name"}).
			AddRow("IN-42", "IN", "Arjun", "Mehta", 45, 1850000.0, 1200000.0, 60, "Infosys"))

	m, err := repo.Get(ctx, "IN-42", "IN")
	require.NoError(t, err)
	assert.Equal(t, "Arjun", m.FirstName)
	assert.Equal(t, 60, m.RetirementAge)
	assert.Equal(t, "Infosys", m.EmployerName)

	mock.ExpectQuery(`FROM retirement\.member_profiles`).
		WithArgs("IN-0", "IN").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.Get(ctx, "IN-0", "IN")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, errx.StatusOf(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAuditSink(t *testing.T) {
	db, mock := newMock(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO retirement\.governance_audit`).
		WithArgs(
			"6f1c6d1e-2b7a-4a8e-9d55-0c1f3f1f8a10", "AU-1001", "AU", "How is my super taxed?", true, model.LabelRetirementTax,
			"regex", 0.95, "Hi Priya, ...", sqlmock.AnyArg(), 2,
			"PASSED", true, false, model.ValidatorLLMJudge, 0.9,
			[]byte(`[{"code":"UNSUPPORTED-FIGURE","severity":"HIGH","detail":"rate"}]`), 0.0012, 3.5, now,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := NewPostgresAuditSink(db).Record(context.Background(), model.AuditRecord{
		RequestID:            "6f1c6d1e-2b7a-4a8e-9d55-0c1f3f1f8a10",
		MemberID:             "AU-1001",
		Country:              "AU",
		Query:                "How is my super taxed?",
		IsOnTopic:            true,
		ClassificationLabel:  model.LabelRetirementTax,
		ClassificationMethod: "regex",
		ClassificationConf:   0.95,
		ResponseText:         "Hi Priya, ...",
		ToolsUsed:            []string{"au_tax"},
		Attempts:             2,
		FinalState:           "PASSED",
		Validated:            true,
		ValidatorUsed:        model.ValidatorLLMJudge,
		ValidationConfidence: 0.9,
		Violations:           []model.Violation{{Code: "UNSUPPORTED-FIGURE", Severity: "HIGH", Detail: "rate"}},
		TotalCostUSD:         0.0012,
		DurationS:            3.5,
		CreatedAt:            now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAuditSinkFailure(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO retirement\.governance_audit`).WillReturnError(errors.New("connection reset"))

	err := NewPostgresAuditSink(db).Record(context.Background(), model.AuditRecord{RequestID: "r"})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, errx.StatusOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
