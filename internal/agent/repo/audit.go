package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/retirement-advisor-poc/server/internal/agent/model"
	errx "github.com/retirement-advisor-poc/server/internal/core/error"
	logx "github.com/retirement-advisor-poc/server/pkg/logger"
)

const insertAudit = `INSERT INTO retirement.governance_audit (
	request_id, member_id, country, query, is_on_topic, classification_label,
	classification_method, classification_conf, response_text, tools_used, attempts,
	final_state, validated, needs_review, validator_used, validation_confidence,
	violations, total_cost_usd, duration_s, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

// PostgresAuditSink appends one governance row per answered query. Rows are
// never updated.
type PostgresAuditSink struct {
	db *sql.DB
}

func NewPostgresAuditSink(db *sql.DB) *PostgresAuditSink {
	return &PostgresAuditSink{db: db}
}

func (s *PostgresAuditSink) Record(ctx context.Context, rec model.AuditRecord) error {
	violations := rec.Violations
	if violations == nil {
		violations = []model.Violation{}
	}
	vb, err := json.Marshal(violations)
	if err != nil {
		return fmt.Errorf("marshal violations: %w", err)
	}
	tools := rec.ToolsUsed
	if tools == nil {
		tools = []string{}
	}

	_, err = s.db.ExecContext(ctx, insertAudit,
		rec.RequestID, rec.MemberID, rec.Country, rec.Query, rec.IsOnTopic, rec.ClassificationLabel,
		rec.ClassificationMethod, rec.ClassificationConf, rec.ResponseText, pq.Array(tools), rec.Attempts,
		rec.FinalState, rec.Validated, rec.NeedsReview, rec.ValidatorUsed, rec.ValidationConfidence,
		vb, rec.TotalCostUSD, rec.DurationS, rec.CreatedAt,
	)
	if err != nil {
		logx.Error().Err(err).Str("request_id", rec.RequestID).Msg("failed to insert governance audit row")
		return errx.WrapPostgres(err)
	}
	return nil
}

var _ model.AuditSink = (*PostgresAuditSink)(nil)
