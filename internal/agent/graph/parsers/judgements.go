package parsers

import (
	"fmt"
	"strings"

	"github.com/retirement-advisor-poc/server/internal/agent/model"
)

// ClassificationJudgement is the JSON the classifier model is asked to return.
type ClassificationJudgement struct {
	IsOnTopic  *bool   `json:"is_on_topic"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// ValidationJudgement is the JSON the judge model is asked to return.
type ValidationJudgement struct {
	Passed     *bool             `json:"passed"`
	Confidence float64           `json:"confidence"`
	Violations []model.Violation `json:"violations"`
	Reasoning  string            `json:"reasoning"`
}

// ParseClassification extracts a classifier judgement from model output.
func ParseClassification(content string) Outcome[ClassificationJudgement] {
	return ParseJSON(content, func(j *ClassificationJudgement) error {
		if j.IsOnTopic == nil {
			return fmt.Errorf("is_on_topic missing")
		}
		if err := validUnit(j.Confidence, "confidence"); err != nil {
			return err
		}
		j.Label = strings.ToLower(strings.TrimSpace(j.Label))
		j.Reasoning = strings.TrimSpace(j.Reasoning)
		return nil
	})
}

// ParseValidation extracts a judge verdict from model output.
func ParseValidation(content string) Outcome[ValidationJudgement] {
	return ParseJSON(content, func(j *ValidationJudgement) error {
		if j.Passed == nil {
			return fmt.Errorf("passed missing")
		}
		if err := validUnit(j.Confidence, "confidence"); err != nil {
			return err
		}
		for i := range j.Violations {
			v := &j.Violations[i]
			v.Code = strings.ToUpper(strings.TrimSpace(v.Code))
			v.Severity = normalizeSeverity(v.Severity)
		}
		return nil
	})
}

func normalizeSeverity(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case model.SeverityCritical:
		return model.SeverityCritical
	case model.SeverityHigh:
		return model.SeverityHigh
	case model.SeverityLow:
		return model.SeverityLow
	default:
		return model.SeverityMedium
	}
}
