package model

import (
	"context"
	"time"
)

// AuditRecord is the flattened governance row written for every query.
type AuditRecord struct {
	RequestID            string
	MemberID             string
	Country              string
	Query                string
	IsOnTopic            bool
	ClassificationLabel  string
	ClassificationMethod string
	ClassificationConf   float64
	ResponseText         string
	ToolsUsed            []string
	Attempts             int
	FinalState           string
	Validated            bool
	NeedsReview          bool
	ValidatorUsed        string
	ValidationConfidence float64
	Violations           []Violation
	TotalCostUSD         float64
	DurationS            float64
	CreatedAt            time.Time
}

// AuditSink is the append-only governance store.
type AuditSink interface {
	Record(ctx context.Context, rec AuditRecord) error
}

// NewAuditRecord flattens a query and its result into an audit row.
func NewAuditRecord(in QueryInput, res *QueryResult, now time.Time) AuditRecord {
	rec := AuditRecord{
		RequestID:            res.RequestID,
		MemberID:             in.MemberID,
		Country:              in.Country,
		Query:                in.Query,
		IsOnTopic:            res.Classification.IsOnTopic,
		ClassificationLabel:  res.Classification.Label,
		ClassificationMethod: string(res.Classification.Method),
		ClassificationConf:   res.Classification.Confidence,
		ResponseText:         res.ResponseText,
		ToolsUsed:            res.ToolsUsed,
		Attempts:             res.Attempts,
		FinalState:           string(res.FinalState),
		Validated:            res.Validated,
		NeedsReview:          res.NeedsReview,
		TotalCostUSD:         res.TotalCostUSD,
		DurationS:            res.DurationS,
		CreatedAt:            now.UTC(),
	}
	if v, ok := res.FinalValidation(); ok {
		rec.ValidatorUsed = v.ValidatorUsed
		rec.ValidationConfidence = v.Confidence
		rec.Violations = v.Violations
	}
	return rec
}
