package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SourceKind tags which kind of record produced a duty amount
type SourceKind string

const (
	SourceConcession  SourceKind = "concession"
	SourceTradeRemedy SourceKind = "trade_remedy"
	SourceFTA         SourceKind = "fta"
	SourceGeneral     SourceKind = "general"
)

// DutyRequest is a single resolver query. Date defaults to today when nil.
type DutyRequest struct {
	Code         string           `json:"code"`
	CountryCode  string           `json:"countryCode"`
	ExporterName string           `json:"exporterName,omitempty"`
	CustomsValue decimal.Decimal  `json:"customsValue"`
	Quantity     *decimal.Decimal `json:"quantity,omitempty"`
	Date         *time.Time       `json:"date,omitempty"`
}

// DutyComponent is one evaluated rate considered by the resolver
type DutyComponent struct {
	Kind            SourceKind      `json:"kind"`
	RateText        string          `json:"rateText"`
	EvaluatedAmount decimal.Decimal `json:"evaluatedAmount"`
	Applied         bool            `json:"applied"`
	Provenance      string          `json:"provenance,omitempty"` // Agreement, case or order reference
}

// DutyBreakdown is the full, auditable result of a resolver query
type DutyBreakdown struct {
	RequestedCode     string          `json:"requestedCode"`
	ResolvedCode      string          `json:"resolvedCode"`
	AppliedSourceKind SourceKind      `json:"appliedSourceKind"`
	Components        []DutyComponent `json:"components"`
	TotalDuty         decimal.Decimal `json:"totalDuty"`
	Tax               decimal.Decimal `json:"tax"`
	GrandTotal        decimal.Decimal `json:"grandTotal"`
	PotentialSavings  decimal.Decimal `json:"potentialSavings"`
	CalculationSteps  []string        `json:"calculationSteps"`
	Warnings          []string        `json:"warnings"`
	EffectiveDate     string          `json:"effectiveDate"`
	SnapshotVersion   string          `json:"snapshotVersion"`
}
