package model

import (
	"time"

	"github.com/ppiankov/tariffscope/internal/rate"
)

// DateLayout is the wire and storage format for effective dates
const DateLayout = "2006-01-02"

// GeneralRate is the MFN rate of a code; one active record per code
type GeneralRate struct {
	Code       string          `json:"code"`
	Expression rate.Expression `json:"expression"`
	RawText    string          `json:"raw_text"`
}

// PreferentialRate is a trade-agreement rate for goods of one origin country
type PreferentialRate struct {
	Code            string          `json:"code"`
	AgreementID     string          `json:"agreement_id"`
	CountryCode     string          `json:"country_code"`
	Expression      rate.Expression `json:"expression"`
	RawText         string          `json:"raw_text"`
	StagingCategory string          `json:"staging_category,omitempty"`
	EffectiveDate   time.Time       `json:"effective_date"`
	EliminationDate *time.Time      `json:"elimination_date,omitempty"` // Nil when the rate never lapses
}

// ValidAt reports whether the rate applies on d
func (p PreferentialRate) ValidAt(d time.Time) bool {
	return ValidAt(p.EffectiveDate, p.EliminationDate, d)
}

// DutyKind classifies a trade-remedy measure
type DutyKind string

const (
	DutyDumping        DutyKind = "dumping"
	DutyCountervailing DutyKind = "countervailing"
	DutyBoth           DutyKind = "both"
)

// TradeRemedyDuty is an anti-dumping or countervailing measure on goods from
// one country, optionally narrowed to a single exporter
type TradeRemedyDuty struct {
	Code          string          `json:"code"`
	CountryCode   string          `json:"country_code"`
	ExporterName  string          `json:"exporter_name,omitempty"` // Empty means all other exporters
	DutyKind      DutyKind        `json:"duty_kind"`
	Expression    rate.Expression `json:"expression"`
	RawText       string          `json:"raw_text"`
	CaseNumber    string          `json:"case_number"`
	EffectiveDate time.Time       `json:"effective_date"`
	ExpiryDate    *time.Time      `json:"expiry_date,omitempty"`
	IsActive      bool            `json:"is_active"`
}

// ValidAt reports whether the measure is active and in force on d
func (t TradeRemedyDuty) ValidAt(d time.Time) bool {
	return t.IsActive && ValidAt(t.EffectiveDate, t.ExpiryDate, d)
}

// IsAllOthers reports whether the measure covers every unnamed exporter
func (t TradeRemedyDuty) IsAllOthers() bool {
	return t.ExporterName == ""
}

// Concession is an order granting duty-free entry for a described product
type Concession struct {
	Code          string     `json:"code"`
	OrderNumber   string     `json:"order_number"`
	Description   string     `json:"description"`
	EffectiveDate time.Time  `json:"effective_date"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`
	IsCurrent     bool       `json:"is_current"`
}

// ValidAt reports whether the concession is current and in force on d
func (c Concession) ValidAt(d time.Time) bool {
	return c.IsCurrent && ValidAt(c.EffectiveDate, c.ExpiryDate, d)
}

// ChapterNote is a legal note printed with a chapter
type ChapterNote struct {
	ChapterID string `json:"chapter_id"`
	Ordinal   int    `json:"ordinal"`
	Text      string `json:"text"`
}

// ValidAt applies the half-open validity window [effective, expiry)
func ValidAt(effective time.Time, expiry *time.Time, d time.Time) bool {
	if d.Before(effective) {
		return false
	}
	return expiry == nil || d.Before(*expiry)
}

// Date truncates t to a UTC calendar date
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate reads a DateLayout date as UTC
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}
