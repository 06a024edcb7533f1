package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/ppiankov/tariffscope/internal/model"
	"github.com/ppiankov/tariffscope/internal/store"
)

const (
	insertCode = `INSERT INTO classification_codes
		(snapshot_version, code, description, unit_of_quantity, level, parent_code, section_id, chapter_id, is_active)
		VALUES (:snapshot_version, :code, :description, :unit_of_quantity, :level, :parent_code, :section_id, :chapter_id, :is_active)`
	insertGeneral = `INSERT INTO general_rates (snapshot_version, code, expression, raw_text)
		VALUES (:snapshot_version, :code, :expression, :raw_text)`
	insertPreferential = `INSERT INTO preferential_rates
		(snapshot_version, code, agreement_id, country_code, expression, raw_text, staging_category, effective_date, elimination_date)
		VALUES (:snapshot_version, :code, :agreement_id, :country_code, :expression, :raw_text, :staging_category, :effective_date, :elimination_date)`
	insertRemedy = `INSERT INTO trade_remedies
		(snapshot_version, code, country_code, exporter_name, duty_kind, expression, raw_text, case_number, effective_date, expiry_date, is_active)
		VALUES (:snapshot_version, :code, :country_code, :exporter_name, :duty_kind, :expression, :raw_text, :case_number, :effective_date, :expiry_date, :is_active)`
	insertConcession = `INSERT INTO concessions
		(snapshot_version, code, order_number, description, effective_date, expiry_date, is_current)
		VALUES (:snapshot_version, :code, :order_number, :description, :effective_date, :expiry_date, :is_current)`
	insertNote = `INSERT INTO chapter_notes (snapshot_version, chapter_id, ordinal, text)
		VALUES (:snapshot_version, :chapter_id, :ordinal, :text)`
	insertDeadLetter = `INSERT INTO dead_letters (snapshot_version, kind, url, chapter_id, code, raw, reason)
		VALUES (:snapshot_version, :kind, :url, :chapter_id, :code, :raw, :reason)`

	selectCodes = `SELECT code, description, unit_of_quantity, level, parent_code, section_id, chapter_id, is_active
		FROM classification_codes WHERE snapshot_version = ?`
	selectGeneral = `SELECT code, expression, raw_text
		FROM general_rates WHERE snapshot_version = ?`
	selectPreferential = `SELECT code, agreement_id, country_code, expression, raw_text, staging_category, effective_date, elimination_date
		FROM preferential_rates WHERE snapshot_version = ?`
	selectRemedies = `SELECT code, country_code, exporter_name, duty_kind, expression, raw_text, case_number, effective_date, expiry_date, is_active
		FROM trade_remedies WHERE snapshot_version = ?`
	selectConcessions = `SELECT code, order_number, description, effective_date, expiry_date, is_current
		FROM concessions WHERE snapshot_version = ?`
	selectNotes = `SELECT chapter_id, ordinal, text
		FROM chapter_notes WHERE snapshot_version = ?`
	selectDeadLetters = `SELECT kind, url, chapter_id, code, raw, reason
		FROM dead_letters WHERE snapshot_version = ?`
)

type codeRow struct {
	SnapshotVersion string `db:"snapshot_version"`
	Code            string `db:"code"`
	Description     string `db:"description"`
	UnitOfQuantity  string `db:"unit_of_quantity"`
	Level           int    `db:"level"`
	ParentCode      string `db:"parent_code"`
	SectionID       string `db:"section_id"`
	ChapterID       string `db:"chapter_id"`
	IsActive        bool   `db:"is_active"`
}

type generalRow struct {
	SnapshotVersion string `db:"snapshot_version"`
	Code            string `db:"code"`
	Expression      string `db:"expression"`
	RawText         string `db:"raw_text"`
}

type preferentialRow struct {
	SnapshotVersion string         `db:"snapshot_version"`
	Code            string         `db:"code"`
	AgreementID     string         `db:"agreement_id"`
	CountryCode     string         `db:"country_code"`
	Expression      string         `db:"expression"`
	RawText         string         `db:"raw_text"`
	StagingCategory string         `db:"staging_category"`
	EffectiveDate   string         `db:"effective_date"`
	EliminationDate sql.NullString `db:"elimination_date"`
}

type remedyRow struct {
	SnapshotVersion string         `db:"snapshot_version"`
	Code            string         `db:"code"`
	CountryCode     string         `db:"country_code"`
	ExporterName    string         `db:"exporter_name"`
	DutyKind        string         `db:"duty_kind"`
	Expression      string         `db:"expression"`
	RawText         string         `db:"raw_text"`
	CaseNumber      string         `db:"case_number"`
	EffectiveDate   string         `db:"effective_date"`
	ExpiryDate      sql.NullString `db:"expiry_date"`
	IsActive        bool           `db:"is_active"`
}

type concessionRow struct {
	SnapshotVersion string         `db:"snapshot_version"`
	Code            string         `db:"code"`
	OrderNumber     string         `db:"order_number"`
	Description     string         `db:"description"`
	EffectiveDate   string         `db:"effective_date"`
	ExpiryDate      sql.NullString `db:"expiry_date"`
	IsCurrent       bool           `db:"is_current"`
}

type noteRow struct {
	SnapshotVersion string `db:"snapshot_version"`
	ChapterID       string `db:"chapter_id"`
	Ordinal         int    `db:"ordinal"`
	Text            string `db:"text"`
}

type deadLetterRow struct {
	SnapshotVersion string `db:"snapshot_version"`
	Kind            string `db:"kind"`
	URL             string `db:"url"`
	ChapterID       string `db:"chapter_id"`
	Code            string `db:"code"`
	Raw             string `db:"raw"`
	Reason          string `db:"reason"`
}

type snapshotRows struct {
	codes        []codeRow
	general      []generalRow
	preferential []preferentialRow
	remedies     []remedyRow
	concessions  []concessionRow
	notes        []noteRow
	deadLetters  []deadLetterRow
}

func toRows(snap *store.Snapshot) (*snapshotRows, error) {
	v := snap.Version()
	d := snap.Data()
	rows := &snapshotRows{}

	for _, c := range d.Codes {
		rows.codes = append(rows.codes, codeRow{
			SnapshotVersion: v, Code: c.Code, Description: c.Description, UnitOfQuantity: c.UnitOfQuantity,
			Level: c.Level, ParentCode: c.ParentCode, SectionID: c.SectionID, ChapterID: c.ChapterID, IsActive: c.IsActive,
		})
	}
	for _, g := range d.GeneralRates {
		expr, err := encodeExpression(g.Expression)
		if err != nil {
			return nil, err
		}
		rows.general = append(rows.general, generalRow{SnapshotVersion: v, Code: g.Code, Expression: expr, RawText: g.RawText})
	}
	for _, p := range d.PreferentialRates {
		expr, err := encodeExpression(p.Expression)
		if err != nil {
			return nil, err
		}
		rows.preferential = append(rows.preferential, preferentialRow{
			SnapshotVersion: v, Code: p.Code, AgreementID: p.AgreementID, CountryCode: p.CountryCode,
			Expression: expr, RawText: p.RawText, StagingCategory: p.StagingCategory,
			EffectiveDate: formatDate(p.EffectiveDate), EliminationDate: formatOptionalDate(p.EliminationDate),
		})
	}
	for _, t := range d.TradeRemedies {
		expr, err := encodeExpression(t.Expression)
		if err != nil {
			return nil, err
		}
		rows.remedies = append(rows.remedies, remedyRow{
			SnapshotVersion: v, Code: t.Code, CountryCode: t.CountryCode, ExporterName: t.ExporterName,
			DutyKind: string(t.DutyKind), Expression: expr, RawText: t.RawText, CaseNumber: t.CaseNumber,
			EffectiveDate: formatDate(t.EffectiveDate), ExpiryDate: formatOptionalDate(t.ExpiryDate), IsActive: t.IsActive,
		})
	}
	for _, c := range d.Concessions {
		rows.concessions = append(rows.concessions, concessionRow{
			SnapshotVersion: v, Code: c.Code, OrderNumber: c.OrderNumber, Description: c.Description,
			EffectiveDate: formatDate(c.EffectiveDate), ExpiryDate: formatOptionalDate(c.ExpiryDate), IsCurrent: c.IsCurrent,
		})
	}
	for _, n := range d.Notes {
		rows.notes = append(rows.notes, noteRow{SnapshotVersion: v, ChapterID: n.ChapterID, Ordinal: n.Ordinal, Text: n.Text})
	}
	for _, dl := range d.DeadLetters {
		rows.deadLetters = append(rows.deadLetters, deadLetterRow{
			SnapshotVersion: v, Kind: string(dl.Kind), URL: dl.URL, ChapterID: dl.ChapterID,
			Code: dl.Code, Raw: dl.Raw, Reason: dl.Reason,
		})
	}
	return rows, nil
}

func (rows *snapshotRows) toData() (store.Data, error) {
	var d store.Data

	for _, c := range rows.codes {
		d.Codes = append(d.Codes, model.ClassificationCode{
			Code: c.Code, Description: c.Description, UnitOfQuantity: c.UnitOfQuantity, Level: c.Level,
			ParentCode: c.ParentCode, SectionID: c.SectionID, ChapterID: c.ChapterID, IsActive: c.IsActive,
		})
	}
	for _, g := range rows.general {
		expr, err := decodeExpression(g.Expression)
		if err != nil {
			return d, err
		}
		d.GeneralRates = append(d.GeneralRates, model.GeneralRate{Code: g.Code, Expression: expr, RawText: g.RawText})
	}
	for _, p := range rows.preferential {
		expr, err := decodeExpression(p.Expression)
		if err != nil {
			return d, err
		}
		eff, err := model.ParseDate(p.EffectiveDate)
		if err != nil {
			return d, fmt.Errorf("preferential rate %s/%s: %w", p.Code, p.AgreementID, err)
		}
		elim, err := parseOptionalDate(p.EliminationDate)
		if err != nil {
			return d, fmt.Errorf("preferential rate %s/%s: %w", p.Code, p.AgreementID, err)
		}
		d.PreferentialRates = append(d.PreferentialRates, model.PreferentialRate{
			Code: p.Code, AgreementID: p.AgreementID, CountryCode: p.CountryCode, Expression: expr, RawText: p.RawText,
			StagingCategory: p.StagingCategory, EffectiveDate: eff, EliminationDate: elim,
		})
	}
	for _, t := range rows.remedies {
		expr, err := decodeExpression(t.Expression)
		if err != nil {
			return d, err
		}
		eff, err := model.ParseDate(t.EffectiveDate)
		if err != nil {
			return d, fmt.Errorf("trade remedy %s/%s: %w", t.Code, t.CaseNumber, err)
		}
		exp, err := parseOptionalDate(t.ExpiryDate)
		if err != nil {
			return d, fmt.Errorf("trade remedy %s/%s: %w", t.Code, t.CaseNumber, err)
		}
		d.TradeRemedies = append(d.TradeRemedies, model.TradeRemedyDuty{
			Code: t.Code, CountryCode: t.CountryCode, ExporterName: t.ExporterName, DutyKind: model.DutyKind(t.DutyKind),
			Expression: expr, RawText: t.RawText, CaseNumber: t.CaseNumber, EffectiveDate: eff, ExpiryDate: exp, IsActive: t.IsActive,
		})
	}
	for _, c := range rows.concessions {
		eff, err := model.ParseDate(c.EffectiveDate)
		if err != nil {
			return d, fmt.Errorf("concession %s/%s: %w", c.Code, c.OrderNumber, err)
		}
		exp, err := parseOptionalDate(c.ExpiryDate)
		if err != nil {
			return d, fmt.Errorf("concession %s/%s: %w", c.Code, c.OrderNumber, err)
		}
		d.Concessions = append(d.Concessions, model.Concession{
			Code: c.Code, OrderNumber: c.OrderNumber, Description: c.Description,
			EffectiveDate: eff, ExpiryDate: exp, IsCurrent: c.IsCurrent,
		})
	}
	for _, n := range rows.notes {
		d.Notes = append(d.Notes, model.ChapterNote{ChapterID: n.ChapterID, Ordinal: n.Ordinal, Text: n.Text})
	}
	for _, dl := range rows.deadLetters {
		d.DeadLetters = append(d.DeadLetters, model.DeadLetter{
			Kind: model.DeadLetterKind(dl.Kind), URL: dl.URL, ChapterID: dl.ChapterID,
			Code: dl.Code, Raw: dl.Raw, Reason: dl.Reason,
		})
	}
	return d, nil
}
