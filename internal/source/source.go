// Package source reads customs entries from the upstream brokerage
// platform. The platform's database is read only to us.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/entrysync/internal/id"
	"github.com/cleared-dev/entrysync/internal/model"
	"github.com/cleared-dev/entrysync/internal/money"
)

// ErrNotFound is returned by LoadEntry for an unknown entry id.
var ErrNotFound = errors.New("entry not found")

// CandidateQuery selects entries that may need exporting for a partner.
type CandidateQuery struct {
	IdentifierSystem   string
	Identifiers        []string
	LoggedSince        time.Time // file-logged watermark, inclusive
	ChangedBefore      time.Time // zero disables the lag filter
	ExcludedEntryTypes []string
}

// Source is the read side of the upstream platform.
type Source interface {
	Candidates(ctx context.Context, q CandidateQuery) ([]model.EntityRef, error)
	LoadEntry(ctx context.Context, entryID int64) (*model.Entry, error)
}

// EntryRow is an upstream entry header.
type EntryRow struct {
	ID                     int64      `yaml:"id"`
	EntryNumber            string     `yaml:"entry_number"`
	BrokerReference        string     `yaml:"broker_reference"`
	EntryType              string     `yaml:"entry_type"`
	ImporterID             string     `yaml:"importer_id"`
	Currency               string     `yaml:"currency"`
	Country                string     `yaml:"country"`
	FileLoggedAt           time.Time  `yaml:"file_logged_at"`
	ReleaseAt              *time.Time `yaml:"release_at,omitempty"`
	LastExportedFromSource time.Time  `yaml:"last_exported_from_source"`
}

// TariffRow is one tariff line joined to its invoice line. Money columns
// are kept as upstream text until Assemble parses them.
type TariffRow struct {
	ID            int64  `yaml:"id"`
	CustomsLine   string `yaml:"customs_line"` // "10" or "10/SL"
	Subheader     int    `yaml:"subheader"`
	LineNumber    int    `yaml:"line_number"`
	LineType      string `yaml:"line_type"`
	Duty          string `yaml:"duty"`
	GST           string `yaml:"gst"`
	SIMA          string `yaml:"sima"`
	Excise        string `yaml:"excise"`
	ValueForDuty  string `yaml:"value_for_duty"`
	Quantity      string `yaml:"quantity"`
	PartNumber    string `yaml:"part_number"`
	Description   string `yaml:"description"`
	HTSCode       string `yaml:"hts_code"`
	CountryOrigin string `yaml:"country_origin"`
	CountryExport string `yaml:"country_export"`
	PONumber      string `yaml:"po_number"`
	UOM           string `yaml:"uom"`
}

// PGARecord is one PGA summary attached to a tariff line.
type PGARecord struct {
	ID              int64  `yaml:"id"`
	TariffID        int64  `yaml:"tariff_id"`
	Sequence        int    `yaml:"sequence"`
	AgencyCode      string `yaml:"agency_code"`
	ProgramCode     string `yaml:"program_code"`
	ProductCategory string `yaml:"product_category"`
	CommodityType   string `yaml:"commodity_type"`
	Brand           string `yaml:"brand"`
	Model           string `yaml:"model"`
	IntendedUse     string `yaml:"intended_use"`
}

// IngredientRecord is one ingredient of a PGA summary.
type IngredientRecord struct {
	PGAID    int64  `yaml:"pga_id"`
	Sequence int    `yaml:"sequence"`
	Name     string `yaml:"name"`
	Quantity string `yaml:"quantity"`
	Percent  string `yaml:"percent"`
}

// Assemble builds a model.Entry from upstream rows. Tariff rows must
// already be in source order. Any malformed amount fails the whole entry.
func Assemble(e EntryRow, tariffs []TariffRow, pgas []PGARecord, ings []IngredientRecord) (*model.Entry, error) {
	ingByPGA := make(map[int64][]IngredientRecord)
	for _, ing := range ings {
		ingByPGA[ing.PGAID] = append(ingByPGA[ing.PGAID], ing)
	}
	pgaByTariff := make(map[int64][]PGARecord)
	for _, p := range pgas {
		pgaByTariff[p.TariffID] = append(pgaByTariff[p.TariffID], p)
	}

	entry := &model.Entry{
		ID:                     e.ID,
		EntryNumber:            e.EntryNumber,
		BrokerReference:        e.BrokerReference,
		EntryType:              e.EntryType,
		ImporterID:             e.ImporterID,
		Currency:               e.Currency,
		Country:                e.Country,
		FileLoggedAt:           e.FileLoggedAt,
		LastExportedFromSource: e.LastExportedFromSource,
	}
	if e.ReleaseAt != nil {
		entry.ReleaseAt = *e.ReleaseAt
	}

	for i, t := range tariffs {
		line, err := assembleLine(e.EntryNumber, t, pgaByTariff[t.ID], ingByPGA)
		if err != nil {
			return nil, fmt.Errorf("entry %s tariff row %d: %w", e.EntryNumber, i+1, err)
		}
		entry.Lines = append(entry.Lines, line)
	}
	return entry, nil
}

func assembleLine(entryNumber string, t TariffRow, pgas []PGARecord, ingByPGA map[int64][]IngredientRecord) (model.SourceLine, error) {
	customsLine, suffix, err := id.SplitLineNumber(t.CustomsLine)
	if err != nil {
		return model.SourceLine{}, err
	}

	// Lines without a type flag are original lines and keep their sign.
	lineType := model.Correction
	if strings.TrimSpace(t.LineType) != "" {
		if lineType, err = model.ParseLineType(t.LineType); err != nil {
			return model.SourceLine{}, err
		}
	}

	amounts, err := parseAmounts(t)
	if err != nil {
		return model.SourceLine{}, err
	}
	qty, err := money.Parse(t.Quantity)
	if err != nil {
		return model.SourceLine{}, fmt.Errorf("quantity: %w", err)
	}

	line := model.SourceLine{
		Key: model.DeclKey{
			EntryNumber: entryNumber,
			CustomsLine: customsLine,
			Subheader:   t.Subheader,
		},
		LineNumber:    t.LineNumber,
		LineSuffix:    suffix,
		Type:          lineType,
		Amounts:       amounts,
		PartNumber:    t.PartNumber,
		Description:   t.Description,
		HTSCode:       t.HTSCode,
		CountryOrigin: t.CountryOrigin,
		CountryExport: t.CountryExport,
		PONumber:      t.PONumber,
		Quantity:      qty,
		UOM:           t.UOM,
	}

	sort.SliceStable(pgas, func(i, j int) bool { return pgas[i].Sequence < pgas[j].Sequence })
	for _, p := range pgas {
		detail := model.PGADetail{
			ProductCategory: p.ProductCategory,
			CommodityType:   p.CommodityType,
			Brand:           p.Brand,
			Model:           p.Model,
			IntendedUse:     p.IntendedUse,
		}
		ings := ingByPGA[p.ID]
		sort.SliceStable(ings, func(i, j int) bool { return ings[i].Sequence < ings[j].Sequence })
		for _, ing := range ings {
			mi, err := assembleIngredient(ing)
			if err != nil {
				return model.SourceLine{}, err
			}
			detail.Ingredients = append(detail.Ingredients, mi)
		}
		line.PGA = append(line.PGA, model.PGARow{
			AgencyCode:  p.AgencyCode,
			ProgramCode: p.ProgramCode,
			Detail:      detail,
		})
	}
	return line, nil
}

func parseAmounts(t TariffRow) (model.Amounts, error) {
	var a model.Amounts
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"duty", t.Duty, &a.Duty},
		{"gst", t.GST, &a.GST},
		{"sima", t.SIMA, &a.SIMA},
		{"excise", t.Excise, &a.Excise},
		{"value_for_duty", t.ValueForDuty, &a.ValueForDuty},
	}
	for _, f := range fields {
		v, err := money.Parse(f.raw)
		if err != nil {
			return model.Amounts{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}
	return a, nil
}

func assembleIngredient(r IngredientRecord) (model.Ingredient, error) {
	ing := model.Ingredient{Name: r.Name}
	if strings.TrimSpace(r.Quantity) != "" {
		q, err := money.Parse(r.Quantity)
		if err != nil {
			return model.Ingredient{}, fmt.Errorf("ingredient quantity: %w", err)
		}
		ing.Quantity = decimal.NewNullDecimal(q)
	}
	if strings.TrimSpace(r.Percent) != "" {
		p, err := money.Parse(r.Percent)
		if err != nil {
			return model.Ingredient{}, fmt.Errorf("ingredient percent: %w", err)
		}
		ing.Percent = decimal.NewNullDecimal(p)
	}
	return ing, nil
}

func excluded(entryType string, types []string) bool {
	entryType = normalizeEntryType(entryType)
	for _, t := range normalizeEntryTypes(types) {
		if entryType == t {
			return true
		}
	}
	return false
}

// normalizeEntryType is the comparison form of an entry type. Both sources
// match exclusions on it so they select the same entries.
func normalizeEntryType(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}

func normalizeEntryTypes(types []string) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, normalizeEntryType(t))
	}
	return out
}
