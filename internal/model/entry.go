package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LineType distinguishes how a source line's amounts enter a rollup.
type LineType int

const (
	// Correction lines contribute their amounts with the natural sign.
	Correction LineType = iota
	// Adjustment lines contribute their amounts with the sign inverted.
	Adjustment
)

// ParseLineType maps the upstream type code ("A" or "C") to a LineType.
func ParseLineType(code string) (LineType, error) {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "A":
		return Adjustment, nil
	case "C":
		return Correction, nil
	default:
		return 0, fmt.Errorf("unknown line type %q", code)
	}
}

// Code returns the upstream type code.
func (t LineType) Code() string {
	if t == Adjustment {
		return "A"
	}
	return "C"
}

func (t LineType) String() string {
	if t == Adjustment {
		return "adjustment"
	}
	return "correction"
}

// DeclKey identifies one declaration line: the unit of rollup.
type DeclKey struct {
	EntryNumber string
	CustomsLine int
	Subheader   int
}

func (k DeclKey) String() string {
	return fmt.Sprintf("%s/%d/%d", k.EntryNumber, k.CustomsLine, k.Subheader)
}

// Amounts holds the monetary columns carried by a line or a rollup.
type Amounts struct {
	Duty         decimal.Decimal
	GST          decimal.Decimal
	SIMA         decimal.Decimal
	Excise       decimal.Decimal
	ValueForDuty decimal.Decimal
}

// Add returns the field-wise sum of a and b.
func (a Amounts) Add(b Amounts) Amounts {
	return Amounts{
		Duty:         a.Duty.Add(b.Duty),
		GST:          a.GST.Add(b.GST),
		SIMA:         a.SIMA.Add(b.SIMA),
		Excise:       a.Excise.Add(b.Excise),
		ValueForDuty: a.ValueForDuty.Add(b.ValueForDuty),
	}
}

// Sub returns the field-wise difference a - b.
func (a Amounts) Sub(b Amounts) Amounts {
	return Amounts{
		Duty:         a.Duty.Sub(b.Duty),
		GST:          a.GST.Sub(b.GST),
		SIMA:         a.SIMA.Sub(b.SIMA),
		Excise:       a.Excise.Sub(b.Excise),
		ValueForDuty: a.ValueForDuty.Sub(b.ValueForDuty),
	}
}

// Net is the amount owed for the line: duty + GST + SIMA + excise.
func (a Amounts) Net() decimal.Decimal {
	return a.Duty.Add(a.GST).Add(a.SIMA).Add(a.Excise)
}

// Equal reports whether every field of a and b is numerically equal.
func (a Amounts) Equal(b Amounts) bool {
	return a.Duty.Equal(b.Duty) &&
		a.GST.Equal(b.GST) &&
		a.SIMA.Equal(b.SIMA) &&
		a.Excise.Equal(b.Excise) &&
		a.ValueForDuty.Equal(b.ValueForDuty)
}

// SourceLine is one tariff row of a commercial invoice line as loaded
// from the upstream platform. It is not modified after loading.
type SourceLine struct {
	Key        DeclKey
	LineNumber int    // row order within the customs line
	LineSuffix string // "SL" for "10/SL"
	Type       LineType
	Amounts    Amounts

	PartNumber    string
	Description   string
	HTSCode       string
	CountryOrigin string
	CountryExport string
	PONumber      string
	Quantity      decimal.Decimal
	UOM           string

	PGA []PGARow
}

// PGARow is one participating-government-agency record on a tariff row.
type PGARow struct {
	AgencyCode  string
	ProgramCode string
	Detail      PGADetail
}

// PGADetail carries the agency-specific product data.
type PGADetail struct {
	ProductCategory string
	CommodityType   string
	Brand           string
	Model           string
	IntendedUse     string
	Ingredients     []Ingredient
}

// Ingredient is an optional composition line of a PGA detail.
type Ingredient struct {
	Name     string
	Quantity decimal.NullDecimal
	Percent  decimal.NullDecimal
}

// Entry is a customs entry with all of its source lines.
type Entry struct {
	ID              int64
	EntryNumber     string
	BrokerReference string
	EntryType       string
	ImporterID      string
	Currency        string
	Country         string
	FileLoggedAt    time.Time
	ReleaseAt       time.Time
	// LastExportedFromSource is when the upstream platform last changed the entry.
	LastExportedFromSource time.Time
	Lines                  []SourceLine
}

// EntityRef is the selector's lightweight view of an entry.
type EntityRef struct {
	ID                     int64
	EntryNumber            string
	EntryType              string
	FileLoggedAt           time.Time
	LastExportedFromSource time.Time
}

// Ref returns the EntityRef for e.
func (e *Entry) Ref() EntityRef {
	return EntityRef{
		ID:                     e.ID,
		EntryNumber:            e.EntryNumber,
		EntryType:              e.EntryType,
		FileLoggedAt:           e.FileLoggedAt,
		LastExportedFromSource: e.LastExportedFromSource,
	}
}
