package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Declaration is the partner-facing document built from one entry.
type Declaration struct {
	Header DeclarationHeader
	Lines  []DeclarationLine
}

// DeclarationHeader carries entry-level fields and totals.
type DeclarationHeader struct {
	EntryNumber     string
	BrokerReference string
	BrokerID        string
	ImporterID      string
	EntryType       string
	Currency        string
	Country         string
	ReleaseAt       time.Time
	BatchNumber     int64 // zero when the partner does not use a counter
	Totals          Amounts
	TotalPayable    decimal.Decimal
	TotalRefund     decimal.Decimal
}

// DeclarationLine is one rolled-up customs line.
type DeclarationLine struct {
	Key           DeclKey
	Ordinal       int    // 1-based position in the declaration
	Sequence      string // partner sequence number
	PartNumber    string
	Description   string
	HTSCode       string
	CountryOrigin string
	PONumber      string
	Quantity      decimal.Decimal
	UOM           string
	Amounts       Amounts
	Payable       decimal.Decimal
	Refund        decimal.Decimal
	Agencies      []PGAAgency
}

// PGAAgency groups adjacent PGA details sharing an agency/program pair.
type PGAAgency struct {
	AgencyCode  string
	ProgramCode string
	Details     []PGADetail
}
