package fixedwidth

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/cleared-dev/entrysync/internal/model"
)

// Billing record field names.
const (
	FieldRecordType      = "record_type"
	FieldBatchNumber     = "batch_number"
	FieldSequence        = "sequence"
	FieldEntryNumber     = "entry_number"
	FieldBrokerReference = "broker_reference"
	FieldReleaseDate     = "release_date"
	FieldCustomsLine     = "customs_line"
	FieldSubheader       = "subheader"
	FieldPartNumber      = "part_number"
	FieldHTSCode         = "hts_code"
	FieldCountryOrigin   = "country_origin"
	FieldPONumber        = "po_number"
	FieldCurrency        = "currency"
	FieldValueForDuty    = "value_for_duty"
	FieldDuty            = "duty"
	FieldGST             = "gst"
	FieldSIMA            = "sima"
	FieldExcise          = "excise"
	FieldTotalPayable    = "total_payable"
	FieldTotalRefund     = "total_refund"
	FieldDescription     = "description"
)

const (
	detailRecordType = "D"
	dateLayout       = "20060102"
)

// BillingLayout returns the detail record layout with dates rendered in loc.
func BillingLayout(loc *time.Location) Layout {
	money := func(name string, start int) Field {
		return Field{Name: name, Start: start, Width: 13, Kind: Decimal, Justify: RightZero, Scale: 2, Implied: true}
	}
	return Layout{
		Name:            "billing",
		RecordSeparator: CRLF,
		Location:        loc,
		Fields: []Field{
			{Name: FieldRecordType, Start: 1, Width: 1, Kind: Text},
			{Name: FieldBatchNumber, Start: 2, Width: 6, Kind: Integer, Justify: RightZero},
			{Name: FieldSequence, Start: 8, Width: 15, Kind: Text},
			{Name: FieldEntryNumber, Start: 23, Width: 14, Kind: Text},
			{Name: FieldBrokerReference, Start: 37, Width: 10, Kind: Text},
			{Name: FieldReleaseDate, Start: 47, Width: 8, Kind: Date, DateLayout: dateLayout},
			{Name: FieldCustomsLine, Start: 55, Width: 4, Kind: Integer, Justify: RightZero},
			{Name: FieldSubheader, Start: 59, Width: 4, Kind: Integer, Justify: RightZero},
			{Name: FieldPartNumber, Start: 63, Width: 30, Kind: Text},
			{Name: FieldHTSCode, Start: 93, Width: 10, Kind: Text},
			{Name: FieldCountryOrigin, Start: 103, Width: 2, Kind: Text},
			{Name: FieldPONumber, Start: 105, Width: 20, Kind: Text},
			{Name: FieldCurrency, Start: 125, Width: 3, Kind: Text},
			{Name: FieldValueForDuty, Start: 128, Width: 15, Kind: Decimal, Justify: RightZero, Scale: 2},
			money(FieldDuty, 143),
			money(FieldGST, 156),
			money(FieldSIMA, 169),
			money(FieldExcise, 182),
			money(FieldTotalPayable, 195),
			money(FieldTotalRefund, 208),
			{Name: FieldDescription, Start: 221, Width: 40, Kind: Text},
		},
	}
}

// BillingRecord maps one declaration line onto the billing layout.
func BillingRecord(h model.DeclarationHeader, l model.DeclarationLine) Record {
	return Record{
		FieldRecordType:      detailRecordType,
		FieldBatchNumber:     h.BatchNumber,
		FieldSequence:        l.Sequence,
		FieldEntryNumber:     h.EntryNumber,
		FieldBrokerReference: h.BrokerReference,
		FieldReleaseDate:     h.ReleaseAt,
		FieldCustomsLine:     l.Key.CustomsLine,
		FieldSubheader:       l.Key.Subheader,
		FieldPartNumber:      l.PartNumber,
		FieldHTSCode:         l.HTSCode,
		FieldCountryOrigin:   l.CountryOrigin,
		FieldPONumber:        l.PONumber,
		FieldCurrency:        h.Currency,
		FieldValueForDuty:    l.Amounts.ValueForDuty,
		FieldDuty:            l.Amounts.Duty,
		FieldGST:             l.Amounts.GST,
		FieldSIMA:            l.Amounts.SIMA,
		FieldExcise:          l.Amounts.Excise,
		FieldTotalPayable:    l.Payable,
		FieldTotalRefund:     l.Refund,
		FieldDescription:     l.Description,
	}
}

// Encode renders one record per declaration line, each terminated by the
// layout's separator. Any field overflow fails the whole file.
func Encode(decl *model.Declaration, layout Layout) ([]byte, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	for _, l := range decl.Lines {
		rec, err := layout.Format(BillingRecord(decl.Header, l))
		if err != nil {
			return nil, fmt.Errorf("line %s: %w", l.Key, err)
		}
		buf.WriteString(rec)
		buf.WriteString(layout.RecordSeparator)
	}
	return buf.Bytes(), nil
}

// Decode parses data produced by Encode back into records.
func Decode(data []byte, layout Layout) ([]Record, error) {
	sep := layout.RecordSeparator
	if sep == "" {
		sep = CRLF
	}
	body := strings.TrimSuffix(string(data), sep)
	if body == "" {
		return nil, nil
	}
	var recs []Record
	for i, line := range strings.Split(body, sep) {
		rec, err := layout.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i+1, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
