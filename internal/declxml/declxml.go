// Package declxml renders declarations as namespaced XML documents.
package declxml

import (
	"fmt"
	"strconv"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/entrysync/internal/id"
	"github.com/cleared-dev/entrysync/internal/model"
	"github.com/cleared-dev/entrysync/internal/money"
)

// DefaultNamespace is used when the partner does not configure one.
const DefaultNamespace = "urn:entrysync:declaration:ca:1"

const (
	xsiNamespace = "http://www.w3.org/2001/XMLSchema-instance"
	dateLayout   = "2006-01-02"
)

// Options controls document-level details.
type Options struct {
	Namespace      string
	SchemaLocation string
	Location       *time.Location // zone for rendered dates
	Indent         int            // spaces; zero writes a compact document
}

// Encode builds the declaration document.
func Encode(decl *model.Declaration, opts Options) (*etree.Document, error) {
	if decl == nil {
		return nil, fmt.Errorf("nil declaration")
	}
	ns := opts.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("Declarations")
	root.CreateAttr("xmlns", ns)
	if opts.SchemaLocation != "" {
		root.CreateAttr("xmlns:xsi", xsiNamespace)
		root.CreateAttr("xsi:schemaLocation", ns+" "+opts.SchemaLocation)
	}

	d := root.CreateElement("Declaration")
	writeHeader(d, decl.Header, loc)
	for _, l := range decl.Lines {
		writeLine(d.CreateElement("DeclarationLine"), l)
	}

	if opts.Indent > 0 {
		doc.Indent(opts.Indent)
	}
	return doc, nil
}

// EncodeBytes is Encode followed by serialization.
func EncodeBytes(decl *model.Declaration, opts Options) ([]byte, error) {
	doc, err := Encode(decl, opts)
	if err != nil {
		return nil, err
	}
	b, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("writing declaration xml: %w", err)
	}
	return b, nil
}

func writeHeader(d *etree.Element, h model.DeclarationHeader, loc *time.Location) {
	text(d, "EntryNumber", h.EntryNumber)
	optional(d, "BrokerReference", h.BrokerReference)
	optional(d, "BrokerID", h.BrokerID)
	optional(d, "ImporterID", h.ImporterID)
	optional(d, "EntryType", h.EntryType)
	optional(d, "Country", h.Country)
	optional(d, "Currency", h.Currency)
	if !h.ReleaseAt.IsZero() {
		text(d, "ReleaseDate", h.ReleaseAt.In(loc).Format(dateLayout))
	}
	if h.BatchNumber > 0 {
		text(d, "BatchNumber", id.BatchNumber(h.BatchNumber))
	}
	amount(d, "TotalValueForDuty", h.Totals.ValueForDuty)
	amount(d, "TotalDuty", h.Totals.Duty)
	amount(d, "TotalGST", h.Totals.GST)
	amount(d, "TotalSIMA", h.Totals.SIMA)
	amount(d, "TotalExcise", h.Totals.Excise)
	amount(d, "TotalPayable", h.TotalPayable)
	amount(d, "TotalRefund", h.TotalRefund)
}

func writeLine(e *etree.Element, l model.DeclarationLine) {
	text(e, "LineNumber", strconv.Itoa(l.Key.CustomsLine))
	text(e, "SubheaderNumber", strconv.Itoa(l.Key.Subheader))
	text(e, "SequenceNumber", l.Sequence)
	optional(e, "PartNumber", l.PartNumber)
	optional(e, "Description", l.Description)
	optional(e, "TariffNumber", l.HTSCode)
	optional(e, "CountryOfOrigin", l.CountryOrigin)
	optional(e, "PONumber", l.PONumber)
	if !l.Quantity.IsZero() {
		text(e, "Quantity", l.Quantity.String())
		optional(e, "UnitOfMeasure", l.UOM)
	}
	amount(e, "ValueForDuty", l.Amounts.ValueForDuty)
	amount(e, "Duty", l.Amounts.Duty)
	amount(e, "GST", l.Amounts.GST)
	amount(e, "SIMA", l.Amounts.SIMA)
	amount(e, "Excise", l.Amounts.Excise)
	amount(e, "TotalPayable", l.Payable)
	amount(e, "TotalRefund", l.Refund)

	for _, ag := range l.Agencies {
		a := e.CreateElement("CAPGAAgency")
		text(a, "AgencyCode", ag.AgencyCode)
		optional(a, "ProgramCode", ag.ProgramCode)
		for _, det := range ag.Details {
			writeDetail(a.CreateElement("CAPGADetail"), det)
		}
	}
}

func writeDetail(e *etree.Element, d model.PGADetail) {
	optional(e, "ProductCategory", d.ProductCategory)
	optional(e, "CommodityType", d.CommodityType)
	optional(e, "Brand", d.Brand)
	optional(e, "Model", d.Model)
	optional(e, "IntendedUse", d.IntendedUse)
	for _, ing := range d.Ingredients {
		i := e.CreateElement("Ingredient")
		optional(i, "Name", ing.Name)
		if ing.Quantity.Valid {
			text(i, "Quantity", ing.Quantity.Decimal.String())
		}
		if ing.Percent.Valid {
			text(i, "Percent", ing.Percent.Decimal.String())
		}
	}
}

func text(parent *etree.Element, tag, value string) {
	parent.CreateElement(tag).SetText(value)
}

func optional(parent *etree.Element, tag, value string) {
	if value != "" {
		text(parent, tag, value)
	}
}

func amount(parent *etree.Element, tag string, v decimal.Decimal) {
	text(parent, tag, money.Fixed(v, 2))
}
