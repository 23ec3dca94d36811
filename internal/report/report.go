// Package report renders a declaration preview workbook for operators.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/cleared-dev/entrysync/internal/id"
	"github.com/cleared-dev/entrysync/internal/model"
	"github.com/cleared-dev/entrysync/internal/money"
)

// Sheet names.
const (
	SheetHeader = "Declaration"
	SheetLines  = "Lines"
	SheetSource = "Source"
	SheetPGA    = "PGA"
)

var lineColumns = []string{
	"Ordinal", "Sequence", "Customs Line", "Subheader", "Part Number", "Description",
	"HTS Code", "Origin", "PO Number", "Value For Duty", "Duty", "GST", "SIMA", "Excise",
	"Total Payable", "Total Refund",
}

var sourceColumns = []string{
	"Customs Line", "Subheader", "Line Number", "Type", "Part Number", "Description",
	"Value For Duty", "Duty", "GST", "SIMA", "Excise",
}

var pgaColumns = []string{
	"Customs Line", "Subheader", "Group", "Agency", "Program", "Category", "Commodity",
	"Brand", "Model", "Intended Use", "Ingredients",
}

// Write renders the workbook for entry and its declaration to w. Amounts
// are written as fixed two-decimal text so the sheet shows exactly what
// the partner file carries.
func Write(w io.Writer, entry *model.Entry, decl *model.Declaration) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetHeader); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	for _, name := range []string{SheetLines, SheetSource, SheetPGA} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("creating sheet %s: %w", name, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating style: %w", err)
	}

	if err := writeHeader(f, decl, bold); err != nil {
		return err
	}
	if err := writeTable(f, SheetLines, lineColumns, lineRows(decl), bold); err != nil {
		return err
	}
	if err := writeTable(f, SheetSource, sourceColumns, sourceRows(entry), bold); err != nil {
		return err
	}
	if err := writeTable(f, SheetPGA, pgaColumns, pgaRows(decl), bold); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func writeHeader(f *excelize.File, decl *model.Declaration, style int) error {
	h := decl.Header
	release := ""
	if !h.ReleaseAt.IsZero() {
		release = h.ReleaseAt.Format("2006-01-02 15:04")
	}
	batch := ""
	if h.BatchNumber > 0 {
		batch = id.BatchNumber(h.BatchNumber)
	}
	rows := [][]any{
		{"Entry Number", h.EntryNumber},
		{"Broker Reference", h.BrokerReference},
		{"Broker ID", h.BrokerID},
		{"Importer", h.ImporterID},
		{"Entry Type", h.EntryType},
		{"Currency", h.Currency},
		{"Country", h.Country},
		{"Release", release},
		{"Batch Number", batch},
		{"Lines", len(decl.Lines)},
		{"Value For Duty", money.Fixed(h.Totals.ValueForDuty, 2)},
		{"Duty", money.Fixed(h.Totals.Duty, 2)},
		{"GST", money.Fixed(h.Totals.GST, 2)},
		{"SIMA", money.Fixed(h.Totals.SIMA, 2)},
		{"Excise", money.Fixed(h.Totals.Excise, 2)},
		{"Total Payable", money.Fixed(h.TotalPayable, 2)},
		{"Total Refund", money.Fixed(h.TotalRefund, 2)},
	}
	for i, r := range rows {
		if err := setRow(f, SheetHeader, i+1, r); err != nil {
			return err
		}
	}
	return f.SetCellStyle(SheetHeader, "A1", fmt.Sprintf("A%d", len(rows)), style)
}

func writeTable(f *excelize.File, sheet string, columns []string, rows [][]any, style int) error {
	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := setRow(f, sheet, 1, header); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(columns), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return fmt.Errorf("styling %s header: %w", sheet, err)
	}
	for i, r := range rows {
		if err := setRow(f, sheet, i+2, r); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("writing %s row %d: %w", sheet, row, err)
	}
	return nil
}

func lineRows(decl *model.Declaration) [][]any {
	rows := make([][]any, 0, len(decl.Lines))
	for _, l := range decl.Lines {
		a := l.Amounts
		rows = append(rows, []any{
			l.Ordinal, l.Sequence, l.Key.CustomsLine, l.Key.Subheader, l.PartNumber, l.Description,
			l.HTSCode, l.CountryOrigin, l.PONumber,
			money.Fixed(a.ValueForDuty, 2), money.Fixed(a.Duty, 2), money.Fixed(a.GST, 2),
			money.Fixed(a.SIMA, 2), money.Fixed(a.Excise, 2),
			money.Fixed(l.Payable, 2), money.Fixed(l.Refund, 2),
		})
	}
	return rows
}

func sourceRows(entry *model.Entry) [][]any {
	if entry == nil {
		return nil
	}
	rows := make([][]any, 0, len(entry.Lines))
	for _, l := range entry.Lines {
		a := l.Amounts
		rows = append(rows, []any{
			id.FormatLineNumber(l.Key.CustomsLine, l.LineSuffix), l.Key.Subheader, l.LineNumber,
			l.Type.String(), l.PartNumber, l.Description,
			money.Fixed(a.ValueForDuty, 2), money.Fixed(a.Duty, 2), money.Fixed(a.GST, 2),
			money.Fixed(a.SIMA, 2), money.Fixed(a.Excise, 2),
		})
	}
	return rows
}

func pgaRows(decl *model.Declaration) [][]any {
	var rows [][]any
	for _, l := range decl.Lines {
		for gi, g := range l.Agencies {
			for _, d := range g.Details {
				rows = append(rows, []any{
					l.Key.CustomsLine, l.Key.Subheader, gi + 1, g.AgencyCode, g.ProgramCode,
					d.ProductCategory, d.CommodityType, d.Brand, d.Model, d.IntendedUse, len(d.Ingredients),
				})
			}
		}
	}
	return rows
}
