package rollup

import (
	"github.com/cleared-dev/entrysync/internal/id"
	"github.com/cleared-dev/entrysync/internal/model"
	"github.com/cleared-dev/entrysync/internal/money"
)

// Options carries the partner-specific values a Declaration needs.
type Options struct {
	BrokerID    string
	PrefixDigit byte  // zero means id.DefaultPrefixDigit
	BatchNumber int64 // zero when no counter is used
}

// BuildDeclaration validates e, rolls its lines up and returns the
// declaration with lines in first-seen source order.
func BuildDeclaration(e *model.Entry, opts Options) (*model.Declaration, error) {
	if errs := ValidateEntry(e); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	prefix := opts.PrefixDigit
	if prefix == 0 {
		prefix = id.DefaultPrefixDigit
	}

	groups := Ordered(e.Lines)
	decl := &model.Declaration{
		Header: model.DeclarationHeader{
			EntryNumber:     e.EntryNumber,
			BrokerReference: e.BrokerReference,
			BrokerID:        opts.BrokerID,
			ImporterID:      e.ImporterID,
			EntryType:       e.EntryType,
			Currency:        e.Currency,
			Country:         e.Country,
			ReleaseAt:       e.ReleaseAt,
			BatchNumber:     opts.BatchNumber,
		},
		Lines: make([]model.DeclarationLine, 0, len(groups)),
	}

	var total model.Amounts
	for i, g := range groups {
		rep := g.Representative()
		amt := g.Totals()
		payable, refund := money.Split(amt.Net())
		ordinal := i + 1

		decl.Lines = append(decl.Lines, model.DeclarationLine{
			Key:           g.Key,
			Ordinal:       ordinal,
			Sequence:      id.SequenceWithPrefix(e.EntryNumber, ordinal, prefix),
			PartNumber:    rep.PartNumber,
			Description:   rep.Description,
			HTSCode:       rep.HTSCode,
			CountryOrigin: rep.CountryOrigin,
			PONumber:      rep.PONumber,
			Quantity:      g.Quantity(),
			UOM:           rep.UOM,
			Amounts:       amt,
			Payable:       payable,
			Refund:        refund,
			Agencies:      g.Agencies(),
		})
		total = total.Add(amt)
	}

	decl.Header.Totals = total
	decl.Header.TotalPayable, decl.Header.TotalRefund = money.Split(total.Net())
	return decl, nil
}
